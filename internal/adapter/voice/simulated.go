package voice

import (
	"context"
	"time"

	"fleetcare/internal/domain"
)

// Simulated completes every call immediately without contacting anyone.
type Simulated struct {
	now func() time.Time
}

var _ domain.VoiceTransport = (*Simulated)(nil)

// NewSimulated creates a simulated transport.
func NewSimulated() *Simulated {
	return &Simulated{now: time.Now}
}

// PlaceCall implements domain.VoiceTransport.
func (s *Simulated) PlaceCall(ctx context.Context, req domain.CallRequest) (*domain.CallResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateNumber(req.To); err != nil {
		return nil, err
	}
	return &domain.CallResult{
		CallID:    domain.NewID("sim"),
		Status:    "completed",
		Mode:      "simulation",
		StartedAt: s.now().UTC(),
	}, nil
}
