// Package agent holds what the fleet's workers share: identity from config,
// no-op lifecycle hooks and typed handler adapters. Each worker lives in its
// own subpackage.
package agent

import (
	"context"
	"math"
	"time"

	"fleetcare/internal/domain"
	"fleetcare/internal/infra/config"
)

// Base carries a worker's identity and default lifecycle hooks. Workers embed
// it and override Initialize or Shutdown when they own resources.
type Base struct {
	identity domain.AgentIdentity
}

// NewBase builds the identity from cfg.
func NewBase(cfg config.AgentConfig, description string) Base {
	return Base{identity: domain.AgentIdentity{ID: cfg.ID, Name: cfg.Name, Description: description}}
}

// Identity implements domain.Worker.
func (b Base) Identity() domain.AgentIdentity { return b.identity }

// Initialize implements domain.Worker.
func (Base) Initialize(context.Context) error { return nil }

// Shutdown implements domain.Worker.
func (Base) Shutdown(context.Context) error { return nil }

// Handle adapts a typed handler to domain.HandlerFunc. The payload is decoded
// into Req; a decode failure is an invalid payload.
func Handle[Req, Resp any](fn func(ctx context.Context, req Req) (Resp, error)) domain.HandlerFunc {
	return func(ctx context.Context, p domain.Payload) (domain.Payload, error) {
		var req Req
		if err := domain.DecodePayload(p, &req); err != nil {
			return nil, err
		}
		resp, err := fn(ctx, req)
		if err != nil {
			return nil, err
		}
		return domain.EncodePayload(resp)
	}
}

// Round rounds v to places decimal places, half away from zero.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Clock returns the current time. Workers take one so tests can pin it.
type Clock func() time.Time

// Timestamp formats t the way every worker reports times.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
