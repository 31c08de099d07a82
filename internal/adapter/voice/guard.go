package voice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"fleetcare/internal/adapter/breaker"
	"fleetcare/internal/domain"
	"fleetcare/internal/infra/config"
)

// Guard paces outbound calls and stops calling a transport that keeps failing.
type Guard struct {
	inner   domain.VoiceTransport
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*domain.CallResult]
	logger  *slog.Logger
}

var _ domain.VoiceTransport = (*Guard)(nil)

// NewGuard wraps inner with a limiter of callsPerMinute (burst) and a breaker.
// callsPerMinute <= 0 disables pacing.
func NewGuard(inner domain.VoiceTransport, callsPerMinute, burst int, cb config.BreakerConfig, logger *slog.Logger) *Guard {
	limit := rate.Inf
	if callsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(callsPerMinute))
	}
	if burst <= 0 {
		burst = 1
	}
	return &Guard{
		inner:   inner,
		limiter: rate.NewLimiter(limit, burst),
		breaker: breaker.New[*domain.CallResult]("voice", cb, logger),
		logger:  logger,
	}
}

// PlaceCall waits for a pacing token, then calls through the breaker.
func (g *Guard) PlaceCall(ctx context.Context, req domain.CallRequest) (*domain.CallResult, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("voice rate limit: %w", err)
	}
	res, err := g.breaker.Execute(func() (*domain.CallResult, error) {
		return g.inner.PlaceCall(ctx, req)
	})
	if err != nil {
		if breaker.IsOpen(err) {
			g.logger.Warn("voice call refused by open breaker", "vehicle_id", req.VehicleID)
			return nil, fmt.Errorf("voice transport circuit open: %w", err)
		}
		return nil, err
	}
	return res, nil
}

// State returns the breaker state for monitoring.
func (g *Guard) State() gobreaker.State {
	return g.breaker.State()
}
