// Package breaker builds gobreaker circuit breakers for collaborator adapters.
package breaker

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"fleetcare/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultMaxFailures = 5
	defaultTimeout     = 30 * time.Second
	defaultInterval    = 60 * time.Second
)

// New creates a breaker that opens after cfg.MaxFailures consecutive
// failures. Zero fields take the defaults.
func New[T any](name string, cfg config.BreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker[T] {
	maxFailures := uint32(defaultMaxFailures)
	if cfg.MaxFailures > 0 {
		maxFailures = uint32(cfg.MaxFailures)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultInterval
	}

	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // one probe in half-open
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}

// IsOpen reports whether err was produced by a breaker refusing the call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
