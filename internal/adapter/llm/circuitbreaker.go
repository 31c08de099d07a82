package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sony/gobreaker/v2"

	"fleetcare/internal/adapter/breaker"
	"fleetcare/internal/domain"
	"fleetcare/internal/infra/config"
)

// BreakerModel wraps a LanguageModel with circuit breaker protection. Once
// the model fails repeatedly, calls fail fast until the breaker half-opens.
type BreakerModel struct {
	inner   domain.LanguageModel
	breaker *gobreaker.CircuitBreaker[string]
}

var _ domain.LanguageModel = (*BreakerModel)(nil)

// NewBreakerModel wraps inner. Zero config fields take the defaults.
func NewBreakerModel(inner domain.LanguageModel, cfg config.BreakerConfig, logger *slog.Logger) *BreakerModel {
	return &BreakerModel{
		inner:   inner,
		breaker: breaker.New[string]("llm", cfg, logger),
	}
}

// Complete implements domain.LanguageModel.
func (m *BreakerModel) Complete(ctx context.Context, prompt string) (string, error) {
	out, err := m.breaker.Execute(func() (string, error) {
		return m.inner.Complete(ctx, prompt)
	})
	if err != nil {
		if breaker.IsOpen(err) {
			return "", fmt.Errorf("language model circuit open: %w", err)
		}
		return "", err
	}
	return out, nil
}

// State returns the current circuit breaker state for monitoring.
func (m *BreakerModel) State() gobreaker.State {
	return m.breaker.State()
}
