// Package llm adapts OpenAI-compatible chat completion APIs to
// domain.LanguageModel.
package llm

import (
	"errors"
	"log/slog"

	"fleetcare/internal/domain"
	"fleetcare/internal/infra/config"
)

// Errors returned for API failures. Callers classify them with errors.Is.
var (
	ErrRateLimit    = errors.New("rate limited")
	ErrAuthInvalid  = errors.New("authentication failed")
	ErrServer       = errors.New("server error")
	ErrEmptyChoices = errors.New("no completion choices")
)

// New returns the configured language model behind a circuit breaker, or nil
// when the model is disabled.
func New(cfg config.LLMConfig, logger *slog.Logger) domain.LanguageModel {
	if !cfg.Enabled {
		logger.Info("language model disabled, agents use templates")
		return nil
	}
	model := NewOpenAI(cfg, logger)
	logger.Info("language model ready", "model", model.model, "base_url", model.baseURL)
	return NewBreakerModel(model, cfg.CircuitBreaker, logger)
}
