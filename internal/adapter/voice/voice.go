// Package voice provides outbound customer call transports.
package voice

import (
	"fmt"
	"log/slog"
	"regexp"

	"fleetcare/internal/domain"
	"fleetcare/internal/infra/config"
)

var e164Re = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// New builds the configured transport wrapped in a Guard.
func New(cfg config.VoiceConfig, logger *slog.Logger) (*Guard, error) {
	var inner domain.VoiceTransport
	switch cfg.Provider {
	case "", "simulation":
		inner = NewSimulated()
	case "twilio":
		inner = NewTwilio(TwilioOptions{
			AccountSID:  cfg.Twilio.AccountSID,
			AuthToken:   cfg.Twilio.AuthToken,
			FromNumber:  cfg.FromNumber,
			CallbackURL: cfg.CallbackURL,
			BaseURL:     cfg.Twilio.BaseURL,
			Timeout:     cfg.Timeout,
		}, logger)
	default:
		return nil, fmt.Errorf("voice: unknown provider %q: %w", cfg.Provider, domain.ErrInvalidInput)
	}
	logger.Info("voice transport ready", "provider", cfg.Provider, "calls_per_minute", cfg.CallsPerMin)
	return NewGuard(inner, cfg.CallsPerMin, cfg.Burst, cfg.CircuitBreaker, logger), nil
}

func validateNumber(to string) error {
	if !e164Re.MatchString(to) {
		return fmt.Errorf("phone number %q is not E.164: %w", to, domain.ErrInvalidInput)
	}
	return nil
}
