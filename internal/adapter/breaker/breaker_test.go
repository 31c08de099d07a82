package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetcare/internal/infra/config"
	"fleetcare/internal/infra/logger"
)

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := New[string]("test", config.BreakerConfig{MaxFailures: 2, Timeout: time.Hour}, logger.Discard())
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(func() (string, error) { return "", boom })
		require.ErrorIs(t, err, boom)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	called := false
	_, err := cb.Execute(func() (string, error) {
		called = true
		return "ok", nil
	})
	assert.True(t, IsOpen(err))
	assert.False(t, called)
}

func TestBreakerDefaults(t *testing.T) {
	cb := New[int]("defaults", config.BreakerConfig{}, logger.Discard())
	for i := 0; i < defaultMaxFailures-1; i++ {
		_, _ = cb.Execute(func() (int, error) { return 0, errors.New("x") })
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
	_, _ = cb.Execute(func() (int, error) { return 0, errors.New("x") })
	assert.Equal(t, gobreaker.StateOpen, cb.State())
}

func TestIsOpen(t *testing.T) {
	assert.True(t, IsOpen(gobreaker.ErrOpenState))
	assert.True(t, IsOpen(gobreaker.ErrTooManyRequests))
	assert.False(t, IsOpen(errors.New("other")))
	assert.False(t, IsOpen(nil))
}
