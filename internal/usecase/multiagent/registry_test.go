package multiagent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetcare/internal/domain"
	"fleetcare/internal/infra/logger"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry(logger.Discard())
	rt := newTestRuntime(t, newFakeWorker("b", echoRoute("echo")))
	require.NoError(t, reg.Register(rt))
	require.NoError(t, reg.Register(newTestRuntime(t, newFakeWorker("a", echoRoute("echo")))))

	got, ok := reg.Get("b")
	require.True(t, ok)
	assert.Equal(t, "agent-b", got.ID())
	assert.Equal(t, []string{"a", "b"}, reg.Names())
	assert.Equal(t, 2, reg.Len())

	agents := reg.Agents()
	require.Len(t, agents, 2)
	assert.Equal(t, "a", agents[0].Name())
}

func TestRegistryRejectsDuplicateName(t *testing.T) {
	reg := NewRegistry(logger.Discard())
	require.NoError(t, reg.Register(newTestRuntime(t, newFakeWorker("a", echoRoute("echo")))))

	dup := newTestRuntime(t, &fakeWorker{
		identity: domain.AgentIdentity{ID: "other-id", Name: "a"},
		routes:   []domain.Route{echoRoute("echo")},
	})
	err := reg.Register(dup)
	assert.ErrorIs(t, err, domain.ErrDuplicateName)
	assert.ErrorIs(t, err, domain.ErrDuplicate)
	assert.Equal(t, domain.CodeDuplicateName, domain.ErrorCodeOf(err))
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryRejectsNil(t *testing.T) {
	reg := NewRegistry(logger.Discard())
	assert.ErrorIs(t, reg.Register(nil), domain.ErrInvalidInput)
}

func TestRegistryRemove(t *testing.T) {
	reg := NewRegistry(logger.Discard())
	require.NoError(t, reg.Register(newTestRuntime(t, newFakeWorker("a", echoRoute("echo")))))

	require.NoError(t, reg.Remove("a"))
	_, ok := reg.Get("a")
	assert.False(t, ok)
	assert.ErrorIs(t, reg.Remove("a"), domain.ErrNotFound)
}
