package multiagent

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"fleetcare/internal/domain"
	"fleetcare/internal/infra/logger"
)

// fakeWorker is a configurable domain.Worker.
type fakeWorker struct {
	identity     domain.AgentIdentity
	routes       []domain.Route
	initFunc     func(ctx context.Context) error
	shutdownFunc func(ctx context.Context) error

	initCalls     atomic.Int32
	shutdownCalls atomic.Int32
}

func (w *fakeWorker) Identity() domain.AgentIdentity { return w.identity }
func (w *fakeWorker) Routes() []domain.Route         { return w.routes }

func (w *fakeWorker) Initialize(ctx context.Context) error {
	w.initCalls.Add(1)
	if w.initFunc != nil {
		return w.initFunc(ctx)
	}
	return nil
}

func (w *fakeWorker) Shutdown(ctx context.Context) error {
	w.shutdownCalls.Add(1)
	if w.shutdownFunc != nil {
		return w.shutdownFunc(ctx)
	}
	return nil
}

func newFakeWorker(name string, routes ...domain.Route) *fakeWorker {
	return &fakeWorker{
		identity: domain.AgentIdentity{ID: "agent-" + name, Name: name},
		routes:   routes,
	}
}

func echoRoute(taskType string) domain.Route {
	return domain.Route{
		Type: taskType,
		Handle: func(_ context.Context, p domain.Payload) (domain.Payload, error) {
			return domain.Payload{"echo": p["value"]}, nil
		},
	}
}

func newTestRuntime(t *testing.T, w *fakeWorker, opts ...RuntimeOption) *Runtime {
	t.Helper()
	opts = append([]RuntimeOption{WithLogger(logger.Discard())}, opts...)
	rt, err := NewRuntime(w, opts...)
	require.NoError(t, err)
	return rt
}

func startedRuntime(t *testing.T, w *fakeWorker, opts ...RuntimeOption) *Runtime {
	t.Helper()
	rt := newTestRuntime(t, w, opts...)
	require.NoError(t, rt.Start(context.Background()))
	return rt
}
