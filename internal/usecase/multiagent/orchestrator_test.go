package multiagent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetcare/internal/domain"
	"fleetcare/internal/infra/logger"
	"fleetcare/internal/usecase/eventbus"
)

func newTestOrchestrator(t *testing.T, opts ...OrchestratorOption) *Orchestrator {
	t.Helper()
	return NewOrchestrator(logger.Discard(), opts...)
}

func register(t *testing.T, o *Orchestrator, w *fakeWorker) *Runtime {
	t.Helper()
	rt := newTestRuntime(t, w)
	require.NoError(t, o.Register(rt))
	return rt
}

func failingInit(w *fakeWorker, msg string) *fakeWorker {
	w.initFunc = func(context.Context) error { return errors.New(msg) }
	return w
}

// panickyAgent is a domain.Agent whose every method misbehaves.
type panickyAgent struct{}

func (panickyAgent) ID() string                     { return "agent-panicky" }
func (panickyAgent) Name() string                   { return "panicky" }
func (panickyAgent) Start(context.Context) error    { panic("start exploded") }
func (panickyAgent) Shutdown(context.Context) error { panic("shutdown exploded") }
func (panickyAgent) Process(context.Context, domain.TaskEnvelope) (domain.Payload, error) {
	panic("process exploded")
}
func (panickyAgent) Status() domain.AgentStatusSnapshot {
	return domain.AgentStatusSnapshot{AgentID: "agent-panicky", AgentName: "panicky", State: domain.StateCreated}
}

func TestStartAllAttemptsEveryAgent(t *testing.T) {
	o := newTestOrchestrator(t)
	a := register(t, o, failingInit(newFakeWorker("A", echoRoute("echo")), "no reference data"))
	b := register(t, o, newFakeWorker("B", echoRoute("echo")))
	c := register(t, o, failingInit(newFakeWorker("C", echoRoute("echo")), "bad key"))

	err := o.StartAll(context.Background())
	var fe *domain.FleetError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, []string{"A", "C"}, fe.Names())
	assert.Equal(t, domain.CodeFleetPartialFailures, domain.ErrorCodeOf(err))

	assert.Equal(t, domain.StateErrored, a.State())
	assert.Equal(t, domain.StateRunning, b.State())
	assert.Equal(t, domain.StateErrored, c.State())
}

func TestStartAllSucceedsWithNoFailures(t *testing.T) {
	o := newTestOrchestrator(t)
	register(t, o, newFakeWorker("A", echoRoute("echo")))
	register(t, o, newFakeWorker("B", echoRoute("echo")))

	require.NoError(t, o.StartAll(context.Background()))
	for name, s := range o.FleetStatus() {
		assert.Equal(t, domain.StateRunning, s.State, name)
	}
}

func TestInitFailureDoesNotAffectRouting(t *testing.T) {
	o := newTestOrchestrator(t)
	register(t, o, failingInit(newFakeWorker("A", echoRoute("echo")), "boom"))
	register(t, o, newFakeWorker("B", echoRoute("echo")))

	err := o.StartAll(context.Background())
	var fe *domain.FleetError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, []string{"A"}, fe.Names())

	out, err := o.RouteTask(context.Background(), "B", domain.NewTask("echo", domain.Payload{"value": "ok"}))
	require.NoError(t, err)
	assert.Equal(t, "ok", out["echo"])

	_, err = o.RouteTask(context.Background(), "A", domain.NewTask("echo", nil))
	var re *domain.RouteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, domain.ErrNotRunning, re.Kind)

	status := o.FleetStatus()
	assert.Equal(t, domain.StateErrored, status["A"].State)
	assert.Equal(t, domain.StateRunning, status["B"].State)
}

func TestStartAllContainsPanickingAgent(t *testing.T) {
	o := newTestOrchestrator(t)
	require.NoError(t, o.Register(panickyAgent{}))
	b := register(t, o, newFakeWorker("B", echoRoute("echo")))

	err := o.StartAll(context.Background())
	var fe *domain.FleetError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, []string{"panicky"}, fe.Names())
	assert.ErrorIs(t, err, domain.ErrHandlerPanic)
	assert.Equal(t, domain.StateRunning, b.State())

	_, err = o.RouteTask(context.Background(), "panicky", domain.NewTask("anything", nil))
	assert.ErrorIs(t, err, domain.ErrHandlerPanic)
}

func TestStopAllShutsDownEveryAgent(t *testing.T) {
	o := newTestOrchestrator(t)
	wa := failingInit(newFakeWorker("A", echoRoute("echo")), "boom")
	wb := newFakeWorker("B", echoRoute("echo"))
	wc := newFakeWorker("C", echoRoute("echo"))
	wc.shutdownFunc = func(context.Context) error { return errors.New("flush failed") }
	register(t, o, wa)
	register(t, o, wb)
	register(t, o, wc)
	_ = o.StartAll(context.Background())

	err := o.StopAll(context.Background())
	var fe *domain.FleetError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, []string{"C"}, fe.Names())
	assert.Equal(t, "stop_all", fe.Op)

	assert.Equal(t, int32(1), wa.shutdownCalls.Load())
	assert.Equal(t, int32(1), wb.shutdownCalls.Load())
	assert.Equal(t, int32(1), wc.shutdownCalls.Load())
	for name, s := range o.FleetStatus() {
		assert.Equal(t, domain.StateStopped, s.State, name)
	}
}

func TestRouteTaskUnknownAgentInvokesNothing(t *testing.T) {
	o := newTestOrchestrator(t)
	var calls atomic.Int32
	register(t, o, newFakeWorker("A", domain.Route{Type: "echo", Handle: func(context.Context, domain.Payload) (domain.Payload, error) {
		calls.Add(1)
		return domain.Payload{}, nil
	}}))
	require.NoError(t, o.StartAll(context.Background()))

	_, err := o.RouteTask(context.Background(), "NonExistentAgent", domain.NewTask("echo", nil))
	var re *domain.RouteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, domain.ErrUnknownAgent, re.Kind)
	assert.Equal(t, "NonExistentAgent", re.Agent)
	assert.Equal(t, domain.CodeUnknownAgent, domain.ErrorCodeOf(err))
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, int64(0), o.FleetStatus()["A"].TasksProcessed)
}

func TestRouteTaskToStoppedAgent(t *testing.T) {
	o := newTestOrchestrator(t)
	rt := register(t, o, newFakeWorker("A", echoRoute("echo")))
	require.NoError(t, o.StartAll(context.Background()))
	require.NoError(t, rt.Shutdown(context.Background()))

	_, err := o.RouteTask(context.Background(), "A", domain.NewTask("echo", nil))
	var re *domain.RouteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, domain.ErrNotRunning, re.Kind)
	assert.Equal(t, domain.CodeNotRunning, domain.ErrorCodeOf(err))
	assert.Equal(t, int64(1), rt.Status().ErrorCount)
}

func TestRouteTaskKnownAndUnknownTypes(t *testing.T) {
	o := newTestOrchestrator(t)
	rt := register(t, o, newFakeWorker("Telemetry", echoRoute("analyze_telemetry")))
	require.NoError(t, o.StartAll(context.Background()))

	out, err := o.RouteTask(context.Background(), "Telemetry", domain.NewTask("analyze_telemetry", domain.Payload{"value": 1}))
	require.NoError(t, err)
	assert.Equal(t, 1, out["echo"])
	first := rt.Status()

	_, err = o.RouteTask(context.Background(), "Telemetry", domain.NewTask("bogus", nil))
	require.Error(t, err)
	var re *domain.RouteError
	assert.False(t, errors.As(err, &re), "processing errors pass through unwrapped")
	var pe *domain.ProcessingError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, domain.ErrUnknownTaskType, pe.Kind)

	second := rt.Status()
	assert.Equal(t, first.ErrorCount+1, second.ErrorCount)
	assert.True(t, second.LastActivity.After(first.LastActivity))
	assert.Equal(t, domain.StateRunning, second.State)
}

func TestRouteTaskCallerDeadlineIsTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	o := newTestOrchestrator(t)
	register(t, o, newFakeWorker("slow", domain.Route{Type: "block", Handle: func(context.Context, domain.Payload) (domain.Payload, error) {
		<-release
		return domain.Payload{}, nil
	}}))
	require.NoError(t, o.StartAll(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := o.RouteTask(ctx, "slow", domain.NewTask("block", nil))
	var re *domain.RouteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, domain.ErrTimeout, re.Kind)
	assert.Equal(t, domain.CodeTimeout, domain.ErrorCodeOf(err))
}

func TestRouteTaskCallerCancelIsCancelled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	o := newTestOrchestrator(t)
	register(t, o, newFakeWorker("slow", domain.Route{Type: "block", Handle: func(context.Context, domain.Payload) (domain.Payload, error) {
		close(started)
		<-release
		return domain.Payload{}, nil
	}}))
	require.NoError(t, o.StartAll(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	_, err := o.RouteTask(ctx, "slow", domain.NewTask("block", nil))
	var re *domain.RouteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, domain.ErrCancelled, re.Kind)
}

func TestRouteTimeoutOptionBoundsDeadlineFreeCalls(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	o := newTestOrchestrator(t, WithRouteTimeout(20*time.Millisecond))
	register(t, o, newFakeWorker("slow", domain.Route{Type: "block", Handle: func(context.Context, domain.Payload) (domain.Payload, error) {
		<-release
		return domain.Payload{}, nil
	}}))
	require.NoError(t, o.StartAll(context.Background()))

	_, err := o.RouteTask(context.Background(), "slow", domain.NewTask("block", nil))
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestHandlerOwnDeadlineIsNotARouteError(t *testing.T) {
	o := newTestOrchestrator(t)
	register(t, o, newFakeWorker("A", domain.Route{Type: "call", Handle: func(context.Context, domain.Payload) (domain.Payload, error) {
		return nil, context.DeadlineExceeded
	}}))
	require.NoError(t, o.StartAll(context.Background()))

	_, err := o.RouteTask(context.Background(), "A", domain.NewTask("call", nil))
	var re *domain.RouteError
	assert.False(t, errors.As(err, &re))
	var pe *domain.ProcessingError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, domain.ErrCancelled, pe.Kind)
}

func TestDistinctAgentsProcessConcurrently(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	o := newTestOrchestrator(t)
	register(t, o, newFakeWorker("A", domain.Route{Type: "block", Handle: func(context.Context, domain.Payload) (domain.Payload, error) {
		close(started)
		<-release
		return domain.Payload{}, nil
	}}))
	register(t, o, newFakeWorker("B", echoRoute("echo")))
	require.NoError(t, o.StartAll(context.Background()))

	aDone := make(chan error, 1)
	go func() {
		_, err := o.RouteTask(context.Background(), "A", domain.NewTask("block", nil))
		aDone <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := o.RouteTask(ctx, "B", domain.NewTask("echo", nil))
	require.NoError(t, err, "B must not wait for A")
	assert.Equal(t, domain.StateBusy, o.FleetStatus()["A"].State)

	close(release)
	require.NoError(t, <-aDone)
}

func TestConcurrentRoutingToOneAgentLosesNoUpdates(t *testing.T) {
	o := newTestOrchestrator(t)
	count := 0
	register(t, o, newFakeWorker("counter", domain.Route{Type: "inc", Handle: func(context.Context, domain.Payload) (domain.Payload, error) {
		count++
		return domain.Payload{"count": count}, nil
	}}))
	require.NoError(t, o.StartAll(context.Background()))

	const calls = 100
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.RouteTask(context.Background(), "counter", domain.NewTask("inc", nil))
			assert.NoError(t, err)
			_ = o.FleetStatus()
		}()
	}
	wg.Wait()

	assert.Equal(t, calls, count)
	assert.Equal(t, int64(calls), o.FleetStatus()["counter"].TasksProcessed)
}

func TestFleetStatusKeysMatchRegistry(t *testing.T) {
	o := newTestOrchestrator(t)
	register(t, o, newFakeWorker("A", echoRoute("echo")))
	register(t, o, newFakeWorker("B", echoRoute("echo")))

	status := o.FleetStatus()
	assert.Len(t, status, 2)
	assert.Equal(t, "agent-A", status["A"].AgentID)
	assert.Equal(t, domain.StateCreated, status["B"].State)

	list := o.List()
	require.Len(t, list, 2)
	assert.Equal(t, "A", list[0].AgentName)
	assert.Equal(t, []string{"A", "B"}, o.Names())
}

func TestRegisterDuplicateName(t *testing.T) {
	o := newTestOrchestrator(t)
	register(t, o, newFakeWorker("A", echoRoute("echo")))
	err := o.Register(newTestRuntime(t, newFakeWorker("A", echoRoute("echo"))))
	assert.ErrorIs(t, err, domain.ErrDuplicateName)
}

func TestOrchestratorPublishesEvents(t *testing.T) {
	bus := eventbus.New(logger.Discard())
	defer bus.Close()

	var (
		mu     sync.Mutex
		events []domain.Event
	)
	bus.SubscribeAll(func(_ context.Context, e domain.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	o := newTestOrchestrator(t, WithEventBus(bus))
	register(t, o, newFakeWorker("A", echoRoute("echo")))
	require.NoError(t, o.StartAll(context.Background()))
	_, err := o.RouteTask(context.Background(), "A", domain.NewTask("echo", nil))
	require.NoError(t, err)
	_, err = o.RouteTask(context.Background(), "A", domain.NewTask("bogus", nil))
	require.Error(t, err)
	require.NoError(t, o.StopAll(context.Background()))
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	byType := map[domain.EventType][]domain.Event{}
	for _, e := range events {
		byType[e.Type] = append(byType[e.Type], e)
	}
	assert.Len(t, byType[domain.EventAgentRegistered], 1)
	assert.Len(t, byType[domain.EventAgentStarted], 1)
	assert.Len(t, byType[domain.EventAgentStopped], 1)
	require.Len(t, byType[domain.EventTaskCompleted], 1)
	require.Len(t, byType[domain.EventTaskFailed], 1)

	var failed domain.TaskEventPayload
	require.NoError(t, json.Unmarshal(byType[domain.EventTaskFailed][0].Payload, &failed))
	assert.Equal(t, "A", failed.AgentName)
	assert.Equal(t, "bogus", failed.TaskType)
	assert.Equal(t, string(domain.CodeUnknownTaskType), failed.Code)
}
