package multiagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/kaptinlin/jsonschema"

	"fleetcare/internal/domain"
	"fleetcare/internal/infra/logger"
	"fleetcare/internal/infra/tracer"
)

type compiledRoute struct {
	route  domain.Route
	schema *jsonschema.Schema
}

// Runtime turns a domain.Worker into a domain.Agent. It owns the lifecycle
// state machine, serializes handlers so the worker's private state sees one
// task at a time, and converts every handler outcome into a typed result.
type Runtime struct {
	identity domain.AgentIdentity
	worker   domain.Worker
	routes   map[string]compiledRoute
	logger   *slog.Logger
	now      func() time.Time

	// slot is a one-token semaphore held while Initialize or a handler runs.
	slot chan struct{}

	mu            sync.Mutex
	state         domain.AgentState
	initAttempted bool
	shutdownRan   bool
	lastActivity  time.Time
	errorCount    int64
	processed     int64
	lastError     string
}

var _ domain.Agent = (*Runtime)(nil)

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithLogger sets the runtime logger.
func WithLogger(logger *slog.Logger) RuntimeOption {
	return func(r *Runtime) { r.logger = logger }
}

// WithClock replaces time.Now for activity timestamps.
func WithClock(now func() time.Time) RuntimeOption {
	return func(r *Runtime) { r.now = now }
}

// NewRuntime wraps worker. The worker's routes are compiled into a closed
// dispatch table; an empty, duplicate or handler-less route, or a schema that
// does not compile, rejects the worker.
func NewRuntime(worker domain.Worker, opts ...RuntimeOption) (*Runtime, error) {
	if worker == nil {
		return nil, fmt.Errorf("new runtime: nil worker: %w", domain.ErrInvalidInput)
	}
	id := worker.Identity()
	if id.Name == "" || id.ID == "" {
		return nil, fmt.Errorf("new runtime: agent id and name are required: %w", domain.ErrInvalidInput)
	}

	r := &Runtime{
		identity: id,
		worker:   worker,
		routes:   make(map[string]compiledRoute),
		logger:   slog.Default(),
		now:      time.Now,
		slot:     make(chan struct{}, 1),
		state:    domain.StateCreated,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logger.ForAgent(r.logger, id)

	routes := worker.Routes()
	if len(routes) == 0 {
		return nil, fmt.Errorf("new runtime %s: no routes: %w", id.Name, domain.ErrInvalidInput)
	}
	compiler := jsonschema.NewCompiler()
	for i, rt := range routes {
		switch {
		case rt.Type == "":
			return nil, fmt.Errorf("new runtime %s: route %d has no type: %w", id.Name, i, domain.ErrInvalidInput)
		case rt.Handle == nil:
			return nil, fmt.Errorf("new runtime %s: route %q has no handler: %w", id.Name, rt.Type, domain.ErrInvalidInput)
		}
		if _, dup := r.routes[rt.Type]; dup {
			return nil, fmt.Errorf("new runtime %s: route %q: %w", id.Name, rt.Type, domain.ErrDuplicate)
		}
		cr := compiledRoute{route: rt}
		if rt.Schema != "" {
			schema, err := compiler.Compile([]byte(rt.Schema))
			if err != nil {
				return nil, fmt.Errorf("new runtime %s: route %q schema: %w", id.Name, rt.Type, err)
			}
			cr.schema = schema
		}
		r.routes[rt.Type] = cr
	}
	return r, nil
}

// ID returns the stable agent id.
func (r *Runtime) ID() string { return r.identity.ID }

// Name returns the routing name.
func (r *Runtime) Name() string { return r.identity.Name }

// Identity returns the agent identity.
func (r *Runtime) Identity() domain.AgentIdentity { return r.identity }

// TaskTypes lists the task types this agent accepts.
func (r *Runtime) TaskTypes() []string {
	types := make([]string, 0, len(r.routes))
	for t := range r.routes {
		types = append(types, t)
	}
	return sortedStrings(types)
}

// State returns the current lifecycle state.
func (r *Runtime) State() domain.AgentState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start initializes the worker. Legal from created and from errored, which
// makes a failed agent restartable by an operator. Initialization failures
// leave the agent errored and are never retried. The slot is held from the
// move to initializing until the outcome is recorded, so a concurrent
// Shutdown always observes a settled state.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.acquire(ctx); err != nil {
		return &domain.LifecycleError{Agent: r.Name(), Phase: domain.PhaseInitialize, Err: err}
	}
	defer r.release()

	r.mu.Lock()
	if err := r.transitionLocked(domain.StateInitializing); err != nil {
		r.mu.Unlock()
		return &domain.LifecycleError{Agent: r.Name(), Phase: domain.PhaseInitialize, Err: err}
	}
	r.initAttempted = true
	r.mu.Unlock()

	err := r.safeHook(ctx, domain.PhaseInitialize, r.worker.Initialize)
	r.finishInit(err)
	if err != nil {
		return &domain.LifecycleError{Agent: r.Name(), Phase: domain.PhaseInitialize, Err: err}
	}
	return nil
}

// shutdownSettledLocked reports whether nothing is left for Shutdown to do.
func (r *Runtime) shutdownSettledLocked() bool {
	return r.state == domain.StateStopped && (r.shutdownRan || !r.initAttempted)
}

func (r *Runtime) finishInit(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.lastError = err.Error()
		_ = r.transitionLocked(domain.StateErrored)
		r.logger.Warn("agent initialization failed", "error", err)
		return
	}
	_ = r.transitionLocked(domain.StateRunning)
	r.logger.Info("agent running", "agent_id", r.ID())
}

// Shutdown stops the agent. New tasks are rejected immediately; the call then
// waits for the in-flight handler and runs the worker's shutdown hook if
// initialization was ever attempted. The hook runs at most once. A Shutdown
// that gave up waiting for the slot leaves the hook pending, and the next
// call runs it. Once the hook has run, Shutdown is a no-op.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.shutdownSettledLocked() {
		r.mu.Unlock()
		return nil
	}
	if r.state != domain.StateInitializing && r.state != domain.StateStopped {
		// Start holds the slot while initializing and is stopped below.
		_ = r.transitionLocked(domain.StateStopped)
	}
	r.mu.Unlock()

	if err := r.acquire(ctx); err != nil {
		return &domain.LifecycleError{Agent: r.Name(), Phase: domain.PhaseShutdown, Err: err}
	}
	defer r.release()

	r.mu.Lock()
	if r.shutdownSettledLocked() {
		r.mu.Unlock()
		return nil
	}
	if r.state != domain.StateStopped {
		if err := r.transitionLocked(domain.StateStopped); err != nil {
			r.mu.Unlock()
			return &domain.LifecycleError{Agent: r.Name(), Phase: domain.PhaseShutdown, Err: err}
		}
	}
	attempted := r.initAttempted
	r.shutdownRan = attempted
	r.mu.Unlock()

	if !attempted {
		r.logger.Info("agent stopped before start")
		return nil
	}
	if err := r.safeHook(ctx, domain.PhaseShutdown, r.worker.Shutdown); err != nil {
		r.mu.Lock()
		r.lastError = err.Error()
		r.mu.Unlock()
		r.logger.Warn("agent shutdown failed", "error", err)
		return &domain.LifecycleError{Agent: r.Name(), Phase: domain.PhaseShutdown, Err: err}
	}
	r.logger.Info("agent stopped")
	return nil
}

// Process runs the handler registered for env.Type. Every call, successful or
// not, advances last activity; every failure increments the error count once.
func (r *Runtime) Process(ctx context.Context, env domain.TaskEnvelope) (domain.Payload, error) {
	ctx, span := tracer.StartSpan(ctx, "agent.process", tracer.TaskAttrs(r.Name(), env.Type))

	result, err := r.process(ctx, env)
	r.record(err)
	tracer.End(span, err)
	return result, err
}

type outcome struct {
	result domain.Payload
	err    error
}

func (r *Runtime) process(ctx context.Context, env domain.TaskEnvelope) (domain.Payload, error) {
	if !r.State().AcceptsTasks() {
		return nil, r.fail(env.Type, domain.ErrNotRunning, "state "+string(r.State()), nil)
	}
	cr, ok := r.routes[env.Type]
	if !ok {
		return nil, r.fail(env.Type, domain.ErrUnknownTaskType, fmt.Sprintf("%q", env.Type), nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, r.fail(env.Type, domain.ErrCancelled, "", err)
	}

	payload := env.Payload.Clone()
	if payload == nil {
		payload = domain.Payload{}
	}
	if cr.schema != nil {
		if err := validatePayload(cr.schema, payload); err != nil {
			return nil, r.fail(env.Type, domain.ErrInvalidPayload, err.Error(), nil)
		}
	}

	if err := r.acquire(ctx); err != nil {
		return nil, r.fail(env.Type, domain.ErrCancelled, "waiting for agent", err)
	}
	if !r.beginTask() {
		r.release()
		return nil, r.fail(env.Type, domain.ErrNotRunning, "agent stopped", nil)
	}

	done := make(chan outcome, 1)
	go func() {
		defer r.release()
		defer r.endTask()
		res, err := r.invoke(ctx, cr.route, payload)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, r.classify(env.Type, out.err)
		}
		if out.result == nil {
			out.result = domain.Payload{}
		}
		return out.result, nil
	case <-ctx.Done():
		// The handler keeps the slot until it returns; its result is dropped.
		r.logger.Warn("task abandoned by caller", "task_type", env.Type, "error", ctx.Err())
		return nil, r.fail(env.Type, domain.ErrCancelled, "", ctx.Err())
	}
}

// invoke calls the handler, converting a panic into ErrHandlerPanic.
func (r *Runtime) invoke(ctx context.Context, route domain.Route, payload domain.Payload) (res domain.Payload, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("task handler panicked",
				"task_type", route.Type,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			res, err = nil, fmt.Errorf("%w: %v", domain.ErrHandlerPanic, rec)
		}
	}()
	return route.Handle(ctx, payload)
}

func (r *Runtime) safeHook(ctx context.Context, phase string, hook func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("lifecycle hook panicked", "phase", phase, "panic", rec)
			err = fmt.Errorf("%w: %v", domain.ErrHandlerPanic, rec)
		}
	}()
	return hook(ctx)
}

// classify maps a handler error onto exactly one processing kind.
func (r *Runtime) classify(taskType string, err error) error {
	var pe *domain.ProcessingError
	if errors.As(err, &pe) {
		if pe.Agent == "" {
			pe.Agent = r.Name()
		}
		if pe.TaskType == "" {
			pe.TaskType = taskType
		}
		return pe
	}

	var kind error
	switch {
	case errors.Is(err, domain.ErrHandlerPanic):
		kind = domain.ErrHandlerPanic
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, domain.ErrCancelled):
		kind = domain.ErrCancelled
	case errors.Is(err, domain.ErrInvalidPayload):
		kind = domain.ErrInvalidPayload
	case errors.Is(err, domain.ErrUnknownTaskType):
		kind = domain.ErrUnknownTaskType
	default:
		kind = domain.ErrCollaboratorFailure
	}
	return domain.NewProcessingError(r.Name(), taskType, kind, "", err)
}

func (r *Runtime) fail(taskType string, kind error, detail string, cause error) error {
	return domain.NewProcessingError(r.Name(), taskType, kind, detail, cause)
}

func validatePayload(schema *jsonschema.Schema, payload domain.Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("payload is not a JSON document: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("payload is not a JSON document: %w", err)
	}
	result := schema.Validate(doc)
	if !result.IsValid() {
		return fmt.Errorf("%s", result.Error())
	}
	return nil
}

// Status returns a snapshot of the agent's bookkeeping. It never waits for
// a running handler.
func (r *Runtime) Status() domain.AgentStatusSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.AgentStatusSnapshot{
		AgentID:        r.identity.ID,
		AgentName:      r.identity.Name,
		State:          r.state,
		LastActivity:   r.lastActivity,
		ErrorCount:     r.errorCount,
		TasksProcessed: r.processed,
		LastError:      r.lastError,
	}
}

func (r *Runtime) record(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if !now.After(r.lastActivity) {
		now = r.lastActivity.Add(time.Nanosecond)
	}
	r.lastActivity = now
	r.processed++
	if err != nil {
		r.errorCount++
		r.lastError = err.Error()
	}
}

// beginTask moves running to busy once the slot is held. It reports false if
// the agent stopped while the caller waited.
func (r *Runtime) beginTask() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != domain.StateRunning {
		return false
	}
	_ = r.transitionLocked(domain.StateBusy)
	return true
}

func (r *Runtime) endTask() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == domain.StateBusy {
		_ = r.transitionLocked(domain.StateRunning)
	}
}

func (r *Runtime) transitionLocked(next domain.AgentState) error {
	state, err := r.state.Transition(next)
	if err != nil {
		return err
	}
	r.logger.Debug("agent state changed", "from", string(r.state), "to", string(state))
	r.state = state
	return nil
}

func (r *Runtime) acquire(ctx context.Context) error {
	select {
	case r.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runtime) release() { <-r.slot }
