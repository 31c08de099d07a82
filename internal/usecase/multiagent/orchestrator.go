package multiagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fleetcare/internal/domain"
	"fleetcare/internal/infra/tracer"
)

// Orchestrator owns the agent registry, drives fleet lifecycle and routes
// task envelopes to agents by name. It never inspects payloads and never
// retries or queues.
type Orchestrator struct {
	registry     *Registry
	bus          domain.EventBus
	logger       *slog.Logger
	routeTimeout time.Duration
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithEventBus publishes lifecycle and task events on bus.
func WithEventBus(bus domain.EventBus) OrchestratorOption {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithRouteTimeout bounds RouteTask calls whose context carries no deadline.
func WithRouteTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.routeTimeout = d }
}

// NewOrchestrator creates an Orchestrator with an empty registry.
func NewOrchestrator(logger *slog.Logger, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		registry: NewRegistry(logger),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register adds agent to the fleet without starting it.
func (o *Orchestrator) Register(agent domain.Agent) error {
	if err := o.registry.Register(agent); err != nil {
		return err
	}
	o.publish(context.Background(), domain.EventAgentRegistered, agent.Name(), domain.LifecycleEventPayload{
		AgentID: agent.ID(),
		State:   agent.Status().State,
	})
	return nil
}

// Agent returns the agent registered under name.
func (o *Orchestrator) Agent(name string) (domain.Agent, bool) {
	return o.registry.Get(name)
}

// Remove unregisters an agent without stopping it.
func (o *Orchestrator) Remove(name string) error {
	return o.registry.Remove(name)
}

// Names returns the registered agent names in sorted order.
func (o *Orchestrator) Names() []string {
	return o.registry.Names()
}

// StartAll starts every registered agent concurrently. One agent's failure
// never prevents another from starting. The returned *domain.FleetError lists
// exactly the agents that failed.
func (o *Orchestrator) StartAll(ctx context.Context) error {
	ctx, span := tracer.StartSpan(ctx, "orchestrator.start_all")
	agents := o.registry.Agents()
	span.SetAttributes(tracer.KeyFleetSize.Int(len(agents)))

	failures := o.forEach(ctx, agents, func(ctx context.Context, a domain.Agent) error {
		err := a.Start(ctx)
		payload := domain.LifecycleEventPayload{AgentID: a.ID(), State: a.Status().State}
		if err != nil {
			payload.Error = err.Error()
			o.logger.Warn("agent failed to start", "agent", a.Name(), "error", err, "code", domain.ErrorCodeOf(err))
			o.publish(ctx, domain.EventAgentStartFailed, a.Name(), payload)
			return err
		}
		o.logger.Info("agent started", "agent", a.Name())
		o.publish(ctx, domain.EventAgentStarted, a.Name(), payload)
		return nil
	})

	err := domain.NewFleetError("start_all", failures)
	tracer.End(span, err)
	return err
}

// StopAll shuts every registered agent down concurrently, including agents
// that never started or failed to start. Failures are aggregated like StartAll.
func (o *Orchestrator) StopAll(ctx context.Context) error {
	ctx, span := tracer.StartSpan(ctx, "orchestrator.stop_all")
	agents := o.registry.Agents()
	span.SetAttributes(tracer.KeyFleetSize.Int(len(agents)))

	failures := o.forEach(ctx, agents, func(ctx context.Context, a domain.Agent) error {
		err := a.Shutdown(ctx)
		payload := domain.LifecycleEventPayload{AgentID: a.ID(), State: a.Status().State}
		if err != nil {
			payload.Error = err.Error()
			o.logger.Warn("agent failed to stop cleanly", "agent", a.Name(), "error", err)
		}
		o.publish(ctx, domain.EventAgentStopped, a.Name(), payload)
		return err
	})

	err := domain.NewFleetError("stop_all", failures)
	tracer.End(span, err)
	return err
}

// forEach runs fn for every agent on its own goroutine and collects failures.
// A panicking agent is reported as a failure of that agent only.
func (o *Orchestrator) forEach(ctx context.Context, agents []domain.Agent, fn func(context.Context, domain.Agent) error) []domain.AgentFailure {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		failures []domain.AgentFailure
	)
	for _, a := range agents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := func() (err error) {
				defer func() {
					if rec := recover(); rec != nil {
						o.logger.Error("agent lifecycle panicked", "agent", a.Name(), "panic", rec)
						err = fmt.Errorf("%w: %v", domain.ErrHandlerPanic, rec)
					}
				}()
				return fn(ctx, a)
			}()
			if err != nil {
				mu.Lock()
				failures = append(failures, domain.AgentFailure{Name: a.Name(), Err: err})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return failures
}

// RouteTask delivers env to the agent registered under name and returns its
// result. An unknown name fails with ErrUnknownAgent without touching any
// agent; a stopped agent fails with ErrNotRunning; a caller that gives up
// gets ErrCancelled or ErrTimeout. Processing errors pass through unchanged.
func (o *Orchestrator) RouteTask(ctx context.Context, name string, env domain.TaskEnvelope) (domain.Payload, error) {
	agent, ok := o.registry.Get(name)
	if !ok {
		o.logger.Warn("task routed to unknown agent", "agent", name, "task_type", env.Type)
		return nil, &domain.RouteError{Agent: name, Kind: domain.ErrUnknownAgent}
	}

	if o.routeTimeout > 0 {
		if _, has := ctx.Deadline(); !has {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, o.routeTimeout)
			defer cancel()
		}
	}

	ctx, span := tracer.StartSpan(ctx, "orchestrator.route_task", tracer.TaskAttrs(name, env.Type))

	start := time.Now()
	result, err := o.deliver(ctx, agent, env)
	err = o.routeError(ctx, name, err)
	elapsed := time.Since(start)

	event := domain.TaskEventPayload{
		AgentID:   agent.ID(),
		AgentName: name,
		TaskType:  env.Type,
		Duration:  elapsed.String(),
	}
	if err != nil {
		event.Code = string(domain.ErrorCodeOf(err))
		event.Error = err.Error()
		o.logger.Warn("task failed", "agent", name, "task_type", env.Type, "code", event.Code, "error", err)
		o.publish(ctx, domain.EventTaskFailed, name, event)
	} else {
		o.logger.Debug("task completed", "agent", name, "task_type", env.Type, "duration", elapsed)
		o.publish(ctx, domain.EventTaskCompleted, name, event)
	}

	tracer.End(span, err)
	return result, err
}

func (o *Orchestrator) deliver(ctx context.Context, agent domain.Agent, env domain.TaskEnvelope) (result domain.Payload, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("agent process panicked", "agent", agent.Name(), "task_type", env.Type, "panic", rec)
			result = nil
			err = domain.NewProcessingError(agent.Name(), env.Type, domain.ErrHandlerPanic, fmt.Sprint(rec), nil)
		}
	}()
	return agent.Process(ctx, env)
}

// routeError converts delivery failures into RouteErrors. Cancellation is a
// routing failure only when the caller's own context ended.
func (o *Orchestrator) routeError(ctx context.Context, name string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrNotRunning):
		return &domain.RouteError{Agent: name, Kind: domain.ErrNotRunning, Err: err}
	case ctx.Err() != nil && (errors.Is(err, domain.ErrCancelled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		kind := domain.ErrCancelled
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = domain.ErrTimeout
		}
		return &domain.RouteError{Agent: name, Kind: kind, Err: err}
	default:
		return err
	}
}

// FleetStatus returns a status snapshot of every registered agent keyed by name.
func (o *Orchestrator) FleetStatus() map[string]domain.AgentStatusSnapshot {
	agents := o.registry.Agents()
	status := make(map[string]domain.AgentStatusSnapshot, len(agents))
	for _, a := range agents {
		status[a.Name()] = a.Status()
	}
	return status
}

// List returns the fleet status sorted by agent name.
func (o *Orchestrator) List() []domain.AgentStatusSnapshot {
	agents := o.registry.Agents()
	out := make([]domain.AgentStatusSnapshot, len(agents))
	for i, a := range agents {
		out[i] = a.Status()
	}
	return out
}

func (o *Orchestrator) publish(ctx context.Context, eventType domain.EventType, agent string, payload any) {
	if o.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		o.logger.Warn("failed to encode event payload", "event", string(eventType), "error", err)
		return
	}
	o.bus.Publish(context.WithoutCancel(ctx), domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Agent:     agent,
		Payload:   data,
	})
}
