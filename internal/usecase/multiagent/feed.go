package multiagent

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"fleetcare/internal/domain"
)

// TaskRouter routes a task envelope to a named agent.
type TaskRouter interface {
	RouteTask(ctx context.Context, name string, env domain.TaskEnvelope) (domain.Payload, error)
}

// TaskMonitorActivity is the task type the activity feed delivers.
const TaskMonitorActivity = "monitor_activity"

// ActivityFeed forwards every task outcome on the bus to a monitoring agent
// as a monitor_activity task. Outcomes of the monitor itself are skipped.
type ActivityFeed struct {
	router  TaskRouter
	monitor string
	timeout time.Duration
	logger  *slog.Logger
	unsub   []func()
}

// NewActivityFeed creates a feed delivering to the agent named monitor.
func NewActivityFeed(router TaskRouter, monitor string, logger *slog.Logger) *ActivityFeed {
	return &ActivityFeed{
		router:  router,
		monitor: monitor,
		timeout: 10 * time.Second,
		logger:  logger,
	}
}

// Attach subscribes the feed to task events on bus.
func (f *ActivityFeed) Attach(bus domain.EventBus) {
	f.unsub = append(f.unsub,
		bus.Subscribe(domain.EventTaskCompleted, f.handle),
		bus.Subscribe(domain.EventTaskFailed, f.handle),
	)
}

// Detach removes the feed's subscriptions.
func (f *ActivityFeed) Detach() {
	for _, unsub := range f.unsub {
		unsub()
	}
	f.unsub = nil
}

func (f *ActivityFeed) handle(ctx context.Context, event domain.Event) {
	var p domain.TaskEventPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		f.logger.Debug("activity feed skipped malformed event", "event", string(event.Type), "error", err)
		return
	}
	if p.AgentName == f.monitor || p.TaskType == TaskMonitorActivity {
		return
	}

	status := "success"
	if event.Type == domain.EventTaskFailed {
		status = "failed"
	}
	env := domain.NewTask(TaskMonitorActivity, domain.Payload{
		"agent_id":   p.AgentID,
		"agent_name": p.AgentName,
		"action":     p.TaskType,
		"timestamp":  event.Timestamp.UTC().Format(time.RFC3339Nano),
		"metadata": map[string]any{
			"status":   status,
			"code":     p.Code,
			"duration": p.Duration,
		},
	})

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	if _, err := f.router.RouteTask(ctx, f.monitor, env); err != nil {
		f.logger.Warn("activity feed delivery failed", "monitor", f.monitor, "agent", p.AgentName, "error", err)
	}
}
