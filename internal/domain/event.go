package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventAgentRegistered  EventType = "agent.registered"
	EventAgentStarted     EventType = "agent.started"
	EventAgentStartFailed EventType = "agent.start_failed"
	EventAgentStopped     EventType = "agent.stopped"
	EventTaskCompleted    EventType = "task.completed"
	EventTaskFailed       EventType = "task.failed"
	EventScheduleFired    EventType = "schedule.fired"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Agent     string          `json:"agent,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// TaskEventPayload is the payload of task.completed and task.failed events.
type TaskEventPayload struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	TaskType  string `json:"task_type"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
	Duration  string `json:"duration"`
}

// LifecycleEventPayload is the payload of agent.* events.
type LifecycleEventPayload struct {
	AgentID string     `json:"agent_id"`
	State   AgentState `json:"state"`
	Error   string     `json:"error,omitempty"`
}

// ScheduleEventPayload is the payload of schedule.fired events.
type ScheduleEventPayload struct {
	Task     string `json:"task"`
	TaskType string `json:"task_type"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
