package domain

import (
	"context"
	"fmt"
	"time"
)

// AgentState is the lifecycle state of an agent.
type AgentState string

const (
	StateCreated      AgentState = "created"
	StateInitializing AgentState = "initializing"
	StateRunning      AgentState = "running"
	StateBusy         AgentState = "busy"
	StateStopped      AgentState = "stopped"
	StateErrored      AgentState = "errored"
)

// transitions lists the legal successor states of each state.
var transitions = map[AgentState][]AgentState{
	StateCreated:      {StateInitializing, StateStopped},
	StateInitializing: {StateRunning, StateErrored},
	StateRunning:      {StateBusy, StateStopped, StateErrored},
	StateBusy:         {StateRunning, StateStopped, StateErrored},
	StateErrored:      {StateInitializing, StateStopped},
	StateStopped:      nil,
}

// CanTransition reports whether moving from s to next is legal.
func (s AgentState) CanTransition(next AgentState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition validates the move from s to next.
func (s AgentState) Transition(next AgentState) (AgentState, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return next, nil
}

// IsTerminal reports whether no transition leaves s.
func (s AgentState) IsTerminal() bool { return len(transitions[s]) == 0 }

// AcceptsTasks reports whether Process may run in state s.
func (s AgentState) AcceptsTasks() bool { return s == StateRunning || s == StateBusy }

// AgentIdentity is the immutable identity of one agent.
type AgentIdentity struct {
	ID          string `json:"id"          yaml:"id"`
	Name        string `json:"name"        yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// AgentStatusSnapshot is a read-only view of an agent's bookkeeping.
type AgentStatusSnapshot struct {
	AgentID        string     `json:"agent_id"`
	AgentName      string     `json:"agent_name"`
	State          AgentState `json:"state"`
	LastActivity   time.Time  `json:"last_activity"`
	ErrorCount     int64      `json:"error_count"`
	TasksProcessed int64      `json:"tasks_processed"`
	LastError      string     `json:"last_error,omitempty"`
}

// Agent is a named worker the orchestrator can start, route tasks to and stop.
type Agent interface {
	ID() string
	Name() string
	Start(ctx context.Context) error
	Process(ctx context.Context, env TaskEnvelope) (Payload, error)
	Shutdown(ctx context.Context) error
	Status() AgentStatusSnapshot
}

// Worker is the domain half of an agent: its identity, its closed set of task
// routes, and its initialize/shutdown hooks. The runtime supplies lifecycle,
// serialization and error classification around it.
type Worker interface {
	Identity() AgentIdentity
	Routes() []Route
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
