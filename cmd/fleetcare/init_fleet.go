package main

import (
	"fmt"
	"log/slog"

	"fleetcare/internal/adapter/agent/booking"
	"fleetcare/internal/adapter/agent/diagnosis"
	"fleetcare/internal/adapter/agent/engagement"
	"fleetcare/internal/adapter/agent/feedback"
	"fleetcare/internal/adapter/agent/insights"
	"fleetcare/internal/adapter/agent/security"
	"fleetcare/internal/adapter/agent/telemetry"
	"fleetcare/internal/adapter/llm"
	"fleetcare/internal/adapter/reference"
	"fleetcare/internal/adapter/voice"
	"fleetcare/internal/domain"
	"fleetcare/internal/infra/config"
	"fleetcare/internal/infra/logger"
	"fleetcare/internal/usecase/multiagent"
	"fleetcare/internal/usecase/pipeline"
	"fleetcare/internal/usecase/scheduling"
)

// Fleet holds the wired orchestrator and the routing names of its agents.
type Fleet struct {
	Orchestrator *multiagent.Orchestrator
	Agents       pipeline.Agents
}

// initFleet builds the collaborators and every enabled agent, and registers
// the agents with a new orchestrator. Nothing is started.
func initFleet(cfg *config.Config, log *slog.Logger, bus domain.EventBus) (*Fleet, error) {
	// 1. Collaborators
	transport, err := voice.New(cfg.Voice, logger.Component(log, "voice"))
	if err != nil {
		return nil, fmt.Errorf("voice: %w", err)
	}
	model := llm.New(cfg.LLM, logger.Component(log, "llm"))
	ref, err := reference.Load(cfg.Reference.Path)
	if err != nil {
		return nil, err
	}

	// 2. Workers
	ac := cfg.Agents
	var workers []domain.Worker
	if ac.Telemetry.Enabled {
		workers = append(workers, telemetry.New(ac.Telemetry, log))
	}
	if ac.Diagnosis.Enabled {
		workers = append(workers, diagnosis.New(ac.Diagnosis, ref, log))
	}
	if ac.Engagement.Enabled {
		workers = append(workers, engagement.New(ac.Engagement, transport, model, log))
	}
	if ac.Booking.Enabled {
		workers = append(workers, booking.New(ac.Booking, ref, log))
	}
	if ac.Feedback.Enabled {
		workers = append(workers, feedback.New(ac.Feedback, log))
	}
	if ac.Insights.Enabled {
		workers = append(workers, insights.New(ac.Insights, log))
	}
	if ac.Security.Enabled {
		workers = append(workers, security.New(ac.Security, log))
	}

	// 3. Orchestrator
	opts := []multiagent.OrchestratorOption{multiagent.WithRouteTimeout(cfg.Orchestrator.RouteTimeout)}
	if bus != nil {
		opts = append(opts, multiagent.WithEventBus(bus))
	}
	orch := multiagent.NewOrchestrator(log, opts...)
	for _, w := range workers {
		rt, err := multiagent.NewRuntime(w, multiagent.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", w.Identity().Name, err)
		}
		if err := orch.Register(rt); err != nil {
			return nil, err
		}
	}

	return &Fleet{
		Orchestrator: orch,
		Agents: pipeline.Agents{
			Telemetry:  ac.Telemetry.Name,
			Diagnosis:  ac.Diagnosis.Name,
			Engagement: ac.Engagement.Name,
			Booking:    ac.Booking.Name,
			Feedback:   ac.Feedback.Name,
			Insights:   ac.Insights.Name,
			Security:   ac.Security.Name,
		},
	}, nil
}

// scheduledTasks converts config schedules into scheduler tasks.
func scheduledTasks(cfg config.SchedulerConfig) []scheduling.Task {
	tasks := make([]scheduling.Task, 0, len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		tasks = append(tasks, scheduling.Task{
			Name:     t.Name,
			Schedule: t.Schedule,
			Agent:    t.Agent,
			Type:     t.Type,
			Payload:  domain.Payload(t.Payload),
		})
	}
	return tasks
}
