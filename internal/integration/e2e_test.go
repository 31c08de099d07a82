//go:build integration
// +build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetcare/internal/adapter/agent/engagement"
	"fleetcare/internal/adapter/agent/feedback"
	"fleetcare/internal/adapter/agent/security"
	"fleetcare/internal/adapter/llm"
	"fleetcare/internal/domain"
	"fleetcare/internal/infra/logger"
	"fleetcare/internal/usecase/eventbus"
	"fleetcare/internal/usecase/multiagent"
	"fleetcare/internal/usecase/pipeline"
	"fleetcare/internal/usecase/scheduling"
)

func TestE2E_VoiceScriptWithRealLLM(t *testing.T) {
	SkipIfShort(t)
	cfg := LoadConfig()
	SkipIfNoAPIKey(t, cfg.OpenAIKey, "OPENAI")

	ctx := NewTestContext(t, cfg.TestTimeout)
	model := llm.New(cfg.LLMConfig(), logger.Discard())
	orch := NewFleet(t, model, nil)

	out, err := orch.RouteTask(ctx, pipeline.DefaultAgents.Engagement, domain.NewTask(engagement.TaskGenerateScript, domain.Payload{
		"vehicle_id":    "VIN12345",
		"customer_name": "Rajesh Kumar",
		"failure_prediction": map[string]any{
			"component":            "Oil Pump",
			"confidence":           0.92,
			"time_to_failure_days": 7,
		},
	}))
	require.NoError(t, err)

	var script engagement.Script
	require.NoError(t, domain.DecodePayload(out, &script))
	t.Logf("script source=%s greeting=%q", script.Source, script.Greeting)
	assert.NotEmpty(t, script.Greeting)
	assert.NotEmpty(t, script.IssueExplanation)
}

func TestE2E_PipelineWithRealLLM(t *testing.T) {
	SkipIfShort(t)
	cfg := LoadConfig()
	SkipIfNoAPIKey(t, cfg.OpenAIKey, "OPENAI")
	if cfg.SkipSlow {
		t.Skip("Skipping slow test")
	}

	ctx := NewTestContext(t, 2*time.Minute)
	model := llm.New(cfg.LLMConfig(), logger.Discard())
	orch := NewFleet(t, model, nil)

	report, err := pipeline.New(orch, logger.Discard()).Run(ctx, *pipeline.DemoVehicle())
	require.NoError(t, err)
	assert.True(t, report.CustomerAccepted)
	assert.NotEmpty(t, report.BookingID)
	assert.NotNil(t, report.Security)
}

func TestE2E_ScheduledTasksReachMonitor(t *testing.T) {
	SkipIfShort(t)
	log := logger.Discard()
	bus := eventbus.New(log)
	t.Cleanup(bus.Close)

	orch := NewFleet(t, nil, bus)
	feed := multiagent.NewActivityFeed(orch, pipeline.DefaultAgents.Security, log)
	feed.Attach(bus)
	t.Cleanup(feed.Detach)

	sched := scheduling.NewScheduler(orch, log, scheduling.WithRunTimeout(time.Second), scheduling.WithEventBus(bus))
	require.NoError(t, sched.AddTask(scheduling.Task{
		Name:     "sentiment-probe",
		Schedule: "50ms",
		Agent:    pipeline.DefaultAgents.Feedback,
		Type:     feedback.TaskSentiment,
		Payload:  domain.Payload{"text": "great service, very helpful"},
	}))
	require.NoError(t, sched.Start(context.Background()))
	t.Cleanup(func() { _ = sched.Stop() })

	require.Eventually(t, func() bool {
		out, err := orch.RouteTask(context.Background(), pipeline.DefaultAgents.Security,
			domain.NewTask(security.TaskStatus, domain.Payload{}))
		if err != nil {
			return false
		}
		n, _ := out["total_activities_monitored"].(float64)
		return n >= 2
	}, 5*time.Second, 50*time.Millisecond)
}
