package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"fleetcare/internal/adapter/agent/booking"
	"fleetcare/internal/adapter/agent/diagnosis"
	"fleetcare/internal/adapter/agent/engagement"
	"fleetcare/internal/adapter/agent/feedback"
	"fleetcare/internal/adapter/agent/insights"
	"fleetcare/internal/adapter/agent/security"
	"fleetcare/internal/adapter/agent/telemetry"
	"fleetcare/internal/adapter/reference"
	"fleetcare/internal/adapter/voice"
	"fleetcare/internal/domain"
	"fleetcare/internal/infra/config"
	"fleetcare/internal/infra/logger"
	"fleetcare/internal/usecase/multiagent"
)

// Config holds integration test configuration from environment
type Config struct {
	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
	TestTimeout   time.Duration
	SkipSlow      bool
}

// LoadConfig loads integration test configuration from environment
func LoadConfig() *Config {
	cfg := &Config{
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:   os.Getenv("OPENAI_MODEL"),
		TestTimeout:   60 * time.Second,
		SkipSlow:      os.Getenv("SKIP_SLOW_TESTS") == "1",
	}
	if cfg.OpenAIBaseURL == "" {
		cfg.OpenAIBaseURL = "https://api.openai.com/v1"
	}
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o-mini"
	}
	return cfg
}

// LLMConfig returns an enabled model config pointing at the test endpoint.
func (c *Config) LLMConfig() config.LLMConfig {
	llm := config.Defaults().LLM
	llm.Enabled = true
	llm.APIKey = c.OpenAIKey
	llm.BaseURL = c.OpenAIBaseURL
	llm.Model = c.OpenAIModel
	return llm
}

// SkipIfNoAPIKey skips the test if the required API key is not set
func SkipIfNoAPIKey(t *testing.T, key, name string) {
	t.Helper()
	if key == "" {
		t.Skipf("Skipping %s integration test: %s_API_KEY not set", name, name)
	}
}

// SkipIfShort skips integration tests in short mode
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// NewFleet registers and starts all seven agents with the default config,
// the built-in reference data and a simulated voice transport. model may be
// nil; bus may be nil.
func NewFleet(t *testing.T, model domain.LanguageModel, bus domain.EventBus) *multiagent.Orchestrator {
	t.Helper()
	log := logger.Discard()
	cfg := config.Defaults().Agents
	src, err := reference.Load("")
	if err != nil {
		t.Fatalf("reference data: %v", err)
	}

	workers := []domain.Worker{
		telemetry.New(cfg.Telemetry, log),
		diagnosis.New(cfg.Diagnosis, src, log),
		engagement.New(cfg.Engagement, voice.NewSimulated(), model, log),
		booking.New(cfg.Booking, src, log),
		feedback.New(cfg.Feedback, log),
		insights.New(cfg.Insights, log),
		security.New(cfg.Security, log),
	}

	var opts []multiagent.OrchestratorOption
	if bus != nil {
		opts = append(opts, multiagent.WithEventBus(bus))
	}
	orch := multiagent.NewOrchestrator(log, opts...)
	for _, w := range workers {
		rt, err := multiagent.NewRuntime(w, multiagent.WithLogger(log))
		if err != nil {
			t.Fatalf("runtime %s: %v", w.Identity().Name, err)
		}
		if err := orch.Register(rt); err != nil {
			t.Fatalf("register %s: %v", w.Identity().Name, err)
		}
	}
	if err := orch.StartAll(context.Background()); err != nil {
		t.Fatalf("start fleet: %v", err)
	}
	t.Cleanup(func() { _ = orch.StopAll(context.Background()) })
	return orch
}
