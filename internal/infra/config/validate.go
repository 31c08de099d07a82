package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateOrchestrator(cfg, ve)
	validateAgents(cfg, ve)
	validateVoice(cfg, ve)
	validateLLM(cfg, ve)
	validateScheduler(cfg, ve)
	validateActivityFeed(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json", "":
	default:
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "stdout", "noop", "":
	default:
		ve.Add("tracer.exporter %q is not supported", cfg.Tracer.Exporter)
	}
}

func validateOrchestrator(cfg *Config, ve *ValidationError) {
	o := cfg.Orchestrator
	if o.RouteTimeout < 0 {
		ve.Add("orchestrator.route_timeout must be >= 0")
	}
	if o.StartTimeout <= 0 {
		ve.Add("orchestrator.start_timeout must be > 0")
	}
	if o.StopTimeout <= 0 {
		ve.Add("orchestrator.stop_timeout must be > 0")
	}
}

// EnabledAgents returns the identity config of every enabled agent, keyed by section.
func (c *Config) EnabledAgents() map[string]AgentConfig {
	all := map[string]AgentConfig{
		"telemetry":  c.Agents.Telemetry.AgentConfig,
		"diagnosis":  c.Agents.Diagnosis,
		"engagement": c.Agents.Engagement,
		"booking":    c.Agents.Booking.AgentConfig,
		"feedback":   c.Agents.Feedback,
		"insights":   c.Agents.Insights,
		"security":   c.Agents.Security.AgentConfig,
	}
	out := make(map[string]AgentConfig, len(all))
	for section, ac := range all {
		if ac.Enabled {
			out[section] = ac
		}
	}
	return out
}

func validateAgents(cfg *Config, ve *ValidationError) {
	enabled := cfg.EnabledAgents()
	if len(enabled) == 0 {
		ve.Add("agents: at least one agent must be enabled")
	}

	names := make(map[string]string, len(enabled))
	ids := make(map[string]string, len(enabled))
	for _, section := range sortedKeys(enabled) {
		ac := enabled[section]
		if ac.Name == "" {
			ve.Add("agents.%s.name is required", section)
		} else if prev, dup := names[ac.Name]; dup {
			ve.Add("agents.%s.name %q duplicates agents.%s", section, ac.Name, prev)
		} else {
			names[ac.Name] = section
		}
		if ac.ID == "" {
			ve.Add("agents.%s.id is required", section)
		} else if prev, dup := ids[ac.ID]; dup {
			ve.Add("agents.%s.id %q duplicates agents.%s", section, ac.ID, prev)
		} else {
			ids[ac.ID] = section
		}
	}

	if t := cfg.Agents.Telemetry.RiskThreshold; t <= 0 || t > 1 {
		ve.Add("agents.telemetry.risk_threshold must be in (0, 1]")
	}
	if cfg.Agents.Booking.DefaultMaxDistanceKM <= 0 {
		ve.Add("agents.booking.default_max_distance_km must be > 0")
	}
	if cfg.Agents.Booking.MaxSlots <= 0 {
		ve.Add("agents.booking.max_slots must be > 0")
	}
	if cfg.Agents.Security.MaxCallsPerDay <= 0 {
		ve.Add("agents.security.max_calls_per_day must be > 0")
	}
}

func validateBreaker(prefix string, b BreakerConfig, ve *ValidationError) {
	if b.MaxFailures <= 0 {
		ve.Add("%s.circuit_breaker.max_failures must be > 0", prefix)
	}
	if b.Timeout <= 0 {
		ve.Add("%s.circuit_breaker.timeout must be > 0", prefix)
	}
	if b.Interval < 0 {
		ve.Add("%s.circuit_breaker.interval must be >= 0", prefix)
	}
}

func validateVoice(cfg *Config, ve *ValidationError) {
	v := cfg.Voice
	switch v.Provider {
	case "simulation":
	case "twilio":
		if v.Twilio.AccountSID == "" {
			ve.Add("voice.twilio.account_sid is required for the twilio provider")
		}
		if v.Twilio.AuthToken == "" {
			ve.Add("voice.twilio.auth_token is required for the twilio provider")
		}
		if v.FromNumber == "" {
			ve.Add("voice.from_number is required for the twilio provider")
		}
		if _, err := url.ParseRequestURI(v.Twilio.BaseURL); err != nil {
			ve.Add("voice.twilio.base_url is invalid: %v", err)
		}
	default:
		ve.Add("voice.provider %q must be simulation or twilio", v.Provider)
	}
	if v.Timeout <= 0 {
		ve.Add("voice.timeout must be > 0")
	}
	if v.CallsPerMin <= 0 {
		ve.Add("voice.calls_per_minute must be > 0")
	}
	if v.Burst <= 0 {
		ve.Add("voice.burst must be > 0")
	}
	validateBreaker("voice", v.CircuitBreaker, ve)
}

func validateLLM(cfg *Config, ve *ValidationError) {
	l := cfg.LLM
	if !l.Enabled {
		return
	}
	if _, err := url.ParseRequestURI(l.BaseURL); err != nil {
		ve.Add("llm.base_url is invalid: %v", err)
	}
	if l.Model == "" {
		ve.Add("llm.model is required when llm is enabled")
	}
	if l.Timeout <= 0 {
		ve.Add("llm.timeout must be > 0")
	}
	if l.MaxTokens <= 0 {
		ve.Add("llm.max_tokens must be > 0")
	}
	validateBreaker("llm", l.CircuitBreaker, ve)
}

func validateScheduler(cfg *Config, ve *ValidationError) {
	s := cfg.Scheduler
	if !s.Enabled {
		return
	}
	if s.RunTimeout <= 0 {
		ve.Add("scheduler.run_timeout must be > 0")
	}
	seen := make(map[string]bool, len(s.Tasks))
	for i, task := range s.Tasks {
		if task.Name == "" {
			ve.Add("scheduler.tasks[%d].name is required", i)
		} else if seen[task.Name] {
			ve.Add("scheduler.tasks[%d].name %q is duplicated", i, task.Name)
		}
		seen[task.Name] = true
		if task.Schedule == "" {
			ve.Add("scheduler.tasks[%d].schedule is required", i)
		}
		if task.Agent == "" {
			ve.Add("scheduler.tasks[%d].agent is required", i)
		}
		if task.Type == "" {
			ve.Add("scheduler.tasks[%d].type is required", i)
		}
	}
}

func validateActivityFeed(cfg *Config, ve *ValidationError) {
	if cfg.ActivityFeed.Enabled && cfg.ActivityFeed.Monitor == "" {
		ve.Add("activity_feed.monitor is required when the feed is enabled")
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
