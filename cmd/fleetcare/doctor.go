package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"fleetcare/internal/adapter/reference"
	"fleetcare/internal/infra/config"
	"fleetcare/internal/usecase/scheduling"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// runDoctor executes all health checks and reports results.
func runDoctor() error {
	cfgPath := configPath()

	// Try to load config; some checks work without it.
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Agents", Fn: checkAgents},
		{Name: "Reference data", Fn: checkReferenceData},
		{Name: "Voice transport", Fn: checkVoice},
		{Name: "Language model", Fn: checkLLMAPIKey},
		{Name: "LLM connectivity", Fn: checkLLMConnectivity},
		{Name: "Schedules", Fn: checkSchedules},
	}

	fmt.Println("fleetcare doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Printf("  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Println("\nFix the FAIL issues above before running the fleet.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Println("\nfleetcare should work, but consider addressing the warnings.")
	} else {
		fmt.Println("\nAll checks passed! The fleet is ready to run.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

func notLoaded() CheckResult {
	return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
}

// checkConfigFile returns a check that verifies the config file parses. A
// missing file is only a warning since defaults apply.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     fmt.Sprintf("Check the syntax and values in %s", cfgPath),
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", cfgPath),
				Fix:     "Create config.yaml or pass --config PATH",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkAgents reports which agents are enabled and whether the activity
// feed monitor is one of them.
func checkAgents(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	enabled := cfg.EnabledAgents()
	if len(enabled) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: "no agents enabled",
			Fix:     "Enable at least one agent under agents.*.enabled",
		}
	}

	if cfg.ActivityFeed.Enabled {
		found := false
		for _, ac := range enabled {
			if ac.Name == cfg.ActivityFeed.Monitor {
				found = true
				break
			}
		}
		if !found {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("activity feed monitor %q is not an enabled agent", cfg.ActivityFeed.Monitor),
				Fix:     "Enable the security agent or set activity_feed.enabled: false",
			}
		}
	}

	if n := len(enabled); n < 7 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%d of 7 agents enabled, the maintenance pipeline needs all of them", n),
		}
	}
	return CheckResult{Status: StatusPass, Message: "all 7 agents enabled"}
}

// checkReferenceData loads the service center and DTC tables.
func checkReferenceData(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	src, err := reference.Load(cfg.Reference.Path)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: err.Error(),
			Fix:     "Fix reference.path or remove it to use the built-in data",
		}
	}

	ctx := context.Background()
	centers, _ := src.ServiceCenters(ctx)
	codes, _ := src.DTCCodes(ctx)
	origin := "built-in"
	if cfg.Reference.Path != "" {
		origin = cfg.Reference.Path
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d service centers, %d DTC codes (%s)", len(centers), len(codes), origin),
	}
}

// checkVoice verifies the voice provider has what it needs to place calls.
func checkVoice(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	v := cfg.Voice
	switch v.Provider {
	case "", "simulation":
		return CheckResult{
			Status:  StatusWarn,
			Message: "simulation mode, no real calls are placed",
			Fix:     "Set voice.provider: twilio with credentials to place real calls",
		}
	case "twilio":
		var missing []string
		if v.Twilio.AccountSID == "" {
			missing = append(missing, "account_sid")
		}
		if v.Twilio.AuthToken == "" {
			missing = append(missing, "auth_token")
		}
		if v.FromNumber == "" {
			missing = append(missing, "from_number")
		}
		if len(missing) > 0 {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("twilio is missing %s", strings.Join(missing, ", ")),
				Fix:     "Set FLEETCARE_TWILIO_ACCOUNT_SID, FLEETCARE_TWILIO_AUTH_TOKEN and FLEETCARE_VOICE_FROM_NUMBER",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("twilio from %s, %d calls/min", v.FromNumber, v.CallsPerMin),
		}
	default:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("unknown voice provider %q", v.Provider),
		}
	}
}

// checkLLMAPIKey verifies an enabled language model has an API key.
func checkLLMAPIKey(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if !cfg.LLM.Enabled {
		return CheckResult{
			Status:  StatusPass,
			Message: "disabled, voice scripts use templates",
		}
	}
	if cfg.LLM.APIKey == "" {
		return CheckResult{
			Status:  StatusFail,
			Message: "llm enabled without an API key",
			Fix:     "Set FLEETCARE_LLM_API_KEY or an enc: value for llm.api_key",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("model %s at %s", cfg.LLM.Model, cfg.LLM.BaseURL),
	}
}

// checkLLMConnectivity tests if the model endpoint is reachable.
func checkLLMConnectivity(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if !cfg.LLM.Enabled {
		return CheckResult{Status: StatusPass, Message: "skipped, model disabled"}
	}
	if cfg.LLM.APIKey == "" {
		return CheckResult{Status: StatusWarn, Message: "skipped, no API key"}
	}

	endpoint := strings.TrimRight(cfg.LLM.BaseURL, "/") + "/models"
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("failed to create request: %v", err),
		}
	}
	req.Header.Set("Authorization", "Bearer "+cfg.LLM.APIKey)

	resp, err := http.DefaultClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", endpoint, err),
			Fix:     "Check your internet connection and llm.base_url",
		}
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s rejected the API key (HTTP %d)", endpoint, resp.StatusCode),
			Fix:     "Check llm.api_key",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s reachable (latency: %dms)", endpoint, latency.Milliseconds()),
	}
}

// checkSchedules parses every schedule and checks its target agent exists.
func checkSchedules(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if !cfg.Scheduler.Enabled {
		return CheckResult{Status: StatusPass, Message: "scheduler disabled"}
	}

	names := make(map[string]bool)
	for _, ac := range cfg.EnabledAgents() {
		names[ac.Name] = true
	}
	var problems []string
	for _, t := range cfg.Scheduler.Tasks {
		if _, err := scheduling.ParseSchedule(t.Schedule); err != nil {
			problems = append(problems, fmt.Sprintf("%s: bad schedule %q", t.Name, t.Schedule))
		}
		if !names[t.Agent] {
			problems = append(problems, fmt.Sprintf("%s: agent %q not enabled", t.Name, t.Agent))
		}
	}
	if len(problems) > 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: strings.Join(problems, "; "),
			Fix:     "Fix scheduler.tasks in config.yaml",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d scheduled task(s)", len(cfg.Scheduler.Tasks)),
	}
}
