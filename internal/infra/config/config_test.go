package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fleetcare.yaml")
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
	if cfg.Voice.Provider != "simulation" {
		t.Errorf("Voice.Provider = %q, want simulation", cfg.Voice.Provider)
	}
	if got := len(cfg.EnabledAgents()); got != 7 {
		t.Errorf("EnabledAgents = %d, want 7", got)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agents.Diagnosis.Name != "DiagnosisAgent" {
		t.Errorf("expected defaults, got diagnosis name %q", cfg.Agents.Diagnosis.Name)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
logger:
  level: "debug"
  format: "json"
orchestrator:
  route_timeout: 5s
agents:
  telemetry:
    name: "Telemetry"
    risk_threshold: 0.5
  feedback:
    enabled: false
scheduler:
  enabled: true
  tasks:
    - name: nightly-security
      schedule: "@daily"
      agent: UEBAAgent
      type: generate_security_report
      payload:
        time_period_hours: 24
`, 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want debug", cfg.Logger.Level)
	}
	if cfg.Orchestrator.RouteTimeout != 5*time.Second {
		t.Errorf("RouteTimeout = %v, want 5s", cfg.Orchestrator.RouteTimeout)
	}
	if cfg.Agents.Telemetry.Name != "Telemetry" || cfg.Agents.Telemetry.ID != "agent-data-analysis-001" {
		t.Errorf("telemetry identity = %+v", cfg.Agents.Telemetry.AgentConfig)
	}
	if cfg.Agents.Telemetry.RiskThreshold != 0.5 {
		t.Errorf("RiskThreshold = %v, want 0.5", cfg.Agents.Telemetry.RiskThreshold)
	}
	if _, ok := cfg.EnabledAgents()["feedback"]; ok {
		t.Error("feedback agent should be disabled")
	}
	if len(cfg.Scheduler.Tasks) != 1 || cfg.Scheduler.Tasks[0].Payload["time_period_hours"] != 24 {
		t.Errorf("scheduler tasks = %+v", cfg.Scheduler.Tasks)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "logger: [", 0600)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadInsecurePermissions(t *testing.T) {
	path := writeConfig(t, "logger:\n  level: info\n", 0600)
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected permission error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLEETCARE_LOGGER_LEVEL", "warn")
	t.Setenv("FLEETCARE_TRACER_ENABLED", "true")
	t.Setenv("FLEETCARE_TRACER_EXPORTER", "stdout")
	t.Setenv("FLEETCARE_ORCHESTRATOR_ROUTE_TIMEOUT", "2s")
	t.Setenv("FLEETCARE_VOICE_CALLS_PER_MINUTE", "12")
	t.Setenv("FLEETCARE_LLM_ENABLED", "true")
	t.Setenv("FLEETCARE_LLM_API_KEY", "sk-test")
	t.Setenv("FLEETCARE_ACTIVITY_FEED_ENABLED", "false")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Logger.Level != "warn" {
		t.Errorf("Logger.Level = %q, want warn", cfg.Logger.Level)
	}
	if !cfg.Tracer.Enabled || cfg.Tracer.Exporter != "stdout" {
		t.Errorf("Tracer = %+v", cfg.Tracer)
	}
	if cfg.Orchestrator.RouteTimeout != 2*time.Second {
		t.Errorf("RouteTimeout = %v", cfg.Orchestrator.RouteTimeout)
	}
	if cfg.Voice.CallsPerMin != 12 {
		t.Errorf("CallsPerMin = %d, want 12", cfg.Voice.CallsPerMin)
	}
	if !cfg.LLM.Enabled || cfg.LLM.APIKey != "sk-test" {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if cfg.ActivityFeed.Enabled {
		t.Error("activity feed should be disabled")
	}
}

func TestEnvOverridesIgnoreBadDuration(t *testing.T) {
	t.Setenv("FLEETCARE_ORCHESTRATOR_ROUTE_TIMEOUT", "soon")
	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	if cfg.Orchestrator.RouteTimeout != 0 {
		t.Errorf("RouteTimeout = %v, want 0", cfg.Orchestrator.RouteTimeout)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := EncryptValue("secret-token", "passphrase")
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	dec, err := DecryptValue(enc, "passphrase")
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if dec != "secret-token" {
		t.Errorf("got %q, want %q", dec, "secret-token")
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	enc, err := EncryptValue("secret", "right")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptValue(enc, "wrong"); err == nil {
		t.Fatal("expected error with wrong passphrase")
	}
}

func TestDecryptValueMalformed(t *testing.T) {
	for _, in := range []string{"no-colon", "zz:00", "00:zz", "00:00"} {
		if _, err := DecryptValue(in, "key"); err == nil {
			t.Errorf("DecryptValue(%q) should fail", in)
		}
	}
}

func TestLoadDecryptsSecrets(t *testing.T) {
	enc, err := EncryptValue("twilio-secret", "config-key")
	if err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, `
voice:
  provider: twilio
  from_number: "+15550001111"
  twilio:
    account_sid: AC123
    auth_token: "enc:`+enc+`"
`, 0600)
	t.Setenv("FLEETCARE_CONFIG_KEY", "config-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Voice.Twilio.AuthToken != "twilio-secret" {
		t.Errorf("AuthToken = %q, want decrypted value", cfg.Voice.Twilio.AuthToken)
	}
}

func TestDecryptSecretsNoEncPrefix(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.APIKey = "plain"
	if err := decryptSecrets(cfg, "key"); err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "plain" {
		t.Errorf("APIKey = %q, want unchanged", cfg.LLM.APIKey)
	}
}

func TestDecryptSecretsInvalidCiphertext(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.APIKey = "enc:not-valid"
	if err := decryptSecrets(cfg, "key"); err == nil {
		t.Fatal("expected error for invalid ciphertext")
	}
}
