package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Logger       LoggerConfig       `yaml:"logger"`
	Tracer       TracerConfig       `yaml:"tracer"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Agents       AgentsConfig       `yaml:"agents"`
	Voice        VoiceConfig        `yaml:"voice"`
	LLM          LLMConfig          `yaml:"llm"`
	Reference    ReferenceConfig    `yaml:"reference"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	ActivityFeed ActivityFeedConfig `yaml:"activity_feed"`
}

// LoggerConfig configures structured logging.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig configures OpenTelemetry tracing.
type TracerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"` // "stdout", "noop"
	ServiceName string `yaml:"service_name"`
}

// OrchestratorConfig bounds fleet-wide operations.
type OrchestratorConfig struct {
	// RouteTimeout applies to RouteTask calls whose context has no deadline. 0 disables it.
	RouteTimeout time.Duration `yaml:"route_timeout"`
	StartTimeout time.Duration `yaml:"start_timeout"`
	StopTimeout  time.Duration `yaml:"stop_timeout"`
}

// AgentConfig is the identity and enablement shared by every agent.
type AgentConfig struct {
	Enabled bool   `yaml:"enabled"`
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
}

// TelemetryAgentConfig configures the telemetry analysis agent.
type TelemetryAgentConfig struct {
	AgentConfig   `yaml:",inline"`
	RiskThreshold float64 `yaml:"risk_threshold"`
}

// BookingAgentConfig configures the scheduling agent.
type BookingAgentConfig struct {
	AgentConfig          `yaml:",inline"`
	DefaultMaxDistanceKM float64 `yaml:"default_max_distance_km"`
	MaxSlots             int     `yaml:"max_slots"`
}

// SecurityAgentConfig configures the UEBA agent.
type SecurityAgentConfig struct {
	AgentConfig      `yaml:",inline"`
	SensitiveActions []string `yaml:"sensitive_actions"`
	MaxCallsPerDay   int      `yaml:"max_calls_per_day"`
}

// AgentsConfig lists the agents of the fleet.
type AgentsConfig struct {
	Telemetry  TelemetryAgentConfig `yaml:"telemetry"`
	Diagnosis  AgentConfig          `yaml:"diagnosis"`
	Engagement AgentConfig          `yaml:"engagement"`
	Booking    BookingAgentConfig   `yaml:"booking"`
	Feedback   AgentConfig          `yaml:"feedback"`
	Insights   AgentConfig          `yaml:"insights"`
	Security   SecurityAgentConfig  `yaml:"security"`
}

// BreakerConfig configures a collaborator circuit breaker.
type BreakerConfig struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// TwilioConfig holds Twilio credentials.
type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	BaseURL    string `yaml:"base_url"`
}

// VoiceConfig configures the outbound voice transport.
type VoiceConfig struct {
	Provider       string        `yaml:"provider"` // "simulation", "twilio"
	FromNumber     string        `yaml:"from_number"`
	CallbackURL    string        `yaml:"callback_url"`
	Timeout        time.Duration `yaml:"timeout"`
	CallsPerMin    int           `yaml:"calls_per_minute"`
	Burst          int           `yaml:"burst"`
	Twilio         TwilioConfig  `yaml:"twilio"`
	CircuitBreaker BreakerConfig `yaml:"circuit_breaker"`
}

// LLMConfig configures the optional language model used for call scripts.
type LLMConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxTokens      int           `yaml:"max_tokens"`
	Temperature    float64       `yaml:"temperature"`
	CircuitBreaker BreakerConfig `yaml:"circuit_breaker"`
}

// ReferenceConfig locates reference data. An empty path uses the built-in set.
type ReferenceConfig struct {
	Path string `yaml:"path"`
}

// ScheduledTask routes one envelope on a schedule.
type ScheduledTask struct {
	Name     string         `yaml:"name"`
	Schedule string         `yaml:"schedule"` // cron expression or Go duration
	Agent    string         `yaml:"agent"`
	Type     string         `yaml:"type"`
	Payload  map[string]any `yaml:"payload"`
}

// SchedulerConfig configures periodic routed tasks.
type SchedulerConfig struct {
	Enabled    bool            `yaml:"enabled"`
	RunTimeout time.Duration   `yaml:"run_timeout"`
	Tasks      []ScheduledTask `yaml:"tasks"`
}

// ActivityFeedConfig configures forwarding of task outcomes to a monitoring agent.
type ActivityFeedConfig struct {
	Enabled bool   `yaml:"enabled"`
	Monitor string `yaml:"monitor"` // agent name receiving monitor_activity tasks
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	defaultBreaker := BreakerConfig{
		MaxFailures: 5,
		Timeout:     30 * time.Second,
		Interval:    60 * time.Second,
	}
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:     false,
			Exporter:    "noop",
			ServiceName: "fleetcare",
		},
		Orchestrator: OrchestratorConfig{
			RouteTimeout: 0,
			StartTimeout: 30 * time.Second,
			StopTimeout:  30 * time.Second,
		},
		Agents: AgentsConfig{
			Telemetry: TelemetryAgentConfig{
				AgentConfig:   AgentConfig{Enabled: true, ID: "agent-data-analysis-001", Name: "DataAnalysisAgent"},
				RiskThreshold: 0.7,
			},
			Diagnosis:  AgentConfig{Enabled: true, ID: "agent-diagnosis-001", Name: "DiagnosisAgent"},
			Engagement: AgentConfig{Enabled: true, ID: "agent-customer-engagement-001", Name: "CustomerEngagementAgent"},
			Booking: BookingAgentConfig{
				AgentConfig:          AgentConfig{Enabled: true, ID: "agent-scheduling-001", Name: "SchedulingAgent"},
				DefaultMaxDistanceKM: 50,
				MaxSlots:             20,
			},
			Feedback: AgentConfig{Enabled: true, ID: "agent-feedback-001", Name: "FeedbackAgent"},
			Insights: AgentConfig{Enabled: true, ID: "agent-manufacturing-001", Name: "ManufacturingInsightsAgent"},
			Security: SecurityAgentConfig{
				AgentConfig:      AgentConfig{Enabled: true, ID: "agent-ueba-001", Name: "UEBAAgent"},
				SensitiveActions: []string{"delete_data", "modify_pricing", "access_credentials"},
				MaxCallsPerDay:   100,
			},
		},
		Voice: VoiceConfig{
			Provider:       "simulation",
			Timeout:        30 * time.Second,
			CallsPerMin:    30,
			Burst:          5,
			Twilio:         TwilioConfig{BaseURL: "https://api.twilio.com"},
			CircuitBreaker: defaultBreaker,
		},
		LLM: LLMConfig{
			Enabled:        false,
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			Timeout:        20 * time.Second,
			MaxTokens:      500,
			Temperature:    0.7,
			CircuitBreaker: defaultBreaker,
		},
		Scheduler: SchedulerConfig{
			Enabled:    false,
			RunTimeout: 5 * time.Minute,
		},
		ActivityFeed: ActivityFeedConfig{
			Enabled: true,
			Monitor: "UEBAAgent",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return finish(cfg)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("FLEETCARE_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps FLEETCARE_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLEETCARE_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("FLEETCARE_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("FLEETCARE_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("FLEETCARE_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("FLEETCARE_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("FLEETCARE_ORCHESTRATOR_ROUTE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Orchestrator.RouteTimeout = d
		}
	}
	if v := os.Getenv("FLEETCARE_VOICE_PROVIDER"); v != "" {
		cfg.Voice.Provider = v
	}
	if v := os.Getenv("FLEETCARE_VOICE_FROM_NUMBER"); v != "" {
		cfg.Voice.FromNumber = v
	}
	if v := os.Getenv("FLEETCARE_VOICE_CALLS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Voice.CallsPerMin = n
		}
	}
	if v := os.Getenv("FLEETCARE_TWILIO_ACCOUNT_SID"); v != "" {
		cfg.Voice.Twilio.AccountSID = v
	}
	if v := os.Getenv("FLEETCARE_TWILIO_AUTH_TOKEN"); v != "" {
		cfg.Voice.Twilio.AuthToken = v
	}
	if v := os.Getenv("FLEETCARE_LLM_ENABLED"); v != "" {
		cfg.LLM.Enabled = v == "true"
	}
	if v := os.Getenv("FLEETCARE_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("FLEETCARE_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("FLEETCARE_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("FLEETCARE_REFERENCE_PATH"); v != "" {
		cfg.Reference.Path = v
	}
	if v := os.Getenv("FLEETCARE_SCHEDULER_ENABLED"); v != "" {
		cfg.Scheduler.Enabled = v == "true"
	}
	if v := os.Getenv("FLEETCARE_ACTIVITY_FEED_ENABLED"); v != "" {
		cfg.ActivityFeed.Enabled = v == "true"
	}
}

// decryptSecrets replaces every "enc:"-prefixed secret with its plaintext.
func decryptSecrets(cfg *Config, passphrase string) error {
	secrets := []struct {
		name  string
		field *string
	}{
		{"voice.twilio.auth_token", &cfg.Voice.Twilio.AuthToken},
		{"llm.api_key", &cfg.LLM.APIKey},
	}
	for _, s := range secrets {
		if !strings.HasPrefix(*s.field, "enc:") {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(*s.field, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		*s.field = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	// Argon2id, 32-byte key.
	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
