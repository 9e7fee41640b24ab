package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AUTOPILOT"

// Config is the top-level application configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Agent     AgentConfig     `yaml:"agent"`
	Queue     QueueConfig     `yaml:"queue"`
	Triage    TriageConfig    `yaml:"triage"`
	Healing   HealingConfig   `yaml:"healing"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Tools     ToolsConfig     `yaml:"tools"`
	Locale    LocaleConfig    `yaml:"locale"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path        string        `yaml:"path"         envconfig:"PATH"`
	BusyRetries int           `yaml:"busy_retries" envconfig:"BUSY_RETRIES"`
	BusyBackoff time.Duration `yaml:"busy_backoff" envconfig:"BUSY_BACKOFF"`
}

// ProviderConfig describes one OpenAI-compatible completion endpoint.
type ProviderConfig struct {
	Name    string        `yaml:"name"     ignored:"true"`
	Type    string        `yaml:"type"     envconfig:"TYPE"`
	BaseURL string        `yaml:"base_url" envconfig:"BASE_URL"`
	APIKey  string        `yaml:"api_key"  envconfig:"API_KEY"`
	Model   string        `yaml:"model"    envconfig:"MODEL"`
	Timeout time.Duration `yaml:"timeout"  envconfig:"TIMEOUT"`
}

// CircuitBreakerConfig configures the breaker in front of the model.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"      envconfig:"ENABLED"`
	MaxFailures uint32        `yaml:"max_failures" envconfig:"MAX_FAILURES"`
	OpenTimeout time.Duration `yaml:"open_timeout" envconfig:"OPEN_TIMEOUT"`
}

// LLMConfig holds model provider and routing settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider" envconfig:"DEFAULT_PROVIDER"`
	Providers       []ProviderConfig     `yaml:"providers"        ignored:"true"`
	FastModel       string               `yaml:"fast_model"       envconfig:"MODEL_FAST"`
	SmartModel      string               `yaml:"smart_model"      envconfig:"MODEL_SMART"`
	ComplexLength   int                  `yaml:"complex_length"   envconfig:"COMPLEX_LENGTH"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"  envconfig:"CIRCUIT_BREAKER"`
}

// CompressionConfig controls history summarization.
type CompressionConfig struct {
	Enabled         bool `yaml:"enabled"           envconfig:"ENABLED"`
	Threshold       int  `yaml:"threshold"         envconfig:"THRESHOLD"`
	KeepTail        int  `yaml:"keep_tail"         envconfig:"KEEP_TAIL"`
	MaxSummaryChars int  `yaml:"max_summary_chars" envconfig:"MAX_SUMMARY_CHARS"`
}

// CacheConfig controls the inference cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" envconfig:"ENABLED"`
	TTL     time.Duration `yaml:"ttl"     envconfig:"TTL"`
}

// AgentConfig holds reasoning-loop defaults.
type AgentConfig struct {
	StepBudget       int               `yaml:"step_budget"        envconfig:"STEP_BUDGET"`
	ContextWindow    int               `yaml:"context_window"     envconfig:"CONTEXT_WINDOW"`
	MaxAdaptations   int               `yaml:"max_adaptations"    envconfig:"MAX_ADAPTATIONS"`
	MaxContextTokens int               `yaml:"max_context_tokens" envconfig:"MAX_CONTEXT_TOKENS"`
	StallAfter       time.Duration     `yaml:"stall_after"        envconfig:"STALL_AFTER"`
	Compression      CompressionConfig `yaml:"compression"        envconfig:"COMPRESSION"`
	Cache            CacheConfig       `yaml:"cache"              envconfig:"CACHE"`
}

// QueueConfig configures the job queue and its workers.
type QueueConfig struct {
	PollInterval time.Duration  `yaml:"poll_interval" envconfig:"POLL_INTERVAL"`
	Timeout      time.Duration  `yaml:"timeout"       envconfig:"TIMEOUT"`
	MaxTries     int            `yaml:"max_tries"     envconfig:"MAX_TRIES"`
	Backoff      time.Duration  `yaml:"backoff"       envconfig:"BACKOFF"`
	Concurrency  map[string]int `yaml:"concurrency"   envconfig:"CONCURRENCY"`
}

// RouteConfig maps title keywords to a specialist agent name.
type RouteConfig struct {
	Agent    string   `yaml:"agent"`
	Keywords []string `yaml:"keywords"`
}

// TriageConfig configures backlog assignment.
type TriageConfig struct {
	DefaultAgent string        `yaml:"default_agent" envconfig:"DEFAULT_AGENT"`
	BugAgent     string        `yaml:"bug_agent"     envconfig:"BUG_AGENT"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"  envconfig:"BUSY_TIMEOUT"`
	Routes       []RouteConfig `yaml:"routes"        ignored:"true"`
}

// HealingConfig configures the self-healing subsystem.
type HealingConfig struct {
	MaxDepth       int    `yaml:"max_depth"       envconfig:"MAX_DEPTH"`
	SweepLimit     int    `yaml:"sweep_limit"     envconfig:"SWEEP_LIMIT"`
	DiagnosticTool string `yaml:"diagnostic_tool" envconfig:"DIAGNOSTIC_TOOL"`
}

// SchedulerConfig holds the periodic job schedule. Values are cron
// expressions or Go durations.
type SchedulerConfig struct {
	Enabled      bool   `yaml:"enabled"       envconfig:"ENABLED"`
	Triage       string `yaml:"triage"        envconfig:"TRIAGE"`
	MissionSweep string `yaml:"mission_sweep" envconfig:"MISSION_SWEEP"`
	HealSweep    string `yaml:"heal_sweep"    envconfig:"HEAL_SWEEP"`
	CachePurge   string `yaml:"cache_purge"   envconfig:"CACHE_PURGE"`
}

// ToolsConfig holds tool registry settings.
type ToolsConfig struct {
	RatePerMinute int      `yaml:"rate_per_minute" envconfig:"RATE_PER_MINUTE"`
	Burst         int      `yaml:"burst"           envconfig:"BURST"`
	Disabled      []string `yaml:"disabled"        envconfig:"DISABLED"`
}

// LocaleConfig feeds the locale block of the system prompt.
type LocaleConfig struct {
	Location string `yaml:"location" envconfig:"LOCATION"`
	Timezone string `yaml:"timezone" envconfig:"TIMEZONE"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"  envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
	Output string `yaml:"output" envconfig:"OUTPUT"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"  envconfig:"ENABLED"`
	Exporter string `yaml:"exporter" envconfig:"EXPORTER"`
}

// MetricsConfig holds the Prometheus listener settings.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"         envconfig:"ENABLED"`
	Addr          string `yaml:"addr"            envconfig:"ADDR"`
	RatePerMinute int    `yaml:"rate_per_minute" envconfig:"RATE_PER_MINUTE"`
}

// defaultDataDir returns $HOME/.autopilot, or ./data when $HOME is unknown.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".autopilot")
}

// DefaultRoutes is the specialist keyword routing used when none is configured.
func DefaultRoutes() []RouteConfig {
	return []RouteConfig{
		{Agent: "Developer", Keywords: []string{"vision", "design", "frontend"}},
		{Agent: "Researcher", Keywords: []string{"research", "analyze", "find"}},
		{Agent: "Auditor", Keywords: []string{"audit", "security"}},
	}
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        filepath.Join(defaultDataDir(), "autopilot.db"),
			BusyRetries: 5,
			BusyBackoff: 100 * time.Millisecond,
		},
		LLM: LLMConfig{
			DefaultProvider: "openai",
			Providers: []ProviderConfig{
				{Name: "openai", Type: "openai", Model: "gpt-4", Timeout: 600 * time.Second},
			},
			FastModel:     "llama3.2",
			SmartModel:    "gpt-4",
			ComplexLength: 500,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				OpenTimeout: 30 * time.Second,
			},
		},
		Agent: AgentConfig{
			StepBudget:     10,
			ContextWindow:  15,
			MaxAdaptations: 5,
			StallAfter:     10 * time.Minute,
			Compression: CompressionConfig{
				Enabled:         true,
				Threshold:       20,
				KeepTail:        10,
				MaxSummaryChars: 6000,
			},
			Cache: CacheConfig{Enabled: true},
		},
		Queue: QueueConfig{
			PollInterval: time.Second,
			Timeout:      600 * time.Second,
			MaxTries:     3,
			Backoff:      5 * time.Second,
			Concurrency: map[string]int{
				"default":     2,
				"agents":      4,
				"tools":       4,
				"maintenance": 1,
			},
		},
		Triage: TriageConfig{
			DefaultAgent: "Manager",
			BugAgent:     "Developer",
			Routes:       DefaultRoutes(),
		},
		Healing: HealingConfig{
			MaxDepth:       3,
			SweepLimit:     50,
			DiagnosticTool: "system_debugger",
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			Triage:       "*/5 * * * *",
			MissionSweep: "* * * * *",
			HealSweep:    "*/10 * * * *",
			CachePurge:   "1h",
		},
		Tools: ToolsConfig{
			RatePerMinute: 60,
			Burst:         10,
		},
		Locale: LocaleConfig{
			Location: "Sydney, Australia",
			Timezone: "Australia/Sydney",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
		Metrics: MetricsConfig{
			Addr:          ":9464",
			RatePerMinute: 120,
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := validatePermissions(path); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if passphrase := os.Getenv(EnvPrefix + "_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps AUTOPILOT_<SECTION>_<FIELD> env vars onto cfg.
// Providers are addressed by name: AUTOPILOT_PROVIDER_OPENAI_API_KEY.
func ApplyEnvOverrides(cfg *Config) error {
	sections := []struct {
		prefix string
		spec   any
	}{
		{"DATABASE", &cfg.Database},
		{"LLM", &cfg.LLM},
		{"AGENT", &cfg.Agent},
		{"QUEUE", &cfg.Queue},
		{"TRIAGE", &cfg.Triage},
		{"HEALING", &cfg.Healing},
		{"SCHEDULER", &cfg.Scheduler},
		{"TOOLS", &cfg.Tools},
		{"LOCALE", &cfg.Locale},
		{"LOGGER", &cfg.Logger},
		{"TRACER", &cfg.Tracer},
		{"METRICS", &cfg.Metrics},
	}
	for _, s := range sections {
		if err := envconfig.Process(EnvPrefix+"_"+s.prefix, s.spec); err != nil {
			return fmt.Errorf("env overrides %s: %w", strings.ToLower(s.prefix), err)
		}
	}

	for i := range cfg.LLM.Providers {
		p := &cfg.LLM.Providers[i]
		prefix := EnvPrefix + "_PROVIDER_" + envName(p.Name)
		if err := envconfig.Process(prefix, p); err != nil {
			return fmt.Errorf("env overrides provider %s: %w", p.Name, err)
		}
	}
	return nil
}

// Provider returns the provider config with the given name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.LLM.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

func envName(s string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(s))
}

// validatePermissions checks the config file is not writable by others.
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
