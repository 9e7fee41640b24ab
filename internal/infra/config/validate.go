package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
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
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateDatabase(cfg, ve)
	validateLLM(cfg, ve)
	validateAgent(cfg, ve)
	validateQueue(cfg, ve)
	validateTriage(cfg, ve)
	validateHealing(cfg, ve)
	validateLocale(cfg, ve)
	validateObservability(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateDatabase(cfg *Config, ve *ValidationError) {
	if cfg.Database.Path == "" {
		ve.Add("database.path must not be empty")
	}
	if cfg.Database.BusyRetries < 0 {
		ve.Add("database.busy_retries must be >= 0")
	}
}

var validProviderTypes = map[string]bool{
	"openai":     true,
	"openrouter": true,
	"ollama":     true,
	"groq":       true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider must not be empty")
	} else if _, ok := cfg.Provider(cfg.LLM.DefaultProvider); !ok {
		ve.Add("llm.default_provider %q is not listed in llm.providers", cfg.LLM.DefaultProvider)
	}

	seen := make(map[string]bool, len(cfg.LLM.Providers))
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d].name %q is duplicated", i, p.Name)
		}
		seen[p.Name] = true
		if p.Type != "" && !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is not supported", i, p.Type)
		}
	}

	if cfg.LLM.FastModel == "" || cfg.LLM.SmartModel == "" {
		ve.Add("llm.fast_model and llm.smart_model must be set")
	}
	if cfg.LLM.CircuitBreaker.Enabled && cfg.LLM.CircuitBreaker.MaxFailures == 0 {
		ve.Add("llm.circuit_breaker.max_failures must be > 0 when enabled")
	}
}

func validateAgent(cfg *Config, ve *ValidationError) {
	a := cfg.Agent
	if a.StepBudget <= 0 {
		ve.Add("agent.step_budget must be > 0")
	}
	if a.ContextWindow <= 0 {
		ve.Add("agent.context_window must be > 0")
	}
	if a.StallAfter < 0 {
		ve.Add("agent.stall_after must be >= 0")
	}
	if a.Compression.Enabled {
		if a.Compression.Threshold <= 0 {
			ve.Add("agent.compression.threshold must be > 0 when compression is enabled")
		}
		if a.Compression.KeepTail <= 0 || a.Compression.KeepTail >= a.Compression.Threshold {
			ve.Add("agent.compression.keep_tail must be > 0 and < threshold")
		}
	}
}

func validateQueue(cfg *Config, ve *ValidationError) {
	q := cfg.Queue
	if q.Timeout <= 0 {
		ve.Add("queue.timeout must be > 0")
	}
	if q.MaxTries <= 0 {
		ve.Add("queue.max_tries must be > 0")
	}
	if q.PollInterval < 10*time.Millisecond {
		ve.Add("queue.poll_interval must be >= 10ms")
	}
	for name, n := range q.Concurrency {
		if n <= 0 {
			ve.Add("queue.concurrency[%s] must be > 0", name)
		}
	}
}

func validateTriage(cfg *Config, ve *ValidationError) {
	if cfg.Triage.DefaultAgent == "" {
		ve.Add("triage.default_agent must not be empty")
	}
	if cfg.Triage.BusyTimeout < 0 {
		ve.Add("triage.busy_timeout must be >= 0")
	}
	for i, r := range cfg.Triage.Routes {
		if r.Agent == "" || len(r.Keywords) == 0 {
			ve.Add("triage.routes[%d] needs an agent and at least one keyword", i)
		}
	}
}

func validateHealing(cfg *Config, ve *ValidationError) {
	if cfg.Healing.MaxDepth <= 0 {
		ve.Add("healing.max_depth must be > 0")
	}
	if cfg.Healing.SweepLimit <= 0 {
		ve.Add("healing.sweep_limit must be > 0")
	}
}

func validateLocale(cfg *Config, ve *ValidationError) {
	if cfg.Locale.Timezone == "" {
		return
	}
	if _, err := time.LoadLocation(cfg.Locale.Timezone); err != nil {
		ve.Add("locale.timezone %q: %v", cfg.Locale.Timezone, err)
	}
}

var validLogLevels = map[string]bool{"": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}

func validateObservability(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is not supported", cfg.Logger.Level)
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is not supported (want stdout or noop)", cfg.Tracer.Exporter)
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		ve.Add("metrics.addr must be set when metrics are enabled")
	}
}
