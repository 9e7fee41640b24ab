package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"autopilot/internal/adapter/store"
	"autopilot/internal/domain"
	"autopilot/internal/infra/config"
	"autopilot/internal/infra/logger"
	"autopilot/internal/usecase/scheduling"
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

func newDoctorCmd(cfgPath *string) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run health checks on the configuration and database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(*cfgPath, offline, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "skip the provider connectivity check")
	return cmd
}

// runDoctor executes all health checks and reports results.
func runDoctor(cfgPath string, offline bool, out io.Writer) error {
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "LLM API key", Fn: checkLLMAPIKey},
		{Name: "Database", Fn: checkDatabase},
		{Name: "Agents", Fn: checkAgents},
		{Name: "Schedules", Fn: checkSchedules},
	}
	if !offline {
		checks = append(checks, Check{Name: "LLM connectivity", Fn: checkLLMConnectivity})
	}

	fmt.Fprintln(out, "autopilot doctor")
	fmt.Fprintln(out, strings.Repeat("=", 50))

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(out, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(out, "      Fix: %s\n", result.Fix)
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

	fmt.Fprintln(out, strings.Repeat("-", 50))
	fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)
	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return color.GreenString("[PASS]")
	case StatusWarn:
		return color.YellowString("[WARN]")
	case StatusFail:
		return color.RedString("[FAIL]")
	default:
		return "[????]"
	}
}

func notLoaded() CheckResult {
	return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
}

// checkConfigFile reports whether the config file loaded. A missing file is
// only a warning since the defaults apply.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check " + cfgPath + " syntax and values",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", cfgPath),
			}
		}
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("config loaded from %s", cfgPath)}
	}
}

// checkLLMAPIKey verifies the default provider has an API key configured.
func checkLLMAPIKey(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	p, ok := cfg.Provider(cfg.LLM.DefaultProvider)
	if !ok {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("default provider %q not configured", cfg.LLM.DefaultProvider),
			Fix:     "Add it under llm.providers",
		}
	}
	if p.APIKey == "" {
		if isLocal(p.BaseURL) {
			return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s is local, no key needed", p.Name)}
		}
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("no API key for provider %s", p.Name),
			Fix:     fmt.Sprintf("Set %s_PROVIDER_%s_API_KEY", config.EnvPrefix, strings.ToUpper(p.Name)),
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("API key configured for %s", p.Name)}
}

func isLocal(baseURL string) bool {
	return strings.Contains(baseURL, "localhost") || strings.Contains(baseURL, "127.0.0.1")
}

// checkDatabase opens the database, which also applies migrations.
func checkDatabase(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	db, err := store.Open(cfg.Database.Path, store.Options{Logger: logger.Discard()})
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot open %s: %v", cfg.Database.Path, err),
			Fix:     fmt.Sprintf("Check that %s is writable", filepath.Dir(cfg.Database.Path)),
		}
	}
	defer db.Close()
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("database ready at %s", cfg.Database.Path)}
}

// checkAgents verifies the triage default and bug agents exist.
func checkAgents(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	db, err := store.Open(cfg.Database.Path, store.Options{Logger: logger.Discard()})
	if err != nil {
		return CheckResult{Status: StatusWarn, Message: "skipped, database unavailable"}
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var missing []string
	for _, name := range []string{cfg.Triage.DefaultAgent, cfg.Triage.BugAgent} {
		if name == "" {
			continue
		}
		if _, err := db.GetAgentByName(ctx, name); errors.Is(err, domain.ErrAgentNotFound) {
			missing = append(missing, name)
		} else if err != nil {
			return CheckResult{Status: StatusFail, Message: err.Error()}
		}
	}
	if len(missing) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("triage agents missing: %s", strings.Join(missing, ", ")),
			Fix:     "Run 'autopilot agents seed'",
		}
	}
	return CheckResult{Status: StatusPass, Message: "triage agents present"}
}

// checkSchedules verifies every configured schedule parses.
func checkSchedules(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if !cfg.Scheduler.Enabled {
		return CheckResult{Status: StatusWarn, Message: "scheduler disabled, periodic triage and sweeps will not run"}
	}
	tasks := scheduling.TasksFromConfig(cfg.Scheduler)
	for _, task := range tasks {
		if _, err := scheduling.ParseSchedule(task.Schedule); err != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("%s: %v", task.Name, err),
				Fix:     "Use a 5-field cron expression or a Go duration",
			}
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d periodic tasks", len(tasks))}
}

// checkLLMConnectivity tests if the default provider is reachable.
func checkLLMConnectivity(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	p, ok := cfg.Provider(cfg.LLM.DefaultProvider)
	if !ok {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("default provider %q not configured", cfg.LLM.DefaultProvider)}
	}
	endpoint := providerEndpoint(p)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("failed to create request: %v", err)}
	}

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", endpoint, err),
			Fix:     "Check the provider base_url and your network",
		}
	}
	resp.Body.Close()
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s reachable (latency: %dms)", p.Name, latency.Milliseconds())}
}

// providerEndpoint returns the models listing of an OpenAI-compatible API.
func providerEndpoint(p config.ProviderConfig) string {
	if p.BaseURL != "" {
		return strings.TrimRight(p.BaseURL, "/") + "/models"
	}
	return "https://api.openai.com/v1/models"
}
