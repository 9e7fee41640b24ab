package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"autopilot/internal/infra/config"
)

// version can be overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "autopilot",
		Short:         "Autonomous agent loop with self-healing and backlog triage",
		Long:          color.CyanString("autopilot") + " runs queued reasoning cycles, heals failed tool calls and assigns backlog work to specialist agents.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath(),
		"config file (env "+config.EnvPrefix+"_CONFIG)")

	root.AddCommand(
		newServeCmd(&cfgPath),
		newChatCmd(&cfgPath),
		newTriageCmd(&cfgPath),
		newHealCmd(&cfgPath),
		newMissionsCmd(&cfgPath),
		newBacklogCmd(&cfgPath),
		newAgentsCmd(&cfgPath),
		newEncryptCmd(),
		newDoctorCmd(&cfgPath),
	)
	return root
}

// defaultConfigPath returns $AUTOPILOT_CONFIG or ./config.yaml.
func defaultConfigPath() string {
	if p := os.Getenv(config.EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}
