package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/sleuth/internal/config"
)

var (
	configPath string
	debugFlag  bool
)

var rootCmd = &cobra.Command{
	Use:   "sleuth",
	Short: "Investigative coordination planner",
	Long: `Sleuth turns an investigative request into a dependency-ordered plan of
research and analysis tasks, delegates each task to a specialised worker,
resolves disagreeing results, and adapts the plan as evidence arrives.

Typical use:
  sleuth plan "Assess acquisition risk for Acme Corp"
  sleuth run "Assess acquisition risk for Acme Corp" --tui
  sleuth run --file plan.yaml --offline

A running plan can be steered from another terminal:
  sleuth cancel <conversation-id>
  sleuth approve <adaptation-id>
  sleuth reject <adaptation-id>`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ~/.config/sleuth/config.yaml plus .sleuth.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Write a debug log")

	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(capabilitiesCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig honours --config and --debug.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if debugFlag {
		cfg.Logging.Debug = true
	}
	return cfg, nil
}
