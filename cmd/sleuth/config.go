package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/sleuth/internal/config"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify sleuth configuration.

Without arguments, displays the effective configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the value in the user config.

Configuration is stored at ~/.config/sleuth/config.yaml
Project-specific overrides can be placed in .sleuth.yaml`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		switch len(args) {
		case 0:
			displayAllConfig(out, cfg)
			return nil
		case 1:
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(out, value)
			return nil
		default:
			return setConfigKey(out, args[0], args[1])
		}
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		displayAllConfig(cmd.OutOrStdout(), cfg)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file locations",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "user:    %s\n", config.GetUserConfigPath())
		project := config.GetProjectConfigPath()
		if project == "" {
			project = "(none)"
		}
		fmt.Fprintf(out, "project: %s\n", project)
		fmt.Fprintf(out, "archive: %s\n", config.DefaultArchivePath())
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a user config file with the defaults",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.GetUserConfigPath()
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if err := config.Save(config.Default()); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		printStatus(cmd.OutOrStdout(), "✓", fmt.Sprintf("Wrote %s", path), color.FgGreen)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing config file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)
}

// configKeys lists the keys shown by 'sleuth config', in display order.
var configKeys = []string{
	"anthropic.api_key",
	"anthropic.model",
	"anthropic.max_tokens",
	"anthropic.use_bedrock",
	"anthropic.aws_region",
	"planner.max_parallel",
	"planner.task_timeout",
	"planner.retention",
	"planner.sweep_interval",
	"planner.require_plan_approval",
	"planner.low_confidence",
	"estimator.coordination_buffer",
	"estimator.calls_per_task",
	"estimator.cost_per_call",
	"adaptation.enabled",
	"adaptation.strategist",
	"adaptation.approval_threshold",
	"adaptation.approval_timeout",
	"conflicts.epsilon",
	"conflicts.min_confidence",
	"archive.enabled",
	"archive.path",
	"archive.driver",
	"capabilities.file",
	"logging.debug",
}

func displayAllConfig(w io.Writer, cfg *config.Config) {
	for _, key := range configKeys {
		value, _ := getConfigValue(cfg, key)
		fmt.Fprintf(w, "%s: %s\n", key, value)
	}
	for _, pt := range cfg.Adaptation.PlanTypes() {
		fmt.Fprintf(w, "adaptation.thresholds.%s: %s\n", pt, formatFloat(cfg.Adaptation.Thresholds[pt]))
	}
	fmt.Fprintf(w, "api key source: %s\n", config.GetAPIKeySource(cfg))
}

// setConfigKey sets a value in the user config file only, so project
// overrides and environment variables are not written back.
func setConfigKey(w io.Writer, key, value string) error {
	path := config.GetUserConfigPath()
	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		loaded, err := config.LoadFromPath(path)
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		cfg = loaded
	}
	if err := setConfigValue(cfg, key, value); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Fprintf(w, "Set %s = %s\n", key, value)
	return nil
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		if cfg.Anthropic.APIKey == "" {
			return "(not set)", nil
		}
		return config.MaskAPIKey(cfg.Anthropic.APIKey), nil
	case "anthropic.model":
		return cfg.Anthropic.Model, nil
	case "anthropic.max_tokens":
		return strconv.FormatInt(cfg.Anthropic.MaxTokens, 10), nil
	case "anthropic.use_bedrock":
		return strconv.FormatBool(cfg.Anthropic.UseBedrock), nil
	case "anthropic.aws_region":
		return cfg.Anthropic.AWSRegion, nil
	case "planner.max_parallel":
		return strconv.Itoa(cfg.Planner.MaxParallel), nil
	case "planner.task_timeout":
		return cfg.Planner.TaskTimeout.String(), nil
	case "planner.retention":
		return cfg.Planner.Retention.String(), nil
	case "planner.sweep_interval":
		return cfg.Planner.SweepInterval.String(), nil
	case "planner.require_plan_approval":
		return strconv.FormatBool(cfg.Planner.RequirePlanApproval), nil
	case "planner.low_confidence":
		return formatFloat(cfg.Planner.LowConfidence), nil
	case "estimator.coordination_buffer":
		return cfg.Estimator.CoordinationBuffer.String(), nil
	case "estimator.calls_per_task":
		return strconv.Itoa(cfg.Estimator.CallsPerTask), nil
	case "estimator.cost_per_call":
		return formatFloat(cfg.Estimator.CostPerCall), nil
	case "adaptation.enabled":
		return strconv.FormatBool(cfg.Adaptation.Enabled), nil
	case "adaptation.strategist":
		return cfg.Adaptation.Strategist, nil
	case "adaptation.approval_threshold":
		return formatFloat(cfg.Adaptation.ApprovalThreshold), nil
	case "adaptation.approval_timeout":
		return cfg.Adaptation.ApprovalTimeout.String(), nil
	case "conflicts.epsilon":
		return formatFloat(cfg.Conflicts.Epsilon), nil
	case "conflicts.min_confidence":
		return formatFloat(cfg.Conflicts.MinConfidence), nil
	case "archive.enabled":
		return strconv.FormatBool(cfg.Archive.Enabled), nil
	case "archive.path":
		return cfg.Archive.Path, nil
	case "archive.driver":
		return cfg.Archive.Driver, nil
	case "capabilities.file":
		return cfg.Capabilities.File, nil
	case "logging.debug":
		return strconv.FormatBool(cfg.Logging.Debug), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	var err error
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		cfg.Anthropic.APIKey = value
	case "anthropic.model":
		cfg.Anthropic.Model = value
	case "anthropic.max_tokens":
		cfg.Anthropic.MaxTokens, err = strconv.ParseInt(value, 10, 64)
	case "anthropic.use_bedrock":
		cfg.Anthropic.UseBedrock, err = strconv.ParseBool(value)
	case "anthropic.aws_region":
		cfg.Anthropic.AWSRegion = value
	case "planner.max_parallel":
		cfg.Planner.MaxParallel, err = strconv.Atoi(value)
	case "planner.task_timeout":
		cfg.Planner.TaskTimeout, err = time.ParseDuration(value)
	case "planner.retention":
		cfg.Planner.Retention, err = time.ParseDuration(value)
	case "planner.sweep_interval":
		cfg.Planner.SweepInterval, err = time.ParseDuration(value)
	case "planner.require_plan_approval":
		cfg.Planner.RequirePlanApproval, err = strconv.ParseBool(value)
	case "planner.low_confidence":
		cfg.Planner.LowConfidence, err = strconv.ParseFloat(value, 64)
	case "estimator.coordination_buffer":
		cfg.Estimator.CoordinationBuffer, err = time.ParseDuration(value)
	case "estimator.calls_per_task":
		cfg.Estimator.CallsPerTask, err = strconv.Atoi(value)
	case "estimator.cost_per_call":
		cfg.Estimator.CostPerCall, err = strconv.ParseFloat(value, 64)
	case "adaptation.enabled":
		cfg.Adaptation.Enabled, err = strconv.ParseBool(value)
	case "adaptation.strategist":
		cfg.Adaptation.Strategist = value
	case "adaptation.approval_threshold":
		cfg.Adaptation.ApprovalThreshold, err = strconv.ParseFloat(value, 64)
	case "adaptation.approval_timeout":
		cfg.Adaptation.ApprovalTimeout, err = time.ParseDuration(value)
	case "conflicts.epsilon":
		cfg.Conflicts.Epsilon, err = strconv.ParseFloat(value, 64)
	case "conflicts.min_confidence":
		cfg.Conflicts.MinConfidence, err = strconv.ParseFloat(value, 64)
	case "archive.enabled":
		cfg.Archive.Enabled, err = strconv.ParseBool(value)
	case "archive.path":
		cfg.Archive.Path = value
	case "archive.driver":
		cfg.Archive.Driver = value
	case "capabilities.file":
		cfg.Capabilities.File = value
	case "logging.debug":
		cfg.Logging.Debug, err = strconv.ParseBool(value)
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
