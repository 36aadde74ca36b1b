// Package config handles configuration loading and management for sleuth.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/sleuth/pkg/models"
)

// Config holds all configuration for sleuth.
type Config struct {
	Anthropic    AnthropicConfig    `mapstructure:"anthropic"`
	Planner      PlannerConfig      `mapstructure:"planner"`
	Estimator    EstimatorConfig    `mapstructure:"estimator"`
	Adaptation   AdaptationConfig   `mapstructure:"adaptation"`
	Conflicts    ConflictsConfig    `mapstructure:"conflicts"`
	Archive      ArchiveConfig      `mapstructure:"archive"`
	Capabilities CapabilitiesConfig `mapstructure:"capabilities"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// AnthropicConfig holds completion service settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	MaxTokens  int64  `mapstructure:"max_tokens"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// PlannerConfig holds coordination planner settings.
type PlannerConfig struct {
	// MaxParallel bounds concurrent delegations within a phase.
	MaxParallel int `mapstructure:"max_parallel"`
	// TaskTimeout is the default per-task timeout.
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	// Retention is how long finished conversations stay in memory.
	Retention     time.Duration `mapstructure:"retention"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// RequirePlanApproval keeps new plans in draft until approved.
	RequirePlanApproval bool `mapstructure:"require_plan_approval"`
	// LowConfidence is the result confidence that triggers adaptation.
	LowConfidence float64 `mapstructure:"low_confidence"`
	MailboxLimit  int     `mapstructure:"mailbox_limit"`
	EventBuffer   int     `mapstructure:"event_buffer"`
}

// EstimatorConfig holds resource estimation settings.
type EstimatorConfig struct {
	CoordinationBuffer time.Duration `mapstructure:"coordination_buffer"`
	CallsPerTask       int           `mapstructure:"calls_per_task"`
	CostPerCall        float64       `mapstructure:"cost_per_call"`
	DataVolumeMB       float64       `mapstructure:"data_volume_mb"`
	// RiskFactors override the curated entries by name.
	RiskFactors []models.RiskFactor `mapstructure:"risk_factors"`
}

// AdaptationConfig holds plan adaptation settings.
type AdaptationConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Strategist is "rules" or "llm".
	Strategist       string  `mapstructure:"strategist"`
	AdjustmentFactor float64 `mapstructure:"adjustment_factor"`
	// ApprovalThreshold is the |impact| above which a change needs approval.
	ApprovalThreshold float64 `mapstructure:"approval_threshold"`
	// Thresholds override ApprovalThreshold per plan type.
	Thresholds map[string]float64 `mapstructure:"thresholds"`
	// ApprovalTimeout bounds the wait for an approval decision.
	ApprovalTimeout time.Duration `mapstructure:"approval_timeout"`
}

// ConflictsConfig holds conflict resolution settings.
type ConflictsConfig struct {
	// Epsilon is the confidence difference treated as a tie.
	Epsilon float64 `mapstructure:"epsilon"`
	// MinConfidence escalates conflicts whose best result is below it.
	MinConfidence float64 `mapstructure:"min_confidence"`
}

// ArchiveConfig holds the audit archive settings.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	Driver string `mapstructure:"driver"`
}

// CapabilitiesConfig points at an optional worker capability table.
type CapabilitiesConfig struct {
	File string `mapstructure:"file"`
}

// LoggingConfig holds debug log settings.
type LoggingConfig struct {
	Debug bool   `mapstructure:"debug"`
	Dir   string `mapstructure:"dir"`
}

// Threshold returns the approval threshold for a plan type.
func (c AdaptationConfig) Threshold(planType string) float64 {
	if v, ok := c.Thresholds[planType]; ok {
		return v
	}
	return c.ApprovalThreshold
}

// PlanTypes returns the plan types with their own threshold, sorted.
func (c AdaptationConfig) PlanTypes() []string {
	out := make([]string, 0, len(c.Thresholds))
	for k := range c.Thresholds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, SLEUTH_*)
// 2. Project config (.sleuth.yaml in current directory or parent)
// 3. User config (~/.config/sleuth/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	bindEnv(v)
	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific file on top of the defaults.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	bindEnv(v)
	return unmarshal(v)
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("sleuth")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("planner.max_parallel", "SLEUTH_MAX_PARALLEL")
	_ = v.BindEnv("planner.task_timeout", "SLEUTH_TASK_TIMEOUT")
	_ = v.BindEnv("archive.path", "SLEUTH_ARCHIVE_PATH")
	_ = v.BindEnv("logging.debug", "SLEUTH_DEBUG")
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	cfg.Archive.Path = expandHome(cfg.Archive.Path)
	cfg.Capabilities.File = expandHome(cfg.Capabilities.File)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the planner cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Planner.MaxParallel < 1:
		return fmt.Errorf("planner.max_parallel must be at least 1, got %d", c.Planner.MaxParallel)
	case c.Planner.TaskTimeout <= 0:
		return fmt.Errorf("planner.task_timeout must be positive, got %s", c.Planner.TaskTimeout)
	case c.Planner.LowConfidence < 0 || c.Planner.LowConfidence > 1:
		return fmt.Errorf("planner.low_confidence must be in [0,1], got %v", c.Planner.LowConfidence)
	case c.Adaptation.AdjustmentFactor < 0:
		return fmt.Errorf("adaptation.adjustment_factor must not be negative, got %v", c.Adaptation.AdjustmentFactor)
	case c.Adaptation.Strategist != "rules" && c.Adaptation.Strategist != "llm":
		return fmt.Errorf("adaptation.strategist must be rules or llm, got %q", c.Adaptation.Strategist)
	case c.Archive.Driver != "sqlite" && c.Archive.Driver != "sqlite3":
		return fmt.Errorf("archive.driver must be sqlite or sqlite3, got %q", c.Archive.Driver)
	}
	for pt := range c.Adaptation.Thresholds {
		if !models.PlanType(pt).Valid() {
			return fmt.Errorf("adaptation.thresholds: unknown plan type %q", pt)
		}
	}
	return nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return SaveTo(cfg, filepath.Join(userConfigDir, "config.yaml"))
}

// SaveTo writes the configuration to path.
func SaveTo(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.max_tokens", cfg.Anthropic.MaxTokens)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)

	v.Set("planner.max_parallel", cfg.Planner.MaxParallel)
	v.Set("planner.task_timeout", cfg.Planner.TaskTimeout.String())
	v.Set("planner.retention", cfg.Planner.Retention.String())
	v.Set("planner.sweep_interval", cfg.Planner.SweepInterval.String())
	v.Set("planner.require_plan_approval", cfg.Planner.RequirePlanApproval)
	v.Set("planner.low_confidence", cfg.Planner.LowConfidence)
	v.Set("planner.mailbox_limit", cfg.Planner.MailboxLimit)
	v.Set("planner.event_buffer", cfg.Planner.EventBuffer)

	v.Set("estimator.coordination_buffer", cfg.Estimator.CoordinationBuffer.String())
	v.Set("estimator.calls_per_task", cfg.Estimator.CallsPerTask)
	v.Set("estimator.cost_per_call", cfg.Estimator.CostPerCall)
	v.Set("estimator.data_volume_mb", cfg.Estimator.DataVolumeMB)
	if len(cfg.Estimator.RiskFactors) > 0 {
		v.Set("estimator.risk_factors", cfg.Estimator.RiskFactors)
	}

	v.Set("adaptation.enabled", cfg.Adaptation.Enabled)
	v.Set("adaptation.strategist", cfg.Adaptation.Strategist)
	v.Set("adaptation.adjustment_factor", cfg.Adaptation.AdjustmentFactor)
	v.Set("adaptation.approval_threshold", cfg.Adaptation.ApprovalThreshold)
	v.Set("adaptation.approval_timeout", cfg.Adaptation.ApprovalTimeout.String())
	if len(cfg.Adaptation.Thresholds) > 0 {
		v.Set("adaptation.thresholds", cfg.Adaptation.Thresholds)
	}

	v.Set("conflicts.epsilon", cfg.Conflicts.Epsilon)
	v.Set("conflicts.min_confidence", cfg.Conflicts.MinConfidence)

	v.Set("archive.enabled", cfg.Archive.Enabled)
	v.Set("archive.path", cfg.Archive.Path)
	v.Set("archive.driver", cfg.Archive.Driver)

	v.Set("capabilities.file", cfg.Capabilities.File)

	v.Set("logging.debug", cfg.Logging.Debug)
	v.Set("logging.dir", cfg.Logging.Dir)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// DefaultArchivePath returns the archive location used when none is configured.
func DefaultArchivePath() string {
	return filepath.Join(getDataDir(), "archive.db")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", d.Anthropic.Model)
	v.SetDefault("anthropic.max_tokens", d.Anthropic.MaxTokens)
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("planner.max_parallel", d.Planner.MaxParallel)
	v.SetDefault("planner.task_timeout", d.Planner.TaskTimeout.String())
	v.SetDefault("planner.retention", d.Planner.Retention.String())
	v.SetDefault("planner.sweep_interval", d.Planner.SweepInterval.String())
	v.SetDefault("planner.require_plan_approval", false)
	v.SetDefault("planner.low_confidence", d.Planner.LowConfidence)
	v.SetDefault("planner.mailbox_limit", d.Planner.MailboxLimit)
	v.SetDefault("planner.event_buffer", d.Planner.EventBuffer)

	v.SetDefault("estimator.coordination_buffer", d.Estimator.CoordinationBuffer.String())
	v.SetDefault("estimator.calls_per_task", d.Estimator.CallsPerTask)
	v.SetDefault("estimator.cost_per_call", d.Estimator.CostPerCall)
	v.SetDefault("estimator.data_volume_mb", d.Estimator.DataVolumeMB)

	v.SetDefault("adaptation.enabled", d.Adaptation.Enabled)
	v.SetDefault("adaptation.strategist", d.Adaptation.Strategist)
	v.SetDefault("adaptation.adjustment_factor", d.Adaptation.AdjustmentFactor)
	v.SetDefault("adaptation.approval_threshold", d.Adaptation.ApprovalThreshold)
	v.SetDefault("adaptation.approval_timeout", d.Adaptation.ApprovalTimeout.String())

	v.SetDefault("conflicts.epsilon", d.Conflicts.Epsilon)
	v.SetDefault("conflicts.min_confidence", d.Conflicts.MinConfidence)

	v.SetDefault("archive.enabled", d.Archive.Enabled)
	v.SetDefault("archive.path", d.Archive.Path)
	v.SetDefault("archive.driver", d.Archive.Driver)

	v.SetDefault("capabilities.file", "")

	v.SetDefault("logging.debug", false)
	v.SetDefault("logging.dir", "")
}

// getUserConfigDir returns the XDG config directory for sleuth.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "sleuth")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "sleuth")
	}
	return filepath.Join(home, ".config", "sleuth")
}

// getDataDir returns the XDG data directory for sleuth.
func getDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "sleuth")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".sleuth")
	}
	return filepath.Join(home, ".local", "share", "sleuth")
}

// findProjectConfig searches for .sleuth.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ".sleuth.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return ""
		}
		cwd = parent
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 4096,
		},
		Planner: PlannerConfig{
			MaxParallel:   4,
			TaskTimeout:   2 * time.Minute,
			Retention:     24 * time.Hour,
			SweepInterval: 10 * time.Minute,
			LowConfidence: 0.5,
			MailboxLimit:  1000,
			EventBuffer:   256,
		},
		Estimator: EstimatorConfig{
			CoordinationBuffer: 60 * time.Second,
			CallsPerTask:       2,
			CostPerCall:        0.01,
			DataVolumeMB:       5,
		},
		Adaptation: AdaptationConfig{
			Enabled:           true,
			Strategist:        "rules",
			AdjustmentFactor:  0.1,
			ApprovalThreshold: 0.25,
			ApprovalTimeout:   10 * time.Minute,
		},
		Conflicts: ConflictsConfig{
			Epsilon: 0.001,
		},
		Archive: ArchiveConfig{
			Enabled: true,
			Path:    DefaultArchivePath(),
			Driver:  "sqlite",
		},
	}
}
