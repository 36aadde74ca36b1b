package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/sleuth/internal/adapt"
	"github.com/ShayCichocki/sleuth/internal/archive"
	"github.com/ShayCichocki/sleuth/internal/capability"
	"github.com/ShayCichocki/sleuth/internal/config"
	"github.com/ShayCichocki/sleuth/internal/conflict"
	"github.com/ShayCichocki/sleuth/internal/decompose"
	"github.com/ShayCichocki/sleuth/internal/estimate"
	"github.com/ShayCichocki/sleuth/internal/llm"
	"github.com/ShayCichocki/sleuth/internal/orchestrator"
	"github.com/ShayCichocki/sleuth/internal/workers"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

// runtimeOptions are the per-invocation switches layered over the config.
type runtimeOptions struct {
	// offline uses canned workers and the default template, no API calls.
	offline      bool
	offlineDelay time.Duration
	autoApprove  bool
	// archive opens the audit archive when the config enables it.
	archive bool
}

// runtime bundles a planner with the resources it owns.
type runtime struct {
	cfg       *config.Config
	planner   *orchestrator.Planner
	registry  *capability.Registry
	approvals *adapt.ApprovalManager
	archive   *archive.Store
	client    *llm.Client
	logger    *orchestrator.DebugLogger
}

// Close releases the planner, archive and log file.
func (r *runtime) Close() {
	if r.planner != nil {
		r.planner.Close()
	}
	if r.archive != nil {
		r.archive.Close()
	}
	if r.logger != nil {
		r.logger.Close()
	}
}

// buildRuntime wires a planner from configuration.
func buildRuntime(cfg *config.Config, ro runtimeOptions) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	rt.logger = orchestrator.NopLogger()
	if cfg.Logging.Debug {
		if cfg.Logging.Dir != "" {
			logger, err := orchestrator.NewDebugLogger(filepath.Join(cfg.Logging.Dir, "planner-debug.log"))
			if err != nil {
				return nil, fmt.Errorf("open debug log: %w", err)
			}
			rt.logger = logger
		} else {
			cwd, _ := os.Getwd()
			rt.logger = orchestrator.NewDebugLoggerForDir(cwd)
		}
	}
	logf := rt.logger.Func()

	reg := capability.Default()
	if cfg.Capabilities.File != "" {
		loaded, err := capability.LoadFile(cfg.Capabilities.File)
		if err != nil {
			rt.Close()
			return nil, err
		}
		reg = loaded
	}
	rt.registry = reg

	if !ro.offline {
		if err := config.RequireCredentials(cfg); err != nil {
			rt.Close()
			return nil, fmt.Errorf("%w (use --offline to run without the API)", err)
		}
		key, _ := config.GetAPIKey(cfg)
		client, err := llm.NewClient(llm.ClientConfig{
			Model:         anthropic.Model(cfg.Anthropic.Model),
			APIKey:        key,
			MaxTokens:     cfg.Anthropic.MaxTokens,
			UseAWSBedrock: cfg.Anthropic.UseBedrock,
			AWSRegion:     cfg.Anthropic.AWSRegion,
			AWSProfile:    cfg.Anthropic.AWSProfile,
		})
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("create completion client: %w", err)
		}
		rt.client = client
	}

	est := estimate.New(estimatorOptions(cfg.Estimator)...)

	opts := []orchestrator.Option{
		orchestrator.WithMaxParallel(cfg.Planner.MaxParallel),
		orchestrator.WithTaskTimeout(cfg.Planner.TaskTimeout),
		orchestrator.WithMailboxLimit(cfg.Planner.MailboxLimit),
		orchestrator.WithRequirePlanApproval(cfg.Planner.RequirePlanApproval),
		orchestrator.WithRetention(cfg.Planner.Retention),
		orchestrator.WithLowConfidence(cfg.Planner.LowConfidence),
		orchestrator.WithEventBuffer(cfg.Planner.EventBuffer),
		orchestrator.WithLogger(rt.logger),
		orchestrator.WithEstimator(est),
		orchestrator.WithConflictResolver(conflict.NewResolver(
			conflict.WithEpsilon(cfg.Conflicts.Epsilon),
			conflict.WithMinConfidence(cfg.Conflicts.MinConfidence),
		)),
	}

	var dec *decompose.Decomposer
	if ro.offline {
		dec = decompose.New(nil)
		opts = append(opts, orchestrator.WithWorkers(workers.NewOfflineWorkers(ro.offlineDelay)))
	} else {
		dec = decompose.New(rt.client)
		opts = append(opts, orchestrator.WithWorkers(workers.NewLLMWorkers(rt.client, logf)))
	}
	dec.SetDebugLog(logf)
	opts = append(opts, orchestrator.WithDecomposer(dec))

	if cfg.Adaptation.Enabled {
		opts = append(opts, orchestrator.WithAdaptation(buildEngine(cfg, est, reg, rt.client, logf)))
		if ro.autoApprove {
			opts = append(opts, orchestrator.WithApprover(adapt.AutoApprover{}))
		} else {
			rt.approvals = adapt.NewApprovalManager()
			opts = append(opts, orchestrator.WithApprover(adapt.TimeoutApprover{
				Approver: rt.approvals,
				Timeout:  cfg.Adaptation.ApprovalTimeout,
			}))
		}
	}

	if ro.archive && cfg.Archive.Enabled {
		store, err := archive.Open(cfg.Archive.Path,
			archive.WithDriver(cfg.Archive.Driver),
			archive.WithDebugLog(logf),
		)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.archive = store
		opts = append(opts, orchestrator.WithArchiver(store))
	}

	rt.planner = orchestrator.New(reg, opts...)
	return rt, nil
}

func estimatorOptions(c config.EstimatorConfig) []estimate.Option {
	opts := []estimate.Option{
		estimate.WithCoordinationBuffer(c.CoordinationBuffer),
		estimate.WithCallsPerTask(c.CallsPerTask),
		estimate.WithCostPerCall(c.CostPerCall),
		estimate.WithDataVolumePerTask(c.DataVolumeMB),
	}
	for _, r := range c.RiskFactors {
		opts = append(opts, estimate.WithRiskFactor(r))
	}
	return opts
}

func buildEngine(cfg *config.Config, est *estimate.Estimator, reg *capability.Registry, client *llm.Client, logf func(string, ...interface{})) *adapt.Engine {
	var strategist adapt.Strategist = adapt.NewRuleStrategist()
	if cfg.Adaptation.Strategist == "llm" && client != nil {
		s := adapt.NewLLMStrategist(client, strategist)
		s.SetDebugLog(logf)
		strategist = s
	}
	opts := []adapt.Option{
		adapt.WithStrategist(strategist),
		adapt.WithEstimator(est),
		adapt.WithRegistry(reg),
		adapt.WithAdjustmentFactor(cfg.Adaptation.AdjustmentFactor),
		adapt.WithDefaultThreshold(cfg.Adaptation.ApprovalThreshold),
		adapt.WithDebugLog(logf),
	}
	for _, pt := range cfg.Adaptation.PlanTypes() {
		opts = append(opts, adapt.WithThreshold(models.PlanType(pt), cfg.Adaptation.Threshold(pt)))
	}
	return adapt.NewEngine(opts...)
}

// approvalRequests is the approval manager's request channel, or nil when
// adaptations are applied without asking.
func (r *runtime) approvalRequests() <-chan adapt.ApprovalRequest {
	if r.approvals == nil {
		return nil
	}
	return r.approvals.RequestCh()
}
