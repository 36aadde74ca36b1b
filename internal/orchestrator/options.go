package orchestrator

import (
	"time"

	"github.com/ShayCichocki/sleuth/internal/adapt"
	"github.com/ShayCichocki/sleuth/internal/conflict"
	"github.com/ShayCichocki/sleuth/internal/decompose"
	"github.com/ShayCichocki/sleuth/internal/delegate"
	"github.com/ShayCichocki/sleuth/internal/estimate"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

// Defaults for optional configuration.
const (
	DefaultMaxParallel   = 4
	DefaultRetention     = 24 * time.Hour
	DefaultLowConfidence = 0.5
	DefaultMailboxLimit  = 1000
	DefaultEventBuffer   = 256
)

// Option configures a Planner. Use With* functions to create Options.
type Option func(*plannerOptions)

// plannerOptions holds all optional configuration.
type plannerOptions struct {
	maxParallel         int
	taskTimeout         time.Duration
	mailboxLimit        int
	requirePlanApproval bool
	retention           time.Duration
	lowConfidence       float64
	eventBuffer         int
	logger              *DebugLogger
	now                 func() time.Time

	// Injectable dependencies
	delegator  *delegate.Delegator
	workers    map[models.WorkerRole]delegate.Worker
	estimator  *estimate.Estimator
	detector   *conflict.Detector
	resolver   *conflict.Resolver
	engine     *adapt.Engine
	approver   adapt.Approver
	decomposer *decompose.Decomposer
	archiver   Archiver
}

func defaultOptions() *plannerOptions {
	return &plannerOptions{
		maxParallel:   DefaultMaxParallel,
		taskTimeout:   delegate.DefaultTimeout,
		mailboxLimit:  DefaultMailboxLimit,
		retention:     DefaultRetention,
		lowConfidence: DefaultLowConfidence,
		eventBuffer:   DefaultEventBuffer,
		now:           time.Now,
	}
}

// WithMaxParallel sets the maximum number of concurrent delegations per phase.
func WithMaxParallel(n int) Option {
	return func(o *plannerOptions) {
		if n > 0 {
			o.maxParallel = n
		}
	}
}

// WithTaskTimeout sets the default per-task timeout.
func WithTaskTimeout(d time.Duration) Option {
	return func(o *plannerOptions) {
		if d > 0 {
			o.taskTimeout = d
		}
	}
}

// WithMailboxLimit sets how many delivered messages the mailbox keeps.
func WithMailboxLimit(n int) Option {
	return func(o *plannerOptions) { o.mailboxLimit = n }
}

// WithRequirePlanApproval keeps new plans in draft until ApprovePlan is called.
func WithRequirePlanApproval(b bool) Option {
	return func(o *plannerOptions) { o.requirePlanApproval = b }
}

// WithRetention sets how long terminal conversations are kept before Sweep forgets them.
func WithRetention(d time.Duration) Option {
	return func(o *plannerOptions) { o.retention = d }
}

// WithLowConfidence sets the result confidence below which the adaptation
// engine is consulted.
func WithLowConfidence(c float64) Option {
	return func(o *plannerOptions) { o.lowConfidence = c }
}

// WithEventBuffer sets the size of the event channel buffer.
func WithEventBuffer(n int) Option {
	return func(o *plannerOptions) {
		if n > 0 {
			o.eventBuffer = n
		}
	}
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *plannerOptions) { o.logger = l }
}

// WithClock overrides time.Now (mainly for testing).
func WithClock(now func() time.Time) Option {
	return func(o *plannerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithDelegator sets a custom delegator. Workers passed with WithWorkers are
// registered on it.
func WithDelegator(d *delegate.Delegator) Option {
	return func(o *plannerOptions) { o.delegator = d }
}

// WithWorkers registers worker implementations per role.
func WithWorkers(ws map[models.WorkerRole]delegate.Worker) Option {
	return func(o *plannerOptions) {
		if o.workers == nil {
			o.workers = make(map[models.WorkerRole]delegate.Worker, len(ws))
		}
		for role, w := range ws {
			o.workers[role] = w
		}
	}
}

// WithWorker registers a single worker implementation.
func WithWorker(role models.WorkerRole, w delegate.Worker) Option {
	return WithWorkers(map[models.WorkerRole]delegate.Worker{role: w})
}

// WithEstimator sets the resource estimator.
func WithEstimator(e *estimate.Estimator) Option {
	return func(o *plannerOptions) { o.estimator = e }
}

// WithConflictDetector sets the conflict detector.
func WithConflictDetector(d *conflict.Detector) Option {
	return func(o *plannerOptions) { o.detector = d }
}

// WithConflictResolver sets the conflict resolver.
func WithConflictResolver(r *conflict.Resolver) Option {
	return func(o *plannerOptions) { o.resolver = r }
}

// WithAdaptation enables plan adaptation with the given engine.
func WithAdaptation(e *adapt.Engine) Option {
	return func(o *plannerOptions) { o.engine = e }
}

// WithApprover sets who decides on adaptations that need approval. Without
// one such adaptations stay pending.
func WithApprover(a adapt.Approver) Option {
	return func(o *plannerOptions) { o.approver = a }
}

// WithDecomposer sets the request decomposer used by Plan.
func WithDecomposer(d *decompose.Decomposer) Option {
	return func(o *plannerOptions) { o.decomposer = d }
}

// WithArchiver sets where Sweep and Archive store terminal conversations.
func WithArchiver(a Archiver) Option {
	return func(o *plannerOptions) { o.archiver = a }
}
