package adapt

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/sleuth/internal/capability"
	"github.com/ShayCichocki/sleuth/internal/estimate"
	"github.com/ShayCichocki/sleuth/internal/graph"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

// DefaultApprovalThreshold is the |impact| above which a change needs approval.
const DefaultApprovalThreshold = 0.25

// ApprovalRequiredError is the soft outcome of applying an adaptation that
// needs a decision first. The adaptation stays pending.
type ApprovalRequiredError struct {
	Adaptation *models.PlanAdaptation
}

func (e *ApprovalRequiredError) Error() string {
	a := e.Adaptation
	return fmt.Sprintf("adaptation %s for plan %s requires approval (impact %+.0f%%)", a.ID, a.PlanID, a.Impact*100)
}

// Option configures an Engine.
type Option func(*Engine)

// WithStrategist sets the strategist that decides change sets.
func WithStrategist(s Strategist) Option {
	return func(e *Engine) {
		if s != nil {
			e.strategist = s
		}
	}
}

// WithEstimator sets the estimator used to cost change sets.
func WithEstimator(est *estimate.Estimator) Option {
	return func(e *Engine) {
		if est != nil {
			e.estimator = est
		}
	}
}

// WithRegistry assigns roles to added tasks that do not name one.
func WithRegistry(r *capability.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithAdjustmentFactor sets the per-change multiplier applied after
// recomputation. Zero turns the multiplier off.
func WithAdjustmentFactor(f float64) Option {
	return func(e *Engine) { e.factor = f }
}

// WithThreshold sets the approval threshold for one plan type.
func WithThreshold(t models.PlanType, v float64) Option {
	return func(e *Engine) { e.thresholds[t] = v }
}

// WithDefaultThreshold sets the approval threshold for plan types without their own.
func WithDefaultThreshold(v float64) Option {
	return func(e *Engine) { e.defaultThreshold = v }
}

// WithDebugLog sets the debug logging function.
func WithDebugLog(fn func(format string, args ...interface{})) Option {
	return func(e *Engine) {
		if fn != nil {
			e.debugLog = fn
		}
	}
}

// Engine proposes, costs and applies plan adaptations.
type Engine struct {
	strategist       Strategist
	estimator        *estimate.Estimator
	registry         *capability.Registry
	factor           float64
	thresholds       map[models.PlanType]float64
	defaultThreshold float64
	now              func() time.Time
	debugLog         func(format string, args ...interface{})
}

// NewEngine creates an Engine using the rule strategist and default estimator.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		strategist:       NewRuleStrategist(),
		estimator:        estimate.New(),
		factor:           estimate.DefaultAdjustmentFactor,
		thresholds:       make(map[models.PlanType]float64),
		defaultThreshold: DefaultApprovalThreshold,
		now:              time.Now,
		debugLog:         func(format string, args ...interface{}) {},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Threshold returns the approval threshold for a plan type.
func (e *Engine) Threshold(t models.PlanType) float64 {
	if v, ok := e.thresholds[t]; ok {
		return v
	}
	return e.defaultThreshold
}

// Propose asks the strategist for a change set and costs it against the
// current task set. It returns nil when the strategist has no changes.
// Nothing in the input is mutated.
func (e *Engine) Propose(ctx context.Context, in Input) (*models.PlanAdaptation, error) {
	if in.Plan == nil {
		return nil, fmt.Errorf("propose adaptation: no plan")
	}
	changes, justification, err := e.strategist.Decide(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("decide changes: %w", err)
	}
	if len(changes) == 0 {
		return nil, nil
	}
	return e.Evaluate(in, changes, justification)
}

// Evaluate costs an explicit change set without consulting the strategist.
func (e *Engine) Evaluate(in Input, changes []models.TaskChange, justification string) (*models.PlanAdaptation, error) {
	before, err := graph.NewSchedule(in.Tasks)
	if err != nil {
		return nil, fmt.Errorf("analyze current plan: %w", err)
	}
	prev := in.Plan.Estimation
	if prev == nil {
		if prev, err = e.estimator.Estimate(in.Tasks, before.Deps); err != nil {
			return nil, fmt.Errorf("estimate current plan: %w", err)
		}
	}

	simulated, err := applyChanges(cloneTasks(in.Tasks), changes, e.now())
	if err != nil {
		return nil, fmt.Errorf("simulate changes: %w", err)
	}
	e.assignRoles(simulated)

	after, err := graph.NewSchedule(simulated)
	if err != nil {
		return nil, fmt.Errorf("analyze adapted plan: %w", err)
	}
	recomputed, err := e.estimator.Estimate(simulated, after.Deps)
	if err != nil {
		return nil, fmt.Errorf("estimate adapted plan: %w", err)
	}
	next := estimate.Adjust(recomputed, len(changes), e.factor)
	impact := estimate.Impact(prev, next)

	a := &models.PlanAdaptation{
		ID:             uuid.New().String(),
		PlanID:         in.Plan.ID,
		ConversationID: in.Plan.ConversationID,
		Trigger:        in.Trigger,
		Evidence:       append([]models.Finding(nil), in.Findings...),
		Changes:        changes,
		Previous:       estimate.Clone(prev),
		Estimation:     next,
		Impact:         impact,
		Justification:  justification,
		Status:         models.AdaptationPending,
		CreatedAt:      e.now(),
	}

	threshold := e.Threshold(in.Plan.Type)
	if math.Abs(impact) > threshold {
		a.ApprovalRequired = true
		e.debugLog("[adapt.Evaluate] %s: impact %.2f exceeds %.2f", a.ID, impact, threshold)
	}
	for _, c := range changes {
		if c.Kind != models.ChangeRemove {
			continue
		}
		if d, ok := before.Deps[c.TaskID]; ok && d.CriticalPath {
			a.ApprovalRequired = true
			e.debugLog("[adapt.Evaluate] %s: removes critical-path task %s", a.ID, c.TaskID)
		}
	}
	if a.Justification == "" {
		a.Justification = fmt.Sprintf("%d change(s) for trigger %s", len(changes), in.Trigger)
	}
	return a, nil
}

func (e *Engine) assignRoles(tasks []*models.Task) {
	if e.registry == nil {
		return
	}
	for _, t := range tasks {
		if t.Role != "" {
			continue
		}
		if role, err := e.registry.Match(t); err == nil {
			t.Role = role
		}
	}
}

// Applied is the outcome of applying an adaptation.
type Applied struct {
	// Tasks is the new task list. Unchanged tasks are the same pointers as before.
	Tasks    []*models.Task
	Schedule *graph.Schedule
}

// Apply applies a pending adaptation that does not require approval.
// Adaptations that do are left pending and reported with
// *ApprovalRequiredError. tasks are the live tasks of the conversation;
// callers must hold the conversation's lock.
func (e *Engine) Apply(plan *models.CoordinationPlan, tasks []*models.Task, a *models.PlanAdaptation) (*Applied, error) {
	if a.ApprovalRequired {
		return nil, &ApprovalRequiredError{Adaptation: a}
	}
	return e.apply(plan, tasks, a)
}

// Approve applies an adaptation regardless of its approval requirement.
func (e *Engine) Approve(plan *models.CoordinationPlan, tasks []*models.Task, a *models.PlanAdaptation) (*Applied, error) {
	return e.apply(plan, tasks, a)
}

// Reject marks a pending adaptation rejected. The plan is unchanged.
func (e *Engine) Reject(a *models.PlanAdaptation) error {
	if a.Status != models.AdaptationPending {
		return fmt.Errorf("adaptation %s is %s, not pending", a.ID, a.Status)
	}
	now := e.now()
	a.Status = models.AdaptationRejected
	a.ResolvedAt = &now
	return nil
}

func (e *Engine) apply(plan *models.CoordinationPlan, tasks []*models.Task, a *models.PlanAdaptation) (*Applied, error) {
	if a.Status != models.AdaptationPending {
		return nil, fmt.Errorf("adaptation %s is %s, not pending", a.ID, a.Status)
	}
	if !CanTransition(plan.Status, models.PlanAdapted) {
		return nil, fmt.Errorf("plan %s: %s -> %s: %w", plan.ID, plan.Status, models.PlanAdapted, ErrInvalidTransition)
	}

	// Simulate first so a bad change set leaves the live tasks untouched.
	if _, err := applyChanges(cloneTasks(tasks), a.Changes, e.now()); err != nil {
		return nil, fmt.Errorf("apply adaptation %s: %w", a.ID, err)
	}
	updated, err := applyChanges(tasks, a.Changes, e.now())
	if err != nil {
		return nil, fmt.Errorf("apply adaptation %s: %w", a.ID, err)
	}
	e.assignRoles(updated)

	sched, err := graph.NewSchedule(updated)
	if err != nil {
		return nil, fmt.Errorf("relayer plan: %w", err)
	}

	if err := Transition(plan, models.PlanAdapted); err != nil {
		return nil, err
	}
	plan.Phases = sched.Phases()
	plan.CriticalPath = sched.CriticalPath
	plan.Estimation = estimate.Clone(a.Estimation)
	plan.Version++

	now := e.now()
	a.Status = models.AdaptationApplied
	a.ResolvedAt = &now
	e.debugLog("[adapt.Apply] %s applied to plan %s (v%d, %d phases)", a.ID, plan.ID, plan.Version, len(plan.Phases))

	return &Applied{Tasks: updated, Schedule: sched}, nil
}
