package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/ShayCichocki/sleuth/internal/adapt"
	"github.com/ShayCichocki/sleuth/internal/delegate"
	"github.com/ShayCichocki/sleuth/internal/estimate"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

// Conversation is the per-request container for all planning and execution
// state. Accessors return copies; only the planner and the delegator mutate
// the live state, always under mu.
type Conversation struct {
	id        string
	request   string
	planType  models.PlanType
	createdAt time.Time

	mu          sync.RWMutex
	status      models.ConversationStatus
	tasks       []*models.Task
	index       map[string]*models.Task
	plan        *models.CoordinationPlan
	conflicts   []*models.ConflictRecord
	adaptations []*models.PlanAdaptation
	outcome     *models.Outcome
	updatedAt   time.Time
	cancelled   bool
	running     bool
	cancel      context.CancelFunc
}

var _ delegate.Target = (*Conversation)(nil)

// ID returns the conversation ID.
func (c *Conversation) ID() string { return c.id }

// ConversationID returns the conversation ID.
func (c *Conversation) ConversationID() string { return c.id }

// Request returns the request text.
func (c *Conversation) Request() string { return c.request }

// PlanType returns the planning profile.
func (c *Conversation) PlanType() models.PlanType { return c.planType }

// CreatedAt returns when the conversation was created.
func (c *Conversation) CreatedAt() time.Time { return c.createdAt }

// Status returns the lifecycle status.
func (c *Conversation) Status() models.ConversationStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// UpdateTask runs fn on the live task under the conversation lock.
func (c *Conversation) UpdateTask(taskID string, fn func(*models.Task)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.index[taskID]
	if !ok {
		return false
	}
	fn(t)
	c.updatedAt = time.Now()
	return true
}

// Task returns a copy of a task.
func (c *Conversation) Task(id string) (*models.Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.index[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Tasks returns copies of all tasks in planning order.
func (c *Conversation) Tasks() []*models.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneTasks(c.tasks)
}

// Plan returns a copy of the current plan, or nil before CreatePlan.
func (c *Conversation) Plan() *models.CoordinationPlan {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return clonePlan(c.plan)
}

// Conflicts returns copies of every conflict record.
func (c *Conversation) Conflicts() []*models.ConflictRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*models.ConflictRecord, len(c.conflicts))
	for i, r := range c.conflicts {
		out[i] = cloneConflict(r)
	}
	return out
}

// Adaptations returns copies of every adaptation, applied, pending or rejected.
func (c *Conversation) Adaptations() []*models.PlanAdaptation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*models.PlanAdaptation, len(c.adaptations))
	for i, a := range c.adaptations {
		out[i] = cloneAdaptation(a)
	}
	return out
}

// Outcome returns the final outcome, or nil while the conversation runs.
func (c *Conversation) Outcome() *models.Outcome {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.outcome == nil {
		return nil
	}
	o := *c.outcome
	o.Result = c.outcome.Result.Clone()
	return &o
}

// Record returns a point-in-time copy of the whole conversation.
func (c *Conversation) Record() *models.ConversationRecord {
	c.mu.RLock()
	status, updated := c.status, c.updatedAt
	c.mu.RUnlock()

	return &models.ConversationRecord{
		ID:          c.id,
		Request:     c.request,
		Status:      status,
		PlanType:    c.planType,
		Plan:        c.Plan(),
		Tasks:       c.Tasks(),
		Conflicts:   c.Conflicts(),
		Adaptations: c.Adaptations(),
		Outcome:     c.Outcome(),
		CreatedAt:   c.createdAt,
		UpdatedAt:   updated,
	}
}

func (c *Conversation) reindexLocked() {
	c.index = make(map[string]*models.Task, len(c.tasks))
	for _, t := range c.tasks {
		c.index[t.ID] = t
	}
}

// nextPhase returns the lowest phase holding a pending task, or -1.
// Adaptations can place new tasks into phases that already ran.
func (c *Conversation) nextPhase() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.plan == nil {
		return -1
	}
	for _, ph := range c.plan.Phases {
		for _, id := range ph.TaskIDs {
			if t := c.index[id]; t != nil && t.Status == models.TaskStatusPending {
				return ph.Index
			}
		}
	}
	return -1
}

// mergedLocked maps each task of a merged conflict to the merged result.
func (c *Conversation) mergedLocked() map[string]*models.ConflictRecord {
	merged := make(map[string]*models.ConflictRecord)
	for _, r := range c.conflicts {
		if r.Resolution != models.ResolutionPreferHigherConfidence && r.Resolved != nil {
			for _, id := range r.TaskIDs {
				merged[id] = r
			}
		}
	}
	return merged
}

// effectiveLocked returns the result downstream work should see for a
// completed task: the winner's result when it lost a conflict, the merged
// result when its conflict was merged.
func (c *Conversation) effectiveLocked(t *models.Task, merged map[string]*models.ConflictRecord) *models.TaskResult {
	if t.Result == nil {
		return nil
	}
	if t.SupersededBy != "" {
		if winner := c.index[t.SupersededBy]; winner != nil && winner.Result != nil {
			return winner.Result
		}
	}
	if r, ok := merged[t.ID]; ok {
		return r.Resolved
	}
	return t.Result
}

// upstreamLocked returns the effective results of t's dependencies.
func (c *Conversation) upstreamLocked(t *models.Task) map[string]*models.TaskResult {
	if len(t.DependsOn) == 0 {
		return nil
	}
	merged := c.mergedLocked()
	out := make(map[string]*models.TaskResult, len(t.DependsOn))
	for _, depID := range t.DependsOn {
		dep := c.index[depID]
		if dep == nil {
			continue
		}
		if res := c.effectiveLocked(dep, merged); res != nil {
			out[depID] = res.Clone()
		}
	}
	return out
}

// depsSettledLocked reports whether every dependency of t is terminal.
func (c *Conversation) depsSettledLocked(t *models.Task) bool {
	for _, depID := range t.DependsOn {
		dep := c.index[depID]
		if dep == nil || !dep.Status.Terminal() {
			return false
		}
	}
	return true
}

// markCancelledLocked fails every pending or dispatched task with reason
// cancelled and moves the plan to cancelled.
func (c *Conversation) markCancelledLocked(now time.Time) []*models.Task {
	c.cancelled = true
	var affected []*models.Task
	for _, t := range c.tasks {
		if t.Status != models.TaskStatusPending && t.Status != models.TaskStatusDispatched {
			continue
		}
		t.Status = models.TaskStatusFailed
		t.FailureReason = models.FailureCancelled
		t.Error = ErrCancelled.Error()
		done := now
		t.CompletedAt = &done
		affected = append(affected, t)
	}
	if c.plan != nil && adapt.CanTransition(c.plan.Status, models.PlanCancelled) {
		_ = adapt.Transition(c.plan, models.PlanCancelled)
	}
	c.updatedAt = now
	return affected
}

func cloneTasks(tasks []*models.Task) []*models.Task {
	out := make([]*models.Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}

func clonePlan(p *models.CoordinationPlan) *models.CoordinationPlan {
	if p == nil {
		return nil
	}
	c := *p
	c.Phases = make([]models.Phase, len(p.Phases))
	for i, ph := range p.Phases {
		c.Phases[i] = models.Phase{Index: ph.Index, TaskIDs: append([]string(nil), ph.TaskIDs...)}
	}
	c.CriticalPath = append([]string(nil), p.CriticalPath...)
	c.Estimation = estimate.Clone(p.Estimation)
	return &c
}

func cloneConflict(r *models.ConflictRecord) *models.ConflictRecord {
	c := *r
	c.TaskIDs = append([]string(nil), r.TaskIDs...)
	c.Resolved = r.Resolved.Clone()
	c.Candidates = make([]models.TaskResult, len(r.Candidates))
	for i := range r.Candidates {
		c.Candidates[i] = *r.Candidates[i].Clone()
	}
	return &c
}

func cloneAdaptation(a *models.PlanAdaptation) *models.PlanAdaptation {
	c := *a
	c.Evidence = append([]models.Finding(nil), a.Evidence...)
	c.Changes = append([]models.TaskChange(nil), a.Changes...)
	c.Previous = estimate.Clone(a.Previous)
	c.Estimation = estimate.Clone(a.Estimation)
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}
