package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/sleuth/internal/adapt"
	"github.com/ShayCichocki/sleuth/internal/conflict"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

// ExecutePlan runs the conversation's plan phase by phase until every task
// has settled. It returns nil when the conversation completed, ErrCancelled
// (wrapped) when it was cancelled, and *PhaseFailedError when a whole phase
// failed without recovery. The outcome is available from conv.Outcome in
// every case.
func (p *Planner) ExecutePlan(ctx context.Context, conv *Conversation) error {
	conv.mu.Lock()
	switch {
	case conv.plan == nil:
		conv.mu.Unlock()
		return fmt.Errorf("conversation %s has no plan", conv.id)
	case conv.cancelled:
		conv.mu.Unlock()
		return fmt.Errorf("conversation %s: %w", conv.id, ErrCancelled)
	case conv.running:
		conv.mu.Unlock()
		return fmt.Errorf("conversation %s is already running", conv.id)
	case conv.plan.Status == models.PlanDraft:
		conv.mu.Unlock()
		return fmt.Errorf("conversation %s: %w", conv.id, ErrPlanNotApproved)
	}
	if err := adapt.Transition(conv.plan, models.PlanActive); err != nil {
		conv.mu.Unlock()
		return fmt.Errorf("conversation %s: start: %w", conv.id, err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	conv.cancel = cancel
	conv.running = true
	conv.status = models.ConversationRunning
	conv.updatedAt = p.opts.now()
	conv.mu.Unlock()

	debugLog("[planner.ExecutePlan] %s started", conv.id)
	return p.finish(conv, p.run(runCtx, conv))
}

func (p *Planner) run(ctx context.Context, conv *Conversation) error {
	for {
		if p.stopped(ctx, conv) {
			return ErrCancelled
		}
		phase := conv.nextPhase()
		if phase < 0 {
			return nil
		}
		if err := p.runPhase(ctx, conv, phase); err != nil {
			return err
		}
	}
}

func (p *Planner) stopped(ctx context.Context, conv *Conversation) bool {
	if ctx.Err() != nil {
		return true
	}
	conv.mu.RLock()
	defer conv.mu.RUnlock()
	return conv.cancelled
}

type dispatch struct {
	task     *models.Task
	upstream map[string]*models.TaskResult
}

// runPhase dispatches the phase's pending tasks, waits for all of them,
// then reconciles results and consults the adaptation engine.
func (p *Planner) runPhase(ctx context.Context, conv *Conversation, phase int) error {
	start := p.opts.now()

	conv.mu.Lock()
	newlyBlocked, err := adapt.RefreshBlocked(conv.tasks)
	if err != nil {
		conv.mu.Unlock()
		return fmt.Errorf("refresh blocked tasks: %w", err)
	}
	var batch []dispatch
	for _, id := range conv.plan.Phases[phase].TaskIDs {
		t := conv.index[id]
		if t == nil || t.Status != models.TaskStatusPending {
			continue
		}
		if !conv.depsSettledLocked(t) {
			// Layering guarantees settled dependencies; this only guards
			// against looping on a task that can never run.
			t.Status = models.TaskStatusBlocked
			t.FailureReason = models.FailureDependency
			t.BlockedReason = "dependency_unsettled"
			newlyBlocked = append(newlyBlocked, t)
			continue
		}
		batch = append(batch, dispatch{task: t.Clone(), upstream: conv.upstreamLocked(t)})
	}
	planID := conv.plan.ID
	blockedEvents := p.blockedEvents(conv.id, planID, phase, newlyBlocked)
	conv.mu.Unlock()

	for _, e := range blockedEvents {
		p.emit(e)
	}
	if len(batch) == 0 {
		return nil
	}

	p.emit(Event{
		Type:           EventPhaseStarted,
		ConversationID: conv.id,
		PlanID:         planID,
		Phase:          phase,
		Message:        fmt.Sprintf("dispatching %d task(s)", len(batch)),
	})
	debugLog("[planner.runPhase] %s phase %d: dispatching %d task(s)", conv.id, phase, len(batch))

	g := new(errgroup.Group)
	g.SetLimit(p.opts.maxParallel)
	for _, d := range batch {
		d := d
		g.Go(func() error {
			p.delegateOne(ctx, conv, planID, phase, d)
			return nil
		})
	}
	_ = g.Wait()

	if p.stopped(ctx, conv) {
		return ErrCancelled
	}

	conv.mu.Lock()
	var completed []*models.Task
	var failed []string
	var retryable bool
	for _, d := range batch {
		t := conv.index[d.task.ID]
		switch t.Status {
		case models.TaskStatusCompleted:
			completed = append(completed, t)
		case models.TaskStatusFailed:
			failed = append(failed, t.ID)
			if t.FailureReason != models.FailureCancelled {
				retryable = true
			}
		}
	}
	newlyBlocked, err = adapt.RefreshBlocked(conv.tasks)
	if err != nil {
		conv.mu.Unlock()
		return fmt.Errorf("refresh blocked tasks: %w", err)
	}
	blockedEvents = p.blockedEvents(conv.id, planID, phase, newlyBlocked)

	records := conflict.Check(p.detector, p.resolver, conv.id, completed)
	conv.conflicts = append(conv.conflicts, records...)
	var escalated []*models.ConflictRecord
	for _, r := range records {
		if r.Escalate {
			escalated = append(escalated, cloneConflict(r))
		}
	}
	findings, lowConfidence, evidence := p.findings(completed)
	conflictEvents := make([]Event, 0, len(records))
	for _, r := range records {
		conflictEvents = append(conflictEvents, Event{
			Type:           EventConflictDetected,
			ConversationID: conv.id,
			PlanID:         planID,
			Phase:          phase,
			ConflictID:     r.ID,
			Message:        fmt.Sprintf("%s on %q resolved by %s", r.Type, r.Subject, r.Resolution),
			Confidence:     confidenceOf(r.Resolved),
		})
	}
	conv.updatedAt = p.opts.now()
	conv.mu.Unlock()

	for _, e := range blockedEvents {
		p.emit(e)
	}
	for _, e := range conflictEvents {
		p.emit(e)
	}

	adapted := false
	if p.opts.engine != nil {
		var triggers []string
		if retryable {
			triggers = append(triggers, adapt.TriggerTaskFailed)
		}
		if len(escalated) > 0 {
			triggers = append(triggers, adapt.TriggerConflictEscalated)
		}
		switch {
		case lowConfidence:
			triggers = append(triggers, adapt.TriggerLowConfidence)
		case evidence:
			triggers = append(triggers, adapt.TriggerNewEvidence)
		}
		for _, trigger := range triggers {
			applied, held, err := p.adapt(ctx, conv, trigger, findings, escalated)
			if err != nil {
				debugLog("[planner.runPhase] %s: adaptation for %s: %v", conv.id, trigger, err)
			}
			adapted = adapted || applied
			// Later triggers would re-propose the removals of a held change set.
			if held {
				break
			}
		}
	}

	if p.stopped(ctx, conv) {
		return ErrCancelled
	}
	if len(failed) == len(batch) && !adapted {
		return &PhaseFailedError{ConversationID: conv.id, Phase: phase, TaskIDs: failed}
	}

	p.emit(Event{
		Type:           EventPhaseCompleted,
		ConversationID: conv.id,
		PlanID:         planID,
		Phase:          phase,
		Message:        fmt.Sprintf("%d completed, %d failed", len(completed), len(failed)),
		Duration:       p.opts.now().Sub(start),
	})
	return nil
}

func (p *Planner) delegateOne(ctx context.Context, conv *Conversation, planID string, phase int, d dispatch) {
	p.emit(Event{
		Type:           EventTaskDispatched,
		ConversationID: conv.id,
		PlanID:         planID,
		Phase:          phase,
		TaskID:         d.task.ID,
		TaskTitle:      d.task.Title,
		Role:           d.task.Role,
	})

	err := p.delegator.Delegate(ctx, conv, d.task, d.upstream)

	t, ok := conv.Task(d.task.ID)
	if !ok {
		return
	}
	e := Event{
		ConversationID: conv.id,
		PlanID:         planID,
		Phase:          phase,
		TaskID:         t.ID,
		TaskTitle:      t.Title,
		Role:           t.Role,
		Duration:       t.ActualDuration,
	}
	if err == nil && t.Status == models.TaskStatusCompleted {
		e.Type = EventTaskCompleted
		e.Confidence = confidenceOf(t.Result)
	} else {
		e.Type = EventTaskFailed
		e.Message = string(t.FailureReason)
		if err == nil {
			err = errors.New(t.Error)
		}
		e.Error = err
	}
	p.emit(e)
}

// adapt proposes a change set for one trigger and applies it, or holds it
// for approval. held reports an adaptation left pending or rejected.
func (p *Planner) adapt(ctx context.Context, conv *Conversation, trigger string, findings []models.Finding, conflicts []*models.ConflictRecord) (applied, held bool, err error) {
	engine := p.opts.engine

	conv.mu.RLock()
	in := adapt.Input{
		Plan:      clonePlan(conv.plan),
		Tasks:     cloneTasks(conv.tasks),
		Findings:  findings,
		Conflicts: conflicts,
		Trigger:   trigger,
	}
	conv.mu.RUnlock()

	a, err := engine.Propose(ctx, in)
	if err != nil || a == nil {
		return false, false, err
	}

	if !a.ApprovalRequired {
		return p.applyAdaptation(conv, a, engine.Apply)
	}

	conv.mu.Lock()
	conv.adaptations = append(conv.adaptations, a)
	conv.mu.Unlock()
	p.emit(Event{
		Type:           EventAdaptationPending,
		ConversationID: conv.id,
		PlanID:         a.PlanID,
		Phase:          -1,
		AdaptationID:   a.ID,
		Message:        fmt.Sprintf("%s: impact %+.0f%%, awaiting approval", a.Justification, a.Impact*100),
	})
	debugLog("[planner.adapt] %s: %v", conv.id, &adapt.ApprovalRequiredError{Adaptation: a})

	if p.opts.approver == nil {
		return false, true, nil
	}
	decision, err := p.opts.approver.RequestApproval(ctx, cloneAdaptation(a))
	if err != nil {
		return false, true, fmt.Errorf("await approval of %s: %w", a.ID, err)
	}
	if err := adapt.CheckDecision(decision, a); err != nil {
		if !errors.Is(err, adapt.ErrStaleDecision) {
			return false, true, err
		}
		debugLog("[planner.adapt] %s: ignoring approval by %s: %v", a.ID, decision.DecidedBy, err)
		decision.Approved = false
		decision.Reason = err.Error()
	}
	if !decision.Approved {
		conv.mu.Lock()
		err = engine.Reject(a)
		conv.mu.Unlock()
		debugLog("[planner.adapt] %s rejected by %s: %s", a.ID, decision.DecidedBy, decision.Reason)
		return false, true, err
	}
	applied, _, err = p.applyAdaptation(conv, a, engine.Approve)
	return applied, !applied, err
}

type applyFunc func(*models.CoordinationPlan, []*models.Task, *models.PlanAdaptation) (*adapt.Applied, error)

func (p *Planner) applyAdaptation(conv *Conversation, a *models.PlanAdaptation, apply applyFunc) (bool, bool, error) {
	conv.mu.Lock()
	if conv.cancelled {
		conv.mu.Unlock()
		return false, true, nil
	}
	if !containsAdaptation(conv.adaptations, a) {
		conv.adaptations = append(conv.adaptations, a)
	}
	res, err := apply(conv.plan, conv.tasks, a)
	if err != nil {
		conv.mu.Unlock()
		return false, false, err
	}
	conv.tasks = res.Tasks
	conv.reindexLocked()
	if err := adapt.Transition(conv.plan, models.PlanActive); err != nil {
		conv.mu.Unlock()
		return true, false, err
	}
	conv.updatedAt = p.opts.now()
	version := conv.plan.Version
	conv.mu.Unlock()

	p.emit(Event{
		Type:           EventAdaptationApplied,
		ConversationID: conv.id,
		PlanID:         a.PlanID,
		Phase:          -1,
		AdaptationID:   a.ID,
		Message:        fmt.Sprintf("%s (plan v%d, impact %+.0f%%)", a.Justification, version, a.Impact*100),
	})
	return true, false, nil
}

// findings turns completed results into adaptation evidence. It also
// reports whether any result is below the low-confidence threshold and
// whether any result invalidates other tasks.
func (p *Planner) findings(completed []*models.Task) ([]models.Finding, bool, bool) {
	var out []models.Finding
	low, evidence := false, false
	for _, t := range completed {
		if t.Result == nil {
			continue
		}
		f := models.Finding{
			TaskID:      t.ID,
			Summary:     t.Result.Summary,
			Confidence:  t.Result.Confidence,
			Invalidates: append([]string(nil), t.Result.Invalidates...),
		}
		if f.Confidence < p.opts.lowConfidence {
			low = true
		}
		if len(f.Invalidates) > 0 {
			evidence = true
		}
		out = append(out, f)
	}
	return out, low, evidence
}

func (p *Planner) blockedEvents(convID, planID string, phase int, tasks []*models.Task) []Event {
	events := make([]Event, 0, len(tasks))
	for _, t := range tasks {
		events = append(events, Event{
			Type:           EventTaskBlocked,
			ConversationID: convID,
			PlanID:         planID,
			Phase:          phase,
			TaskID:         t.ID,
			TaskTitle:      t.Title,
			Role:           t.Role,
			Message:        t.BlockedReason,
		})
	}
	return events
}

// finish records the outcome of a run and releases the conversation.
func (p *Planner) finish(conv *Conversation, runErr error) error {
	now := p.opts.now()

	conv.mu.Lock()
	var status models.ConversationStatus
	switch {
	case conv.cancelled || errors.Is(runErr, ErrCancelled):
		conv.markCancelledLocked(now)
		status = models.ConversationCancelled
		runErr = fmt.Errorf("conversation %s: %w", conv.id, ErrCancelled)
	case runErr != nil:
		if adapt.CanTransition(conv.plan.Status, models.PlanFailed) {
			_ = adapt.Transition(conv.plan, models.PlanFailed)
		}
		status = models.ConversationFailed
	default:
		if err := adapt.Transition(conv.plan, models.PlanCompleted); err != nil {
			runErr = err
			status = models.ConversationFailed
		} else {
			status = models.ConversationCompleted
		}
	}
	outcome := aggregate(conv, status, now)
	if runErr != nil {
		outcome.Error = runErr.Error()
	}
	conv.status = status
	conv.outcome = outcome
	conv.running = false
	conv.cancel = nil
	conv.updatedAt = now
	planID := conv.plan.ID
	conv.mu.Unlock()

	debugLog("[planner.ExecutePlan] %s finished: %s (confidence %.2f, %d completed, %d failed, %d blocked)",
		conv.id, status, outcome.Confidence, outcome.Completed, outcome.Failed, outcome.Blocked)

	e := Event{
		Type:           EventConversationDone,
		ConversationID: conv.id,
		PlanID:         planID,
		Phase:          -1,
		Message:        string(status),
		Error:          runErr,
		Confidence:     outcome.Confidence,
		Duration:       now.Sub(conv.createdAt),
	}
	if status == models.ConversationCancelled {
		e.Type = EventConversationCancelled
	}
	p.emit(e)
	return runErr
}

func containsAdaptation(list []*models.PlanAdaptation, a *models.PlanAdaptation) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func confidenceOf(r *models.TaskResult) float64 {
	if r == nil {
		return 0
	}
	return r.Confidence
}
