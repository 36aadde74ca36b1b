package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ShayCichocki/sleuth/internal/adapt"
	"github.com/ShayCichocki/sleuth/internal/capability"
	"github.com/ShayCichocki/sleuth/internal/conflict"
	"github.com/ShayCichocki/sleuth/internal/decompose"
	"github.com/ShayCichocki/sleuth/internal/delegate"
	"github.com/ShayCichocki/sleuth/internal/estimate"
	"github.com/ShayCichocki/sleuth/internal/graph"
	"github.com/ShayCichocki/sleuth/internal/mailbox"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

// Archiver stores terminal conversations before the planner forgets them.
type Archiver interface {
	ArchiveConversation(rec *models.ConversationRecord) error
}

// Planner owns conversations and drives them from request to outcome.
type Planner struct {
	registry   *capability.Registry
	opts       *plannerOptions
	delegator  *delegate.Delegator
	estimator  *estimate.Estimator
	detector   *conflict.Detector
	resolver   *conflict.Resolver
	decomposer *decompose.Decomposer
	emitter    *EventEmitter
	logger     *DebugLogger

	mu            sync.RWMutex
	conversations map[string]*Conversation
}

// New creates a Planner. A nil registry uses capability.Default().
func New(reg *capability.Registry, opts ...Option) *Planner {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if reg == nil {
		reg = capability.Default()
	}
	logger := o.logger
	if logger == nil {
		logger = NopLogger()
	}
	setPackageLogger(logger)

	p := &Planner{
		registry:      reg,
		opts:          o,
		delegator:     o.delegator,
		estimator:     o.estimator,
		detector:      o.detector,
		resolver:      o.resolver,
		decomposer:    o.decomposer,
		emitter:       NewEventEmitter(o.eventBuffer),
		logger:        logger,
		conversations: make(map[string]*Conversation),
	}
	if p.delegator == nil {
		p.delegator = delegate.New(reg, mailbox.New(o.mailboxLimit),
			delegate.WithTimeout(o.taskTimeout),
			delegate.WithDebugLog(logger.Func()),
			delegate.WithClock(o.now),
		)
	}
	for role, w := range o.workers {
		p.delegator.Register(role, w)
	}
	if p.estimator == nil {
		p.estimator = estimate.New()
	}
	if p.detector == nil {
		p.detector = conflict.NewDetector()
	}
	if p.resolver == nil {
		p.resolver = conflict.NewResolver()
	}
	if p.decomposer == nil {
		p.decomposer = decompose.New(nil)
	}
	p.decomposer.SetDebugLog(logger.Func())
	return p
}

// Plan interprets a free-text request into tasks and plans them.
func (p *Planner) Plan(ctx context.Context, request string) (*Conversation, error) {
	d, err := p.decomposer.Decompose(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("interpret request: %w", err)
	}
	if d.Fallback {
		debugLog("[planner] using default template for %q", request)
	}
	conv, err := p.NewConversation(request, d.PlanType, d.Tasks)
	if err != nil {
		return nil, err
	}
	if err := p.CreatePlan(conv); err != nil {
		return conv, err
	}
	return conv, nil
}

// NewConversation registers a conversation over an explicit task set. Tasks
// are copied; missing IDs, statuses, stages and roles are filled in.
func (p *Planner) NewConversation(request string, planType models.PlanType, tasks []*models.Task) (*Conversation, error) {
	if len(tasks) == 0 {
		return nil, fmt.Errorf("new conversation: no tasks")
	}
	if planType == "" {
		planType = models.PlanStandard
	}
	if !planType.Valid() {
		return nil, fmt.Errorf("new conversation: unknown plan type %q", planType)
	}

	now := p.opts.now()
	conv := &Conversation{
		id:        uuid.New().String(),
		request:   request,
		planType:  planType,
		createdAt: now,
		status:    models.ConversationPlanning,
		updatedAt: now,
	}
	seen := make(map[string]bool, len(tasks))
	for _, src := range tasks {
		t := src.Clone()
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("new conversation: duplicate task id %s", t.ID)
		}
		seen[t.ID] = true
		if t.Status == "" {
			t.Status = models.TaskStatusPending
		}
		if t.Stage == "" {
			t.Stage = t.Type.Stage()
		}
		if t.Priority == "" {
			t.Priority = models.PriorityNormal
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		if t.Role == "" {
			// Unmatched tasks keep an empty role; the delegator fails them
			// with NoCapableWorkerError at dispatch.
			if role, err := p.registry.Match(t); err == nil {
				t.Role = role
			}
		}
		conv.tasks = append(conv.tasks, t)
	}
	conv.reindexLocked()

	p.mu.Lock()
	p.conversations[conv.id] = conv
	p.mu.Unlock()

	debugLog("[planner] conversation %s created with %d tasks (%s)", conv.id, len(conv.tasks), planType)
	return conv, nil
}

// CreatePlan lays the conversation's tasks out into phases and attaches a
// resource estimate. A cyclic task set yields *CyclicPlanError and fails
// the conversation without a plan, leaving it for Sweep to reclaim.
func (p *Planner) CreatePlan(conv *Conversation) error {
	conv.mu.Lock()
	if conv.status.Terminal() {
		conv.mu.Unlock()
		return fmt.Errorf("conversation %s is %s", conv.id, conv.status)
	}
	if conv.plan != nil && conv.plan.Status != models.PlanDraft {
		conv.mu.Unlock()
		return fmt.Errorf("conversation %s already has a %s plan", conv.id, conv.plan.Status)
	}

	sched, err := graph.NewSchedule(conv.tasks)
	if err != nil {
		var cycle *graph.CycleError
		if !errors.As(err, &cycle) {
			conv.mu.Unlock()
			return fmt.Errorf("conversation %s: build schedule: %w", conv.id, err)
		}
		cyclic := &CyclicPlanError{ConversationID: conv.id, Cycle: cycle}
		now := p.opts.now()
		conv.plan = nil
		conv.status = models.ConversationFailed
		conv.outcome = &models.Outcome{
			Status:     models.ConversationFailed,
			Error:      cyclic.Error(),
			FinishedAt: now,
		}
		conv.updatedAt = now
		conv.mu.Unlock()

		debugLog("[planner] %s aborted: %v", conv.id, cyclic)
		p.emit(Event{
			Type:           EventConversationDone,
			ConversationID: conv.id,
			Phase:          -1,
			Message:        string(models.ConversationFailed),
			Error:          cyclic,
			Duration:       now.Sub(conv.createdAt),
		})
		return cyclic
	}
	est, err := p.estimator.Estimate(conv.tasks, sched.Deps)
	if err != nil {
		conv.mu.Unlock()
		return fmt.Errorf("conversation %s: estimate: %w", conv.id, err)
	}

	now := p.opts.now()
	plan := &models.CoordinationPlan{
		ID:             uuid.New().String(),
		ConversationID: conv.id,
		Type:           conv.planType,
		Status:         models.PlanDraft,
		Phases:         sched.Phases(),
		Estimation:     est,
		CriticalPath:   sched.CriticalPath,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if !p.opts.requirePlanApproval {
		if err := adapt.Transition(plan, models.PlanApproved); err != nil {
			conv.mu.Unlock()
			return err
		}
	}
	conv.plan = plan
	conv.status = models.ConversationPlanned
	conv.updatedAt = now
	conv.mu.Unlock()

	debugLog("[planner] %s: %d phases, critical path %v, total %s", conv.id, len(plan.Phases), plan.CriticalPath, est.TotalDuration)
	p.emit(Event{
		Type:           EventPlanCreated,
		ConversationID: conv.id,
		PlanID:         plan.ID,
		Phase:          -1,
		Message:        fmt.Sprintf("%d tasks in %d phases, estimated %s", plan.TaskCount(), len(plan.Phases), est.TotalDuration),
		Duration:       est.TotalDuration,
	})
	return nil
}

// ApprovePlan approves a draft plan created with WithRequirePlanApproval.
func (p *Planner) ApprovePlan(id string) error {
	conv, err := p.Conversation(id)
	if err != nil {
		return err
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	if conv.plan == nil {
		return fmt.Errorf("conversation %s has no plan", id)
	}
	if conv.plan.Status == models.PlanApproved {
		return nil
	}
	return adapt.Transition(conv.plan, models.PlanApproved)
}

// Cancel stops a conversation. Pending and in-flight tasks are marked
// failed(cancelled) at once; results of in-flight delegations arriving later
// are discarded. Cancelling a finished conversation is a no-op.
func (p *Planner) Cancel(id string) error {
	conv, err := p.Conversation(id)
	if err != nil {
		return err
	}
	now := p.opts.now()

	conv.mu.Lock()
	if conv.status.Terminal() || conv.cancelled {
		conv.mu.Unlock()
		return nil
	}
	affected := conv.markCancelledLocked(now)
	running, cancel := conv.running, conv.cancel
	if !running {
		conv.status = models.ConversationCancelled
		conv.outcome = aggregate(conv, models.ConversationCancelled, now)
		conv.outcome.Error = ErrCancelled.Error()
	}
	planID := ""
	if conv.plan != nil {
		planID = conv.plan.ID
	}
	conv.mu.Unlock()

	debugLog("[planner] %s cancelled, %d task(s) stopped", id, len(affected))
	if cancel != nil {
		cancel()
	}
	if !running {
		p.emit(Event{
			Type:           EventConversationCancelled,
			ConversationID: id,
			PlanID:         planID,
			Phase:          -1,
			Message:        fmt.Sprintf("%d task(s) stopped", len(affected)),
		})
	}
	return nil
}

// Conversation returns a conversation by ID.
func (p *Planner) Conversation(id string) (*Conversation, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	conv, ok := p.conversations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	return conv, nil
}

// Conversations returns every live conversation, oldest first.
func (p *Planner) Conversations() []*Conversation {
	p.mu.RLock()
	out := make([]*Conversation, 0, len(p.conversations))
	for _, c := range p.conversations {
		out = append(out, c)
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].createdAt.Equal(out[j].createdAt) {
			return out[i].id < out[j].id
		}
		return out[i].createdAt.Before(out[j].createdAt)
	})
	return out
}

// WorkerStatus returns the health of one worker role.
func (p *Planner) WorkerStatus(role models.WorkerRole) (models.WorkerStatus, bool) {
	return p.delegator.Status(role)
}

// WorkerStatuses returns the health of every known worker role.
func (p *Planner) WorkerStatuses() []models.WorkerStatus {
	return p.delegator.Statuses()
}

// Mailbox returns the process-wide message queue.
func (p *Planner) Mailbox() *mailbox.Mailbox {
	return p.delegator.Mailbox()
}

// Registry returns the capability registry used for routing.
func (p *Planner) Registry() *capability.Registry {
	return p.registry
}

// Events returns the channel of planner events.
func (p *Planner) Events() <-chan Event {
	return p.emitter.Events()
}

// DroppedEvents returns how many events were dropped because nobody read them.
func (p *Planner) DroppedEvents() uint64 {
	return p.emitter.DroppedCount()
}

// Close closes the event channel and the debug logger.
func (p *Planner) Close() error {
	p.emitter.Close()
	return p.logger.Close()
}

func (p *Planner) emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = p.opts.now()
	}
	p.emitter.Emit(e)
}
