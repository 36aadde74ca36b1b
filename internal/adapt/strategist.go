package adapt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/sleuth/internal/llm"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

// Triggers recognized by RuleStrategist.
const (
	TriggerTaskFailed        = "task_failed"
	TriggerConflictEscalated = "conflict_escalated"
	TriggerLowConfidence     = "low_confidence"
	TriggerNewEvidence       = "new_evidence"
)

// Input is what a strategist and the engine see when deciding on changes.
type Input struct {
	Plan *models.CoordinationPlan
	// Tasks is a snapshot of the conversation's tasks. Strategists must not mutate it.
	Tasks     []*models.Task
	Findings  []models.Finding
	Conflicts []*models.ConflictRecord
	Trigger   string
}

// Strategist decides the change set for a trigger.
type Strategist interface {
	Decide(ctx context.Context, in Input) ([]models.TaskChange, string, error)
}

// RuleStrategist is the default deterministic strategist.
type RuleStrategist struct {
	// MaxRetries caps retries per task lineage.
	MaxRetries int
	// LowConfidence is the threshold below which a finding gets supplementary research.
	LowConfidence float64
	// DefaultDuration is used for added tasks when no better estimate exists.
	DefaultDuration time.Duration
	// NewID generates task IDs. Defaults to uuid.
	NewID func() string
}

var _ Strategist = (*RuleStrategist)(nil)

// NewRuleStrategist returns a RuleStrategist with conservative defaults.
func NewRuleStrategist() *RuleStrategist {
	return &RuleStrategist{
		MaxRetries:      1,
		LowConfidence:   0.5,
		DefaultDuration: 2 * time.Minute,
	}
}

func (s *RuleStrategist) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.New().String()
}

// Decide builds the change set. Findings that invalidate tasks always
// produce removals, whatever the trigger.
func (s *RuleStrategist) Decide(ctx context.Context, in Input) ([]models.TaskChange, string, error) {
	index := make(map[string]*models.Task, len(in.Tasks))
	for _, t := range in.Tasks {
		index[t.ID] = t
	}

	var changes []models.TaskChange
	var reasons []string
	rw := newRewiring(in.Tasks)

	switch in.Trigger {
	case TriggerTaskFailed:
		c, r := s.retries(in.Tasks, rw)
		changes, reasons = append(changes, c...), append(reasons, r...)
	case TriggerConflictEscalated:
		c, r := s.factChecks(in.Tasks, index, in.Conflicts, rw)
		changes, reasons = append(changes, c...), append(reasons, r...)
	case TriggerLowConfidence:
		c, r := s.supplements(in.Tasks, index, in.Findings, rw)
		changes, reasons = append(changes, c...), append(reasons, r...)
	}
	// Reorders follow every add so they may name any task added above.
	changes = append(changes, rw.changes()...)

	c, r := s.removals(index, in.Findings)
	changes, reasons = append(changes, c...), append(reasons, r...)

	return changes, strings.Join(reasons, "; "), nil
}

func (s *RuleStrategist) retries(tasks []*models.Task, rw *rewiring) ([]models.TaskChange, []string) {
	retried := make(map[string]bool)
	for _, t := range tasks {
		if t.RetryOf != "" {
			retried[t.RetryOf] = true
		}
	}

	var changes []models.TaskChange
	var reasons []string
	for _, failed := range tasks {
		if failed.Status != models.TaskStatusFailed || retried[failed.ID] {
			continue
		}
		// Retrying cannot help when nobody can run the task or the user stopped it.
		if failed.FailureReason == models.FailureNoCapableWorker || failed.FailureReason == models.FailureCancelled {
			continue
		}
		if failed.RetryCount >= s.MaxRetries {
			continue
		}

		retry := &models.Task{
			ID:                s.newID(),
			Title:             failed.Title,
			Description:       failed.Description,
			Type:              failed.Type,
			Stage:             failed.Stage,
			Domain:            failed.Domain,
			Complexity:        failed.Complexity,
			Priority:          failed.Priority,
			Role:              failed.Role,
			Payload:           failed.Payload,
			DependsOn:         append([]string(nil), failed.DependsOn...),
			EstimatedDuration: failed.EstimatedDuration,
			Timeout:           failed.Timeout,
			ExternalCalls:     failed.ExternalCalls,
			RetryOf:           failed.ID,
			RetryCount:        failed.RetryCount + 1,
		}
		// A timed-out task gets more room on the retry.
		if failed.FailureReason == models.FailureTimeout && failed.Timeout > 0 {
			retry.Timeout = failed.Timeout * 2
		}
		changes = append(changes, models.TaskChange{
			Kind:   models.ChangeAdd,
			TaskID: retry.ID,
			Task:   retry,
			Reason: fmt.Sprintf("retry %s after %s", failed.ID, failed.FailureReason),
		})
		rw.repoint(failed.ID, retry.ID, true)
		reasons = append(reasons, fmt.Sprintf("task %q failed (%s), scheduling retry", failed.Title, failed.FailureReason))
	}
	return changes, reasons
}

// rewiring collects dependency edits per dependent so that several
// substitutions on one task end up in a single reorder.
type rewiring struct {
	tasks []*models.Task
	deps  map[string][]string
	why   map[string][]string
}

func newRewiring(tasks []*models.Task) *rewiring {
	return &rewiring{
		tasks: tasks,
		deps:  make(map[string][]string),
		why:   make(map[string][]string),
	}
}

// repoint moves dependents of from onto to. With replace the old edge is
// dropped, otherwise the new one is added alongside it. Edits stack on
// whatever earlier calls already did to the same dependent.
func (r *rewiring) repoint(from, to string, replace bool) {
	for _, t := range r.tasks {
		if t.Status != models.TaskStatusPending && t.Status != models.TaskStatusBlocked {
			continue
		}
		deps, edited := r.deps[t.ID]
		if !edited {
			deps = t.DependsOn
		}
		if !contains(deps, from) || contains(deps, to) {
			continue
		}
		next := make([]string, 0, len(deps)+1)
		for _, d := range deps {
			if d == from && replace {
				continue
			}
			next = append(next, d)
		}
		r.deps[t.ID] = append(next, to)
		if replace {
			r.why[t.ID] = append(r.why[t.ID], fmt.Sprintf("wait for %s instead of %s", to, from))
		} else {
			r.why[t.ID] = append(r.why[t.ID], fmt.Sprintf("also wait for %s after %s", to, from))
		}
	}
}

// changes returns one reorder per edited dependent, in task order.
func (r *rewiring) changes() []models.TaskChange {
	var out []models.TaskChange
	for _, t := range r.tasks {
		deps, ok := r.deps[t.ID]
		if !ok {
			continue
		}
		out = append(out, models.TaskChange{
			Kind:      models.ChangeReorder,
			TaskID:    t.ID,
			DependsOn: deps,
			Reason:    strings.Join(r.why[t.ID], "; "),
		})
	}
	return out
}

func (s *RuleStrategist) factChecks(tasks []*models.Task, index map[string]*models.Task, conflicts []*models.ConflictRecord, rw *rewiring) ([]models.TaskChange, []string) {
	checked := make(map[string]bool)
	for _, t := range tasks {
		if t.SupplementOf != "" {
			checked[t.SupplementOf] = true
		}
	}

	var changes []models.TaskChange
	var reasons []string
	for _, rec := range conflicts {
		if !rec.Escalate || checked[rec.ID] {
			continue
		}
		var dur time.Duration
		var domain string
		for _, id := range rec.TaskIDs {
			if t, ok := index[id]; ok {
				dur += t.EstimatedDuration
				if domain == "" {
					domain = t.Domain
				}
			}
		}
		if n := len(rec.TaskIDs); n > 0 && dur > 0 {
			dur /= time.Duration(n)
		} else {
			dur = s.DefaultDuration
		}

		var claims []string
		for _, c := range rec.Candidates {
			claims = append(claims, c.Claim)
		}
		check := &models.Task{
			ID:          s.newID(),
			Title:       "Fact-check " + rec.Subject,
			Description: fmt.Sprintf("Resolve conflicting %s findings about %s: %s", rec.Type, rec.Subject, strings.Join(claims, " vs ")),
			Type:        models.TaskTypeFactCheck,
			Stage:       models.StageGathering,
			Domain:      domain,
			Complexity:  models.ComplexityMedium,
			Priority:    models.PriorityHigh,
			Payload: models.ResearchPayload{
				Query: fmt.Sprintf("Which is correct for %s: %s?", rec.Subject, strings.Join(claims, " or ")),
				Depth: "deep",
			},
			DependsOn:         append([]string(nil), rec.TaskIDs...),
			EstimatedDuration: dur,
			SupplementOf:      rec.ID,
		}
		changes = append(changes, models.TaskChange{
			Kind:   models.ChangeAdd,
			TaskID: check.ID,
			Task:   check,
			Reason: "conflict " + rec.ID + " could not be settled by confidence",
		})
		for _, id := range rec.TaskIDs {
			rw.repoint(id, check.ID, false)
		}
		reasons = append(reasons, fmt.Sprintf("equally confident results disagree on %s, adding a fact-check", rec.Subject))
	}
	return changes, reasons
}

func (s *RuleStrategist) supplements(tasks []*models.Task, index map[string]*models.Task, findings []models.Finding, rw *rewiring) ([]models.TaskChange, []string) {
	supplemented := make(map[string]bool)
	for _, t := range tasks {
		if t.SupplementOf != "" {
			supplemented[t.SupplementOf] = true
		}
	}

	var changes []models.TaskChange
	var reasons []string
	for _, f := range findings {
		src, ok := index[f.TaskID]
		if !ok || f.Confidence >= s.LowConfidence || supplemented[f.TaskID] {
			continue
		}
		supplemented[f.TaskID] = true

		query := src.Title
		if p, ok := src.Payload.(models.ResearchPayload); ok && p.Query != "" {
			query = p.Query
		}
		extra := &models.Task{
			ID:                s.newID(),
			Title:             "Supplementary research: " + src.Title,
			Description:       fmt.Sprintf("Corroborate low-confidence finding (%.2f): %s", f.Confidence, f.Summary),
			Type:              models.TaskTypeDataCollection,
			Stage:             models.StageGathering,
			Domain:            src.Domain,
			Complexity:        src.Complexity,
			Priority:          models.PriorityNormal,
			Payload:           models.ResearchPayload{Query: query, Depth: "deep"},
			EstimatedDuration: s.DefaultDuration,
			SupplementOf:      src.ID,
		}
		if src.EstimatedDuration > 0 {
			extra.EstimatedDuration = src.EstimatedDuration
		}
		changes = append(changes, models.TaskChange{
			Kind:   models.ChangeAdd,
			TaskID: extra.ID,
			Task:   extra,
			Reason: fmt.Sprintf("finding from %s has confidence %.2f", src.ID, f.Confidence),
		})
		rw.repoint(src.ID, extra.ID, false)
		reasons = append(reasons, fmt.Sprintf("low confidence (%.2f) on %q, adding supplementary research", f.Confidence, src.Title))
	}
	return changes, reasons
}

func (s *RuleStrategist) removals(index map[string]*models.Task, findings []models.Finding) ([]models.TaskChange, []string) {
	targets := make(map[string]string)
	for _, f := range findings {
		for _, id := range f.Invalidates {
			t, ok := index[id]
			if !ok || t.Status == models.TaskStatusDispatched || t.Status == models.TaskStatusCompleted {
				continue
			}
			if _, dup := targets[id]; !dup {
				targets[id] = f.TaskID
			}
		}
	}
	ids := make([]string, 0, len(targets))
	for id := range targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var changes []models.TaskChange
	var reasons []string
	for _, id := range ids {
		changes = append(changes, models.TaskChange{
			Kind:   models.ChangeRemove,
			TaskID: id,
			Reason: "invalidated by findings of " + targets[id],
		})
		reasons = append(reasons, fmt.Sprintf("findings of %s invalidate the premise of %q", targets[id], index[id].Title))
	}
	return changes, reasons
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// LLMStrategist asks the completion service for a change set and falls
// back to another strategist when the reply cannot be used.
type LLMStrategist struct {
	completer llm.Completer
	fallback  Strategist
	newID     func() string
	debugLog  func(format string, args ...interface{})
}

var _ Strategist = (*LLMStrategist)(nil)

// NewLLMStrategist creates an LLMStrategist. A nil fallback uses NewRuleStrategist.
func NewLLMStrategist(c llm.Completer, fallback Strategist) *LLMStrategist {
	if fallback == nil {
		fallback = NewRuleStrategist()
	}
	return &LLMStrategist{
		completer: c,
		fallback:  fallback,
		newID:     func() string { return uuid.New().String() },
		debugLog:  func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (s *LLMStrategist) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		s.debugLog = fn
	}
}

// llmPlan is the JSON shape requested from the model.
type llmPlan struct {
	Justification string      `json:"justification"`
	Changes       []llmChange `json:"changes"`
}

type llmChange struct {
	Kind             string   `json:"kind"`
	TaskID           string   `json:"task_id"`
	Title            string   `json:"title"`
	Type             string   `json:"type"`
	DependsOn        []string `json:"depends_on"`
	EstimatedSeconds int      `json:"estimated_seconds"`
	Priority         string   `json:"priority"`
	ResetStatus      bool     `json:"reset_status"`
	Reason           string   `json:"reason"`
}

const strategistSystem = `You revise research plans. Reply with JSON only:
{"justification": "...", "changes": [{"kind": "add|remove|modify|reorder", "task_id": "...", "title": "...", "type": "...", "depends_on": ["..."], "estimated_seconds": 0, "priority": "low|normal|high", "reset_status": false, "reason": "..."}]}
Use existing task ids for remove, modify and reorder. For add, task_id may be omitted. Return an empty change list when no change is needed.`

// Decide asks the model and converts its answer. Any failure, including an
// unparseable answer, defers to the fallback.
func (s *LLMStrategist) Decide(ctx context.Context, in Input) ([]models.TaskChange, string, error) {
	raw, err := s.completer.Complete(ctx, strategistSystem, s.prompt(in))
	if err != nil {
		s.debugLog("[adapt.LLMStrategist] completion failed, using fallback: %v", err)
		return s.fallback.Decide(ctx, in)
	}

	plan := llm.ParseJSON[llmPlan](raw).OrElse(func(err error) llmPlan {
		s.debugLog("[adapt.LLMStrategist] %v", err)
		return llmPlan{}
	})
	changes, err := s.convert(in, plan.Changes)
	if err != nil || len(changes) == 0 {
		if err != nil {
			s.debugLog("[adapt.LLMStrategist] unusable change set, using fallback: %v", err)
		}
		return s.fallback.Decide(ctx, in)
	}
	return changes, plan.Justification, nil
}

func (s *LLMStrategist) prompt(in Input) string {
	type taskView struct {
		ID        string   `json:"id"`
		Title     string   `json:"title"`
		Type      string   `json:"type"`
		Status    string   `json:"status"`
		DependsOn []string `json:"depends_on,omitempty"`
		Failure   string   `json:"failure,omitempty"`
		Claim     string   `json:"claim,omitempty"`
		Conf      float64  `json:"confidence,omitempty"`
	}
	views := make([]taskView, 0, len(in.Tasks))
	for _, t := range in.Tasks {
		v := taskView{ID: t.ID, Title: t.Title, Type: string(t.Type), Status: string(t.Status), DependsOn: t.DependsOn, Failure: string(t.FailureReason)}
		if t.Result != nil {
			v.Claim, v.Conf = t.Result.Claim, t.Result.Confidence
		}
		views = append(views, v)
	}
	tasksJSON, _ := json.MarshalIndent(views, "", "  ")
	findingsJSON, _ := json.MarshalIndent(in.Findings, "", "  ")

	return fmt.Sprintf("Trigger: %s\n\nTasks:\n%s\n\nFindings:\n%s\n", in.Trigger, tasksJSON, findingsJSON)
}

func (s *LLMStrategist) convert(in Input, raw []llmChange) ([]models.TaskChange, error) {
	known := make(map[string]*models.Task, len(in.Tasks))
	for _, t := range in.Tasks {
		known[t.ID] = t
	}

	var out []models.TaskChange
	for i, c := range raw {
		kind := models.ChangeKind(strings.ToLower(c.Kind))
		switch kind {
		case models.ChangeAdd:
			typ := models.TaskType(c.Type)
			if c.Title == "" || typ == "" {
				return nil, fmt.Errorf("change %d: add needs title and type", i)
			}
			id := c.TaskID
			if id == "" || known[id] != nil {
				id = s.newID()
			}
			prio := models.Priority(c.Priority)
			if !prio.Valid() {
				prio = models.PriorityNormal
			}
			t := &models.Task{
				ID:                id,
				Title:             c.Title,
				Type:              typ,
				Stage:             typ.Stage(),
				Priority:          prio,
				DependsOn:         c.DependsOn,
				EstimatedDuration: time.Duration(c.EstimatedSeconds) * time.Second,
			}
			out = append(out, models.TaskChange{Kind: kind, TaskID: id, Task: t, Reason: c.Reason})
		case models.ChangeRemove:
			if known[c.TaskID] == nil {
				return nil, fmt.Errorf("change %d: unknown task %s", i, c.TaskID)
			}
			out = append(out, models.TaskChange{Kind: kind, TaskID: c.TaskID, Reason: c.Reason})
		case models.ChangeReorder:
			if known[c.TaskID] == nil {
				return nil, fmt.Errorf("change %d: unknown task %s", i, c.TaskID)
			}
			out = append(out, models.TaskChange{Kind: kind, TaskID: c.TaskID, DependsOn: c.DependsOn, Reason: c.Reason})
		case models.ChangeModify:
			if known[c.TaskID] == nil {
				return nil, fmt.Errorf("change %d: unknown task %s", i, c.TaskID)
			}
			m := &models.TaskModification{ResetStatus: c.ResetStatus}
			if c.EstimatedSeconds > 0 {
				d := time.Duration(c.EstimatedSeconds) * time.Second
				m.EstimatedDuration = &d
			}
			if p := models.Priority(c.Priority); p.Valid() {
				m.Priority = &p
			}
			out = append(out, models.TaskChange{Kind: kind, TaskID: c.TaskID, Modify: m, Reason: c.Reason})
		default:
			return nil, fmt.Errorf("change %d: unknown kind %q", i, c.Kind)
		}
	}
	return out, nil
}
