package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not been dispatched.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusDispatched indicates the task was handed to a worker and is in flight.
	TaskStatusDispatched TaskStatus = "dispatched"
	// TaskStatusCompleted indicates the worker returned a result.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed (worker error, timeout, cancellation).
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusBlocked indicates a dependency failed and the task will not be dispatched.
	TaskStatusBlocked TaskStatus = "blocked"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusDispatched, TaskStatusCompleted, TaskStatusFailed, TaskStatusBlocked:
		return true
	default:
		return false
	}
}

// Terminal returns true for statuses a task never leaves on its own.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// FailureReason classifies why a task ended up failed or blocked.
type FailureReason string

const (
	FailureNone            FailureReason = ""
	FailureTimeout         FailureReason = "timeout"
	FailureCancelled       FailureReason = "cancelled"
	FailureWorkerError     FailureReason = "worker_error"
	FailureNoCapableWorker FailureReason = "no_capable_worker"
	FailureDependency      FailureReason = "dependency_failed"
)

// Stage is the logical planning stage a task was drawn from.
type Stage string

const (
	// StageGathering covers data-gathering work (retrieval, collection).
	StageGathering Stage = "gathering"
	// StageEvaluation covers work that reads gathered data (analysis, synthesis, review).
	StageEvaluation Stage = "evaluation"
)

// Priority is the declared importance of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	default:
		return false
	}
}

// Complexity is the expected difficulty of a task.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Valid returns true if the complexity is a known value.
func (c Complexity) Valid() bool {
	switch c {
	case ComplexityLow, ComplexityMedium, ComplexityHigh:
		return true
	default:
		return false
	}
}

// TaskType identifies the kind of work a task asks for.
type TaskType string

const (
	TaskTypeLiteratureReview     TaskType = "literature_review"
	TaskTypeDataCollection       TaskType = "data_collection"
	TaskTypeMarketResearch       TaskType = "market_research"
	TaskTypeFactCheck            TaskType = "fact_check"
	TaskTypeQuantitativeAnalysis TaskType = "quantitative_analysis"
	TaskTypeRiskAssessment       TaskType = "risk_assessment"
	TaskTypeTrendAnalysis        TaskType = "trend_analysis"
	TaskTypeComparativeAnalysis  TaskType = "comparative_analysis"
	TaskTypeSynthesis            TaskType = "synthesis"
	TaskTypeReportDrafting       TaskType = "report_drafting"
	TaskTypeComplianceCheck      TaskType = "compliance_check"
	TaskTypeRegulatoryReview     TaskType = "regulatory_review"
)

// Kind returns the payload family a task type belongs to.
// Unknown types default to PayloadResearch.
func (t TaskType) Kind() PayloadKind {
	switch t {
	case TaskTypeQuantitativeAnalysis, TaskTypeRiskAssessment, TaskTypeTrendAnalysis, TaskTypeComparativeAnalysis:
		return PayloadAnalysis
	case TaskTypeSynthesis, TaskTypeReportDrafting:
		return PayloadSynthesis
	case TaskTypeComplianceCheck, TaskTypeRegulatoryReview:
		return PayloadCompliance
	default:
		return PayloadResearch
	}
}

// Stage returns the planning stage a task type is drawn from.
func (t TaskType) Stage() Stage {
	if t.Kind() == PayloadResearch {
		return StageGathering
	}
	return StageEvaluation
}

// Task represents a unit of delegated work.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// Type is the kind of work requested.
	Type TaskType `json:"type"`
	// Stage is the planning stage the task was drawn from.
	Stage Stage `json:"stage"`
	// Domain is the subject area (finance, healthcare, ...), used for worker matching.
	Domain string `json:"domain,omitempty"`
	// Complexity is the expected difficulty, used for worker matching.
	Complexity Complexity `json:"complexity,omitempty"`
	// Priority is the declared importance; high priority tasks are always critical-path.
	Priority Priority `json:"priority,omitempty"`
	// Role is the worker role the task was assigned to.
	Role WorkerRole `json:"role,omitempty"`
	// Payload is the typed input handed to the worker.
	Payload Payload `json:"-"`
	// DependsOn lists task IDs that must reach a terminal state before this task.
	DependsOn []string `json:"depends_on,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// FailureReason classifies a failed or blocked task.
	FailureReason FailureReason `json:"failure_reason,omitempty"`
	// Error contains the error message if the task failed.
	Error string `json:"error,omitempty"`
	// BlockedReason explains a blocked status, e.g. "dependency_failed:<id>".
	BlockedReason string `json:"blocked_reason,omitempty"`
	// Result is the worker output. Opaque to the core apart from the conflict fields.
	Result *TaskResult `json:"result,omitempty"`
	// EstimatedDuration is the planning estimate supplied upstream.
	EstimatedDuration time.Duration `json:"estimated_duration"`
	// ActualDuration is the measured dispatch-to-settle time.
	ActualDuration time.Duration `json:"actual_duration,omitempty"`
	// Timeout overrides the delegator's default per-task timeout when non-zero.
	Timeout time.Duration `json:"timeout,omitempty"`
	// ExternalCalls overrides the estimator's default call count when non-zero.
	ExternalCalls int `json:"external_calls,omitempty"`
	// RetryOf is the ID of the failed task this task retries, if any.
	RetryOf string `json:"retry_of,omitempty"`
	// RetryCount is the number of retries in this task's lineage.
	RetryCount int `json:"retry_count,omitempty"`
	// SupplementOf is the task a fact-check or supplementary research task was added for.
	SupplementOf string `json:"supplement_of,omitempty"`
	// SupersededBy is set by the conflict resolver when another task's result won.
	SupersededBy string `json:"superseded_by,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// DispatchedAt is when the task was handed to a worker.
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	// CompletedAt is when the task settled (completed or failed).
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the task. The payload is shared since
// payload variants are immutable values.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.DependsOn != nil {
		c.DependsOn = append([]string(nil), t.DependsOn...)
	}
	if t.Result != nil {
		r := t.Result.Clone()
		c.Result = r
	}
	if t.DispatchedAt != nil {
		d := *t.DispatchedAt
		c.DispatchedAt = &d
	}
	if t.CompletedAt != nil {
		d := *t.CompletedAt
		c.CompletedAt = &d
	}
	return &c
}

// TaskResult is the structured output of a worker.
type TaskResult struct {
	// Subject is what the result makes claims about (a company, a drug, a market).
	Subject string `json:"subject"`
	// Category groups results for conflict detection (risk_assessment, recommendation, claim).
	Category string `json:"category"`
	// Claim is the normalized verdict, e.g. "high" for a risk level or "buy" for a recommendation.
	Claim string `json:"claim"`
	// Confidence is the worker's declared confidence in [0,1].
	Confidence float64 `json:"confidence"`
	// Summary is the narrative text of the result.
	Summary string `json:"summary"`
	// Findings lists individual observations.
	Findings []string `json:"findings,omitempty"`
	// Recommendations lists suggested actions.
	Recommendations []string `json:"recommendations,omitempty"`
	// Sources lists the references consulted.
	Sources []string `json:"sources,omitempty"`
	// Invalidates lists task IDs whose premises this result contradicts.
	Invalidates []string `json:"invalidates,omitempty"`
	// Raw is the unparsed worker output, kept for audit.
	Raw string `json:"raw,omitempty"`
	// Recovered is true when structured parsing failed and defaults were used.
	Recovered bool `json:"recovered,omitempty"`
	// Merged is true when the result was produced by merging conflicting results.
	Merged bool `json:"merged,omitempty"`
}

// Clone returns a deep copy of the result.
func (r *TaskResult) Clone() *TaskResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Findings = append([]string(nil), r.Findings...)
	c.Recommendations = append([]string(nil), r.Recommendations...)
	c.Sources = append([]string(nil), r.Sources...)
	c.Invalidates = append([]string(nil), r.Invalidates...)
	return &c
}
