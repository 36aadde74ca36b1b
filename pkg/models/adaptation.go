package models

import "time"

// ChangeKind is the kind of structural change in an adaptation.
type ChangeKind string

const (
	ChangeAdd     ChangeKind = "add"
	ChangeRemove  ChangeKind = "remove"
	ChangeModify  ChangeKind = "modify"
	ChangeReorder ChangeKind = "reorder"
)

// TaskModification lists the fields a modify change overwrites. Nil fields are kept.
type TaskModification struct {
	EstimatedDuration *time.Duration `json:"estimated_duration,omitempty"`
	Priority          *Priority      `json:"priority,omitempty"`
	Role              *WorkerRole    `json:"role,omitempty"`
	Payload           Payload        `json:"-"`
	// ResetStatus returns a blocked or failed task to pending.
	ResetStatus bool `json:"reset_status,omitempty"`
}

// TaskChange is one entry of an adaptation change set.
type TaskChange struct {
	Kind ChangeKind `json:"kind"`
	// TaskID is the target of remove/modify/reorder, and the new ID for add.
	TaskID string `json:"task_id"`
	// Task is the task to insert for add changes.
	Task *Task `json:"task,omitempty"`
	// DependsOn is the new dependency list for reorder changes.
	DependsOn []string `json:"depends_on,omitempty"`
	// Modify holds the overwritten fields for modify changes.
	Modify *TaskModification `json:"modify,omitempty"`
	Reason string            `json:"reason,omitempty"`
}

// Finding is a piece of intermediate evidence fed to the adaptation engine.
type Finding struct {
	TaskID     string  `json:"task_id"`
	Summary    string  `json:"summary"`
	Confidence float64 `json:"confidence"`
	// Invalidates lists tasks whose premises the finding contradicts.
	Invalidates []string `json:"invalidates,omitempty"`
}

// AdaptationStatus is the lifecycle of a PlanAdaptation.
type AdaptationStatus string

const (
	AdaptationPending  AdaptationStatus = "pending"
	AdaptationApplied  AdaptationStatus = "applied"
	AdaptationRejected AdaptationStatus = "rejected"
)

// PlanAdaptation is a proposed or applied change to an in-flight plan.
type PlanAdaptation struct {
	ID             string       `json:"id"`
	PlanID         string       `json:"plan_id"`
	ConversationID string       `json:"conversation_id"`
	Trigger        string       `json:"trigger"`
	Evidence       []Finding    `json:"evidence,omitempty"`
	Changes        []TaskChange `json:"changes"`
	// Previous is the estimation before the change set.
	Previous *ResourceEstimation `json:"previous,omitempty"`
	// Estimation is the recalculated estimation under the change set.
	Estimation *ResourceEstimation `json:"estimation,omitempty"`
	// Impact is the relative change of the total duration.
	Impact           float64          `json:"impact"`
	Justification    string           `json:"justification"`
	ApprovalRequired bool             `json:"approval_required"`
	Status           AdaptationStatus `json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
}

// Count returns the number of changes of the given kind.
func (a *PlanAdaptation) Count(kind ChangeKind) int {
	n := 0
	for _, c := range a.Changes {
		if c.Kind == kind {
			n++
		}
	}
	return n
}
