package models

import (
	"fmt"
	"time"
)

// PlanStatus is the lifecycle state of a CoordinationPlan.
type PlanStatus string

const (
	PlanDraft     PlanStatus = "draft"
	PlanApproved  PlanStatus = "approved"
	PlanActive    PlanStatus = "active"
	PlanCompleted PlanStatus = "completed"
	PlanAdapted   PlanStatus = "adapted"
	PlanFailed    PlanStatus = "failed"
	PlanCancelled PlanStatus = "cancelled"
)

// PlanType selects the planning profile of a request.
type PlanType string

const (
	PlanStandard      PlanType = "standard"
	PlanExpedited     PlanType = "expedited"
	PlanComprehensive PlanType = "comprehensive"
)

// Valid returns true if the plan type is a known value.
func (t PlanType) Valid() bool {
	switch t {
	case PlanStandard, PlanExpedited, PlanComprehensive:
		return true
	default:
		return false
	}
}

// Phase is a set of tasks that can be dispatched concurrently.
type Phase struct {
	// Index is the zero-based position of the phase in the plan.
	Index int `json:"index"`
	// TaskIDs lists the tasks of the phase in planning order.
	TaskIDs []string `json:"task_ids"`
}

// CoordinationPlan is an ordered list of phases.
type CoordinationPlan struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversation_id"`
	Type           PlanType            `json:"type"`
	Status         PlanStatus          `json:"status"`
	Phases         []Phase             `json:"phases"`
	Estimation     *ResourceEstimation `json:"estimation,omitempty"`
	// CriticalPath lists critical task IDs in topological order.
	CriticalPath []string `json:"critical_path,omitempty"`
	// Version increments every time the phases are recomputed.
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PhaseOf returns the phase index holding the task, or -1.
func (p *CoordinationPlan) PhaseOf(taskID string) int {
	for _, ph := range p.Phases {
		for _, id := range ph.TaskIDs {
			if id == taskID {
				return ph.Index
			}
		}
	}
	return -1
}

// TaskCount returns the number of scheduled tasks.
func (p *CoordinationPlan) TaskCount() int {
	n := 0
	for _, ph := range p.Phases {
		n += len(ph.TaskIDs)
	}
	return n
}

func (p *CoordinationPlan) String() string {
	return fmt.Sprintf("plan %s (%s, %s, %d phases, v%d)", p.ID, p.Type, p.Status, len(p.Phases), p.Version)
}
