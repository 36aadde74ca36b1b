package models

import "time"

// ConversationStatus is the lifecycle of one end-to-end request.
type ConversationStatus string

const (
	ConversationPlanning  ConversationStatus = "planning"
	ConversationPlanned   ConversationStatus = "planned"
	ConversationRunning   ConversationStatus = "running"
	ConversationCompleted ConversationStatus = "completed"
	ConversationFailed    ConversationStatus = "failed"
	ConversationCancelled ConversationStatus = "cancelled"
)

// Terminal returns true once the conversation will not change any more.
func (s ConversationStatus) Terminal() bool {
	return s == ConversationCompleted || s == ConversationFailed || s == ConversationCancelled
}

// Outcome is the final state of a conversation.
type Outcome struct {
	Status ConversationStatus `json:"status"`
	// Result aggregates the effective results of the completed tasks.
	Result *TaskResult `json:"result,omitempty"`
	// Confidence degrades with failed and blocked tasks.
	Confidence float64   `json:"confidence"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	Blocked    int       `json:"blocked"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// ConversationRecord is a point-in-time copy of a conversation, used for
// archival and status display.
type ConversationRecord struct {
	ID          string             `json:"id"`
	Request     string             `json:"request"`
	Status      ConversationStatus `json:"status"`
	PlanType    PlanType           `json:"plan_type"`
	Plan        *CoordinationPlan  `json:"plan,omitempty"`
	Tasks       []*Task            `json:"tasks"`
	Conflicts   []*ConflictRecord  `json:"conflicts,omitempty"`
	Adaptations []*PlanAdaptation  `json:"adaptations,omitempty"`
	Outcome     *Outcome           `json:"outcome,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}
