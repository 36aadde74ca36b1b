package orchestrator

import (
	"time"

	"github.com/ShayCichocki/sleuth/pkg/models"
)

// EventType represents the type of planner event.
type EventType string

const (
	// EventPlanCreated indicates a conversation's tasks were laid out into phases.
	EventPlanCreated EventType = "plan_created"
	// EventPhaseStarted indicates a phase is being dispatched.
	EventPhaseStarted EventType = "phase_started"
	// EventTaskDispatched indicates a task was handed to a worker.
	EventTaskDispatched EventType = "task_dispatched"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed.
	EventTaskFailed EventType = "task_failed"
	// EventTaskBlocked indicates a task will not run because a dependency failed.
	EventTaskBlocked EventType = "task_blocked"
	// EventConflictDetected indicates disagreeing results were resolved.
	EventConflictDetected EventType = "conflict_detected"
	// EventAdaptationApplied indicates the plan was changed.
	EventAdaptationApplied EventType = "adaptation_applied"
	// EventAdaptationPending indicates a plan change awaits approval.
	EventAdaptationPending EventType = "adaptation_pending"
	// EventPhaseCompleted indicates every task of a phase settled.
	EventPhaseCompleted EventType = "phase_completed"
	// EventConversationDone indicates the conversation reached completed or failed.
	EventConversationDone EventType = "conversation_done"
	// EventConversationCancelled indicates the conversation was cancelled.
	EventConversationCancelled EventType = "conversation_cancelled"
)

// Event represents an event emitted by the planner.
// These events are used to update the TUI and track progress.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// ConversationID is the conversation the event belongs to.
	ConversationID string
	// PlanID is the current plan, if any.
	PlanID string
	// Phase is the phase index for phase and task events, -1 otherwise.
	Phase int
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// TaskTitle is the title of the related task, if applicable.
	TaskTitle string
	// Role is the worker role a task was routed to.
	Role models.WorkerRole
	// AdaptationID is set for adaptation events.
	AdaptationID string
	// ConflictID is set for conflict events.
	ConflictID string
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// Duration is the task or phase duration, when known.
	Duration time.Duration
	// Confidence is the result or final confidence, when known.
	Confidence float64
}
