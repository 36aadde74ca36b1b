package models

import "time"

// TaskDependency is the derived scheduling view of a task.
type TaskDependency struct {
	// TaskID is the task this view describes.
	TaskID string `json:"task_id"`
	// DependsOn lists tasks that must complete first.
	DependsOn []string `json:"depends_on"`
	// BlockedBy lists tasks waiting on this one; the inverse of DependsOn across the graph.
	BlockedBy []string `json:"blocked_by"`
	// CriticalPath is true for high priority tasks and tasks with zero slack.
	CriticalPath bool `json:"critical_path"`
	// EstimatedDuration is the planning estimate.
	EstimatedDuration time.Duration `json:"estimated_duration"`
	// ActualDuration is the measured duration once the task settles.
	ActualDuration time.Duration `json:"actual_duration"`
	// EarliestStart is the max earliest finish of the dependencies.
	EarliestStart time.Duration `json:"earliest_start"`
	// EarliestFinish is EarliestStart plus EstimatedDuration.
	EarliestFinish time.Duration `json:"earliest_finish"`
	// Slack is how far the task can slip without delaying the plan.
	Slack time.Duration `json:"slack"`
}
