package models

import "time"

// ConflictType describes what two results disagree about.
type ConflictType string

const (
	ConflictRiskAssessment ConflictType = "risk_assessment"
	ConflictRecommendation ConflictType = "recommendation"
	ConflictClaim          ConflictType = "claim"
)

// Resolution is the policy applied to a conflict.
type Resolution string

const (
	ResolutionPreferHigherConfidence Resolution = "prefer_higher_confidence"
	ResolutionMerge                  Resolution = "merge"
	ResolutionEscalate               Resolution = "escalate"
)

// ConflictRecord is the detection and resolution outcome for disagreeing results.
type ConflictRecord struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	TaskIDs        []string     `json:"task_ids"`
	Subject        string       `json:"subject"`
	Type           ConflictType `json:"type"`
	Resolution     Resolution   `json:"resolution"`
	// Escalate marks conflicts that could not be settled by confidence and
	// are candidates for plan adaptation.
	Escalate bool `json:"escalate"`
	// WinnerID is empty for merged resolutions.
	WinnerID string      `json:"winner_id,omitempty"`
	Resolved *TaskResult `json:"resolved"`
	// Candidates are snapshots of the disagreeing results, in TaskIDs order.
	Candidates []TaskResult `json:"candidates"`
	DetectedAt time.Time    `json:"detected_at"`
}
