package models

import (
	"testing"
	"time"
)

func TestTaskStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status TaskStatus
		want   bool
	}{
		{"pending is valid", TaskStatusPending, true},
		{"dispatched is valid", TaskStatusDispatched, true},
		{"completed is valid", TaskStatusCompleted, true},
		{"failed is valid", TaskStatusFailed, true},
		{"blocked is valid", TaskStatusBlocked, true},
		{"empty string is invalid", TaskStatus(""), false},
		{"unknown status is invalid", TaskStatus("unknown"), false},
		{"in_progress is invalid", TaskStatus("in_progress"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("TaskStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   bool
	}{
		{TaskStatusPending, false},
		{TaskStatusDispatched, false},
		{TaskStatusBlocked, false},
		{TaskStatusCompleted, true},
		{TaskStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("TaskStatus(%q).Terminal() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTaskType_KindAndStage(t *testing.T) {
	tests := []struct {
		taskType  TaskType
		wantKind  PayloadKind
		wantStage Stage
	}{
		{TaskTypeLiteratureReview, PayloadResearch, StageGathering},
		{TaskTypeDataCollection, PayloadResearch, StageGathering},
		{TaskTypeFactCheck, PayloadResearch, StageGathering},
		{TaskTypeRiskAssessment, PayloadAnalysis, StageEvaluation},
		{TaskTypeQuantitativeAnalysis, PayloadAnalysis, StageEvaluation},
		{TaskTypeSynthesis, PayloadSynthesis, StageEvaluation},
		{TaskTypeRegulatoryReview, PayloadCompliance, StageEvaluation},
		{TaskType("something_new"), PayloadResearch, StageGathering},
	}

	for _, tt := range tests {
		t.Run(string(tt.taskType), func(t *testing.T) {
			if got := tt.taskType.Kind(); got != tt.wantKind {
				t.Errorf("Kind() = %q, want %q", got, tt.wantKind)
			}
			if got := tt.taskType.Stage(); got != tt.wantStage {
				t.Errorf("Stage() = %q, want %q", got, tt.wantStage)
			}
		})
	}
}

func TestTask_DefaultValues(t *testing.T) {
	task := Task{}

	if task.ID != "" {
		t.Errorf("Task.ID default should be empty string, got %q", task.ID)
	}
	if task.Status != "" {
		t.Errorf("Task.Status default should be empty string, got %q", task.Status)
	}
	if task.DependsOn != nil {
		t.Errorf("Task.DependsOn default should be nil, got %v", task.DependsOn)
	}
	if task.Result != nil {
		t.Errorf("Task.Result default should be nil, got %v", task.Result)
	}
	if task.CompletedAt != nil {
		t.Errorf("Task.CompletedAt default should be nil, got %v", task.CompletedAt)
	}
}

func TestTask_CloneIsDeep(t *testing.T) {
	now := time.Now()
	orig := &Task{
		ID:          "task-1",
		DependsOn:   []string{"a", "b"},
		Result:      &TaskResult{Claim: "high", Findings: []string{"f1"}},
		CompletedAt: &now,
		Payload:     ResearchPayload{Query: "q"},
	}

	c := orig.Clone()
	c.DependsOn[0] = "changed"
	c.Result.Findings[0] = "changed"
	later := now.Add(time.Hour)
	*c.CompletedAt = later

	if orig.DependsOn[0] != "a" {
		t.Errorf("clone shares DependsOn backing array")
	}
	if orig.Result.Findings[0] != "f1" {
		t.Errorf("clone shares Result.Findings")
	}
	if !orig.CompletedAt.Equal(now) {
		t.Errorf("clone shares CompletedAt pointer")
	}
	if c.Payload.Kind() != PayloadResearch {
		t.Errorf("clone lost payload, got %v", c.Payload)
	}
}

func TestTask_CloneNil(t *testing.T) {
	var task *Task
	if task.Clone() != nil {
		t.Error("Clone of nil task should be nil")
	}
}

func TestPriorityAndComplexity_Valid(t *testing.T) {
	if !PriorityHigh.Valid() || Priority("urgent").Valid() {
		t.Error("Priority.Valid mismatch")
	}
	if !ComplexityMedium.Valid() || Complexity("extreme").Valid() {
		t.Error("Complexity.Valid mismatch")
	}
}
