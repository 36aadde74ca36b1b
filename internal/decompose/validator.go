package decompose

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/sleuth/internal/capability"
	"github.com/ShayCichocki/sleuth/internal/graph"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

// ValidationResult contains the results of validating a task set.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// Validator checks task sets against the capability registry and common
// planning mistakes before they are handed to the planner.
type Validator struct {
	registry *capability.Registry
}

// NewValidator creates a validator. A nil registry skips capability checks.
func NewValidator(reg *capability.Registry) *Validator {
	return &Validator{registry: reg}
}

// Validate performs all checks. Errors make the set unusable; warnings do not.
func (v *Validator) Validate(tasks []*models.Task) ValidationResult {
	result := ValidationResult{
		Valid:    true,
		Errors:   []string{},
		Warnings: []string{},
	}
	if len(tasks) == 0 {
		result.Valid = false
		result.Errors = append(result.Errors, "No tasks")
		return result
	}

	v.validateStructure(tasks, &result)
	v.validateReferences(tasks, &result)
	if result.Valid {
		if err := graph.Validate(tasks); err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("Dependency cycle detected: %v", err))
		}
	}
	v.validateCapabilities(tasks, &result)
	v.checkAntiPatterns(tasks, &result)
	return result
}

func (v *Validator) validateStructure(tasks []*models.Task, result *ValidationResult) {
	ids := make(map[string]bool)
	for _, task := range tasks {
		if task.ID == "" {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("Task '%s': Missing id", task.Title))
		} else if ids[task.ID] {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("Task %s: Duplicate id", task.ID))
		}
		ids[task.ID] = true

		if task.Title == "" {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("Task %s: Missing title", task.ID))
		}
		if task.Type == "" {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("Task '%s': Missing type", task.Title))
		}
		if task.EstimatedDuration < 0 {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("Task '%s': Negative duration", task.Title))
		}
		if task.EstimatedDuration == 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Task '%s': No duration estimate (critical path will ignore it)", task.Title))
		}
	}
}

// validateReferences checks that all task dependencies reference valid tasks.
func (v *Validator) validateReferences(tasks []*models.Task, result *ValidationResult) {
	taskIDs := make(map[string]bool)
	for _, task := range tasks {
		taskIDs[task.ID] = true
	}

	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			if !taskIDs[depID] {
				result.Valid = false
				result.Errors = append(result.Errors,
					fmt.Sprintf("Task '%s': References non-existent dependency '%s'", task.Title, depID))
			}
		}
	}
}

func (v *Validator) validateCapabilities(tasks []*models.Task, result *ValidationResult) {
	if v.registry == nil {
		return
	}
	for _, task := range tasks {
		if !v.registry.Supports(task.Type) {
			result.Valid = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("Task '%s': No worker role handles type %s", task.Title, task.Type))
		}
	}
}

// checkAntiPatterns looks for common problematic patterns in plans.
func (v *Validator) checkAntiPatterns(tasks []*models.Task, result *ValidationResult) {
	byID := make(map[string]*models.Task, len(tasks))
	for _, task := range tasks {
		byID[task.ID] = task
	}

	// Evaluation work with nothing to evaluate.
	for _, task := range tasks {
		if task.Type.Stage() == models.StageEvaluation && len(task.DependsOn) == 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Task '%s': Evaluation task reads no gathered data", task.Title))
		}
	}

	// Gathering that waits on evaluation serializes the plan.
	for _, task := range tasks {
		if task.Type.Stage() != models.StageGathering {
			continue
		}
		for _, depID := range task.DependsOn {
			if dep := byID[depID]; dep != nil && dep.Type.Stage() == models.StageEvaluation && task.Type != models.TaskTypeFactCheck {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("Task '%s': Gathering task waits on evaluation task '%s'", task.Title, dep.Title))
			}
		}
	}

	// All tasks form a chain.
	if len(tasks) > 3 {
		roots := 0
		for _, task := range tasks {
			if len(task.DependsOn) == 0 {
				roots++
			}
		}
		if roots <= 1 {
			result.Warnings = append(result.Warnings,
				"Plan has minimal parallelism - most tasks form a dependency chain")
		}
	}

	titles := make(map[string]bool)
	for _, task := range tasks {
		key := strings.ToLower(task.Title)
		if titles[key] {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Task '%s': Duplicate title, references by title are ambiguous", task.Title))
		}
		titles[key] = true
	}
}
