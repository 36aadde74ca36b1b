package adapt

import (
	"fmt"
	"time"

	"github.com/ShayCichocki/sleuth/internal/graph"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

// applyChanges applies a change set to tasks in place and returns the new
// task list. Removed tasks hand their dependencies to their dependents.
// Afterwards blocked/pending statuses are recomputed from dependency
// outcomes and the result is checked for cycles.
func applyChanges(tasks []*models.Task, changes []models.TaskChange, now time.Time) ([]*models.Task, error) {
	tasks = append([]*models.Task(nil), tasks...)
	index := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		index[t.ID] = t
	}

	for i, c := range changes {
		switch c.Kind {
		case models.ChangeAdd:
			if c.Task == nil {
				return nil, fmt.Errorf("change %d: add without task", i)
			}
			t := c.Task.Clone()
			if t.ID == "" {
				t.ID = c.TaskID
			}
			if t.ID == "" {
				return nil, fmt.Errorf("change %d: add without task id", i)
			}
			if _, exists := index[t.ID]; exists {
				return nil, fmt.Errorf("change %d: task %s already exists", i, t.ID)
			}
			if t.Status == "" {
				t.Status = models.TaskStatusPending
			}
			if t.Stage == "" {
				t.Stage = t.Type.Stage()
			}
			if t.Payload == nil {
				t.Payload = models.DefaultPayload(t.Type, t.Title)
			}
			if t.CreatedAt.IsZero() {
				t.CreatedAt = now
			}
			index[t.ID] = t
			tasks = append(tasks, t)

		case models.ChangeRemove:
			victim, ok := index[c.TaskID]
			if !ok {
				return nil, fmt.Errorf("change %d: remove unknown task %s", i, c.TaskID)
			}
			if victim.Status == models.TaskStatusDispatched {
				return nil, fmt.Errorf("change %d: cannot remove dispatched task %s", i, c.TaskID)
			}
			delete(index, c.TaskID)
			kept := tasks[:0]
			for _, t := range tasks {
				if t.ID == c.TaskID {
					continue
				}
				t.DependsOn = inherit(t.DependsOn, c.TaskID, victim.DependsOn)
				kept = append(kept, t)
			}
			tasks = kept

		case models.ChangeModify:
			t, ok := index[c.TaskID]
			if !ok {
				return nil, fmt.Errorf("change %d: modify unknown task %s", i, c.TaskID)
			}
			if c.Modify == nil {
				return nil, fmt.Errorf("change %d: modify without fields", i)
			}
			m := c.Modify
			if m.EstimatedDuration != nil {
				t.EstimatedDuration = *m.EstimatedDuration
			}
			if m.Priority != nil {
				t.Priority = *m.Priority
			}
			if m.Role != nil {
				t.Role = *m.Role
			}
			if m.Payload != nil {
				t.Payload = m.Payload
			}
			if m.ResetStatus && (t.Status == models.TaskStatusFailed || t.Status == models.TaskStatusBlocked) {
				reset(t)
			}

		case models.ChangeReorder:
			t, ok := index[c.TaskID]
			if !ok {
				return nil, fmt.Errorf("change %d: reorder unknown task %s", i, c.TaskID)
			}
			for _, dep := range c.DependsOn {
				if _, ok := index[dep]; !ok {
					return nil, fmt.Errorf("change %d: task %s cannot depend on unknown task %s", i, c.TaskID, dep)
				}
			}
			t.DependsOn = append([]string(nil), c.DependsOn...)

		default:
			return nil, fmt.Errorf("change %d: unknown kind %q", i, c.Kind)
		}
	}

	if _, err := RefreshBlocked(tasks); err != nil {
		return nil, fmt.Errorf("change set breaks the dependency graph: %w", err)
	}
	return tasks, nil
}

// inherit replaces removed in deps with its own dependencies, deduplicated.
func inherit(deps []string, removed string, replacement []string) []string {
	found := false
	for _, d := range deps {
		if d == removed {
			found = true
			break
		}
	}
	if !found {
		return deps
	}
	seen := make(map[string]bool)
	var out []string
	for _, d := range deps {
		if d == removed {
			for _, r := range replacement {
				if !seen[r] {
					seen[r] = true
					out = append(out, r)
				}
			}
			continue
		}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}

func reset(t *models.Task) {
	t.Status = models.TaskStatusPending
	t.FailureReason = models.FailureNone
	t.Error = ""
	t.BlockedReason = ""
	t.Result = nil
	t.DispatchedAt = nil
	t.CompletedAt = nil
	t.ActualDuration = 0
}

// RefreshBlocked walks tasks in dependency order. A pending or blocked task
// with a failed or blocked dependency becomes blocked; a blocked task whose
// dependencies have all recovered returns to pending. It returns the tasks
// that became blocked.
func RefreshBlocked(tasks []*models.Task) ([]*models.Task, error) {
	g := graph.New()
	if err := g.Build(tasks); err != nil {
		return nil, err
	}
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	var blocked []*models.Task

	for _, id := range order {
		t := g.GetTask(id)
		if t.Status != models.TaskStatusPending && t.Status != models.TaskStatusBlocked {
			continue
		}
		var cause string
		for _, depID := range t.DependsOn {
			dep := g.GetTask(depID)
			switch dep.Status {
			case models.TaskStatusFailed:
				cause = "dependency_failed:" + dep.ID
			case models.TaskStatusBlocked:
				cause = dep.BlockedReason
				if cause == "" {
					cause = "dependency_blocked:" + dep.ID
				}
			}
			if cause != "" {
				break
			}
		}
		switch {
		case cause != "":
			if t.Status != models.TaskStatusBlocked {
				blocked = append(blocked, t)
			}
			t.Status = models.TaskStatusBlocked
			t.FailureReason = models.FailureDependency
			t.BlockedReason = cause
		case t.Status == models.TaskStatusBlocked:
			t.Status = models.TaskStatusPending
			t.FailureReason = models.FailureNone
			t.BlockedReason = ""
		}
	}
	return blocked, nil
}

func cloneTasks(tasks []*models.Task) []*models.Task {
	out := make([]*models.Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}
