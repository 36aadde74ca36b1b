// Package adapt decides, costs and applies structural changes to a running plan.
package adapt

import (
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/sleuth/pkg/models"
)

// ErrInvalidTransition is returned for plan status changes the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid plan transition")

var transitions = map[models.PlanStatus][]models.PlanStatus{
	models.PlanDraft:    {models.PlanApproved, models.PlanCancelled, models.PlanFailed},
	models.PlanApproved: {models.PlanActive, models.PlanCancelled, models.PlanFailed},
	models.PlanActive:   {models.PlanCompleted, models.PlanAdapted, models.PlanCancelled, models.PlanFailed},
	models.PlanAdapted:  {models.PlanActive, models.PlanCancelled, models.PlanFailed},
}

// CanTransition reports whether a plan may move from one status to another.
func CanTransition(from, to models.PlanStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the plan to status to, or returns an error wrapping
// ErrInvalidTransition.
func Transition(p *models.CoordinationPlan, to models.PlanStatus) error {
	if !CanTransition(p.Status, to) {
		return fmt.Errorf("plan %s: %s -> %s: %w", p.ID, p.Status, to, ErrInvalidTransition)
	}
	p.Status = to
	p.UpdatedAt = time.Now()
	return nil
}

// Terminal reports whether a plan status is final.
func Terminal(s models.PlanStatus) bool {
	return len(transitions[s]) == 0
}
