package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ShayCichocki/sleuth/internal/graph"
)

var (
	// ErrConversationNotFound is returned for unknown conversation IDs.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrCancelled is returned by ExecutePlan when the conversation was cancelled.
	ErrCancelled = errors.New("conversation cancelled")
	// ErrPlanNotApproved is returned by ExecutePlan for a draft plan awaiting approval.
	ErrPlanNotApproved = errors.New("plan not approved")
)

// CyclicPlanError is returned by CreatePlan when the tasks' dependencies
// form a cycle. No plan is stored on the conversation.
type CyclicPlanError struct {
	ConversationID string
	Cycle          *graph.CycleError
}

func (e *CyclicPlanError) Error() string {
	return fmt.Sprintf("conversation %s: cannot plan: %v", e.ConversationID, e.Cycle)
}

func (e *CyclicPlanError) Unwrap() error { return e.Cycle }

// PhaseFailedError aborts a conversation when every task dispatched in a
// phase failed and no adaptation recovered them.
type PhaseFailedError struct {
	ConversationID string
	Phase          int
	TaskIDs        []string
}

func (e *PhaseFailedError) Error() string {
	return fmt.Sprintf("conversation %s: all %d task(s) of phase %d failed: %s",
		e.ConversationID, len(e.TaskIDs), e.Phase, strings.Join(e.TaskIDs, ", "))
}
