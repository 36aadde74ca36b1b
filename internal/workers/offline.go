package workers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/sleuth/internal/delegate"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

// OfflineWorker answers every request with a deterministic result derived
// from the request alone. It backs dry runs and --offline.
type OfflineWorker struct {
	role models.WorkerRole
	// Delay simulates work. The worker honors ctx while waiting.
	Delay time.Duration
}

var _ delegate.Worker = (*OfflineWorker)(nil)

// NewOfflineWorker creates an offline worker for role.
func NewOfflineWorker(role models.WorkerRole) *OfflineWorker {
	return &OfflineWorker{role: role}
}

// Handle builds the result for msg.
func (w *OfflineWorker) Handle(ctx context.Context, msg models.AgentMessage) (models.AgentMessage, error) {
	req, ok := msg.Body.(models.RequestBody)
	if !ok {
		return msg.Reply(uuid.New().String(), models.ErrorBody{Reason: fmt.Sprintf("unexpected %s message", msg.Type())}), nil
	}
	if w.Delay > 0 {
		timer := time.NewTimer(w.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return models.AgentMessage{}, ctx.Err()
		}
	}

	upstream := make([]string, 0, len(req.Upstream))
	for id := range req.Upstream {
		upstream = append(upstream, id)
	}
	sort.Strings(upstream)

	// Category is the task type so distinct kinds of work never read as disagreement.
	result := &models.TaskResult{
		Subject:         subjectOf(req),
		Category:        string(req.TaskType),
		Claim:           fmt.Sprintf("%s completed", req.TaskType),
		Confidence:      DefaultConfidence[w.role],
		Summary:         fmt.Sprintf("Offline %s result for %q built from %d upstream result(s).", w.role, req.Title, len(upstream)),
		Findings:        []string{},
		Recommendations: []string{},
	}
	for _, id := range upstream {
		if r := req.Upstream[id]; r != nil {
			result.Findings = append(result.Findings, fmt.Sprintf("%s: %s", id, r.Claim))
		}
	}
	switch p := req.Payload.(type) {
	case models.ResearchPayload:
		result.Sources = append([]string(nil), p.Sources...)
	case models.AnalysisPayload:
		if req.TaskType == models.TaskTypeRiskAssessment {
			result.Category = "risk_assessment"
			result.Claim = "medium"
		}
	}
	return msg.Reply(uuid.New().String(), models.ResponseBody{TaskID: req.TaskID, Result: result}), nil
}

// NewOfflineWorkers returns one OfflineWorker per known role.
func NewOfflineWorkers(delay time.Duration) map[models.WorkerRole]delegate.Worker {
	out := make(map[models.WorkerRole]delegate.Worker, len(models.AllRoles()))
	for _, role := range models.AllRoles() {
		w := NewOfflineWorker(role)
		w.Delay = delay
		out[role] = w
	}
	return out
}
