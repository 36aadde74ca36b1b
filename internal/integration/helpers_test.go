//go:build integration

package integration

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ShayCichocki/sleuth/internal/delegate"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

// scriptedWorker answers every role. fail decides whether an attempt errors.
type scriptedWorker struct {
	mu       sync.Mutex
	attempts map[string]int
	fail     func(title string, attempt int) bool
	// block holds titled tasks until their context is done.
	block map[string]bool
}

func newScriptedWorker() *scriptedWorker {
	return &scriptedWorker{attempts: make(map[string]int), block: make(map[string]bool)}
}

func (w *scriptedWorker) Handle(ctx context.Context, msg models.AgentMessage) (models.AgentMessage, error) {
	req := msg.Body.(models.RequestBody)
	w.mu.Lock()
	w.attempts[req.Title]++
	attempt := w.attempts[req.Title]
	blocked := w.block[req.Title]
	w.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return models.AgentMessage{}, ctx.Err()
	}
	if w.fail != nil && w.fail(req.Title, attempt) {
		return models.AgentMessage{}, errors.New("upstream rate limited")
	}
	res := &models.TaskResult{
		Subject:    req.Title,
		Category:   string(req.TaskType),
		Claim:      "done",
		Confidence: 0.8,
		Summary:    req.Title + " summary",
		Findings:   []string{req.Title + " finding"},
	}
	return msg.Reply("reply-"+msg.ID, models.ResponseBody{TaskID: req.TaskID, Result: res}), nil
}

func (w *scriptedWorker) calls(title string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attempts[title]
}

func (w *scriptedWorker) all() map[models.WorkerRole]delegate.Worker {
	ws := make(map[models.WorkerRole]delegate.Worker)
	for _, role := range models.AllRoles() {
		ws[role] = w
	}
	return ws
}

func task(id string, typ models.TaskType, deps ...string) *models.Task {
	return &models.Task{
		ID:                id,
		Title:             id,
		Type:              typ,
		Complexity:        models.ComplexityMedium,
		DependsOn:         deps,
		EstimatedDuration: time.Minute,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
