// Package delegate routes single tasks to the worker role able to execute
// them, enforces the per-task timeout and records the outcome.
package delegate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/sleuth/internal/capability"
	"github.com/ShayCichocki/sleuth/internal/mailbox"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

// DefaultTimeout is the per-task timeout when neither the task nor the
// delegator configures one.
const DefaultTimeout = 2 * time.Minute

// unhealthyAfter is the number of consecutive failures that marks a role unhealthy.
const unhealthyAfter = 3

// Worker executes request messages for one role. Implementations must echo
// the conversation and request IDs of the request in their reply.
type Worker interface {
	Handle(ctx context.Context, msg models.AgentMessage) (models.AgentMessage, error)
}

// WorkerFunc adapts a function to the Worker interface.
type WorkerFunc func(ctx context.Context, msg models.AgentMessage) (models.AgentMessage, error)

// Handle calls f.
func (f WorkerFunc) Handle(ctx context.Context, msg models.AgentMessage) (models.AgentMessage, error) {
	return f(ctx, msg)
}

// Target owns the tasks being delegated. UpdateTask runs fn on the live task
// under the owner's lock and reports whether the task exists.
type Target interface {
	ConversationID() string
	UpdateTask(taskID string, fn func(*models.Task)) bool
}

// DelegationTimeoutError is returned when a worker does not reply in time.
type DelegationTimeoutError struct {
	TaskID  string
	Role    models.WorkerRole
	Timeout time.Duration
}

func (e *DelegationTimeoutError) Error() string {
	return fmt.Sprintf("task %s timed out after %s waiting for %s worker", e.TaskID, e.Timeout, e.Role)
}

// WorkerError is returned when a worker fails, replies with an error body,
// or sends a reply that does not match the request.
type WorkerError struct {
	TaskID    string
	Role      models.WorkerRole
	Reason    string
	Retryable bool
	Err       error
}

func (e *WorkerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s worker failed task %s: %s: %v", e.Role, e.TaskID, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s worker failed task %s: %s", e.Role, e.TaskID, e.Reason)
}

func (e *WorkerError) Unwrap() error { return e.Err }

// Option configures a Delegator.
type Option func(*Delegator)

// WithTimeout sets the default per-task timeout.
func WithTimeout(d time.Duration) Option {
	return func(dl *Delegator) {
		if d > 0 {
			dl.timeout = d
		}
	}
}

// WithDebugLog sets the debug logging function.
func WithDebugLog(fn func(format string, args ...interface{})) Option {
	return func(dl *Delegator) {
		if fn != nil {
			dl.debugLog = fn
		}
	}
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(dl *Delegator) {
		if now != nil {
			dl.now = now
		}
	}
}

// Delegator routes tasks to registered workers.
type Delegator struct {
	registry *capability.Registry
	mailbox  *mailbox.Mailbox
	timeout  time.Duration
	now      func() time.Time
	debugLog func(format string, args ...interface{})

	mu      sync.RWMutex
	workers map[models.WorkerRole]Worker
	health  map[models.WorkerRole]*models.WorkerStatus
}

// New creates a Delegator. The registry is shared read-only.
func New(reg *capability.Registry, mb *mailbox.Mailbox, opts ...Option) *Delegator {
	if mb == nil {
		mb = mailbox.New(0)
	}
	d := &Delegator{
		registry: reg,
		mailbox:  mb,
		timeout:  DefaultTimeout,
		now:      time.Now,
		debugLog: func(format string, args ...interface{}) {},
		workers:  make(map[models.WorkerRole]Worker),
		health:   make(map[models.WorkerRole]*models.WorkerStatus),
	}
	for _, role := range reg.Roles() {
		d.health[role] = &models.WorkerStatus{Role: role, Healthy: true}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register attaches a worker implementation to a role.
func (d *Delegator) Register(role models.WorkerRole, w Worker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.workers[role] = w
	st, ok := d.health[role]
	if !ok {
		st = &models.WorkerStatus{Role: role, Healthy: true}
		d.health[role] = st
	}
	st.Registered = true
}

// Mailbox returns the mailbox requests and replies are recorded on.
func (d *Delegator) Mailbox() *mailbox.Mailbox { return d.mailbox }

// Registry returns the capability registry used for routing.
func (d *Delegator) Registry() *capability.Registry { return d.registry }

// Route returns the role and worker for a task without dispatching it.
func (d *Delegator) Route(task *models.Task) (models.WorkerRole, Worker, error) {
	role := task.Role
	if role == "" {
		var err error
		if role, err = d.registry.Match(task); err != nil {
			return "", nil, err
		}
	}
	d.mu.RLock()
	w, ok := d.workers[role]
	d.mu.RUnlock()
	if !ok {
		return role, nil, &capability.NoCapableWorkerError{TaskID: task.ID, TaskType: task.Type, Role: role}
	}
	return role, w, nil
}

// Delegate dispatches one task and blocks until the worker replies, the
// task times out, or ctx is cancelled. The task's status is updated on the
// target in every case. Updates are skipped if the task was moved out of
// the dispatched state meanwhile (for example by a cancellation), which
// discards late results.
func (d *Delegator) Delegate(ctx context.Context, target Target, task *models.Task, upstream map[string]*models.TaskResult) error {
	role, worker, err := d.Route(task)
	if err != nil {
		d.debugLog("[delegate] task %s: %v", task.ID, err)
		target.UpdateTask(task.ID, func(t *models.Task) {
			t.Status = models.TaskStatusFailed
			t.FailureReason = models.FailureNoCapableWorker
			t.Error = err.Error()
			if role != "" {
				t.Role = role
			}
		})
		return err
	}

	start := d.now()
	dispatched := false
	target.UpdateTask(task.ID, func(t *models.Task) {
		if t.Status != models.TaskStatusPending {
			return
		}
		t.Status = models.TaskStatusDispatched
		t.Role = role
		t.DispatchedAt = &start
		dispatched = true
	})
	if !dispatched {
		return fmt.Errorf("task %s is not pending", task.ID)
	}

	payload := task.Payload
	if payload == nil {
		payload = models.DefaultPayload(task.Type, task.Title)
	}
	req := models.AgentMessage{
		ID:        uuid.New().String(),
		Sender:    models.CoordinatorID,
		Recipient: string(role),
		Metadata: models.MessageMetadata{
			Priority:       task.Priority,
			Timestamp:      start,
			ConversationID: target.ConversationID(),
			RequestID:      uuid.New().String(),
		},
		Body: models.RequestBody{
			TaskID:   task.ID,
			TaskType: task.Type,
			Title:    task.Title,
			Payload:  payload,
			Upstream: upstream,
		},
	}
	d.mailbox.Enqueue(req)

	timeout := d.timeout
	if task.Timeout > 0 {
		timeout = task.Timeout
	}

	d.trackStart(role)
	d.debugLog("[delegate] task %s -> %s (timeout %s)", task.ID, role, timeout)

	reply, err := d.call(ctx, worker, req, timeout)
	elapsed := d.now().Sub(start)

	switch {
	case err == nil:
		err = d.validate(req, reply, role)
	case ctx.Err() != nil:
	case errors.Is(err, context.DeadlineExceeded):
		err = &DelegationTimeoutError{TaskID: task.ID, Role: role, Timeout: timeout}
	default:
		err = &WorkerError{TaskID: task.ID, Role: role, Reason: "handle failed", Err: err}
	}

	if err != nil {
		reason := models.FailureWorkerError
		var te *DelegationTimeoutError
		switch {
		case errors.As(err, &te):
			reason = models.FailureTimeout
		case ctx.Err() != nil:
			reason = models.FailureCancelled
			err = fmt.Errorf("delegate task %s: %w", task.ID, ctx.Err())
		}
		d.trackFailure(role, reason, err)
		d.debugLog("[delegate] task %s failed (%s): %v", task.ID, reason, err)
		d.settle(target, task.ID, elapsed, func(t *models.Task) {
			t.Status = models.TaskStatusFailed
			t.FailureReason = reason
			t.Error = err.Error()
		})
		return err
	}

	d.mailbox.Enqueue(reply)
	d.trackSuccess(role, elapsed)
	result := reply.Body.(models.ResponseBody).Result
	d.settle(target, task.ID, elapsed, func(t *models.Task) {
		t.Status = models.TaskStatusCompleted
		t.Result = result.Clone()
	})
	d.debugLog("[delegate] task %s completed in %s (confidence %.2f)", task.ID, elapsed, result.Confidence)
	return nil
}

// call runs the worker in its own goroutine so a worker ignoring ctx cannot
// hold the delegation past its deadline.
func (d *Delegator) call(ctx context.Context, w Worker, req models.AgentMessage, timeout time.Duration) (models.AgentMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		msg models.AgentMessage
		err error
	}
	done := make(chan reply, 1)
	go func() {
		msg, err := w.Handle(callCtx, req)
		done <- reply{msg, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && callCtx.Err() != nil {
			return models.AgentMessage{}, callCtx.Err()
		}
		return r.msg, r.err
	case <-callCtx.Done():
		return models.AgentMessage{}, callCtx.Err()
	}
}

func (d *Delegator) validate(req, reply models.AgentMessage, role models.WorkerRole) error {
	taskID := req.Body.(models.RequestBody).TaskID
	if reply.Metadata.RequestID != req.Metadata.RequestID || reply.Metadata.ConversationID != req.Metadata.ConversationID {
		return &WorkerError{TaskID: taskID, Role: role, Reason: "reply does not echo request identifiers"}
	}
	switch body := reply.Body.(type) {
	case models.ResponseBody:
		if body.TaskID != taskID {
			return &WorkerError{TaskID: taskID, Role: role, Reason: fmt.Sprintf("reply is for task %s", body.TaskID)}
		}
		if body.Result == nil {
			return &WorkerError{TaskID: taskID, Role: role, Reason: "reply carries no result"}
		}
		return nil
	case models.ErrorBody:
		return &WorkerError{TaskID: taskID, Role: role, Reason: body.Reason, Retryable: body.Retryable}
	default:
		return &WorkerError{TaskID: taskID, Role: role, Reason: fmt.Sprintf("unexpected reply type %q", reply.Type())}
	}
}

func (d *Delegator) settle(target Target, taskID string, elapsed time.Duration, fn func(*models.Task)) {
	now := d.now()
	target.UpdateTask(taskID, func(t *models.Task) {
		if t.Status != models.TaskStatusDispatched {
			return
		}
		fn(t)
		t.ActualDuration = elapsed
		t.CompletedAt = &now
	})
}

func (d *Delegator) trackStart(role models.WorkerRole) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.health[role].InFlight++
}

func (d *Delegator) trackSuccess(role models.WorkerRole, latency time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.health[role]
	st.InFlight--
	st.AvgLatency = (st.AvgLatency*time.Duration(st.Completed) + latency) / time.Duration(st.Completed+1)
	st.Completed++
	st.ConsecutiveFailures = 0
	st.Healthy = true
	st.LastSeen = d.now()
}

func (d *Delegator) trackFailure(role models.WorkerRole, reason models.FailureReason, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.health[role]
	st.InFlight--
	switch reason {
	case models.FailureCancelled:
		// The worker did nothing wrong.
		return
	case models.FailureTimeout:
		st.TimedOut++
	default:
		st.Failed++
		st.LastSeen = d.now()
	}
	st.ConsecutiveFailures++
	st.LastError = err.Error()
	st.Healthy = st.ConsecutiveFailures < unhealthyAfter
}

// Status returns a snapshot of a role's health.
func (d *Delegator) Status(role models.WorkerRole) (models.WorkerStatus, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st, ok := d.health[role]
	if !ok {
		return models.WorkerStatus{}, false
	}
	return *st, true
}

// Statuses returns health snapshots for every known role, sorted by role.
func (d *Delegator) Statuses() []models.WorkerStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.WorkerStatus, 0, len(d.health))
	for _, st := range d.health {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out
}
