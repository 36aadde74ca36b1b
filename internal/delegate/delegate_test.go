package delegate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/sleuth/internal/capability"
	"github.com/ShayCichocki/sleuth/internal/mailbox"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

// fakeTarget is a minimal Target holding tasks in a map.
type fakeTarget struct {
	mu    sync.Mutex
	id    string
	tasks map[string]*models.Task
}

func newTarget(tasks ...*models.Task) *fakeTarget {
	ft := &fakeTarget{id: "conv-1", tasks: make(map[string]*models.Task)}
	for _, t := range tasks {
		ft.tasks[t.ID] = t
	}
	return ft
}

func (f *fakeTarget) ConversationID() string { return f.id }

func (f *fakeTarget) UpdateTask(id string, fn func(*models.Task)) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if ok {
		fn(t)
	}
	return ok
}

func (f *fakeTarget) get(id string) models.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.tasks[id]
}

func respond(confidence float64) WorkerFunc {
	return func(ctx context.Context, msg models.AgentMessage) (models.AgentMessage, error) {
		req := msg.Body.(models.RequestBody)
		return msg.Reply("reply-"+req.TaskID, models.ResponseBody{
			TaskID: req.TaskID,
			Result: &models.TaskResult{Subject: req.Title, Confidence: confidence, Summary: "ok"},
		}), nil
	}
}

func pendingTask(id string, typ models.TaskType) *models.Task {
	return &models.Task{ID: id, Title: "title " + id, Type: typ, Status: models.TaskStatusPending}
}

func TestDelegate_Success(t *testing.T) {
	mb := mailbox.New(0)
	d := New(capability.Default(), mb)
	d.Register(models.RoleResearch, respond(0.8))

	task := pendingTask("t1", models.TaskTypeLiteratureReview)
	target := newTarget(task)

	if err := d.Delegate(context.Background(), target, task, nil); err != nil {
		t.Fatalf("Delegate: %v", err)
	}

	got := target.get("t1")
	if got.Status != models.TaskStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.Role != models.RoleResearch {
		t.Errorf("role = %s, want research", got.Role)
	}
	if got.Result == nil || got.Result.Confidence != 0.8 {
		t.Errorf("unexpected result %+v", got.Result)
	}
	if got.DispatchedAt == nil || got.CompletedAt == nil {
		t.Error("expected dispatch and completion timestamps")
	}

	// Request and reply are both recorded.
	msgs := mb.Drain()
	if len(msgs) != 2 {
		t.Fatalf("mailbox has %d messages, want 2", len(msgs))
	}
	if msgs[0].Type() != models.MessageRequest || msgs[1].Type() != models.MessageResponse {
		t.Errorf("unexpected message types %s, %s", msgs[0].Type(), msgs[1].Type())
	}
	if msgs[0].Metadata.RequestID != msgs[1].Metadata.RequestID {
		t.Error("reply should echo request id")
	}

	st, _ := d.Status(models.RoleResearch)
	if st.Completed != 1 || st.InFlight != 0 || !st.Healthy {
		t.Errorf("unexpected worker status %+v", st)
	}
}

func TestDelegate_PayloadDefaultsFromType(t *testing.T) {
	var got models.Payload
	d := New(capability.Default(), nil)
	d.Register(models.RoleAnalysis, WorkerFunc(func(ctx context.Context, msg models.AgentMessage) (models.AgentMessage, error) {
		got = msg.Body.(models.RequestBody).Payload
		return respond(0.7)(ctx, msg)
	}))

	task := pendingTask("t1", models.TaskTypeRiskAssessment)
	if err := d.Delegate(context.Background(), newTarget(task), task, nil); err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	if _, ok := got.(models.AnalysisPayload); !ok {
		t.Errorf("payload = %T, want AnalysisPayload", got)
	}
}

func TestDelegate_NoCapableWorker(t *testing.T) {
	tests := []struct {
		name string
		typ  models.TaskType
	}{
		{"unknown type", models.TaskType("astrology")},
		{"role without worker", models.TaskTypeComplianceCheck},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(capability.Default(), nil)
			d.Register(models.RoleResearch, respond(0.8))

			task := pendingTask("t1", tt.typ)
			target := newTarget(task)
			err := d.Delegate(context.Background(), target, task, nil)

			var nc *capability.NoCapableWorkerError
			if !errors.As(err, &nc) {
				t.Fatalf("expected NoCapableWorkerError, got %v", err)
			}
			got := target.get("t1")
			if got.Status != models.TaskStatusFailed || got.FailureReason != models.FailureNoCapableWorker {
				t.Errorf("task = %s/%s, want failed/no_capable_worker", got.Status, got.FailureReason)
			}
		})
	}
}

func TestDelegate_Timeout(t *testing.T) {
	d := New(capability.Default(), nil, WithTimeout(20*time.Millisecond))
	release := make(chan struct{})
	defer close(release)
	d.Register(models.RoleResearch, WorkerFunc(func(ctx context.Context, msg models.AgentMessage) (models.AgentMessage, error) {
		// Ignores ctx on purpose.
		<-release
		return models.AgentMessage{}, nil
	}))

	task := pendingTask("t1", models.TaskTypeDataCollection)
	target := newTarget(task)
	err := d.Delegate(context.Background(), target, task, nil)

	var te *DelegationTimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected DelegationTimeoutError, got %v", err)
	}
	got := target.get("t1")
	if got.Status != models.TaskStatusFailed || got.FailureReason != models.FailureTimeout {
		t.Errorf("task = %s/%s, want failed/timeout", got.Status, got.FailureReason)
	}
	st, _ := d.Status(models.RoleResearch)
	if st.TimedOut != 1 || st.InFlight != 0 {
		t.Errorf("unexpected worker status %+v", st)
	}
}

func TestDelegate_PerTaskTimeoutOverride(t *testing.T) {
	d := New(capability.Default(), nil, WithTimeout(time.Hour))
	d.Register(models.RoleResearch, WorkerFunc(func(ctx context.Context, msg models.AgentMessage) (models.AgentMessage, error) {
		<-ctx.Done()
		return models.AgentMessage{}, ctx.Err()
	}))

	task := pendingTask("t1", models.TaskTypeDataCollection)
	task.Timeout = 10 * time.Millisecond
	err := d.Delegate(context.Background(), newTarget(task), task, nil)

	var te *DelegationTimeoutError
	if !errors.As(err, &te) || te.Timeout != 10*time.Millisecond {
		t.Fatalf("expected 10ms DelegationTimeoutError, got %v", err)
	}
}

func TestDelegate_WorkerFailures(t *testing.T) {
	tests := []struct {
		name      string
		worker    WorkerFunc
		retryable bool
	}{
		{
			name: "handler error",
			worker: func(ctx context.Context, msg models.AgentMessage) (models.AgentMessage, error) {
				return models.AgentMessage{}, errors.New("boom")
			},
		},
		{
			name: "error body",
			worker: func(ctx context.Context, msg models.AgentMessage) (models.AgentMessage, error) {
				req := msg.Body.(models.RequestBody)
				return msg.Reply("r", models.ErrorBody{TaskID: req.TaskID, Reason: "rate limited", Retryable: true}), nil
			},
			retryable: true,
		},
		{
			name: "request id not echoed",
			worker: func(ctx context.Context, msg models.AgentMessage) (models.AgentMessage, error) {
				reply, _ := respond(0.9)(ctx, msg)
				reply.Metadata.RequestID = "other"
				return reply, nil
			},
		},
		{
			name: "wrong task id",
			worker: func(ctx context.Context, msg models.AgentMessage) (models.AgentMessage, error) {
				return msg.Reply("r", models.ResponseBody{TaskID: "other", Result: &models.TaskResult{}}), nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(capability.Default(), nil)
			d.Register(models.RoleResearch, tt.worker)

			task := pendingTask("t1", models.TaskTypeFactCheck)
			target := newTarget(task)
			err := d.Delegate(context.Background(), target, task, nil)

			var we *WorkerError
			if !errors.As(err, &we) {
				t.Fatalf("expected WorkerError, got %v", err)
			}
			if we.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", we.Retryable, tt.retryable)
			}
			got := target.get("t1")
			if got.Status != models.TaskStatusFailed || got.FailureReason != models.FailureWorkerError {
				t.Errorf("task = %s/%s, want failed/worker_error", got.Status, got.FailureReason)
			}
		})
	}
}

func TestDelegate_UnhealthyAfterConsecutiveFailures(t *testing.T) {
	d := New(capability.Default(), nil)
	fail := true
	d.Register(models.RoleResearch, WorkerFunc(func(ctx context.Context, msg models.AgentMessage) (models.AgentMessage, error) {
		if fail {
			return models.AgentMessage{}, errors.New("down")
		}
		return respond(0.8)(ctx, msg)
	}))

	for i := 0; i < 3; i++ {
		task := pendingTask("t", models.TaskTypeFactCheck)
		_ = d.Delegate(context.Background(), newTarget(task), task, nil)
	}
	st, _ := d.Status(models.RoleResearch)
	if st.Healthy || st.ConsecutiveFailures != 3 || st.Failed != 3 {
		t.Fatalf("expected unhealthy after 3 failures, got %+v", st)
	}

	fail = false
	task := pendingTask("t", models.TaskTypeFactCheck)
	if err := d.Delegate(context.Background(), newTarget(task), task, nil); err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	st, _ = d.Status(models.RoleResearch)
	if !st.Healthy || st.ConsecutiveFailures != 0 {
		t.Errorf("expected recovery after success, got %+v", st)
	}
}

func TestDelegate_CancelledContext(t *testing.T) {
	d := New(capability.Default(), nil)
	d.Register(models.RoleResearch, WorkerFunc(func(ctx context.Context, msg models.AgentMessage) (models.AgentMessage, error) {
		<-ctx.Done()
		return models.AgentMessage{}, ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	task := pendingTask("t1", models.TaskTypeFactCheck)
	target := newTarget(task)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := d.Delegate(ctx, target, task, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	got := target.get("t1")
	if got.FailureReason != models.FailureCancelled {
		t.Errorf("reason = %s, want cancelled", got.FailureReason)
	}
	st, _ := d.Status(models.RoleResearch)
	if st.ConsecutiveFailures != 0 {
		t.Errorf("cancellation should not count against the worker: %+v", st)
	}
}

func TestDelegate_LateResultDiscarded(t *testing.T) {
	d := New(capability.Default(), nil)
	task := pendingTask("t1", models.TaskTypeFactCheck)
	target := newTarget(task)

	d.Register(models.RoleResearch, WorkerFunc(func(ctx context.Context, msg models.AgentMessage) (models.AgentMessage, error) {
		// Simulate a cancellation landing while the worker is busy.
		target.UpdateTask("t1", func(t *models.Task) {
			t.Status = models.TaskStatusFailed
			t.FailureReason = models.FailureCancelled
		})
		return respond(0.9)(ctx, msg)
	}))

	_ = d.Delegate(context.Background(), target, task, nil)
	got := target.get("t1")
	if got.Status != models.TaskStatusFailed || got.Result != nil {
		t.Errorf("late result should be discarded, got %s with result %v", got.Status, got.Result)
	}
}

func TestDelegator_Statuses(t *testing.T) {
	d := New(capability.Default(), nil)
	d.Register(models.RoleSynthesis, respond(0.9))

	statuses := d.Statuses()
	if len(statuses) != 4 {
		t.Fatalf("expected 4 statuses, got %d", len(statuses))
	}
	for i := 1; i < len(statuses); i++ {
		if statuses[i-1].Role > statuses[i].Role {
			t.Fatal("statuses should be sorted by role")
		}
	}
	st, ok := d.Status(models.RoleSynthesis)
	if !ok || !st.Registered {
		t.Errorf("synthesis should be registered: %+v", st)
	}
	st, _ = d.Status(models.RoleCompliance)
	if st.Registered {
		t.Error("compliance has no worker attached")
	}
}
