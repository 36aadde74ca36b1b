package signals

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/sleuth/internal/adapt"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

type recorder struct {
	mu      sync.Mutex
	seen    []Signal
	consume bool
}

func (r *recorder) Handle(s Signal) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, s)
	return r.consume
}

func (r *recorder) signals() []Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Signal(nil), r.seen...)
}

type fakeCanceler struct {
	mu        sync.Mutex
	cancelled []string
}

func (f *fakeCanceler) Cancel(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	if id == "missing" {
		return errors.New("not found")
	}
	return nil
}

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		ok     bool
		kind   Kind
		target string
	}{
		{"cancel", true, KindCancel, ""},
		{"cancel-conv1", true, KindCancel, "conv1"},
		{"approve-a-1", true, KindApprove, "a-1"},
		{"reject-a-2", true, KindReject, "a-2"},
		{"approve-", false, "", ""},
		{"approve", false, "", ""},
		{".pending-123", false, "", ""},
		{"notes.txt", false, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, ok := Parse(tt.name)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.kind, sig.Kind)
				assert.Equal(t, tt.target, sig.Target)
			}
		})
	}
}

func TestSendValidation(t *testing.T) {
	root := t.TempDir()

	_, err := Send(root, KindApprove, "", "")
	assert.Error(t, err)
	_, err = Send(root, KindCancel, "../escape", "")
	assert.Error(t, err)

	path, err := SendReject(root, "a1", "too costly")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(Dir(root), "reject-a1"), path)
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "too costly", string(body))
}

func TestScanConsumesHandledSignals(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{consume: true}
	w, err := NewWatcher(root, rec)
	require.NoError(t, err)
	defer w.Close()

	_, err = SendApprove(root, "a1", "looks right")
	require.NoError(t, err)
	_, err = SendCancel(root, "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(w.Dir(), "README"), []byte("x"), 0644))

	assert.Equal(t, 2, w.Scan())
	seen := rec.signals()
	require.Len(t, seen, 2)
	assert.Equal(t, KindApprove, seen[0].Kind)
	assert.Equal(t, "looks right", seen[0].Reason)
	assert.Equal(t, KindCancel, seen[1].Kind)

	_, err = os.Stat(filepath.Join(w.Dir(), "approve-a1"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(w.Dir(), "README"))
	assert.NoError(t, err)
}

func TestScanKeepsUnconsumedSignals(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{consume: false}
	w, err := NewWatcher(root, rec)
	require.NoError(t, err)
	defer w.Close()

	_, err = SendApprove(root, "later", "")
	require.NoError(t, err)

	assert.Equal(t, 0, w.Scan())
	assert.Equal(t, 0, w.Scan())
	assert.Len(t, rec.signals(), 2)
	_, err = os.Stat(filepath.Join(w.Dir(), "approve-later"))
	assert.NoError(t, err)
}

func TestWatcherPicksUpNewSignals(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{consume: true}
	w, err := NewWatcher(root, rec, WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	_, err = SendCancel(root, "conv-9")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(rec.signals()) >= 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "conv-9", rec.signals()[0].Target)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestNewWatcherRejectsNilHandler(t *testing.T) {
	_, err := NewWatcher(t.TempDir(), nil)
	assert.Error(t, err)
}

func TestClear(t *testing.T) {
	root := t.TempDir()
	_, err := SendCancel(root, "x")
	require.NoError(t, err)
	_, err = SendApprove(root, "y", "")
	require.NoError(t, err)

	require.NoError(t, Clear(root))
	entries, err := os.ReadDir(Dir(root))
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.NoError(t, Clear(filepath.Join(root, "nowhere")))
}

func TestDispatcherCancel(t *testing.T) {
	c := &fakeCanceler{}
	d := &Dispatcher{Canceler: c, Active: func() []string { return []string{"a", "b"} }}

	assert.True(t, d.Handle(Signal{Kind: KindCancel, Target: "one"}))
	assert.True(t, d.Handle(Signal{Kind: KindCancel}))
	assert.True(t, d.Handle(Signal{Kind: KindCancel, Target: "missing"}))
	assert.Equal(t, []string{"one", "a", "b", "missing"}, c.cancelled)

	assert.False(t, (&Dispatcher{}).Handle(Signal{Kind: KindCancel, Target: "x"}))
}

func TestDispatcherAnswersPendingApproval(t *testing.T) {
	mgr := adapt.NewApprovalManager()
	d := &Dispatcher{Approvals: mgr}

	// Nothing pending yet: the signal is not consumed.
	assert.False(t, d.Handle(Signal{Kind: KindReject, Target: "ad1"}))

	result := make(chan adapt.Decision, 1)
	go func() {
		dec, err := mgr.RequestApproval(context.Background(), &models.PlanAdaptation{ID: "ad1", Trigger: "task_failed"})
		if err == nil {
			result <- dec
		}
	}()
	require.Eventually(t, func() bool { return mgr.HasPendingRequest("ad1") }, time.Second, 5*time.Millisecond)

	assert.True(t, d.Handle(Signal{Kind: KindReject, Target: "ad1", Reason: "scope creep"}))
	select {
	case dec := <-result:
		assert.False(t, dec.Approved)
		assert.Equal(t, "signal", dec.DecidedBy)
		assert.Equal(t, "scope creep", dec.Reason)
	case <-time.After(time.Second):
		t.Fatal("approval request was not answered")
	}
}

func TestWatcherWithDispatcherEndToEnd(t *testing.T) {
	root := t.TempDir()
	mgr := adapt.NewApprovalManager()
	var logged []string
	var mu sync.Mutex
	w, err := NewWatcher(root, &Dispatcher{Approvals: mgr},
		WithPollInterval(10*time.Millisecond),
		WithDebugLog(func(format string, args ...interface{}) {
			mu.Lock()
			logged = append(logged, format)
			mu.Unlock()
		}))
	require.NoError(t, err)
	defer w.Close()

	// Filed before the request exists; retried by the poll.
	_, err = SendApprove(root, "ad2", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	a := &models.PlanAdaptation{ID: "ad2", Changes: []models.TaskChange{{Kind: models.ChangeRemove, TaskID: "t1"}}}
	dec, err := mgr.RequestApproval(ctx, a)
	require.NoError(t, err)
	assert.True(t, dec.Approved)
	assert.True(t, mgr.Get("ad2").Approved)
	assert.NoError(t, adapt.CheckDecision(dec, a), "signal approvals carry the request's change set hash")

	mu.Lock()
	assert.NotEmpty(t, logged)
	mu.Unlock()
}
