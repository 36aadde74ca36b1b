package adapt

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/ShayCichocki/sleuth/pkg/models"
)

// ApprovalRequest is sent to whoever decides on held adaptations.
type ApprovalRequest struct {
	AdaptationID   string
	PlanID         string
	ConversationID string
	Trigger        string
	Impact         float64
	Justification  string
	Changes        []models.TaskChange
	// ChangeSetHash binds a decision to the exact change set it was made for.
	ChangeSetHash string
}

// Decision is the answer to an ApprovalRequest.
type Decision struct {
	AdaptationID string
	Approved     bool
	Reason       string
	// DecidedBy is "user", "auto", "signal" or "timeout".
	DecidedBy string
	// ChangeSetHash echoes the request's hash. An approval is only honored
	// for the change set it names.
	ChangeSetHash string
}

// ErrStaleDecision marks an approval given for a different change set.
var ErrStaleDecision = errors.New("decision does not match the change set")

// CheckDecision verifies that an approval was given for a's current
// change set. Rejections always pass.
func CheckDecision(d Decision, a *models.PlanAdaptation) error {
	if !d.Approved {
		return nil
	}
	if d.AdaptationID != a.ID {
		return fmt.Errorf("%w: decision is for %s, not %s", ErrStaleDecision, d.AdaptationID, a.ID)
	}
	hash, err := ChangeSetHash(a.Changes)
	if err != nil {
		return err
	}
	if d.ChangeSetHash != hash {
		return fmt.Errorf("%w: adaptation %s approved for %q, now %q", ErrStaleDecision, a.ID, shortHash(d.ChangeSetHash), shortHash(hash))
	}
	return nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// Approver decides on adaptations that need approval.
type Approver interface {
	RequestApproval(ctx context.Context, a *models.PlanAdaptation) (Decision, error)
}

// AutoApprover approves every adaptation.
type AutoApprover struct{}

var _ Approver = AutoApprover{}

// RequestApproval approves a immediately.
func (AutoApprover) RequestApproval(ctx context.Context, a *models.PlanAdaptation) (Decision, error) {
	hash, err := ChangeSetHash(a.Changes)
	if err != nil {
		return Decision{}, err
	}
	return Decision{AdaptationID: a.ID, Approved: true, DecidedBy: "auto", ChangeSetHash: hash}, nil
}

// TimeoutApprover rejects adaptations its inner approver does not decide
// on within Timeout. Cancellation of the caller's context is still
// returned as an error.
type TimeoutApprover struct {
	Approver Approver
	Timeout  time.Duration
}

var _ Approver = TimeoutApprover{}

// RequestApproval forwards to the inner approver under a deadline.
func (t TimeoutApprover) RequestApproval(ctx context.Context, a *models.PlanAdaptation) (Decision, error) {
	if t.Timeout <= 0 {
		return t.Approver.RequestApproval(ctx, a)
	}
	tctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	d, err := t.Approver.RequestApproval(tctx, a)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return Decision{
			AdaptationID: a.ID,
			Reason:       fmt.Sprintf("no decision within %s", t.Timeout),
			DecidedBy:    "timeout",
		}, nil
	}
	return d, err
}

// Approval is a recorded decision bound to a change-set snapshot.
type Approval struct {
	AdaptationID  string
	ChangeSetHash string
	Approved      bool
	DecidedAt     time.Time
	DecidedBy     string
}

// ApprovalManager is a channel-based Approver. Requests are published on
// RequestCh for a UI or signal watcher; SubmitResponse answers them.
type ApprovalManager struct {
	// approvals maps adaptation IDs to recorded decisions.
	approvals map[string]*Approval
	// pending maps adaptation IDs to the request and the channel awaiting its answer.
	pending   map[string]pendingRequest
	requestCh chan ApprovalRequest
	mu        sync.RWMutex
}

type pendingRequest struct {
	req ApprovalRequest
	ch  chan Decision
}

var _ Approver = (*ApprovalManager)(nil)

// NewApprovalManager creates a new ApprovalManager instance.
func NewApprovalManager() *ApprovalManager {
	return &ApprovalManager{
		approvals: make(map[string]*Approval),
		pending:   make(map[string]pendingRequest),
		requestCh: make(chan ApprovalRequest, 10),
	}
}

// RequestCh returns a read-only channel of approval requests.
func (m *ApprovalManager) RequestCh() <-chan ApprovalRequest {
	return m.requestCh
}

// RequestApproval publishes a request and blocks until it is answered or
// ctx is done. Publishing never blocks: with no listener draining
// RequestCh the request is still visible through Pending.
func (m *ApprovalManager) RequestApproval(ctx context.Context, a *models.PlanAdaptation) (Decision, error) {
	hash, err := ChangeSetHash(a.Changes)
	if err != nil {
		return Decision{}, err
	}
	req := ApprovalRequest{
		AdaptationID:   a.ID,
		PlanID:         a.PlanID,
		ConversationID: a.ConversationID,
		Trigger:        a.Trigger,
		Impact:         a.Impact,
		Justification:  a.Justification,
		Changes:        a.Changes,
		ChangeSetHash:  hash,
	}
	responseCh := make(chan Decision, 1)

	m.mu.Lock()
	m.pending[a.ID] = pendingRequest{req: req, ch: responseCh}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pending, a.ID)
		m.mu.Unlock()
	}()

	select {
	case m.requestCh <- req:
	default:
	}

	select {
	case d := <-responseCh:
		m.record(d)
		return d, nil
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}

// SubmitResponse answers a pending request. It reports whether a request
// was waiting for the decision.
func (m *ApprovalManager) SubmitResponse(d Decision) bool {
	m.mu.RLock()
	p, exists := m.pending[d.AdaptationID]
	m.mu.RUnlock()

	if !exists {
		return false
	}
	select {
	case p.ch <- d:
		return true
	default:
		// Already answered.
		return false
	}
}

// Request returns the pending request for an adaptation.
func (m *ApprovalManager) Request(adaptationID string) (ApprovalRequest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, exists := m.pending[adaptationID]
	return p.req, exists
}

// HasPendingRequest returns true if the adaptation awaits a decision.
func (m *ApprovalManager) HasPendingRequest(adaptationID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.pending[adaptationID]
	return exists
}

// Pending returns the requests awaiting a decision.
func (m *ApprovalManager) Pending() []ApprovalRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ApprovalRequest, 0, len(m.pending))
	for _, p := range m.pending {
		out = append(out, p.req)
	}
	return out
}

func (m *ApprovalManager) record(d Decision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals[d.AdaptationID] = &Approval{
		AdaptationID:  d.AdaptationID,
		ChangeSetHash: d.ChangeSetHash,
		Approved:      d.Approved,
		DecidedAt:     time.Now(),
		DecidedBy:     d.DecidedBy,
	}
}

// Get returns the recorded decision for an adaptation, or nil.
func (m *ApprovalManager) Get(adaptationID string) *Approval {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.approvals[adaptationID]
}

// ChangeSetHash computes the blake3 hash of a change set's JSON form.
func ChangeSetHash(changes []models.TaskChange) (string, error) {
	data, err := json.Marshal(changes)
	if err != nil {
		return "", fmt.Errorf("hash change set: %w", err)
	}
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}
