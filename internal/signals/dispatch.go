package signals

import (
	"github.com/ShayCichocki/sleuth/internal/adapt"
)

// Canceler cancels conversations by ID.
type Canceler interface {
	Cancel(id string) error
}

// Responder answers held adaptations.
type Responder interface {
	Request(adaptationID string) (adapt.ApprovalRequest, bool)
	SubmitResponse(d adapt.Decision) bool
}

var _ Responder = (*adapt.ApprovalManager)(nil)

// Dispatcher routes signals to a planner and an approval manager.
type Dispatcher struct {
	Canceler  Canceler
	Approvals Responder
	// Active lists the conversations a bare cancel applies to.
	Active func() []string

	debugLog func(format string, args ...interface{})
}

var _ Handler = (*Dispatcher)(nil)

// SetDebugLog sets the debug logging function.
func (d *Dispatcher) SetDebugLog(fn func(format string, args ...interface{})) {
	d.debugLog = fn
}

func (d *Dispatcher) logf(format string, args ...interface{}) {
	if d.debugLog != nil {
		d.debugLog(format, args...)
	}
}

// Handle implements Handler. Cancel signals are always consumed, even for
// unknown conversations. Approval signals are consumed only once a pending
// request took them, so a decision can be filed before the request exists.
func (d *Dispatcher) Handle(s Signal) bool {
	switch s.Kind {
	case KindCancel:
		if d.Canceler == nil {
			return false
		}
		ids := []string{s.Target}
		if s.Target == "" {
			ids = nil
			if d.Active != nil {
				ids = d.Active()
			}
		}
		for _, id := range ids {
			if err := d.Canceler.Cancel(id); err != nil {
				d.logf("[signals.Dispatcher] cancel %s: %v", id, err)
			}
		}
		return true
	case KindApprove, KindReject:
		if d.Approvals == nil {
			return false
		}
		req, ok := d.Approvals.Request(s.Target)
		if !ok {
			return false
		}
		return d.Approvals.SubmitResponse(adapt.Decision{
			AdaptationID:  s.Target,
			Approved:      s.Kind == KindApprove,
			Reason:        s.Reason,
			DecidedBy:     "signal",
			ChangeSetHash: req.ChangeSetHash,
		})
	}
	return false
}
