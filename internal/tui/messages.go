package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/sleuth/internal/adapt"
	"github.com/ShayCichocki/sleuth/internal/orchestrator"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

// EventMsg wraps a planner event.
type EventMsg struct {
	Event orchestrator.Event
}

// ApprovalMsg announces an adaptation that needs a decision.
type ApprovalMsg struct {
	Request adapt.ApprovalRequest
}

// DoneMsg signals that execution returned.
type DoneMsg struct {
	Outcome *models.Outcome
	Err     error
}

// eventsClosedMsg is sent once the planner's event channel is closed.
type eventsClosedMsg struct{}

// waitForEvent reads the next planner event.
func waitForEvent(ch <-chan orchestrator.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return EventMsg{Event: ev}
	}
}

// waitForApproval reads the next approval request.
func waitForApproval(ch <-chan adapt.ApprovalRequest) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		req, ok := <-ch
		if !ok {
			return nil
		}
		return ApprovalMsg{Request: req}
	}
}
