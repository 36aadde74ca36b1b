package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/sleuth/internal/adapt"
	"github.com/ShayCichocki/sleuth/internal/orchestrator"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

func runeKey(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func sampleRecord() *models.ConversationRecord {
	return &models.ConversationRecord{
		ID:      "conv-1",
		Request: "Assess vendor risk for Hooli",
		Plan: &models.CoordinationPlan{
			Phases: []models.Phase{
				{Index: 0, TaskIDs: []string{"gather"}},
				{Index: 1, TaskIDs: []string{"assess"}},
			},
			Version: 1,
		},
		Tasks: []*models.Task{
			{ID: "gather", Title: "Gather filings", Role: models.RoleResearch, Status: models.TaskStatusPending},
			{ID: "assess", Title: "Assess risk", Role: models.RoleAnalysis, Status: models.TaskStatusPending},
		},
	}
}

func TestNewSeedsTasksFromRecord(t *testing.T) {
	m := New(sampleRecord())

	if len(m.rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(m.rows))
	}
	if m.phases != 2 {
		t.Errorf("expected 2 phases, got %d", m.phases)
	}
	if m.index["assess"].phase != 1 {
		t.Errorf("expected assess in phase 1, got %d", m.index["assess"].phase)
	}
	if !strings.Contains(m.View(), "Gather filings") {
		t.Error("view should list task titles")
	}
}

func TestApplyEventsTrackProgress(t *testing.T) {
	m := New(sampleRecord())

	events := []orchestrator.Event{
		{Type: orchestrator.EventPhaseStarted, ConversationID: "conv-1", Phase: 0, Message: "dispatching 1 task(s)"},
		{Type: orchestrator.EventTaskDispatched, ConversationID: "conv-1", Phase: 0, TaskID: "gather", TaskTitle: "Gather filings", Role: models.RoleResearch},
		{Type: orchestrator.EventTaskCompleted, ConversationID: "conv-1", Phase: 0, TaskID: "gather", Confidence: 0.8, Duration: time.Second},
		{Type: orchestrator.EventTaskFailed, ConversationID: "conv-1", Phase: 1, TaskID: "assess", Message: "timeout", Error: errors.New("deadline exceeded")},
		{Type: orchestrator.EventTaskDispatched, ConversationID: "other", TaskID: "foreign"},
	}
	for _, ev := range events {
		m.Update(EventMsg{Event: ev})
	}

	if m.phase != 0 {
		t.Errorf("expected current phase 0, got %d", m.phase)
	}
	if got := m.index["gather"]; got.status != models.TaskStatusCompleted || got.confidence != 0.8 {
		t.Errorf("unexpected gather row: %+v", got)
	}
	if got := m.index["assess"]; got.status != models.TaskStatusFailed || got.note != "timeout" {
		t.Errorf("unexpected assess row: %+v", got)
	}
	if _, ok := m.index["foreign"]; ok {
		t.Error("events of other conversations must be ignored")
	}
	if len(m.Logs()) != 4 {
		t.Errorf("expected 4 log entries, got %d", len(m.Logs()))
	}
	if m.Logs()[3].Level != "ERROR" {
		t.Errorf("expected failure logged as ERROR, got %s", m.Logs()[3].Level)
	}

	view := m.View()
	if !strings.Contains(view, "1/2 completed") || !strings.Contains(view, "1 failed") {
		t.Errorf("summary missing counts:\n%s", view)
	}
}

func TestRetryTaskAddedByEvent(t *testing.T) {
	m := New(sampleRecord())
	m.Update(EventMsg{Event: orchestrator.Event{
		Type: orchestrator.EventTaskDispatched, ConversationID: "conv-1", Phase: 1,
		TaskID: "assess-retry", TaskTitle: "Assess risk (retry)", Role: models.RoleAnalysis,
	}})
	if len(m.rows) != 3 {
		t.Fatalf("expected retry row appended, got %d rows", len(m.rows))
	}
	if m.rows[2].status != models.TaskStatusDispatched {
		t.Errorf("expected dispatched, got %s", m.rows[2].status)
	}
}

func TestCancelKey(t *testing.T) {
	var cancelled []string
	m := New(sampleRecord(), WithCancel(func(id string) error {
		cancelled = append(cancelled, id)
		return nil
	}))

	m.Update(runeKey("c"))
	m.Update(runeKey("c"))
	if len(cancelled) != 1 || cancelled[0] != "conv-1" {
		t.Errorf("expected one cancel of conv-1, got %v", cancelled)
	}

	failing := New(sampleRecord(), WithCancel(func(string) error { return errors.New("boom") }))
	failing.Update(runeKey("c"))
	if failing.cancelRequested {
		t.Error("failed cancel should allow retry")
	}
}

func TestApproveAndRejectKeys(t *testing.T) {
	var decisions []adapt.Decision
	m := New(sampleRecord(), WithResponder(func(d adapt.Decision) bool {
		decisions = append(decisions, d)
		return true
	}))

	m.Update(ApprovalMsg{Request: adapt.ApprovalRequest{AdaptationID: "ad-1", ConversationID: "conv-1", Trigger: "task_failed", ChangeSetHash: "h1"}})
	m.Update(ApprovalMsg{Request: adapt.ApprovalRequest{AdaptationID: "ad-1", ConversationID: "conv-1"}})
	m.Update(ApprovalMsg{Request: adapt.ApprovalRequest{AdaptationID: "ad-2", ConversationID: "conv-1"}})
	m.Update(ApprovalMsg{Request: adapt.ApprovalRequest{AdaptationID: "ad-x", ConversationID: "elsewhere"}})
	if len(m.pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(m.pending))
	}
	if !strings.Contains(m.View(), "awaits approval") {
		t.Error("view should show the held adaptation")
	}

	m.Update(runeKey("a"))
	m.Update(runeKey("r"))
	m.Update(runeKey("a"))

	if len(decisions) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(decisions))
	}
	if decisions[0].AdaptationID != "ad-1" || !decisions[0].Approved || decisions[0].DecidedBy != "user" || decisions[0].ChangeSetHash != "h1" {
		t.Errorf("unexpected first decision: %+v", decisions[0])
	}
	if decisions[1].AdaptationID != "ad-2" || decisions[1].Approved {
		t.Errorf("unexpected second decision: %+v", decisions[1])
	}
}

func TestAdaptationAppliedDropsPending(t *testing.T) {
	m := New(sampleRecord())
	m.Update(ApprovalMsg{Request: adapt.ApprovalRequest{AdaptationID: "ad-1"}})
	m.Update(EventMsg{Event: orchestrator.Event{Type: orchestrator.EventAdaptationApplied, ConversationID: "conv-1", AdaptationID: "ad-1"}})

	if len(m.pending) != 0 {
		t.Errorf("expected pending cleared, got %d", len(m.pending))
	}
	if m.planVersion != 2 {
		t.Errorf("expected plan v2, got %d", m.planVersion)
	}
}

func TestDoneMsgAndEvent(t *testing.T) {
	m := New(sampleRecord())
	m.Update(EventMsg{Event: orchestrator.Event{
		Type: orchestrator.EventConversationCancelled, ConversationID: "conv-1",
		Message: "cancelled", Confidence: 0.3,
	}})
	if !m.Done() {
		t.Fatal("expected done after cancelled event")
	}
	if m.Outcome().Status != models.ConversationCancelled {
		t.Errorf("expected cancelled status, got %s", m.Outcome().Status)
	}

	m2 := New(sampleRecord())
	m2.Update(DoneMsg{Outcome: &models.Outcome{Status: models.ConversationCompleted, Confidence: 0.75}})
	if !strings.Contains(m2.View(), "0.75") {
		t.Error("view should show final confidence")
	}

	m3 := New(sampleRecord())
	m3.Update(DoneMsg{Err: errors.New("phase 0 failed")})
	if !strings.Contains(m3.View(), "phase 0 failed") {
		t.Error("view should show the failure")
	}
}

func TestQuitKey(t *testing.T) {
	m := New(sampleRecord())
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
	if m.View() != "Goodbye!\n" {
		t.Errorf("unexpected view after quit: %q", m.View())
	}
}

func TestWaitForEventReadsChannel(t *testing.T) {
	ch := make(chan orchestrator.Event, 1)
	ch <- orchestrator.Event{Type: orchestrator.EventPlanCreated}
	msg := waitForEvent(ch)()
	if ev, ok := msg.(EventMsg); !ok || ev.Event.Type != orchestrator.EventPlanCreated {
		t.Errorf("unexpected message %#v", msg)
	}
	close(ch)
	if _, ok := waitForEvent(ch)().(eventsClosedMsg); !ok {
		t.Error("expected eventsClosedMsg on closed channel")
	}
	if waitForEvent(nil) != nil {
		t.Error("nil channel should yield no command")
	}
}

func TestLogIsBounded(t *testing.T) {
	m := New(nil)
	for i := 0; i < maxLogEntries+25; i++ {
		m.log("INFO", "x")
	}
	if len(m.Logs()) != maxLogEntries {
		t.Errorf("expected %d entries, got %d", maxLogEntries, len(m.Logs()))
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := truncate("abcdefghij", 5); got != "abcd…" {
		t.Errorf("got %q", got)
	}
}
