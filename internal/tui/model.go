package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/sleuth/internal/adapt"
	"github.com/ShayCichocki/sleuth/internal/orchestrator"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

// maxLogEntries bounds the activity log.
const maxLogEntries = 200

type keyMap struct {
	Quit    key.Binding
	Cancel  key.Binding
	Approve key.Binding
	Reject  key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		Cancel:  key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "cancel")),
		Approve: key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "approve")),
		Reject:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reject")),
	}
}

// taskRow is the display state of one task.
type taskRow struct {
	id         string
	title      string
	role       models.WorkerRole
	status     models.TaskStatus
	phase      int
	confidence float64
	duration   time.Duration
	note       string
}

// LogEntry is one line of the activity log.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Message   string
}

// Model is the bubbletea model for one conversation.
type Model struct {
	conversationID string
	request        string
	phases         int
	phase          int
	planVersion    int

	rows    []*taskRow
	index   map[string]*taskRow
	pending []adapt.ApprovalRequest
	logs    []LogEntry

	spinner spinner.Model
	keys    keyMap

	cancel    func(id string) error
	respond   func(d adapt.Decision) bool
	events    <-chan orchestrator.Event
	approvals <-chan adapt.ApprovalRequest

	width  int
	height int

	cancelRequested bool
	done            bool
	outcome         *models.Outcome
	err             error
	quitting        bool
}

// Option configures a Model.
type Option func(*Model)

// WithCancel sets the function the cancel key calls.
func WithCancel(fn func(id string) error) Option {
	return func(m *Model) { m.cancel = fn }
}

// WithResponder sets the function the approve and reject keys call.
func WithResponder(fn func(d adapt.Decision) bool) Option {
	return func(m *Model) { m.respond = fn }
}

// New creates a Model seeded from a conversation snapshot.
func New(rec *models.ConversationRecord, opts ...Option) *Model {
	m := &Model{
		phase:   -1,
		index:   make(map[string]*taskRow),
		keys:    defaultKeys(),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(runningStyle)),
	}
	if rec != nil {
		m.conversationID = rec.ID
		m.request = rec.Request
		if rec.Plan != nil {
			m.phases = len(rec.Plan.Phases)
			m.planVersion = rec.Plan.Version
		}
		for _, t := range rec.Tasks {
			row := m.row(t.ID, t.Title, t.Role)
			row.status = t.Status
			if rec.Plan != nil {
				row.phase = rec.Plan.PhaseOf(t.ID)
			}
		}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewProgram wires the model to the planner's event and approval channels.
func NewProgram(m *Model, events <-chan orchestrator.Event, approvals <-chan adapt.ApprovalRequest) *tea.Program {
	m.events = events
	m.approvals = approvals
	return tea.NewProgram(m, tea.WithAltScreen())
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events), waitForApproval(m.approvals))
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m, m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case EventMsg:
		m.applyEvent(msg.Event)
		return m, waitForEvent(m.events)

	case ApprovalMsg:
		if msg.Request.ConversationID == "" || msg.Request.ConversationID == m.conversationID {
			m.addPending(msg.Request)
		}
		return m, waitForApproval(m.approvals)

	case eventsClosedMsg:
		m.events = nil

	case DoneMsg:
		m.done = true
		m.pending = nil
		if msg.Outcome != nil {
			m.outcome = msg.Outcome
		}
		m.err = msg.Err
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return tea.Quit

	case key.Matches(msg, m.keys.Cancel):
		if m.done || m.cancelRequested || m.cancel == nil {
			return nil
		}
		m.cancelRequested = true
		if err := m.cancel(m.conversationID); err != nil {
			m.log("ERROR", fmt.Sprintf("cancel failed: %v", err))
			m.cancelRequested = false
		} else {
			m.log("WARN", "cancellation requested")
		}

	case key.Matches(msg, m.keys.Approve), key.Matches(msg, m.keys.Reject):
		if len(m.pending) == 0 || m.respond == nil {
			return nil
		}
		req := m.pending[0]
		approved := key.Matches(msg, m.keys.Approve)
		m.pending = m.pending[1:]
		ok := m.respond(adapt.Decision{
			AdaptationID:  req.AdaptationID,
			Approved:      approved,
			DecidedBy:     "user",
			ChangeSetHash: req.ChangeSetHash,
		})
		verb := "rejected"
		if approved {
			verb = "approved"
		}
		if ok {
			m.log("INFO", fmt.Sprintf("adaptation %s %s", shortID(req.AdaptationID), verb))
		} else {
			m.log("WARN", fmt.Sprintf("adaptation %s is no longer pending", shortID(req.AdaptationID)))
		}
	}
	return nil
}

// applyEvent folds a planner event into the display state.
func (m *Model) applyEvent(ev orchestrator.Event) {
	if m.conversationID != "" && ev.ConversationID != m.conversationID {
		return
	}

	level := "INFO"
	text := describe(ev)

	switch ev.Type {
	case orchestrator.EventPlanCreated:
		m.phase = -1
	case orchestrator.EventPhaseStarted:
		m.phase = ev.Phase
		if ev.Phase+1 > m.phases {
			m.phases = ev.Phase + 1
		}
	case orchestrator.EventTaskDispatched:
		row := m.row(ev.TaskID, ev.TaskTitle, ev.Role)
		row.status = models.TaskStatusDispatched
		row.phase = ev.Phase
	case orchestrator.EventTaskCompleted:
		row := m.row(ev.TaskID, ev.TaskTitle, ev.Role)
		row.status = models.TaskStatusCompleted
		row.confidence = ev.Confidence
		row.duration = ev.Duration
	case orchestrator.EventTaskFailed:
		row := m.row(ev.TaskID, ev.TaskTitle, ev.Role)
		row.status = models.TaskStatusFailed
		row.duration = ev.Duration
		row.note = ev.Message
		level = "ERROR"
	case orchestrator.EventTaskBlocked:
		row := m.row(ev.TaskID, ev.TaskTitle, ev.Role)
		row.status = models.TaskStatusBlocked
		row.note = ev.Message
		level = "WARN"
	case orchestrator.EventConflictDetected:
		level = "WARN"
	case orchestrator.EventAdaptationPending:
		level = "WARN"
	case orchestrator.EventAdaptationApplied:
		m.planVersion++
		m.dropPending(ev.AdaptationID)
	case orchestrator.EventConversationDone, orchestrator.EventConversationCancelled:
		m.done = true
		m.pending = nil
		m.err = ev.Error
		if m.outcome == nil {
			m.outcome = &models.Outcome{Status: models.ConversationStatus(ev.Message), Confidence: ev.Confidence}
		}
		if ev.Type == orchestrator.EventConversationCancelled {
			m.outcome.Status = models.ConversationCancelled
		}
		if ev.Error != nil {
			level = "ERROR"
		}
	}
	m.logAt(ev.Timestamp, level, text)
}

func (m *Model) row(id, title string, role models.WorkerRole) *taskRow {
	if r, ok := m.index[id]; ok {
		if title != "" {
			r.title = title
		}
		if role != "" {
			r.role = role
		}
		return r
	}
	r := &taskRow{id: id, title: title, role: role, status: models.TaskStatusPending, phase: -1}
	m.rows = append(m.rows, r)
	m.index[id] = r
	return r
}

func (m *Model) addPending(req adapt.ApprovalRequest) {
	for _, p := range m.pending {
		if p.AdaptationID == req.AdaptationID {
			return
		}
	}
	m.pending = append(m.pending, req)
}

func (m *Model) dropPending(id string) {
	out := m.pending[:0]
	for _, p := range m.pending {
		if p.AdaptationID != id {
			out = append(out, p)
		}
	}
	m.pending = out
}

func (m *Model) log(level, msg string) {
	m.logAt(time.Now(), level, msg)
}

func (m *Model) logAt(ts time.Time, level, msg string) {
	if ts.IsZero() {
		ts = time.Now()
	}
	m.logs = append(m.logs, LogEntry{Timestamp: ts, Level: level, Message: msg})
	if len(m.logs) > maxLogEntries {
		m.logs = m.logs[len(m.logs)-maxLogEntries:]
	}
}

// Done reports whether the conversation settled.
func (m *Model) Done() bool { return m.done }

// Outcome returns the final outcome, if known.
func (m *Model) Outcome() *models.Outcome { return m.outcome }

// Logs returns the activity log.
func (m *Model) Logs() []LogEntry { return m.logs }

// View implements tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("sleuth · " + truncate(m.request, 70)))
	b.WriteString("\n")
	b.WriteString(m.viewSummary())
	b.WriteString("\n\n")
	b.WriteString(m.viewTasks())
	if p := m.viewPending(); p != "" {
		b.WriteString("\n")
		b.WriteString(p)
	}
	b.WriteString("\n")
	b.WriteString(m.viewLogs())
	b.WriteString("\n")
	b.WriteString(m.viewFooter())
	return b.String()
}

func (m *Model) viewSummary() string {
	var completed, failed, blocked int
	for _, r := range m.rows {
		switch r.status {
		case models.TaskStatusCompleted:
			completed++
		case models.TaskStatusFailed:
			failed++
		case models.TaskStatusBlocked:
			blocked++
		}
	}

	phase := "planned"
	if m.phase >= 0 {
		phase = fmt.Sprintf("%d/%d", m.phase+1, m.phases)
	}
	if m.done && m.outcome != nil {
		phase = string(m.outcome.Status)
	}

	lines := []string{
		labelStyle.Render("Phase:") + phaseStyle.Render(phase) + dimStyle.Render(fmt.Sprintf("  (plan v%d)", m.planVersion)),
		labelStyle.Render("Tasks:") + valueStyle.Render(fmt.Sprintf("%d/%d completed", completed, len(m.rows))) +
			failedBlocked(failed, blocked),
	}
	if m.done && m.outcome != nil {
		lines = append(lines, labelStyle.Render("Confidence:")+valueStyle.Render(fmt.Sprintf("%.2f", m.outcome.Confidence)))
	}
	return strings.Join(lines, "\n")
}

func failedBlocked(failed, blocked int) string {
	var parts []string
	if failed > 0 {
		parts = append(parts, errorStyle.Render(fmt.Sprintf("%d failed", failed)))
	}
	if blocked > 0 {
		parts = append(parts, warningStyle.Render(fmt.Sprintf("%d blocked", blocked)))
	}
	if len(parts) == 0 {
		return ""
	}
	return "  " + strings.Join(parts, ", ")
}

func (m *Model) viewTasks() string {
	if len(m.rows) == 0 {
		return dimStyle.Render("No tasks")
	}
	var b strings.Builder
	for _, r := range m.rows {
		icon := statusIcon(r.status)
		if r.status == models.TaskStatusDispatched {
			icon = m.spinner.View()
		}
		line := fmt.Sprintf("%s %-36s %s", icon, truncate(r.title, 36), dimStyle.Render(fmt.Sprintf("%-10s", r.role)))
		switch r.status {
		case models.TaskStatusCompleted:
			line += fmt.Sprintf(" %.2f %s", r.confidence, dimStyle.Render(r.duration.Round(time.Millisecond).String()))
		case models.TaskStatusFailed, models.TaskStatusBlocked:
			if r.note != "" {
				line += " " + warningStyle.Render(r.note)
			}
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) viewPending() string {
	if len(m.pending) == 0 {
		return ""
	}
	req := m.pending[0]
	lines := []string{
		warningStyle.Render(fmt.Sprintf("Adaptation %s awaits approval (%s, impact %+.0f%%)",
			shortID(req.AdaptationID), req.Trigger, req.Impact*100)),
		truncate(req.Justification, 100),
	}
	for _, c := range req.Changes {
		lines = append(lines, dimStyle.Render(fmt.Sprintf("  %s %s", c.Kind, c.TaskID)))
	}
	if len(m.pending) > 1 {
		lines = append(lines, dimStyle.Render(fmt.Sprintf("+%d more", len(m.pending)-1)))
	}
	return pendingBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m *Model) viewLogs() string {
	n := 8
	if m.height > 0 {
		n = m.height - len(m.rows) - 12
		if n < 3 {
			n = 3
		}
	}
	start := 0
	if len(m.logs) > n {
		start = len(m.logs) - n
	}
	var b strings.Builder
	for _, e := range m.logs[start:] {
		ts := dimStyle.Render(e.Timestamp.Format("15:04:05"))
		msg := e.Message
		switch e.Level {
		case "ERROR":
			msg = errorStyle.Render(msg)
		case "WARN":
			msg = warningStyle.Render(msg)
		}
		b.WriteString(fmt.Sprintf("%s %s\n", ts, msg))
	}
	return b.String()
}

func (m *Model) viewFooter() string {
	if m.done {
		if m.err != nil {
			return errorStyle.Render("✗ "+m.err.Error()) + dimStyle.Render(" | q to exit")
		}
		return doneStyle.Render("✓ done") + dimStyle.Render(" | q to exit")
	}
	help := []string{"q quit", "c cancel"}
	if len(m.pending) > 0 {
		help = append(help, "a approve", "r reject")
	}
	return dimStyle.Render(strings.Join(help, " · "))
}

// describe renders an event as one log line.
func describe(ev orchestrator.Event) string {
	switch ev.Type {
	case orchestrator.EventPlanCreated:
		return "plan created: " + ev.Message
	case orchestrator.EventPhaseStarted:
		return fmt.Sprintf("phase %d: %s", ev.Phase+1, ev.Message)
	case orchestrator.EventPhaseCompleted:
		return fmt.Sprintf("phase %d done: %s", ev.Phase+1, ev.Message)
	case orchestrator.EventTaskDispatched:
		return fmt.Sprintf("%s → %s", ev.TaskTitle, ev.Role)
	case orchestrator.EventTaskCompleted:
		return fmt.Sprintf("%s completed (%.2f)", ev.TaskTitle, ev.Confidence)
	case orchestrator.EventTaskFailed:
		if ev.Error != nil {
			return fmt.Sprintf("%s failed: %v", ev.TaskTitle, ev.Error)
		}
		return ev.TaskTitle + " failed"
	case orchestrator.EventTaskBlocked:
		return fmt.Sprintf("%s blocked: %s", ev.TaskTitle, ev.Message)
	case orchestrator.EventConversationDone, orchestrator.EventConversationCancelled:
		return fmt.Sprintf("conversation %s (confidence %.2f)", ev.Message, ev.Confidence)
	}
	if ev.Message != "" {
		return fmt.Sprintf("%s: %s", ev.Type, ev.Message)
	}
	return string(ev.Type)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
