package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/sleuth/pkg/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("238"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(12)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true)

	phaseStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	pendingBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 1)
)

// statusIcon renders a task status as a colored glyph.
func statusIcon(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusCompleted:
		return doneStyle.Render("✓")
	case models.TaskStatusFailed:
		return errorStyle.Render("✗")
	case models.TaskStatusBlocked:
		return warningStyle.Render("⊘")
	case models.TaskStatusDispatched:
		return runningStyle.Render("●")
	default:
		return dimStyle.Render("○")
	}
}
