package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/ShayCichocki/sleuth/internal/orchestrator"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

// printStatus prints a colored status line.
func printStatus(w io.Writer, symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Fprintf(w, "%s %s\n", c.Sprint(symbol), message)
}

// printPlan prints a plan phase by phase with its estimate.
func printPlan(w io.Writer, plan *models.CoordinationPlan, tasks []*models.Task) {
	byID := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	critical := make(map[string]bool, len(plan.CriticalPath))
	for _, id := range plan.CriticalPath {
		critical[id] = true
	}

	bold := color.New(color.Bold)
	bold.Fprintf(w, "Plan %s (%s, %s, v%d)\n", shortID(plan.ID), plan.Type, plan.Status, plan.Version)
	for _, ph := range plan.Phases {
		fmt.Fprintf(w, "\n  Phase %d\n", ph.Index+1)
		for _, id := range ph.TaskIDs {
			t, ok := byID[id]
			if !ok {
				continue
			}
			marker := " "
			if critical[id] {
				marker = color.New(color.FgYellow).Sprint("*")
			}
			fmt.Fprintf(w, "  %s %-40s %-22s %-20s %s\n", marker, truncate(t.Title, 40), t.Type, roleOf(t), t.EstimatedDuration)
			if len(t.DependsOn) > 0 {
				fmt.Fprintf(w, "      after %s\n", strings.Join(shortIDs(t.DependsOn), ", "))
			}
		}
	}
	if len(plan.CriticalPath) > 0 {
		fmt.Fprintf(w, "\n  * critical path\n")
	}
	if plan.Estimation != nil {
		fmt.Fprintln(w)
		printEstimation(w, plan.Estimation)
	}
}

// printEstimation prints the resource estimate of a plan.
func printEstimation(w io.Writer, est *models.ResourceEstimation) {
	color.New(color.Bold).Fprintln(w, "Estimate")
	fmt.Fprintf(w, "  Total duration:   %s (critical path %s, buffer %s)\n", est.TotalDuration, est.CriticalPathDuration, est.CoordinationBuffer)
	if est.AdjustmentFactor != 0 && est.AdjustmentFactor != 1 {
		fmt.Fprintf(w, "  Adjustment:       x%.2f\n", est.AdjustmentFactor)
	}
	fmt.Fprintf(w, "  External calls:   %d (cost $%.2f)\n", est.ExternalCalls, est.Cost)
	fmt.Fprintf(w, "  Data:             %.1f MB\n", est.Data.VolumeMB)
	for _, a := range est.Allocations {
		fmt.Fprintf(w, "  %-20s %2d task(s) %10s  %3.0f%%\n", a.Role, a.TaskCount, a.Time, a.Utilization*100)
	}
	for _, r := range est.RiskFactors {
		fmt.Fprintf(w, "  risk: %s (p=%.2f, impact=%.2f)\n", r.Name, r.Likelihood, r.Impact)
	}
}

// printOutcome prints the final outcome of a conversation.
func printOutcome(w io.Writer, out *models.Outcome) {
	if out == nil {
		printStatus(w, "!", "No outcome recorded", color.FgYellow)
		return
	}
	switch out.Status {
	case models.ConversationCompleted:
		printStatus(w, "✓", fmt.Sprintf("Completed with confidence %.2f", out.Confidence), color.FgGreen)
	case models.ConversationCancelled:
		printStatus(w, "■", "Cancelled", color.FgYellow)
	default:
		printStatus(w, "✗", fmt.Sprintf("Finished %s with confidence %.2f", out.Status, out.Confidence), color.FgRed)
	}
	fmt.Fprintf(w, "  %d completed, %d failed, %d blocked\n", out.Completed, out.Failed, out.Blocked)
	if out.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", out.Error)
	}
	r := out.Result
	if r == nil {
		return
	}
	if r.Claim != "" {
		fmt.Fprintf(w, "\n  Verdict: %s\n", r.Claim)
	}
	if r.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", indent(r.Summary, "  "))
	}
	printList(w, "Findings", r.Findings)
	printList(w, "Recommendations", r.Recommendations)
	printList(w, "Sources", r.Sources)
}

func printList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "\n  %s:\n", title)
	for _, it := range items {
		fmt.Fprintf(w, "    - %s\n", it)
	}
}

// printEvent prints one planner event as a log line for headless runs.
func printEvent(w io.Writer, ev orchestrator.Event) {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	prefix := color.New(color.Faint).Sprint(ts.Format("15:04:05"))
	switch ev.Type {
	case orchestrator.EventPlanCreated:
		fmt.Fprintf(w, "%s %s plan created: %s\n", prefix, color.CyanString("●"), ev.Message)
	case orchestrator.EventPhaseStarted:
		fmt.Fprintf(w, "%s %s phase %d started\n", prefix, color.CyanString("▸"), ev.Phase+1)
	case orchestrator.EventTaskDispatched:
		fmt.Fprintf(w, "%s   → %s (%s)\n", prefix, ev.TaskTitle, ev.Role)
	case orchestrator.EventTaskCompleted:
		fmt.Fprintf(w, "%s   %s %s (%.2f, %s)\n", prefix, color.GreenString("✓"), ev.TaskTitle, ev.Confidence, ev.Duration.Round(time.Millisecond))
	case orchestrator.EventTaskFailed:
		fmt.Fprintf(w, "%s   %s %s: %s\n", prefix, color.RedString("✗"), ev.TaskTitle, errText(ev))
	case orchestrator.EventTaskBlocked:
		fmt.Fprintf(w, "%s   %s %s: %s\n", prefix, color.YellowString("○"), ev.TaskTitle, ev.Message)
	case orchestrator.EventConflictDetected:
		fmt.Fprintf(w, "%s %s conflict: %s\n", prefix, color.MagentaString("≠"), ev.Message)
	case orchestrator.EventAdaptationPending:
		fmt.Fprintf(w, "%s %s adaptation %s needs approval: %s\n", prefix, color.YellowString("?"), ev.AdaptationID, ev.Message)
		fmt.Fprintf(w, "           sleuth approve %s  |  sleuth reject %s\n", ev.AdaptationID, ev.AdaptationID)
	case orchestrator.EventAdaptationApplied:
		fmt.Fprintf(w, "%s %s plan adapted: %s\n", prefix, color.BlueString("↻"), ev.Message)
	case orchestrator.EventPhaseCompleted:
		fmt.Fprintf(w, "%s %s phase %d completed\n", prefix, color.CyanString("▪"), ev.Phase+1)
	case orchestrator.EventConversationDone, orchestrator.EventConversationCancelled:
		fmt.Fprintf(w, "%s %s conversation %s\n", prefix, color.New(color.Bold).Sprint("■"), ev.Message)
	default:
		fmt.Fprintf(w, "%s %s %s\n", prefix, ev.Type, ev.Message)
	}
}

func errText(ev orchestrator.Event) string {
	if ev.Error != nil {
		return ev.Error.Error()
	}
	return ev.Message
}

func roleOf(t *models.Task) string {
	if t.Role == "" {
		return "(unassigned)"
	}
	return string(t.Role)
}

func shortIDs(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = shortID(id)
	}
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
