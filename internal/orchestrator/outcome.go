package orchestrator

import (
	"strings"
	"time"

	"github.com/ShayCichocki/sleuth/pkg/models"
)

// aggregate builds the final outcome from the conversation's tasks. The
// caller must hold conv.mu.
//
// Confidence is the mean confidence of the effective results scaled by the
// share of tasks that completed, so every failed or blocked task lowers it.
// A failed task whose retry completed does not count as failed.
func aggregate(conv *Conversation, status models.ConversationStatus, now time.Time) *models.Outcome {
	out := &models.Outcome{Status: status, FinishedAt: now}

	recovered := make(map[string]bool)
	dependedOn := make(map[string]bool)
	for _, t := range conv.tasks {
		if t.RetryOf != "" && t.Status == models.TaskStatusCompleted {
			recovered[t.RetryOf] = true
		}
		for _, dep := range t.DependsOn {
			dependedOn[dep] = true
		}
	}

	merged := conv.mergedLocked()
	seenMerge := make(map[string]bool)
	var results, leaves []*models.TaskResult
	for _, t := range conv.tasks {
		switch t.Status {
		case models.TaskStatusCompleted:
			out.Completed++
		case models.TaskStatusFailed:
			if !recovered[t.ID] {
				out.Failed++
			}
			continue
		case models.TaskStatusBlocked:
			out.Blocked++
			continue
		default:
			continue
		}
		if t.Result == nil || t.SupersededBy != "" {
			continue
		}
		res := t.Result
		if r, ok := merged[t.ID]; ok {
			if seenMerge[r.ID] {
				continue
			}
			seenMerge[r.ID] = true
			res = r.Resolved
		}
		results = append(results, res)
		if !dependedOn[t.ID] {
			leaves = append(leaves, res)
		}
	}

	settled := out.Completed + out.Failed + out.Blocked
	if len(results) == 0 || settled == 0 {
		return out
	}
	var sum float64
	for _, r := range results {
		sum += r.Confidence
	}
	out.Confidence = sum / float64(len(results)) * float64(out.Completed) / float64(settled)

	if len(leaves) == 0 {
		leaves = results
	}
	final := &models.TaskResult{
		Subject:    conv.request,
		Category:   "report",
		Confidence: out.Confidence,
		Merged:     len(leaves) > 1,
	}
	best := leaves[0]
	summaries := make([]string, 0, len(leaves))
	for _, r := range leaves {
		if r.Confidence > best.Confidence {
			best = r
		}
		if s := strings.TrimSpace(r.Summary); s != "" {
			summaries = append(summaries, s)
		}
	}
	final.Claim = best.Claim
	final.Summary = strings.Join(summaries, "\n\n")
	for _, r := range results {
		final.Findings = appendUnique(final.Findings, r.Findings)
		final.Recommendations = appendUnique(final.Recommendations, r.Recommendations)
		final.Sources = appendUnique(final.Sources, r.Sources)
	}
	out.Result = final
	return out
}

func appendUnique(dst, src []string) []string {
	for _, s := range src {
		dup := false
		for _, d := range dst {
			if d == s {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, s)
		}
	}
	return dst
}
