package conflict

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/sleuth/pkg/models"
)

// DefaultEpsilon is the confidence difference under which two results are
// considered equally confident.
const DefaultEpsilon = 0.001

// Resolver applies the resolution policy to detected groups.
type Resolver struct {
	epsilon float64
	// minConfidence escalates groups whose best result is below it. Zero disables.
	minConfidence float64
	now           func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithEpsilon sets the tie tolerance.
func WithEpsilon(eps float64) ResolverOption {
	return func(r *Resolver) {
		if eps >= 0 {
			r.epsilon = eps
		}
	}
}

// WithMinConfidence escalates conflicts whose best result is below c
// instead of settling them.
func WithMinConfidence(c float64) ResolverOption {
	return func(r *Resolver) { r.minConfidence = c }
}

// NewResolver creates a Resolver.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{epsilon: DefaultEpsilon, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve produces the record for a group. With a clear confidence winner
// the losers are marked SupersededBy the winner. Tied results are merged
// into one narrative, keeping the shared confidence, and flagged for
// escalation. Tasks in g are mutated; callers must hold the owner's lock.
func (r *Resolver) Resolve(conversationID string, g Group) *models.ConflictRecord {
	rec := &models.ConflictRecord{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Subject:        g.Subject,
		Type:           g.Type,
		DetectedAt:     r.now(),
	}
	for _, t := range g.Tasks {
		rec.TaskIDs = append(rec.TaskIDs, t.ID)
		rec.Candidates = append(rec.Candidates, *t.Result.Clone())
	}
	if len(g.Tasks) == 0 {
		return rec
	}

	ranked := append([]*models.Task(nil), g.Tasks...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Result.Confidence > ranked[j].Result.Confidence
	})
	top := ranked[0]

	tied := []*models.Task{top}
	for _, t := range ranked[1:] {
		if math.Abs(top.Result.Confidence-t.Result.Confidence) <= r.epsilon {
			tied = append(tied, t)
		}
	}

	if r.minConfidence > 0 && top.Result.Confidence < r.minConfidence {
		rec.Resolution = models.ResolutionEscalate
		rec.Escalate = true
		rec.Resolved = merge(g.Subject, ranked)
		return rec
	}

	if len(tied) == 1 {
		rec.Resolution = models.ResolutionPreferHigherConfidence
		rec.WinnerID = top.ID
		rec.Resolved = top.Result.Clone()
		for _, t := range ranked[1:] {
			t.SupersededBy = top.ID
		}
		return rec
	}

	rec.Resolution = models.ResolutionMerge
	rec.Escalate = true
	rec.Resolved = merge(g.Subject, tied)
	return rec
}

// merge combines results into one narrative. Confidence is the highest
// candidate's, lists are unioned in order.
func merge(subject string, tasks []*models.Task) *models.TaskResult {
	out := &models.TaskResult{
		Subject:    subject,
		Category:   tasks[0].Result.Category,
		Confidence: tasks[0].Result.Confidence,
		Merged:     true,
	}
	var claims, summaries []string
	seenClaim := make(map[string]bool)
	for _, t := range tasks {
		res := t.Result
		if c := strings.TrimSpace(res.Claim); c != "" && !seenClaim[normalize(c)] {
			seenClaim[normalize(c)] = true
			claims = append(claims, c)
		}
		if s := strings.TrimSpace(res.Summary); s != "" {
			summaries = append(summaries, "["+t.ID+"] "+s)
		}
		out.Findings = union(out.Findings, res.Findings)
		out.Recommendations = union(out.Recommendations, res.Recommendations)
		out.Sources = union(out.Sources, res.Sources)
	}
	out.Claim = strings.Join(claims, " / ")
	out.Summary = "Sources disagree. " + strings.Join(summaries, " ")
	return out
}

func union(dst, src []string) []string {
	for _, s := range src {
		found := false
		for _, d := range dst {
			if d == s {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, s)
		}
	}
	return dst
}

// Check runs detection and resolution over one phase's tasks.
func Check(d *Detector, r *Resolver, conversationID string, tasks []*models.Task) []*models.ConflictRecord {
	var records []*models.ConflictRecord
	for _, g := range d.Detect(tasks) {
		records = append(records, r.Resolve(conversationID, g))
	}
	return records
}
