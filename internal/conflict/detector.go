// Package conflict finds completed results that disagree about the same
// subject and reconciles them.
package conflict

import (
	"sort"
	"strings"
	"sync"

	"github.com/ShayCichocki/sleuth/pkg/models"
)

// Predicate reports whether two results of the same category and subject
// make incompatible claims.
type Predicate func(a, b *models.TaskResult) bool

// Group is a set of tasks found to disagree about one subject.
type Group struct {
	Type    models.ConflictType
	Subject string
	// Tasks are in the order they were passed to Detect.
	Tasks []*models.Task
}

// Detector runs category predicates pairwise over results.
type Detector struct {
	mu         sync.RWMutex
	predicates map[string]Predicate
	fallback   Predicate
}

// NewDetector returns a detector with the built-in predicates registered
// for risk_assessment and recommendation, and a claim fallback for every
// other category.
func NewDetector() *Detector {
	d := &Detector{
		predicates: make(map[string]Predicate),
		fallback:   DifferentClaims,
	}
	d.Register(string(models.ConflictRiskAssessment), DifferentRiskLevels)
	d.Register(string(models.ConflictRecommendation), OpposingRecommendations)
	return d
}

// Register installs the predicate for a result category, replacing any
// previous one.
func (d *Detector) Register(category string, p Predicate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.predicates[normalize(category)] = p
}

func (d *Detector) predicate(category string) Predicate {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if p, ok := d.predicates[normalize(category)]; ok {
		return p
	}
	return d.fallback
}

// Detect compares completed results pairwise. Only results sharing a
// category and a subject are compared. Tasks without a result, without a
// subject, or already superseded are ignored.
func (d *Detector) Detect(tasks []*models.Task) []Group {
	type key struct{ category, subject string }
	buckets := make(map[key][]*models.Task)
	var keys []key

	for _, t := range tasks {
		if t.Status != models.TaskStatusCompleted || t.Result == nil || t.SupersededBy != "" {
			continue
		}
		k := key{normalize(t.Result.Category), normalize(t.Result.Subject)}
		if k.subject == "" {
			continue
		}
		if _, ok := buckets[k]; !ok {
			keys = append(keys, k)
		}
		buckets[k] = append(buckets[k], t)
	}

	var groups []Group
	for _, k := range keys {
		bucket := buckets[k]
		if len(bucket) < 2 {
			continue
		}
		pred := d.predicate(k.category)
		involved := make(map[int]bool)
		for i := 0; i < len(bucket); i++ {
			for j := i + 1; j < len(bucket); j++ {
				if pred(bucket[i].Result, bucket[j].Result) {
					involved[i] = true
					involved[j] = true
				}
			}
		}
		if len(involved) == 0 {
			continue
		}
		idx := make([]int, 0, len(involved))
		for i := range involved {
			idx = append(idx, i)
		}
		sort.Ints(idx)
		g := Group{Type: typeOf(k.category), Subject: bucket[idx[0]].Result.Subject}
		for _, i := range idx {
			g.Tasks = append(g.Tasks, bucket[i])
		}
		groups = append(groups, g)
	}
	return groups
}

func typeOf(category string) models.ConflictType {
	switch category {
	case string(models.ConflictRiskAssessment):
		return models.ConflictRiskAssessment
	case string(models.ConflictRecommendation):
		return models.ConflictRecommendation
	default:
		return models.ConflictClaim
	}
}

// DifferentClaims is the fallback predicate: both results state a claim and
// the claims differ.
func DifferentClaims(a, b *models.TaskResult) bool {
	ca, cb := normalize(a.Claim), normalize(b.Claim)
	return ca != "" && cb != "" && ca != cb
}

var riskLevels = map[string]int{
	"none": 0, "minimal": 0,
	"low": 1,
	"moderate": 2, "medium": 2,
	"elevated": 3, "high": 3,
	"severe": 4, "critical": 4,
}

// DifferentRiskLevels reports risk assessments that land on different
// levels. Synonyms such as medium and moderate are treated as equal.
func DifferentRiskLevels(a, b *models.TaskResult) bool {
	la, oka := riskLevels[normalize(a.Claim)]
	lb, okb := riskLevels[normalize(b.Claim)]
	if !oka || !okb {
		return DifferentClaims(a, b)
	}
	return la != lb
}

var verdicts = map[string]int{
	"buy": 1, "invest": 1, "approve": 1, "proceed": 1, "accept": 1, "yes": 1, "recommend": 1,
	"hold": 0, "neutral": 0, "monitor": 0,
	"sell": -1, "divest": -1, "reject": -1, "avoid": -1, "halt": -1, "no": -1, "decline": -1,
}

// OpposingRecommendations reports recommendations whose verdicts point in
// different directions. Unknown verdicts fall back to DifferentClaims.
func OpposingRecommendations(a, b *models.TaskResult) bool {
	va, oka := verdicts[normalize(a.Claim)]
	vb, okb := verdicts[normalize(b.Claim)]
	if !oka || !okb {
		return DifferentClaims(a, b)
	}
	return va != vb
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
