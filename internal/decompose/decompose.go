// Package decompose turns a free-text investigation request into tasks with
// dependencies.
package decompose

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/sleuth/internal/graph"
	"github.com/ShayCichocki/sleuth/internal/llm"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

// Default durations for tasks that do not carry an estimate.
const (
	DefaultGatheringDuration  = 2 * time.Minute
	DefaultEvaluationDuration = 3 * time.Minute
)

// plannedTask is the JSON structure returned by the model for a single task.
type plannedTask struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Type             string   `json:"type"`
	Domain           string   `json:"domain"`
	Complexity       string   `json:"complexity"`
	Priority         string   `json:"priority"`
	EstimatedSeconds int      `json:"estimated_seconds"`
	Reads            []string `json:"reads"`
	DependsOn        []string `json:"depends_on"`

	Query        string   `json:"query"`
	Sources      []string `json:"sources"`
	Depth        string   `json:"depth"`
	Subject      string   `json:"subject"`
	Metrics      []string `json:"metrics"`
	Method       string   `json:"method"`
	Audience     string   `json:"audience"`
	Sections     []string `json:"sections"`
	Jurisdiction string   `json:"jurisdiction"`
	Rules        []string `json:"rules"`
}

// planResponse is the JSON structure returned by the model.
type planResponse struct {
	PlanType      string        `json:"plan_type"`
	ResearchTasks []plannedTask `json:"research_tasks"`
	AnalysisTasks []plannedTask `json:"analysis_tasks"`
}

// Decomposition is the outcome of interpreting a request.
type Decomposition struct {
	Request  string
	PlanType models.PlanType
	Tasks    []*models.Task
	// Fallback is true when the default template was used.
	Fallback bool
}

// Decomposer breaks requests down into gathering and evaluation tasks.
type Decomposer struct {
	completer llm.Completer
	newID     func() string
	now       func() time.Time
	debugLog  func(format string, args ...interface{})
}

// New creates a Decomposer. A nil completer always uses the default template.
func New(c llm.Completer) *Decomposer {
	return &Decomposer{
		completer: c,
		newID:     func() string { return uuid.New().String() },
		now:       time.Now,
		debugLog:  func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (d *Decomposer) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		d.debugLog = fn
	}
}

// Decompose asks the completion service for a plan. Output that cannot be
// parsed, or that yields no tasks, falls back to DefaultTemplate.
func (d *Decomposer) Decompose(ctx context.Context, request string) (*Decomposition, error) {
	request = strings.TrimSpace(request)
	if request == "" {
		return nil, fmt.Errorf("empty request")
	}
	if d.completer == nil {
		return d.fallback(request)
	}

	raw, err := d.completer.Complete(ctx, systemPrompt, fmt.Sprintf(decompositionPrompt, request))
	if err != nil {
		return nil, fmt.Errorf("decompose request: %w", err)
	}

	resp, err := llm.ParseJSON[planResponse](raw).Get()
	if err != nil {
		d.debugLog("[decompose] %v, using default template", err)
		return d.fallback(request)
	}
	if len(resp.ResearchTasks)+len(resp.AnalysisTasks) == 0 {
		d.debugLog("[decompose] model returned no tasks, using default template")
		return d.fallback(request)
	}

	tasks, err := d.build(resp)
	if err != nil {
		return nil, err
	}
	planType := models.PlanType(strings.ToLower(resp.PlanType))
	if !planType.Valid() {
		planType = models.PlanStandard
	}
	return &Decomposition{Request: request, PlanType: planType, Tasks: tasks}, nil
}

func (d *Decomposer) fallback(request string) (*Decomposition, error) {
	tasks, err := d.build(defaultTemplate(request))
	if err != nil {
		return nil, err
	}
	return &Decomposition{Request: request, PlanType: models.PlanStandard, Tasks: tasks, Fallback: true}, nil
}

// DefaultTemplate returns the fallback plan for a request: literature review
// and data collection feed quantitative analysis and risk assessment, which
// feed a synthesis, which is checked for compliance.
func DefaultTemplate(request string) []*models.Task {
	tasks, err := New(nil).build(defaultTemplate(request))
	if err != nil {
		// The template is static and acyclic.
		panic(fmt.Sprintf("decompose: invalid default template: %v", err))
	}
	return tasks
}

func defaultTemplate(request string) planResponse {
	subject := llm.Truncate(request, 120)
	return planResponse{
		PlanType: string(models.PlanStandard),
		ResearchTasks: []plannedTask{
			{
				Title: "Literature review", Type: string(models.TaskTypeLiteratureReview),
				Description: "Collect published analyses and reports relevant to: " + request,
				Query:       request, Depth: "standard", EstimatedSeconds: 120,
			},
			{
				Title: "Data collection", Type: string(models.TaskTypeDataCollection),
				Description: "Gather the quantitative data needed to answer: " + request,
				Query:       request, EstimatedSeconds: 180,
			},
		},
		AnalysisTasks: []plannedTask{
			{
				Title: "Quantitative analysis", Type: string(models.TaskTypeQuantitativeAnalysis),
				Subject: subject, Reads: []string{"Literature review", "Data collection"}, EstimatedSeconds: 180,
			},
			{
				Title: "Risk assessment", Type: string(models.TaskTypeRiskAssessment),
				Subject: subject, Reads: []string{"Literature review", "Data collection"}, EstimatedSeconds: 150,
				Priority: string(models.PriorityHigh),
			},
			{
				Title: "Synthesis", Type: string(models.TaskTypeSynthesis),
				Reads: []string{"Quantitative analysis", "Risk assessment"}, EstimatedSeconds: 120,
				Sections: []string{"summary", "findings", "risks", "recommendations"},
			},
			{
				Title: "Compliance check", Type: string(models.TaskTypeComplianceCheck),
				Reads: []string{"Synthesis"}, EstimatedSeconds: 90, Complexity: string(models.ComplexityMedium),
			},
		},
	}
}

// build converts the planned tasks to models.Task, resolving title
// references to generated IDs. Unknown references are dropped.
func (d *Decomposer) build(resp planResponse) ([]*models.Task, error) {
	now := d.now()
	titleToID := make(map[string]string)
	var tasks []*models.Task
	var planned []plannedTask

	add := func(pt plannedTask, fallbackType models.TaskType, stage models.Stage) {
		title := strings.TrimSpace(pt.Title)
		if title == "" {
			d.debugLog("[decompose] skipping untitled %s task", stage)
			return
		}
		typ := models.TaskType(strings.ToLower(pt.Type))
		if typ == "" || typ.Stage() != stage || !knownType(typ) {
			typ = fallbackType
		}
		id := d.newID()
		if _, dup := titleToID[strings.ToLower(title)]; !dup {
			titleToID[strings.ToLower(title)] = id
		}

		t := &models.Task{
			ID:          id,
			Title:       title,
			Description: pt.Description,
			Type:        typ,
			Stage:       stage,
			Domain:      strings.ToLower(pt.Domain),
			Complexity:  models.Complexity(strings.ToLower(pt.Complexity)),
			Priority:    models.Priority(strings.ToLower(pt.Priority)),
			Payload:     payloadFor(typ, title, pt),
			Status:      models.TaskStatusPending,
			CreatedAt:   now,
		}
		if !t.Complexity.Valid() {
			t.Complexity = models.ComplexityMedium
		}
		if !t.Priority.Valid() {
			t.Priority = models.PriorityNormal
		}
		switch {
		case pt.EstimatedSeconds > 0:
			t.EstimatedDuration = time.Duration(pt.EstimatedSeconds) * time.Second
		case stage == models.StageGathering:
			t.EstimatedDuration = DefaultGatheringDuration
		default:
			t.EstimatedDuration = DefaultEvaluationDuration
		}
		tasks = append(tasks, t)
		planned = append(planned, pt)
	}

	for _, pt := range resp.ResearchTasks {
		add(pt, models.TaskTypeLiteratureReview, models.StageGathering)
	}
	for _, pt := range resp.AnalysisTasks {
		add(pt, models.TaskTypeQuantitativeAnalysis, models.StageEvaluation)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("plan contains no usable tasks")
	}

	for i, pt := range planned {
		seen := make(map[string]bool)
		for _, ref := range append(append([]string(nil), pt.Reads...), pt.DependsOn...) {
			depID, ok := titleToID[strings.ToLower(strings.TrimSpace(ref))]
			if !ok {
				d.debugLog("[decompose] task %q: dropping unknown reference %q", tasks[i].Title, ref)
				continue
			}
			if depID == tasks[i].ID || seen[depID] {
				continue
			}
			seen[depID] = true
			tasks[i].DependsOn = append(tasks[i].DependsOn, depID)
		}
	}

	if err := graph.Validate(tasks); err != nil {
		return nil, fmt.Errorf("validate dependencies: %w", err)
	}
	return tasks, nil
}

func knownType(t models.TaskType) bool {
	switch t {
	case models.TaskTypeLiteratureReview, models.TaskTypeDataCollection, models.TaskTypeMarketResearch,
		models.TaskTypeFactCheck, models.TaskTypeQuantitativeAnalysis, models.TaskTypeRiskAssessment,
		models.TaskTypeTrendAnalysis, models.TaskTypeComparativeAnalysis, models.TaskTypeSynthesis,
		models.TaskTypeReportDrafting, models.TaskTypeComplianceCheck, models.TaskTypeRegulatoryReview:
		return true
	}
	return false
}

func payloadFor(t models.TaskType, title string, pt plannedTask) models.Payload {
	switch t.Kind() {
	case models.PayloadAnalysis:
		subject := pt.Subject
		if subject == "" {
			subject = title
		}
		return models.AnalysisPayload{Subject: subject, Metrics: pt.Metrics, Method: pt.Method}
	case models.PayloadSynthesis:
		return models.SynthesisPayload{Audience: pt.Audience, Sections: pt.Sections}
	case models.PayloadCompliance:
		return models.CompliancePayload{Jurisdiction: pt.Jurisdiction, Rules: pt.Rules}
	default:
		query := pt.Query
		if query == "" {
			query = title
		}
		return models.ResearchPayload{Query: query, Sources: pt.Sources, Depth: pt.Depth}
	}
}
