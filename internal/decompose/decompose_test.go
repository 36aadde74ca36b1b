package decompose

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/sleuth/internal/capability"
	"github.com/ShayCichocki/sleuth/internal/graph"
	"github.com/ShayCichocki/sleuth/internal/llm"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

func completer(reply string, err error) llm.Completer {
	return llm.CompleterFunc(func(ctx context.Context, system, prompt string) (string, error) {
		return reply, err
	})
}

func byTitle(tasks []*models.Task) map[string]*models.Task {
	m := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		m[t.Title] = t
	}
	return m
}

func TestDecompose_Valid(t *testing.T) {
	reply := `Here is the plan:
{
  "plan_type": "comprehensive",
  "research_tasks": [
    {"title": "Filings", "type": "data_collection", "query": "Acme 10-K", "sources": ["sec.gov"], "estimated_seconds": 60},
    {"title": "Press", "type": "market_research", "domain": "Finance"}
  ],
  "analysis_tasks": [
    {"title": "Risk", "type": "risk_assessment", "reads": ["Filings", "press"], "priority": "high", "subject": "Acme"},
    {"title": "Report", "type": "report_drafting", "reads": ["Risk", "Ghost"], "audience": "board"}
  ]
}`
	d, err := New(completer(reply, nil)).Decompose(context.Background(), "Assess Acme")
	if err != nil {
		t.Fatalf("Decompose failed: %v", err)
	}
	if d.Fallback {
		t.Error("Fallback = true, want false")
	}
	if d.PlanType != models.PlanComprehensive {
		t.Errorf("PlanType = %s, want comprehensive", d.PlanType)
	}
	if len(d.Tasks) != 4 {
		t.Fatalf("Expected 4 tasks, got %d", len(d.Tasks))
	}

	tasks := byTitle(d.Tasks)
	filings, press, risk, report := tasks["Filings"], tasks["Press"], tasks["Risk"], tasks["Report"]

	if filings.EstimatedDuration != time.Minute {
		t.Errorf("Filings duration = %s, want 1m", filings.EstimatedDuration)
	}
	if press.EstimatedDuration != DefaultGatheringDuration {
		t.Errorf("Press duration = %s, want default", press.EstimatedDuration)
	}
	if press.Domain != "finance" {
		t.Errorf("Press domain = %q, want lowercased", press.Domain)
	}
	p, ok := filings.Payload.(models.ResearchPayload)
	if !ok || p.Query != "Acme 10-K" || len(p.Sources) != 1 {
		t.Errorf("Filings payload = %#v", filings.Payload)
	}

	if len(risk.DependsOn) != 2 || risk.DependsOn[0] != filings.ID || risk.DependsOn[1] != press.ID {
		t.Errorf("Risk deps = %v, want [%s %s] (title lookup is case-insensitive)", risk.DependsOn, filings.ID, press.ID)
	}
	if risk.Priority != models.PriorityHigh || risk.Stage != models.StageEvaluation {
		t.Errorf("Risk priority/stage = %s/%s", risk.Priority, risk.Stage)
	}
	if len(report.DependsOn) != 1 || report.DependsOn[0] != risk.ID {
		t.Errorf("Report deps = %v, unknown reference should be dropped", report.DependsOn)
	}
	if sp, ok := report.Payload.(models.SynthesisPayload); !ok || sp.Audience != "board" {
		t.Errorf("Report payload = %#v", report.Payload)
	}
	for _, task := range d.Tasks {
		if task.ID == "" || task.Status != models.TaskStatusPending {
			t.Errorf("Task %q: id=%q status=%s", task.Title, task.ID, task.Status)
		}
	}
}

func TestDecompose_TypeOutOfStageFallsBack(t *testing.T) {
	reply := `{"research_tasks":[{"title":"A","type":"synthesis"}],"analysis_tasks":[{"title":"B","type":"bogus","reads":["A"]}]}`
	d, err := New(completer(reply, nil)).Decompose(context.Background(), "x")
	if err != nil {
		t.Fatalf("Decompose failed: %v", err)
	}
	tasks := byTitle(d.Tasks)
	if tasks["A"].Type != models.TaskTypeLiteratureReview {
		t.Errorf("A type = %s, want literature_review", tasks["A"].Type)
	}
	if tasks["B"].Type != models.TaskTypeQuantitativeAnalysis {
		t.Errorf("B type = %s, want quantitative_analysis", tasks["B"].Type)
	}
	if d.PlanType != models.PlanStandard {
		t.Errorf("PlanType = %s, want standard", d.PlanType)
	}
}

func TestDecompose_FallsBackOnGarbage(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"no json", "I cannot help with that."},
		{"bad json", `{"research_tasks": [`},
		{"empty plan", `{"plan_type":"standard","research_tasks":[],"analysis_tasks":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(completer(tt.reply, nil)).Decompose(context.Background(), "Assess Acme")
			if err != nil {
				t.Fatalf("Decompose failed: %v", err)
			}
			if !d.Fallback {
				t.Error("Fallback = false, want true")
			}
			if len(d.Tasks) != 6 {
				t.Errorf("Expected 6 template tasks, got %d", len(d.Tasks))
			}
		})
	}
}

func TestDecompose_CompletionError(t *testing.T) {
	_, err := New(completer("", errors.New("boom"))).Decompose(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("err = %v, want wrapped completion error", err)
	}
}

func TestDecompose_EmptyRequest(t *testing.T) {
	if _, err := New(nil).Decompose(context.Background(), "   "); err == nil {
		t.Error("expected error for empty request")
	}
}

func TestDecompose_CycleRejected(t *testing.T) {
	reply := `{"analysis_tasks":[{"title":"A","type":"synthesis","reads":["B"]},{"title":"B","type":"synthesis","reads":["A"]}]}`
	_, err := New(completer(reply, nil)).Decompose(context.Background(), "x")
	if !errors.Is(err, graph.ErrCycleDetected) {
		t.Errorf("err = %v, want ErrCycleDetected", err)
	}
}

func TestDefaultTemplate(t *testing.T) {
	tasks := DefaultTemplate("Assess Acme")
	if len(tasks) != 6 {
		t.Fatalf("Expected 6 tasks, got %d", len(tasks))
	}
	layers, err := func() ([][]string, error) {
		g := graph.New()
		if err := g.Build(tasks); err != nil {
			return nil, err
		}
		return g.Layers()
	}()
	if err != nil {
		t.Fatalf("Layers failed: %v", err)
	}
	want := []int{2, 2, 1, 1}
	if len(layers) != len(want) {
		t.Fatalf("Expected %d layers, got %d", len(want), len(layers))
	}
	for i, n := range want {
		if len(layers[i]) != n {
			t.Errorf("layer %d has %d tasks, want %d", i, len(layers[i]), n)
		}
	}

	reg := capability.Default()
	for _, task := range tasks {
		if _, err := reg.Match(task); err != nil {
			t.Errorf("Task %q: no role: %v", task.Title, err)
		}
	}
	if res := NewValidator(reg).Validate(tasks); !res.Valid {
		t.Errorf("template invalid: %v", res.Errors)
	}
}

func TestValidator(t *testing.T) {
	mk := func(id string, typ models.TaskType, deps ...string) *models.Task {
		return &models.Task{ID: id, Title: "T " + id, Type: typ, EstimatedDuration: time.Minute, DependsOn: deps}
	}

	tests := []struct {
		name      string
		tasks     []*models.Task
		wantValid bool
		wantMsg   string
	}{
		{
			name:      "valid",
			tasks:     []*models.Task{mk("a", models.TaskTypeDataCollection), mk("b", models.TaskTypeRiskAssessment, "a")},
			wantValid: true,
		},
		{
			name:    "empty",
			wantMsg: "No tasks",
		},
		{
			name:    "unknown dependency",
			tasks:   []*models.Task{mk("a", models.TaskTypeDataCollection, "zz")},
			wantMsg: "non-existent dependency",
		},
		{
			name:    "cycle",
			tasks:   []*models.Task{mk("a", models.TaskTypeSynthesis, "b"), mk("b", models.TaskTypeSynthesis, "a")},
			wantMsg: "cycle",
		},
		{
			name:    "unsupported type",
			tasks:   []*models.Task{mk("a", models.TaskType("astrology"))},
			wantMsg: "No worker role",
		},
		{
			name:    "duplicate id",
			tasks:   []*models.Task{mk("a", models.TaskTypeDataCollection), mk("a", models.TaskTypeFactCheck)},
			wantMsg: "Duplicate id",
		},
	}
	v := NewValidator(capability.Default())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(tt.tasks)
			if res.Valid != tt.wantValid {
				t.Errorf("Valid = %v, want %v (errors %v)", res.Valid, tt.wantValid, res.Errors)
			}
			if tt.wantMsg != "" && !strings.Contains(strings.Join(res.Errors, "\n"), tt.wantMsg) {
				t.Errorf("Errors %v do not mention %q", res.Errors, tt.wantMsg)
			}
		})
	}
}

func TestValidator_Warnings(t *testing.T) {
	tasks := []*models.Task{
		{ID: "a", Title: "Lonely analysis", Type: models.TaskTypeTrendAnalysis},
		{ID: "b", Title: "Late research", Type: models.TaskTypeDataCollection, EstimatedDuration: time.Minute, DependsOn: []string{"a"}},
	}
	res := NewValidator(nil).Validate(tasks)
	if !res.Valid {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	joined := strings.Join(res.Warnings, "\n")
	for _, want := range []string{"No duration estimate", "reads no gathered data", "waits on evaluation"} {
		if !strings.Contains(joined, want) {
			t.Errorf("Warnings %v missing %q", res.Warnings, want)
		}
	}
}

const samplePlan = `
request: Assess Acme
plan_type: expedited
tasks:
  - id: filings
    title: Collect filings
    type: data_collection
    estimated_duration: 90s
    payload: {query: "Acme 10-K", sources: [sec.gov]}
  - title: Assess risk
    type: risk_assessment
    priority: high
    timeout: 30s
    depends_on: [filings]
  - id: report
    title: Report
    type: synthesis
    depends_on: [assess risk]
    payload:
      audience: board
`

func TestParsePlanFile(t *testing.T) {
	d, err := ParsePlanFile([]byte(samplePlan))
	if err != nil {
		t.Fatalf("ParsePlanFile failed: %v", err)
	}
	if d.PlanType != models.PlanExpedited || d.Request != "Assess Acme" {
		t.Errorf("PlanType/Request = %s/%q", d.PlanType, d.Request)
	}
	if len(d.Tasks) != 3 {
		t.Fatalf("Expected 3 tasks, got %d", len(d.Tasks))
	}
	filings, risk, report := d.Tasks[0], d.Tasks[1], d.Tasks[2]
	if filings.EstimatedDuration != 90*time.Second {
		t.Errorf("filings duration = %s", filings.EstimatedDuration)
	}
	if p, ok := filings.Payload.(models.ResearchPayload); !ok || p.Query != "Acme 10-K" || p.Sources[0] != "sec.gov" {
		t.Errorf("filings payload = %#v", filings.Payload)
	}
	if risk.ID == "" || risk.Timeout != 30*time.Second || risk.EstimatedDuration != DefaultEvaluationDuration {
		t.Errorf("risk = id %q timeout %s duration %s", risk.ID, risk.Timeout, risk.EstimatedDuration)
	}
	if ap, ok := risk.Payload.(models.AnalysisPayload); !ok || ap.Subject != "Assess risk" {
		t.Errorf("risk payload = %#v", risk.Payload)
	}
	if len(report.DependsOn) != 1 || report.DependsOn[0] != risk.ID {
		t.Errorf("report deps = %v, want title reference resolved to %s", report.DependsOn, risk.ID)
	}
	if sp, ok := report.Payload.(models.SynthesisPayload); !ok || sp.Audience != "board" {
		t.Errorf("report payload = %#v", report.Payload)
	}
}

func TestParsePlanFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no tasks", "tasks: []"},
		{"bad type", "tasks: [{title: a, type: astrology}]"},
		{"bad duration", "tasks: [{title: a, type: fact_check, estimated_duration: soon}]"},
		{"unknown dep", "tasks: [{title: a, type: fact_check, depends_on: [b]}]"},
		{"duplicate id", "tasks: [{id: x, title: a, type: fact_check}, {id: x, title: b, type: fact_check}]"},
		{"cycle", "tasks: [{id: a, title: a, type: synthesis, depends_on: [b]}, {id: b, title: b, type: synthesis, depends_on: [a]}]"},
		{"bad plan type", "plan_type: leisurely\ntasks: [{title: a, type: fact_check}]"},
		{"bad priority", "tasks: [{title: a, type: fact_check, priority: urgent}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePlanFile([]byte(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPlanFile_RoundTrip(t *testing.T) {
	tasks := DefaultTemplate("Assess Acme")
	data, err := MarshalPlanFile("Assess Acme", models.PlanStandard, tasks)
	if err != nil {
		t.Fatalf("MarshalPlanFile failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	d, err := LoadPlanFile(path)
	if err != nil {
		t.Fatalf("LoadPlanFile failed: %v\n%s", err, data)
	}
	if len(d.Tasks) != len(tasks) {
		t.Fatalf("Expected %d tasks, got %d", len(tasks), len(d.Tasks))
	}
	for i := range tasks {
		if d.Tasks[i].ID != tasks[i].ID || d.Tasks[i].EstimatedDuration != tasks[i].EstimatedDuration {
			t.Errorf("task %d mismatch: %+v vs %+v", i, d.Tasks[i], tasks[i])
		}
		if strings.Join(d.Tasks[i].DependsOn, ",") != strings.Join(tasks[i].DependsOn, ",") {
			t.Errorf("task %d deps %v, want %v", i, d.Tasks[i].DependsOn, tasks[i].DependsOn)
		}
	}
}

func TestLoadPlanFile_Missing(t *testing.T) {
	if _, err := LoadPlanFile(filepath.Join(t.TempDir(), "none.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
