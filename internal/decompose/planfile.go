package decompose

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/sleuth/internal/graph"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

// PlanFile is the YAML layout of a hand-written task plan:
//
//	request: Assess Acme Corp acquisition risk
//	plan_type: standard
//	tasks:
//	  - id: filings
//	    title: Collect filings
//	    type: data_collection
//	    estimated_duration: 2m
//	    payload: {query: "Acme 10-K", sources: [sec.gov]}
//	  - id: risk
//	    title: Assess risk
//	    type: risk_assessment
//	    depends_on: [filings]
type PlanFile struct {
	Request  string     `yaml:"request,omitempty"`
	PlanType string     `yaml:"plan_type,omitempty"`
	Tasks    []FileTask `yaml:"tasks"`
}

// FileTask is one task of a PlanFile. DependsOn entries may name task IDs
// or titles.
type FileTask struct {
	ID                string    `yaml:"id,omitempty"`
	Title             string    `yaml:"title"`
	Description       string    `yaml:"description,omitempty"`
	Type              string    `yaml:"type"`
	Domain            string    `yaml:"domain,omitempty"`
	Complexity        string    `yaml:"complexity,omitempty"`
	Priority          string    `yaml:"priority,omitempty"`
	Role              string    `yaml:"role,omitempty"`
	DependsOn         []string  `yaml:"depends_on,omitempty"`
	EstimatedDuration string    `yaml:"estimated_duration,omitempty"`
	Timeout           string    `yaml:"timeout,omitempty"`
	ExternalCalls     int       `yaml:"external_calls,omitempty"`
	Payload           yaml.Node `yaml:"payload,omitempty"`
}

// LoadPlanFile reads a task plan from a YAML file.
func LoadPlanFile(path string) (*Decomposition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	d, err := ParsePlanFile(data)
	if err != nil {
		return nil, fmt.Errorf("plan file %s: %w", path, err)
	}
	return d, nil
}

// ParsePlanFile parses a YAML task plan.
func ParsePlanFile(data []byte) (*Decomposition, error) {
	var f PlanFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if len(f.Tasks) == 0 {
		return nil, fmt.Errorf("no tasks")
	}

	now := time.Now()
	tasks := make([]*models.Task, 0, len(f.Tasks))
	refs := make(map[string]string)
	for i, ft := range f.Tasks {
		if ft.Title == "" {
			return nil, fmt.Errorf("task %d: missing title", i)
		}
		typ := models.TaskType(strings.ToLower(ft.Type))
		if !knownType(typ) {
			return nil, fmt.Errorf("task %q: unknown type %q", ft.Title, ft.Type)
		}
		id := ft.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, dup := refs[id]; dup {
			return nil, fmt.Errorf("task %q: duplicate id %s", ft.Title, id)
		}

		t := &models.Task{
			ID:            id,
			Title:         ft.Title,
			Description:   ft.Description,
			Type:          typ,
			Stage:         typ.Stage(),
			Domain:        strings.ToLower(ft.Domain),
			Complexity:    models.Complexity(strings.ToLower(ft.Complexity)),
			Priority:      models.Priority(strings.ToLower(ft.Priority)),
			Role:          models.WorkerRole(strings.ToLower(ft.Role)),
			ExternalCalls: ft.ExternalCalls,
			Status:        models.TaskStatusPending,
			CreatedAt:     now,
		}
		if t.Complexity == "" {
			t.Complexity = models.ComplexityMedium
		}
		if t.Priority == "" {
			t.Priority = models.PriorityNormal
		}
		if !t.Complexity.Valid() || !t.Priority.Valid() {
			return nil, fmt.Errorf("task %q: invalid complexity or priority", ft.Title)
		}
		if t.Role != "" && !t.Role.Valid() {
			return nil, fmt.Errorf("task %q: unknown role %q", ft.Title, ft.Role)
		}

		var err error
		if t.EstimatedDuration, err = parseDuration(ft.EstimatedDuration, t.Stage); err != nil {
			return nil, fmt.Errorf("task %q: estimated_duration: %w", ft.Title, err)
		}
		if ft.Timeout != "" {
			if t.Timeout, err = time.ParseDuration(ft.Timeout); err != nil {
				return nil, fmt.Errorf("task %q: timeout: %w", ft.Title, err)
			}
		}
		if t.Payload, err = decodePayload(typ, ft.Title, &ft.Payload); err != nil {
			return nil, fmt.Errorf("task %q: payload: %w", ft.Title, err)
		}

		refs[id] = id
		if _, taken := refs[strings.ToLower(ft.Title)]; !taken {
			refs[strings.ToLower(ft.Title)] = id
		}
		tasks = append(tasks, t)
	}

	for i, ft := range f.Tasks {
		for _, ref := range ft.DependsOn {
			depID, ok := refs[ref]
			if !ok {
				depID, ok = refs[strings.ToLower(ref)]
			}
			if !ok {
				return nil, fmt.Errorf("task %q: unknown dependency %q", ft.Title, ref)
			}
			tasks[i].DependsOn = append(tasks[i].DependsOn, depID)
		}
	}
	if err := graph.Validate(tasks); err != nil {
		return nil, err
	}

	planType := models.PlanType(strings.ToLower(f.PlanType))
	if planType == "" {
		planType = models.PlanStandard
	}
	if !planType.Valid() {
		return nil, fmt.Errorf("unknown plan_type %q", f.PlanType)
	}
	return &Decomposition{Request: f.Request, PlanType: planType, Tasks: tasks}, nil
}

func parseDuration(s string, stage models.Stage) (time.Duration, error) {
	if s == "" {
		if stage == models.StageGathering {
			return DefaultGatheringDuration, nil
		}
		return DefaultEvaluationDuration, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

func decodePayload(t models.TaskType, title string, node *yaml.Node) (models.Payload, error) {
	if node.Kind == 0 {
		return models.DefaultPayload(t, title), nil
	}
	switch t.Kind() {
	case models.PayloadAnalysis:
		var p models.AnalysisPayload
		err := node.Decode(&p)
		if p.Subject == "" {
			p.Subject = title
		}
		return p, err
	case models.PayloadSynthesis:
		var p models.SynthesisPayload
		err := node.Decode(&p)
		return p, err
	case models.PayloadCompliance:
		var p models.CompliancePayload
		err := node.Decode(&p)
		return p, err
	default:
		var p models.ResearchPayload
		err := node.Decode(&p)
		if p.Query == "" {
			p.Query = title
		}
		return p, err
	}
}

// MarshalPlanFile renders tasks in the PlanFile layout, so a generated plan
// can be edited and fed back with --file.
func MarshalPlanFile(request string, planType models.PlanType, tasks []*models.Task) ([]byte, error) {
	f := PlanFile{Request: request, PlanType: string(planType)}
	for _, t := range tasks {
		ft := FileTask{
			ID:            t.ID,
			Title:         t.Title,
			Description:   t.Description,
			Type:          string(t.Type),
			Domain:        t.Domain,
			Complexity:    string(t.Complexity),
			Priority:      string(t.Priority),
			Role:          string(t.Role),
			DependsOn:     t.DependsOn,
			ExternalCalls: t.ExternalCalls,
		}
		if t.EstimatedDuration > 0 {
			ft.EstimatedDuration = t.EstimatedDuration.String()
		}
		if t.Timeout > 0 {
			ft.Timeout = t.Timeout.String()
		}
		if t.Payload != nil {
			if err := ft.Payload.Encode(t.Payload); err != nil {
				return nil, fmt.Errorf("encode payload of %s: %w", t.ID, err)
			}
		}
		f.Tasks = append(f.Tasks, ft)
	}
	return yaml.Marshal(&f)
}
