package capability

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ShayCichocki/sleuth/pkg/models"
)

func TestDefault_MatchesEachRole(t *testing.T) {
	r := Default()

	tests := []struct {
		taskType models.TaskType
		want     models.WorkerRole
	}{
		{models.TaskTypeLiteratureReview, models.RoleResearch},
		{models.TaskTypeFactCheck, models.RoleResearch},
		{models.TaskTypeRiskAssessment, models.RoleAnalysis},
		{models.TaskTypeSynthesis, models.RoleSynthesis},
		{models.TaskTypeComplianceCheck, models.RoleCompliance},
	}

	for _, tt := range tests {
		t.Run(string(tt.taskType), func(t *testing.T) {
			got, err := r.Match(&models.Task{ID: "t", Type: tt.taskType})
			if err != nil {
				t.Fatalf("Match returned error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Match(%s) = %s, want %s", tt.taskType, got, tt.want)
			}
		})
	}
}

func TestMatch_UnknownType(t *testing.T) {
	r := Default()
	_, err := r.Match(&models.Task{ID: "t-9", Type: "astrology"})

	var ncw *NoCapableWorkerError
	if !errors.As(err, &ncw) {
		t.Fatalf("expected NoCapableWorkerError, got %v", err)
	}
	if ncw.TaskID != "t-9" || ncw.TaskType != "astrology" {
		t.Errorf("error fields = %+v", ncw)
	}
}

func TestMatch_PrefersDomainAndComplexityFit(t *testing.T) {
	r, err := New(
		Capability{Role: models.RoleResearch, TaskTypes: []models.TaskType{models.TaskTypeFactCheck}, Domains: []string{"finance"}},
		Capability{Role: models.RoleCompliance, TaskTypes: []models.TaskType{models.TaskTypeFactCheck}, Domains: []string{"legal"}},
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := r.Match(&models.Task{Type: models.TaskTypeFactCheck, Domain: "legal"})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if got != models.RoleCompliance {
		t.Errorf("Match(legal) = %s, want compliance", got)
	}

	// No domain fit at all: first role supporting the type is the fallback.
	got, err = r.Match(&models.Task{Type: models.TaskTypeFactCheck, Domain: "energy"})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if got != models.RoleResearch {
		t.Errorf("Match(energy) = %s, want research fallback", got)
	}
}

func TestMatch_ComplexityFallback(t *testing.T) {
	r := Default()
	// Compliance declares medium/high only, but it is the only role for the type.
	got, err := r.Match(&models.Task{Type: models.TaskTypeComplianceCheck, Complexity: models.ComplexityLow})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if got != models.RoleCompliance {
		t.Errorf("got %s, want compliance", got)
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		caps []Capability
	}{
		{"empty role", []Capability{{TaskTypes: []models.TaskType{"x"}}}},
		{"no task types", []Capability{{Role: models.RoleResearch}}},
		{"duplicate role", []Capability{
			{Role: models.RoleResearch, TaskTypes: []models.TaskType{"x"}},
			{Role: models.RoleResearch, TaskTypes: []models.TaskType{"y"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.caps...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRegistry_IsolatedFromInput(t *testing.T) {
	caps := []Capability{{Role: models.RoleResearch, TaskTypes: []models.TaskType{models.TaskTypeFactCheck}}}
	r, err := New(caps...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	caps[0].TaskTypes[0] = models.TaskTypeSynthesis

	if !r.Supports(models.TaskTypeFactCheck) {
		t.Error("registry should not observe mutation of the input slice")
	}
	if r.Supports(models.TaskTypeSynthesis) {
		t.Error("registry picked up mutated task type")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "caps.yaml")
	content := `
capabilities:
  - role: research
    task_types: [literature_review, data_collection]
    domains: [finance]
  - role: analysis
    task_types: [risk_assessment]
    complexity: [high]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	r, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	roles := r.Roles()
	if len(roles) != 2 || roles[0] != models.RoleResearch || roles[1] != models.RoleAnalysis {
		t.Errorf("Roles() = %v", roles)
	}
	c, ok := r.Capability(models.RoleAnalysis)
	if !ok || len(c.Complexity) != 1 || c.Complexity[0] != models.ComplexityHigh {
		t.Errorf("analysis capability = %+v", c)
	}
	if r.Supports(models.TaskTypeSynthesis) {
		t.Error("synthesis should not be supported by the loaded table")
	}
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, []byte("capabilities: []\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFile(empty); err == nil {
		t.Error("expected error for empty table")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("capabilities: [\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFile(bad); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadFile_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "caps.toml")
	content := `
[[capabilities]]
role = "research"
task_types = ["literature_review", "data_collection"]

[[capabilities]]
role = "compliance"
task_types = ["compliance_check"]
domains = ["healthcare"]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	r, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !r.Supports(models.TaskTypeDataCollection) {
		t.Error("data_collection should be supported")
	}
	c, ok := r.Capability(models.RoleCompliance)
	if !ok || len(c.Domains) != 1 || c.Domains[0] != "healthcare" {
		t.Errorf("compliance capability = %+v", c)
	}

	bad := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(bad, []byte("[[capabilities]\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFile(bad); err == nil {
		t.Error("expected parse error for malformed TOML")
	}
}
