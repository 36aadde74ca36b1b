// Package capability provides the static table of what each worker role can handle.
//
// A Registry is built once and never mutated afterwards, so it can be shared
// by every conversation and goroutine without locking.
package capability

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/sleuth/pkg/models"
)

// NoCapableWorkerError is returned when no registered role handles a task type.
type NoCapableWorkerError struct {
	TaskID   string
	TaskType models.TaskType
	// Role is set when a role matched but no worker implementation is attached to it.
	Role models.WorkerRole
}

func (e *NoCapableWorkerError) Error() string {
	if e.Role != "" {
		return fmt.Sprintf("no worker registered for role %s (task %s, type %s)", e.Role, e.TaskID, e.TaskType)
	}
	return fmt.Sprintf("no capable worker for task type %s (task %s)", e.TaskType, e.TaskID)
}

// Capability describes what one worker role can handle.
type Capability struct {
	Role       models.WorkerRole   `yaml:"role" toml:"role"`
	TaskTypes  []models.TaskType   `yaml:"task_types" toml:"task_types"`
	Domains    []string            `yaml:"domains" toml:"domains"`
	Complexity []models.Complexity `yaml:"complexity" toml:"complexity"`
}

func (c Capability) handlesType(t models.TaskType) bool {
	for _, tt := range c.TaskTypes {
		if tt == t {
			return true
		}
	}
	return false
}

// handlesDomain treats an empty domain list and an empty task domain as wildcards.
func (c Capability) handlesDomain(domain string) bool {
	if len(c.Domains) == 0 || domain == "" {
		return true
	}
	for _, d := range c.Domains {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}

func (c Capability) handlesComplexity(level models.Complexity) bool {
	if len(c.Complexity) == 0 || level == "" {
		return true
	}
	for _, l := range c.Complexity {
		if l == level {
			return true
		}
	}
	return false
}

// Registry is an immutable role → capability table.
type Registry struct {
	caps []Capability
}

// New builds a registry from capabilities. Order is significant: Match
// prefers earlier entries when several roles qualify.
func New(caps ...Capability) (*Registry, error) {
	seen := make(map[models.WorkerRole]bool)
	copied := make([]Capability, 0, len(caps))
	for _, c := range caps {
		if c.Role == "" {
			return nil, fmt.Errorf("capability with empty role")
		}
		if seen[c.Role] {
			return nil, fmt.Errorf("duplicate capability for role %s", c.Role)
		}
		if len(c.TaskTypes) == 0 {
			return nil, fmt.Errorf("role %s declares no task types", c.Role)
		}
		seen[c.Role] = true
		copied = append(copied, Capability{
			Role:       c.Role,
			TaskTypes:  append([]models.TaskType(nil), c.TaskTypes...),
			Domains:    append([]string(nil), c.Domains...),
			Complexity: append([]models.Complexity(nil), c.Complexity...),
		})
	}
	return &Registry{caps: copied}, nil
}

// Default returns the built-in table for the four investigative roles.
func Default() *Registry {
	r, err := New(DefaultCapabilities()...)
	if err != nil {
		panic(fmt.Sprintf("capability: invalid default table: %v", err))
	}
	return r
}

// DefaultCapabilities returns a fresh copy of the built-in table.
func DefaultCapabilities() []Capability {
	all := []models.Complexity{models.ComplexityLow, models.ComplexityMedium, models.ComplexityHigh}
	domains := []string{"general", "finance", "healthcare", "technology", "legal", "energy"}
	return []Capability{
		{
			Role: models.RoleResearch,
			TaskTypes: []models.TaskType{
				models.TaskTypeLiteratureReview,
				models.TaskTypeDataCollection,
				models.TaskTypeMarketResearch,
				models.TaskTypeFactCheck,
			},
			Domains:    domains,
			Complexity: all,
		},
		{
			Role: models.RoleAnalysis,
			TaskTypes: []models.TaskType{
				models.TaskTypeQuantitativeAnalysis,
				models.TaskTypeRiskAssessment,
				models.TaskTypeTrendAnalysis,
				models.TaskTypeComparativeAnalysis,
			},
			Domains:    domains,
			Complexity: all,
		},
		{
			Role: models.RoleSynthesis,
			TaskTypes: []models.TaskType{
				models.TaskTypeSynthesis,
				models.TaskTypeReportDrafting,
			},
			Complexity: all,
		},
		{
			Role: models.RoleCompliance,
			TaskTypes: []models.TaskType{
				models.TaskTypeComplianceCheck,
				models.TaskTypeRegulatoryReview,
			},
			Domains:    []string{"general", "finance", "healthcare", "legal", "energy"},
			Complexity: []models.Complexity{models.ComplexityMedium, models.ComplexityHigh},
		},
	}
}

// fileFormat is the on-disk layout read by LoadFile.
type fileFormat struct {
	Capabilities []Capability `yaml:"capabilities" toml:"capabilities"`
}

// LoadFile reads a registry from a YAML file of the form:
//
//	capabilities:
//	  - role: research
//	    task_types: [literature_review, data_collection]
//	    domains: [finance]
//	    complexity: [low, medium]
//
// Files ending in .toml use the equivalent [[capabilities]] tables.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capabilities file: %w", err)
	}
	var f fileFormat
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, &f)
	} else {
		err = yaml.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("parse capabilities file %s: %w", path, err)
	}
	if len(f.Capabilities) == 0 {
		return nil, fmt.Errorf("capabilities file %s declares no roles", path)
	}
	return New(f.Capabilities...)
}

// Match selects the role for a task. A role that supports the task type,
// domain and complexity wins over one that only supports the type.
func (r *Registry) Match(task *models.Task) (models.WorkerRole, error) {
	var fallback models.WorkerRole
	for _, c := range r.caps {
		if !c.handlesType(task.Type) {
			continue
		}
		if c.handlesDomain(task.Domain) && c.handlesComplexity(task.Complexity) {
			return c.Role, nil
		}
		if fallback == "" {
			fallback = c.Role
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", &NoCapableWorkerError{TaskID: task.ID, TaskType: task.Type}
}

// Supports reports whether any role handles the task type.
func (r *Registry) Supports(t models.TaskType) bool {
	for _, c := range r.caps {
		if c.handlesType(t) {
			return true
		}
	}
	return false
}

// Roles returns the registered roles in registration order.
func (r *Registry) Roles() []models.WorkerRole {
	roles := make([]models.WorkerRole, len(r.caps))
	for i, c := range r.caps {
		roles[i] = c.Role
	}
	return roles
}

// Capability returns a copy of the capability for a role.
func (r *Registry) Capability(role models.WorkerRole) (Capability, bool) {
	for _, c := range r.caps {
		if c.Role == role {
			return Capability{
				Role:       c.Role,
				TaskTypes:  append([]models.TaskType(nil), c.TaskTypes...),
				Domains:    append([]string(nil), c.Domains...),
				Complexity: append([]models.Complexity(nil), c.Complexity...),
			}, true
		}
	}
	return Capability{}, false
}
