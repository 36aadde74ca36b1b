// Package estimate projects the time, worker load, data and call budget of a plan.
package estimate

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ShayCichocki/sleuth/internal/graph"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

// Names of the curated risk factors.
const (
	RiskDataUnavailability = "data_unavailability"
	RiskModelInaccuracy    = "model_inaccuracy"
	RiskTimePressure       = "time_pressure"
)

const (
	// DefaultCoordinationBuffer is the fixed overhead added to the longest chain.
	DefaultCoordinationBuffer = 60 * time.Second
	// DefaultCallsPerTask covers one invocation and one verification call.
	DefaultCallsPerTask = 2
	// DefaultCostPerCall is the projected cost of one external call, in dollars.
	DefaultCostPerCall = 0.01
	// DefaultDataVolumePerTaskMB is the projected data volume of a gathering task.
	DefaultDataVolumePerTaskMB = 5.0
	// DefaultAdjustmentFactor is the per-change multiplier used by Adjust.
	DefaultAdjustmentFactor = 0.1
)

// DefaultRiskFactors returns the curated risk list, sorted by name.
func DefaultRiskFactors() []models.RiskFactor {
	return []models.RiskFactor{
		{
			Name:        RiskDataUnavailability,
			Description: "Required sources may be missing, stale or access-restricted",
			Likelihood:  0.3,
			Impact:      0.6,
			Mitigation:  "Collect from at least two independent sources and record gaps explicitly",
		},
		{
			Name:        RiskModelInaccuracy,
			Description: "Model-generated findings may be wrong or unsupported",
			Likelihood:  0.25,
			Impact:      0.7,
			Mitigation:  "Cross-check key claims with a fact_check task before synthesis",
		},
		{
			Name:        RiskTimePressure,
			Description: "The critical path leaves little room for retries",
			Likelihood:  0.2,
			Impact:      0.5,
			Mitigation:  "Prioritize critical-path tasks and trim optional analysis",
		},
	}
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithCoordinationBuffer sets the fixed overhead added to the longest chain.
func WithCoordinationBuffer(d time.Duration) Option {
	return func(e *Estimator) { e.buffer = d }
}

// WithCallsPerTask sets the default external call count per task.
func WithCallsPerTask(n int) Option {
	return func(e *Estimator) { e.callsPerTask = n }
}

// WithCostPerCall sets the projected cost of one external call.
func WithCostPerCall(c float64) Option {
	return func(e *Estimator) { e.costPerCall = c }
}

// WithDataVolumePerTask sets the projected MB collected by each gathering task.
func WithDataVolumePerTask(mb float64) Option {
	return func(e *Estimator) { e.dataVolumeMB = mb }
}

// WithRiskFactor overrides a curated risk by name, or adds a new one.
func WithRiskFactor(r models.RiskFactor) Option {
	return func(e *Estimator) { e.risks[r.Name] = r }
}

// Estimator computes ResourceEstimations. It holds only configuration and is
// safe for concurrent use.
type Estimator struct {
	buffer       time.Duration
	callsPerTask int
	costPerCall  float64
	dataVolumeMB float64
	risks        map[string]models.RiskFactor
}

// New creates an Estimator with defaults overridden by opts.
func New(opts ...Option) *Estimator {
	e := &Estimator{
		buffer:       DefaultCoordinationBuffer,
		callsPerTask: DefaultCallsPerTask,
		costPerCall:  DefaultCostPerCall,
		dataVolumeMB: DefaultDataVolumePerTaskMB,
		risks:        make(map[string]models.RiskFactor),
	}
	for _, r := range DefaultRiskFactors() {
		e.risks[r.Name] = r
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Buffer returns the coordination buffer in use.
func (e *Estimator) Buffer() time.Duration { return e.buffer }

// Estimate projects the cost of executing tasks. deps is the analyzed
// dependency view of the same task set; when nil it is computed here.
func (e *Estimator) Estimate(tasks []*models.Task, deps map[string]*models.TaskDependency) (*models.ResourceEstimation, error) {
	if deps == nil {
		g := graph.New()
		if err := g.Build(tasks); err != nil {
			return nil, fmt.Errorf("build dependency graph: %w", err)
		}
		var err error
		if deps, err = g.Analyze(); err != nil {
			return nil, fmt.Errorf("analyze dependency graph: %w", err)
		}
	}

	var chain time.Duration
	for _, t := range tasks {
		d, ok := deps[t.ID]
		if !ok {
			return nil, fmt.Errorf("task %s missing from dependency view", t.ID)
		}
		if d.EarliestFinish > chain {
			chain = d.EarliestFinish
		}
	}

	est := &models.ResourceEstimation{
		TotalDuration:        chain + e.buffer,
		CriticalPathDuration: chain,
		CoordinationBuffer:   e.buffer,
		AdjustmentFactor:     1,
	}

	est.Allocations = e.allocations(tasks, est.TotalDuration)
	est.Data = e.dataRequirements(tasks)

	for _, t := range tasks {
		calls := e.callsPerTask
		if t.ExternalCalls > 0 {
			calls = t.ExternalCalls
		}
		est.ExternalCalls += calls
	}
	est.Cost = roundCents(float64(est.ExternalCalls) * e.costPerCall)

	names := make([]string, 0, len(e.risks))
	for name := range e.risks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		est.RiskFactors = append(est.RiskFactors, e.risks[name])
	}

	return est, nil
}

func (e *Estimator) allocations(tasks []*models.Task, total time.Duration) []models.WorkerAllocation {
	byRole := make(map[models.WorkerRole]*models.WorkerAllocation)
	for _, t := range tasks {
		if t.Role == "" {
			continue
		}
		a, ok := byRole[t.Role]
		if !ok {
			a = &models.WorkerAllocation{Role: t.Role}
			byRole[t.Role] = a
		}
		a.Time += t.EstimatedDuration
		a.TaskCount++
	}

	roles := make([]string, 0, len(byRole))
	for r := range byRole {
		roles = append(roles, string(r))
	}
	sort.Strings(roles)

	out := make([]models.WorkerAllocation, 0, len(roles))
	for _, r := range roles {
		a := *byRole[models.WorkerRole(r)]
		if total > 0 {
			a.Utilization = clamp01(float64(a.Time) / float64(total))
		}
		out = append(out, a)
	}
	return out
}

func (e *Estimator) dataRequirements(tasks []*models.Task) models.DataRequirements {
	seen := make(map[string]bool)
	var sources []string
	gathering := 0
	for _, t := range tasks {
		if t.Stage == models.StageGathering || (t.Stage == "" && t.Type.Stage() == models.StageGathering) {
			gathering++
		}
		p, ok := t.Payload.(models.ResearchPayload)
		if !ok {
			continue
		}
		for _, s := range p.Sources {
			if s != "" && !seen[s] {
				seen[s] = true
				sources = append(sources, s)
			}
		}
	}
	sort.Strings(sources)
	return models.DataRequirements{
		Sources:  sources,
		VolumeMB: float64(gathering) * e.dataVolumeMB,
	}
}

// Adjust returns a copy of est with total duration and cost scaled by
// 1 + factor*changes. A factor of zero or less leaves them as recomputed.
func Adjust(est *models.ResourceEstimation, changes int, factor float64) *models.ResourceEstimation {
	if est == nil {
		return nil
	}
	if factor < 0 {
		factor = 0
	}
	if changes < 0 {
		changes = 0
	}
	mult := 1 + factor*float64(changes)

	out := Clone(est)
	out.TotalDuration = time.Duration(float64(est.TotalDuration) * mult).Round(time.Millisecond)
	out.Cost = roundCents(est.Cost * mult)
	out.AdjustmentFactor = mult
	for i := range out.Allocations {
		if out.TotalDuration > 0 {
			out.Allocations[i].Utilization = clamp01(float64(out.Allocations[i].Time) / float64(out.TotalDuration))
		}
	}
	return out
}

// Clone returns a deep copy of an estimation.
func Clone(est *models.ResourceEstimation) *models.ResourceEstimation {
	if est == nil {
		return nil
	}
	c := *est
	c.Allocations = append([]models.WorkerAllocation(nil), est.Allocations...)
	c.RiskFactors = append([]models.RiskFactor(nil), est.RiskFactors...)
	c.Data.Sources = append([]string(nil), est.Data.Sources...)
	return &c
}

// Impact is the relative change of total duration from prev to next.
func Impact(prev, next *models.ResourceEstimation) float64 {
	if prev == nil || next == nil || prev.TotalDuration == 0 {
		return 0
	}
	return float64(next.TotalDuration-prev.TotalDuration) / float64(prev.TotalDuration)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
