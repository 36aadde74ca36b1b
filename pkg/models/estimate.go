package models

import "time"

// WorkerAllocation is the projected load of one worker role.
type WorkerAllocation struct {
	Role        WorkerRole    `json:"role" yaml:"role"`
	Time        time.Duration `json:"time" yaml:"time"`
	TaskCount   int           `json:"task_count" yaml:"task_count"`
	Utilization float64       `json:"utilization" yaml:"utilization"`
}

// RiskFactor is a known failure mode with its default mitigation.
type RiskFactor struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description" yaml:"description"`
	Likelihood  float64 `json:"likelihood" yaml:"likelihood"`
	Impact      float64 `json:"impact" yaml:"impact"`
	Mitigation  string  `json:"mitigation" yaml:"mitigation"`
}

// DataRequirements summarizes the external data a plan touches.
type DataRequirements struct {
	Sources  []string `json:"sources,omitempty" yaml:"sources,omitempty"`
	VolumeMB float64  `json:"volume_mb" yaml:"volume_mb"`
}

// ResourceEstimation is the projected cost of executing a plan.
type ResourceEstimation struct {
	// TotalDuration is the longest dependency chain plus the coordination buffer.
	TotalDuration time.Duration `json:"total_duration" yaml:"total_duration"`
	// CriticalPathDuration is the longest dependency chain alone.
	CriticalPathDuration time.Duration `json:"critical_path_duration" yaml:"critical_path_duration"`
	// CoordinationBuffer is the fixed overhead added to the chain.
	CoordinationBuffer time.Duration `json:"coordination_buffer" yaml:"coordination_buffer"`
	// Allocations are sorted by role.
	Allocations []WorkerAllocation `json:"allocations" yaml:"allocations"`
	// Data lists external data sources and projected volume.
	Data DataRequirements `json:"data" yaml:"data"`
	// ExternalCalls is the projected number of computational service calls.
	ExternalCalls int `json:"external_calls" yaml:"external_calls"`
	// Cost is the projected cost of the external calls.
	Cost float64 `json:"cost" yaml:"cost"`
	// RiskFactors are sorted by name.
	RiskFactors []RiskFactor `json:"risk_factors" yaml:"risk_factors"`
	// AdjustmentFactor is the multiplier applied after a plan change (1 when none).
	AdjustmentFactor float64 `json:"adjustment_factor" yaml:"adjustment_factor"`
}

// Allocation returns the allocation for a role.
func (e *ResourceEstimation) Allocation(role WorkerRole) (WorkerAllocation, bool) {
	for _, a := range e.Allocations {
		if a.Role == role {
			return a, true
		}
	}
	return WorkerAllocation{}, false
}

// Risk returns the named risk factor.
func (e *ResourceEstimation) Risk(name string) (RiskFactor, bool) {
	for _, r := range e.RiskFactors {
		if r.Name == name {
			return r, true
		}
	}
	return RiskFactor{}, false
}
