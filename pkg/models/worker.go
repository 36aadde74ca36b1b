package models

import "time"

// WorkerRole identifies a specialized worker.
type WorkerRole string

const (
	// RoleResearch retrieves and collects source material.
	RoleResearch WorkerRole = "research"
	// RoleAnalysis performs quantitative and risk analysis.
	RoleAnalysis WorkerRole = "analysis"
	// RoleSynthesis combines findings into narratives and reports.
	RoleSynthesis WorkerRole = "synthesis"
	// RoleCompliance checks findings against regulatory constraints.
	RoleCompliance WorkerRole = "compliance"
)

// CoordinatorID is the sender name used for messages originating from the planner.
const CoordinatorID = "coordinator"

// Valid returns true if the role is a known value.
func (r WorkerRole) Valid() bool {
	switch r {
	case RoleResearch, RoleAnalysis, RoleSynthesis, RoleCompliance:
		return true
	default:
		return false
	}
}

// AllRoles returns the known roles in a stable order.
func AllRoles() []WorkerRole {
	return []WorkerRole{RoleResearch, RoleAnalysis, RoleSynthesis, RoleCompliance}
}

// WorkerStatus is a health snapshot for a worker role.
type WorkerStatus struct {
	// Role is the worker role this snapshot describes.
	Role WorkerRole `json:"role"`
	// Registered is true when a worker implementation is attached to the role.
	Registered bool `json:"registered"`
	// Healthy is false after repeated consecutive failures.
	Healthy bool `json:"healthy"`
	// InFlight is the number of delegations currently awaiting a reply.
	InFlight int `json:"in_flight"`
	// Completed counts successful delegations.
	Completed int `json:"completed"`
	// Failed counts delegations that ended in a worker error.
	Failed int `json:"failed"`
	// TimedOut counts delegations that hit the per-task timeout.
	TimedOut int `json:"timed_out"`
	// ConsecutiveFailures resets on the next success.
	ConsecutiveFailures int `json:"consecutive_failures"`
	// LastError is the most recent failure message.
	LastError string `json:"last_error,omitempty"`
	// LastSeen is when the worker last replied.
	LastSeen time.Time `json:"last_seen"`
	// AvgLatency is the mean reply latency of successful delegations.
	AvgLatency time.Duration `json:"avg_latency"`
}
