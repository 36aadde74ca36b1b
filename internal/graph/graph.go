// Package graph provides the dependency graph used for plan layering,
// critical-path analysis and blocking relationships.
package graph

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/sleuth/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// CycleError reports the tasks forming a cycle. It wraps ErrCycleDetected.
type CycleError struct {
	// Path lists the cycle with the first task repeated at the end.
	Path []string
}

func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return ErrCycleDetected.Error()
	}
	return fmt.Sprintf("%s: %s", ErrCycleDetected.Error(), strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }

// DependencyGraph represents a directed acyclic graph of task dependencies.
// Tasks are nodes, and edges represent "depends on" relationships.
type DependencyGraph struct {
	mu sync.RWMutex
	// order preserves the insertion order of tasks for deterministic output.
	order []string
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// edges maps task ID to IDs of tasks it depends on.
	edges map[string][]string
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:    make(map[string]*models.Task),
		edges:    make(map[string][]string),
		debugLog: func(format string, args ...interface{}) {}, // no-op by default
	}
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Build constructs the dependency graph from a slice of tasks, replacing any
// previous content. Returns an error if a cycle is detected, an ID is
// duplicated, or a dependency references an unknown task.
func (g *DependencyGraph) Build(tasks []*models.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.Build] building graph from %d tasks", len(tasks))

	g.order = g.order[:0]
	g.nodes = make(map[string]*models.Task, len(tasks))
	g.edges = make(map[string][]string, len(tasks))

	// First pass: register all tasks as nodes.
	for _, task := range tasks {
		if _, dup := g.nodes[task.ID]; dup {
			return fmt.Errorf("duplicate task id %s", task.ID)
		}
		g.order = append(g.order, task.ID)
		g.nodes[task.ID] = task
		g.edges[task.ID] = nil
	}

	// Second pass: build edges from DependsOn fields.
	for _, task := range tasks {
		seen := make(map[string]bool, len(task.DependsOn))
		for _, depID := range task.DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				return fmt.Errorf("task %s depends on unknown task %s", task.ID, depID)
			}
			if seen[depID] {
				continue
			}
			seen[depID] = true
			g.edges[task.ID] = append(g.edges[task.ID], depID)
		}
	}

	if cycle := g.findCycleLocked(); cycle != nil {
		g.debugLog("[graph.Build] cycle detected: %v", cycle)
		return &CycleError{Path: cycle}
	}

	g.debugLog("[graph.Build] graph built successfully with %d nodes", len(g.nodes))
	return nil
}

// Validate reports whether the tasks form a valid acyclic graph.
func Validate(tasks []*models.Task) error {
	return New().Build(tasks)
}

// HasCycle returns true if the graph contains a circular dependency.
func (g *DependencyGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.findCycleLocked() != nil
}

// findCycleLocked runs a colored depth-first search and returns the first
// cycle found, or nil. Caller must hold g.mu.
func (g *DependencyGraph) findCycleLocked() []string {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(g.nodes))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		stack = append(stack, id)

		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				// Back edge: the cycle is the stack suffix starting at depID.
				for i, s := range stack {
					if s == depID {
						cycle = append(append([]string{}, stack[i:]...), depID)
						break
					}
				}
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		colors[id] = 2
		return false
	}

	for _, id := range g.order {
		if colors[id] == 0 && visit(id) {
			return cycle
		}
	}
	return nil
}

// TopologicalSort returns task IDs in an order where all dependencies come
// before the tasks that depend on them. Ties keep insertion order.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	layers, err := g.Layers()
	if err != nil {
		return nil, err
	}
	var result []string
	for _, layer := range layers {
		result = append(result, layer...)
	}
	return result, nil
}

// Layers peels the graph into groups of tasks whose dependencies all lie in
// earlier groups. Each task lands exactly one layer after its deepest
// dependency. A pass that places nothing means the rest of the graph is
// cyclic.
func (g *DependencyGraph) Layers() ([][]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	placed := make(map[string]bool, len(g.nodes))
	remaining := append([]string(nil), g.order...)
	var layers [][]string

	for len(remaining) > 0 {
		var layer, rest []string
		for _, id := range remaining {
			ready := true
			for _, depID := range g.edges[id] {
				if !placed[depID] {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, id)
			} else {
				rest = append(rest, id)
			}
		}

		if len(layer) == 0 {
			g.debugLog("[graph.Layers] no progress with %d tasks unplaced: %v", len(rest), rest)
			cycle := g.findCycleLocked()
			if cycle == nil {
				cycle = rest
			}
			return nil, &CycleError{Path: cycle}
		}

		for _, id := range layer {
			placed[id] = true
		}
		layers = append(layers, layer)
		remaining = rest
	}

	return layers, nil
}

// Analyze computes the TaskDependency view of every task: BlockedBy as the
// inverse of DependsOn, earliest start/finish from a forward pass, slack from
// a backward pass, and critical-path membership (high priority or zero slack).
func (g *DependencyGraph) Analyze() (map[string]*models.TaskDependency, error) {
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	deps := make(map[string]*models.TaskDependency, len(order))
	for _, id := range order {
		task := g.nodes[id]
		deps[id] = &models.TaskDependency{
			TaskID:            id,
			DependsOn:         append([]string{}, g.edges[id]...),
			BlockedBy:         []string{},
			EstimatedDuration: task.EstimatedDuration,
			ActualDuration:    task.ActualDuration,
		}
	}

	// Forward pass.
	var maxFinish time.Duration
	for _, id := range order {
		d := deps[id]
		for _, depID := range d.DependsOn {
			if ef := deps[depID].EarliestFinish; ef > d.EarliestStart {
				d.EarliestStart = ef
			}
		}
		d.EarliestFinish = d.EarliestStart + d.EstimatedDuration
		if d.EarliestFinish > maxFinish {
			maxFinish = d.EarliestFinish
		}
	}

	// Inverse adjacency, appended in topological order of the dependent.
	for _, id := range order {
		for _, depID := range deps[id].DependsOn {
			deps[depID].BlockedBy = append(deps[depID].BlockedBy, id)
		}
	}

	// Backward pass.
	latestStart := make(map[string]time.Duration, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		d := deps[order[i]]
		latestFinish := maxFinish
		for _, dependent := range d.BlockedBy {
			if ls := latestStart[dependent]; ls < latestFinish {
				latestFinish = ls
			}
		}
		ls := latestFinish - d.EstimatedDuration
		latestStart[d.TaskID] = ls
		d.Slack = ls - d.EarliestStart
		d.CriticalPath = d.Slack == 0 || g.nodes[d.TaskID].Priority == models.PriorityHigh
	}

	g.debugLog("[graph.Analyze] %d tasks, longest chain %s", len(order), maxFinish)
	return deps, nil
}

// LongestPath returns the longest chain by cumulative estimated duration and
// the task IDs along it, dependencies first.
func (g *DependencyGraph) LongestPath() (time.Duration, []string, error) {
	deps, err := g.Analyze()
	if err != nil {
		return 0, nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var end string
	var maxFinish time.Duration
	for _, id := range g.order {
		if ef := deps[id].EarliestFinish; end == "" || ef > maxFinish {
			end, maxFinish = id, ef
		}
	}
	if end == "" {
		return 0, nil, nil
	}

	path := []string{end}
	for cur := deps[end]; len(cur.DependsOn) > 0; {
		var next *models.TaskDependency
		for _, depID := range cur.DependsOn {
			if deps[depID].EarliestFinish == cur.EarliestStart {
				next = deps[depID]
				break
			}
		}
		if next == nil {
			break
		}
		path = append([]string{next.TaskID}, path...)
		cur = next
	}
	return maxFinish, path, nil
}

// GetTask returns the task for a given ID, or nil if not found.
func (g *DependencyGraph) GetTask(taskID string) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[taskID]
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// GetDependencies returns the IDs of tasks that the given task depends on.
func (g *DependencyGraph) GetDependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.edges[taskID]...)
}

// GetDependents returns the IDs of tasks that depend on the given task, in
// insertion order.
func (g *DependencyGraph) GetDependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dependentsLocked(taskID)
}

func (g *DependencyGraph) dependentsLocked(taskID string) []string {
	var dependents []string
	for _, id := range g.order {
		for _, depID := range g.edges[id] {
			if depID == taskID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	return dependents
}

// TransitiveDependents returns every task that directly or indirectly
// depends on the given task, in insertion order.
func (g *DependencyGraph) TransitiveDependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	reached := make(map[string]bool)
	queue := []string{taskID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, id := range g.dependentsLocked(cur) {
			if !reached[id] {
				reached[id] = true
				queue = append(queue, id)
			}
		}
	}

	var result []string
	for _, id := range g.order {
		if reached[id] {
			result = append(result, id)
		}
	}
	return result
}

// Schedule is the layered, analyzed view of a task set.
type Schedule struct {
	// Layers are groups of task IDs that can run concurrently, in order.
	Layers [][]string
	// Deps is the per-task dependency analysis.
	Deps map[string]*models.TaskDependency
	// CriticalPath lists critical task IDs in topological order.
	CriticalPath []string
	// Longest is the duration of the longest dependency chain.
	Longest time.Duration
}

// NewSchedule builds, layers and analyzes tasks in one step.
func NewSchedule(tasks []*models.Task) (*Schedule, error) {
	g := New()
	if err := g.Build(tasks); err != nil {
		return nil, err
	}
	layers, err := g.Layers()
	if err != nil {
		return nil, err
	}
	deps, err := g.Analyze()
	if err != nil {
		return nil, err
	}

	s := &Schedule{Layers: layers, Deps: deps}
	for _, layer := range layers {
		for _, id := range layer {
			if deps[id].CriticalPath {
				s.CriticalPath = append(s.CriticalPath, id)
			}
			if ef := deps[id].EarliestFinish; ef > s.Longest {
				s.Longest = ef
			}
		}
	}
	return s, nil
}

// Phases converts the layers into plan phases.
func (s *Schedule) Phases() []models.Phase {
	phases := make([]models.Phase, len(s.Layers))
	for i, layer := range s.Layers {
		phases[i] = models.Phase{Index: i, TaskIDs: append([]string(nil), layer...)}
	}
	return phases
}
