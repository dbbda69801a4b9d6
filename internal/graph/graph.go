// Package graph declares the phase graph runs move through.
package graph

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/jasonewillis/specialists/pkg/models"
)

var (
	// ErrCycleDetected indicates a phase can reach itself.
	ErrCycleDetected = errors.New("cycle detected in phase graph")
	// ErrIllegalTransition indicates a run tried to move along an edge the
	// graph does not declare.
	ErrIllegalTransition = errors.New("illegal phase transition")
)

// PhaseGraph is a directed acyclic graph of phases. Edges point from a
// phase to the phases that may follow it. Resume edges are kept apart:
// they lead from an interrupt gate back into the graph and are only taken
// when a suspended run is resumed.
type PhaseGraph struct {
	mu     sync.RWMutex
	start  models.Phase
	edges  map[models.Phase][]models.Phase
	resume map[models.Phase][]models.Phase
	// debugLog is an optional logging function.
	debugLog func(format string, args ...any)
}

// New creates an empty graph rooted at start.
func New(start models.Phase) *PhaseGraph {
	return &PhaseGraph{
		start:    start,
		edges:    map[models.Phase][]models.Phase{start: nil},
		resume:   make(map[models.Phase][]models.Phase),
		debugLog: func(format string, args ...any) {},
	}
}

// Default returns the orchestration graph.
//
//	analyzeQuery -> routeToSpecialists -> one of
//	  essayInterrupt -> suspended
//	  parallelRoleAnalysis | sequentialCompliance | executeParallel | executeSequential
//	    -> streamProgress -> complianceValidation -> consolidateResults
//	    -> generateRecommendations -> done
//
// essayInterrupt resumes into executeSequential.
func Default() *PhaseGraph {
	g := New(models.PhaseAnalyzeQuery)
	g.AddEdge(models.PhaseAnalyzeQuery, models.PhaseRouteToSpecialists)
	g.AddEdge(models.PhaseRouteToSpecialists,
		models.PhaseEssayInterrupt,
		models.PhaseParallelRoleAnalysis,
		models.PhaseSequentialCompliance,
		models.PhaseExecuteParallel,
		models.PhaseExecuteSequential,
	)
	g.AddEdge(models.PhaseEssayInterrupt, models.PhaseSuspended)
	g.AddResumeEdge(models.PhaseEssayInterrupt, models.PhaseExecuteSequential)
	for _, p := range []models.Phase{
		models.PhaseParallelRoleAnalysis,
		models.PhaseSequentialCompliance,
		models.PhaseExecuteParallel,
		models.PhaseExecuteSequential,
	} {
		g.AddEdge(p, models.PhaseStreamProgress)
	}
	g.AddEdge(models.PhaseStreamProgress, models.PhaseComplianceValidation)
	g.AddEdge(models.PhaseComplianceValidation, models.PhaseConsolidateResults)
	g.AddEdge(models.PhaseConsolidateResults, models.PhaseGenerateRecommendations)
	g.AddEdge(models.PhaseGenerateRecommendations, models.PhaseDone)
	return g
}

// SetDebugLog sets the debug logging function.
func (g *PhaseGraph) SetDebugLog(fn func(format string, args ...any)) {
	if fn != nil {
		g.debugLog = fn
	}
}

// AddEdge declares that each of to may follow from.
func (g *PhaseGraph) AddEdge(from models.Phase, to ...models.Phase) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, t := range to {
		if !slices.Contains(g.edges[from], t) {
			g.edges[from] = append(g.edges[from], t)
		}
		if _, ok := g.edges[t]; !ok {
			g.edges[t] = nil
		}
	}
	if _, ok := g.edges[from]; !ok {
		g.edges[from] = nil
	}
}

// AddResumeEdge declares that a run suspended at gate may resume at to.
// Both phases must also be part of the normal graph.
func (g *PhaseGraph) AddResumeEdge(gate, to models.Phase) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !slices.Contains(g.resume[gate], to) {
		g.resume[gate] = append(g.resume[gate], to)
	}
}

// Validate checks that every phase is known, the graph is acyclic, every
// phase is reachable from the start, and only terminal phases have no
// successors. Resume edges must join phases of the graph and the gate
// must be able to suspend.
func (g *PhaseGraph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for gate, targets := range g.resume {
		if _, ok := g.edges[gate]; !ok {
			return fmt.Errorf("resume gate %s is not in the graph", gate)
		}
		if !slices.Contains(g.edges[gate], models.PhaseSuspended) {
			return fmt.Errorf("resume gate %s never suspends", gate)
		}
		for _, to := range targets {
			if _, ok := g.edges[to]; !ok || to.IsTerminal() {
				return fmt.Errorf("resume target %s of %s is not a runnable phase", to, gate)
			}
		}
	}

	for p, next := range g.edges {
		if !p.Valid() {
			return fmt.Errorf("unknown phase %q", p)
		}
		if len(next) == 0 && !p.IsTerminal() {
			return fmt.Errorf("phase %s has no successor", p)
		}
		if len(next) > 0 && p.IsTerminal() {
			return fmt.Errorf("terminal phase %s has successors", p)
		}
	}
	if g.hasCycleLocked() {
		return ErrCycleDetected
	}

	reached := g.reachableLocked()
	for p := range g.edges {
		if !reached[p] {
			return fmt.Errorf("phase %s is unreachable from %s", p, g.start)
		}
	}
	g.debugLog("[graph.Validate] %d phases ok", len(g.edges))
	return nil
}

// HasCycle returns true if a phase can reach itself.
func (g *PhaseGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked()
}

// hasCycleLocked uses depth-first search with coloring to find back edges.
func (g *PhaseGraph) hasCycleLocked() bool {
	// 0 = unvisited, 1 = in progress, 2 = done.
	colors := make(map[models.Phase]int, len(g.edges))

	var visit func(p models.Phase) bool
	visit = func(p models.Phase) bool {
		colors[p] = 1
		for _, next := range g.edges[p] {
			switch colors[next] {
			case 1:
				return true
			case 0:
				if visit(next) {
					return true
				}
			}
		}
		colors[p] = 2
		return false
	}

	for _, p := range g.nodesLocked() {
		if colors[p] == 0 && visit(p) {
			return true
		}
	}
	return false
}

func (g *PhaseGraph) reachableLocked() map[models.Phase]bool {
	seen := map[models.Phase]bool{g.start: true}
	queue := []models.Phase{g.start}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		for _, next := range g.edges[p] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}

// nodesLocked returns the phases in declaration order of models.AllPhases,
// so traversals are deterministic.
func (g *PhaseGraph) nodesLocked() []models.Phase {
	out := make([]models.Phase, 0, len(g.edges))
	for _, p := range models.AllPhases {
		if _, ok := g.edges[p]; ok {
			out = append(out, p)
		}
	}
	for p := range g.edges {
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

// TopologicalSort returns the phases so that every phase comes before
// the phases that may follow it.
func (g *PhaseGraph) TopologicalSort() ([]models.Phase, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.hasCycleLocked() {
		return nil, ErrCycleDetected
	}

	visited := make(map[models.Phase]bool, len(g.edges))
	var post []models.Phase

	var visit func(p models.Phase)
	visit = func(p models.Phase) {
		if visited[p] {
			return
		}
		visited[p] = true
		for _, next := range g.edges[p] {
			visit(next)
		}
		post = append(post, p)
	}
	for _, p := range g.nodesLocked() {
		visit(p)
	}

	slices.Reverse(post)
	return post, nil
}

// Allows reports whether to may directly follow from.
func (g *PhaseGraph) Allows(from, to models.Phase) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Contains(g.edges[from], to)
}

// AllowsResume reports whether a run suspended at gate may resume at to.
func (g *PhaseGraph) AllowsResume(gate, to models.Phase) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Contains(g.resume[gate], to)
}

// Successors returns the phases that may follow p.
func (g *PhaseGraph) Successors(p models.Phase) []models.Phase {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.edges[p])
}

// Predecessors returns the phases p may follow.
func (g *PhaseGraph) Predecessors(p models.Phase) []models.Phase {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []models.Phase
	for _, from := range g.nodesLocked() {
		if slices.Contains(g.edges[from], p) {
			out = append(out, from)
		}
	}
	return out
}

// Size returns the number of phases in the graph.
func (g *PhaseGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}
