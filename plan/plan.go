package plan

import (
	"fmt"
	"strings"

	"github.com/hupe1980/canvasflow/core"
)

// Scope selects which nodes a run request targets.
type Scope string

const (
	// ScopeAll runs every step on the canvas.
	ScopeAll Scope = "ALL"
	// ScopeSingle runs one target node (plus its closure).
	ScopeSingle Scope = "SINGLE"
	// ScopeMultiple runs an explicit set of target nodes (plus their closure).
	ScopeMultiple Scope = "MULTIPLE"
)

// Closure selects which transitive neighborhood of the targets is pulled into
// the plan.
type Closure int

const (
	// ClosureUpstream includes the transitive dependencies of the targets, so
	// every target can actually become ready.
	ClosureUpstream Closure = iota
	// ClosureDownstream includes the transitive dependents of the targets,
	// re-running everything a target feeds into.
	ClosureDownstream
)

// Request is the run request surface: scope, target node ids and the graph
// scoping identifier.
type Request struct {
	GraphID string
	Scope   Scope
	NodeIDs []string
	Closure Closure
}

// ParseNodeIDs splits the comma-joined id list accepted on the request
// surface, dropping empty entries.
func ParseNodeIDs(joined string) []string {
	parts := strings.Split(joined, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}

// Spec describes one canvas step as input to Build.
type Spec struct {
	NodeID    string
	DependsOn []string
	// Request carries the node's stored configuration for the start frame.
	// GraphID and NodeID are filled in by Build.
	Request core.StartRequest
}

// Plan is the validated DAG of steps for one run. Topology is immutable for
// the run's lifetime; only step statuses mutate, and only the scheduler
// writes them.
type Plan struct {
	graphID string
	steps   []*core.Step
	index   map[string]*core.Step
}

// Build computes the plan for a run request: resolves the target set per the
// request scope, pulls in the requested closure, restricts dependency edges
// to the included set and rejects cycles before any execution starts.
func Build(specs []Spec, req Request) (*Plan, error) {
	byID := make(map[string]*Spec, len(specs))
	order := make([]string, 0, len(specs))
	for i := range specs {
		s := &specs[i]
		if s.NodeID == "" {
			return nil, fmt.Errorf("step %d has an empty node id", i)
		}
		if _, dup := byID[s.NodeID]; dup {
			return nil, fmt.Errorf("duplicate node id %q", s.NodeID)
		}
		byID[s.NodeID] = s
		order = append(order, s.NodeID)
	}
	for _, s := range byID {
		for _, dep := range s.DependsOn {
			if dep == s.NodeID {
				return nil, &core.CycleError{NodeID: s.NodeID}
			}
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("node %q depends on unknown node %q", s.NodeID, dep)
			}
		}
	}

	included, err := selectNodes(byID, req)
	if err != nil {
		return nil, err
	}

	if err := detectCycle(byID, included); err != nil {
		return nil, err
	}

	p := &Plan{graphID: req.GraphID, index: make(map[string]*core.Step, len(included))}
	for _, nodeID := range order {
		if _, ok := included[nodeID]; !ok {
			continue
		}
		s := byID[nodeID]
		var deps []string
		for _, dep := range s.DependsOn {
			if _, ok := included[dep]; ok {
				deps = append(deps, dep)
			}
		}
		r := s.Request
		r.GraphID = req.GraphID
		step := core.NewStep(nodeID, deps, r)
		p.steps = append(p.steps, step)
		p.index[nodeID] = step
	}
	return p, nil
}

// selectNodes resolves the included node set for the request.
func selectNodes(byID map[string]*Spec, req Request) (map[string]struct{}, error) {
	included := make(map[string]struct{})

	switch req.Scope {
	case ScopeAll:
		for id := range byID {
			included[id] = struct{}{}
		}
		return included, nil

	case ScopeSingle:
		if len(req.NodeIDs) != 1 {
			return nil, fmt.Errorf("scope SINGLE requires exactly one target node, got %d", len(req.NodeIDs))
		}
	case ScopeMultiple:
		if len(req.NodeIDs) == 0 {
			return nil, fmt.Errorf("scope MULTIPLE requires at least one target node")
		}
	default:
		return nil, fmt.Errorf("unknown scope %q", req.Scope)
	}

	for _, id := range req.NodeIDs {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("target node %q not found", id)
		}
	}

	neighbors := dependencyEdges(byID)
	if req.Closure == ClosureDownstream {
		neighbors = dependentEdges(byID)
	}

	// Breadth-first closure over the chosen edge direction.
	queue := append([]string(nil), req.NodeIDs...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, seen := included[id]; seen {
			continue
		}
		included[id] = struct{}{}
		queue = append(queue, neighbors[id]...)
	}
	return included, nil
}

func dependencyEdges(byID map[string]*Spec) map[string][]string {
	edges := make(map[string][]string, len(byID))
	for id, s := range byID {
		edges[id] = s.DependsOn
	}
	return edges
}

func dependentEdges(byID map[string]*Spec) map[string][]string {
	edges := make(map[string][]string, len(byID))
	for id, s := range byID {
		for _, dep := range s.DependsOn {
			edges[dep] = append(edges[dep], id)
		}
	}
	return edges
}

// detectCycle runs a depth-first search over the included subgraph with the
// classic three-set coloring: permanent nodes are fully visited and safe,
// temporary nodes sit in the current recursion stack. Reaching a temporary
// node again means the node is reachable from itself.
func detectCycle(byID map[string]*Spec, included map[string]struct{}) error {
	permanent := make(map[string]bool, len(included))
	temporary := make(map[string]bool)

	var visit func(id string) error
	visit = func(id string) error {
		if permanent[id] {
			return nil
		}
		if temporary[id] {
			return &core.CycleError{NodeID: id}
		}
		temporary[id] = true
		for _, dep := range byID[id].DependsOn {
			if _, ok := included[dep]; !ok {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		delete(temporary, id)
		permanent[id] = true
		return nil
	}

	for id := range included {
		if !permanent[id] {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// GraphID returns the scoping identifier of the run request.
func (p *Plan) GraphID() string { return p.graphID }

// Steps returns the plan's steps in canvas order. Callers must not mutate the
// slice.
func (p *Plan) Steps() []*core.Step { return p.steps }

// Step returns the step for nodeID, if included in the plan.
func (p *Plan) Step(nodeID string) (*core.Step, bool) {
	s, ok := p.index[nodeID]
	return s, ok
}

// Len returns the number of steps in the plan.
func (p *Plan) Len() int { return len(p.steps) }

// Reset returns every step to NotStarted. Called by the scheduler on entry to
// a new run; this is the only status regression allowed.
func (p *Plan) Reset() {
	for _, s := range p.steps {
		s.Reset()
	}
}

// Progress counts completed steps against the total. O(steps), safe to poll
// continuously while the scheduler runs.
func (p *Plan) Progress() (completed, total int) {
	for _, s := range p.steps {
		if s.Status() == core.StepDone {
			completed++
		}
	}
	return completed, len(p.steps)
}
