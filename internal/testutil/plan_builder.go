package testutil

import (
	"github.com/hupe1980/canvasflow/core"
	"github.com/hupe1980/canvasflow/plan"
)

// PlanBuilder provides a fluent helper for constructing plan specs in tests.
// Example:
//
//	specs := NewPlanBuilder("graph-1").
//		Node("a").
//		Node("b", "a").
//		Node("c", "a").
//		Node("d", "b", "c").
//		Specs()
//
// Each node's start request carries the graph id and the node id as title.
type PlanBuilder struct {
	graphID string
	specs   []plan.Spec
}

// NewPlanBuilder creates a builder for the given graph.
func NewPlanBuilder(graphID string) *PlanBuilder {
	return &PlanBuilder{graphID: graphID}
}

// Node appends a node with the given dependencies (chainable).
func (b *PlanBuilder) Node(nodeID string, dependsOn ...string) *PlanBuilder {
	b.specs = append(b.specs, plan.Spec{
		NodeID:    nodeID,
		DependsOn: dependsOn,
		Request: core.StartRequest{
			GraphID: b.graphID,
			NodeID:  nodeID,
			Title:   nodeID,
		},
	})
	return b
}

// NodeWithConfig appends a node whose start request carries extra
// configuration, for example a prompt or fan_out count (chainable).
func (b *PlanBuilder) NodeWithConfig(nodeID string, config map[string]any, dependsOn ...string) *PlanBuilder {
	b.specs = append(b.specs, plan.Spec{
		NodeID:    nodeID,
		DependsOn: dependsOn,
		Request: core.StartRequest{
			GraphID: b.graphID,
			NodeID:  nodeID,
			Title:   nodeID,
			Config:  config,
		},
	})
	return b
}

// Specs returns the accumulated specs.
func (b *PlanBuilder) Specs() []plan.Spec { return b.specs }

// Request returns a scope request over the built graph.
func (b *PlanBuilder) Request(scope plan.Scope, nodeIDs ...string) plan.Request {
	return plan.Request{GraphID: b.graphID, Scope: scope, NodeIDs: nodeIDs}
}
