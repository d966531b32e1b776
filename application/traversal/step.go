// Package traversal declares multi-hop reads over the instance store, executes
// them with resumable per-step pagination and rebuilds nested object graphs
// from the flat per-step pages.
package traversal

import (
	"instancegraph/domain/core/valueobjects"
	"instancegraph/domain/filters"
)

// StepKind says whether a step lists nodes or edges
type StepKind int

const (
	// StepKindNode lists nodes: the root, or the targets of an edge hop
	StepKindNode StepKind = iota
	// StepKindEdge lists edges touching the nodes of its parent step
	StepKindEdge
)

func (k StepKind) String() string {
	if k == StepKindEdge {
		return "edge"
	}
	return "node"
}

// Step is one declarative traversal hop.
//
// A root step (no From) lists nodes of NodeKind. An edge hop lists edges of
// EdgeType that start (outwards) or end (inwards) at its parent's nodes and
// populates relation Field on them. A node hop lists the far ends of its
// parent edge hop.
type Step struct {
	Name       string
	From       string
	Kind       StepKind
	NodeKind   string
	EdgeType   valueobjects.EntityRef
	Direction  valueobjects.Direction
	Field      string
	Properties []string
	Filter     filters.Expr
	Sort       []filters.Sort
	Limit      int

	// Fidelity caps how far this step is resolved. Unset means Full, leaving
	// the requested fidelity in charge.
	Fidelity valueobjects.Fidelity
}

// IsRoot reports whether the step starts the traversal
func (s Step) IsRoot() bool {
	return s.From == ""
}

// RelationSpec describes one relation field of an entity type, used to append
// the steps that resolve it
type RelationSpec struct {
	Field      string
	EdgeType   valueobjects.EntityRef
	Direction  valueobjects.Direction
	TargetKind string

	// EdgeFilter and TargetFilter restrict the edge and node hops
	EdgeFilter   filters.Expr
	TargetFilter filters.Expr
	Sort         []filters.Sort
	Limit        int
	Properties   []string
}

// EdgeStepName is the name AppendRelation gives the edge hop of a relation
func EdgeStepName(from, field string) string {
	return from + "." + field
}

// TargetStepName is the name AppendRelation gives the node hop of a relation
func TargetStepName(from, field string) string {
	return EdgeStepName(from, field) + ".target"
}
