package entities

import "instancegraph/domain/core/valueobjects"

// DomainEdge is a typed, directed relation instance between two nodes.
// Edges are produced by the flatten engine from relation fields; callers do
// not construct them directly.
type DomainEdge struct {
	Ref   valueobjects.EntityRef `json:"ref"`
	Type  valueobjects.EntityRef `json:"type"`
	Start valueobjects.EntityRef `json:"start"`
	End   valueobjects.EntityRef `json:"end"`
}

// NewDomainEdge creates the edge for a relation value seen from owner.
// Inwards relations point from the target to the owner.
func NewDomainEdge(owner valueobjects.EntityRef, rel Relation, target valueobjects.EntityRef) DomainEdge {
	start, end := owner, target
	if rel.Direction == valueobjects.DirectionInwards {
		start, end = target, owner
	}
	return DomainEdge{
		Ref:   valueobjects.EdgeRef(rel.EdgeType, start, end),
		Type:  rel.EdgeType,
		Start: start,
		End:   end,
	}
}
