package traversal

import (
	"instancegraph/application/ports"
	"instancegraph/domain/core/entities"
	"instancegraph/domain/core/valueobjects"
	pkgerrors "instancegraph/pkg/errors"
)

// Unpacker rebuilds nested objects from flat per-step pages. It only attaches
// relations the builder declares; nothing is inferred from the items alone.
type Unpacker struct{}

// NewUnpacker creates an Unpacker
func NewUnpacker() *Unpacker {
	return &Unpacker{}
}

type unpackState struct {
	builder  *Builder
	fidelity valueobjects.Fidelity
	pages    map[string][]ports.RawItem

	nodes map[int]map[valueobjects.EntityRef]ports.RawItem
	edges map[int]map[valueobjects.EntityRef][]ports.RawItem
	built map[int]map[valueobjects.EntityRef]*entities.DomainObject
}

// Unpack returns one object per root item, in page order, with relation
// fields resolved at min(fidelity, step fidelity) for each declared edge hop.
func (u *Unpacker) Unpack(pages map[string][]ports.RawItem, b *Builder, fidelity valueobjects.Fidelity) ([]*entities.DomainObject, error) {
	if b == nil || b.Len() == 0 {
		return nil, pkgerrors.NewValidationError("traversal has no steps")
	}

	s := &unpackState{
		builder:  b,
		fidelity: fidelity.OrDefault(valueobjects.FidelityIdentifier),
		pages:    pages,
		nodes:    make(map[int]map[valueobjects.EntityRef]ports.RawItem),
		edges:    make(map[int]map[valueobjects.EntityRef][]ports.RawItem),
		built:    make(map[int]map[valueobjects.EntityRef]*entities.DomainObject),
	}
	s.index()

	rootItems := pages[b.steps[0].Name]
	out := make([]*entities.DomainObject, 0, len(rootItems))
	seen := make(map[valueobjects.EntityRef]struct{}, len(rootItems))
	for _, item := range rootItems {
		if _, dup := seen[item.Ref]; dup {
			continue
		}
		seen[item.Ref] = struct{}{}
		obj, err := s.object(0, item)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// index keys node hop items by ref and edge hop items by the endpoint that
// touches the parent step
func (s *unpackState) index() {
	for i, step := range s.builder.steps {
		items, ok := s.pages[step.Name]
		if !ok {
			continue
		}
		switch step.Kind {
		case StepKindNode:
			byRef := make(map[valueobjects.EntityRef]ports.RawItem, len(items))
			for _, item := range items {
				byRef[item.Ref] = item
			}
			s.nodes[i] = byRef
		case StepKindEdge:
			byEndpoint := make(map[valueobjects.EntityRef][]ports.RawItem)
			for _, item := range items {
				key := item.Start
				if step.Direction == valueobjects.DirectionInwards {
					key = item.End
				}
				byEndpoint[key] = append(byEndpoint[key], item)
			}
			s.edges[i] = byEndpoint
		}
	}
}

// object builds the object for a node step item. Results are memoized per
// (step, ref) so shared targets are built once.
func (s *unpackState) object(stepIdx int, item ports.RawItem) (*entities.DomainObject, error) {
	if built, ok := s.built[stepIdx][item.Ref]; ok {
		return built, nil
	}

	obj := entities.NewDomainObject(item.Ref, item.Type)
	obj.Version = item.Version
	for k, v := range item.Properties {
		obj.Properties[k] = v
	}
	if s.built[stepIdx] == nil {
		s.built[stepIdx] = make(map[valueobjects.EntityRef]*entities.DomainObject)
	}
	s.built[stepIdx][item.Ref] = obj

	for _, edgeIdx := range s.builder.children[stepIdx] {
		edgeStep := s.builder.steps[edgeIdx]
		effective := valueobjects.MinFidelity(s.fidelity, edgeStep.Fidelity)
		if effective == valueobjects.FidelitySkip {
			continue
		}
		byEndpoint, ran := s.edges[edgeIdx]
		if !ran {
			continue
		}

		targetIdx := -1
		if effective == valueobjects.FidelityFull {
			for _, c := range s.builder.children[edgeIdx] {
				if _, ok := s.nodes[c]; ok {
					targetIdx = c
				}
			}
		}

		edges := byEndpoint[item.Ref]
		if len(edges) == 0 {
			continue
		}
		rel := entities.Relation{EdgeType: edgeStep.EdgeType, Direction: edgeStep.Direction}
		for _, edge := range edges {
			target := edge.End
			if edgeStep.Direction == valueobjects.DirectionInwards {
				target = edge.Start
			}

			// Full without a fetched node hop degrades to identifiers
			if targetIdx < 0 {
				rel.Values = append(rel.Values, entities.RefValue(target))
				continue
			}

			targetItem, ok := s.nodes[targetIdx][target]
			if !ok {
				return nil, pkgerrors.NewUnresolvedReferenceError(s.builder.steps[targetIdx].Name, target.String())
			}
			child, err := s.object(targetIdx, targetItem)
			if err != nil {
				return nil, err
			}
			rel.Values = append(rel.Values, entities.ObjectValue(child))
		}
		obj.Relations[edgeStep.Field] = rel
	}
	return obj, nil
}
