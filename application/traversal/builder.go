package traversal

import (
	"fmt"

	"instancegraph/domain/core/valueobjects"
	"instancegraph/domain/filters"
	pkgerrors "instancegraph/pkg/errors"
)

// RootStepName is the root step name used by NewBuilderForKind
const RootStepName = "root"

// Builder is an append-only, named sequence of steps. References between
// steps are validated and resolved to indices at append time, so a built
// chain can never refer to a missing or later step.
type Builder struct {
	steps    []Step
	index    map[string]int
	parent   []int
	children [][]int
	depth    []int
}

// NewBuilder creates an empty builder
func NewBuilder() *Builder {
	return &Builder{index: make(map[string]int)}
}

// NewBuilderForKind creates a builder whose root lists nodes of kind
func NewBuilderForKind(kind string, filter filters.Expr, limit int) (*Builder, error) {
	return NewBuilder().Append(Step{
		Name:     RootStepName,
		Kind:     StepKindNode,
		NodeKind: kind,
		Filter:   filter,
		Limit:    limit,
	})
}

// Append validates and appends a step, returning the builder for chaining
func (b *Builder) Append(step Step) (*Builder, error) {
	if step.Name == "" {
		return nil, pkgerrors.NewValidationError("step name is required")
	}
	if _, exists := b.index[step.Name]; exists {
		return nil, pkgerrors.NewDuplicateStepNameError(step.Name)
	}
	if step.Limit < 0 {
		return nil, pkgerrors.NewValidationError(fmt.Sprintf("step %q has a negative limit", step.Name))
	}
	step.Fidelity = step.Fidelity.OrDefault(valueobjects.FidelityFull)
	if !step.Fidelity.Valid() {
		return nil, pkgerrors.NewValidationError(fmt.Sprintf("step %q has an invalid fidelity", step.Name))
	}

	parent := -1
	if len(b.steps) == 0 {
		if !step.IsRoot() {
			// The only earlier-step candidate set is empty
			return nil, pkgerrors.NewUnknownStepReferenceError(step.Name, step.From)
		}
		if step.Kind != StepKindNode || step.NodeKind == "" {
			return nil, pkgerrors.NewValidationError("the first step must be a root node step with a kind")
		}
		step.Direction = valueobjects.DirectionNone
	} else {
		if step.IsRoot() {
			return nil, pkgerrors.NewValidationError(fmt.Sprintf("step %q has no from step; only the first step may be a root", step.Name))
		}
		idx, ok := b.index[step.From]
		if !ok {
			return nil, pkgerrors.NewUnknownStepReferenceError(step.Name, step.From)
		}
		parent = idx
		if err := b.validateHop(&step, idx); err != nil {
			return nil, err
		}
	}

	i := len(b.steps)
	b.steps = append(b.steps, step)
	b.index[step.Name] = i
	b.parent = append(b.parent, parent)
	b.children = append(b.children, nil)

	depth := 0
	if parent >= 0 {
		depth = b.depth[parent]
		b.children[parent] = append(b.children[parent], i)
	}
	if step.Kind == StepKindEdge {
		depth++
	}
	b.depth = append(b.depth, depth)

	return b, nil
}

func (b *Builder) validateHop(step *Step, parent int) error {
	from := b.steps[parent]

	switch from.Kind {
	case StepKindNode:
		if step.Kind != StepKindEdge {
			return pkgerrors.NewValidationError(fmt.Sprintf("step %q must be an edge hop: %q lists nodes", step.Name, from.Name))
		}
		if step.EdgeType.Validate() != nil {
			return pkgerrors.NewValidationError(fmt.Sprintf("edge hop %q needs an edge type", step.Name))
		}
		if step.Direction != valueobjects.DirectionOutwards && step.Direction != valueobjects.DirectionInwards {
			return pkgerrors.NewValidationError(fmt.Sprintf("edge hop %q needs a direction", step.Name))
		}
		if step.Field == "" {
			step.Field = step.Name
		}
		for _, sibling := range b.children[parent] {
			if b.steps[sibling].Field == step.Field {
				return pkgerrors.NewValidationError(fmt.Sprintf("field %q of step %q is already populated by %q", step.Field, from.Name, b.steps[sibling].Name))
			}
		}

	case StepKindEdge:
		if step.Kind != StepKindNode {
			return pkgerrors.NewValidationError(fmt.Sprintf("step %q must be a node hop: %q lists edges", step.Name, from.Name))
		}
		if len(b.children[parent]) > 0 {
			return pkgerrors.NewValidationError(fmt.Sprintf("edge hop %q already has a node hop", from.Name))
		}
		step.Direction = valueobjects.DirectionNone
	}
	return nil
}

// AppendRelation appends the steps resolving one relation of the node step
// from at the given fidelity: none for Skip, the edge hop for Identifier, and
// the edge hop plus its node hop for Full.
func (b *Builder) AppendRelation(from string, rel RelationSpec, fidelity valueobjects.Fidelity) (*Builder, error) {
	switch fidelity {
	case valueobjects.FidelitySkip:
		if _, ok := b.index[from]; !ok {
			return nil, pkgerrors.NewUnknownStepReferenceError(EdgeStepName(from, rel.Field), from)
		}
		return b, nil
	case valueobjects.FidelityIdentifier, valueobjects.FidelityFull:
	default:
		return nil, pkgerrors.NewValidationError(fmt.Sprintf("invalid fidelity for relation %q", rel.Field))
	}

	edgeName := EdgeStepName(from, rel.Field)
	if _, err := b.Append(Step{
		Name:       edgeName,
		From:       from,
		Kind:       StepKindEdge,
		EdgeType:   rel.EdgeType,
		Direction:  rel.Direction,
		Field:      rel.Field,
		Properties: rel.Properties,
		Filter:     rel.EdgeFilter,
		Sort:       rel.Sort,
		Limit:      rel.Limit,
		Fidelity:   fidelity,
	}); err != nil {
		return nil, err
	}

	if fidelity == valueobjects.FidelityFull {
		if _, err := b.Append(Step{
			Name:     TargetStepName(from, rel.Field),
			From:     edgeName,
			Kind:     StepKindNode,
			NodeKind: rel.TargetKind,
			Filter:   rel.TargetFilter,
			Fidelity: valueobjects.FidelityFull,
		}); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Clamp returns a copy whose step fidelities are capped at f. The requested
// fidelity of a read is applied this way before planning.
func (b *Builder) Clamp(f valueobjects.Fidelity) *Builder {
	out := b.clone()
	for i := range out.steps {
		out.steps[i].Fidelity = valueobjects.MinFidelity(out.steps[i].Fidelity, f)
	}
	return out
}

func (b *Builder) clone() *Builder {
	out := &Builder{
		steps:    append([]Step(nil), b.steps...),
		index:    make(map[string]int, len(b.index)),
		parent:   append([]int(nil), b.parent...),
		children: make([][]int, len(b.children)),
		depth:    append([]int(nil), b.depth...),
	}
	for name, i := range b.index {
		out.index[name] = i
	}
	for i, c := range b.children {
		out.children[i] = append([]int(nil), c...)
	}
	return out
}

// Len returns the number of steps
func (b *Builder) Len() int {
	return len(b.steps)
}

// Steps returns the steps in declaration order
func (b *Builder) Steps() []Step {
	return append([]Step(nil), b.steps...)
}

// Step looks a step up by name
func (b *Builder) Step(name string) (Step, bool) {
	i, ok := b.index[name]
	if !ok {
		return Step{}, false
	}
	return b.steps[i], true
}

// Root returns the root step. The builder must not be empty.
func (b *Builder) Root() Step {
	return b.steps[0]
}

// Children returns the steps appended from the named step
func (b *Builder) Children(name string) []Step {
	i, ok := b.index[name]
	if !ok {
		return nil
	}
	out := make([]Step, 0, len(b.children[i]))
	for _, c := range b.children[i] {
		out = append(out, b.steps[c])
	}
	return out
}

// Depth returns the number of edge hops between the root and the named step
func (b *Builder) Depth(name string) int {
	if i, ok := b.index[name]; ok {
		return b.depth[i]
	}
	return -1
}
