package traversal

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"instancegraph/application/ports"
	"instancegraph/domain/core/entities"
	"instancegraph/domain/core/valueobjects"
	pkgerrors "instancegraph/pkg/errors"
)

// shape renders an object graph canonically: refs, sorted relation fields and
// sorted relation targets, nested objects rendered recursively
func shape(obj *entities.DomainObject) string {
	var b strings.Builder
	b.WriteString(obj.Ref.Key())
	for _, field := range obj.RelationFields() {
		var parts []string
		for _, v := range obj.Relations[field].Values {
			if v.IsObject() {
				parts = append(parts, shape(v.Object()))
			} else {
				parts = append(parts, "@"+v.Ref().Key())
			}
		}
		sort.Strings(parts)
		fmt.Fprintf(&b, "{%s:[%s]}", field, strings.Join(parts, ","))
	}
	return b.String()
}

func shapes(objs []*entities.DomainObject) []string {
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		out = append(out, shape(o))
	}
	sort.Strings(out)
	return out
}

func TestHydrate_RoundTrip(t *testing.T) {
	roots := familyGraph()
	store := seededStore(t, roots)
	exec := NewExecutor(store, fastLimits(), zap.NewNop())

	got, err := NewHydrator(exec, parentBuilder(t, 0, valueobjects.FidelityFull, childrenRel), valueobjects.FidelityFull, nil).
		Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, shapes(roots), shapes(got))
	for _, obj := range got {
		assert.Equal(t, "Parent", obj.Kind)
		assert.Equal(t, obj.Ref.ExternalID, obj.Properties["name"])
		assert.Equal(t, int64(1), obj.Version)
	}
}

func TestHydrate_RoundTripAcrossBatches(t *testing.T) {
	roots := familyGraph()
	store := seededStore(t, roots)
	exec := NewExecutor(store, fastLimits(), zap.NewNop())

	b := parentBuilder(t, 1, valueobjects.FidelityFull, childrenRel)
	edgeStep, _ := b.Step("root.children")
	edgeStep.Limit = 1
	b.steps[1] = edgeStep

	h := NewHydrator(exec, b, valueobjects.FidelityFull, nil)
	got, err := h.Collect(context.Background())
	require.NoError(t, err)

	assert.True(t, h.Done())
	assert.True(t, h.Cursors().Exhausted())
	assert.Equal(t, shapes(roots), shapes(got))
}

func TestHydrate_FidelityMonotonicity(t *testing.T) {
	store := seededStore(t, familyGraph())
	exec := NewExecutor(store, fastLimits(), zap.NewNop())
	ctx := context.Background()
	b := parentBuilder(t, 0, valueobjects.FidelityFull, childrenRel)

	hydrate := func(f valueobjects.Fidelity) map[string]*entities.DomainObject {
		objs, err := NewHydrator(exec, b, f, nil).Collect(ctx)
		require.NoError(t, err)
		byID := make(map[string]*entities.DomainObject)
		for _, o := range objs {
			byID[o.Ref.ExternalID] = o
		}
		require.Len(t, byID, 2)
		return byID
	}

	skip := hydrate(valueobjects.FidelitySkip)
	identifier := hydrate(valueobjects.FidelityIdentifier)
	full := hydrate(valueobjects.FidelityFull)

	for _, id := range []string{"a", "c"} {
		assert.Empty(t, skip[id].Relations, id)

		idValues := identifier[id].Relation("children").Values
		fullValues := full[id].Relation("children").Values
		require.NotEmpty(t, idValues)
		require.Len(t, fullValues, len(idValues))

		for i := range idValues {
			assert.True(t, idValues[i].IsRef())
			assert.True(t, fullValues[i].IsObject())
			assert.Equal(t, idValues[i].Ref(), fullValues[i].Ref())
		}
	}
	assert.Len(t, full["a"].Relation("children").Values, 2)
	assert.Equal(t, "Child", full["a"].Relation("children").Values[0].Object().Kind)
}

func TestUnpack_UnresolvedReference(t *testing.T) {
	a := valueobjects.MustEntityRef("people", "a")
	b1 := valueobjects.MustEntityRef("people", "b1")
	builder := parentBuilder(t, 0, valueobjects.FidelityFull, childrenRel)

	pages := map[string][]ports.RawItem{
		"root":                 {{Kind: ports.ItemKindNode, Ref: a, Type: "Parent"}},
		"root.children":        {{Kind: ports.ItemKindEdge, Ref: valueobjects.EdgeRef(hasChild, a, b1), EdgeType: hasChild, Start: a, End: b1}},
		"root.children.target": {},
	}

	_, err := NewUnpacker().Unpack(pages, builder, valueobjects.FidelityFull)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeUnresolvedReference))

	t.Run("identifier needs no resolution", func(t *testing.T) {
		objs, err := NewUnpacker().Unpack(pages, builder, valueobjects.FidelityIdentifier)
		require.NoError(t, err)
		require.Len(t, objs, 1)
		assert.Equal(t, []valueobjects.EntityRef{b1}, objs[0].Relation("children").Refs())
	})

	t.Run("full without a node hop degrades to identifiers", func(t *testing.T) {
		edgeOnly, err := NewBuilderForKind("Parent", nil, 0)
		require.NoError(t, err)
		_, err = edgeOnly.Append(Step{
			Name: "root.children", From: RootStepName, Kind: StepKindEdge,
			EdgeType: hasChild, Direction: valueobjects.DirectionOutwards, Field: "children",
		})
		require.NoError(t, err)

		objs, err := NewUnpacker().Unpack(pages, edgeOnly, valueobjects.FidelityFull)
		require.NoError(t, err)
		require.Len(t, objs, 1)
		values := objs[0].Relation("children").Values
		require.Len(t, values, 1)
		assert.True(t, values[0].IsRef())
	})
}

func TestUnpack_OnlyDeclaredRelations(t *testing.T) {
	a := valueobjects.MustEntityRef("people", "a")
	b1 := valueobjects.MustEntityRef("people", "b1")
	rootOnly, err := NewBuilderForKind("Parent", nil, 0)
	require.NoError(t, err)

	pages := map[string][]ports.RawItem{
		"root":       {{Kind: ports.ItemKindNode, Ref: a, Type: "Parent"}},
		"undeclared": {{Kind: ports.ItemKindEdge, EdgeType: hasChild, Start: a, End: b1}},
	}
	objs, err := NewUnpacker().Unpack(pages, rootOnly, valueobjects.FidelityFull)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Empty(t, objs[0].Relations)
}

func TestHydrator_NextAndResume(t *testing.T) {
	store := seededStore(t, familyGraph())
	exec := NewExecutor(store, fastLimits(), zap.NewNop())
	ctx := context.Background()
	b := parentBuilder(t, 1, valueobjects.FidelityIdentifier, childrenRel)

	h := NewHydrator(exec, b, valueobjects.FidelityIdentifier, nil)
	first, err := h.Next(ctx)
	require.NoError(t, err)
	require.Len(t, first.Objects, 1)
	assert.Equal(t, "a", first.Objects[0].Ref.ExternalID)
	assert.False(t, h.Done())

	// a fresh hydrator picks up where the first stopped
	resumed := NewHydrator(exec, b, valueobjects.FidelityIdentifier, first.Cursors)
	second, err := resumed.Next(ctx)
	require.NoError(t, err)
	require.Len(t, second.Objects, 1)
	assert.Equal(t, "c", second.Objects[0].Ref.ExternalID)
	assert.True(t, resumed.Done())

	last, err := resumed.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)
}
