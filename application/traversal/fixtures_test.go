package traversal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"instancegraph/application/flatten"
	"instancegraph/application/ports"
	"instancegraph/domain/core/entities"
	"instancegraph/domain/core/valueobjects"
	"instancegraph/infrastructure/persistence/memory"
)

var (
	hasChild = valueobjects.MustEntityRef("schema", "hasChild")
	owns     = valueobjects.MustEntityRef("schema", "owns")

	childrenRel = RelationSpec{Field: "children", EdgeType: hasChild, Direction: valueobjects.DirectionOutwards, TargetKind: "Child"}
	parentsRel  = RelationSpec{Field: "parents", EdgeType: hasChild, Direction: valueobjects.DirectionInwards, TargetKind: "Parent"}
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Apply(ctx context.Context, req ports.ApplyRequest) (*ports.ApplyResult, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*ports.ApplyResult)
	return result, args.Error(1)
}

func (m *MockStore) Delete(ctx context.Context, refs []valueobjects.EntityRef) (*ports.DeleteResult, error) {
	args := m.Called(ctx, refs)
	result, _ := args.Get(0).(*ports.DeleteResult)
	return result, args.Error(1)
}

func (m *MockStore) List(ctx context.Context, req ports.ListRequest) (*ports.ListPage, error) {
	args := m.Called(ctx, req)
	page, _ := args.Get(0).(*ports.ListPage)
	return page, args.Error(1)
}

func node(kind, id string) *entities.DomainObject {
	return entities.NewDomainObject(valueobjects.MustEntityRef("people", id), kind).
		WithProperty("name", id)
}

// familyGraph is the diamond: parent a has children b1 and b2, parent c has child b1
func familyGraph() []*entities.DomainObject {
	a, c := node("Parent", "a"), node("Parent", "c")
	b1, b2 := node("Child", "b1"), node("Child", "b2")
	a.Relate("children", hasChild, entities.ObjectValue(b1), entities.ObjectValue(b2))
	c.Relate("children", hasChild, entities.ObjectValue(node("Child", "b1")))
	return []*entities.DomainObject{a, c}
}

func seededStore(t *testing.T, roots []*entities.DomainObject) *memory.Store {
	t.Helper()
	ctx := context.Background()

	batch, err := flatten.NewEngine(zap.NewNop()).Flatten(ctx, roots)
	require.NoError(t, err)

	store := memory.NewStore(zap.NewNop())
	_, err = store.Apply(ctx, ports.ApplyRequest{Nodes: batch.Nodes, Edges: batch.Edges})
	require.NoError(t, err)
	return store
}

func parentBuilder(t *testing.T, rootLimit int, fidelity valueobjects.Fidelity, rels ...RelationSpec) *Builder {
	t.Helper()
	b, err := NewBuilderForKind("Parent", nil, rootLimit)
	require.NoError(t, err)
	for _, rel := range rels {
		b, err = b.AppendRelation(RootStepName, rel, fidelity)
		require.NoError(t, err)
	}
	return b
}
