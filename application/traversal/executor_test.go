package traversal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"instancegraph/application/ports"
	"instancegraph/domain/core/entities"
	"instancegraph/domain/core/valueobjects"
	"instancegraph/domain/filters"
	pkgerrors "instancegraph/pkg/errors"
	"instancegraph/pkg/observability"
)

func fastLimits() StaticLimits {
	l := DefaultLimits()
	l.RetryBaseDelay = time.Millisecond
	return StaticLimits(l)
}

func TestExecutor_PlansByFidelity(t *testing.T) {
	store := seededStore(t, familyGraph())
	exec := NewExecutor(store, fastLimits(), zap.NewNop())
	ctx := context.Background()

	t.Run("full runs edge and node hops", func(t *testing.T) {
		result, err := exec.Execute(ctx, parentBuilder(t, 0, valueobjects.FidelityFull, childrenRel), nil)
		require.NoError(t, err)

		assert.Len(t, result.Pages["root"], 2)
		assert.Len(t, result.Pages["root.children"], 3)
		assert.Len(t, result.Pages["root.children.target"], 2)
		assert.True(t, result.Done())
	})

	t.Run("identifier edge hop elides the node hop", func(t *testing.T) {
		b := parentBuilder(t, 0, valueobjects.FidelityFull, childrenRel).Clamp(valueobjects.FidelityIdentifier)
		result, err := exec.Execute(ctx, b, nil)
		require.NoError(t, err)

		assert.Contains(t, result.Pages, "root.children")
		assert.NotContains(t, result.Pages, "root.children.target")
		assert.NotContains(t, result.Next, "root.children.target")
	})

	t.Run("skip elides the whole relation", func(t *testing.T) {
		b := parentBuilder(t, 0, valueobjects.FidelityFull, childrenRel).Clamp(valueobjects.FidelitySkip)
		result, err := exec.Execute(ctx, b, nil)
		require.NoError(t, err)

		assert.Equal(t, []string{"root"}, keys(result.Pages))
	})

	t.Run("inwards hop joins on the end node", func(t *testing.T) {
		b, err := NewBuilderForKind("Child", filters.Equals{Property: filters.PropExternalID, Value: "b1"}, 0)
		require.NoError(t, err)
		_, err = b.AppendRelation(RootStepName, parentsRel, valueobjects.FidelityFull)
		require.NoError(t, err)

		result, err := exec.Execute(ctx, b, nil)
		require.NoError(t, err)

		var parents []string
		for _, item := range result.Pages["root.parents.target"] {
			parents = append(parents, item.Ref.ExternalID)
		}
		assert.ElementsMatch(t, []string{"a", "c"}, parents)
	})
}

func TestExecutor_EmptyJoinSkipsTheCall(t *testing.T) {
	store := new(MockStore)
	store.On("List", mock.Anything, mock.MatchedBy(func(req ports.ListRequest) bool {
		return req.Kind == ports.ItemKindNode
	})).Return(&ports.ListPage{}, nil).Once()

	exec := NewExecutor(store, fastLimits(), zap.NewNop())
	result, err := exec.Execute(context.Background(), parentBuilder(t, 0, valueobjects.FidelityFull, childrenRel), nil)
	require.NoError(t, err)

	assert.Empty(t, result.Pages["root"])
	assert.Contains(t, result.Pages, "root.children")
	assert.Empty(t, result.Pages["root.children"])
	assert.True(t, result.Done())
	store.AssertNumberOfCalls(t, "List", 1)
}

func TestExecutor_DepthExceeded(t *testing.T) {
	store := new(MockStore)
	limits := fastLimits()
	limits.MaxHops = 1

	b := parentBuilder(t, 0, valueobjects.FidelityFull, childrenRel)
	_, err := b.AppendRelation(TargetStepName(RootStepName, "children"), parentsRel, valueobjects.FidelityIdentifier)
	require.NoError(t, err)

	_, err = NewExecutor(store, limits, zap.NewNop()).Execute(context.Background(), b, nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeDepthExceeded))
	store.AssertNotCalled(t, "List", mock.Anything, mock.Anything)

	t.Run("elided steps do not count", func(t *testing.T) {
		store.On("List", mock.Anything, mock.Anything).Return(&ports.ListPage{}, nil)
		_, err := NewExecutor(store, limits, zap.NewNop()).Execute(context.Background(), b.Clamp(valueobjects.FidelitySkip), nil)
		assert.False(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeDepthExceeded))
	})
}

func TestExecutor_RetriesStoreUnavailableWithSameCursor(t *testing.T) {
	cursor := "page-2"
	page := &ports.ListPage{Items: []ports.RawItem{{Kind: ports.ItemKindNode, Ref: valueobjects.MustEntityRef("people", "a"), Type: "Parent"}}}

	store := new(MockStore)
	sameCursor := mock.MatchedBy(func(req ports.ListRequest) bool {
		return req.Cursor != nil && *req.Cursor == cursor
	})
	store.On("List", mock.Anything, sameCursor).
		Return(nil, pkgerrors.NewStoreUnavailableError("list", errors.New("throttled"))).Twice()
	store.On("List", mock.Anything, sameCursor).Return(page, nil).Once()

	root, err := NewBuilderForKind("Parent", nil, 1)
	require.NoError(t, err)

	token, err := encodeToken(stepToken{Next: &position{Cursor: &cursor}})
	require.NoError(t, err)

	collector := observability.NewCollector("test")
	exec := NewExecutor(store, fastLimits(), zap.NewNop(), WithExecutorMetrics(collector))
	result, err := exec.Execute(context.Background(), root, CursorMap{RootStepName: token})
	require.NoError(t, err)

	assert.Len(t, result.Pages[RootStepName], 1)
	assert.True(t, result.Done())
	store.AssertNumberOfCalls(t, "List", 3)
}

func TestExecutor_SurfacesOtherErrorsImmediately(t *testing.T) {
	store := new(MockStore)
	store.On("List", mock.Anything, mock.Anything).
		Return(nil, pkgerrors.NewValidationError("bad filter")).Once()

	root, err := NewBuilderForKind("Parent", nil, 0)
	require.NoError(t, err)

	_, err = NewExecutor(store, fastLimits(), zap.NewNop()).Execute(context.Background(), root, nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeValidation))
	store.AssertNumberOfCalls(t, "List", 1)
}

func TestExecutor_GivesUpAfterMaxRetries(t *testing.T) {
	store := new(MockStore)
	store.On("List", mock.Anything, mock.Anything).
		Return(nil, pkgerrors.NewStoreUnavailableError("list", errors.New("down")))

	limits := fastLimits()
	limits.MaxRetries = 2
	root, err := NewBuilderForKind("Parent", nil, 0)
	require.NoError(t, err)

	_, err = NewExecutor(store, limits, zap.NewNop()).Execute(context.Background(), root, nil)
	assert.True(t, pkgerrors.IsRetryable(err))
	store.AssertNumberOfCalls(t, "List", 3)
}

func TestExecutor_NestedLoopResumption(t *testing.T) {
	store := seededStore(t, familyGraph())
	exec := NewExecutor(store, fastLimits(), zap.NewNop())
	ctx := context.Background()

	b := parentBuilder(t, 1, valueobjects.FidelityFull, childrenRel)
	edgeStep, _ := b.Step("root.children")
	edgeStep.Limit = 1
	b.steps[1] = edgeStep

	type pair struct{ parent, child string }
	var pairs []pair
	var cursors CursorMap
	batches := 0
	for {
		result, err := exec.Execute(ctx, b, cursors)
		require.NoError(t, err)
		batches++

		require.Len(t, result.Pages["root"], 1)
		for _, e := range result.Pages["root.children"] {
			pairs = append(pairs, pair{e.Start.ExternalID, e.End.ExternalID})
		}
		if result.Done() {
			break
		}
		cursors = result.Next
		require.Less(t, batches, 10)
	}

	assert.Equal(t, 3, batches)
	assert.ElementsMatch(t, []pair{{"a", "b1"}, {"a", "b2"}, {"c", "b1"}}, pairs)

	t.Run("exhausted map returns nothing", func(t *testing.T) {
		result, err := exec.Execute(ctx, b, CursorMap{"root": nil, "root.children": nil})
		require.NoError(t, err)
		assert.Empty(t, result.Pages)
		assert.True(t, result.Done())
	})

	t.Run("malformed cursor", func(t *testing.T) {
		bad := "not base64!"
		_, err := exec.Execute(ctx, b, CursorMap{"root": &bad})
		assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeValidation))
	})
}

// joinRecordingStore records the largest join key set of any list call
type joinRecordingStore struct {
	ports.Store
	mu      sync.Mutex
	maxKeys int
	calls   int
}

func (s *joinRecordingStore) List(ctx context.Context, req ports.ListRequest) (*ports.ListPage, error) {
	s.mu.Lock()
	s.calls++
	filters.Walk(req.Filter, func(e filters.Expr) {
		if in, ok := e.(filters.In); ok && len(in.Values) > s.maxKeys {
			s.maxKeys = len(in.Values)
		}
	})
	s.mu.Unlock()
	return s.Store.List(ctx, req)
}

func TestExecutor_SplitsLargeJoinSets(t *testing.T) {
	roots := make([]*entities.DomainObject, 0, 1000)
	for i := range 1000 {
		p := node("Parent", fmt.Sprintf("p%04d", i))
		p.Relate("children", hasChild, entities.ObjectValue(node("Child", fmt.Sprintf("c%04d", i))))
		roots = append(roots, p)
	}
	store := &joinRecordingStore{Store: seededStore(t, roots)}
	exec := NewExecutor(store, fastLimits(), zap.NewNop())

	b := parentBuilder(t, 1000, valueobjects.FidelityFull, childrenRel)
	edgeStep, _ := b.Step("root.children")
	edgeStep.Limit = 300
	b.steps[1] = edgeStep

	edges := make(map[string]struct{})
	targets := 0
	var cursors CursorMap
	batches := 0
	for {
		result, err := exec.Execute(context.Background(), b, cursors)
		require.NoError(t, err)
		batches++

		require.Len(t, result.Pages["root"], 1000)
		assert.LessOrEqual(t, len(result.Pages["root.children"]), 300)
		for _, e := range result.Pages["root.children"] {
			edges[e.Ref.Key()] = struct{}{}
		}
		assert.Len(t, result.Pages["root.children.target"], len(result.Pages["root.children"]))
		targets += len(result.Pages["root.children.target"])
		if result.Done() {
			break
		}
		cursors = result.Next
		require.Less(t, batches, 10)
	}

	assert.Equal(t, 4, batches)
	assert.Len(t, edges, 1000)
	assert.Equal(t, 1000, targets)
	assert.Equal(t, maxJoinKeys, store.maxKeys)

	t.Run("chunk outside the join set", func(t *testing.T) {
		token, err := encodeToken(stepToken{Next: &position{Chunk: 9}})
		require.NoError(t, err)
		_, err = exec.Execute(context.Background(), parentBuilder(t, 0, valueobjects.FidelityFull), CursorMap{RootStepName: token})
		assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeValidation))
	})
}

func TestExecutor_ConcurrentSiblings(t *testing.T) {
	a := node("Parent", "a")
	a.Relate("children", hasChild, entities.ObjectValue(node("Child", "b")))
	a.Relate("assets", owns, entities.ObjectValue(node("Asset", "car")))
	store := seededStore(t, []*entities.DomainObject{a})

	limits := fastLimits()
	limits.Concurrency = 4
	b := parentBuilder(t, 0, valueobjects.FidelityFull, childrenRel, RelationSpec{
		Field: "assets", EdgeType: owns, Direction: valueobjects.DirectionOutwards, TargetKind: "Asset",
	})

	result, err := NewExecutor(store, limits, zap.NewNop()).Execute(context.Background(), b, nil)
	require.NoError(t, err)
	assert.Len(t, result.Pages["root.children.target"], 1)
	assert.Len(t, result.Pages["root.assets.target"], 1)
}

func keys(m map[string][]ports.RawItem) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
