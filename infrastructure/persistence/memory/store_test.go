package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"instancegraph/application/ports"
	"instancegraph/domain/core/entities"
	"instancegraph/domain/core/valueobjects"
	"instancegraph/domain/filters"
	pkgerrors "instancegraph/pkg/errors"
)

func ref(id string) valueobjects.EntityRef {
	return valueobjects.MustEntityRef("people", id)
}

func seed(t *testing.T, s *Store, n int) {
	t.Helper()
	req := ports.ApplyRequest{}
	for i := 1; i <= n; i++ {
		req.Nodes = append(req.Nodes, ports.NodeUpsert{
			Ref:        ref(fmt.Sprintf("p%d", i)),
			Kind:       "Person",
			Properties: map[string]interface{}{"age": i * 10, "name": fmt.Sprintf("name-%d", i)},
		})
	}
	_, err := s.Apply(context.Background(), req)
	require.NoError(t, err)
}

func TestStore_PaginationResumption(t *testing.T) {
	s := NewStore(zap.NewNop())
	seed(t, s, 5)
	ctx := context.Background()
	filter := filters.Equals{Property: filters.PropKind, Value: "Person"}

	first, err := s.List(ctx, ports.ListRequest{Kind: ports.ItemKindNode, Filter: filter, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, first.Items, 2)
	require.NotNil(t, first.NextCursor)

	rest, err := s.List(ctx, ports.ListRequest{Kind: ports.ItemKindNode, Filter: filter, Cursor: first.NextCursor})
	require.NoError(t, err)
	assert.Len(t, rest.Items, 3)
	assert.Nil(t, rest.NextCursor)

	var seen []string
	for _, item := range append(first.Items, rest.Items...) {
		seen = append(seen, item.Ref.ExternalID)
	}
	assert.Equal(t, []string{"p1", "p2", "p3", "p4", "p5"}, seen)
}

func TestStore_PaginatesByTimeProperty(t *testing.T) {
	s := NewStore(zap.NewNop())
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	req := ports.ApplyRequest{}
	for i := 1; i <= 5; i++ {
		req.Nodes = append(req.Nodes, ports.NodeUpsert{
			Ref:        ref(fmt.Sprintf("p%d", i)),
			Kind:       "Person",
			Properties: map[string]interface{}{"joined": base.Add(time.Duration(-i) * time.Hour)},
		})
	}
	_, err := s.Apply(ctx, req)
	require.NoError(t, err)

	for _, desc := range []bool{false, true} {
		t.Run(fmt.Sprintf("descending=%v", desc), func(t *testing.T) {
			list := ports.ListRequest{
				Kind:  ports.ItemKindNode,
				Sort:  []filters.Sort{{Property: filters.Prop("joined"), Descending: desc}},
				Limit: 2,
			}
			var seen []string
			for pages := 0; ; pages++ {
				require.Less(t, pages, 5)
				page, err := s.List(ctx, list)
				require.NoError(t, err)
				for _, item := range page.Items {
					seen = append(seen, item.Ref.ExternalID)
				}
				if page.NextCursor == nil {
					break
				}
				list.Cursor = page.NextCursor
			}

			want := []string{"p5", "p4", "p3", "p2", "p1"}
			if desc {
				want = []string{"p1", "p2", "p3", "p4", "p5"}
			}
			assert.Equal(t, want, seen)
		})
	}
}

func TestStore_CursorIsReplayable(t *testing.T) {
	s := NewStore(zap.NewNop())
	seed(t, s, 5)
	ctx := context.Background()

	first, err := s.List(ctx, ports.ListRequest{Kind: ports.ItemKindNode, Limit: 2})
	require.NoError(t, err)

	again, err := s.List(ctx, ports.ListRequest{Kind: ports.ItemKindNode, Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	replay, err := s.List(ctx, ports.ListRequest{Kind: ports.ItemKindNode, Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	assert.Equal(t, again.Items, replay.Items)
}

func TestStore_Filters(t *testing.T) {
	s := NewStore(zap.NewNop())
	seed(t, s, 5)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter filters.Expr
		sort   []filters.Sort
		want   []string
	}{
		{"in refs", filters.InStrings(filters.PropRef, []string{"people#p2", "people#p4", "people#missing"}), nil, []string{"p2", "p4"}},
		{"prefix", filters.Prefix{Property: filters.Prop("name"), Value: "name-3"}, nil, []string{"p3"}},
		{"range", filters.Range{Property: filters.Prop("age"), Gt: 10, Lte: 30}, nil, []string{"p2", "p3"}},
		{"range over json numbers", filters.Range{Property: filters.Prop("age"), Gte: float64(40)}, nil, []string{"p4", "p5"}},
		{"and", filters.AndOf(filters.Equals{Property: filters.PropNamespace, Value: "people"}, filters.Equals{Property: filters.Prop("age"), Value: 50}), nil, []string{"p5"}},
		{"sort descending", filters.Range{Property: filters.Prop("age"), Gte: 30}, []filters.Sort{{Property: filters.Prop("age"), Descending: true}}, []string{"p5", "p4", "p3"}},
		{"unknown property", filters.Equals{Property: filters.PropType, Value: "x"}, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := s.List(ctx, ports.ListRequest{Kind: ports.ItemKindNode, Filter: tt.filter, Sort: tt.sort})
			require.NoError(t, err)
			var got []string
			for _, item := range page.Items {
				got = append(got, item.Ref.ExternalID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStore_ApplyVersions(t *testing.T) {
	ctx := context.Background()
	version := func(v int64) *int64 { return &v }

	t.Run("conflict fails only the conflicting item", func(t *testing.T) {
		s := NewStore(zap.NewNop())
		seed(t, s, 2)

		result, err := s.Apply(ctx, ports.ApplyRequest{Nodes: []ports.NodeUpsert{
			{Ref: ref("p1"), Kind: "Person", ExistingVersion: version(1)},
			{Ref: ref("p2"), Kind: "Person", ExistingVersion: version(2)},
		}})
		require.Error(t, err)
		assert.True(t, pkgerrors.IsVersionConflict(err))
		require.NotNil(t, result)
		assert.Equal(t, []valueobjects.EntityRef{ref("p1")}, result.Conflicts)
		require.Len(t, result.Nodes, 1)
		assert.Equal(t, int64(2), result.Nodes[0].Version)
	})

	t.Run("skip on conflict", func(t *testing.T) {
		s := NewStore(zap.NewNop())
		seed(t, s, 1)

		result, err := s.Apply(ctx, ports.ApplyRequest{
			Nodes:          []ports.NodeUpsert{{Ref: ref("p1"), ExistingVersion: version(1)}},
			SkipOnConflict: true,
		})
		require.NoError(t, err)
		assert.Equal(t, []valueobjects.EntityRef{ref("p1")}, result.Skipped)
		assert.Empty(t, result.Nodes)
	})

	t.Run("merge keeps unspecified properties, replace drops them", func(t *testing.T) {
		s := NewStore(zap.NewNop())
		seed(t, s, 1)

		_, err := s.Apply(ctx, ports.ApplyRequest{Nodes: []ports.NodeUpsert{{Ref: ref("p1"), Properties: map[string]interface{}{"age": 99}}}})
		require.NoError(t, err)
		page, err := s.List(ctx, ports.ListRequest{Kind: ports.ItemKindNode})
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"age": 99, "name": "name-1"}, page.Items[0].Properties)
		assert.Equal(t, "Person", page.Items[0].Type)

		_, err = s.Apply(ctx, ports.ApplyRequest{Replace: true, Nodes: []ports.NodeUpsert{{Ref: ref("p1"), Kind: "Person", Properties: map[string]interface{}{"age": 1}}}})
		require.NoError(t, err)
		page, err = s.List(ctx, ports.ListRequest{Kind: ports.ItemKindNode, Properties: []string{"age", "name"}})
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"age": 1}, page.Items[0].Properties)
		assert.Equal(t, int64(3), page.Items[0].Version)
	})
}

func TestStore_EdgesAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewStore(zap.NewNop())
	seed(t, s, 2)

	hasChild := valueobjects.MustEntityRef("schema", "hasChild")
	edge := entities.NewDomainEdge(ref("p1"), entities.Relation{EdgeType: hasChild, Direction: valueobjects.DirectionOutwards}, ref("p2"))
	_, err := s.Apply(ctx, ports.ApplyRequest{Edges: []ports.EdgeUpsert{{DomainEdge: edge}}})
	require.NoError(t, err)

	page, err := s.List(ctx, ports.ListRequest{
		Kind: ports.ItemKindEdge,
		Filter: filters.AndOf(
			filters.Equals{Property: filters.PropType, Value: hasChild.Key()},
			filters.InStrings(filters.PropStartNode, []string{ref("p1").Key()}),
		),
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, ref("p2"), page.Items[0].End)

	result, err := s.Delete(ctx, []valueobjects.EntityRef{edge.Ref, ref("p1"), ref("ghost")})
	require.NoError(t, err)
	assert.Equal(t, []valueobjects.EntityRef{edge.Ref, ref("p1")}, result.Deleted)
	assert.Equal(t, []valueobjects.EntityRef{ref("ghost")}, result.NotFound)
}

func TestStore_MalformedCursor(t *testing.T) {
	s := NewStore(zap.NewNop())
	bad := "%%%"
	_, err := s.List(context.Background(), ports.ListRequest{Kind: ports.ItemKindNode, Cursor: &bad})
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeValidation))
}
