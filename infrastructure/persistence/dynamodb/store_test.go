package dynamodb

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"instancegraph/application/ports"
	"instancegraph/domain/core/entities"
	"instancegraph/domain/core/valueobjects"
	"instancegraph/domain/filters"
	pkgerrors "instancegraph/pkg/errors"
)

type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.GetItemOutput)
	return out, args.Error(1)
}

func (m *MockAPI) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.PutItemOutput)
	return out, args.Error(1)
}

func (m *MockAPI) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.UpdateItemOutput)
	return out, args.Error(1)
}

func (m *MockAPI) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.DeleteItemOutput)
	return out, args.Error(1)
}

func (m *MockAPI) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.QueryOutput)
	return out, args.Error(1)
}

func (m *MockAPI) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.ScanOutput)
	return out, args.Error(1)
}

var (
	alice    = valueobjects.MustEntityRef("people", "alice")
	bob      = valueobjects.MustEntityRef("people", "bob")
	knows    = valueobjects.MustEntityRef("schema", "knows")
	fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func newTestStore(api *MockAPI) *Store {
	return NewStore(api, "instances", zap.NewNop(), WithClock(func() time.Time { return fixedNow }))
}

func versionAttrs(v string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{attrVersion: &types.AttributeValueMemberN{Value: v}}
}

func keyOf(item map[string]types.AttributeValue, attr string) string {
	s, _ := item[attr].(*types.AttributeValueMemberS)
	if s == nil {
		return ""
	}
	return s.Value
}

func TestStore_ApplyMerge(t *testing.T) {
	api := new(MockAPI)
	api.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		return keyOf(in.Key, attrSK) == "NODE#alice" && in.ConditionExpression == nil &&
			strings.HasPrefix(*in.UpdateExpression, "SET ")
	})).Return(&dynamodb.UpdateItemOutput{Attributes: versionAttrs("3")}, nil).Once()
	api.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		return strings.HasPrefix(keyOf(in.Key, attrSK), "EDGE#")
	})).Return(&dynamodb.UpdateItemOutput{Attributes: versionAttrs("1")}, nil).Once()

	edge := entities.NewDomainEdge(alice, entities.Relation{EdgeType: knows, Direction: valueobjects.DirectionOutwards}, bob)
	result, err := newTestStore(api).Apply(context.Background(), ports.ApplyRequest{
		Nodes: []ports.NodeUpsert{{Ref: alice, Kind: "Person", Properties: map[string]interface{}{"name": "Alice"}}},
		Edges: []ports.EdgeUpsert{{DomainEdge: edge}},
	})
	require.NoError(t, err)
	assert.Equal(t, []ports.ItemVersion{{Ref: alice, Version: 3}}, result.Nodes)
	assert.Equal(t, []ports.ItemVersion{{Ref: edge.Ref, Version: 1}}, result.Edges)
	api.AssertExpectations(t)
}

func TestStore_ApplyConflicts(t *testing.T) {
	version := int64(2)
	ccf := &types.ConditionalCheckFailedException{Message: strPtr("stale")}

	t.Run("conflicting item fails alone", func(t *testing.T) {
		api := new(MockAPI)
		api.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
			return keyOf(in.Key, attrSK) == "NODE#alice" && in.ConditionExpression != nil
		})).Return(nil, ccf).Once()
		api.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
			return keyOf(in.Key, attrSK) == "NODE#bob"
		})).Return(&dynamodb.UpdateItemOutput{Attributes: versionAttrs("1")}, nil).Once()

		result, err := newTestStore(api).Apply(context.Background(), ports.ApplyRequest{Nodes: []ports.NodeUpsert{
			{Ref: alice, Kind: "Person", ExistingVersion: &version},
			{Ref: bob, Kind: "Person"},
		}})
		require.Error(t, err)
		assert.True(t, pkgerrors.IsVersionConflict(err))
		assert.Equal(t, []valueobjects.EntityRef{alice}, result.Conflicts)
		assert.Len(t, result.Nodes, 1)
	})

	t.Run("skip on conflict", func(t *testing.T) {
		api := new(MockAPI)
		api.On("UpdateItem", mock.Anything, mock.Anything).Return(nil, ccf).Once()

		result, err := newTestStore(api).Apply(context.Background(), ports.ApplyRequest{
			Nodes:          []ports.NodeUpsert{{Ref: alice, ExistingVersion: &version}},
			SkipOnConflict: true,
		})
		require.NoError(t, err)
		assert.Equal(t, []valueobjects.EntityRef{alice}, result.Skipped)
	})

	t.Run("throttling aborts the batch", func(t *testing.T) {
		api := new(MockAPI)
		api.On("UpdateItem", mock.Anything, mock.Anything).
			Return(nil, &smithy.GenericAPIError{Code: "ThrottlingException"}).Once()

		_, err := newTestStore(api).Apply(context.Background(), ports.ApplyRequest{Nodes: []ports.NodeUpsert{{Ref: alice}, {Ref: bob}}})
		assert.True(t, pkgerrors.IsRetryable(err))
		api.AssertNumberOfCalls(t, "UpdateItem", 1)
	})
}

func TestStore_ApplyReplace(t *testing.T) {
	stored, err := attributevalue.MarshalMap(map[string]interface{}{attrVersion: 4, attrCreatedAt: "2024-01-01T00:00:00Z"})
	require.NoError(t, err)

	api := new(MockAPI)
	api.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: stored}, nil).Once()
	api.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		n, _ := in.Item[attrVersion].(*types.AttributeValueMemberN)
		_, hasName := in.Item["p_name"]
		return n != nil && n.Value == "5" && hasName &&
			keyOf(in.Item, attrCreatedAt) == "2024-01-01T00:00:00Z" &&
			keyOf(in.Item, attrGSI1PK) == "NODE#Person"
	})).Return(&dynamodb.PutItemOutput{}, nil).Once()

	result, err := newTestStore(api).Apply(context.Background(), ports.ApplyRequest{
		Replace: true,
		Nodes:   []ports.NodeUpsert{{Ref: alice, Kind: "Person", Properties: map[string]interface{}{"name": "Alice"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.Nodes[0].Version)
	api.AssertExpectations(t)
}

func TestStore_Delete(t *testing.T) {
	api := new(MockAPI)
	isNode := func(id string) interface{} {
		return mock.MatchedBy(func(in *dynamodb.DeleteItemInput) bool { return keyOf(in.Key, attrSK) == "NODE#"+id })
	}
	isEdge := func(id string) interface{} {
		return mock.MatchedBy(func(in *dynamodb.DeleteItemInput) bool { return keyOf(in.Key, attrSK) == "EDGE#"+id })
	}
	old := &dynamodb.DeleteItemOutput{Attributes: versionAttrs("1")}
	api.On("DeleteItem", mock.Anything, isNode("alice")).Return(old, nil).Once()
	api.On("DeleteItem", mock.Anything, isNode("e1")).Return(&dynamodb.DeleteItemOutput{}, nil).Once()
	api.On("DeleteItem", mock.Anything, isEdge("e1")).Return(old, nil).Once()
	api.On("DeleteItem", mock.Anything, isNode("ghost")).Return(&dynamodb.DeleteItemOutput{}, nil).Once()
	api.On("DeleteItem", mock.Anything, isEdge("ghost")).Return(&dynamodb.DeleteItemOutput{}, nil).Once()

	e1 := valueobjects.MustEntityRef("people", "e1")
	ghost := valueobjects.MustEntityRef("people", "ghost")
	result, err := newTestStore(api).Delete(context.Background(), []valueobjects.EntityRef{alice, e1, ghost})
	require.NoError(t, err)
	assert.Equal(t, []valueobjects.EntityRef{alice, e1}, result.Deleted)
	assert.Equal(t, []valueobjects.EntityRef{ghost}, result.NotFound)
	api.AssertExpectations(t)
}

func storedNode(t *testing.T, ref valueobjects.EntityRef, kind string, props map[string]interface{}) map[string]types.AttributeValue {
	t.Helper()
	item, err := attributevalue.MarshalMap(record{
		PK: partitionKey(ref.Namespace), SK: sortKey(ports.ItemKindNode, ref.ExternalID),
		ItemKind: itemKindNode, Namespace: ref.Namespace, ExternalID: ref.ExternalID, RefKey: ref.Key(),
		Type: kind, Version: 2, CreatedAt: formatTime(fixedNow), UpdatedAt: formatTime(fixedNow),
	})
	require.NoError(t, err)
	for k, v := range props {
		av, err := attributevalue.Marshal(v)
		require.NoError(t, err)
		item[propertyAttr(k)] = av
	}
	return item
}

func TestStore_ListQueriesTheNamespacePartition(t *testing.T) {
	lastKey := primaryKey(ports.ItemKindNode, alice)

	api := new(MockAPI)
	api.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return in.IndexName == nil && *in.Limit == 1 && in.ExclusiveStartKey == nil && !*in.ScanIndexForward
	})).Return(&dynamodb.QueryOutput{
		Items:            []map[string]types.AttributeValue{storedNode(t, alice, "Person", map[string]interface{}{"age": 30})},
		LastEvaluatedKey: lastKey,
	}, nil).Once()

	store := newTestStore(api)
	page, err := store.List(context.Background(), ports.ListRequest{
		Kind:   ports.ItemKindNode,
		Filter: filters.InStrings(filters.PropRef, []string{alice.Key(), bob.Key()}),
		Sort:   []filters.Sort{{Property: filters.PropRef, Descending: true}},
		Limit:  1,
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	item := page.Items[0]
	assert.Equal(t, alice, item.Ref)
	assert.Equal(t, "Person", item.Type)
	assert.Equal(t, int64(2), item.Version)
	assert.Equal(t, float64(30), item.Properties["age"])
	assert.True(t, fixedNow.Equal(item.CreatedAt))
	require.NotNil(t, page.NextCursor)

	decoded, err := decodeCursor(page.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, lastKey, decoded)
}

func TestStore_ListEdgesThroughTheKindIndex(t *testing.T) {
	edge := entities.NewDomainEdge(alice, entities.Relation{EdgeType: knows, Direction: valueobjects.DirectionOutwards}, bob)
	item, err := attributevalue.MarshalMap(record{
		PK: partitionKey(edge.Ref.Namespace), SK: sortKey(ports.ItemKindEdge, edge.Ref.ExternalID),
		ItemKind: itemKindEdge, Namespace: edge.Ref.Namespace, ExternalID: edge.Ref.ExternalID, RefKey: edge.Ref.Key(),
		EdgeType: knows.Key(), StartNode: alice.Key(), EndNode: bob.Key(), Version: 1,
	})
	require.NoError(t, err)

	api := new(MockAPI)
	api.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return in.IndexName != nil && *in.IndexName == "GSI1" && *in.Limit == int32(DefaultPageSize)
	})).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item}}, nil).Once()

	page, err := newTestStore(api).List(context.Background(), ports.ListRequest{
		Kind: ports.ItemKindEdge,
		Filter: filters.AndOf(
			filters.Equals{Property: filters.PropType, Value: knows.Key()},
			filters.InStrings(filters.PropStartNode, []string{alice.Key()}),
		),
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, ports.ItemKindEdge, page.Items[0].Kind)
	assert.Equal(t, knows, page.Items[0].EdgeType)
	assert.Equal(t, bob, page.Items[0].End)
	assert.Nil(t, page.NextCursor)
}

func TestStore_ListFallsBackToScan(t *testing.T) {
	api := new(MockAPI)
	api.On("Scan", mock.Anything, mock.Anything).Return(nil, &smithy.GenericAPIError{Code: "ProvisionedThroughputExceededException"}).Once()

	_, err := newTestStore(api).List(context.Background(), ports.ListRequest{
		Kind:   ports.ItemKindNode,
		Filter: filters.Range{Property: filters.Prop("age"), Gte: 18},
	})
	assert.True(t, pkgerrors.IsRetryable(err))

	t.Run("scans cannot sort", func(t *testing.T) {
		_, err := newTestStore(new(MockAPI)).List(context.Background(), ports.ListRequest{
			Kind: ports.ItemKindNode,
			Sort: []filters.Sort{{Property: filters.PropRef}},
		})
		assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeValidation))
	})
}

func TestStore_ListCapsOversizedLimits(t *testing.T) {
	api := new(MockAPI)
	api.On("Scan", mock.Anything, mock.MatchedBy(func(in *dynamodb.ScanInput) bool {
		return *in.Limit == math.MaxInt32
	})).Return(&dynamodb.ScanOutput{}, nil).Once()

	page, err := newTestStore(api).List(context.Background(), ports.ListRequest{
		Kind:   ports.ItemKindNode,
		Filter: filters.Range{Property: filters.Prop("age"), Gte: 18},
		Limit:  math.MaxInt32 + 1,
	})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	api.AssertExpectations(t)
}

func strPtr(s string) *string { return &s }
