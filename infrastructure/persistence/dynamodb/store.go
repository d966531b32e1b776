package dynamodb

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"instancegraph/application/ports"
	"instancegraph/domain/core/valueobjects"
	"instancegraph/domain/filters"
	pkgerrors "instancegraph/pkg/errors"
)

// DefaultPageSize is used when a list request has no positive limit
const DefaultPageSize = 100

// API is the subset of the DynamoDB client the store calls
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store implements ports.Store on a single DynamoDB table
type Store struct {
	client    API
	tableName string
	indexName string
	pageSize  int
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures a Store
type Option func(*Store)

// WithIndexName overrides the kind index name (default "GSI1")
func WithIndexName(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.indexName = name
		}
	}
}

// WithDefaultPageSize overrides DefaultPageSize
func WithDefaultPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a store over tableName
func NewStore(client API, tableName string, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		client:    client,
		tableName: tableName,
		indexName: "GSI1",
		pageSize:  DefaultPageSize,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply upserts every item with its own conditional write. DynamoDB offers no
// cheap multi-item atomicity at this batch size, so a conflicting item fails
// (or is skipped) alone and the result is returned with a VersionConflict error.
func (s *Store) Apply(ctx context.Context, req ports.ApplyRequest) (*ports.ApplyResult, error) {
	now := formatTime(s.now())
	result := &ports.ApplyResult{}
	var conflicts []string

	for _, n := range req.Nodes {
		version, err := s.putNode(ctx, n, req.Replace, now)
		switch {
		case err == nil:
			result.Nodes = append(result.Nodes, ports.ItemVersion{Ref: n.Ref, Version: version})
		case pkgerrors.IsVersionConflict(err) && req.SkipOnConflict:
			result.Skipped = append(result.Skipped, n.Ref)
		case pkgerrors.IsVersionConflict(err):
			result.Conflicts = append(result.Conflicts, n.Ref)
			conflicts = append(conflicts, n.Ref.Key())
		default:
			return nil, err
		}
	}

	for _, e := range req.Edges {
		version, err := s.putEdge(ctx, e, now)
		if err != nil {
			return nil, err
		}
		result.Edges = append(result.Edges, ports.ItemVersion{Ref: e.Ref, Version: version})
	}

	s.logger.Debug("Applied instances",
		zap.Int("nodes", len(result.Nodes)),
		zap.Int("edges", len(result.Edges)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("conflicts", len(result.Conflicts)),
	)

	if len(conflicts) > 0 {
		return result, pkgerrors.NewVersionConflictError(conflicts)
	}
	return result, nil
}

// versionGuard fails a write when the stored version already reached expected
func versionGuard(existing *int64) *expression.ConditionBuilder {
	if existing == nil {
		return nil
	}
	c := expression.Name(attrPK).AttributeNotExists().
		Or(expression.Name(attrVersion).LessThan(expression.Value(*existing)))
	return &c
}

func (s *Store) putNode(ctx context.Context, n ports.NodeUpsert, replace bool, now string) (int64, error) {
	if replace {
		return s.replaceNode(ctx, n, now)
	}

	update := baseUpdate(ports.ItemKindNode, n.Ref, now)
	if n.Kind != "" {
		update = update.
			Set(expression.Name(attrType), expression.Value(n.Kind)).
			Set(expression.Name(attrGSI1PK), expression.Value(indexKey(ports.ItemKindNode, n.Kind))).
			Set(expression.Name(attrGSI1SK), expression.Value(n.Ref.Key()))
	}
	for name, value := range n.Properties {
		update = update.Set(expression.NameNoDotSplit(propertyAttr(name)), expression.Value(value))
	}
	return s.update(ctx, ports.ItemKindNode, n.Ref, update, versionGuard(n.ExistingVersion))
}

// replaceNode rewrites the whole item. The stored version is read first and
// guarded on, so a concurrent writer turns into a VersionConflict rather
// than a lost update.
func (s *Store) replaceNode(ctx context.Context, n ports.NodeUpsert, now string) (int64, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(s.tableName),
		Key:                  primaryKey(ports.ItemKindNode, n.Ref),
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String(attrVersion + ", " + attrCreatedAt),
	})
	if err != nil {
		return 0, mapError("get", err)
	}

	var stored struct {
		Version   int64  `dynamodbav:"Version"`
		CreatedAt string `dynamodbav:"CreatedAt"`
	}
	cond := expression.Name(attrPK).AttributeNotExists()
	if out.Item != nil {
		if err := attributevalue.UnmarshalMap(out.Item, &stored); err != nil {
			return 0, fmt.Errorf("failed to unmarshal stored version: %w", err)
		}
		cond = expression.Name(attrVersion).Equal(expression.Value(stored.Version))
	}
	if out.Item != nil && n.ExistingVersion != nil && stored.Version >= *n.ExistingVersion {
		return 0, pkgerrors.NewVersionConflictError([]string{n.Ref.Key()})
	}
	if stored.CreatedAt == "" {
		stored.CreatedAt = now
	}

	rec := record{
		PK:         partitionKey(n.Ref.Namespace),
		SK:         sortKey(ports.ItemKindNode, n.Ref.ExternalID),
		ItemKind:   itemKindNode,
		Namespace:  n.Ref.Namespace,
		ExternalID: n.Ref.ExternalID,
		RefKey:     n.Ref.Key(),
		Type:       n.Kind,
		Version:    stored.Version + 1,
		CreatedAt:  stored.CreatedAt,
		UpdatedAt:  now,
	}
	if n.Kind != "" {
		rec.GSI1PK = indexKey(ports.ItemKindNode, n.Kind)
		rec.GSI1SK = n.Ref.Key()
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal node: %w", err)
	}
	for name, value := range n.Properties {
		av, err := attributevalue.Marshal(value)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal property %s: %w", name, err)
		}
		item[propertyAttr(name)] = av
	}

	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return 0, fmt.Errorf("failed to build expression: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.tableName),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return 0, pkgerrors.NewVersionConflictError([]string{n.Ref.Key()}).WithCause(err)
		}
		return 0, mapError("put", err)
	}
	return rec.Version, nil
}

func (s *Store) putEdge(ctx context.Context, e ports.EdgeUpsert, now string) (int64, error) {
	update := baseUpdate(ports.ItemKindEdge, e.Ref, now).
		Set(expression.Name(attrEdgeType), expression.Value(e.Type.Key())).
		Set(expression.Name(attrStartNode), expression.Value(e.Start.Key())).
		Set(expression.Name(attrEndNode), expression.Value(e.End.Key())).
		Set(expression.Name(attrGSI1PK), expression.Value(indexKey(ports.ItemKindEdge, e.Type.Key()))).
		Set(expression.Name(attrGSI1SK), expression.Value(e.Ref.Key()))
	return s.update(ctx, ports.ItemKindEdge, e.Ref, update, nil)
}

// baseUpdate sets the identity attributes and bumps the version
func baseUpdate(kind ports.ItemKind, ref valueobjects.EntityRef, now string) expression.UpdateBuilder {
	return expression.
		Set(expression.Name(attrItemKind), expression.Value(itemKindAttr(kind))).
		Set(expression.Name(attrNamespace), expression.Value(ref.Namespace)).
		Set(expression.Name(attrExternalID), expression.Value(ref.ExternalID)).
		Set(expression.Name(attrRefKey), expression.Value(ref.Key())).
		Set(expression.Name(attrUpdatedAt), expression.Value(now)).
		Set(expression.Name(attrCreatedAt), expression.IfNotExists(expression.Name(attrCreatedAt), expression.Value(now))).
		Set(expression.Name(attrVersion), expression.Plus(
			expression.IfNotExists(expression.Name(attrVersion), expression.Value(0)),
			expression.Value(1),
		))
}

func (s *Store) update(ctx context.Context, kind ports.ItemKind, ref valueobjects.EntityRef, update expression.UpdateBuilder, guard *expression.ConditionBuilder) (int64, error) {
	builder := expression.NewBuilder().WithUpdate(update)
	if guard != nil {
		builder = builder.WithCondition(*guard)
	}
	expr, err := builder.Build()
	if err != nil {
		return 0, fmt.Errorf("failed to build expression: %w", err)
	}

	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       primaryKey(kind, ref),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueUpdatedNew,
	}
	if guard != nil {
		input.ConditionExpression = expr.Condition()
	}

	out, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		if isConditionalCheckFailed(err) {
			return 0, pkgerrors.NewVersionConflictError([]string{ref.Key()}).WithCause(err)
		}
		return 0, mapError("update", err)
	}
	return storedVersion(out.Attributes), nil
}

func storedVersion(attrs map[string]types.AttributeValue) int64 {
	n, ok := attrs[attrVersion].(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	v, _ := strconv.ParseInt(n.Value, 10, 64)
	return v
}

// Delete removes each ref. A ref does not say whether it names a node or an
// edge, so the node key is tried first and the edge key second.
func (s *Store) Delete(ctx context.Context, refs []valueobjects.EntityRef) (*ports.DeleteResult, error) {
	result := &ports.DeleteResult{}
	for _, ref := range refs {
		found := false
		for _, kind := range []ports.ItemKind{ports.ItemKindNode, ports.ItemKindEdge} {
			out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName:    aws.String(s.tableName),
				Key:          primaryKey(kind, ref),
				ReturnValues: types.ReturnValueAllOld,
			})
			if err != nil {
				return nil, mapError("delete", err)
			}
			if len(out.Attributes) > 0 {
				found = true
				break
			}
		}
		if found {
			result.Deleted = append(result.Deleted, ref)
		} else {
			result.NotFound = append(result.NotFound, ref)
		}
	}
	return result, nil
}

// List reads one page. DynamoDB applies the limit before the filter, so a page
// may hold fewer items than the limit, or none, while still carrying a cursor.
func (s *Store) List(ctx context.Context, req ports.ListRequest) (*ports.ListPage, error) {
	startKey, err := decodeCursor(req.Cursor)
	if err != nil {
		return nil, err
	}

	filter, err := condition(req.Filter)
	if err != nil {
		return nil, err
	}
	path := planAccess(req.Kind, req.Filter, s.indexName)
	forward, err := sortOrder(path, req.Sort)
	if err != nil {
		return nil, err
	}
	if path.key == nil {
		filter = filter.And(expression.Name(attrItemKind).Equal(expression.Value(itemKindAttr(req.Kind))))
	}

	builder := expression.NewBuilder().WithFilter(filter)
	if path.key != nil {
		builder = builder.WithKeyCondition(*path.key)
	}
	if len(req.Properties) > 0 {
		builder = builder.WithProjection(projection(req.Properties))
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, pkgerrors.NewValidationError(fmt.Sprintf("failed to build filter: %v", err))
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.pageSize
	}
	limit = min(limit, math.MaxInt32)

	var (
		items   []map[string]types.AttributeValue
		lastKey map[string]types.AttributeValue
	)
	if path.key != nil {
		input := &dynamodb.QueryInput{
			TableName:                 aws.String(s.tableName),
			KeyConditionExpression:    expr.KeyCondition(),
			FilterExpression:          expr.Filter(),
			ProjectionExpression:      expr.Projection(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         startKey,
			Limit:                     aws.Int32(int32(limit)),
			ScanIndexForward:          aws.Bool(forward),
		}
		if path.index != "" {
			input.IndexName = aws.String(path.index)
		}
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, mapError("query", err)
		}
		items, lastKey = out.Items, out.LastEvaluatedKey
	} else {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(s.tableName),
			FilterExpression:          expr.Filter(),
			ProjectionExpression:      expr.Projection(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         startKey,
			Limit:                     aws.Int32(int32(limit)),
		})
		if err != nil {
			return nil, mapError("scan", err)
		}
		items, lastKey = out.Items, out.LastEvaluatedKey
	}

	page := &ports.ListPage{Items: make([]ports.RawItem, 0, len(items))}
	for _, item := range items {
		raw, err := decodeItem(item)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, raw)
	}
	if page.NextCursor, err = encodeCursor(lastKey); err != nil {
		return nil, err
	}

	s.logger.Debug("Listed items",
		zap.String("kind", string(req.Kind)),
		zap.Bool("query", path.key != nil),
		zap.String("index", path.index),
		zap.Int("items", len(page.Items)),
		zap.Bool("hasMore", page.NextCursor != nil),
	)
	return page, nil
}

// projection always keeps the identity attributes the unpacker needs
func projection(properties []string) expression.ProjectionBuilder {
	proj := expression.NamesList(
		expression.Name(attrPK), expression.Name(attrSK),
		expression.Name(attrItemKind), expression.Name(attrNamespace), expression.Name(attrExternalID),
		expression.Name(attrRefKey), expression.Name(attrType), expression.Name(attrEdgeType),
		expression.Name(attrStartNode), expression.Name(attrEndNode), expression.Name(attrVersion),
		expression.Name(attrCreatedAt), expression.Name(attrUpdatedAt),
	)
	for _, p := range properties {
		name := p
		if n, ok := filters.PropertyName(p); ok {
			name = n
		}
		proj = proj.AddNames(expression.NameNoDotSplit(propertyAttr(name)))
	}
	return proj
}
