package dynamodb

import (
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"instancegraph/application/ports"
	"instancegraph/domain/core/valueobjects"
)

// Single-table layout. Every namespace is one partition; nodes and edges are
// told apart by sort key prefix. GSI1 groups items by node kind or edge type
// so that listings pinned to a kind need not scan.
const (
	attrPK         = "PK"
	attrSK         = "SK"
	attrGSI1PK     = "GSI1PK"
	attrGSI1SK     = "GSI1SK"
	attrItemKind   = "ItemKind"
	attrNamespace  = "Namespace"
	attrExternalID = "ExternalID"
	attrRefKey     = "RefKey"
	attrType       = "Type"
	attrEdgeType   = "EdgeType"
	attrStartNode  = "StartNode"
	attrEndNode    = "EndNode"
	attrVersion    = "Version"
	attrCreatedAt  = "CreatedAt"
	attrUpdatedAt  = "UpdatedAt"

	// Declared properties are stored as top-level attributes with this prefix
	propertyPrefix = "p_"

	itemKindNode = "NODE"
	itemKindEdge = "EDGE"
)

// record is the typed part of a stored item
type record struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	GSI1PK     string `dynamodbav:"GSI1PK,omitempty"`
	GSI1SK     string `dynamodbav:"GSI1SK,omitempty"`
	ItemKind   string `dynamodbav:"ItemKind"`
	Namespace  string `dynamodbav:"Namespace"`
	ExternalID string `dynamodbav:"ExternalID"`
	RefKey     string `dynamodbav:"RefKey"`
	Type       string `dynamodbav:"Type,omitempty"`
	EdgeType   string `dynamodbav:"EdgeType,omitempty"`
	StartNode  string `dynamodbav:"StartNode,omitempty"`
	EndNode    string `dynamodbav:"EndNode,omitempty"`
	Version    int64  `dynamodbav:"Version"`
	CreatedAt  string `dynamodbav:"CreatedAt"`
	UpdatedAt  string `dynamodbav:"UpdatedAt"`
}

func partitionKey(namespace string) string {
	return "NS#" + namespace
}

func sortKeyPrefix(kind ports.ItemKind) string {
	if kind == ports.ItemKindEdge {
		return itemKindEdge + "#"
	}
	return itemKindNode + "#"
}

func sortKey(kind ports.ItemKind, externalID string) string {
	return sortKeyPrefix(kind) + externalID
}

// indexKey groups nodes by kind and edges by edge type key
func indexKey(kind ports.ItemKind, typ string) string {
	return sortKeyPrefix(kind) + typ
}

func itemKindAttr(kind ports.ItemKind) string {
	if kind == ports.ItemKindEdge {
		return itemKindEdge
	}
	return itemKindNode
}

func primaryKey(kind ports.ItemKind, ref valueobjects.EntityRef) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: partitionKey(ref.Namespace)},
		attrSK: &types.AttributeValueMemberS{Value: sortKey(kind, ref.ExternalID)},
	}
}

func propertyAttr(name string) string {
	return propertyPrefix + name
}

// decodeItem converts a stored item back into a raw item
func decodeItem(item map[string]types.AttributeValue) (ports.RawItem, error) {
	var rec record
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return ports.RawItem{}, fmt.Errorf("failed to unmarshal item: %w", err)
	}

	ref, err := valueobjects.NewEntityRef(rec.Namespace, rec.ExternalID)
	if err != nil {
		return ports.RawItem{}, fmt.Errorf("stored item %s/%s: %w", rec.PK, rec.SK, err)
	}

	raw := ports.RawItem{
		Kind:    ports.ItemKindNode,
		Ref:     ref,
		Type:    rec.Type,
		Version: rec.Version,
	}
	raw.CreatedAt, _ = time.Parse(time.RFC3339Nano, rec.CreatedAt)
	raw.UpdatedAt, _ = time.Parse(time.RFC3339Nano, rec.UpdatedAt)

	if rec.ItemKind == itemKindEdge {
		raw.Kind = ports.ItemKindEdge
		raw.Type = ""
		if raw.EdgeType, err = valueobjects.ParseKey(rec.EdgeType); err != nil {
			return ports.RawItem{}, fmt.Errorf("edge %s has a malformed type: %w", rec.RefKey, err)
		}
		if raw.Start, err = valueobjects.ParseKey(rec.StartNode); err != nil {
			return ports.RawItem{}, fmt.Errorf("edge %s has a malformed start node: %w", rec.RefKey, err)
		}
		if raw.End, err = valueobjects.ParseKey(rec.EndNode); err != nil {
			return ports.RawItem{}, fmt.Errorf("edge %s has a malformed end node: %w", rec.RefKey, err)
		}
	}

	for name, av := range item {
		if !strings.HasPrefix(name, propertyPrefix) {
			continue
		}
		var v interface{}
		if err := attributevalue.Unmarshal(av, &v); err != nil {
			return ports.RawItem{}, fmt.Errorf("failed to unmarshal property %s: %w", name, err)
		}
		if raw.Properties == nil {
			raw.Properties = make(map[string]interface{})
		}
		raw.Properties[strings.TrimPrefix(name, propertyPrefix)] = v
	}
	return raw, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
