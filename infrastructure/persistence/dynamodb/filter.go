package dynamodb

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"

	"instancegraph/application/ports"
	"instancegraph/domain/core/valueobjects"
	"instancegraph/domain/filters"
	pkgerrors "instancegraph/pkg/errors"
)

// DynamoDB caps the operands of a single IN comparison
const maxInOperands = 100

func attributeName(property string) (expression.NameBuilder, error) {
	switch property {
	case filters.PropNamespace:
		return expression.Name(attrNamespace), nil
	case filters.PropExternalID:
		return expression.Name(attrExternalID), nil
	case filters.PropRef:
		return expression.Name(attrRefKey), nil
	case filters.PropKind:
		return expression.Name(attrType), nil
	case filters.PropType:
		return expression.Name(attrEdgeType), nil
	case filters.PropStartNode:
		return expression.Name(attrStartNode), nil
	case filters.PropEndNode:
		return expression.Name(attrEndNode), nil
	}
	if name, ok := filters.PropertyName(property); ok && name != "" {
		return expression.NameNoDotSplit(propertyAttr(name)), nil
	}
	return expression.NameBuilder{}, pkgerrors.NewValidationError(fmt.Sprintf("unknown filter property %q", property))
}

// always and never are conditions every stored item does and does not
// satisfy: each item carries a partition key
func always() expression.ConditionBuilder {
	return expression.Name(attrPK).AttributeExists()
}

func never() expression.ConditionBuilder {
	return expression.Name(attrPK).AttributeNotExists()
}

// condition translates a filter expression into a DynamoDB condition
func condition(e filters.Expr) (expression.ConditionBuilder, error) {
	switch v := e.(type) {
	case nil:
		return always(), nil

	case filters.Equals:
		name, err := attributeName(v.Property)
		if err != nil {
			return expression.ConditionBuilder{}, err
		}
		return name.Equal(expression.Value(v.Value)), nil

	case filters.In:
		name, err := attributeName(v.Property)
		if err != nil {
			return expression.ConditionBuilder{}, err
		}
		if len(v.Values) == 0 {
			return never(), nil
		}
		var chunks []expression.ConditionBuilder
		for start := 0; start < len(v.Values); start += maxInOperands {
			end := min(start+maxInOperands, len(v.Values))
			operands := make([]expression.OperandBuilder, 0, end-start-1)
			for _, value := range v.Values[start+1 : end] {
				operands = append(operands, expression.Value(value))
			}
			chunks = append(chunks, name.In(expression.Value(v.Values[start]), operands...))
		}
		if len(chunks) == 1 {
			return chunks[0], nil
		}
		return expression.Or(chunks[0], chunks[1], chunks[2:]...), nil

	case filters.Prefix:
		name, err := attributeName(v.Property)
		if err != nil {
			return expression.ConditionBuilder{}, err
		}
		return name.BeginsWith(v.Value), nil

	case filters.Range:
		name, err := attributeName(v.Property)
		if err != nil {
			return expression.ConditionBuilder{}, err
		}
		var bounds []expression.ConditionBuilder
		if v.Gt != nil {
			bounds = append(bounds, name.GreaterThan(expression.Value(v.Gt)))
		}
		if v.Gte != nil {
			bounds = append(bounds, name.GreaterThanEqual(expression.Value(v.Gte)))
		}
		if v.Lt != nil {
			bounds = append(bounds, name.LessThan(expression.Value(v.Lt)))
		}
		if v.Lte != nil {
			bounds = append(bounds, name.LessThanEqual(expression.Value(v.Lte)))
		}
		if len(bounds) == 0 {
			return name.AttributeExists(), nil
		}
		return all(bounds), nil

	case filters.And:
		parts := make([]expression.ConditionBuilder, 0, len(v.Exprs))
		for _, child := range v.Exprs {
			c, err := condition(child)
			if err != nil {
				return expression.ConditionBuilder{}, err
			}
			parts = append(parts, c)
		}
		if len(parts) == 0 {
			return always(), nil
		}
		return all(parts), nil
	}
	return expression.ConditionBuilder{}, pkgerrors.NewValidationError(fmt.Sprintf("unsupported filter expression %T", e))
}

func all(conds []expression.ConditionBuilder) expression.ConditionBuilder {
	if len(conds) == 1 {
		return conds[0]
	}
	return expression.And(conds[0], conds[1], conds[2:]...)
}

// accessPath is how one list call reads the table
type accessPath struct {
	index string
	key   *expression.KeyConditionBuilder

	// ordered paths return items sorted by ref within the key, so they can
	// honour a sort on ref or externalId
	ordered bool
}

// planAccess picks the narrowest read the filter allows: a namespace
// partition when every match lives in one namespace, the kind index when the
// node kind or edge type is pinned, and a scan otherwise
func planAccess(kind ports.ItemKind, filter filters.Expr, indexName string) accessPath {
	conjuncts := []filters.Expr{filter}
	if and, ok := filter.(filters.And); ok {
		conjuncts = and.Exprs
	}

	if ns, ok := pinnedNamespace(conjuncts); ok {
		key := expression.Key(attrPK).Equal(expression.Value(partitionKey(ns))).
			And(expression.Key(attrSK).BeginsWith(sortKeyPrefix(kind)))
		return accessPath{key: &key, ordered: true}
	}

	typeProperty := filters.PropKind
	if kind == ports.ItemKindEdge {
		typeProperty = filters.PropType
	}
	for _, c := range conjuncts {
		if eq, ok := c.(filters.Equals); ok && eq.Property == typeProperty {
			if typ, ok := eq.Value.(string); ok && typ != "" {
				key := expression.Key(attrGSI1PK).Equal(expression.Value(indexKey(kind, typ)))
				return accessPath{index: indexName, key: &key, ordered: true}
			}
		}
	}
	return accessPath{}
}

func pinnedNamespace(conjuncts []filters.Expr) (string, bool) {
	for _, c := range conjuncts {
		switch v := c.(type) {
		case filters.Equals:
			if v.Property == filters.PropNamespace {
				ns, ok := v.Value.(string)
				return ns, ok && ns != ""
			}
			if v.Property == filters.PropRef {
				if ns, ok := refNamespace([]interface{}{v.Value}); ok {
					return ns, true
				}
			}
		case filters.In:
			if v.Property == filters.PropRef {
				if ns, ok := refNamespace(v.Values); ok {
					return ns, true
				}
			}
		}
	}
	return "", false
}

// refNamespace returns the namespace shared by every ref key in values
func refNamespace(values []interface{}) (string, bool) {
	ns := ""
	for _, v := range values {
		key, ok := v.(string)
		if !ok {
			return "", false
		}
		ref, err := valueobjects.ParseKey(key)
		if err != nil || (ns != "" && ref.Namespace != ns) {
			return "", false
		}
		ns = ref.Namespace
	}
	return ns, ns != ""
}

// sortOrder maps the requested sort onto the key order of the access path
func sortOrder(path accessPath, sorts []filters.Sort) (forward bool, err error) {
	switch len(sorts) {
	case 0:
		return true, nil
	case 1:
		s := sorts[0]
		if path.ordered && (s.Property == filters.PropRef || s.Property == filters.PropExternalID) {
			return !s.Descending, nil
		}
	}
	return true, pkgerrors.NewValidationError("the dynamodb store only sorts by ref within a namespace or kind")
}
