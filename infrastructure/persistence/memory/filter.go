package memory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"instancegraph/application/ports"
	"instancegraph/domain/filters"
)

// lookup resolves a property reference against an item
func lookup(item *ports.RawItem, property string) (interface{}, bool) {
	switch property {
	case filters.PropNamespace:
		return item.Ref.Namespace, true
	case filters.PropExternalID:
		return item.Ref.ExternalID, true
	case filters.PropRef:
		return item.Ref.Key(), true
	case filters.PropKind:
		if item.Kind == ports.ItemKindNode {
			return item.Type, true
		}
		return nil, false
	case filters.PropType:
		if item.Kind == ports.ItemKindEdge {
			return item.EdgeType.Key(), true
		}
		return nil, false
	case filters.PropStartNode:
		if item.Kind == ports.ItemKindEdge {
			return item.Start.Key(), true
		}
		return nil, false
	case filters.PropEndNode:
		if item.Kind == ports.ItemKindEdge {
			return item.End.Key(), true
		}
		return nil, false
	}

	name, ok := filters.PropertyName(property)
	if !ok {
		return nil, false
	}
	v, ok := item.Properties[name]
	return v, ok
}

// matches evaluates a filter tree against an item. A nil filter matches everything.
func matches(item *ports.RawItem, expr filters.Expr) (bool, error) {
	switch e := expr.(type) {
	case nil:
		return true, nil
	case filters.Equals:
		v, ok := lookup(item, e.Property)
		return ok && compare(v, e.Value) == 0, nil
	case filters.In:
		v, ok := lookup(item, e.Property)
		if !ok {
			return false, nil
		}
		for _, candidate := range e.Values {
			if compare(v, candidate) == 0 {
				return true, nil
			}
		}
		return false, nil
	case filters.Prefix:
		v, ok := lookup(item, e.Property)
		if !ok {
			return false, nil
		}
		s, isString := v.(string)
		return isString && strings.HasPrefix(s, e.Value), nil
	case filters.Range:
		v, ok := lookup(item, e.Property)
		if !ok {
			return false, nil
		}
		if e.Gt != nil && compare(v, e.Gt) <= 0 {
			return false, nil
		}
		if e.Gte != nil && compare(v, e.Gte) < 0 {
			return false, nil
		}
		if e.Lt != nil && compare(v, e.Lt) >= 0 {
			return false, nil
		}
		if e.Lte != nil && compare(v, e.Lte) > 0 {
			return false, nil
		}
		return true, nil
	case filters.And:
		for _, child := range e.Exprs {
			ok, err := matches(item, child)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
	return false, fmt.Errorf("unsupported filter expression %T", expr)
}

// compare orders two property values. Numbers compare numerically whatever
// their Go type, so values survive a JSON round trip through a cursor.
// Values of different classes order nil < bool < number < string < other.
func compare(a, b interface{}) int {
	ca, cb := class(a), class(b)
	if ca != cb {
		return ca - cb
	}
	switch ca {
	case classNil:
		return 0
	case classBool:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		}
		return 1
	case classNumber:
		fa, fb := toFloat(a), toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case classString:
		return strings.Compare(a.(string), b.(string))
	case classTime:
		return a.(time.Time).Compare(b.(time.Time))
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// Comparison classes. Values of different classes order by class.
const (
	classNil = iota
	classBool
	classNumber
	classString
	classTime
	classOther
)

func class(v interface{}) int {
	switch v.(type) {
	case nil:
		return classNil
	case bool:
		return classBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return classNumber
	case string:
		return classString
	case time.Time:
		return classTime
	}
	return classOther
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	case json.Number:
		f, _ := n.Float64()
		return f
	}
	return 0
}
