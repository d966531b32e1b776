package filters

import (
	"encoding/json"
	"fmt"
)

type exprJSON struct {
	Equals *equalsJSON `json:"equals,omitempty"`
	In     *inJSON     `json:"in,omitempty"`
	Prefix *prefixJSON `json:"prefix,omitempty"`
	Range  *rangeJSON  `json:"range,omitempty"`
	And    []exprJSON  `json:"and,omitempty"`
}

type equalsJSON struct {
	Property string      `json:"property"`
	Value    interface{} `json:"value"`
}

type inJSON struct {
	Property string        `json:"property"`
	Values   []interface{} `json:"values"`
}

type prefixJSON struct {
	Property string `json:"property"`
	Value    string `json:"value"`
}

type rangeJSON struct {
	Property string      `json:"property"`
	Gt       interface{} `json:"gt,omitempty"`
	Gte      interface{} `json:"gte,omitempty"`
	Lt       interface{} `json:"lt,omitempty"`
	Lte      interface{} `json:"lte,omitempty"`
}

// Filter wraps an Expr for JSON transport in request and response DTOs.
// A null or absent filter decodes to a nil Expr.
type Filter struct {
	Expr Expr
}

// MarshalJSON implements json.Marshaler
func (f Filter) MarshalJSON() ([]byte, error) {
	if f.Expr == nil {
		return []byte("null"), nil
	}
	enc, err := encode(f.Expr)
	if err != nil {
		return nil, err
	}
	return json.Marshal(enc)
}

// UnmarshalJSON implements json.Unmarshaler
func (f *Filter) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		f.Expr = nil
		return nil
	}
	var raw exprJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	expr, err := decode(raw)
	if err != nil {
		return err
	}
	f.Expr = expr
	return nil
}

func encode(e Expr) (exprJSON, error) {
	switch v := e.(type) {
	case Equals:
		return exprJSON{Equals: &equalsJSON{Property: v.Property, Value: v.Value}}, nil
	case In:
		return exprJSON{In: &inJSON{Property: v.Property, Values: v.Values}}, nil
	case Prefix:
		return exprJSON{Prefix: &prefixJSON{Property: v.Property, Value: v.Value}}, nil
	case Range:
		return exprJSON{Range: &rangeJSON{Property: v.Property, Gt: v.Gt, Gte: v.Gte, Lt: v.Lt, Lte: v.Lte}}, nil
	case And:
		children := make([]exprJSON, 0, len(v.Exprs))
		for _, child := range v.Exprs {
			enc, err := encode(child)
			if err != nil {
				return exprJSON{}, err
			}
			children = append(children, enc)
		}
		return exprJSON{And: children}, nil
	}
	return exprJSON{}, fmt.Errorf("unsupported filter expression %T", e)
}

func decode(raw exprJSON) (Expr, error) {
	set := 0
	var expr Expr
	if raw.Equals != nil {
		set++
		expr = Equals{Property: raw.Equals.Property, Value: raw.Equals.Value}
	}
	if raw.In != nil {
		set++
		expr = In{Property: raw.In.Property, Values: raw.In.Values}
	}
	if raw.Prefix != nil {
		set++
		expr = Prefix{Property: raw.Prefix.Property, Value: raw.Prefix.Value}
	}
	if raw.Range != nil {
		set++
		expr = Range{Property: raw.Range.Property, Gt: raw.Range.Gt, Gte: raw.Range.Gte, Lt: raw.Range.Lt, Lte: raw.Range.Lte}
	}
	if raw.And != nil {
		set++
		and := And{Exprs: make([]Expr, 0, len(raw.And))}
		for _, child := range raw.And {
			decoded, err := decode(child)
			if err != nil {
				return nil, err
			}
			and.Exprs = append(and.Exprs, decoded)
		}
		expr = and
	}
	if set != 1 {
		return nil, fmt.Errorf("filter expression must have exactly one operator, got %d", set)
	}
	return expr, nil
}
