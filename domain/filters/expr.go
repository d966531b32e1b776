// Package filters defines the small boolean filter algebra forwarded to the
// instance store. The traversal core composes these expressions and never
// evaluates them; evaluation or translation is the store adapter's job.
package filters

import "strings"

// Well-known property references. Reference-valued properties (ref, type,
// startNode, endNode) compare against EntityRef key strings ("namespace#id").
const (
	PropNamespace  = "namespace"
	PropExternalID = "externalId"
	PropRef        = "ref"
	PropKind       = "kind"
	PropType       = "type"
	PropStartNode  = "startNode"
	PropEndNode    = "endNode"

	propertiesPrefix = "properties."
)

// Prop references a declared property by name
func Prop(name string) string {
	return propertiesPrefix + name
}

// PropertyName returns the declared property name for a "properties.<name>" reference
func PropertyName(property string) (string, bool) {
	if !strings.HasPrefix(property, propertiesPrefix) {
		return "", false
	}
	return strings.TrimPrefix(property, propertiesPrefix), true
}

// Expr is one node of a filter tree
type Expr interface {
	isExpr()
}

// Equals matches items whose property equals Value
type Equals struct {
	Property string
	Value    interface{}
}

// In matches items whose property equals any of Values
type In struct {
	Property string
	Values   []interface{}
}

// Prefix matches string properties starting with Value
type Prefix struct {
	Property string
	Value    string
}

// Range matches items whose property lies within the given bounds. Nil bounds are open.
type Range struct {
	Property string
	Gt       interface{}
	Gte      interface{}
	Lt       interface{}
	Lte      interface{}
}

// And matches items satisfying every child expression
type And struct {
	Exprs []Expr
}

func (Equals) isExpr() {}
func (In) isExpr()     {}
func (Prefix) isExpr() {}
func (Range) isExpr()  {}
func (And) isExpr()    {}

// Sort orders list results by one property
type Sort struct {
	Property   string `json:"property" validate:"required"`
	Descending bool   `json:"descending,omitempty"`
}

// InStrings builds an In expression over string values
func InStrings(property string, values []string) In {
	in := In{Property: property, Values: make([]interface{}, len(values))}
	for i, v := range values {
		in.Values[i] = v
	}
	return in
}

// AndOf combines expressions, dropping nils and flattening nested Ands.
// It returns nil when nothing remains and the single expression when only one does.
func AndOf(exprs ...Expr) Expr {
	flat := make([]Expr, 0, len(exprs))
	for _, e := range exprs {
		switch v := e.(type) {
		case nil:
		case And:
			if inner := AndOf(v.Exprs...); inner != nil {
				if nested, ok := inner.(And); ok {
					flat = append(flat, nested.Exprs...)
				} else {
					flat = append(flat, inner)
				}
			}
		default:
			flat = append(flat, e)
		}
	}
	switch len(flat) {
	case 0:
		return nil
	case 1:
		return flat[0]
	}
	return And{Exprs: flat}
}

// Walk visits every expression in the tree in pre-order
func Walk(e Expr, visit func(Expr)) {
	if e == nil {
		return
	}
	visit(e)
	if and, ok := e.(And); ok {
		for _, child := range and.Exprs {
			Walk(child, visit)
		}
	}
}
