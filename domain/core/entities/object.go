package entities

import (
	"sort"

	"instancegraph/domain/core/valueobjects"
)

// DomainObject is a node instance: its identity, declared properties and
// relation fields. Objects are built by the caller (write path) or by the
// unpacker (read path) and are treated as immutable once shared.
type DomainObject struct {
	Ref        valueobjects.EntityRef
	Kind       string
	Version    int64
	Properties map[string]interface{}
	Relations  map[string]Relation

	// ExistingVersion enables optimistic concurrency on write: the store rejects
	// the upsert when its stored version is >= this value.
	ExistingVersion *int64
}

// Relation is one relation field of a DomainObject
type Relation struct {
	EdgeType  valueobjects.EntityRef
	Direction valueobjects.Direction
	Values    []RelationValue
}

// NewDomainObject creates an object with empty property and relation maps
func NewDomainObject(ref valueobjects.EntityRef, kind string) *DomainObject {
	return &DomainObject{
		Ref:        ref,
		Kind:       kind,
		Properties: make(map[string]interface{}),
		Relations:  make(map[string]Relation),
	}
}

// WithProperty sets a property and returns the object for chaining
func (o *DomainObject) WithProperty(name string, value interface{}) *DomainObject {
	if o.Properties == nil {
		o.Properties = make(map[string]interface{})
	}
	o.Properties[name] = value
	return o
}

// Relate appends values to a relation field, creating the field on first use.
// Direction defaults to outwards.
func (o *DomainObject) Relate(field string, edgeType valueobjects.EntityRef, values ...RelationValue) *DomainObject {
	return o.RelateDirected(field, edgeType, valueobjects.DirectionOutwards, values...)
}

// RelateDirected is Relate with an explicit direction
func (o *DomainObject) RelateDirected(field string, edgeType valueobjects.EntityRef, dir valueobjects.Direction, values ...RelationValue) *DomainObject {
	if o.Relations == nil {
		o.Relations = make(map[string]Relation)
	}
	rel, ok := o.Relations[field]
	if !ok {
		rel = Relation{EdgeType: edgeType, Direction: dir}
	}
	rel.Values = append(rel.Values, values...)
	o.Relations[field] = rel
	return o
}

// Relation returns the named relation field, zero when undeclared
func (o *DomainObject) Relation(field string) Relation {
	return o.Relations[field]
}

// RelationFields returns relation field names in sorted order
func (o *DomainObject) RelationFields() []string {
	fields := make([]string, 0, len(o.Relations))
	for field := range o.Relations {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// Refs returns the target refs held by the relation
func (r Relation) Refs() []valueobjects.EntityRef {
	refs := make([]valueobjects.EntityRef, 0, len(r.Values))
	for _, v := range r.Values {
		if v.Valid() {
			refs = append(refs, v.Ref())
		}
	}
	return refs
}

// RelationValue holds either a bare EntityRef or a nested DomainObject.
// The zero value holds neither and is rejected wherever it is resolved.
type RelationValue struct {
	ref    *valueobjects.EntityRef
	object *DomainObject
}

// RefValue wraps a bare reference
func RefValue(ref valueobjects.EntityRef) RelationValue {
	return RelationValue{ref: &ref}
}

// ObjectValue wraps a nested object
func ObjectValue(obj *DomainObject) RelationValue {
	return RelationValue{object: obj}
}

// IsRef reports whether the value is a bare reference
func (v RelationValue) IsRef() bool {
	return v.ref != nil && v.object == nil
}

// IsObject reports whether the value is a nested object
func (v RelationValue) IsObject() bool {
	return v.object != nil && v.ref == nil
}

// Valid reports whether the value is exactly one of the two variants and carries an identity
func (v RelationValue) Valid() bool {
	switch {
	case v.IsRef():
		return !v.ref.IsZero()
	case v.IsObject():
		return !v.object.Ref.IsZero()
	}
	return false
}

// Ref returns the target identity for either variant
func (v RelationValue) Ref() valueobjects.EntityRef {
	if v.object != nil {
		return v.object.Ref
	}
	if v.ref != nil {
		return *v.ref
	}
	return valueobjects.EntityRef{}
}

// Object returns the nested object, nil for a bare reference
func (v RelationValue) Object() *DomainObject {
	return v.object
}

// Describe names the variant for error messages
func (v RelationValue) Describe() string {
	switch {
	case v.ref != nil && v.object != nil:
		return "both a ref and an object"
	case v.ref != nil:
		return "a ref without identity"
	case v.object != nil:
		return "an object without identity"
	}
	return "an empty value"
}
