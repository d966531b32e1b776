package valueobjects

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// KeySeparator joins the namespace and external id in the store key form.
const KeySeparator = "#"

// edgeIDSpace seeds the name-based UUIDs derived for edges.
var edgeIDSpace = uuid.MustParse("6f1b7c2e-93a4-4e55-9d0b-1c8f2a7e4d10")

// EntityRef is the (namespace, external id) identity of a node or an edge.
// Value objects are immutable and comparable, so EntityRef can key a map.
type EntityRef struct {
	Namespace  string `json:"namespace" validate:"required"`
	ExternalID string `json:"externalId" validate:"required"`
}

// NewEntityRef creates an EntityRef after validating both parts
func NewEntityRef(namespace, externalID string) (EntityRef, error) {
	if namespace == "" {
		return EntityRef{}, errors.New("namespace cannot be empty")
	}
	if externalID == "" {
		return EntityRef{}, errors.New("external id cannot be empty")
	}
	if strings.Contains(namespace, KeySeparator) {
		return EntityRef{}, fmt.Errorf("namespace cannot contain %q", KeySeparator)
	}
	return EntityRef{Namespace: namespace, ExternalID: externalID}, nil
}

// MustEntityRef is like NewEntityRef but panics on invalid input.
// Intended for constants and tests.
func MustEntityRef(namespace, externalID string) EntityRef {
	ref, err := NewEntityRef(namespace, externalID)
	if err != nil {
		panic(err)
	}
	return ref
}

// ParseKey parses the "namespace#externalId" key form
func ParseKey(key string) (EntityRef, error) {
	ns, id, ok := strings.Cut(key, KeySeparator)
	if !ok {
		return EntityRef{}, fmt.Errorf("invalid entity key %q", key)
	}
	return NewEntityRef(ns, id)
}

// Key returns the store key form "namespace#externalId"
func (r EntityRef) Key() string {
	return r.Namespace + KeySeparator + r.ExternalID
}

// String returns a readable representation
func (r EntityRef) String() string {
	return r.Namespace + ":" + r.ExternalID
}

// Equals checks if two refs identify the same entity
func (r EntityRef) Equals(other EntityRef) bool {
	return r == other
}

// IsZero checks if the ref is the zero value
func (r EntityRef) IsZero() bool {
	return r.Namespace == "" && r.ExternalID == ""
}

// Validate reports whether both parts are present
func (r EntityRef) Validate() error {
	_, err := NewEntityRef(r.Namespace, r.ExternalID)
	return err
}

// EdgeRef derives the identity of the edge (start)-[edgeType]->(end).
// The result depends only on the triple, so every path that reaches the same
// relation produces the same ref.
func EdgeRef(edgeType, start, end EntityRef) EntityRef {
	name := strings.Join([]string{edgeType.Key(), start.Key(), end.Key()}, "|")
	return EntityRef{
		Namespace:  start.Namespace,
		ExternalID: uuid.NewSHA1(edgeIDSpace, []byte(name)).String(),
	}
}
