package ports

import (
	"context"
	"time"

	"instancegraph/domain/core/entities"
	"instancegraph/domain/core/valueobjects"
	"instancegraph/domain/events"
	"instancegraph/domain/filters"
)

// ItemKind selects which half of the store a list call reads
type ItemKind string

const (
	ItemKindNode ItemKind = "node"
	ItemKindEdge ItemKind = "edge"
)

// Store is the wire contract to the backing instance store.
// This is a port in hexagonal architecture - the core doesn't know about the implementation
type Store interface {
	// Apply upserts nodes and edges. Items are written independently; a
	// conflicting item fails (or is skipped) without rolling back the others.
	Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error)

	// Delete removes nodes or edges by ref. Unknown refs are reported, not failed.
	Delete(ctx context.Context, refs []valueobjects.EntityRef) (*DeleteResult, error)

	// List returns one page of items matching the filter. A nil NextCursor means exhausted.
	List(ctx context.Context, req ListRequest) (*ListPage, error)
}

// NodeUpsert writes one node's own properties
type NodeUpsert struct {
	Ref        valueobjects.EntityRef
	Kind       string
	Properties map[string]interface{}

	// ExistingVersion fails the item when the stored version is >= this value
	ExistingVersion *int64
}

// EdgeUpsert writes one edge
type EdgeUpsert struct {
	entities.DomainEdge
}

// ApplyRequest is one upsert batch
type ApplyRequest struct {
	Nodes []NodeUpsert
	Edges []EdgeUpsert

	// Replace overwrites stored properties instead of merging into them
	Replace bool

	// SkipOnConflict turns version conflicts into silent skips
	SkipOnConflict bool
}

// ApplyResult reports what happened to each item of a batch
type ApplyResult struct {
	Nodes     []ItemVersion
	Edges     []ItemVersion
	Skipped   []valueobjects.EntityRef
	Conflicts []valueobjects.EntityRef
}

// ItemVersion is the version a written item ended at
type ItemVersion struct {
	Ref     valueobjects.EntityRef
	Version int64
}

// DeleteResult reports deleted and unknown refs
type DeleteResult struct {
	Deleted  []valueobjects.EntityRef
	NotFound []valueobjects.EntityRef
}

// ListRequest is one paginated list-with-filter call
type ListRequest struct {
	Kind       ItemKind
	Filter     filters.Expr
	Sort       []filters.Sort
	Properties []string
	Limit      int
	Cursor     *string
}

// ListPage is one page of raw items
type ListPage struct {
	Items      []RawItem
	NextCursor *string
}

// RawItem is a flat node or edge as returned by the store. Type is the node
// kind; EdgeType, Start and End are only set for edges.
type RawItem struct {
	Kind       ItemKind
	Ref        valueobjects.EntityRef
	Type       string
	EdgeType   valueobjects.EntityRef
	Start      valueobjects.EntityRef
	End        valueobjects.EntityRef
	Properties map[string]interface{}
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// EventPublisher defines the interface for publishing domain events
type EventPublisher interface {
	// Publish sends a single event
	Publish(ctx context.Context, event events.DomainEvent) error

	// PublishBatch sends multiple events
	PublishBatch(ctx context.Context, events []events.DomainEvent) error
}
