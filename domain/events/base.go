package events

import (
	"time"

	"instancegraph/domain/core/valueobjects"
)

// Event types published on the bus
const (
	TypeInstancesApplied = "instances.applied"
	TypeInstancesDeleted = "instances.deleted"
)

// DomainEvent is the base interface for all domain events
// Events represent something that has happened in the past
type DomainEvent interface {
	GetAggregateID() string
	GetEventType() string
	GetTimestamp() time.Time
	GetVersion() int
}

// BaseEvent provides common event fields
type BaseEvent struct {
	AggregateID string    `json:"aggregate_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	Version     int       `json:"version"`
}

func (e BaseEvent) GetAggregateID() string  { return e.AggregateID }
func (e BaseEvent) GetEventType() string    { return e.EventType }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e BaseEvent) GetVersion() int         { return e.Version }

// InstancesApplied is raised after a batch of upserts reached the store
type InstancesApplied struct {
	BaseEvent
	Nodes   []valueobjects.EntityRef `json:"nodes"`
	Edges   []valueobjects.EntityRef `json:"edges"`
	Skipped []valueobjects.EntityRef `json:"skipped,omitempty"`
	Replace bool                     `json:"replace"`
}

// NewInstancesApplied creates an InstancesApplied event keyed by namespace
func NewInstancesApplied(namespace string, nodes, edges, skipped []valueobjects.EntityRef, replace bool, timestamp time.Time) InstancesApplied {
	return InstancesApplied{
		BaseEvent: BaseEvent{
			AggregateID: namespace,
			EventType:   TypeInstancesApplied,
			Timestamp:   timestamp,
			Version:     1,
		},
		Nodes:   nodes,
		Edges:   edges,
		Skipped: skipped,
		Replace: replace,
	}
}

// InstancesDeleted is raised after refs were removed from the store
type InstancesDeleted struct {
	BaseEvent
	Refs []valueobjects.EntityRef `json:"refs"`
}

// NewInstancesDeleted creates an InstancesDeleted event keyed by namespace
func NewInstancesDeleted(namespace string, refs []valueobjects.EntityRef, timestamp time.Time) InstancesDeleted {
	return InstancesDeleted{
		BaseEvent: BaseEvent{
			AggregateID: namespace,
			EventType:   TypeInstancesDeleted,
			Timestamp:   timestamp,
			Version:     1,
		},
		Refs: refs,
	}
}
