package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"instancegraph/application/flatten"
	"instancegraph/application/ports"
	"instancegraph/application/traversal"
	"instancegraph/domain/core/entities"
	"instancegraph/domain/core/valueobjects"
	"instancegraph/domain/events"
	"instancegraph/domain/filters"
	pkgerrors "instancegraph/pkg/errors"
)

// Descriptor declares one entity type: the node kind it is stored as, the
// namespace its external ids live in and the relations a read may resolve
type Descriptor struct {
	Kind      string
	Namespace string
	Relations []traversal.RelationSpec
}

// ApplyOptions controls how an apply batch treats existing items
type ApplyOptions struct {
	Replace        bool
	SkipOnConflict bool
}

// ListQuery restricts and orders the root step of a read
type ListQuery struct {
	Filter     filters.Expr
	Sort       []filters.Sort
	Properties []string
	Limit      int
}

// InstanceService reads and writes the instances of one entity type
type InstanceService struct {
	descriptor Descriptor
	flattener  *flatten.Engine
	store      ports.Store
	executor   *traversal.Executor
	publisher  ports.EventPublisher
	now        func() time.Time
	logger     *zap.Logger
}

// NewInstanceService creates a service for descriptor. publisher may be nil,
// in which case no events are raised.
func NewInstanceService(
	descriptor Descriptor,
	flattener *flatten.Engine,
	store ports.Store,
	executor *traversal.Executor,
	publisher ports.EventPublisher,
	logger *zap.Logger,
) *InstanceService {
	return &InstanceService{
		descriptor: descriptor,
		flattener:  flattener,
		store:      store,
		executor:   executor,
		publisher:  publisher,
		now:        time.Now,
		logger:     logger.With(zap.String("kind", descriptor.Kind)),
	}
}

// Descriptor returns the entity type this service serves
func (s *InstanceService) Descriptor() Descriptor {
	return s.descriptor
}

// Apply flattens objs and upserts the result in one store call. It is never
// retried: a retried apply could double-apply a partially written batch.
// On a version conflict the result of the items that did go through is
// returned together with the error.
func (s *InstanceService) Apply(ctx context.Context, objs []*entities.DomainObject, opts ApplyOptions) (*ports.ApplyResult, error) {
	if len(objs) == 0 {
		return &ports.ApplyResult{}, nil
	}

	batch, err := s.flattener.Flatten(ctx, objs)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Applying instances",
		zap.Int("nodes", len(batch.Nodes)),
		zap.Int("edges", len(batch.Edges)),
		zap.Bool("replace", opts.Replace),
	)

	result, err := s.store.Apply(ctx, ports.ApplyRequest{
		Nodes:          batch.Nodes,
		Edges:          batch.Edges,
		Replace:        opts.Replace,
		SkipOnConflict: opts.SkipOnConflict,
	})
	if result != nil {
		s.publish(ctx, events.NewInstancesApplied(
			s.descriptor.Namespace,
			versionRefs(result.Nodes),
			versionRefs(result.Edges),
			result.Skipped,
			opts.Replace,
			s.now(),
		), len(result.Nodes)+len(result.Edges))
	}
	if err != nil {
		if pkgerrors.IsVersionConflict(err) {
			return result, err
		}
		return nil, fmt.Errorf("failed to apply instances: %w", err)
	}
	return result, nil
}

// Delete removes nodes or edges by ref
func (s *InstanceService) Delete(ctx context.Context, refs []valueobjects.EntityRef) (*ports.DeleteResult, error) {
	if len(refs) == 0 {
		return &ports.DeleteResult{}, nil
	}
	for _, ref := range refs {
		if err := ref.Validate(); err != nil {
			return nil, pkgerrors.NewValidationError(err.Error())
		}
	}

	result, err := s.store.Delete(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("failed to delete instances: %w", err)
	}

	s.publish(ctx, events.NewInstancesDeleted(s.descriptor.Namespace, result.Deleted, s.now()), len(result.Deleted))
	s.logger.Info("Instances deleted",
		zap.Int("deleted", len(result.Deleted)),
		zap.Int("notFound", len(result.NotFound)),
	)
	return result, nil
}

// Retrieve reads the instances with the given external ids. Unknown ids are
// absent from the result rather than an error.
func (s *InstanceService) Retrieve(ctx context.Context, externalIDs []string, depth valueobjects.Fidelity) ([]*entities.DomainObject, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(externalIDs))
	for _, id := range externalIDs {
		ref, err := valueobjects.NewEntityRef(s.descriptor.Namespace, id)
		if err != nil {
			return nil, pkgerrors.NewValidationError(err.Error())
		}
		keys = append(keys, ref.Key())
	}

	b, err := s.Builder(ListQuery{Filter: filters.InStrings(filters.PropRef, keys)}, depth)
	if err != nil {
		return nil, err
	}
	return s.hydrator(b, depth, nil).Collect(ctx)
}

// List reads the first batch of instances matching q. The returned cursors
// resume the listing through Iterate or Query.
func (s *InstanceService) List(ctx context.Context, q ListQuery, depth valueobjects.Fidelity) (*traversal.Batch, error) {
	b, err := s.Builder(q, depth)
	if err != nil {
		return nil, err
	}
	return s.Query(ctx, b, depth, nil)
}

// Iterate returns a lazy sequence over the instances matching q, resuming
// from cursors when they are not nil
func (s *InstanceService) Iterate(q ListQuery, depth valueobjects.Fidelity, cursors traversal.CursorMap) (*traversal.Hydrator, error) {
	b, err := s.Builder(q, depth)
	if err != nil {
		return nil, err
	}
	return s.hydrator(b, depth, cursors), nil
}

// Query executes one batch of an arbitrary traversal. An exhausted cursor map
// yields an empty batch.
func (s *InstanceService) Query(ctx context.Context, b *traversal.Builder, fidelity valueobjects.Fidelity, cursors traversal.CursorMap) (*traversal.Batch, error) {
	batch, err := s.hydrator(b, fidelity, cursors).Next(ctx)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return &traversal.Batch{Cursors: cursors.Clone()}, nil
	}
	return batch, nil
}

// Builder builds the traversal reading this entity type: a root step over
// Kind within Namespace, plus every declared relation at depth
func (s *InstanceService) Builder(q ListQuery, depth valueobjects.Fidelity) (*traversal.Builder, error) {
	depth = depth.OrDefault(valueobjects.FidelityIdentifier)

	b, err := traversal.NewBuilder().Append(traversal.Step{
		Name:     traversal.RootStepName,
		Kind:     traversal.StepKindNode,
		NodeKind: s.descriptor.Kind,
		Filter: filters.AndOf(
			filters.Equals{Property: filters.PropNamespace, Value: s.descriptor.Namespace},
			q.Filter,
		),
		Sort:       q.Sort,
		Properties: q.Properties,
		Limit:      q.Limit,
	})
	if err != nil {
		return nil, err
	}
	for _, rel := range s.descriptor.Relations {
		if b, err = b.AppendRelation(traversal.RootStepName, rel, depth); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (s *InstanceService) hydrator(b *traversal.Builder, fidelity valueobjects.Fidelity, cursors traversal.CursorMap) *traversal.Hydrator {
	return traversal.NewHydrator(s.executor, b, fidelity, cursors)
}

// publish raises an event after a write. A failed publish is logged and
// never fails the write that already reached the store.
func (s *InstanceService) publish(ctx context.Context, event events.DomainEvent, items int) {
	if s.publisher == nil || items == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish event",
			zap.String("eventType", event.GetEventType()),
			zap.Error(err),
		)
	}
}

func versionRefs(items []ports.ItemVersion) []valueobjects.EntityRef {
	refs := make([]valueobjects.EntityRef, len(items))
	for i, item := range items {
		refs[i] = item.Ref
	}
	return refs
}
