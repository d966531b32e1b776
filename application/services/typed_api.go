package services

import (
	"context"
	"fmt"

	"instancegraph/application/ports"
	"instancegraph/application/traversal"
	"instancegraph/domain/core/entities"
	"instancegraph/domain/core/valueobjects"
)

// Codec converts between a caller's struct and its generic object form
type Codec[T any] interface {
	Encode(item T) (*entities.DomainObject, error)
	Decode(obj *entities.DomainObject) (T, error)
}

// CodecFuncs adapts a pair of functions to Codec
type CodecFuncs[T any] struct {
	EncodeFunc func(T) (*entities.DomainObject, error)
	DecodeFunc func(*entities.DomainObject) (T, error)
}

// Encode implements Codec
func (c CodecFuncs[T]) Encode(item T) (*entities.DomainObject, error) {
	return c.EncodeFunc(item)
}

// Decode implements Codec
func (c CodecFuncs[T]) Decode(obj *entities.DomainObject) (T, error) {
	return c.DecodeFunc(obj)
}

// TypedAPI is the stable typed surface of one entity type. It replaces a
// hand-written repository per type with one codec per type.
type TypedAPI[T any] struct {
	service *InstanceService
	codec   Codec[T]
}

// NewTypedAPI creates a typed API over service
func NewTypedAPI[T any](service *InstanceService, codec Codec[T]) *TypedAPI[T] {
	return &TypedAPI[T]{service: service, codec: codec}
}

// Service returns the untyped service underneath
func (a *TypedAPI[T]) Service() *InstanceService {
	return a.service
}

// Apply encodes and upserts items
func (a *TypedAPI[T]) Apply(ctx context.Context, items []T, opts ApplyOptions) (*ports.ApplyResult, error) {
	objs := make([]*entities.DomainObject, 0, len(items))
	for i, item := range items {
		obj, err := a.codec.Encode(item)
		if err != nil {
			return nil, fmt.Errorf("failed to encode item %d: %w", i, err)
		}
		objs = append(objs, obj)
	}
	return a.service.Apply(ctx, objs, opts)
}

// Delete removes instances by external id
func (a *TypedAPI[T]) Delete(ctx context.Context, externalIDs []string) (*ports.DeleteResult, error) {
	refs := make([]valueobjects.EntityRef, 0, len(externalIDs))
	for _, id := range externalIDs {
		ref, err := valueobjects.NewEntityRef(a.service.Descriptor().Namespace, id)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return a.service.Delete(ctx, refs)
}

// Retrieve reads instances by external id
func (a *TypedAPI[T]) Retrieve(ctx context.Context, externalIDs []string, depth valueobjects.Fidelity) ([]T, error) {
	objs, err := a.service.Retrieve(ctx, externalIDs, depth)
	if err != nil {
		return nil, err
	}
	return a.decode(objs)
}

// List reads the first batch matching q and the cursors resuming after it
func (a *TypedAPI[T]) List(ctx context.Context, q ListQuery, depth valueobjects.Fidelity) ([]T, traversal.CursorMap, error) {
	batch, err := a.service.List(ctx, q, depth)
	if err != nil {
		return nil, nil, err
	}
	items, err := a.decode(batch.Objects)
	if err != nil {
		return nil, nil, err
	}
	return items, batch.Cursors, nil
}

// Iterate returns a lazy typed sequence over the instances matching q
func (a *TypedAPI[T]) Iterate(q ListQuery, depth valueobjects.Fidelity, cursors traversal.CursorMap) (*Iterator[T], error) {
	h, err := a.service.Iterate(q, depth, cursors)
	if err != nil {
		return nil, err
	}
	return &Iterator[T]{hydrator: h, decode: a.decode}, nil
}

func (a *TypedAPI[T]) decode(objs []*entities.DomainObject) ([]T, error) {
	items := make([]T, 0, len(objs))
	for _, obj := range objs {
		item, err := a.codec.Decode(obj)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", obj.Ref, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// Iterator is the typed form of a Hydrator
type Iterator[T any] struct {
	hydrator *traversal.Hydrator
	decode   func([]*entities.DomainObject) ([]T, error)
}

// Next returns the next batch, or nil once the sequence is exhausted
func (it *Iterator[T]) Next(ctx context.Context) ([]T, error) {
	batch, err := it.hydrator.Next(ctx)
	if err != nil || batch == nil {
		return nil, err
	}
	return it.decode(batch.Objects)
}

// Done reports whether the sequence is exhausted
func (it *Iterator[T]) Done() bool {
	return it.hydrator.Done()
}

// Cursors returns the cursor map resuming after the last returned batch
func (it *Iterator[T]) Cursors() traversal.CursorMap {
	return it.hydrator.Cursors()
}
