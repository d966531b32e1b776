package traversal

import (
	"context"

	"instancegraph/domain/core/entities"
	"instancegraph/domain/core/valueobjects"
)

// Batch is one step of a hydration sequence: the objects rebuilt from one
// executed batch and the cursor map that resumes after it
type Batch struct {
	Objects []*entities.DomainObject
	Cursors CursorMap
}

// Hydrator is a lazy, resumable read: every Next call executes exactly one
// batch. It starts no background work, so a caller stops simply by not
// calling Next again. A Hydrator is not safe for concurrent use.
type Hydrator struct {
	executor *Executor
	unpacker *Unpacker
	builder  *Builder
	fidelity valueobjects.Fidelity
	cursors  CursorMap
	done     bool
}

// NewHydrator creates a hydrator resuming from cursors (nil starts from the beginning)
func NewHydrator(executor *Executor, builder *Builder, fidelity valueobjects.Fidelity, cursors CursorMap) *Hydrator {
	fidelity = fidelity.OrDefault(valueobjects.FidelityIdentifier)
	return &Hydrator{
		executor: executor,
		unpacker: NewUnpacker(),
		builder:  builder.Clamp(fidelity),
		fidelity: fidelity,
		cursors:  cursors.Clone(),
		done:     cursors.Exhausted(),
	}
}

// Done reports whether the sequence is exhausted
func (h *Hydrator) Done() bool {
	return h.done
}

// Cursors returns the cursor map resuming after the last returned batch
func (h *Hydrator) Cursors() CursorMap {
	return h.cursors.Clone()
}

// Next executes and unpacks one batch. It returns nil once the sequence is
// exhausted. A failed call leaves the cursors untouched so it can be retried.
func (h *Hydrator) Next(ctx context.Context) (*Batch, error) {
	if h.done {
		return nil, nil
	}

	result, err := h.executor.Execute(ctx, h.builder, h.cursors)
	if err != nil {
		return nil, err
	}
	objects, err := h.unpacker.Unpack(result.Pages, h.builder, h.fidelity)
	if err != nil {
		return nil, err
	}

	h.cursors = result.Next
	h.done = result.Done()
	return &Batch{Objects: objects, Cursors: result.Next.Clone()}, nil
}

// Collect drains the sequence and merges objects seen in several batches by
// ref, unioning their relation values
func (h *Hydrator) Collect(ctx context.Context) ([]*entities.DomainObject, error) {
	var out []*entities.DomainObject
	byRef := make(map[valueobjects.EntityRef]*entities.DomainObject)

	for !h.done {
		batch, err := h.Next(ctx)
		if err != nil {
			return nil, err
		}
		if batch == nil {
			break
		}
		for _, obj := range batch.Objects {
			existing, ok := byRef[obj.Ref]
			if !ok {
				byRef[obj.Ref] = obj
				out = append(out, obj)
				continue
			}
			merge(existing, obj)
		}
	}
	return out, nil
}

// merge folds the relation values of src into dst, skipping values whose
// target dst already holds. Nested objects are merged the same way.
func merge(dst, src *entities.DomainObject) {
	for _, field := range src.RelationFields() {
		srcRel := src.Relations[field]
		dstRel, ok := dst.Relations[field]
		if !ok {
			dst.Relations[field] = srcRel
			continue
		}

		positions := make(map[valueobjects.EntityRef]int, len(dstRel.Values))
		for i, v := range dstRel.Values {
			positions[v.Ref()] = i
		}
		for _, v := range srcRel.Values {
			i, seen := positions[v.Ref()]
			if !seen {
				positions[v.Ref()] = len(dstRel.Values)
				dstRel.Values = append(dstRel.Values, v)
				continue
			}
			if existing := dstRel.Values[i]; existing.IsObject() && v.IsObject() && existing.Object() != v.Object() {
				merge(existing.Object(), v.Object())
			}
		}
		dst.Relations[field] = dstRel
	}
}
