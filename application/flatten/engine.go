// Package flatten turns caller-built object trees into deduplicated node and
// edge upsert batches.
package flatten

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"instancegraph/application/ports"
	"instancegraph/domain/core/entities"
	"instancegraph/domain/core/valueobjects"
	pkgerrors "instancegraph/pkg/errors"
	"instancegraph/pkg/observability"
)

// EdgeRefFunc derives an edge identity from its (type, start, end) triple
type EdgeRefFunc func(edgeType, start, end valueobjects.EntityRef) valueobjects.EntityRef

// Batch is the output of one flatten call, in pre-order emission order
type Batch struct {
	Nodes []ports.NodeUpsert
	Edges []ports.EdgeUpsert
}

// NodeRefs returns the refs of the emitted nodes
func (b *Batch) NodeRefs() []valueobjects.EntityRef {
	refs := make([]valueobjects.EntityRef, len(b.Nodes))
	for i, n := range b.Nodes {
		refs[i] = n.Ref
	}
	return refs
}

// EdgeRefs returns the refs of the emitted edges
func (b *Batch) EdgeRefs() []valueobjects.EntityRef {
	refs := make([]valueobjects.EntityRef, len(b.Edges))
	for i, e := range b.Edges {
		refs[i] = e.Ref
	}
	return refs
}

// Engine flattens object trees. It holds no per-call state and is safe for concurrent use.
type Engine struct {
	edgeRef EdgeRefFunc
	metrics *observability.Collector
	tracer  trace.Tracer
	logger  *zap.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithEdgeRefFunc overrides the default edge identity derivation
func WithEdgeRefFunc(fn EdgeRefFunc) Option {
	return func(e *Engine) {
		e.edgeRef = fn
	}
}

// WithMetrics records emitted counts
func WithMetrics(metrics *observability.Collector) Option {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// NewEngine creates a flatten engine
func NewEngine(logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		edgeRef: valueobjects.EdgeRef,
		tracer:  otel.Tracer("instancegraph/flatten"),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// walk is the state of one flatten call
type walk struct {
	engine       *Engine
	visited      map[valueobjects.EntityRef]struct{}
	visitedEdges map[valueobjects.EntityRef]struct{}
	batch        *Batch
}

// Flatten walks each root depth-first and emits every reachable object once
// and every relation once. Relation fields are visited in sorted name order.
func (e *Engine) Flatten(ctx context.Context, roots []*entities.DomainObject) (*Batch, error) {
	_, span := e.tracer.Start(ctx, "flatten.Flatten", trace.WithAttributes(attribute.Int("roots", len(roots))))
	defer span.End()

	w := &walk{
		engine:       e,
		visited:      make(map[valueobjects.EntityRef]struct{}),
		visitedEdges: make(map[valueobjects.EntityRef]struct{}),
		batch:        &Batch{},
	}

	for i, root := range roots {
		if root == nil || root.Ref.IsZero() {
			err := pkgerrors.NewTypeMismatchError("roots", "nil or unidentified root object").
				WithDetails(map[string]interface{}{"index": i})
			span.RecordError(err)
			return nil, err
		}
		if err := w.visit(root); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	span.SetAttributes(
		attribute.Int("nodes", len(w.batch.Nodes)),
		attribute.Int("edges", len(w.batch.Edges)),
	)
	e.metrics.RecordFlatten(len(w.batch.Nodes), len(w.batch.Edges))
	e.logger.Debug("Flattened object tree",
		zap.Int("roots", len(roots)),
		zap.Int("nodes", len(w.batch.Nodes)),
		zap.Int("edges", len(w.batch.Edges)))

	return w.batch, nil
}

func (w *walk) visit(obj *entities.DomainObject) error {
	if _, seen := w.visited[obj.Ref]; seen {
		return nil
	}
	w.visited[obj.Ref] = struct{}{}

	w.batch.Nodes = append(w.batch.Nodes, ports.NodeUpsert{
		Ref:             obj.Ref,
		Kind:            obj.Kind,
		Properties:      obj.Properties,
		ExistingVersion: obj.ExistingVersion,
	})

	for _, field := range obj.RelationFields() {
		rel := obj.Relations[field]
		for _, value := range rel.Values {
			if !value.Valid() {
				return pkgerrors.NewTypeMismatchError(field, value.Describe()).
					WithDetails(map[string]interface{}{"object": obj.Ref.String()})
			}

			w.emitEdge(obj.Ref, rel, value.Ref())

			if value.IsObject() {
				if err := w.visit(value.Object()); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (w *walk) emitEdge(owner valueobjects.EntityRef, rel entities.Relation, target valueobjects.EntityRef) {
	edge := entities.NewDomainEdge(owner, rel, target)
	edge.Ref = w.engine.edgeRef(edge.Type, edge.Start, edge.End)

	if _, seen := w.visitedEdges[edge.Ref]; seen {
		return
	}
	w.visitedEdges[edge.Ref] = struct{}{}
	w.batch.Edges = append(w.batch.Edges, ports.EdgeUpsert{DomainEdge: edge})
}
