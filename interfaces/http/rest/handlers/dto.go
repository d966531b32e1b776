package handlers

import (
	"instancegraph/application/ports"
	"instancegraph/application/services"
	"instancegraph/application/traversal"
	"instancegraph/domain/core/entities"
	"instancegraph/domain/core/valueobjects"
	"instancegraph/domain/filters"
	pkgerrors "instancegraph/pkg/errors"
)

// ApplyRequest is the body of POST /instances
type ApplyRequest struct {
	Kind           string                   `json:"kind" validate:"required"`
	Items          []*entities.DomainObject `json:"items" validate:"required,min=1,max=500"`
	Replace        bool                     `json:"replace,omitempty"`
	SkipOnConflict bool                     `json:"skipOnConflict,omitempty"`
}

// DeleteRequest is the body of POST /instances/delete
type DeleteRequest struct {
	Kind        string   `json:"kind" validate:"required"`
	ExternalIDs []string `json:"externalIds" validate:"required,min=1,max=500,dive,required"`
}

// RetrieveRequest is the body of POST /instances/retrieve
type RetrieveRequest struct {
	Kind        string                `json:"kind" validate:"required"`
	ExternalIDs []string              `json:"externalIds" validate:"required,min=1,max=500,dive,required"`
	Depth       valueobjects.Fidelity `json:"depth,omitempty"`
}

// ListRequest is the body of POST /instances/list. Cursors returned by a
// previous call resume the listing.
type ListRequest struct {
	Kind       string                `json:"kind" validate:"required"`
	Filter     filters.Filter        `json:"filter"`
	Sort       []filters.Sort        `json:"sort,omitempty" validate:"dive"`
	Properties []string              `json:"properties,omitempty"`
	Limit      int                   `json:"limit,omitempty" validate:"min=0,max=1000"`
	Depth      valueobjects.Fidelity `json:"depth,omitempty"`
	Cursors    traversal.CursorMap   `json:"cursors,omitempty"`
}

// StepRequest declares one traversal step of a query
type StepRequest struct {
	Name       string                  `json:"name" validate:"required"`
	From       string                  `json:"from,omitempty"`
	Kind       string                  `json:"kind" validate:"required,oneof=node edge"`
	NodeKind   string                  `json:"nodeKind,omitempty"`
	EdgeType   *valueobjects.EntityRef `json:"edgeType,omitempty"`
	Direction  valueobjects.Direction  `json:"direction,omitempty"`
	Field      string                  `json:"field,omitempty"`
	Properties []string                `json:"properties,omitempty"`
	Filter     filters.Filter          `json:"filter"`
	Sort       []filters.Sort          `json:"sort,omitempty" validate:"dive"`
	Limit      int                     `json:"limit,omitempty" validate:"min=0,max=1000"`
	Fidelity   valueobjects.Fidelity   `json:"fidelity,omitempty"`
}

// QueryRequest is the body of POST /query
type QueryRequest struct {
	Steps    []StepRequest         `json:"steps" validate:"required,min=1,dive"`
	Fidelity valueobjects.Fidelity `json:"fidelity,omitempty"`
	Cursors  traversal.CursorMap   `json:"cursors,omitempty"`
}

// Step converts the request into a traversal step
func (s StepRequest) Step() traversal.Step {
	step := traversal.Step{
		Name:       s.Name,
		From:       s.From,
		Kind:       traversal.StepKindNode,
		NodeKind:   s.NodeKind,
		Direction:  s.Direction,
		Field:      s.Field,
		Properties: s.Properties,
		Filter:     s.Filter.Expr,
		Sort:       s.Sort,
		Limit:      s.Limit,
		Fidelity:   s.Fidelity,
	}
	if s.Kind == "edge" {
		step.Kind = traversal.StepKindEdge
	}
	if s.EdgeType != nil {
		step.EdgeType = *s.EdgeType
	}
	return step
}

// Builder assembles the declared steps in order
func (q QueryRequest) Builder() (*traversal.Builder, error) {
	b := traversal.NewBuilder()
	for _, s := range q.Steps {
		var err error
		if b, err = b.Append(s.Step()); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// VersionResponse is the version one written item ended at
type VersionResponse struct {
	valueobjects.EntityRef
	Version int64 `json:"version"`
}

// ApplyResponse reports the outcome of an apply batch
type ApplyResponse struct {
	Nodes     []VersionResponse        `json:"nodes"`
	Edges     []VersionResponse        `json:"edges"`
	Skipped   []valueobjects.EntityRef `json:"skipped,omitempty"`
	Conflicts []valueobjects.EntityRef `json:"conflicts,omitempty"`
}

// DeleteResponse reports deleted and unknown refs
type DeleteResponse struct {
	Deleted  []valueobjects.EntityRef `json:"deleted"`
	NotFound []valueobjects.EntityRef `json:"notFound,omitempty"`
}

// PageResponse is one batch of a read. When Done is false, Cursors fetch the
// next batch.
type PageResponse struct {
	Items   []*entities.DomainObject `json:"items"`
	Cursors traversal.CursorMap      `json:"cursors,omitempty"`
	Done    bool                     `json:"done"`
}

// RelationResponse describes one declared relation of a kind
type RelationResponse struct {
	Field      string                 `json:"field"`
	EdgeType   valueobjects.EntityRef `json:"edgeType"`
	Direction  valueobjects.Direction `json:"direction"`
	TargetKind string                 `json:"targetKind,omitempty"`
}

// KindResponse describes one registered kind
type KindResponse struct {
	Kind      string             `json:"kind"`
	Namespace string             `json:"namespace"`
	Relations []RelationResponse `json:"relations"`
}

func newApplyResponse(result *ports.ApplyResult) ApplyResponse {
	resp := ApplyResponse{
		Nodes: versions(result.Nodes),
		Edges: versions(result.Edges),
	}
	resp.Skipped = result.Skipped
	resp.Conflicts = result.Conflicts
	return resp
}

func versions(items []ports.ItemVersion) []VersionResponse {
	out := make([]VersionResponse, 0, len(items))
	for _, item := range items {
		out = append(out, VersionResponse{EntityRef: item.Ref, Version: item.Version})
	}
	return out
}

func newPageResponse(batch *traversal.Batch) PageResponse {
	items := batch.Objects
	if items == nil {
		items = []*entities.DomainObject{}
	}
	return PageResponse{
		Items:   items,
		Cursors: batch.Cursors,
		Done:    batch.Cursors.Exhausted(),
	}
}

// checkItems fills in the kind of top level items and rejects items of
// another kind or namespace than the descriptor's
func checkItems(desc services.Descriptor, items []*entities.DomainObject) error {
	for i, item := range items {
		if item == nil {
			return pkgerrors.NewValidationError("items must not contain null").
				WithDetails(map[string]interface{}{"index": i})
		}
		if item.Kind == "" {
			item.Kind = desc.Kind
		}
		if item.Kind != desc.Kind {
			return pkgerrors.NewValidationError("item kind does not match the request kind").
				WithDetails(map[string]interface{}{"index": i, "kind": item.Kind, "expected": desc.Kind})
		}
		if item.Ref.Namespace != desc.Namespace {
			return pkgerrors.NewValidationError("item namespace does not match the kind's namespace").
				WithDetails(map[string]interface{}{"index": i, "namespace": item.Ref.Namespace, "expected": desc.Namespace})
		}
	}
	return nil
}

// withApplyResult attaches the partial outcome of an apply to its error
func withApplyResult(err error, result *ports.ApplyResult) error {
	appErr := pkgerrors.GetAppError(err)
	if appErr == nil {
		return err
	}
	details := make(map[string]interface{}, len(appErr.Details)+1)
	for k, v := range appErr.Details {
		details[k] = v
	}
	details["result"] = newApplyResponse(result)

	withResult := *appErr
	withResult.Details = details
	return &withResult
}
