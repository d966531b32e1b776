package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"instancegraph/application/services"
	"instancegraph/application/traversal"
	"instancegraph/domain/core/entities"
	"instancegraph/domain/core/valueobjects"
	"instancegraph/pkg/common"
	pkgerrors "instancegraph/pkg/errors"
	"instancegraph/pkg/utils"
)

// InstanceHandler serves the per-kind instance endpoints
type InstanceHandler struct {
	registry *services.Registry
	errors   *pkgerrors.ErrorHandler
	logger   *zap.Logger
}

// NewInstanceHandler creates a new instance handler
func NewInstanceHandler(registry *services.Registry, errors *pkgerrors.ErrorHandler, logger *zap.Logger) *InstanceHandler {
	return &InstanceHandler{
		registry: registry,
		errors:   errors,
		logger:   logger,
	}
}

// Apply handles POST /instances
func (h *InstanceHandler) Apply(w http.ResponseWriter, r *http.Request) {
	var req ApplyRequest
	svc, ok := h.decode(w, r, &req, func() string { return req.Kind })
	if !ok {
		return
	}
	if err := checkItems(svc.Descriptor(), req.Items); err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	result, err := svc.Apply(r.Context(), req.Items, services.ApplyOptions{
		Replace:        req.Replace,
		SkipOnConflict: req.SkipOnConflict,
	})
	if err != nil {
		// The items that did not conflict were written; report them so the
		// client can reconcile
		if result != nil && pkgerrors.IsVersionConflict(err) {
			err = withApplyResult(err, result)
		}
		h.errors.Handle(w, r, err)
		return
	}

	common.RespondWithMeta(w, r, http.StatusOK, newApplyResponse(result))
}

// Delete handles POST /instances/delete
func (h *InstanceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req DeleteRequest
	svc, ok := h.decode(w, r, &req, func() string { return req.Kind })
	if !ok {
		return
	}

	namespace := svc.Descriptor().Namespace
	refs := make([]valueobjects.EntityRef, 0, len(req.ExternalIDs))
	for _, id := range req.ExternalIDs {
		refs = append(refs, valueobjects.EntityRef{Namespace: namespace, ExternalID: id})
	}

	result, err := svc.Delete(r.Context(), refs)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	deleted := result.Deleted
	if deleted == nil {
		deleted = []valueobjects.EntityRef{}
	}
	common.RespondWithMeta(w, r, http.StatusOK, DeleteResponse{Deleted: deleted, NotFound: result.NotFound})
}

// Retrieve handles POST /instances/retrieve
func (h *InstanceHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req RetrieveRequest
	svc, ok := h.decode(w, r, &req, func() string { return req.Kind })
	if !ok {
		return
	}

	objs, err := svc.Retrieve(r.Context(), req.ExternalIDs, req.Depth)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	if objs == nil {
		objs = []*entities.DomainObject{}
	}
	common.RespondWithMeta(w, r, http.StatusOK, PageResponse{Items: objs, Done: true})
}

// List handles POST /instances/list. Each call returns one batch.
func (h *InstanceHandler) List(w http.ResponseWriter, r *http.Request) {
	var req ListRequest
	svc, ok := h.decode(w, r, &req, func() string { return req.Kind })
	if !ok {
		return
	}

	it, err := svc.Iterate(services.ListQuery{
		Filter:     req.Filter.Expr,
		Sort:       req.Sort,
		Properties: req.Properties,
		Limit:      req.Limit,
	}, req.Depth, req.Cursors)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	batch, err := it.Next(r.Context())
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	if batch == nil {
		batch = &traversal.Batch{Cursors: it.Cursors()}
	}
	common.RespondWithMeta(w, r, http.StatusOK, newPageResponse(batch))
}

// Kinds handles GET /kinds
func (h *InstanceHandler) Kinds(w http.ResponseWriter, r *http.Request) {
	kinds := make([]KindResponse, 0)
	for _, kind := range h.registry.Kinds() {
		svc, err := h.registry.Service(kind)
		if err != nil {
			continue
		}
		desc := svc.Descriptor()
		resp := KindResponse{Kind: desc.Kind, Namespace: desc.Namespace, Relations: make([]RelationResponse, 0, len(desc.Relations))}
		for _, rel := range desc.Relations {
			resp.Relations = append(resp.Relations, RelationResponse{
				Field:      rel.Field,
				EdgeType:   rel.EdgeType,
				Direction:  rel.Direction,
				TargetKind: rel.TargetKind,
			})
		}
		kinds = append(kinds, resp)
	}
	common.RespondWithMeta(w, r, http.StatusOK, kinds)
}

// decode parses and validates the body into req, then resolves the service
// of the kind it names. On failure the error response is already written.
func (h *InstanceHandler) decode(w http.ResponseWriter, r *http.Request, req interface{}, kind func() string) (*services.InstanceService, bool) {
	if err := common.ParseJSONBody(w, r, req, common.DefaultMaxBodyBytes); err != nil {
		h.errors.Handle(w, r, err)
		return nil, false
	}
	if err := utils.ValidateStruct(req); err != nil {
		h.errors.Handle(w, r, err)
		return nil, false
	}
	svc, err := h.registry.Service(kind())
	if err != nil {
		h.errors.Handle(w, r, err)
		return nil, false
	}
	return svc, true
}
