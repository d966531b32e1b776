package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"instancegraph/application/services"
	"instancegraph/application/traversal"
	"instancegraph/domain/core/valueobjects"
	"instancegraph/pkg/common"
	pkgerrors "instancegraph/pkg/errors"
	"instancegraph/pkg/utils"
)

// QueryHandler runs caller-declared traversals
type QueryHandler struct {
	registry *services.Registry
	errors   *pkgerrors.ErrorHandler
	logger   *zap.Logger
}

// NewQueryHandler creates a new query handler
func NewQueryHandler(registry *services.Registry, errors *pkgerrors.ErrorHandler, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{
		registry: registry,
		errors:   errors,
		logger:   logger,
	}
}

// Query handles POST /query. Each call executes one batch; the returned
// cursors resume the traversal.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := common.ParseJSONBody(w, r, &req, common.DefaultMaxBodyBytes); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	b, err := req.Builder()
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	fidelity := req.Fidelity.OrDefault(valueobjects.FidelityIdentifier)
	hydrator := traversal.NewHydrator(h.registry.Executor(), b, fidelity, req.Cursors)
	batch, err := hydrator.Next(r.Context())
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	if batch == nil {
		batch = &traversal.Batch{Cursors: hydrator.Cursors()}
	}

	h.logger.Debug("Query batch served",
		zap.Int("steps", b.Len()),
		zap.Int("objects", len(batch.Objects)),
		zap.Bool("done", batch.Cursors.Exhausted()),
	)
	common.RespondWithMeta(w, r, http.StatusOK, newPageResponse(batch))
}
