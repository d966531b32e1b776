package services

import (
	"context"

	"instancegraph/application/ports"
	"instancegraph/domain/core/entities"
	"instancegraph/domain/core/valueobjects"
)

// LegacyAPI keeps the boolean-flag call shapes of the first API version
// alive on top of InstanceService. New code should call the service directly.
type LegacyAPI struct {
	service *InstanceService
}

// NewLegacyAPI wraps service
func NewLegacyAPI(service *InstanceService) *LegacyAPI {
	return &LegacyAPI{service: service}
}

// RetrieveWithEdges reads instances by external id, resolving relations to
// identifiers when retrieveEdges is set.
//
// Deprecated: use InstanceService.Retrieve with a Fidelity.
func (a *LegacyAPI) RetrieveWithEdges(ctx context.Context, externalIDs []string, retrieveEdges bool) ([]*entities.DomainObject, error) {
	return a.service.Retrieve(ctx, externalIDs, legacyDepth(retrieveEdges))
}

// ListWithLimit reads up to limit instances.
//
// Deprecated: use InstanceService.List with a ListQuery.
func (a *LegacyAPI) ListWithLimit(ctx context.Context, limit int, retrieveEdges bool) ([]*entities.DomainObject, error) {
	batch, err := a.service.List(ctx, ListQuery{Limit: limit}, legacyDepth(retrieveEdges))
	if err != nil {
		return nil, err
	}
	return batch.Objects, nil
}

// Upsert writes objs, replacing stored properties when replace is set.
//
// Deprecated: use InstanceService.Apply with ApplyOptions.
func (a *LegacyAPI) Upsert(ctx context.Context, objs []*entities.DomainObject, replace bool) (*ports.ApplyResult, error) {
	return a.service.Apply(ctx, objs, ApplyOptions{Replace: replace})
}

// DeleteByExternalIDs removes instances of the service's namespace.
//
// Deprecated: use InstanceService.Delete with EntityRefs.
func (a *LegacyAPI) DeleteByExternalIDs(ctx context.Context, externalIDs []string) (*ports.DeleteResult, error) {
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

func legacyDepth(retrieveEdges bool) valueobjects.Fidelity {
	if retrieveEdges {
		return valueobjects.FidelityIdentifier
	}
	return valueobjects.FidelitySkip
}
