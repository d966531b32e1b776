package services

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"instancegraph/application/flatten"
	"instancegraph/application/ports"
	"instancegraph/application/traversal"
	"instancegraph/domain/core/valueobjects"
	pkgerrors "instancegraph/pkg/errors"
)

// Registry holds one InstanceService per registered kind, all sharing the
// same store, flattener, executor and publisher
type Registry struct {
	flattener *flatten.Engine
	store     ports.Store
	executor  *traversal.Executor
	publisher ports.EventPublisher
	logger    *zap.Logger

	mu       sync.RWMutex
	services map[string]*InstanceService
}

// NewRegistry creates an empty registry
func NewRegistry(
	flattener *flatten.Engine,
	store ports.Store,
	executor *traversal.Executor,
	publisher ports.EventPublisher,
	logger *zap.Logger,
) *Registry {
	return &Registry{
		flattener: flattener,
		store:     store,
		executor:  executor,
		publisher: publisher,
		logger:    logger,
		services:  make(map[string]*InstanceService),
	}
}

// Register creates the service for descriptor. Relation specs are checked by
// building the Full traversal once.
func (r *Registry) Register(descriptor Descriptor) (*InstanceService, error) {
	if descriptor.Kind == "" || descriptor.Namespace == "" {
		return nil, pkgerrors.NewValidationError("descriptor needs a kind and a namespace")
	}

	svc := NewInstanceService(descriptor, r.flattener, r.store, r.executor, r.publisher, r.logger)
	if _, err := svc.Builder(ListQuery{}, valueobjects.FidelityFull); err != nil {
		return nil, fmt.Errorf("invalid relations for kind %s: %w", descriptor.Kind, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.services[descriptor.Kind]; exists {
		return nil, pkgerrors.NewValidationError(fmt.Sprintf("kind %s is already registered", descriptor.Kind))
	}
	r.services[descriptor.Kind] = svc

	r.logger.Debug("Registered kind",
		zap.String("kind", descriptor.Kind),
		zap.String("namespace", descriptor.Namespace),
		zap.Int("relations", len(descriptor.Relations)),
	)
	return svc, nil
}

// Service returns the service of kind
func (r *Registry) Service(kind string) (*InstanceService, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[kind]
	if !ok {
		return nil, pkgerrors.NewNotFoundError("kind " + kind)
	}
	return svc, nil
}

// Kinds returns the registered kinds in sorted order
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.services))
	for kind := range r.services {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Executor returns the shared traversal executor
func (r *Registry) Executor() *traversal.Executor {
	return r.executor
}
