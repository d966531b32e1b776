package di

import (
	"go.uber.org/zap"

	"instancegraph/application/ports"
	"instancegraph/application/services"
	"instancegraph/application/traversal"
	"instancegraph/infrastructure/config"
	"instancegraph/interfaces/http/rest"
	"instancegraph/pkg/observability"
)

// Container holds all application dependencies
type Container struct {
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *observability.Collector
	Tracer    *observability.TracerProvider
	Store     ports.Store
	Publisher ports.EventPublisher
	Limits    traversal.LimitsProvider
	Executor  *traversal.Executor
	Registry  *services.Registry
	Router    *rest.Router
}
