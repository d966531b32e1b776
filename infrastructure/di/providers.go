package di

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"instancegraph/application/flatten"
	"instancegraph/application/ports"
	"instancegraph/application/services"
	"instancegraph/application/traversal"
	"instancegraph/domain/core/valueobjects"
	"instancegraph/infrastructure/config"
	"instancegraph/infrastructure/messaging/eventbridge"
	"instancegraph/infrastructure/persistence/dynamodb"
	"instancegraph/infrastructure/persistence/memory"
	"instancegraph/infrastructure/persistence/resilient"
	"instancegraph/interfaces/http/rest"
	"instancegraph/pkg/auth"
	"instancegraph/pkg/observability"
)

// ProvideLogger creates a new logger instance at the configured level
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	return zcfg.Build()
}

// ProvideMetrics creates the metrics collector, or nil when metrics are off.
// Every recorder accepts a nil collector.
func ProvideMetrics(cfg *config.Config) *observability.Collector {
	if !cfg.EnableMetrics {
		return nil
	}
	return observability.NewCollector("instancegraph")
}

// ProvideTracing installs the OTLP tracer provider when tracing is on
func ProvideTracing(cfg *config.Config, logger *zap.Logger) (*observability.TracerProvider, func(), error) {
	if !cfg.EnableTracing {
		return nil, func() {}, nil
	}
	tp, err := observability.InitTracing(observability.TracingConfig{
		ServiceName: "instancegraph",
		Environment: cfg.Environment,
		Endpoint:    cfg.OTLPEndpoint,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise tracing: %w", err)
	}
	cleanup := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn("Tracer shutdown failed", zap.Error(err))
		}
	}
	return tp, cleanup, nil
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideStore creates the configured instance store, behind a circuit
// breaker when one is enabled
func ProvideStore(
	cfg *config.Config,
	client *awsdynamodb.Client,
	metrics *observability.Collector,
	logger *zap.Logger,
) ports.Store {
	var store ports.Store
	switch cfg.StoreBackend {
	case config.StoreMemory:
		logger.Warn("Using the in-memory store; data is lost on restart")
		store = memory.NewStore(logger, memory.WithDefaultPageSize(cfg.Limits.DefaultPageSize))
	default:
		store = dynamodb.NewStore(client, cfg.DynamoDBTable, logger,
			dynamodb.WithIndexName(cfg.IndexName),
			dynamodb.WithDefaultPageSize(cfg.Limits.DefaultPageSize),
		)
	}

	if !cfg.Breaker.Enabled {
		return store
	}
	return resilient.NewStore(store, resilient.BreakerConfig{
		Name:             "store-" + cfg.StoreBackend,
		MaxRequests:      cfg.Breaker.MaxRequests,
		Interval:         cfg.Breaker.Interval,
		Timeout:          cfg.Breaker.Timeout,
		FailureThreshold: cfg.Breaker.FailureThreshold,
		MinRequests:      cfg.Breaker.MinRequests,
	}, metrics, logger)
}

// ProvideEventPublisher creates the EventBridge publisher, or a nil
// publisher when events are off
func ProvideEventPublisher(
	cfg *config.Config,
	client *awseventbridge.Client,
	metrics *observability.Collector,
	logger *zap.Logger,
) ports.EventPublisher {
	if !cfg.EnableEvents {
		return nil
	}
	return eventbridge.NewPublisher(client, cfg.EventBusName, metrics, logger)
}

// ProvideLimits serves the traversal limits. With a config file the limits
// are reloaded whenever the file changes.
func ProvideLimits(cfg *config.Config, logger *zap.Logger) (traversal.LimitsProvider, func(), error) {
	if cfg.ConfigFile == "" {
		return traversal.StaticLimits(cfg.Limits.Traversal()), func() {}, nil
	}
	base := cfg.EnvLimits
	if base == (config.LimitsConfig{}) {
		base = cfg.Limits
	}
	watcher, err := config.NewLimitsWatcher(cfg.ConfigFile, base, logger)
	if err != nil {
		return nil, nil, err
	}
	watcher.Start()
	return watcher, watcher.Stop, nil
}

// ProvideFlattener creates the write-path flatten engine
func ProvideFlattener(metrics *observability.Collector, logger *zap.Logger) *flatten.Engine {
	return flatten.NewEngine(logger, flatten.WithMetrics(metrics))
}

// ProvideExecutor creates the traversal executor
func ProvideExecutor(
	store ports.Store,
	limits traversal.LimitsProvider,
	metrics *observability.Collector,
	logger *zap.Logger,
) *traversal.Executor {
	return traversal.NewExecutor(store, limits, logger, traversal.WithExecutorMetrics(metrics))
}

// ProvideRegistry creates the service registry with every configured kind
func ProvideRegistry(
	cfg *config.Config,
	flattener *flatten.Engine,
	store ports.Store,
	executor *traversal.Executor,
	publisher ports.EventPublisher,
	logger *zap.Logger,
) (*services.Registry, error) {
	registry := services.NewRegistry(flattener, store, executor, publisher, logger)
	for _, kind := range cfg.Kinds {
		descriptor, err := Descriptor(kind)
		if err != nil {
			return nil, err
		}
		if _, err := registry.Register(descriptor); err != nil {
			return nil, fmt.Errorf("failed to register kind %s: %w", kind.Kind, err)
		}
	}
	logger.Info("Kinds registered", zap.Strings("kinds", registry.Kinds()))
	return registry, nil
}

// Descriptor converts a configured kind into a service descriptor.
// Relations default to the outwards direction.
func Descriptor(kind config.KindConfig) (services.Descriptor, error) {
	descriptor := services.Descriptor{Kind: kind.Kind, Namespace: kind.Namespace}
	for _, rel := range kind.Relations {
		edgeType, err := valueobjects.ParseKey(rel.EdgeType)
		if err != nil {
			return services.Descriptor{}, fmt.Errorf("kind %s relation %s: %w", kind.Kind, rel.Field, err)
		}
		direction := valueobjects.DirectionOutwards
		if rel.Direction != "" {
			if direction, err = valueobjects.ParseDirection(rel.Direction); err != nil {
				return services.Descriptor{}, fmt.Errorf("kind %s relation %s: %w", kind.Kind, rel.Field, err)
			}
		}
		descriptor.Relations = append(descriptor.Relations, traversal.RelationSpec{
			Field:      rel.Field,
			EdgeType:   edgeType,
			Direction:  direction,
			TargetKind: rel.TargetKind,
		})
	}
	return descriptor, nil
}

// ProvideJWTValidator creates the token validator, or nil when auth is off
func ProvideJWTValidator(cfg *config.Config) (*auth.JWTValidator, error) {
	if !cfg.EnableAuth {
		return nil, nil
	}
	return auth.NewJWTValidator(auth.JWTConfig{
		SecretKey: cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		Audience:  []string{auth.DefaultAudience},
	})
}

// ProvideRouter creates the HTTP router
func ProvideRouter(
	cfg *config.Config,
	registry *services.Registry,
	validator *auth.JWTValidator,
	metrics *observability.Collector,
	logger *zap.Logger,
) *rest.Router {
	return rest.NewRouter(registry, validator, metrics, rest.RouterConfig{
		EnableCORS: cfg.EnableCORS,
		Debug:      cfg.IsDevelopment(),
	}, logger)
}
