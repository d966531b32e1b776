package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"instancegraph/application/traversal"
)

// Store backends
const (
	StoreDynamoDB = "dynamodb"
	StoreMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string `yaml:"serverAddress" validate:"required"`
	Environment   string `yaml:"environment" validate:"oneof=development staging production"`

	// Storage configuration
	StoreBackend  string `yaml:"storeBackend" validate:"oneof=dynamodb memory"`
	AWSRegion     string `yaml:"awsRegion"`
	DynamoDBTable string `yaml:"dynamoDBTable" validate:"required_if=StoreBackend dynamodb"`
	IndexName     string `yaml:"indexName"` // GSI1 - kind and edge type lookups
	EventBusName  string `yaml:"eventBusName"`

	// Logging
	LogLevel string `yaml:"logLevel" validate:"oneof=debug info warn error"`

	// Authentication
	JWTSecret string `yaml:"jwtSecret"`
	JWTIssuer string `yaml:"jwtIssuer"`

	// Feature flags
	EnableMetrics bool `yaml:"enableMetrics"`
	EnableTracing bool `yaml:"enableTracing"`
	EnableCORS    bool `yaml:"enableCORS"`
	EnableEvents  bool `yaml:"enableEvents"`
	EnableAuth    bool `yaml:"enableAuth"`

	// Tracing
	OTLPEndpoint string `yaml:"otlpEndpoint"`

	Limits  LimitsConfig  `yaml:"limits"`
	Breaker BreakerConfig `yaml:"breaker"`

	// EnvLimits are the limits before the YAML overlay. Hot reloads of the
	// file start from them.
	EnvLimits LimitsConfig `yaml:"-"`

	// Kinds declares the entity types served by the API. They are only read
	// from the YAML file.
	Kinds []KindConfig `yaml:"kinds" validate:"dive"`

	// ConfigFile is the YAML overlay the configuration was read from, if any
	ConfigFile string `yaml:"-"`
}

// LimitsConfig bounds traversal execution. It is the part of the
// configuration that can be reloaded at runtime.
type LimitsConfig struct {
	MaxHops         int           `yaml:"maxHops" validate:"min=1"`
	DefaultPageSize int           `yaml:"defaultPageSize" validate:"min=1,max=1000"`
	MaxRetries      int           `yaml:"maxRetries" validate:"min=0"`
	RetryBaseDelay  time.Duration `yaml:"retryBaseDelay" validate:"min=0"`
	Concurrency     int           `yaml:"concurrency" validate:"min=1"`
}

// Traversal converts the configuration into executor limits
func (l LimitsConfig) Traversal() traversal.Limits {
	return traversal.Limits{
		MaxHops:         l.MaxHops,
		DefaultPageSize: l.DefaultPageSize,
		MaxRetries:      l.MaxRetries,
		RetryBaseDelay:  l.RetryBaseDelay,
		Concurrency:     l.Concurrency,
	}
}

// BreakerConfig configures the circuit breaker in front of the store
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	MaxRequests      uint32        `yaml:"maxRequests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold float64       `yaml:"failureThreshold" validate:"gte=0,lte=1"`
	MinRequests      uint32        `yaml:"minRequests"`
}

// KindConfig declares one entity type
type KindConfig struct {
	Kind      string           `yaml:"kind" validate:"required"`
	Namespace string           `yaml:"namespace" validate:"required"`
	Relations []RelationConfig `yaml:"relations" validate:"dive"`
}

// RelationConfig declares one relation field of a kind. EdgeType is an
// entity key of the form "namespace#externalId".
type RelationConfig struct {
	Field      string `yaml:"field" validate:"required"`
	EdgeType   string `yaml:"edgeType" validate:"required,contains=#"`
	Direction  string `yaml:"direction" validate:"omitempty,oneof=outwards inwards"`
	TargetKind string `yaml:"targetKind"`
}

var validate = validator.New()

// LoadConfig loads configuration from environment variables, applying the
// YAML file named by CONFIG_FILE on top when it is set
func LoadConfig() (*Config, error) {
	defaults := traversal.DefaultLimits()
	cfg := &Config{
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),
		StoreBackend:  getEnv("STORE_BACKEND", StoreDynamoDB),
		AWSRegion:     getEnv("AWS_REGION", "us-west-2"),
		DynamoDBTable: getEnv("TABLE_NAME", getEnv("DYNAMODB_TABLE", "instancegraph")),
		IndexName:     getEnv("INDEX_NAME", "GSI1"),
		EventBusName:  getEnv("EVENT_BUS_NAME", "instancegraph-events"),

		// Authentication
		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", "instancegraph"),

		// Logging and features
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		EnableMetrics: getEnvBool("ENABLE_METRICS", false),
		EnableTracing: getEnvBool("ENABLE_TRACING", false),
		EnableCORS:    getEnvBool("ENABLE_CORS", true),
		EnableEvents:  getEnvBool("ENABLE_EVENTS", true),
		EnableAuth:    getEnvBool("ENABLE_AUTH", false),
		OTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		Limits: LimitsConfig{
			MaxHops:         getEnvInt("TRAVERSAL_MAX_HOPS", defaults.MaxHops),
			DefaultPageSize: getEnvInt("TRAVERSAL_PAGE_SIZE", defaults.DefaultPageSize),
			MaxRetries:      getEnvInt("TRAVERSAL_MAX_RETRIES", defaults.MaxRetries),
			RetryBaseDelay:  getEnvDuration("TRAVERSAL_RETRY_DELAY", defaults.RetryBaseDelay),
			Concurrency:     getEnvInt("TRAVERSAL_CONCURRENCY", defaults.Concurrency),
		},
		Breaker: BreakerConfig{
			Enabled:          getEnvBool("BREAKER_ENABLED", true),
			MaxRequests:      uint32(getEnvInt("BREAKER_MAX_REQUESTS", 5)),
			Interval:         getEnvDuration("BREAKER_INTERVAL", 30*time.Second),
			Timeout:          getEnvDuration("BREAKER_TIMEOUT", 60*time.Second),
			FailureThreshold: getEnvFloat("BREAKER_FAILURE_THRESHOLD", 0.8),
			MinRequests:      uint32(getEnvInt("BREAKER_MIN_REQUESTS", 5)),
		},
		ConfigFile: getEnv("CONFIG_FILE", ""),
	}

	cfg.EnvLimits = cfg.Limits
	if cfg.ConfigFile != "" {
		if err := cfg.overlay(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load is an alias for LoadConfig
func Load() (*Config, error) {
	return LoadConfig()
}

// overlay applies the fields present in a YAML file over the current values
func (c *Config) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Environment == "production" {
		if c.EnableAuth && c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if c.StoreBackend != StoreDynamoDB {
			return fmt.Errorf("the %s store is not allowed in production", c.StoreBackend)
		}
		if c.EnableEvents && c.EventBusName == "" {
			return fmt.Errorf("EVENT_BUS_NAME is required")
		}
	}

	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := strings.ToLower(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings such as "250ms"
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
