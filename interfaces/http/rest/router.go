package rest

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"instancegraph/application/services"
	"instancegraph/interfaces/http/rest/handlers"
	"instancegraph/interfaces/http/rest/middleware"
	"instancegraph/pkg/auth"
	pkgerrors "instancegraph/pkg/errors"
	"instancegraph/pkg/observability"
)

// RouterConfig toggles the optional parts of the router
type RouterConfig struct {
	EnableCORS     bool
	AllowedOrigins []string
	Debug          bool
}

// Router creates and configures the HTTP router
type Router struct {
	registry  *services.Registry
	validator *auth.JWTValidator
	metrics   *observability.Collector
	config    RouterConfig
	logger    *zap.Logger
}

// NewRouter creates a new router instance. A nil validator serves the API
// without authentication; nil metrics disables /metrics.
func NewRouter(
	registry *services.Registry,
	validator *auth.JWTValidator,
	metrics *observability.Collector,
	config RouterConfig,
	logger *zap.Logger,
) *Router {
	return &Router{
		registry:  registry,
		validator: validator,
		metrics:   metrics,
		config:    config,
		logger:    logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()
	errorHandler := pkgerrors.NewErrorHandler(rt.logger, rt.config.Debug)

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(errorHandler.Middleware)
	router.Use(middleware.Logger(rt.logger, rt.metrics))
	router.Use(versionMiddleware)

	if rt.config.EnableCORS {
		origins := rt.config.AllowedOrigins
		if len(origins) == 0 {
			origins = []string{"http://localhost:3000"}
		}
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Health check
	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)

	if rt.metrics != nil {
		router.Handle("/metrics", promhttp.HandlerFor(rt.metrics.GetRegistry(), promhttp.HandlerOpts{}))
	}

	// API v1 routes (legacy - redirects to v2)
	router.Route("/api/v1", func(r chi.Router) {
		r.HandleFunc("/*", func(w http.ResponseWriter, req *http.Request) {
			target := strings.Replace(req.URL.Path, "/api/v1", "/api/v2", 1)
			if req.URL.RawQuery != "" {
				target += "?" + req.URL.RawQuery
			}
			http.Redirect(w, req, target, http.StatusPermanentRedirect)
		})
	})

	// API v2 routes (current)
	router.Route("/api/v2", func(r chi.Router) {
		if rt.validator != nil {
			r.Use(middleware.Authenticate(rt.validator, errorHandler, rt.logger))
		}

		instanceHandler := handlers.NewInstanceHandler(rt.registry, errorHandler, rt.logger)
		r.Get("/kinds", instanceHandler.Kinds)
		r.Route("/instances", func(r chi.Router) {
			r.Post("/", instanceHandler.Apply)
			r.Post("/delete", instanceHandler.Delete)
			r.Post("/retrieve", instanceHandler.Retrieve)
			r.Post("/list", instanceHandler.List)
		})

		r.Post("/query", handlers.NewQueryHandler(rt.registry, errorHandler, rt.logger).Query)
	})

	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

// readinessCheck reports ready once at least one kind is registered
func (rt *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if len(rt.registry.Kinds()) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"no kinds registered"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

// versionMiddleware adds API version headers to all responses
func versionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		version := "v2"
		if strings.HasPrefix(r.URL.Path, "/api/v1") {
			version = "v1"
		}

		w.Header().Set("X-API-Version", version)
		w.Header().Set("X-API-Latest", "v2")
		w.Header().Set("X-API-Deprecated", "false")

		// v1 only redirects
		if version == "v1" {
			w.Header().Set("X-API-Deprecated", "true")
		}

		next.ServeHTTP(w, r)
	})
}
