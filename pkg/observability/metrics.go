package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for the application.
// All recording methods are safe on a nil *Collector so components can run
// without metrics in tests.
type Collector struct {
	// Registry for this collector instance
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Flatten metrics
	NodesEmitted prometheus.Counter
	EdgesEmitted prometheus.Counter

	// Traversal metrics
	StepItems    *prometheus.CounterVec
	StepRetries  *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec

	// Store metrics
	StoreOperations *prometheus.CounterVec
	StoreDuration   *prometheus.HistogramVec
	BreakerState    *prometheus.GaugeVec

	// Event metrics
	EventsPublished *prometheus.CounterVec
}

// NewCollector creates a new metrics collector with the given namespace.
// Each collector owns its registry, so tests can create as many as they need.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		NodesEmitted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flatten_nodes_emitted_total",
				Help:      "Total number of node upserts emitted by flatten",
			},
		),
		EdgesEmitted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flatten_edges_emitted_total",
				Help:      "Total number of edge upserts emitted by flatten",
			},
		),
		StepItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "traversal_step_items_total",
				Help:      "Total number of items returned per traversal step",
			},
			[]string{"step", "kind"},
		),
		StepRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "traversal_step_retries_total",
				Help:      "Total number of retried list calls per traversal step",
			},
			[]string{"step"},
		),
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "traversal_step_duration_seconds",
				Help:      "Traversal step duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		StoreOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_operations_total",
				Help:      "Total number of store operations",
			},
			[]string{"operation", "status"},
		),
		StoreDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_operation_duration_seconds",
				Help:      "Store operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Total number of published domain events",
			},
			[]string{"event_type", "status"},
		),
	}

	// Register all metrics with the registry
	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.NodesEmitted,
		c.EdgesEmitted,
		c.StepItems,
		c.StepRetries,
		c.StepDuration,
		c.StoreOperations,
		c.StoreDuration,
		c.BreakerState,
		c.EventsPublished,
	)

	return c
}

// RecordHTTPRequest records one served request
func (c *Collector) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, status).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordFlatten records the size of one flattened batch
func (c *Collector) RecordFlatten(nodes, edges int) {
	if c == nil {
		return
	}
	c.NodesEmitted.Add(float64(nodes))
	c.EdgesEmitted.Add(float64(edges))
}

// RecordStep records one executed traversal step
func (c *Collector) RecordStep(step, kind string, items int, duration time.Duration) {
	if c == nil {
		return
	}
	c.StepItems.WithLabelValues(step, kind).Add(float64(items))
	c.StepDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordStepRetry records one retried list call
func (c *Collector) RecordStepRetry(step string) {
	if c == nil {
		return
	}
	c.StepRetries.WithLabelValues(step).Inc()
}

// RecordStoreOperation records one store call
func (c *Collector) RecordStoreOperation(operation, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.StoreOperations.WithLabelValues(operation, status).Inc()
	c.StoreDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetBreakerState records a circuit breaker state transition
func (c *Collector) SetBreakerState(name string, state float64) {
	if c == nil {
		return
	}
	c.BreakerState.WithLabelValues(name).Set(state)
}

// RecordEvent records one publish attempt
func (c *Collector) RecordEvent(eventType, status string) {
	if c == nil {
		return
	}
	c.EventsPublished.WithLabelValues(eventType, status).Inc()
}

// GetRegistry returns the Prometheus registry for this collector
func (c *Collector) GetRegistry() *prometheus.Registry {
	return c.registry
}
