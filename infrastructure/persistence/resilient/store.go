// Package resilient decorates a store with a circuit breaker and call metrics.
package resilient

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"instancegraph/application/ports"
	"instancegraph/domain/core/valueobjects"
	pkgerrors "instancegraph/pkg/errors"
	"instancegraph/pkg/observability"
)

// BreakerConfig holds configuration for the circuit breaker
type BreakerConfig struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration

	// The breaker trips once MinRequests calls were seen in an interval and
	// at least FailureThreshold of them failed
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns the default breaker configuration
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// Store wraps a ports.Store. Only transient failures count against the
// breaker; conflicts and bad requests mean the backend is healthy.
type Store struct {
	next    ports.Store
	breaker *gobreaker.CircuitBreaker
	metrics *observability.Collector
	logger  *zap.Logger
}

// NewStore creates the decorator. metrics may be nil.
func NewStore(next ports.Store, cfg BreakerConfig, metrics *observability.Collector, logger *zap.Logger) *Store {
	s := &Store{next: next, metrics: metrics, logger: logger}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.SetBreakerState(name, float64(to))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !pkgerrors.IsRetryable(err)
		},
	})
	metrics.SetBreakerState(cfg.Name, float64(gobreaker.StateClosed))
	return s
}

// State returns the breaker state
func (s *Store) State() gobreaker.State {
	return s.breaker.State()
}

// Apply implements ports.Store
func (s *Store) Apply(ctx context.Context, req ports.ApplyRequest) (*ports.ApplyResult, error) {
	out, err := s.execute("apply", func() (interface{}, error) {
		return s.next.Apply(ctx, req)
	})
	result, _ := out.(*ports.ApplyResult)
	return result, err
}

// Delete implements ports.Store
func (s *Store) Delete(ctx context.Context, refs []valueobjects.EntityRef) (*ports.DeleteResult, error) {
	out, err := s.execute("delete", func() (interface{}, error) {
		return s.next.Delete(ctx, refs)
	})
	result, _ := out.(*ports.DeleteResult)
	return result, err
}

// List implements ports.Store
func (s *Store) List(ctx context.Context, req ports.ListRequest) (*ports.ListPage, error) {
	out, err := s.execute("list", func() (interface{}, error) {
		return s.next.List(ctx, req)
	})
	page, _ := out.(*ports.ListPage)
	return page, err
}

func (s *Store) execute(operation string, call func() (interface{}, error)) (interface{}, error) {
	start := time.Now()
	out, err := s.breaker.Execute(call)

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		s.logger.Debug("Circuit breaker rejected store call",
			zap.String("operation", operation),
			zap.Error(err),
		)
		err = pkgerrors.NewStoreUnavailableError(operation, err)
	}
	s.metrics.RecordStoreOperation(operation, status(err), time.Since(start))
	return out, err
}

func status(err error) string {
	switch {
	case err == nil:
		return "success"
	case pkgerrors.IsRetryable(err):
		return "unavailable"
	case pkgerrors.IsVersionConflict(err):
		return "conflict"
	default:
		return "error"
	}
}
