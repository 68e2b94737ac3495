// Package bus dispatches read-only queries to their registered
// handlers.
package bus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
)

// Query represents a read-only query
type Query interface {
	Validate() error
}

// QueryHandler handles a specific query type
type QueryHandler interface {
	Handle(ctx context.Context, query Query) (interface{}, error)
}

// QueryHandlerFunc is an adapter to allow functions to be used as handlers
type QueryHandlerFunc func(ctx context.Context, query Query) (interface{}, error)

// Handle implements QueryHandler
func (f QueryHandlerFunc) Handle(ctx context.Context, query Query) (interface{}, error) {
	return f(ctx, query)
}

// Middleware wraps query execution
type Middleware func(next QueryHandler) QueryHandler

// QueryBus dispatches queries to their handlers. Registered middleware
// wraps every handler in registration order.
type QueryBus struct {
	handlers    map[reflect.Type]QueryHandler
	middlewares []Middleware
	mu          sync.RWMutex
}

// NewQueryBus creates a new query bus
func NewQueryBus(middlewares ...Middleware) *QueryBus {
	return &QueryBus{
		handlers:    make(map[reflect.Type]QueryHandler),
		middlewares: middlewares,
	}
}

// Register registers a handler for a query type
func (b *QueryBus) Register(queryType Query, handler QueryHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := len(b.middlewares) - 1; i >= 0; i-- {
		handler = b.middlewares[i](handler)
	}

	t := reflect.TypeOf(queryType)
	if _, exists := b.handlers[t]; exists {
		return fmt.Errorf("handler already registered for query type %s", t.Name())
	}
	b.handlers[t] = handler
	return nil
}

// Ask dispatches a query to its handler and returns the result
func (b *QueryBus) Ask(ctx context.Context, query Query) (interface{}, error) {
	if err := query.Validate(); err != nil {
		return nil, fmt.Errorf("query validation failed: %w", err)
	}

	b.mu.RLock()
	handler, exists := b.handlers[reflect.TypeOf(query)]
	b.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %T", ErrHandlerNotFound, query)
	}
	return handler.Handle(ctx, query)
}

// CachingMiddleware serves repeated queries from the cache. Keys are
// derived from the query's type and field values, so only wrap
// handlers whose whole input is the query itself.
func CachingMiddleware(cache ports.Cache, ttlSeconds int) Middleware {
	return func(next QueryHandler) QueryHandler {
		return QueryHandlerFunc(func(ctx context.Context, query Query) (interface{}, error) {
			key := fmt.Sprintf("query:%T:%+v", query, query)
			if cached, found := cache.Get(ctx, key); found {
				return cached, nil
			}

			result, err := next.Handle(ctx, query)
			if err != nil {
				return nil, err
			}
			// A failed Set only costs the next caller a re-read.
			_ = cache.Set(ctx, key, result, ttlSeconds)
			return result, nil
		})
	}
}

// LoggingMiddleware logs query execution with timing
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next QueryHandler) QueryHandler {
		return QueryHandlerFunc(func(ctx context.Context, query Query) (interface{}, error) {
			queryType := reflect.TypeOf(query).Name()
			start := time.Now()

			result, err := next.Handle(ctx, query)
			if err != nil {
				logger.Warn("query failed",
					zap.String("query", queryType),
					zap.Duration("duration", time.Since(start)),
					zap.Error(err))
				return nil, err
			}
			logger.Debug("query answered",
				zap.String("query", queryType),
				zap.Duration("duration", time.Since(start)))
			return result, nil
		})
	}
}

// MetricsMiddleware counts and times query execution per type
func MetricsMiddleware(total *prometheus.CounterVec, duration *prometheus.HistogramVec) Middleware {
	return func(next QueryHandler) QueryHandler {
		return QueryHandlerFunc(func(ctx context.Context, query Query) (interface{}, error) {
			queryType := reflect.TypeOf(query).Name()
			start := time.Now()

			result, err := next.Handle(ctx, query)

			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			total.WithLabelValues(queryType, outcome).Inc()
			duration.WithLabelValues(queryType).Observe(time.Since(start).Seconds())
			return result, err
		})
	}
}

// Errors
var (
	ErrHandlerNotFound = errors.New("query handler not found")
)
