package observability

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	metricsMutex  sync.Mutex
)

// Metrics collects application metrics in a Prometheus registry and,
// when a CloudWatch client is configured, forwards generation outcomes
// as custom metric data for alarming.
type Metrics struct {
	registry  *prometheus.Registry
	namespace string
	cw        *cloudwatch.Client

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Bus metrics
	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	QueriesTotal    *prometheus.CounterVec
	QueryDuration   *prometheus.HistogramVec

	// Repository metrics
	RepoOperations *prometheus.CounterVec
	RepoDuration   *prometheus.HistogramVec

	// Pipeline metrics
	GenerationsStarted  prometheus.Counter
	GenerationsReplayed prometheus.Counter
	GenerationsFailed   prometheus.Counter
	MessagesApplied     prometheus.Counter
	FramesSkipped       prometheus.Counter

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
}

// NewMetrics creates the metrics instance. A nil CloudWatch client
// disables forwarding; the Prometheus side always works. Repeated
// calls return the same instance so tests never double-register.
func NewMetrics(namespace string, client *cloudwatch.Client) *Metrics {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	if globalMetrics != nil {
		return globalMetrics
	}

	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exploring_fyi",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "exploring_fyi",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	commandsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exploring_fyi",
			Name:      "commands_total",
			Help:      "Total number of commands dispatched",
		},
		[]string{"command", "outcome"},
	)

	commandDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "exploring_fyi",
			Name:      "command_duration_seconds",
			Help:      "Command execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	queriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exploring_fyi",
			Name:      "queries_total",
			Help:      "Total number of queries dispatched",
		},
		[]string{"query", "outcome"},
	)

	queryDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "exploring_fyi",
			Name:      "query_duration_seconds",
			Help:      "Query execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	repoOperations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exploring_fyi",
			Name:      "repository_operations_total",
			Help:      "Total number of repository operations",
		},
		[]string{"operation", "store", "status"},
	)

	repoDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "exploring_fyi",
			Name:      "repository_operation_duration_seconds",
			Help:      "Repository operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "store"},
	)

	generationsStarted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "exploring_fyi",
			Name:      "generations_started_total",
			Help:      "Total number of live generation runs started",
		},
	)

	generationsReplayed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "exploring_fyi",
			Name:      "generations_replayed_total",
			Help:      "Total number of runs served from cached results",
		},
	)

	generationsFailed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "exploring_fyi",
			Name:      "generations_failed_total",
			Help:      "Total number of generation runs that ended in failure",
		},
	)

	messagesApplied := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "exploring_fyi",
			Name:      "stream_messages_applied_total",
			Help:      "Total number of stream messages applied to maps",
		},
	)

	framesSkipped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "exploring_fyi",
			Name:      "stream_frames_skipped_total",
			Help:      "Total number of malformed frames skipped during parsing",
		},
	)

	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "exploring_fyi",
			Name:      "cache_hits_total",
			Help:      "Total number of content cache hits",
		},
	)

	cacheMisses := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "exploring_fyi",
			Name:      "cache_misses_total",
			Help:      "Total number of content cache misses",
		},
	)

	registry.MustRegister(
		httpRequests,
		httpDuration,
		commandsTotal,
		commandDuration,
		queriesTotal,
		queryDuration,
		repoOperations,
		repoDuration,
		generationsStarted,
		generationsReplayed,
		generationsFailed,
		messagesApplied,
		framesSkipped,
		cacheHits,
		cacheMisses,
	)

	globalMetrics = &Metrics{
		registry:            registry,
		namespace:           namespace,
		cw:                  client,
		HTTPRequests:        httpRequests,
		HTTPDuration:        httpDuration,
		CommandsTotal:       commandsTotal,
		CommandDuration:     commandDuration,
		QueriesTotal:        queriesTotal,
		QueryDuration:       queryDuration,
		RepoOperations:      repoOperations,
		RepoDuration:        repoDuration,
		GenerationsStarted:  generationsStarted,
		GenerationsReplayed: generationsReplayed,
		GenerationsFailed:   generationsFailed,
		MessagesApplied:     messagesApplied,
		FramesSkipped:       framesSkipped,
		CacheHits:           cacheHits,
		CacheMisses:         cacheMisses,
	}

	return globalMetrics
}

// ResetForTesting resets the global instance so tests can rebuild it
func ResetForTesting() {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()
	globalMetrics = nil
}

// Registry returns the Prometheus registry backing this instance
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveHTTP records one handled HTTP request
func (m *Metrics) ObserveHTTP(method, route, status string, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveRepository records one repository operation
func (m *Metrics) ObserveRepository(operation, store string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RepoOperations.WithLabelValues(operation, store, status).Inc()
	m.RepoDuration.WithLabelValues(operation, store).Observe(elapsed.Seconds())
}

// RecordGenerationOutcome records how a run ended and forwards the
// outcome to CloudWatch when a client is configured. Forwarding
// failures never affect the caller.
func (m *Metrics) RecordGenerationOutcome(ctx context.Context, outcome string, duration time.Duration) {
	switch outcome {
	case "replayed":
		m.GenerationsReplayed.Inc()
	case "failed":
		m.GenerationsFailed.Inc()
	}

	if m.cw == nil {
		return
	}

	metricData := []cwtypes.MetricDatum{
		{
			MetricName: aws.String("GenerationCompleted"),
			Dimensions: []cwtypes.Dimension{
				{
					Name:  aws.String("Outcome"),
					Value: aws.String(outcome),
				},
			},
			Value:     aws.Float64(1),
			Unit:      cwtypes.StandardUnitCount,
			Timestamp: aws.Time(time.Now()),
		},
		{
			MetricName: aws.String("GenerationDuration"),
			Dimensions: []cwtypes.Dimension{
				{
					Name:  aws.String("Outcome"),
					Value: aws.String(outcome),
				},
			},
			Value:     aws.Float64(float64(duration.Milliseconds())),
			Unit:      cwtypes.StandardUnitMilliseconds,
			Timestamp: aws.Time(time.Now()),
		},
	}

	m.cw.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: metricData,
	})
}
