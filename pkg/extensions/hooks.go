// Package extensions fans generation progress out to registered
// observers without coupling the pipeline to any of them.
package extensions

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/aggregates"
	"github.com/creatuluw/exploring.fyi-sub000/pkg/observability"
)

// ProgressHook observes one run's progress. Hooks run in registration
// order on the pipeline goroutine; a hook error is logged and never
// interrupts the run or the remaining hooks.
type ProgressHook interface {
	// Name identifies the hook in logs
	Name() string

	// OnProgress receives every snapshot in message order
	OnProgress(ctx context.Context, sessionID string, snapshot *aggregates.ProgressSnapshot) error

	// OnFailure receives the terminal failure notice
	OnFailure(ctx context.Context, sessionID string, reason string) error
}

// HookRegistry holds the ordered set of progress hooks
type HookRegistry struct {
	mu     sync.RWMutex
	hooks  []ProgressHook
	logger *zap.Logger
}

// NewHookRegistry creates a new hook registry
func NewHookRegistry(logger *zap.Logger) *HookRegistry {
	return &HookRegistry{logger: logger}
}

// Register appends a hook; registration order is invocation order
func (r *HookRegistry) Register(hook ProgressHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// NotifyProgress delivers a snapshot to every hook
func (r *HookRegistry) NotifyProgress(ctx context.Context, sessionID string, snapshot *aggregates.ProgressSnapshot) {
	r.mu.RLock()
	hooks := r.hooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook.OnProgress(ctx, sessionID, snapshot); err != nil {
			r.logger.Warn("progress hook failed",
				zap.String("hook", hook.Name()),
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}
}

// NotifyFailure delivers a terminal failure to every hook
func (r *HookRegistry) NotifyFailure(ctx context.Context, sessionID string, reason string) {
	r.mu.RLock()
	hooks := r.hooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook.OnFailure(ctx, sessionID, reason); err != nil {
			r.logger.Warn("failure hook failed",
				zap.String("hook", hook.Name()),
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}
}

// NotifierHook forwards progress to the push notifier so WebSocket
// clients follow along with the primary caller
type NotifierHook struct {
	notifier ports.ProgressNotifier
}

// NewNotifierHook creates a new NotifierHook
func NewNotifierHook(notifier ports.ProgressNotifier) *NotifierHook {
	return &NotifierHook{notifier: notifier}
}

// Name identifies the hook in logs
func (h *NotifierHook) Name() string { return "push-notifier" }

// OnProgress pushes the snapshot to the session's connections
func (h *NotifierHook) OnProgress(ctx context.Context, sessionID string, snapshot *aggregates.ProgressSnapshot) error {
	if sessionID == "" {
		return nil
	}
	return h.notifier.NotifyProgress(ctx, sessionID, snapshot)
}

// OnFailure pushes the failure notice to the session's connections
func (h *NotifierHook) OnFailure(ctx context.Context, sessionID string, reason string) error {
	if sessionID == "" {
		return nil
	}
	return h.notifier.NotifyFailure(ctx, sessionID, reason)
}

// MetricsHook counts applied messages as snapshots pass through
type MetricsHook struct {
	metrics *observability.Metrics
}

// NewMetricsHook creates a new MetricsHook
func NewMetricsHook(metrics *observability.Metrics) *MetricsHook {
	return &MetricsHook{metrics: metrics}
}

// Name identifies the hook in logs
func (h *MetricsHook) Name() string { return "metrics" }

// OnProgress counts one applied message
func (h *MetricsHook) OnProgress(ctx context.Context, sessionID string, snapshot *aggregates.ProgressSnapshot) error {
	h.metrics.MessagesApplied.Inc()
	return nil
}

// OnFailure is a no-op; run outcomes are recorded where the run ends
func (h *MetricsHook) OnFailure(ctx context.Context, sessionID string, reason string) error {
	return nil
}
