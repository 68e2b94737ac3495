package extensions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/domain/core/aggregates"
)

type recordingHook struct {
	name  string
	calls *[]string
	err   error
}

func (h *recordingHook) Name() string { return h.name }

func (h *recordingHook) OnProgress(ctx context.Context, sessionID string, snapshot *aggregates.ProgressSnapshot) error {
	*h.calls = append(*h.calls, h.name+":progress")
	return h.err
}

func (h *recordingHook) OnFailure(ctx context.Context, sessionID string, reason string) error {
	*h.calls = append(*h.calls, h.name+":failure")
	return h.err
}

type fakeNotifier struct {
	progress []string
	failures []string
}

func (f *fakeNotifier) NotifyProgress(ctx context.Context, sessionID string, snapshot *aggregates.ProgressSnapshot) error {
	f.progress = append(f.progress, sessionID)
	return nil
}

func (f *fakeNotifier) NotifyFailure(ctx context.Context, sessionID string, reason string) error {
	f.failures = append(f.failures, sessionID+":"+reason)
	return nil
}

func TestHookRegistryInvokesInRegistrationOrder(t *testing.T) {
	var calls []string
	registry := NewHookRegistry(zap.NewNop())
	registry.Register(&recordingHook{name: "first", calls: &calls})
	registry.Register(&recordingHook{name: "second", calls: &calls})

	registry.NotifyProgress(context.Background(), "sess-1", &aggregates.ProgressSnapshot{})

	require.Equal(t, []string{"first:progress", "second:progress"}, calls)
}

func TestHookRegistryIsolatesFailingHooks(t *testing.T) {
	var calls []string
	registry := NewHookRegistry(zap.NewNop())
	registry.Register(&recordingHook{name: "broken", calls: &calls, err: errors.New("hook exploded")})
	registry.Register(&recordingHook{name: "healthy", calls: &calls})

	registry.NotifyFailure(context.Background(), "sess-1", "upstream gone")

	assert.Equal(t, []string{"broken:failure", "healthy:failure"}, calls)
}

func TestNotifierHookDelegatesToNotifier(t *testing.T) {
	notifier := &fakeNotifier{}
	hook := NewNotifierHook(notifier)

	err := hook.OnProgress(context.Background(), "sess-9", &aggregates.ProgressSnapshot{})
	require.NoError(t, err)
	err = hook.OnFailure(context.Background(), "sess-9", "backend unreachable")
	require.NoError(t, err)

	assert.Equal(t, []string{"sess-9"}, notifier.progress)
	assert.Equal(t, []string{"sess-9:backend unreachable"}, notifier.failures)
}

func TestNotifierHookSkipsRunsWithoutSession(t *testing.T) {
	notifier := &fakeNotifier{}
	hook := NewNotifierHook(notifier)

	require.NoError(t, hook.OnProgress(context.Background(), "", &aggregates.ProgressSnapshot{}))
	require.NoError(t, hook.OnFailure(context.Background(), "", "whatever"))

	assert.Empty(t, notifier.progress)
	assert.Empty(t, notifier.failures)
}
