package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketLimiterAllowsBurstThenBlocks(t *testing.T) {
	limiter := NewTokenBucketLimiter(3, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "sess-1")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should pass", i+1)
	}

	allowed, err := limiter.Allow(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, allowed, "bucket should be empty after the burst")
}

func TestTokenBucketLimiterRefillsOverTime(t *testing.T) {
	limiter := NewTokenBucketLimiter(1, 10*time.Millisecond)
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "sess-1")
	require.NoError(t, err)
	require.False(t, allowed)

	time.Sleep(50 * time.Millisecond)

	allowed, err = limiter.Allow(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, allowed, "bucket should refill after waiting")
}

func TestTokenBucketLimiterTracksKeysIndependently(t *testing.T) {
	limiter := NewTokenBucketLimiter(1, time.Hour)
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "sess-1")
	require.NoError(t, err)
	require.False(t, allowed)

	allowed, err = limiter.Allow(ctx, "sess-2")
	require.NoError(t, err)
	assert.True(t, allowed, "a drained key must not affect other keys")
}

func TestTokenBucketLimiterReset(t *testing.T) {
	limiter := NewTokenBucketLimiter(1, time.Hour)
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, allowed)

	require.NoError(t, limiter.Reset(ctx, "sess-1"))

	allowed, err = limiter.Allow(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, allowed, "reset should restore a full bucket")
}

func TestNewPerMinuteLimiterFloorsAtOne(t *testing.T) {
	limiter := NewPerMinuteLimiter(0)
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, allowed, "even a floored limiter grants one request")

	allowed, err = limiter.Allow(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, allowed)
}

type keyRecordingLimiter struct {
	keys []string
}

func (l *keyRecordingLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.keys = append(l.keys, key)
	return true, nil
}

func (l *keyRecordingLimiter) Reset(ctx context.Context, key string) error {
	l.keys = append(l.keys, key)
	return nil
}

func TestSessionRateLimiterPrefixesKeys(t *testing.T) {
	inner := &keyRecordingLimiter{}
	limiter := NewSessionRateLimiter(inner)
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "abc-123")
	require.NoError(t, err)
	require.True(t, allowed)

	require.NoError(t, limiter.Reset(ctx, "abc-123"))

	assert.Equal(t, []string{"session:abc-123", "session:abc-123"}, inner.keys)
}

func TestDistributedRateLimiterFailsOpenWithoutClient(t *testing.T) {
	limiter := NewDistributedSessionLimiter(nil, "", 5)
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	require.NoError(t, limiter.Reset(ctx, "sess-1"))
}
