// Package ratelimit caps how fast anonymous sessions may hit the API.
//
// Two limiters share one interface: an in-process token bucket for
// long-lived servers, and a DynamoDB-backed counter for Lambda where
// every invocation starts cold and local state counts nothing.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limiter answers whether a keyed caller may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Reset(ctx context.Context, key string) error
}

// TokenBucketLimiter grants each key a bucket of tokens that refills at
// a steady rate. A fresh key may burst up to the bucket size; sustained
// traffic is held to one request per refill interval.
type TokenBucketLimiter struct {
	mu          sync.Mutex
	buckets     map[string]*bucket
	maxTokens   int
	refillEvery time.Duration
	idleAfter   time.Duration
}

type bucket struct {
	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

// NewTokenBucketLimiter creates a limiter whose buckets hold maxTokens
// and gain one token per refillEvery.
func NewTokenBucketLimiter(maxTokens int, refillEvery time.Duration) *TokenBucketLimiter {
	l := &TokenBucketLimiter{
		buckets:     make(map[string]*bucket),
		maxTokens:   maxTokens,
		refillEvery: refillEvery,
		idleAfter:   time.Hour,
	}

	go l.sweep(5 * time.Minute)

	return l
}

// NewPerMinuteLimiter sizes a bucket so a key sees at most
// requestsPerMinute sustained requests, with a burst of the same size.
func NewPerMinuteLimiter(requestsPerMinute int) *TokenBucketLimiter {
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}
	return NewTokenBucketLimiter(requestsPerMinute, time.Minute/time.Duration(requestsPerMinute))
}

// Allow takes a token from the key's bucket, refilling first.
func (l *TokenBucketLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			tokens:     l.maxTokens,
			lastRefill: time.Now(),
		}
		l.buckets[key] = b
	}
	l.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	refilled := int(now.Sub(b.lastRefill) / l.refillEvery)
	if refilled > 0 {
		b.tokens = min(b.tokens+refilled, l.maxTokens)
		b.lastRefill = now
	}

	if b.tokens == 0 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Reset forgets the key entirely, so its next request starts a full bucket.
func (l *TokenBucketLimiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.buckets, key)
	return nil
}

// sweep drops buckets idle long enough to be fully refilled anyway.
func (l *TokenBucketLimiter) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for range ticker.C {
		l.mu.Lock()
		now := time.Now()
		for key, b := range l.buckets {
			b.mu.Lock()
			idle := now.Sub(b.lastRefill) > l.idleAfter
			b.mu.Unlock()
			if idle {
				delete(l.buckets, key)
			}
		}
		l.mu.Unlock()
	}
}

// SessionRateLimiter keys a limiter by anonymous session ID.
type SessionRateLimiter struct {
	limiter Limiter
}

// NewSessionRateLimiter wraps any limiter with session-scoped keys.
func NewSessionRateLimiter(limiter Limiter) *SessionRateLimiter {
	return &SessionRateLimiter{limiter: limiter}
}

// Allow checks whether the session may make another request.
func (l *SessionRateLimiter) Allow(ctx context.Context, sessionID string) (bool, error) {
	return l.limiter.Allow(ctx, fmt.Sprintf("session:%s", sessionID))
}

// Reset clears the session's standing.
func (l *SessionRateLimiter) Reset(ctx context.Context, sessionID string) error {
	return l.limiter.Reset(ctx, fmt.Sprintf("session:%s", sessionID))
}
