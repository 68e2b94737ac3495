// Package cache holds the in-memory replay cache for complete
// generation results.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/domain/versioning"
)

// LRUContentCache implements the ContentCache port as an LRU cache
// with TTL. Keys are (scope, topic slug, language) tuples; values are
// complete stored graphs that replay runs feed back through the
// pipeline. Callers must treat returned payloads as read-only.
type LRUContentCache struct {
	capacity int
	ttl      time.Duration
	logger   *zap.Logger
	mu       sync.Mutex

	entries map[string]*contentEntry
	order   *list.List // doubly linked list for LRU ordering
}

type contentEntry struct {
	key       string
	value     *versioning.StoredGraph
	expiresAt time.Time
	element   *list.Element
}

// NewLRUContentCache creates a content cache with the given capacity
// and entry lifetime
func NewLRUContentCache(capacity int, ttl time.Duration, logger *zap.Logger) *LRUContentCache {
	if capacity <= 0 {
		capacity = 512
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &LRUContentCache{
		capacity: capacity,
		ttl:      ttl,
		logger:   logger,
		entries:  make(map[string]*contentEntry),
		order:    list.New(),
	}
}

var _ ports.ContentCache = (*LRUContentCache)(nil)

// Get retrieves a complete result, if present and not expired
func (c *LRUContentCache) Get(ctx context.Context, key string) (*versioning.StoredGraph, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.removeEntry(e)
		c.logger.Debug("cache entry expired", zap.String("key", key))
		return nil, false
	}

	c.order.MoveToFront(e.element)
	return e.value, true
}

// Put stores a complete result, evicting the least recently used
// entries once the cache is full
func (c *LRUContentCache) Put(ctx context.Context, key string, content *versioning.StoredGraph) error {
	if content == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = content
		e.expiresAt = time.Now().Add(c.ttl)
		c.order.MoveToFront(e.element)
		return nil
	}

	for len(c.entries) >= c.capacity {
		c.evictOldest()
	}

	e := &contentEntry{
		key:       key,
		value:     content,
		expiresAt: time.Now().Add(c.ttl),
	}
	e.element = c.order.PushFront(e)
	c.entries[key] = e

	c.logger.Debug("cache entry stored",
		zap.String("key", key),
		zap.Int("size", len(c.entries)),
	)
	return nil
}

// Delete removes a cached result
func (c *LRUContentCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.removeEntry(e)
	}
	return nil
}

// Len returns the number of live entries
func (c *LRUContentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOldest removes the least recently used entry. Must be called
// with the lock held.
func (c *LRUContentCache) evictOldest() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	e := oldest.Value.(*contentEntry)
	c.removeEntry(e)
	c.logger.Debug("cache entry evicted", zap.String("key", e.key))
}

// removeEntry removes an entry. Must be called with the lock held.
func (c *LRUContentCache) removeEntry(e *contentEntry) {
	c.order.Remove(e.element)
	delete(c.entries, e.key)
}
