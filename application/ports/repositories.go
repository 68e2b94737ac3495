package ports

import (
	"context"
	"io"
	"time"

	"github.com/creatuluw/exploring.fyi-sub000/domain/core/aggregates"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/entities"
	"github.com/creatuluw/exploring.fyi-sub000/domain/events"
	"github.com/creatuluw/exploring.fyi-sub000/domain/versioning"
)

// TopicRepository defines the interface for topic persistence
// This is a port in hexagonal architecture - the domain doesn't know about the implementation
type TopicRepository interface {
	// GetByID retrieves a topic by its ID
	GetByID(ctx context.Context, id string) (*entities.Topic, error)

	// FindBySlug retrieves a topic by (scope, slug)
	FindBySlug(ctx context.Context, scope, slug string) (*entities.Topic, error)

	// FindByTitle retrieves a topic by (scope, normalized title), the
	// lookup get-or-create branches on
	FindByTitle(ctx context.Context, scope, normalizedTitle string) (*entities.Topic, error)

	// SlugExists reports whether a slug is taken within a scope; this
	// backs the identifier resolver's existence capability
	SlugExists(ctx context.Context, scope, slug string) (bool, error)

	// Create persists a new topic; implementations must fail on an
	// existing (scope, slug) pair rather than overwrite
	Create(ctx context.Context, topic *entities.Topic) error

	// Update persists changes to an existing topic
	Update(ctx context.Context, topic *entities.Topic) error

	// ListByScope retrieves a page of topics within a scope
	ListByScope(ctx context.Context, scope string, criteria ListCriteria) ([]*entities.Topic, error)

	// Delete removes a topic
	Delete(ctx context.Context, id string) error
}

// MindMapRepository defines the interface for mind map persistence
type MindMapRepository interface {
	// GetByID retrieves a mind map by its ID
	GetByID(ctx context.Context, id string) (*aggregates.MindMap, error)

	// GetLiveByTopic retrieves the single live map for a topic, or an
	// ErrMindMapNotFound when none exists
	GetLiveByTopic(ctx context.Context, topicID string) (*aggregates.MindMap, error)

	// GetLatestByTopic retrieves the most recent map for a topic in
	// any status
	GetLatestByTopic(ctx context.Context, topicID string) (*aggregates.MindMap, error)

	// Create persists a new map; implementations must reject a second
	// live map for the same topic
	Create(ctx context.Context, m *aggregates.MindMap) error

	// UpdateGraph writes a map's graph columns onto an existing row
	// under optimistic concurrency: expectedVersion must match the
	// stored version or the write fails with ErrConcurrentModification
	UpdateGraph(ctx context.Context, mapID string, graph *versioning.StoredGraph, expectedVersion int) error

	// Delete removes a mind map
	Delete(ctx context.Context, id string) error

	// DeleteByTopic removes all maps belonging to a topic
	DeleteByTopic(ctx context.Context, topicID string) error
}

// ContentRepository defines the interface for chapter and section
// persistence
type ContentRepository interface {
	// SaveChapters persists a topic's table of contents
	SaveChapters(ctx context.Context, topicID string, chapters []*entities.Chapter) error

	// SaveSection persists one section (create or replace by id)
	SaveSection(ctx context.Context, topicID string, section *entities.ContentSection) error

	// GetChapters retrieves a topic's chapters in outline order
	GetChapters(ctx context.Context, topicID string) ([]*entities.Chapter, error)

	// GetSections retrieves a topic's sections in delivery order
	GetSections(ctx context.Context, topicID string) ([]*entities.ContentSection, error)

	// DeleteByTopic removes all content belonging to a topic
	DeleteByTopic(ctx context.Context, topicID string) error
}

// CheckRepository defines the interface for comprehension check
// persistence; attempts are append-only history
type CheckRepository interface {
	// Record persists one check attempt
	Record(ctx context.Context, check *entities.Check) error

	// ListByChapter retrieves all attempts against a chapter, newest
	// first
	ListByChapter(ctx context.Context, chapterID string) ([]*entities.Check, error)
}

// GenerationRequest describes one generation run to open against the
// backend
type GenerationRequest struct {
	Topic     string
	SourceURL string
	Language  string
	SessionID string

	// ParentLabel is set for node expansion runs; the stream then
	// carries aspects for the sub-graph only
	ParentLabel string
}

// FrameSource opens the chunked wire stream for a generation run.
// The returned body yields `data: <json>` frames separated by blank
// lines and is owned by the caller.
type FrameSource interface {
	Open(ctx context.Context, req GenerationRequest) (io.ReadCloser, error)
}

// ContentCache caches complete generation results keyed by
// (scope, topic slug, language) so repeat requests replay instead of
// regenerate
type ContentCache interface {
	// Get retrieves a complete result, if present
	Get(ctx context.Context, key string) (*versioning.StoredGraph, bool)

	// Put stores a complete result
	Put(ctx context.Context, key string, content *versioning.StoredGraph) error

	// Delete removes a cached result
	Delete(ctx context.Context, key string) error
}

// Connection is one registered push channel for a session
type Connection struct {
	ConnectionID string    `json:"connection_id"`
	SessionID    string    `json:"session_id"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// ConnectionRegistry tracks live push connections per session
type ConnectionRegistry interface {
	// Register stores a new connection
	Register(ctx context.Context, conn Connection) error

	// Remove deletes a connection, typically after the peer went away
	Remove(ctx context.Context, connectionID string) error

	// ListBySession retrieves all connections for a session
	ListBySession(ctx context.Context, sessionID string) ([]Connection, error)
}

// ProgressNotifier pushes snapshots to a session's connected clients
type ProgressNotifier interface {
	// NotifyProgress delivers one snapshot
	NotifyProgress(ctx context.Context, sessionID string, snapshot *aggregates.ProgressSnapshot) error

	// NotifyFailure delivers a terminal failure notice
	NotifyFailure(ctx context.Context, sessionID string, reason string) error
}

// GenerationLock serializes generation runs per topic across
// processes
type GenerationLock interface {
	// Acquire takes the lock for a resource; it reports false when
	// another owner holds it
	Acquire(ctx context.Context, resourceID, ownerID string) (bool, error)

	// Release frees the lock if still held by the owner
	Release(ctx context.Context, resourceID, ownerID string) error
}

// OutboxEntry is one persisted, not-yet-dispatched domain event
type OutboxEntry struct {
	ID        string    `json:"id"`
	EventType string    `json:"event_type"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	Attempts  int       `json:"attempts"`
}

// OutboxStore persists domain events in the same store as the data
// they describe; a relay drains it into the event bus
type OutboxStore interface {
	// Append stores events for later dispatch
	Append(ctx context.Context, events []events.DomainEvent) error

	// FetchPending retrieves up to limit undispatched entries, oldest
	// first
	FetchPending(ctx context.Context, limit int) ([]OutboxEntry, error)

	// MarkDispatched removes entries that reached the bus
	MarkDispatched(ctx context.Context, ids []string) error

	// MarkFailed increments the attempt counter on entries that did
	// not reach the bus
	MarkFailed(ctx context.Context, ids []string) error
}

// ListCriteria defines listing parameters
type ListCriteria struct {
	Query     string
	Limit     int
	Offset    int
	OrderBy   string
	OrderDesc bool
}

// EventPublisher defines the interface for publishing domain events
type EventPublisher interface {
	// Publish sends a single event
	Publish(ctx context.Context, event events.DomainEvent) error

	// PublishBatch sends multiple events
	PublishBatch(ctx context.Context, events []events.DomainEvent) error
}

// EventBus defines the interface for publishing domain events
type EventBus interface {
	EventPublisher

	// Subscribe registers a handler for an event type
	Subscribe(eventType string, handler EventHandler) error

	// Unsubscribe removes a handler
	Unsubscribe(eventType string, handler EventHandler) error
}

// EventHandler defines the interface for handling domain events
type EventHandler interface {
	// Handle processes an event
	Handle(ctx context.Context, event events.DomainEvent) error

	// CanHandle checks if this handler can process the event
	CanHandle(eventType string) bool
}

// Cache defines the interface for caching
type Cache interface {
	// Get retrieves a value from cache
	Get(ctx context.Context, key string) (interface{}, bool)

	// Set stores a value in cache with TTL in seconds
	Set(ctx context.Context, key string, value interface{}, ttl int) error

	// Delete removes a value from cache
	Delete(ctx context.Context, key string) error

	// Clear removes all values from cache
	Clear(ctx context.Context) error
}
