package events

import (
	"time"
)

// DomainEvent is the base interface for all domain events
// Events represent something that has happened in the past
type DomainEvent interface {
	GetAggregateID() string
	GetEventType() string
	GetTimestamp() time.Time
	GetVersion() int
}

// BaseEvent provides common event fields
type BaseEvent struct {
	AggregateID string    `json:"aggregate_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	Version     int       `json:"version"`
}

func (e BaseEvent) GetAggregateID() string  { return e.AggregateID }
func (e BaseEvent) GetEventType() string    { return e.EventType }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e BaseEvent) GetVersion() int         { return e.Version }

// Mind map events

// MindMapStarted is raised when a new mind map begins construction
type MindMapStarted struct {
	BaseEvent
	MapID   string `json:"map_id"`
	TopicID string `json:"topic_id"`
	Title   string `json:"title"`
}

// RootAnnotated is raised when the opening metadata message fills in
// the root node's description and difficulty
type RootAnnotated struct {
	BaseEvent
	MapID      string `json:"map_id"`
	Difficulty string `json:"difficulty,omitempty"`
}

// ConceptsAdded is raised when a batch of sibling concepts is merged
// into the map
type ConceptsAdded struct {
	BaseEvent
	MapID    string   `json:"map_id"`
	ParentID string   `json:"parent_id"`
	NodeIDs  []string `json:"node_ids"`
	EdgeIDs  []string `json:"edge_ids"`
}

// NodeExpanded is raised when a user-triggered expansion appends a
// sub-graph under an existing node
type NodeExpanded struct {
	BaseEvent
	MapID    string   `json:"map_id"`
	ParentID string   `json:"parent_id"`
	NodeIDs  []string `json:"node_ids"`
}

// MindMapSealed is raised when the stream's complete message closes
// the map for stream-driven mutation
type MindMapSealed struct {
	BaseEvent
	MapID     string `json:"map_id"`
	NodeCount int    `json:"node_count"`
	EdgeCount int    `json:"edge_count"`
}

// GenerationAborted is raised when an upstream error message ends the
// stream early; the partial map is retained
type GenerationAborted struct {
	BaseEvent
	MapID     string `json:"map_id"`
	Reason    string `json:"reason"`
	Code      string `json:"code,omitempty"`
	NodeCount int    `json:"node_count"`
}

// Content events

// ChaptersOutlined is raised when the table of contents arrives
type ChaptersOutlined struct {
	BaseEvent
	MapID      string   `json:"map_id"`
	ChapterIDs []string `json:"chapter_ids"`
}

// SectionCompleted is raised when a reading section finishes streaming
type SectionCompleted struct {
	BaseEvent
	MapID     string `json:"map_id"`
	SectionID string `json:"section_id"`
	ChapterID string `json:"chapter_id"`
}

// Topic events

// TopicCreated is raised when a topic resource is first persisted
type TopicCreated struct {
	BaseEvent
	TopicID  string `json:"topic_id"`
	Scope    string `json:"scope"`
	Slug     string `json:"slug"`
	Title    string `json:"title"`
	Language string `json:"language"`
}

// NewTopicCreated creates a TopicCreated event
func NewTopicCreated(topicID, scope, slug, title, language string, timestamp time.Time) TopicCreated {
	return TopicCreated{
		BaseEvent: BaseEvent{
			AggregateID: topicID,
			EventType:   "topic.created",
			Timestamp:   timestamp,
			Version:     1,
		},
		TopicID:  topicID,
		Scope:    scope,
		Slug:     slug,
		Title:    title,
		Language: language,
	}
}

// TopicDeleted is raised when a topic and its dependent resources are
// removed
type TopicDeleted struct {
	BaseEvent
	TopicID string `json:"topic_id"`
	Scope   string `json:"scope"`
	Slug    string `json:"slug"`
}

// NewTopicDeleted creates a TopicDeleted event
func NewTopicDeleted(topicID, scope, slug string, timestamp time.Time) TopicDeleted {
	return TopicDeleted{
		BaseEvent: BaseEvent{
			AggregateID: topicID,
			EventType:   "topic.deleted",
			Timestamp:   timestamp,
			Version:     1,
		},
		TopicID: topicID,
		Scope:   scope,
		Slug:    slug,
	}
}

// Generation lifecycle events

// GenerationStarted is raised when a generation run begins, live or
// replayed
type GenerationStarted struct {
	BaseEvent
	TopicID   string `json:"topic_id"`
	MapID     string `json:"map_id"`
	SessionID string `json:"session_id"`
	FromCache bool   `json:"from_cache"`
}

// NewGenerationStarted creates a GenerationStarted event
func NewGenerationStarted(topicID, mapID, sessionID string, fromCache bool, timestamp time.Time) GenerationStarted {
	return GenerationStarted{
		BaseEvent: BaseEvent{
			AggregateID: topicID,
			EventType:   "generation.started",
			Timestamp:   timestamp,
			Version:     1,
		},
		TopicID:   topicID,
		MapID:     mapID,
		SessionID: sessionID,
		FromCache: fromCache,
	}
}

// GenerationCompleted is raised when a run reaches its terminal
// complete message
type GenerationCompleted struct {
	BaseEvent
	TopicID        string `json:"topic_id"`
	MapID          string `json:"map_id"`
	NodeCount      int    `json:"node_count"`
	SectionCount   int    `json:"section_count"`
	FromCache      bool   `json:"from_cache"`
	DurationMillis int64  `json:"duration_millis"`
}

// NewGenerationCompleted creates a GenerationCompleted event
func NewGenerationCompleted(topicID, mapID string, nodeCount, sectionCount int, fromCache bool, duration time.Duration, timestamp time.Time) GenerationCompleted {
	return GenerationCompleted{
		BaseEvent: BaseEvent{
			AggregateID: topicID,
			EventType:   "generation.completed",
			Timestamp:   timestamp,
			Version:     1,
		},
		TopicID:        topicID,
		MapID:          mapID,
		NodeCount:      nodeCount,
		SectionCount:   sectionCount,
		FromCache:      fromCache,
		DurationMillis: duration.Milliseconds(),
	}
}

// GenerationFailed is raised when a run ends with a transport or
// upstream error
type GenerationFailed struct {
	BaseEvent
	TopicID string `json:"topic_id"`
	MapID   string `json:"map_id"`
	Reason  string `json:"reason"`
}

// NewGenerationFailed creates a GenerationFailed event
func NewGenerationFailed(topicID, mapID, reason string, timestamp time.Time) GenerationFailed {
	return GenerationFailed{
		BaseEvent: BaseEvent{
			AggregateID: topicID,
			EventType:   "generation.failed",
			Timestamp:   timestamp,
			Version:     1,
		},
		TopicID: topicID,
		MapID:   mapID,
		Reason:  reason,
	}
}

// Check events

// CheckRecorded is raised when a comprehension check attempt is stored
type CheckRecorded struct {
	BaseEvent
	CheckID   string `json:"check_id"`
	ChapterID string `json:"chapter_id"`
	SectionID string `json:"section_id"`
	Passed    bool   `json:"passed"`
	Score     int    `json:"score"`
}

// NewCheckRecorded creates a CheckRecorded event
func NewCheckRecorded(checkID, chapterID, sectionID string, passed bool, score int, timestamp time.Time) CheckRecorded {
	return CheckRecorded{
		BaseEvent: BaseEvent{
			AggregateID: checkID,
			EventType:   "check.recorded",
			Timestamp:   timestamp,
			Version:     1,
		},
		CheckID:   checkID,
		ChapterID: chapterID,
		SectionID: sectionID,
		Passed:    passed,
		Score:     score,
	}
}
