// Package handlers contains the command handlers of the application
// layer. The generation orchestrator is the heart of the write side:
// it decides between a fresh generation run and a replay, drives the
// streaming pipeline and leaves behind a durable, cacheable result.
package handlers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/commands"
	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/application/services"
	"github.com/creatuluw/exploring.fyi-sub000/domain/config"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/aggregates"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/entities"
	"github.com/creatuluw/exploring.fyi-sub000/domain/events"
	"github.com/creatuluw/exploring.fyi-sub000/domain/versioning"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

// GenerationResult is what a finished (or failed) run leaves behind
// for the caller.
type GenerationResult struct {
	Topic           *entities.Topic
	Map             *aggregates.MindMap
	FromCache       bool
	Completed       bool
	MessagesApplied int
	Duration        time.Duration
}

// GenerateMindMapOrchestrator coordinates one generation run end to
// end: topic resolution, the replay-or-generate decision, the per
// topic generation lock, the streaming pipeline, content persistence
// and the outbox hand-off.
type GenerateMindMapOrchestrator struct {
	synchronizer *services.Synchronizer
	pipeline     *services.Pipeline
	backend      ports.FrameSource
	cache        ports.ContentCache
	maps         ports.MindMapRepository
	content      ports.ContentRepository
	lock         ports.GenerationLock
	outbox       ports.OutboxStore
	cfg          *config.DomainConfig
	logger       *zap.Logger
}

// NewGenerateMindMapOrchestrator creates a new orchestrator instance
func NewGenerateMindMapOrchestrator(
	synchronizer *services.Synchronizer,
	pipeline *services.Pipeline,
	backend ports.FrameSource,
	cache ports.ContentCache,
	maps ports.MindMapRepository,
	content ports.ContentRepository,
	lock ports.GenerationLock,
	outbox ports.OutboxStore,
	cfg *config.DomainConfig,
	logger *zap.Logger,
) *GenerateMindMapOrchestrator {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &GenerateMindMapOrchestrator{
		synchronizer: synchronizer,
		pipeline:     pipeline,
		backend:      backend,
		cache:        cache,
		maps:         maps,
		content:      content,
		lock:         lock,
		outbox:       outbox,
		cfg:          cfg,
		logger:       logger,
	}
}

// Handle runs one generation. Progress snapshots are delivered through
// onProgress in message order; the callback also fires on the replay
// path, which is how replays stay indistinguishable from live runs.
func (o *GenerateMindMapOrchestrator) Handle(ctx context.Context, cmd commands.GenerateMindMapCommand, onProgress services.ProgressFunc) (*GenerationResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, pkgerrors.NewValidationError(err.Error())
	}

	resolution, err := o.synchronizer.GetOrCreateTopic(ctx, cmd.SessionID, cmd.Topic, cmd.NormalizedLanguage())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve topic: %w", err)
	}
	topic := resolution.Topic
	cacheKey := services.CacheKey(topic.Scope, topic.Slug, topic.Language)

	var source ports.FrameSource
	fromCache := false

	if resolution.IsExisting && !cmd.ForceRegenerate {
		if stored := o.lookupSealed(ctx, topic, cacheKey); stored != nil {
			source = services.NewReplaySource(stored, topic.Language, o.cfg, o.logger)
			fromCache = true
		}
	}

	if source == nil {
		resource := "generation:" + topic.ID
		acquired, lockErr := o.lock.Acquire(ctx, resource, cmd.SessionID)
		if lockErr != nil {
			return nil, fmt.Errorf("failed to acquire generation lock: %w", lockErr)
		}
		if !acquired {
			return nil, pkgerrors.ErrGenerationLocked
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := o.lock.Release(releaseCtx, resource, cmd.SessionID); err != nil {
				o.logger.Warn("failed to release generation lock",
					zap.String("resource", resource),
					zap.Error(err))
			}
		}()
		source = o.backend
	}

	m, err := aggregates.NewMindMap(topic.ID, topic.Slug, topic.Title, o.cfg)
	if err != nil {
		return nil, err
	}

	o.appendOutbox(ctx, []events.DomainEvent{
		events.NewGenerationStarted(topic.ID, m.ID().String(), cmd.SessionID, fromCache, time.Now()),
	})

	req := ports.GenerationRequest{
		Topic:     topic.Title,
		SourceURL: cmd.SourceURL,
		Language:  topic.Language,
		SessionID: cmd.SessionID,
	}

	// Replays rebuild the aggregate from rows that already exist, so
	// they must not write anything back.
	policy := versioning.DefaultFlushPolicy()
	if fromCache {
		policy = versioning.NeverFlushPolicy()
	}

	start := time.Now()
	runResult, runErr := o.pipeline.Run(ctx, m, source, req, policy, onProgress)
	elapsed := time.Since(start)

	result := &GenerationResult{
		Topic:     topic,
		Map:       m,
		FromCache: fromCache,
		Duration:  elapsed,
	}
	if runResult != nil {
		result.Completed = runResult.Completed
		result.MessagesApplied = runResult.MessagesApplied
	}

	if runErr != nil {
		failure := []events.DomainEvent{
			events.NewGenerationFailed(topic.ID, m.ID().String(), runErr.Error(), time.Now()),
		}
		if !fromCache {
			failure = append(m.GetUncommittedEvents(), failure...)
		}
		o.appendOutbox(ctx, failure)
		m.MarkEventsAsCommitted()
		return result, runErr
	}

	if !fromCache {
		o.persistContent(ctx, topic.ID, m)
	}

	if result.Completed && !fromCache {
		stored := &versioning.StoredGraph{
			Status:   m.Status(),
			Nodes:    m.Nodes(),
			Edges:    m.Edges(),
			Chapters: m.Chapters(),
			Sections: m.Sections(),
		}
		if err := o.cache.Put(ctx, cacheKey, stored); err != nil {
			o.logger.Warn("failed to cache generation result",
				zap.String("cacheKey", cacheKey),
				zap.Error(err))
		}
	}

	// The original run already published the aggregate's events; a
	// replay only announces its own completion.
	var lifecycle []events.DomainEvent
	if !fromCache {
		lifecycle = m.GetUncommittedEvents()
	}
	if !resolution.IsExisting {
		lifecycle = append([]events.DomainEvent{
			events.NewTopicCreated(topic.ID, topic.Scope, topic.Slug, topic.Title, topic.Language, topic.CreatedAt),
		}, lifecycle...)
	}
	if result.Completed {
		lifecycle = append(lifecycle, events.NewGenerationCompleted(
			topic.ID, m.ID().String(), m.NodeCount(), len(m.Sections()), fromCache, elapsed, time.Now()))
	}
	o.appendOutbox(ctx, lifecycle)
	m.MarkEventsAsCommitted()

	o.logger.Info("generation run finished",
		zap.String("topicId", topic.ID),
		zap.String("mapId", m.ID().String()),
		zap.Bool("fromCache", fromCache),
		zap.Bool("completed", result.Completed),
		zap.Int("nodeCount", m.NodeCount()),
		zap.Duration("duration", elapsed))
	return result, nil
}

// lookupSealed finds a sealed result to replay: first the cache, then
// the newest stored map. A storage hit backfills the cache.
func (o *GenerateMindMapOrchestrator) lookupSealed(ctx context.Context, topic *entities.Topic, cacheKey string) *versioning.StoredGraph {
	if stored, ok := o.cache.Get(ctx, cacheKey); ok && stored.Status == aggregates.StatusSealed {
		o.logger.Debug("replaying from cache", zap.String("cacheKey", cacheKey))
		return stored
	}

	latest, err := o.maps.GetLatestByTopic(ctx, topic.ID)
	if err != nil || !latest.IsComplete() {
		return nil
	}

	stored := &versioning.StoredGraph{
		Status:   latest.Status(),
		Nodes:    latest.Nodes(),
		Edges:    latest.Edges(),
		Chapters: latest.Chapters(),
		Sections: latest.Sections(),
	}
	if err := o.cache.Put(ctx, cacheKey, stored); err != nil {
		o.logger.Warn("failed to backfill cache",
			zap.String("cacheKey", cacheKey),
			zap.Error(err))
	}
	o.logger.Debug("replaying from storage", zap.String("mapId", latest.ID().String()))
	return stored
}

// persistContent writes chapters and sections to the content store so
// the read side can serve them without loading the whole graph.
func (o *GenerateMindMapOrchestrator) persistContent(ctx context.Context, topicID string, m *aggregates.MindMap) {
	if chapters := m.Chapters(); len(chapters) > 0 {
		if err := o.content.SaveChapters(ctx, topicID, chapters); err != nil {
			o.logger.Warn("failed to persist chapters",
				zap.String("topicId", topicID),
				zap.Error(err))
		}
	}
	for _, section := range m.Sections() {
		if err := o.content.SaveSection(ctx, topicID, section); err != nil {
			o.logger.Warn("failed to persist section",
				zap.String("topicId", topicID),
				zap.String("sectionId", section.ID),
				zap.Error(err))
		}
	}
}

func (o *GenerateMindMapOrchestrator) appendOutbox(ctx context.Context, evts []events.DomainEvent) {
	if len(evts) == 0 {
		return
	}
	if err := o.outbox.Append(ctx, evts); err != nil {
		// The relay never sees these, but the run itself is fine.
		o.logger.Warn("failed to append outbox events",
			zap.Int("eventCount", len(evts)),
			zap.Error(err))
	}
}
