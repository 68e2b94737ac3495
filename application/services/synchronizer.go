// Package services contains application services that coordinate domain
// operations across repository boundaries.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/domain/config"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/aggregates"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/entities"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/valueobjects"
	"github.com/creatuluw/exploring.fyi-sub000/domain/versioning"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

// TopicResolution is the result of resolving a topic request against storage.
// IsExisting distinguishes an adopted row from a freshly created one so that
// callers can decide between replaying cached content and generating anew.
type TopicResolution struct {
	Topic      *entities.Topic
	IsExisting bool
}

// Synchronizer reconciles in-memory generation state with persistent storage.
// Both entry points are idempotent under concurrent callers: topic resolution
// adopts whichever row wins a create race, and graph persistence prefers
// updating the live row over inserting a second one.
type Synchronizer struct {
	topics ports.TopicRepository
	maps   ports.MindMapRepository
	cfg    *config.DomainConfig
	logger *zap.Logger
}

// NewSynchronizer creates a synchronizer backed by the given repositories.
func NewSynchronizer(
	topics ports.TopicRepository,
	maps ports.MindMapRepository,
	cfg *config.DomainConfig,
	logger *zap.Logger,
) *Synchronizer {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &Synchronizer{
		topics: topics,
		maps:   maps,
		cfg:    cfg,
		logger: logger,
	}
}

// GetOrCreateTopic resolves a topic by normalized title within a scope,
// creating it with a collision-free slug when absent. Two concurrent callers
// with the same title both end up holding the same row: the loser of the
// create race re-reads and adopts the winner's topic.
func (s *Synchronizer) GetOrCreateTopic(ctx context.Context, scope, title, language string) (*TopicResolution, error) {
	normalized := valueobjects.Slugify(title)
	if normalized == "" {
		return nil, pkgerrors.ErrTopicTitleRequired
	}

	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxUpsertRetries; attempt++ {
		existing, err := s.topics.FindByTitle(ctx, scope, normalized)
		if err == nil {
			s.logger.Debug("adopted existing topic",
				zap.String("scope", scope),
				zap.String("slug", existing.Slug),
				zap.String("topicId", existing.ID))
			return &TopicResolution{Topic: existing, IsExisting: true}, nil
		}
		if !errors.Is(err, pkgerrors.ErrTopicNotFound) {
			return nil, fmt.Errorf("failed to look up topic by title: %w", err)
		}

		slug, err := valueobjects.UniqueSlugInScope(ctx, scope, title, s.topics.SlugExists, s.cfg.MaxSlugAttempts)
		if err != nil {
			return nil, err
		}

		topic, err := entities.NewTopic(scope, slug, title, language)
		if err != nil {
			return nil, err
		}

		if err := s.topics.Create(ctx, topic); err != nil {
			if pkgerrors.IsDomainConflict(err) {
				// Lost the race for this slug or title. Loop back to
				// re-read so we adopt whichever row landed first.
				s.logger.Debug("topic create conflicted, re-reading",
					zap.String("scope", scope),
					zap.String("slug", slug),
					zap.Int("attempt", attempt+1))
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("failed to create topic: %w", err)
		}

		s.logger.Info("topic created",
			zap.String("scope", scope),
			zap.String("slug", slug),
			zap.String("topicId", topic.ID))
		return &TopicResolution{Topic: topic, IsExisting: false}, nil
	}

	return nil, fmt.Errorf("topic resolution exhausted %d attempts: %w", s.cfg.MaxUpsertRetries, lastErr)
}

// UpsertGraph persists the mind map's current state, preferring an update of
// the topic's live row over inserting a new one. When a concurrent writer
// bumps the stored version or inserts the live row first, the write is
// retried against the fresh row, bounded by MaxUpsertRetries. At most one
// live map per topic survives regardless of interleaving.
func (s *Synchronizer) UpsertGraph(ctx context.Context, m *aggregates.MindMap) error {
	if m == nil {
		return pkgerrors.NewValidationError("mind map is required")
	}

	payload := &versioning.StoredGraph{
		Status:   m.Status(),
		Nodes:    m.Nodes(),
		Edges:    m.Edges(),
		Chapters: m.Chapters(),
		Sections: m.Sections(),
	}

	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxUpsertRetries; attempt++ {
		live, err := s.maps.GetLiveByTopic(ctx, m.TopicID())
		switch {
		case err == nil:
			updateErr := s.maps.UpdateGraph(ctx, live.ID().String(), payload, live.Version())
			if updateErr == nil {
				s.logger.Debug("graph updated",
					zap.String("mapId", live.ID().String()),
					zap.String("topicId", m.TopicID()),
					zap.Int("nodeCount", m.NodeCount()),
					zap.Int("attempt", attempt+1))
				return nil
			}
			if pkgerrors.IsDomainConflict(updateErr) {
				lastErr = updateErr
				continue
			}
			return fmt.Errorf("failed to update graph: %w", updateErr)

		case errors.Is(err, pkgerrors.ErrMindMapNotFound):
			createErr := s.maps.Create(ctx, m)
			if createErr == nil {
				s.logger.Debug("graph inserted",
					zap.String("mapId", m.ID().String()),
					zap.String("topicId", m.TopicID()),
					zap.Int("nodeCount", m.NodeCount()))
				return nil
			}
			if pkgerrors.IsDomainConflict(createErr) {
				// Another writer inserted the live row between our read
				// and write. Re-read and adopt it as the update target.
				lastErr = createErr
				continue
			}
			return fmt.Errorf("failed to insert graph: %w", createErr)

		default:
			return fmt.Errorf("failed to load live mind map for topic %s: %w", m.TopicID(), err)
		}
	}

	s.logger.Warn("graph upsert exhausted retries",
		zap.String("topicId", m.TopicID()),
		zap.Int("retries", s.cfg.MaxUpsertRetries),
		zap.Error(lastErr))
	return fmt.Errorf("graph upsert exhausted %d attempts: %w", s.cfg.MaxUpsertRetries, lastErr)
}

// CacheKey builds the replay cache key for a resolved topic. Language is part
// of the key so that the same topic generated in two languages caches twice.
func CacheKey(scope, topicSlug, language string) string {
	if language == "" {
		language = "en"
	}
	return strings.Join([]string{"graph", scope, topicSlug, language}, ":")
}
