package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/commands"
	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/application/sagas"
	"github.com/creatuluw/exploring.fyi-sub000/application/services"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/aggregates"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/entities"
	"github.com/creatuluw/exploring.fyi-sub000/domain/events"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

// DeleteTopicHandler removes a topic and cascades over everything
// derived from it. The removals run as a saga: the topic row goes
// last, and if it cannot be deleted the earlier removals are undone
// from an in-memory snapshot so the topic stays renderable.
type DeleteTopicHandler struct {
	topics  ports.TopicRepository
	maps    ports.MindMapRepository
	content ports.ContentRepository
	cache   ports.ContentCache
	outbox  ports.OutboxStore
	logger  *zap.Logger
}

// NewDeleteTopicHandler creates a new handler instance
func NewDeleteTopicHandler(
	topics ports.TopicRepository,
	maps ports.MindMapRepository,
	content ports.ContentRepository,
	cache ports.ContentCache,
	outbox ports.OutboxStore,
	logger *zap.Logger,
) *DeleteTopicHandler {
	return &DeleteTopicHandler{
		topics:  topics,
		maps:    maps,
		content: content,
		cache:   cache,
		outbox:  outbox,
		logger:  logger,
	}
}

// Handle executes the delete topic command
func (h *DeleteTopicHandler) Handle(ctx context.Context, cmd commands.DeleteTopicCommand) error {
	if err := cmd.Validate(); err != nil {
		return pkgerrors.NewValidationError(err.Error())
	}

	topic, err := h.topics.GetByID(ctx, cmd.TopicID)
	if err != nil {
		return err
	}
	if topic.Scope != cmd.SessionID {
		return pkgerrors.ErrTopicNotFound
	}

	var (
		latest   *aggregates.MindMap
		chapters []*entities.Chapter
		sections []*entities.ContentSection
	)
	cacheKey := services.CacheKey(topic.Scope, topic.Slug, topic.Language)

	cascade := sagas.New("topic-delete", h.logger).
		Then(sagas.Step{
			Name: "snapshot",
			Run: func(ctx context.Context) error {
				if m, err := h.maps.GetLatestByTopic(ctx, topic.ID); err == nil {
					latest = m
				}
				var err error
				if chapters, err = h.content.GetChapters(ctx, topic.ID); err != nil {
					h.logger.Warn("snapshot skipped chapters", zap.Error(err))
				}
				if sections, err = h.content.GetSections(ctx, topic.ID); err != nil {
					h.logger.Warn("snapshot skipped sections", zap.Error(err))
				}
				return nil
			},
		}).
		Then(sagas.Step{
			Name: "drop-cache",
			Run: func(ctx context.Context) error {
				// The cache is derived state; a failed drop only
				// delays eviction.
				if err := h.cache.Delete(ctx, cacheKey); err != nil {
					h.logger.Warn("failed to drop cached graph",
						zap.String("cacheKey", cacheKey),
						zap.Error(err))
				}
				return nil
			},
		}).
		Then(sagas.Step{
			Name:       "delete-content",
			Attempts:   2,
			RetryDelay: 100 * time.Millisecond,
			Run: func(ctx context.Context) error {
				return h.content.DeleteByTopic(ctx, topic.ID)
			},
			Undo: func(ctx context.Context) error {
				if len(chapters) > 0 {
					if err := h.content.SaveChapters(ctx, topic.ID, chapters); err != nil {
						return err
					}
				}
				for _, section := range sections {
					if err := h.content.SaveSection(ctx, topic.ID, section); err != nil {
						return err
					}
				}
				return nil
			},
		}).
		Then(sagas.Step{
			Name:       "delete-maps",
			Attempts:   2,
			RetryDelay: 100 * time.Millisecond,
			Run: func(ctx context.Context) error {
				return h.maps.DeleteByTopic(ctx, topic.ID)
			},
			Undo: func(ctx context.Context) error {
				if latest == nil {
					return nil
				}
				return h.maps.Create(ctx, latest)
			},
		}).
		Then(sagas.Step{
			Name:       "delete-topic",
			Attempts:   2,
			RetryDelay: 100 * time.Millisecond,
			Run: func(ctx context.Context) error {
				return h.topics.Delete(ctx, topic.ID)
			},
		})

	if err := cascade.Execute(ctx); err != nil {
		return err
	}

	evt := events.NewTopicDeleted(topic.ID, topic.Scope, topic.Slug, time.Now())
	if err := h.outbox.Append(ctx, []events.DomainEvent{evt}); err != nil {
		h.logger.Warn("failed to append topic deleted event",
			zap.String("topicId", topic.ID),
			zap.Error(err))
	}

	h.logger.Info("topic deleted",
		zap.String("topicId", topic.ID),
		zap.String("scope", topic.Scope),
		zap.String("slug", topic.Slug))
	return nil
}
