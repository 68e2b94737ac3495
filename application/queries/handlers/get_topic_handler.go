// Package handlers implements the read-side query handlers.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/application/queries"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

// GetTopicHandler serves single-topic lookups by slug.
type GetTopicHandler struct {
	topics ports.TopicRepository
	maps   ports.MindMapRepository
	logger *zap.Logger
}

// NewGetTopicHandler creates a new handler instance
func NewGetTopicHandler(
	topics ports.TopicRepository,
	maps ports.MindMapRepository,
	logger *zap.Logger,
) *GetTopicHandler {
	return &GetTopicHandler{
		topics: topics,
		maps:   maps,
		logger: logger,
	}
}

// Handle executes the get topic query
func (h *GetTopicHandler) Handle(ctx context.Context, query queries.GetTopicQuery) (*queries.GetTopicResult, error) {
	if err := query.Validate(); err != nil {
		return nil, pkgerrors.NewValidationError(err.Error())
	}

	topic, err := h.topics.FindBySlug(ctx, query.SessionID, query.Slug)
	if err != nil {
		return nil, err
	}

	result := &queries.GetTopicResult{
		ID:        topic.ID,
		Slug:      topic.Slug,
		Title:     topic.Title,
		Language:  topic.Language,
		CreatedAt: topic.CreatedAt.Format(time.RFC3339),
		UpdatedAt: topic.UpdatedAt.Format(time.RFC3339),
	}

	m, err := h.maps.GetLatestByTopic(ctx, topic.ID)
	switch {
	case err == nil:
		result.MapStatus = string(m.Status())
		result.NodeCount = m.NodeCount()
	case errors.Is(err, pkgerrors.ErrMindMapNotFound):
		// A topic nobody generated for yet is still a valid answer.
	default:
		return nil, fmt.Errorf("failed to load latest map: %w", err)
	}
	return result, nil
}
