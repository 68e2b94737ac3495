package handlers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/application/queries"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListTopicsHandler serves paged topic listings for one session.
type ListTopicsHandler struct {
	topics ports.TopicRepository
	logger *zap.Logger
}

// NewListTopicsHandler creates a new handler instance
func NewListTopicsHandler(topics ports.TopicRepository, logger *zap.Logger) *ListTopicsHandler {
	return &ListTopicsHandler{
		topics: topics,
		logger: logger,
	}
}

// Handle executes the list topics query
func (h *ListTopicsHandler) Handle(ctx context.Context, query queries.ListTopicsQuery) (*queries.ListTopicsResult, error) {
	if err := query.Validate(); err != nil {
		return nil, pkgerrors.NewValidationError(err.Error())
	}

	limit := query.Limit
	if limit == 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	orderBy := query.SortBy
	if orderBy == "" {
		orderBy = "created"
	}

	topics, err := h.topics.ListByScope(ctx, query.SessionID, ports.ListCriteria{
		Query:     query.Search,
		Limit:     limit,
		Offset:    query.Offset,
		OrderBy:   orderBy,
		OrderDesc: query.Order != "asc",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}

	result := &queries.ListTopicsResult{
		Topics: make([]queries.TopicSummary, 0, len(topics)),
		Limit:  limit,
		Offset: query.Offset,
	}
	for _, t := range topics {
		result.Topics = append(result.Topics, queries.TopicSummary{
			ID:        t.ID,
			Slug:      t.Slug,
			Title:     t.Title,
			Language:  t.Language,
			CreatedAt: t.CreatedAt.Format(time.RFC3339),
			UpdatedAt: t.UpdatedAt.Format(time.RFC3339),
		})
	}
	return result, nil
}
