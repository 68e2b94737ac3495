package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/application/queries"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

// GetMindMapHandler serves the renderable graph of a topic's most
// recent map, whatever its status. Live maps answer with the progress
// so far; failed maps answer with the remnant and the failure reason.
type GetMindMapHandler struct {
	topics ports.TopicRepository
	maps   ports.MindMapRepository
	logger *zap.Logger
}

// NewGetMindMapHandler creates a new handler instance
func NewGetMindMapHandler(
	topics ports.TopicRepository,
	maps ports.MindMapRepository,
	logger *zap.Logger,
) *GetMindMapHandler {
	return &GetMindMapHandler{
		topics: topics,
		maps:   maps,
		logger: logger,
	}
}

// Handle executes the get mind map query
func (h *GetMindMapHandler) Handle(ctx context.Context, query queries.GetMindMapQuery) (*queries.GetMindMapResult, error) {
	if err := query.Validate(); err != nil {
		return nil, pkgerrors.NewValidationError(err.Error())
	}

	topic, err := h.topics.GetByID(ctx, query.TopicID)
	if err != nil {
		return nil, err
	}
	if topic.Scope != query.SessionID {
		return nil, pkgerrors.ErrTopicNotFound
	}

	m, err := h.maps.GetLatestByTopic(ctx, topic.ID)
	if err != nil {
		return nil, err
	}

	nodes := m.Nodes()
	stats := queries.MapStats{
		NodeCount: len(nodes),
		EdgeCount: m.EdgeCount(),
	}
	for _, n := range nodes {
		if n.Level > stats.MaxLevel {
			stats.MaxLevel = n.Level
		}
		if n.Expandable {
			stats.Expandable++
		}
	}

	return &queries.GetMindMapResult{
		MapID:     m.ID().String(),
		TopicID:   topic.ID,
		Title:     m.Title(),
		Status:    string(m.Status()),
		Failure:   m.Failure(),
		Version:   m.Version(),
		Nodes:     nodes,
		Edges:     m.Edges(),
		Stats:     stats,
		UpdatedAt: m.UpdatedAt().Format(time.RFC3339),
	}, nil
}
