package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	supa "github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/aggregates"
	"github.com/creatuluw/exploring.fyi-sub000/domain/versioning"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

const mapsTable = "mind_maps"

// MindMapStore implements the MindMapRepository port over PostgREST.
// At most one live map per topic relies on the partial unique index
// over (topic_id) for rows with status 'live'.
type MindMapStore struct {
	client *supa.Client
	logger *zap.Logger
}

// NewMindMapStore creates a new MindMapStore
func NewMindMapStore(client *supa.Client, logger *zap.Logger) ports.MindMapRepository {
	return &MindMapStore{
		client: client,
		logger: logger,
	}
}

// mapRow mirrors the mind_maps table
type mapRow struct {
	ID        string          `json:"id"`
	TopicID   string          `json:"topic_id"`
	TopicSlug string          `json:"topic_slug"`
	Title     string          `json:"title"`
	Status    string          `json:"status"`
	Graph     json.RawMessage `json:"graph"`
	NodeCount int             `json:"node_count"`
	EdgeCount int             `json:"edge_count"`
	Version   int             `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func mapToRow(m *aggregates.MindMap) (mapRow, error) {
	payload, err := versioning.EncodeStoredGraph(&versioning.StoredGraph{
		Status:   m.Status(),
		Nodes:    m.Nodes(),
		Edges:    m.Edges(),
		Chapters: m.Chapters(),
		Sections: m.Sections(),
	})
	if err != nil {
		return mapRow{}, fmt.Errorf("failed to encode graph payload: %w", err)
	}

	return mapRow{
		ID:        m.ID().String(),
		TopicID:   m.TopicID(),
		TopicSlug: m.TopicSlug(),
		Title:     m.Title(),
		Status:    string(m.Status()),
		Graph:     payload,
		NodeCount: m.NodeCount(),
		EdgeCount: m.EdgeCount(),
		Version:   m.Version(),
		CreatedAt: m.CreatedAt(),
		UpdatedAt: m.UpdatedAt(),
	}, nil
}

func rowToMap(row mapRow) (*aggregates.MindMap, error) {
	stored, err := versioning.DecodeStoredGraph(row.Graph)
	if err != nil {
		return nil, fmt.Errorf("failed to decode graph payload for map %s: %w", row.ID, err)
	}

	return aggregates.ReconstructMindMap(
		row.ID,
		row.TopicID,
		row.TopicSlug,
		row.Title,
		stored.Nodes,
		stored.Edges,
		stored.Chapters,
		stored.Sections,
		aggregates.MapStatus(row.Status),
		row.CreatedAt.Format(time.RFC3339),
		row.UpdatedAt.Format(time.RFC3339),
		row.Version,
		nil,
	)
}

// Create persists a new mind map. The live check keeps the common
// conflict case cheap; losing the remaining race trips the partial
// unique index and maps to the same error.
func (s *MindMapStore) Create(ctx context.Context, m *aggregates.MindMap) error {
	row, err := mapToRow(m)
	if err != nil {
		return err
	}

	if m.Status() == aggregates.StatusLive {
		var live []struct {
			ID string `json:"id"`
		}
		_, err := s.client.From(mapsTable).
			Select("id", "", false).
			Eq("topic_id", m.TopicID()).
			Eq("status", string(aggregates.StatusLive)).
			ExecuteTo(&live)
		if err != nil {
			return fmt.Errorf("failed to check live map: %w", err)
		}
		if len(live) > 0 {
			return pkgerrors.ErrLiveMindMapExists
		}
	}

	_, _, err = s.client.From(mapsTable).
		Insert(row, false, "", "minimal", "").
		Execute()
	if err != nil {
		if isUniqueViolation(err) {
			if m.Status() == aggregates.StatusLive {
				return pkgerrors.ErrLiveMindMapExists
			}
			return pkgerrors.ErrConcurrentModification
		}
		return fmt.Errorf("failed to create mind map: %w", err)
	}

	s.logger.Debug("mind map created",
		zap.String("map_id", m.ID().String()),
		zap.String("topic_id", m.TopicID()),
		zap.String("status", string(m.Status())),
	)
	return nil
}

// GetByID retrieves a mind map by its ID
func (s *MindMapStore) GetByID(ctx context.Context, id string) (*aggregates.MindMap, error) {
	var rows []mapRow
	_, err := s.client.From(mapsTable).
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get mind map %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, pkgerrors.ErrMindMapNotFound
	}
	return rowToMap(rows[0])
}

// GetLiveByTopic retrieves the single live map for a topic
func (s *MindMapStore) GetLiveByTopic(ctx context.Context, topicID string) (*aggregates.MindMap, error) {
	var rows []mapRow
	_, err := s.client.From(mapsTable).
		Select("*", "", false).
		Eq("topic_id", topicID).
		Eq("status", string(aggregates.StatusLive)).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get live map: %w", err)
	}
	if len(rows) == 0 {
		return nil, pkgerrors.ErrMindMapNotFound
	}
	return rowToMap(rows[0])
}

// GetLatestByTopic retrieves the most recent map for a topic in any
// status
func (s *MindMapStore) GetLatestByTopic(ctx context.Context, topicID string) (*aggregates.MindMap, error) {
	var rows []mapRow
	_, err := s.client.From(mapsTable).
		Select("*", "", false).
		Eq("topic_id", topicID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list maps for topic %s: %w", topicID, err)
	}
	if len(rows) == 0 {
		return nil, pkgerrors.ErrMindMapNotFound
	}

	latest := rows[0]
	for _, row := range rows[1:] {
		if row.UpdatedAt.After(latest.UpdatedAt) {
			latest = row
		}
	}
	return rowToMap(latest)
}

// UpdateGraph writes the graph columns under optimistic concurrency.
// The version filter makes the update conditional; zero affected rows
// means either the row is gone or someone else advanced the version,
// decided by one follow-up read.
func (s *MindMapStore) UpdateGraph(ctx context.Context, mapID string, graph *versioning.StoredGraph, expectedVersion int) error {
	payload, err := versioning.EncodeStoredGraph(graph)
	if err != nil {
		return fmt.Errorf("failed to encode graph payload: %w", err)
	}

	update := map[string]interface{}{
		"graph":      json.RawMessage(payload),
		"status":     string(graph.Status),
		"node_count": len(graph.Nodes),
		"edge_count": len(graph.Edges),
		"version":    expectedVersion + 1,
		"updated_at": time.Now().UTC(),
	}

	var updated []struct {
		ID string `json:"id"`
	}
	_, err = s.client.From(mapsTable).
		Update(update, "representation", "").
		Eq("id", mapID).
		Eq("version", strconv.Itoa(expectedVersion)).
		ExecuteTo(&updated)
	if err != nil {
		return fmt.Errorf("failed to update graph for map %s: %w", mapID, err)
	}
	if len(updated) > 0 {
		return nil
	}

	var rows []struct {
		ID string `json:"id"`
	}
	_, err = s.client.From(mapsTable).
		Select("id", "", false).
		Eq("id", mapID).
		ExecuteTo(&rows)
	if err != nil {
		return fmt.Errorf("failed to re-check map %s: %w", mapID, err)
	}
	if len(rows) == 0 {
		return pkgerrors.ErrMindMapNotFound
	}
	return pkgerrors.ErrConcurrentModification
}

// Delete removes a mind map; deleting an absent map is not an error
func (s *MindMapStore) Delete(ctx context.Context, id string) error {
	_, _, err := s.client.From(mapsTable).
		Delete("minimal", "").
		Eq("id", id).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to delete mind map %s: %w", id, err)
	}
	return nil
}

// DeleteByTopic removes all maps belonging to a topic
func (s *MindMapStore) DeleteByTopic(ctx context.Context, topicID string) error {
	_, _, err := s.client.From(mapsTable).
		Delete("minimal", "").
		Eq("topic_id", topicID).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to delete maps for topic %s: %w", topicID, err)
	}
	return nil
}
