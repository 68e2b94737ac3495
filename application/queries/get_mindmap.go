package queries

import (
	"errors"

	"github.com/creatuluw/exploring.fyi-sub000/domain/core/entities"
)

// GetMindMapQuery fetches the most recent mind map of a topic.
type GetMindMapQuery struct {
	SessionID string `json:"session_id"`
	TopicID   string `json:"topic_id"`
}

// Validate validates the query
func (q GetMindMapQuery) Validate() error {
	if q.SessionID == "" {
		return errors.New("session ID is required")
	}
	if q.TopicID == "" {
		return errors.New("topic ID is required")
	}
	return nil
}

// GetMindMapResult carries the renderable graph. Nodes and edges keep
// their entity shape; positions are final and ready to draw.
type GetMindMapResult struct {
	MapID     string           `json:"mapId"`
	TopicID   string           `json:"topicId"`
	Title     string           `json:"title"`
	Status    string           `json:"status"`
	Failure   string           `json:"failure,omitempty"`
	Version   int              `json:"version"`
	Nodes     []*entities.Node `json:"nodes"`
	Edges     []*entities.Edge `json:"edges"`
	Stats     MapStats         `json:"stats"`
	UpdatedAt string           `json:"updatedAt"`
}

// MapStats summarizes the graph for list views and dashboards.
type MapStats struct {
	NodeCount  int `json:"nodeCount"`
	EdgeCount  int `json:"edgeCount"`
	MaxLevel   int `json:"maxLevel"`
	Expandable int `json:"expandable"`
}
