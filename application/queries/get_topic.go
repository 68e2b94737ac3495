// Package queries defines the read side of the application: each query
// names its parameters, validation and result shape. Handlers live in
// the handlers subpackage.
package queries

import "errors"

// GetTopicQuery fetches one topic of a session by slug.
type GetTopicQuery struct {
	SessionID string `json:"session_id"`
	Slug      string `json:"slug"`
}

// Validate validates the query
func (q GetTopicQuery) Validate() error {
	if q.SessionID == "" {
		return errors.New("session ID is required")
	}
	if q.Slug == "" {
		return errors.New("topic slug is required")
	}
	return nil
}

// GetTopicResult describes a topic along with the state of its most
// recent map. MapStatus is empty while no generation ran yet.
type GetTopicResult struct {
	ID        string `json:"id"`
	Slug      string `json:"slug"`
	Title     string `json:"title"`
	Language  string `json:"language"`
	MapStatus string `json:"mapStatus,omitempty"`
	NodeCount int    `json:"nodeCount"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}
