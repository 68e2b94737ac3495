package queries

import "errors"

// ListTopicsQuery lists a session's topics, newest first by default.
type ListTopicsQuery struct {
	SessionID string `json:"session_id"`
	Search    string `json:"search,omitempty"`
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
	SortBy    string `json:"sort_by,omitempty"` // "created", "updated", "title"
	Order     string `json:"order,omitempty"`   // "asc", "desc"
}

// Validate validates the query
func (q ListTopicsQuery) Validate() error {
	if q.SessionID == "" {
		return errors.New("session ID is required")
	}
	if q.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	if q.Offset < 0 {
		return errors.New("offset cannot be negative")
	}
	if q.SortBy != "" && q.SortBy != "created" && q.SortBy != "updated" && q.SortBy != "title" {
		return errors.New("invalid sort field")
	}
	if q.Order != "" && q.Order != "asc" && q.Order != "desc" {
		return errors.New("invalid sort order")
	}
	return nil
}

// ListTopicsResult is one page of topics.
type ListTopicsResult struct {
	Topics []TopicSummary `json:"topics"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// TopicSummary is the list view of a topic.
type TopicSummary struct {
	ID        string `json:"id"`
	Slug      string `json:"slug"`
	Title     string `json:"title"`
	Language  string `json:"language"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}
