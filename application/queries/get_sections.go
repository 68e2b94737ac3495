package queries

import (
	"errors"

	"github.com/creatuluw/exploring.fyi-sub000/domain/core/entities"
)

// GetSectionsQuery fetches a topic's reading content, optionally
// narrowed to one chapter.
type GetSectionsQuery struct {
	SessionID string `json:"session_id"`
	TopicID   string `json:"topic_id"`
	ChapterID string `json:"chapter_id,omitempty"`
}

// Validate validates the query
func (q GetSectionsQuery) Validate() error {
	if q.SessionID == "" {
		return errors.New("session ID is required")
	}
	if q.TopicID == "" {
		return errors.New("topic ID is required")
	}
	return nil
}

// GetSectionsResult carries chapters in outline order and their
// sections in reading order.
type GetSectionsResult struct {
	Chapters []ChapterProgress          `json:"chapters"`
	Sections []*entities.ContentSection `json:"sections"`
}

// ChapterProgress is a chapter plus the session's check history
// against it.
type ChapterProgress struct {
	ID           string       `json:"id"`
	Index        int          `json:"index"`
	Title        string       `json:"title"`
	SectionCount int          `json:"sectionCount"`
	Checks       CheckSummary `json:"checks"`
}

// CheckSummary condenses a chapter's check attempts.
type CheckSummary struct {
	Attempts  int    `json:"attempts"`
	BestScore int    `json:"bestScore"`
	Passed    bool   `json:"passed"`
	LastAt    string `json:"lastAt,omitempty"`
}
