package entities

import (
	"strings"

	"github.com/creatuluw/exploring.fyi-sub000/domain/core/valueobjects"
)

// SectionStatus tracks how far a reading paragraph has streamed
type SectionStatus string

const (
	SectionOutlined  SectionStatus = "outlined"
	SectionStreaming SectionStatus = "streaming"
	SectionComplete  SectionStatus = "complete"
)

// Chapter is one table-of-contents entry of a topic's reading content
type Chapter struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
	Title string `json:"title"`
}

// NewChapter derives a chapter from the topic slug and its outline
// position. The id is a pure function of both, so re-deriving it is
// idempotent.
func NewChapter(topicSlug string, index int, title string) *Chapter {
	return &Chapter{
		ID:    valueobjects.ChapterID(topicSlug, index),
		Index: index,
		Title: strings.TrimSpace(title),
	}
}

// ContentSection is one reading paragraph, keyed by its stable derived
// id. Content accretes by id, never by position in a list.
type ContentSection struct {
	ID             string        `json:"id"`
	ChapterID      string        `json:"chapterId"`
	ChapterIndex   int           `json:"chapterIndex"`
	ParagraphIndex int           `json:"paragraphIndex"`
	Title          string        `json:"title,omitempty"`
	Content        string        `json:"content"`
	Status         SectionStatus `json:"status"`
}

// NewContentSection creates a paragraph section under a chapter
func NewContentSection(chapterID string, chapterIndex, paragraphIndex int, title, content string) *ContentSection {
	status := SectionStreaming
	if content != "" {
		status = SectionComplete
	}

	return &ContentSection{
		ID:             valueobjects.ParagraphID(chapterID, paragraphIndex),
		ChapterID:      chapterID,
		ChapterIndex:   chapterIndex,
		ParagraphIndex: paragraphIndex,
		Title:          strings.TrimSpace(title),
		Content:        content,
		Status:         status,
	}
}

// WithDelta returns a copy with the delta appended to the content
func (s *ContentSection) WithDelta(delta string) *ContentSection {
	clone := *s
	clone.Content += delta
	clone.Status = SectionStreaming
	return &clone
}

// WithContent returns a copy with the content replaced
func (s *ContentSection) WithContent(title, content string) *ContentSection {
	clone := *s
	if title != "" {
		clone.Title = strings.TrimSpace(title)
	}
	clone.Content = content
	clone.Status = SectionComplete
	return &clone
}

// Completed returns a copy marked complete
func (s *ContentSection) Completed() *ContentSection {
	clone := *s
	clone.Status = SectionComplete
	return &clone
}

// Clone returns a copy of the section
func (s *ContentSection) Clone() *ContentSection {
	clone := *s
	return &clone
}
