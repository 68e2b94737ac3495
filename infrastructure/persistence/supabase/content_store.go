package supabase

import (
	"context"
	"fmt"
	"sort"

	supa "github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/entities"
)

const (
	chaptersTable = "chapters"
	sectionsTable = "sections"
)

// ContentStore implements the ContentRepository port over PostgREST
type ContentStore struct {
	client *supa.Client
	logger *zap.Logger
}

// NewContentStore creates a new ContentStore
func NewContentStore(client *supa.Client, logger *zap.Logger) ports.ContentRepository {
	return &ContentStore{
		client: client,
		logger: logger,
	}
}

// chapterRow mirrors the chapters table, unique on
// (topic_id, chapter_index)
type chapterRow struct {
	TopicID      string `json:"topic_id"`
	ChapterID    string `json:"chapter_id"`
	ChapterIndex int    `json:"chapter_index"`
	Title        string `json:"title"`
}

// sectionRow mirrors the sections table, unique on
// (topic_id, chapter_index, paragraph_index)
type sectionRow struct {
	TopicID        string `json:"topic_id"`
	SectionID      string `json:"section_id"`
	ChapterID      string `json:"chapter_id"`
	ChapterIndex   int    `json:"chapter_index"`
	ParagraphIndex int    `json:"paragraph_index"`
	Title          string `json:"title"`
	Content        string `json:"content"`
	Status         string `json:"status"`
}

// SaveChapters persists a topic's table of contents; re-saving the
// outline replaces chapters in place via upsert
func (s *ContentStore) SaveChapters(ctx context.Context, topicID string, chapters []*entities.Chapter) error {
	if len(chapters) == 0 {
		return nil
	}

	rows := make([]chapterRow, 0, len(chapters))
	for _, ch := range chapters {
		rows = append(rows, chapterRow{
			TopicID:      topicID,
			ChapterID:    ch.ID,
			ChapterIndex: ch.Index,
			Title:        ch.Title,
		})
	}

	_, _, err := s.client.From(chaptersTable).
		Insert(rows, true, "topic_id,chapter_index", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to save chapters for topic %s: %w", topicID, err)
	}

	s.logger.Debug("chapters saved",
		zap.String("topic_id", topicID),
		zap.Int("count", len(chapters)),
	)
	return nil
}

// SaveSection persists one section, replacing any prior state at the
// same position
func (s *ContentStore) SaveSection(ctx context.Context, topicID string, section *entities.ContentSection) error {
	row := sectionRow{
		TopicID:        topicID,
		SectionID:      section.ID,
		ChapterID:      section.ChapterID,
		ChapterIndex:   section.ChapterIndex,
		ParagraphIndex: section.ParagraphIndex,
		Title:          section.Title,
		Content:        section.Content,
		Status:         string(section.Status),
	}

	_, _, err := s.client.From(sectionsTable).
		Insert(row, true, "topic_id,chapter_index,paragraph_index", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to save section %s: %w", section.ID, err)
	}
	return nil
}

// GetChapters retrieves a topic's chapters in outline order
func (s *ContentStore) GetChapters(ctx context.Context, topicID string) ([]*entities.Chapter, error) {
	var rows []chapterRow
	_, err := s.client.From(chaptersTable).
		Select("*", "", false).
		Eq("topic_id", topicID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get chapters for topic %s: %w", topicID, err)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].ChapterIndex < rows[j].ChapterIndex })

	chapters := make([]*entities.Chapter, 0, len(rows))
	for _, row := range rows {
		chapters = append(chapters, &entities.Chapter{
			ID:    row.ChapterID,
			Index: row.ChapterIndex,
			Title: row.Title,
		})
	}
	return chapters, nil
}

// GetSections retrieves a topic's sections in delivery order
func (s *ContentStore) GetSections(ctx context.Context, topicID string) ([]*entities.ContentSection, error) {
	var rows []sectionRow
	_, err := s.client.From(sectionsTable).
		Select("*", "", false).
		Eq("topic_id", topicID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get sections for topic %s: %w", topicID, err)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ChapterIndex != rows[j].ChapterIndex {
			return rows[i].ChapterIndex < rows[j].ChapterIndex
		}
		return rows[i].ParagraphIndex < rows[j].ParagraphIndex
	})

	sections := make([]*entities.ContentSection, 0, len(rows))
	for _, row := range rows {
		sections = append(sections, &entities.ContentSection{
			ID:             row.SectionID,
			ChapterID:      row.ChapterID,
			ChapterIndex:   row.ChapterIndex,
			ParagraphIndex: row.ParagraphIndex,
			Title:          row.Title,
			Content:        row.Content,
			Status:         entities.SectionStatus(row.Status),
		})
	}
	return sections, nil
}

// DeleteByTopic removes all content belonging to a topic
func (s *ContentStore) DeleteByTopic(ctx context.Context, topicID string) error {
	if _, _, err := s.client.From(sectionsTable).
		Delete("minimal", "").
		Eq("topic_id", topicID).
		Execute(); err != nil {
		return fmt.Errorf("failed to delete sections for topic %s: %w", topicID, err)
	}
	if _, _, err := s.client.From(chaptersTable).
		Delete("minimal", "").
		Eq("topic_id", topicID).
		Execute(); err != nil {
		return fmt.Errorf("failed to delete chapters for topic %s: %w", topicID, err)
	}
	return nil
}
