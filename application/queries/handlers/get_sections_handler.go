package handlers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/application/queries"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/entities"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

// GetSectionsHandler serves a topic's reading content together with
// the session's comprehension check progress per chapter.
type GetSectionsHandler struct {
	topics  ports.TopicRepository
	content ports.ContentRepository
	checks  ports.CheckRepository
	logger  *zap.Logger
}

// NewGetSectionsHandler creates a new handler instance
func NewGetSectionsHandler(
	topics ports.TopicRepository,
	content ports.ContentRepository,
	checks ports.CheckRepository,
	logger *zap.Logger,
) *GetSectionsHandler {
	return &GetSectionsHandler{
		topics:  topics,
		content: content,
		checks:  checks,
		logger:  logger,
	}
}

// Handle executes the get sections query
func (h *GetSectionsHandler) Handle(ctx context.Context, query queries.GetSectionsQuery) (*queries.GetSectionsResult, error) {
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

	chapters, err := h.content.GetChapters(ctx, topic.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chapters: %w", err)
	}
	sections, err := h.content.GetSections(ctx, topic.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sections: %w", err)
	}

	counts := make(map[string]int, len(chapters))
	var selected []*entities.ContentSection
	for _, s := range sections {
		counts[s.ChapterID]++
		if query.ChapterID == "" || s.ChapterID == query.ChapterID {
			selected = append(selected, s)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		if selected[i].ChapterIndex != selected[j].ChapterIndex {
			return selected[i].ChapterIndex < selected[j].ChapterIndex
		}
		return selected[i].ParagraphIndex < selected[j].ParagraphIndex
	})

	progress := make([]queries.ChapterProgress, 0, len(chapters))
	for _, ch := range chapters {
		if query.ChapterID != "" && ch.ID != query.ChapterID {
			continue
		}
		progress = append(progress, queries.ChapterProgress{
			ID:           ch.ID,
			Index:        ch.Index,
			Title:        ch.Title,
			SectionCount: counts[ch.ID],
			Checks:       h.summarizeChecks(ctx, ch.ID),
		})
	}
	sort.SliceStable(progress, func(i, j int) bool {
		return progress[i].Index < progress[j].Index
	})

	return &queries.GetSectionsResult{
		Chapters: progress,
		Sections: selected,
	}, nil
}

// summarizeChecks folds a chapter's attempt history into one line.
// History problems degrade to an empty summary rather than failing the
// whole content read.
func (h *GetSectionsHandler) summarizeChecks(ctx context.Context, chapterID string) queries.CheckSummary {
	attempts, err := h.checks.ListByChapter(ctx, chapterID)
	if err != nil {
		h.logger.Warn("failed to load check history",
			zap.String("chapterId", chapterID),
			zap.Error(err))
		return queries.CheckSummary{}
	}

	summary := queries.CheckSummary{Attempts: len(attempts)}
	for _, a := range attempts {
		if a.Score > summary.BestScore {
			summary.BestScore = a.Score
		}
		if a.Passed {
			summary.Passed = true
		}
	}
	if len(attempts) > 0 {
		// ListByChapter returns newest first.
		summary.LastAt = attempts[0].AnsweredAt.Format(time.RFC3339)
	}
	return summary
}
