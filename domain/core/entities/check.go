package entities

import (
	"time"

	"github.com/creatuluw/exploring.fyi-sub000/domain/core/valueobjects"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

// Check records one comprehension check attempt against a chapter.
// Check ids embed a timestamp, so attempts accumulate as history
// instead of overwriting each other.
type Check struct {
	ID         string    `json:"id"`
	ChapterID  string    `json:"chapterId"`
	SectionID  string    `json:"sectionId,omitempty"`
	Passed     bool      `json:"passed"`
	Score      int       `json:"score"`
	AnsweredAt time.Time `json:"answeredAt"`
}

// NewCheck records a check attempt
func NewCheck(chapterID, sectionID string, passed bool, score int) (*Check, error) {
	if chapterID == "" {
		return nil, pkgerrors.ErrParagraphNotFound
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return &Check{
		ID:         valueobjects.CheckID(chapterID),
		ChapterID:  chapterID,
		SectionID:  sectionID,
		Passed:     passed,
		Score:      score,
		AnsweredAt: time.Now(),
	}, nil
}
