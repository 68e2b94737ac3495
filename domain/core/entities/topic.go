package entities

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/creatuluw/exploring.fyi-sub000/domain/core/valueobjects"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

// Topic is the persisted resource a mind map and its reading content
// hang off. Uniqueness is per (scope, slug), where the scope is the
// anonymous session that created the topic.
type Topic struct {
	ID        string    `json:"id"`
	Scope     string    `json:"scope"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Language  string    `json:"language"`
	SourceURL string    `json:"sourceUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewTopic creates a topic resource with a resolver-derived slug
func NewTopic(scope, slug, title, language string) (*Topic, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, pkgerrors.ErrTopicTitleRequired
	}
	if scope == "" || slug == "" {
		return nil, pkgerrors.ErrTopicNotFound
	}
	if language == "" {
		language = "en"
	}

	now := time.Now()
	return &Topic{
		ID:        uuid.New().String(),
		Scope:     scope,
		Slug:      slug,
		Title:     title,
		Language:  language,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NormalizedTitle returns the comparison key used by get-or-create
// lookups
func (t *Topic) NormalizedTitle() string {
	return valueobjects.Slugify(t.Title)
}

// Touch updates the modification timestamp
func (t *Topic) Touch() {
	t.UpdatedAt = time.Now()
}
