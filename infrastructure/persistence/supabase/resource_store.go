// Package supabase persists topics, mind maps and reading content
// through PostgREST. PostgREST has no conditional writes, so the
// adapters here check before acting and lean on the schema's unique
// constraints to close the remaining race window; version checks ride
// on filtered updates instead of condition expressions.
package supabase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	supa "github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/entities"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

const topicsTable = "topics"

// TopicStore implements the TopicRepository port over PostgREST
type TopicStore struct {
	client *supa.Client
	logger *zap.Logger
}

// NewClient creates a Supabase client for the PostgREST adapters
func NewClient(url, key string) (*supa.Client, error) {
	client, err := supa.NewClient(url, key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return client, nil
}

// NewTopicStore creates a new TopicStore
func NewTopicStore(client *supa.Client, logger *zap.Logger) ports.TopicRepository {
	return &TopicStore{
		client: client,
		logger: logger,
	}
}

// topicRow mirrors the topics table
type topicRow struct {
	ID              string    `json:"id"`
	Scope           string    `json:"scope"`
	Slug            string    `json:"slug"`
	Title           string    `json:"title"`
	NormalizedTitle string    `json:"normalized_title"`
	Language        string    `json:"language"`
	SourceURL       string    `json:"source_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func topicToRow(topic *entities.Topic) topicRow {
	return topicRow{
		ID:              topic.ID,
		Scope:           topic.Scope,
		Slug:            topic.Slug,
		Title:           topic.Title,
		NormalizedTitle: topic.NormalizedTitle(),
		Language:        topic.Language,
		SourceURL:       topic.SourceURL,
		CreatedAt:       topic.CreatedAt,
		UpdatedAt:       topic.UpdatedAt,
	}
}

func rowToTopic(row topicRow) *entities.Topic {
	return &entities.Topic{
		ID:        row.ID,
		Scope:     row.Scope,
		Slug:      row.Slug,
		Title:     row.Title,
		Language:  row.Language,
		SourceURL: row.SourceURL,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

// isUniqueViolation reports whether a PostgREST error carries the
// Postgres unique_violation code
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}

func slugConflict(slug string) error {
	return pkgerrors.NewDomainError(
		pkgerrors.DomainConflictError,
		"TOPIC_EXISTS",
		"A topic with this slug already exists in the scope",
	).WithDetail("slug", slug)
}

// GetByID retrieves a topic by its ID
func (s *TopicStore) GetByID(ctx context.Context, id string) (*entities.Topic, error) {
	var rows []topicRow
	_, err := s.client.From(topicsTable).
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get topic %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, pkgerrors.ErrTopicNotFound
	}
	return rowToTopic(rows[0]), nil
}

// FindBySlug retrieves a topic by (scope, slug)
func (s *TopicStore) FindBySlug(ctx context.Context, scope, slug string) (*entities.Topic, error) {
	var rows []topicRow
	_, err := s.client.From(topicsTable).
		Select("*", "", false).
		Eq("scope", scope).
		Eq("slug", slug).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to find topic by slug: %w", err)
	}
	if len(rows) == 0 {
		return nil, pkgerrors.ErrTopicNotFound
	}
	return rowToTopic(rows[0]), nil
}

// FindByTitle retrieves a topic by (scope, normalized title)
func (s *TopicStore) FindByTitle(ctx context.Context, scope, normalizedTitle string) (*entities.Topic, error) {
	var rows []topicRow
	_, err := s.client.From(topicsTable).
		Select("*", "", false).
		Eq("scope", scope).
		Eq("normalized_title", normalizedTitle).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to find topic by title: %w", err)
	}
	if len(rows) == 0 {
		return nil, pkgerrors.ErrTopicNotFound
	}
	return rowToTopic(rows[0]), nil
}

// SlugExists reports whether a slug is taken within a scope
func (s *TopicStore) SlugExists(ctx context.Context, scope, slug string) (bool, error) {
	var rows []struct {
		ID string `json:"id"`
	}
	_, err := s.client.From(topicsTable).
		Select("id", "", false).
		Eq("scope", scope).
		Eq("slug", slug).
		ExecuteTo(&rows)
	if err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return len(rows) > 0, nil
}

// Create persists a new topic. The existence check keeps the common
// duplicate case cheap; the unique constraint on (scope, slug) closes
// the race window and still surfaces as the same conflict.
func (s *TopicStore) Create(ctx context.Context, topic *entities.Topic) error {
	exists, err := s.SlugExists(ctx, topic.Scope, topic.Slug)
	if err != nil {
		return err
	}
	if exists {
		return slugConflict(topic.Slug)
	}

	_, _, err = s.client.From(topicsTable).
		Insert(topicToRow(topic), false, "", "minimal", "").
		Execute()
	if err != nil {
		if isUniqueViolation(err) {
			return slugConflict(topic.Slug)
		}
		return fmt.Errorf("failed to create topic: %w", err)
	}

	s.logger.Debug("topic created",
		zap.String("topic_id", topic.ID),
		zap.String("scope", topic.Scope),
		zap.String("slug", topic.Slug),
	)
	return nil
}

// Update persists changes to an existing topic
func (s *TopicStore) Update(ctx context.Context, topic *entities.Topic) error {
	var updated []topicRow
	_, err := s.client.From(topicsTable).
		Update(topicToRow(topic), "representation", "").
		Eq("scope", topic.Scope).
		Eq("slug", topic.Slug).
		ExecuteTo(&updated)
	if err != nil {
		return fmt.Errorf("failed to update topic %s: %w", topic.ID, err)
	}
	if len(updated) == 0 {
		return pkgerrors.ErrTopicNotFound
	}
	return nil
}

// ListByScope retrieves a page of topics within a scope. Query
// filtering and ordering happen client side so the adapter behaves
// exactly like its DynamoDB counterpart.
func (s *TopicStore) ListByScope(ctx context.Context, scope string, criteria ports.ListCriteria) ([]*entities.Topic, error) {
	var rows []topicRow
	_, err := s.client.From(topicsTable).
		Select("*", "", false).
		Eq("scope", scope).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}

	topics := make([]*entities.Topic, 0, len(rows))
	query := strings.ToLower(criteria.Query)
	for _, row := range rows {
		if query != "" && !strings.Contains(strings.ToLower(row.Title), query) {
			continue
		}
		topics = append(topics, rowToTopic(row))
	}

	sortTopics(topics, criteria.OrderBy, criteria.OrderDesc)

	if criteria.Offset > 0 {
		if criteria.Offset >= len(topics) {
			return []*entities.Topic{}, nil
		}
		topics = topics[criteria.Offset:]
	}
	if criteria.Limit > 0 && criteria.Limit < len(topics) {
		topics = topics[:criteria.Limit]
	}
	return topics, nil
}

// Delete removes a topic
func (s *TopicStore) Delete(ctx context.Context, id string) error {
	var deleted []struct {
		ID string `json:"id"`
	}
	_, err := s.client.From(topicsTable).
		Delete("representation", "").
		Eq("id", id).
		ExecuteTo(&deleted)
	if err != nil {
		return fmt.Errorf("failed to delete topic %s: %w", id, err)
	}
	if len(deleted) == 0 {
		return pkgerrors.ErrTopicNotFound
	}
	return nil
}

func sortTopics(topics []*entities.Topic, orderBy string, desc bool) {
	var less func(a, b *entities.Topic) bool
	switch orderBy {
	case "title":
		less = func(a, b *entities.Topic) bool { return a.Title < b.Title }
	case "updated_at":
		less = func(a, b *entities.Topic) bool { return a.UpdatedAt.Before(b.UpdatedAt) }
	default:
		less = func(a, b *entities.Topic) bool { return a.CreatedAt.Before(b.CreatedAt) }
	}
	sort.SliceStable(topics, func(i, j int) bool {
		if desc {
			return less(topics[j], topics[i])
		}
		return less(topics[i], topics[j])
	})
}
