package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/domain/config"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/aggregates"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/entities"
	"github.com/creatuluw/exploring.fyi-sub000/domain/streaming"
	"github.com/creatuluw/exploring.fyi-sub000/domain/versioning"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

// memTopicRepo is an in-memory TopicRepository with optional hooks for
// simulating races.
type memTopicRepo struct {
	mu       sync.Mutex
	topics   []*entities.Topic
	onCreate func(topic *entities.Topic) error
}

func (r *memTopicRepo) GetByID(ctx context.Context, id string) (*entities.Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.topics {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, pkgerrors.ErrTopicNotFound
}

func (r *memTopicRepo) FindBySlug(ctx context.Context, scope, slug string) (*entities.Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.topics {
		if t.Scope == scope && t.Slug == slug {
			return t, nil
		}
	}
	return nil, pkgerrors.ErrTopicNotFound
}

func (r *memTopicRepo) FindByTitle(ctx context.Context, scope, normalizedTitle string) (*entities.Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.topics {
		if t.Scope == scope && t.NormalizedTitle() == normalizedTitle {
			return t, nil
		}
	}
	return nil, pkgerrors.ErrTopicNotFound
}

func (r *memTopicRepo) SlugExists(ctx context.Context, scope, slug string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.topics {
		if t.Scope == scope && t.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (r *memTopicRepo) Create(ctx context.Context, topic *entities.Topic) error {
	if r.onCreate != nil {
		if err := r.onCreate(topic); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.topics {
		if t.Scope == topic.Scope && t.Slug == topic.Slug {
			return pkgerrors.NewDomainError(pkgerrors.DomainConflictError, "TOPIC_EXISTS", "topic already exists")
		}
	}
	r.topics = append(r.topics, topic)
	return nil
}

func (r *memTopicRepo) Update(ctx context.Context, topic *entities.Topic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, t := range r.topics {
		if t.ID == topic.ID {
			r.topics[i] = topic
			return nil
		}
	}
	return pkgerrors.ErrTopicNotFound
}

func (r *memTopicRepo) ListByScope(ctx context.Context, scope string, criteria ports.ListCriteria) ([]*entities.Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.Topic
	for _, t := range r.topics {
		if t.Scope == scope {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memTopicRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, t := range r.topics {
		if t.ID == id {
			r.topics = append(r.topics[:i], r.topics[i+1:]...)
			return nil
		}
	}
	return pkgerrors.ErrTopicNotFound
}

// mapRow is how the in-memory map repo stores a persisted mind map.
type mapRow struct {
	id        string
	topicID   string
	topicSlug string
	title     string
	graph     *versioning.StoredGraph
	version   int
	createdAt time.Time
	updatedAt time.Time
}

// memMapRepo is an in-memory MindMapRepository mirroring the
// conditional-write behavior of the real one: inserts reject a second
// live row per topic and updates compare-and-swap on version.
type memMapRepo struct {
	mu            sync.Mutex
	rows          []*mapRow
	onCreate      func(m *aggregates.MindMap) error
	onUpdateGraph func(mapID string, expectedVersion int) error
	createCalls   int
	updateCalls   int
}

func (r *memMapRepo) rebuild(row *mapRow) (*aggregates.MindMap, error) {
	return aggregates.ReconstructMindMap(
		row.id,
		row.topicID,
		row.topicSlug,
		row.title,
		row.graph.Nodes,
		row.graph.Edges,
		row.graph.Chapters,
		row.graph.Sections,
		row.graph.Status,
		row.createdAt.Format(time.RFC3339),
		row.updatedAt.Format(time.RFC3339),
		row.version,
		nil,
	)
}

func (r *memMapRepo) GetByID(ctx context.Context, id string) (*aggregates.MindMap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.id == id {
			return r.rebuild(row)
		}
	}
	return nil, pkgerrors.ErrMindMapNotFound
}

func (r *memMapRepo) GetLiveByTopic(ctx context.Context, topicID string) (*aggregates.MindMap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.topicID == topicID && row.graph.Status == aggregates.StatusLive {
			return r.rebuild(row)
		}
	}
	return nil, pkgerrors.ErrMindMapNotFound
}

func (r *memMapRepo) GetLatestByTopic(ctx context.Context, topicID string) (*aggregates.MindMap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *mapRow
	for _, row := range r.rows {
		if row.topicID != topicID {
			continue
		}
		if latest == nil || row.updatedAt.After(latest.updatedAt) {
			latest = row
		}
	}
	if latest == nil {
		return nil, pkgerrors.ErrMindMapNotFound
	}
	return r.rebuild(latest)
}

func (r *memMapRepo) Create(ctx context.Context, m *aggregates.MindMap) error {
	r.mu.Lock()
	r.createCalls++
	r.mu.Unlock()
	if r.onCreate != nil {
		if err := r.onCreate(m); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m.Status() == aggregates.StatusLive {
		for _, row := range r.rows {
			if row.topicID == m.TopicID() && row.graph.Status == aggregates.StatusLive {
				return pkgerrors.ErrLiveMindMapExists
			}
		}
	}

	now := time.Now()
	r.rows = append(r.rows, &mapRow{
		id:        m.ID().String(),
		topicID:   m.TopicID(),
		topicSlug: m.TopicSlug(),
		title:     m.Title(),
		graph: &versioning.StoredGraph{
			Status:   m.Status(),
			Nodes:    m.Nodes(),
			Edges:    m.Edges(),
			Chapters: m.Chapters(),
			Sections: m.Sections(),
		},
		version:   1,
		createdAt: now,
		updatedAt: now,
	})
	return nil
}

func (r *memMapRepo) UpdateGraph(ctx context.Context, mapID string, graph *versioning.StoredGraph, expectedVersion int) error {
	r.mu.Lock()
	r.updateCalls++
	r.mu.Unlock()
	if r.onUpdateGraph != nil {
		if err := r.onUpdateGraph(mapID, expectedVersion); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.id != mapID {
			continue
		}
		if row.version != expectedVersion {
			return pkgerrors.ErrConcurrentModification
		}
		row.graph = graph
		row.version++
		row.updatedAt = time.Now()
		return nil
	}
	return pkgerrors.ErrMindMapNotFound
}

func (r *memMapRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, row := range r.rows {
		if row.id == id {
			r.rows = append(r.rows[:i], r.rows[i+1:]...)
			return nil
		}
	}
	return pkgerrors.ErrMindMapNotFound
}

func (r *memMapRepo) DeleteByTopic(ctx context.Context, topicID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.rows[:0]
	for _, row := range r.rows {
		if row.topicID != topicID {
			kept = append(kept, row)
		}
	}
	r.rows = kept
	return nil
}

func newTestSynchronizer() (*Synchronizer, *memTopicRepo, *memMapRepo) {
	topics := &memTopicRepo{}
	maps := &memMapRepo{}
	svc := NewSynchronizer(topics, maps, config.DefaultDomainConfig(), zap.NewNop())
	return svc, topics, maps
}

func liveMap(t *testing.T, topicID string) *aggregates.MindMap {
	t.Helper()
	m, err := aggregates.NewMindMap(topicID, "photosynthesis", "Photosynthesis", nil)
	require.NoError(t, err)

	_, err = m.Apply(streaming.Metadata{Title: "Photosynthesis", Description: "How plants eat light", Language: "en"})
	require.NoError(t, err)
	_, err = m.Apply(streaming.AspectsBatch{Aspects: []streaming.Aspect{
		{Label: "Light reactions", Importance: "high", Expandable: true},
		{Label: "Calvin cycle", Importance: "medium", Expandable: true},
	}})
	require.NoError(t, err)
	return m
}

func TestGetOrCreateTopic(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a topic on first request", func(t *testing.T) {
		svc, _, _ := newTestSynchronizer()

		res, err := svc.GetOrCreateTopic(ctx, "session-1", "Photosynthesis", "en")
		require.NoError(t, err)
		assert.False(t, res.IsExisting)
		assert.Equal(t, "photosynthesis", res.Topic.Slug)
		assert.Equal(t, "session-1", res.Topic.Scope)
		assert.Equal(t, "en", res.Topic.Language)
		assert.NotEmpty(t, res.Topic.ID)
	})

	t.Run("adopts the existing row on repeat", func(t *testing.T) {
		svc, _, _ := newTestSynchronizer()

		first, err := svc.GetOrCreateTopic(ctx, "session-1", "Photosynthesis", "en")
		require.NoError(t, err)

		// A noisier rendering of the same title normalizes to the
		// same lookup key.
		second, err := svc.GetOrCreateTopic(ctx, "session-1", "  Photosynthesis!? ", "en")
		require.NoError(t, err)

		assert.True(t, second.IsExisting)
		assert.Equal(t, first.Topic.ID, second.Topic.ID)
	})

	t.Run("same title in another scope is a fresh topic", func(t *testing.T) {
		svc, _, _ := newTestSynchronizer()

		first, err := svc.GetOrCreateTopic(ctx, "session-1", "Photosynthesis", "en")
		require.NoError(t, err)
		second, err := svc.GetOrCreateTopic(ctx, "session-2", "Photosynthesis", "en")
		require.NoError(t, err)

		assert.False(t, second.IsExisting)
		assert.NotEqual(t, first.Topic.ID, second.Topic.ID)
	})

	t.Run("resolves a slug collision with a numeric suffix", func(t *testing.T) {
		svc, topics, _ := newTestSynchronizer()
		topics.topics = append(topics.topics, &entities.Topic{
			ID:    "t-existing",
			Scope: "session-1",
			Slug:  "go",
			Title: "Golang",
		})

		res, err := svc.GetOrCreateTopic(ctx, "session-1", "Go", "en")
		require.NoError(t, err)
		assert.False(t, res.IsExisting)
		assert.Equal(t, "go-2", res.Topic.Slug)
	})

	t.Run("adopts the winner after losing a create race", func(t *testing.T) {
		svc, topics, _ := newTestSynchronizer()

		winner, err := entities.NewTopic("session-1", "photosynthesis", "Photosynthesis", "en")
		require.NoError(t, err)

		raced := false
		topics.onCreate = func(topic *entities.Topic) error {
			if raced {
				return nil
			}
			raced = true
			// Another writer lands the same topic between our lookup
			// and our insert.
			topics.mu.Lock()
			topics.topics = append(topics.topics, winner)
			topics.mu.Unlock()
			return pkgerrors.NewDomainError(pkgerrors.DomainConflictError, "TOPIC_EXISTS", "topic already exists")
		}

		res, err := svc.GetOrCreateTopic(ctx, "session-1", "Photosynthesis", "en")
		require.NoError(t, err)
		assert.True(t, res.IsExisting)
		assert.Equal(t, winner.ID, res.Topic.ID)
	})

	t.Run("rejects a blank title", func(t *testing.T) {
		svc, _, _ := newTestSynchronizer()

		_, err := svc.GetOrCreateTopic(ctx, "session-1", "   ??? ", "en")
		assert.ErrorIs(t, err, pkgerrors.ErrTopicTitleRequired)
	})
}

func TestUpsertGraph(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts when no live row exists", func(t *testing.T) {
		svc, _, maps := newTestSynchronizer()
		m := liveMap(t, "topic-1")

		require.NoError(t, svc.UpsertGraph(ctx, m))

		require.Len(t, maps.rows, 1)
		assert.Equal(t, m.ID().String(), maps.rows[0].id)
		assert.Equal(t, aggregates.StatusLive, maps.rows[0].graph.Status)
		assert.Equal(t, 1, maps.rows[0].version)
		assert.Len(t, maps.rows[0].graph.Nodes, 3)
	})

	t.Run("updates the live row in place", func(t *testing.T) {
		svc, _, maps := newTestSynchronizer()
		m := liveMap(t, "topic-1")
		require.NoError(t, svc.UpsertGraph(ctx, m))

		_, err := m.Apply(streaming.AspectsBatch{
			ParentID: m.Nodes()[1].ID,
			Aspects:  []streaming.Aspect{{Label: "Photosystem II", Importance: "medium"}},
		})
		require.NoError(t, err)
		require.NoError(t, svc.UpsertGraph(ctx, m))

		require.Len(t, maps.rows, 1)
		assert.Equal(t, 2, maps.rows[0].version)
		assert.Len(t, maps.rows[0].graph.Nodes, 4)
	})

	t.Run("terminal flush seals the stored row", func(t *testing.T) {
		svc, _, maps := newTestSynchronizer()
		m := liveMap(t, "topic-1")
		require.NoError(t, svc.UpsertGraph(ctx, m))

		_, err := m.Apply(streaming.Complete{})
		require.NoError(t, err)
		require.NoError(t, svc.UpsertGraph(ctx, m))

		require.Len(t, maps.rows, 1)
		assert.Equal(t, aggregates.StatusSealed, maps.rows[0].graph.Status)
	})

	t.Run("adopts a live row inserted by a concurrent writer", func(t *testing.T) {
		svc, _, maps := newTestSynchronizer()
		m := liveMap(t, "topic-1")

		competitor := liveMap(t, "topic-1")
		raced := false
		maps.onCreate = func(_ *aggregates.MindMap) error {
			if raced {
				return nil
			}
			raced = true
			now := time.Now()
			maps.mu.Lock()
			maps.rows = append(maps.rows, &mapRow{
				id:        competitor.ID().String(),
				topicID:   competitor.TopicID(),
				topicSlug: competitor.TopicSlug(),
				title:     competitor.Title(),
				graph: &versioning.StoredGraph{
					Status: aggregates.StatusLive,
					Nodes:  competitor.Nodes(),
					Edges:  competitor.Edges(),
				},
				version:   1,
				createdAt: now,
				updatedAt: now,
			})
			maps.mu.Unlock()
			return pkgerrors.ErrLiveMindMapExists
		}

		require.NoError(t, svc.UpsertGraph(ctx, m))

		// The competitor's row was adopted and updated rather than a
		// second live row inserted.
		require.Len(t, maps.rows, 1)
		assert.Equal(t, competitor.ID().String(), maps.rows[0].id)
		assert.Equal(t, 2, maps.rows[0].version)
	})

	t.Run("gives up after bounded retries on version conflicts", func(t *testing.T) {
		svc, _, maps := newTestSynchronizer()
		m := liveMap(t, "topic-1")
		require.NoError(t, svc.UpsertGraph(ctx, m))

		maps.onUpdateGraph = func(string, int) error {
			return pkgerrors.ErrConcurrentModification
		}
		maps.updateCalls = 0

		err := svc.UpsertGraph(ctx, m)
		require.Error(t, err)
		assert.True(t, pkgerrors.IsDomainConflict(err))
		assert.Equal(t, config.DefaultDomainConfig().MaxUpsertRetries, maps.updateCalls)
	})
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "graph:session-1:photosynthesis:en", CacheKey("session-1", "photosynthesis", "en"))
	assert.Equal(t, "graph:session-1:photosynthesis:nl", CacheKey("session-1", "photosynthesis", "nl"))

	t.Run("empty language defaults to english", func(t *testing.T) {
		assert.Equal(t, CacheKey("s", "x", "en"), CacheKey("s", "x", ""))
	})
}
