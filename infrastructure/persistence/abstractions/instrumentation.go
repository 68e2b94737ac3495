// Package abstractions decorates the repository ports with
// cross-cutting instrumentation so the DynamoDB and PostgREST
// adapters stay free of it. Wrapping happens in the container when
// metrics are enabled; callers only ever see the ports.
package abstractions

import (
	"context"
	"time"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/aggregates"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/entities"
	"github.com/creatuluw/exploring.fyi-sub000/domain/versioning"
	"github.com/creatuluw/exploring.fyi-sub000/pkg/observability"
)

// InstrumentedTopicRepository times and counts every topic operation
type InstrumentedTopicRepository struct {
	inner   ports.TopicRepository
	metrics *observability.Metrics
}

// NewInstrumentedTopicRepository wraps a topic repository with metrics
func NewInstrumentedTopicRepository(inner ports.TopicRepository, metrics *observability.Metrics) ports.TopicRepository {
	return &InstrumentedTopicRepository{inner: inner, metrics: metrics}
}

func (r *InstrumentedTopicRepository) GetByID(ctx context.Context, id string) (*entities.Topic, error) {
	start := time.Now()
	topic, err := r.inner.GetByID(ctx, id)
	r.metrics.ObserveRepository("get_by_id", "topics", time.Since(start), err)
	return topic, err
}

func (r *InstrumentedTopicRepository) FindBySlug(ctx context.Context, scope, slug string) (*entities.Topic, error) {
	start := time.Now()
	topic, err := r.inner.FindBySlug(ctx, scope, slug)
	r.metrics.ObserveRepository("find_by_slug", "topics", time.Since(start), err)
	return topic, err
}

func (r *InstrumentedTopicRepository) FindByTitle(ctx context.Context, scope, normalizedTitle string) (*entities.Topic, error) {
	start := time.Now()
	topic, err := r.inner.FindByTitle(ctx, scope, normalizedTitle)
	r.metrics.ObserveRepository("find_by_title", "topics", time.Since(start), err)
	return topic, err
}

func (r *InstrumentedTopicRepository) SlugExists(ctx context.Context, scope, slug string) (bool, error) {
	start := time.Now()
	exists, err := r.inner.SlugExists(ctx, scope, slug)
	r.metrics.ObserveRepository("slug_exists", "topics", time.Since(start), err)
	return exists, err
}

func (r *InstrumentedTopicRepository) Create(ctx context.Context, topic *entities.Topic) error {
	start := time.Now()
	err := r.inner.Create(ctx, topic)
	r.metrics.ObserveRepository("create", "topics", time.Since(start), err)
	return err
}

func (r *InstrumentedTopicRepository) Update(ctx context.Context, topic *entities.Topic) error {
	start := time.Now()
	err := r.inner.Update(ctx, topic)
	r.metrics.ObserveRepository("update", "topics", time.Since(start), err)
	return err
}

func (r *InstrumentedTopicRepository) ListByScope(ctx context.Context, scope string, criteria ports.ListCriteria) ([]*entities.Topic, error) {
	start := time.Now()
	topics, err := r.inner.ListByScope(ctx, scope, criteria)
	r.metrics.ObserveRepository("list_by_scope", "topics", time.Since(start), err)
	return topics, err
}

func (r *InstrumentedTopicRepository) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := r.inner.Delete(ctx, id)
	r.metrics.ObserveRepository("delete", "topics", time.Since(start), err)
	return err
}

// InstrumentedMindMapRepository times and counts every map operation
type InstrumentedMindMapRepository struct {
	inner   ports.MindMapRepository
	metrics *observability.Metrics
}

// NewInstrumentedMindMapRepository wraps a mind map repository with
// metrics
func NewInstrumentedMindMapRepository(inner ports.MindMapRepository, metrics *observability.Metrics) ports.MindMapRepository {
	return &InstrumentedMindMapRepository{inner: inner, metrics: metrics}
}

func (r *InstrumentedMindMapRepository) GetByID(ctx context.Context, id string) (*aggregates.MindMap, error) {
	start := time.Now()
	m, err := r.inner.GetByID(ctx, id)
	r.metrics.ObserveRepository("get_by_id", "mind_maps", time.Since(start), err)
	return m, err
}

func (r *InstrumentedMindMapRepository) GetLiveByTopic(ctx context.Context, topicID string) (*aggregates.MindMap, error) {
	start := time.Now()
	m, err := r.inner.GetLiveByTopic(ctx, topicID)
	r.metrics.ObserveRepository("get_live_by_topic", "mind_maps", time.Since(start), err)
	return m, err
}

func (r *InstrumentedMindMapRepository) GetLatestByTopic(ctx context.Context, topicID string) (*aggregates.MindMap, error) {
	start := time.Now()
	m, err := r.inner.GetLatestByTopic(ctx, topicID)
	r.metrics.ObserveRepository("get_latest_by_topic", "mind_maps", time.Since(start), err)
	return m, err
}

func (r *InstrumentedMindMapRepository) Create(ctx context.Context, m *aggregates.MindMap) error {
	start := time.Now()
	err := r.inner.Create(ctx, m)
	r.metrics.ObserveRepository("create", "mind_maps", time.Since(start), err)
	return err
}

func (r *InstrumentedMindMapRepository) UpdateGraph(ctx context.Context, mapID string, graph *versioning.StoredGraph, expectedVersion int) error {
	start := time.Now()
	err := r.inner.UpdateGraph(ctx, mapID, graph, expectedVersion)
	r.metrics.ObserveRepository("update_graph", "mind_maps", time.Since(start), err)
	return err
}

func (r *InstrumentedMindMapRepository) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := r.inner.Delete(ctx, id)
	r.metrics.ObserveRepository("delete", "mind_maps", time.Since(start), err)
	return err
}

func (r *InstrumentedMindMapRepository) DeleteByTopic(ctx context.Context, topicID string) error {
	start := time.Now()
	err := r.inner.DeleteByTopic(ctx, topicID)
	r.metrics.ObserveRepository("delete_by_topic", "mind_maps", time.Since(start), err)
	return err
}
