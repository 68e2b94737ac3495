package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/commands"
	"github.com/creatuluw/exploring.fyi-sub000/application/services"
	"github.com/creatuluw/exploring.fyi-sub000/domain/config"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/aggregates"
	"github.com/creatuluw/exploring.fyi-sub000/domain/streaming"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

// generationFixture wires the orchestrator over in-memory fakes with
// replay delays zeroed so tests run instantly.
type generationFixture struct {
	orchestrator *GenerateMindMapOrchestrator
	topics       *fakeTopics
	maps         *fakeMaps
	content      *fakeContent
	cache        *fakeCache
	lock         *fakeLock
	outbox       *fakeOutbox
	backend      *fakeBackend
}

func newGenerationFixture(t *testing.T) *generationFixture {
	t.Helper()
	cfg := config.DefaultDomainConfig()
	cfg.ReplayFrameDelay = 0
	cfg.ReplayChunkDelay = 0

	f := &generationFixture{
		topics:  &fakeTopics{},
		maps:    &fakeMaps{},
		content: newFakeContent(),
		cache:   newFakeCache(),
		lock:    newFakeLock(),
		outbox:  &fakeOutbox{},
		backend: &fakeBackend{stream: encodeStream(t, fullRunMessages()...)},
	}
	logger := zap.NewNop()
	svc := services.NewSynchronizer(f.topics, f.maps, cfg, logger)
	pipeline := services.NewPipeline(svc, nil, cfg, logger)
	f.orchestrator = NewGenerateMindMapOrchestrator(
		svc, pipeline, f.backend, f.cache, f.maps, f.content, f.lock, f.outbox, cfg, logger)
	return f
}

func generateCmd() commands.GenerateMindMapCommand {
	return commands.GenerateMindMapCommand{
		Topic:     "Photosynthesis",
		Language:  "en",
		SessionID: "session-1",
	}
}

func TestGenerateMindMapFirstRun(t *testing.T) {
	ctx := context.Background()
	f := newGenerationFixture(t)

	var snapshots []*aggregates.ProgressSnapshot
	result, err := f.orchestrator.Handle(ctx, generateCmd(), func(s *aggregates.ProgressSnapshot) {
		snapshots = append(snapshots, s)
	})
	require.NoError(t, err)

	assert.False(t, result.FromCache)
	assert.True(t, result.Completed)
	assert.Equal(t, 7, result.MessagesApplied)
	require.Len(t, snapshots, 7)
	assert.True(t, snapshots[6].IsComplete)

	assert.Equal(t, 1, f.backend.opens)
	assert.Equal(t, "Photosynthesis", f.backend.lastReq.Topic)
	assert.Equal(t, "session-1", f.backend.lastReq.SessionID)

	// The generation lock was held for the run and released after.
	assert.Equal(t, 1, f.lock.acquires)
	assert.Equal(t, 1, f.lock.releases)

	require.Len(t, f.maps.rows, 1)
	assert.Equal(t, aggregates.StatusSealed, f.maps.rows[0].graph.Status)

	// Chapters and sections reach the content store for the read side.
	topic := result.Topic
	chapters, cerr := f.content.GetChapters(ctx, topic.ID)
	require.NoError(t, cerr)
	assert.Len(t, chapters, 2)
	sections, serr := f.content.GetSections(ctx, topic.ID)
	require.NoError(t, serr)
	require.Len(t, sections, 1)
	assert.Equal(t, "Light hits the thylakoid.", sections[0].Content)

	// The sealed result is cached for future replays.
	key := services.CacheKey(topic.Scope, topic.Slug, topic.Language)
	stored, ok := f.cache.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, aggregates.StatusSealed, stored.Status)

	// The outbox carries the whole lifecycle, started first and
	// completed last, with the aggregate drained in between.
	types := f.outbox.eventTypes()
	require.NotEmpty(t, types)
	assert.Equal(t, "generation.started", types[0])
	assert.Equal(t, "generation.completed", types[len(types)-1])
	assert.Contains(t, types, "topic.created")
	assert.Contains(t, types, "mindmap.sealed")
	assert.Empty(t, result.Map.GetUncommittedEvents())
}

func TestGenerateMindMapReplaysRepeatRequest(t *testing.T) {
	ctx := context.Background()
	f := newGenerationFixture(t)

	first, err := f.orchestrator.Handle(ctx, generateCmd(), nil)
	require.NoError(t, err)

	rowsAfterFirst := len(f.maps.rows)
	putsAfterFirst := f.cache.puts
	eventsAfterFirst := len(f.outbox.eventTypes())

	var snapshots []*aggregates.ProgressSnapshot
	second, err := f.orchestrator.Handle(ctx, generateCmd(), func(s *aggregates.ProgressSnapshot) {
		snapshots = append(snapshots, s)
	})
	require.NoError(t, err)

	assert.True(t, second.FromCache)
	assert.True(t, second.Completed)

	// The backend was never reopened and no lock was taken.
	assert.Equal(t, 1, f.backend.opens)
	assert.Equal(t, 1, f.lock.acquires)

	// The replayed graph matches the original node for node.
	require.NotEmpty(t, snapshots)
	final := snapshots[len(snapshots)-1]
	assert.True(t, final.IsComplete)
	require.Len(t, final.Nodes, first.Map.NodeCount())
	for i, n := range first.Map.Nodes() {
		assert.Equal(t, n.ID, final.Nodes[i].ID)
		assert.Equal(t, n.Label, final.Nodes[i].Label)
	}

	// A replay writes nothing back: same rows, same cache entries, and
	// no replayed aggregate events in the outbox.
	assert.Len(t, f.maps.rows, rowsAfterFirst)
	assert.Equal(t, putsAfterFirst, f.cache.puts)
	types := f.outbox.eventTypes()[eventsAfterFirst:]
	assert.Equal(t, []string{"generation.started", "generation.completed"}, types)
}

func TestGenerateMindMapStorageFallback(t *testing.T) {
	ctx := context.Background()
	f := newGenerationFixture(t)

	first, err := f.orchestrator.Handle(ctx, generateCmd(), nil)
	require.NoError(t, err)

	// A restart empties the cache; the sealed row must still replay.
	key := services.CacheKey(first.Topic.Scope, first.Topic.Slug, first.Topic.Language)
	require.NoError(t, f.cache.Delete(ctx, key))

	second, err := f.orchestrator.Handle(ctx, generateCmd(), nil)
	require.NoError(t, err)

	assert.True(t, second.FromCache)
	assert.Equal(t, 1, f.backend.opens)

	// The storage hit backfilled the cache.
	stored, ok := f.cache.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, aggregates.StatusSealed, stored.Status)
}

func TestGenerateMindMapLockContention(t *testing.T) {
	ctx := context.Background()
	f := newGenerationFixture(t)
	f.lock.refuse = true

	_, err := f.orchestrator.Handle(ctx, generateCmd(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrGenerationLocked)

	// The topic resolution sticks, but nothing else happened.
	assert.Len(t, f.topics.topics, 1)
	assert.Equal(t, 0, f.backend.opens)
	assert.Empty(t, f.maps.rows)
	assert.Empty(t, f.outbox.eventTypes())
}

func TestGenerateMindMapUpstreamFailure(t *testing.T) {
	ctx := context.Background()
	f := newGenerationFixture(t)
	f.backend.stream = encodeStream(t,
		streaming.Metadata{Title: "Photosynthesis"},
		streaming.AspectsBatch{Aspects: []streaming.Aspect{{Label: "Light reactions"}}},
		streaming.UpstreamFailure{Message: "model overloaded", Code: "MODEL_OVERLOADED"},
	)

	result, err := f.orchestrator.Handle(ctx, generateCmd(), nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsUpstream(err))

	assert.False(t, result.Completed)
	assert.Equal(t, aggregates.StatusFailed, result.Map.Status())

	// The failed run is durable and the lock comes back.
	require.Len(t, f.maps.rows, 1)
	assert.Equal(t, aggregates.StatusFailed, f.maps.rows[0].graph.Status)
	assert.Len(t, f.maps.rows[0].graph.Nodes, 2)
	assert.Equal(t, 1, f.lock.releases)

	types := f.outbox.eventTypes()
	assert.Contains(t, types, "mindmap.generation_aborted")
	assert.Equal(t, "generation.failed", types[len(types)-1])
	assert.NotContains(t, types, "generation.completed")

	// A failed topic is not served from cache on retry.
	_, ok := f.cache.Get(ctx, services.CacheKey(result.Topic.Scope, result.Topic.Slug, result.Topic.Language))
	assert.False(t, ok)
}

func TestGenerateMindMapForceRegenerate(t *testing.T) {
	ctx := context.Background()
	f := newGenerationFixture(t)

	_, err := f.orchestrator.Handle(ctx, generateCmd(), nil)
	require.NoError(t, err)

	cmd := generateCmd()
	cmd.ForceRegenerate = true
	second, err := f.orchestrator.Handle(ctx, cmd, nil)
	require.NoError(t, err)

	assert.False(t, second.FromCache)
	assert.Equal(t, 2, f.backend.opens)
	assert.Equal(t, 2, f.lock.acquires)

	// The rerun gets its own sealed row next to the first one.
	require.Len(t, f.maps.rows, 2)
	for _, row := range f.maps.rows {
		assert.Equal(t, aggregates.StatusSealed, row.graph.Status)
	}
}

func TestGenerateMindMapRejectsInvalidCommand(t *testing.T) {
	ctx := context.Background()
	f := newGenerationFixture(t)

	cmd := generateCmd()
	cmd.Topic = ""
	_, err := f.orchestrator.Handle(ctx, cmd, nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
	assert.Equal(t, 0, f.backend.opens)
	assert.Empty(t, f.topics.topics)
}
