package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/commands"
	"github.com/creatuluw/exploring.fyi-sub000/domain/config"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/aggregates"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/entities"
	"github.com/creatuluw/exploring.fyi-sub000/domain/streaming"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

type expandFixture struct {
	handler *ExpandNodeHandler
	topics  *fakeTopics
	maps    *fakeMaps
	cache   *fakeCache
	outbox  *fakeOutbox
	backend *fakeBackend
	topic   *entities.Topic
	mapID   string
	parent  string
	leaf    string
}

// newExpandFixture seeds one sealed map for session-1. The map carries
// the canonical photosynthesis run: the second node is expandable, the
// last one is not.
func newExpandFixture(t *testing.T) *expandFixture {
	t.Helper()
	cfg := config.DefaultDomainConfig()

	topic, err := entities.NewTopic("session-1", "photosynthesis", "Photosynthesis", "en")
	require.NoError(t, err)

	m, err := aggregates.NewMindMap(topic.ID, topic.Slug, topic.Title, cfg)
	require.NoError(t, err)
	for _, msg := range fullRunMessages() {
		_, err := m.Apply(msg)
		require.NoError(t, err)
	}
	require.True(t, m.IsComplete())

	f := &expandFixture{
		topics: &fakeTopics{topics: []*entities.Topic{topic}},
		maps:   &fakeMaps{},
		cache:  newFakeCache(),
		outbox: &fakeOutbox{},
		backend: &fakeBackend{stream: encodeStream(t,
			streaming.AspectsBatch{Aspects: []streaming.Aspect{
				{Label: "Photosystem II", Importance: "high"},
				{Label: "Electron transport chain", Importance: "medium", Expandable: true},
			}},
			streaming.Complete{},
		)},
		topic:  topic,
		mapID:  m.ID().String(),
		parent: m.Nodes()[1].ID,
		leaf:   m.Nodes()[3].ID,
	}
	require.NoError(t, f.maps.Create(context.Background(), m))
	f.handler = NewExpandNodeHandler(
		f.topics, f.maps, f.backend, f.cache, f.outbox, cfg, zap.NewNop())
	return f
}

func expandCmd(f *expandFixture) commands.ExpandNodeCommand {
	return commands.ExpandNodeCommand{
		TopicID:   f.topic.ID,
		NodeID:    f.parent,
		SessionID: "session-1",
	}
}

func TestExpandNodeAppendsSubGraph(t *testing.T) {
	ctx := context.Background()
	f := newExpandFixture(t)

	snapshot, err := f.handler.Handle(ctx, expandCmd(f))
	require.NoError(t, err)

	// Root, three concepts, two new children.
	require.Len(t, snapshot.Nodes, 6)
	assert.True(t, snapshot.IsComplete)
	var children []string
	for _, n := range snapshot.Nodes {
		if n.ParentID == f.parent {
			children = append(children, n.Label)
		}
	}
	assert.ElementsMatch(t, []string{"Photosystem II", "Electron transport chain"}, children)

	// CAS write landed: one row, bumped once, carrying the new nodes.
	require.Len(t, f.maps.rows, 1)
	assert.Equal(t, 2, f.maps.rows[0].version)
	assert.Len(t, f.maps.rows[0].graph.Nodes, 6)
	assert.Equal(t, aggregates.StatusSealed, f.maps.rows[0].graph.Status)

	// Replays must see the expanded graph.
	stored, ok := f.cache.Get(ctx, "graph:session-1:photosynthesis:en")
	require.True(t, ok)
	assert.Len(t, stored.Nodes, 6)

	assert.Contains(t, f.outbox.eventTypes(), "mindmap.node_expanded")

	// The parent request reached the backend for context.
	assert.Equal(t, "Photosynthesis", f.backend.lastReq.Topic)
	assert.Equal(t, f.maps.rows[0].graph.Nodes[1].Label, f.backend.lastReq.ParentLabel)
}

func TestExpandNodeRejectsNonExpandableParent(t *testing.T) {
	ctx := context.Background()
	f := newExpandFixture(t)

	cmd := expandCmd(f)
	cmd.NodeID = f.leaf
	_, err := f.handler.Handle(ctx, cmd)
	require.Error(t, err)

	// The guard fires before the backend is ever contacted.
	assert.Equal(t, 0, f.backend.opens)
	assert.Equal(t, 1, f.maps.rows[0].version)
}

func TestExpandNodeUnknownNode(t *testing.T) {
	ctx := context.Background()
	f := newExpandFixture(t)

	cmd := expandCmd(f)
	cmd.NodeID = "no-such-node"
	_, err := f.handler.Handle(ctx, cmd)
	assert.ErrorIs(t, err, pkgerrors.ErrNodeNotFound)
	assert.Equal(t, 0, f.backend.opens)
}

func TestExpandNodeScopeMismatch(t *testing.T) {
	ctx := context.Background()
	f := newExpandFixture(t)

	cmd := expandCmd(f)
	cmd.SessionID = "someone-else"
	_, err := f.handler.Handle(ctx, cmd)
	assert.ErrorIs(t, err, pkgerrors.ErrTopicNotFound)
}

func TestExpandNodeUpstreamFailureLeavesMapUntouched(t *testing.T) {
	ctx := context.Background()
	f := newExpandFixture(t)
	f.backend.stream = encodeStream(t,
		streaming.AspectsBatch{Aspects: []streaming.Aspect{{Label: "Photosystem II"}}},
		streaming.UpstreamFailure{Message: "model overloaded", Code: "MODEL_OVERLOADED"},
	)

	_, err := f.handler.Handle(ctx, expandCmd(f))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsUpstream(err))

	// All-or-nothing: the collected batch was discarded with the run.
	assert.Equal(t, 1, f.maps.rows[0].version)
	assert.Len(t, f.maps.rows[0].graph.Nodes, 4)
	assert.Empty(t, f.outbox.eventTypes())
}

func TestExpandNodeEmptyStreamIsUpstreamError(t *testing.T) {
	ctx := context.Background()
	f := newExpandFixture(t)
	f.backend.stream = encodeStream(t, streaming.Complete{})

	_, err := f.handler.Handle(ctx, expandCmd(f))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsUpstream(err))
	assert.Equal(t, 1, f.maps.rows[0].version)
}

func TestExpandNodeRetriesOnVersionConflict(t *testing.T) {
	ctx := context.Background()
	f := newExpandFixture(t)

	attempts := 0
	f.maps.onUpdateGraph = func(mapID string, expectedVersion int) error {
		attempts++
		if attempts == 1 {
			return pkgerrors.ErrConcurrentModification
		}
		return nil
	}

	snapshot, err := f.handler.Handle(ctx, expandCmd(f))
	require.NoError(t, err)

	// The losing attempt was re-read and re-applied, not stacked.
	assert.Equal(t, 2, attempts)
	require.Len(t, snapshot.Nodes, 6)
	assert.Equal(t, 2, f.maps.rows[0].version)
	assert.Len(t, f.maps.rows[0].graph.Nodes, 6)
}

func TestExpandNodeGivesUpAfterBoundedRetries(t *testing.T) {
	ctx := context.Background()
	f := newExpandFixture(t)

	attempts := 0
	f.maps.onUpdateGraph = func(mapID string, expectedVersion int) error {
		attempts++
		return pkgerrors.ErrConcurrentModification
	}

	_, err := f.handler.Handle(ctx, expandCmd(f))
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrConcurrentModification)
	assert.Equal(t, config.DefaultDomainConfig().MaxUpsertRetries, attempts)
	assert.Len(t, f.maps.rows[0].graph.Nodes, 4)
}
