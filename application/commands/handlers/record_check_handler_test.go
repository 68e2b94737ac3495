package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/commands"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/entities"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

func newCheckFixture(t *testing.T) (*RecordCheckHandler, *fakeChecks, *fakeOutbox, *entities.Topic) {
	t.Helper()
	topic, err := entities.NewTopic("session-1", "photosynthesis", "Photosynthesis", "en")
	require.NoError(t, err)

	topics := &fakeTopics{topics: []*entities.Topic{topic}}
	checks := &fakeChecks{}
	outbox := &fakeOutbox{}
	h := NewRecordCheckHandler(topics, checks, outbox, zap.NewNop())
	return h, checks, outbox, topic
}

func TestRecordCheck(t *testing.T) {
	ctx := context.Background()
	h, checks, outbox, topic := newCheckFixture(t)

	check, err := h.Handle(ctx, commands.RecordCheckCommand{
		TopicID:   topic.ID,
		ChapterID: "chapter-1",
		SectionID: "section-1",
		Passed:    true,
		Score:     85,
		SessionID: "session-1",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, check.ID)
	assert.Equal(t, "chapter-1", check.ChapterID)
	assert.True(t, check.Passed)
	assert.Equal(t, 85, check.Score)
	assert.False(t, check.AnsweredAt.IsZero())

	require.Len(t, checks.records, 1)
	assert.Equal(t, []string{"check.recorded"}, outbox.eventTypes())
}

func TestRecordCheckKeepsHistory(t *testing.T) {
	ctx := context.Background()
	h, checks, _, topic := newCheckFixture(t)

	// A failed first attempt and a passing retry both stay recorded.
	_, err := h.Handle(ctx, commands.RecordCheckCommand{
		TopicID: topic.ID, ChapterID: "chapter-1", SectionID: "section-1",
		Passed: false, Score: 40, SessionID: "session-1",
	})
	require.NoError(t, err)
	_, err = h.Handle(ctx, commands.RecordCheckCommand{
		TopicID: topic.ID, ChapterID: "chapter-1", SectionID: "section-1",
		Passed: true, Score: 90, SessionID: "session-1",
	})
	require.NoError(t, err)

	history, err := checks.ListByChapter(ctx, "chapter-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].Passed)
	assert.False(t, history[1].Passed)
}

func TestRecordCheckScopeMismatch(t *testing.T) {
	ctx := context.Background()
	h, checks, _, topic := newCheckFixture(t)

	_, err := h.Handle(ctx, commands.RecordCheckCommand{
		TopicID: topic.ID, ChapterID: "chapter-1", SectionID: "section-1",
		Passed: true, Score: 85, SessionID: "someone-else",
	})
	assert.ErrorIs(t, err, pkgerrors.ErrTopicNotFound)
	assert.Empty(t, checks.records)
}

func TestRecordCheckRejectsInvalidScores(t *testing.T) {
	ctx := context.Background()
	h, checks, _, topic := newCheckFixture(t)

	_, err := h.Handle(ctx, commands.RecordCheckCommand{
		TopicID: topic.ID, ChapterID: "chapter-1", SectionID: "section-1",
		Passed: true, Score: 140, SessionID: "session-1",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
	assert.Empty(t, checks.records)
}
