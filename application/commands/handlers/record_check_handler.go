package handlers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/commands"
	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/entities"
	"github.com/creatuluw/exploring.fyi-sub000/domain/events"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

// RecordCheckHandler appends one comprehension check attempt to a
// chapter's history.
type RecordCheckHandler struct {
	topics ports.TopicRepository
	checks ports.CheckRepository
	outbox ports.OutboxStore
	logger *zap.Logger
}

// NewRecordCheckHandler creates a new handler instance
func NewRecordCheckHandler(
	topics ports.TopicRepository,
	checks ports.CheckRepository,
	outbox ports.OutboxStore,
	logger *zap.Logger,
) *RecordCheckHandler {
	return &RecordCheckHandler{
		topics: topics,
		checks: checks,
		outbox: outbox,
		logger: logger,
	}
}

// Handle executes the record check command
func (h *RecordCheckHandler) Handle(ctx context.Context, cmd commands.RecordCheckCommand) (*entities.Check, error) {
	if err := cmd.Validate(); err != nil {
		return nil, pkgerrors.NewValidationError(err.Error())
	}

	topic, err := h.topics.GetByID(ctx, cmd.TopicID)
	if err != nil {
		return nil, err
	}
	if topic.Scope != cmd.SessionID {
		return nil, pkgerrors.ErrTopicNotFound
	}

	check, err := entities.NewCheck(cmd.ChapterID, cmd.SectionID, cmd.Passed, cmd.Score)
	if err != nil {
		return nil, err
	}

	if err := h.checks.Record(ctx, check); err != nil {
		return nil, fmt.Errorf("failed to record check: %w", err)
	}

	evt := events.NewCheckRecorded(check.ID, check.ChapterID, check.SectionID, check.Passed, check.Score, check.AnsweredAt)
	if err := h.outbox.Append(ctx, []events.DomainEvent{evt}); err != nil {
		h.logger.Warn("failed to append check event",
			zap.String("checkId", check.ID),
			zap.Error(err))
	}

	h.logger.Debug("check recorded",
		zap.String("checkId", check.ID),
		zap.String("chapterId", check.ChapterID),
		zap.Bool("passed", check.Passed),
		zap.Int("score", check.Score))
	return check, nil
}
