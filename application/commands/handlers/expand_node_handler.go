package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/commands"
	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/application/services"
	"github.com/creatuluw/exploring.fyi-sub000/domain/config"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/aggregates"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/validators"
	"github.com/creatuluw/exploring.fyi-sub000/domain/streaming"
	"github.com/creatuluw/exploring.fyi-sub000/domain/versioning"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

// ExpandNodeHandler grows an existing map under one expandable node.
// Expansion is the only mutation a sealed map accepts and it is
// all-or-nothing: batches are collected from the stream first and only
// applied once the stream ended cleanly.
type ExpandNodeHandler struct {
	topics    ports.TopicRepository
	maps      ports.MindMapRepository
	backend   ports.FrameSource
	cache     ports.ContentCache
	outbox    ports.OutboxStore
	validator *validators.MessageValidator
	cfg       *config.DomainConfig
	logger    *zap.Logger
}

// NewExpandNodeHandler creates a new handler instance
func NewExpandNodeHandler(
	topics ports.TopicRepository,
	maps ports.MindMapRepository,
	backend ports.FrameSource,
	cache ports.ContentCache,
	outbox ports.OutboxStore,
	cfg *config.DomainConfig,
	logger *zap.Logger,
) *ExpandNodeHandler {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &ExpandNodeHandler{
		topics:    topics,
		maps:      maps,
		backend:   backend,
		cache:     cache,
		outbox:    outbox,
		validator: validators.NewMessageValidatorWithConfig(cfg),
		cfg:       cfg,
		logger:    logger,
	}
}

// Handle executes the expand node command and returns the snapshot
// after the expansion landed.
func (h *ExpandNodeHandler) Handle(ctx context.Context, cmd commands.ExpandNodeCommand) (*aggregates.ProgressSnapshot, error) {
	if err := cmd.Validate(); err != nil {
		return nil, pkgerrors.NewValidationError(err.Error())
	}

	topic, err := h.topics.GetByID(ctx, cmd.TopicID)
	if err != nil {
		return nil, err
	}
	if topic.Scope != cmd.SessionID {
		// Topics are visible within their own scope only.
		return nil, pkgerrors.ErrTopicNotFound
	}

	m, err := h.maps.GetLatestByTopic(ctx, topic.ID)
	if err != nil {
		return nil, err
	}
	parent, err := m.GetNode(cmd.NodeID)
	if err != nil {
		return nil, err
	}
	if !parent.Expandable {
		return nil, pkgerrors.NewDomainError(
			pkgerrors.DomainBusinessRuleError,
			"NODE_NOT_EXPANDABLE",
			"this node does not support expansion",
		)
	}

	batches, err := h.collectBatches(ctx, ports.GenerationRequest{
		Topic:       topic.Title,
		Language:    topic.Language,
		SessionID:   cmd.SessionID,
		ParentLabel: parent.Label,
	})
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, pkgerrors.NewUpstreamError("generation backend returned no aspects")
	}

	snapshot, err := h.applyAndStore(ctx, m, topic.ID, cmd.NodeID, batches)
	if err != nil {
		return nil, err
	}

	h.logger.Info("node expanded",
		zap.String("topicId", topic.ID),
		zap.String("nodeId", cmd.NodeID),
		zap.Int("batchCount", len(batches)))
	return snapshot, nil
}

// collectBatches drains the expansion stream into memory. Anything
// other than aspect batches is ignored; a terminal error message
// aborts the whole expansion before any mutation happened.
func (h *ExpandNodeHandler) collectBatches(ctx context.Context, req ports.GenerationRequest) ([]streaming.AspectsBatch, error) {
	body, err := h.backend.Open(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to open expansion stream: %w", err)
	}
	defer body.Close()

	var batches []streaming.AspectsBatch
	dec := streaming.NewDecoder(body, h.cfg)
	for {
		msg, err := dec.Next(ctx)
		if errors.Is(err, io.EOF) {
			return batches, nil
		}
		if err != nil {
			if pkgerrors.IsFrameParse(err) {
				h.logger.Warn("skipping malformed expansion frame", zap.Error(err))
				continue
			}
			return nil, fmt.Errorf("expansion stream failed: %w", err)
		}

		switch v := msg.(type) {
		case streaming.AspectsBatch:
			if verr := h.validator.Validate(v); verr != nil {
				h.logger.Warn("skipping invalid aspects batch", zap.Error(verr))
				continue
			}
			batches = append(batches, v)
		case streaming.Complete:
			return batches, nil
		case streaming.UpstreamFailure:
			return nil, pkgerrors.NewUpstreamError(v.Message)
		default:
			// Expansion streams only carry aspects; anything else is
			// noise.
		}
	}
}

// applyAndStore folds the batches into the map and writes the result
// under optimistic concurrency, re-reading and re-applying on version
// conflicts.
func (h *ExpandNodeHandler) applyAndStore(ctx context.Context, m *aggregates.MindMap, topicID, nodeID string, batches []streaming.AspectsBatch) (*aggregates.ProgressSnapshot, error) {
	var lastErr error
	for attempt := 0; attempt < h.cfg.MaxUpsertRetries; attempt++ {
		if m == nil {
			var err error
			m, err = h.maps.GetLatestByTopic(ctx, topicID)
			if err != nil {
				return nil, err
			}
		}

		var snapshot *aggregates.ProgressSnapshot
		for _, batch := range batches {
			parentID := batch.ParentID
			if parentID == "" {
				parentID = nodeID
			}
			snap, err := m.Expand(parentID, batch.Aspects)
			if err != nil {
				return nil, err
			}
			snapshot = snap
		}

		stored := &versioning.StoredGraph{
			Status:   m.Status(),
			Nodes:    m.Nodes(),
			Edges:    m.Edges(),
			Chapters: m.Chapters(),
			Sections: m.Sections(),
		}
		err := h.maps.UpdateGraph(ctx, m.ID().String(), stored, m.Version())
		if err == nil {
			h.refreshCache(ctx, topicID, stored)
			h.appendOutbox(ctx, m)
			return snapshot, nil
		}
		if !pkgerrors.IsDomainConflict(err) {
			return nil, fmt.Errorf("failed to store expansion: %w", err)
		}
		lastErr = err
		m = nil
	}
	return nil, fmt.Errorf("expansion write exhausted %d attempts: %w", h.cfg.MaxUpsertRetries, lastErr)
}

// refreshCache keeps the replay cache in step with the expanded graph
// so later replays carry the new nodes too.
func (h *ExpandNodeHandler) refreshCache(ctx context.Context, topicID string, stored *versioning.StoredGraph) {
	if stored.Status != aggregates.StatusSealed {
		return
	}
	topic, err := h.topics.GetByID(ctx, topicID)
	if err != nil {
		return
	}
	key := services.CacheKey(topic.Scope, topic.Slug, topic.Language)
	if err := h.cache.Put(ctx, key, stored); err != nil {
		h.logger.Warn("failed to refresh cached graph",
			zap.String("cacheKey", key),
			zap.Error(err))
	}
}

func (h *ExpandNodeHandler) appendOutbox(ctx context.Context, m *aggregates.MindMap) {
	evts := m.GetUncommittedEvents()
	if len(evts) == 0 {
		return
	}
	if err := h.outbox.Append(ctx, evts); err != nil {
		h.logger.Warn("failed to append outbox events",
			zap.Int("eventCount", len(evts)),
			zap.Error(err))
		return
	}
	m.MarkEventsAsCommitted()
}
