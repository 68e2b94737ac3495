package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/domain/config"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/aggregates"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/validators"
	"github.com/creatuluw/exploring.fyi-sub000/domain/streaming"
	"github.com/creatuluw/exploring.fyi-sub000/domain/versioning"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

// ProgressFunc receives every progress snapshot the reducer emits, in
// order. Implementations must not retain or mutate the snapshot's
// slices; they may hold the node and edge pointers, which are never
// mutated after emission.
type ProgressFunc func(snapshot *aggregates.ProgressSnapshot)

// RunResult summarizes one pipeline run.
type RunResult struct {
	MessagesApplied int
	MessagesSkipped int
	Completed       bool
}

// Pipeline drives one generation run end to end: it opens the frame
// source, decodes and validates messages, folds them into the mind map
// and flushes state to storage per the run's flush policy. A single
// goroutine owns the aggregate for the whole run, so the reducer needs
// no locking.
type Pipeline struct {
	sync      *Synchronizer
	validator *validators.MessageValidator
	cfg       *config.DomainConfig
	logger    *zap.Logger
}

// NewPipeline creates a pipeline around the given synchronizer.
func NewPipeline(
	sync *Synchronizer,
	validator *validators.MessageValidator,
	cfg *config.DomainConfig,
	logger *zap.Logger,
) *Pipeline {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if validator == nil {
		validator = validators.NewMessageValidatorWithConfig(cfg)
	}
	return &Pipeline{
		sync:      sync,
		validator: validator,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run consumes the stream for req into m until a terminal message,
// end of stream or a transport failure. Malformed frames and invalid
// messages are skipped; an upstream failure message ends the run with
// progress retained. End of stream without a complete marker is not an
// error: the map simply stays live. The policy decides which snapshots
// reach storage; replay runs pass NeverFlushPolicy since their rows
// already exist.
func (p *Pipeline) Run(ctx context.Context, m *aggregates.MindMap, source ports.FrameSource, req ports.GenerationRequest, policy versioning.FlushPolicy, onProgress ProgressFunc) (*RunResult, error) {
	if m == nil {
		return nil, pkgerrors.NewValidationError("mind map is required")
	}
	if source == nil {
		return nil, pkgerrors.NewValidationError("frame source is required")
	}

	body, err := source.Open(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to open generation stream: %w", err)
	}
	defer body.Close()

	dec := streaming.NewDecoder(body, p.cfg)
	result := &RunResult{}
	var lastFlush time.Time

	for {
		msg, err := dec.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if pkgerrors.IsFrameParse(err) {
				result.MessagesSkipped++
				p.logger.Warn("skipping malformed frame",
					zap.String("mapId", m.ID().String()),
					zap.Error(err))
				continue
			}
			if policy.ShouldFlush(result.MessagesApplied, lastFlush, time.Now(), true) {
				p.persistRemnant(ctx, m)
			}
			return result, fmt.Errorf("generation stream failed: %w", err)
		}

		if verr := p.validator.Validate(msg); verr != nil {
			result.MessagesSkipped++
			p.logger.Warn("skipping invalid message",
				zap.String("mapId", m.ID().String()),
				zap.String("type", string(msg.Type())),
				zap.Error(verr))
			continue
		}

		snap, applyErr := m.Apply(msg)
		if applyErr != nil {
			if pkgerrors.IsUpstream(applyErr) {
				// Terminal: the failure snapshot still carries all
				// progress made before the backend gave up.
				result.MessagesApplied++
				if onProgress != nil && snap != nil {
					onProgress(snap)
				}
				if policy.ShouldFlush(result.MessagesApplied, lastFlush, time.Now(), true) {
					p.persistRemnant(ctx, m)
				}
				return result, applyErr
			}
			result.MessagesSkipped++
			p.logger.Warn("message rejected by reducer",
				zap.String("mapId", m.ID().String()),
				zap.String("type", string(msg.Type())),
				zap.Error(applyErr))
			continue
		}

		result.MessagesApplied++
		if onProgress != nil {
			onProgress(snap)
		}

		terminal := m.IsComplete()
		now := time.Now()
		if policy.ShouldFlush(result.MessagesApplied, lastFlush, now, terminal) {
			if ferr := p.sync.UpsertGraph(ctx, m); ferr != nil {
				if terminal {
					return result, fmt.Errorf("failed to persist completed run: %w", ferr)
				}
				// Mid-stream flushes are best effort; the next one
				// carries the full state anyway.
				p.logger.Warn("mid-stream flush failed",
					zap.String("mapId", m.ID().String()),
					zap.Error(ferr))
			} else {
				lastFlush = now
			}
		}

		if terminal {
			result.Completed = true
			break
		}
	}

	if !result.Completed && policy.ShouldFlush(result.MessagesApplied, lastFlush, time.Now(), true) {
		// Stream ended without a complete marker. Keep the live map
		// durable so a later run can resume or supersede it.
		if ferr := p.sync.UpsertGraph(ctx, m); ferr != nil {
			return result, fmt.Errorf("failed to persist partial run: %w", ferr)
		}
	}
	return result, nil
}

// persistRemnant makes a best-effort flush after a terminal failure.
// It runs detached from the caller's context, which is often already
// cancelled on this path.
func (p *Pipeline) persistRemnant(ctx context.Context, m *aggregates.MindMap) {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.sync.UpsertGraph(flushCtx, m); err != nil {
		p.logger.Warn("failed to persist remnant state",
			zap.String("mapId", m.ID().String()),
			zap.Error(err))
	}
}
