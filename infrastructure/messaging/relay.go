// Package messaging drains the persisted outbox into the event bus.
// Events are written to the outbox in the same store as the data they
// describe, so the relay is what makes their publication survive
// crashes and bus outages.
package messaging

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/infrastructure/messaging/eventbridge"
)

// OutboxRelay periodically fetches pending outbox entries and forwards
// them to EventBridge. Delivered entries are removed; rejected ones
// get their attempt counter bumped and are retried on a later pass
// until the store parks them.
type OutboxRelay struct {
	store     ports.OutboxStore
	publisher *eventbridge.Publisher
	logger    *zap.Logger

	batchSize int
	interval  time.Duration

	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewOutboxRelay creates a new relay draining the given store
func NewOutboxRelay(store ports.OutboxStore, publisher *eventbridge.Publisher, logger *zap.Logger) *OutboxRelay {
	return &OutboxRelay{
		store:       store,
		publisher:   publisher,
		logger:      logger,
		batchSize:   50,
		interval:    5 * time.Second,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start begins draining the outbox in the background
func (r *OutboxRelay) Start(ctx context.Context) {
	r.logger.Info("starting outbox relay",
		zap.Int("batchSize", r.batchSize),
		zap.Duration("interval", r.interval),
	)
	go r.loop(ctx)
}

// Stop drains the current pass and stops the relay
func (r *OutboxRelay) Stop() {
	r.logger.Info("stopping outbox relay")
	close(r.stopChan)
	<-r.stoppedChan
	r.logger.Info("outbox relay stopped")
}

func (r *OutboxRelay) loop(ctx context.Context) {
	defer close(r.stoppedChan)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("context cancelled, stopping outbox relay")
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			if err := r.ProcessOnce(ctx); err != nil {
				r.logger.Error("outbox pass failed", zap.Error(err))
			}
		}
	}
}

// ProcessOnce drains one batch of pending entries. Scheduled runners
// call this directly instead of Start.
func (r *OutboxRelay) ProcessOnce(ctx context.Context) error {
	entries, err := r.store.FetchPending(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch pending entries: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	rejected, err := r.publisher.PublishEntries(ctx, entries)
	if err != nil {
		// The bus was unreachable; every entry stays pending with one
		// more attempt on the counter.
		ids := entryIDs(entries)
		if markErr := r.store.MarkFailed(ctx, ids); markErr != nil {
			r.logger.Error("failed to mark entries after bus outage", zap.Error(markErr))
		}
		return fmt.Errorf("failed to publish outbox batch: %w", err)
	}

	rejectedSet := make(map[string]struct{}, len(rejected))
	for _, id := range rejected {
		rejectedSet[id] = struct{}{}
	}

	dispatched := make([]string, 0, len(entries))
	for _, entry := range entries {
		if _, ok := rejectedSet[entry.ID]; !ok {
			dispatched = append(dispatched, entry.ID)
		}
	}

	if len(dispatched) > 0 {
		if err := r.store.MarkDispatched(ctx, dispatched); err != nil {
			return fmt.Errorf("failed to mark dispatched entries: %w", err)
		}
	}
	if len(rejected) > 0 {
		if err := r.store.MarkFailed(ctx, rejected); err != nil {
			return fmt.Errorf("failed to mark rejected entries: %w", err)
		}
	}

	r.logger.Debug("outbox batch relayed",
		zap.Int("dispatched", len(dispatched)),
		zap.Int("rejected", len(rejected)),
	)
	return nil
}

func entryIDs(entries []ports.OutboxEntry) []string {
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ID)
	}
	return ids
}
