// Package eventbridge publishes lifecycle events to an AWS EventBridge
// bus. Most events arrive here through the outbox relay rather than
// directly, so a bus outage never loses an event that was persisted
// with its data.
package eventbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/domain/events"
)

// eventSource identifies this service on the bus
const eventSource = "exploring.fyi.engine"

// putEventsBatchSize is the EventBridge limit per PutEvents call
const putEventsBatchSize = 10

// Publisher implements the EventBus port using AWS EventBridge
type Publisher struct {
	client       *eventbridge.Client
	eventBusName string
	logger       *zap.Logger
}

// NewPublisher creates a new EventBridge publisher
func NewPublisher(client *eventbridge.Client, eventBusName string, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:       client,
		eventBusName: eventBusName,
		logger:       logger,
	}
}

// NewEventBus exposes the publisher through the EventBus port
func NewEventBus(client *eventbridge.Client, eventBusName string, logger *zap.Logger) ports.EventBus {
	return NewPublisher(client, eventBusName, logger)
}

// Publish sends a single event to EventBridge
func (p *Publisher) Publish(ctx context.Context, event events.DomainEvent) error {
	return p.PublishBatch(ctx, []events.DomainEvent{event})
}

// PublishBatch sends multiple events to EventBridge
func (p *Publisher) PublishBatch(ctx context.Context, domainEvents []events.DomainEvent) error {
	if len(domainEvents) == 0 {
		return nil
	}

	entries := make([]types.PutEventsRequestEntry, 0, len(domainEvents))
	for _, event := range domainEvents {
		detail, err := json.Marshal(event)
		if err != nil {
			p.logger.Error("failed to marshal event",
				zap.Error(err),
				zap.String("eventType", event.GetEventType()),
			)
			continue
		}

		entries = append(entries, types.PutEventsRequestEntry{
			EventBusName: aws.String(p.eventBusName),
			Source:       aws.String(eventSource),
			DetailType:   aws.String(event.GetEventType()),
			Detail:       aws.String(string(detail)),
			Time:         aws.Time(event.GetTimestamp()),
			Resources: []string{
				fmt.Sprintf("arn:aws:exploring-fyi::%s", event.GetAggregateID()),
			},
		})
	}

	for i := 0; i < len(entries); i += putEventsBatchSize {
		end := i + putEventsBatchSize
		if end > len(entries) {
			end = len(entries)
		}
		if err := p.putEvents(ctx, entries[i:end], nil); err != nil {
			return err
		}
	}
	return nil
}

// PublishEntries forwards persisted outbox entries to the bus. The
// payload goes out verbatim as the event detail. The returned slice
// holds the ids of entries the bus rejected; a non-nil error means the
// whole call failed and nothing was delivered.
func (p *Publisher) PublishEntries(ctx context.Context, outboxEntries []ports.OutboxEntry) ([]string, error) {
	if len(outboxEntries) == 0 {
		return nil, nil
	}

	var failed []string
	for i := 0; i < len(outboxEntries); i += putEventsBatchSize {
		end := i + putEventsBatchSize
		if end > len(outboxEntries) {
			end = len(outboxEntries)
		}
		chunk := outboxEntries[i:end]

		entries := make([]types.PutEventsRequestEntry, 0, len(chunk))
		ids := make([]string, 0, len(chunk))
		for _, entry := range chunk {
			entries = append(entries, types.PutEventsRequestEntry{
				EventBusName: aws.String(p.eventBusName),
				Source:       aws.String(eventSource),
				DetailType:   aws.String(entry.EventType),
				Detail:       aws.String(string(entry.Payload)),
				Time:         aws.Time(entry.CreatedAt),
			})
			ids = append(ids, entry.ID)
		}

		if err := p.putEvents(ctx, entries, func(index int, errorCode string) {
			failed = append(failed, ids[index])
		}); err != nil {
			return nil, err
		}
	}
	return failed, nil
}

// putEvents sends one PutEvents call and reports per-entry failures
// through onFailure when provided
func (p *Publisher) putEvents(ctx context.Context, entries []types.PutEventsRequestEntry, onFailure func(index int, errorCode string)) error {
	if len(entries) == 0 {
		return nil
	}

	result, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: entries})
	if err != nil {
		return fmt.Errorf("failed to publish events to EventBridge: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode == nil {
				continue
			}
			p.logger.Error("event rejected by EventBridge",
				zap.String("detailType", aws.ToString(entries[i].DetailType)),
				zap.String("errorCode", *entry.ErrorCode),
				zap.String("errorMessage", aws.ToString(entry.ErrorMessage)),
			)
			if onFailure != nil {
				onFailure(i, *entry.ErrorCode)
			}
		}
		if onFailure == nil {
			return fmt.Errorf("%d events failed to publish", result.FailedEntryCount)
		}
	}

	p.logger.Debug("events published",
		zap.Int("count", len(entries)),
		zap.String("eventBus", p.eventBusName),
	)
	return nil
}

// Subscribe registers a handler for an event type. EventBridge
// subscriptions are managed through rules and targets outside this
// process, so this only satisfies the EventBus port.
func (p *Publisher) Subscribe(eventType string, handler ports.EventHandler) error {
	p.logger.Warn("Subscribe called but EventBridge subscriptions are managed externally",
		zap.String("eventType", eventType),
	)
	return nil
}

// Unsubscribe removes a handler
func (p *Publisher) Unsubscribe(eventType string, handler ports.EventHandler) error {
	p.logger.Warn("Unsubscribe called but EventBridge subscriptions are managed externally",
		zap.String("eventType", eventType),
	)
	return nil
}
