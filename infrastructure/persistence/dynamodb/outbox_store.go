package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/domain/events"
)

// dispatchStatus tracks an outbox entry's progress toward the bus
type dispatchStatus string

const (
	dispatchPending dispatchStatus = "pending" // written, not yet relayed
	dispatchFailed  dispatchStatus = "failed"  // gave up after repeated relay failures
)

// maxDispatchAttempts is the relay-failure count after which an entry
// is parked as failed instead of retried
const maxDispatchAttempts = 3

// outboxTTL bounds how long undispatched entries linger before the
// table TTL reclaims them
const outboxTTL = 7 * 24 * time.Hour

// OutboxStore implements the OutboxStore port using DynamoDB. Entries
// share one partition with time-ordered sort keys, so the relay's
// oldest-first fetch is a plain key-ordered query. Dispatched entries
// are deleted; entries that keep failing are parked for inspection.
type OutboxStore struct {
	client    *dynamodb.Client
	tableName string
	logger    *zap.Logger
}

// NewOutboxStore creates a new OutboxStore
func NewOutboxStore(client *dynamodb.Client, tableName string, logger *zap.Logger) ports.OutboxStore {
	return &OutboxStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// outboxItem represents the DynamoDB item structure for an outbox
// entry. The SK doubles as the entry id handed back to callers.
type outboxItem struct {
	PK             string `dynamodbav:"PK"` // OUTBOX
	SK             string `dynamodbav:"SK"` // EVENT#<created_at>#<uuid>
	EntityType     string `dynamodbav:"EntityType"`
	EventType      string `dynamodbav:"EventType"`
	Payload        string `dynamodbav:"Payload"`
	CreatedAt      string `dynamodbav:"CreatedAt"`
	Attempts       int    `dynamodbav:"Attempts"`
	DispatchStatus string `dynamodbav:"DispatchStatus"`
	TTL            int64  `dynamodbav:"TTL"`
}

// Append stores events for later dispatch. Events are serialized as
// JSON payloads; the relay forwards them without re-interpreting.
func (s *OutboxStore) Append(ctx context.Context, domainEvents []events.DomainEvent) error {
	if len(domainEvents) == 0 {
		return nil
	}

	requests := make([]types.WriteRequest, 0, len(domainEvents))
	for _, event := range domainEvents {
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", event.GetEventType(), err)
		}

		now := event.GetTimestamp()
		if now.IsZero() {
			now = time.Now()
		}
		item := outboxItem{
			PK:             "OUTBOX",
			SK:             fmt.Sprintf("EVENT#%s#%s", now.Format(time.RFC3339Nano), uuid.New().String()),
			EntityType:     "OUTBOX",
			EventType:      event.GetEventType(),
			Payload:        string(payload),
			CreatedAt:      now.Format(time.RFC3339Nano),
			Attempts:       0,
			DispatchStatus: string(dispatchPending),
			TTL:            now.Add(outboxTTL).Unix(),
		}

		av, err := attributevalue.MarshalMap(item)
		if err != nil {
			return fmt.Errorf("failed to marshal outbox entry: %w", err)
		}
		requests = append(requests, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: av},
		})
	}

	// Batch write entries (DynamoDB limit is 25 items per batch)
	for i := 0; i < len(requests); i += 25 {
		end := i + 25
		if end > len(requests) {
			end = len(requests)
		}

		input := &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				s.tableName: requests[i:end],
			},
		}
		result, err := s.client.BatchWriteItem(ctx, input)
		if err != nil {
			return fmt.Errorf("failed to write outbox batch: %w", err)
		}
		if len(result.UnprocessedItems) > 0 {
			return fmt.Errorf("failed to write %d outbox entries", len(result.UnprocessedItems[s.tableName]))
		}
	}

	s.logger.Debug("outbox entries appended", zap.Int("count", len(domainEvents)))
	return nil
}

// FetchPending retrieves up to limit undispatched entries, oldest
// first
func (s *OutboxStore) FetchPending(ctx context.Context, limit int) ([]ports.OutboxEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		FilterExpression:       aws.String("DispatchStatus = :status"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: "OUTBOX"},
			":status": &types.AttributeValueMemberS{Value: string(dispatchPending)},
		},
		ScanIndexForward: aws.Bool(true),
	}

	entries := make([]ports.OutboxEntry, 0, limit)
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query pending outbox entries: %w", err)
		}

		for _, raw := range result.Items {
			var item outboxItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				s.logger.Warn("skipping malformed outbox entry", zap.Error(err))
				continue
			}
			created, _ := time.Parse(time.RFC3339Nano, item.CreatedAt)
			entries = append(entries, ports.OutboxEntry{
				ID:        item.SK,
				EventType: item.EventType,
				Payload:   []byte(item.Payload),
				CreatedAt: created,
				Attempts:  item.Attempts,
			})
			if len(entries) >= limit {
				return entries, nil
			}
		}

		if result.LastEvaluatedKey == nil {
			return entries, nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}

// MarkDispatched removes entries that reached the bus
func (s *OutboxStore) MarkDispatched(ctx context.Context, ids []string) error {
	for _, id := range ids {
		input := &dynamodb.DeleteItemInput{
			TableName: aws.String(s.tableName),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: "OUTBOX"},
				"SK": &types.AttributeValueMemberS{Value: id},
			},
		}
		if _, err := s.client.DeleteItem(ctx, input); err != nil {
			return fmt.Errorf("failed to delete dispatched entry %s: %w", id, err)
		}
	}
	return nil
}

// MarkFailed increments the attempt counter on entries that did not
// reach the bus; an entry at the attempt cap is parked as failed so
// the relay stops retrying it
func (s *OutboxStore) MarkFailed(ctx context.Context, ids []string) error {
	for _, id := range ids {
		input := &dynamodb.UpdateItemInput{
			TableName: aws.String(s.tableName),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: "OUTBOX"},
				"SK": &types.AttributeValueMemberS{Value: id},
			},
			UpdateExpression: aws.String("ADD Attempts :one"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":one": &types.AttributeValueMemberN{Value: "1"},
			},
			ConditionExpression: aws.String("attribute_exists(PK)"),
			ReturnValues:        types.ReturnValueUpdatedNew,
		}

		result, err := s.client.UpdateItem(ctx, input)
		if err != nil {
			return fmt.Errorf("failed to mark entry %s as failed: %w", id, err)
		}

		attempts := 0
		if attr, ok := result.Attributes["Attempts"].(*types.AttributeValueMemberN); ok {
			attempts, _ = strconv.Atoi(attr.Value)
		}
		if attempts < maxDispatchAttempts {
			continue
		}

		park := &dynamodb.UpdateItemInput{
			TableName: aws.String(s.tableName),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: "OUTBOX"},
				"SK": &types.AttributeValueMemberS{Value: id},
			},
			UpdateExpression: aws.String("SET DispatchStatus = :status"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":status": &types.AttributeValueMemberS{Value: string(dispatchFailed)},
			},
		}
		if _, err := s.client.UpdateItem(ctx, park); err != nil {
			return fmt.Errorf("failed to park entry %s: %w", id, err)
		}
		s.logger.Warn("outbox entry parked after repeated failures",
			zap.String("entryId", id),
			zap.Int("attempts", attempts),
		)
	}
	return nil
}
