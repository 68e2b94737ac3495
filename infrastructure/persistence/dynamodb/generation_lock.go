package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
)

// acquireWait bounds how long Acquire waits for a contended lock
// before reporting it busy.
const acquireWait = 2 * time.Second

// GenerationLock implements the GenerationLock port with DynamoDB
// conditional writes. One generation run per topic holds the lock at a
// time; an expired lock is treated as free so a crashed holder cannot
// wedge the topic, and the item TTL clears abandoned records.
type GenerationLock struct {
	client        *dynamodb.Client
	tableName     string
	ttl           time.Duration
	retryInterval time.Duration
	logger        *zap.Logger
}

// lockItem represents a lock record in DynamoDB
type lockItem struct {
	PK         string `dynamodbav:"PK"` // GENLOCK#<resource_id>
	SK         string `dynamodbav:"SK"` // LOCK
	EntityType string `dynamodbav:"EntityType"`
	Owner      string `dynamodbav:"Owner"`
	AcquiredAt string `dynamodbav:"AcquiredAt"` // RFC3339 timestamp
	ExpiresAt  string `dynamodbav:"ExpiresAt"`  // RFC3339 timestamp
	TTL        int64  `dynamodbav:"TTL"`        // Unix timestamp for DynamoDB TTL
}

// NewGenerationLock creates a new GenerationLock with the given hold
// duration and initial retry interval
func NewGenerationLock(client *dynamodb.Client, tableName string, ttl, retryInterval time.Duration, logger *zap.Logger) ports.GenerationLock {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if retryInterval <= 0 {
		retryInterval = 100 * time.Millisecond
	}
	return &GenerationLock{
		client:        client,
		tableName:     tableName,
		ttl:           ttl,
		retryInterval: retryInterval,
		logger:        logger,
	}
}

// Acquire takes the lock for a resource, waiting briefly for a
// contended lock to free with interval backoff. It reports false
// without error when another owner still holds an unexpired lock at
// the end of the wait window.
func (l *GenerationLock) Acquire(ctx context.Context, resourceID, ownerID string) (bool, error) {
	deadline := time.Now().Add(acquireWait)
	interval := l.retryInterval

	for {
		acquired, err := l.tryAcquire(ctx, resourceID, ownerID)
		if err != nil || acquired {
			return acquired, err
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(interval):
			if interval < time.Second {
				interval = time.Duration(float64(interval) * 1.5)
			}
		}
	}
}

// tryAcquire makes a single conditional-write attempt on the lock row.
func (l *GenerationLock) tryAcquire(ctx context.Context, resourceID, ownerID string) (bool, error) {
	now := time.Now()
	expiresAt := now.Add(l.ttl)

	item := map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: fmt.Sprintf("GENLOCK#%s", resourceID)},
		"SK":         &types.AttributeValueMemberS{Value: "LOCK"},
		"EntityType": &types.AttributeValueMemberS{Value: "GENLOCK"},
		"Owner":      &types.AttributeValueMemberS{Value: ownerID},
		"AcquiredAt": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		"ExpiresAt":  &types.AttributeValueMemberS{Value: expiresAt.Format(time.RFC3339)},
		"TTL":        &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expiresAt.Unix())},
	}

	input := &dynamodb.PutItemInput{
		TableName:           aws.String(l.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR ExpiresAt < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	}

	if _, err := l.client.PutItem(ctx, input); err != nil {
		var conditionalCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionalCheckFailed) {
			l.logger.Debug("generation lock held elsewhere",
				zap.String("resource", resourceID),
				zap.String("owner", ownerID),
			)
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire generation lock: %w", err)
	}

	l.logger.Debug("generation lock acquired",
		zap.String("resource", resourceID),
		zap.String("owner", ownerID),
		zap.Duration("ttl", l.ttl),
	)
	return true, nil
}

// Release frees the lock if still held by the owner. A lock that
// expired and was taken over is left alone.
func (l *GenerationLock) Release(ctx context.Context, resourceID, ownerID string) error {
	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(l.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("GENLOCK#%s", resourceID)},
			"SK": &types.AttributeValueMemberS{Value: "LOCK"},
		},
		ConditionExpression: aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "Owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: ownerID},
		},
	}

	if _, err := l.client.DeleteItem(ctx, input); err != nil {
		var conditionalCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionalCheckFailed) {
			l.logger.Warn("generation lock already released or taken over",
				zap.String("resource", resourceID),
				zap.String("owner", ownerID),
			)
			return nil
		}
		return fmt.Errorf("failed to release generation lock: %w", err)
	}

	l.logger.Debug("generation lock released",
		zap.String("resource", resourceID),
		zap.String("owner", ownerID),
	)
	return nil
}
