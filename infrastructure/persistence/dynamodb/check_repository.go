package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/entities"
)

// CheckRepository implements the CheckRepository port using DynamoDB.
// Attempts are keyed by their answer timestamp under the chapter's
// partition, so history accumulates and a reverse key-ordered query
// yields newest first.
type CheckRepository struct {
	client    *dynamodb.Client
	tableName string
	logger    *zap.Logger
}

// NewCheckRepository creates a new CheckRepository
func NewCheckRepository(client *dynamodb.Client, tableName string, logger *zap.Logger) ports.CheckRepository {
	return &CheckRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// checkItem represents the DynamoDB item structure for a check attempt
type checkItem struct {
	PK         string `dynamodbav:"PK"` // CHAPTER#<chapter_id>
	SK         string `dynamodbav:"SK"` // CHECK#<answered_at>#<check_id>
	EntityType string `dynamodbav:"EntityType"`
	CheckID    string `dynamodbav:"CheckID"`
	ChapterID  string `dynamodbav:"ChapterID"`
	SectionID  string `dynamodbav:"SectionID,omitempty"`
	Passed     bool   `dynamodbav:"Passed"`
	Score      int    `dynamodbav:"Score"`
	AnsweredAt string `dynamodbav:"AnsweredAt"`
}

// Record persists one check attempt
func (r *CheckRepository) Record(ctx context.Context, check *entities.Check) error {
	item := checkItem{
		PK:         fmt.Sprintf("CHAPTER#%s", check.ChapterID),
		SK:         fmt.Sprintf("CHECK#%s#%s", check.AnsweredAt.Format(time.RFC3339Nano), check.ID),
		EntityType: "CHECK",
		CheckID:    check.ID,
		ChapterID:  check.ChapterID,
		SectionID:  check.SectionID,
		Passed:     check.Passed,
		Score:      check.Score,
		AnsweredAt: check.AnsweredAt.Format(time.RFC3339Nano),
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal check: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      av,
	}
	if _, err := r.client.PutItem(ctx, input); err != nil {
		return fmt.Errorf("failed to record check: %w", err)
	}

	r.logger.Debug("check recorded",
		zap.String("checkId", check.ID),
		zap.String("chapterId", check.ChapterID),
		zap.Bool("passed", check.Passed),
		zap.Int("score", check.Score),
	)
	return nil
}

// ListByChapter retrieves all attempts against a chapter, newest first
func (r *CheckRepository) ListByChapter(ctx context.Context, chapterID string) ([]*entities.Check, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: fmt.Sprintf("CHAPTER#%s", chapterID)},
			":prefix": &types.AttributeValueMemberS{Value: "CHECK#"},
		},
		ScanIndexForward: aws.Bool(false),
	}

	var checks []*entities.Check
	for {
		result, err := r.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query checks: %w", err)
		}
		for _, raw := range result.Items {
			var item checkItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("failed to unmarshal check: %w", err)
			}
			answered, _ := time.Parse(time.RFC3339Nano, item.AnsweredAt)
			checks = append(checks, &entities.Check{
				ID:         item.CheckID,
				ChapterID:  item.ChapterID,
				SectionID:  item.SectionID,
				Passed:     item.Passed,
				Score:      item.Score,
				AnsweredAt: answered,
			})
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return checks, nil
}
