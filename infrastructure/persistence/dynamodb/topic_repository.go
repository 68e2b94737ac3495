// Package dynamodb persists topics, mind maps, reading content and the
// generation coordination records in a single DynamoDB table. Entity
// rows share the table through typed key prefixes; GSI1 provides direct
// by-ID lookups.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/entities"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

// TopicRepository implements the TopicRepository port using DynamoDB.
// The (scope, slug) pair is the primary key, so slug uniqueness within
// a scope is enforced by the table itself rather than by a lookup.
type TopicRepository struct {
	client    *dynamodb.Client
	tableName string
	indexName string
	logger    *zap.Logger
}

// NewTopicRepository creates a new TopicRepository
func NewTopicRepository(client *dynamodb.Client, tableName, indexName string, logger *zap.Logger) ports.TopicRepository {
	return &TopicRepository{
		client:    client,
		tableName: tableName,
		indexName: indexName,
		logger:    logger,
	}
}

// topicItem represents the DynamoDB item structure for a topic
type topicItem struct {
	PK              string `dynamodbav:"PK"`     // SCOPE#<scope>
	SK              string `dynamodbav:"SK"`     // TOPIC#<slug>
	GSI1PK          string `dynamodbav:"GSI1PK"` // TOPICID#<id>
	GSI1SK          string `dynamodbav:"GSI1SK"` // Always "METADATA" for topics
	EntityType      string `dynamodbav:"EntityType"`
	TopicID         string `dynamodbav:"TopicID"`
	Scope           string `dynamodbav:"Scope"`
	Slug            string `dynamodbav:"Slug"`
	Title           string `dynamodbav:"Title"`
	NormalizedTitle string `dynamodbav:"NormalizedTitle"`
	Language        string `dynamodbav:"Language"`
	SourceURL       string `dynamodbav:"SourceURL,omitempty"`
	CreatedAt       string `dynamodbav:"CreatedAt"`
	UpdatedAt       string `dynamodbav:"UpdatedAt"`
}

func topicToItem(topic *entities.Topic) topicItem {
	return topicItem{
		PK:              fmt.Sprintf("SCOPE#%s", topic.Scope),
		SK:              fmt.Sprintf("TOPIC#%s", topic.Slug),
		GSI1PK:          fmt.Sprintf("TOPICID#%s", topic.ID),
		GSI1SK:          "METADATA",
		EntityType:      "TOPIC",
		TopicID:         topic.ID,
		Scope:           topic.Scope,
		Slug:            topic.Slug,
		Title:           topic.Title,
		NormalizedTitle: topic.NormalizedTitle(),
		Language:        topic.Language,
		SourceURL:       topic.SourceURL,
		CreatedAt:       topic.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       topic.UpdatedAt.Format(time.RFC3339),
	}
}

func itemToTopic(item topicItem) *entities.Topic {
	created, _ := time.Parse(time.RFC3339, item.CreatedAt)
	updated, _ := time.Parse(time.RFC3339, item.UpdatedAt)

	return &entities.Topic{
		ID:        item.TopicID,
		Scope:     item.Scope,
		Slug:      item.Slug,
		Title:     item.Title,
		Language:  item.Language,
		SourceURL: item.SourceURL,
		CreatedAt: created,
		UpdatedAt: updated,
	}
}

// Create persists a new topic. The conditional write rejects an
// existing (scope, slug) row instead of overwriting it, so a lost
// create race surfaces as a conflict the caller can re-read on.
func (r *TopicRepository) Create(ctx context.Context, topic *entities.Topic) error {
	av, err := attributevalue.MarshalMap(topicToItem(topic))
	if err != nil {
		return fmt.Errorf("failed to marshal topic: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	}

	if _, err := r.client.PutItem(ctx, input); err != nil {
		var conditionalCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionalCheckFailed) {
			r.logger.Debug("topic create lost the slug race",
				zap.String("scope", topic.Scope),
				zap.String("slug", topic.Slug),
			)
			return pkgerrors.NewDomainError(
				pkgerrors.DomainConflictError,
				"TOPIC_EXISTS",
				"A topic with this slug already exists in the scope",
			).WithDetail("slug", topic.Slug)
		}
		return fmt.Errorf("failed to create topic: %w", err)
	}

	r.logger.Info("topic created",
		zap.String("topicId", topic.ID),
		zap.String("scope", topic.Scope),
		zap.String("slug", topic.Slug),
	)
	return nil
}

// GetByID retrieves a topic by its ID via GSI1
func (r *TopicRepository) GetByID(ctx context.Context, id string) (*entities.Topic, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(r.indexName),
		KeyConditionExpression: aws.String("GSI1PK = :pk AND GSI1SK = :sk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: fmt.Sprintf("TOPICID#%s", id)},
			":sk": &types.AttributeValueMemberS{Value: "METADATA"},
		},
		Limit: aws.Int32(1),
	}

	result, err := r.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to query topic: %w", err)
	}
	if len(result.Items) == 0 {
		return nil, pkgerrors.ErrTopicNotFound
	}

	var item topicItem
	if err := attributevalue.UnmarshalMap(result.Items[0], &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal topic: %w", err)
	}
	return itemToTopic(item), nil
}

// FindBySlug retrieves a topic by its (scope, slug) primary key
func (r *TopicRepository) FindBySlug(ctx context.Context, scope, slug string) (*entities.Topic, error) {
	input := &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("SCOPE#%s", scope)},
			"SK": &types.AttributeValueMemberS{Value: fmt.Sprintf("TOPIC#%s", slug)},
		},
	}

	result, err := r.client.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to get topic: %w", err)
	}
	if result.Item == nil {
		return nil, pkgerrors.ErrTopicNotFound
	}

	var item topicItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal topic: %w", err)
	}
	return itemToTopic(item), nil
}

// FindByTitle retrieves a topic by its normalized title within a scope.
// Titles are not part of the key, so this scans the scope's topic rows
// with a filter; scopes are per-session and stay small.
func (r *TopicRepository) FindByTitle(ctx context.Context, scope, normalizedTitle string) (*entities.Topic, error) {
	keyEx := expression.Key("PK").Equal(expression.Value(fmt.Sprintf("SCOPE#%s", scope))).
		And(expression.Key("SK").BeginsWith("TOPIC#"))
	filter := expression.Name("NormalizedTitle").Equal(expression.Value(normalizedTitle))

	expr, err := expression.NewBuilder().
		WithKeyCondition(keyEx).
		WithFilter(filter).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	for {
		result, err := r.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query topic by title: %w", err)
		}
		if len(result.Items) > 0 {
			var item topicItem
			if err := attributevalue.UnmarshalMap(result.Items[0], &item); err != nil {
				return nil, fmt.Errorf("failed to unmarshal topic: %w", err)
			}
			return itemToTopic(item), nil
		}
		if result.LastEvaluatedKey == nil {
			return nil, pkgerrors.ErrTopicNotFound
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}

// SlugExists reports whether a slug is taken within a scope
func (r *TopicRepository) SlugExists(ctx context.Context, scope, slug string) (bool, error) {
	input := &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("SCOPE#%s", scope)},
			"SK": &types.AttributeValueMemberS{Value: fmt.Sprintf("TOPIC#%s", slug)},
		},
		ProjectionExpression: aws.String("PK"),
	}

	result, err := r.client.GetItem(ctx, input)
	if err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return result.Item != nil, nil
}

// Update persists changes to an existing topic
func (r *TopicRepository) Update(ctx context.Context, topic *entities.Topic) error {
	av, err := attributevalue.MarshalMap(topicToItem(topic))
	if err != nil {
		return fmt.Errorf("failed to marshal topic: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_exists(PK)"),
	}

	if _, err := r.client.PutItem(ctx, input); err != nil {
		var conditionalCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionalCheckFailed) {
			return pkgerrors.ErrTopicNotFound
		}
		return fmt.Errorf("failed to update topic: %w", err)
	}
	return nil
}

// ListByScope retrieves a page of topics within a scope. Ordering and
// paging happen client-side; a session's scope holds at most a few
// dozen topics.
func (r *TopicRepository) ListByScope(ctx context.Context, scope string, criteria ports.ListCriteria) ([]*entities.Topic, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: fmt.Sprintf("SCOPE#%s", scope)},
			":prefix": &types.AttributeValueMemberS{Value: "TOPIC#"},
		},
	}

	var topics []*entities.Topic
	for {
		result, err := r.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to list topics: %w", err)
		}
		for _, raw := range result.Items {
			var item topicItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("failed to unmarshal topic: %w", err)
			}
			topics = append(topics, itemToTopic(item))
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	if criteria.Query != "" {
		needle := strings.ToLower(criteria.Query)
		filtered := topics[:0]
		for _, t := range topics {
			if strings.Contains(strings.ToLower(t.Title), needle) {
				filtered = append(filtered, t)
			}
		}
		topics = filtered
	}

	sortTopics(topics, criteria.OrderBy, criteria.OrderDesc)

	if criteria.Offset > 0 {
		if criteria.Offset >= len(topics) {
			return []*entities.Topic{}, nil
		}
		topics = topics[criteria.Offset:]
	}
	if criteria.Limit > 0 && criteria.Limit < len(topics) {
		topics = topics[:criteria.Limit]
	}
	return topics, nil
}

// Delete removes a topic by ID
func (r *TopicRepository) Delete(ctx context.Context, id string) error {
	topic, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("SCOPE#%s", topic.Scope)},
			"SK": &types.AttributeValueMemberS{Value: fmt.Sprintf("TOPIC#%s", topic.Slug)},
		},
	}

	if _, err := r.client.DeleteItem(ctx, input); err != nil {
		return fmt.Errorf("failed to delete topic: %w", err)
	}

	r.logger.Info("topic deleted",
		zap.String("topicId", id),
		zap.String("scope", topic.Scope),
		zap.String("slug", topic.Slug),
	)
	return nil
}

func sortTopics(topics []*entities.Topic, orderBy string, desc bool) {
	less := func(a, b *entities.Topic) bool {
		switch orderBy {
		case "title":
			return a.Title < b.Title
		case "updated_at":
			return a.UpdatedAt.Before(b.UpdatedAt)
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	}
	sort.SliceStable(topics, func(i, j int) bool {
		if desc {
			return less(topics[j], topics[i])
		}
		return less(topics[i], topics[j])
	})
}
