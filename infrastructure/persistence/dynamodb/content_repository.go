package dynamodb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/entities"
)

// ContentRepository implements the ContentRepository port using
// DynamoDB. Chapters and sections share their topic's partition with
// zero-padded sort keys, so a plain key-ordered query returns them in
// outline and delivery order without a separate sort.
type ContentRepository struct {
	client    *dynamodb.Client
	tableName string
	logger    *zap.Logger
}

// NewContentRepository creates a new ContentRepository
func NewContentRepository(client *dynamodb.Client, tableName string, logger *zap.Logger) ports.ContentRepository {
	return &ContentRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// chapterItem represents the DynamoDB item structure for a chapter
type chapterItem struct {
	PK           string `dynamodbav:"PK"` // TOPIC#<topic_id>
	SK           string `dynamodbav:"SK"` // CHAPTER#<index, zero padded>
	EntityType   string `dynamodbav:"EntityType"`
	ChapterID    string `dynamodbav:"ChapterID"`
	ChapterIndex int    `dynamodbav:"ChapterIndex"`
	Title        string `dynamodbav:"Title"`
}

// sectionItem represents the DynamoDB item structure for a section.
// Section ids derive from chapter and paragraph position, so a rewrite
// of the same paragraph lands on the same key and replaces in place.
type sectionItem struct {
	PK             string `dynamodbav:"PK"` // TOPIC#<topic_id>
	SK             string `dynamodbav:"SK"` // SECTION#<chapter>#<paragraph>, zero padded
	EntityType     string `dynamodbav:"EntityType"`
	SectionID      string `dynamodbav:"SectionID"`
	ChapterID      string `dynamodbav:"ChapterID"`
	ChapterIndex   int    `dynamodbav:"ChapterIndex"`
	ParagraphIndex int    `dynamodbav:"ParagraphIndex"`
	Title          string `dynamodbav:"Title,omitempty"`
	Content        string `dynamodbav:"Content"`
	SectionStatus  string `dynamodbav:"SectionStatus"`
}

func chapterSK(index int) string {
	return fmt.Sprintf("CHAPTER#%03d", index)
}

func sectionSK(chapterIndex, paragraphIndex int) string {
	return fmt.Sprintf("SECTION#%03d#%03d", chapterIndex, paragraphIndex)
}

// SaveChapters persists a topic's table of contents as one batch
func (r *ContentRepository) SaveChapters(ctx context.Context, topicID string, chapters []*entities.Chapter) error {
	if len(chapters) == 0 {
		return nil
	}

	requests := make([]types.WriteRequest, 0, len(chapters))
	for _, chapter := range chapters {
		item := chapterItem{
			PK:           fmt.Sprintf("TOPIC#%s", topicID),
			SK:           chapterSK(chapter.Index),
			EntityType:   "CHAPTER",
			ChapterID:    chapter.ID,
			ChapterIndex: chapter.Index,
			Title:        chapter.Title,
		}
		av, err := attributevalue.MarshalMap(item)
		if err != nil {
			return fmt.Errorf("failed to marshal chapter: %w", err)
		}
		requests = append(requests, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: av},
		})
	}

	if err := r.batchWrite(ctx, requests); err != nil {
		return err
	}

	r.logger.Debug("chapters saved",
		zap.String("topicId", topicID),
		zap.Int("count", len(chapters)),
	)
	return nil
}

// SaveSection persists one section, replacing any previous write for
// the same derived id
func (r *ContentRepository) SaveSection(ctx context.Context, topicID string, section *entities.ContentSection) error {
	item := sectionItem{
		PK:             fmt.Sprintf("TOPIC#%s", topicID),
		SK:             sectionSK(section.ChapterIndex, section.ParagraphIndex),
		EntityType:     "SECTION",
		SectionID:      section.ID,
		ChapterID:      section.ChapterID,
		ChapterIndex:   section.ChapterIndex,
		ParagraphIndex: section.ParagraphIndex,
		Title:          section.Title,
		Content:        section.Content,
		SectionStatus:  string(section.Status),
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal section: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      av,
	}
	if _, err := r.client.PutItem(ctx, input); err != nil {
		return fmt.Errorf("failed to save section: %w", err)
	}
	return nil
}

// GetChapters retrieves a topic's chapters in outline order
func (r *ContentRepository) GetChapters(ctx context.Context, topicID string) ([]*entities.Chapter, error) {
	items, err := r.queryPrefix(ctx, topicID, "CHAPTER#")
	if err != nil {
		return nil, err
	}

	chapters := make([]*entities.Chapter, 0, len(items))
	for _, raw := range items {
		var item chapterItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chapter: %w", err)
		}
		chapters = append(chapters, &entities.Chapter{
			ID:    item.ChapterID,
			Index: item.ChapterIndex,
			Title: item.Title,
		})
	}
	return chapters, nil
}

// GetSections retrieves a topic's sections in delivery order
func (r *ContentRepository) GetSections(ctx context.Context, topicID string) ([]*entities.ContentSection, error) {
	items, err := r.queryPrefix(ctx, topicID, "SECTION#")
	if err != nil {
		return nil, err
	}

	sections := make([]*entities.ContentSection, 0, len(items))
	for _, raw := range items {
		var item sectionItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal section: %w", err)
		}
		sections = append(sections, &entities.ContentSection{
			ID:             item.SectionID,
			ChapterID:      item.ChapterID,
			ChapterIndex:   item.ChapterIndex,
			ParagraphIndex: item.ParagraphIndex,
			Title:          item.Title,
			Content:        item.Content,
			Status:         entities.SectionStatus(item.SectionStatus),
		})
	}
	return sections, nil
}

// DeleteByTopic removes all content belonging to a topic
func (r *ContentRepository) DeleteByTopic(ctx context.Context, topicID string) error {
	var keys []map[string]types.AttributeValue
	for _, prefix := range []string{"CHAPTER#", "SECTION#"} {
		items, err := r.queryPrefix(ctx, topicID, prefix)
		if err != nil {
			return err
		}
		for _, raw := range items {
			keys = append(keys, map[string]types.AttributeValue{
				"PK": raw["PK"],
				"SK": raw["SK"],
			})
		}
	}
	if len(keys) == 0 {
		return nil
	}

	requests := make([]types.WriteRequest, 0, len(keys))
	for _, key := range keys {
		requests = append(requests, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: key},
		})
	}

	if err := r.batchWrite(ctx, requests); err != nil {
		return err
	}

	r.logger.Info("content deleted",
		zap.String("topicId", topicID),
		zap.Int("count", len(keys)),
	)
	return nil
}

func (r *ContentRepository) queryPrefix(ctx context.Context, topicID, prefix string) ([]map[string]types.AttributeValue, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: fmt.Sprintf("TOPIC#%s", topicID)},
			":prefix": &types.AttributeValueMemberS{Value: prefix},
		},
		ScanIndexForward: aws.Bool(true),
	}

	var items []map[string]types.AttributeValue
	for {
		result, err := r.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query content: %w", err)
		}
		items = append(items, result.Items...)
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return items, nil
}

// batchWrite sends write requests in chunks of 25, the BatchWriteItem
// limit
func (r *ContentRepository) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	for i := 0; i < len(requests); i += 25 {
		end := i + 25
		if end > len(requests) {
			end = len(requests)
		}

		input := &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				r.tableName: requests[i:end],
			},
		}
		result, err := r.client.BatchWriteItem(ctx, input)
		if err != nil {
			return fmt.Errorf("failed to write batch: %w", err)
		}
		if len(result.UnprocessedItems) > 0 {
			return fmt.Errorf("failed to write %d items", len(result.UnprocessedItems[r.tableName]))
		}
	}
	return nil
}
