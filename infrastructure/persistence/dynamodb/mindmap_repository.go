package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/aggregates"
	"github.com/creatuluw/exploring.fyi-sub000/domain/versioning"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

// MindMapRepository implements the MindMapRepository port using
// DynamoDB. Map rows live under their topic's partition; a separate
// live-marker item under the same partition enforces the at-most-one
// live map rule through conditional writes, and a Version attribute
// backs the optimistic concurrency on graph updates.
type MindMapRepository struct {
	client    *dynamodb.Client
	tableName string
	indexName string
	logger    *zap.Logger
}

// NewMindMapRepository creates a new MindMapRepository
func NewMindMapRepository(client *dynamodb.Client, tableName, indexName string, logger *zap.Logger) ports.MindMapRepository {
	return &MindMapRepository{
		client:    client,
		tableName: tableName,
		indexName: indexName,
		logger:    logger,
	}
}

// mapItem represents the DynamoDB item structure for a mind map
type mapItem struct {
	PK         string `dynamodbav:"PK"`     // TOPIC#<topic_id>
	SK         string `dynamodbav:"SK"`     // MAP#<map_id>
	GSI1PK     string `dynamodbav:"GSI1PK"` // MAPID#<map_id>
	GSI1SK     string `dynamodbav:"GSI1SK"` // Always "METADATA" for maps
	EntityType string `dynamodbav:"EntityType"`
	MapID      string `dynamodbav:"MapID"`
	TopicID    string `dynamodbav:"TopicID"`
	TopicSlug  string `dynamodbav:"TopicSlug"`
	Title      string `dynamodbav:"Title"`
	Status     string `dynamodbav:"Status"`
	Graph      string `dynamodbav:"Graph"` // schema-versioned JSON payload
	NodeCount  int    `dynamodbav:"NodeCount"`
	EdgeCount  int    `dynamodbav:"EdgeCount"`
	CreatedAt  string `dynamodbav:"CreatedAt"`
	UpdatedAt  string `dynamodbav:"UpdatedAt"`
	Version    int    `dynamodbav:"Version"`
}

// liveMarkerItem reserves a topic's single live map slot. It is written
// in the same transaction as a live map row and removed when the map
// leaves the live status.
type liveMarkerItem struct {
	PK         string `dynamodbav:"PK"` // TOPIC#<topic_id>
	SK         string `dynamodbav:"SK"` // LIVEMAP
	EntityType string `dynamodbav:"EntityType"`
	MapID      string `dynamodbav:"MapID"`
	CreatedAt  string `dynamodbav:"CreatedAt"`
}

func mapToItem(m *aggregates.MindMap) (mapItem, error) {
	payload, err := versioning.EncodeStoredGraph(&versioning.StoredGraph{
		Status:   m.Status(),
		Nodes:    m.Nodes(),
		Edges:    m.Edges(),
		Chapters: m.Chapters(),
		Sections: m.Sections(),
	})
	if err != nil {
		return mapItem{}, fmt.Errorf("failed to encode graph payload: %w", err)
	}

	return mapItem{
		PK:         fmt.Sprintf("TOPIC#%s", m.TopicID()),
		SK:         fmt.Sprintf("MAP#%s", m.ID().String()),
		GSI1PK:     fmt.Sprintf("MAPID#%s", m.ID().String()),
		GSI1SK:     "METADATA",
		EntityType: "MINDMAP",
		MapID:      m.ID().String(),
		TopicID:    m.TopicID(),
		TopicSlug:  m.TopicSlug(),
		Title:      m.Title(),
		Status:     string(m.Status()),
		Graph:      string(payload),
		NodeCount:  m.NodeCount(),
		EdgeCount:  m.EdgeCount(),
		CreatedAt:  m.CreatedAt().Format(time.RFC3339),
		UpdatedAt:  m.UpdatedAt().Format(time.RFC3339),
		Version:    m.Version(),
	}, nil
}

func itemToMindMap(item mapItem) (*aggregates.MindMap, error) {
	stored, err := versioning.DecodeStoredGraph([]byte(item.Graph))
	if err != nil {
		return nil, fmt.Errorf("failed to decode graph payload for map %s: %w", item.MapID, err)
	}

	return aggregates.ReconstructMindMap(
		item.MapID,
		item.TopicID,
		item.TopicSlug,
		item.Title,
		stored.Nodes,
		stored.Edges,
		stored.Chapters,
		stored.Sections,
		aggregates.MapStatus(item.Status),
		item.CreatedAt,
		item.UpdatedAt,
		item.Version,
		nil,
	)
}

// Create persists a new mind map. A live map is written together with
// the topic's live marker in one transaction, so a second live map for
// the same topic fails the marker condition and surfaces as a conflict.
func (r *MindMapRepository) Create(ctx context.Context, m *aggregates.MindMap) error {
	item, err := mapToItem(m)
	if err != nil {
		return err
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal mind map: %w", err)
	}

	if m.Status() != aggregates.StatusLive {
		input := &dynamodb.PutItemInput{
			TableName:           aws.String(r.tableName),
			Item:                av,
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		}
		if _, err := r.client.PutItem(ctx, input); err != nil {
			var conditionalCheckFailed *types.ConditionalCheckFailedException
			if errors.As(err, &conditionalCheckFailed) {
				return pkgerrors.ErrConcurrentModification
			}
			return fmt.Errorf("failed to create mind map: %w", err)
		}
		return nil
	}

	marker := liveMarkerItem{
		PK:         item.PK,
		SK:         "LIVEMAP",
		EntityType: "LIVEMARKER",
		MapID:      item.MapID,
		CreatedAt:  item.CreatedAt,
	}
	markerAV, err := attributevalue.MarshalMap(marker)
	if err != nil {
		return fmt.Errorf("failed to marshal live marker: %w", err)
	}

	input := &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(r.tableName),
					Item:                av,
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(r.tableName),
					Item:                markerAV,
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
		},
	}

	if _, err := r.client.TransactWriteItems(ctx, input); err != nil {
		if isTransactConditionFailed(err) {
			r.logger.Debug("live map create lost the race",
				zap.String("topicId", m.TopicID()),
				zap.String("mapId", m.ID().String()),
			)
			return pkgerrors.ErrLiveMindMapExists
		}
		return fmt.Errorf("failed to create mind map: %w", err)
	}

	r.logger.Info("mind map created",
		zap.String("mapId", m.ID().String()),
		zap.String("topicId", m.TopicID()),
		zap.String("status", string(m.Status())),
	)
	return nil
}

// GetByID retrieves a mind map by its ID via GSI1
func (r *MindMapRepository) GetByID(ctx context.Context, id string) (*aggregates.MindMap, error) {
	item, err := r.getItemByMapID(ctx, id)
	if err != nil {
		return nil, err
	}
	return itemToMindMap(*item)
}

// GetLiveByTopic retrieves the topic's single live map by following
// the live marker
func (r *MindMapRepository) GetLiveByTopic(ctx context.Context, topicID string) (*aggregates.MindMap, error) {
	markerOut, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("TOPIC#%s", topicID)},
			"SK": &types.AttributeValueMemberS{Value: "LIVEMAP"},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get live marker: %w", err)
	}
	if markerOut.Item == nil {
		return nil, pkgerrors.ErrMindMapNotFound
	}

	var marker liveMarkerItem
	if err := attributevalue.UnmarshalMap(markerOut.Item, &marker); err != nil {
		return nil, fmt.Errorf("failed to unmarshal live marker: %w", err)
	}

	rowOut, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("TOPIC#%s", topicID)},
			"SK": &types.AttributeValueMemberS{Value: fmt.Sprintf("MAP#%s", marker.MapID)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get live mind map: %w", err)
	}
	if rowOut.Item == nil {
		return nil, pkgerrors.ErrMindMapNotFound
	}

	var item mapItem
	if err := attributevalue.UnmarshalMap(rowOut.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mind map: %w", err)
	}
	return itemToMindMap(item)
}

// GetLatestByTopic retrieves the most recently updated map for a topic
// in any status
func (r *MindMapRepository) GetLatestByTopic(ctx context.Context, topicID string) (*aggregates.MindMap, error) {
	items, err := r.queryMapItems(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, pkgerrors.ErrMindMapNotFound
	}

	latest := items[0]
	for _, item := range items[1:] {
		if item.UpdatedAt > latest.UpdatedAt {
			latest = item
		}
	}
	return itemToMindMap(latest)
}

// UpdateGraph writes a map's graph payload onto its existing row. The
// write carries a version condition: a concurrent writer that bumped
// the row first fails the condition and the caller re-reads. A terminal
// payload also removes the topic's live marker in the same transaction.
func (r *MindMapRepository) UpdateGraph(ctx context.Context, mapID string, graph *versioning.StoredGraph, expectedVersion int) error {
	current, err := r.getItemByMapID(ctx, mapID)
	if err != nil {
		return err
	}

	payload, err := versioning.EncodeStoredGraph(graph)
	if err != nil {
		return fmt.Errorf("failed to encode graph payload: %w", err)
	}

	now := time.Now().Format(time.RFC3339)
	update := &types.Update{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: current.PK},
			"SK": &types.AttributeValueMemberS{Value: current.SK},
		},
		UpdateExpression: aws.String("SET Graph = :graph, #st = :status, NodeCount = :nodes, EdgeCount = :edges, UpdatedAt = :now, Version = :next"),
		ConditionExpression: aws.String("Version = :expected"),
		ExpressionAttributeNames: map[string]string{
			"#st": "Status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":graph":    &types.AttributeValueMemberS{Value: string(payload)},
			":status":   &types.AttributeValueMemberS{Value: string(graph.Status)},
			":nodes":    &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", len(graph.Nodes))},
			":edges":    &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", len(graph.Edges))},
			":now":      &types.AttributeValueMemberS{Value: now},
			":next":     &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expectedVersion+1)},
			":expected": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expectedVersion)},
		},
	}

	if graph.Status == aggregates.StatusLive {
		input := &dynamodb.UpdateItemInput{
			TableName:                 update.TableName,
			Key:                       update.Key,
			UpdateExpression:          update.UpdateExpression,
			ConditionExpression:       update.ConditionExpression,
			ExpressionAttributeNames:  update.ExpressionAttributeNames,
			ExpressionAttributeValues: update.ExpressionAttributeValues,
		}
		if _, err := r.client.UpdateItem(ctx, input); err != nil {
			var conditionalCheckFailed *types.ConditionalCheckFailedException
			if errors.As(err, &conditionalCheckFailed) {
				return pkgerrors.ErrConcurrentModification
			}
			return fmt.Errorf("failed to update graph: %w", err)
		}
		return nil
	}

	// Terminal statuses free the live slot so the next generation for
	// this topic can insert its own live row.
	input := &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: update},
			{
				Delete: &types.Delete{
					TableName: aws.String(r.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: current.PK},
						"SK": &types.AttributeValueMemberS{Value: "LIVEMAP"},
					},
				},
			},
		},
	}

	if _, err := r.client.TransactWriteItems(ctx, input); err != nil {
		if isTransactConditionFailed(err) {
			return pkgerrors.ErrConcurrentModification
		}
		return fmt.Errorf("failed to update graph: %w", err)
	}

	r.logger.Debug("graph updated",
		zap.String("mapId", mapID),
		zap.String("status", string(graph.Status)),
		zap.Int("version", expectedVersion+1),
	)
	return nil
}

// Delete removes a mind map and, when it held the live slot, the
// topic's live marker
func (r *MindMapRepository) Delete(ctx context.Context, id string) error {
	item, err := r.getItemByMapID(ctx, id)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrMindMapNotFound) {
			return nil
		}
		return err
	}

	if _, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: item.PK},
			"SK": &types.AttributeValueMemberS{Value: item.SK},
		},
	}); err != nil {
		return fmt.Errorf("failed to delete mind map: %w", err)
	}

	// Conditional on MapID so a marker already handed to a newer map
	// survives.
	if _, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: item.PK},
			"SK": &types.AttributeValueMemberS{Value: "LIVEMAP"},
		},
		ConditionExpression: aws.String("MapID = :mapId"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":mapId": &types.AttributeValueMemberS{Value: item.MapID},
		},
	}); err != nil {
		var conditionalCheckFailed *types.ConditionalCheckFailedException
		if !errors.As(err, &conditionalCheckFailed) {
			return fmt.Errorf("failed to delete live marker: %w", err)
		}
	}
	return nil
}

// DeleteByTopic removes all maps belonging to a topic along with the
// live marker
func (r *MindMapRepository) DeleteByTopic(ctx context.Context, topicID string) error {
	items, err := r.queryMapItems(ctx, topicID)
	if err != nil {
		return err
	}

	keys := make([]map[string]types.AttributeValue, 0, len(items)+1)
	for _, item := range items {
		keys = append(keys, map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: item.PK},
			"SK": &types.AttributeValueMemberS{Value: item.SK},
		})
	}
	keys = append(keys, map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("TOPIC#%s", topicID)},
		"SK": &types.AttributeValueMemberS{Value: "LIVEMAP"},
	})

	if err := r.batchDelete(ctx, keys); err != nil {
		return err
	}

	r.logger.Info("mind maps deleted",
		zap.String("topicId", topicID),
		zap.Int("count", len(items)),
	)
	return nil
}

func (r *MindMapRepository) getItemByMapID(ctx context.Context, mapID string) (*mapItem, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(r.indexName),
		KeyConditionExpression: aws.String("GSI1PK = :pk AND GSI1SK = :sk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: fmt.Sprintf("MAPID#%s", mapID)},
			":sk": &types.AttributeValueMemberS{Value: "METADATA"},
		},
		Limit: aws.Int32(1),
	}

	result, err := r.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to query mind map: %w", err)
	}
	if len(result.Items) == 0 {
		return nil, pkgerrors.ErrMindMapNotFound
	}

	var item mapItem
	if err := attributevalue.UnmarshalMap(result.Items[0], &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mind map: %w", err)
	}
	return &item, nil
}

func (r *MindMapRepository) queryMapItems(ctx context.Context, topicID string) ([]mapItem, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: fmt.Sprintf("TOPIC#%s", topicID)},
			":prefix": &types.AttributeValueMemberS{Value: "MAP#"},
		},
	}

	var items []mapItem
	for {
		result, err := r.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query mind maps: %w", err)
		}
		for _, raw := range result.Items {
			var item mapItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("failed to unmarshal mind map: %w", err)
			}
			items = append(items, item)
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return items, nil
}

// batchDelete removes items in chunks of 25, the BatchWriteItem limit
func (r *MindMapRepository) batchDelete(ctx context.Context, keys []map[string]types.AttributeValue) error {
	for i := 0; i < len(keys); i += 25 {
		end := i + 25
		if end > len(keys) {
			end = len(keys)
		}

		requests := make([]types.WriteRequest, 0, end-i)
		for _, key := range keys[i:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: key},
			})
		}

		input := &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				r.tableName: requests,
			},
		}
		result, err := r.client.BatchWriteItem(ctx, input)
		if err != nil {
			return fmt.Errorf("failed to delete batch: %w", err)
		}
		if len(result.UnprocessedItems) > 0 {
			return fmt.Errorf("failed to delete %d items", len(result.UnprocessedItems[r.tableName]))
		}
	}
	return nil
}

// isTransactConditionFailed reports whether a transaction was canceled
// because one of its condition checks failed
func isTransactConditionFailed(err error) bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return false
	}
	for _, reason := range tce.CancellationReasons {
		if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}
