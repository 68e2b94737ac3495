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
)

// connectionTTL evicts connection records the gateway never reported
// as closed
const connectionTTL = 24 * time.Hour

// ConnectionRegistry implements the ConnectionRegistry port in the
// connections table. GSI1 groups connections by session so progress
// pushes can fan out to every client a session has open.
type ConnectionRegistry struct {
	client    *dynamodb.Client
	tableName string
	indexName string
	logger    *zap.Logger
}

// NewConnectionRegistry creates a new ConnectionRegistry
func NewConnectionRegistry(client *dynamodb.Client, tableName, indexName string, logger *zap.Logger) ports.ConnectionRegistry {
	return &ConnectionRegistry{
		client:    client,
		tableName: tableName,
		indexName: indexName,
		logger:    logger,
	}
}

// connectionItem represents the DynamoDB item structure for a push
// connection
type connectionItem struct {
	PK           string `dynamodbav:"PK"`     // CONNECTION#<connection_id>
	SK           string `dynamodbav:"SK"`     // METADATA
	GSI1PK       string `dynamodbav:"GSI1PK"` // SESSION#<session_id>
	GSI1SK       string `dynamodbav:"GSI1SK"` // CONNECTION#<connection_id>
	EntityType   string `dynamodbav:"EntityType"`
	ConnectionID string `dynamodbav:"ConnectionID"`
	SessionID    string `dynamodbav:"SessionID"`
	ConnectedAt  string `dynamodbav:"ConnectedAt"`
	TTL          int64  `dynamodbav:"TTL"`
}

// Register stores a new connection
func (r *ConnectionRegistry) Register(ctx context.Context, conn ports.Connection) error {
	item := connectionItem{
		PK:           fmt.Sprintf("CONNECTION#%s", conn.ConnectionID),
		SK:           "METADATA",
		GSI1PK:       fmt.Sprintf("SESSION#%s", conn.SessionID),
		GSI1SK:       fmt.Sprintf("CONNECTION#%s", conn.ConnectionID),
		EntityType:   "CONNECTION",
		ConnectionID: conn.ConnectionID,
		SessionID:    conn.SessionID,
		ConnectedAt:  conn.ConnectedAt.Format(time.RFC3339),
		TTL:          time.Now().Add(connectionTTL).Unix(),
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal connection: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      av,
	}
	if _, err := r.client.PutItem(ctx, input); err != nil {
		return fmt.Errorf("failed to register connection: %w", err)
	}

	r.logger.Debug("connection registered",
		zap.String("connectionId", conn.ConnectionID),
		zap.String("sessionId", conn.SessionID),
	)
	return nil
}

// Remove deletes a connection, typically after the peer went away
func (r *ConnectionRegistry) Remove(ctx context.Context, connectionID string) error {
	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("CONNECTION#%s", connectionID)},
			"SK": &types.AttributeValueMemberS{Value: "METADATA"},
		},
	}
	if _, err := r.client.DeleteItem(ctx, input); err != nil {
		return fmt.Errorf("failed to remove connection: %w", err)
	}

	r.logger.Debug("connection removed", zap.String("connectionId", connectionID))
	return nil
}

// ListBySession retrieves all connections for a session
func (r *ConnectionRegistry) ListBySession(ctx context.Context, sessionID string) ([]ports.Connection, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(r.indexName),
		KeyConditionExpression: aws.String("GSI1PK = :pk AND begins_with(GSI1SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: fmt.Sprintf("SESSION#%s", sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: "CONNECTION#"},
		},
	}

	var connections []ports.Connection
	for {
		result, err := r.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query connections: %w", err)
		}
		for _, raw := range result.Items {
			var item connectionItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("failed to unmarshal connection: %w", err)
			}
			connected, _ := time.Parse(time.RFC3339, item.ConnectedAt)
			connections = append(connections, ports.Connection{
				ConnectionID: item.ConnectionID,
				SessionID:    item.SessionID,
				ConnectedAt:  connected,
			})
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return connections, nil
}
