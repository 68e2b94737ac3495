// Package main implements the event notification Lambda. EventBridge
// invokes it with domain events drained from the outbox; it forwards
// each event to the WebSocket connections of the session that owns it.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/infrastructure/config"
	"github.com/creatuluw/exploring.fyi-sub000/infrastructure/persistence/dynamodb"
	"github.com/creatuluw/exploring.fyi-sub000/infrastructure/push"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	apigwTypes "github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"
)

// Global AWS clients for Lambda performance optimization
var (
	registry    ports.ConnectionRegistry
	apiGwClient *apigatewaymanagementapi.Client
)

// clientMessage is the envelope sent to clients. It matches the shape
// the in-process progress notifier uses, so clients parse one format.
type clientMessage struct {
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp"`
	SessionID string      `json:"sessionId"`
	Payload   interface{} `json:"payload"`
}

func init() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.WebSocketEndpoint == "" {
		log.Fatal("WEBSOCKET_ENDPOINT is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	client := awsdynamodb.NewFromConfig(awsCfg)
	registry = dynamodb.NewConnectionRegistry(client, cfg.ConnectionsTable, cfg.IndexName, logger)
	apiGwClient = push.NewManagementClient(awsCfg, cfg.WebSocketEndpoint)

	log.Println("Event notification handler initialized")
}

// sessionFor extracts the owning session from an event detail.
// Generation events carry session_id; topic events carry their scope,
// which doubles as the session for single-client scopes.
func sessionFor(detail map[string]interface{}) string {
	if id, ok := detail["session_id"].(string); ok && id != "" {
		return id
	}
	if scope, ok := detail["scope"].(string); ok && scope != "" {
		return scope
	}
	return ""
}

// forward sends one event to every connection of its session
func forward(ctx context.Context, eventType string, detail map[string]interface{}) error {
	sessionID := sessionFor(detail)
	if sessionID == "" {
		// Events without an owner are not pushed. There is no
		// broadcast in a session-scoped system.
		log.Printf("Dropping event %q without session", eventType)
		return nil
	}

	msg := clientMessage{
		Type:      eventType,
		Timestamp: time.Now().Unix(),
		SessionID: sessionID,
		Payload:   detail,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal client message: %w", err)
	}

	conns, err := registry.ListBySession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to list connections: %w", err)
	}
	if len(conns) == 0 {
		log.Printf("No connections for session %s, event %q dropped", sessionID, eventType)
		return nil
	}

	sent := 0
	failed := 0
	for _, conn := range conns {
		if err := post(ctx, conn.ConnectionID, data); err != nil {
			log.Printf("Failed to send to connection %s: %v", conn.ConnectionID, err)
			failed++
			continue
		}
		sent++
	}

	log.Printf("Forwarded %q to session %s: %d sent, %d failed", eventType, sessionID, sent, failed)

	if sent == 0 && failed > 0 {
		return fmt.Errorf("all sends failed for session %s", sessionID)
	}
	return nil
}

// post sends to one connection, pruning it when the gateway reports
// the peer gone
func post(ctx context.Context, connectionID string, data []byte) error {
	_, err := apiGwClient.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(connectionID),
		Data:         data,
	})
	if err != nil {
		var gone *apigwTypes.GoneException
		if errors.As(err, &gone) {
			log.Printf("Connection %s is gone, removing", connectionID)
			if removeErr := registry.Remove(ctx, connectionID); removeErr != nil {
				log.Printf("Failed to remove stale connection %s: %v", connectionID, removeErr)
			}
			return nil
		}
		return err
	}
	return nil
}

// handler processes EventBridge events carrying outbox-drained domain
// events
func handler(ctx context.Context, event events.CloudWatchEvent) error {
	var detail map[string]interface{}
	if err := json.Unmarshal(event.Detail, &detail); err != nil {
		return fmt.Errorf("failed to parse event detail: %w", err)
	}

	return forward(ctx, event.DetailType, detail)
}

func main() {
	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		log.Println("Starting event notification Lambda")
		lambda.Start(handler)
		return
	}

	// Local testing mode
	log.Println("Running in local test mode")

	detail, _ := json.Marshal(map[string]interface{}{
		"topic_id":   "test-topic-123",
		"map_id":     "test-map-123",
		"session_id": "test-session-123",
		"from_cache": false,
	})

	testEvent := events.CloudWatchEvent{
		DetailType: "generation.started",
		Detail:     detail,
	}

	if err := handler(context.Background(), testEvent); err != nil {
		log.Fatalf("Test event processing failed: %v", err)
	}

	log.Println("Test event processed successfully")
}
