// Package main implements the WebSocket lifecycle Lambda handler.
// It registers connections under their session on $connect and
// removes them on $disconnect.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/infrastructure/config"
	"github.com/creatuluw/exploring.fyi-sub000/infrastructure/persistence/dynamodb"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"
)

// Global registry for Lambda performance optimization
var registry ports.ConnectionRegistry

func init() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
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

	log.Println("WebSocket lifecycle handler initialized")
}

// handler processes $connect and $disconnect route events
func handler(ctx context.Context, request events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	connectionID := request.RequestContext.ConnectionID

	switch request.RequestContext.RouteKey {
	case "$connect":
		return handleConnect(ctx, request)
	case "$disconnect":
		if err := registry.Remove(ctx, connectionID); err != nil {
			log.Printf("Failed to remove connection %s: %v", connectionID, err)
		}
		return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}, nil
	default:
		log.Printf("Unhandled route %q for connection %s", request.RequestContext.RouteKey, connectionID)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}, nil
	}
}

func handleConnect(ctx context.Context, request events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	connectionID := request.RequestContext.ConnectionID
	log.Printf("WebSocket connect request from connection: %s", connectionID)

	// Sessions are anonymous. The client names the session it wants
	// progress for; without one there is nothing to subscribe to.
	sessionID := request.QueryStringParameters["session"]
	if sessionID == "" {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusBadRequest,
			Body:       `{"error": "missing session parameter"}`,
		}, nil
	}

	conn := ports.Connection{
		ConnectionID: connectionID,
		SessionID:    sessionID,
		ConnectedAt:  time.Now(),
	}

	if err := registry.Register(ctx, conn); err != nil {
		log.Printf("Failed to store connection: %v", err)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Body:       `{"error": "internal server error"}`,
		}, nil
	}

	welcome := map[string]interface{}{
		"type":         "connection_established",
		"connectionId": connectionID,
		"sessionId":    sessionID,
		"timestamp":    time.Now().Unix(),
	}
	body, _ := json.Marshal(welcome)

	log.Printf("WebSocket connection established for session %s", sessionID)

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
	}, nil
}

func main() {
	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		log.Println("Starting WebSocket lifecycle Lambda")
		lambda.Start(handler)
		return
	}

	// Local testing mode
	log.Println("Running in local test mode")

	testRequest := events.APIGatewayWebsocketProxyRequest{
		RequestContext: events.APIGatewayWebsocketProxyRequestContext{
			ConnectionID: "test-connection-123",
			RouteKey:     "$connect",
		},
		QueryStringParameters: map[string]string{
			"session": "test-session-123",
		},
	}

	response, err := handler(context.Background(), testRequest)
	if err != nil {
		log.Fatalf("Test request processing failed: %v", err)
	}

	log.Printf("Test response: %+v", response)
}
