// Package main implements the scheduled outbox relay Lambda. Each
// invocation drains one batch of pending outbox entries into
// EventBridge. Lambda deployments run this on a schedule because the
// API function cannot keep a drain loop alive between invocations.
package main

import (
	"context"
	"log"
	"os"

	"github.com/creatuluw/exploring.fyi-sub000/infrastructure/config"
	"github.com/creatuluw/exploring.fyi-sub000/infrastructure/di"
	"github.com/creatuluw/exploring.fyi-sub000/infrastructure/messaging"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"
)

// Global dependencies for Lambda performance optimization
var (
	relay  *messaging.OutboxRelay
	logger *zap.Logger
)

func init() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	container, err := di.InitializeContainer(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}

	relay = container.Relay
	logger = container.Logger

	log.Println("Outbox relay handler initialized")
}

// handler drains one batch per scheduled invocation
func handler(ctx context.Context, event events.CloudWatchEvent) error {
	if err := relay.ProcessOnce(ctx); err != nil {
		logger.Error("outbox drain failed", zap.Error(err))
		return err
	}
	return nil
}

func main() {
	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		log.Println("Starting outbox relay Lambda")
		lambda.Start(handler)
		return
	}

	// Local testing mode
	log.Println("Running in local test mode")

	if err := handler(context.Background(), events.CloudWatchEvent{}); err != nil {
		log.Fatalf("Test drain failed: %v", err)
	}

	log.Println("Test drain completed")
}
