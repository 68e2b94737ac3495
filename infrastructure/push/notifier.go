// Package push delivers progress snapshots to a session's connected
// WebSocket clients through the API Gateway Management API.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	apigwTypes "github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/aggregates"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

// pushMessage is the envelope sent to clients
type pushMessage struct {
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp"`
	SessionID string      `json:"sessionId"`
	Payload   interface{} `json:"payload"`
}

// WebSocketNotifier implements the ProgressNotifier port by posting to
// every connection registered for the session. Delivery is best
// effort: stale connections are dropped from the registry instead of
// failing the run.
type WebSocketNotifier struct {
	client      *apigatewaymanagementapi.Client
	connections ports.ConnectionRegistry
	logger      *zap.Logger
}

// NewManagementClient creates an API Gateway Management API client
// bound to the WebSocket endpoint
func NewManagementClient(cfg aws.Config, endpoint string) *apigatewaymanagementapi.Client {
	if !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	return apigatewaymanagementapi.NewFromConfig(cfg, func(o *apigatewaymanagementapi.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
}

// NewWebSocketNotifier creates a new WebSocketNotifier
func NewWebSocketNotifier(client *apigatewaymanagementapi.Client, connections ports.ConnectionRegistry, logger *zap.Logger) ports.ProgressNotifier {
	return &WebSocketNotifier{
		client:      client,
		connections: connections,
		logger:      logger,
	}
}

// NotifyProgress delivers one snapshot to the session's clients
func (n *WebSocketNotifier) NotifyProgress(ctx context.Context, sessionID string, snapshot *aggregates.ProgressSnapshot) error {
	return n.deliver(ctx, sessionID, pushMessage{
		Type:      "progress",
		Timestamp: time.Now().Unix(),
		SessionID: sessionID,
		Payload:   snapshot,
	})
}

// NotifyFailure delivers a terminal failure notice to the session's
// clients
func (n *WebSocketNotifier) NotifyFailure(ctx context.Context, sessionID string, reason string) error {
	return n.deliver(ctx, sessionID, pushMessage{
		Type:      "generation_failed",
		Timestamp: time.Now().Unix(),
		SessionID: sessionID,
		Payload:   map[string]string{"reason": reason},
	})
}

func (n *WebSocketNotifier) deliver(ctx context.Context, sessionID string, msg pushMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return pkgerrors.NewTransportError("failed to encode push message", err)
	}

	conns, err := n.connections.ListBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(conns) == 0 {
		n.logger.Debug("no connections registered for session",
			zap.String("session_id", sessionID),
		)
		return nil
	}

	sent := 0
	var lastErr error
	for _, conn := range conns {
		if err := n.post(ctx, conn.ConnectionID, data); err != nil {
			n.logger.Warn("failed to push to connection",
				zap.String("connection_id", conn.ConnectionID),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		sent++
	}

	if sent == 0 && lastErr != nil {
		return pkgerrors.NewTransportError("failed to push to any connection for session "+sessionID, lastErr)
	}
	return nil
}

// post sends to one connection. A gone connection is removed from the
// registry and reported as success.
func (n *WebSocketNotifier) post(ctx context.Context, connectionID string, data []byte) error {
	_, err := n.client.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(connectionID),
		Data:         data,
	})
	if err != nil {
		var gone *apigwTypes.GoneException
		if errors.As(err, &gone) {
			n.logger.Debug("connection gone, removing from registry",
				zap.String("connection_id", connectionID),
			)
			if removeErr := n.connections.Remove(ctx, connectionID); removeErr != nil {
				n.logger.Warn("failed to remove stale connection",
					zap.String("connection_id", connectionID),
					zap.Error(removeErr),
				)
			}
			return nil
		}
		return err
	}
	return nil
}
