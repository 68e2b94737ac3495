// Package generation holds the frame sources that open wire streams
// against a generation backend. Both sources yield the same chunked
// `data: <json>` frame protocol; the pipeline never knows which one
// produced its bytes.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

// HTTPSourceConfig configures the live HTTP frame source
type HTTPSourceConfig struct {
	BaseURL string
	APIKey  string

	// Timeout bounds the whole stream, body included
	Timeout time.Duration

	// BreakerMaxFailures consecutive failed opens trip the breaker
	BreakerMaxFailures int

	// BreakerOpenInterval is how long the breaker stays open before a
	// half-open probe
	BreakerOpenInterval time.Duration
}

// HTTPSource implements the FrameSource port against a generation
// backend speaking the chunked wire protocol. A circuit breaker around
// the open call keeps a dead backend from stalling every request for
// its full timeout.
type HTTPSource struct {
	client  *http.Client
	baseURL string
	apiKey  string
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewHTTPSource creates a new HTTPSource
func NewHTTPSource(cfg HTTPSourceConfig, logger *zap.Logger) *HTTPSource {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.BreakerMaxFailures <= 0 {
		cfg.BreakerMaxFailures = 5
	}
	if cfg.BreakerOpenInterval <= 0 {
		cfg.BreakerOpenInterval = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "generation-backend",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.BreakerMaxFailures)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &HTTPSource{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		breaker: breaker,
		logger:  logger,
	}
}

var _ ports.FrameSource = (*HTTPSource)(nil)

// streamRequest is the JSON body sent to the backend's stream endpoint
type streamRequest struct {
	Topic       string `json:"topic,omitempty"`
	SourceURL   string `json:"sourceUrl,omitempty"`
	Language    string `json:"language,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
	ParentLabel string `json:"parentLabel,omitempty"`
}

// Open starts a generation run and returns the raw frame stream. The
// caller owns the returned body and must close it.
func (s *HTTPSource) Open(ctx context.Context, req ports.GenerationRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(streamRequest{
		Topic:       req.Topic,
		SourceURL:   req.SourceURL,
		Language:    req.Language,
		SessionID:   req.SessionID,
		ParentLabel: req.ParentLabel,
	})
	if err != nil {
		return nil, pkgerrors.NewTransportError("failed to encode stream request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/generate/stream", bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.NewTransportError("failed to build stream request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	result, err := s.breaker.Execute(func() (interface{}, error) {
		resp, err := s.client.Do(httpReq)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("generation backend returned status %d", resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			s.logger.Warn("generation backend circuit open",
				zap.String("topic", req.Topic),
			)
			return nil, pkgerrors.NewTransportError("generation backend unavailable", err)
		}
		return nil, pkgerrors.NewTransportError("failed to open generation stream", err)
	}

	s.logger.Debug("generation stream opened",
		zap.String("topic", req.Topic),
		zap.String("language", req.Language),
	)
	return result.(*http.Response).Body, nil
}
