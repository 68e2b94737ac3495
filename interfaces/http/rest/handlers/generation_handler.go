package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/commands"
	cmdhandlers "github.com/creatuluw/exploring.fyi-sub000/application/commands/handlers"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/aggregates"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
	"github.com/creatuluw/exploring.fyi-sub000/pkg/extensions"
	"github.com/creatuluw/exploring.fyi-sub000/pkg/observability"
	"github.com/creatuluw/exploring.fyi-sub000/pkg/utils"
)

// GenerationHandler drives generation runs over an SSE response: one
// progress event per applied message, then a terminal done or error
// event. Replayed runs emit the same event sequence as live ones.
type GenerationHandler struct {
	orchestrator *cmdhandlers.GenerateMindMapOrchestrator
	hooks        *extensions.HookRegistry
	metrics      *observability.Metrics
	tracer       *observability.Tracer
	errors       *pkgerrors.ErrorHandler
	logger       *zap.Logger
}

// NewGenerationHandler creates a new generation handler
func NewGenerationHandler(
	orchestrator *cmdhandlers.GenerateMindMapOrchestrator,
	hooks *extensions.HookRegistry,
	metrics *observability.Metrics,
	tracer *observability.Tracer,
	errors *pkgerrors.ErrorHandler,
	logger *zap.Logger,
) *GenerationHandler {
	return &GenerationHandler{
		orchestrator: orchestrator,
		hooks:        hooks,
		metrics:      metrics,
		tracer:       tracer,
		errors:       errors,
		logger:       logger,
	}
}

// GenerateRequest is the request body for starting a generation run
type GenerateRequest struct {
	Topic           string `json:"topic" validate:"required,min=1,max=255"`
	SourceURL       string `json:"sourceUrl,omitempty" validate:"omitempty,url"`
	Language        string `json:"language,omitempty" validate:"omitempty,min=2,max=35"`
	ForceRegenerate bool   `json:"forceRegenerate,omitempty"`
}

// GenerationSummary is the payload of the terminal done event
type GenerationSummary struct {
	TopicID         string `json:"topicId"`
	Slug            string `json:"slug"`
	MapID           string `json:"mapId"`
	Status          string `json:"status"`
	FromCache       bool   `json:"fromCache"`
	Completed       bool   `json:"completed"`
	MessagesApplied int    `json:"messagesApplied"`
	DurationMs      int64  `json:"durationMs"`
	NodeCount       int    `json:"nodeCount"`
	EdgeCount       int    `json:"edgeCount"`
}

// StartGeneration handles POST /generations
func (h *GenerationHandler) StartGeneration(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.errors)
	if !ok {
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errors.HandleStatus(w, r, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		h.errors.HandleStatus(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	cmd := commands.GenerateMindMapCommand{
		Topic:           req.Topic,
		SourceURL:       req.SourceURL,
		Language:        req.Language,
		SessionID:       scope,
		ForceRegenerate: req.ForceRegenerate,
	}

	// Reject bad commands before committing to the event stream; the
	// response switches to SSE below and stays 200 from then on.
	if err := cmd.Validate(); err != nil {
		h.errors.HandleStatus(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ctx, seg := h.tracer.StartSegment(r.Context(), "generation.run")
	h.tracer.AnnotateRun(ctx, cmd.Topic, scope)

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	h.metrics.GenerationsStarted.Inc()
	start := time.Now()

	onProgress := func(snapshot *aggregates.ProgressSnapshot) {
		h.writeEvent(w, flusher, "progress", snapshot)
		h.hooks.NotifyProgress(ctx, scope, snapshot)
	}

	result, err := h.orchestrator.Handle(ctx, cmd, onProgress)
	elapsed := time.Since(start)
	h.tracer.CloseSegment(seg, err)

	if err != nil {
		h.logger.Error("generation run failed",
			zap.String("topic", cmd.Topic),
			zap.String("session_id", scope),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		h.metrics.RecordGenerationOutcome(ctx, "failed", elapsed)
		h.hooks.NotifyFailure(ctx, scope, err.Error())
		h.writeEvent(w, flusher, "error", map[string]string{
			"message": err.Error(),
		})
		return
	}

	outcome := "completed"
	if result.FromCache {
		outcome = "replayed"
	}
	h.metrics.RecordGenerationOutcome(ctx, outcome, elapsed)

	summary := GenerationSummary{
		TopicID:         result.Topic.ID,
		Slug:            result.Topic.Slug,
		FromCache:       result.FromCache,
		Completed:       result.Completed,
		MessagesApplied: result.MessagesApplied,
		DurationMs:      result.Duration.Milliseconds(),
	}
	if result.Map != nil {
		summary.MapID = result.Map.ID().String()
		summary.Status = string(result.Map.Status())
		summary.NodeCount = result.Map.NodeCount()
		summary.EdgeCount = result.Map.EdgeCount()
	}
	h.writeEvent(w, flusher, "done", summary)
}

// writeEvent emits one SSE event. Marshal failures end the stream
// silently; there is no way to signal them to a half-written response.
func (h *GenerationHandler) writeEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal stream event",
			zap.String("event", event),
			zap.Error(err))
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", data)
	if flusher != nil {
		flusher.Flush()
	}
}
