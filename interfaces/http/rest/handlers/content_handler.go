package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/commands"
	cmdhandlers "github.com/creatuluw/exploring.fyi-sub000/application/commands/handlers"
	"github.com/creatuluw/exploring.fyi-sub000/application/queries"
	querybus "github.com/creatuluw/exploring.fyi-sub000/application/queries/bus"
	"github.com/creatuluw/exploring.fyi-sub000/pkg/common"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
	"github.com/creatuluw/exploring.fyi-sub000/pkg/utils"
)

// ContentHandler serves reading content and comprehension checks
type ContentHandler struct {
	queryBus *querybus.QueryBus
	checks   *cmdhandlers.RecordCheckHandler
	errors   *pkgerrors.ErrorHandler
	logger   *zap.Logger
}

// NewContentHandler creates a new content handler
func NewContentHandler(
	queryBus *querybus.QueryBus,
	checks *cmdhandlers.RecordCheckHandler,
	errors *pkgerrors.ErrorHandler,
	logger *zap.Logger,
) *ContentHandler {
	return &ContentHandler{
		queryBus: queryBus,
		checks:   checks,
		errors:   errors,
		logger:   logger,
	}
}

// RecordCheckRequest is the request body for recording a check attempt
type RecordCheckRequest struct {
	SectionID string `json:"sectionId,omitempty"`
	Passed    bool   `json:"passed"`
	Score     int    `json:"score" validate:"gte=0,lte=100"`
}

// GetContent handles GET /topics/{topicID}/content
func (h *ContentHandler) GetContent(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.errors)
	if !ok {
		return
	}

	topicID := mux.Vars(r)["topicID"]
	if _, err := uuid.Parse(topicID); err != nil {
		h.errors.HandleStatus(w, r, http.StatusBadRequest, "Invalid topic ID format")
		return
	}

	query := queries.GetSectionsQuery{
		SessionID: scope,
		TopicID:   topicID,
		ChapterID: r.URL.Query().Get("chapter"),
	}

	result, err := h.queryBus.Ask(r.Context(), query)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, result)
}

// RecordCheck handles POST /topics/{topicID}/chapters/{chapterID}/checks
func (h *ContentHandler) RecordCheck(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.errors)
	if !ok {
		return
	}

	vars := mux.Vars(r)
	topicID := vars["topicID"]
	chapterID := vars["chapterID"]
	if _, err := uuid.Parse(topicID); err != nil {
		h.errors.HandleStatus(w, r, http.StatusBadRequest, "Invalid topic ID format")
		return
	}
	if chapterID == "" {
		h.errors.HandleStatus(w, r, http.StatusBadRequest, "Chapter ID is required")
		return
	}

	var req RecordCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errors.HandleStatus(w, r, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		h.errors.HandleStatus(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	cmd := commands.RecordCheckCommand{
		TopicID:   topicID,
		ChapterID: chapterID,
		SectionID: req.SectionID,
		Passed:    req.Passed,
		Score:     req.Score,
		SessionID: scope,
	}

	check, err := h.checks.Handle(r.Context(), cmd)
	if err != nil {
		h.logger.Error("Failed to record check",
			zap.String("topicID", topicID),
			zap.String("chapterID", chapterID),
			zap.Error(err),
		)
		h.errors.Handle(w, r, err)
		return
	}

	common.RespondJSON(w, http.StatusCreated, check)
}
