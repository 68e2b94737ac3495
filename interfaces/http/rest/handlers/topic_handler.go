// Package handlers contains the HTTP request handlers of the API.
// Read paths go through the query bus; result-bearing writes call
// their application handlers directly because the command bus returns
// no payload.
package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/commands"
	"github.com/creatuluw/exploring.fyi-sub000/application/commands/bus"
	"github.com/creatuluw/exploring.fyi-sub000/application/queries"
	querybus "github.com/creatuluw/exploring.fyi-sub000/application/queries/bus"
	"github.com/creatuluw/exploring.fyi-sub000/pkg/common"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
	"github.com/creatuluw/exploring.fyi-sub000/pkg/utils"
)

// TopicHandler handles topic-related HTTP requests
type TopicHandler struct {
	commandBus *bus.CommandBus
	queryBus   *querybus.QueryBus
	errors     *pkgerrors.ErrorHandler
	logger     *zap.Logger
}

// NewTopicHandler creates a new topic handler
func NewTopicHandler(
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	errors *pkgerrors.ErrorHandler,
	logger *zap.Logger,
) *TopicHandler {
	return &TopicHandler{
		commandBus: commandBus,
		queryBus:   queryBus,
		errors:     errors,
		logger:     logger,
	}
}

// ListTopics handles GET /topics
func (h *TopicHandler) ListTopics(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.errors)
	if !ok {
		return
	}

	params := common.ExtractCursorParams(r)
	query := queries.ListTopicsQuery{
		SessionID: scope,
		Search:    r.URL.Query().Get("search"),
		Limit:     params.Limit,
		Offset:    params.Offset,
		SortBy:    params.Sort,
		Order:     params.Order,
	}

	result, err := h.queryBus.Ask(r.Context(), query)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	page, ok := result.(*queries.ListTopicsResult)
	if !ok {
		h.errors.HandleStatus(w, r, http.StatusInternalServerError, "Unexpected query result")
		return
	}

	meta := &common.MetaInfo{
		RequestID:  common.ExtractRequestID(r),
		Timestamp:  utils.NowRFC3339(),
		Pagination: common.BuildPaginationMeta(params, len(page.Topics)),
	}
	common.RespondWithMeta(w, http.StatusOK, page, meta)
}

// GetTopic handles GET /topics/{slug}
func (h *TopicHandler) GetTopic(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.errors)
	if !ok {
		return
	}

	slug := mux.Vars(r)["slug"]
	if slug == "" {
		h.errors.HandleStatus(w, r, http.StatusBadRequest, "Topic slug is required")
		return
	}

	query := queries.GetTopicQuery{
		SessionID: scope,
		Slug:      slug,
	}

	result, err := h.queryBus.Ask(r.Context(), query)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, result)
}

// DeleteTopic handles DELETE /topics/{topicID}
func (h *TopicHandler) DeleteTopic(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.errors)
	if !ok {
		return
	}

	topicID := mux.Vars(r)["topicID"]
	if _, err := uuid.Parse(topicID); err != nil {
		h.errors.HandleStatus(w, r, http.StatusBadRequest, "Invalid topic ID format")
		return
	}

	cmd := commands.DeleteTopicCommand{
		TopicID:   topicID,
		SessionID: scope,
	}

	if err := h.commandBus.Send(r.Context(), cmd); err != nil {
		h.logger.Error("Failed to delete topic",
			zap.String("topicID", topicID),
			zap.Error(err),
		)
		h.errors.Handle(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// requireScope pulls the request's scope out of the context. The
// session middleware always sets one; a miss means the route was wired
// without it.
func requireScope(w http.ResponseWriter, r *http.Request, errs *pkgerrors.ErrorHandler) (string, bool) {
	scope, ok := common.GetScope(r.Context())
	if !ok || scope == "" {
		errs.HandleStatus(w, r, http.StatusBadRequest, "Missing session")
		return "", false
	}
	return scope, true
}
