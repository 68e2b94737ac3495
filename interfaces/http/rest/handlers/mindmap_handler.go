package handlers

import (
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
	"github.com/creatuluw/exploring.fyi-sub000/pkg/extensions"
)

// MindMapHandler serves rendered mind maps and node expansion
type MindMapHandler struct {
	queryBus *querybus.QueryBus
	expand   *cmdhandlers.ExpandNodeHandler
	hooks    *extensions.HookRegistry
	errors   *pkgerrors.ErrorHandler
	logger   *zap.Logger
}

// NewMindMapHandler creates a new mind map handler
func NewMindMapHandler(
	queryBus *querybus.QueryBus,
	expand *cmdhandlers.ExpandNodeHandler,
	hooks *extensions.HookRegistry,
	errors *pkgerrors.ErrorHandler,
	logger *zap.Logger,
) *MindMapHandler {
	return &MindMapHandler{
		queryBus: queryBus,
		expand:   expand,
		hooks:    hooks,
		errors:   errors,
		logger:   logger,
	}
}

// GetMindMap handles GET /topics/{topicID}/mindmap
func (h *MindMapHandler) GetMindMap(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.errors)
	if !ok {
		return
	}

	topicID := mux.Vars(r)["topicID"]
	if _, err := uuid.Parse(topicID); err != nil {
		h.errors.HandleStatus(w, r, http.StatusBadRequest, "Invalid topic ID format")
		return
	}

	query := queries.GetMindMapQuery{
		SessionID: scope,
		TopicID:   topicID,
	}

	result, err := h.queryBus.Ask(r.Context(), query)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, result)
}

// ExpandNode handles POST /topics/{topicID}/nodes/{nodeID}/expand
func (h *MindMapHandler) ExpandNode(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.errors)
	if !ok {
		return
	}

	vars := mux.Vars(r)
	topicID := vars["topicID"]
	nodeID := vars["nodeID"]
	if _, err := uuid.Parse(topicID); err != nil {
		h.errors.HandleStatus(w, r, http.StatusBadRequest, "Invalid topic ID format")
		return
	}
	if nodeID == "" {
		h.errors.HandleStatus(w, r, http.StatusBadRequest, "Node ID is required")
		return
	}

	cmd := commands.ExpandNodeCommand{
		TopicID:   topicID,
		NodeID:    nodeID,
		SessionID: scope,
	}

	snapshot, err := h.expand.Handle(r.Context(), cmd)
	if err != nil {
		h.logger.Error("Failed to expand node",
			zap.String("topicID", topicID),
			zap.String("nodeID", nodeID),
			zap.Error(err),
		)
		h.errors.Handle(w, r, err)
		return
	}

	h.hooks.NotifyProgress(r.Context(), scope, snapshot)

	common.RespondJSON(w, http.StatusOK, snapshot)
}
