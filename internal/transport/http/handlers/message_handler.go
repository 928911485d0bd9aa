package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/vedran77/bazaar/internal/service"
	"github.com/vedran77/bazaar/internal/transport/http/middleware"
	"go.uber.org/zap"
)

// MessageHandler serves conversation history. Messages are sent over the
// websocket pipeline only.
type MessageHandler struct {
	convService *service.ConversationService
	logger      *zap.Logger
}

func NewMessageHandler(convService *service.ConversationService, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{convService: convService, logger: logger}
}

func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	convID, ok := pathID(w, r, "id", "conversation")
	if !ok {
		return
	}

	// Parse query params
	var before *uuid.UUID
	if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
		id, err := uuid.Parse(beforeStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid before cursor")
			return
		}
		before = &id
	}

	page, err := h.convService.Messages(r.Context(), middleware.GetClaims(r.Context()), convID, before, queryLimit(r))
	if err != nil {
		writeConversationError(w, h.logger, "list messages", err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

func (h *MessageHandler) Search(w http.ResponseWriter, r *http.Request) {
	convID, ok := pathID(w, r, "id", "conversation")
	if !ok {
		return
	}

	messages, err := h.convService.Search(r.Context(), middleware.GetClaims(r.Context()), convID, r.URL.Query().Get("q"), queryLimit(r))
	if err != nil {
		writeConversationError(w, h.logger, "search messages", err)
		return
	}

	writeJSON(w, http.StatusOK, messages)
}

// queryLimit returns the ?limit= value, or 0 to let the service default it.
func queryLimit(r *http.Request) int {
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			return l
		}
	}
	return 0
}
