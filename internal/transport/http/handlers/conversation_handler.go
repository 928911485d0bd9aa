package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/vedran77/bazaar/internal/service"
	"github.com/vedran77/bazaar/internal/transport/http/middleware"
	"go.uber.org/zap"
)

type ConversationHandler struct {
	convService *service.ConversationService
	logger      *zap.Logger
}

func NewConversationHandler(convService *service.ConversationService, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{convService: convService, logger: logger}
}

type createConversationRequest struct {
	ParticipantID uuid.UUID  `json:"participant_id"`
	ProductID     *uuid.UUID `json:"product_id,omitempty"`
}

// Create finds or creates a conversation with another user.
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	if input.ParticipantID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "MISSING_PARTICIPANT", "participant_id is required")
		return
	}

	conv, err := h.convService.GetOrCreate(r.Context(), userID, input.ParticipantID, input.ProductID)
	if err != nil {
		h.writeServiceError(w, "create conversation", err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	convs, err := h.convService.List(r.Context(), userID, r.URL.Query().Get("folder"))
	if err != nil {
		h.writeServiceError(w, "list conversations", err)
		return
	}

	writeJSON(w, http.StatusOK, convs)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "conversation")
	if !ok {
		return
	}

	conv, err := h.convService.Get(r.Context(), middleware.GetClaims(r.Context()), id)
	if err != nil {
		h.writeServiceError(w, "get conversation", err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Delete hides the conversation for the caller.
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "conversation")
	if !ok {
		return
	}

	if err := h.convService.Delete(r.Context(), middleware.GetUserID(r.Context()), id); err != nil {
		h.writeServiceError(w, "delete conversation", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "conversation")
	if !ok {
		return
	}

	if err := h.convService.Archive(r.Context(), middleware.GetUserID(r.Context()), id); err != nil {
		h.writeServiceError(w, "archive conversation", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) MoveToInbox(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "conversation")
	if !ok {
		return
	}

	if err := h.convService.MoveToInbox(r.Context(), middleware.GetUserID(r.Context()), id); err != nil {
		h.writeServiceError(w, "move conversation", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) writeServiceError(w http.ResponseWriter, op string, err error) {
	writeConversationError(w, h.logger, op, err)
}

func writeConversationError(w http.ResponseWriter, logger *zap.Logger, op string, err error) {
	switch {
	case errors.Is(err, service.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Conversation not found")
	case errors.Is(err, service.ErrNotParticipant):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "You are not a participant of this conversation")
	case errors.Is(err, service.ErrCannotMessageSelf):
		writeError(w, http.StatusBadRequest, "INVALID_PARTICIPANT", "Cannot start a conversation with yourself")
	case errors.Is(err, service.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
	case errors.Is(err, service.ErrInvalidFolder):
		writeError(w, http.StatusBadRequest, "INVALID_FOLDER", "Folder must be inbox or archived")
	case errors.Is(err, service.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, "MISSING_QUERY", "Search query is required")
	default:
		internalError(w, logger, op, err)
	}
}
