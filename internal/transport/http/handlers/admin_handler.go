package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/bazaar/internal/domain"
	"github.com/vedran77/bazaar/internal/enforcement"
	"github.com/vedran77/bazaar/internal/service"
	"github.com/vedran77/bazaar/pkg/validator"
	"go.uber.org/zap"
)

// AuditLog is the read side of the debug log.
type AuditLog interface {
	GetMessageTimeline(ctx context.Context, messageID uuid.UUID) ([]domain.DebugLogEntry, error)
	GetConversationLogs(ctx context.Context, conversationID uuid.UUID, filter domain.DebugLogFilter) ([]domain.DebugLogEntry, error)
}

// AdminHandler serves moderation review. Routes are admin-only.
type AdminHandler struct {
	convService *service.ConversationService
	ledger      *enforcement.Ledger
	audit       AuditLog
	logger      *zap.Logger
}

func NewAdminHandler(convService *service.ConversationService, ledger *enforcement.Ledger, audit AuditLog, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{convService: convService, ledger: ledger, audit: audit, logger: logger}
}

func (h *AdminHandler) Flagged(w http.ResponseWriter, r *http.Request) {
	convs, err := h.convService.ListFlagged(r.Context())
	if err != nil {
		internalError(w, h.logger, "list flagged", err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *AdminHandler) Flag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "conversation")
	if !ok {
		return
	}

	var input struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	if errs := validator.ValidateFlagReason(input.Reason); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	conv, err := h.convService.Flag(r.Context(), id, input.Reason)
	if err != nil {
		writeConversationError(w, h.logger, "flag conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *AdminHandler) Unflag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "conversation")
	if !ok {
		return
	}

	conv, err := h.convService.Unflag(r.Context(), id)
	if err != nil {
		writeConversationError(w, h.logger, "unflag conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *AdminHandler) Enforcement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "user")
	if !ok {
		return
	}

	state, err := h.ledger.State(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, "get enforcement", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *AdminHandler) Violations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "user")
	if !ok {
		return
	}

	events, err := h.ledger.Violations(r.Context(), id, queryLimit(r))
	if err != nil {
		h.writeLedgerError(w, "list violations", err)
		return
	}
	if events == nil {
		events = []domain.ViolationEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// Restrict applies a restriction. An empty duration is indefinite.
func (h *AdminHandler) Restrict(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "user")
	if !ok {
		return
	}

	var input struct {
		Duration string `json:"duration"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
			return
		}
	}

	var duration time.Duration
	if input.Duration != "" {
		d, err := time.ParseDuration(input.Duration)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_DURATION", "Duration must be a positive Go duration such as 24h")
			return
		}
		duration = d
	}

	state, err := h.ledger.Restrict(r.Context(), id, duration)
	if err != nil {
		h.writeLedgerError(w, "restrict user", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *AdminHandler) Unrestrict(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "user")
	if !ok {
		return
	}

	state, err := h.ledger.Unrestrict(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, "unrestrict user", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *AdminHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "message")
	if !ok {
		return
	}

	entries, err := h.audit.GetMessageTimeline(r.Context(), id)
	if err != nil {
		internalError(w, h.logger, "message timeline", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *AdminHandler) Logs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "conversation")
	if !ok {
		return
	}

	filter := domain.DebugLogFilter{Event: r.URL.Query().Get("event")}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "Limit must be a positive number")
			return
		}
		filter.Limit = l
	}

	entries, err := h.audit.GetConversationLogs(r.Context(), id, filter)
	if err != nil {
		internalError(w, h.logger, "conversation logs", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *AdminHandler) writeLedgerError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, enforcement.ErrUserNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "User not found")
		return
	}
	internalError(w, h.logger, op, err)
}
