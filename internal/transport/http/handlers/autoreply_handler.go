package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vedran77/bazaar/internal/service"
	"github.com/vedran77/bazaar/internal/transport/http/middleware"
	"github.com/vedran77/bazaar/pkg/validator"
	"go.uber.org/zap"
)

type AutoReplyHandler struct {
	autoReplyService *service.AutoReplyService
	logger           *zap.Logger
}

func NewAutoReplyHandler(autoReplyService *service.AutoReplyService, logger *zap.Logger) *AutoReplyHandler {
	return &AutoReplyHandler{autoReplyService: autoReplyService, logger: logger}
}

func (h *AutoReplyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input service.CreateTemplateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if errs := validator.ValidateTemplate(input.TriggerKey, input.Body, input.DelaySeconds); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	tpl, err := h.autoReplyService.Create(r.Context(), middleware.GetUserID(r.Context()), input)
	if err != nil {
		h.writeServiceError(w, "create template", err)
		return
	}

	writeJSON(w, http.StatusCreated, tpl)
}

func (h *AutoReplyHandler) List(w http.ResponseWriter, r *http.Request) {
	tpls, err := h.autoReplyService.List(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, "list templates", err)
		return
	}

	writeJSON(w, http.StatusOK, tpls)
}

func (h *AutoReplyHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "template")
	if !ok {
		return
	}

	var input service.UpdateTemplateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if errs := validator.ValidateTemplateUpdate(input.TriggerKey, input.Body, input.DelaySeconds); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	tpl, err := h.autoReplyService.Update(r.Context(), middleware.GetUserID(r.Context()), id, input)
	if err != nil {
		h.writeServiceError(w, "update template", err)
		return
	}

	writeJSON(w, http.StatusOK, tpl)
}

func (h *AutoReplyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "template")
	if !ok {
		return
	}

	if err := h.autoReplyService.Delete(r.Context(), middleware.GetUserID(r.Context()), id); err != nil {
		h.writeServiceError(w, "delete template", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Pending lists templates awaiting admin review.
func (h *AutoReplyHandler) Pending(w http.ResponseWriter, r *http.Request) {
	tpls, err := h.autoReplyService.ListPending(r.Context())
	if err != nil {
		h.writeServiceError(w, "list pending templates", err)
		return
	}

	writeJSON(w, http.StatusOK, tpls)
}

func (h *AutoReplyHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, true)
}

func (h *AutoReplyHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, false)
}

func (h *AutoReplyHandler) review(w http.ResponseWriter, r *http.Request, approved bool) {
	id, ok := pathID(w, r, "id", "template")
	if !ok {
		return
	}

	tpl, err := h.autoReplyService.Review(r.Context(), id, approved)
	if err != nil {
		h.writeServiceError(w, "review template", err)
		return
	}

	writeJSON(w, http.StatusOK, tpl)
}

func (h *AutoReplyHandler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrTemplateNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Template not found")
	case errors.Is(err, service.ErrNotTemplateOwner):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "You do not own this template")
	case errors.Is(err, service.ErrSellersOnly):
		writeError(w, http.StatusForbidden, "SELLERS_ONLY", "Only sellers can manage auto-replies")
	case errors.Is(err, service.ErrTemplateExists):
		writeError(w, http.StatusConflict, "TEMPLATE_EXISTS", "A template for this trigger already exists")
	case errors.Is(err, service.ErrUnknownTrigger):
		writeError(w, http.StatusBadRequest, "UNKNOWN_TRIGGER", "Unknown trigger key")
	case errors.Is(err, service.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
	default:
		internalError(w, h.logger, op, err)
	}
}
