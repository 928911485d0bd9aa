package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/vedran77/bazaar/internal/domain"
	"github.com/vedran77/bazaar/internal/transport/http/middleware"
	"go.uber.org/zap"
)

const inboxLimit = 50

type Inbox interface {
	Inbox(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Notification, error)
}

// NotificationHandler reads the caller's notification inbox. Without an inbox
// backend the list is always empty.
type NotificationHandler struct {
	inbox  Inbox
	logger *zap.Logger
}

func NewNotificationHandler(inbox Inbox, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{inbox: inbox, logger: logger}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.inbox == nil {
		writeJSON(w, http.StatusOK, []domain.Notification{})
		return
	}

	limit := queryLimit(r)
	if limit == 0 || limit > inboxLimit {
		limit = inboxLimit
	}

	items, err := h.inbox.Inbox(r.Context(), middleware.GetUserID(r.Context()), limit)
	if err != nil {
		internalError(w, h.logger, "read inbox", err)
		return
	}
	if items == nil {
		items = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, items)
}
