package main

import (
	"net/http"

	"github.com/vedran77/bazaar/internal/domain"
	"github.com/vedran77/bazaar/internal/metrics"
	"github.com/vedran77/bazaar/internal/transport/http/handlers"
	"github.com/vedran77/bazaar/internal/transport/http/middleware"
	"go.uber.org/zap"
)

type routerDeps struct {
	auth          *handlers.AuthHandler
	conversations *handlers.ConversationHandler
	messages      *handlers.MessageHandler
	autoReplies   *handlers.AutoReplyHandler
	admin         *handlers.AdminHandler
	notifications *handlers.NotificationHandler
	tokens        middleware.TokenParser
	ws            http.HandlerFunc
	origins       []string
	logger        *zap.Logger
}

func newRouter(d routerDeps) http.Handler {
	auth := middleware.Auth(d.tokens)
	protected := func(h http.HandlerFunc) http.Handler {
		return auth(h)
	}
	withRole := func(h http.HandlerFunc, roles ...string) http.Handler {
		return auth(middleware.RequireRole(roles...)(h))
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return withRole(h, domain.RoleAdmin)
	}

	api := http.NewServeMux()

	// Public
	api.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok"}`))
	})
	api.Handle("GET /metrics", metrics.Handler())
	api.HandleFunc("POST /api/v1/auth/register", d.auth.Register)
	api.HandleFunc("POST /api/v1/auth/login", d.auth.Login)

	// Protected - Users
	api.Handle("GET /api/v1/users/me", protected(d.auth.Me))
	api.Handle("GET /api/v1/users/me/restriction", protected(d.auth.Restriction))

	// Protected - Conversations
	api.Handle("POST /api/v1/conversations", protected(d.conversations.Create))
	api.Handle("GET /api/v1/conversations", protected(d.conversations.List))
	api.Handle("GET /api/v1/conversations/{id}", protected(d.conversations.Get))
	api.Handle("DELETE /api/v1/conversations/{id}", protected(d.conversations.Delete))
	api.Handle("POST /api/v1/conversations/{id}/archive", protected(d.conversations.Archive))
	api.Handle("POST /api/v1/conversations/{id}/inbox", protected(d.conversations.MoveToInbox))

	// Protected - Messages
	api.Handle("GET /api/v1/conversations/{id}/messages", protected(d.messages.List))
	api.Handle("GET /api/v1/conversations/{id}/messages/search", protected(d.messages.Search))

	// Protected - Notifications
	api.Handle("GET /api/v1/notifications", protected(d.notifications.List))

	// Sellers - Auto-replies
	api.Handle("POST /api/v1/auto-replies", withRole(d.autoReplies.Create, domain.RoleSeller))
	api.Handle("GET /api/v1/auto-replies", withRole(d.autoReplies.List, domain.RoleSeller))
	api.Handle("PATCH /api/v1/auto-replies/{id}", withRole(d.autoReplies.Update, domain.RoleSeller))
	api.Handle("DELETE /api/v1/auto-replies/{id}", withRole(d.autoReplies.Delete, domain.RoleSeller))

	// Admin - Conversations
	api.Handle("GET /api/v1/admin/conversations/flagged", admin(d.admin.Flagged))
	api.Handle("POST /api/v1/admin/conversations/{id}/flag", admin(d.admin.Flag))
	api.Handle("POST /api/v1/admin/conversations/{id}/unflag", admin(d.admin.Unflag))
	api.Handle("GET /api/v1/admin/conversations/{id}/logs", admin(d.admin.Logs))
	api.Handle("GET /api/v1/admin/messages/{id}/timeline", admin(d.admin.Timeline))

	// Admin - Enforcement
	api.Handle("GET /api/v1/admin/users/{id}/enforcement", admin(d.admin.Enforcement))
	api.Handle("GET /api/v1/admin/users/{id}/violations", admin(d.admin.Violations))
	api.Handle("POST /api/v1/admin/users/{id}/restrict", admin(d.admin.Restrict))
	api.Handle("POST /api/v1/admin/users/{id}/unrestrict", admin(d.admin.Unrestrict))

	// Admin - Auto-reply review
	api.Handle("GET /api/v1/admin/auto-replies/pending", admin(d.autoReplies.Pending))
	api.Handle("POST /api/v1/admin/auto-replies/{id}/approve", admin(d.autoReplies.Approve))
	api.Handle("POST /api/v1/admin/auto-replies/{id}/reject", admin(d.autoReplies.Reject))

	// The websocket upgrade needs the raw ResponseWriter, so it skips the
	// request logger.
	root := http.NewServeMux()
	root.Handle("GET /ws", d.ws)
	root.Handle("/", middleware.Logger(d.logger)(api))

	return middleware.CORS(d.origins)(root)
}
