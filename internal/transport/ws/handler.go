package ws

import (
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/vedran77/bazaar/internal/config"
	"github.com/vedran77/bazaar/internal/service"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

type TokenParser interface {
	ParseToken(tokenStr string) (service.Claims, error)
}

// ServeWS returns an HTTP handler that upgrades to WebSocket.
// A ?token=xxx query param binds the connection to that user; without one
// the client identifies itself with an auth event.
func ServeWS(hub *Hub, auth TokenParser, p Pipeline, cfg config.WS, origins []string, logger *zap.Logger) http.HandlerFunc {
	logger = logger.Named("ws")
	acceptOpts := &websocket.AcceptOptions{OriginPatterns: origins}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		acceptOpts = &websocket.AcceptOptions{InsecureSkipVerify: true}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var tokenUser uuid.UUID
		if tokenStr := r.URL.Query().Get("token"); tokenStr != "" {
			claims, err := auth.ParseToken(tokenStr)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			tokenUser = claims.UserID
		}

		conn, err := websocket.Accept(w, r, acceptOpts)
		if err != nil {
			logger.Warn("Accept error", zap.Error(err))
			return
		}
		if cfg.ReadLimit > 0 {
			conn.SetReadLimit(cfg.ReadLimit)
		}

		client := NewClient(hub, conn, p, ClientOptions{
			TokenUser:   tokenUser,
			SendRate:    cfg.SendRate,
			SendBurst:   cfg.SendBurst,
			SendBufSize: cfg.SendBufSize,
		}, logger)
		hub.Register(client)
		if tokenUser != uuid.Nil {
			hub.AssociateUser(client, tokenUser)
		}

		ctx := r.Context()
		go client.WritePump(ctx)
		client.ReadPump(ctx)
		hub.Unregister(client)
	}
}
