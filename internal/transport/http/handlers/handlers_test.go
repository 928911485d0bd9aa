package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/bazaar/internal/config"
	"github.com/vedran77/bazaar/internal/domain"
	"github.com/vedran77/bazaar/internal/enforcement"
	"github.com/vedran77/bazaar/internal/repository/memory"
	"github.com/vedran77/bazaar/internal/service"
	"github.com/vedran77/bazaar/internal/transport/http/handlers"
	"github.com/vedran77/bazaar/internal/transport/http/middleware"
	"go.uber.org/zap"
)

type testServer struct {
	url   string
	auth  *service.AuthService
	admin string
}

type account struct {
	ID    uuid.UUID
	Token string
}

func setupTest(t *testing.T) *testServer {
	t.Helper()

	logger := zap.NewNop()
	store := memory.NewStore()
	authService := service.NewAuthService(store.Users, "test-secret", time.Hour)
	convService := service.NewConversationService(store)
	ledger := enforcement.NewLedger(store.Enforcement, enforcement.PolicyFromConfig(config.Default().Enforcement), logger)

	authHandler := handlers.NewAuthHandler(authService, ledger, logger)
	convHandler := handlers.NewConversationHandler(convService, logger)
	adminHandler := handlers.NewAdminHandler(convService, ledger, nil, logger)
	notificationHandler := handlers.NewNotificationHandler(nil, logger)

	protected := middleware.Auth(authService)
	admin := func(h http.HandlerFunc) http.Handler {
		return protected(middleware.RequireRole(domain.RoleAdmin)(h))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)
	mux.Handle("GET /api/v1/users/me", protected(http.HandlerFunc(authHandler.Me)))
	mux.Handle("GET /api/v1/users/me/restriction", protected(http.HandlerFunc(authHandler.Restriction)))
	mux.Handle("POST /api/v1/conversations", protected(http.HandlerFunc(convHandler.Create)))
	mux.Handle("GET /api/v1/conversations", protected(http.HandlerFunc(convHandler.List)))
	mux.Handle("GET /api/v1/conversations/{id}", protected(http.HandlerFunc(convHandler.Get)))
	mux.Handle("POST /api/v1/conversations/{id}/archive", protected(http.HandlerFunc(convHandler.Archive)))
	mux.Handle("GET /api/v1/notifications", protected(http.HandlerFunc(notificationHandler.List)))
	mux.Handle("POST /api/v1/admin/conversations/{id}/flag", admin(adminHandler.Flag))
	mux.Handle("GET /api/v1/admin/conversations/flagged", admin(adminHandler.Flagged))
	mux.Handle("POST /api/v1/admin/users/{id}/restrict", admin(adminHandler.Restrict))
	mux.Handle("POST /api/v1/admin/users/{id}/unrestrict", admin(adminHandler.Unrestrict))

	srv := httptest.NewServer(middleware.CORS([]string{"*"})(mux))
	t.Cleanup(srv.Close)

	resp, err := authService.CreateAdmin(context.Background(), service.RegisterInput{
		Email: "admin@example.com", Username: "admin", DisplayName: "Admin", Password: "Secret123",
	})
	require.NoError(t, err)

	return &testServer{url: srv.URL, auth: authService, admin: resp.AccessToken}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.url+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		var raw json.RawMessage
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
		// List endpoints return arrays; wrap them for uniform access.
		if len(raw) > 0 && raw[0] == '[' {
			out = map[string]any{"items": nil}
			var items []any
			require.NoError(t, json.Unmarshal(raw, &items))
			out["items"] = items
		} else {
			require.NoError(t, json.Unmarshal(raw, &out))
		}
	}
	return resp, out
}

func (s *testServer) register(t *testing.T, username, role string) account {
	t.Helper()

	resp, body := s.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email":        username + "@example.com",
		"username":     username,
		"display_name": username,
		"password":     "Secret123",
		"role":         role,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	user := body["user"].(map[string]any)
	id, err := uuid.Parse(user["id"].(string))
	require.NoError(t, err)
	return account{ID: id, Token: body["access_token"].(string)}
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestRegisterAndLogin(t *testing.T) {
	t.Parallel()
	srv := setupTest(t)

	seller := srv.register(t, "seller", domain.RoleSeller)

	resp, body := srv.do(t, http.MethodGet, "/api/v1/users/me", seller.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.RoleSeller, body["role"])
	assert.NotContains(t, body, "password_hash")

	resp, _ = srv.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "seller@example.com", "password": "Secret123",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = srv.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "seller@example.com", "password": "Wrong1234",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(body))
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	srv := setupTest(t)

	tests := []struct {
		name  string
		input map[string]string
		code  string
	}{
		{
			name:  "weak password",
			input: map[string]string{"email": "a@example.com", "username": "ana", "display_name": "Ana", "password": "short"},
			code:  "VALIDATION_ERROR",
		},
		{
			name:  "admin role",
			input: map[string]string{"email": "b@example.com", "username": "bob", "display_name": "Bob", "password": "Secret123", "role": "admin"},
			code:  "VALIDATION_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := srv.do(t, http.MethodPost, "/api/v1/auth/register", "", tt.input)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.code, errorCode(body))
		})
	}

	srv.register(t, "carol", "")
	resp, body := srv.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": "carol@example.com", "username": "carol2", "display_name": "Carol", "password": "Secret123",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "EMAIL_TAKEN", errorCode(body))
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	t.Parallel()
	srv := setupTest(t)

	resp, body := srv.do(t, http.MethodGet, "/api/v1/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))

	resp, _ = srv.do(t, http.MethodGet, "/api/v1/conversations", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	buyer := srv.register(t, "buyer", domain.RoleBuyer)
	resp, body = srv.do(t, http.MethodGet, "/api/v1/admin/conversations/flagged", buyer.Token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", errorCode(body))
}

func TestConversationLifecycle(t *testing.T) {
	t.Parallel()
	srv := setupTest(t)
	buyer := srv.register(t, "buyer", domain.RoleBuyer)
	seller := srv.register(t, "seller", domain.RoleSeller)
	stranger := srv.register(t, "stranger", domain.RoleBuyer)

	resp, conv := srv.do(t, http.MethodPost, "/api/v1/conversations", buyer.Token, map[string]string{
		"participant_id": seller.ID.String(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	convID := conv["id"].(string)

	resp, again := srv.do(t, http.MethodPost, "/api/v1/conversations", seller.Token, map[string]string{
		"participant_id": buyer.ID.String(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, convID, again["id"])

	resp, body := srv.do(t, http.MethodPost, "/api/v1/conversations", buyer.Token, map[string]string{
		"participant_id": buyer.ID.String(),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_PARTICIPANT", errorCode(body))

	resp, body = srv.do(t, http.MethodGet, "/api/v1/conversations/"+convID, stranger.Token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", errorCode(body))

	resp, _ = srv.do(t, http.MethodGet, "/api/v1/conversations/"+convID, srv.admin, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = srv.do(t, http.MethodGet, "/api/v1/conversations/not-a-uuid", buyer.Token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_ID", errorCode(body))

	resp, _ = srv.do(t, http.MethodPost, "/api/v1/conversations/"+convID+"/archive", buyer.Token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, inbox := srv.do(t, http.MethodGet, "/api/v1/conversations", buyer.Token, nil)
	assert.Empty(t, inbox["items"])
	_, archived := srv.do(t, http.MethodGet, "/api/v1/conversations?folder=archived", buyer.Token, nil)
	assert.Len(t, archived["items"], 1)

	resp, body = srv.do(t, http.MethodGet, "/api/v1/conversations?folder=trash", buyer.Token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_FOLDER", errorCode(body))
}

func TestAdminFlagAndRestrict(t *testing.T) {
	t.Parallel()
	srv := setupTest(t)
	buyer := srv.register(t, "buyer", domain.RoleBuyer)
	seller := srv.register(t, "seller", domain.RoleSeller)

	_, conv := srv.do(t, http.MethodPost, "/api/v1/conversations", buyer.Token, map[string]string{
		"participant_id": seller.ID.String(),
	})
	convID := conv["id"].(string)

	resp, body := srv.do(t, http.MethodPost, "/api/v1/admin/conversations/"+convID+"/flag", srv.admin, map[string]string{"reason": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(body))

	resp, body = srv.do(t, http.MethodPost, "/api/v1/admin/conversations/"+convID+"/flag", srv.admin, map[string]string{"reason": "asked for whatsapp"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["flagged"])

	_, flagged := srv.do(t, http.MethodGet, "/api/v1/admin/conversations/flagged", srv.admin, nil)
	assert.Len(t, flagged["items"], 1)

	resp, body = srv.do(t, http.MethodPost, "/api/v1/admin/users/"+buyer.ID.String()+"/restrict", srv.admin, map[string]string{"duration": "2h"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["messaging_restricted"])
	assert.NotNil(t, body["restricted_until"])

	_, state := srv.do(t, http.MethodGet, "/api/v1/users/me/restriction", buyer.Token, nil)
	assert.Equal(t, true, state["messaging_restricted"])

	resp, body = srv.do(t, http.MethodPost, "/api/v1/admin/users/"+buyer.ID.String()+"/restrict", srv.admin, map[string]string{"duration": "soon"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_DURATION", errorCode(body))

	resp, body = srv.do(t, http.MethodPost, "/api/v1/admin/users/"+buyer.ID.String()+"/unrestrict", srv.admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["messaging_restricted"])
	assert.Nil(t, body["restricted_until"])

	resp, _ = srv.do(t, http.MethodPost, "/api/v1/admin/users/"+uuid.NewString()+"/unrestrict", srv.admin, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNotificationsWithoutInbox(t *testing.T) {
	t.Parallel()
	srv := setupTest(t)
	buyer := srv.register(t, "buyer", domain.RoleBuyer)

	resp, body := srv.do(t, http.MethodGet, "/api/v1/notifications", buyer.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["items"])
}
