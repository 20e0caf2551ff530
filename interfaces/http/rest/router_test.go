package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-backend/application/ports"
	"chat-backend/application/services"
	"chat-backend/infrastructure/config"
	"chat-backend/infrastructure/persistence/memory"
	"chat-backend/pkg/auth"
	pkgerrors "chat-backend/pkg/errors"
	"chat-backend/pkg/observability"
)

var created = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// tokenVerifier accepts "token-<user>" and rejects everything else.
type tokenVerifier struct{}

func (tokenVerifier) Verify(_ context.Context, token string) (*auth.Principal, error) {
	if !strings.HasPrefix(token, "token-") {
		return nil, pkgerrors.NewUnauthorizedError("Invalid or expired token")
	}
	user := strings.TrimPrefix(token, "token-")
	return &auth.Principal{ID: user, Email: user + "@example.com", CreatedAt: created}, nil
}

type echoGenerator struct{}

func (echoGenerator) Generate(_ context.Context, req ports.GenerateRequest) (*ports.GeneratedResponse, error) {
	return &ports.GeneratedResponse{ID: "r", Message: "echo: " + req.Message, Model: "echo"}, nil
}

type failingStore struct{ *memory.ConversationRepository }

func (failingStore) Ping(context.Context) error { return errors.New("down") }

type testServer struct {
	handler http.Handler
	metrics *observability.Collector
}

func newTestServer(t *testing.T, store Pinger, cfgFn ...func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Environment = "test"
	cfg.EnableMetrics = true
	for _, fn := range cfgFn {
		fn(cfg)
	}

	clock := ports.SystemClock{}
	repo := memory.NewConversationRepository(clock)
	if store == nil {
		store = repo
	}
	logger := zap.NewNop()
	metrics := observability.NewCollector("chat")
	svc := services.NewConversationService(repo, echoGenerator{}, nil, clock, metrics, logger, services.DefaultHistorySize)

	rt := NewRouter(cfg, svc, store, tokenVerifier{}, metrics,
		pkgerrors.NewErrorHandler(logger, false),
		auth.NewIPRateLimiter(cfg.RateLimitPerIP),
		auth.NewUserRateLimiter(cfg.RateLimitPerUser),
		clock, logger)

	return &testServer{handler: rt.Setup(), metrics: metrics}
}

func (s *testServer) do(t *testing.T, method, path, token, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	}
	return rec, decoded
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t, nil)

	rec, body := s.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", body["status"])
	assert.Equal(t, "test", body["environment"])
	assert.NotEmpty(t, body["timestamp"])

	rec, body = s.do(t, http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body["status"])

	down := newTestServer(t, failingStore{})
	rec, body = down.do(t, http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Store unavailable", body["error"])
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t, nil)

	rec, body := s.do(t, http.MethodGet, "/api/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Route not found", body["error"])
}

func TestAuthVerify(t *testing.T) {
	s := newTestServer(t, nil)

	rec, body := s.do(t, http.MethodPost, "/api/auth/verify", "", `{"token":"token-alice"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["valid"])
	user := body["user"].(map[string]interface{})
	assert.Equal(t, "alice", user["id"])
	assert.Equal(t, "alice@example.com", user["email"])
	assert.Equal(t, "2024-01-02T03:04:05.000Z", user["created_at"])

	rec, body = s.do(t, http.MethodPost, "/api/auth/verify", "", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Token is required", body["error"])

	rec, body = s.do(t, http.MethodPost, "/api/auth/verify", "", `{"token":"forged"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid or expired token", body["error"])
}

func TestAuthProfile(t *testing.T) {
	s := newTestServer(t, nil)

	rec, body := s.do(t, http.MethodGet, "/api/auth/profile", "token-bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", body["user"].(map[string]interface{})["id"])
	assert.NotContains(t, body, "valid")

	rec, body = s.do(t, http.MethodGet, "/api/auth/profile", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Missing or invalid authorization header", body["error"])
}

func TestChatRoutesRequireAuth(t *testing.T) {
	s := newTestServer(t, nil)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/chat"},
		{http.MethodPost, "/api/chat"},
		{http.MethodGet, "/api/chat/123"},
		{http.MethodPut, "/api/chat/123"},
		{http.MethodDelete, "/api/chat/123"},
		{http.MethodGet, "/api/chat/123/messages"},
		{http.MethodPost, "/api/chat/123/messages"},
	} {
		rec, _ := s.do(t, route.method, route.path, "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", route.method, route.path)

		rec, body := s.do(t, route.method, route.path, "bogus", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Invalid or expired token", body["error"])
	}
}

func TestChatLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	const alice = "token-alice"

	rec, body := s.do(t, http.MethodPost, "/api/chat", alice, `{"title":"  New Chat  "}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Chat created successfully", body["message"])
	chat := body["chat"].(map[string]interface{})
	id := chat["id"].(string)
	assert.Equal(t, "New Chat", chat["title"])
	assert.Equal(t, "alice", chat["user_id"])
	assert.Equal(t, chat["created_at"], chat["updated_at"])

	rec, body = s.do(t, http.MethodPost, "/api/chat", alice, `{"title":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Chat title is required", body["error"])

	rec, body = s.do(t, http.MethodPost, "/api/chat", alice, `{"title":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, body["error"])

	rec, body = s.do(t, http.MethodPost, "/api/chat/"+id+"/messages", alice, `{"message":"What should I pack for a week in Lisbon in early spring?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Message sent and response generated successfully", body["message"])
	userMsg := body["userMessage"].(map[string]interface{})
	asstMsg := body["assistantMessage"].(map[string]interface{})
	assert.Equal(t, "user", userMsg["role"])
	assert.Equal(t, id, userMsg["chat_id"])
	assert.Equal(t, "assistant", asstMsg["role"])
	assert.Equal(t, "echo: What should I pack for a week in Lisbon in early spring?", asstMsg["content"])

	rec, body = s.do(t, http.MethodPost, "/api/chat/"+id+"/messages", alice, `{"message":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Message content is required", body["error"])

	rec, body = s.do(t, http.MethodGet, "/api/chat/"+id, alice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, body["count"])
	assert.Equal(t, "What should I pack for a week in Lisbon in early s...", body["chat"].(map[string]interface{})["title"])

	rec, body = s.do(t, http.MethodGet, "/api/chat/"+id+"/messages", alice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, body["count"])
	assert.Len(t, body["messages"], 2)

	rec, body = s.do(t, http.MethodPut, "/api/chat/"+id, alice, `{"title":"Lisbon"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Chat title updated successfully", body["message"])
	assert.Equal(t, "Lisbon", body["chat"].(map[string]interface{})["title"])

	rec, body = s.do(t, http.MethodGet, "/api/chat", alice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, body["count"])

	rec, body = s.do(t, http.MethodGet, "/api/chat", "token-bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, body["count"])
	assert.Equal(t, []interface{}{}, body["chats"])

	rec, body = s.do(t, http.MethodGet, "/api/chat/"+id, "token-bob", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Chat not found", body["error"])

	rec, _ = s.do(t, http.MethodDelete, "/api/chat/"+id, "token-bob", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = s.do(t, http.MethodDelete, "/api/chat/"+id, alice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Chat deleted successfully", body["message"])

	rec, _ = s.do(t, http.MethodGet, "/api/chat/"+id, alice, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvalidChatIDIsNotFound(t *testing.T) {
	s := newTestServer(t, nil)

	rec, body := s.do(t, http.MethodGet, "/api/chat/not-a-uuid", "token-alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Chat not found", body["error"])
}

func TestUserRateLimit(t *testing.T) {
	s := newTestServer(t, nil, func(c *config.Config) {
		c.RateLimitPerUser = 2
		c.RateLimitPerIP = 0
	})

	for i := 0; i < 2; i++ {
		rec, _ := s.do(t, http.MethodGet, "/api/chat", "token-carol", "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, body := s.do(t, http.MethodGet, "/api/chat", "token-carol", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, body["error"])

	rec, _ = s.do(t, http.MethodGet, "/api/chat", "token-dave", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/api/chat", "token-alice", `{"title":"counted"}`)

	rec, _ := s.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chat_conversations_created_total 1")
	assert.Contains(t, rec.Body.String(), `route="/api/chat`)
}
