package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestErrorHandler_Handle(t *testing.T) {
	t.Run("Should map app errors to their status", func(t *testing.T) {
		cases := []struct {
			err    error
			status int
		}{
			{NewValidationError("Message content is required"), http.StatusBadRequest},
			{NewUnauthorizedError(""), http.StatusUnauthorized},
			{NewNotFoundError("Chat"), http.StatusNotFound},
			{NewDatabaseError("create chat", stderrors.New("boom")), http.StatusInternalServerError},
			{NewUnavailableError("response generator"), http.StatusServiceUnavailable},
			{NewTimeoutError("generate response"), http.StatusGatewayTimeout},
		}

		h := NewErrorHandler(zap.NewNop(), false)
		for _, tc := range cases {
			w := httptest.NewRecorder()
			h.Handle(w, httptest.NewRequest(http.MethodGet, "/api/chat", nil), tc.err)
			assert.Equal(t, tc.status, w.Code, tc.err.Error())
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		}
	})

	t.Run("Should omit details outside debug mode", func(t *testing.T) {
		h := NewErrorHandler(zap.NewNop(), false)
		w := httptest.NewRecorder()

		h.Handle(w, httptest.NewRequest(http.MethodGet, "/", nil), NewNotFoundError("Chat"))

		body := decodeErrorResponse(t, w)
		assert.Equal(t, "Chat not found", body["error"])
		_, hasDetails := body["details"]
		assert.False(t, hasDetails)
	})

	t.Run("Should include stack trace in debug mode", func(t *testing.T) {
		h := NewErrorHandler(zap.NewNop(), true)
		w := httptest.NewRecorder()

		h.Handle(w, httptest.NewRequest(http.MethodGet, "/", nil), NewInternalError("Failed to send message"))

		body := decodeErrorResponse(t, w)
		assert.Equal(t, "Failed to send message", body["error"])
		assert.NotEmpty(t, body["details"])
	})

	t.Run("Should hide plain errors behind a generic message", func(t *testing.T) {
		h := NewErrorHandler(zap.NewNop(), false)
		w := httptest.NewRecorder()

		h.Handle(w, httptest.NewRequest(http.MethodGet, "/", nil), stderrors.New("connection reset"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		body := decodeErrorResponse(t, w)
		assert.Equal(t, "Internal server error", body["error"])
	})

	t.Run("Should find app errors through wrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("load chat: %w", NewNotFoundError("Chat"))
		assert.True(t, IsNotFound(wrapped))
		assert.Equal(t, http.StatusNotFound, GetAppError(wrapped).HTTPStatus)
	})
}

func TestErrorHandler_Middleware(t *testing.T) {
	t.Run("Should handle panic gracefully", func(t *testing.T) {
		h := NewErrorHandler(zap.NewNop(), false)
		w := httptest.NewRecorder()

		handler := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		body := decodeErrorResponse(t, w)
		assert.Equal(t, "Internal server error", body["error"])
	})

	t.Run("Should pass through normal requests", func(t *testing.T) {
		h := NewErrorHandler(zap.NewNop(), false)
		w := httptest.NewRecorder()

		handler := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}
