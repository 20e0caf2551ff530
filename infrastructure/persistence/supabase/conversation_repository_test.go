package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	supa "github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"chat-backend/application/ports"
	"chat-backend/domain/core/entities"
	"chat-backend/domain/core/valueobjects"
)

func TestChatRow_DecodesPostgrestTimestamps(t *testing.T) {
	payload := `[{"id":"7b1f4f7e-9a59-4b8e-9d53-5b8a4c1f2d10","user_id":"u1","title":"Hi",
		"created_at":"2024-05-01T10:00:00.123456+00:00","updated_at":"2024-05-01T10:05:00+02:00"}]`

	var rows []chatRow
	require.NoError(t, json.Unmarshal([]byte(payload), &rows))
	require.Len(t, rows, 1)

	c := rows[0].toEntity()
	assert.Equal(t, "u1", c.OwnerID)
	assert.Equal(t, time.UTC, c.CreatedAt.Location())
	assert.Equal(t, 8, c.UpdatedAt.Hour())
}

func TestMessageRow_RoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	m := entities.NewMessage("chat-1", valueobjects.RoleAssistant, "hello", now)

	row := toMessageRow(m, now)
	assert.Equal(t, now.UnixNano(), m.Seq, "a sequence is stamped before insert")
	assert.Equal(t, "assistant", row.Role)

	back, err := row.toEntity()
	require.NoError(t, err)
	assert.Equal(t, m.ID, back.ID)
	assert.Equal(t, valueobjects.RoleAssistant, back.Role)
	assert.Equal(t, m.Seq, back.Seq)
}

func TestMessageRow_RejectsUnknownRole(t *testing.T) {
	_, err := messageRow{ID: "m1", Role: "system"}.toEntity()
	assert.Error(t, err)
}

func TestIsNoRows(t *testing.T) {
	assert.True(t, isNoRows(errors.New("(PGRST116) JSON object requested, multiple (or no) rows returned")))
	assert.False(t, isNoRows(errors.New("(42501) permission denied")))
	assert.False(t, isNoRows(nil))
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// fakeChats answers the PostgREST calls Touch makes against a single chat row.
type fakeChats struct {
	exists    bool
	updatedAt time.Time
	patches   []url.Values
}

func (f *fakeChats) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	row := chatRow{ID: "chat-1", UserID: "u1", Title: "Hi", CreatedAt: f.updatedAt, UpdatedAt: f.updatedAt}
	switch req.Method {
	case http.MethodPatch:
		q := req.URL.Query()
		f.patches = append(f.patches, q)
		bound, err := time.Parse(time.RFC3339Nano, strings.TrimPrefix(q.Get("updated_at"), "lt."))
		if !f.exists || err != nil || !f.updatedAt.Before(bound) {
			_, _ = w.Write([]byte("[]"))
			return
		}
		f.updatedAt = bound
		row.UpdatedAt = bound
		_ = json.NewEncoder(w).Encode([]chatRow{row})
	case http.MethodGet:
		if !f.exists {
			_, _ = w.Write([]byte("[]"))
			return
		}
		_ = json.NewEncoder(w).Encode([]chatRow{row})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newFakeRepository(t *testing.T, chats *fakeChats, now time.Time) *ConversationRepository {
	t.Helper()
	srv := httptest.NewServer(chats)
	t.Cleanup(srv.Close)

	client, err := supa.NewClient(srv.URL, "service-role-key", nil)
	require.NoError(t, err)
	return NewConversationRepository(client, fixedClock{now}, zap.NewNop())
}

func TestTouch_NeverMovesUpdatedAtBackwards(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("older chat is bumped", func(t *testing.T) {
		chats := &fakeChats{exists: true, updatedAt: now.Add(-time.Minute)}
		repo := newFakeRepository(t, chats, now)

		require.NoError(t, repo.Touch(context.Background(), "chat-1", "u1"))
		require.Len(t, chats.patches, 1)
		assert.Equal(t, "lt."+now.Format(time.RFC3339Nano), chats.patches[0].Get("updated_at"))
		assert.Equal(t, "eq.u1", chats.patches[0].Get("user_id"))
		assert.True(t, chats.updatedAt.Equal(now))
	})

	t.Run("newer chat is left alone", func(t *testing.T) {
		later := now.Add(time.Hour)
		chats := &fakeChats{exists: true, updatedAt: later}
		repo := newFakeRepository(t, chats, now)

		require.NoError(t, repo.Touch(context.Background(), "chat-1", "u1"))
		assert.True(t, chats.updatedAt.Equal(later))
	})

	t.Run("missing chat is not found", func(t *testing.T) {
		chats := &fakeChats{}
		repo := newFakeRepository(t, chats, now)

		err := repo.Touch(context.Background(), "chat-1", "u1")
		assert.ErrorIs(t, err, ports.ErrNotFound)
	})
}
