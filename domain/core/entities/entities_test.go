package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-backend/domain/core/valueobjects"
)

func TestNewConversation(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	title, err := valueobjects.NewTitle("Weekend plans")
	require.NoError(t, err)

	conv := NewConversation("user-1", title, now)

	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, "user-1", conv.OwnerID)
	assert.Equal(t, "Weekend plans", conv.Title)
	assert.Equal(t, conv.CreatedAt, conv.UpdatedAt)
	assert.True(t, conv.IsOwnedBy("user-1"))
	assert.False(t, conv.IsOwnedBy("user-2"))
}

func TestConversation_RenameAndTouch(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	title, _ := valueobjects.NewTitle("Old")
	conv := NewConversation("user-1", title, now)

	renamed, _ := valueobjects.NewTitle("New")
	conv.Rename(renamed, now.Add(time.Minute))
	assert.Equal(t, "New", conv.Title)
	assert.Equal(t, now.Add(time.Minute), conv.UpdatedAt)
	assert.Equal(t, now, conv.CreatedAt)

	conv.Touch(now)
	assert.Equal(t, now.Add(time.Minute), conv.UpdatedAt, "touch never moves updated_at backwards")
}

func TestSortMessages(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &Message{ID: "a", CreatedAt: at, Seq: 2}
	b := &Message{ID: "b", CreatedAt: at, Seq: 1}
	c := &Message{ID: "c", CreatedAt: at.Add(-time.Second), Seq: 3}

	msgs := []*Message{a, b, c}
	SortMessages(msgs)

	assert.Equal(t, []string{"c", "b", "a"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestSortConversations(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	convs := []*Conversation{
		{ID: "old", UpdatedAt: at},
		{ID: "new", UpdatedAt: at.Add(time.Hour)},
		{ID: "mid", UpdatedAt: at.Add(time.Minute)},
	}

	SortConversations(convs)

	assert.Equal(t, "new", convs[0].ID)
	assert.Equal(t, "mid", convs[1].ID)
	assert.Equal(t, "old", convs[2].ID)
}

func TestLastN(t *testing.T) {
	var msgs []*Message
	for i := 0; i < 15; i++ {
		msgs = append(msgs, &Message{Seq: int64(i)})
	}

	tail := LastN(msgs, 10)
	require.Len(t, tail, 10)
	assert.Equal(t, int64(5), tail[0].Seq)
	assert.Equal(t, int64(14), tail[9].Seq)

	assert.Len(t, LastN(msgs[:3], 10), 3)
	assert.Nil(t, LastN(msgs, 0))
}
