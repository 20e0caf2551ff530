package entities

import (
	"sort"
	"time"

	"chat-backend/domain/core/valueobjects"
)

// Message is one immutable turn of a conversation.
type Message struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"chat_id"`
	Role           valueobjects.Role `json:"role"`
	Content        string            `json:"content"`
	CreatedAt      time.Time         `json:"created_at"`

	// Seq is assigned by the store and breaks ties between messages with
	// the same created_at.
	Seq int64 `json:"-"`
}

// NewMessage builds a message that has not been persisted yet.
func NewMessage(conversationID string, role valueobjects.Role, content string, now time.Time) *Message {
	return &Message{
		ID:             valueobjects.NewMessageID().String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
	}
}

// Before reports whether m sorts ahead of other in conversation order.
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.Seq < other.Seq
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// SortMessages orders messages oldest first.
func SortMessages(messages []*Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Before(messages[j])
	})
}

// SortConversations orders conversations most recently updated first.
func SortConversations(conversations []*Conversation) {
	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].UpdatedAt.After(conversations[j].UpdatedAt)
	})
}

// LastN returns the trailing n messages, keeping their order.
func LastN(messages []*Message, n int) []*Message {
	if n <= 0 {
		return nil
	}
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}
