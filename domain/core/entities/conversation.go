package entities

import (
	"time"

	"chat-backend/domain/core/valueobjects"
)

// Conversation is a titled, owner-scoped thread of messages. The JSON names
// mirror the persisted chats table.
type Conversation struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversation creates a conversation owned by ownerID. created_at and
// updated_at start out equal.
func NewConversation(ownerID string, title valueobjects.Title, now time.Time) *Conversation {
	return &Conversation{
		ID:        valueobjects.NewConversationID().String(),
		OwnerID:   ownerID,
		Title:     title.String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsOwnedBy reports whether ownerID may read and write the conversation.
func (c *Conversation) IsOwnedBy(ownerID string) bool {
	return c.OwnerID == ownerID
}

// Rename replaces the title and bumps updated_at.
func (c *Conversation) Rename(title valueobjects.Title, now time.Time) {
	c.Title = title.String()
	c.Touch(now)
}

// Touch bumps updated_at. It never moves backwards.
func (c *Conversation) Touch(now time.Time) {
	if now.After(c.UpdatedAt) {
		c.UpdatedAt = now
	}
}
