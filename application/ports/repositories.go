package ports

import (
	"context"
	"errors"
	"time"

	"chat-backend/domain/core/entities"
	"chat-backend/domain/core/valueobjects"
	"chat-backend/domain/events"
	"chat-backend/pkg/auth"
)

// ErrNotFound is returned by stores when a record is absent or not owned by
// the caller. Callers cannot tell the two cases apart.
var ErrNotFound = errors.New("record not found")

// ErrPartialDelete is returned when messages were removed but the
// conversation row could not be.
var ErrPartialDelete = errors.New("conversation messages deleted but conversation remains")

// ConversationRepository defines owner-scoped persistence for conversations
// and their messages.
type ConversationRepository interface {
	// Create persists a new conversation
	Create(ctx context.Context, conversation *entities.Conversation) error

	// List returns the owner's conversations, most recently updated first
	List(ctx context.Context, ownerID string) ([]*entities.Conversation, error)

	// Get returns a conversation or ErrNotFound
	Get(ctx context.Context, id, ownerID string) (*entities.Conversation, error)

	// Rename changes the title and bumps updated_at
	Rename(ctx context.Context, id, ownerID string, title valueobjects.Title) (*entities.Conversation, error)

	// Delete removes the conversation's messages, then the conversation
	Delete(ctx context.Context, id, ownerID string) error

	// AppendMessage stores a message. It does not check ownership: callers
	// must have loaded the conversation with Get first.
	AppendMessage(ctx context.Context, message *entities.Message) error

	// ListMessages returns messages oldest first, or ErrNotFound when the
	// conversation is not owned by ownerID
	ListMessages(ctx context.Context, conversationID, ownerID string) ([]*entities.Message, error)

	// Touch bumps updated_at to now
	Touch(ctx context.Context, conversationID, ownerID string) error

	// Ping checks that the backing store is reachable
	Ping(ctx context.Context) error
}

// GenerateRequest is the input to a ResponseGenerator. History is oldest
// first and already bounded by the caller.
type GenerateRequest struct {
	Message string
	History []*entities.Message
}

// GeneratedResponse is a reply produced by a ResponseGenerator
type GeneratedResponse struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Model     string    `json:"model"`
}

// ResponseGenerator produces the assistant's reply to a user message
type ResponseGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GeneratedResponse, error)
}

// IdentityVerifier validates a bearer credential against the identity provider
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Principal, error)
}

// EventPublisher defines the interface for publishing domain events
type EventPublisher interface {
	// Publish sends a single event
	Publish(ctx context.Context, event events.DomainEvent) error

	// PublishBatch sends multiple events
	PublishBatch(ctx context.Context, events []events.DomainEvent) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
