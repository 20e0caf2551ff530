// Package memory keeps conversations in process memory. It backs local
// development and the test suites; data is lost on restart.
package memory

import (
	"context"
	"sync"

	"chat-backend/application/ports"
	"chat-backend/domain/core/entities"
	"chat-backend/domain/core/valueobjects"
)

// ConversationRepository implements ports.ConversationRepository in memory
type ConversationRepository struct {
	mu            sync.RWMutex
	conversations map[string]*entities.Conversation
	messages      map[string][]*entities.Message
	seq           int64
	clock         ports.Clock
}

// NewConversationRepository creates an empty store
func NewConversationRepository(clock ports.Clock) *ConversationRepository {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &ConversationRepository{
		conversations: make(map[string]*entities.Conversation),
		messages:      make(map[string][]*entities.Message),
		clock:         clock,
	}
}

var _ ports.ConversationRepository = (*ConversationRepository)(nil)

func (r *ConversationRepository) Create(ctx context.Context, conversation *entities.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *conversation
	r.conversations[stored.ID] = &stored
	return nil
}

func (r *ConversationRepository) List(ctx context.Context, ownerID string) ([]*entities.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*entities.Conversation, 0)
	for _, c := range r.conversations {
		if c.IsOwnedBy(ownerID) {
			cp := *c
			result = append(result, &cp)
		}
	}
	entities.SortConversations(result)
	return result, nil
}

func (r *ConversationRepository) Get(ctx context.Context, id, ownerID string) (*entities.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, err := r.owned(id, ownerID)
	if err != nil {
		return nil, err
	}
	cp := *c
	return &cp, nil
}

func (r *ConversationRepository) Rename(ctx context.Context, id, ownerID string, title valueobjects.Title) (*entities.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.owned(id, ownerID)
	if err != nil {
		return nil, err
	}
	c.Rename(title, r.clock.Now())
	cp := *c
	return &cp, nil
}

func (r *ConversationRepository) Delete(ctx context.Context, id, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.owned(id, ownerID); err != nil {
		return err
	}
	delete(r.messages, id)
	delete(r.conversations, id)
	return nil
}

// AppendMessage assigns the message its sequence number. Ownership is the
// caller's responsibility, but the conversation must still exist.
func (r *ConversationRepository) AppendMessage(ctx context.Context, message *entities.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conversations[message.ConversationID]; !ok {
		return ports.ErrNotFound
	}
	r.seq++
	message.Seq = r.seq

	stored := *message
	r.messages[message.ConversationID] = append(r.messages[message.ConversationID], &stored)
	return nil
}

func (r *ConversationRepository) ListMessages(ctx context.Context, conversationID, ownerID string) ([]*entities.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, err := r.owned(conversationID, ownerID); err != nil {
		return nil, err
	}

	stored := r.messages[conversationID]
	result := make([]*entities.Message, 0, len(stored))
	for _, m := range stored {
		cp := *m
		result = append(result, &cp)
	}
	entities.SortMessages(result)
	return result, nil
}

func (r *ConversationRepository) Touch(ctx context.Context, conversationID, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.owned(conversationID, ownerID)
	if err != nil {
		return err
	}
	c.Touch(r.clock.Now())
	return nil
}

func (r *ConversationRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *ConversationRepository) owned(id, ownerID string) (*entities.Conversation, error) {
	c, ok := r.conversations[id]
	if !ok || !c.IsOwnedBy(ownerID) {
		return nil, ports.ErrNotFound
	}
	return c, nil
}
