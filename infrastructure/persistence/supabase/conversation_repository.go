// Package supabase stores conversations in the chats and messages tables of
// a Supabase project through its PostgREST API.
package supabase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"chat-backend/application/ports"
	"chat-backend/domain/core/entities"
	"chat-backend/domain/core/valueobjects"
	pkgerrors "chat-backend/pkg/errors"
)

const (
	chatsTable    = "chats"
	messagesTable = "messages"

	// PostgREST reports "no rows" for single-object requests with this code.
	noRowsCode = "PGRST116"
	// Postgres foreign key violation, surfaced by PostgREST in the error text.
	foreignKeyViolation = "23503"
)

type chatRow struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type messageRow struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Seq       int64     `json:"seq,omitempty"`
}

// ConversationRepository implements ports.ConversationRepository over PostgREST.
// Calls are not cancellable once issued; ctx is checked before each request.
type ConversationRepository struct {
	client *supa.Client
	clock  ports.Clock
	logger *zap.Logger
}

// NewConversationRepository creates a repository. The client should carry the
// service role key so row level security does not hide rows.
func NewConversationRepository(client *supa.Client, clock ports.Clock, logger *zap.Logger) *ConversationRepository {
	return &ConversationRepository{client: client, clock: clock, logger: logger}
}

var _ ports.ConversationRepository = (*ConversationRepository)(nil)

func (r *ConversationRepository) Create(ctx context.Context, c *entities.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var rows []chatRow
	_, err := r.client.From(chatsTable).
		Insert(toChatRow(c), false, "", "representation", "").
		ExecuteTo(&rows)
	if err != nil {
		return pkgerrors.NewDatabaseError("create chat", err)
	}
	return nil
}

func (r *ConversationRepository) List(ctx context.Context, ownerID string) ([]*entities.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []chatRow
	_, err := r.client.From(chatsTable).
		Select("*", "", false).
		Eq("user_id", ownerID).
		Order("updated_at", &postgrest.OrderOpts{Ascending: false}).
		ExecuteTo(&rows)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("list chats", err)
	}

	result := make([]*entities.Conversation, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toEntity())
	}
	entities.SortConversations(result)
	return result, nil
}

func (r *ConversationRepository) Get(ctx context.Context, id, ownerID string) (*entities.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []chatRow
	_, err := r.client.From(chatsTable).
		Select("*", "", false).
		Eq("id", id).
		Eq("user_id", ownerID).
		ExecuteTo(&rows)
	if err != nil {
		if isNoRows(err) {
			return nil, ports.ErrNotFound
		}
		return nil, pkgerrors.NewDatabaseError("get chat", err)
	}
	if len(rows) == 0 {
		return nil, ports.ErrNotFound
	}
	return rows[0].toEntity(), nil
}

func (r *ConversationRepository) Rename(ctx context.Context, id, ownerID string, title valueobjects.Title) (*entities.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	update := map[string]interface{}{
		"title":      title.String(),
		"updated_at": r.clock.Now(),
	}
	var rows []chatRow
	_, err := r.client.From(chatsTable).
		Update(update, "representation", "").
		Eq("id", id).
		Eq("user_id", ownerID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("rename chat", err)
	}
	if len(rows) == 0 {
		return nil, ports.ErrNotFound
	}
	return rows[0].toEntity(), nil
}

// Delete runs in two phases: messages, then the chat. PostgREST offers no
// multi-statement transaction, so a failure in the second phase is reported
// as ports.ErrPartialDelete.
func (r *ConversationRepository) Delete(ctx context.Context, id, ownerID string) error {
	if _, err := r.Get(ctx, id, ownerID); err != nil {
		return err
	}

	if _, _, err := r.client.From(messagesTable).
		Delete("minimal", "").
		Eq("chat_id", id).
		Execute(); err != nil {
		return pkgerrors.NewDatabaseError("delete messages", err)
	}

	if _, _, err := r.client.From(chatsTable).
		Delete("minimal", "").
		Eq("id", id).
		Eq("user_id", ownerID).
		Execute(); err != nil {
		r.logger.Error("Chat messages deleted but chat remains",
			zap.String("chat_id", id),
			zap.Error(err),
		)
		return pkgerrors.NewDatabaseError("delete chat", fmt.Errorf("%w: %v", ports.ErrPartialDelete, err))
	}
	return nil
}

func (r *ConversationRepository) AppendMessage(ctx context.Context, m *entities.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var rows []messageRow
	_, err := r.client.From(messagesTable).
		Insert(toMessageRow(m, r.clock.Now()), false, "", "representation", "").
		ExecuteTo(&rows)
	if err != nil {
		if strings.Contains(err.Error(), foreignKeyViolation) {
			return ports.ErrNotFound
		}
		return pkgerrors.NewDatabaseError("create message", err)
	}
	if len(rows) > 0 && rows[0].Seq != 0 {
		m.Seq = rows[0].Seq
	}
	return nil
}

func (r *ConversationRepository) ListMessages(ctx context.Context, conversationID, ownerID string) ([]*entities.Message, error) {
	if _, err := r.Get(ctx, conversationID, ownerID); err != nil {
		return nil, err
	}

	var rows []messageRow
	_, err := r.client.From(messagesTable).
		Select("*", "", false).
		Eq("chat_id", conversationID).
		Order("created_at", &postgrest.OrderOpts{Ascending: true}).
		ExecuteTo(&rows)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("list messages", err)
	}

	result := make([]*entities.Message, 0, len(rows))
	for _, row := range rows {
		m, err := row.toEntity()
		if err != nil {
			return nil, pkgerrors.NewDatabaseError("list messages", err)
		}
		result = append(result, m)
	}
	entities.SortMessages(result)
	return result, nil
}

func (r *ConversationRepository) Touch(ctx context.Context, conversationID, ownerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := r.clock.Now().UTC()
	var rows []chatRow
	_, err := r.client.From(chatsTable).
		Update(map[string]interface{}{"updated_at": now}, "representation", "").
		Eq("id", conversationID).
		Eq("user_id", ownerID).
		Lt("updated_at", now.Format(time.RFC3339Nano)).
		ExecuteTo(&rows)
	if err != nil {
		return pkgerrors.NewDatabaseError("touch chat", err)
	}
	if len(rows) > 0 {
		return nil
	}

	// Nothing matched: either the chat is gone or it is already newer.
	if _, err := r.Get(ctx, conversationID, ownerID); err != nil {
		return err
	}
	return nil
}

func (r *ConversationRepository) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, _, err := r.client.From(chatsTable).Select("id", "", false).Limit(1, "").Execute(); err != nil {
		return pkgerrors.NewDatabaseError("ping", err)
	}
	return nil
}

func isNoRows(err error) bool {
	return err != nil && strings.Contains(err.Error(), noRowsCode)
}

func toChatRow(c *entities.Conversation) chatRow {
	return chatRow{
		ID:        c.ID,
		UserID:    c.OwnerID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func (row chatRow) toEntity() *entities.Conversation {
	return &entities.Conversation{
		ID:        row.ID,
		OwnerID:   row.UserID,
		Title:     row.Title,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}
}

// toMessageRow stamps a clock-derived sequence so ordering holds even if the
// table has no seq default.
func toMessageRow(m *entities.Message, now time.Time) messageRow {
	if m.Seq == 0 {
		m.Seq = now.UnixNano()
	}
	return messageRow{
		ID:        m.ID,
		ChatID:    m.ConversationID,
		Role:      m.Role.String(),
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		Seq:       m.Seq,
	}
}

func (row messageRow) toEntity() (*entities.Message, error) {
	role, err := valueobjects.ParseRole(row.Role)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", row.ID, err)
	}
	return &entities.Message{
		ID:             row.ID,
		ConversationID: row.ChatID,
		Role:           role,
		Content:        row.Content,
		CreatedAt:      row.CreatedAt.UTC(),
		Seq:            row.Seq,
	}, nil
}
