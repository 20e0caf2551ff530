package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"chat-backend/application/ports"
	"chat-backend/domain/core/entities"
	"chat-backend/domain/core/valueobjects"
	pkgerrors "chat-backend/pkg/errors"
)

const foreignKeyViolation = "23503"

const (
	selectChatColumns    = `SELECT id, user_id, title, created_at, updated_at FROM chats`
	selectMessageColumns = `SELECT id, chat_id, role, content, created_at, seq FROM messages`
)

// ConversationRepository implements ports.ConversationRepository on Postgres
type ConversationRepository struct {
	pool   *pgxpool.Pool
	clock  ports.Clock
	logger *zap.Logger
}

// NewConversationRepository creates a repository over an open pool
func NewConversationRepository(pool *pgxpool.Pool, clock ports.Clock, logger *zap.Logger) *ConversationRepository {
	return &ConversationRepository{pool: pool, clock: clock, logger: logger}
}

var _ ports.ConversationRepository = (*ConversationRepository)(nil)

func (r *ConversationRepository) Create(ctx context.Context, c *entities.Conversation) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chats (id, user_id, title, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.OwnerID, c.Title, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return pkgerrors.NewDatabaseError("create chat", err)
	}
	return nil
}

func (r *ConversationRepository) List(ctx context.Context, ownerID string) ([]*entities.Conversation, error) {
	rows, err := r.pool.Query(ctx, selectChatColumns+` WHERE user_id = $1 ORDER BY updated_at DESC`, ownerID)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("list chats", err)
	}
	defer rows.Close()

	result := make([]*entities.Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, pkgerrors.NewDatabaseError("list chats", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.NewDatabaseError("list chats", err)
	}
	return result, nil
}

func (r *ConversationRepository) Get(ctx context.Context, id, ownerID string) (*entities.Conversation, error) {
	row := r.pool.QueryRow(ctx, selectChatColumns+` WHERE id = $1 AND user_id = $2`, id, ownerID)
	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("get chat", err)
	}
	return c, nil
}

func (r *ConversationRepository) Rename(ctx context.Context, id, ownerID string, title valueobjects.Title) (*entities.Conversation, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE chats SET title = $3, updated_at = GREATEST(updated_at, $4)
		 WHERE id = $1 AND user_id = $2
		 RETURNING id, user_id, title, created_at, updated_at`,
		id, ownerID, title.String(), r.clock.Now())
	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("rename chat", err)
	}
	return c, nil
}

// Delete removes messages then the chat inside one transaction.
func (r *ConversationRepository) Delete(ctx context.Context, id, ownerID string) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM chats WHERE id = $1 AND user_id = $2)`, id, ownerID).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			return ports.ErrNotFound
		}

		removed, err := tx.Exec(ctx, `DELETE FROM messages WHERE chat_id = $1`, id)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM chats WHERE id = $1 AND user_id = $2`, id, ownerID); err != nil {
			return err
		}

		r.logger.Debug("Deleted chat",
			zap.String("chat_id", id),
			zap.Int64("messages", removed.RowsAffected()),
		)
		return nil
	})
	if errors.Is(err, ports.ErrNotFound) {
		return err
	}
	if err != nil {
		return pkgerrors.NewDatabaseError("delete chat", err)
	}
	return nil
}

func (r *ConversationRepository) AppendMessage(ctx context.Context, m *entities.Message) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO messages (id, chat_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING seq`,
		m.ID, m.ConversationID, m.Role.String(), m.Content, m.CreatedAt).Scan(&m.Seq)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return ports.ErrNotFound
		}
		return pkgerrors.NewDatabaseError("create message", err)
	}
	return nil
}

func (r *ConversationRepository) ListMessages(ctx context.Context, conversationID, ownerID string) ([]*entities.Message, error) {
	if _, err := r.Get(ctx, conversationID, ownerID); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		selectMessageColumns+` WHERE chat_id = $1 ORDER BY created_at ASC, seq ASC`, conversationID)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("list messages", err)
	}
	defer rows.Close()

	result := make([]*entities.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, pkgerrors.NewDatabaseError("list messages", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.NewDatabaseError("list messages", err)
	}
	return result, nil
}

func (r *ConversationRepository) Touch(ctx context.Context, conversationID, ownerID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE chats SET updated_at = GREATEST(updated_at, $3) WHERE id = $1 AND user_id = $2`,
		conversationID, ownerID, r.clock.Now())
	if err != nil {
		return pkgerrors.NewDatabaseError("touch chat", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (r *ConversationRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return pkgerrors.NewDatabaseError("ping", err)
	}
	return nil
}

func scanConversation(row pgx.Row) (*entities.Conversation, error) {
	var c entities.Conversation
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func scanMessage(row pgx.Row) (*entities.Message, error) {
	var (
		m    entities.Message
		role string
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.CreatedAt, &m.Seq); err != nil {
		return nil, err
	}
	parsed, err := valueobjects.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", m.ID, err)
	}
	m.Role = parsed
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}
