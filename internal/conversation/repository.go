package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("conversation not found")

type Repository interface {
	GetByID(ctx context.Context, id, userID uuid.UUID) (*Conversation, error)
	Create(ctx context.Context, c *Conversation) error
	TouchActivity(ctx context.Context, id uuid.UUID, at time.Time) error

	SaveMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*Message, error)
}

type postgresRepo struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &postgresRepo{db: db}
}

func (r *postgresRepo) GetByID(ctx context.Context, id, userID uuid.UUID) (*Conversation, error) {
	query := `SELECT id, user_id, title, created_at, last_activity_at FROM conversations
		WHERE id = $1 AND user_id = $2`

	var c Conversation
	err := r.db.QueryRowContext(ctx, query, id, userID).Scan(
		&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.LastActivityAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &c, nil
}

func (r *postgresRepo) Create(ctx context.Context, c *Conversation) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.LastActivityAt.IsZero() {
		c.LastActivityAt = c.CreatedAt
	}
	query := `INSERT INTO conversations (id, user_id, title, created_at, last_activity_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(ctx, query, c.ID, c.UserID, c.Title, c.CreatedAt, c.LastActivityAt)
	return err
}

func (r *postgresRepo) TouchActivity(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE conversations SET last_activity_at = $2 WHERE id = $1`, id, at)
	return err
}

func (r *postgresRepo) SaveMessage(ctx context.Context, m *Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	var payload any
	if len(m.StatusPayload) > 0 {
		payload = []byte(m.StatusPayload)
	}
	query := `INSERT INTO messages (id, conversation_id, role, content, status_payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.ExecContext(ctx, query, m.ID, m.ConversationID, m.Role, m.Content, payload, m.CreatedAt)
	return err
}

func (r *postgresRepo) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*Message, error) {
	query := `SELECT id, conversation_id, role, content, status_payload, created_at FROM messages
		WHERE conversation_id = $1 ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		var payload []byte
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &payload, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.StatusPayload = payload
		out = append(out, &m)
	}
	return out, rows.Err()
}
