package conversation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Conversation struct {
	ID             uuid.UUID `json:"id" db:"id"`
	UserID         uuid.UUID `json:"user_id" db:"user_id"`
	Title          string    `json:"title,omitempty" db:"title"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at" db:"last_activity_at"`
}

type Message struct {
	ID             uuid.UUID `json:"id" db:"id"`
	ConversationID uuid.UUID `json:"conversation_id" db:"conversation_id"`
	Role           string    `json:"role" db:"role"` // "user" or "assistant"
	Content        string    `json:"content" db:"content"`

	// StatusPayload is the serialized status timeline attached to assistant
	// messages, replayed as-is for history.
	StatusPayload json.RawMessage `json:"status_payload,omitempty" db:"status_payload"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
