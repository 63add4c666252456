package chat

import (
	"errors"

	"health-companion/internal/conversation"
	"health-companion/internal/record"
)

// Error taxonomy for a turn. NotFound and StoreUnavailable propagate to the
// caller; validation problems are returned to the model as text, and parse
// failures always degrade to a safe reply.
var (
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")
)

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, record.ErrNotFound) ||
		errors.Is(err, conversation.ErrNotFound)
}
