package repositories

import (
	"context"

	"parley/internal/domain/models"
)

// MessageWriter is the write side used by an active generation.
type MessageWriter interface {
	// UpdateMessage applies a partial update. Returns domain.ErrNotFound when
	// the row no longer exists.
	UpdateMessage(ctx context.Context, messageID string, update models.MessageUpdate) error
}

// MessageReader is the read side used by the cancellation monitor and API.
type MessageReader interface {
	GetMessage(ctx context.Context, messageID string) (*models.Message, error)
}

// MessageStore is the persistence surface the orchestrator consumes.
type MessageStore interface {
	MessageWriter
	MessageReader

	// CreatePlaceholder inserts an empty, incomplete message and returns its id.
	CreatePlaceholder(ctx context.Context, chatID, role string, modelID *string) (string, error)

	// CreateMessage inserts a complete message (user turns).
	CreateMessage(ctx context.Context, msg *models.Message) error

	// ListByChat returns messages of a chat ordered by creation time.
	ListByChat(ctx context.Context, chatID string) ([]models.Message, error)

	// MarkCancelled sets is_cancelled. Idempotent.
	MarkCancelled(ctx context.Context, messageID string) error
}
