package realtime

import (
	"context"
	"log/slog"

	"parley/internal/domain/models"
	"parley/internal/domain/repositories"
)

// NotifyingStore publishes a snapshot after every successful message write.
// Publish failures are logged; the write itself has already succeeded.
type NotifyingStore struct {
	repositories.MessageStore
	bus    Bus
	logger *slog.Logger
}

// NewNotifyingStore wraps store
func NewNotifyingStore(store repositories.MessageStore, bus Bus, logger *slog.Logger) *NotifyingStore {
	return &NotifyingStore{MessageStore: store, bus: bus, logger: logger.With("component", "message_notifier")}
}

func (s *NotifyingStore) UpdateMessage(ctx context.Context, messageID string, update models.MessageUpdate) error {
	if err := s.MessageStore.UpdateMessage(ctx, messageID, update); err != nil {
		return err
	}
	s.notify(ctx, messageID)
	return nil
}

func (s *NotifyingStore) MarkCancelled(ctx context.Context, messageID string) error {
	if err := s.MessageStore.MarkCancelled(ctx, messageID); err != nil {
		return err
	}
	s.notify(ctx, messageID)
	return nil
}

func (s *NotifyingStore) notify(ctx context.Context, messageID string) {
	msg, err := s.MessageStore.GetMessage(ctx, messageID)
	if err != nil {
		s.logger.Warn("snapshot read failed", "message_id", messageID, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, MessageEvent{MessageID: messageID, Message: msg}); err != nil {
		s.logger.Warn("snapshot publish failed", "message_id", messageID, "error", err)
	}
}
