package generation

import (
	"context"
	"log/slog"
	"time"

	"parley/internal/domain/repositories"
)

// CancellationMonitor reports whether a message was cancelled by re-reading
// persisted state. Cancellation is requested from other requests or
// processes, so a local flag would not see it.
type CancellationMonitor struct {
	reader repositories.MessageReader
	logger *slog.Logger
}

// NewCancellationMonitor creates a new monitor
func NewCancellationMonitor(reader repositories.MessageReader, logger *slog.Logger) *CancellationMonitor {
	return &CancellationMonitor{reader: reader, logger: logger}
}

// IsCancelled reads isCancelled for messageID. A failed read counts as not
// cancelled so a storage hiccup does not end the generation.
func (m *CancellationMonitor) IsCancelled(ctx context.Context, messageID string) bool {
	msg, err := m.reader.GetMessage(context.WithoutCancel(ctx), messageID)
	if err != nil {
		m.logger.Warn("cancellation check failed", "message_id", messageID, "error", err)
		return false
	}
	return msg.IsCancelled
}

// Watch polls the monitor every interval and calls cancel once the message
// is cancelled, aborting the in-flight provider call. It returns when ctx
// is done. A non-positive interval disables watching.
func (m *CancellationMonitor) Watch(ctx context.Context, messageID string, interval time.Duration, cancel context.CancelFunc) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.IsCancelled(ctx, messageID) {
				m.logger.Info("cancellation observed, aborting provider call", "message_id", messageID)
				cancel()
				return
			}
		}
	}
}
