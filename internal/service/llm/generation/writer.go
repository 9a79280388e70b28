package generation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"parley/internal/domain"
	"parley/internal/domain/models"
	"parley/internal/domain/repositories"
)

// Writer rate-limits persistence of one message. A non-forced flush writes
// at most once per interval and coalesces requests into a single deferred
// flush; forced and immediate writes go straight to storage. All writes are
// serialized so a stale snapshot never lands after a newer one.
type Writer struct {
	mu sync.Mutex

	store     repositories.MessageWriter
	messageID string
	interval  time.Duration
	snapshot  func() models.MessageUpdate
	logger    *slog.Logger
	now       func() time.Time

	// ctx outlives the generation's cancellation so final writes still land
	ctx context.Context

	lastFlushAt     time.Time
	pendingContent  bool
	pendingThinking bool
	timer           *time.Timer
}

// NewWriter creates a writer for messageID. snapshot is read on every
// batched flush.
func NewWriter(
	ctx context.Context,
	store repositories.MessageWriter,
	messageID string,
	interval time.Duration,
	snapshot func() models.MessageUpdate,
	logger *slog.Logger,
) *Writer {
	return &Writer{
		store:     store,
		messageID: messageID,
		interval:  interval,
		snapshot:  snapshot,
		logger:    logger,
		now:       time.Now,
		ctx:       context.WithoutCancel(ctx),
	}
}

// MarkContent flags content as changed since the last write.
func (w *Writer) MarkContent() {
	w.mu.Lock()
	w.pendingContent = true
	w.mu.Unlock()
}

// MarkThinking flags thinking as changed since the last write.
func (w *Writer) MarkThinking() {
	w.mu.Lock()
	w.pendingThinking = true
	w.mu.Unlock()
}

// Flush requests a batched write of pending changes.
func (w *Writer) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.pendingContent && !w.pendingThinking {
		return
	}

	now := w.now()
	if now.Sub(w.lastFlushAt) >= w.interval {
		w.writeLocked(w.snapshot())
		return
	}
	if w.timer != nil {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(w.lastFlushAt.Add(w.interval).Sub(now), func() { w.fire(t) })
	w.timer = t
}

func (w *Writer) fire(t *time.Timer) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Superseded by a forced write
	if w.timer != t {
		return
	}
	w.timer = nil
	if w.pendingContent || w.pendingThinking {
		w.writeLocked(w.snapshot())
	}
}

// ForceFlush writes update now, cancelling any deferred flush.
func (w *Writer) ForceFlush(update models.MessageUpdate) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.writeLocked(update)
}

// WriteNow writes update without touching the batching state. Used for
// tool calls and results, which must be visible immediately.
func (w *Writer) WriteNow(update models.MessageUpdate) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.persistLocked(update)
}

func (w *Writer) writeLocked(update models.MessageUpdate) {
	w.persistLocked(update)
	w.pendingContent = false
	w.pendingThinking = false
	w.lastFlushAt = w.now()
}

// persistLocked logs failures and carries on; a lost intermediate write is
// repaired by the next one.
func (w *Writer) persistLocked(update models.MessageUpdate) {
	if update.IsEmpty() {
		return
	}
	if err := w.store.UpdateMessage(w.ctx, w.messageID, update); err != nil {
		conflict := &domain.PersistenceConflict{MessageID: w.messageID, Err: err}
		if errors.Is(err, domain.ErrNotFound) {
			w.logger.Warn("message write skipped", "message_id", w.messageID, "error", conflict)
			return
		}
		w.logger.Error("message write failed", "message_id", w.messageID, "error", conflict)
	}
}
