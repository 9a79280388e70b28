// Package realtime fans message snapshots out to live subscribers. A Bus
// carries snapshots between processes; a Hub delivers them to the SSE
// connections of this process.
package realtime

import (
	"log/slog"
	"sync"

	"parley/internal/domain/models"
)

// MessageEvent is a full snapshot of a message after a write.
type MessageEvent struct {
	MessageID string          `json:"messageId"`
	Message   *models.Message `json:"message"`
}

// Final reports whether no further snapshots will follow.
func (e MessageEvent) Final() bool {
	return e.Message != nil && e.Message.IsComplete
}

const subscriberBuffer = 16

type subscriber struct {
	ch chan MessageEvent
}

// Hub routes events to subscribers by message id.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	logger *slog.Logger
}

// NewHub creates an empty hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[*subscriber]struct{}),
		logger: logger.With("component", "realtime_hub"),
	}
}

// Subscribe registers interest in one message. The returned func removes
// the subscription and closes the channel; it is safe to call twice.
func (h *Hub) Subscribe(messageID string) (<-chan MessageEvent, func()) {
	sub := &subscriber{ch: make(chan MessageEvent, subscriberBuffer)}

	h.mu.Lock()
	if h.subs[messageID] == nil {
		h.subs[messageID] = make(map[*subscriber]struct{})
	}
	h.subs[messageID][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[messageID]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(h.subs, messageID)
				}
			}
			close(sub.ch)
		})
	}
}

// Broadcast delivers ev to every subscriber of its message. A slow
// subscriber loses its oldest queued snapshot, never the newest.
func (h *Hub) Broadcast(ev MessageEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[ev.MessageID] {
		for {
			select {
			case sub.ch <- ev:
			default:
				select {
				case <-sub.ch:
					h.logger.Debug("dropped stale snapshot", "message_id", ev.MessageID)
				default:
				}
				continue
			}
			break
		}
	}
}

// Subscribers returns the number of subscribers for a message.
func (h *Hub) Subscribers(messageID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[messageID])
}
