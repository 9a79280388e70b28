package handler

import (
	"log/slog"
	"net/http"

	"parley/internal/domain/repositories"
	"parley/internal/handler/sse"
	"parley/internal/httputil"
	"parley/internal/realtime"
)

// Subscriber hands out live snapshot subscriptions per message.
type Subscriber interface {
	Subscribe(messageID string) (<-chan realtime.MessageEvent, func())
}

// StreamHandler pushes message snapshots to clients over SSE
type StreamHandler struct {
	messages repositories.MessageReader
	hub      Subscriber
	config   *sse.Config
	logger   *slog.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(messages repositories.MessageReader, hub Subscriber, config *sse.Config, logger *slog.Logger) *StreamHandler {
	if config == nil {
		config = sse.DefaultConfig()
	}
	return &StreamHandler{messages: messages, hub: hub, config: config, logger: logger}
}

// StreamMessage streams snapshots until the message is complete or the
// client disconnects.
// GET /api/messages/{id}/stream
func (h *StreamHandler) StreamMessage(w http.ResponseWriter, r *http.Request) {
	messageID, ok := PathParam(w, r, "id", "Message ID")
	if !ok {
		return
	}

	// Subscribe before reading so no write lands between the read and the subscription
	events, unsubscribe := h.hub.Subscribe(messageID)
	defer unsubscribe()

	msg, err := h.messages.GetMessage(r.Context(), messageID)
	if err != nil {
		httputil.RespondDomainError(w, err)
		return
	}

	writer := sse.NewWriter(w, messageID)
	if writer == nil {
		httputil.RespondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	writer.SetHeaders()

	logger := h.logger.With("message_id", messageID)
	logger.Debug("SSE stream established")

	if err := writer.WriteEvent("message", msg); err != nil {
		logger.Info("client disconnected during initial snapshot", "error", err)
		return
	}
	if msg.IsComplete {
		return
	}

	keepAlive := sse.NewTickerKeepAlive(h.config.KeepAliveInterval)
	dead := keepAlive.Start(writer, logger)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Debug("client disconnected")
			return
		case <-dead:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writer.WriteEvent("message", ev.Message); err != nil {
				logger.Info("client disconnected during event write", "error", err)
				return
			}
			if ev.Final() {
				logger.Debug("message complete, ending stream")
				return
			}
		}
	}
}
