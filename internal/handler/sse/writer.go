package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// Writer serializes SSE frames onto one response. Keep-alive pings run on
// their own goroutine, so every write takes the mutex.
type Writer struct {
	mu        sync.Mutex
	w         http.ResponseWriter
	flusher   http.Flusher
	messageID string
}

// NewWriter returns nil when w cannot flush
func NewWriter(w http.ResponseWriter, messageID string) *Writer {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}
	return &Writer{w: w, flusher: flusher, messageID: messageID}
}

// SetHeaders writes the event-stream headers and the 200 status.
func (s *Writer) SetHeaders() {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
}

// WriteEvent writes one named event with a JSON payload.
func (s *Writer) WriteEvent(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("write %s event for %s: %w", event, s.messageID, err)
	}
	s.flusher.Flush()
	return nil
}

// WriteKeepAlive writes an SSE comment line, which clients ignore.
func (s *Writer) WriteKeepAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, ": keepalive\n\n"); err != nil {
		return fmt.Errorf("write keepalive failed: %w", err)
	}
	s.flusher.Flush()
	return nil
}
