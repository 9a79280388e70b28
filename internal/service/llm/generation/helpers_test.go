package generation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"parley/internal/domain"
	"parley/internal/domain/models"
	llmSvc "parley/internal/domain/services/llm"
)

// memStore is an in-memory MessageStore that records every write.
type memStore struct {
	mu       sync.Mutex
	messages map[string]*models.Message
	writes   []models.MessageUpdate
	nextID   int
}

func newMemStore() *memStore {
	return &memStore{messages: map[string]*models.Message{}}
}

func (s *memStore) seed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[id] = &models.Message{ID: id, Role: models.RoleAssistant, ToolCalls: []models.ToolCall{}}
}

func (s *memStore) UpdateMessage(_ context.Context, id string, u models.MessageUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return &domain.NotFoundError{Message: "message not found"}
	}
	msg.Apply(u)
	s.writes = append(s.writes, u)
	return nil
}

func (s *memStore) GetMessage(_ context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, &domain.NotFoundError{Message: "message not found"}
	}
	cp := *msg
	cp.ToolCalls = append([]models.ToolCall(nil), msg.ToolCalls...)
	return &cp, nil
}

func (s *memStore) CreatePlaceholder(_ context.Context, chatID, role string, modelID *string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("msg-%d", s.nextID)
	s.messages[id] = &models.Message{ID: id, ChatID: chatID, Role: role, ModelID: modelID, ToolCalls: []models.ToolCall{}}
	return id, nil
}

func (s *memStore) CreateMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *msg
	s.messages[msg.ID] = &cp
	return nil
}

func (s *memStore) ListByChat(_ context.Context, chatID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *memStore) MarkCancelled(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return &domain.NotFoundError{Message: "message not found"}
	}
	msg.IsCancelled = true
	return nil
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func (s *memStore) get(id string) models.Message {
	msg, err := s.GetMessage(context.Background(), id)
	if err != nil {
		panic(err)
	}
	return *msg
}

// eventsOf returns a closed channel holding events.
func eventsOf(events ...llmSvc.StreamEvent) <-chan llmSvc.StreamEvent {
	ch := make(chan llmSvc.StreamEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func textDelta(s string) llmSvc.StreamEvent {
	return llmSvc.StreamEvent{Type: llmSvc.EventTextDelta, Text: s}
}

func reasoning(s string) llmSvc.StreamEvent {
	return llmSvc.StreamEvent{Type: llmSvc.EventReasoning, Text: s}
}

func finish() llmSvc.StreamEvent {
	return llmSvc.StreamEvent{Type: llmSvc.EventFinish, FinishReason: "stop"}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stepClock returns successive times from a list, repeating the last one.
func stepClock(times ...time.Time) func() time.Time {
	var mu sync.Mutex
	i := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := times[i]
		if i < len(times)-1 {
			i++
		}
		return t
	}
}

// scriptedProvider replays one event script per OpenStream call.
type scriptedProvider struct {
	mu       sync.Mutex
	kind     llmSvc.ProviderKind
	rounds   [][]llmSvc.StreamEvent
	requests []llmSvc.StreamRequest
	openErr  error
}

func (p *scriptedProvider) Kind() llmSvc.ProviderKind { return p.kind }

func (p *scriptedProvider) OpenStream(_ context.Context, req *llmSvc.StreamRequest) (<-chan llmSvc.StreamEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openErr != nil {
		return nil, p.openErr
	}
	cp := *req
	cp.Continuations = append([]llmSvc.Continuation(nil), req.Continuations...)
	p.requests = append(p.requests, cp)

	idx := len(p.requests) - 1
	if idx >= len(p.rounds) {
		return eventsOf(finish()), nil
	}
	return eventsOf(p.rounds[idx]...), nil
}
