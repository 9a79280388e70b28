package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/domain"
	"parley/internal/domain/models"
	"parley/internal/domain/repositories"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func recvEvent(t *testing.T, ch <-chan MessageEvent) MessageEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message event")
	}
	return MessageEvent{}
}

func snapshot(id, content string, complete bool) MessageEvent {
	return MessageEvent{MessageID: id, Message: &models.Message{ID: id, Content: content, IsComplete: complete}}
}

func TestHub_RoutesByMessage(t *testing.T) {
	hub := NewHub(testLogger())
	a, unsubA := hub.Subscribe("m1")
	b, unsubB := hub.Subscribe("m2")
	defer unsubB()

	hub.Broadcast(snapshot("m1", "one", false))
	hub.Broadcast(snapshot("m2", "two", true))

	assert.Equal(t, "one", recvEvent(t, a).Message.Content)
	got := recvEvent(t, b)
	assert.Equal(t, "two", got.Message.Content)
	assert.True(t, got.Final())

	unsubA()
	unsubA()
	_, ok := <-a
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Subscribers("m1"))
	assert.Equal(t, 1, hub.Subscribers("m2"))
}

func TestHub_SlowSubscriberKeepsNewest(t *testing.T) {
	hub := NewHub(testLogger())
	ch, unsub := hub.Subscribe("m1")
	defer unsub()

	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Broadcast(snapshot("m1", "partial", false))
	}
	hub.Broadcast(snapshot("m1", "done", true))

	var last MessageEvent
	for i := 0; i < subscriberBuffer; i++ {
		last = recvEvent(t, ch)
	}
	assert.Equal(t, "done", last.Message.Content)
	select {
	case <-ch:
		t.Fatalf("buffer should be drained")
	default:
	}
}

func TestLocalBus_DeliversToHub(t *testing.T) {
	hub := NewHub(testLogger())
	bus := NewLocalBus(hub)
	ch, unsub := hub.Subscribe("m1")
	defer unsub()

	require.NoError(t, bus.StartForwarder(context.Background(), hub.Broadcast))
	require.NoError(t, bus.Publish(context.Background(), snapshot("m1", "hi", false)))
	assert.Equal(t, "hi", recvEvent(t, ch).Message.Content)
}

// messageStub stores one message and records MarkCancelled.
type messageStub struct {
	repositories.MessageStore
	mu  sync.Mutex
	msg models.Message
	err error
}

func (s *messageStub) UpdateMessage(_ context.Context, _ string, u models.MessageUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msg.Apply(u)
	return nil
}

func (s *messageStub) GetMessage(context.Context, string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.msg
	return &cp, nil
}

func (s *messageStub) MarkCancelled(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msg.IsCancelled = true
	return nil
}

type failingBus struct{ LocalBus }

func (failingBus) Publish(context.Context, MessageEvent) error { return errors.New("bus down") }

func TestNotifyingStore_PublishesAfterWrite(t *testing.T) {
	hub := NewHub(testLogger())
	stub := &messageStub{msg: models.Message{ID: "m1"}}
	store := NewNotifyingStore(stub, NewLocalBus(hub), testLogger())
	ch, unsub := hub.Subscribe("m1")
	defer unsub()

	content := "Hello"
	require.NoError(t, store.UpdateMessage(context.Background(), "m1", models.MessageUpdate{Content: &content}))
	assert.Equal(t, "Hello", recvEvent(t, ch).Message.Content)

	require.NoError(t, store.MarkCancelled(context.Background(), "m1"))
	assert.True(t, recvEvent(t, ch).Message.IsCancelled)

	stub.err = &domain.NotFoundError{Message: "message not found"}
	err := store.UpdateMessage(context.Background(), "m1", models.MessageUpdate{Content: &content})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	select {
	case <-ch:
		t.Fatalf("failed writes must not publish")
	default:
	}
}

func TestNotifyingStore_PublishFailureDoesNotFailWrite(t *testing.T) {
	stub := &messageStub{msg: models.Message{ID: "m1"}}
	store := NewNotifyingStore(stub, &failingBus{}, testLogger())
	content := "x"
	assert.NoError(t, store.UpdateMessage(context.Background(), "m1", models.MessageUpdate{Content: &content}))
}

func TestRedisBus_RoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus, err := NewRedisBus(ctx, addr, "parley-test:", testLogger())
	require.NoError(t, err)
	defer bus.Close()

	hub := NewHub(testLogger())
	ch, unsub := hub.Subscribe("m1")
	defer unsub()
	require.NoError(t, bus.StartForwarder(ctx, hub.Broadcast))

	require.NoError(t, bus.Publish(ctx, snapshot("m1", "over redis", true)))
	got := recvEvent(t, ch)
	assert.Equal(t, "over redis", got.Message.Content)
	assert.True(t, got.Final())
}
