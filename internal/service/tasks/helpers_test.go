package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"parley/internal/domain"
	"parley/internal/domain/models"
	"parley/internal/domain/repositories"
)

// memTaskStore mirrors the postgres claim query in memory.
type memTaskStore struct {
	mu     sync.Mutex
	tasks  map[string]*models.Task
	leases map[string]time.Time
	nextID int
	// extended counts ExtendLease calls that renewed a live claim
	extended int
	now    func() time.Time
}

func newMemTaskStore(now func() time.Time) *memTaskStore {
	return &memTaskStore{tasks: map[string]*models.Task{}, leases: map[string]time.Time{}, now: now}
}

func (s *memTaskStore) Enqueue(_ context.Context, taskType models.TaskType, payload json.RawMessage, opts repositories.EnqueueOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("task-%d", s.nextID)
	created := s.now().Add(time.Duration(s.nextID) * time.Millisecond)
	scheduled := created
	if opts.ScheduledFor != nil {
		scheduled = *opts.ScheduledFor
	}
	s.tasks[id] = &models.Task{
		ID:           id,
		Type:         taskType,
		Payload:      payload,
		Status:       models.TaskStatusPending,
		Priority:     opts.Priority,
		ScheduledFor: scheduled,
		CreatedAt:    created,
	}
	return id, nil
}

func (s *memTaskStore) GetTask(_ context.Context, id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, &domain.NotFoundError{Message: "task not found"}
	}
	cp := *t
	return &cp, nil
}

func (s *memTaskStore) ClaimPending(_ context.Context, now time.Time, limit int, leaseUntil time.Time) ([]models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*models.Task
	for _, t := range s.tasks {
		if t.Status != models.TaskStatusPending || t.ScheduledFor.After(now) || t.RetryCount >= models.MaxTaskRetries {
			continue
		}
		if lease, ok := s.leases[t.ID]; ok && lease.After(now) {
			continue
		}
		due = append(due, t)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.After(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]models.Task, 0, len(due))
	for _, t := range due {
		s.leases[t.ID] = leaseUntil
		out = append(out, *t)
	}
	return out, nil
}

func (s *memTaskStore) ExtendLease(_ context.Context, id string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leases[id]; !ok || s.tasks[id].Status != models.TaskStatusPending {
		return nil
	}
	s.leases[id] = until
	s.extended++
	return nil
}

func (s *memTaskStore) extensions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extended
}

func (s *memTaskStore) MarkCompleted(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[id]
	t.Status = models.TaskStatusCompleted
	t.CompletedAt = &at
	delete(s.leases, id)
	return nil
}

func (s *memTaskStore) MarkRetrying(_ context.Context, id string, retryCount int, scheduledFor time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[id]
	t.RetryCount = retryCount
	t.ScheduledFor = scheduledFor
	t.Error = &errMsg
	delete(s.leases, id)
	return nil
}

func (s *memTaskStore) MarkFailed(_ context.Context, id string, retryCount int, at time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[id]
	t.Status = models.TaskStatusFailed
	t.RetryCount = retryCount
	t.FailedAt = &at
	t.Error = &errMsg
	delete(s.leases, id)
	return nil
}

func (s *memTaskStore) PurgeTerminal(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.tasks {
		if t.IsTerminal() && t.CreatedAt.Before(cutoff) {
			delete(s.tasks, id)
			n++
		}
	}
	return n, nil
}

func (s *memTaskStore) get(id string) models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.tasks[id]
}

// manualClock is a settable time source.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestQueue(clock *manualClock) (*Queue, *memTaskStore) {
	store := newMemTaskStore(clock.Now)
	q := NewQueue(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	q.now = clock.Now
	return q, store
}

// memMessages is the slice of MessageStore the message handlers touch.
type memMessages struct {
	mu       sync.Mutex
	messages map[string]*models.Message
}

func (m *memMessages) UpdateMessage(_ context.Context, id string, u models.MessageUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return &domain.NotFoundError{Message: "message not found"}
	}
	msg.Apply(u)
	return nil
}

func (m *memMessages) GetMessage(_ context.Context, id string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, &domain.NotFoundError{Message: "message not found"}
	}
	cp := *msg
	return &cp, nil
}

func (m *memMessages) CreatePlaceholder(context.Context, string, string, *string) (string, error) {
	return "", fmt.Errorf("not supported")
}

func (m *memMessages) CreateMessage(context.Context, *models.Message) error {
	return fmt.Errorf("not supported")
}

func (m *memMessages) ListByChat(context.Context, string) ([]models.Message, error) {
	return nil, nil
}

func (m *memMessages) MarkCancelled(context.Context, string) error { return nil }
