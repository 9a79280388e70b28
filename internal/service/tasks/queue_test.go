package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/domain"
	"parley/internal/domain/models"
	"parley/internal/domain/repositories"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestQueue_RetryBackoffThenFailed(t *testing.T) {
	clock := &manualClock{t: epoch}
	q, store := newTestQueue(clock)
	ctx := context.Background()

	var attempts int
	q.Register(models.TaskGenerateTitle, HandlerFunc(func(context.Context, *models.Task) error {
		attempts++
		return errors.New("upstream unavailable")
	}))

	id, err := q.Enqueue(ctx, models.TaskGenerateTitle, models.GenerateTitlePayload{ChatID: "c1", Text: "hi"}, repositories.EnqueueOptions{})
	require.NoError(t, err)

	for retry := 1; retry < models.MaxTaskRetries; retry++ {
		clock.Advance(time.Second)
		n, err := q.Sweep(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		task := store.get(id)
		assert.Equal(t, models.TaskStatusPending, task.Status)
		assert.Equal(t, retry, task.RetryCount)
		assert.Equal(t, clock.Now().Add(time.Duration(1<<retry)*time.Minute), task.ScheduledFor)
		require.NotNil(t, task.Error)
		assert.Equal(t, "upstream unavailable", *task.Error)

		// Not due yet
		n, err = q.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		clock.Advance(time.Duration(1<<retry) * time.Minute)
	}

	n, err := q.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	task := store.get(id)
	assert.Equal(t, models.TaskStatusFailed, task.Status)
	assert.Equal(t, models.MaxTaskRetries, task.RetryCount)
	require.NotNil(t, task.FailedAt)
	assert.Equal(t, models.MaxTaskRetries, attempts)

	// Terminal tasks are never claimed again
	clock.Advance(time.Hour)
	n, err = q.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestQueue_SweepBatchNewestFirst(t *testing.T) {
	clock := &manualClock{t: epoch}
	q, store := newTestQueue(clock)
	ctx := context.Background()

	var mu sync.Mutex
	var handled []string
	q.Register(models.TaskProcessThinking, HandlerFunc(func(_ context.Context, task *models.Task) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, task.ID)
		return nil
	}))

	ids := make([]string, 12)
	for i := range ids {
		id, err := q.Enqueue(ctx, models.TaskProcessThinking, models.MessageTaskPayload{MessageID: "m"}, repositories.EnqueueOptions{})
		require.NoError(t, err)
		ids[i] = id
	}
	future := epoch.Add(time.Hour)
	later, err := q.Enqueue(ctx, models.TaskProcessThinking, models.MessageTaskPayload{MessageID: "m"}, repositories.EnqueueOptions{ScheduledFor: &future})
	require.NoError(t, err)

	clock.Advance(time.Second)
	n, err := q.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.ElementsMatch(t, ids[2:], handled)

	// Oldest two remain for the next sweep
	assert.Equal(t, models.TaskStatusPending, store.get(ids[0]).Status)
	assert.Equal(t, models.TaskStatusPending, store.get(ids[1]).Status)
	assert.Equal(t, models.TaskStatusPending, store.get(later).Status)

	n, err = q.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, models.TaskStatusCompleted, store.get(ids[0]).Status)
}

func TestQueue_PanicAndMissingHandlerCountAsFailures(t *testing.T) {
	clock := &manualClock{t: epoch}
	q, store := newTestQueue(clock)
	ctx := context.Background()

	q.Register(models.TaskOptimizeMessage, HandlerFunc(func(context.Context, *models.Task) error {
		panic("boom")
	}))

	panicked, err := q.Enqueue(ctx, models.TaskOptimizeMessage, models.MessageTaskPayload{MessageID: "m"}, repositories.EnqueueOptions{})
	require.NoError(t, err)
	orphan, err := q.Enqueue(ctx, models.TaskGenerateResponse, models.GenerateResponsePayload{MessageID: "m"}, repositories.EnqueueOptions{})
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = q.Sweep(ctx)
	require.NoError(t, err)

	p := store.get(panicked)
	assert.Equal(t, 1, p.RetryCount)
	require.NotNil(t, p.Error)
	assert.Contains(t, *p.Error, "handler panic: boom")

	o := store.get(orphan)
	assert.Equal(t, 1, o.RetryCount)
	require.NotNil(t, o.Error)
	assert.Contains(t, *o.Error, "no handler registered")
}

func TestQueue_FailedGenerationFinalizesMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		attempts int
	}{
		{name: "transient error exhausts retries", err: errors.New("store unavailable"), attempts: models.MaxTaskRetries},
		{name: "unknown model fails at once", err: &domain.ResolutionError{ModelID: "removed-model"}, attempts: 1},
		{name: "invalid request fails at once", err: &domain.ValidationError{Message: "history is empty"}, attempts: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &manualClock{t: epoch}
			q, store := newTestQueue(clock)
			ctx := context.Background()

			gen := &recordingGeneration{err: tt.err}
			q.Register(models.TaskGenerateResponse, &GenerateResponseHandler{generation: gen, logger: q.logger})

			id, err := q.Enqueue(ctx, models.TaskGenerateResponse, models.GenerateResponsePayload{MessageID: "m1", ModelID: "removed-model"}, repositories.EnqueueOptions{})
			require.NoError(t, err)

			for i := 0; i < models.MaxTaskRetries; i++ {
				clock.Advance(time.Hour)
				_, err := q.Sweep(ctx)
				require.NoError(t, err)
				if i < tt.attempts-1 {
					assert.Empty(t, gen.abandoned, "abandoned before the last attempt")
				}
			}

			task := store.get(id)
			assert.Equal(t, models.TaskStatusFailed, task.Status)
			assert.Equal(t, tt.attempts, task.RetryCount)
			assert.Equal(t, tt.attempts, gen.runs)
			assert.Equal(t, []string{"m1"}, gen.abandoned)
			assert.ErrorIs(t, gen.abandonCause, tt.err)
		})
	}
}

func TestQueue_LeaseRenewedWhileHandlerRuns(t *testing.T) {
	clock := &manualClock{t: epoch}
	q, store := newTestQueue(clock)
	q.heartbeat = time.Millisecond
	ctx := context.Background()

	var runs int32
	started := make(chan struct{})
	release := make(chan struct{})
	q.Register(models.TaskGenerateTitle, HandlerFunc(func(context.Context, *models.Task) error {
		if atomic.AddInt32(&runs, 1) == 1 {
			close(started)
		}
		<-release
		return nil
	}))

	id, err := q.Enqueue(ctx, models.TaskGenerateTitle, models.GenerateTitlePayload{ChatID: "c1", Text: "hi"}, repositories.EnqueueOptions{})
	require.NoError(t, err)
	clock.Advance(time.Second)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = q.Sweep(ctx)
	}()
	<-started

	// Run past the original lease; the renewal after that reads the new time
	clock.Advance(q.lease + time.Minute)
	seen := store.extensions()
	require.Eventually(t, func() bool { return store.extensions() > seen+1 }, time.Second, time.Millisecond)

	n, err := q.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "a running task was claimed twice")

	close(release)
	<-done
	assert.Equal(t, models.TaskStatusCompleted, store.get(id).Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))

	// Renewals stop with the handler
	after := store.extensions()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, after, store.extensions())
}

func TestQueue_EnqueueRejectsUnknownType(t *testing.T) {
	q, _ := newTestQueue(&manualClock{t: epoch})
	_, err := q.Enqueue(context.Background(), models.TaskType("reindex"), nil, repositories.EnqueueOptions{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestQueue_PurgeRemovesOldTerminalTasks(t *testing.T) {
	clock := &manualClock{t: epoch}
	q, store := newTestQueue(clock)
	ctx := context.Background()
	q.Register(models.TaskGenerateTitle, HandlerFunc(func(context.Context, *models.Task) error { return nil }))

	done, err := q.Enqueue(ctx, models.TaskGenerateTitle, models.GenerateTitlePayload{ChatID: "c", Text: "t"}, repositories.EnqueueOptions{})
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = q.Sweep(ctx)
	require.NoError(t, err)

	future := clock.Now().Add(30 * 24 * time.Hour)
	waiting, err := q.Enqueue(ctx, models.TaskGenerateTitle, models.GenerateTitlePayload{ChatID: "c", Text: "t"}, repositories.EnqueueOptions{ScheduledFor: &future})
	require.NoError(t, err)

	clock.Advance(6 * 24 * time.Hour)
	n, err := q.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	clock.Advance(2 * 24 * time.Hour)
	n, err = q.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.GetTask(ctx, done)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.GetTask(ctx, waiting)
	assert.NoError(t, err)
}
