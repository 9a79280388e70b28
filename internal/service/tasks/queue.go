package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"parley/internal/config"
	"parley/internal/domain"
	"parley/internal/domain/models"
	"parley/internal/domain/repositories"
)

// Handler processes one task. A returned error schedules a retry until the
// retry cap is reached; validation and resolution errors fail at once.
type Handler interface {
	Handle(ctx context.Context, task *models.Task) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task *models.Task) error

func (f HandlerFunc) Handle(ctx context.Context, task *models.Task) error { return f(ctx, task) }

// FailureHandler is implemented by handlers that must clean up after a task
// fails for the last time.
type FailureHandler interface {
	HandleFailure(ctx context.Context, task *models.Task, cause error)
}

// Queue is the background task queue: enqueue, sweep and retention.
type Queue struct {
	store       repositories.TaskStore
	handlers    map[models.TaskType]Handler
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
	batchSize   int
	concurrency int
	lease       time.Duration
	heartbeat   time.Duration
	retention   time.Duration
}

// NewQueue creates a queue over store
func NewQueue(store repositories.TaskStore, logger *slog.Logger) *Queue {
	return &Queue{
		store:       store,
		handlers:    make(map[models.TaskType]Handler),
		logger:      logger.With("component", "task_queue"),
		tracer:      otel.Tracer("parley/tasks"),
		now:         time.Now,
		batchSize:   config.SweepBatchSize,
		concurrency: 4,
		lease:       config.TaskLease,
		heartbeat:   config.TaskLease / 3,
		retention:   config.TaskRetention,
	}
}

// Register binds a handler to a task type.
func (q *Queue) Register(taskType models.TaskType, h Handler) {
	q.handlers[taskType] = h
}

// Enqueue inserts a pending task. payload is JSON-encoded.
func (q *Queue) Enqueue(ctx context.Context, taskType models.TaskType, payload interface{}, opts repositories.EnqueueOptions) (string, error) {
	if !taskType.Valid() {
		return "", &domain.ValidationError{Message: fmt.Sprintf("unknown task type: %s", taskType)}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", &domain.ValidationError{Message: fmt.Sprintf("invalid payload: %v", err)}
	}

	id, err := q.store.Enqueue(ctx, taskType, raw, opts)
	if err != nil {
		return "", fmt.Errorf("enqueue task: %w", err)
	}
	q.logger.Info("task enqueued", "task_id", id, "task_type", taskType, "priority", opts.Priority)
	return id, nil
}

// Sweep claims up to one batch of due tasks and processes them. Returns the
// number of tasks processed.
func (q *Queue) Sweep(ctx context.Context) (int, error) {
	ctx, span := q.tracer.Start(ctx, "tasks.sweep")
	defer span.End()

	now := q.now()
	claimed, err := q.store.ClaimPending(ctx, now, q.batchSize, now.Add(q.lease))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("claim pending tasks: %w", err)
	}
	span.SetAttributes(attribute.Int("tasks.claimed", len(claimed)))
	if len(claimed) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.concurrency)
	for i := range claimed {
		task := &claimed[i]
		g.Go(func() error {
			// Per-task failures are recorded on the task, not returned
			q.process(gctx, task)
			return nil
		})
	}
	_ = g.Wait()

	return len(claimed), nil
}

// process runs one task and records its outcome.
func (q *Queue) process(ctx context.Context, task *models.Task) {
	logger := q.logger.With("task_id", task.ID, "task_type", task.Type, "retry_count", task.RetryCount)

	stopHeartbeat := q.keepLeased(ctx, task.ID, logger)
	runErr := q.dispatch(ctx, task)
	stopHeartbeat()
	at := q.now()

	// Outcome writes must land even when the sweep is shutting down
	writeCtx := context.WithoutCancel(ctx)

	if runErr == nil {
		if err := q.store.MarkCompleted(writeCtx, task.ID, at); err != nil {
			logger.Error("failed to mark task completed", "error", err)
			return
		}
		logger.Info("task completed")
		return
	}

	failure := &domain.BackgroundTaskFailure{
		TaskID:   task.ID,
		TaskType: string(task.Type),
		Attempt:  task.RetryCount + 1,
		Err:      runErr,
	}
	retryCount := task.RetryCount + 1
	if retryCount < models.MaxTaskRetries && !permanent(runErr) {
		scheduledFor := at.Add(models.RetryDelay(retryCount))
		if err := q.store.MarkRetrying(writeCtx, task.ID, retryCount, scheduledFor, runErr.Error()); err != nil {
			logger.Error("failed to reschedule task", "error", err)
			return
		}
		logger.Warn("task failed, retry scheduled", "error", failure, "scheduled_for", scheduledFor)
		return
	}

	if err := q.store.MarkFailed(writeCtx, task.ID, retryCount, at, runErr.Error()); err != nil {
		logger.Error("failed to mark task failed", "error", err)
		return
	}
	logger.Error("task failed permanently", "error", failure)

	if fh, ok := q.handlers[task.Type].(FailureHandler); ok {
		fh.HandleFailure(writeCtx, task, runErr)
	}
}

// permanent reports failures a retry cannot fix.
func permanent(err error) bool {
	var resolution *domain.ResolutionError
	return errors.Is(err, domain.ErrValidation) || errors.As(err, &resolution)
}

// keepLeased extends the task's lease every heartbeat until the returned stop
// func is called, so a long handler is never claimed by a second sweeper.
func (q *Queue) keepLeased(ctx context.Context, taskID string, logger *slog.Logger) (stop func()) {
	if q.heartbeat <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(q.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := q.store.ExtendLease(ctx, taskID, q.now().Add(q.lease)); err != nil && ctx.Err() == nil {
					logger.Warn("failed to extend task lease", "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (q *Queue) dispatch(ctx context.Context, task *models.Task) (err error) {
	h, ok := q.handlers[task.Type]
	if !ok {
		return fmt.Errorf("no handler registered for task type %s", task.Type)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	ctx, span := q.tracer.Start(ctx, "tasks.handle", trace.WithAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("task.type", string(task.Type)),
	))
	defer span.End()

	if err := h.Handle(ctx, task); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Purge deletes terminal tasks older than the retention window.
func (q *Queue) Purge(ctx context.Context) (int64, error) {
	cutoff := q.now().Add(-q.retention)
	n, err := q.store.PurgeTerminal(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge tasks: %w", err)
	}
	if n > 0 {
		q.logger.Info("purged terminal tasks", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// Run sweeps every sweepInterval and purges every retentionInterval until
// ctx is done.
func (q *Queue) Run(ctx context.Context, sweepInterval, retentionInterval time.Duration) {
	q.logger.Info("task queue started", "sweep_interval", sweepInterval, "retention_interval", retentionInterval)

	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()
	purge := time.NewTicker(retentionInterval)
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("task queue stopped")
			return
		case <-sweep.C:
			if _, err := q.Sweep(ctx); err != nil {
				q.logger.Warn("sweep failed", "error", err)
			}
		case <-purge.C:
			if _, err := q.Purge(ctx); err != nil {
				q.logger.Warn("retention sweep failed", "error", err)
			}
		}
	}
}
