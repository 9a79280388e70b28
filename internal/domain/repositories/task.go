package repositories

import (
	"context"
	"encoding/json"
	"time"

	"parley/internal/domain/models"
)

// EnqueueOptions carries the optional enqueue parameters.
type EnqueueOptions struct {
	Priority     int
	ScheduledFor *time.Time
}

// TaskStore is the task table surface. Claiming and state transitions are
// atomic per task so concurrent sweepers never double-process.
type TaskStore interface {
	Enqueue(ctx context.Context, taskType models.TaskType, payload json.RawMessage, opts EnqueueOptions) (string, error)
	GetTask(ctx context.Context, taskID string) (*models.Task, error)

	// ClaimPending returns up to limit pending tasks with scheduledFor <= now and
	// retryCount < MaxTaskRetries, newest first. Claimed tasks are leased until
	// leaseUntil so other sweepers skip them.
	ClaimPending(ctx context.Context, now time.Time, limit int, leaseUntil time.Time) ([]models.Task, error)

	// ExtendLease pushes a claimed task's lease to until. A no-op once the
	// task has left the pending state.
	ExtendLease(ctx context.Context, taskID string, until time.Time) error

	MarkCompleted(ctx context.Context, taskID string, at time.Time) error
	MarkRetrying(ctx context.Context, taskID string, retryCount int, scheduledFor time.Time, errMsg string) error
	MarkFailed(ctx context.Context, taskID string, retryCount int, at time.Time, errMsg string) error

	// PurgeTerminal deletes completed/failed tasks created before cutoff.
	PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error)
}

// ChatTitleWriter stores titles produced by generate_title tasks.
type ChatTitleWriter interface {
	SetChatTitle(ctx context.Context, chatID, title string) error
}
