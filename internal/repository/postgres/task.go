package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"parley/internal/domain"
	"parley/internal/domain/models"
	"parley/internal/domain/repositories"
)

// PostgresTaskRepository implements repositories.TaskStore
type PostgresTaskRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewTaskRepository creates a new PostgresTaskRepository
func NewTaskRepository(config *RepositoryConfig) repositories.TaskStore {
	return &PostgresTaskRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

const taskColumns = `id, type, payload, status, priority, retry_count, scheduled_for,
	created_at, completed_at, failed_at, error`

// Enqueue inserts a pending task
func (r *PostgresTaskRepository) Enqueue(ctx context.Context, taskType models.TaskType, payload json.RawMessage, opts repositories.EnqueueOptions) (string, error) {
	id := uuid.NewString()
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	scheduledFor := time.Now()
	if opts.ScheduledFor != nil {
		scheduledFor = *opts.ScheduledFor
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, type, payload, status, priority, retry_count, scheduled_for, created_at)
		VALUES ($1, $2, $3::jsonb, 'pending', $4, 0, $5, now())
	`, r.tables.Tasks)

	executor := GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, query, id, string(taskType), string(payload), opts.Priority, scheduledFor); err != nil {
		return "", fmt.Errorf("enqueue task: %w", err)
	}
	return id, nil
}

// GetTask retrieves a task by id
func (r *PostgresTaskRepository) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, taskColumns, r.tables.Tasks)

	executor := GetExecutor(ctx, r.pool)
	task, err := scanTask(executor.QueryRow(ctx, query, taskID))
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, &domain.NotFoundError{Message: fmt.Sprintf("task not found: %s", taskID)}
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// ClaimPending selects and leases eligible tasks in one statement.
// SKIP LOCKED keeps concurrent sweepers from claiming the same row.
func (r *PostgresTaskRepository) ClaimPending(ctx context.Context, now time.Time, limit int, leaseUntil time.Time) ([]models.Task, error) {
	query := fmt.Sprintf(`
		WITH claimed AS (
			SELECT id FROM %[1]s
			WHERE status = 'pending'
				AND scheduled_for <= $1
				AND retry_count < $2
				AND (lease_until IS NULL OR lease_until <= $1)
			ORDER BY created_at DESC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE %[1]s t SET lease_until = $4
		FROM claimed
		WHERE t.id = claimed.id
		RETURNING t.id, t.type, t.payload, t.status, t.priority, t.retry_count, t.scheduled_for,
			t.created_at, t.completed_at, t.failed_at, t.error
	`, r.tables.Tasks)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, now, models.MaxTaskRetries, limit, leaseUntil)
	if err != nil {
		return nil, fmt.Errorf("claim pending tasks: %w", err)
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	// RETURNING does not preserve the CTE order
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// ExtendLease renews the lease of a task that is still claimed
func (r *PostgresTaskRepository) ExtendLease(ctx context.Context, taskID string, until time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET lease_until = $2
		WHERE id = $1 AND status = 'pending' AND lease_until IS NOT NULL
	`, r.tables.Tasks)
	executor := GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, query, taskID, until); err != nil {
		return fmt.Errorf("extend task lease: %w", err)
	}
	return nil
}

// MarkCompleted moves a pending task to completed
func (r *PostgresTaskRepository) MarkCompleted(ctx context.Context, taskID string, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET status = 'completed', completed_at = $2, lease_until = NULL, error = NULL
		WHERE id = $1 AND status = 'pending'
	`, r.tables.Tasks)
	return r.execTransition(ctx, "complete", query, taskID, at)
}

// MarkRetrying records a failed attempt and reschedules. scheduled_for never moves backwards.
func (r *PostgresTaskRepository) MarkRetrying(ctx context.Context, taskID string, retryCount int, scheduledFor time.Time, errMsg string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET retry_count = $2, scheduled_for = GREATEST(scheduled_for, $3), error = $4, lease_until = NULL
		WHERE id = $1 AND status = 'pending'
	`, r.tables.Tasks)
	return r.execTransition(ctx, "retry", query, taskID, retryCount, scheduledFor, errMsg)
}

// MarkFailed moves a pending task to its terminal failed state
func (r *PostgresTaskRepository) MarkFailed(ctx context.Context, taskID string, retryCount int, at time.Time, errMsg string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET status = 'failed', retry_count = $2, failed_at = $3, error = $4, lease_until = NULL
		WHERE id = $1 AND status = 'pending'
	`, r.tables.Tasks)
	return r.execTransition(ctx, "fail", query, taskID, retryCount, at, errMsg)
}

// PurgeTerminal deletes completed/failed tasks created before cutoff
func (r *PostgresTaskRepository) PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s WHERE status IN ('completed', 'failed') AND created_at < $1
	`, r.tables.Tasks)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge tasks: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *PostgresTaskRepository) execTransition(ctx context.Context, op, query, taskID string, args ...interface{}) error {
	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, append([]interface{}{taskID}, args...)...)
	if err != nil {
		return fmt.Errorf("%s task: %w", op, err)
	}
	if result.RowsAffected() == 0 {
		// Either gone or already terminal
		return &domain.ConflictError{
			Message:      fmt.Sprintf("task %s is not pending", taskID),
			ResourceType: "task",
			ResourceID:   taskID,
		}
	}
	return nil
}

func scanTask(row scanner) (*models.Task, error) {
	var (
		task     models.Task
		taskType string
		status   string
		payload  []byte
	)
	err := row.Scan(
		&task.ID, &taskType, &payload, &status, &task.Priority, &task.RetryCount, &task.ScheduledFor,
		&task.CreatedAt, &task.CompletedAt, &task.FailedAt, &task.Error,
	)
	if err != nil {
		return nil, err
	}
	task.Type = models.TaskType(taskType)
	task.Status = models.TaskStatus(status)
	task.Payload = json.RawMessage(payload)
	return &task, nil
}
