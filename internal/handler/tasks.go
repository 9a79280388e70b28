package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"parley/internal/domain/models"
	"parley/internal/domain/repositories"
	"parley/internal/httputil"
)

// TaskHandler enqueues and inspects background tasks
type TaskHandler struct {
	tasks  TaskEnqueuer
	store  taskReader
	logger *slog.Logger
}

type taskReader interface {
	GetTask(ctx context.Context, taskID string) (*models.Task, error)
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(tasks TaskEnqueuer, store repositories.TaskStore, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, store: store, logger: logger}
}

// EnqueueTaskRequest is the body of POST /api/tasks
type EnqueueTaskRequest struct {
	Type         models.TaskType `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	Priority     int             `json:"priority"`
	ScheduledFor *time.Time      `json:"scheduledFor,omitempty"`
}

// Validate checks the request shape
func (r EnqueueTaskRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Type, validation.Required, validation.By(func(value interface{}) error {
			if t, _ := value.(models.TaskType); !t.Valid() {
				return validation.NewError("validation_task_type", "unknown task type")
			}
			return nil
		})),
		validation.Field(&r.Payload, validation.Required),
		validation.Field(&r.Priority, validation.Min(0), validation.Max(100)),
	)
}

// EnqueueTask queues a task
// POST /api/tasks
func (h *TaskHandler) EnqueueTask(w http.ResponseWriter, r *http.Request) {
	var req EnqueueTaskRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	taskID, err := h.tasks.Enqueue(r.Context(), req.Type, req.Payload, repositories.EnqueueOptions{
		Priority:     req.Priority,
		ScheduledFor: req.ScheduledFor,
	})
	if err != nil {
		httputil.RespondDomainError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, map[string]string{"taskId": taskID})
}

// GetTask returns a task's current state
// GET /api/tasks/{id}
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := PathParam(w, r, "id", "Task ID")
	if !ok {
		return
	}
	task, err := h.store.GetTask(r.Context(), taskID)
	if err != nil {
		httputil.RespondDomainError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, task)
}
