package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"parley/internal/domain"
	"parley/internal/domain/models"
	"parley/internal/domain/repositories"
	llmSvc "parley/internal/domain/services/llm"
	"parley/internal/httputil"
)

// TaskEnqueuer queues deferred work.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, taskType models.TaskType, payload interface{}, opts repositories.EnqueueOptions) (string, error)
}

// GenerationHandler exposes generation start, status and cancel.
type GenerationHandler struct {
	generation   llmSvc.GenerationService
	messages     repositories.MessageReader
	placeholders placeholderCreator
	tasks        TaskEnqueuer
	logger       *slog.Logger
}

type placeholderCreator interface {
	CreatePlaceholder(ctx context.Context, chatID, role string, modelID *string) (string, error)
}

// NewGenerationHandler creates a new generation handler
func NewGenerationHandler(
	generation llmSvc.GenerationService,
	messages repositories.MessageStore,
	tasks TaskEnqueuer,
	logger *slog.Logger,
) *GenerationHandler {
	return &GenerationHandler{
		generation:   generation,
		messages:     messages,
		placeholders: messages,
		tasks:        tasks,
		logger:       logger,
	}
}

// GenerateResponse is the body returned when a generation is accepted
type GenerateResponse struct {
	MessageID string `json:"messageId"`
	TaskID    string `json:"taskId,omitempty"`
	Deferred  bool   `json:"deferred"`
}

// Generate starts an assistant response
// POST /api/chats/{id}/generate[?defer=true]
func (h *GenerationHandler) Generate(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	var req llmSvc.GenerateRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.ChatID = chatID
	req.UserID = httputil.GetUserID(r)

	if httputil.QueryBool(r, "defer", false) {
		h.deferGeneration(w, r, &req)
		return
	}

	messageID, err := h.generation.Start(r.Context(), &req)
	if err != nil {
		h.respondStartError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusAccepted, GenerateResponse{MessageID: messageID})
}

// deferGeneration creates the placeholder now and hands the run to the task queue.
func (h *GenerationHandler) deferGeneration(w http.ResponseWriter, r *http.Request, req *llmSvc.GenerateRequest) {
	// A request the task could never run must not leave a placeholder behind
	if err := h.generation.Validate(req); err != nil {
		h.respondStartError(w, err)
		return
	}

	modelID := req.ModelID
	messageID, err := h.placeholders.CreatePlaceholder(r.Context(), req.ChatID, models.RoleAssistant, &modelID)
	if err != nil {
		httputil.RespondDomainError(w, err)
		return
	}

	taskID, err := h.tasks.Enqueue(r.Context(), models.TaskGenerateResponse, models.GenerateResponsePayload{
		MessageID:       messageID,
		ChatID:          req.ChatID,
		ModelID:         req.ModelID,
		UserID:          req.UserID,
		System:          req.System,
		History:         req.History,
		WebSearch:       req.WebSearch,
		ImageGeneration: req.ImageGeneration,
	}, repositories.EnqueueOptions{Priority: 1})
	if err != nil {
		h.logger.Error("failed to enqueue deferred generation", "message_id", messageID, "error", err)
		httputil.RespondDomainError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusAccepted, GenerateResponse{MessageID: messageID, TaskID: taskID, Deferred: true})
}

func (h *GenerationHandler) respondStartError(w http.ResponseWriter, err error) {
	var resErr *domain.ResolutionError
	if errors.As(err, &resErr) {
		httputil.RespondErrorWithExtras(w, http.StatusBadRequest, err.Error(), map[string]interface{}{
			"modelId": resErr.ModelID,
		})
		return
	}
	httputil.RespondDomainError(w, err)
}

// GetMessage returns the current snapshot of a message
// GET /api/messages/{id}
func (h *GenerationHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	messageID, ok := PathParam(w, r, "id", "Message ID")
	if !ok {
		return
	}

	msg, err := h.messages.GetMessage(r.Context(), messageID)
	if err != nil {
		httputil.RespondDomainError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, msg)
}

// CancelMessage requests cancellation of an in-flight generation
// POST /api/messages/{id}/cancel
func (h *GenerationHandler) CancelMessage(w http.ResponseWriter, r *http.Request) {
	messageID, ok := PathParam(w, r, "id", "Message ID")
	if !ok {
		return
	}

	if err := h.generation.Cancel(r.Context(), messageID); err != nil {
		httputil.RespondDomainError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"messageId": messageID,
		"status":    "cancelled",
	})
}
