package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"parley/internal/config"
	"parley/internal/domain"
	"parley/internal/domain/models"
	"parley/internal/domain/repositories"
	llmSvc "parley/internal/domain/services/llm"
)

// RegisterDefaults binds the built-in task types to their handlers.
func RegisterDefaults(q *Queue, generation llmSvc.GenerationService, messages repositories.MessageStore, titles repositories.ChatTitleWriter) {
	q.Register(models.TaskGenerateResponse, &GenerateResponseHandler{generation: generation, logger: q.logger})
	q.Register(models.TaskGenerateTitle, &GenerateTitleHandler{titles: titles})
	q.Register(models.TaskProcessThinking, &ProcessThinkingHandler{messages: messages})
	q.Register(models.TaskOptimizeMessage, &OptimizeMessageHandler{messages: messages})
}

func decodePayload(task *models.Task, dst interface{}) error {
	if err := json.Unmarshal(task.Payload, dst); err != nil {
		return &domain.ValidationError{Message: fmt.Sprintf("invalid %s payload: %v", task.Type, err)}
	}
	return nil
}

// GenerateResponseHandler drives a deferred generation synchronously. An
// errored generation still finalizes its message and counts as handled.
type GenerateResponseHandler struct {
	generation llmSvc.GenerationService
	logger     *slog.Logger
}

func (h *GenerateResponseHandler) Handle(ctx context.Context, task *models.Task) error {
	var p models.GenerateResponsePayload
	if err := decodePayload(task, &p); err != nil {
		return err
	}
	if p.MessageID == "" {
		return &domain.ValidationError{Message: "messageId is required"}
	}

	_, err := h.generation.Run(ctx, p.MessageID, &llmSvc.GenerateRequest{
		ChatID:          p.ChatID,
		UserID:          p.UserID,
		ModelID:         p.ModelID,
		System:          p.System,
		History:         p.History,
		WebSearch:       p.WebSearch,
		ImageGeneration: p.ImageGeneration,
	})
	return err
}

// HandleFailure finalizes the placeholder of a task that will not be retried,
// so the client never waits on a message that stays incomplete.
func (h *GenerateResponseHandler) HandleFailure(ctx context.Context, task *models.Task, cause error) {
	var p models.GenerateResponsePayload
	if err := json.Unmarshal(task.Payload, &p); err != nil || p.MessageID == "" {
		return
	}
	if err := h.generation.Abandon(ctx, p.MessageID, cause); err != nil && h.logger != nil {
		h.logger.Error("failed to finalize abandoned message", "task_id", task.ID, "message_id", p.MessageID, "error", err)
	}
}

// GenerateTitleHandler derives a chat title from the first user message.
type GenerateTitleHandler struct {
	titles repositories.ChatTitleWriter
}

func (h *GenerateTitleHandler) Handle(ctx context.Context, task *models.Task) error {
	var p models.GenerateTitlePayload
	if err := decodePayload(task, &p); err != nil {
		return err
	}
	if p.ChatID == "" {
		return &domain.ValidationError{Message: "chatId is required"}
	}
	title := Title(p.Text)
	if title == "" {
		return &domain.ValidationError{Message: "text is empty"}
	}
	return h.titles.SetChatTitle(ctx, p.ChatID, title)
}

// Title collapses whitespace and truncates to the chat title limit.
func Title(text string) string {
	title := strings.Join(strings.Fields(text), " ")
	runes := []rune(title)
	if len(runes) > config.MaxChatTitleLength {
		title = strings.TrimSpace(string(runes[:config.MaxChatTitleLength-1])) + "…"
	}
	return title
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// ProcessThinkingHandler normalizes the stored reasoning text of a message.
type ProcessThinkingHandler struct {
	messages repositories.MessageStore
}

func (h *ProcessThinkingHandler) Handle(ctx context.Context, task *models.Task) error {
	var p models.MessageTaskPayload
	if err := decodePayload(task, &p); err != nil {
		return err
	}
	msg, err := h.messages.GetMessage(ctx, p.MessageID)
	if err != nil {
		return err
	}
	if msg.Thinking == nil {
		return nil
	}

	cleaned := NormalizeText(*msg.Thinking)
	if cleaned == *msg.Thinking {
		return nil
	}
	return h.messages.UpdateMessage(ctx, p.MessageID, models.MessageUpdate{Thinking: &cleaned})
}

// OptimizeMessageHandler normalizes the content of a completed message.
type OptimizeMessageHandler struct {
	messages repositories.MessageStore
}

func (h *OptimizeMessageHandler) Handle(ctx context.Context, task *models.Task) error {
	var p models.MessageTaskPayload
	if err := decodePayload(task, &p); err != nil {
		return err
	}
	msg, err := h.messages.GetMessage(ctx, p.MessageID)
	if err != nil {
		return err
	}
	if !msg.IsComplete {
		return fmt.Errorf("message %s is still generating", p.MessageID)
	}

	cleaned := NormalizeText(msg.Content)
	if cleaned == msg.Content {
		return nil
	}
	return h.messages.UpdateMessage(ctx, p.MessageID, models.MessageUpdate{Content: &cleaned})
}

// NormalizeText trims trailing whitespace per line and collapses runs of
// blank lines to one.
func NormalizeText(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	out := blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(out)
}
