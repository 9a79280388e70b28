package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/domain"
	"parley/internal/domain/models"
	llmSvc "parley/internal/domain/services/llm"
)

type recordingGeneration struct {
	messageID string
	req       *llmSvc.GenerateRequest
	state     llmSvc.GenerationState
	err       error
	runs      int

	abandoned    []string
	abandonCause error
}

func (g *recordingGeneration) Start(context.Context, *llmSvc.GenerateRequest) (string, error) {
	return "", nil
}

func (g *recordingGeneration) Run(_ context.Context, messageID string, req *llmSvc.GenerateRequest) (llmSvc.GenerationState, error) {
	g.messageID = messageID
	g.req = req
	g.runs++
	return g.state, g.err
}

func (g *recordingGeneration) Cancel(context.Context, string) error { return nil }

func (g *recordingGeneration) Validate(*llmSvc.GenerateRequest) error { return nil }

func (g *recordingGeneration) Abandon(_ context.Context, messageID string, cause error) error {
	g.abandoned = append(g.abandoned, messageID)
	g.abandonCause = cause
	return nil
}

type recordingTitles struct {
	chatID, title string
}

func (r *recordingTitles) SetChatTitle(_ context.Context, chatID, title string) error {
	r.chatID, r.title = chatID, title
	return nil
}

func taskWith(t *testing.T, taskType models.TaskType, payload interface{}) *models.Task {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &models.Task{ID: "t1", Type: taskType, Payload: raw}
}

func TestGenerateResponseHandler(t *testing.T) {
	gen := &recordingGeneration{state: llmSvc.StateErrored}
	h := &GenerateResponseHandler{generation: gen}

	task := taskWith(t, models.TaskGenerateResponse, models.GenerateResponsePayload{
		MessageID: "m1",
		ChatID:    "c1",
		ModelID:   "claude-sonnet",
		UserID:    "u1",
		History:   []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}},
		WebSearch: true,
	})

	// An errored generation has already finalized its message
	require.NoError(t, h.Handle(context.Background(), task))
	assert.Equal(t, "m1", gen.messageID)
	assert.Equal(t, "claude-sonnet", gen.req.ModelID)
	assert.Equal(t, "u1", gen.req.UserID)
	assert.True(t, gen.req.WebSearch)

	gen.err = &domain.ResolutionError{ModelID: "claude-sonnet"}
	assert.Error(t, h.Handle(context.Background(), task))

	bad := &models.Task{Type: models.TaskGenerateResponse, Payload: json.RawMessage(`{"messageId":`)}
	assert.ErrorIs(t, h.Handle(context.Background(), bad), domain.ErrValidation)
}

func TestGenerateResponseHandler_HandleFailure(t *testing.T) {
	gen := &recordingGeneration{}
	h := &GenerateResponseHandler{generation: gen}
	cause := errors.New("store unavailable")

	h.HandleFailure(context.Background(), taskWith(t, models.TaskGenerateResponse, models.GenerateResponsePayload{MessageID: "m1"}), cause)
	assert.Equal(t, []string{"m1"}, gen.abandoned)
	assert.Equal(t, cause, gen.abandonCause)

	// Nothing to finalize without a message
	h.HandleFailure(context.Background(), taskWith(t, models.TaskGenerateResponse, models.GenerateResponsePayload{}), cause)
	h.HandleFailure(context.Background(), &models.Task{Type: models.TaskGenerateResponse, Payload: json.RawMessage(`{`)}, cause)
	assert.Len(t, gen.abandoned, 1)
}

func TestGenerateTitleHandler(t *testing.T) {
	titles := &recordingTitles{}
	h := &GenerateTitleHandler{titles: titles}

	require.NoError(t, h.Handle(context.Background(), taskWith(t, models.TaskGenerateTitle,
		models.GenerateTitlePayload{ChatID: "c1", Text: "  What is   the capital\nof France? "})))
	assert.Equal(t, "c1", titles.chatID)
	assert.Equal(t, "What is the capital of France?", titles.title)

	err := h.Handle(context.Background(), taskWith(t, models.TaskGenerateTitle, models.GenerateTitlePayload{ChatID: "c1", Text: "  "}))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestTitle_Truncates(t *testing.T) {
	title := Title(strings.Repeat("word ", 40))
	assert.Equal(t, 60, len([]rune(title)))
	assert.True(t, strings.HasSuffix(title, "…"))
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"unchanged", "a\n\nb", "a\n\nb"},
		{"trailing spaces", "a  \nb\t", "a\nb"},
		{"blank runs", "a\n\n\n\n\nb", "a\n\nb"},
		{"surrounding whitespace", "\n\n a\n", "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeText(tt.in))
		})
	}
}

func TestMessageHandlers(t *testing.T) {
	thinking := "step one  \n\n\n\nstep two"
	store := &memMessages{messages: map[string]*models.Message{
		"done":    {ID: "done", Content: "answer\n\n\n\nmore   ", Thinking: &thinking, IsComplete: true},
		"pending": {ID: "pending", Content: "partial"},
	}}
	ctx := context.Background()

	require.NoError(t, (&ProcessThinkingHandler{messages: store}).Handle(ctx,
		taskWith(t, models.TaskProcessThinking, models.MessageTaskPayload{MessageID: "done"})))
	require.NoError(t, (&OptimizeMessageHandler{messages: store}).Handle(ctx,
		taskWith(t, models.TaskOptimizeMessage, models.MessageTaskPayload{MessageID: "done"})))

	msg, _ := store.GetMessage(ctx, "done")
	assert.Equal(t, "step one\n\nstep two", *msg.Thinking)
	assert.Equal(t, "answer\n\nmore", msg.Content)

	err := (&OptimizeMessageHandler{messages: store}).Handle(ctx,
		taskWith(t, models.TaskOptimizeMessage, models.MessageTaskPayload{MessageID: "pending"}))
	assert.Error(t, err)

	err = (&ProcessThinkingHandler{messages: store}).Handle(ctx,
		taskWith(t, models.TaskProcessThinking, models.MessageTaskPayload{MessageID: "missing"}))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
