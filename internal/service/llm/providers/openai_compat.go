package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"

	"github.com/sashabaranov/go-openai"

	"parley/internal/domain"
	"parley/internal/domain/models"
	llmSvc "parley/internal/domain/services/llm"
)

const openAICompatName = "openai-compatible"

// OpenAICompatProvider is the Secondary family: an OpenAI-compatible chat
// completions endpoint whose reasoning deltas interleave reasoning and output.
type OpenAICompatProvider struct {
	client *openai.Client
}

// NewOpenAICompat builds a Secondary provider client for one call.
func NewOpenAICompat(apiKey, baseURL string) (llmSvc.Provider, error) {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return &OpenAICompatProvider{client: openai.NewClientWithConfig(clientConfig)}, nil
}

func (p *OpenAICompatProvider) Kind() llmSvc.ProviderKind { return llmSvc.Secondary }

// OpenStream starts a streaming chat completion.
func (p *OpenAICompatProvider) OpenStream(ctx context.Context, req *llmSvc.StreamRequest) (<-chan llmSvc.StreamEvent, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, buildChatCompletionRequest(req))
	if err != nil {
		return nil, &domain.ProviderError{Provider: openAICompatName, Err: err}
	}

	out := make(chan llmSvc.StreamEvent)
	go func() {
		defer close(out)
		defer stream.Close()

		emit := func(ev llmSvc.StreamEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		acc := newChunkAccumulator()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				if acc.finishReason == "" {
					// Closed without a finish reason: abnormal termination
					return
				}
				for _, ev := range acc.finish() {
					if !emit(ev) {
						return
					}
				}
				return
			}
			if err != nil {
				emit(llmSvc.StreamEvent{
					Type: llmSvc.EventError,
					Err:  &domain.ProviderError{Provider: openAICompatName, Err: err},
				})
				return
			}
			for _, ev := range acc.add(resp) {
				if !emit(ev) {
					return
				}
			}
		}
	}()
	return out, nil
}

// chunkAccumulator converts streamed chunks into events and gathers tool
// call fragments by index.
type chunkAccumulator struct {
	tools        map[int]*pendingToolCall
	finishReason string
	usage        *models.Usage
}

func newChunkAccumulator() *chunkAccumulator {
	return &chunkAccumulator{tools: make(map[int]*pendingToolCall)}
}

func (a *chunkAccumulator) add(resp openai.ChatCompletionStreamResponse) []llmSvc.StreamEvent {
	if resp.Usage != nil {
		a.usage = &models.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	var events []llmSvc.StreamEvent
	for _, choice := range resp.Choices {
		delta := choice.Delta
		if delta.ReasoningContent != "" {
			events = append(events, llmSvc.StreamEvent{Type: llmSvc.EventReasoning, Text: delta.ReasoningContent})
		}
		if delta.Content != "" {
			events = append(events, llmSvc.StreamEvent{Type: llmSvc.EventTextDelta, Text: delta.Content})
		}
		for i, tc := range delta.ToolCalls {
			index := i
			if tc.Index != nil {
				index = *tc.Index
			}
			call, ok := a.tools[index]
			if !ok {
				call = &pendingToolCall{index: index}
				a.tools[index] = call
			}
			if tc.ID != "" {
				call.id = tc.ID
			}
			if tc.Function.Name != "" {
				call.name = tc.Function.Name
			}
			call.args.WriteString(tc.Function.Arguments)
		}
		if choice.FinishReason != "" {
			a.finishReason = string(choice.FinishReason)
		}
	}
	return events
}

func (a *chunkAccumulator) finish() []llmSvc.StreamEvent {
	calls := make([]*pendingToolCall, 0, len(a.tools))
	for _, call := range a.tools {
		calls = append(calls, call)
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].index < calls[j].index })

	events := make([]llmSvc.StreamEvent, 0, len(calls)+1)
	for _, call := range calls {
		events = append(events, llmSvc.StreamEvent{
			Type:     llmSvc.EventToolCall,
			CallID:   call.id,
			ToolName: call.name,
			Args:     parseToolArgs(call.args.String()),
		})
	}
	a.tools = make(map[int]*pendingToolCall)
	return append(events, llmSvc.StreamEvent{
		Type:         llmSvc.EventFinish,
		FinishReason: a.finishReason,
		Usage:        a.usage,
	})
}

func buildChatCompletionRequest(req *llmSvc.StreamRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, msg := range req.History {
		role := openai.ChatMessageRoleUser
		if msg.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: withAttachmentNotes(msg)})
	}
	for _, cont := range req.Continuations {
		assistant := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: cont.Text}
		for _, ex := range cont.Exchanges {
			assistant.ToolCalls = append(assistant.ToolCalls, openai.ToolCall{
				ID:   ex.CallID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      ex.ToolName,
					Arguments: mustJSON(ex.Args),
				},
			})
		}
		messages = append(messages, assistant)
		for _, ex := range cont.Exchanges {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: ex.CallID,
				Name:       ex.ToolName,
				Content:    mustJSON(ex.Result),
			})
		}
	}

	chatReq := openai.ChatCompletionRequest{
		Model:         req.Model,
		Messages:      messages,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if req.Options.MaxTokens > 0 {
		chatReq.MaxTokens = req.Options.MaxTokens
	}
	if req.Options.ThinkingEnabled {
		chatReq.ReasoningEffort = "low"
	}
	for _, spec := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Parameters,
			},
		})
	}
	return chatReq
}

func mustJSON(v interface{}) string {
	if v == nil {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
