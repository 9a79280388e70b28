package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	llmprovider "github.com/haowjy/meridian-llm-go"
	"github.com/haowjy/meridian-llm-go/providers/anthropic"
	"github.com/haowjy/meridian-llm-go/providers/openrouter"

	"parley/internal/domain"
	"parley/internal/domain/models"
	llmSvc "parley/internal/domain/services/llm"
)

// libraryProvider adapts a meridian-llm-go provider to the Provider interface.
type libraryProvider struct {
	kind     llmSvc.ProviderKind
	provider llmprovider.Provider
}

// NewAnthropic builds a Primary provider client for one call.
func NewAnthropic(apiKey string) (llmSvc.Provider, error) {
	provider, err := anthropic.NewProvider(apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Anthropic provider: %w", err)
	}
	return &libraryProvider{kind: llmSvc.Primary, provider: provider}, nil
}

// NewOpenRouter builds a Tertiary provider client for one call.
func NewOpenRouter(apiKey string) (llmSvc.Provider, error) {
	provider, err := openrouter.NewProvider(apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenRouter provider: %w", err)
	}
	return &libraryProvider{kind: llmSvc.Tertiary, provider: provider}, nil
}

func (p *libraryProvider) Kind() llmSvc.ProviderKind { return p.kind }

// OpenStream starts a streaming generation and converts library events.
func (p *libraryProvider) OpenStream(ctx context.Context, req *llmSvc.StreamRequest) (<-chan llmSvc.StreamEvent, error) {
	libReq, err := toLibraryRequest(req)
	if err != nil {
		return nil, err
	}

	libEvents, err := p.provider.StreamResponse(ctx, libReq)
	if err != nil {
		return nil, &domain.ProviderError{Provider: p.provider.Name().String(), Err: err}
	}

	out := make(chan llmSvc.StreamEvent)
	go func() {
		// The library goroutine sends without select; keep receiving so it can exit
		defer func() {
			for range libEvents {
			}
		}()
		defer close(out)
		conv := newLibraryConverter(p.provider.Name().String())
		for libEvent := range libEvents {
			for _, ev := range conv.convert(libEvent) {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
			if conv.done {
				return
			}
		}
	}()
	return out, nil
}

// pendingToolCall collects a tool call spread across deltas of one block.
type pendingToolCall struct {
	index int
	id    string
	name  string
	args  strings.Builder
}

// libraryConverter turns library deltas into stream events. Tool calls are
// emitted once their arguments are complete, right before finish.
type libraryConverter struct {
	provider string
	tools    map[int]*pendingToolCall
	done     bool
}

func newLibraryConverter(provider string) *libraryConverter {
	return &libraryConverter{provider: provider, tools: make(map[int]*pendingToolCall)}
}

func (c *libraryConverter) convert(ev llmprovider.StreamEvent) []llmSvc.StreamEvent {
	if ev.Error != nil {
		c.done = true
		return []llmSvc.StreamEvent{{
			Type: llmSvc.EventError,
			Err:  &domain.ProviderError{Provider: c.provider, Err: ev.Error},
		}}
	}

	var events []llmSvc.StreamEvent
	if d := ev.Delta; d != nil {
		switch d.DeltaType {
		case llmprovider.DeltaTypeText:
			if d.TextDelta != nil && *d.TextDelta != "" {
				typ := llmSvc.EventTextDelta
				if d.BlockType != nil && *d.BlockType == llmprovider.BlockTypeThinking {
					typ = llmSvc.EventReasoning
				}
				events = append(events, llmSvc.StreamEvent{Type: typ, Text: *d.TextDelta})
			}
		case llmprovider.DeltaTypeThinking:
			if d.TextDelta != nil && *d.TextDelta != "" {
				events = append(events, llmSvc.StreamEvent{Type: llmSvc.EventReasoning, Text: *d.TextDelta})
			}
		case llmprovider.DeltaTypeToolCallStart:
			call := &pendingToolCall{index: d.BlockIndex}
			if d.ToolCallID != nil {
				call.id = *d.ToolCallID
			}
			if d.ToolCallName != nil {
				call.name = *d.ToolCallName
			}
			c.tools[d.BlockIndex] = call
		case llmprovider.DeltaTypeJSON:
			if call, ok := c.tools[d.BlockIndex]; ok && d.JSONDelta != nil {
				call.args.WriteString(*d.JSONDelta)
			}
		}
	}

	if md := ev.Metadata; md != nil {
		events = append(events, c.flushToolCalls()...)
		events = append(events, llmSvc.StreamEvent{
			Type:         llmSvc.EventFinish,
			FinishReason: md.StopReason,
			Usage: &models.Usage{
				InputTokens:  md.InputTokens,
				OutputTokens: md.OutputTokens,
			},
		})
		c.done = true
	}
	return events
}

func (c *libraryConverter) flushToolCalls() []llmSvc.StreamEvent {
	calls := make([]*pendingToolCall, 0, len(c.tools))
	for _, call := range c.tools {
		calls = append(calls, call)
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].index < calls[j].index })

	events := make([]llmSvc.StreamEvent, 0, len(calls))
	for _, call := range calls {
		events = append(events, llmSvc.StreamEvent{
			Type:     llmSvc.EventToolCall,
			CallID:   call.id,
			ToolName: call.name,
			Args:     parseToolArgs(call.args.String()),
		})
	}
	c.tools = make(map[int]*pendingToolCall)
	return events
}

// parseToolArgs decodes streamed JSON arguments. Malformed input is kept
// under "_raw" so the tool can report it instead of the stream failing.
func parseToolArgs(raw string) map[string]interface{} {
	args := map[string]interface{}{}
	if strings.TrimSpace(raw) == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]interface{}{"_raw": raw}
	}
	return args
}

func toLibraryRequest(req *llmSvc.StreamRequest) (*llmprovider.GenerateRequest, error) {
	messages := make([]llmprovider.Message, 0, len(req.History)+2*len(req.Continuations))
	for _, msg := range req.History {
		text := withAttachmentNotes(msg)
		messages = append(messages, llmprovider.Message{
			Role:   msg.Role,
			Blocks: []*llmprovider.Block{{BlockType: llmprovider.BlockTypeText, Sequence: 0, TextContent: &text}},
		})
	}

	for _, cont := range req.Continuations {
		var assistant []*llmprovider.Block
		if cont.Text != "" {
			text := cont.Text
			assistant = append(assistant, &llmprovider.Block{BlockType: llmprovider.BlockTypeText, Sequence: 0, TextContent: &text})
		}
		results := make([]*llmprovider.Block, 0, len(cont.Exchanges))
		for i, ex := range cont.Exchanges {
			assistant = append(assistant, &llmprovider.Block{
				BlockType: llmprovider.BlockTypeToolUse,
				Sequence:  len(assistant),
				Content: map[string]interface{}{
					"tool_use_id": ex.CallID,
					"tool_name":   ex.ToolName,
					"input":       ex.Args,
				},
			})
			results = append(results, &llmprovider.Block{
				BlockType: llmprovider.BlockTypeToolResult,
				Sequence:  i,
				Content: map[string]interface{}{
					"tool_use_id": ex.CallID,
					"is_error":    false,
					"content":     mustJSON(ex.Result),
					"result":      ex.Result,
				},
			})
		}
		messages = append(messages,
			llmprovider.Message{Role: models.RoleAssistant, Blocks: assistant},
			llmprovider.Message{Role: models.RoleUser, Blocks: results},
		)
	}

	tools := make([]llmprovider.Tool, 0, len(req.Tools))
	for _, spec := range req.Tools {
		tool, err := llmprovider.NewCustomTool(spec.Name, spec.Description, spec.Parameters)
		if err != nil {
			return nil, fmt.Errorf("failed to create tool '%s': %w", spec.Name, err)
		}
		tools = append(tools, *tool)
	}

	maxTokens := req.Options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	thinking := req.Options.ThinkingEnabled
	params := &llmprovider.RequestParams{
		MaxTokens:       &maxTokens,
		ThinkingEnabled: &thinking,
		Tools:           tools,
	}
	if req.System != "" {
		system := req.System
		params.System = &system
	}

	return &llmprovider.GenerateRequest{
		Messages: messages,
		Model:    req.Model,
		Params:   params,
	}, nil
}

// withAttachmentNotes appends a line per attachment; the providers receive
// attachment references as text.
func withAttachmentNotes(msg models.ChatMessage) string {
	if len(msg.Attachments) == 0 {
		return msg.Content
	}
	var b strings.Builder
	b.WriteString(msg.Content)
	for _, a := range msg.Attachments {
		fmt.Fprintf(&b, "\n[Attachment: %s (%s) %s]", a.Name, a.MediaType, a.URL)
	}
	return b.String()
}
