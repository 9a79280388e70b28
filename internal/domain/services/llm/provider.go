package llm

import (
	"context"

	"parley/internal/domain/models"
)

// ProviderKind identifies a provider family. Behavior that differs per family
// (option shapes, reasoning-channel handling) is keyed on it.
type ProviderKind int

const (
	// Primary is the Anthropic family; reasoning arrives on its own channel.
	Primary ProviderKind = iota + 1
	// Secondary is the OpenAI-compatible family whose reasoning channel
	// interleaves reasoning and ordinary output.
	Secondary
	// Tertiary is the OpenRouter family; reasoning arrives on its own channel.
	Tertiary
)

func (k ProviderKind) String() string {
	switch k {
	case Primary:
		return "primary"
	case Secondary:
		return "secondary"
	case Tertiary:
		return "tertiary"
	default:
		return "unknown"
	}
}

// EventType tags a stream event.
type EventType string

const (
	EventTextDelta  EventType = "text-delta"
	EventReasoning  EventType = "reasoning"
	EventToolCall   EventType = "tool-call"
	EventToolResult EventType = "tool-result"
	EventFinish     EventType = "finish"
	EventError      EventType = "error"
)

// StreamEvent is one decoded event of a generation stream. Which fields are
// set depends on Type; any Type outside the constants above is unrecognized.
type StreamEvent struct {
	Type EventType

	// text-delta, reasoning
	Text string

	// tool-call, tool-result
	CallID   string
	ToolName string
	Args     map[string]interface{}
	Result   interface{}

	// finish
	FinishReason string
	Usage        *models.Usage

	// error
	Err error
}

// ToolSpec describes a tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]interface{} // JSON schema
}

// ToolExchange is one executed tool call fed back to the provider on the
// next round of a tool loop.
type ToolExchange struct {
	CallID   string
	ToolName string
	Args     map[string]interface{}
	Result   interface{}
}

// Continuation is the assistant output of a finished round plus the tool
// results it produced.
type Continuation struct {
	Text      string
	Exchanges []ToolExchange
}

// StreamRequest is the input to Provider.OpenStream.
type StreamRequest struct {
	Model         string
	System        string
	History       []models.ChatMessage
	Tools         []ToolSpec
	Options       GenerationOptions
	Continuations []Continuation
}

// GenerationOptions are per-call knobs.
type GenerationOptions struct {
	MaxTokens       int
	ThinkingEnabled bool
}

// Provider opens a generation stream. The returned channel is closed when
// the provider has nothing more to send; cancelling ctx aborts the call.
type Provider interface {
	Kind() ProviderKind
	OpenStream(ctx context.Context, req *StreamRequest) (<-chan StreamEvent, error)
}

// ToolFeatures lists the tools a resolved model may be offered.
type ToolFeatures struct {
	Search          bool
	ImageGeneration bool
}

// ResolvedModel is the Model Resolver's output.
type ResolvedModel struct {
	ModelID          string
	ProviderModel    string // id sent to the provider
	Kind             ProviderKind
	SupportsThinking bool
	Tools            ToolFeatures
	MaxOutput        int
	Provider         Provider
}
