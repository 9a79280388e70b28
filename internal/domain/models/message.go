package models

import "time"

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolCall is one tool invocation recorded on an assistant message.
// Result stays nil until the matching tool result arrives.
type ToolCall struct {
	CallID   string                 `json:"callId"`
	ToolName string                 `json:"toolName"`
	Args     map[string]interface{} `json:"args"`
	Result   interface{}            `json:"result,omitempty"`
}

// Attachment describes a file attached to a user message.
type Attachment struct {
	Name      string `json:"name"`
	MediaType string `json:"mediaType"`
	Size      int64  `json:"size"`
	URL       string `json:"url"`
}

// Usage holds token accounting reported by the provider on finish.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Message is one turn of a conversation.
type Message struct {
	ID               string       `json:"id"`
	ChatID           string       `json:"chatId"`
	Role             string       `json:"role"`
	Content          string       `json:"content"`
	Thinking         *string      `json:"thinking,omitempty"`
	ThinkingDuration *int         `json:"thinkingDuration,omitempty"` // seconds
	ModelID          *string      `json:"modelId,omitempty"`
	IsComplete       bool         `json:"isComplete"`
	IsCancelled      bool         `json:"isCancelled"`
	ToolCalls        []ToolCall   `json:"toolCalls"`
	Attachments      []Attachment `json:"attachments"`
	Usage            *Usage       `json:"usage,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// MessageUpdate is a partial write. Nil fields are left untouched.
// IsComplete and IsCancelled only ever move to true in storage.
type MessageUpdate struct {
	Content          *string
	Thinking         *string
	ThinkingDuration *int
	IsComplete       *bool
	IsCancelled      *bool
	ToolCalls        []ToolCall // nil = unchanged
	Usage            *Usage
}

// IsEmpty reports whether the update carries no fields.
func (u MessageUpdate) IsEmpty() bool {
	return u.Content == nil && u.Thinking == nil && u.ThinkingDuration == nil &&
		u.IsComplete == nil && u.IsCancelled == nil && u.ToolCalls == nil && u.Usage == nil
}

// Apply folds the update into m, honoring the terminal flags.
func (m *Message) Apply(u MessageUpdate) {
	if u.Content != nil {
		m.Content = *u.Content
	}
	if u.Thinking != nil {
		t := *u.Thinking
		m.Thinking = &t
	}
	if u.ThinkingDuration != nil {
		d := *u.ThinkingDuration
		m.ThinkingDuration = &d
	}
	if u.IsComplete != nil && *u.IsComplete {
		m.IsComplete = true
	}
	if u.IsCancelled != nil && *u.IsCancelled {
		m.IsCancelled = true
	}
	if u.ToolCalls != nil {
		m.ToolCalls = append([]ToolCall(nil), u.ToolCalls...)
	}
	if u.Usage != nil {
		usage := *u.Usage
		m.Usage = &usage
	}
}
