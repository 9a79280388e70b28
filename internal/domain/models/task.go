package models

import (
	"encoding/json"
	"time"
)

// TaskType selects the handler a background task is dispatched to.
type TaskType string

const (
	TaskGenerateResponse TaskType = "generate_response"
	TaskGenerateTitle    TaskType = "generate_title"
	TaskProcessThinking  TaskType = "process_thinking"
	TaskOptimizeMessage  TaskType = "optimize_message"
)

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	switch t {
	case TaskGenerateResponse, TaskGenerateTitle, TaskProcessThinking, TaskOptimizeMessage:
		return true
	}
	return false
}

// TaskStatus is the lifecycle state of a task. Completed and failed are terminal.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// MaxTaskRetries caps handler attempts; retryCount never exceeds it.
const MaxTaskRetries = 3

// Task is a deferred, retryable unit of work.
type Task struct {
	ID           string          `json:"id"`
	Type         TaskType        `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	Status       TaskStatus      `json:"status"`
	Priority     int             `json:"priority"`
	RetryCount   int             `json:"retryCount"`
	ScheduledFor time.Time       `json:"scheduledFor"`
	CreatedAt    time.Time       `json:"createdAt"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	FailedAt     *time.Time      `json:"failedAt,omitempty"`
	Error        *string         `json:"error,omitempty"`
}

// IsTerminal reports whether the task can no longer change state.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// RetryDelay returns the backoff after the given (already incremented) retry count:
// 2, 4, 8 minutes for counts 1, 2, 3.
func RetryDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	return time.Duration(1<<uint(retryCount)) * time.Minute
}

// GenerateResponsePayload is the payload of a generate_response task.
type GenerateResponsePayload struct {
	MessageID       string        `json:"messageId"`
	ChatID          string        `json:"chatId"`
	ModelID         string        `json:"modelId"`
	UserID          string        `json:"userId,omitempty"`
	System          string        `json:"system,omitempty"`
	History         []ChatMessage `json:"history"`
	WebSearch       bool          `json:"webSearch,omitempty"`
	ImageGeneration bool          `json:"imageGeneration,omitempty"`
}

// GenerateTitlePayload is the payload of a generate_title task.
type GenerateTitlePayload struct {
	ChatID string `json:"chatId"`
	Text   string `json:"text"`
}

// MessageTaskPayload addresses a single message (process_thinking, optimize_message).
type MessageTaskPayload struct {
	MessageID string `json:"messageId"`
}

// ChatMessage is one history entry handed to a provider.
type ChatMessage struct {
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}
