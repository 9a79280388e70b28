package llm

import (
	"context"

	"parley/internal/domain/models"
)

// GenerationService starts and controls assistant message generations.
type GenerationService interface {
	// Start resolves the model, creates the placeholder message and runs the
	// generation in the background. Returns the placeholder message id.
	// A ResolutionError is returned before any message is created.
	Start(ctx context.Context, req *GenerateRequest) (string, error)

	// Run is the synchronous path: it drives the generation for an existing
	// placeholder to completion and returns the terminal state.
	Run(ctx context.Context, messageID string, req *GenerateRequest) (GenerationState, error)

	// Cancel records the cancellation in storage and, when the generation runs
	// in this process, aborts its provider call.
	Cancel(ctx context.Context, messageID string) error

	// Validate runs the checks Start performs before creating a message:
	// request validation and model resolution.
	Validate(req *GenerateRequest) error

	// Abandon finalizes a message whose generation will never run, appending
	// an error notice for cause. Complete messages are left untouched.
	Abandon(ctx context.Context, messageID string, cause error) error
}

// GenerateRequest is the DTO for starting a generation.
type GenerateRequest struct {
	ChatID          string               `json:"chatId"`
	UserID          string               `json:"-"` // set by handler from caller context
	ModelID         string               `json:"modelId"`
	System          string               `json:"system,omitempty"`
	History         []models.ChatMessage `json:"history"`
	WebSearch       bool                 `json:"webSearch,omitempty"`
	ImageGeneration bool                 `json:"imageGeneration,omitempty"`
}

// GenerationState is the terminal state of the consumer state machine.
type GenerationState string

const (
	StateInit      GenerationState = "init"
	StateStreaming GenerationState = "streaming"
	StateFinished  GenerationState = "finished"
	StateCancelled GenerationState = "cancelled"
	StateErrored   GenerationState = "errored"
)
