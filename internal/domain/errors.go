package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError defines errors that can be mapped to HTTP status codes.
type HTTPError interface {
	error
	StatusCode() int
}

type (
	// NotFoundError indicates a resource was not found
	NotFoundError struct {
		Message string
	}

	// ValidationError indicates invalid input
	ValidationError struct {
		Message string
	}
)

func (e *NotFoundError) Error() string   { return e.Message }
func (e *ValidationError) Error() string { return e.Message }

func (e *NotFoundError) StatusCode() int   { return http.StatusNotFound }
func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }

func (e *NotFoundError) Is(target error) bool   { return target == ErrNotFound }
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")

	// ErrCancelled marks a generation that stopped because the user asked it to.
	// It is a normal termination path, never surfaced as a failure.
	ErrCancelled = errors.New("generation cancelled")
)

// ConflictError represents a resource conflict with details about the existing resource
type ConflictError struct {
	Message      string
	ResourceType string
	ResourceID   string
}

func (e *ConflictError) Error() string       { return e.Message }
func (e *ConflictError) StatusCode() int     { return http.StatusConflict }
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// ResolutionError is returned when a logical model id cannot be mapped to a
// provider. Generation aborts before any message is created.
type ResolutionError struct {
	ModelID string
	Reason  string
}

func (e *ResolutionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("unknown model %q", e.ModelID)
	}
	return fmt.Sprintf("cannot resolve model %q: %s", e.ModelID, e.Reason)
}

func (e *ResolutionError) StatusCode() int { return http.StatusBadRequest }

// ProviderError wraps network, status and decoding failures from an LLM provider.
// It travels in-band as an error stream event.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ToolExecutionError is captured into a tool's structured result and never
// propagated to the stream consumer.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// PersistenceConflict reports a message write that did not land, typically
// because the row was deleted concurrently. Logged; the generation continues.
type PersistenceConflict struct {
	MessageID string
	Err       error
}

func (e *PersistenceConflict) Error() string {
	return fmt.Sprintf("persist message %s: %v", e.MessageID, e.Err)
}

func (e *PersistenceConflict) Unwrap() error { return e.Err }

// BackgroundTaskFailure records a task handler failure. Retryable up to the
// retry cap, terminal afterwards.
type BackgroundTaskFailure struct {
	TaskID   string
	TaskType string
	Attempt  int
	Err      error
}

func (e *BackgroundTaskFailure) Error() string {
	return fmt.Sprintf("task %s (%s) attempt %d: %v", e.TaskID, e.TaskType, e.Attempt, e.Err)
}

func (e *BackgroundTaskFailure) Unwrap() error { return e.Err }
