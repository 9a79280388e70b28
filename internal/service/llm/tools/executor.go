package tools

import (
	"context"

	llmSvc "parley/internal/domain/services/llm"
)

// ToolExecutor defines the interface for executing a tool.
// Implementations must be thread-safe and respect context cancellation.
type ToolExecutor interface {
	// Execute runs the tool with the given input parameters.
	// The returned interface{} must be JSON-serializable (maps, slices, primitives).
	// Tool-level failures are reported inside the result; a non-nil error means
	// the call could not be carried out at all.
	Execute(ctx context.Context, input map[string]interface{}) (interface{}, error)

	// Spec describes the tool to the model.
	Spec() llmSvc.ToolSpec
}
