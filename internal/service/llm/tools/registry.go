package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"parley/internal/domain"
	llmSvc "parley/internal/domain/services/llm"
)

// Tool names as exposed to the model.
const (
	SearchToolName        = "search"
	GenerateImageToolName = "generateImage"
)

// ToolCall represents a single tool invocation request.
type ToolCall struct {
	ID    string                 `json:"id"`    // call id from the model
	Name  string                 `json:"name"`  // tool name
	Input map[string]interface{} `json:"input"` // tool parameters
}

// ToolResult represents the result of a tool execution.
type ToolResult struct {
	ID      string      `json:"id"`       // call id (matches ToolCall.ID)
	Name    string      `json:"name"`     // tool name (matches ToolCall.Name)
	Result  interface{} `json:"result"`   // execution result, a failure object when IsError
	Error   error       `json:"error"`    // execution error (nil if success)
	IsError bool        `json:"is_error"` // whether execution failed
}

// ToolRegistry manages tool executors and handles tool execution.
// It is thread-safe and can be used concurrently.
type ToolRegistry struct {
	mu        sync.RWMutex
	executors map[string]ToolExecutor
}

// NewToolRegistry creates a new tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		executors: make(map[string]ToolExecutor),
	}
}

// Register adds a tool executor to the registry.
// If a tool with the same name already exists, it will be replaced.
func (r *ToolRegistry) Register(name string, executor ToolExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[name] = executor
}

// Get retrieves a tool executor by name.
// Returns nil if the tool is not registered.
func (r *ToolRegistry) Get(name string) ToolExecutor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.executors[name]
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors)
}

// Specs returns the registered tool specs sorted by name.
func (r *ToolRegistry) Specs() []llmSvc.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]llmSvc.ToolSpec, 0, len(r.executors))
	for _, executor := range r.executors {
		specs = append(specs, executor.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Execute runs a single tool and returns the result. It never fails: a
// missing tool or an executor error becomes an {error} result the model can
// react to.
func (r *ToolRegistry) Execute(ctx context.Context, call ToolCall) ToolResult {
	executor := r.Get(call.Name)
	if executor == nil {
		return failedResult(call, &domain.ToolExecutionError{
			Tool: call.Name,
			Err:  fmt.Errorf("tool not found: %s", call.Name),
		})
	}

	result, err := executor.Execute(ctx, call.Input)
	if err != nil {
		return failedResult(call, &domain.ToolExecutionError{Tool: call.Name, Err: err})
	}

	return ToolResult{
		ID:      call.ID,
		Name:    call.Name,
		Result:  result,
		Error:   nil,
		IsError: false,
	}
}

func failedResult(call ToolCall, err error) ToolResult {
	return ToolResult{
		ID:      call.ID,
		Name:    call.Name,
		Result:  map[string]interface{}{"error": err.Error()},
		Error:   err,
		IsError: true,
	}
}

// ExecuteParallel runs multiple tools concurrently and returns results in the same order.
// Context cancellation will stop all ongoing executions.
func (r *ToolRegistry) ExecuteParallel(ctx context.Context, calls []ToolCall) []ToolResult {
	if len(calls) == 0 {
		return []ToolResult{}
	}

	results := make([]ToolResult, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(index int, toolCall ToolCall) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				results[index] = failedResult(toolCall, ctx.Err())
				return
			default:
			}

			results[index] = r.Execute(ctx, toolCall)
		}(i, call)
	}

	wg.Wait()

	return results
}
