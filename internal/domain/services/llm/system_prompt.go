package llm

import "context"

// SystemPromptResolver builds the system prompt for one generation.
type SystemPromptResolver interface {
	// Resolve joins the caller's stored system instructions with the
	// request's own system prompt, in that order. Returns "" when neither
	// is set.
	Resolve(ctx context.Context, userID, requestSystem string) (string, error)
}
