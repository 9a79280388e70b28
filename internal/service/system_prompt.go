package service

import (
	"context"
	"fmt"
	"strings"

	"parley/internal/domain/repositories"
	llmSvc "parley/internal/domain/services/llm"
)

// PreferencesSystemPromptResolver prepends the caller's stored
// system_instructions to the request system prompt.
type PreferencesSystemPromptResolver struct {
	prefsRepo repositories.UserPreferencesRepository
}

// NewSystemPromptResolver creates a new system prompt resolver
func NewSystemPromptResolver(prefsRepo repositories.UserPreferencesRepository) llmSvc.SystemPromptResolver {
	return &PreferencesSystemPromptResolver{prefsRepo: prefsRepo}
}

func (r *PreferencesSystemPromptResolver) Resolve(ctx context.Context, userID, requestSystem string) (string, error) {
	var parts []string
	if userID != "" {
		prefs, err := r.prefsRepo.GetByUserID(ctx, userID)
		if err != nil {
			return requestSystem, fmt.Errorf("get preferences: %w", err)
		}
		if prefs != nil {
			if instructions := prefs.GetSystemInstructions(); instructions != nil && strings.TrimSpace(*instructions) != "" {
				parts = append(parts, strings.TrimSpace(*instructions))
			}
		}
	}
	if s := strings.TrimSpace(requestSystem); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n\n"), nil
}
