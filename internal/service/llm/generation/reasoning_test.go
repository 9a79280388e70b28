package generation

import (
	"testing"

	llmSvc "parley/internal/domain/services/llm"
)

func TestReasoningRoute(t *testing.T) {
	tests := []struct {
		kind llmSvc.ProviderKind
		text string
		want route
	}{
		{llmSvc.Primary, "plain", routeThinking},
		{llmSvc.Primary, "**bold**", routeThinking},
		{llmSvc.Tertiary, "plain", routeThinking},
		{llmSvc.Secondary, "**Analyzing the question**", routeThinking},
		{llmSvc.Secondary, "The answer is", routeContent},
		{llmSvc.Secondary, " **late bold**", routeContent},
		{llmSvc.Secondary, "", routeContent},
	}

	for _, tt := range tests {
		if got := reasoningRoute(tt.kind, tt.text); got != tt.want {
			t.Errorf("reasoningRoute(%s, %q) = %v, want %v", tt.kind, tt.text, got, tt.want)
		}
	}
}
