package generation

import (
	"strings"

	llmSvc "parley/internal/domain/services/llm"
)

// route says which buffer a reasoning delta belongs to.
type route int

const (
	routeThinking route = iota
	routeContent
)

// boldMarker opens a reasoning heading on the interleaved channel.
const boldMarker = "**"

// reasoningRoute decides where a reasoning delta goes. Only the Secondary
// family interleaves reasoning and output on one channel; there a delta that
// starts with a bold marker is reasoning and anything else is output.
// Ordinary bold text at the start of real output is misrouted to thinking.
func reasoningRoute(kind llmSvc.ProviderKind, text string) route {
	if kind != llmSvc.Secondary {
		return routeThinking
	}
	if strings.HasPrefix(text, boldMarker) {
		return routeThinking
	}
	return routeContent
}
