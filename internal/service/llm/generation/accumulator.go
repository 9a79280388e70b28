package generation

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"parley/internal/domain/models"
	"parley/internal/service/llm/tools"
)

// InterruptedPlaceholder replaces empty content when a generation ends
// without producing any.
const InterruptedPlaceholder = "Generation was interrupted."

// Explanations shown before a tool invocation when nothing was said yet.
var toolExplanations = map[string]string{
	tools.SearchToolName:        "Let me search the web for that.",
	tools.GenerateImageToolName: "Let me generate an image for you.",
}

const fallbackToolExplanation = "Let me use a tool to help with that."

// ToolPlaceholder returns the token marking where a tool call sits in content.
func ToolPlaceholder(callID string) string {
	return fmt.Sprintf("[[tool:%s]]", callID)
}

func toolExplanation(toolName string) string {
	if s, ok := toolExplanations[toolName]; ok {
		return s
	}
	return fallbackToolExplanation
}

// accumulator holds the in-memory state of one generation. The consumer is
// the only writer; the batched writer's timer reads snapshots concurrently.
type accumulator struct {
	mu sync.Mutex

	content   strings.Builder
	thinking  strings.Builder
	toolCalls []models.ToolCall
	usage     *models.Usage

	thinkingStartedAt *time.Time
	thinkingEndedAt   *time.Time

	producedText bool // any text reached content in this generation
	afterTool    bool // last thing appended to content was a tool placeholder
}

func (a *accumulator) appendContent(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.afterTool {
		a.content.WriteString("\n\n")
		a.afterTool = false
	}
	a.content.WriteString(text)
	a.producedText = true
}

func (a *accumulator) appendThinking(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.thinking.WriteString(text)
}

// startThinking records the first reasoning timestamp.
func (a *accumulator) startThinking(at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.thinkingStartedAt == nil {
		a.thinkingStartedAt = &at
	}
}

// endThinking closes the thinking window if it is open.
func (a *accumulator) endThinking(at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.thinkingStartedAt != nil && a.thinkingEndedAt == nil {
		a.thinkingEndedAt = &at
	}
}

func (a *accumulator) thinkingOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.thinkingStartedAt != nil && a.thinkingEndedAt == nil
}

// addToolCall records a call, prefixing an explanation when content is
// still empty, and appends its placeholder token.
func (a *accumulator) addToolCall(callID, toolName string, args map[string]interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.content.Len() == 0 && !a.producedText {
		a.content.WriteString(toolExplanation(toolName))
	}
	if a.content.Len() > 0 {
		a.content.WriteString("\n\n")
	}
	a.content.WriteString(ToolPlaceholder(callID))
	a.afterTool = true

	if args == nil {
		args = map[string]interface{}{}
	}
	a.toolCalls = append(a.toolCalls, models.ToolCall{
		CallID:   callID,
		ToolName: toolName,
		Args:     args,
	})
}

// attachResult sets the result of a recorded call; false when the id is unknown.
func (a *accumulator) attachResult(callID string, result interface{}) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.toolCalls {
		if a.toolCalls[i].CallID == callID {
			a.toolCalls[i].Result = result
			return true
		}
	}
	return false
}

// annotateError appends a user-visible error notice to content.
func (a *accumulator) annotateError(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	content := withErrorNotice(a.content.String(), msg)
	a.content.Reset()
	a.content.WriteString(content)
	a.afterTool = false
}

// withErrorNotice appends the error notice for msg to content.
func withErrorNotice(content, msg string) string {
	notice := fmt.Sprintf("*Error: %s*", msg)
	if content == "" {
		return notice
	}
	return content + "\n\n" + notice
}

func (a *accumulator) setUsage(u *models.Usage) {
	if u == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	usage := *u
	a.usage = &usage
}

// Content returns the current content.
func (a *accumulator) Content() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.content.String()
}

// thinkingDuration is round((ended-started)/1s), nil unless both are set.
func (a *accumulator) thinkingDurationLocked() *int {
	if a.thinkingStartedAt == nil || a.thinkingEndedAt == nil {
		return nil
	}
	secs := int(math.Round(a.thinkingEndedAt.Sub(*a.thinkingStartedAt).Seconds()))
	if secs < 0 {
		secs = 0
	}
	return &secs
}

// progress is the update written by batched flushes.
func (a *accumulator) progress() models.MessageUpdate {
	a.mu.Lock()
	defer a.mu.Unlock()

	content := a.content.String()
	update := models.MessageUpdate{Content: &content}
	if a.thinking.Len() > 0 {
		thinking := a.thinking.String()
		update.Thinking = &thinking
	}
	return update
}

// withToolCalls is progress plus the tool call list, for immediate writes.
func (a *accumulator) withToolCalls() models.MessageUpdate {
	update := a.progress()

	a.mu.Lock()
	defer a.mu.Unlock()
	update.ToolCalls = cloneToolCalls(a.toolCalls)
	return update
}

// final is the terminal update. Empty content becomes the interrupted
// placeholder unless keepEmpty is set.
func (a *accumulator) final(keepEmpty bool) models.MessageUpdate {
	a.mu.Lock()
	defer a.mu.Unlock()

	content := a.content.String()
	if content == "" && !keepEmpty {
		content = InterruptedPlaceholder
	}
	complete := true
	update := models.MessageUpdate{
		Content:          &content,
		IsComplete:       &complete,
		ToolCalls:        cloneToolCalls(a.toolCalls),
		ThinkingDuration: a.thinkingDurationLocked(),
	}
	if a.thinking.Len() > 0 {
		thinking := a.thinking.String()
		update.Thinking = &thinking
	}
	if a.usage != nil {
		usage := *a.usage
		update.Usage = &usage
	}
	return update
}

func cloneToolCalls(calls []models.ToolCall) []models.ToolCall {
	out := make([]models.ToolCall, len(calls))
	copy(out, calls)
	return out
}
