package generation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/domain/models"
	llmSvc "parley/internal/domain/services/llm"
	"parley/internal/service/llm/tools"
)

// echoTool returns its input under "echo".
type echoTool struct{ name string }

func (e *echoTool) Spec() llmSvc.ToolSpec { return llmSvc.ToolSpec{Name: e.name} }

func (e *echoTool) Execute(_ context.Context, input map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"echo": input}, nil
}

func echoRegistry() *tools.ToolRegistry {
	r := tools.NewToolRegistry()
	r.Register("search", &echoTool{name: "search"})
	return r
}

func collect(ch <-chan llmSvc.StreamEvent) []llmSvc.StreamEvent {
	var out []llmSvc.StreamEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func types(events []llmSvc.StreamEvent) []llmSvc.EventType {
	out := make([]llmSvc.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestToolLoop_ExecutesAndContinues(t *testing.T) {
	inner := &scriptedProvider{kind: llmSvc.Primary, rounds: [][]llmSvc.StreamEvent{
		{
			textDelta("Checking."),
			{Type: llmSvc.EventToolCall, CallID: "c1", ToolName: "search", Args: map[string]interface{}{"query": "x"}},
			{Type: llmSvc.EventFinish, FinishReason: "tool_use", Usage: &models.Usage{InputTokens: 10, OutputTokens: 5}},
		},
		{
			textDelta("Found it."),
			{Type: llmSvc.EventFinish, FinishReason: "end_turn", Usage: &models.Usage{InputTokens: 20, OutputTokens: 3}},
		},
	}}

	p := WithToolLoop(inner, echoRegistry(), 5, testLogger())
	events, err := p.OpenStream(context.Background(), &llmSvc.StreamRequest{Model: "m"})
	require.NoError(t, err)
	got := collect(events)

	assert.Equal(t, []llmSvc.EventType{
		llmSvc.EventTextDelta, llmSvc.EventToolCall, llmSvc.EventToolResult,
		llmSvc.EventTextDelta, llmSvc.EventFinish,
	}, types(got))

	result := got[2]
	assert.Equal(t, "c1", result.CallID)
	assert.Equal(t, map[string]interface{}{"echo": map[string]interface{}{"query": "x"}}, result.Result)

	final := got[4]
	assert.Equal(t, "end_turn", final.FinishReason)
	assert.Equal(t, &models.Usage{InputTokens: 30, OutputTokens: 8}, final.Usage)

	require.Len(t, inner.requests, 2)
	assert.Equal(t, []llmSvc.ToolSpec{{Name: "search"}}, inner.requests[0].Tools)
	require.Len(t, inner.requests[1].Continuations, 1)
	cont := inner.requests[1].Continuations[0]
	assert.Equal(t, "Checking.", cont.Text)
	require.Len(t, cont.Exchanges, 1)
	assert.Equal(t, "c1", cont.Exchanges[0].CallID)
}

func TestToolLoop_RoundLimit(t *testing.T) {
	call := func(id string) []llmSvc.StreamEvent {
		return []llmSvc.StreamEvent{
			{Type: llmSvc.EventToolCall, CallID: id, ToolName: "search", Args: map[string]interface{}{}},
			{Type: llmSvc.EventFinish, FinishReason: "tool_use"},
		}
	}
	inner := &scriptedProvider{kind: llmSvc.Primary, rounds: [][]llmSvc.StreamEvent{call("a"), call("b"), call("c")}}

	events, err := WithToolLoop(inner, echoRegistry(), 2, testLogger()).OpenStream(context.Background(), &llmSvc.StreamRequest{})
	require.NoError(t, err)
	got := collect(events)

	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, llmSvc.EventFinish, last.Type)
	assert.Equal(t, FinishReasonToolLimit, last.FinishReason)
	assert.Len(t, inner.requests, 2)
}

func TestToolLoop_ErrorStopsLoop(t *testing.T) {
	inner := &scriptedProvider{kind: llmSvc.Primary, rounds: [][]llmSvc.StreamEvent{
		{textDelta("a"), {Type: llmSvc.EventError}},
	}}

	events, err := WithToolLoop(inner, echoRegistry(), 5, testLogger()).OpenStream(context.Background(), &llmSvc.StreamRequest{})
	require.NoError(t, err)

	assert.Equal(t, []llmSvc.EventType{llmSvc.EventTextDelta, llmSvc.EventError}, types(collect(events)))
}

func TestToolLoop_NoToolsReturnsInner(t *testing.T) {
	inner := &scriptedProvider{kind: llmSvc.Secondary}
	assert.Same(t, llmSvc.Provider(inner), WithToolLoop(inner, tools.NewToolRegistry(), 5, testLogger()))
}

func TestToolLoop_ConsumedEndToEnd(t *testing.T) {
	store := newMemStore()
	store.seed("m1")
	inner := &scriptedProvider{kind: llmSvc.Primary, rounds: [][]llmSvc.StreamEvent{
		{
			{Type: llmSvc.EventToolCall, CallID: "1", ToolName: "search", Args: map[string]interface{}{"query": "x"}},
			finish(),
		},
		{textDelta("Here is what I found."), finish()},
	}}

	events, err := WithToolLoop(inner, echoRegistry(), 5, testLogger()).OpenStream(context.Background(), &llmSvc.StreamRequest{})
	require.NoError(t, err)
	state := newTestConsumer(store).Consume(context.Background(), "m1", llmSvc.Primary, events)

	assert.Equal(t, llmSvc.StateFinished, state)
	msg := store.get("m1")
	assert.Equal(t, "Let me search the web for that.\n\n"+ToolPlaceholder("1")+"\n\nHere is what I found.", msg.Content)
	require.Len(t, msg.ToolCalls, 1)
	assert.NotNil(t, msg.ToolCalls[0].Result)
}
