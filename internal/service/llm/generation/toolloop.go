package generation

import (
	"context"
	"log/slog"
	"strings"

	"parley/internal/domain/models"
	llmSvc "parley/internal/domain/services/llm"
	"parley/internal/service/llm/tools"
)

// FinishReasonToolLimit ends a generation that kept requesting tools past
// the round limit.
const FinishReasonToolLimit = "tool_limit"

// toolLoopProvider runs the model's tool calls through the tool registry.
// Each round's tool calls are executed after the round finishes, their
// results are emitted as tool-result events, and the provider is re-opened
// with the results appended. The consumer sees one continuous stream.
type toolLoopProvider struct {
	inner     llmSvc.Provider
	registry  *tools.ToolRegistry
	maxRounds int
	logger    *slog.Logger
}

// WithToolLoop wraps inner so tool calls are executed. Without tools it
// returns inner unchanged.
func WithToolLoop(inner llmSvc.Provider, registry *tools.ToolRegistry, maxRounds int, logger *slog.Logger) llmSvc.Provider {
	if registry == nil || registry.Len() == 0 {
		return inner
	}
	if maxRounds < 1 {
		maxRounds = 1
	}
	return &toolLoopProvider{inner: inner, registry: registry, maxRounds: maxRounds, logger: logger}
}

func (p *toolLoopProvider) Kind() llmSvc.ProviderKind { return p.inner.Kind() }

func (p *toolLoopProvider) OpenStream(ctx context.Context, req *llmSvc.StreamRequest) (<-chan llmSvc.StreamEvent, error) {
	current := *req
	current.Tools = p.registry.Specs()
	current.Continuations = append([]llmSvc.Continuation(nil), req.Continuations...)

	// The first round opens synchronously so dispatch errors surface to the caller
	first, err := p.inner.OpenStream(ctx, &current)
	if err != nil {
		return nil, err
	}

	out := make(chan llmSvc.StreamEvent)
	go func() {
		defer close(out)
		p.run(ctx, &current, first, out)
	}()
	return out, nil
}

func (p *toolLoopProvider) run(ctx context.Context, req *llmSvc.StreamRequest, events <-chan llmSvc.StreamEvent, out chan<- llmSvc.StreamEvent) {
	emit := func(ev llmSvc.StreamEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var total *models.Usage
	for round := 1; ; round++ {
		var text strings.Builder
		var calls []tools.ToolCall
		var finish *llmSvc.StreamEvent

		for ev := range events {
			switch ev.Type {
			case llmSvc.EventFinish:
				f := ev
				finish = &f
				continue
			case llmSvc.EventTextDelta:
				text.WriteString(ev.Text)
			case llmSvc.EventToolCall:
				calls = append(calls, tools.ToolCall{ID: ev.CallID, Name: ev.ToolName, Input: ev.Args})
			}
			if !emit(ev) {
				return
			}
			if ev.Type == llmSvc.EventError {
				return
			}
		}

		// Closed without finish: leave the abnormal end to the consumer
		if finish == nil {
			return
		}
		total = addUsage(total, finish.Usage)

		if len(calls) == 0 {
			finish.Usage = total
			emit(*finish)
			return
		}

		results := p.registry.ExecuteParallel(ctx, calls)
		exchanges := make([]llmSvc.ToolExchange, len(results))
		for i, result := range results {
			if result.IsError {
				p.logger.Warn("tool execution failed", "tool", result.Name, "call_id", result.ID, "error", result.Error)
			}
			exchanges[i] = llmSvc.ToolExchange{
				CallID:   result.ID,
				ToolName: result.Name,
				Args:     calls[i].Input,
				Result:   result.Result,
			}
			if !emit(llmSvc.StreamEvent{
				Type:     llmSvc.EventToolResult,
				CallID:   result.ID,
				ToolName: result.Name,
				Result:   result.Result,
			}) {
				return
			}
		}

		if round >= p.maxRounds {
			p.logger.Warn("tool round limit reached", "rounds", round)
			emit(llmSvc.StreamEvent{Type: llmSvc.EventFinish, FinishReason: FinishReasonToolLimit, Usage: total})
			return
		}

		req.Continuations = append(req.Continuations, llmSvc.Continuation{Text: text.String(), Exchanges: exchanges})
		next, err := p.inner.OpenStream(ctx, req)
		if err != nil {
			emit(llmSvc.StreamEvent{Type: llmSvc.EventError, Err: err})
			return
		}
		events = next
	}
}

func addUsage(total, u *models.Usage) *models.Usage {
	if u == nil {
		return total
	}
	if total == nil {
		total = &models.Usage{}
	}
	total.InputTokens += u.InputTokens
	total.OutputTokens += u.OutputTokens
	return total
}
