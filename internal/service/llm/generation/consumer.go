package generation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"parley/internal/domain/repositories"
	llmSvc "parley/internal/domain/services/llm"
)

// Consumer drives one generation stream into a message.
type Consumer struct {
	store         repositories.MessageStore
	monitor       *CancellationMonitor
	flushInterval time.Duration
	logger        *slog.Logger
	tracer        trace.Tracer
	now           func() time.Time
}

// NewConsumer creates a new stream consumer
func NewConsumer(store repositories.MessageStore, flushInterval time.Duration, logger *slog.Logger) *Consumer {
	return &Consumer{
		store:         store,
		monitor:       NewCancellationMonitor(store, logger),
		flushInterval: flushInterval,
		logger:        logger,
		tracer:        otel.Tracer("parley/generation"),
		now:           time.Now,
	}
}

// Monitor returns the consumer's cancellation monitor.
func (c *Consumer) Monitor() *CancellationMonitor {
	return c.monitor
}

// run is the state of one Consume call.
type run struct {
	c         *Consumer
	messageID string
	kind      llmSvc.ProviderKind
	acc       *accumulator
	writer    *Writer
	state     llmSvc.GenerationState
	logger    *slog.Logger
}

// Consume reads events until a terminal event, cancellation or the end of
// the stream, then finalizes the message. It always finalizes.
func (c *Consumer) Consume(ctx context.Context, messageID string, kind llmSvc.ProviderKind, events <-chan llmSvc.StreamEvent) llmSvc.GenerationState {
	ctx, span := c.tracer.Start(ctx, "generation.consume", trace.WithAttributes(
		attribute.String("message.id", messageID),
		attribute.String("provider.kind", kind.String()),
	))
	defer span.End()

	acc := &accumulator{}
	r := &run{
		c:         c,
		messageID: messageID,
		kind:      kind,
		acc:       acc,
		writer:    NewWriter(ctx, c.store, messageID, c.flushInterval, acc.progress, c.logger),
		state:     llmSvc.StateInit,
		logger:    c.logger.With("message_id", messageID),
	}
	defer r.finalize()

	r.state = llmSvc.StateStreaming
	r.loop(ctx, events)

	span.SetAttributes(attribute.String("generation.state", string(r.state)))
	if r.state == llmSvc.StateErrored {
		span.SetStatus(codes.Error, "generation errored")
	}
	return r.state
}

func (r *run) loop(ctx context.Context, events <-chan llmSvc.StreamEvent) {
	for {
		var ev llmSvc.StreamEvent
		var ok bool
		select {
		case ev, ok = <-events:
		case <-ctx.Done():
			ok = false
		}

		if r.c.monitor.IsCancelled(ctx, r.messageID) {
			r.logger.Info("generation cancelled")
			r.state = llmSvc.StateCancelled
			return
		}
		if !ok {
			r.logger.Warn("stream ended without finish")
			r.state = llmSvc.StateErrored
			return
		}
		if r.handle(ev) {
			return
		}
	}
}

// handle processes one event and reports whether consumption stops.
func (r *run) handle(ev llmSvc.StreamEvent) bool {
	switch ev.Type {
	case llmSvc.EventTextDelta:
		if ev.Text == "" {
			return false
		}
		if r.acc.thinkingOpen() {
			r.acc.endThinking(r.c.now())
		}
		r.acc.appendContent(ev.Text)
		r.writer.MarkContent()
		r.writer.Flush()

	case llmSvc.EventReasoning:
		if ev.Text == "" {
			return false
		}
		r.acc.startThinking(r.c.now())
		switch reasoningRoute(r.kind, ev.Text) {
		case routeThinking:
			r.acc.appendThinking(ev.Text)
			r.writer.MarkThinking()
		case routeContent:
			r.acc.appendContent(ev.Text)
			r.writer.MarkContent()
		}
		r.writer.Flush()

	case llmSvc.EventToolCall:
		r.acc.addToolCall(ev.CallID, ev.ToolName, ev.Args)
		r.writer.WriteNow(r.acc.withToolCalls())

	case llmSvc.EventToolResult:
		if !r.acc.attachResult(ev.CallID, ev.Result) {
			r.logger.Warn("tool result for unknown call", "call_id", ev.CallID)
			return false
		}
		r.writer.WriteNow(r.acc.withToolCalls())

	case llmSvc.EventFinish:
		r.acc.endThinking(r.c.now())
		r.acc.setUsage(ev.Usage)
		r.logger.Info("generation finished", "finish_reason", ev.FinishReason)
		r.state = llmSvc.StateFinished
		return true

	case llmSvc.EventError:
		msg := "the model provider failed"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		r.logger.Error("generation failed", "error", ev.Err)
		r.acc.endThinking(r.c.now())
		r.writer.ForceFlush(r.acc.withToolCalls())
		r.acc.annotateError(msg)
		r.state = llmSvc.StateErrored
		return true

	default:
		r.logger.Debug("ignoring unrecognized stream event", "type", string(ev.Type))
	}
	return false
}

// finalize force-flushes the terminal state. Safe to repeat: every call
// writes the same update.
func (r *run) finalize() {
	r.acc.endThinking(r.c.now())
	cancelled := r.state == llmSvc.StateCancelled
	update := r.acc.final(cancelled)
	if cancelled {
		t := true
		update.IsCancelled = &t
	}
	r.writer.ForceFlush(update)
}
