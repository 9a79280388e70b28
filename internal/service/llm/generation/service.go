package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	mstream "github.com/haowjy/meridian-stream-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"parley/internal/config"
	"parley/internal/domain"
	"parley/internal/domain/models"
	"parley/internal/domain/repositories"
	llmSvc "parley/internal/domain/services/llm"
	"parley/internal/service/llm/tools"
)

// ModelResolver maps a logical model id to a provider handle.
type ModelResolver interface {
	Resolve(modelID, userID string) (*llmSvc.ResolvedModel, error)
}

// ToolBridge builds the tool registry for one generation.
type ToolBridge interface {
	ForRequest(userID string, features llmSvc.ToolFeatures) *tools.ToolRegistry
}

// Options tunes generations.
type Options struct {
	FlushInterval       time.Duration
	MaxToolRounds       int
	CancelWatchInterval time.Duration

	// Optional. Prompts nil uses the request system prompt as is; ToolLimits
	// nil applies MaxToolRounds to every caller.
	Prompts    llmSvc.SystemPromptResolver
	ToolLimits llmSvc.ToolLimitResolver
}

// OptionsFromConfig extracts generation options from config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		FlushInterval:       cfg.FlushInterval,
		MaxToolRounds:       cfg.MaxToolRounds,
		CancelWatchInterval: cfg.CancelWatchInterval,
	}
}

// Service implements llmSvc.GenerationService.
type Service struct {
	resolver ModelResolver
	bridge   ToolBridge
	store    repositories.MessageStore
	consumer *Consumer
	registry *mstream.Registry
	opts     Options
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewService creates the generation service. Live generations are tracked
// in registry so an in-process cancel can abort their provider call.
func NewService(
	resolver ModelResolver,
	bridge ToolBridge,
	store repositories.MessageStore,
	registry *mstream.Registry,
	opts Options,
	logger *slog.Logger,
) *Service {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Duration(config.DefaultFlushIntervalMS) * time.Millisecond
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = config.DefaultMaxToolRounds
	}
	if opts.ToolLimits == nil {
		opts.ToolLimits = llmSvc.NewConfigToolLimitResolver(opts.MaxToolRounds)
	}
	return &Service{
		resolver: resolver,
		bridge:   bridge,
		store:    store,
		consumer: NewConsumer(store, opts.FlushInterval, logger),
		registry: registry,
		opts:     opts,
		logger:   logger,
		tracer:   otel.Tracer("parley/generation"),
	}
}

// Start implements llmSvc.GenerationService.
func (s *Service) Start(ctx context.Context, req *llmSvc.GenerateRequest) (string, error) {
	// Validation and resolution failures are fatal before any message exists
	resolved, err := s.prepare(req)
	if err != nil {
		return "", err
	}

	modelID := resolved.ModelID
	messageID, err := s.store.CreatePlaceholder(ctx, req.ChatID, models.RoleAssistant, &modelID)
	if err != nil {
		return "", fmt.Errorf("create placeholder: %w", err)
	}

	stream := mstream.NewStream(messageID, func(streamCtx context.Context, send func(mstream.Event)) error {
		state := s.execute(streamCtx, messageID, resolved, req)
		sendState(send, messageID, state)
		return nil
	})
	if err := s.registry.Register(stream); err != nil {
		s.logger.Warn("failed to register generation stream", "message_id", messageID, "error", err)
	}
	stream.Start()

	s.logger.Info("generation started",
		"message_id", messageID,
		"chat_id", req.ChatID,
		"model", resolved.ModelID,
		"provider_kind", resolved.Kind.String(),
	)
	return messageID, nil
}

// Run implements llmSvc.GenerationService. Provider and tool failures end
// in-band (StateErrored with a finalized message) and are not returned as
// errors; only validation, resolution and storage failures are.
func (s *Service) Run(ctx context.Context, messageID string, req *llmSvc.GenerateRequest) (llmSvc.GenerationState, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return llmSvc.StateInit, fmt.Errorf("get message: %w", err)
	}
	if msg.IsComplete {
		s.logger.Info("message already complete, skipping generation", "message_id", messageID)
		if msg.IsCancelled {
			return llmSvc.StateCancelled, nil
		}
		return llmSvc.StateFinished, nil
	}

	resolved, err := s.prepare(req)
	if err != nil {
		return llmSvc.StateInit, err
	}
	return s.execute(ctx, messageID, resolved, req), nil
}

// Validate implements llmSvc.GenerationService.
func (s *Service) Validate(req *llmSvc.GenerateRequest) error {
	_, err := s.prepare(req)
	return err
}

func (s *Service) prepare(req *llmSvc.GenerateRequest) (*llmSvc.ResolvedModel, error) {
	if err := validateGenerateRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return s.resolver.Resolve(req.ModelID, req.UserID)
}

// Abandon implements llmSvc.GenerationService.
func (s *Service) Abandon(ctx context.Context, messageID string, cause error) error {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("get message: %w", err)
	}
	if msg.IsComplete {
		return nil
	}

	content := withErrorNotice(msg.Content, cause.Error())
	complete := true
	if err := s.store.UpdateMessage(ctx, messageID, models.MessageUpdate{
		Content:    &content,
		IsComplete: &complete,
	}); err != nil {
		return fmt.Errorf("finalize abandoned message: %w", err)
	}
	s.logger.Warn("generation abandoned", "message_id", messageID, "error", cause)
	return nil
}

// Cancel implements llmSvc.GenerationService.
func (s *Service) Cancel(ctx context.Context, messageID string) error {
	if err := s.store.MarkCancelled(ctx, messageID); err != nil {
		return err
	}
	if stream := s.registry.Get(messageID); stream != nil {
		stream.Cancel()
	}
	s.logger.Info("generation cancel requested", "message_id", messageID)
	return nil
}

// execute runs one generation against an existing placeholder.
func (s *Service) execute(ctx context.Context, messageID string, resolved *llmSvc.ResolvedModel, req *llmSvc.GenerateRequest) llmSvc.GenerationState {
	ctx, span := s.tracer.Start(ctx, "generation.execute", trace.WithAttributes(
		attribute.String("message.id", messageID),
		attribute.String("model.id", resolved.ModelID),
	))
	defer span.End()

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.consumer.Monitor().Watch(genCtx, messageID, s.opts.CancelWatchInterval, cancel)

	features := llmSvc.ToolFeatures{
		Search:          req.WebSearch && resolved.Tools.Search,
		ImageGeneration: req.ImageGeneration && resolved.Tools.ImageGeneration,
	}
	provider := resolved.Provider
	if s.bridge != nil && (features.Search || features.ImageGeneration) {
		provider = WithToolLoop(provider, s.bridge.ForRequest(req.UserID, features), s.toolRounds(ctx, req.UserID), s.logger)
	}

	events, err := provider.OpenStream(genCtx, &llmSvc.StreamRequest{
		Model:   resolved.ProviderModel,
		System:  s.systemPrompt(ctx, req),
		History: req.History,
		Options: llmSvc.GenerationOptions{
			MaxTokens:       resolved.MaxOutput,
			ThinkingEnabled: resolved.SupportsThinking,
		},
	})
	if err != nil {
		// Dispatch failures are reported in-band like any provider error
		events = errorStream(err)
	}

	return s.consumer.Consume(genCtx, messageID, resolved.Kind, events)
}

// systemPrompt falls back to the request prompt when stored instructions
// cannot be loaded.
func (s *Service) systemPrompt(ctx context.Context, req *llmSvc.GenerateRequest) string {
	if s.opts.Prompts == nil {
		return req.System
	}
	system, err := s.opts.Prompts.Resolve(ctx, req.UserID, req.System)
	if err != nil {
		s.logger.Warn("system prompt resolution failed", "user_id", req.UserID, "error", err)
		return req.System
	}
	return system
}

func (s *Service) toolRounds(ctx context.Context, userID string) int {
	limit, err := s.opts.ToolLimits.GetToolRoundLimit(ctx, userID)
	if err != nil || limit <= 0 {
		if err != nil {
			s.logger.Warn("tool round limit lookup failed", "user_id", userID, "error", err)
		}
		return s.opts.MaxToolRounds
	}
	return limit
}

func errorStream(err error) <-chan llmSvc.StreamEvent {
	ch := make(chan llmSvc.StreamEvent, 1)
	ch <- llmSvc.StreamEvent{Type: llmSvc.EventError, Err: err}
	close(ch)
	return ch
}

func sendState(send func(mstream.Event), messageID string, state llmSvc.GenerationState) {
	data, err := json.Marshal(map[string]string{"messageId": messageID, "state": string(state)})
	if err != nil {
		return
	}
	send(mstream.NewEvent(data).WithType("generation_state"))
}

func validateGenerateRequest(req *llmSvc.GenerateRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.ChatID, validation.Required),
		validation.Field(&req.ModelID, validation.Required),
		validation.Field(&req.History,
			validation.Required,
			validation.Length(1, config.MaxHistoryMessages),
			validation.Each(validation.By(validateHistoryMessage)),
		),
	)
}

func validateHistoryMessage(value interface{}) error {
	msg, ok := value.(models.ChatMessage)
	if !ok {
		return fmt.Errorf("invalid history entry")
	}
	return validation.ValidateStruct(&msg,
		validation.Field(&msg.Role, validation.Required, validation.In(models.RoleUser, models.RoleAssistant)),
	)
}
