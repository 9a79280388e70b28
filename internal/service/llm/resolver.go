package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"parley/internal/capabilities"
	"parley/internal/domain"
	"parley/internal/domain/services"
	llmSvc "parley/internal/domain/services/llm"
)

var errNoCredential = errors.New("no credential configured")

// Resolver maps logical model ids to provider handles. Resolution is a pure
// catalog lookup; credentials are chosen when the handle is dispatched.
type Resolver struct {
	catalog *capabilities.Registry
	factory *ProviderFactory
	creds   services.CredentialLookup
	logger  *slog.Logger
}

// NewResolver creates a new model resolver
func NewResolver(
	catalog *capabilities.Registry,
	factory *ProviderFactory,
	creds services.CredentialLookup,
	logger *slog.Logger,
) *Resolver {
	return &Resolver{
		catalog: catalog,
		factory: factory,
		creds:   creds,
		logger:  logger,
	}
}

// ParseKind maps a catalog kind name to a ProviderKind
func ParseKind(name string) (llmSvc.ProviderKind, bool) {
	switch name {
	case "primary":
		return llmSvc.Primary, true
	case "secondary":
		return llmSvc.Secondary, true
	case "tertiary":
		return llmSvc.Tertiary, true
	}
	return 0, false
}

// Resolve returns the resolved model for userID. Unknown ids yield a
// *domain.ResolutionError.
func (r *Resolver) Resolve(modelID, userID string) (*llmSvc.ResolvedModel, error) {
	if modelID == "" {
		return nil, &domain.ResolutionError{ModelID: modelID, Reason: "model id is required"}
	}

	providerCaps, model, ok := r.catalog.Lookup(modelID)
	if !ok {
		return nil, &domain.ResolutionError{ModelID: modelID}
	}

	kind, ok := ParseKind(providerCaps.Kind)
	if !ok || !r.factory.HasClient(kind) {
		return nil, &domain.ResolutionError{
			ModelID: modelID,
			Reason:  fmt.Sprintf("provider %s is not supported", providerCaps.Provider),
		}
	}

	return &llmSvc.ResolvedModel{
		ModelID:          model.ID,
		ProviderModel:    model.ProviderModel,
		Kind:             kind,
		SupportsThinking: model.SupportsThinking,
		Tools: llmSvc.ToolFeatures{
			Search:          model.SupportsTools && model.SupportsSearch,
			ImageGeneration: model.SupportsTools && model.SupportsImageGeneration,
		},
		MaxOutput: model.MaxOutput,
		Provider: &credentialedProvider{
			kind:    kind,
			family:  providerCaps.Provider,
			userID:  userID,
			factory: r.factory,
			creds:   r.creds,
			logger:  r.logger,
		},
	}, nil
}

// credentialedProvider picks a key and builds a fresh client on every
// OpenStream call: the caller's stored key, then the process default.
type credentialedProvider struct {
	kind    llmSvc.ProviderKind
	family  string
	userID  string
	factory *ProviderFactory
	creds   services.CredentialLookup
	logger  *slog.Logger
}

func (p *credentialedProvider) Kind() llmSvc.ProviderKind { return p.kind }

func (p *credentialedProvider) OpenStream(ctx context.Context, req *llmSvc.StreamRequest) (<-chan llmSvc.StreamEvent, error) {
	key, usedUserKey, err := p.apiKey(ctx)
	if err != nil {
		return nil, &domain.ProviderError{Provider: p.family, Err: err}
	}

	client, err := p.factory.NewClient(p.kind, key)
	if err != nil {
		return nil, &domain.ProviderError{Provider: p.family, Err: err}
	}

	p.logger.Debug("dispatching provider call",
		"provider", p.family,
		"model", req.Model,
		"used_user_key", usedUserKey,
	)
	return client.OpenStream(ctx, req)
}

func (p *credentialedProvider) apiKey(ctx context.Context) (string, bool, error) {
	if p.creds != nil && p.userID != "" {
		key, err := p.creds.GetAPIKey(ctx, p.userID, p.family)
		if err != nil {
			// Fall back to the default key rather than failing the generation
			p.logger.Warn("credential lookup failed",
				"provider", p.family,
				"user_id", p.userID,
				"error", err,
			)
		} else if key != "" {
			return key, true, nil
		}
	}
	if key := p.factory.DefaultKey(p.family); key != "" {
		return key, false, nil
	}
	return "", false, errNoCredential
}
