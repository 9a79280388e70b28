package tools

import (
	"log/slog"

	"parley/internal/domain/services"
	llmSvc "parley/internal/domain/services/llm"
	"parley/internal/service/llm/tools/external"
)

// ToolRegistryBuilder provides a fluent API for building tool registries.
type ToolRegistryBuilder struct {
	registry *ToolRegistry
	config   *ToolConfig
}

// NewToolRegistryBuilder creates a new builder with a fresh registry.
func NewToolRegistryBuilder() *ToolRegistryBuilder {
	return &ToolRegistryBuilder{
		registry: NewToolRegistry(),
		config:   DefaultToolConfig(),
	}
}

// WithConfig sets custom tool configuration.
// If not called, defaults will be used.
func (b *ToolRegistryBuilder) WithConfig(config *ToolConfig) *ToolRegistryBuilder {
	if config != nil {
		b.config = config
	}
	return b
}

// WithSearch registers the search tool. Only registers if a client is provided.
func (b *ToolRegistryBuilder) WithSearch(client external.SearchClient) *ToolRegistryBuilder {
	if client != nil {
		b.registry.Register(SearchToolName, NewSearchTool(client, b.config))
	}
	return b
}

// WithImageGeneration registers the generateImage tool for one caller.
// Only registers if both an image client and a blob store are provided.
func (b *ToolRegistryBuilder) WithImageGeneration(
	client external.ImageClient,
	blobs external.BlobStore,
	creds services.CredentialLookup,
	userID string,
	defaultKey string,
	logger *slog.Logger,
) *ToolRegistryBuilder {
	if client != nil && blobs != nil {
		b.registry.Register(GenerateImageToolName,
			NewImageTool(client, blobs, creds, userID, defaultKey, b.config, logger))
	}
	return b
}

// Build returns the constructed tool registry.
func (b *ToolRegistryBuilder) Build() *ToolRegistry {
	return b.registry
}

// Bridge holds the shared tool clients and builds a per-generation registry
// holding only the tools that are enabled for it.
type Bridge struct {
	search          external.SearchClient
	images          external.ImageClient
	blobs           external.BlobStore
	creds           services.CredentialLookup
	defaultImageKey string
	config          *ToolConfig
	logger          *slog.Logger
}

// BridgeConfig groups the Bridge dependencies. Nil clients disable their tool.
type BridgeConfig struct {
	Search          external.SearchClient
	Images          external.ImageClient
	Blobs           external.BlobStore
	Credentials     services.CredentialLookup
	DefaultImageKey string
	Config          *ToolConfig
	Logger          *slog.Logger
}

// NewBridge creates a new tool bridge
func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.Config == nil {
		cfg.Config = DefaultToolConfig()
	}
	return &Bridge{
		search:          cfg.Search,
		images:          cfg.Images,
		blobs:           cfg.Blobs,
		creds:           cfg.Credentials,
		defaultImageKey: cfg.DefaultImageKey,
		config:          cfg.Config,
		logger:          cfg.Logger,
	}
}

// ForRequest returns the registry for one generation. features is the
// intersection of caller flags and model capability.
func (b *Bridge) ForRequest(userID string, features llmSvc.ToolFeatures) *ToolRegistry {
	builder := NewToolRegistryBuilder().WithConfig(b.config)
	if features.Search {
		builder.WithSearch(b.search)
	}
	if features.ImageGeneration {
		builder.WithImageGeneration(b.images, b.blobs, b.creds, userID, b.defaultImageKey, b.logger)
	}
	return builder.Build()
}
