package llm

import (
	"fmt"

	"parley/internal/config"
	llmSvc "parley/internal/domain/services/llm"
	"parley/internal/service/llm/providers"
)

// ClientFactory builds a provider client for a single call from an API key.
type ClientFactory func(apiKey string) (llmSvc.Provider, error)

// ProviderFactory maps provider kinds to client constructors and holds the
// process-wide default keys per provider family.
type ProviderFactory struct {
	clients  map[llmSvc.ProviderKind]ClientFactory
	defaults map[string]string
}

// NewProviderFactory creates a factory wired to the real provider clients
func NewProviderFactory(cfg *config.Config) *ProviderFactory {
	return &ProviderFactory{
		clients: map[llmSvc.ProviderKind]ClientFactory{
			llmSvc.Primary: providers.NewAnthropic,
			llmSvc.Secondary: func(apiKey string) (llmSvc.Provider, error) {
				return providers.NewOpenAICompat(apiKey, cfg.OpenAICompatBaseURL)
			},
			llmSvc.Tertiary: providers.NewOpenRouter,
		},
		defaults: map[string]string{
			"anthropic":  cfg.AnthropicAPIKey,
			"gemini":     cfg.OpenAICompatAPIKey,
			"openrouter": cfg.OpenRouterAPIKey,
		},
	}
}

// NewProviderFactoryWith creates a factory from explicit constructors and defaults
func NewProviderFactoryWith(clients map[llmSvc.ProviderKind]ClientFactory, defaults map[string]string) *ProviderFactory {
	if defaults == nil {
		defaults = map[string]string{}
	}
	return &ProviderFactory{clients: clients, defaults: defaults}
}

// DefaultKey returns the process-wide key for a family ("" if unset)
func (f *ProviderFactory) DefaultKey(family string) string {
	return f.defaults[family]
}

// NewClient builds a client of the given kind
func (f *ProviderFactory) NewClient(kind llmSvc.ProviderKind, apiKey string) (llmSvc.Provider, error) {
	build, ok := f.clients[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported provider kind: %s", kind)
	}
	return build(apiKey)
}

// HasClient reports whether a constructor is registered for kind
func (f *ProviderFactory) HasClient(kind llmSvc.ProviderKind) bool {
	_, ok := f.clients[kind]
	return ok
}
