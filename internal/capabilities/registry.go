package capabilities

import (
	"embed"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed config/*.yaml
var configFiles embed.FS

// providerFiles lists the embedded catalog files, one per provider family.
var providerFiles = []string{"anthropic", "gemini", "openrouter"}

// Registry is the model catalog. Lookups are in-memory only.
type Registry struct {
	providers map[string]*ProviderCapabilities
	byModel   map[string]entry
	mu        sync.RWMutex
}

type entry struct {
	provider *ProviderCapabilities
	model    *ModelCapabilities
}

// NewRegistry creates a registry from the embedded YAML files
func NewRegistry() (*Registry, error) {
	r := &Registry{
		providers: make(map[string]*ProviderCapabilities),
		byModel:   make(map[string]entry),
	}

	for _, provider := range providerFiles {
		data, err := configFiles.ReadFile(fmt.Sprintf("config/%s.yaml", provider))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s capabilities: %w", provider, err)
		}
		if err := r.Load(data); err != nil {
			return nil, fmt.Errorf("failed to load %s capabilities: %w", provider, err)
		}
	}

	return r, nil
}

// Load adds one provider catalog document. Model ids must be unique across providers.
func (r *Registry) Load(data []byte) error {
	var providerCaps ProviderCapabilities
	if err := yaml.Unmarshal(data, &providerCaps); err != nil {
		return fmt.Errorf("unmarshal catalog: %w", err)
	}
	if providerCaps.Provider == "" {
		return fmt.Errorf("catalog is missing provider")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range providerCaps.Models {
		id := providerCaps.Models[i].ID
		if existing, ok := r.byModel[id]; ok && existing.provider.Provider != providerCaps.Provider {
			return fmt.Errorf("model %s declared by both %s and %s", id, existing.provider.Provider, providerCaps.Provider)
		}
	}

	r.providers[providerCaps.Provider] = &providerCaps
	for i := range providerCaps.Models {
		r.byModel[providerCaps.Models[i].ID] = entry{provider: &providerCaps, model: &providerCaps.Models[i]}
	}
	return nil
}

// Lookup returns the model and its provider family. ok is false for unknown ids.
func (r *Registry) Lookup(modelID string) (*ProviderCapabilities, *ModelCapabilities, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byModel[modelID]
	if !ok {
		return nil, nil, false
	}
	return e.provider, e.model, true
}

// ListProviderModels returns all models for a provider (ordered as defined in YAML)
func (r *Registry) ListProviderModels(provider string) ([]ModelCapabilities, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providerCaps, ok := r.providers[provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
	return providerCaps.Models, nil
}

// GetAllProviders returns the registered provider names, sorted
func (r *Registry) GetAllProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]string, 0, len(r.providers))
	for provider := range r.providers {
		providers = append(providers, provider)
	}
	sort.Strings(providers)
	return providers
}
