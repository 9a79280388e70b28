package handler

import (
	"log/slog"
	"net/http"

	"parley/internal/capabilities"
	"parley/internal/httputil"
)

// ModelsHandler lists the model catalog
type ModelsHandler struct {
	registry *capabilities.Registry
	defaults func(family string) string
	logger   *slog.Logger
}

// NewModelsHandler creates a new models handler. defaults reports the
// process-wide key of a family.
func NewModelsHandler(registry *capabilities.Registry, defaults func(family string) string, logger *slog.Logger) *ModelsHandler {
	return &ModelsHandler{registry: registry, defaults: defaults, logger: logger}
}

// ProviderResponse represents a provider family with its models
type ProviderResponse struct {
	ID string `json:"id"`
	// Kind is primary, secondary or tertiary
	Kind string `json:"kind"`
	// HasDefaultKey is false when callers must bring their own key
	HasDefaultKey bool                             `json:"has_default_key"`
	Models        []capabilities.ModelCapabilities `json:"models"`
}

// GetCapabilities returns every catalog model grouped by provider
// GET /api/models
func (h *ModelsHandler) GetCapabilities(w http.ResponseWriter, r *http.Request) {
	providers := make([]ProviderResponse, 0)
	for _, id := range h.registry.GetAllProviders() {
		models, err := h.registry.ListProviderModels(id)
		if err != nil {
			h.logger.Warn("provider listed without models", "provider", id, "error", err)
			continue
		}
		kind := ""
		if len(models) > 0 {
			if p, _, ok := h.registry.Lookup(models[0].ID); ok {
				kind = p.Kind
			}
		}
		providers = append(providers, ProviderResponse{
			ID:            id,
			Kind:          kind,
			HasDefaultKey: h.defaults != nil && h.defaults(id) != "",
			Models:        models,
		})
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"providers": providers,
	})
}
