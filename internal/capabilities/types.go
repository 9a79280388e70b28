package capabilities

import "gopkg.in/yaml.v3"

// ModelCapabilities is the catalog entry for one logical model id.
type ModelCapabilities struct {
	// Logical model identifier (set during YAML unmarshaling)
	ID string `yaml:"-" json:"id"`

	// ProviderModel is the id sent to the provider; defaults to ID.
	ProviderModel string `yaml:"provider_model" json:"provider_model,omitempty"`

	DisplayName string `yaml:"display_name" json:"display_name"`

	SupportsTools           bool `yaml:"supports_tools" json:"supports_tools"`
	SupportsThinking        bool `yaml:"supports_thinking" json:"supports_thinking"`
	SupportsSearch          bool `yaml:"supports_search" json:"supports_search"`
	SupportsImageGeneration bool `yaml:"supports_image_generation" json:"supports_image_generation"`

	MaxOutput int `yaml:"max_output" json:"max_output"`
}

// ProviderCapabilities represents all models of one provider family.
type ProviderCapabilities struct {
	Provider string              `yaml:"provider" json:"provider"`
	Kind     string              `yaml:"kind" json:"kind"` // primary | secondary | tertiary
	Models   []ModelCapabilities `yaml:"-" json:"models"`  // YAML order, populated by custom unmarshaler
}

// UnmarshalYAML keeps the model order of the YAML file.
func (p *ProviderCapabilities) UnmarshalYAML(node *yaml.Node) error {
	type header struct {
		Provider string                       `yaml:"provider"`
		Kind     string                       `yaml:"kind"`
		Models   map[string]ModelCapabilities `yaml:"models"`
	}
	var h header
	if err := node.Decode(&h); err != nil {
		return err
	}
	p.Provider = h.Provider
	p.Kind = h.Kind

	// Mapping node content alternates key, value
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value != "models" {
			continue
		}
		modelsNode := node.Content[i+1]
		for j := 0; j+1 < len(modelsNode.Content); j += 2 {
			id := modelsNode.Content[j].Value
			model, ok := h.Models[id]
			if !ok {
				continue
			}
			model.ID = id
			if model.ProviderModel == "" {
				model.ProviderModel = id
			}
			p.Models = append(p.Models, model)
		}
		break
	}
	return nil
}
