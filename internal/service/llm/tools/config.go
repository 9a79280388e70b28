package tools

// ToolConfig centralizes configuration for all tools.
type ToolConfig struct {
	// Search tool configuration
	SearchDefaultLimit int // Default number of search results
	SearchMaxLimit     int // Maximum allowed search results

	// Image tool configuration
	ImageContentType string // Stored content type of generated images
	ImageKeyPrefix   string // Blob key prefix for generated images
}

// DefaultToolConfig returns the default tool configuration.
func DefaultToolConfig() *ToolConfig {
	return &ToolConfig{
		SearchDefaultLimit: 5,
		SearchMaxLimit:     10,

		ImageContentType: "image/png",
		ImageKeyPrefix:   "generated-images",
	}
}
