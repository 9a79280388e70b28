package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"parley/internal/domain/services"
	llmSvc "parley/internal/domain/services/llm"
	"parley/internal/service/llm/tools/external"
)

// ImageCredentialFamily is the credential namespace for image generation keys.
const ImageCredentialFamily = "image"

var errNoImageCredential = errors.New("no image generation credential configured")

// ImageTool implements the 'generateImage' tool: it generates an image,
// stores it in blob storage and returns its URL.
type ImageTool struct {
	client     external.ImageClient
	blobs      external.BlobStore
	creds      services.CredentialLookup
	userID     string
	defaultKey string
	config     *ToolConfig
	logger     *slog.Logger
	now        func() time.Time
}

// NewImageTool creates an image tool scoped to one caller.
func NewImageTool(
	client external.ImageClient,
	blobs external.BlobStore,
	creds services.CredentialLookup,
	userID string,
	defaultKey string,
	config *ToolConfig,
	logger *slog.Logger,
) *ImageTool {
	if config == nil {
		config = DefaultToolConfig()
	}
	return &ImageTool{
		client:     client,
		blobs:      blobs,
		creds:      creds,
		userID:     userID,
		defaultKey: defaultKey,
		config:     config,
		logger:     logger,
		now:        time.Now,
	}
}

// Spec implements ToolExecutor.
func (t *ImageTool) Spec() llmSvc.ToolSpec {
	return llmSvc.ToolSpec{
		Name:        GenerateImageToolName,
		Description: "Generate an image from a text description.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"prompt": map[string]interface{}{
					"type":        "string",
					"description": "A detailed description of the image to generate",
				},
			},
			"required": []string{"prompt"},
		},
	}
}

// Execute implements ToolExecutor.
// Returns {success, prompt, description, imageUrl, storageId, timestamp, usedUserKey}
// or {success: false, error, prompt, timestamp, usedUserKey}.
func (t *ImageTool) Execute(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	prompt, _ := input["prompt"].(string)
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return t.failure(prompt, false, errors.New("missing required parameter: prompt (string)")), nil
	}

	apiKey, usedUserKey := t.apiKey(ctx)
	if apiKey == "" {
		return t.failure(prompt, false, errNoImageCredential), nil
	}

	image, err := t.client.Generate(ctx, apiKey, prompt)
	if err != nil {
		return t.failure(prompt, usedUserKey, err), nil
	}

	storageID := fmt.Sprintf("%s/%s.png", t.config.ImageKeyPrefix, uuid.New().String())
	url, err := t.blobs.Put(ctx, storageID, t.config.ImageContentType, image.Data)
	if err != nil {
		return t.failure(prompt, usedUserKey, fmt.Errorf("store image: %w", err)), nil
	}

	description := image.RevisedPrompt
	if description == "" {
		description = prompt
	}

	t.logger.Info("image generated",
		"storage_id", storageID,
		"bytes", len(image.Data),
		"used_user_key", usedUserKey,
	)

	return map[string]interface{}{
		"success":     true,
		"prompt":      prompt,
		"description": description,
		"imageUrl":    url,
		"storageId":   storageID,
		"timestamp":   t.now().UTC().Format(time.RFC3339),
		"usedUserKey": usedUserKey,
	}, nil
}

// apiKey applies the precedence caller key > process default.
func (t *ImageTool) apiKey(ctx context.Context) (string, bool) {
	if t.creds != nil && t.userID != "" {
		key, err := t.creds.GetAPIKey(ctx, t.userID, ImageCredentialFamily)
		if err != nil {
			t.logger.Warn("image credential lookup failed", "user_id", t.userID, "error", err)
		} else if key != "" {
			return key, true
		}
	}
	return t.defaultKey, false
}

func (t *ImageTool) failure(prompt string, usedUserKey bool, err error) map[string]interface{} {
	t.logger.Warn("image generation failed", "error", err, "used_user_key", usedUserKey)
	return map[string]interface{}{
		"success":     false,
		"error":       err.Error(),
		"prompt":      prompt,
		"timestamp":   t.now().UTC().Format(time.RFC3339),
		"usedUserKey": usedUserKey,
	}
}
