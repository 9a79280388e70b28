package external

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// GeneratedImage is decoded image output.
type GeneratedImage struct {
	Data          []byte
	RevisedPrompt string
}

// ImageClient generates images. The API key is supplied per call so callers
// can choose between their own key and the process default.
type ImageClient interface {
	Generate(ctx context.Context, apiKey, prompt string) (*GeneratedImage, error)
}

// OpenAIImageClient implements ImageClient against an OpenAI-compatible
// images endpoint.
type OpenAIImageClient struct {
	baseURL string
	model   string
	size    string
}

// NewOpenAIImageClient creates an image client. An empty baseURL uses the
// library default.
func NewOpenAIImageClient(baseURL, model string) *OpenAIImageClient {
	return &OpenAIImageClient{
		baseURL: baseURL,
		model:   model,
		size:    openai.CreateImageSize1024x1024,
	}
}

// Generate requests one base64-encoded image and decodes it.
func (c *OpenAIImageClient) Generate(ctx context.Context, apiKey, prompt string) (*GeneratedImage, error) {
	clientConfig := openai.DefaultConfig(apiKey)
	if c.baseURL != "" {
		clientConfig.BaseURL = c.baseURL
	}
	client := openai.NewClientWithConfig(clientConfig)

	resp, err := client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          c.model,
		N:              1,
		Size:           c.size,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("image request failed: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, errors.New("image response contained no data")
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return &GeneratedImage{Data: data, RevisedPrompt: resp.Data[0].RevisedPrompt}, nil
}
