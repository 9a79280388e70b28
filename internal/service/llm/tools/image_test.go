package tools

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmSvc "parley/internal/domain/services/llm"
	"parley/internal/service/llm/tools/external"
)

type fakeImageClient struct {
	gotKey string
	err    error
}

func (f *fakeImageClient) Generate(_ context.Context, apiKey, prompt string) (*external.GeneratedImage, error) {
	f.gotKey = apiKey
	if f.err != nil {
		return nil, f.err
	}
	return &external.GeneratedImage{Data: []byte("png-bytes"), RevisedPrompt: "a fluffy " + prompt}, nil
}

type fakeBlobs struct {
	objects map[string][]byte
	err     error
}

func (f *fakeBlobs) Put(_ context.Context, key, _ string, data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = data
	return "https://cdn.example/" + key, nil
}

type staticCreds map[string]string

func (c staticCreds) GetAPIKey(_ context.Context, userID, family string) (string, error) {
	return c[userID+"/"+family], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestImageTool_Success(t *testing.T) {
	tests := []struct {
		name        string
		creds       staticCreds
		wantKey     string
		wantUserKey bool
	}{
		{"caller key overrides system key", staticCreds{"u1/image": "user-key"}, "user-key", true},
		{"system key when caller has none", staticCreds{}, "system-key", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeImageClient{}
			blobs := &fakeBlobs{}
			tool := NewImageTool(client, blobs, tt.creds, "u1", "system-key", nil, discardLogger())
			tool.now = fixedNow

			out, err := tool.Execute(context.Background(), map[string]interface{}{"prompt": "cat"})
			require.NoError(t, err)

			result := out.(map[string]interface{})
			assert.Equal(t, true, result["success"])
			assert.Equal(t, "cat", result["prompt"])
			assert.Equal(t, "a fluffy cat", result["description"])
			assert.Equal(t, tt.wantUserKey, result["usedUserKey"])
			assert.Equal(t, tt.wantKey, client.gotKey)

			storageID := result["storageId"].(string)
			assert.True(t, strings.HasPrefix(storageID, "generated-images/"))
			assert.Equal(t, "https://cdn.example/"+storageID, result["imageUrl"])
			assert.Equal(t, []byte("png-bytes"), blobs.objects[storageID])
		})
	}
}

func TestImageTool_Failures(t *testing.T) {
	tests := []struct {
		name       string
		client     *fakeImageClient
		blobs      *fakeBlobs
		defaultKey string
		input      map[string]interface{}
	}{
		{"missing prompt", &fakeImageClient{}, &fakeBlobs{}, "k", map[string]interface{}{}},
		{"no credential", &fakeImageClient{}, &fakeBlobs{}, "", map[string]interface{}{"prompt": "cat"}},
		{"api failure", &fakeImageClient{err: errors.New("quota")}, &fakeBlobs{}, "k", map[string]interface{}{"prompt": "cat"}},
		{"storage failure", &fakeImageClient{}, &fakeBlobs{err: errors.New("bucket gone")}, "k", map[string]interface{}{"prompt": "cat"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := NewImageTool(tt.client, tt.blobs, staticCreds{}, "u1", tt.defaultKey, nil, discardLogger())
			tool.now = fixedNow

			out, err := tool.Execute(context.Background(), tt.input)
			require.NoError(t, err, "image tool never raises")

			result := out.(map[string]interface{})
			assert.Equal(t, false, result["success"])
			assert.NotEmpty(t, result["error"])
			assert.Equal(t, "2025-03-01T12:00:00Z", result["timestamp"])
			assert.NotContains(t, result, "imageUrl")
		})
	}
}

func TestBridge_ForRequest(t *testing.T) {
	bridge := NewBridge(BridgeConfig{
		Search: external.NewTavilyClient("k"),
		Images: &fakeImageClient{},
		Blobs:  &fakeBlobs{},
		Logger: discardLogger(),
	})

	assert.Equal(t, 0, bridge.ForRequest("u1", llmSvc.ToolFeatures{}).Len())

	onlySearch := bridge.ForRequest("u1", llmSvc.ToolFeatures{Search: true})
	require.Equal(t, 1, onlySearch.Len())
	assert.NotNil(t, onlySearch.Get(SearchToolName))

	both := bridge.ForRequest("u1", llmSvc.ToolFeatures{Search: true, ImageGeneration: true})
	specs := both.Specs()
	require.Len(t, specs, 2)
	assert.Equal(t, GenerateImageToolName, specs[0].Name)
	assert.Equal(t, SearchToolName, specs[1].Name)

	noBlobs := NewBridge(BridgeConfig{Images: &fakeImageClient{}, Logger: discardLogger()})
	assert.Equal(t, 0, noBlobs.ForRequest("u1", llmSvc.ToolFeatures{ImageGeneration: true}).Len())
}
