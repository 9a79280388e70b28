package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/capabilities"
	"parley/internal/domain"
	llmSvc "parley/internal/domain/services/llm"
)

type fakeCreds struct {
	keys  map[string]string
	err   error
	calls int
}

func (f *fakeCreds) GetAPIKey(_ context.Context, userID, family string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.keys[userID+"/"+family], nil
}

// recordingClient captures the key it was built with.
type recordingClient struct {
	kind llmSvc.ProviderKind
	key  string
}

func (c *recordingClient) Kind() llmSvc.ProviderKind { return c.kind }

func (c *recordingClient) OpenStream(context.Context, *llmSvc.StreamRequest) (<-chan llmSvc.StreamEvent, error) {
	ch := make(chan llmSvc.StreamEvent)
	close(ch)
	return ch, nil
}

func newTestResolver(t *testing.T, creds *fakeCreds, defaults map[string]string) (*Resolver, *[]*recordingClient) {
	t.Helper()
	catalog, err := capabilities.NewRegistry()
	require.NoError(t, err)

	built := &[]*recordingClient{}
	factory := func(kind llmSvc.ProviderKind) ClientFactory {
		return func(apiKey string) (llmSvc.Provider, error) {
			c := &recordingClient{kind: kind, key: apiKey}
			*built = append(*built, c)
			return c, nil
		}
	}
	pf := NewProviderFactoryWith(map[llmSvc.ProviderKind]ClientFactory{
		llmSvc.Primary:   factory(llmSvc.Primary),
		llmSvc.Secondary: factory(llmSvc.Secondary),
		llmSvc.Tertiary:  factory(llmSvc.Tertiary),
	}, defaults)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewResolver(catalog, pf, creds, logger), built
}

func TestResolver_Resolve(t *testing.T) {
	creds := &fakeCreds{}
	r, built := newTestResolver(t, creds, nil)

	resolved, err := r.Resolve("gemini-2.5-flash", "u1")
	require.NoError(t, err)
	assert.Equal(t, llmSvc.Secondary, resolved.Kind)
	assert.True(t, resolved.SupportsThinking)
	assert.True(t, resolved.Tools.Search)
	assert.Equal(t, "gemini-2.5-flash", resolved.ProviderModel)
	assert.Equal(t, llmSvc.Secondary, resolved.Provider.Kind())

	lite, err := r.Resolve("gemini-2.0-flash-lite", "u1")
	require.NoError(t, err)
	assert.False(t, lite.Tools.Search)
	assert.False(t, lite.Tools.ImageGeneration)

	// Resolution performs no I/O
	assert.Zero(t, creds.calls)
	assert.Empty(t, *built)
}

func TestResolver_UnknownModel(t *testing.T) {
	r, _ := newTestResolver(t, &fakeCreds{}, nil)

	_, err := r.Resolve("gpt-99", "u1")
	var resErr *domain.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "gpt-99", resErr.ModelID)

	_, err = r.Resolve("", "u1")
	require.ErrorAs(t, err, &resErr)
}

func TestResolver_CredentialPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		userKeys map[string]string
		credErr  error
		defaults map[string]string
		wantKey  string
		wantErr  bool
	}{
		{
			name:     "user key wins over default",
			userKeys: map[string]string{"u1/anthropic": "user-key"},
			defaults: map[string]string{"anthropic": "default-key"},
			wantKey:  "user-key",
		},
		{
			name:     "default when user has none",
			defaults: map[string]string{"anthropic": "default-key"},
			wantKey:  "default-key",
		},
		{
			name:     "lookup failure falls back to default",
			credErr:  errors.New("db down"),
			defaults: map[string]string{"anthropic": "default-key"},
			wantKey:  "default-key",
		},
		{
			name:    "no credential fails at dispatch",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, built := newTestResolver(t, &fakeCreds{keys: tt.userKeys, err: tt.credErr}, tt.defaults)

			resolved, err := r.Resolve("claude-sonnet-4-5", "u1")
			require.NoError(t, err, "resolution never fails on credentials")

			_, err = resolved.Provider.OpenStream(context.Background(), &llmSvc.StreamRequest{Model: resolved.ProviderModel})
			if tt.wantErr {
				var provErr *domain.ProviderError
				require.ErrorAs(t, err, &provErr)
				assert.Equal(t, "anthropic", provErr.Provider)
				assert.ErrorIs(t, err, errNoCredential)
				assert.Empty(t, *built)
				return
			}
			require.NoError(t, err)
			require.Len(t, *built, 1)
			assert.Equal(t, tt.wantKey, (*built)[0].key)
		})
	}
}

func TestResolver_RebuildsClientPerCall(t *testing.T) {
	r, built := newTestResolver(t, &fakeCreds{}, map[string]string{"openrouter": "k"})

	resolved, err := r.Resolve("deepseek-r1", "")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := resolved.Provider.OpenStream(context.Background(), &llmSvc.StreamRequest{})
		require.NoError(t, err)
	}
	require.Len(t, *built, 2)
	assert.NotSame(t, (*built)[0], (*built)[1])
}
