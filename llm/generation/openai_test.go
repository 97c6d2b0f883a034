package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/memeflow/types"
)

func newTestProvider(url string) *OpenAIProvider {
	return NewOpenAIProvider(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: url,
		Timeout: 2 * time.Second,
	})
}

func TestOpenAIProvider_GenerateText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"model":   "gpt-4o-mini",
			"created": 1700000000,
			"choices": []map[string]any{{
				"message":       map[string]string{"role": "assistant", "content": "When the build passes first try"},
				"finish_reason": "stop",
			}},
		})
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	artifact, err := p.Generate(context.Background(), &Request{
		Kind:         KindText,
		Prompt:       "Create a funny meme about: coffee breaks",
		SystemPrompt: "You are a meme writer.",
	})

	require.NoError(t, err)
	assert.Equal(t, KindText, artifact.Kind)
	assert.Equal(t, "When the build passes first try", artifact.Text)
	assert.Equal(t, "Create a funny meme about: coffee breaks", artifact.SourcePrompt)
	assert.Equal(t, artifact.Text, artifact.Payload())
}

func TestOpenAIProvider_GenerateImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)

		var req imageGenerationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 1, req.N)
		assert.Equal(t, "1024x1024", req.Size)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"created": 1700000000,
			"data":    []map[string]string{{"url": "https://cdn.example/meme.png"}},
		})
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	artifact, err := p.Generate(context.Background(), &Request{
		Kind:   KindImage,
		Prompt: "internet meme style, office coffee machine",
	})

	require.NoError(t, err)
	assert.Equal(t, KindImage, artifact.Kind)
	assert.Equal(t, "https://cdn.example/meme.png", artifact.ImageURL)
	assert.Equal(t, "https://cdn.example/meme.png", artifact.Payload())
}

func TestOpenAIProvider_PolicyRefusal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{
				"message": "Your request was rejected by the safety system.",
				"code":    "content_policy_violation",
			},
		})
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	_, err := p.Generate(context.Background(), &Request{Kind: KindImage, Prompt: "x"})

	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamRejected, types.GetErrorCode(err))
	assert.False(t, types.IsRetryable(err), "an upstream refusal must not be retried")
}

func TestOpenAIProvider_ContentFilterFinishReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]string{"role": "assistant", "content": ""},
				"finish_reason": "content_filter",
			}},
		})
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	_, err := p.Generate(context.Background(), &Request{Kind: KindText, Prompt: "x"})

	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamRejected, types.GetErrorCode(err))
}

func TestOpenAIProvider_ServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	_, err := p.Generate(context.Background(), &Request{Kind: KindText, Prompt: "x"})

	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamUnavailable, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestOpenAIProvider_RateLimitIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	_, err := p.Generate(context.Background(), &Request{Kind: KindText, Prompt: "x"})

	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
}

func TestOpenAIProvider_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: 20 * time.Millisecond,
	})
	_, err := p.Generate(context.Background(), &Request{Kind: KindText, Prompt: "x"})

	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamTimeout, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestOpenAIProvider_UnknownKind(t *testing.T) {
	p := newTestProvider("http://localhost:0")
	_, err := p.Generate(context.Background(), &Request{Kind: Kind("audio"), Prompt: "x"})

	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}
