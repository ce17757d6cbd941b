package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	return NewClient(&Config{
		BaseURL:        ts.URL,
		APIKey:         "test-key",
		Model:          "gpt-3.5-turbo",
		Temperature:    0.3,
		RequestTimeout: time.Second,
	})
}

func TestComplete(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-3.5-turbo", req.Model)
		assert.Equal(t, 150, req.MaxTokens)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.Equal(t, "clasifica esto", req.Messages[0].Content)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{"role": "assistant", "content": `{"label":"positive"}`}},
			},
		})
	})

	content, err := client.Complete(context.Background(), "clasifica esto", 150)
	require.NoError(t, err)
	assert.Equal(t, `{"label":"positive"}`, content)
}

func TestCompleteAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "Rate limit reached", "type": "rate_limit_error"},
		})
	})

	_, err := client.Complete(context.Background(), "prompt", 150)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Rate limit reached")
}

func TestCompleteNoChoices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	})

	_, err := client.Complete(context.Background(), "prompt", 150)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestCompleteUnexpectedStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := client.Complete(context.Background(), "prompt", 150)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 502")
}
