package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"paper-tutor/config"
)

func newTestClient(t *testing.T, handler func(t *testing.T, w http.ResponseWriter, r *http.Request)) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		handler(t, w, r)
	}))
	t.Cleanup(server.Close)
	client := NewClient(&config.Config{
		AnthropicBaseURL: server.URL,
		AnthropicAPIKey:  "test-key",
		AnthropicModel:   "claude-3-5-sonnet-20241022",
	}, zap.NewNop())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestClient_Complete(t *testing.T) {
	client := newTestClient(t, func(t *testing.T, w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))

		var reqBody messagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reqBody))
		assert.Equal(t, "claude-3-5-sonnet-20241022", reqBody.Model)
		assert.Equal(t, 4000, reqBody.MaxTokens)
		require.Len(t, reqBody.Messages, 1)
		assert.Equal(t, "user", reqBody.Messages[0].Role)

		json.NewEncoder(w).Encode(messagesResponse{
			ID:         "msg_123",
			Model:      "claude-3-5-sonnet-20241022",
			StopReason: "end_turn",
			Content: []contentBlock{
				{Type: "text", Text: "[{\"text\":\"Did X increase?\"}]"},
			},
			Usage: Usage{InputTokens: 500, OutputTokens: 200},
		})
	})

	text, usage, err := client.Complete(context.Background(), "system", "user prompt", 4000, 0.3)
	require.NoError(t, err)
	assert.Equal(t, "[{\"text\":\"Did X increase?\"}]", text)
	assert.Equal(t, 500, usage.InputTokens)
	assert.Equal(t, 200, usage.OutputTokens)
}

func TestClient_CompleteRateLimited(t *testing.T) {
	client := newTestClient(t, func(t *testing.T, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"type":  "error",
			"error": map[string]string{"type": "rate_limit_error", "message": "try again later"},
		})
	})

	_, _, err := client.Complete(context.Background(), "system", "user", 100, 0)
	require.Error(t, err)
	// The caller's retry classification keys on this wording.
	assert.Contains(t, err.Error(), "rate limit")
}

func TestClient_CompleteAPIError(t *testing.T) {
	client := newTestClient(t, func(t *testing.T, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"type":  "error",
			"error": map[string]string{"type": "authentication_error", "message": "invalid key"},
		})
	})

	_, _, err := client.Complete(context.Background(), "system", "user", 100, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication_error")
	assert.NotContains(t, err.Error(), "rate limit")
}

func TestClient_CompleteEmptyContent(t *testing.T) {
	client := newTestClient(t, func(t *testing.T, w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(messagesResponse{StopReason: "max_tokens"})
	})

	_, _, err := client.Complete(context.Background(), "system", "user", 100, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty completion")
}
