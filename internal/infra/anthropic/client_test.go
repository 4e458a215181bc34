package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/repo-scorecard/internal/core/ai"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient("test-key", "claude-test")
	require.NoError(t, err)
	client.baseURL = server.URL

	return client
}

// TestChatSuccess は正常系のレスポンス変換を確認します
func TestChatSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))

		var body messagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-test", body.Model)
		require.Len(t, body.Messages, 1)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"content": [{"type": "text", "text": "{\"score\": 8}"}],
			"usage": {"input_tokens": 120, "output_tokens": 30}
		}`))
	})

	resp, err := client.Chat(context.Background(), ai.Request{
		Messages: []ai.Message{{Role: ai.RoleUser, Content: "score this"}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"score": 8}`, resp.Content)
	assert.Equal(t, ai.Usage{PromptTokens: 120, CompletionTokens: 30, TotalTokens: 150}, resp.Usage)
}

// TestChatJSONModeAddsInstruction はJSONモード時のシステム指示付与を確認します
func TestChatJSONModeAddsInstruction(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body messagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body.System, "JSON object")

		_, _ = w.Write([]byte(`{"content": [{"type": "text", "text": "{}"}], "usage": {"input_tokens": 1, "output_tokens": 1}}`))
	})

	_, err := client.Chat(context.Background(), ai.Request{
		Messages: []ai.Message{{Role: ai.RoleUser, Content: "x"}},
		Params:   ai.Params{JSONOutput: true},
	})
	require.NoError(t, err)
}

// TestChatProviderError はプロバイダエラーの分類を確認します
func TestChatProviderError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"type": "rate_limit_error", "message": "Too many requests"}}`))
	})

	_, err := client.Chat(context.Background(), ai.Request{
		Messages: []ai.Message{{Role: ai.RoleUser, Content: "x"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrProvider)
	assert.Contains(t, err.Error(), "Too many requests")
}

// TestNewClientRequiresAPIKey はAPIキー必須の検証を確認します
func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient("", "claude-test")
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)
}
