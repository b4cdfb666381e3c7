package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaClientChat(t *testing.T) {
	t.Parallel()

	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"{\"action\":\"final\",\"content\":\"hi\"}"}}`))
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultOllamaConfig()
	cfg.Host = srv.URL + "/"
	cfg.Model = "test-model"
	client := NewOllamaClient(cfg, nil)

	reply, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hello"}})
	require.NoError(t, err)
	assert.Equal(t, `{"action":"final","content":"hi"}`, reply)

	assert.Equal(t, "test-model", got.Model)
	assert.False(t, got.Stream)
	assert.InDelta(t, 0.2, got.Options.Temperature, 1e-9)
	assert.Equal(t, []Message{{Role: RoleUser, Content: "hello"}}, got.Messages)
}

func TestOllamaClientStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultOllamaConfig()
	cfg.Host = srv.URL
	_, err := NewOllamaClient(cfg, nil).Chat(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModelStatus))
	assert.Contains(t, err.Error(), "404 model not found")
}

func TestMessageContent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "object", raw: `{"role":"assistant","content":"hi"}`, want: "hi"},
		{name: "string", raw: `"plain"`, want: "plain"},
		{name: "null", raw: `null`, want: ""},
		{name: "number", raw: `42`, want: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, messageContent(json.RawMessage(tt.raw)), tt.name)
	}
}
