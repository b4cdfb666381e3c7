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

	"github.com/ashureev/vulnshop/internal/domain"
)

type fakeEndpoints struct {
	endpoints []domain.MCPEndpoint
	err       error
}

func (f fakeEndpoints) ListEndpoints(context.Context, int64) ([]domain.MCPEndpoint, error) {
	return f.endpoints, f.err
}

func TestExternalLoaderDefaults(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"tools":[{"name":"notes.echo"}]}`))
	})
	mux.HandleFunc("POST /call", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("plain text"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	loader := NewExternalLoader(fakeEndpoints{endpoints: []domain.MCPEndpoint{{ID: 7, URL: srv.URL + "/"}}}, nil)
	tools := loader.Load(context.Background(), 1)
	require.Len(t, tools, 1)

	tool := tools[0]
	assert.Equal(t, "notes.echo", tool.Name)
	assert.Equal(t, "[UNTRUSTED] No description provided", tool.Description)
	assert.True(t, tool.Untrusted)
	assert.JSONEq(t, string(schemaOpenObject), string(tool.Parameters))

	out, err := tool.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"endpoint": srv.URL + "/",
		"tool":     "notes.echo",
		"response": map[string]any{"raw": "plain text"},
	}, out)
}

func TestExternalLoaderUnreachableEndpoint(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	loader := NewExternalLoader(fakeEndpoints{endpoints: []domain.MCPEndpoint{{ID: 3, URL: url}}}, nil)
	tools := loader.Load(context.Background(), 1)
	require.Len(t, tools, 1)
	assert.Equal(t, "endpoint.3.error", tools[0].Name)
	assert.Contains(t, tools[0].Description, "Failed to load tools from "+url+": ")

	out, err := tools[0].Invoke(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Contains(t, out, "error")
}

func TestExternalLoaderListingErrorYieldsNoTools(t *testing.T) {
	t.Parallel()

	loader := NewExternalLoader(fakeEndpoints{err: errors.New("db closed")}, nil)
	assert.Empty(t, loader.Load(context.Background(), 1))
}
