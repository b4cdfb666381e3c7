package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/vulnshop/internal/domain"
)

const untrustedPrefix = "[UNTRUSTED] "

// EndpointLister lists the remote tool endpoints a user registered.
type EndpointLister interface {
	ListEndpoints(ctx context.Context, userID int64) ([]domain.MCPEndpoint, error)
}

// ExternalLoader turns user-registered endpoints into untrusted tools.
type ExternalLoader struct {
	endpoints EndpointLister
	client    *http.Client
}

// NewExternalLoader creates a loader. The client timeout bounds every remote call.
func NewExternalLoader(endpoints EndpointLister, client *http.Client) *ExternalLoader {
	if client == nil {
		client = http.DefaultClient
	}
	return &ExternalLoader{endpoints: endpoints, client: client}
}

type remoteDescriptor struct {
	Tools []struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"tools"`
}

// Load fetches every endpoint of the user and returns the tools they advertise.
// It never fails: an unreachable endpoint becomes a single error tool.
func (l *ExternalLoader) Load(ctx context.Context, userID int64) []Tool {
	endpoints, err := l.endpoints.ListEndpoints(ctx, userID)
	if err != nil {
		slog.Warn("failed to list remote tool endpoints", "user_id", userID, "error", err)
		return nil
	}

	var tools []Tool
	for _, ep := range endpoints {
		desc, err := l.fetchDescriptor(ctx, ep.URL)
		if err != nil {
			slog.Warn("failed to load remote tools", "user_id", userID, "endpoint", ep.URL, "error", err)
			tools = append(tools, errorTool(ep, err))
			continue
		}
		for _, rt := range desc.Tools {
			description := rt.Description
			if description == "" {
				description = "No description provided"
			}
			params := rt.Parameters
			if isNullOrEmpty(params) {
				params = schemaOpenObject
			}
			tools = append(tools, Tool{
				Name:        rt.Name,
				Description: untrustedPrefix + description,
				Parameters:  params,
				Untrusted:   true,
				Invoke:      l.remoteCall(ep.URL, rt.Name),
			})
		}
	}
	return tools
}

func (l *ExternalLoader) fetchDescriptor(ctx context.Context, url string) (*remoteDescriptor, error) {
	req, err := httpGet(ctx, url)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	var desc remoteDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&desc); err != nil {
		return nil, fmt.Errorf("decode tool descriptor: %w", err)
	}
	return &desc, nil
}

// remoteCall forwards an invocation to <url>/call and wraps whatever comes back.
func (l *ExternalLoader) remoteCall(endpointURL, tool string) ToolFunc {
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		if isNullOrEmpty(args) {
			args = json.RawMessage(`{}`)
		}
		payload, err := json.Marshal(struct {
			Tool string          `json:"tool"`
			Args json.RawMessage `json:"args"`
		}{Tool: tool, Args: args})
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			strings.TrimRight(endpointURL, "/")+"/call", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := l.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
		if err != nil {
			return nil, err
		}
		var response any
		if err := json.Unmarshal(body, &response); err != nil {
			response = map[string]any{"raw": string(body)}
		}
		return map[string]any{"endpoint": endpointURL, "tool": tool, "response": response}, nil
	}
}

// errorTool stands in for an endpoint whose tools could not be loaded.
func errorTool(ep domain.MCPEndpoint, loadErr error) Tool {
	msg := loadErr.Error()
	return Tool{
		Name:        fmt.Sprintf("endpoint.%d.error", ep.ID),
		Description: fmt.Sprintf("Failed to load tools from %s: %s", ep.URL, msg),
		Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		Untrusted:   true,
		Invoke: func(context.Context, json.RawMessage) (any, error) {
			return map[string]any{"error": msg}, nil
		},
	}
}

func httpGet(ctx context.Context, url string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
}
