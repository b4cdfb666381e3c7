package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrModelStatus is returned when the model backend answers with a non-2xx status.
var ErrModelStatus = errors.New("ollama error")

// OllamaConfig holds configuration for the Ollama client.
type OllamaConfig struct {
	Host        string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// DefaultOllamaConfig returns default configuration.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:        "http://localhost:11434",
		Model:       "llama3.1",
		Temperature: 0.2,
		Timeout:     120 * time.Second,
	}
}

// OllamaClient talks to a local Ollama server over its chat API.
type OllamaClient struct {
	cfg    OllamaConfig
	client *http.Client
	logger *slog.Logger
}

// NewOllamaClient creates a new client. A zero timeout means no timeout.
func NewOllamaClient(cfg OllamaConfig, logger *slog.Logger) *OllamaClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaChatResponse struct {
	Message json.RawMessage `json:"message"`
}

// Chat sends a non-streaming chat request and returns the assistant content.
func (c *OllamaClient) Chat(ctx context.Context, messages []Message) (string, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Stream:   false,
		Options:  ollamaOptions{Temperature: c.cfg.Temperature},
	})
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	url := strings.TrimRight(c.cfg.Host, "/") + "/api/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: %d %s", ErrModelStatus, resp.StatusCode, strings.TrimSpace(string(text)))
	}

	var payload ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	c.logger.Debug("model call finished",
		"model", c.cfg.Model,
		"messages", len(messages),
		"duration", time.Since(start))
	return messageContent(payload.Message), nil
}

// messageContent reads message.content, falling back to a bare string message.
func messageContent(raw json.RawMessage) string {
	if isNullOrEmpty(raw) {
		return ""
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err == nil {
		return msg.Content
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}
