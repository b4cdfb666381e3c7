// Package agent implements the shop concierge: a tool-calling loop over a chat model.
package agent

import (
	"encoding/json"

	"github.com/ashureev/vulnshop/internal/domain"
	"github.com/ashureev/vulnshop/internal/flags"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a model conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of a chat call: the client-held conversation history.
type ChatRequest struct {
	Messages []Message `json:"messages"`
}

// ToolTrace records one tool invocation of a chat request.
type ToolTrace struct {
	Tool   string          `json:"tool"`
	Args   json.RawMessage `json:"args"`
	Result any             `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ChatResult is what a chat request returns to the client.
type ChatResult struct {
	Reply           string         `json:"reply"`
	ToolTraces      []ToolTrace    `json:"tool_traces"`
	RetrievedChunks []domain.Chunk `json:"retrieved_chunks"`
	AwardedFlags    []flags.Award  `json:"awarded_flags"`
}

// Config holds agent configuration.
type Config struct {
	SoftMaxToolCalls int
}

// DefaultConfig returns default agent configuration.
func DefaultConfig() Config {
	return Config{SoftMaxToolCalls: 8}
}

// MaxTurns is the hard cap on model calls for one request.
func (c Config) MaxTurns() int {
	return c.SoftMaxToolCalls + 3
}

// fallbackReply is used when the loop ends without a usable answer.
const fallbackReply = "I had trouble formulating a response, but the last tool results should help."
