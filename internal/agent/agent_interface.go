package agent

import (
	"context"
)

// Model produces the next assistant message for a conversation.
// This interface is implemented by the Ollama client.
type Model interface {
	// Chat sends the full conversation and returns the raw reply text.
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Ensure OllamaClient implements Model.
var _ Model = (*OllamaClient)(nil)
