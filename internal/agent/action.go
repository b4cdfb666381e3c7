package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strings"
)

// Action kinds the model may emit.
const (
	ActionTool  = "tool"
	ActionFinal = "final"
)

// Action is one decoded model decision.
type Action struct {
	Kind    string
	Tool    string
	Args    json.RawMessage
	Content string
}

var (
	jsonFenceRe    = regexp.MustCompile("(?is)```json(.*?)```")
	genericFenceRe = regexp.MustCompile("(?s)```(.*?)```")
)

// ParseAction extracts an action from raw model output. ok is false when the
// text holds no decodable tool or final action; callers then treat the raw
// text as the final answer.
func ParseAction(raw string) (Action, bool) {
	candidate, ok := extractCandidate(raw)
	if !ok {
		return Action{}, false
	}
	return decodeAction(candidate)
}

// extractCandidate returns the interior of the first ```json fence, else of the
// first generic fence, else the trimmed text.
func extractCandidate(raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", false
	}
	if m := jsonFenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	if m := genericFenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	return text, true
}

type wireAction struct {
	Action  string          `json:"action"`
	Tool    string          `json:"tool"`
	Args    json.RawMessage `json:"args"`
	Content json.RawMessage `json:"content"`
}

func decodeAction(candidate string) (Action, bool) {
	dec := json.NewDecoder(strings.NewReader(candidate))
	var w wireAction
	if err := dec.Decode(&w); err != nil {
		return Action{}, false
	}
	// Exactly one JSON value; stray delimiters count as trailing data.
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Action{}, false
	}

	switch w.Action {
	case ActionTool:
		args := w.Args
		if isNullOrEmpty(args) {
			args = json.RawMessage(`{}`)
		}
		return Action{Kind: ActionTool, Tool: w.Tool, Args: args}, true
	case ActionFinal:
		return Action{Kind: ActionFinal, Content: finalContent(w.Content)}, true
	default:
		return Action{}, false
	}
}

// finalContent unwraps a JSON string; any other value keeps its JSON text.
func finalContent(raw json.RawMessage) string {
	if isNullOrEmpty(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func isNullOrEmpty(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
