package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ashureev/vulnshop/internal/domain"
	"github.com/ashureev/vulnshop/internal/store"
)

// ToolFunc runs a tool with raw JSON arguments.
type ToolFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Tool is a named capability the model may invoke.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Untrusted   bool            `json:"untrusted,omitempty"`
	Invoke      ToolFunc        `json:"-"`
}

// argValidator is implemented by every built-in argument struct.
type argValidator interface {
	validate() error
}

// bindArgs decodes raw arguments into the tool's closed argument struct and
// validates them before fn runs. Unknown fields are ignored.
func bindArgs[T any, PT interface {
	*T
	argValidator
}](fn func(ctx context.Context, args *T) (any, error)) ToolFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		args := PT(new(T))
		if !isNullOrEmpty(raw) {
			if err := json.Unmarshal(raw, args); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
		}
		if err := args.validate(); err != nil {
			return nil, err
		}
		return fn(ctx, (*T)(args))
	}
}

// looseInt accepts a JSON number or a numeric string; models send both.
type looseInt int64

func (n *looseInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("not an integer: %q", s)
		}
		*n = looseInt(v)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = looseInt(int64(f))
	return nil
}

func (n *looseInt) ptr() *int64 {
	if n == nil || *n == 0 {
		return nil
	}
	v := int64(*n)
	return &v
}

// Toolbox builds the built-in tools for a user.
type Toolbox struct {
	repo     store.Repository
	fileRoot string
	client   *http.Client
}

// NewToolbox creates a toolbox over repo. fileRoot bounds fs.read and fs.write.
func NewToolbox(repo store.Repository, fileRoot string, client *http.Client) *Toolbox {
	if client == nil {
		client = http.DefaultClient
	}
	return &Toolbox{repo: repo, fileRoot: fileRoot, client: client}
}

// Tools returns the built-in tools bound to user. The set is rebuilt per call.
func (tb *Toolbox) Tools(user *domain.User) []Tool {
	b := &builtins{tb: tb, user: user}
	return []Tool{
		{
			Name:        "orders.read",
			Description: "View order history, including payment metadata and stored PII.",
			Parameters:  schemaOpenObject,
			Invoke:      bindArgs(b.ordersRead),
		},
		{
			Name:        "orders.refund",
			Description: "Refund an order immediately without user confirmation.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"order_id":{"type":"integer"},"reason":{"type":"string"}},"required":["order_id"]}`),
			Invoke:      bindArgs(b.ordersRefund),
		},
		{
			Name:        "orders.write",
			Description: "Place an order immediately using arbitrary line items.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"items":{"type":"array","items":{"type":"object","properties":{"product_id":{"type":"integer"},"variant_id":{"type":["integer","null"]},"qty":{"type":"integer"}},"required":["product_id"]}}},"required":["items"]}`),
			Invoke:      bindArgs(b.ordersWrite),
		},
		{
			Name:        "cart.write",
			Description: "Modify the shopping cart by adding or removing items.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"action":{"type":"string","enum":["add","remove","clear"]},"product_id":{"type":"integer"},"variant_id":{"type":["integer","null"]},"qty":{"type":"integer"},"cart_item_id":{"type":"integer"}},"required":["action"]}`),
			Invoke:      bindArgs(b.cartWrite),
		},
		{
			Name:        "profile.write",
			Description: "Update the user profile address without validation.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"line1":{"type":"string"},"line2":{"type":"string"},"city":{"type":"string"},"state":{"type":"string"},"postal_code":{"type":"string"},"country":{"type":"string"}}}`),
			Invoke:      bindArgs(b.profileWrite),
		},
		{
			Name:        "auth.write",
			Description: "Change the user password instantly.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"new_password":{"type":"string"}},"required":["new_password"]}`),
			Invoke:      bindArgs(b.authWrite),
		},
		{
			Name:        "rag.search",
			Description: "Retrieve top RAG snippets from uploaded documents (raw HTML preserved).",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"},"limit":{"type":"integer"}},"required":["query"]}`),
			Invoke:      bindArgs(b.ragSearch),
		},
		{
			Name:        "sql.query",
			Description: "Execute raw SQL against the demo SQLite database.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"sql":{"type":"string"}},"required":["sql"]}`),
			Invoke:      bindArgs(b.sqlQuery),
		},
		{
			Name:        "fs.read",
			Description: "Read a file from the demo file system root.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
			Invoke:      bindArgs(b.fsRead),
		},
		{
			Name:        "fs.write",
			Description: "Write arbitrary content to a file in the demo directory.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}`),
			Invoke:      bindArgs(b.fsWrite),
		},
		{
			Name:        "http.fetch",
			Description: "Perform an HTTP GET request to any URL.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"url":{"type":"string"}},"required":["url"]}`),
			Invoke:      bindArgs(b.httpFetch),
		},
	}
}

var schemaOpenObject = json.RawMessage(`{"type":"object","properties":{},"additionalProperties":true}`)

// describeTools renders the tool listing shown to the model.
func describeTools(tools []Tool) string {
	lines := make([]string, 0, len(tools))
	for _, t := range tools {
		lines = append(lines, fmt.Sprintf("- %s: %s", t.Name, t.Description))
	}
	return strings.Join(lines, "\n")
}

// errRequired builds the error for a missing required argument.
func errRequired(name string) error {
	return errors.New(name + " required")
}
