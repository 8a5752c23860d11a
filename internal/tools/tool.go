// Package tools provides the tool catalog exposed to the model and the
// dispatcher that routes tool calls to implementations.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sentinelhq/sentinel/internal/provider"
)

// ErrUnknownTool is returned by Dispatch for names not in the catalog.
var ErrUnknownTool = errors.New("unknown tool")

// UserContext identifies who a tool call runs for. It never carries a raw
// chat platform token.
type UserContext struct {
	UserID           string
	WindsorAPIKey    string
	SlackUserID      string
	OwnerSlackUserID string
	TeamID           string
	ChannelID        string
}

// Tool is the interface that all catalog tools implement.
type Tool interface {
	// Name returns the tool identifier used in function calls.
	Name() string
	// Description is the guidance the model reads to decide when to call it.
	Description() string
	// Parameters returns the JSON Schema for tool parameters.
	Parameters() map[string]any
	// Execute runs the tool. The result is the text fed back to the model.
	Execute(ctx context.Context, params map[string]any, uc UserContext) (string, error)
}

// ValidationError reports malformed tool input.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s %s", e.Field, e.Msg)
}

func required(field string) error {
	return &ValidationError{Field: field, Msg: "is required"}
}

// Registry manages tool registration and dispatch.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering a name twice replaces the tool but
// keeps its position.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; !exists {
		r.order = append(r.order, tool.Name())
	}
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.tools[name])
	}
	return result
}

// Definitions returns the catalog in the provider-neutral shape.
func (r *Registry) Definitions() []provider.ToolDefinition {
	list := r.List()
	result := make([]provider.ToolDefinition, 0, len(list))
	for _, tool := range list {
		result = append(result, provider.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.Parameters(),
		})
	}
	return result
}

// Dispatch routes a call by name. It performs no authorization; each tool
// scopes its own lookups by uc.UserID.
func (r *Registry) Dispatch(ctx context.Context, name string, params map[string]any, uc UserContext) (string, error) {
	tool, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if params == nil {
		params = map[string]any{}
	}
	return tool.Execute(ctx, params, uc)
}

// GetString extracts a string parameter with a default value.
func GetString(params map[string]any, key string, defaultVal string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetInt extracts an int parameter with a default value.
func GetInt(params map[string]any, key string, defaultVal int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return defaultVal
}

// GetStringSlice extracts a list of strings. Non-string items are skipped.
func GetStringSlice(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// GetObject extracts a nested object parameter.
func GetObject(params map[string]any, key string) map[string]any {
	if m, ok := params[key].(map[string]any); ok {
		return m
	}
	return nil
}

func jsonResult(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode tool result: %w", err)
	}
	return string(b), nil
}

func schema(props map[string]any, req ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(req) > 0 {
		s["required"] = req
	}
	return s
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func dateRangeSchema(required bool) map[string]any {
	s := map[string]any{
		"type":        "object",
		"description": "Inclusive date range",
		"properties": map[string]any{
			"start": str("Start date (YYYY-MM-DD)"),
			"end":   str("End date (YYYY-MM-DD)"),
		},
	}
	if required {
		s["required"] = []string{"start", "end"}
	}
	return s
}
