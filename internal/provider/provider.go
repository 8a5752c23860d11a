// Package provider implements the AI provider contract and its upstream
// adapters.
package provider

import (
	"context"
	"strings"
)

// AIProvider is the interface every LLM backend implements.
type AIProvider interface {
	// CreateMessage sends one conversation turn and returns the model's parts.
	CreateMessage(ctx context.Context, req *MessageRequest) (*MessageResponse, error)
	// Name identifies the backend in logs and metrics.
	Name() string
}

// Role is the speaker of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// StopReason tells why the model stopped producing output.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Part is one content element of a message. Exactly one of TextPart,
// ToolUsePart and ToolResultPart.
type Part interface {
	isPart()
}

// TextPart is plain text.
type TextPart struct {
	Text string
}

// ToolUsePart is a model request to invoke a tool.
type ToolUsePart struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResultPart carries a tool's output back to the model. ToolName is
// needed by backends that correlate results by name instead of id.
type ToolResultPart struct {
	ToolUseID string
	ToolName  string
	Content   string
	IsError   bool
}

func (TextPart) isPart()       {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}

// Message is one entry of the conversation sent to the model.
type Message struct {
	Role  Role
	Parts []Part
}

// UserText builds a user message holding a single text part.
func UserText(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{TextPart{Text: text}}}
}

// AssistantText builds an assistant message holding a single text part.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Parts: []Part{TextPart{Text: text}}}
}

// ToolDefinition describes a callable tool. InputSchema is a JSON-schema
// object (type, properties, required).
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// MessageRequest is the provider-neutral request.
type MessageRequest struct {
	System    string
	Messages  []Message
	Tools     []ToolDefinition
	MaxTokens int
}

// MessageResponse is the provider-neutral response.
type MessageResponse struct {
	Parts      []Part
	StopReason StopReason
	Usage      Usage
}

// Usage contains token usage information.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// TextOf joins every text part with newlines.
func TextOf(parts []Part) string {
	var texts []string
	for _, p := range parts {
		if t, ok := p.(TextPart); ok && t.Text != "" {
			texts = append(texts, t.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// ToolUses returns the tool-use parts in order.
func ToolUses(parts []Part) []ToolUsePart {
	var out []ToolUsePart
	for _, p := range parts {
		if u, ok := p.(ToolUsePart); ok {
			out = append(out, u)
		}
	}
	return out
}
