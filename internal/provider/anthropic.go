package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-sonnet-4-5"

// AnthropicOptions configures an AnthropicProvider.
type AnthropicOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Retry      *RetryPolicy
}

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
	retry  RetryPolicy
}

// NewAnthropicProvider creates an Anthropic adapter. The SDK's own retries
// are disabled; RetryPolicy owns backoff.
func NewAnthropicProvider(opts AnthropicOptions) *AnthropicProvider {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	model := opts.Model
	if model == "" {
		model = DefaultAnthropicModel
	}
	retry := DefaultRetryPolicy()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(reqOpts...),
		model:  model,
		retry:  retry,
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// CreateMessage implements AIProvider.
func (p *AnthropicProvider) CreateMessage(ctx context.Context, req *MessageRequest) (*MessageResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages:  toAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}

	var msg *anthropic.Message
	err := p.retry.Do(ctx, p.Name(), func(ctx context.Context) error {
		var err error
		msg, err = p.client.Messages.New(ctx, params)
		return err
	}, classifyAnthropic)
	if err != nil {
		return nil, fmt.Errorf("anthropic create message: %w", err)
	}
	return fromAnthropicMessage(msg), nil
}

func toAnthropicMessages(msgs []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch p := part.(type) {
			case TextPart:
				if p.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(p.Text))
				}
			case ToolUsePart:
				input := p.Input
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(p.ID, input, p.Name))
			case ToolResultPart:
				blocks = append(blocks, anthropic.NewToolResultBlock(p.ToolUseID, p.Content, p.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func toAnthropicTools(defs []ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		props := def.InputSchema["properties"]
		if props == nil {
			props = map[string]any{}
		}
		tool := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: props,
				Required:   stringSlice(def.InputSchema["required"]),
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return out
}

func fromAnthropicMessage(msg *anthropic.Message) *MessageResponse {
	out := &MessageResponse{
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Parts = append(out.Parts, TextPart{Text: block.Text})
		case "tool_use":
			var input map[string]any
			if raw, err := json.Marshal(block.Input); err == nil {
				_ = json.Unmarshal(raw, &input)
			}
			if input == nil {
				input = map[string]any{}
			}
			out.Parts = append(out.Parts, ToolUsePart{ID: block.ID, Name: block.Name, Input: input})
		default:
			// thinking and redacted_thinking blocks are not part of the contract
		}
	}
	switch msg.StopReason {
	case "tool_use":
		out.StopReason = StopToolUse
	case "max_tokens":
		out.StopReason = StopMaxTokens
	default:
		out.StopReason = StopEndTurn
	}
	return out
}

func classifyAnthropic(err error) Classification {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return Classification{}
	}
	var c Classification
	switch {
	case apiErr.StatusCode == 529, apiErr.StatusCode == http.StatusTooManyRequests:
		c.Retryable = true
	case strings.Contains(apiErr.Error(), "overloaded_error"):
		c.Retryable = true
	}
	if c.Retryable && apiErr.Response != nil {
		c.Cooldown = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
	}
	return c
}

// parseRetryAfter reads a Retry-After header in seconds or HTTP-date form.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func stringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
