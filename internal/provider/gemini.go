package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiSafetyFallback replaces output withheld by Gemini's safety filters.
const GeminiSafetyFallback = "Response blocked by Gemini safety filters."

var geminiRetryInRe = regexp.MustCompile(`(?i)retry in ([\d.]+)\s*s`)

// GeminiOptions configures a GeminiProvider.
type GeminiOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Retry      *RetryPolicy
}

// GeminiProvider talks to the Gemini API through the genai SDK.
type GeminiProvider struct {
	client *genai.Client
	model  string
	retry  RetryPolicy
}

// NewGeminiProvider creates a Gemini adapter.
func NewGeminiProvider(ctx context.Context, opts GeminiOptions) (*GeminiProvider, error) {
	cc := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	model := opts.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	retry := DefaultRetryPolicy()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	return &GeminiProvider{client: client, model: model, retry: retry}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

// CreateMessage implements AIProvider.
func (p *GeminiProvider) CreateMessage(ctx context.Context, req *MessageRequest) (*MessageResponse, error) {
	cfg := &genai.GenerateContentConfig{}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if len(req.Tools) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: toGeminiDeclarations(req.Tools)}}
	}
	contents := toGeminiContents(req.Messages)

	var resp *genai.GenerateContentResponse
	err := p.retry.Do(ctx, p.Name(), func(ctx context.Context) error {
		var err error
		resp, err = p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
		return err
	}, classifyGemini)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}
	return fromGeminiResponse(resp), nil
}

func toGeminiContents(msgs []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := string(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = string(genai.RoleModel)
		}
		parts := make([]*genai.Part, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch p := part.(type) {
			case TextPart:
				if p.Text != "" {
					parts = append(parts, &genai.Part{Text: p.Text})
				}
			case ToolUsePart:
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{Name: p.Name, Args: p.Input}})
			case ToolResultPart:
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					Name:     p.ToolName,
					Response: map[string]any{"content": p.Content, "is_error": p.IsError},
				}})
			}
		}
		if len(parts) == 0 {
			continue
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}
	return out
}

func toGeminiDeclarations(defs []ToolDefinition) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		decl := &genai.FunctionDeclaration{Name: def.Name, Description: def.Description}
		// Gemini rejects OBJECT parameters without properties.
		if props, ok := def.InputSchema["properties"].(map[string]any); ok && len(props) > 0 {
			decl.Parameters = toGeminiSchema(def.InputSchema)
		}
		out = append(out, decl)
	}
	return out
}

// toGeminiSchema converts a JSON-schema map, upper-casing type names.
func toGeminiSchema(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if pm, ok := raw.(map[string]any); ok {
				s.Properties[name] = toGeminiSchema(pm)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = toGeminiSchema(items)
	}
	s.Required = stringSlice(m["required"])
	s.Enum = stringSlice(m["enum"])
	return s
}

func fromGeminiResponse(resp *genai.GenerateContentResponse) *MessageResponse {
	out := &MessageResponse{StopReason: StopEndTurn}
	if resp == nil {
		return out
	}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			out.Parts = append(out.Parts, TextPart{Text: GeminiSafetyFallback})
		}
		return out
	}

	cand := resp.Candidates[0]
	hasToolUse := false
	if cand.Content != nil {
		for i, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			switch {
			case part.FunctionCall != nil:
				args := part.FunctionCall.Args
				if args == nil {
					args = map[string]any{}
				}
				out.Parts = append(out.Parts, ToolUsePart{
					ID:    fmt.Sprintf("%s_%d", part.FunctionCall.Name, i),
					Name:  part.FunctionCall.Name,
					Input: args,
				})
				hasToolUse = true
			case part.Thought:
			case part.Text != "":
				out.Parts = append(out.Parts, TextPart{Text: part.Text})
			}
		}
	}

	switch {
	case hasToolUse:
		out.StopReason = StopToolUse
	case cand.FinishReason == genai.FinishReasonMaxTokens:
		out.StopReason = StopMaxTokens
	case cand.FinishReason == genai.FinishReasonSafety:
		out.Parts = append(out.Parts, TextPart{Text: GeminiSafetyFallback})
	}
	return out
}

func classifyGemini(err error) Classification {
	apiErr, ok := asGeminiAPIError(err)
	if !ok {
		return Classification{}
	}
	retryable := apiErr.Code == http.StatusTooManyRequests ||
		apiErr.Code == http.StatusServiceUnavailable ||
		apiErr.Status == "RESOURCE_EXHAUSTED" ||
		apiErr.Status == "UNAVAILABLE"
	if !retryable {
		return Classification{}
	}
	return Classification{Retryable: true, Cooldown: geminiRetryDelay(apiErr)}
}

func asGeminiAPIError(err error) (*genai.APIError, bool) {
	var v genai.APIError
	if errors.As(err, &v) {
		return &v, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return p, true
	}
	return nil, false
}

// geminiRetryDelay reads the RetryInfo detail, falling back to the
// "retry in Ns" hint in the message.
func geminiRetryDelay(e *genai.APIError) time.Duration {
	for _, d := range e.Details {
		if s, ok := d["retryDelay"].(string); ok {
			if dur, err := time.ParseDuration(s); err == nil {
				return dur
			}
		}
	}
	if m := geminiRetryInRe.FindStringSubmatch(e.Message); m != nil {
		if secs, err := strconv.ParseFloat(m[1], 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return 0
}
