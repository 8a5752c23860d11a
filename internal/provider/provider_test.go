package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/genai"
)

func noSleepPolicy(sleeps *[]time.Duration) *RetryPolicy {
	p := DefaultRetryPolicy()
	p.Sleep = func(_ context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	return &p
}

func TestTextOfAndToolUses(t *testing.T) {
	parts := []Part{
		TextPart{Text: "one"},
		ToolUsePart{ID: "t1", Name: "search"},
		TextPart{Text: "two"},
	}
	if got := TextOf(parts); got != "one\ntwo" {
		t.Errorf("TextOf = %q", got)
	}
	uses := ToolUses(parts)
	if len(uses) != 1 || uses[0].Name != "search" {
		t.Errorf("ToolUses = %+v", uses)
	}
}

func TestRetryPolicy_BackoffThenOverloaded(t *testing.T) {
	var sleeps []time.Duration
	p := noSleepPolicy(&sleeps)
	calls := 0
	boom := errors.New("busy")
	err := p.Do(context.Background(), "test", func(context.Context) error {
		calls++
		return boom
	}, func(error) Classification { return Classification{Retryable: true} })

	var oe *OverloadedError
	if !errors.As(err, &oe) {
		t.Fatalf("expected OverloadedError, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(sleeps) != 2 || sleeps[0] != 2*time.Second || sleeps[1] != 4*time.Second {
		t.Errorf("unexpected sleeps %v", sleeps)
	}
	if !errors.Is(err, boom) {
		t.Error("expected wrapped cause")
	}
}

func TestRetryPolicy_NonRetryablePassesThrough(t *testing.T) {
	var sleeps []time.Duration
	p := noSleepPolicy(&sleeps)
	boom := errors.New("bad request")
	err := p.Do(context.Background(), "test", func(context.Context) error { return boom },
		func(error) Classification { return Classification{} })
	if err != boom {
		t.Fatalf("expected raw error, got %v", err)
	}
	if len(sleeps) != 0 {
		t.Errorf("expected no sleeps, got %v", sleeps)
	}
}

func TestRetryPolicy_LongCooldownIsQuotaExhausted(t *testing.T) {
	var sleeps []time.Duration
	p := noSleepPolicy(&sleeps)
	err := p.Do(context.Background(), "test", func(context.Context) error { return errors.New("quota") },
		func(error) Classification { return Classification{Retryable: true, Cooldown: 300 * time.Second} })
	var qe *QuotaExhaustedError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QuotaExhaustedError, got %v", err)
	}
	if qe.RetryAfter != 300*time.Second {
		t.Errorf("RetryAfter = %s", qe.RetryAfter)
	}
	if len(sleeps) != 0 {
		t.Errorf("expected no sleeps, got %v", sleeps)
	}
}

func TestAnthropicProvider_ParsesContentAndDropsThinking(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-sonnet-4-5",
			"content": [
				{"type": "thinking", "thinking": "hmm", "signature": "sig"},
				{"type": "text", "text": "Looking that up."},
				{"type": "tool_use", "id": "tu_1", "name": "search", "input": {"query": "acme"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 12, "output_tokens": 7}
		}`)
	}))
	defer server.Close()

	p := NewAnthropicProvider(AnthropicOptions{APIKey: "k", BaseURL: server.URL})
	resp, err := p.CreateMessage(context.Background(), &MessageRequest{
		System:   "be brief",
		Messages: []Message{UserText("find acme")},
		Tools: []ToolDefinition{{
			Name:        "search",
			Description: "Search clients",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": map[string]any{"type": "string"}},
				"required":   []string{"query"},
			},
		}},
	})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if resp.StopReason != StopToolUse {
		t.Errorf("stop reason = %s", resp.StopReason)
	}
	if len(resp.Parts) != 2 {
		t.Fatalf("expected 2 parts, got %d: %+v", len(resp.Parts), resp.Parts)
	}
	uses := ToolUses(resp.Parts)
	if len(uses) != 1 || uses[0].ID != "tu_1" || uses[0].Input["query"] != "acme" {
		t.Errorf("tool use = %+v", uses)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 7 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if body["model"] != DefaultAnthropicModel {
		t.Errorf("model sent = %v", body["model"])
	}
	tools, _ := body["tools"].([]any)
	if len(tools) != 1 {
		t.Errorf("expected 1 tool sent, got %v", body["tools"])
	}
}

func TestAnthropicProvider_RetriesOverloaded(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(529)
			io.WriteString(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"m","type":"message","role":"assistant","model":"x",
			"content":[{"type":"text","text":"ok"}],"stop_reason":"end_turn",
			"usage":{"input_tokens":1,"output_tokens":1}}`)
	}))
	defer server.Close()

	var sleeps []time.Duration
	p := NewAnthropicProvider(AnthropicOptions{APIKey: "k", BaseURL: server.URL, Retry: noSleepPolicy(&sleeps)})
	resp, err := p.CreateMessage(context.Background(), &MessageRequest{Messages: []Message{UserText("hi")}})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if TextOf(resp.Parts) != "ok" {
		t.Errorf("text = %q", TextOf(resp.Parts))
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
	if len(sleeps) != 2 {
		t.Errorf("expected 2 backoff waits, got %v", sleeps)
	}
}

func TestAnthropicProvider_LongRetryAfterIsQuotaExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "600")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer server.Close()

	var sleeps []time.Duration
	p := NewAnthropicProvider(AnthropicOptions{APIKey: "k", BaseURL: server.URL, Retry: noSleepPolicy(&sleeps)})
	_, err := p.CreateMessage(context.Background(), &MessageRequest{Messages: []Message{UserText("hi")}})
	var qe *QuotaExhaustedError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QuotaExhaustedError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single call, got %d", calls.Load())
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d := parseRetryAfter("30"); d != 30*time.Second {
		t.Errorf("seconds form = %s", d)
	}
	if d := parseRetryAfter(""); d != 0 {
		t.Errorf("empty = %s", d)
	}
	if d := parseRetryAfter("soon"); d != 0 {
		t.Errorf("garbage = %s", d)
	}
}

func TestToGeminiSchema_UppercasesTypes(t *testing.T) {
	s := toGeminiSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"campaignIds": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"time":        map[string]any{"type": "string", "description": "HH:MM"},
		},
		"required": []any{"campaignIds"},
	})
	if s.Type != genai.TypeObject {
		t.Errorf("type = %s", s.Type)
	}
	ids := s.Properties["campaignIds"]
	if ids == nil || ids.Type != genai.TypeArray || ids.Items == nil || ids.Items.Type != genai.TypeString {
		t.Errorf("campaignIds schema = %+v", ids)
	}
	if len(s.Required) != 1 || s.Required[0] != "campaignIds" {
		t.Errorf("required = %v", s.Required)
	}
}

func TestToGeminiDeclarations_OmitsEmptyParameters(t *testing.T) {
	decls := toGeminiDeclarations([]ToolDefinition{
		{Name: "list_clients", InputSchema: map[string]any{"type": "object", "properties": map[string]any{}}},
	})
	if decls[0].Parameters != nil {
		t.Errorf("expected nil parameters, got %+v", decls[0].Parameters)
	}
}

func TestToGeminiContents_Roles(t *testing.T) {
	contents := toGeminiContents([]Message{
		UserText("hi"),
		{Role: RoleAssistant, Parts: []Part{ToolUsePart{ID: "search_0", Name: "search", Input: map[string]any{"query": "a"}}}},
		{Role: RoleUser, Parts: []Part{ToolResultPart{ToolUseID: "search_0", ToolName: "search", Content: "[]"}}},
	})
	if len(contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(contents))
	}
	if contents[1].Role != "model" {
		t.Errorf("assistant role = %s", contents[1].Role)
	}
	fr := contents[2].Parts[0].FunctionResponse
	if fr == nil || fr.Name != "search" || fr.Response["content"] != "[]" || fr.Response["is_error"] != false {
		t.Errorf("function response = %+v", fr)
	}
}

func TestFromGeminiResponse(t *testing.T) {
	resp := fromGeminiResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{
				{Text: "pondering", Thought: true},
				{Text: "Checking."},
				{FunctionCall: &genai.FunctionCall{Name: "search", Args: map[string]any{"query": "acme"}}},
			}},
			FinishReason: genai.FinishReasonStop,
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 4, CandidatesTokenCount: 2},
	})
	if resp.StopReason != StopToolUse {
		t.Errorf("stop reason = %s", resp.StopReason)
	}
	if TextOf(resp.Parts) != "Checking." {
		t.Errorf("text = %q", TextOf(resp.Parts))
	}
	uses := ToolUses(resp.Parts)
	if len(uses) != 1 || uses[0].ID != "search_2" {
		t.Errorf("tool uses = %+v", uses)
	}
	if resp.Usage.InputTokens != 4 || resp.Usage.OutputTokens != 2 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestFromGeminiResponse_SafetyFallback(t *testing.T) {
	resp := fromGeminiResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
	})
	if TextOf(resp.Parts) != GeminiSafetyFallback {
		t.Errorf("text = %q", TextOf(resp.Parts))
	}
	resp = fromGeminiResponse(&genai.GenerateContentResponse{
		PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety},
	})
	if TextOf(resp.Parts) != GeminiSafetyFallback {
		t.Errorf("blocked prompt text = %q", TextOf(resp.Parts))
	}
}

func TestClassifyGemini(t *testing.T) {
	c := classifyGemini(genai.APIError{
		Code:    429,
		Status:  "RESOURCE_EXHAUSTED",
		Details: []map[string]any{{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "300s"}},
	})
	if !c.Retryable || c.Cooldown != 300*time.Second {
		t.Errorf("classification = %+v", c)
	}
	c = classifyGemini(genai.APIError{Code: 503, Message: "Please retry in 7.5s."})
	if !c.Retryable || c.Cooldown != 7500*time.Millisecond {
		t.Errorf("message hint classification = %+v", c)
	}
	if c := classifyGemini(genai.APIError{Code: 400, Status: "INVALID_ARGUMENT"}); c.Retryable {
		t.Error("400 should not be retryable")
	}
	if c := classifyGemini(errors.New("plain")); c.Retryable {
		t.Error("plain errors should not be retryable")
	}
}

func TestGeminiProvider_QuotaExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED",
			"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"300s"}]}}`)
	}))
	defer server.Close()

	var sleeps []time.Duration
	p, err := NewGeminiProvider(context.Background(), GeminiOptions{APIKey: "k", BaseURL: server.URL, Retry: noSleepPolicy(&sleeps)})
	if err != nil {
		t.Fatalf("NewGeminiProvider: %v", err)
	}
	_, err = p.CreateMessage(context.Background(), &MessageRequest{Messages: []Message{UserText("hi")}})
	var qe *QuotaExhaustedError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QuotaExhaustedError, got %v", err)
	}
	if len(sleeps) != 0 {
		t.Errorf("expected no backoff waits, got %v", sleeps)
	}
}
