package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sentinelhq/sentinel/internal/metrics"
	"github.com/sentinelhq/sentinel/internal/provider"
	"github.com/sentinelhq/sentinel/internal/tools"
)

// LoopResult is the outcome of one Run.
type LoopResult struct {
	Text       string
	Iterations int
	ToolCalls  int
	Capped     bool
}

// Run drives the model until it stops asking for tools or the iteration
// cap is reached. Each iteration executes one turn of tool calls.
func (o *Orchestrator) Run(ctx context.Context, system string, messages []provider.Message, uc tools.UserContext) (*LoopResult, error) {
	defs := o.tools.Definitions()
	res := &LoopResult{}

	resp, err := o.callModel(ctx, system, messages, defs)
	if err != nil {
		return nil, err
	}
	for resp.StopReason == provider.StopToolUse && res.Iterations < o.maxIterations {
		uses := provider.ToolUses(resp.Parts)
		if len(uses) == 0 {
			break
		}
		res.Iterations++
		res.ToolCalls += len(uses)

		results := o.runTools(ctx, uses, uc)
		messages = append(messages,
			provider.Message{Role: provider.RoleAssistant, Parts: resp.Parts},
			provider.Message{Role: provider.RoleUser, Parts: results},
		)

		resp, err = o.callModel(ctx, system, messages, defs)
		if err != nil {
			return nil, err
		}
	}
	if resp.StopReason == provider.StopToolUse {
		res.Capped = true
		slog.Warn("Tool iteration cap reached", "iterations", res.Iterations)
	}
	metrics.LoopIterations.Observe(float64(res.Iterations))

	res.Text = finalText(resp.Parts)
	return res, nil
}

func (o *Orchestrator) callModel(ctx context.Context, system string, messages []provider.Message, defs []provider.ToolDefinition) (*provider.MessageResponse, error) {
	name := o.provider.Name()
	start := time.Now()
	resp, err := o.provider.CreateMessage(ctx, &provider.MessageRequest{
		System:    system,
		Messages:  messages,
		Tools:     defs,
		MaxTokens: o.maxTokens,
	})
	metrics.ModelLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ModelCalls.WithLabelValues(name, "error").Inc()
		return nil, fmt.Errorf("model call: %w", err)
	}
	metrics.ModelCalls.WithLabelValues(name, "ok").Inc()
	return resp, nil
}

// runTools executes one turn of tool calls concurrently and returns the
// results in request order. Failures become error-flagged results.
func (o *Orchestrator) runTools(ctx context.Context, uses []provider.ToolUsePart, uc tools.UserContext) []provider.Part {
	results := make([]provider.Part, len(uses))
	var wg sync.WaitGroup
	for i, use := range uses {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = o.runTool(ctx, use, uc)
		}()
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) runTool(ctx context.Context, use provider.ToolUsePart, uc tools.UserContext) (part provider.Part) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Tool panicked", "tool", use.Name, "panic", r)
			metrics.ToolCalls.WithLabelValues(use.Name, "panic").Inc()
			part = provider.ToolResultPart{
				ToolUseID: use.ID,
				ToolName:  use.Name,
				Content:   fmt.Sprintf("Error: %v", r),
				IsError:   true,
			}
		}
	}()

	out, err := o.tools.Dispatch(ctx, use.Name, use.Input, uc)
	if err != nil {
		slog.Warn("Tool failed", "tool", use.Name, "duration_ms", time.Since(start).Milliseconds(), "error", err)
		metrics.ToolCalls.WithLabelValues(use.Name, "error").Inc()
		return provider.ToolResultPart{
			ToolUseID: use.ID,
			ToolName:  use.Name,
			Content:   "Error: " + err.Error(),
			IsError:   true,
		}
	}
	slog.Debug("Tool executed", "tool", use.Name, "duration_ms", time.Since(start).Milliseconds(), "result_length", len(out))
	metrics.ToolCalls.WithLabelValues(use.Name, "ok").Inc()
	return provider.ToolResultPart{ToolUseID: use.ID, ToolName: use.Name, Content: out}
}

func finalText(parts []provider.Part) string {
	if text := provider.TextOf(parts); text != "" {
		return text
	}
	return NoTextReply
}
