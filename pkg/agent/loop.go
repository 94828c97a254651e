package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/llm"
)

// Config bounds one agent's loop.
type Config struct {
	Name         string
	Tier         llm.Tier
	System       string
	MaxRounds    int
	RoundTimeout time.Duration
	MaxTokens    int
}

// Result is the outcome of a completed loop.
type Result struct {
	FinalText  string
	Rounds     int
	Messages   []llm.Message
	Scratchpad *Scratchpad
}

// Loop drives one agent: call the model, dispatch tool calls, feed results
// back, until the model answers without tools or a tool records final text.
type Loop struct {
	client   llm.Client
	registry *Registry
	cfg      Config
}

// NewLoop creates a loop over a client and tool set.
func NewLoop(client llm.Client, registry *Registry, cfg Config) *Loop {
	return &Loop{client: client, registry: registry, cfg: cfg}
}

// Run executes the loop from the initial conversation. The caller's context
// carries the overall deadline; each round additionally gets its own timeout.
func (l *Loop) Run(ctx context.Context, initial []llm.Message) (*Result, error) {
	messages := append([]llm.Message(nil), initial...)
	sp := NewScratchpad()
	defs := l.registry.Definitions()
	lastFailed := false

	for round := 1; round <= l.cfg.MaxRounds; round++ {
		roundCtx, cancel := context.WithTimeout(ctx, l.cfg.RoundTimeout)

		resp, err := l.client.Complete(roundCtx, &llm.Request{
			Tier:      l.cfg.Tier,
			System:    l.cfg.System,
			Messages:  messages,
			Tools:     defs,
			MaxTokens: l.cfg.MaxTokens,
		})
		if err != nil {
			cancel()
			if ctx.Err() != nil {
				return nil, fmt.Errorf("agent %s cancelled: %w", l.cfg.Name, ctx.Err())
			}
			if lastFailed {
				return nil, fmt.Errorf("agent %s failed twice in a row: %w", l.cfg.Name, err)
			}
			lastFailed = true
			slog.Warn("Agent round failed, retrying with error context",
				"agent", l.cfg.Name, "round", round, "error", err)
			messages = append(messages, llm.Message{
				Role: llm.RoleUser,
				Text: fmt.Sprintf("Error from previous attempt: %s. Please try again.", err.Error()),
			})
			continue
		}
		lastFailed = false

		if len(resp.ToolCalls) == 0 {
			cancel()
			sp.Set(FinalTextKey, resp.Text)
			return &Result{FinalText: resp.Text, Rounds: round, Messages: messages, Scratchpad: sp}, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Text:      resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		results := l.dispatch(roundCtx, resp.ToolCalls, sp)
		cancel()
		messages = append(messages, llm.Message{Role: llm.RoleUser, ToolResults: results})

		if final, ok := sp.FinalText(); ok {
			return &Result{FinalText: final, Rounds: round, Messages: messages, Scratchpad: sp}, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("agent %s cancelled: %w", l.cfg.Name, err)
		}
	}

	return l.forceConclusion(ctx, messages, sp)
}

// dispatch executes a response's tool calls: sequential tools first in call
// order, then the parallel-safe batch concurrently with all-settled
// semantics. Results always come back in the original call order regardless
// of which path executed them.
func (l *Loop) dispatch(ctx context.Context, calls []llm.ToolCall, sp *Scratchpad) []llm.ToolResult {
	results := make([]llm.ToolResult, len(calls))
	var parallel []int

	for i, call := range calls {
		tool, ok := l.registry.Get(call.Name)
		if !ok {
			results[i] = llm.ToolResult{
				ToolCallID: call.ID,
				Content:    fmt.Sprintf("Unknown tool: %s", call.Name),
				IsError:    true,
			}
			continue
		}
		if tool.Parallel() {
			parallel = append(parallel, i)
			continue
		}
		results[i] = l.execute(ctx, tool, call, sp)
	}

	var wg sync.WaitGroup
	for _, i := range parallel {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tool, _ := l.registry.Get(calls[i].Name)
			results[i] = l.execute(ctx, tool, calls[i], sp)
		}(i)
	}
	wg.Wait()

	return results
}

func (l *Loop) execute(ctx context.Context, tool Tool, call llm.ToolCall, sp *Scratchpad) llm.ToolResult {
	start := time.Now()
	content, err := tool.Execute(ctx, call.Input, sp)
	if err != nil {
		slog.Warn("Tool execution failed",
			"agent", l.cfg.Name, "tool", call.Name, "duration", time.Since(start), "error", err)
		return llm.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
	}
	return llm.ToolResult{ToolCallID: call.ID, Content: content}
}

// forceConclusion calls the model once more without tools after the round
// budget runs out, forcing a text-only answer.
func (l *Loop) forceConclusion(ctx context.Context, messages []llm.Message, sp *Scratchpad) (*Result, error) {
	slog.Info("Agent reached max rounds, forcing conclusion",
		"agent", l.cfg.Name, "max_rounds", l.cfg.MaxRounds)

	messages = append(messages, llm.Message{
		Role: llm.RoleUser,
		Text: fmt.Sprintf("You have used all %d working rounds. Provide your final answer now based on the work so far.", l.cfg.MaxRounds),
	})

	roundCtx, cancel := context.WithTimeout(ctx, l.cfg.RoundTimeout)
	defer cancel()

	resp, err := l.client.Complete(roundCtx, &llm.Request{
		Tier:      l.cfg.Tier,
		System:    l.cfg.System,
		Messages:  messages,
		MaxTokens: l.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s forced conclusion failed: %w", l.cfg.Name, err)
	}
	return &Result{FinalText: resp.Text, Rounds: l.cfg.MaxRounds, Messages: messages, Scratchpad: sp}, nil
}
