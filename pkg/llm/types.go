// Package llm defines the model client used by the pipeline agents and its
// Anthropic-backed implementation. Calls are synchronous: each agent round is
// one Complete call that may return text, tool calls, or both.
package llm

import (
	"context"
	"encoding/json"
)

// Tier selects which configured model serves a request. Scoring and
// summarization run on the light tier, section writing on mid, strategy and
// quality review on primary.
type Tier string

const (
	TierLight   Tier = "light"
	TierMid     Tier = "mid"
	TierPrimary Tier = "primary"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolCall is a model request to invoke a tool.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResult carries a tool's output back to the model.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// Message is one turn of the agent conversation. Assistant turns may carry
// tool calls; user turns may carry tool results.
type Message struct {
	Role        Role
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// ToolDefinition describes a tool advertised to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Request is one model call.
type Request struct {
	Tier      Tier
	System    string
	Messages  []Message
	Tools     []ToolDefinition
	MaxTokens int
}

// Usage is the token consumption of one call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Response is the model's reply.
type Response struct {
	Text       string
	ToolCalls  []ToolCall
	Usage      Usage
	StopReason string
}

// Client is the model interface the agents program against.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}
