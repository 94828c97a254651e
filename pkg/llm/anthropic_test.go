package llm

import (
	"context"
	"encoding/json"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/config"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/usage"
)

type fakeMessages struct {
	lastParams sdk.MessageNewParams
	reply      *sdk.Message
	err        error
}

func (f *fakeMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	f.lastParams = body
	return f.reply, f.err
}

func testLLMConfig() *config.LLMConfig {
	return &config.LLMConfig{
		LightModel:   "model-light",
		MidModel:     "model-mid",
		PrimaryModel: "model-primary",
		MaxTokens:    4096,
	}
}

func TestTierSelectsModel(t *testing.T) {
	fake := &fakeMessages{reply: &sdk.Message{}}
	c, err := NewAnthropicClientWith(fake, testLLMConfig())
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), &Request{
		Tier:     TierLight,
		Messages: []Message{{Role: RoleUser, Text: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, sdk.Model("model-light"), fake.lastParams.Model)

	_, err = c.Complete(context.Background(), &Request{
		Tier:     Tier("unknown"),
		Messages: []Message{{Role: RoleUser, Text: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, sdk.Model("model-primary"), fake.lastParams.Model, "unknown tier falls back to primary")
}

func TestRequestEncoding(t *testing.T) {
	fake := &fakeMessages{reply: &sdk.Message{}}
	c, err := NewAnthropicClientWith(fake, testLLMConfig())
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), &Request{
		Tier:   TierMid,
		System: "you are a strategist",
		Messages: []Message{
			{Role: RoleUser, Text: "analyze this"},
			{Role: RoleAssistant, Text: "calling a tool", ToolCalls: []ToolCall{
				{ID: "t1", Name: "save_blueprint", Input: json.RawMessage(`{"x":1}`)},
			}},
			{Role: RoleUser, ToolResults: []ToolResult{
				{ToolCallID: "t1", Content: "saved"},
			}},
		},
		Tools: []ToolDefinition{
			{Name: "save_blueprint", Description: "persist the blueprint", InputSchema: map[string]any{"type": "object"}},
		},
		MaxTokens: 1024,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1024), fake.lastParams.MaxTokens)
	require.Len(t, fake.lastParams.System, 1)
	assert.Equal(t, "you are a strategist", fake.lastParams.System[0].Text)
	assert.Len(t, fake.lastParams.Messages, 3)
	assert.Len(t, fake.lastParams.Tools, 1)
}

func TestEmptyMessagesRejected(t *testing.T) {
	c, err := NewAnthropicClientWith(&fakeMessages{}, testLLMConfig())
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), &Request{Tier: TierLight})
	assert.Error(t, err)
}

func TestResponseTranslation(t *testing.T) {
	fake := &fakeMessages{reply: &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "here is "},
			{Type: "text", Text: "the plan"},
			{Type: "tool_use", ID: "c1", Name: "web_search", Input: json.RawMessage(`{"q":"acme"}`)},
		},
		StopReason: sdk.StopReasonToolUse,
		Usage:      sdk.Usage{InputTokens: 100, OutputTokens: 40, CacheReadInputTokens: 10},
	}}
	c, err := NewAnthropicClientWith(fake, testLLMConfig())
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), &Request{
		Tier:     TierPrimary,
		Messages: []Message{{Role: RoleUser, Text: "go"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "here is the plan", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "web_search", resp.ToolCalls[0].Name)
	assert.Equal(t, "tool_use", resp.StopReason)
	assert.Equal(t, int64(110), resp.Usage.InputTokens, "cache tokens count as input")
	assert.Equal(t, int64(40), resp.Usage.OutputTokens)
}

func TestRecordingClient(t *testing.T) {
	script := NewScriptedClient().
		Enqueue(&Response{Text: "a", Usage: Usage{InputTokens: 10, OutputTokens: 5}}).
		Enqueue(&Response{Text: "b", Usage: Usage{InputTokens: 20, OutputTokens: 15}})

	tracker := usage.NewTracker()
	tracker.Start("s1", "u1")

	rc := NewRecordingClient(script, tracker, "s1")
	_, err := rc.Complete(context.Background(), &Request{Messages: []Message{{Role: RoleUser, Text: "x"}}})
	require.NoError(t, err)
	_, err = rc.Complete(context.Background(), &Request{Messages: []Message{{Role: RoleUser, Text: "y"}}})
	require.NoError(t, err)

	totals := tracker.Stop("s1")
	assert.Equal(t, int64(30), totals.InputTokens)
	assert.Equal(t, int64(20), totals.OutputTokens)
}
