package openaicompat

import (
	"encoding/json"
	"testing"

	"github.com/ionforge/agentcore/internal/llm"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(&Config{APIKey: "sk-test", Model: "gpt-4o", HTTPTimeoutSecs: 30})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_RejectsNilConfig(t *testing.T) {
	if _, err := NewClient(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestNewClient_RejectsMissingAPIKey(t *testing.T) {
	if _, err := NewClient(&Config{Model: "gpt-4o"}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestName_IncludesModel(t *testing.T) {
	c := testClient(t)
	if got, want := c.Name(), "openai-compatible (gpt-4o)"; got != want {
		t.Errorf("Name() = %q, want %q", got, want)
	}
}

func TestBuildRequest_ConvertsToolMessagesAndCalls(t *testing.T) {
	c := testClient(t)
	params := llm.CompletionParams{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "what's 2+2"},
			{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
				{ID: "call_1", Name: "calc", Arguments: json.RawMessage(`{"expr":"2+2"}`)},
			}},
			{Role: llm.RoleTool, ToolCallID: "call_1", Name: "calc", Content: "4"},
		},
		Tools: []llm.ToolDefinition{
			{Name: "calc", Description: "evaluates an expression", Parameters: json.RawMessage(`{"type":"object"}`)},
		},
	}

	req := c.buildRequest(params, false)

	if len(req.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(req.Messages))
	}
	if req.Messages[1].ToolCalls[0].ID != "call_1" {
		t.Errorf("expected tool call id to survive conversion, got %q", req.Messages[1].ToolCalls[0].ID)
	}
	if req.Messages[2].ToolCallID != "call_1" {
		t.Errorf("expected tool result message to carry tool_call_id, got %q", req.Messages[2].ToolCallID)
	}
	if len(req.Tools) != 1 || req.Tools[0].Function.Name != "calc" {
		t.Errorf("expected calc tool definition to survive conversion")
	}
}

func TestBuildRequest_AppliesReasoningEffortOnlyForThinkingModels(t *testing.T) {
	c := testClient(t)
	c.config.ReasoningEffort = "high"

	req := c.buildRequest(llm.CompletionParams{
		Model:    "gpt-4o",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}, false)
	if req.ReasoningEffort != "" {
		t.Errorf("expected no reasoning_effort for a non-thinking model, got %q", req.ReasoningEffort)
	}

	req = c.buildRequest(llm.CompletionParams{
		Model:    "deepseek-r1",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}, false)
	if req.ReasoningEffort != "high" {
		t.Errorf("expected reasoning_effort 'high' for deepseek-r1, got %q", req.ReasoningEffort)
	}
}

func TestBuildRequest_DefaultsModelFromConfig(t *testing.T) {
	c := testClient(t)
	req := c.buildRequest(llm.CompletionParams{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}, false)
	if req.Model != "gpt-4o" {
		t.Errorf("expected default model gpt-4o, got %q", req.Model)
	}
}
