package contextbuilder

import (
	"testing"

	"github.com/ionforge/agentcore/internal/memory"
	"github.com/ionforge/agentcore/internal/tool"
)

type fakePrompts struct{ sys string }

func (f fakePrompts) SystemPrompt(mode string) string { return f.sys }

func TestGuard_ClassifiesThresholds(t *testing.T) {
	g := NewGuard(1000)
	if g.Check(500) != StatusOK {
		t.Error("expected OK below 70%")
	}
	if g.Check(750) != StatusWarning {
		t.Error("expected warning at 75%")
	}
	if g.Check(900) != StatusCritical {
		t.Error("expected critical at 90%")
	}
}

func TestGuard_DisabledWhenWindowZero(t *testing.T) {
	g := NewGuard(0)
	if g.Check(1_000_000) != StatusOK {
		t.Error("expected disabled guard to always report OK")
	}
}

func TestEstimateTokens_ASCIIRoughlyFourCharsPerToken(t *testing.T) {
	got := EstimateTokens("abcdefgh") // 8 ascii chars
	if got < 1 || got > 4 {
		t.Errorf("unexpected estimate %d for 8 ascii chars", got)
	}
}

func TestBuild_PrependsSystemPromptAndHistory(t *testing.T) {
	b := New(fakePrompts{sys: "be helpful"}, nil, Config{})
	history := []memory.Message{{Role: memory.RoleUser, Content: "hi"}}
	result := b.Build(history)
	if len(result.Messages) != 2 {
		t.Fatalf("expected system + user message, got %d", len(result.Messages))
	}
	if result.Messages[0].Role != memory.RoleSystem || result.Messages[0].Content != "be helpful" {
		t.Errorf("unexpected system message: %+v", result.Messages[0])
	}
}

func TestBuild_NativeToolCallingProducesDefinitions(t *testing.T) {
	reg := tool.NewRegistry()
	b := New(nil, reg, Config{NativeToolCalling: true})
	result := b.Build(nil)
	if result.Tools == nil {
		t.Fatal("expected non-nil tool definitions slice when NativeToolCalling is set")
	}
}

func TestBuild_CompressesUnderCriticalWatermark(t *testing.T) {
	// A tiny window guarantees the critical watermark is crossed immediately.
	b := New(nil, nil, Config{WindowTokens: 1})
	history := []memory.Message{
		{Role: memory.RoleAssistant, ToolCalls: []memory.ToolCallDescriptor{{ID: "1", Name: "file_read", Arguments: []byte(`{"path":"a.go"}`)}}},
		{Role: memory.RoleTool, ToolCallID: "1", Content: "contents"},
		{Role: memory.RoleAssistant, ToolCalls: []memory.ToolCallDescriptor{{ID: "2", Name: "file_write", Arguments: []byte(`{"path":"a.go"}`)}}},
		{Role: memory.RoleTool, ToolCallID: "2", Content: "ok"},
	}
	result := b.Build(history)
	if result.CompressionStats.StaleFileReadsRemoved == 0 {
		t.Error("expected the stale file_read to be compressed away under a critical watermark")
	}
}
