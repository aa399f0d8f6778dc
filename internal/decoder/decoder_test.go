package decoder

import (
	"errors"
	"testing"

	"github.com/ionforge/agentcore/internal/llm"
)

func send(ch chan<- llm.StreamEvent, events ...llm.StreamEvent) {
	for _, e := range events {
		ch <- e
	}
	close(ch)
}

func TestDecode_AssemblesContent(t *testing.T) {
	ch := make(chan llm.StreamEvent, 10)
	go send(ch,
		llm.StreamEvent{Type: llm.EventContentDelta, ContentDelta: "Hello, "},
		llm.StreamEvent{Type: llm.EventContentDelta, ContentDelta: "world."},
		llm.StreamEvent{Type: llm.EventFinish, FinishReason: "stop"},
	)

	result, err := Decode(ch, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "Hello, world." {
		t.Errorf("unexpected content: %q", result.Content)
	}
	if result.HasToolCalls() {
		t.Error("expected no tool calls")
	}
}

func TestDecode_AccumulatesToolCallsByIndex(t *testing.T) {
	ch := make(chan llm.StreamEvent, 10)
	go send(ch,
		llm.StreamEvent{Type: llm.EventToolCallDelta, ToolCallDelta: &llm.ToolCallDelta{Index: 0, ID: "call_1", Name: "search"}},
		llm.StreamEvent{Type: llm.EventToolCallDelta, ToolCallDelta: &llm.ToolCallDelta{Index: 1, ID: "call_2", Name: "fetch"}},
		llm.StreamEvent{Type: llm.EventToolCallDelta, ToolCallDelta: &llm.ToolCallDelta{Index: 0, ArgumentsDelta: `{"q":`}},
		llm.StreamEvent{Type: llm.EventToolCallDelta, ToolCallDelta: &llm.ToolCallDelta{Index: 1, ArgumentsDelta: `{"url":"x"}`}},
		llm.StreamEvent{Type: llm.EventToolCallDelta, ToolCallDelta: &llm.ToolCallDelta{Index: 0, ArgumentsDelta: `"go"}`}},
		llm.StreamEvent{Type: llm.EventFinish, FinishReason: "tool_calls"},
	)

	result, err := Decode(ch, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(result.ToolCalls))
	}
	if result.ToolCalls[0].Name != "search" || string(result.ToolCalls[0].Arguments) != `{"q":"go"}` {
		t.Errorf("unexpected first call: %+v", result.ToolCalls[0])
	}
	if result.ToolCalls[1].Name != "fetch" || string(result.ToolCalls[1].Arguments) != `{"url":"x"}` {
		t.Errorf("unexpected second call: %+v", result.ToolCalls[1])
	}
	if result.InvalidArguments[0] || result.InvalidArguments[1] {
		t.Errorf("valid JSON should not be flagged invalid: %v", result.InvalidArguments)
	}
}

func TestDecode_RepairsMalformedArguments(t *testing.T) {
	ch := make(chan llm.StreamEvent, 10)
	go send(ch,
		llm.StreamEvent{Type: llm.EventToolCallDelta, ToolCallDelta: &llm.ToolCallDelta{Index: 0, ID: "call_1", Name: "broken"}},
		llm.StreamEvent{Type: llm.EventToolCallDelta, ToolCallDelta: &llm.ToolCallDelta{Index: 0, ArgumentsDelta: `{"not valid`}},
		llm.StreamEvent{Type: llm.EventFinish, FinishReason: "tool_calls"},
	)

	result, err := Decode(ch, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result.ToolCalls[0].Arguments) != "{}" {
		t.Errorf("expected repaired empty object, got %q", result.ToolCalls[0].Arguments)
	}
	if !result.InvalidArguments[0] {
		t.Error("expected malformed arguments to be flagged invalid")
	}
}

func TestDecode_UsageTakesMax(t *testing.T) {
	ch := make(chan llm.StreamEvent, 10)
	go send(ch,
		llm.StreamEvent{Type: llm.EventUsage, Usage: &llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}},
		llm.StreamEvent{Type: llm.EventUsage, Usage: &llm.Usage{PromptTokens: 10, CompletionTokens: 8, TotalTokens: 18}},
		llm.StreamEvent{Type: llm.EventFinish},
	)
	result, err := Decode(ch, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Usage.CompletionTokens != 8 || result.Usage.TotalTokens != 18 {
		t.Errorf("expected cumulative max usage, got %+v", result.Usage)
	}
}

func TestDecode_PropagatesProviderError(t *testing.T) {
	ch := make(chan llm.StreamEvent, 10)
	wantErr := errors.New("boom")
	go send(ch, llm.StreamEvent{Type: llm.EventError, Err: wantErr})

	_, err := Decode(ch, nil, nil)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
}

func TestDecode_CancellationDiscardsPartialToolCalls(t *testing.T) {
	ch := make(chan llm.StreamEvent)
	canceled := make(chan struct{})
	go func() {
		ch <- llm.StreamEvent{Type: llm.EventToolCallDelta, ToolCallDelta: &llm.ToolCallDelta{Index: 0, ID: "x", Name: "y"}}
		close(canceled)
	}()

	result, err := Decode(ch, canceled, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Canceled {
		t.Error("expected Canceled to be true")
	}
	if len(result.ToolCalls) != 0 {
		t.Errorf("expected partial tool calls discarded, got %v", result.ToolCalls)
	}
}
