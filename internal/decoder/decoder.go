// Package decoder assembles a provider's stream of llm.StreamEvent into a
// finished assistant turn: buffered text, accumulated tool calls, and a
// usage record. Grounded on sacenox-symb's toolCallAccumulator (map keyed
// by stream index with an insertion-order secondary slice) and
// collectWithDeltas (switch-on-event-type accumulation loop), adapted to
// emit the three ordered events spec.md's streaming decoder names:
// AssistantMessage, ToolCalls, StreamFinish.
package decoder

import (
	"encoding/json"
	"strings"

	"github.com/ionforge/agentcore/internal/llm"
	"github.com/ionforge/agentcore/internal/memory"
)

// toolCallAccumulator tracks tool calls as they stream in, keyed by their
// position in the provider's tool_calls array (Index), with a parallel
// insertion-order slice so finalize() emits calls in the order they first
// appeared regardless of how the provider orders deltas.
type toolCallAccumulator struct {
	byIndex     map[int]int
	ids         []string
	names       []string
	argBuilders []strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: make(map[int]int)}
}

func (a *toolCallAccumulator) apply(d *llm.ToolCallDelta) {
	pos, ok := a.byIndex[d.Index]
	if !ok {
		pos = len(a.ids)
		a.byIndex[d.Index] = pos
		a.ids = append(a.ids, "")
		a.names = append(a.names, "")
		a.argBuilders = append(a.argBuilders, strings.Builder{})
	}
	if d.ID != "" {
		a.ids[pos] = d.ID
	}
	if d.Name != "" {
		a.names[pos] = d.Name
	}
	if d.ArgumentsDelta != "" {
		a.argBuilders[pos].WriteString(d.ArgumentsDelta)
	}
}

// finalize parses each accumulated argument buffer as JSON. A buffer that
// is empty or fails to parse is repaired to an empty object, flagged
// invalid so the orchestrator can synthesize an invalid_input result
// without attempting to execute the call.
func (a *toolCallAccumulator) finalize() ([]memory.ToolCallDescriptor, []bool) {
	calls := make([]memory.ToolCallDescriptor, len(a.ids))
	invalid := make([]bool, len(a.ids))
	for i := range a.ids {
		raw := []byte(a.argBuilders[i].String())
		if len(raw) == 0 {
			raw = []byte("{}")
			invalid[i] = true
		} else if !json.Valid(raw) {
			raw = []byte("{}")
			invalid[i] = true
		}
		calls[i] = memory.ToolCallDescriptor{
			ID:        a.ids[i],
			Name:      a.names[i],
			Arguments: raw,
		}
	}
	return calls, invalid
}

// Result is the finalized shape of one streamed assistant turn.
type Result struct {
	Content          string
	ReasoningContent string
	ToolCalls        []memory.ToolCallDescriptor
	// InvalidArguments marks, by position in ToolCalls, which calls had
	// arguments that could not be parsed and were repaired to "{}".
	InvalidArguments []bool
	Usage            memory.Usage
	FinishReason     string
	// Canceled is true if the context was canceled before EventFinish,
	// in which case any partially-accumulated tool calls are discarded
	// rather than finalized, per the decoder's cancellation contract.
	Canceled bool
}

// HasToolCalls reports whether the turn ended with pending tool calls,
// using the spec's rule that a non-empty tool-call accumulator at stream
// end means "the tool cycle continues" regardless of the textual finish
// reason the provider reported.
func (r Result) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

// Decode drains events until EventFinish, EventError, or ctx cancellation,
// and returns the assembled Result. onDelta, if non-nil, is invoked for
// every event before accumulation — used by the orchestrator to republish
// partial content onto the event bus as it arrives.
func Decode(events <-chan llm.StreamEvent, canceled <-chan struct{}, onDelta func(llm.StreamEvent)) (Result, error) {
	var content, reasoning strings.Builder
	tca := newToolCallAccumulator()
	var usage memory.Usage
	var finishReason string

	for {
		select {
		case <-canceled:
			return Result{
				Content:          content.String(),
				ReasoningContent: reasoning.String(),
				Usage:            usage,
				Canceled:         true,
			}, nil
		case evt, ok := <-events:
			if !ok {
				// Channel closed without an explicit finish/error event:
				// treat whatever was accumulated as the final result.
				calls, invalid := tca.finalize()
				return Result{
					Content:          content.String(),
					ReasoningContent: reasoning.String(),
					ToolCalls:        calls,
					InvalidArguments: invalid,
					Usage:            usage,
					FinishReason:     finishReason,
				}, nil
			}
			if onDelta != nil {
				onDelta(evt)
			}
			switch evt.Type {
			case llm.EventContentDelta:
				content.WriteString(evt.ContentDelta)
			case llm.EventReasoningDelta:
				reasoning.WriteString(evt.ReasoningDelta)
			case llm.EventToolCallDelta:
				if evt.ToolCallDelta != nil {
					tca.apply(evt.ToolCallDelta)
				}
			case llm.EventUsage:
				if evt.Usage != nil {
					if evt.Usage.PromptTokens > usage.PromptTokens {
						usage.PromptTokens = evt.Usage.PromptTokens
					}
					if evt.Usage.CompletionTokens > usage.CompletionTokens {
						usage.CompletionTokens = evt.Usage.CompletionTokens
					}
					if evt.Usage.TotalTokens > usage.TotalTokens {
						usage.TotalTokens = evt.Usage.TotalTokens
					}
				}
			case llm.EventError:
				return Result{}, evt.Err
			case llm.EventFinish:
				finishReason = evt.FinishReason
				calls, invalid := tca.finalize()
				return Result{
					Content:          content.String(),
					ReasoningContent: reasoning.String(),
					ToolCalls:        calls,
					InvalidArguments: invalid,
					Usage:            usage,
					FinishReason:     finishReason,
				}, nil
			}
		}
	}
}
