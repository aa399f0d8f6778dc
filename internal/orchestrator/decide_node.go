package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ionforge/agentcore/internal/compress"
	"github.com/ionforge/agentcore/internal/contextbuilder"
	"github.com/ionforge/agentcore/internal/core"
	"github.com/ionforge/agentcore/internal/decoder"
	"github.com/ionforge/agentcore/internal/eventbus"
	"github.com/ionforge/agentcore/internal/llm"
	"github.com/ionforge/agentcore/internal/memory"
	"github.com/ionforge/agentcore/internal/metrics"
	"github.com/ionforge/agentcore/internal/reminders"
	"github.com/ionforge/agentcore/internal/retry"
)

// DecideNode is the LLM decision step of the turn loop. It builds the turn's
// context with contextbuilder, calls the provider (with retry.Do wrapping
// the transport classification), decodes the stream with internal/decoder,
// and routes to core.ActionTool or core.ActionAnswer. Grounded on the
// teacher's DecideNode (internal/agent/decide.go): same Prep-builds-prompt /
// Exec-calls-LLM / Post-routes-on-Action shape, generalized from a single
// YAML or single-FC decision to a native tool_calls batch.
type DecideNode struct {
	provider llm.Provider
	builder  *contextbuilder.Builder
	policy   retry.Policy
	bus      *eventbus.Bus
	metrics  *metrics.Metrics

	modelName       string
	providerName    string
	temperature     *float32
	maxTokens       int
	reasoningEffort string
}

// StreamFinishInfo is KindStreamFinish's payload: the provider's terminal
// finish reason for this decide step plus the usage it reported, published
// once per assistant decision regardless of whether it produced tool calls.
type StreamFinishInfo struct {
	FinishReason string
	Usage        memory.Usage
}

// NewDecideNode constructs a DecideNode. metrics may be nil to disable
// Prometheus recording (e.g. in tests).
func NewDecideNode(
	provider llm.Provider,
	builder *contextbuilder.Builder,
	policy retry.Policy,
	bus *eventbus.Bus,
	m *metrics.Metrics,
	modelName string,
	temperature *float32,
	maxTokens int,
	reasoningEffort string,
) *DecideNode {
	return &DecideNode{
		provider:        provider,
		builder:         builder,
		policy:          policy,
		bus:             bus,
		metrics:         m,
		modelName:       modelName,
		providerName:    provider.Name(),
		temperature:     temperature,
		maxTokens:       maxTokens,
		reasoningEffort: reasoningEffort,
	}
}

// Prep assembles the context for this decide step: applies the exploration
// nudge if the turn looks stuck gathering information, builds the full
// message list (compressing history in place if it crossed the critical
// watermark), and returns a single CompletionParams ready for Exec.
func (n *DecideNode) Prep(state *TurnState) []DecidePrep {
	if note := reminders.CheckExploration(state.stepRecords, state.MaxSteps); note.Detected {
		appendReminderToLastTool(state.History, note.Description)
	}

	result := n.builder.Build(state.History)

	if result.CompressionStats != (compress.Stats{}) {
		if n.metrics != nil {
			n.metrics.RecordCompression(
				result.CompressionStats.StaleFileReadsRemoved,
				result.CompressionStats.StaleFileEditsRemoved,
				result.CompressionStats.FailedBashRemoved,
				result.CompressionStats.StaleBashRemoved,
				result.CompressionStats.UnpairedRemoved,
			)
		}
		if n.bus != nil {
			n.bus.Publish(eventbus.Event{
				Kind:            eventbus.KindCompressionRun,
				ConversationKey: state.ConversationKey,
				TurnID:          state.TurnID,
				Payload:         result.CompressionStats,
			})
		}
		// result.Messages is [system prompt?] + the post-compression history;
		// strip the system prompt back out so state.History stays the raw
		// conversation the next Build call re-composes from scratch.
		if len(result.Messages) > 0 && result.Messages[0].Role == memory.RoleSystem {
			state.History = append([]memory.Message(nil), result.Messages[1:]...)
		} else {
			state.History = append([]memory.Message(nil), result.Messages...)
		}
	}

	if n.metrics != nil {
		n.metrics.RecordContextWindow(n.providerName, n.modelName, statusRatio(result.Status))
	}

	params := llm.CompletionParams{
		Model:           n.modelName,
		Messages:        toLLMMessages(result.Messages),
		Tools:           result.Tools,
		Temperature:     n.temperature,
		MaxTokens:       n.maxTokens,
		ReasoningEffort: n.reasoningEffort,
		ToolChoice:      "auto",
	}

	return []DecidePrep{{Params: params, EstimatedTokens: result.EstimatedTokens}}
}

// Exec calls the provider under retry.Do, classifying transport errors via
// retry.Classify, and decodes the resulting stream into a DecideResult.
func (n *DecideNode) Exec(ctx context.Context, prep DecidePrep) (DecideResult, error) {
	var decoded decoder.Result

	classify := func(err error) (bool, int, memory.ErrorReason) {
		retryable, reason := retry.Classify(err, 0)
		return retryable, 0, reason
	}

	_, err := retry.Do(ctx, n.policy, classify, func(ctx context.Context) error {
		events, err := n.provider.StreamCompletion(ctx, prep.Params)
		if err != nil {
			return err
		}
		onDelta := func(evt llm.StreamEvent) {
			if n.bus != nil && evt.Type == llm.EventContentDelta {
				n.bus.Publish(eventbus.Event{Kind: eventbus.KindAssistantDelta, Payload: evt.ContentDelta})
			}
		}
		d, decErr := decoder.Decode(events, ctx.Done(), onDelta)
		if decErr != nil {
			return decErr
		}
		decoded = d
		return nil
	})
	if err != nil {
		return DecideResult{}, err
	}

	if n.metrics != nil {
		n.metrics.RecordLLMRequest(n.providerName, n.modelName, "success", 0,
			decoded.Usage.PromptTokens, decoded.Usage.CompletionTokens)
	}

	return DecideResult{
		Content:          decoded.Content,
		ReasoningContent: decoded.ReasoningContent,
		ToolCalls:        decoded.ToolCalls,
		InvalidArguments: decoded.InvalidArguments,
		Usage:            decoded.Usage,
		FinishReason:     decoded.FinishReason,
		Canceled:         decoded.Canceled,
	}, nil
}

// Post records the decision into history and routes to ActionTool or
// ActionAnswer. When state.RequireApproval and the decision produced tool
// calls, Post publishes KindApprovalRequired and blocks on state.ApprovalChan
// before routing — this runs on the Flow's single goroutine, matching the
// teacher's documented single-goroutine AgentState invariant, so a blocking
// read here never races concurrent Flow steps.
func (n *DecideNode) Post(state *TurnState, _ []DecidePrep, results ...DecideResult) core.Action {
	if len(results) == 0 {
		state.Err = fmt.Errorf("orchestrator: decide step produced no result")
		return core.ActionEnd
	}
	r := results[0]
	state.Step++

	if r.Err != nil {
		state.Err = fmt.Errorf("orchestrator: decide step: %w", r.Err)
		state.ErrorReason = r.ErrReason
		return core.ActionEnd
	}
	if r.Canceled {
		state.Canceled = true
		state.ErrorReason = memory.ReasonAborted
		return core.ActionEnd
	}

	assistantMsg := memory.Message{
		Role:      memory.RoleAssistant,
		Content:   r.Content,
		ToolCalls: r.ToolCalls,
		Usage:     &r.Usage,
	}
	state.History = append(state.History, assistantMsg)

	if n.bus != nil {
		n.bus.Publish(eventbus.Event{
			Kind: eventbus.KindAssistantMessage, ConversationKey: state.ConversationKey,
			TurnID: state.TurnID, Payload: assistantMsg,
		})
		n.bus.Publish(eventbus.Event{
			Kind: eventbus.KindStreamFinish, ConversationKey: state.ConversationKey,
			TurnID: state.TurnID, Payload: StreamFinishInfo{FinishReason: r.FinishReason, Usage: r.Usage},
		})
	}

	if !r.HasToolCalls() {
		state.FinalAnswer = r.Content
		return core.ActionAnswer
	}

	state.PendingToolCalls = r.ToolCalls
	state.InvalidArguments = r.InvalidArguments

	if n.bus != nil {
		n.bus.Publish(eventbus.Event{
			Kind: eventbus.KindToolCallsPlanned, ConversationKey: state.ConversationKey,
			TurnID: state.TurnID, Payload: r.ToolCalls,
		})
	}

	if state.RequireApproval && state.ApprovalChan != nil && needsApprovalGate(r.ToolCalls, state.ApprovedTools) {
		if n.bus != nil {
			n.bus.Publish(eventbus.Event{
				Kind: eventbus.KindApprovalRequired, ConversationKey: state.ConversationKey,
				TurnID: state.TurnID, Payload: r.ToolCalls,
			})
		}
		select {
		case decisions := <-state.ApprovalChan:
			state.pendingDecisions = decisions
			applyApproveAll(decisions, r.ToolCalls, state.ApprovedTools)
		case <-state.Ctx.Done():
			state.Canceled = true
			state.Err = state.Ctx.Err()
			state.ErrorReason = memory.ReasonAborted
			return core.ActionEnd
		}
	}

	return core.ActionTool
}

// needsApprovalGate reports whether at least one call in the batch names a
// tool not already on the conversation's approve-all set — the gate is
// skipped entirely once every tool in the batch has been approve-all'd in
// an earlier turn.
func needsApprovalGate(calls []memory.ToolCallDescriptor, approved map[string]bool) bool {
	for _, c := range calls {
		if !approved[c.Name] {
			return true
		}
	}
	return false
}

// applyApproveAll adds the tool name of every ApproveAll decision to the
// conversation's session-wide allowlist, so later turns on the same
// conversation key skip the gate for that tool.
func applyApproveAll(decisions approvalBatch, calls []memory.ToolCallDescriptor, approved map[string]bool) {
	if approved == nil || decisions == nil {
		return
	}
	for _, c := range calls {
		if d, ok := decisions[c.ID]; ok && d.ApproveAll {
			approved[c.Name] = true
		}
	}
}

// ExecFallback runs once retry.Do has exhausted every attempt. A context
// cancellation or deadline means the turn was aborted out from under the
// call; anything else is a genuine provider failure (e.g. a persistent
// HTTP 500) and must surface as an Error event, not a silent cancellation.
func (n *DecideNode) ExecFallback(err error) DecideResult {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return DecideResult{Canceled: true}
	}
	_, reason := retry.Classify(err, 0)
	if n.metrics != nil {
		n.metrics.RecordLLMRequest(n.providerName, n.modelName, "error", 0, 0, 0)
	}
	return DecideResult{Err: err, ErrReason: reason}
}

// statusRatio maps a contextbuilder.Status to a representative utilization
// value for the context-window histogram; the exact ratio isn't exposed by
// Builder.Build, only the threshold band it crossed.
func statusRatio(s contextbuilder.Status) float64 {
	switch s {
	case contextbuilder.StatusCritical:
		return 0.9
	case contextbuilder.StatusWarning:
		return 0.75
	default:
		return 0.3
	}
}

func appendReminderToLastTool(history []memory.Message, note string) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == memory.RoleTool {
			history[i].Content += "\n\n<system-reminder>" + note + "</system-reminder>"
			return
		}
	}
}

func toLLMMessages(in []memory.Message) []llm.Message {
	out := make([]llm.Message, len(in))
	for i, m := range in {
		lm := llm.Message{
			Role:             string(m.Role),
			Content:          m.Content,
			ReasoningContent: "",
			ToolCallID:       m.ToolCallID,
			Name:             m.Name,
		}
		for _, tc := range m.ToolCalls {
			lm.ToolCalls = append(lm.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}
		out[i] = lm
	}
	return out
}
