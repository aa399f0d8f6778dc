package orchestrator

import (
	"context"

	"github.com/ionforge/agentcore/internal/core"
	"github.com/ionforge/agentcore/internal/memory"
	"github.com/ionforge/agentcore/internal/metrics"
	"github.com/ionforge/agentcore/internal/reminders"
	"github.com/ionforge/agentcore/internal/toolport"
)

// ToolExecNode runs the batch of tool calls DecideNode planned, via a
// toolport.Port (normally internal/scheduler.Scheduler), then appends the
// results to history and loops back to DecideNode. Grounded on the
// teacher's ToolNode (internal/agent/tool_node.go), generalized from one
// tool call per step to a whole batch executed concurrently.
type ToolExecNode struct {
	port    toolport.Port
	metrics *metrics.Metrics
}

// NewToolExecNode constructs a ToolExecNode over port.
func NewToolExecNode(port toolport.Port, m *metrics.Metrics) *ToolExecNode {
	return &ToolExecNode{port: port, metrics: m}
}

// Prep converts every pending tool call into a ToolCallPrep, folding in
// invalid-argument repairs and any approval-gate disposition recorded by
// DecideNode.Post, and returns them all as the single ToolExecPrep item for
// this step — never one item per call — so Exec dispatches the whole batch
// through one ExecuteBatch call and the port's bounded-concurrency scheduler
// actually sees every call in the batch at once.
func (n *ToolExecNode) Prep(state *TurnState) []ToolExecPrep {
	calls := make([]ToolCallPrep, 0, len(state.PendingToolCalls))
	for i, call := range state.PendingToolCalls {
		p := ToolCallPrep{Call: call}
		if i < len(state.InvalidArguments) {
			p.Invalid = state.InvalidArguments[i]
		}
		if state.pendingDecisions != nil {
			if d, ok := state.pendingDecisions[call.ID]; ok {
				p.Denied = d.Denied
				p.EditedArguments = d.EditedArguments
			}
		}
		calls = append(calls, p)
	}
	state.pendingDecisions = nil
	if len(calls) == 0 {
		return nil
	}
	return []ToolExecPrep{{Calls: calls}}
}

// Exec dispatches the batch through one ExecuteBatch call. Invalid-argument
// calls are short-circuited into a synthesized error locally, without
// reaching the scheduler, since a tool can't meaningfully run on unparsable
// arguments; the rest are handed to the port together so tools within the
// batch run concurrently, bounded by the port's configured concurrency.
func (n *ToolExecNode) Exec(ctx context.Context, prep ToolExecPrep) (ToolBatchResult, error) {
	results := make([]memory.ToolExecutionResult, len(prep.Calls))

	var invocations []toolport.Invocation
	var invocationAt []int
	for i, c := range prep.Calls {
		if c.Invalid {
			results[i] = memory.ToolExecutionResult{
				ToolCallID:  c.Call.ID,
				Status:      "error",
				PayloadType: memory.PayloadText,
				Payload:     "tool call arguments were not valid JSON",
				Reason:      memory.ReasonInvalidInput,
			}
			continue
		}
		invocations = append(invocations, toolport.Invocation{
			Call: c.Call, Denied: c.Denied, EditedArguments: c.EditedArguments,
		})
		invocationAt = append(invocationAt, i)
	}

	if len(invocations) > 0 {
		batchResults, err := n.port.ExecuteBatch(ctx, invocations)
		if err != nil {
			return ToolBatchResult{}, err
		}
		for j, r := range batchResults {
			if j < len(invocationAt) {
				results[invocationAt[j]] = r
			}
		}
	}

	if n.metrics != nil {
		for i, c := range prep.Calls {
			n.metrics.RecordToolCall(c.Call.Name, results[i].Status, 0)
		}
	}

	return ToolBatchResult{Results: results}, nil
}

// Post appends every tool result message to history, records step history
// for exploration/loop detection, injects recitation on the configured
// cadence, and loops back to DecideNode.
func (n *ToolExecNode) Post(state *TurnState, preps []ToolExecPrep, execResults ...ToolBatchResult) core.Action {
	state.ToolRound++

	var calls []ToolCallPrep
	if len(preps) > 0 {
		calls = preps[0].Calls
	}
	var results []memory.ToolExecutionResult
	if len(execResults) > 0 {
		results = execResults[0].Results
	}

	for i, res := range results {
		msg := memory.Message{
			Role:       memory.RoleTool,
			ToolCallID: res.ToolCallID,
			Content:    res.Payload,
		}
		if res.Status == "error" {
			msg.ErrorReason = res.Reason
		}
		state.History = append(state.History, msg)

		toolName := ""
		toolInput := ""
		if i < len(calls) {
			toolName = calls[i].Call.Name
			toolInput = string(calls[i].Call.Arguments)
		}
		state.stepRecords = append(state.stepRecords, reminders.StepRecord{
			Type: "tool", ToolName: toolName, Input: toolInput,
		})
	}

	reminders.LoopWarning(state.History)
	reminders.InjectRecitation(state.History, nil, state.ToolRound)

	state.PendingToolCalls = nil
	state.InvalidArguments = nil

	if state.Step >= state.MaxSteps && state.MaxSteps > 0 {
		state.FinalAnswer = "Step budget exhausted before a final answer was produced."
		return core.ActionAnswer
	}

	return core.ActionDefault
}

// ExecFallback synthesizes a single error result (reason "unknown") when the whole
// batch's ExecuteBatch call fails outright (e.g. the port itself returned an
// error rather than per-call results) after every retry attempt.
func (n *ToolExecNode) ExecFallback(err error) ToolBatchResult {
	return ToolBatchResult{Results: []memory.ToolExecutionResult{{
		Status: "error", PayloadType: memory.PayloadText,
		Payload: "tool execution failed: " + err.Error(), Reason: memory.ReasonUnknown,
	}}}
}

var _ core.BaseNode[TurnState, DecidePrep, DecideResult] = (*DecideNode)(nil)
var _ core.BaseNode[TurnState, ToolExecPrep, ToolBatchResult] = (*ToolExecNode)(nil)
