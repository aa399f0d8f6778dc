// Package orchestrator drives a single conversation turn through the
// decide/act loop: DecideNode calls the LLM and decides whether to answer or
// invoke tools, ToolExecNode runs a batch of tool calls concurrently and
// loops back to DecideNode. Built atop internal/core's generic Flow/Node
// pair, generalizing the teacher's internal/agent ReAct loop (one tool call
// per step, YAML or single-FC decision) to batched Function-Calling tool
// calls, a human-in-the-loop approval gate, and sub-agent delegation.
package orchestrator

import (
	"context"

	"github.com/ionforge/agentcore/internal/llm"
	"github.com/ionforge/agentcore/internal/memory"
	"github.com/ionforge/agentcore/internal/reminders"
)

// ApprovalDecision is one human disposition for a single pending tool call.
type ApprovalDecision struct {
	Denied          bool
	EditedArguments []byte // non-nil replaces the call's arguments before execution

	// ApproveAll, when set, adds this call's tool name to the conversation's
	// session-wide approve-all set (TurnState.ApprovedTools) in addition to
	// approving this call. Future batches containing only already-approved
	// tool names skip the approval gate entirely.
	ApproveAll bool
}

// approvalBatch is what Orchestrator.Approve delivers back to a DecideNode
// blocked in Post waiting on state.ApprovalChan: one decision per pending
// tool call, keyed by tool_call_id. A nil map means "approve everything
// unchanged".
type approvalBatch map[string]ApprovalDecision

// TurnState is the Flow's shared state for one conversation turn.
//
// NOT goroutine-safe: all fields must be accessed from the single goroutine
// running core.Flow.Run, matching the invariant the teacher's AgentState
// documents. Ctx is stashed here (rather than threaded only through Run's
// parameter) so that Post — which core.Flow calls synchronously and which
// has no ctx parameter of its own — can still select on cancellation while
// blocking on an approval response.
type TurnState struct {
	Ctx             context.Context
	ConversationKey string
	TurnID          string

	// History is the full message sequence persisted to memory.Store.
	// DecideNode may replace it in place when context compression runs.
	History []memory.Message

	// PendingToolCalls/InvalidArguments are the decision output of the most
	// recent DecideNode step, consumed by ToolExecNode's Prep.
	PendingToolCalls []memory.ToolCallDescriptor
	InvalidArguments []bool

	// FinalAnswer is set once DecideNode routes to core.ActionAnswer.
	FinalAnswer string

	Step     int // assistant decisions made so far this turn
	MaxSteps int // core.Flow already caps iterations at 200; this is the spec's per-turn budget

	// ToolRound counts completed tool-execution rounds, used by
	// reminders.InjectRecitation's periodic cadence.
	ToolRound int

	// stepRecords feeds reminders.CheckExploration; appended to by
	// ToolExecNode.Post, read by DecideNode.Prep.
	stepRecords []reminders.StepRecord

	// RequireApproval gates every tool batch on a human decision before
	// execution. ApprovalChan is created fresh per turn by Orchestrator.Send
	// and read at most once per decide step that produces tool calls (not
	// at all when ApprovedTools lets the batch skip the gate).
	RequireApproval bool
	ApprovalChan    chan approvalBatch

	// ApprovedTools is the conversation's session-wide approve-all set,
	// shared across every turn on the same conversation key (Orchestrator
	// hands the same map instance to each turn rather than copying it).
	// A tool-calls batch whose every call name is already present here
	// skips the approval gate, per the "approve_all" decision.
	ApprovedTools map[string]bool

	// pendingDecisions holds the most recently received approval batch,
	// consumed once by ToolExecNode.Prep immediately after DecideNode.Post
	// receives it.
	pendingDecisions approvalBatch

	// SubAgentDepth tracks assign_task nesting; the orchestrator refuses to
	// spawn a sub-turn once this reaches config.MaxRecursionDepth.
	SubAgentDepth int

	Canceled bool
	Err      error

	// ErrorReason classifies Err/Canceled for the KindError event's Reason
	// field: memory.ReasonAborted on cancellation, or whatever retry.Classify
	// attributed to the exhausted provider error otherwise.
	ErrorReason memory.ErrorReason
}

// ── DecideNode generic types — BaseNode[TurnState, DecidePrep, DecideResult] ──

// DecidePrep is a fully assembled completion request; Exec just sends it and
// decodes the stream. Params.Messages already includes the composed system
// prompt (via internal/contextbuilder).
type DecidePrep struct {
	Params          llm.CompletionParams
	EstimatedTokens int
}

// DecideResult is the decoded outcome of one LLM completion. Canceled and
// Err are mutually exclusive terminal outcomes: Canceled means the turn's
// context was canceled (user-initiated abort), Err means the provider call
// failed for its own reasons after retry.Do exhausted every attempt.
type DecideResult struct {
	Content          string
	ReasoningContent string
	ToolCalls        []memory.ToolCallDescriptor
	InvalidArguments []bool
	Usage            memory.Usage
	FinishReason     string
	Canceled         bool
	Err              error
	ErrReason        memory.ErrorReason
}

// HasToolCalls reports whether the decision produced any tool calls, using
// the same rule internal/decoder.Result does: a non-empty accumulator means
// the cycle continues regardless of the provider's textual finish reason.
func (r DecideResult) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

// ── ToolExecNode generic types — BaseNode[TurnState, ToolExecPrep, ToolBatchResult] ──

// ToolCallPrep is one invocation ready for toolport.Port.ExecuteBatch,
// assembled in Prep from state.PendingToolCalls plus any approval gate
// decisions already resolved in DecideNode.Post.
type ToolCallPrep struct {
	Call            memory.ToolCallDescriptor
	Invalid         bool
	Denied          bool
	EditedArguments []byte
}

// ToolExecPrep is the whole batch of calls DecideNode planned this step.
// Prep returns exactly one ToolExecPrep (never one per call) so Exec can
// hand every invocation to toolport.Port.ExecuteBatch in a single call —
// that's what lets the port's bounded-concurrency scheduling actually see
// more than one invocation at a time.
type ToolExecPrep struct {
	Calls []ToolCallPrep
}

// ToolBatchResult is the outcome of executing an entire batch of tool calls,
// in the same order as the ToolExecPrep.Calls that produced it.
type ToolBatchResult struct {
	Results []memory.ToolExecutionResult
}
