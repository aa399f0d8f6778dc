// Package toolport defines the orchestrator-facing contract for invoking a
// batch of tool calls: list the currently enabled definitions, execute a
// batch with bounded concurrency, and get back ordered, never-erroring
// results. Concrete implementations live in internal/scheduler (builtin +
// MCP-backed tool.Registry) — toolport only names the shapes both the
// orchestrator and the scheduler agree on.
package toolport

import (
	"context"

	"github.com/ionforge/agentcore/internal/llm"
	"github.com/ionforge/agentcore/internal/memory"
)

// Invocation is one tool call the orchestrator wants executed, plus any
// human-in-the-loop disposition the approval gate already decided for it.
type Invocation struct {
	Call memory.ToolCallDescriptor

	// Denied, if true, means the approval gate rejected this call; the
	// scheduler must synthesize a denied result without calling the tool.
	Denied bool

	// EditedArguments, if non-nil, replaces Call.Arguments before
	// execution and marks the eventual result as edited.
	EditedArguments []byte
}

// Port is the interface the orchestrator drives every ExecutingTools step
// through.
type Port interface {
	// ListDefinitions returns Function-Calling definitions for every
	// enabled tool. When allowlist is non-nil, only tools whose name
	// appears in it are returned; a nil allowlist means "all tools".
	ListDefinitions(allowlist map[string]bool) []llm.ToolDefinition

	// ExecuteBatch runs every invocation, honoring bounded concurrency,
	// per-call timeouts, and denial/edit synthesis, and returns results
	// in the same order as invocations. ExecuteBatch itself never
	// returns a Go error for an individual tool's failure — those are
	// captured in each memory.ToolExecutionResult's Reason field. It can
	// return a non-nil error only for a programmer/setup mistake (e.g.
	// a nil registry), which should never happen in production wiring.
	ExecuteBatch(ctx context.Context, invocations []Invocation) ([]memory.ToolExecutionResult, error)
}
