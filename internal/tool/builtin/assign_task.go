package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ionforge/agentcore/internal/tool"
)

// AssignTaskTool delegates a self-contained sub-task to a fresh sub-agent
// turn, returning its final answer as this call's output. The actual turn
// execution is supplied by the orchestrator at construction time; this tool
// has no knowledge of TurnState, the decide/act loop, or recursion
// bookkeeping beyond what its delegate closure enforces.
type AssignTaskTool struct {
	delegate func(ctx context.Context, task string) (string, error)
}

// NewAssignTaskTool constructs the tool with delegate as its callback into
// the owning orchestrator's sub-turn spawner.
func NewAssignTaskTool(delegate func(ctx context.Context, task string) (string, error)) *AssignTaskTool {
	return &AssignTaskTool{delegate: delegate}
}

func (t *AssignTaskTool) Name() string { return "assign_task" }

func (t *AssignTaskTool) Description() string {
	return "Delegate a self-contained sub-task to a fresh sub-agent and return its final answer. " +
		"Use for work that can be fully specified up front and doesn't need this conversation's " +
		"running context — the sub-agent starts with no history beyond the task description."
}

func (t *AssignTaskTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "task", Type: "string", Description: "Full, self-contained description of the sub-task, including any context the sub-agent needs since it cannot see this conversation.", Required: true},
	)
}

func (t *AssignTaskTool) Init(_ context.Context) error { return nil }
func (t *AssignTaskTool) Close() error                 { return nil }

type assignTaskArgs struct {
	Task string `json:"task"`
}

func (t *AssignTaskTool) Execute(ctx context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a assignTaskArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}
	if a.Task == "" {
		return tool.ToolResult{Error: "task must not be empty"}, nil
	}
	if t.delegate == nil {
		return tool.ToolResult{Error: "assign_task is not wired to an orchestrator"}, nil
	}

	answer, err := t.delegate(ctx, a.Task)
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("sub-agent failed: %v", err)}, nil
	}
	return tool.ToolResult{Output: answer}, nil
}
