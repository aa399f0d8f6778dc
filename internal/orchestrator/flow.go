package orchestrator

import (
	"github.com/ionforge/agentcore/internal/core"
)

// BuildTurnFlow wires DecideNode and ToolExecNode into the decide/act loop:
//
//	DecideNode ──┬── ActionTool   → ToolExecNode ──→ DecideNode
//	             └── ActionAnswer → (flow ends)
//
// Grounded on the teacher's BuildAgentFlow (internal/agent/flow.go), with
// the ThinkNode branch dropped — native tool-calling models don't need a
// separate reasoning step, and the spec's streaming decoder already
// surfaces reasoning_content inline with the decide step.
func BuildTurnFlow(decide *DecideNode, tools *ToolExecNode) core.Workflow[TurnState] {
	decideNode := core.NewNode[TurnState, DecidePrep, DecideResult](decide, 1)
	toolNode := core.NewNode[TurnState, ToolExecPrep, ToolBatchResult](tools, 1)

	decideNode.AddSuccessor(toolNode, core.ActionTool)
	toolNode.AddSuccessor(decideNode) // ActionDefault → DecideNode
	// ActionAnswer has no successor: the flow ends there.

	return core.NewFlow[TurnState](decideNode)
}
