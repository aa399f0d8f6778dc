// Package reminders injects synthetic <system-reminder> text into a
// conversation's tool-result messages to keep the model focused during long
// tool-calling turns, without creating new messages that would shift prompt
// cache boundaries.
package reminders

import (
	"fmt"
	"strings"

	"github.com/ionforge/agentcore/internal/memory"
)

// Interval is the number of tool-calling rounds between synthetic goal
// recitations. Grounded on sacenox-symb's reminderInterval (10 rounds).
const Interval = 10

// explorationWindow is the number of recent non-meta tool steps inspected
// when deciding whether the turn is stuck in an information-gathering loop.
const explorationWindow = 5

// ScratchpadReader exposes an agent-maintained plan/notes document, if one
// exists for the current conversation. Nil is a valid ScratchpadReader value.
type ScratchpadReader interface {
	Content() string
}

// metaTools are bookkeeping tool calls that don't represent real exploration
// or execution progress and are excluded from loop/exploration detection.
var metaTools = map[string]bool{
	"update_plan": true,
	"walkthrough": true,
}

var readOnlyTools = map[string]bool{
	"file_read": true,
	"file_list": true,
	"file_grep": true,
	"file_find": true,
}

var readOnlyShellCommands = []string{"dir", "ls", "type", "cat", "find", "head", "tail", "tree"}

// InjectRecitation appends a <system-reminder> block to the last tool-result
// message in history on every Interval-th round, reciting either the
// scratchpad's content (preferred) or the user's original request
// (fallback). round is the 1-indexed tool-calling round number for this turn.
func InjectRecitation(history []memory.Message, pad ScratchpadReader, round int) {
	if round == 0 || round%Interval != 0 {
		return
	}
	if len(history) == 0 {
		return
	}

	reminder := ""
	if pad != nil {
		reminder = pad.Content()
	}
	if reminder == "" {
		for _, m := range history {
			if m.Role == memory.RoleUser {
				reminder = "The user's request: " + m.Content
				break
			}
		}
	}
	if reminder == "" {
		return
	}

	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == memory.RoleTool {
			history[i].Content += "\n\n<system-reminder>" + reminder + "</system-reminder>"
			return
		}
	}
}

// LoopWarning appends a repetition warning to the last tool-result message
// when the same tool name + arguments were just called twice in a row.
func LoopWarning(history []memory.Message) {
	n := len(history)
	if n < 2 {
		return
	}
	last := &history[n-1]
	if last.Role != memory.RoleTool {
		return
	}
	if !sameCallRepeated(history) {
		return
	}
	last.Content += "\n\n<system-reminder>WARNING: You are repeating the same tool call with the same arguments. This is wasteful. Stop and either try a different approach, summarize what you know, or ask the user for help.</system-reminder>"
}

func sameCallRepeated(history []memory.Message) bool {
	var calls []memory.ToolCallDescriptor
	for i := len(history) - 1; i >= 0 && len(calls) < 2; i-- {
		if history[i].Role == memory.RoleAssistant {
			calls = append(calls, history[i].ToolCalls...)
		}
	}
	if len(calls) < 2 {
		return false
	}
	a, b := calls[0], calls[1]
	return a.Name == b.Name && string(a.Arguments) == string(b.Arguments)
}

// StepRecord is a single recorded turn step used by exploration detection.
type StepRecord struct {
	Type     string // "tool" | "assistant" | ...
	ToolName string
	Input    string // raw JSON arguments, for shell-command extraction
}

// ExplorationResult describes whether a turn appears stuck gathering
// information without making execution progress.
type ExplorationResult struct {
	Detected    bool
	Description string
}

// CheckExploration triggers when more than a third of the step budget has
// been consumed and the most recent explorationWindow non-meta tool steps
// were all read-only information gathering. Grounded on the teacher's
// ExplorationDetector.Check, generalized to the scheduler's batch tool model
// (StepRecord here represents one tool call, not one agent turn).
func CheckExploration(steps []StepRecord, maxSteps int) ExplorationResult {
	if maxSteps <= 0 || len(steps) <= maxSteps/3 {
		return ExplorationResult{}
	}
	toolSteps := filterNonMetaToolSteps(steps)
	if len(toolSteps) < explorationWindow {
		return ExplorationResult{}
	}
	recent := toolSteps[len(toolSteps)-explorationWindow:]
	for _, s := range recent {
		if !isInfoGatheringTool(s) {
			return ExplorationResult{}
		}
	}
	return ExplorationResult{
		Detected: true,
		Description: fmt.Sprintf(
			"%d/%d steps used, the last %d were all information gathering — begin execution",
			len(steps), maxSteps, explorationWindow),
	}
}

func filterNonMetaToolSteps(steps []StepRecord) []StepRecord {
	result := make([]StepRecord, 0, len(steps))
	for _, s := range steps {
		if s.Type == "tool" && !metaTools[s.ToolName] {
			result = append(result, s)
		}
	}
	return result
}

func isInfoGatheringTool(s StepRecord) bool {
	if readOnlyTools[s.ToolName] {
		return true
	}
	if s.ToolName == "shell" || s.ToolName == "shell_exec" {
		return isReadOnlyShellCommand(extractCommand(s.Input))
	}
	return false
}

func isReadOnlyShellCommand(cmd string) bool {
	lower := strings.ToLower(strings.TrimSpace(cmd))
	if lower == "" {
		return false
	}
	for _, name := range readOnlyShellCommands {
		if lower == name || strings.HasPrefix(lower, name+" ") {
			return true
		}
	}
	return false
}

// extractCommand pulls the "command" field out of a raw JSON tool-call
// argument string without a full schema, mirroring the teacher's
// lightweight extractParam helper. Malformed or missing input yields "".
func extractCommand(input string) string {
	const key = `"command"`
	idx := strings.Index(input, key)
	if idx < 0 {
		return ""
	}
	rest := input[idx+len(key):]
	rest = strings.TrimLeft(rest, " :")
	if !strings.HasPrefix(rest, `"`) {
		return ""
	}
	rest = rest[1:]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return ""
	}
	return rest[:end]
}
