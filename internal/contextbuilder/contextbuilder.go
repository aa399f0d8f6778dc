// Package contextbuilder assembles the prompt sent to the LLM provider for a
// single turn: static instructions (L1/L2/L3 layers via internal/prompt),
// the tool catalogue (either a textual prompt or native Function-Calling
// definitions, depending on provider capability), and a token-budgeted
// window of conversation history, with history compression triggered when
// the window is estimated to exceed the configured watermark.
package contextbuilder

import (
	"github.com/ionforge/agentcore/internal/compress"
	"github.com/ionforge/agentcore/internal/llm"
	"github.com/ionforge/agentcore/internal/memory"
	"github.com/ionforge/agentcore/internal/tool"
)

// Status indicates how close the assembled context is to the model's
// context window. Grounded on the teacher's ContextGuard thresholds.
type Status int

const (
	StatusOK       Status = iota
	StatusWarning         // >= 70% of window: log, continue
	StatusCritical        // >= 85% of window: compress before sending
)

// Guard tracks a model's context window size and classifies an estimated
// token count against it. windowTokens <= 0 disables the guard (always OK).
// Grounded on the teacher's internal/agent/context_guard.go.
type Guard struct {
	windowTokens int
}

// NewGuard creates a Guard for the given context window size in tokens.
func NewGuard(windowTokens int) Guard {
	return Guard{windowTokens: windowTokens}
}

// Check classifies tokens against the window.
func (g Guard) Check(tokens int) Status {
	if g.windowTokens <= 0 {
		return StatusOK
	}
	ratio := float64(tokens) / float64(g.windowTokens)
	switch {
	case ratio >= 0.85:
		return StatusCritical
	case ratio >= 0.70:
		return StatusWarning
	default:
		return StatusOK
	}
}

// EstimateTokens estimates token count using a character-based heuristic:
// CJK Unified Ideographs cost ~2 chars/token, everything else ~4 chars/token.
// Precision is +/-20-30% for mixed content, sufficient for threshold guards;
// it does not replace a real tokenizer. Grounded on the teacher's
// internal/agent/token_util.go estimateTokens.
func EstimateTokens(text string) int {
	var cjk, other int
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FFF {
			cjk++
		} else {
			other++
		}
	}
	return cjk/2 + other/4 + 1
}

// estimateHistoryTokens sums EstimateTokens over every message's content and
// tool-call arguments in history.
func estimateHistoryTokens(history []memory.Message) int {
	total := 0
	for _, m := range history {
		total += EstimateTokens(m.Content)
		for _, tc := range m.ToolCalls {
			total += EstimateTokens(string(tc.Arguments))
		}
	}
	return total
}

// StaticPrompts supplies the L1/L2/L3 layered system instructions. It is
// satisfied by *prompt.PromptLoader; defined as an interface here so this
// package doesn't need to depend on file layout or embed directives.
type StaticPrompts interface {
	// SystemPrompt returns the fully composed static system prompt for the
	// given conversation mode (e.g. "default", "sub_agent").
	SystemPrompt(mode string) string
}

// Config controls how a Builder assembles context.
type Config struct {
	Mode              string // passed to StaticPrompts.SystemPrompt
	WindowTokens      int    // model's context window; 0 disables the guard
	NativeToolCalling bool   // true: emit llm.ToolDefinition list; false: inline tool prompt text
	ToolAllowlist     map[string]bool
}

// Builder composes a contextbuilder.Result for a single LLM call.
type Builder struct {
	prompts  StaticPrompts
	registry *tool.Registry
	cfg      Config
}

// New creates a Builder. prompts may be nil, in which case SystemPrompt is
// empty and only the tool catalogue and history are assembled.
func New(prompts StaticPrompts, registry *tool.Registry, cfg Config) *Builder {
	return &Builder{prompts: prompts, registry: registry, cfg: cfg}
}

// Result is the assembled input to an llm.Provider call, plus the bookkeeping
// a caller needs to decide whether to compress history before the next turn.
type Result struct {
	Messages         []memory.Message
	Tools            []llm.ToolDefinition // non-nil only when cfg.NativeToolCalling
	EstimatedTokens  int
	Status           Status
	CompressionStats compress.Stats // zero value if compression was not run
}

// Build assembles messages (system prompt + history), optionally compressing
// history in place first if the estimated token count is at or above the
// critical watermark. Compression always runs before truncation would ever be
// considered — this function never truncates an individual tool result;
// that remains the caller's responsibility for any single oversized message
// that survives compression.
func (b *Builder) Build(history []memory.Message) Result {
	guard := NewGuard(b.cfg.WindowTokens)
	tokens := estimateHistoryTokens(history)
	status := guard.Check(tokens)

	var stats compress.Stats
	if status == StatusCritical {
		compressed, s := compress.Compress(history)
		history = compressed
		stats = s
		tokens = estimateHistoryTokens(history)
		status = guard.Check(tokens)
	}

	messages := make([]memory.Message, 0, len(history)+1)
	if b.prompts != nil {
		if sys := b.prompts.SystemPrompt(b.cfg.Mode); sys != "" {
			messages = append(messages, memory.Message{Role: memory.RoleSystem, Content: sys})
		}
	}
	messages = append(messages, history...)

	var defs []llm.ToolDefinition
	if b.registry != nil && b.cfg.NativeToolCalling {
		all := b.registry.GenerateToolDefinitions()
		defs = make([]llm.ToolDefinition, 0, len(all))
		for _, d := range all {
			if b.cfg.ToolAllowlist != nil && !b.cfg.ToolAllowlist[d.Name] {
				continue
			}
			defs = append(defs, d)
		}
	} else if b.registry != nil {
		if len(messages) > 0 && messages[0].Role == memory.RoleSystem {
			messages[0].Content += "\n\n" + b.registry.GenerateToolsPrompt()
		} else {
			messages = append([]memory.Message{{Role: memory.RoleSystem, Content: b.registry.GenerateToolsPrompt()}}, messages...)
		}
	}

	return Result{
		Messages:        messages,
		Tools:           defs,
		EstimatedTokens: tokens,
		Status:          status,
		CompressionStats: stats,
	}
}
