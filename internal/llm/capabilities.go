package llm

import "strings"

// ThinkingCapability describes a model's native thinking support.
type ThinkingCapability struct {
	SupportsNativeThinking bool   // Whether the model supports native thinking
	ReasoningEffortParam   string // API parameter name ("reasoning_effort" for OpenAI-compat)
}

// DetectThinkingCapability determines if a model supports native thinking
// based on model name patterns and a known model list.
//
// Detection strategy (priority order):
//  1. Known model list — exact prefix matches for confirmed models
//  2. Keyword matching — model name contains thinking-related keywords
//  3. Default — assume no native thinking support
func DetectThinkingCapability(modelName string) ThinkingCapability {
	lower := strings.ToLower(modelName)

	// Strip common provider prefixes (e.g., "Pro/deepseek-ai/DeepSeek-R1")
	parts := strings.Split(lower, "/")
	baseName := parts[len(parts)-1]

	// 1. Known models with confirmed native thinking support
	knownThinkingModels := []string{
		"deepseek-reasoner",
		"deepseek-r1",
		"deepseek-r2",
		"o1-mini",
		"o1-preview",
		"o1",
		"o3-mini",
		"o3",
		"o4-mini",
		"claude-sonnet-4-5", // Claude with extended thinking
		"claude-3-7-sonnet", // Claude 3.7 Sonnet extended thinking
		"glm-5",             // Zhipu GLM-5 with deep thinking (reasoning_content)
	}

	for _, known := range knownThinkingModels {
		if strings.HasPrefix(baseName, known) {
			return ThinkingCapability{
				SupportsNativeThinking: true,
				ReasoningEffortParam:   "reasoning_effort",
			}
		}
	}

	// 2. Keyword-based detection for unknown/new models
	thinkingKeywords := []string{
		"-r1", "-r2", "reasoner", "thinking",
		"-o1", "-o3", "-o4",
	}

	for _, kw := range thinkingKeywords {
		if strings.Contains(baseName, kw) {
			return ThinkingCapability{
				SupportsNativeThinking: true,
				ReasoningEffortParam:   "reasoning_effort",
			}
		}
	}

	// 3. Default: no native thinking
	return ThinkingCapability{
		SupportsNativeThinking: false,
	}
}

// contextWindows maps known model name prefixes to their documented context
// window size in tokens. Checked longest-prefix-first so e.g. "gpt-4o-mini"
// doesn't fall through to a generic "gpt-4" entry with a smaller window.
var contextWindows = []struct {
	prefix string
	tokens int
}{
	{"gpt-4o-mini", 128_000},
	{"gpt-4o", 128_000},
	{"gpt-4-turbo", 128_000},
	{"gpt-4.1", 1_000_000},
	{"gpt-4", 8_192},
	{"gpt-3.5-turbo", 16_385},
	{"o1-mini", 128_000},
	{"o1-preview", 128_000},
	{"o1", 200_000},
	{"o3-mini", 200_000},
	{"o3", 200_000},
	{"o4-mini", 200_000},
	{"deepseek-reasoner", 64_000},
	{"deepseek-r1", 64_000},
	{"deepseek-chat", 64_000},
	{"claude-sonnet-4-5", 200_000},
	{"claude-3-7-sonnet", 200_000},
	{"claude", 200_000},
	{"glm-5", 128_000},
	{"glm-4", 128_000},
	{"qwen-2.5", 131_072},
}

// GetContextWindow returns the documented context window in tokens for a
// known model name (matched by longest prefix, stripping any
// provider/"Pro/foo/" path segment first), or 0 if the model is unknown.
func GetContextWindow(modelName string) int {
	lower := strings.ToLower(modelName)
	parts := strings.Split(lower, "/")
	baseName := parts[len(parts)-1]

	bestLen := 0
	best := 0
	for _, cw := range contextWindows {
		if strings.HasPrefix(baseName, cw.prefix) && len(cw.prefix) > bestLen {
			bestLen = len(cw.prefix)
			best = cw.tokens
		}
	}
	return best
}

// DetectToolCallingCapability reports whether a model is known to support
// OpenAI-style Function Calling. Nearly every modern chat-completion model
// does; this exists to flag the rare exception rather than to gate the
// common case.
func DetectToolCallingCapability(modelName string) bool {
	lower := strings.ToLower(modelName)
	parts := strings.Split(lower, "/")
	baseName := parts[len(parts)-1]

	noToolCalling := []string{"gpt-3.5-turbo-0301", "text-davinci"}
	for _, m := range noToolCalling {
		if strings.HasPrefix(baseName, m) {
			return false
		}
	}
	return true
}
