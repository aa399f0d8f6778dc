// Package config defines the orchestrator's configuration surface: a Go
// struct mirroring every option the spec enumerates, loaded from YAML via
// gopkg.in/yaml.v3 (the teacher's own config dependency) with defaults
// applied before unmarshal, plus targeted environment-variable overrides in
// the same style as LoadEnv's .env loading.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// RetryConfig controls LLM-call retry behavior (internal/retry).
type RetryConfig struct {
	MaxAttempts          int   `yaml:"max_attempts"`
	RetryableStatusCodes []int `yaml:"retryable_status_codes"`
}

// DefaultRetryConfig returns the spec's documented defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:          3,
		RetryableStatusCodes: []int{429, 500, 502, 503, 504},
	}
}

// MCPServerConfig is one entry under mcp_servers in config.yaml.
type MCPServerConfig struct {
	Transport string            `yaml:"transport"` // "stdio" | "http"
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	Env       []string          `yaml:"env,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	TimeoutMs int               `yaml:"timeout_ms"`
	Prefix    string            `yaml:"prefix,omitempty"` // default "mcp_{id}_"
	Enabled   *bool             `yaml:"enabled,omitempty"`
	Lifecycle string            `yaml:"lifecycle,omitempty"`
}

// IsEnabled returns the effective enabled value, defaulting to true when
// unset.
func (c MCPServerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// EffectiveTimeoutMs returns the configured timeout, defaulting to 120000ms.
func (c MCPServerConfig) EffectiveTimeoutMs() int {
	if c.TimeoutMs <= 0 {
		return 120000
	}
	return c.TimeoutMs
}

// ToolAllowlist maps server_id -> tool_name -> allowed. Absence of a
// server_id or tool_name in the map means "allowed" per the spec.
type ToolAllowlist map[string]map[string]bool

// Allows reports whether the given server/tool pair is permitted. Absence
// at either level defaults to allowed.
func (a ToolAllowlist) Allows(serverID, toolName string) bool {
	if a == nil {
		return true
	}
	perServer, ok := a[serverID]
	if !ok {
		return true
	}
	allowed, ok := perServer[toolName]
	if !ok {
		return true
	}
	return allowed
}

// Config is the orchestrator's full configuration surface.
type Config struct {
	MaxRecursionDepth   int                        `yaml:"max_recursion_depth"`
	MaxToolConcurrency  int                        `yaml:"max_tool_concurrency"`
	RequireToolApproval bool                       `yaml:"require_tool_approval"`
	Stream              bool                       `yaml:"stream"`
	Retry               RetryConfig                `yaml:"retry"`
	MCPServers          map[string]MCPServerConfig `yaml:"mcp_servers"`
	ToolAllowlist       ToolAllowlist              `yaml:"tool_allowlist"`

	// ambient stack, not part of spec.md's enumerated surface but required
	// to run a concrete provider/model:
	Model           string `yaml:"model"`
	ContextWindow   int    `yaml:"context_window"`
	OpenAIBaseURL   string `yaml:"openai_base_url,omitempty"`
	LogLevel        string `yaml:"log_level"`
}

// Default returns a Config populated with every documented default.
func Default() Config {
	return Config{
		MaxRecursionDepth:   25,
		MaxToolConcurrency:  3,
		RequireToolApproval: false,
		Stream:              true,
		Retry:               DefaultRetryConfig(),
		MCPServers:          map[string]MCPServerConfig{},
		ToolAllowlist:       ToolAllowlist{},
		ContextWindow:       128_000,
		LogLevel:            "info",
	}
}

// Load reads path as YAML over Default(), then applies environment
// overrides via ApplyEnvOverrides. A missing file is not an error — the
// caller gets Default() plus any env overrides, matching LoadEnv's
// tolerant-of-absence philosophy.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %q: %w", path, err)
	}

	ApplyEnvOverrides(&cfg)
	return cfg, nil
}

// ApplyEnvOverrides overlays a small set of environment variables onto cfg,
// for values operators commonly need to change per-deployment without
// editing YAML. Unset or unparsable variables are left at their current
// value.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTCORE_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("AGENTCORE_OPENAI_BASE_URL"); v != "" {
		cfg.OpenAIBaseURL = v
	}
	if v := os.Getenv("AGENTCORE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("AGENTCORE_MAX_TOOL_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxToolConcurrency = n
		}
	}
	if v := os.Getenv("AGENTCORE_REQUIRE_TOOL_APPROVAL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RequireToolApproval = b
		}
	}
}
