package openaicompat

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/ionforge/agentcore/internal/llm"
)

// Config holds OpenAI-compatible endpoint configuration. Adapted from the
// teacher's internal/llm/openai.Config, trimmed to what a single unified
// Provider needs (the teacher's separate thinking-mode/tool-call-mode
// dual-path switching collapses to one native-tool-calling code path,
// since every remaining provider concern in this tree assumes Function
// Calling is available).
type Config struct {
	APIKey          string
	BaseURL         string
	Model           string
	Temperature     *float32
	MaxTokens       int
	HTTPTimeoutSecs int
	ContextWindow   int
	ReasoningEffort string

	// RateLimitRPS caps outbound requests per second (0 disables limiting).
	// Smooths bursts from concurrent conversations' retried calls, rather
	// than letting every turn's retry.Do backoff land on the endpoint at
	// once.
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewConfigFromEnv builds a Config from LLM_API_KEY, LLM_BASE_URL,
// LLM_MODEL, LLM_TEMPERATURE, LLM_MAX_TOKENS, LLM_HTTP_TIMEOUT,
// LLM_CONTEXT_WINDOW, and LLM_REASONING_EFFORT, matching the teacher's
// env var names so existing .env files keep working.
func NewConfigFromEnv() (*Config, error) {
	cfg := &Config{
		APIKey:          os.Getenv("LLM_API_KEY"),
		BaseURL:         getEnvOrDefault("LLM_BASE_URL", "https://api.openai.com/v1"),
		Model:           getEnvOrDefault("LLM_MODEL", "gpt-4o"),
		Temperature:     getEnvFloat32Ptr("LLM_TEMPERATURE"),
		MaxTokens:       getEnvIntOrDefault("LLM_MAX_TOKENS", 0),
		HTTPTimeoutSecs: getEnvIntOrDefault("LLM_HTTP_TIMEOUT", 300),
		ContextWindow:   getEnvIntOrDefault("LLM_CONTEXT_WINDOW", 0),
		ReasoningEffort: getEnvOrDefault("LLM_REASONING_EFFORT", "medium"),
		RateLimitRPS:    getEnvFloat64OrDefault("LLM_RATE_LIMIT_RPS", 0),
		RateLimitBurst:  getEnvIntOrDefault("LLM_RATE_LIMIT_BURST", 1),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for obviously broken values.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required; set it in .env or the environment")
	}
	if c.Model == "" {
		return fmt.Errorf("LLM_MODEL cannot be empty")
	}
	if c.Temperature != nil && (*c.Temperature < 0.0 || *c.Temperature > 2.0) {
		return fmt.Errorf("LLM_TEMPERATURE must be between 0.0 and 2.0, got %f", *c.Temperature)
	}
	switch c.ReasoningEffort {
	case "", "low", "medium", "high":
	default:
		return fmt.Errorf("LLM_REASONING_EFFORT must be 'low', 'medium', or 'high', got %q", c.ReasoningEffort)
	}
	return nil
}

// ResolveContextWindow returns the effective context window size: explicit
// config, then model-name detection, then a 32K safe default.
func (c *Config) ResolveContextWindow() int {
	if c.ContextWindow > 0 {
		return c.ContextWindow
	}
	if w := llm.GetContextWindow(c.Model); w > 0 {
		return w
	}
	const defaultContextWindow = 32_000
	log.Warn().Str("model", c.Model).Int("default", defaultContextWindow).
		Msg("openaicompat: unknown model, using default context window")
	return defaultContextWindow
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvFloat32Ptr(key string) *float32 {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(v, 32)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("openaicompat: invalid float env var, ignoring")
		return nil
	}
	f := float32(parsed)
	return &f
}

func getEnvFloat64OrDefault(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("openaicompat: invalid float env var, ignoring")
		return fallback
	}
	return parsed
}

func getEnvIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Int("default", fallback).
			Msg("openaicompat: invalid int env var, using default")
		return fallback
	}
	return parsed
}
