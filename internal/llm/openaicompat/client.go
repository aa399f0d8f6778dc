// Package openaicompat implements llm.Provider against any OpenAI-compatible
// chat completions endpoint using github.com/sashabaranov/go-openai. It
// supersedes the teacher's internal/llm/openai package, which exposed three
// separate call shapes (CallLLM, CallLLMStream, CallLLMWithTools) behind a
// bespoke LLMProvider interface; here a single streaming code path handles
// both plain text and tool-calling turns, matching llm.Provider's shape.
package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	openailib "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/ionforge/agentcore/internal/llm"
)

// Client implements llm.Provider over an OpenAI-compatible endpoint.
type Client struct {
	inner   *openailib.Client
	config  *Config
	limiter *rate.Limiter // nil when RateLimitRPS is unset
}

// NewClient builds a Client from an explicit Config.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("openaicompat: config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("openaicompat: invalid config: %w", err)
	}

	clientConfig := openailib.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	timeout := time.Duration(config.HTTPTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	clientConfig.HTTPClient = &http.Client{Timeout: timeout}

	c := &Client{inner: openailib.NewClientWithConfig(clientConfig), config: config}
	if config.RateLimitRPS > 0 {
		burst := config.RateLimitBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(config.RateLimitRPS), burst)
	}
	return c, nil
}

// NewClientFromEnv builds a Client from the standard LLM_* environment
// variables (see NewConfigFromEnv).
func NewClientFromEnv() (*Client, error) {
	cfg, err := NewConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("openaicompat: loading config from env: %w", err)
	}
	return NewClient(cfg)
}

// Name identifies the provider and model for logging and metrics labels.
func (c *Client) Name() string {
	return fmt.Sprintf("openai-compatible (%s)", c.config.Model)
}

func (c *Client) buildRequest(params llm.CompletionParams, stream bool) openailib.ChatCompletionRequest {
	model := params.Model
	if model == "" {
		model = c.config.Model
	}

	msgs := make([]openailib.ChatCompletionMessage, len(params.Messages))
	for i, m := range params.Messages {
		cm := openailib.ChatCompletionMessage{
			Role:             m.Role,
			Content:          m.Content,
			ReasoningContent: m.ReasoningContent,
		}
		if m.Role == llm.RoleTool {
			cm.ToolCallID = m.ToolCallID
			cm.Name = m.Name
		}
		if m.Role == llm.RoleAssistant && len(m.ToolCalls) > 0 {
			tcs := make([]openailib.ToolCall, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				tcs[j] = openailib.ToolCall{
					ID:   tc.ID,
					Type: openailib.ToolTypeFunction,
					Function: openailib.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				}
			}
			cm.ToolCalls = tcs
		}
		msgs[i] = cm
	}

	req := openailib.ChatCompletionRequest{
		Model:    model,
		Messages: msgs,
		Stream:   stream,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	} else if c.config.Temperature != nil {
		req.Temperature = *c.config.Temperature
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = params.MaxTokens
	} else if c.config.MaxTokens > 0 {
		req.MaxTokens = c.config.MaxTokens
	}

	effort := params.ReasoningEffort
	if effort == "" {
		effort = c.config.ReasoningEffort
	}
	if effort != "" && llm.DetectThinkingCapability(model).SupportsNativeThinking {
		req.ReasoningEffort = effort
	}

	if len(params.Tools) > 0 {
		tools := make([]openailib.Tool, len(params.Tools))
		for i, t := range params.Tools {
			tools[i] = openailib.Tool{
				Type: openailib.ToolTypeFunction,
				Function: &openailib.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			}
		}
		req.Tools = tools
		switch params.ToolChoice {
		case "", "auto":
		case "none":
			req.ToolChoice = "none"
		default:
			req.ToolChoice = openailib.ToolChoice{
				Type:     openailib.ToolTypeFunction,
				Function: openailib.ToolFunction{Name: params.ToolChoice},
			}
		}
	}

	return req
}

// GenerateCompletion performs a single non-streaming completion.
func (c *Client) GenerateCompletion(ctx context.Context, params llm.CompletionParams) (llm.CompletionResult, error) {
	if len(params.Messages) == 0 {
		return llm.CompletionResult{}, fmt.Errorf("openaicompat: no messages to send")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return llm.CompletionResult{}, fmt.Errorf("openaicompat: rate limit wait: %w", err)
		}
	}

	req := c.buildRequest(params, false)
	resp, err := c.inner.CreateChatCompletion(ctx, req)
	if err != nil {
		return llm.CompletionResult{}, err
	}
	if len(resp.Choices) == 0 {
		return llm.CompletionResult{}, fmt.Errorf("openaicompat: no choices returned")
	}

	choice := resp.Choices[0]
	msg := llm.Message{
		Role:             llm.RoleAssistant,
		Content:          choice.Message.Content,
		ReasoningContent: choice.Message.ReasoningContent,
	}
	if len(choice.Message.ToolCalls) > 0 {
		msg.ToolCalls = make([]llm.ToolCall, len(choice.Message.ToolCalls))
		for i, tc := range choice.Message.ToolCalls {
			msg.ToolCalls[i] = llm.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			}
		}
	}

	return llm.CompletionResult{
		Message: msg,
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		FinishReason: string(choice.FinishReason),
	}, nil
}

// StreamCompletion streams a completion. The returned channel is closed
// after exactly one EventFinish or EventError has been sent.
func (c *Client) StreamCompletion(ctx context.Context, params llm.CompletionParams) (<-chan llm.StreamEvent, error) {
	if len(params.Messages) == 0 {
		return nil, fmt.Errorf("openaicompat: no messages to send")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("openaicompat: rate limit wait: %w", err)
		}
	}

	req := c.buildRequest(params, true)
	req.StreamOptions = &openailib.StreamOptions{IncludeUsage: true}

	stream, err := c.inner.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}

	events := make(chan llm.StreamEvent, 16)
	go func() {
		defer close(events)
		defer stream.Close()

		var finishReason string
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				events <- llm.StreamEvent{Type: llm.EventFinish, FinishReason: finishReason}
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					events <- llm.StreamEvent{Type: llm.EventFinish, FinishReason: finishReason}
					return
				}
				log.Warn().Err(err).Str("model", req.Model).Msg("openaicompat: stream recv error")
				events <- llm.StreamEvent{Type: llm.EventError, Err: err}
				return
			}

			if chunk.Usage != nil {
				events <- llm.StreamEvent{Type: llm.EventUsage, Usage: &llm.Usage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				}}
			}

			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.FinishReason != "" {
				finishReason = string(choice.FinishReason)
			}

			if rc := choice.Delta.ReasoningContent; rc != "" {
				events <- llm.StreamEvent{Type: llm.EventReasoningDelta, ReasoningDelta: rc}
			}
			if content := choice.Delta.Content; content != "" {
				events <- llm.StreamEvent{Type: llm.EventContentDelta, ContentDelta: content}
			}
			for _, tc := range choice.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				events <- llm.StreamEvent{Type: llm.EventToolCallDelta, ToolCallDelta: &llm.ToolCallDelta{
					Index:          idx,
					ID:             tc.ID,
					Name:           tc.Function.Name,
					ArgumentsDelta: tc.Function.Arguments,
				}}
			}
		}
	}()

	return events, nil
}
