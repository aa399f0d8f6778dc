// Package scheduler implements toolport.Port over a tool.Registry: bounded
// concurrency, per-call timeout, order-preserving results. Grounded on
// haasonsaas-nexus's ToolExecutor.ExecuteConcurrently (semaphore + WaitGroup
// + per-call context.WithTimeout, results written into a pre-sized slice by
// index so completion order never matters).
package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ionforge/agentcore/internal/eventbus"
	"github.com/ionforge/agentcore/internal/llm"
	"github.com/ionforge/agentcore/internal/memory"
	"github.com/ionforge/agentcore/internal/tool"
	"github.com/ionforge/agentcore/internal/toolport"
)

// Config configures the scheduler's concurrency and per-call timeout.
type Config struct {
	MaxConcurrency int           // default 3, matching max_tool_concurrency's spec default
	PerCallTimeout time.Duration // default 120s
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{MaxConcurrency: 3, PerCallTimeout: 120 * time.Second}
}

// Scheduler is the default toolport.Port implementation.
type Scheduler struct {
	registry *tool.Registry
	cfg      Config
	bus      *eventbus.Bus
}

// New creates a Scheduler over registry. bus may be nil to disable
// tool_started/tool_finished event publication.
func New(registry *tool.Registry, cfg Config, bus *eventbus.Bus) *Scheduler {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 3
	}
	if cfg.PerCallTimeout <= 0 {
		cfg.PerCallTimeout = 120 * time.Second
	}
	return &Scheduler{registry: registry, cfg: cfg, bus: bus}
}

// ListDefinitions implements toolport.Port.
func (s *Scheduler) ListDefinitions(allowlist map[string]bool) []llm.ToolDefinition {
	all := s.registry.List()
	defs := make([]llm.ToolDefinition, 0, len(all))
	for _, t := range all {
		if allowlist != nil && !allowlist[t.Name()] {
			continue
		}
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.InputSchema(),
		})
	}
	return defs
}

// ExecuteBatch implements toolport.Port: runs every invocation under a
// semaphore-bounded goroutine pool, writing results into a pre-sized slice
// indexed by input position so the caller always gets results in call
// order, independent of completion order.
func (s *Scheduler) ExecuteBatch(ctx context.Context, invocations []toolport.Invocation) ([]memory.ToolExecutionResult, error) {
	results := make([]memory.ToolExecutionResult, len(invocations))
	sem := make(chan struct{}, s.cfg.MaxConcurrency)
	var wg sync.WaitGroup

	for i, inv := range invocations {
		wg.Add(1)
		go func(idx int, inv toolport.Invocation) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = abortedResult(inv.Call.ID)
				return
			}

			results[idx] = s.executeOne(ctx, inv)
		}(i, inv)
	}
	wg.Wait()
	return results, nil
}

func abortedResult(callID string) memory.ToolExecutionResult {
	return memory.ToolExecutionResult{
		ToolCallID:  callID,
		Status:      "error",
		PayloadType: memory.PayloadText,
		Payload:     "turn canceled before this tool call started",
		Reason:      memory.ReasonAborted,
	}
}

// executeOne synthesizes a denied/edited result without calling the tool,
// or dispatches to the registry with a per-call deadline.
func (s *Scheduler) executeOne(ctx context.Context, inv toolport.Invocation) memory.ToolExecutionResult {
	call := inv.Call

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Kind: eventbus.KindToolStarted, Payload: call})
	}

	if inv.Denied {
		return memory.ToolExecutionResult{
			ToolCallID:  call.ID,
			Status:      "error",
			PayloadType: memory.PayloadText,
			Payload:     "tool call denied by approval gate",
			Reason:      memory.ReasonDenied,
		}
	}

	if inv.EditedArguments != nil {
		out := memory.ToolExecutionResult{
			ToolCallID:  call.ID,
			Status:      "error",
			PayloadType: memory.PayloadText,
			Payload:     "<system-reminder>tool call arguments were edited by the approval gate; the original call was not executed:\n" + string(inv.EditedArguments) + "</system-reminder>",
			Reason:      memory.ReasonEdited,
		}
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Kind: eventbus.KindToolFinished, Payload: out})
		}
		return out
	}

	args := call.Arguments

	t, ok := s.registry.Get(call.Name)
	if !ok {
		return memory.ToolExecutionResult{
			ToolCallID:  call.ID,
			Status:      "error",
			PayloadType: memory.PayloadText,
			Payload:     "no tool registered with this name",
			Reason:      memory.ReasonToolNotFound,
		}
	}

	if err := tool.ValidateArguments(t.InputSchema(), args); err != nil {
		return memory.ToolExecutionResult{
			ToolCallID:  call.ID,
			Status:      "error",
			PayloadType: memory.PayloadText,
			Payload:     "arguments do not satisfy the tool's schema: " + err.Error(),
			Reason:      memory.ReasonInvalidInput,
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.PerCallTimeout)
	defer cancel()

	result, err := t.Execute(callCtx, json.RawMessage(args))

	var out memory.ToolExecutionResult
	switch {
	case err != nil:
		out = errorResult(call.ID, callCtx, err)
	case result.Error != "":
		out = memory.ToolExecutionResult{
			ToolCallID:  call.ID,
			Status:      "error",
			PayloadType: memory.PayloadText,
			Payload:     result.Error,
			Reason:      memory.ReasonUnknown,
		}
	default:
		out = memory.ToolExecutionResult{
			ToolCallID:  call.ID,
			Status:      "success",
			PayloadType: memory.PayloadText,
			Payload:     result.Output,
		}
	}

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Kind: eventbus.KindToolFinished, Payload: out})
	}
	return out
}

func errorResult(callID string, callCtx context.Context, err error) memory.ToolExecutionResult {
	reason := memory.ReasonUnknown
	if callCtx.Err() == context.DeadlineExceeded {
		reason = memory.ReasonTimeout
	} else if callCtx.Err() == context.Canceled {
		reason = memory.ReasonAborted
	}
	log.Warn().Err(err).Str("tool_call_id", callID).Str("reason", string(reason)).
		Msg("scheduler: tool execution returned an error")
	return memory.ToolExecutionResult{
		ToolCallID:  callID,
		Status:      "error",
		PayloadType: memory.PayloadText,
		Payload:     err.Error(),
		Reason:      reason,
	}
}
