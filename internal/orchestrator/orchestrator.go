package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ionforge/agentcore/internal/clockid"
	"github.com/ionforge/agentcore/internal/compress"
	"github.com/ionforge/agentcore/internal/config"
	"github.com/ionforge/agentcore/internal/contextbuilder"
	"github.com/ionforge/agentcore/internal/core"
	"github.com/ionforge/agentcore/internal/eventbus"
	"github.com/ionforge/agentcore/internal/llm"
	"github.com/ionforge/agentcore/internal/memory"
	"github.com/ionforge/agentcore/internal/metrics"
	"github.com/ionforge/agentcore/internal/retry"
	"github.com/ionforge/agentcore/internal/tool"
	"github.com/ionforge/agentcore/internal/tool/builtin"
	"github.com/ionforge/agentcore/internal/toolport"
)

// MaxTurnSteps bounds the number of decide/act round trips in a single turn,
// independent of core.Flow's own maxFlowIterations safety cap. Configurable
// via AGENTCORE_MAX_TURN_STEPS (default 40, min 5, max 200), mirroring the
// teacher's AGENT_MAX_STEPS / MaxAgentSteps.
var MaxTurnSteps = loadMaxTurnSteps()

func loadMaxTurnSteps() int {
	const def = 40
	v := os.Getenv("AGENTCORE_MAX_TURN_STEPS")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 5 || n > 200 {
		log.Warn().Str("value", v).Int("default", def).Msg("orchestrator: invalid AGENTCORE_MAX_TURN_STEPS, using default")
		return def
	}
	return n
}

type depthKey struct{}

func depthFromContext(ctx context.Context) int {
	if v, ok := ctx.Value(depthKey{}).(int); ok {
		return v
	}
	return 0
}

func withDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}

// Orchestrator owns every per-process resource a conversation needs and
// exposes the turn-level API: Send drives one turn to completion, Approve
// resolves a pending human-in-the-loop decision, Cancel aborts an in-flight
// turn, and Summarize compacts a conversation's stored history on demand.
type Orchestrator struct {
	store    *memory.Store
	bus      *eventbus.Bus
	provider llm.Provider
	port     toolport.Port
	metrics  *metrics.Metrics
	cfg      config.Config
	policy   retry.Policy
	ids      clockid.IDGenerator

	decideNode *DecideNode
	toolNode   *ToolExecNode
	flow       core.Workflow[TurnState]

	modelName string

	mu               sync.Mutex
	activeTurns      map[string]context.CancelFunc
	pendingApprovals map[string]chan approvalBatch

	// approvedTools holds each conversation key's session-wide "approve-all"
	// tool-name set. Never persisted: cleared simply by discarding the
	// Orchestrator, matching the spec's "not persisted across restarts" rule.
	approvedTools map[string]map[string]bool
}

// New constructs an Orchestrator. prompts supplies the composed system
// prompt (normally *prompt.PromptLoader); registry is the root tool
// registry — New registers an assign_task tool on it that calls back into
// this Orchestrator for sub-agent delegation.
func New(
	store *memory.Store,
	bus *eventbus.Bus,
	provider llm.Provider,
	registry *tool.Registry,
	prompts contextbuilder.StaticPrompts,
	cfg config.Config,
	m *metrics.Metrics,
) *Orchestrator {
	o := &Orchestrator{
		store:            store,
		bus:              bus,
		provider:         provider,
		metrics:          m,
		cfg:              cfg,
		policy:           retry.Policy{MaxAttempts: cfg.Retry.MaxAttempts, BaseDelay: time.Second, MaxDelay: 30 * time.Second},
		modelName:        cfg.Model,
		ids:              clockid.UUIDGenerator{},
		activeTurns:      make(map[string]context.CancelFunc),
		pendingApprovals: make(map[string]chan approvalBatch),
		approvedTools:    make(map[string]map[string]bool),
	}

	registry.Register(builtin.NewAssignTaskTool(o.delegate))

	builderCfg := contextbuilder.Config{
		Mode:              "default",
		WindowTokens:      cfg.ContextWindow,
		NativeToolCalling: true,
		ToolAllowlist:     nil,
	}
	builder := contextbuilder.New(prompts, registry, builderCfg)

	o.decideNode = NewDecideNode(provider, builder, o.policy, bus, m, cfg.Model, nil, 0, "")
	return o
}

// SetPort wires the toolport.Port (normally *scheduler.Scheduler) that
// executes tool batches. Split from New because the scheduler itself may
// need the same registry New just mutated (assign_task registration).
func (o *Orchestrator) SetPort(port toolport.Port) {
	o.port = port
	o.toolNode = NewToolExecNode(port, o.metrics)
	o.flow = BuildTurnFlow(o.decideNode, o.toolNode)
}

// Send runs one full conversation turn: appends userText to the stored
// history, drives the decide/act loop to completion (or cancellation, or
// error), persists the resulting history, and returns the final answer.
func (o *Orchestrator) Send(ctx context.Context, conversationKey, userText string) (string, error) {
	return o.send(ctx, conversationKey, userText, 0)
}

func (o *Orchestrator) send(ctx context.Context, conversationKey, userText string, depth int) (string, error) {
	if o.flow == nil {
		return "", fmt.Errorf("orchestrator: SetPort must be called before Send")
	}

	turnCtx, cancel := context.WithCancel(withDepth(ctx, depth))
	turnID := o.ids.NewID("turn")

	approvalCh := make(chan approvalBatch, 1)
	o.mu.Lock()
	o.activeTurns[turnID] = cancel
	o.pendingApprovals[turnID] = approvalCh
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.activeTurns, turnID)
		delete(o.pendingApprovals, turnID)
		o.mu.Unlock()
		cancel()
	}()

	history, _ := o.store.Get(conversationKey)
	history = append(history, memory.Message{
		Role: memory.RoleUser, Content: userText, Timestamp: time.Now(),
	})

	o.mu.Lock()
	approved, ok := o.approvedTools[conversationKey]
	if !ok {
		approved = make(map[string]bool)
		o.approvedTools[conversationKey] = approved
	}
	o.mu.Unlock()

	state := &TurnState{
		Ctx:             turnCtx,
		ConversationKey: conversationKey,
		TurnID:          turnID,
		History:         history,
		MaxSteps:        MaxTurnSteps,
		RequireApproval: o.cfg.RequireToolApproval,
		ApprovalChan:    approvalCh,
		ApprovedTools:   approved,
		SubAgentDepth:   depth,
	}

	start := time.Now()
	o.bus.Publish(eventbus.Event{Kind: eventbus.KindTurnStarted, ConversationKey: conversationKey, TurnID: turnID})

	o.flow.Run(turnCtx, state)

	elapsed := time.Since(start).Seconds()
	outcome := "completed"
	switch {
	case state.Err != nil:
		outcome = "error"
	case state.Canceled:
		outcome = "canceled"
	}
	if o.metrics != nil {
		o.metrics.RecordTurn(outcome, elapsed)
	}

	if state.Err != nil {
		o.bus.Publish(eventbus.Event{
			Kind: eventbus.KindError, ConversationKey: conversationKey, TurnID: turnID,
			Reason: string(state.ErrorReason), Payload: state.Err.Error(),
		})
		return "", state.Err
	}
	if state.Canceled {
		reason := state.ErrorReason
		if reason == "" {
			reason = memory.ReasonAborted
		}
		o.bus.Publish(eventbus.Event{
			Kind: eventbus.KindError, ConversationKey: conversationKey, TurnID: turnID,
			Reason: string(reason), Payload: "turn canceled",
		})
		return "", context.Canceled
	}

	o.store.Replace(conversationKey, state.History)
	o.bus.Publish(eventbus.Event{Kind: eventbus.KindDone, ConversationKey: conversationKey, TurnID: turnID, Payload: state.FinalAnswer})
	return state.FinalAnswer, nil
}

// Approve delivers a human's disposition for every tool call DecideNode is
// currently blocked waiting on for turnID. decisions may omit call IDs the
// human approved unchanged.
func (o *Orchestrator) Approve(turnID string, decisions map[string]ApprovalDecision) error {
	o.mu.Lock()
	ch, ok := o.pendingApprovals[turnID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("orchestrator: no turn %q is awaiting approval", turnID)
	}

	select {
	case ch <- approvalBatch(decisions):
	default:
		return fmt.Errorf("orchestrator: turn %q already has a pending approval response", turnID)
	}

	if o.metrics != nil {
		for _, d := range decisions {
			decision := "approved"
			switch {
			case d.Denied:
				decision = "denied"
			case d.EditedArguments != nil:
				decision = "edited"
			}
			o.metrics.RecordApproval(decision)
		}
	}
	return nil
}

// Cancel aborts the in-flight turn identified by turnID.
func (o *Orchestrator) Cancel(turnID string) error {
	o.mu.Lock()
	cancel, ok := o.activeTurns[turnID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("orchestrator: no active turn %q", turnID)
	}
	cancel()
	return nil
}

// Summarize compacts conversationKey's stored history down to its newest
// keepN messages, replacing everything older with an LLM-generated prose
// summary via memory.Store.Compact. Returns the existing summary unchanged,
// without error, if the conversation is already at or under keepN messages.
func (o *Orchestrator) Summarize(ctx context.Context, conversationKey string, keepN int) (string, error) {
	history, existingSummary := o.store.Get(conversationKey)
	if len(history) <= keepN {
		return existingSummary, nil
	}

	toDrop := history[:len(history)-keepN]
	result, err := o.provider.GenerateCompletion(ctx, llm.CompletionParams{
		Model: o.modelName,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: summarizationPrompt(toDrop, existingSummary)},
		},
		MaxTokens: 512,
	})
	if err != nil {
		return "", fmt.Errorf("orchestrator: summarize: %w", err)
	}

	summary := strings.TrimSpace(result.Message.Content)
	o.store.Compact(conversationKey, summary, keepN)
	if o.metrics != nil {
		o.metrics.RecordCompression(0, 0, 0, 0, 0)
	}
	return summary, nil
}

// CompactNow runs the deterministic compress.Compress pass immediately
// (rather than waiting for DecideNode.Prep to cross the critical
// watermark), used by operator tooling to shrink a conversation on demand
// without invoking the LLM the way Summarize does.
func (o *Orchestrator) CompactNow(conversationKey string) (compress.Stats, error) {
	history, _ := o.store.Get(conversationKey)
	compacted, stats := compress.Compress(history)
	o.store.Replace(conversationKey, compacted)
	if o.metrics != nil {
		o.metrics.RecordCompression(stats.StaleFileReadsRemoved, stats.StaleFileEditsRemoved, stats.FailedBashRemoved, stats.StaleBashRemoved, stats.UnpairedRemoved)
	}
	return stats, nil
}

// delegate is the assign_task tool's callback: spawns a fresh sub-turn in
// its own conversation, chained to the caller's recursion depth via the
// turn context, refusing once MaxRecursionDepth is reached.
func (o *Orchestrator) delegate(ctx context.Context, task string) (string, error) {
	depth := depthFromContext(ctx)
	if depth >= o.cfg.MaxRecursionDepth {
		return "", fmt.Errorf("orchestrator: sub-agent depth %d reached max_recursion_depth %d", depth, o.cfg.MaxRecursionDepth)
	}

	subKey := o.ids.NewID("sub")
	if o.metrics != nil {
		o.metrics.RecordSubAgentSpawned()
	}
	o.bus.Publish(eventbus.Event{Kind: eventbus.KindSubAgentStarted, Payload: task})
	answer, err := o.send(ctx, subKey, task, depth+1)
	o.bus.Publish(eventbus.Event{Kind: eventbus.KindSubAgentFinished, Payload: answer})
	return answer, err
}

func summarizationPrompt(dropped []memory.Message, existing string) string {
	var sb strings.Builder
	if existing != "" {
		sb.WriteString("Existing summary of earlier context:\n")
		sb.WriteString(existing)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Summarize the following conversation turns concisely, preserving facts, decisions, and file paths a future turn would need. Do not include meta-commentary.\n\n")
	for _, m := range dropped {
		if m.Content == "" {
			continue
		}
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}
