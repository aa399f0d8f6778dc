// Package metrics exposes Prometheus instrumentation for the orchestrator.
// Grounded on haasonsaas-nexus's internal/observability/metrics.go: one
// struct of promauto-registered collectors plus small Record* helper
// methods, scaled down to this module's concerns (turns, LLM calls, tool
// execution, approvals, compression, context-window pressure).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector registered by New. Construct once at
// process startup and share the pointer across the orchestrator, scheduler,
// and MCP manager.
type Metrics struct {
	TurnsTotal        *prometheus.CounterVec   // labels: outcome (completed|canceled|error)
	TurnDuration      *prometheus.HistogramVec // labels: outcome
	LLMRequestsTotal  *prometheus.CounterVec   // labels: provider, model, status
	LLMRequestLatency *prometheus.HistogramVec // labels: provider, model
	LLMTokensTotal    *prometheus.CounterVec   // labels: provider, model, kind (prompt|completion)
	ToolCallsTotal    *prometheus.CounterVec   // labels: tool_name, status
	ToolCallLatency   *prometheus.HistogramVec // labels: tool_name
	ApprovalsTotal    *prometheus.CounterVec   // labels: decision (approved|denied|edited)
	CompressionRuns   prometheus.Counter
	CompressionDropped *prometheus.CounterVec // labels: pass (stale_read|stale_edit|failed_bash|stale_bash|unpaired)
	ContextWindowPct  *prometheus.HistogramVec // labels: provider, model
	SubAgentsSpawned  prometheus.Counter
	MCPServersActive  *prometheus.GaugeVec // labels: server
}

// New creates and registers every collector against reg. Pass
// prometheus.DefaultRegisterer at process startup, or a fresh
// prometheus.NewRegistry() in tests to avoid collisions from repeated
// registration against the global default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TurnsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_turns_total",
			Help: "Total number of orchestrator turns by outcome",
		}, []string{"outcome"}),

		TurnDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentcore_turn_duration_seconds",
			Help:    "Duration of a full orchestrator turn in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),

		LLMRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_llm_requests_total",
			Help: "Total number of LLM completion requests by provider, model, and status",
		}, []string{"provider", "model", "status"}),

		LLMRequestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentcore_llm_request_duration_seconds",
			Help:    "Duration of LLM completion requests in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),

		LLMTokensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_llm_tokens_total",
			Help: "Total tokens consumed by provider, model, and kind",
		}, []string{"provider", "model", "kind"}),

		ToolCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_tool_calls_total",
			Help: "Total tool invocations by tool name and status",
		}, []string{"tool_name", "status"}),

		ToolCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentcore_tool_call_duration_seconds",
			Help:    "Duration of tool invocations in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"tool_name"}),

		ApprovalsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_approvals_total",
			Help: "Total approval-gate decisions by outcome",
		}, []string{"decision"}),

		CompressionRuns: f.NewCounter(prometheus.CounterOpts{
			Name: "agentcore_compression_runs_total",
			Help: "Total number of history compression passes executed",
		}),

		CompressionDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_compression_messages_dropped_total",
			Help: "Messages removed by the history compressor by pass",
		}, []string{"pass"}),

		ContextWindowPct: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentcore_context_window_utilization_ratio",
			Help:    "Estimated fraction of the model's context window used per turn",
			Buckets: []float64{0.1, 0.25, 0.5, 0.7, 0.85, 0.95, 1.0},
		}, []string{"provider", "model"}),

		SubAgentsSpawned: f.NewCounter(prometheus.CounterOpts{
			Name: "agentcore_sub_agents_spawned_total",
			Help: "Total sub-agents spawned via assign_task delegation",
		}),

		MCPServersActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentcore_mcp_servers_active",
			Help: "Currently connected MCP servers",
		}, []string{"server"}),
	}
}

// RecordTurn records a completed turn's outcome and wall-clock duration.
func (m *Metrics) RecordTurn(outcome string, seconds float64) {
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.WithLabelValues(outcome).Observe(seconds)
}

// RecordLLMRequest records one completion call's outcome, latency, and
// token usage (promptTokens/completionTokens of 0 are not recorded).
func (m *Metrics) RecordLLMRequest(provider, model, status string, seconds float64, promptTokens, completionTokens int) {
	m.LLMRequestsTotal.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestLatency.WithLabelValues(provider, model).Observe(seconds)
	if promptTokens > 0 {
		m.LLMTokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensTotal.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolCall records one tool invocation's outcome and latency.
func (m *Metrics) RecordToolCall(toolName, status string, seconds float64) {
	m.ToolCallsTotal.WithLabelValues(toolName, status).Inc()
	m.ToolCallLatency.WithLabelValues(toolName).Observe(seconds)
}

// RecordApproval records one approval-gate decision: "approved", "denied",
// or "edited".
func (m *Metrics) RecordApproval(decision string) {
	m.ApprovalsTotal.WithLabelValues(decision).Inc()
}

// RecordCompression records one compression pass and the messages each of
// its five sub-passes removed.
func (m *Metrics) RecordCompression(staleReads, staleEdits, failedBash, staleBash, unpaired int) {
	m.CompressionRuns.Inc()
	m.CompressionDropped.WithLabelValues("stale_read").Add(float64(staleReads))
	m.CompressionDropped.WithLabelValues("stale_edit").Add(float64(staleEdits))
	m.CompressionDropped.WithLabelValues("failed_bash").Add(float64(failedBash))
	m.CompressionDropped.WithLabelValues("stale_bash").Add(float64(staleBash))
	m.CompressionDropped.WithLabelValues("unpaired").Add(float64(unpaired))
}

// RecordContextWindow records the estimated utilization ratio (0-1) of a
// turn's assembled context against the model's window size.
func (m *Metrics) RecordContextWindow(provider, model string, ratio float64) {
	m.ContextWindowPct.WithLabelValues(provider, model).Observe(ratio)
}

// RecordSubAgentSpawned records one assign_task delegation.
func (m *Metrics) RecordSubAgentSpawned() {
	m.SubAgentsSpawned.Inc()
}

// SetMCPServerActive sets the active gauge for a named MCP server to 1
// (connected) or 0 (disconnected).
func (m *Metrics) SetMCPServerActive(server string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	m.MCPServersActive.WithLabelValues(server).Set(v)
}
