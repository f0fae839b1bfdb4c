package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects runtime counters and latencies for agent runs.
//
// All metrics are registered on the registry passed to NewMetrics so tests
// can use isolated registries.
type Metrics struct {
	// RunCounter counts agent runs by terminal status.
	// Labels: status (completed|failed|budget_exceeded|max_turns|human_approval_pending|aborted)
	RunCounter *prometheus.CounterVec

	// TurnCounter counts LLM turns by provider and model.
	TurnCounter *prometheus.CounterVec

	// LLMRequestDuration measures LLM call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// TokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output)
	TokensUsed *prometheus.CounterVec

	// ToolCounter counts tool dispatches.
	// Labels: tool, outcome (ok|error|blocked|hallucinated)
	ToolCounter *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	ToolDuration *prometheus.HistogramVec

	// CostVetoCounter counts cost guard vetoes by reason code.
	CostVetoCounter *prometheus.CounterVec

	// FailoverCounter counts provider failovers by classified reason.
	FailoverCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on the given registry.
// Pass prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_core_runs_total",
			Help: "Agent runs by terminal status.",
		}, []string{"status"}),
		TurnCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_core_turns_total",
			Help: "LLM turns by provider and model.",
		}, []string{"provider", "model"}),
		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nexus_core_llm_request_duration_seconds",
			Help:    "LLM call latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),
		TokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_core_tokens_total",
			Help: "Token consumption by direction.",
		}, []string{"provider", "model", "type"}),
		ToolCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_core_tool_dispatches_total",
			Help: "Tool dispatches by outcome.",
		}, []string{"tool", "outcome"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nexus_core_tool_duration_seconds",
			Help:    "Tool execution time.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),
		CostVetoCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_core_cost_vetoes_total",
			Help: "Cost guard vetoes by reason.",
		}, []string{"reason"}),
		FailoverCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_core_failovers_total",
			Help: "Provider failovers by classified reason.",
		}, []string{"reason"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.RunCounter,
			m.TurnCounter,
			m.LLMRequestDuration,
			m.TokensUsed,
			m.ToolCounter,
			m.ToolDuration,
			m.CostVetoCounter,
			m.FailoverCounter,
		)
	}
	return m
}

// NewTestMetrics returns metrics on a private registry for tests.
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
