// Package agent drives the multi-turn run loop: cost precheck, prompt
// assembly, provider streaming with failover, tool dispatch, and trace
// flush. One Run is one logical task; within it the stream relay, the
// accumulator, and the trace recorder are concurrent consumers of the same
// provider event stream.
package agent

import (
	"context"
	"strings"

	"github.com/haasonsaas/nexus-core/internal/approval"
	"github.com/haasonsaas/nexus-core/internal/costguard"
	"github.com/haasonsaas/nexus-core/internal/llm"
	"github.com/haasonsaas/nexus-core/internal/memory"
	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/internal/observability"
	"github.com/haasonsaas/nexus-core/internal/prompt"
	"github.com/haasonsaas/nexus-core/internal/sessions"
	"github.com/haasonsaas/nexus-core/internal/tools"
	"github.com/haasonsaas/nexus-core/internal/trace"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

const (
	defaultMaxTurns      = 10
	defaultReserveTokens = 4096
)

// ProviderFactory builds a provider from its spec. Overridable in tests.
type ProviderFactory func(spec models.ProviderSpec) (llm.Provider, error)

// Runner executes agent runs against a project's configuration.
type Runner struct {
	guard       *costguard.Guard
	registry    *tools.Registry
	prompts     *prompt.Resolver
	memory      *memory.Manager
	approvals   *approval.Gate
	sessions    *sessions.Store
	traces      *trace.Store
	newProvider ProviderFactory
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// Deps wires a Runner. Traces and Approvals may be nil in embedded setups;
// everything else is required.
type Deps struct {
	Guard     *costguard.Guard
	Registry  *tools.Registry
	Prompts   *prompt.Resolver
	Memory    *memory.Manager
	Approvals *approval.Gate
	Sessions  *sessions.Store
	Traces    *trace.Store

	// NewProvider defaults to llm.New.
	NewProvider ProviderFactory

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// NewRunner creates a runner.
func NewRunner(deps Deps) *Runner {
	factory := deps.NewProvider
	if factory == nil {
		factory = llm.New
	}
	return &Runner{
		guard:       deps.Guard,
		registry:    deps.Registry,
		prompts:     deps.Prompts,
		memory:      deps.Memory,
		approvals:   deps.Approvals,
		sessions:    deps.Sessions,
		traces:      deps.Traces,
		newProvider: factory,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
	}
}

// RunRequest describes one agent run.
type RunRequest struct {
	Project     models.Project
	SessionID   models.SessionID
	UserMessage string

	// Variables substitute {{name}} placeholders in prompt layers.
	Variables map[string]string

	// ApprovedCalls are tool call ids already approved out-of-band; a
	// resumed run passes the ids resolved since it parked.
	ApprovedCalls []models.ToolCallID

	AgentID models.AgentID
}

// RunResult is the terminal summary of one run.
type RunResult struct {
	TraceID   models.TraceID
	Status    models.TraceStatus
	FinalText string
	Usage     models.TokenUsage
	CostUSD   float64
	Turns     int

	// PendingApproval is set when the run parked on a human approval.
	PendingApproval *models.ApprovalRequest
}

// Run starts a run and returns its event stream. The channel delivers
// events in append order and closes after the terminal agent_complete (or
// error) event. Cancel the context to abort the run.
func (r *Runner) Run(ctx context.Context, req RunRequest) (<-chan models.AgentStreamEvent, error) {
	if req.UserMessage == "" {
		return nil, nexuserr.New(nexuserr.CodeValidation, "user message is required")
	}
	if req.SessionID == "" {
		return nil, nexuserr.New(nexuserr.CodeValidation, "session id is required")
	}

	primary, err := r.newProvider(req.Project.Config.Primary)
	if err != nil {
		return nil, err
	}
	var fallback llm.Provider
	if req.Project.Config.Fallback != nil {
		fallback, err = r.newProvider(*req.Project.Config.Fallback)
		if err != nil {
			return nil, err
		}
	}

	out := make(chan models.AgentStreamEvent, 64)
	rn := &run{
		runner:   r,
		req:      req,
		cfg:      req.Project.Config,
		provider: primary,
		fallback: fallback,
		recorder: trace.NewRecorder(req.Project.ID, req.SessionID),
		out:      out,
	}
	go rn.loop(ctx)
	return out, nil
}

// RunSync executes a run to completion, discarding intermediate stream
// events. Used by the scheduled-task and proactive paths.
func (r *Runner) RunSync(ctx context.Context, req RunRequest) (RunResult, error) {
	events, err := r.Run(ctx, req)
	if err != nil {
		return RunResult{}, err
	}
	var result RunResult
	var runErr error
	for event := range events {
		switch event.Type {
		case models.StreamAgentDone:
			result.TraceID = event.TraceID
			result.Status = event.Status
			result.FinalText = event.FinalText
			if event.Usage != nil {
				result.Usage = *event.Usage
			}
			result.Turns = event.TurnIndex
		case models.StreamError:
			runErr = nexuserr.New(nexuserr.Code(event.Code), event.Message)
		}
	}
	return result, runErr
}

// approvedSet converts the request's approved call ids to the run-context
// set form.
func approvedSet(ids []models.ToolCallID) map[models.ToolCallID]struct{} {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[models.ToolCallID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// systemNote is injected into the conversation when a per-turn cap fires.
func systemNote(text string) llm.ChatMessage {
	return llm.ChatMessage{Role: models.RoleUser, Content: "[system note] " + text}
}

// terminalStatusFor maps a veto or stream error code to the run's terminal
// status.
func terminalStatusFor(code nexuserr.Code) models.TraceStatus {
	switch code {
	case nexuserr.CodeDailyBudgetExceeded, nexuserr.CodeMonthlyBudgetExceeded,
		nexuserr.CodeRPMExceeded, nexuserr.CodeRPHExceeded:
		return models.TraceBudgetExceeded
	case nexuserr.CodeAborted:
		return models.TraceAborted
	default:
		return models.TraceFailed
	}
}

// pruneMessages trims the conversation per the configured strategy. The
// final message (the live user turn) is never dropped.
func pruneMessages(msgs []llm.ChatMessage, cfg models.MemoryConfig, provider llm.Provider, reserve int) []llm.ChatMessage {
	if len(msgs) <= 1 {
		return msgs
	}
	switch cfg.PruningStrategy {
	case models.PruneTokenBased:
		if reserve <= 0 {
			reserve = defaultReserveTokens
		}
		window := provider.ContextWindow()
		for len(msgs) > 1 && provider.CountTokens(msgs)+reserve > window {
			msgs = msgs[1:]
		}
		return msgs
	default:
		max := cfg.MaxTurnsInContext
		if max <= 0 {
			return msgs
		}
		// A turn starts at a user-role message carrying no tool results.
		starts := []int{}
		for i, m := range msgs {
			if m.Role == models.RoleUser && len(m.ToolResults) == 0 {
				starts = append(starts, i)
			}
		}
		if len(starts) <= max {
			return msgs
		}
		return msgs[starts[len(starts)-max]:]
	}
}

// finalAssistantText strips leading/trailing whitespace from accumulated
// assistant output.
func finalAssistantText(text string) string {
	return strings.TrimSpace(text)
}

// observeRun records the terminal run metric.
func (r *Runner) observeRun(status models.TraceStatus) {
	if r.metrics != nil {
		r.metrics.RunCounter.WithLabelValues(string(status)).Inc()
	}
}
