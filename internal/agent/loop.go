package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/nexus-core/internal/costguard"
	"github.com/haasonsaas/nexus-core/internal/llm"
	"github.com/haasonsaas/nexus-core/internal/memory"
	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/internal/prompt"
	"github.com/haasonsaas/nexus-core/internal/tools"
	"github.com/haasonsaas/nexus-core/internal/trace"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// run is the per-run state machine: PreparingTurn -> Streaming ->
// DispatchingTools -> (AwaitingApproval | PreparingTurn | terminal).
type run struct {
	runner   *Runner
	req      RunRequest
	cfg      models.AgentConfig
	provider llm.Provider
	fallback llm.Provider
	recorder *trace.Recorder
	out      chan models.AgentStreamEvent

	seq      uint64
	attempts int
	started  time.Time
	system   string

	usage     models.TokenUsage
	cost      float64
	lastKind  models.ProviderKind
	lastModel string

	finishOnce sync.Once
}

func (rn *run) loop(ctx context.Context) {
	defer close(rn.out)
	rn.started = time.Now()
	logger := rn.runner.logger.WithFields(
		"project_id", string(rn.req.Project.ID),
		"session_id", string(rn.req.SessionID),
		"trace_id", string(rn.recorder.TraceID()))

	rn.emit(ctx, models.AgentStreamEvent{Type: models.StreamAgentStart})

	rc := &tools.RunContext{
		ProjectID:     rn.req.Project.ID,
		SessionID:     rn.req.SessionID,
		TraceID:       rn.recorder.TraceID(),
		AgentID:       rn.req.AgentID,
		AllowedTools:  rn.cfg.AllowedTools,
		ApprovedCalls: approvedSet(rn.req.ApprovedCalls),
	}

	conversation, err := rn.prepare(ctx)
	if err != nil {
		logger.Error(ctx, "run preparation failed", "error", err)
		rn.fail(ctx, err)
		return
	}

	maxTurns := rn.cfg.Cost.MaxTurnsPerSession
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}

	toolSpecs := rn.runner.registry.Specs(rn.cfg.AllowedTools)
	finalText := ""

	for turn := 1; turn <= maxTurns; turn++ {
		if ctx.Err() != nil {
			rn.finish(ctx, models.TraceAborted, finalText, nil, turn-1)
			return
		}

		// Cost guard precheck; a veto terminates the run.
		estimated := rn.provider.CountTokens(conversation)
		permit, err := rn.runner.guard.Precheck(ctx, rn.req.Project.ID, rn.cfg.Cost, estimated)
		rn.recorder.Append(models.EventCostCheck, map[string]any{
			"turn":        turn,
			"vetoed":      err != nil,
			"daily_spend": spendOf(permit),
		})
		if err != nil {
			logger.Warn(ctx, "run vetoed by cost guard", "reason", string(nexuserr.CodeOf(err)))
			rn.emitError(ctx, err)
			rn.finish(ctx, terminalStatusFor(nexuserr.CodeOf(err)), finalText, nil, turn-1)
			return
		}
		if alert := rn.runner.guard.AlertIfAboveThreshold(ctx, rn.req.Project.ID, rn.cfg.Cost); alert != nil {
			rn.recorder.Append(models.EventCostAlert, alert)
		}

		conversation = pruneMessages(conversation, rn.cfg.Memory, rn.provider, rn.cfg.Primary.MaxOutputTokens)

		params := llm.ChatParams{
			System:      rn.system,
			Messages:    conversation,
			Tools:       toolSpecs,
			MaxTokens:   rn.maxTokensPerCall(),
			Temperature: rn.cfg.Primary.Temperature,
		}

		rn.recorder.Append(models.EventLLMRequest, trace.LLMRequestData{
			Provider:     rn.provider.Kind(),
			Model:        rn.provider.Model(),
			Turn:         turn,
			MessageCount: len(conversation),
			ToolCount:    len(toolSpecs),
		})
		if rn.runner.metrics != nil {
			rn.runner.metrics.TurnCounter.WithLabelValues(
				string(rn.provider.Kind()), rn.provider.Model()).Inc()
		}

		outcome, err := rn.streamWithFailover(ctx, params)
		if err != nil {
			if ctx.Err() != nil {
				rn.finish(ctx, models.TraceAborted, finalText, nil, turn)
				return
			}
			logger.Error(ctx, "provider stream failed", "error", err)
			rn.emitError(ctx, err)
			rn.finish(ctx, models.TraceFailed, finalText, nil, turn)
			return
		}

		rn.usage.Add(outcome.usage)
		finalText = finalAssistantText(outcome.text)

		assistant := llm.ChatMessage{
			Role:      models.RoleAssistant,
			Content:   outcome.text,
			ToolCalls: outcome.toolCalls,
		}
		conversation = append(conversation, assistant)

		if outcome.stop != llm.StopToolUse || len(outcome.toolCalls) == 0 {
			rn.emit(ctx, models.AgentStreamEvent{
				Type:      models.StreamTurnComplete,
				TurnIndex: turn,
				Usage:     &outcome.usage,
			})
			rn.finish(ctx, models.TraceCompleted, finalText, nil, turn)
			return
		}

		results, pending, note := rn.dispatchTools(ctx, rc, outcome.toolCalls)
		if pending != nil {
			rn.finish(ctx, models.TraceHumanApprovalPending, finalText, pending, turn)
			return
		}
		toolTurn := llm.ChatMessage{Role: models.RoleUser, ToolResults: results}
		conversation = append(conversation, toolTurn)
		if note != "" {
			conversation = append(conversation, systemNote(note))
		}

		rn.emit(ctx, models.AgentStreamEvent{
			Type:      models.StreamTurnComplete,
			TurnIndex: turn,
			Usage:     &outcome.usage,
		})
	}

	rn.finish(ctx, models.TraceMaxTurns, finalText, nil, maxTurns)
}

// prepare loads history, retrieves memory, and resolves the system prompt.
func (rn *run) prepare(ctx context.Context) ([]llm.ChatMessage, error) {
	historyLimit := 0
	if rn.cfg.Memory.PruningStrategy == models.PruneTurnBased && rn.cfg.Memory.MaxTurnsInContext > 0 {
		historyLimit = rn.cfg.Memory.MaxTurnsInContext * 2
	}
	history, err := rn.runner.sessions.History(ctx, rn.req.SessionID, historyLimit)
	if err != nil {
		return nil, err
	}

	var memories []models.MemoryHit
	if rn.runner.memory != nil {
		start := time.Now()
		memories, err = rn.runner.memory.Retrieve(ctx, rn.req.Project.ID, rn.req.UserMessage,
			rn.cfg.Memory.TopK, memory.RetrieveOptions{})
		if err != nil {
			return nil, err
		}
		rn.recorder.AppendChild(models.EventMemoryRetrieval, map[string]any{
			"query_len": len(rn.req.UserMessage),
			"hits":      len(memories),
		}, "", time.Since(start).Milliseconds())
	}

	descriptors := rn.toolDescriptors()
	assembled, err := rn.runner.prompts.Resolve(ctx, rn.req.Project.ID, descriptors, memories, rn.req.Variables)
	if err != nil {
		return nil, err
	}
	rn.system = assembled.System
	rn.recorder.SetPromptSnapshot(assembled.Snapshot)

	conversation := make([]llm.ChatMessage, 0, len(history)+1)
	for _, msg := range history {
		if msg.Role != models.RoleUser && msg.Role != models.RoleAssistant {
			continue
		}
		conversation = append(conversation, llm.ChatMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	conversation = append(conversation, llm.ChatMessage{
		Role:    models.RoleUser,
		Content: rn.req.UserMessage,
	})
	return conversation, nil
}

func (rn *run) toolDescriptors() []prompt.ToolDescriptor {
	specs := rn.runner.registry.Specs(rn.cfg.AllowedTools)
	descriptors := make([]prompt.ToolDescriptor, 0, len(specs))
	for _, spec := range specs {
		descriptors = append(descriptors, prompt.ToolDescriptor{
			ID:          spec.Name,
			Description: spec.Description,
		})
	}
	return descriptors
}

// dispatchTools resolves the turn's tool calls in order. It returns the
// results to feed back, a pending approval when the run must park, and a
// synthetic note when the per-turn cap fired.
func (rn *run) dispatchTools(ctx context.Context, rc *tools.RunContext, calls []models.ToolCall) ([]models.ToolResult, *models.ApprovalRequest, string) {
	maxCalls := rn.cfg.Cost.MaxToolCallsPerTurn
	var results []models.ToolResult
	note := ""

	for i, call := range calls {
		if maxCalls > 0 && i >= maxCalls {
			note = fmt.Sprintf("tool call limit of %d per turn reached; remaining calls were not executed", maxCalls)
			for _, skipped := range calls[i:] {
				results = append(results, models.ToolResult{
					ToolCallID: skipped.ID,
					Content:    "not executed: per-turn tool call limit reached",
					IsError:    true,
				})
			}
			break
		}

		// The model can invent tool names; audit those separately.
		if !rn.runner.registry.Has(call.Name) {
			rn.recorder.Append(models.EventToolHallucination, map[string]any{
				"tool_id": call.Name,
			})
			if rn.runner.metrics != nil {
				rn.runner.metrics.ToolCounter.WithLabelValues(call.Name, "hallucinated").Inc()
			}
			results = append(results, models.ToolResult{
				ToolCallID: call.ID,
				Content:    fmt.Sprintf("unknown tool %q", call.Name),
				IsError:    true,
			})
			continue
		}

		// The relay already announced tool_use_start from the stream.
		callEventID := rn.recorder.Append(models.EventToolCall, map[string]any{
			"tool_id":      call.Name,
			"tool_call_id": string(call.ID),
			"input":        json.RawMessage(call.Input),
		})

		result, err := rn.runner.registry.Resolve(ctx, call, rc)
		switch code := nexuserr.CodeOf(err); {
		case err == nil:
			rn.recorder.AppendChild(models.EventToolResult, map[string]any{
				"tool_id": call.Name,
				"content": result.Content,
			}, callEventID, result.DurationMs)
			results = append(results, result)

		case code == nexuserr.CodeHumanApprovalPending:
			pending := rn.requestApproval(ctx, call)
			rn.recorder.AppendChild(models.EventApprovalRequested, map[string]any{
				"tool_id":      call.Name,
				"tool_call_id": string(call.ID),
				"approval_id":  approvalID(pending),
			}, callEventID, 0)
			return results, pending, ""

		case code == nexuserr.CodeToolNotAllowed || code == nexuserr.CodeValidation:
			rn.recorder.AppendChild(models.EventToolBlocked, map[string]any{
				"tool_id": call.Name,
				"reason":  string(code),
			}, callEventID, 0)
			if rn.runner.metrics != nil {
				rn.runner.metrics.ToolCounter.WithLabelValues(call.Name, "blocked").Inc()
			}
			results = append(results, models.ToolResult{
				ToolCallID: call.ID,
				Content:    err.Error(),
				IsError:    true,
			})

		default:
			// Execution failure: the registry returned both a coded error
			// and an error-shaped result the model can read.
			rn.recorder.AppendChild(models.EventToolResult, map[string]any{
				"tool_id":  call.Name,
				"is_error": true,
				"content":  result.Content,
			}, callEventID, result.DurationMs)
			results = append(results, result)
		}

		last := results[len(results)-1]
		rn.emit(ctx, models.AgentStreamEvent{
			Type:       models.StreamToolResult,
			ToolCallID: last.ToolCallID,
			ToolName:   call.Name,
			ToolOutput: last.Content,
			ToolError:  last.IsError,
		})
	}
	return results, nil, note
}

// requestApproval opens the pending approval record. A nil gate still parks
// the run; the approval then lives only in the trace.
func (rn *run) requestApproval(ctx context.Context, call models.ToolCall) *models.ApprovalRequest {
	if rn.runner.approvals == nil {
		return &models.ApprovalRequest{
			ToolID: call.Name,
			Input:  call.Input,
			Status: models.ApprovalPending,
		}
	}
	req, err := rn.runner.approvals.Request(ctx, rn.req.Project.ID, rn.req.SessionID,
		rn.recorder.TraceID(), call.Name, call.Input)
	if err != nil {
		rn.runner.logger.Error(ctx, "approval request failed", "error", err)
		return &models.ApprovalRequest{ToolID: call.Name, Status: models.ApprovalPending}
	}
	return &req
}

// finish seals the run exactly once: records usage, runs compaction,
// persists the outer message pair, flushes and saves the trace, and emits
// agent_complete.
func (rn *run) finish(ctx context.Context, status models.TraceStatus, finalText string, pending *models.ApprovalRequest, turns int) {
	rn.finishOnce.Do(func() {
		// Use a fresh context: the run context may already be canceled and
		// the flush path must still complete.
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if rn.usage.Total() > 0 {
			record := models.UsageRecord{
				ProjectID: rn.req.Project.ID,
				SessionID: rn.req.SessionID,
				TraceID:   rn.recorder.TraceID(),
				Provider:  rn.lastKind,
				Model:     rn.lastModel,
				Usage:     rn.usage,
			}
			if err := rn.runner.guard.Record(flushCtx, record); err != nil {
				rn.runner.logger.Error(flushCtx, "usage record failed", "error", err)
			}
		}

		rn.maybeCompact(flushCtx, turns, finalText)
		rn.persistMessages(flushCtx, status, finalText)

		flushed := rn.recorder.Flush(status)
		rn.cost = flushed.TotalCostUSD
		if rn.runner.traces != nil {
			if err := rn.runner.traces.Save(flushCtx, flushed); err != nil {
				rn.runner.logger.Error(flushCtx, "trace save failed", "error", err)
			}
		}
		rn.runner.observeRun(status)

		done := models.AgentStreamEvent{
			Type:      models.StreamAgentDone,
			Status:    status,
			FinalText: finalText,
			TurnIndex: turns,
			Usage:     &rn.usage,
		}
		if pending != nil {
			done.Code = string(nexuserr.CodeHumanApprovalPending)
			done.Message = "tool call awaiting human approval"
		}
		rn.emitAlways(done)
	})
}

// fail reports a preparation error and seals the run as Failed.
func (rn *run) fail(ctx context.Context, err error) {
	rn.emitError(ctx, err)
	rn.finish(ctx, models.TraceFailed, "", nil, 0)
}

// persistMessages writes the outermost user/assistant pair with the final
// trace id. Tool-loop intermediates are never persisted.
func (rn *run) persistMessages(ctx context.Context, status models.TraceStatus, finalText string) {
	msgs := []models.Message{{
		Role:    models.RoleUser,
		Content: rn.req.UserMessage,
		TraceID: rn.recorder.TraceID(),
	}}
	if finalText != "" {
		usage := rn.usage
		msgs = append(msgs, models.Message{
			Role:    models.RoleAssistant,
			Content: finalText,
			Usage:   &usage,
			TraceID: rn.recorder.TraceID(),
		})
	}
	if _, err := rn.runner.sessions.AppendMessages(ctx, rn.req.SessionID, msgs...); err != nil {
		rn.runner.logger.Error(ctx, "message persistence failed", "error", err)
	}
}

// maybeCompact stores a summary memory entry for long runs.
func (rn *run) maybeCompact(ctx context.Context, turns int, finalText string) {
	cfg := rn.cfg.Memory
	if !cfg.CompactionEnabled || rn.runner.memory == nil || !rn.runner.memory.Enabled() {
		return
	}
	minTurns := cfg.CompactionMinTurns
	if minTurns <= 0 {
		minTurns = 3
	}
	if turns < minTurns || finalText == "" {
		return
	}

	summary := fmt.Sprintf("Conversation summary: user asked %q; agent concluded: %s",
		truncate(rn.req.UserMessage, 200), truncate(finalText, 400))
	entry, err := rn.runner.memory.Store(ctx, models.MemoryEntry{
		ProjectID:  rn.req.Project.ID,
		Category:   "compaction",
		Content:    summary,
		Importance: 0.6,
		Metadata: map[string]any{
			"session_id": string(rn.req.SessionID),
			"trace_id":   string(rn.recorder.TraceID()),
			"turns":      turns,
		},
	})
	if err != nil {
		rn.runner.logger.Warn(ctx, "compaction store failed", "error", err)
		return
	}
	rn.recorder.Append(models.EventCompaction, map[string]any{
		"memory_id": entry.ID,
		"turns":     turns,
	})
}

// emit delivers one client-facing event in append order; it drops events
// once the run context is canceled so a dead client cannot wedge the loop.
func (rn *run) emit(ctx context.Context, event models.AgentStreamEvent) {
	rn.seq++
	event.Sequence = rn.seq
	event.TraceID = rn.recorder.TraceID()
	event.SessionID = rn.req.SessionID
	event.Time = time.Now().UTC()
	select {
	case rn.out <- event:
	case <-ctx.Done():
	}
}

// emitAlways delivers the terminal event even after cancellation. The
// channel is buffered, so this cannot block past the buffer.
func (rn *run) emitAlways(event models.AgentStreamEvent) {
	rn.seq++
	event.Sequence = rn.seq
	event.TraceID = rn.recorder.TraceID()
	event.SessionID = rn.req.SessionID
	event.Time = time.Now().UTC()
	select {
	case rn.out <- event:
	default:
	}
}

func (rn *run) emitError(ctx context.Context, err error) {
	rn.recorder.Append(models.EventError, map[string]any{
		"code":    string(nexuserr.CodeOf(err)),
		"message": err.Error(),
	})
	rn.emit(ctx, models.AgentStreamEvent{
		Type:    models.StreamError,
		Code:    string(nexuserr.CodeOf(err)),
		Message: err.Error(),
	})
}

func (rn *run) maxTokensPerCall() int {
	limit := rn.cfg.Primary.MaxOutputTokens
	if turnCap := rn.cfg.Cost.MaxTokensPerTurn; turnCap > 0 && (limit <= 0 || turnCap < limit) {
		limit = turnCap
	}
	return limit
}

func spendOf(permit *costguard.Permit) float64 {
	if permit == nil {
		return 0
	}
	return permit.DailySpend
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func approvalID(req *models.ApprovalRequest) string {
	if req == nil {
		return ""
	}
	return string(req.ID)
}
