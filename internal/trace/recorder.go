// Package trace records the structured audit trail of one agent run: an
// append-only event list kept in RAM during the run and flushed to a single
// immutable ExecutionTrace at the end.
package trace

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus-core/internal/usage"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// Recorder accumulates trace events for one run. Safe for concurrent use:
// the stream consumer, the tool dispatcher, and the runner all append.
// After Flush the recorder is sealed and further appends are dropped.
type Recorder struct {
	mu     sync.Mutex
	trace  models.ExecutionTrace
	sealed bool

	totalTokens int64
	totalCost   float64

	now func() time.Time
}

// NewRecorder opens a recorder for a fresh run.
func NewRecorder(projectID models.ProjectID, sessionID models.SessionID) *Recorder {
	r := &Recorder{now: time.Now}
	r.trace = models.ExecutionTrace{
		ID:        models.NewTraceID(),
		ProjectID: projectID,
		SessionID: sessionID,
		Status:    models.TraceRunning,
		CreatedAt: r.now().UTC(),
	}
	return r
}

// SetClock overrides the clock source for tests. Resets CreatedAt so
// durations stay consistent.
func (r *Recorder) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
	r.trace.CreatedAt = now().UTC()
}

// TraceID returns the id assigned to this run.
func (r *Recorder) TraceID() models.TraceID { return r.trace.ID }

// SetPromptSnapshot attaches the assembled-prompt snapshot.
func (r *Recorder) SetPromptSnapshot(snap models.PromptSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.sealed {
		r.trace.PromptSnapshot = snap
	}
}

// Append adds one event with a marshaled payload and returns its id. Events
// appended after Flush are dropped and return an empty id.
func (r *Recorder) Append(eventType models.TraceEventType, data any) string {
	return r.append(eventType, data, 0, "")
}

// AppendChild adds one event linked to a parent event.
func (r *Recorder) AppendChild(eventType models.TraceEventType, data any, parentID string, durationMs int64) string {
	return r.append(eventType, data, durationMs, parentID)
}

func (r *Recorder) append(eventType models.TraceEventType, data any, durationMs int64, parentID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ""
	}
	var raw json.RawMessage
	if data != nil {
		raw, _ = json.Marshal(data)
	}
	event := models.TraceEvent{
		ID:            uuid.NewString(),
		TraceID:       r.trace.ID,
		Type:          eventType,
		Timestamp:     r.now().UTC(),
		DurationMs:    durationMs,
		Data:          raw,
		ParentEventID: parentID,
	}
	r.trace.Events = append(r.trace.Events, event)
	return event.ID
}

// LLMRequestData is the payload of an llm_request event.
type LLMRequestData struct {
	Provider     models.ProviderKind `json:"provider"`
	Model        string              `json:"model"`
	Turn         int                 `json:"turn"`
	MessageCount int                 `json:"message_count"`
	ToolCount    int                 `json:"tool_count"`
}

// LLMResponseData is the payload of an llm_response event.
type LLMResponseData struct {
	Provider   models.ProviderKind `json:"provider"`
	Model      string              `json:"model"`
	StopReason string              `json:"stop_reason"`
	Usage      models.TokenUsage   `json:"usage"`
	CostUSD    float64             `json:"cost_usd"`
}

// RecordLLMResponse appends an llm_response event, pricing the usage against
// the per-million table for the model, and folds tokens and cost into the
// run totals.
func (r *Recorder) RecordLLMResponse(kind models.ProviderKind, model, stopReason string, u models.TokenUsage, durationMs int64) string {
	cost := usage.EstimateCost(model, u)
	id := r.append(models.EventLLMResponse, LLMResponseData{
		Provider:   kind,
		Model:      model,
		StopReason: stopReason,
		Usage:      u,
		CostUSD:    cost,
	}, durationMs, "")
	if id == "" {
		return ""
	}
	r.mu.Lock()
	r.totalTokens += u.InputTokens + u.OutputTokens
	r.totalCost += cost
	r.mu.Unlock()
	return id
}

// Flush seals the recorder and returns the completed trace. Totals are
// derived from the recorded events; turn count is the number of llm_request
// events. Idempotent: a second flush returns the already-sealed trace
// unchanged, regardless of the status argument.
func (r *Recorder) Flush(status models.TraceStatus) models.ExecutionTrace {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return r.trace
	}
	r.sealed = true

	completed := r.now().UTC()
	r.trace.CompletedAt = &completed
	r.trace.Status = status
	r.trace.TotalDurationMs = completed.Sub(r.trace.CreatedAt).Milliseconds()
	r.trace.TotalTokensUsed = r.totalTokens
	r.trace.TotalCostUSD = r.totalCost

	turns := 0
	for _, event := range r.trace.Events {
		if event.Type == models.EventLLMRequest {
			turns++
		}
	}
	r.trace.TurnCount = turns
	return r.trace
}

// Sealed reports whether the trace has been flushed.
func (r *Recorder) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed
}

// EventCount returns the number of events appended so far.
func (r *Recorder) EventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trace.Events)
}
