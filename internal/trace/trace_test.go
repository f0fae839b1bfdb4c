package trace

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

func TestFlushDerivesTotals(t *testing.T) {
	r := NewRecorder("proj_a", "sess_1")
	base := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	now := base
	r.SetClock(func() time.Time { return now })

	r.Append(models.EventLLMRequest, LLMRequestData{Provider: models.ProviderAnthropic, Model: "claude-sonnet-4", Turn: 1})
	r.RecordLLMResponse(models.ProviderAnthropic, "claude-sonnet-4", "tool_use",
		models.TokenUsage{InputTokens: 1000, OutputTokens: 500}, 120)

	now = base.Add(2 * time.Second)
	r.Append(models.EventLLMRequest, LLMRequestData{Provider: models.ProviderAnthropic, Model: "claude-sonnet-4", Turn: 2})
	r.RecordLLMResponse(models.ProviderAnthropic, "claude-sonnet-4", "end_turn",
		models.TokenUsage{InputTokens: 2000, OutputTokens: 300}, 90)

	now = base.Add(5 * time.Second)
	trace := r.Flush(models.TraceCompleted)

	if trace.TurnCount != 2 {
		t.Errorf("turn count = %d, want 2", trace.TurnCount)
	}
	if trace.TotalTokensUsed != 3800 {
		t.Errorf("total tokens = %d, want 3800", trace.TotalTokensUsed)
	}
	// claude-sonnet-4: $3/M input, $15/M output.
	wantCost := (3000*3.0 + 800*15.0) / 1_000_000
	if diff := trace.TotalCostUSD - wantCost; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("total cost = %v, want %v", trace.TotalCostUSD, wantCost)
	}
	if trace.TotalDurationMs != 5000 {
		t.Errorf("duration = %d, want 5000", trace.TotalDurationMs)
	}
	if trace.Status != models.TraceCompleted {
		t.Errorf("status = %s, want completed", trace.Status)
	}
	if trace.CompletedAt == nil || !trace.CompletedAt.Equal(now) {
		t.Error("completed_at must be the flush time")
	}
}

func TestEventsKeepAppendOrder(t *testing.T) {
	r := NewRecorder("proj_a", "sess_1")
	base := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	now := base
	r.SetClock(func() time.Time {
		now = now.Add(time.Millisecond)
		return now
	})

	types := []models.TraceEventType{
		models.EventCostCheck,
		models.EventLLMRequest,
		models.EventToolCall,
		models.EventToolResult,
		models.EventLLMResponse,
	}
	for _, eventType := range types {
		r.Append(eventType, nil)
	}

	trace := r.Flush(models.TraceCompleted)
	if len(trace.Events) != len(types) {
		t.Fatalf("events = %d, want %d", len(trace.Events), len(types))
	}
	for i, event := range trace.Events {
		if event.Type != types[i] {
			t.Errorf("event %d = %s, want %s", i, event.Type, types[i])
		}
		if i > 0 && event.Timestamp.Before(trace.Events[i-1].Timestamp) {
			t.Errorf("event %d timestamp out of order", i)
		}
		if event.TraceID != trace.ID {
			t.Errorf("event %d carries wrong trace id", i)
		}
	}
}

func TestToolCallPairing(t *testing.T) {
	r := NewRecorder("proj_a", "sess_1")
	callID := r.Append(models.EventToolCall, map[string]string{"tool_id": "calculator"})
	resultID := r.AppendChild(models.EventToolResult, map[string]string{"content": "4"}, callID, 12)

	trace := r.Flush(models.TraceCompleted)
	if len(trace.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(trace.Events))
	}
	if trace.Events[1].ID != resultID || trace.Events[1].ParentEventID != callID {
		t.Error("tool_result must reference its tool_call")
	}
	if trace.Events[1].DurationMs != 12 {
		t.Errorf("duration = %d, want 12", trace.Events[1].DurationMs)
	}
}

func TestFlushSealsRecorder(t *testing.T) {
	r := NewRecorder("proj_a", "sess_1")
	r.Append(models.EventLLMRequest, nil)
	first := r.Flush(models.TraceAborted)

	// Appends after flush are dropped and a second flush is a no-op.
	if id := r.Append(models.EventError, nil); id != "" {
		t.Error("append after flush must be dropped")
	}
	r.RecordLLMResponse(models.ProviderAnthropic, "claude-sonnet-4", "end_turn",
		models.TokenUsage{InputTokens: 999, OutputTokens: 999}, 1)

	second := r.Flush(models.TraceCompleted)
	if second.Status != models.TraceAborted {
		t.Errorf("status = %s, want aborted from the first flush", second.Status)
	}
	if len(second.Events) != len(first.Events) {
		t.Error("sealed trace must not grow")
	}
	if second.TotalTokensUsed != first.TotalTokensUsed {
		t.Error("sealed totals must not change")
	}
	if !r.Sealed() {
		t.Error("recorder must report sealed")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	db, err := sql.Open("sqlite", "file:"+t.TempDir()+"/test.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	r := NewRecorder("proj_a", "sess_1")
	r.SetPromptSnapshot(models.PromptSnapshot{
		IdentityLayerID:    "layer_1",
		IdentityVersion:    3,
		ToolsSectionSHA256: "abc123",
	})
	r.Append(models.EventLLMRequest, LLMRequestData{Model: "claude-sonnet-4", Turn: 1})
	r.RecordLLMResponse(models.ProviderAnthropic, "claude-sonnet-4", "end_turn",
		models.TokenUsage{InputTokens: 10, OutputTokens: 5}, 50)
	trace := r.Flush(models.TraceCompleted)

	if err := store.Save(ctx, trace); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, trace.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != trace.ID || got.Status != trace.Status || got.TurnCount != trace.TurnCount {
		t.Errorf("loaded trace differs: %+v", got)
	}
	if len(got.Events) != len(trace.Events) {
		t.Errorf("events = %d, want %d", len(got.Events), len(trace.Events))
	}
	if got.PromptSnapshot.IdentityVersion != 3 || got.PromptSnapshot.ToolsSectionSHA256 != "abc123" {
		t.Errorf("snapshot = %+v", got.PromptSnapshot)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at must survive the round trip")
	}

	sessionTraces, err := store.ListBySession(ctx, "sess_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(sessionTraces) != 1 {
		t.Errorf("session traces = %d, want 1", len(sessionTraces))
	}
}

func TestStoreGetUnknown(t *testing.T) {
	db, err := sql.Open("sqlite", "file:"+t.TempDir()+"/test.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := NewStore(db)
	if err != nil {
		t.Fatal(err)
	}

	_, err = store.Get(context.Background(), models.NewTraceID())
	if got := nexuserr.CodeOf(err); got != nexuserr.CodeNotFound {
		t.Fatalf("code = %s, want NOT_FOUND", got)
	}
}
