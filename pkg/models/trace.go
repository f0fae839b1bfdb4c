package models

import (
	"encoding/json"
	"time"
)

// TraceStatus is the terminal (or running) state of an execution trace.
type TraceStatus string

const (
	TraceRunning              TraceStatus = "running"
	TraceCompleted            TraceStatus = "completed"
	TraceFailed               TraceStatus = "failed"
	TraceBudgetExceeded       TraceStatus = "budget_exceeded"
	TraceMaxTurns             TraceStatus = "max_turns"
	TraceHumanApprovalPending TraceStatus = "human_approval_pending"
	TraceAborted              TraceStatus = "aborted"
)

// TraceEventType identifies the kind of trace event. The set is the stable
// audit surface: adding types is backward compatible, renaming is not.
type TraceEventType string

const (
	EventLLMRequest        TraceEventType = "llm_request"
	EventLLMResponse       TraceEventType = "llm_response"
	EventToolCall          TraceEventType = "tool_call"
	EventToolResult        TraceEventType = "tool_result"
	EventToolBlocked       TraceEventType = "tool_blocked"
	EventToolHallucination TraceEventType = "tool_hallucination"
	EventApprovalRequested TraceEventType = "approval_requested"
	EventApprovalResolved  TraceEventType = "approval_resolved"
	EventMemoryRetrieval   TraceEventType = "memory_retrieval"
	EventMemoryStore       TraceEventType = "memory_store"
	EventCompaction        TraceEventType = "compaction"
	EventError             TraceEventType = "error"
	EventCostCheck         TraceEventType = "cost_check"
	EventCostAlert         TraceEventType = "cost_alert"
	EventFailover          TraceEventType = "failover"
)

// TraceEvent is one append-only entry in an execution trace.
type TraceEvent struct {
	ID            string          `json:"id"`
	TraceID       TraceID         `json:"trace_id"`
	Type          TraceEventType  `json:"type"`
	Timestamp     time.Time       `json:"timestamp"`
	DurationMs    int64           `json:"duration_ms,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	ParentEventID string          `json:"parent_event_id,omitempty"`
}

// PromptSnapshot uniquely identifies the assembled system prompt for a run:
// the three active layer ids plus versions, and SHA-256 digests of the
// runtime-generated Tools and Context sections.
type PromptSnapshot struct {
	IdentityLayerID     PromptLayerID `json:"identity_layer_id"`
	IdentityVersion     int           `json:"identity_version"`
	InstructionsLayerID PromptLayerID `json:"instructions_layer_id"`
	InstructionsVersion int           `json:"instructions_version"`
	SafetyLayerID       PromptLayerID `json:"safety_layer_id"`
	SafetyVersion       int           `json:"safety_version"`

	ToolsSectionSHA256   string `json:"tools_section_sha256"`
	ContextSectionSHA256 string `json:"context_section_sha256"`
}

// ExecutionTrace is the append-only structured record of one agent run.
// Immutable after flush.
type ExecutionTrace struct {
	ID             TraceID        `json:"id"`
	ProjectID      ProjectID      `json:"project_id"`
	SessionID      SessionID      `json:"session_id"`
	PromptSnapshot PromptSnapshot `json:"prompt_snapshot"`
	Events         []TraceEvent   `json:"events"`

	TotalDurationMs int64       `json:"total_duration_ms"`
	TotalTokensUsed int64       `json:"total_tokens_used"`
	TotalCostUSD    float64     `json:"total_cost_usd"`
	TurnCount       int         `json:"turn_count"`
	Status          TraceStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// PromptLayerType identifies one of the three prompt layers.
type PromptLayerType string

const (
	LayerIdentity     PromptLayerType = "identity"
	LayerInstructions PromptLayerType = "instructions"
	LayerSafety       PromptLayerType = "safety"
)

// PromptLayer is one versioned row of prompt content. At most one layer per
// (project, layerType) is active at a time; activating a new version
// atomically deactivates the previous one.
type PromptLayer struct {
	ID           PromptLayerID   `json:"id"`
	ProjectID    ProjectID       `json:"project_id"`
	LayerType    PromptLayerType `json:"layer_type"`
	Version      int             `json:"version"`
	Content      string          `json:"content"`
	IsActive     bool            `json:"is_active"`
	CreatedBy    string          `json:"created_by"`
	ChangeReason string          `json:"change_reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
