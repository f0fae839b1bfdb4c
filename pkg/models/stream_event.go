package models

import (
	"encoding/json"
	"time"
)

// AgentStreamEventType identifies a client-facing stream event.
type AgentStreamEventType string

const (
	StreamAgentStart   AgentStreamEventType = "agent_start"
	StreamContentDelta AgentStreamEventType = "content_delta"
	StreamToolUseStart AgentStreamEventType = "tool_use_start"
	StreamToolResult   AgentStreamEventType = "tool_result"
	StreamTurnComplete AgentStreamEventType = "turn_complete"
	StreamAgentDone    AgentStreamEventType = "agent_complete"
	StreamError        AgentStreamEventType = "error"
)

// AgentStreamEvent is the client-facing view of one run event, delivered in
// append order over the run's event channel. Exactly one payload field is
// set for a given Type.
type AgentStreamEvent struct {
	Type      AgentStreamEventType `json:"type"`
	TraceID   TraceID              `json:"trace_id,omitempty"`
	SessionID SessionID            `json:"session_id,omitempty"`
	Time      time.Time            `json:"time"`

	// Sequence is monotonic within a run for ordering guarantees.
	Sequence uint64 `json:"seq"`

	// Delta is incremental assistant text for content_delta events.
	Delta string `json:"delta,omitempty"`

	// Tool fields for tool_use_start and tool_result events.
	ToolCallID ToolCallID      `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	ToolOutput string          `json:"tool_output,omitempty"`
	ToolError  bool            `json:"tool_error,omitempty"`

	// Turn fields for turn_complete events.
	TurnIndex int         `json:"turn_index,omitempty"`
	Usage     *TokenUsage `json:"usage,omitempty"`

	// Final fields for agent_complete events.
	Status    TraceStatus `json:"status,omitempty"`
	FinalText string      `json:"final_text,omitempty"`

	// Error fields for error events.
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}
