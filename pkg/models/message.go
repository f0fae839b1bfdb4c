package models

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionAbandoned SessionStatus = "abandoned"
	SessionExpired   SessionStatus = "expired"
)

// SessionMetadata carries channel-level context for a session.
type SessionMetadata struct {
	Channel   string  `json:"channel,omitempty"`
	ContactID string  `json:"contact_id,omitempty"`
	AgentID   AgentID `json:"agent_id,omitempty"`
}

// Session owns an ordered sequence of messages for one conversation.
type Session struct {
	ID        SessionID       `json:"id"`
	ProjectID ProjectID       `json:"project_id"`
	Status    SessionStatus   `json:"status"`
	Metadata  SessionMetadata `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// ToolCall is a tool invocation requested by the model. Input is the raw
// JSON arguments as reassembled from the stream.
type ToolCall struct {
	ID    ToolCallID      `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of dispatching one tool call.
type ToolResult struct {
	ToolCallID ToolCallID `json:"tool_call_id"`
	Content    string     `json:"content"`
	IsError    bool       `json:"is_error,omitempty"`
	DurationMs int64      `json:"duration_ms"`
}

// TokenUsage counts tokens for a single LLM response.
type TokenUsage struct {
	InputTokens      int64 `json:"input_tokens"`
	OutputTokens     int64 `json:"output_tokens"`
	CacheReadTokens  int64 `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int64 `json:"cache_write_tokens,omitempty"`
}

// Total returns the total billable token count.
func (u TokenUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheReadTokens + u.CacheWriteTokens
}

// Add accumulates another usage into this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheWriteTokens += other.CacheWriteTokens
}

// Message is one persisted entry in a session transcript, ordered by
// CreatedAt ascending. Tool-loop intermediate messages are kept in memory
// only; the outermost user/assistant pair is what gets persisted.
type Message struct {
	ID        MessageID   `json:"id"`
	SessionID SessionID   `json:"session_id"`
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	ToolCalls []ToolCall  `json:"tool_calls,omitempty"`
	Usage     *TokenUsage `json:"usage,omitempty"`
	TraceID   TraceID     `json:"trace_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// AgentMessage is one message on the inter-agent comms bus.
type AgentMessage struct {
	ID          string         `json:"id"`
	FromAgentID AgentID        `json:"from_agent_id"`
	ToAgentID   AgentID        `json:"to_agent_id"`
	Content     string         `json:"content"`
	Context     map[string]any `json:"context,omitempty"`
	ReplyToID   string         `json:"reply_to_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
