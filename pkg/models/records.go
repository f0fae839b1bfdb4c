package models

import (
	"encoding/json"
	"time"
)

// UsageRecord is one durable spend record written after each LLM response.
type UsageRecord struct {
	ID        UsageRecordID `json:"id"`
	ProjectID ProjectID     `json:"project_id"`
	SessionID SessionID     `json:"session_id"`
	TraceID   TraceID       `json:"trace_id"`
	Provider  ProviderKind  `json:"provider"`
	Model     string        `json:"model"`
	Usage     TokenUsage    `json:"usage"`
	CostUSD   float64       `json:"cost_usd"`
	Timestamp time.Time     `json:"timestamp"`
}

// Secret is an encrypted per-project credential. EncryptedValue, IV, and
// AuthTag are hex encoded. Plaintext never appears in traces, logs, API
// responses, or error messages.
type Secret struct {
	ID             string    `json:"id"`
	ProjectID      ProjectID `json:"project_id"`
	Key            string    `json:"key"`
	EncryptedValue string    `json:"-"`
	IV             string    `json:"-"`
	AuthTag        string    `json:"-"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ApprovalStatus is the lifecycle state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// ApprovalRequest is a pending human decision that blocks a tool call.
type ApprovalRequest struct {
	ID          ApprovalID      `json:"id"`
	ProjectID   ProjectID       `json:"project_id"`
	SessionID   SessionID       `json:"session_id"`
	TraceID     TraceID         `json:"trace_id"`
	ToolID      string          `json:"tool_id"`
	Input       json.RawMessage `json:"input"`
	Status      ApprovalStatus  `json:"status"`
	RequestedAt time.Time       `json:"requested_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy  string          `json:"resolved_by,omitempty"`
}

// MemoryEntry is one long-term memory item retrieved by cosine similarity
// against an embedding of the live query.
type MemoryEntry struct {
	ID             string         `json:"id"`
	ProjectID      ProjectID      `json:"project_id"`
	Category       string         `json:"category"`
	Content        string         `json:"content"`
	Embedding      []float32      `json:"-"`
	Importance     float64        `json:"importance"`
	AccessCount    int64          `json:"access_count"`
	CreatedAt      time.Time      `json:"created_at"`
	LastAccessedAt time.Time      `json:"last_accessed_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// MemoryHit is a retrieval result with its ranking score.
type MemoryHit struct {
	Entry MemoryEntry `json:"entry"`

	// Score is the cosine similarity of the query against the entry.
	Score float64 `json:"score"`
}
