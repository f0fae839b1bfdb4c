// Package models provides domain types shared across the Nexus Core runtime.
package models

import "github.com/google/uuid"

// Identifier kinds are distinct defined types so a value of one kind cannot
// be passed where another is expected. They serialize as plain strings.

// ProjectID identifies a project (tenant).
type ProjectID string

// SessionID identifies a conversation session.
type SessionID string

// TraceID identifies one execution trace (one agent run).
type TraceID string

// MessageID identifies a persisted message.
type MessageID string

// ToolCallID identifies a single tool invocation requested by the model.
type ToolCallID string

// ApprovalID identifies a pending approval request.
type ApprovalID string

// PromptLayerID identifies a prompt layer version row.
type PromptLayerID string

// AgentID identifies an agent on the inter-agent bus.
type AgentID string

// UsageRecordID identifies a usage record.
type UsageRecordID string

func (id ProjectID) String() string     { return string(id) }
func (id SessionID) String() string     { return string(id) }
func (id TraceID) String() string       { return string(id) }
func (id MessageID) String() string     { return string(id) }
func (id ToolCallID) String() string    { return string(id) }
func (id ApprovalID) String() string    { return string(id) }
func (id PromptLayerID) String() string { return string(id) }
func (id AgentID) String() string       { return string(id) }
func (id UsageRecordID) String() string { return string(id) }

// NewSessionID returns a fresh random session id.
func NewSessionID() SessionID { return SessionID(uuid.NewString()) }

// NewTraceID returns a fresh random trace id.
func NewTraceID() TraceID { return TraceID(uuid.NewString()) }

// NewMessageID returns a fresh random message id.
func NewMessageID() MessageID { return MessageID(uuid.NewString()) }

// NewToolCallID returns a fresh random tool call id.
func NewToolCallID() ToolCallID { return ToolCallID(uuid.NewString()) }

// NewApprovalID returns a fresh random approval id.
func NewApprovalID() ApprovalID { return ApprovalID(uuid.NewString()) }

// NewPromptLayerID returns a fresh random prompt layer id.
func NewPromptLayerID() PromptLayerID { return PromptLayerID(uuid.NewString()) }

// NewUsageRecordID returns a fresh random usage record id.
func NewUsageRecordID() UsageRecordID { return UsageRecordID(uuid.NewString()) }

// NewProjectID returns a fresh random project id.
func NewProjectID() ProjectID { return ProjectID("proj_" + uuid.NewString()) }

// NewAgentID returns a fresh random agent id.
func NewAgentID() AgentID { return AgentID("agent_" + uuid.NewString()) }
