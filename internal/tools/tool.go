// Package tools provides the executable tool contract, the per-process
// registry, and the built-in tools.
//
// The registry's resolve pipeline is the only path from a model-requested
// tool call to execution: unknown id, allow-list, input schema, and the
// approval gate are all checked before a tool runs.
package tools

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/nexus-core/pkg/models"
)

// RiskLevel classifies the blast radius of a tool.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Metadata describes a tool to the registry, the model, and operators.
type Metadata struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Risk        RiskLevel `json:"risk_level"`

	// RequiresApproval gates execution behind a human decision unless the
	// call was pre-approved for the current trace.
	RequiresApproval bool `json:"requires_approval"`

	// SideEffects marks tools that touch the outside world.
	SideEffects bool `json:"side_effects"`

	// SupportsDryRun marks tools implementing DryRunner.
	SupportsDryRun bool `json:"supports_dry_run"`

	// InputSchema is a JSON Schema; input is validated against it before
	// execution. OutputSchema is documentation only.
	InputSchema  json.RawMessage `json:"input_schema"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
}

// RunContext identifies the run on whose behalf a tool executes and carries
// its permissions.
type RunContext struct {
	ProjectID models.ProjectID
	SessionID models.SessionID
	TraceID   models.TraceID
	AgentID   models.AgentID

	// AllowedTools is the run's allow-list of tool ids.
	AllowedTools []string

	// ApprovedCalls holds tool call ids already approved for this trace.
	ApprovedCalls map[models.ToolCallID]struct{}
}

// Allowed reports whether the tool id is on the allow-list.
func (rc *RunContext) Allowed(id string) bool {
	for _, t := range rc.AllowedTools {
		if t == id {
			return true
		}
	}
	return false
}

// Approved reports whether a tool call was pre-approved for this trace.
func (rc *RunContext) Approved(callID models.ToolCallID) bool {
	_, ok := rc.ApprovedCalls[callID]
	return ok
}

// Tool is an executable registered with the registry. Execute receives
// schema-validated input and returns the string fed back to the model.
type Tool interface {
	Meta() Metadata
	Execute(ctx context.Context, input json.RawMessage, rc *RunContext) (string, error)
}

// DryRunner is implemented by tools that can plan without side effects.
// Tools whose Metadata.SupportsDryRun is true must implement it.
type DryRunner interface {
	DryRun(ctx context.Context, input json.RawMessage, rc *RunContext) (string, error)
}
