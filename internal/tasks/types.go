// Package tasks runs scheduled agent work: cron-recurring and one-shot
// tasks that invoke the same run loop as interactive traffic.
package tasks

import (
	"time"

	"github.com/haasonsaas/nexus-core/pkg/models"
)

// TaskStatus is the lifecycle state of a scheduled task.
type TaskStatus string

const (
	TaskActive    TaskStatus = "active"
	TaskPaused    TaskStatus = "paused"
	TaskCompleted TaskStatus = "completed"
	TaskDisabled  TaskStatus = "disabled"
)

// TaskPayload is what the agent receives when the task fires.
type TaskPayload struct {
	// Message is the synthetic user message for the run.
	Message string `json:"message"`

	// Metadata substitutes prompt variables and tags the session.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ScheduledTask is one recurring or one-shot agent invocation. Exactly one
// of Cron and RunAt is set.
type ScheduledTask struct {
	ID        string           `json:"id"`
	ProjectID models.ProjectID `json:"project_id"`
	Name      string           `json:"name"`
	Payload   TaskPayload      `json:"payload"`

	// TimeoutMs aborts the run after this long; 0 uses the default.
	TimeoutMs int `json:"timeout_ms"`

	// Cron is a cron expression for recurring tasks (5 or 6 fields, or a
	// descriptor like @hourly).
	Cron string `json:"cron,omitempty"`

	// RunAt fires a one-shot task at a fixed time.
	RunAt *time.Time `json:"run_at,omitempty"`

	// SessionID pins runs to an existing session; empty opens a synthetic
	// session per run.
	SessionID models.SessionID `json:"session_id,omitempty"`

	Status    TaskStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TaskRun is the outcome record of one task firing.
type TaskRun struct {
	ID     string `json:"id"`
	TaskID string `json:"task_id"`

	Success      bool           `json:"success"`
	TraceID      models.TraceID `json:"trace_id,omitempty"`
	TokensUsed   int64          `json:"tokens_used"`
	CostUSD      float64        `json:"cost_usd"`
	ErrorMessage string         `json:"error_message,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
