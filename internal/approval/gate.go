// Package approval holds pending human decisions that block high-risk tool
// calls. The gate stores requests and records resolutions; expiry policy is
// enforced by callers, not the gate.
package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/internal/observability"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// Notifier is told about each new pending request so an operator can be
// pinged out of band. Errors are logged, never propagated.
type Notifier interface {
	NotifyApprovalRequested(ctx context.Context, req models.ApprovalRequest) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, req models.ApprovalRequest) error

func (f NotifierFunc) NotifyApprovalRequested(ctx context.Context, req models.ApprovalRequest) error {
	return f(ctx, req)
}

// Gate stores approval requests in sqlite.
type Gate struct {
	db       *sql.DB
	notifier Notifier
	logger   *observability.Logger
}

// NewGate creates a gate, creating its table if needed. notifier may be nil.
func NewGate(db *sql.DB, notifier Notifier, logger *observability.Logger) (*Gate, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS approval_requests (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			trace_id TEXT NOT NULL,
			tool_id TEXT NOT NULL,
			input TEXT,
			status TEXT NOT NULL,
			requested_at TIMESTAMP NOT NULL,
			resolved_at TIMESTAMP,
			resolved_by TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_approvals_pending ON approval_requests(project_id, status)
	`); err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "create approval_requests table", err)
	}
	return &Gate{db: db, notifier: notifier, logger: logger}, nil
}

// Request stores a pending entry and fires the notifier.
func (g *Gate) Request(ctx context.Context, projectID models.ProjectID, sessionID models.SessionID, traceID models.TraceID, toolID string, input json.RawMessage) (models.ApprovalRequest, error) {
	req := models.ApprovalRequest{
		ID:          models.NewApprovalID(),
		ProjectID:   projectID,
		SessionID:   sessionID,
		TraceID:     traceID,
		ToolID:      toolID,
		Input:       input,
		Status:      models.ApprovalPending,
		RequestedAt: time.Now().UTC(),
	}
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO approval_requests (id, project_id, session_id, trace_id, tool_id, input, status, requested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, string(req.ID), string(projectID), string(sessionID), string(traceID),
		toolID, string(input), string(req.Status), req.RequestedAt)
	if err != nil {
		return req, nexuserr.Wrap(nexuserr.CodeInternal, "insert approval request", err)
	}

	if g.notifier != nil {
		if err := g.notifier.NotifyApprovalRequested(ctx, req); err != nil {
			g.logger.Warn(ctx, "approval notification failed",
				"approval_id", string(req.ID), "error", err)
		}
	}
	return req, nil
}

// Resolve sets the terminal state. Resolving an already-resolved request is
// a no-op that returns the stored record unchanged; the first resolution
// wins.
func (g *Gate) Resolve(ctx context.Context, id models.ApprovalID, approved bool, resolver string) (models.ApprovalRequest, error) {
	status := models.ApprovalRejected
	if approved {
		status = models.ApprovalApproved
	}
	now := time.Now().UTC()

	res, err := g.db.ExecContext(ctx, `
		UPDATE approval_requests SET status = ?, resolved_at = ?, resolved_by = ?
		WHERE id = ? AND status = ?
	`, string(status), now, resolver, string(id), string(models.ApprovalPending))
	if err != nil {
		return models.ApprovalRequest{}, nexuserr.Wrap(nexuserr.CodeInternal, "resolve approval", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either unknown or already resolved; Get distinguishes.
		return g.Get(ctx, id)
	}
	return g.Get(ctx, id)
}

// Expire marks a pending request expired. Used by cleanup policy sweeps.
func (g *Gate) Expire(ctx context.Context, id models.ApprovalID) error {
	_, err := g.db.ExecContext(ctx, `
		UPDATE approval_requests SET status = ?, resolved_at = ?
		WHERE id = ? AND status = ?
	`, string(models.ApprovalExpired), time.Now().UTC(), string(id), string(models.ApprovalPending))
	if err != nil {
		return nexuserr.Wrap(nexuserr.CodeInternal, "expire approval", err)
	}
	return nil
}

// Get loads one request by id.
func (g *Gate) Get(ctx context.Context, id models.ApprovalID) (models.ApprovalRequest, error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT id, project_id, session_id, trace_id, tool_id, input, status, requested_at, resolved_at, resolved_by
		FROM approval_requests WHERE id = ?
	`, string(id))
	req, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return req, nexuserr.Newf(nexuserr.CodeNotFound, "approval %s not found", id)
	}
	return req, err
}

// ListPending returns a project's pending requests, oldest first.
func (g *Gate) ListPending(ctx context.Context, projectID models.ProjectID) ([]models.ApprovalRequest, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, project_id, session_id, trace_id, tool_id, input, status, requested_at, resolved_at, resolved_by
		FROM approval_requests WHERE project_id = ? AND status = ? ORDER BY requested_at ASC
	`, string(projectID), string(models.ApprovalPending))
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "list pending approvals", err)
	}
	defer rows.Close()

	var out []models.ApprovalRequest
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row rowScanner) (models.ApprovalRequest, error) {
	var req models.ApprovalRequest
	var input, resolvedBy sql.NullString
	var resolvedAt sql.NullTime
	err := row.Scan(&req.ID, &req.ProjectID, &req.SessionID, &req.TraceID,
		&req.ToolID, &input, &req.Status, &req.RequestedAt, &resolvedAt, &resolvedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return req, err
		}
		return req, nexuserr.Wrap(nexuserr.CodeInternal, "scan approval", err)
	}
	if input.Valid && input.String != "" {
		req.Input = json.RawMessage(input.String)
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		req.ResolvedAt = &t
	}
	if resolvedBy.Valid {
		req.ResolvedBy = resolvedBy.String
	}
	return req, nil
}
