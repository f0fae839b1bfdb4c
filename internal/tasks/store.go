package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// Store persists scheduled tasks and their run history in sqlite.
type Store struct {
	db *sql.DB
}

// NewStore creates a task store, creating its tables if needed.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS scheduled_tasks (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			name TEXT NOT NULL,
			payload TEXT NOT NULL,
			timeout_ms INTEGER NOT NULL DEFAULT 0,
			cron TEXT,
			run_at TIMESTAMP,
			session_id TEXT,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_project ON scheduled_tasks(project_id, status);
		CREATE TABLE IF NOT EXISTS task_runs (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			success INTEGER NOT NULL,
			trace_id TEXT,
			tokens_used INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			error_message TEXT,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_task_runs_task ON task_runs(task_id, started_at)
	`); err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "create task tables", err)
	}
	return &Store{db: db}, nil
}

// Create persists a task. Exactly one of Cron and RunAt must be set.
func (s *Store) Create(ctx context.Context, task ScheduledTask) (ScheduledTask, error) {
	if (task.Cron == "") == (task.RunAt == nil) {
		return task, nexuserr.New(nexuserr.CodeValidation, "task needs exactly one of cron or run_at")
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = TaskActive
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	payload, _ := json.Marshal(task.Payload)
	var runAt any
	if task.RunAt != nil {
		runAt = task.RunAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (id, project_id, name, payload, timeout_ms, cron, run_at, session_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, string(task.ProjectID), task.Name, string(payload), task.TimeoutMs,
		task.Cron, runAt, string(task.SessionID), string(task.Status), now, now)
	if err != nil {
		return task, nexuserr.Wrap(nexuserr.CodeInternal, "insert task", err)
	}
	return task, nil
}

// Get loads one task by id.
func (s *Store) Get(ctx context.Context, id string) (ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, payload, timeout_ms, cron, run_at, session_id, status, created_at, updated_at
		FROM scheduled_tasks WHERE id = ?
	`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task, nexuserr.Newf(nexuserr.CodeNotFound, "task %s not found", id)
	}
	return task, err
}

// SetStatus updates a task's lifecycle state.
func (s *Store) SetStatus(ctx context.Context, id string, status TaskStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_tasks SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), time.Now().UTC(), id)
	if err != nil {
		return nexuserr.Wrap(nexuserr.CodeInternal, "update task status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nexuserr.Newf(nexuserr.CodeNotFound, "task %s not found", id)
	}
	return nil
}

// ListActive returns every active task, for scheduling at startup.
func (s *Store) ListActive(ctx context.Context) ([]ScheduledTask, error) {
	return s.list(ctx, `
		SELECT id, project_id, name, payload, timeout_ms, cron, run_at, session_id, status, created_at, updated_at
		FROM scheduled_tasks WHERE status = ? ORDER BY created_at ASC
	`, string(TaskActive))
}

// ListByProject returns all of a project's tasks.
func (s *Store) ListByProject(ctx context.Context, projectID models.ProjectID) ([]ScheduledTask, error) {
	return s.list(ctx, `
		SELECT id, project_id, name, payload, timeout_ms, cron, run_at, session_id, status, created_at, updated_at
		FROM scheduled_tasks WHERE project_id = ? ORDER BY created_at ASC
	`, string(projectID))
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "list tasks", err)
	}
	defer rows.Close()

	var out []ScheduledTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// RecordRun appends one run outcome.
func (s *Store) RecordRun(ctx context.Context, run TaskRun) (TaskRun, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_runs (id, task_id, success, trace_id, tokens_used, cost_usd, error_message, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.TaskID, boolToInt(run.Success), string(run.TraceID),
		run.TokensUsed, run.CostUSD, run.ErrorMessage, run.StartedAt.UTC(), run.FinishedAt.UTC())
	if err != nil {
		return run, nexuserr.Wrap(nexuserr.CodeInternal, "insert task run", err)
	}
	return run, nil
}

// Runs returns a task's run history, newest first.
func (s *Store) Runs(ctx context.Context, taskID string, limit int) ([]TaskRun, error) {
	query := `
		SELECT id, task_id, success, trace_id, tokens_used, cost_usd, error_message, started_at, finished_at
		FROM task_runs WHERE task_id = ? ORDER BY started_at DESC`
	args := []any{taskID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "list task runs", err)
	}
	defer rows.Close()

	var out []TaskRun
	for rows.Next() {
		var run TaskRun
		var success int
		var traceID, errMsg sql.NullString
		if err := rows.Scan(&run.ID, &run.TaskID, &success, &traceID,
			&run.TokensUsed, &run.CostUSD, &errMsg, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, nexuserr.Wrap(nexuserr.CodeInternal, "scan task run", err)
		}
		run.Success = success != 0
		if traceID.Valid {
			run.TraceID = models.TraceID(traceID.String)
		}
		if errMsg.Valid {
			run.ErrorMessage = errMsg.String
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (ScheduledTask, error) {
	var task ScheduledTask
	var payload string
	var cronExpr, sessionID sql.NullString
	var runAt sql.NullTime
	err := row.Scan(&task.ID, &task.ProjectID, &task.Name, &payload, &task.TimeoutMs,
		&cronExpr, &runAt, &sessionID, &task.Status, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return task, err
		}
		return task, nexuserr.Wrap(nexuserr.CodeInternal, "scan task", err)
	}
	_ = json.Unmarshal([]byte(payload), &task.Payload)
	if cronExpr.Valid {
		task.Cron = cronExpr.String
	}
	if runAt.Valid {
		t := runAt.Time.UTC()
		task.RunAt = &t
	}
	if sessionID.Valid {
		task.SessionID = models.SessionID(sessionID.String)
	}
	return task, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
