// Package proactive is the durable delayed-send queue: messages scheduled
// for a future time, delivered through the channel adapter registered for
// their channel. Retry and dead-lettering live here; adapters only send.
package proactive

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// JobStatus is the lifecycle state of a queued message.
type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobSent     JobStatus = "sent"
	JobCanceled JobStatus = "canceled"
	JobDead     JobStatus = "dead"
)

// Job is one delayed outbound message.
type Job struct {
	ID        string           `json:"id"`
	ProjectID models.ProjectID `json:"project_id"`
	Channel   string           `json:"channel"`
	Recipient string           `json:"recipient"`
	Content   string           `json:"content"`

	ScheduledFor time.Time `json:"scheduled_for"`
	Status       JobStatus `json:"status"`
	Attempts     int       `json:"attempts"`
	LastError    string    `json:"last_error,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}

// ScheduleRequest asks for a message to be delivered at (or after)
// ScheduledFor. A zero or past ScheduledFor delivers on the next poll.
type ScheduleRequest struct {
	ProjectID    models.ProjectID
	Channel      string
	Recipient    string
	Content      string
	ScheduledFor time.Time
}

// Queue is the sqlite-backed job store.
type Queue struct {
	db  *sql.DB
	now func() time.Time
}

// NewQueue creates the queue, creating its table if needed.
func NewQueue(db *sql.DB) (*Queue, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS proactive_jobs (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			recipient TEXT NOT NULL,
			content TEXT NOT NULL,
			scheduled_for TIMESTAMP NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at TIMESTAMP NOT NULL,
			sent_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_proactive_due ON proactive_jobs(status, scheduled_for)
	`); err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "create proactive table", err)
	}
	return &Queue{db: db, now: time.Now}, nil
}

// SetClock overrides the queue's clock for tests.
func (q *Queue) SetClock(now func() time.Time) { q.now = now }

// Schedule enqueues a message and returns its job id. A past ScheduledFor
// is clamped to now, so the job is due immediately.
func (q *Queue) Schedule(ctx context.Context, req ScheduleRequest) (Job, error) {
	if req.ProjectID == "" || req.Channel == "" || req.Recipient == "" || req.Content == "" {
		return Job{}, nexuserr.New(nexuserr.CodeValidation, "projectId, channel, recipient and content are required")
	}
	now := q.now().UTC()
	at := req.ScheduledFor.UTC()
	if at.Before(now) {
		at = now
	}
	job := Job{
		ID:           uuid.NewString(),
		ProjectID:    req.ProjectID,
		Channel:      req.Channel,
		Recipient:    req.Recipient,
		Content:      req.Content,
		ScheduledFor: at,
		Status:       JobPending,
		CreatedAt:    now,
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO proactive_jobs (id, project_id, channel, recipient, content, scheduled_for, status, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
	`, job.ID, string(job.ProjectID), job.Channel, job.Recipient, job.Content,
		job.ScheduledFor, string(job.Status), job.CreatedAt)
	if err != nil {
		return Job{}, nexuserr.Wrap(nexuserr.CodeInternal, "insert proactive job", err)
	}
	return job, nil
}

// Cancel removes a job if it is still pending. Returns false without error
// when the job was already delivered, dead, or canceled.
func (q *Queue) Cancel(ctx context.Context, jobID string) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE proactive_jobs SET status = ? WHERE id = ? AND status = ?
	`, string(JobCanceled), jobID, string(JobPending))
	if err != nil {
		return false, nexuserr.Wrap(nexuserr.CodeInternal, "cancel proactive job", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		return true, nil
	}
	// Distinguish unknown from already-terminal.
	if _, err := q.Get(ctx, jobID); err != nil {
		return false, err
	}
	return false, nil
}

// Get loads one job.
func (q *Queue) Get(ctx context.Context, jobID string) (Job, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, project_id, channel, recipient, content, scheduled_for, status, attempts, last_error, created_at, sent_at
		FROM proactive_jobs WHERE id = ?
	`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return job, nexuserr.Newf(nexuserr.CodeNotFound, "proactive job %s not found", jobID)
	}
	return job, err
}

// ListByProject returns a project's jobs, soonest scheduled first. An empty
// status matches all.
func (q *Queue) ListByProject(ctx context.Context, projectID models.ProjectID, status JobStatus) ([]Job, error) {
	query := `
		SELECT id, project_id, channel, recipient, content, scheduled_for, status, attempts, last_error, created_at, sent_at
		FROM proactive_jobs WHERE project_id = ?`
	args := []any{string(projectID)}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY scheduled_for ASC"
	return q.list(ctx, query, args...)
}

// Due returns pending jobs whose scheduled time has passed, oldest first.
func (q *Queue) Due(ctx context.Context, limit int) ([]Job, error) {
	return q.list(ctx, `
		SELECT id, project_id, channel, recipient, content, scheduled_for, status, attempts, last_error, created_at, sent_at
		FROM proactive_jobs WHERE status = ? AND scheduled_for <= ?
		ORDER BY scheduled_for ASC LIMIT ?
	`, string(JobPending), q.now().UTC(), limit)
}

// MarkSent records a successful delivery.
func (q *Queue) MarkSent(ctx context.Context, jobID string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE proactive_jobs SET status = ?, sent_at = ? WHERE id = ?
	`, string(JobSent), q.now().UTC(), jobID)
	if err != nil {
		return nexuserr.Wrap(nexuserr.CodeInternal, "mark proactive job sent", err)
	}
	return nil
}

// MarkFailed records a delivery failure. Jobs under maxAttempts stay
// pending with their scheduled time pushed back by retryIn; at the cap they
// go dead.
func (q *Queue) MarkFailed(ctx context.Context, jobID string, sendErr error, maxAttempts int, retryIn time.Duration) (JobStatus, error) {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return "", err
	}
	attempts := job.Attempts + 1
	status := JobPending
	nextAt := q.now().UTC().Add(retryIn)
	if attempts >= maxAttempts {
		status = JobDead
		nextAt = job.ScheduledFor
	}
	_, err = q.db.ExecContext(ctx, `
		UPDATE proactive_jobs SET status = ?, attempts = ?, last_error = ?, scheduled_for = ? WHERE id = ?
	`, string(status), attempts, sendErr.Error(), nextAt, jobID)
	if err != nil {
		return "", nexuserr.Wrap(nexuserr.CodeInternal, "mark proactive job failed", err)
	}
	return status, nil
}

func (q *Queue) list(ctx context.Context, query string, args ...any) ([]Job, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "list proactive jobs", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var job Job
	var lastError sql.NullString
	var sentAt sql.NullTime
	err := row.Scan(&job.ID, &job.ProjectID, &job.Channel, &job.Recipient, &job.Content,
		&job.ScheduledFor, &job.Status, &job.Attempts, &lastError, &job.CreatedAt, &sentAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return job, err
		}
		return job, nexuserr.Wrap(nexuserr.CodeInternal, "scan proactive job", err)
	}
	if lastError.Valid {
		job.LastError = lastError.String
	}
	if sentAt.Valid {
		t := sentAt.Time.UTC()
		job.SentAt = &t
	}
	return job, nil
}
