// Package sessions persists conversation sessions and their messages.
// Only the outermost user/assistant pair of a run is stored; tool-loop
// intermediate messages live in the runner's memory only.
package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// Store persists sessions and messages in sqlite.
type Store struct {
	db *sql.DB
}

// NewStore creates a session store, creating its tables if needed.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			status TEXT NOT NULL,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id, updated_at);
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls TEXT,
			usage TEXT,
			trace_id TEXT,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)
	`); err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "create session tables", err)
	}
	return &Store{db: db}, nil
}

// Create opens a new session.
func (s *Store) Create(ctx context.Context, projectID models.ProjectID, meta models.SessionMetadata) (models.Session, error) {
	now := time.Now().UTC()
	session := models.Session{
		ID:        models.NewSessionID(),
		ProjectID: projectID,
		Status:    models.SessionActive,
		Metadata:  meta,
		CreatedAt: now,
		UpdatedAt: now,
	}
	metaJSON, _ := json.Marshal(meta)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, project_id, status, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(session.ID), string(projectID), string(session.Status), string(metaJSON), now, now)
	if err != nil {
		return session, nexuserr.Wrap(nexuserr.CodeInternal, "insert session", err)
	}
	return session, nil
}

// Get loads one session by id.
func (s *Store) Get(ctx context.Context, id models.SessionID) (models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, status, metadata, created_at, updated_at, expires_at
		FROM sessions WHERE id = ?
	`, string(id))
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return session, nexuserr.Newf(nexuserr.CodeNotFound, "session %s not found", id)
	}
	return session, err
}

// SetStatus transitions a session's lifecycle state.
func (s *Store) SetStatus(ctx context.Context, id models.SessionID, status models.SessionStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), time.Now().UTC(), string(id))
	if err != nil {
		return nexuserr.Wrap(nexuserr.CodeInternal, "update session status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nexuserr.Newf(nexuserr.CodeNotFound, "session %s not found", id)
	}
	return nil
}

// AppendMessages writes messages to a session transcript in order and bumps
// the session's updated_at.
func (s *Store) AppendMessages(ctx context.Context, sessionID models.SessionID, msgs ...models.Message) ([]models.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "begin message append", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	out := make([]models.Message, 0, len(msgs))
	for i, msg := range msgs {
		if msg.ID == "" {
			msg.ID = models.NewMessageID()
		}
		msg.SessionID = sessionID
		if msg.CreatedAt.IsZero() {
			// Nudge each message forward so created_at ordering holds
			// within a single append batch.
			msg.CreatedAt = now.Add(time.Duration(i) * time.Microsecond)
		}

		var toolCalls, usage any
		if len(msg.ToolCalls) > 0 {
			b, _ := json.Marshal(msg.ToolCalls)
			toolCalls = string(b)
		}
		if msg.Usage != nil {
			b, _ := json.Marshal(msg.Usage)
			usage = string(b)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, session_id, role, content, tool_calls, usage, trace_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, string(msg.ID), string(sessionID), string(msg.Role), msg.Content,
			toolCalls, usage, string(msg.TraceID), msg.CreatedAt); err != nil {
			return nil, nexuserr.Wrap(nexuserr.CodeInternal, "insert message", err)
		}
		out = append(out, msg)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET updated_at = ? WHERE id = ?
	`, now, string(sessionID)); err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "touch session", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "commit message append", err)
	}
	return out, nil
}

// History returns a session's messages ordered by created_at ascending.
// limit > 0 keeps only the newest limit messages.
func (s *Store) History(ctx context.Context, sessionID models.SessionID, limit int) ([]models.Message, error) {
	query := `
		SELECT id, session_id, role, content, tool_calls, usage, trace_id, created_at
		FROM messages WHERE session_id = ? ORDER BY created_at ASC`
	args := []any{string(sessionID)}
	if limit > 0 {
		query = `
			SELECT id, session_id, role, content, tool_calls, usage, trace_id, created_at FROM (
				SELECT id, session_id, role, content, tool_calls, usage, trace_id, created_at
				FROM messages WHERE session_id = ? ORDER BY created_at DESC LIMIT ?
			) ORDER BY created_at ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "list messages", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var msg models.Message
		var toolCalls, usage, traceID sql.NullString
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content,
			&toolCalls, &usage, &traceID, &msg.CreatedAt); err != nil {
			return nil, nexuserr.Wrap(nexuserr.CodeInternal, "scan message", err)
		}
		if toolCalls.Valid && toolCalls.String != "" {
			_ = json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls)
		}
		if usage.Valid && usage.String != "" {
			var u models.TokenUsage
			if json.Unmarshal([]byte(usage.String), &u) == nil {
				msg.Usage = &u
			}
		}
		if traceID.Valid {
			msg.TraceID = models.TraceID(traceID.String)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// ListByProject returns a project's sessions, most recently updated first.
// status filters when non-empty; limit > 0 caps the result.
func (s *Store) ListByProject(ctx context.Context, projectID models.ProjectID, status models.SessionStatus, limit int) ([]models.Session, error) {
	query := `
		SELECT id, project_id, status, metadata, created_at, updated_at, expires_at
		FROM sessions WHERE project_id = ?`
	args := []any{string(projectID)}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY updated_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "list sessions", err)
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

// InboxFilter narrows an inbox listing. Zero values match everything.
type InboxFilter struct {
	AgentID   models.AgentID
	Status    models.SessionStatus
	Channel   string
	ContactID string

	// Search matches against message content, case-insensitive substring.
	Search string

	Limit  int
	Offset int
}

// Inbox returns a project's sessions filtered for the operator inbox view,
// most recently updated first.
func (s *Store) Inbox(ctx context.Context, projectID models.ProjectID, filter InboxFilter) ([]models.Session, error) {
	query := `
		SELECT id, project_id, status, metadata, created_at, updated_at, expires_at
		FROM sessions WHERE project_id = ?`
	args := []any{string(projectID)}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.AgentID != "" {
		query += " AND json_extract(metadata, '$.agent_id') = ?"
		args = append(args, string(filter.AgentID))
	}
	if filter.Channel != "" {
		query += " AND json_extract(metadata, '$.channel') = ?"
		args = append(args, filter.Channel)
	}
	if filter.ContactID != "" {
		query += " AND json_extract(metadata, '$.contact_id') = ?"
		args = append(args, filter.ContactID)
	}
	if filter.Search != "" {
		query += ` AND EXISTS (
			SELECT 1 FROM messages m
			WHERE m.session_id = sessions.id AND m.content LIKE ? ESCAPE '\'
		)`
		args = append(args, "%"+escapeLike(filter.Search)+"%")
	}
	query += " ORDER BY updated_at DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ?"
	args = append(args, limit)
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "inbox query", err)
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return r.Replace(s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (models.Session, error) {
	var session models.Session
	var meta sql.NullString
	var expiresAt sql.NullTime
	err := row.Scan(&session.ID, &session.ProjectID, &session.Status, &meta,
		&session.CreatedAt, &session.UpdatedAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session, err
		}
		return session, nexuserr.Wrap(nexuserr.CodeInternal, "scan session", err)
	}
	if meta.Valid && meta.String != "" {
		_ = json.Unmarshal([]byte(meta.String), &session.Metadata)
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		session.ExpiresAt = &t
	}
	return session, nil
}
