package trace

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// Store persists flushed traces. Events and the prompt snapshot are stored
// as JSON columns; a trace is written exactly once and never updated.
type Store struct {
	db *sql.DB
}

// NewStore creates a trace store, creating its table if needed.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS execution_traces (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			prompt_snapshot TEXT NOT NULL,
			events TEXT NOT NULL,
			total_duration_ms INTEGER NOT NULL,
			total_tokens_used INTEGER NOT NULL,
			total_cost_usd REAL NOT NULL,
			turn_count INTEGER NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_traces_session ON execution_traces(session_id);
		CREATE INDEX IF NOT EXISTS idx_traces_project ON execution_traces(project_id, created_at)
	`); err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "create execution_traces table", err)
	}
	return &Store{db: db}, nil
}

// Save writes one flushed trace.
func (s *Store) Save(ctx context.Context, trace models.ExecutionTrace) error {
	snapshot, err := json.Marshal(trace.PromptSnapshot)
	if err != nil {
		return nexuserr.Wrap(nexuserr.CodeInternal, "marshal prompt snapshot", err)
	}
	events, err := json.Marshal(trace.Events)
	if err != nil {
		return nexuserr.Wrap(nexuserr.CodeInternal, "marshal trace events", err)
	}

	var completedAt any
	if trace.CompletedAt != nil {
		completedAt = trace.CompletedAt.UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO execution_traces
			(id, project_id, session_id, prompt_snapshot, events,
			 total_duration_ms, total_tokens_used, total_cost_usd, turn_count,
			 status, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(trace.ID), string(trace.ProjectID), string(trace.SessionID),
		string(snapshot), string(events),
		trace.TotalDurationMs, trace.TotalTokensUsed, trace.TotalCostUSD, trace.TurnCount,
		string(trace.Status), trace.CreatedAt.UTC(), completedAt)
	if err != nil {
		return nexuserr.Wrap(nexuserr.CodeInternal, "insert trace", err)
	}
	return nil
}

// Get loads one trace by id.
func (s *Store) Get(ctx context.Context, id models.TraceID) (models.ExecutionTrace, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, session_id, prompt_snapshot, events,
		       total_duration_ms, total_tokens_used, total_cost_usd, turn_count,
		       status, created_at, completed_at
		FROM execution_traces WHERE id = ?
	`, string(id))
	trace, err := scanTrace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ExecutionTrace{}, nexuserr.Newf(nexuserr.CodeNotFound, "trace %s not found", id)
	}
	return trace, err
}

// ListBySession returns the traces of one session, oldest first.
func (s *Store) ListBySession(ctx context.Context, sessionID models.SessionID) ([]models.ExecutionTrace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, session_id, prompt_snapshot, events,
		       total_duration_ms, total_tokens_used, total_cost_usd, turn_count,
		       status, created_at, completed_at
		FROM execution_traces WHERE session_id = ? ORDER BY created_at ASC
	`, string(sessionID))
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "list traces", err)
	}
	defer rows.Close()

	var out []models.ExecutionTrace
	for rows.Next() {
		trace, err := scanTrace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, trace)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrace(row rowScanner) (models.ExecutionTrace, error) {
	var trace models.ExecutionTrace
	var snapshot, events string
	var completedAt sql.NullTime
	err := row.Scan(&trace.ID, &trace.ProjectID, &trace.SessionID, &snapshot, &events,
		&trace.TotalDurationMs, &trace.TotalTokensUsed, &trace.TotalCostUSD, &trace.TurnCount,
		&trace.Status, &trace.CreatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return trace, err
		}
		return trace, nexuserr.Wrap(nexuserr.CodeInternal, "scan trace", err)
	}
	if err := json.Unmarshal([]byte(snapshot), &trace.PromptSnapshot); err != nil {
		return trace, nexuserr.Wrap(nexuserr.CodeInternal, "decode prompt snapshot", err)
	}
	if err := json.Unmarshal([]byte(events), &trace.Events); err != nil {
		return trace, nexuserr.Wrap(nexuserr.CodeInternal, "decode trace events", err)
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		trace.CompletedAt = &t
	}
	return trace, nil
}
