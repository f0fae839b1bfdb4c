package usage

import (
	"context"
	"database/sql"
	"time"

	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// Store persists usage records and answers spend aggregation queries for
// the cost guard. Aggregation is durable; rate-limit counters live in
// internal/ratelimit.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a usage store, creating its table if needed.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS usage_records (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			trace_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			cache_read_tokens INTEGER NOT NULL DEFAULT 0,
			cache_write_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL,
			timestamp TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_usage_project_time ON usage_records(project_id, timestamp)
	`); err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "create usage table", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// SetClock overrides the clock source for tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Record appends one usage record.
func (s *Store) Record(ctx context.Context, r models.UsageRecord) error {
	if r.ID == "" {
		r.ID = models.NewUsageRecordID()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records
			(id, project_id, session_id, trace_id, provider, model,
			 input_tokens, output_tokens, cache_read_tokens, cache_write_tokens,
			 cost_usd, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(r.ID), string(r.ProjectID), string(r.SessionID), string(r.TraceID),
		string(r.Provider), r.Model,
		r.Usage.InputTokens, r.Usage.OutputTokens, r.Usage.CacheReadTokens, r.Usage.CacheWriteTokens,
		r.CostUSD, r.Timestamp)
	if err != nil {
		return nexuserr.Wrap(nexuserr.CodeInternal, "record usage", err)
	}
	return nil
}

// SpendSince sums cost for the project at or after the cutoff.
func (s *Store) SpendSince(ctx context.Context, projectID models.ProjectID, cutoff time.Time) (float64, error) {
	var spend sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(cost_usd) FROM usage_records WHERE project_id = ? AND timestamp >= ?
	`, string(projectID), cutoff).Scan(&spend)
	if err != nil {
		return 0, nexuserr.Wrap(nexuserr.CodeInternal, "aggregate spend", err)
	}
	return spend.Float64, nil
}

// DailySpend returns spend since midnight UTC.
func (s *Store) DailySpend(ctx context.Context, projectID models.ProjectID) (float64, error) {
	now := s.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return s.SpendSince(ctx, projectID, midnight)
}

// MonthlySpend returns spend since the first of the current month UTC.
func (s *Store) MonthlySpend(ctx context.Context, projectID models.ProjectID) (float64, error) {
	now := s.now().UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return s.SpendSince(ctx, projectID, first)
}

// ProjectTotals summarizes token and cost totals for a project, used by the
// dashboard overview.
type ProjectTotals struct {
	Records      int64   `json:"records"`
	TotalTokens  int64   `json:"total_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// Totals returns lifetime totals for a project.
func (s *Store) Totals(ctx context.Context, projectID models.ProjectID) (ProjectTotals, error) {
	var t ProjectTotals
	var tokens, cost sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       SUM(input_tokens + output_tokens + cache_read_tokens + cache_write_tokens),
		       SUM(cost_usd)
		FROM usage_records WHERE project_id = ?
	`, string(projectID)).Scan(&t.Records, &tokens, &cost)
	if err != nil {
		return t, nexuserr.Wrap(nexuserr.CodeInternal, "aggregate totals", err)
	}
	t.TotalTokens = int64(tokens.Float64)
	t.TotalCostUSD = cost.Float64
	return t, nil
}
