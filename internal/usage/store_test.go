package usage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/nexus-core/pkg/models"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.TempDir()+"/test.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(openTestDB(t))
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func record(projectID models.ProjectID, cost float64, at time.Time) models.UsageRecord {
	return models.UsageRecord{
		ProjectID: projectID,
		SessionID: "sess_x",
		TraceID:   "trace_x",
		Provider:  models.ProviderAnthropic,
		Model:     "claude-sonnet-4",
		Usage:     models.TokenUsage{InputTokens: 100, OutputTokens: 50},
		CostUSD:   cost,
		Timestamp: at,
	}
}

func TestDailyAndMonthlySpend(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	// Today, earlier this month, and last month.
	for _, r := range []models.UsageRecord{
		record("proj_a", 0.50, now.Add(-time.Hour)),
		record("proj_a", 0.25, now.AddDate(0, 0, -5)),
		record("proj_a", 9.99, now.AddDate(0, -1, 0)),
	} {
		if err := store.Record(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	daily, err := store.DailySpend(ctx, "proj_a")
	if err != nil {
		t.Fatal(err)
	}
	if daily != 0.50 {
		t.Errorf("daily = %v, want 0.50", daily)
	}

	monthly, err := store.MonthlySpend(ctx, "proj_a")
	if err != nil {
		t.Fatal(err)
	}
	if monthly != 0.75 {
		t.Errorf("monthly = %v, want 0.75", monthly)
	}
}

func TestSpendIsolatedPerProject(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	if err := store.Record(ctx, record("proj_a", 1.00, now)); err != nil {
		t.Fatal(err)
	}
	daily, err := store.DailySpend(ctx, "proj_b")
	if err != nil {
		t.Fatal(err)
	}
	if daily != 0 {
		t.Errorf("project b daily = %v, want 0", daily)
	}
}

func TestRecordAssignsIDAndTimestamp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	r := record("proj_a", 0.10, time.Time{})
	if err := store.Record(ctx, r); err != nil {
		t.Fatal(err)
	}
	totals, err := store.Totals(ctx, "proj_a")
	if err != nil {
		t.Fatal(err)
	}
	if totals.Records != 1 || totals.TotalTokens != 150 {
		t.Errorf("totals = %+v", totals)
	}
}

func TestEstimateCost(t *testing.T) {
	usage := models.TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}

	got := EstimateCost("claude-sonnet-4-20250514", usage)
	if got != 18 { // 3 in + 15 out
		t.Errorf("sonnet cost = %v, want 18", got)
	}

	got = EstimateCost("gpt-4o-mini", usage)
	if got != 0.75 { // 0.15 + 0.6
		t.Errorf("gpt-4o-mini cost = %v, want 0.75", got)
	}

	// Longest prefix wins: gpt-4o-mini must not price as gpt-4o.
	if EstimateCost("gpt-4o-mini", usage) == EstimateCost("gpt-4o", usage) {
		t.Error("gpt-4o-mini and gpt-4o should price differently")
	}

	// Unknown models fall back to non-zero pricing.
	if EstimateCost("mystery-model", usage) == 0 {
		t.Error("unknown model must not price at zero")
	}
}
