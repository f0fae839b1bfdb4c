package costguard

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/internal/observability"
	"github.com/haasonsaas/nexus-core/internal/ratelimit"
	"github.com/haasonsaas/nexus-core/internal/usage"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

func newTestGuard(t *testing.T, now time.Time) (*Guard, *usage.Store, *ratelimit.Limiter) {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.TempDir()+"/test.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := usage.NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	store.SetClock(func() time.Time { return now })

	limiter := ratelimit.NewLimiter()
	limiter.SetClock(func() time.Time { return now })

	g := NewGuard(store, limiter, observability.NewTestLogger(), observability.NewTestMetrics())
	g.SetClock(func() time.Time { return now })
	return g, store, limiter
}

func spend(t *testing.T, store *usage.Store, projectID models.ProjectID, cost float64, at time.Time) {
	t.Helper()
	err := store.Record(context.Background(), models.UsageRecord{
		ProjectID: projectID,
		SessionID: "sess_x",
		TraceID:   "trace_x",
		Provider:  models.ProviderAnthropic,
		Model:     "claude-sonnet-4",
		Usage:     models.TokenUsage{InputTokens: 10, OutputTokens: 10},
		CostUSD:   cost,
		Timestamp: at,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestPrecheckDailyBudgetVeto(t *testing.T) {
	now := time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC)
	g, store, _ := newTestGuard(t, now)

	// $1.20 spent against a $1 budget: past the 100% hard limit.
	spend(t, store, "proj_a", 1.20, now.Add(-time.Hour))

	cfg := models.CostConfig{DailyBudgetUSD: 1}
	_, err := g.Precheck(context.Background(), "proj_a", cfg, 0)
	if got := nexuserr.CodeOf(err); got != nexuserr.CodeDailyBudgetExceeded {
		t.Fatalf("code = %s, want DAILY_BUDGET_EXCEEDED", got)
	}
}

func TestPrecheckHardLimitGraceBand(t *testing.T) {
	now := time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC)
	g, store, _ := newTestGuard(t, now)

	spend(t, store, "proj_a", 1.20, now.Add(-time.Hour))

	// 150% hard limit: $1.20 of $1 is inside the grace band.
	cfg := models.CostConfig{DailyBudgetUSD: 1, HardLimitPercent: 150}
	permit, err := g.Precheck(context.Background(), "proj_a", cfg, 0)
	if err != nil {
		t.Fatalf("precheck vetoed inside grace band: %v", err)
	}
	if permit.DailySpend != 1.20 {
		t.Errorf("permit daily spend = %v", permit.DailySpend)
	}
}

func TestPrecheckMonthlyBudgetVeto(t *testing.T) {
	now := time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC)
	g, store, _ := newTestGuard(t, now)

	spend(t, store, "proj_a", 30, now.AddDate(0, 0, -10))

	cfg := models.CostConfig{MonthlyBudgetUSD: 25}
	_, err := g.Precheck(context.Background(), "proj_a", cfg, 0)
	if got := nexuserr.CodeOf(err); got != nexuserr.CodeMonthlyBudgetExceeded {
		t.Fatalf("code = %s, want MONTHLY_BUDGET_EXCEEDED", got)
	}
}

func TestPrecheckRPMVeto(t *testing.T) {
	now := time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC)
	g, _, limiter := newTestGuard(t, now)

	cfg := models.CostConfig{MaxRequestsPerMinute: 2}

	for i := 0; i < 2; i++ {
		if _, err := g.Precheck(context.Background(), "proj_a", cfg, 0); err != nil {
			t.Fatalf("precheck %d failed: %v", i, err)
		}
	}
	_, err := g.Precheck(context.Background(), "proj_a", cfg, 0)
	if got := nexuserr.CodeOf(err); got != nexuserr.CodeRPMExceeded {
		t.Fatalf("code = %s, want RPM_EXCEEDED", got)
	}

	// Other projects are unaffected.
	if _, err := g.Precheck(context.Background(), "proj_b", cfg, 0); err != nil {
		t.Fatalf("project b vetoed by project a's traffic: %v", err)
	}
	if limiter.PerMinute("proj_b") != 1 {
		t.Error("permit should consume a slot for its own project only")
	}
}

func TestPrecheckRPHVeto(t *testing.T) {
	now := time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC)
	g, _, limiter := newTestGuard(t, now)

	cfg := models.CostConfig{MaxRequestsPerHour: 1}
	if _, err := g.Precheck(context.Background(), "proj_a", cfg, 0); err != nil {
		t.Fatal(err)
	}
	if limiter.PerHour("proj_a") != 1 {
		t.Fatal("slot not consumed")
	}
	_, err := g.Precheck(context.Background(), "proj_a", cfg, 0)
	if got := nexuserr.CodeOf(err); got != nexuserr.CodeRPHExceeded {
		t.Fatalf("code = %s, want RPH_EXCEEDED", got)
	}
}

func TestVetoDoesNotConsumeSlot(t *testing.T) {
	now := time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC)
	g, store, limiter := newTestGuard(t, now)

	spend(t, store, "proj_a", 5, now.Add(-time.Hour))
	cfg := models.CostConfig{DailyBudgetUSD: 1}
	if _, err := g.Precheck(context.Background(), "proj_a", cfg, 0); err == nil {
		t.Fatal("expected veto")
	}
	if limiter.PerMinute("proj_a") != 0 {
		t.Error("vetoed precheck must not consume a rate-limit slot")
	}
}

func TestRecordAutoPrices(t *testing.T) {
	now := time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC)
	g, store, _ := newTestGuard(t, now)

	err := g.Record(context.Background(), models.UsageRecord{
		ProjectID: "proj_a",
		SessionID: "sess_x",
		TraceID:   "trace_x",
		Provider:  models.ProviderAnthropic,
		Model:     "claude-sonnet-4",
		Usage:     models.TokenUsage{InputTokens: 1_000_000},
		Timestamp: now,
	})
	if err != nil {
		t.Fatal(err)
	}

	daily, err := store.DailySpend(context.Background(), "proj_a")
	if err != nil {
		t.Fatal(err)
	}
	if daily != 3 { // sonnet input $3/M
		t.Errorf("daily = %v, want 3", daily)
	}
}

func TestAlertIfAboveThreshold(t *testing.T) {
	now := time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC)
	g, store, _ := newTestGuard(t, now)

	cfg := models.CostConfig{DailyBudgetUSD: 10, AlertThresholdPercent: 80}

	spend(t, store, "proj_a", 5, now.Add(-time.Hour))
	if alert := g.AlertIfAboveThreshold(context.Background(), "proj_a", cfg); alert != nil {
		t.Errorf("alert below threshold: %+v", alert)
	}

	spend(t, store, "proj_a", 3, now.Add(-time.Minute))
	alert := g.AlertIfAboveThreshold(context.Background(), "proj_a", cfg)
	if alert == nil {
		t.Fatal("expected alert at 80% of budget")
	}
	if alert.Percent != 80 || alert.DailySpend != 8 {
		t.Errorf("alert = %+v", alert)
	}
}
