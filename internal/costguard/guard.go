// Package costguard enforces per-project budgets and rate limits before
// every turn.
package costguard

import (
	"context"
	"time"

	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/internal/observability"
	"github.com/haasonsaas/nexus-core/internal/ratelimit"
	"github.com/haasonsaas/nexus-core/internal/usage"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// Permit is the opaque proof that a precheck passed. It carries the
// rate-limit slot consumed and the spend observed at check time.
type Permit struct {
	ProjectID   models.ProjectID
	GrantedAt   time.Time
	DailySpend  float64
	MonthlySpend float64
}

// Guard is the pre-turn budget and rate-limit check. Rate limiting is
// in-memory for latency; spend aggregation is durable.
type Guard struct {
	usage   *usage.Store
	limiter *ratelimit.Limiter
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewGuard creates a cost guard.
func NewGuard(store *usage.Store, limiter *ratelimit.Limiter, logger *observability.Logger, metrics *observability.Metrics) *Guard {
	return &Guard{
		usage:   store,
		limiter: limiter,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// SetClock overrides the clock source for tests.
func (g *Guard) SetClock(now func() time.Time) { g.now = now }

// Precheck runs once per turn before the LLM call. On success it consumes a
// rate-limit slot and returns a permit; on veto it returns an error whose
// code is one of DAILY_BUDGET_EXCEEDED, MONTHLY_BUDGET_EXCEEDED,
// RPM_EXCEEDED, RPH_EXCEEDED.
//
// The hard-limit percent (which may exceed 100) gives a grace band above the
// nominal budget: the guard vetoes only once hard limit is crossed.
func (g *Guard) Precheck(ctx context.Context, projectID models.ProjectID, cfg models.CostConfig, estimatedInputTokens int) (*Permit, error) {
	if cfg.MaxRequestsPerMinute > 0 && g.limiter.PerMinute(projectID) >= cfg.MaxRequestsPerMinute {
		return nil, g.veto(ctx, projectID, nexuserr.CodeRPMExceeded, "requests per minute limit reached")
	}
	if cfg.MaxRequestsPerHour > 0 && g.limiter.PerHour(projectID) >= cfg.MaxRequestsPerHour {
		return nil, g.veto(ctx, projectID, nexuserr.CodeRPHExceeded, "requests per hour limit reached")
	}

	daily, err := g.usage.DailySpend(ctx, projectID)
	if err != nil {
		return nil, err
	}
	monthly, err := g.usage.MonthlySpend(ctx, projectID)
	if err != nil {
		return nil, err
	}

	hard := cfg.HardLimitPercent
	if hard <= 0 {
		hard = 100
	}
	if cfg.DailyBudgetUSD > 0 && daily >= cfg.DailyBudgetUSD*hard/100 {
		return nil, g.veto(ctx, projectID, nexuserr.CodeDailyBudgetExceeded, "daily budget exhausted")
	}
	if cfg.MonthlyBudgetUSD > 0 && monthly >= cfg.MonthlyBudgetUSD*hard/100 {
		return nil, g.veto(ctx, projectID, nexuserr.CodeMonthlyBudgetExceeded, "monthly budget exhausted")
	}

	g.limiter.Record(projectID)
	return &Permit{
		ProjectID:    projectID,
		GrantedAt:    g.now(),
		DailySpend:   daily,
		MonthlySpend: monthly,
	}, nil
}

func (g *Guard) veto(ctx context.Context, projectID models.ProjectID, code nexuserr.Code, msg string) error {
	if g.metrics != nil {
		g.metrics.CostVetoCounter.WithLabelValues(string(code)).Inc()
	}
	g.logger.Warn(ctx, "cost guard veto", "project_id", string(projectID), "reason", string(code))
	return nexuserr.New(code, msg).With("project_id", string(projectID))
}

// Record persists actual usage after the LLM call.
func (g *Guard) Record(ctx context.Context, rec models.UsageRecord) error {
	if rec.CostUSD == 0 {
		rec.CostUSD = usage.EstimateCost(rec.Model, rec.Usage)
	}
	return g.usage.Record(ctx, rec)
}

// Alert describes a soft-threshold crossing. It is informational; the run
// proceeds.
type Alert struct {
	ProjectID   models.ProjectID `json:"project_id"`
	DailySpend  float64          `json:"daily_spend_usd"`
	DailyBudget float64          `json:"daily_budget_usd"`
	Percent     float64          `json:"percent"`
	Threshold   float64          `json:"threshold_percent"`
}

// AlertIfAboveThreshold checks the soft alert threshold and returns a
// non-nil Alert when dailySpend/dailyBudget has reached it. Non-blocking:
// errors reading spend are logged, not returned.
func (g *Guard) AlertIfAboveThreshold(ctx context.Context, projectID models.ProjectID, cfg models.CostConfig) *Alert {
	if cfg.DailyBudgetUSD <= 0 || cfg.AlertThresholdPercent <= 0 {
		return nil
	}
	daily, err := g.usage.DailySpend(ctx, projectID)
	if err != nil {
		g.logger.Warn(ctx, "cost alert check failed", "error", err)
		return nil
	}
	percent := daily / cfg.DailyBudgetUSD * 100
	if percent < cfg.AlertThresholdPercent {
		return nil
	}
	return &Alert{
		ProjectID:   projectID,
		DailySpend:  daily,
		DailyBudget: cfg.DailyBudgetUSD,
		Percent:     percent,
		Threshold:   cfg.AlertThresholdPercent,
	}
}
