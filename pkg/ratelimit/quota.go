package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lucidata-ai/lucid-engine/pkg/config"
	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

// warnThreshold is the usage fraction past which admissions raise the quota
// warning metric without blocking.
const warnThreshold = 0.8

// QuotaResult is the outcome of a quota check.
type QuotaResult struct {
	Allowed   bool  `json:"allowed"`
	Used      int64 `json:"used"`
	Limit     int64 `json:"limit"` // -1 means unlimited
	Remaining int64 `json:"remaining"`
	Warning   bool  `json:"warning,omitempty"`
}

// Quota tracks per-tenant monthly consumption counters. Limits resolve from
// the tenant's effective plan, so an expired trial checks against free-plan
// allowances.
type Quota struct {
	client  *redis.Client
	credits *config.PlanCreditsConfig
	clock   clockwork.Clock
	logger  *zap.Logger

	mu    sync.Mutex
	local map[string]int64
}

// NewQuota wires a quota engine. client may be nil; counters then live
// in-process only.
func NewQuota(client *redis.Client, credits *config.PlanCreditsConfig, clock clockwork.Clock, logger *zap.Logger) *Quota {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Quota{
		client:  client,
		credits: credits,
		clock:   clock,
		logger:  logger.Named("quota"),
		local:   make(map[string]int64),
	}
}

// LimitFor resolves the monthly allowance for a tenant as of now. A
// tenant-level credit override applies unless the trial has lapsed.
func (q *Quota) LimitFor(tenant *models.Tenant, kind models.UsageKind) int64 {
	now := q.clock.Now()
	if kind == models.UsageKindAIQuery && tenant.AICreditsLimit != 0 && !tenant.TrialExpired(now) {
		return tenant.AICreditsLimit
	}
	return q.credits.ForPlan(string(tenant.EffectivePlan(now)))
}

// Check reports whether the tenant may spend required more units of kind.
// Usage is the larger of the engine's monthly counter and the tenant
// snapshot carried by the descriptor, so a stale counter never under-counts.
func (q *Quota) Check(ctx context.Context, tenant *models.Tenant, kind models.UsageKind, required int64) *QuotaResult {
	limit := q.LimitFor(tenant, kind)
	used := q.currentUsage(ctx, tenant.ID, kind)
	if kind == models.UsageKindAIQuery && tenant.AICreditsUsed > used {
		used = tenant.AICreditsUsed
	}

	if limit < 0 {
		return &QuotaResult{Allowed: true, Used: used, Limit: limit, Remaining: -1}
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	res := &QuotaResult{
		Allowed:   used+required <= limit,
		Used:      used,
		Limit:     limit,
		Remaining: remaining,
	}
	if res.Allowed && float64(used+required) >= warnThreshold*float64(limit) {
		res.Warning = true
	}
	if !res.Allowed {
		q.logger.Info("quota exceeded",
			zap.String("tenantId", tenant.ID),
			zap.String("kind", string(kind)),
			zap.Int64("used", used),
			zap.Int64("limit", limit))
	}
	return res
}

// Consume atomically records amount units of kind against the tenant's
// monthly counter. The counter expires at month end.
func (q *Quota) Consume(ctx context.Context, tenant *models.Tenant, kind models.UsageKind, amount int64) error {
	if amount <= 0 {
		return nil
	}
	key := q.quotaKey(tenant.ID, kind)
	if q.client == nil {
		q.mu.Lock()
		q.local[key] += amount
		q.mu.Unlock()
		return nil
	}

	pipe := q.client.Pipeline()
	pipe.IncrBy(ctx, key, amount)
	pipe.ExpireAt(ctx, key, monthEnd(q.clock.Now()))
	if _, err := pipe.Exec(ctx); err != nil {
		// Counting locally keeps consumption roughly honest until the
		// backend returns.
		q.mu.Lock()
		q.local[key] += amount
		q.mu.Unlock()
		q.logger.Warn("quota backend unavailable, counted in process",
			zap.String("key", key),
			zap.String("error", err.Error()))
	}
	return nil
}

func (q *Quota) currentUsage(ctx context.Context, tenantID string, kind models.UsageKind) int64 {
	key := q.quotaKey(tenantID, kind)
	if q.client != nil {
		if n, err := q.client.Get(ctx, key).Int64(); err == nil {
			return n
		} else if err != redis.Nil {
			q.logger.Warn("quota read failed, using in-process counter",
				zap.String("key", key),
				zap.String("error", err.Error()))
		} else {
			return 0
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.local[key]
}

// quotaKey scopes a counter to tenant, kind and calendar month.
func (q *Quota) quotaKey(tenantID string, kind models.UsageKind) string {
	return fmt.Sprintf("quota:%s:%s:%s", tenantID, kind, q.clock.Now().UTC().Format("2006-01"))
}

// monthEnd returns the first instant of the next calendar month in UTC.
func monthEnd(now time.Time) time.Time {
	t := now.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
