// Package ratelimit admits requests under sliding-window rate limits and
// per-tenant plan quotas, backed by Redis sorted sets with an in-process
// fallback when Redis is unreachable.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lucidata-ai/lucid-engine/pkg/config"
)

// Window identifies one sliding window tier.
type Window string

const (
	WindowMinute Window = "min"
	WindowHour   Window = "hr"
	WindowDay    Window = "day"
)

var windowDurations = map[Window]time.Duration{
	WindowMinute: time.Minute,
	WindowHour:   time.Hour,
	WindowDay:    24 * time.Hour,
}

// Result is the admission decision for one request.
type Result struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int           `json:"remaining"`
	Limit      int           `json:"limit"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Window     Window        `json:"window,omitempty"`
}

// Limiter enforces the sliding windows. The burst cap rides on the minute
// window: a minute count above burst denies even before the minute limit.
type Limiter struct {
	client   *redis.Client
	cfg      *config.RateLimitConfig
	clock    clockwork.Clock
	logger   *zap.Logger
	fallback *localLimiter
}

// NewLimiter wires a limiter. client may be nil; everything then runs on the
// in-process fallback.
func NewLimiter(client *redis.Client, cfg *config.RateLimitConfig, clock clockwork.Clock, logger *zap.Logger) *Limiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Limiter{
		client:   client,
		cfg:      cfg,
		clock:    clock,
		logger:   logger.Named("ratelimit"),
		fallback: newLocalLimiter(clock),
	}
}

func (l *Limiter) limitFor(w Window) int {
	switch w {
	case WindowMinute:
		return l.cfg.RequestsPerMinute
	case WindowHour:
		return l.cfg.RequestsPerHour
	default:
		return l.cfg.RequestsPerDay
	}
}

// Allow checks every window for identifier and, when all pass, admits the
// request by recording one entry per window. Denials record nothing.
func (l *Limiter) Allow(ctx context.Context, identifier string) (*Result, error) {
	if l.client == nil {
		return l.fallback.allow(identifier, l.cfg), nil
	}
	res, err := l.allowRedis(ctx, identifier)
	if err != nil {
		// Backend trouble must not turn into false denials.
		l.logger.Warn("rate limit backend unavailable, using in-process fallback",
			zap.String("error", err.Error()))
		return l.fallback.allow(identifier, l.cfg), nil
	}
	return res, nil
}

func (l *Limiter) allowRedis(ctx context.Context, identifier string) (*Result, error) {
	now := l.clock.Now()

	// One pipeline trims, records this request, and counts every window.
	// Adding before counting keeps concurrent admissions honest: each
	// request sees its own entry plus every racing one, so the window can
	// never be oversubscribed by a check-then-add gap.
	member := fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString())
	pipe := l.client.Pipeline()
	counts := make(map[Window]*redis.IntCmd, len(windowDurations))
	oldest := make(map[Window]*redis.ZSliceCmd, len(windowDurations))
	for w, d := range windowDurations {
		key := windowKey(identifier, w)
		cutoff := now.Add(-d).UnixMilli()
		pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", cutoff))
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
		counts[w] = pipe.ZCard(ctx, key)
		oldest[w] = pipe.ZRangeWithScores(ctx, key, 0, 0)
		pipe.Expire(ctx, key, d+time.Minute)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	// Deny on the tightest violated window. Counts include this request's
	// own entry, so the threshold is count > limit.
	for _, w := range []Window{WindowMinute, WindowHour, WindowDay} {
		count := int(counts[w].Val())
		limit := l.limitFor(w)
		if w == WindowMinute && l.cfg.Burst > 0 && count > l.cfg.Burst {
			limit = l.cfg.Burst
		}
		if count > limit {
			l.withdraw(ctx, identifier, member)
			return l.denied(w, identifier, count-1, limit, oldest[w].Val(), now), nil
		}
	}

	minuteCount := int(counts[WindowMinute].Val())
	return &Result{
		Allowed:   true,
		Remaining: maxInt(l.cfg.RequestsPerMinute-minuteCount, 0),
		Limit:     l.cfg.RequestsPerMinute,
		ResetAt:   now.Add(time.Minute),
		Window:    WindowMinute,
	}, nil
}

// withdraw removes a denied request's entries so denials consume no budget.
func (l *Limiter) withdraw(ctx context.Context, identifier, member string) {
	pipe := l.client.Pipeline()
	for w := range windowDurations {
		pipe.ZRem(ctx, windowKey(identifier, w), member)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn("failed to withdraw denied rate limit entry",
			zap.String("identifier", identifier),
			zap.String("error", err.Error()))
	}
}

func (l *Limiter) denied(w Window, identifier string, count, limit int, oldestEntries []redis.Z, now time.Time) *Result {
	d := windowDurations[w]
	resetAt := now.Add(d)
	if len(oldestEntries) > 0 {
		resetAt = time.UnixMilli(int64(oldestEntries[0].Score)).Add(d)
	}
	retryAfter := resetAt.Sub(now)
	if retryAfter <= 0 {
		retryAfter = time.Second
	}
	l.logger.Info("request throttled",
		zap.String("identifier", identifier),
		zap.String("window", string(w)),
		zap.Int("count", count),
		zap.Int("limit", limit))
	return &Result{
		Allowed:    false,
		Remaining:  0,
		Limit:      limit,
		ResetAt:    resetAt,
		RetryAfter: retryAfter,
		Window:     w,
	}
}

func windowKey(identifier string, w Window) string {
	return "rl:" + identifier + ":" + string(w)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
