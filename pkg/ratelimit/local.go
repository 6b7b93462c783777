package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lucidata-ai/lucid-engine/pkg/config"
)

// shardCount spreads identifier locks to keep contention low.
const shardCount = 32

// localLimiter is the eventually-consistent in-process fallback. It keeps
// per-identifier timestamp lists and is biased toward allowing: only the
// minute window is enforced, and state is lost on restart.
type localLimiter struct {
	clock  clockwork.Clock
	shards [shardCount]struct {
		mu      sync.Mutex
		windows map[string][]time.Time
	}
}

func newLocalLimiter(clock clockwork.Clock) *localLimiter {
	l := &localLimiter{clock: clock}
	for i := range l.shards {
		l.shards[i].windows = make(map[string][]time.Time)
	}
	return l
}

func (l *localLimiter) shard(identifier string) *struct {
	mu      sync.Mutex
	windows map[string][]time.Time
} {
	h := uint32(2166136261)
	for i := 0; i < len(identifier); i++ {
		h ^= uint32(identifier[i])
		h *= 16777619
	}
	return &l.shards[h%shardCount]
}

func (l *localLimiter) allow(identifier string, cfg *config.RateLimitConfig) *Result {
	now := l.clock.Now()
	cutoff := now.Add(-time.Minute)
	limit := cfg.RequestsPerMinute
	if cfg.Burst > 0 && cfg.Burst < limit {
		limit = cfg.Burst
	}

	s := l.shard(identifier)
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.windows[identifier]
	kept := entries[:0]
	for _, t := range entries {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= limit {
		s.windows[identifier] = kept
		resetAt := kept[0].Add(time.Minute)
		retryAfter := resetAt.Sub(now)
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		return &Result{
			Allowed:    false,
			Remaining:  0,
			Limit:      limit,
			ResetAt:    resetAt,
			RetryAfter: retryAfter,
			Window:     WindowMinute,
		}
	}

	kept = append(kept, now)
	s.windows[identifier] = kept
	return &Result{
		Allowed:   true,
		Remaining: maxInt(limit-len(kept), 0),
		Limit:     limit,
		ResetAt:   now.Add(time.Minute),
		Window:    WindowMinute,
	}
}
