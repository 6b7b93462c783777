package cache

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lucidata-ai/lucid-engine/pkg/config"
)

// Backend is a key-value store with TTLs. Redis is the shared backend; LRU is
// the in-process fallback used when Redis is unconfigured or unreachable.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePattern(ctx context.Context, pattern string) (int, error)
	GetMany(ctx context.Context, keys []string) (map[string]string, error)
	SetMany(ctx context.Context, entries map[string]string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// opBudget bounds every backend operation. A slow backend must degrade to a
// miss rather than stall the request path.
const opBudget = 50 * time.Millisecond

// consecutiveFailureLimit flips the layered cache to the fallback store.
const consecutiveFailureLimit = 3

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Errors      int64 `json:"errors"`
	FallbackOps int64 `json:"fallbackOps"`
}

// Namespace TTLs applied by the convenience setters.
type TTLs struct {
	Schema time.Duration
	Query  time.Duration
	AI     time.Duration
}

// TTLsFromConfig converts configured hour values.
func TTLsFromConfig(cfg *config.CacheTTLConfig) TTLs {
	return TTLs{
		Schema: time.Duration(cfg.SchemaHours) * time.Hour,
		Query:  time.Duration(cfg.QueryHours) * time.Hour,
		AI:     time.Duration(cfg.AIHours) * time.Hour,
	}
}

// Layered is the cache used by the schema registry, query executor and LLM
// gateway. Operations go to the primary backend under the per-op budget; after
// enough consecutive failures the fallback store serves until the primary
// recovers.
type Layered struct {
	primary  Backend
	fallback Backend
	ttls     TTLs
	logger   *zap.Logger

	failures atomic.Int64

	hits        atomic.Int64
	misses      atomic.Int64
	errs        atomic.Int64
	fallbackOps atomic.Int64
}

// NewLayered builds the layered cache. primary may be nil, in which case the
// fallback serves everything.
func NewLayered(primary Backend, ttls TTLs, logger *zap.Logger) *Layered {
	return &Layered{
		primary:  primary,
		fallback: NewLRU(0),
		ttls:     ttls,
		logger:   logger.Named("cache"),
	}
}

// backend selects the live store for this operation.
func (c *Layered) backend() (Backend, bool) {
	if c.primary == nil || c.failures.Load() >= consecutiveFailureLimit {
		return c.fallback, true
	}
	return c.primary, false
}

func (c *Layered) recordResult(usedFallback bool, err error) {
	if usedFallback {
		c.fallbackOps.Add(1)
		return
	}
	if err != nil {
		c.errs.Add(1)
		n := c.failures.Add(1)
		if n == consecutiveFailureLimit {
			c.logger.Warn("primary cache backend unavailable, switching to in-process fallback",
				zap.Int64("consecutiveFailures", n))
		}
		return
	}
	c.failures.Store(0)
}

// Get returns the cached value for key. Backend errors and budget overruns
// count as misses.
func (c *Layered) Get(ctx context.Context, key string) (string, bool) {
	backend, usedFallback := c.backend()
	opCtx, cancel := context.WithTimeout(ctx, opBudget)
	defer cancel()

	val, ok, err := backend.Get(opCtx, key)
	c.recordResult(usedFallback, err)
	if err != nil || !ok {
		c.misses.Add(1)
		return "", false
	}
	c.hits.Add(1)
	return val, true
}

// Set stores key with an explicit TTL.
func (c *Layered) Set(ctx context.Context, key, value string, ttl time.Duration) {
	backend, usedFallback := c.backend()
	opCtx, cancel := context.WithTimeout(ctx, opBudget)
	defer cancel()

	err := backend.Set(opCtx, key, value, ttl)
	c.recordResult(usedFallback, err)
}

// Delete removes key from the live store.
func (c *Layered) Delete(ctx context.Context, key string) {
	backend, usedFallback := c.backend()
	opCtx, cancel := context.WithTimeout(ctx, opBudget)
	defer cancel()

	err := backend.Delete(opCtx, key)
	c.recordResult(usedFallback, err)
}

// ClearPattern removes every key matching a glob pattern and returns the
// number removed.
func (c *Layered) ClearPattern(ctx context.Context, pattern string) int {
	backend, usedFallback := c.backend()
	opCtx, cancel := context.WithTimeout(ctx, opBudget)
	defer cancel()

	n, err := backend.DeletePattern(opCtx, pattern)
	c.recordResult(usedFallback, err)
	return n
}

// GetMany returns the present subset of keys. Backend errors and budget
// overruns yield an empty map, never a partial error.
func (c *Layered) GetMany(ctx context.Context, keys []string) map[string]string {
	backend, usedFallback := c.backend()
	opCtx, cancel := context.WithTimeout(ctx, opBudget)
	defer cancel()

	found, err := backend.GetMany(opCtx, keys)
	c.recordResult(usedFallback, err)
	if err != nil {
		c.misses.Add(int64(len(keys)))
		return map[string]string{}
	}
	c.hits.Add(int64(len(found)))
	c.misses.Add(int64(len(keys) - len(found)))
	return found
}

// SetMany stores every entry under one TTL.
func (c *Layered) SetMany(ctx context.Context, entries map[string]string, ttl time.Duration) {
	backend, usedFallback := c.backend()
	opCtx, cancel := context.WithTimeout(ctx, opBudget)
	defer cancel()

	err := backend.SetMany(opCtx, entries, ttl)
	c.recordResult(usedFallback, err)
}

// Incr increments a counter key and returns the new value. Backend errors
// report zero and false.
func (c *Layered) Incr(ctx context.Context, key string) (int64, bool) {
	backend, usedFallback := c.backend()
	opCtx, cancel := context.WithTimeout(ctx, opBudget)
	defer cancel()

	n, err := backend.Incr(opCtx, key)
	c.recordResult(usedFallback, err)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Expire sets or refreshes a key's TTL.
func (c *Layered) Expire(ctx context.Context, key string, ttl time.Duration) {
	backend, usedFallback := c.backend()
	opCtx, cancel := context.WithTimeout(ctx, opBudget)
	defer cancel()

	err := backend.Expire(opCtx, key, ttl)
	c.recordResult(usedFallback, err)
}

// GetSchema reads a cached schema description for a data source.
func (c *Layered) GetSchema(ctx context.Context, dataSourceID string) (string, bool) {
	return c.Get(ctx, SchemaKey(dataSourceID))
}

// SetSchema caches a schema description under the schema namespace TTL.
func (c *Layered) SetSchema(ctx context.Context, dataSourceID, schema string) {
	c.Set(ctx, SchemaKey(dataSourceID), schema, c.ttls.Schema)
}

// InvalidateSchema drops the cached schema for a data source.
func (c *Layered) InvalidateSchema(ctx context.Context, dataSourceID string) {
	c.Delete(ctx, SchemaKey(dataSourceID))
}

// GetQueryResult reads a cached query result keyed by normalized SQL.
func (c *Layered) GetQueryResult(ctx context.Context, dataSourceID, sql string) (string, bool) {
	return c.Get(ctx, QueryKey(dataSourceID, sql))
}

// SetQueryResult caches an executed query's serialized result.
func (c *Layered) SetQueryResult(ctx context.Context, dataSourceID, sql, result string) {
	c.Set(ctx, QueryKey(dataSourceID, sql), result, c.ttls.Query)
}

// GetAIResponse reads a cached LLM response.
func (c *Layered) GetAIResponse(ctx context.Context, prompt, fingerprint, conversationID string) (string, bool) {
	return c.Get(ctx, AIKey(prompt, fingerprint, conversationID))
}

// SetAIResponse caches an LLM response under the AI namespace TTL.
func (c *Layered) SetAIResponse(ctx context.Context, prompt, fingerprint, conversationID, response string) {
	c.Set(ctx, AIKey(prompt, fingerprint, conversationID), response, c.ttls.AI)
}

// Stats returns a snapshot of the counters.
func (c *Layered) Stats() Stats {
	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Errors:      c.errs.Load(),
		FallbackOps: c.fallbackOps.Load(),
	}
}

// UsingFallback reports whether operations are currently served in-process.
func (c *Layered) UsingFallback() bool {
	_, fb := c.backend()
	return fb
}
