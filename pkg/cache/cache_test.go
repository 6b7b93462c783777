package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNormalizeSQL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"collapses whitespace and lowercases keywords",
			"SELECT  *\n FROM   orders",
			"select * from orders",
		},
		{
			"strips trailing semicolons",
			"select 1;;  ",
			"select 1",
		},
		{
			"preserves string literal case",
			"SELECT * FROM t WHERE name = 'Alice Smith'",
			"select * from t where name = 'Alice Smith'",
		},
		{
			"preserves quoted identifier case",
			`SELECT "UserName" FROM t`,
			`select "UserName" from t`,
		},
		{
			"whitespace inside literals untouched",
			"select 'a  b'",
			"select 'a  b'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeSQL(tt.in))
		})
	}
}

func TestKeys_Deterministic(t *testing.T) {
	assert.Equal(t, SchemaKey("ds-1"), SchemaKey("ds-1"))
	assert.Len(t, SchemaKey("ds-1"), 32)
	assert.NotEqual(t, SchemaKey("ds-1"), SchemaKey("ds-2"))

	// Formatting-equivalent SQL maps to the same key.
	assert.Equal(t,
		QueryKey("ds-1", "SELECT * FROM orders;"),
		QueryKey("ds-1", "select  *  from orders"))
	assert.NotEqual(t,
		QueryKey("ds-1", "select * from orders"),
		QueryKey("ds-2", "select * from orders"))

	// Conversation id isolates AI responses.
	assert.NotEqual(t,
		AIKey("prompt", "fp", "conv-a"),
		AIKey("prompt", "fp", "conv-b"))
}

func TestLRU_EvictionAndTTL(t *testing.T) {
	ctx := context.Background()
	l := NewLRU(2)

	require.NoError(t, l.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, l.Set(ctx, "b", "2", time.Minute))

	// Touch "a" so "b" is the eviction candidate.
	_, ok, _ := l.Get(ctx, "a")
	require.True(t, ok)

	require.NoError(t, l.Set(ctx, "c", "3", time.Minute))
	_, ok, _ = l.Get(ctx, "b")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok, _ = l.Get(ctx, "a")
	assert.True(t, ok)

	require.NoError(t, l.Set(ctx, "gone", "x", -time.Second))
	_, ok, _ = l.Get(ctx, "gone")
	assert.False(t, ok, "expired entry should not be returned")
}

func TestLRU_Incr(t *testing.T) {
	ctx := context.Background()
	l := NewLRU(10)

	n, err := l.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = l.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestLRU_DeletePattern(t *testing.T) {
	ctx := context.Background()
	l := NewLRU(10)
	require.NoError(t, l.Set(ctx, "rl:tenant-a:min", "1", time.Minute))
	require.NoError(t, l.Set(ctx, "rl:tenant-a:hr", "1", time.Minute))
	require.NoError(t, l.Set(ctx, "rl:tenant-b:min", "1", time.Minute))

	n, err := l.DeletePattern(ctx, "rl:tenant-a:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, l.Len())
}

func newTestRedis(t *testing.T) *RedisBackend {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBackend(client)
}

func TestRedisBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)

	require.NoError(t, r.Set(ctx, "k", "v", time.Minute))
	val, ok, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", val)

	_, ok, err = r.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Delete(ctx, "k"))
	_, ok, _ = r.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedisBackend_ManyAndPattern(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)

	require.NoError(t, r.SetMany(ctx, map[string]string{
		"sch:a": "1",
		"sch:b": "2",
		"qry:c": "3",
	}, time.Minute))

	got, err := r.GetMany(ctx, []string{"sch:a", "sch:b", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"sch:a": "1", "sch:b": "2"}, got)

	n, err := r.DeletePattern(ctx, "sch:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok, _ := r.Get(ctx, "qry:c")
	assert.True(t, ok)
}

func TestRedisBackend_IncrExpire(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)

	n, err := r.Incr(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = r.Incr(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, r.Expire(ctx, "c", time.Minute))
}

func testTTLs() TTLs {
	return TTLs{Schema: 24 * time.Hour, Query: time.Hour, AI: time.Hour}
}

func TestLayered_HitMissStats(t *testing.T) {
	ctx := context.Background()
	c := NewLayered(newTestRedis(t), testTTLs(), zap.NewNop())

	_, ok := c.GetSchema(ctx, "ds-1")
	assert.False(t, ok)

	c.SetSchema(ctx, "ds-1", "tables...")
	got, ok := c.GetSchema(ctx, "ds-1")
	require.True(t, ok)
	assert.Equal(t, "tables...", got)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(0), stats.Errors)
}

// brokenBackend fails every operation, standing in for an unreachable Redis.
type brokenBackend struct{}

var errDown = errors.New("connection refused")

func (brokenBackend) Get(context.Context, string) (string, bool, error) { return "", false, errDown }
func (brokenBackend) Set(context.Context, string, string, time.Duration) error {
	return errDown
}
func (brokenBackend) Delete(context.Context, string) error { return errDown }
func (brokenBackend) DeletePattern(context.Context, string) (int, error) {
	return 0, errDown
}
func (brokenBackend) GetMany(context.Context, []string) (map[string]string, error) {
	return nil, errDown
}
func (brokenBackend) SetMany(context.Context, map[string]string, time.Duration) error {
	return errDown
}
func (brokenBackend) Incr(context.Context, string) (int64, error) { return 0, errDown }
func (brokenBackend) Expire(context.Context, string, time.Duration) error {
	return errDown
}

func TestLayered_FallsBackAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	c := NewLayered(brokenBackend{}, testTTLs(), zap.NewNop())

	// Failures count as misses, never errors to the caller.
	for i := 0; i < consecutiveFailureLimit; i++ {
		_, ok := c.Get(ctx, "k")
		assert.False(t, ok)
	}
	assert.True(t, c.UsingFallback())

	// Fallback now serves reads and writes transparently.
	c.Set(ctx, "k", "v", time.Minute)
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	stats := c.Stats()
	assert.Equal(t, int64(consecutiveFailureLimit), stats.Errors)
	assert.GreaterOrEqual(t, stats.FallbackOps, int64(2))
}

func TestLayered_NilPrimaryUsesFallback(t *testing.T) {
	ctx := context.Background()
	c := NewLayered(nil, testTTLs(), zap.NewNop())
	assert.True(t, c.UsingFallback())

	c.SetQueryResult(ctx, "ds-1", "select 1", `{"rows":[]}`)
	got, ok := c.GetQueryResult(ctx, "ds-1", "SELECT 1;")
	require.True(t, ok)
	assert.Equal(t, `{"rows":[]}`, got)
}

func TestLayered_ManyIncrExpire(t *testing.T) {
	ctx := context.Background()
	c := NewLayered(newTestRedis(t), testTTLs(), zap.NewNop())

	c.SetMany(ctx, map[string]string{"a": "1", "b": "2"}, time.Minute)
	found := c.GetMany(ctx, []string{"a", "b", "missing"})
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, found)

	n, ok := c.Incr(ctx, "counter")
	require.True(t, ok)
	assert.Equal(t, int64(1), n)
	n, ok = c.Incr(ctx, "counter")
	require.True(t, ok)
	assert.Equal(t, int64(2), n)

	c.Expire(ctx, "counter", time.Minute)
	val, ok := c.Get(ctx, "counter")
	require.True(t, ok)
	assert.Equal(t, "2", val)
}

func TestLayered_ManyOnFallback(t *testing.T) {
	ctx := context.Background()
	c := NewLayered(nil, testTTLs(), zap.NewNop())

	c.SetMany(ctx, map[string]string{"x": "10"}, time.Minute)
	assert.Equal(t, map[string]string{"x": "10"}, c.GetMany(ctx, []string{"x", "y"}))

	n, ok := c.Incr(ctx, "hits")
	require.True(t, ok)
	assert.Equal(t, int64(1), n)
}

func TestLayered_ClearPattern(t *testing.T) {
	ctx := context.Background()
	c := NewLayered(newTestRedis(t), testTTLs(), zap.NewNop())

	c.Set(ctx, "ai:1", "a", time.Minute)
	c.Set(ctx, "ai:2", "b", time.Minute)
	c.Set(ctx, "qr:1", "c", time.Minute)

	assert.Equal(t, 2, c.ClearPattern(ctx, "ai:*"))
	_, ok := c.Get(ctx, "qr:1")
	assert.True(t, ok)
}
