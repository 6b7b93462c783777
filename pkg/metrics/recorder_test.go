package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

func TestRecorder_SuccessRateAndLatency(t *testing.T) {
	r := NewRecorder()

	assert.Equal(t, 1.0, r.SuccessRate("nl2sql"), "unknown agent defaults to healthy")

	r.RecordAgent("nl2sql", true, "", 100*time.Millisecond, 0.9, true)
	r.RecordAgent("nl2sql", true, "", 300*time.Millisecond, 0.8, true)
	r.RecordAgent("nl2sql", false, "timeout", 200*time.Millisecond, 0, false)

	assert.InDelta(t, 2.0/3.0, r.SuccessRate("nl2sql"), 1e-9)
	assert.InDelta(t, 200, r.AvgLatencyMs("nl2sql"), 1e-9)
}

func TestRecorder_RingEvictsOldest(t *testing.T) {
	r := NewRecorder()
	for i := 0; i < ringSize; i++ {
		r.RecordAgent("router", false, "llm", time.Millisecond, 0, false)
	}
	// A full ring of successes displaces every failure.
	for i := 0; i < ringSize; i++ {
		r.RecordAgent("router", true, "", time.Millisecond, 1, true)
	}
	assert.Equal(t, 1.0, r.SuccessRate("router"))
}

func TestRecorder_TopErrors(t *testing.T) {
	r := NewRecorder()
	for i := 0; i < 5; i++ {
		r.RecordAgent("executor", false, "timeout", time.Millisecond, 0, false)
	}
	for i := 0; i < 3; i++ {
		r.RecordAgent("executor", false, "connection", time.Millisecond, 0, false)
	}
	r.RecordAgent("executor", false, "schema", time.Millisecond, 0, false)
	r.RecordAgent("executor", true, "", time.Millisecond, 1, true)

	top := r.TopErrors("executor", 2)
	require.Len(t, top, 2)
	assert.Equal(t, ErrorCount{ErrType: "timeout", Count: 5}, top[0])
	assert.Equal(t, ErrorCount{ErrType: "connection", Count: 3}, top[1])
}

func TestRecorder_WorstAgent(t *testing.T) {
	r := NewRecorder()
	r.RecordAgent("router", true, "", time.Millisecond, 1, true)
	r.RecordAgent("chart", true, "", time.Millisecond, 1, true)
	r.RecordAgent("chart", false, "bad_tool_call", time.Millisecond, 0, false)

	name, rate := r.WorstAgent()
	assert.Equal(t, "chart", name)
	assert.InDelta(t, 0.5, rate, 1e-9)
}

func TestRecorder_Satisfaction(t *testing.T) {
	r := NewRecorder()
	assert.Equal(t, 1.0, r.SatisfactionRate())

	r.RecordSatisfaction(true)
	r.RecordSatisfaction(true)
	r.RecordSatisfaction(false)
	assert.InDelta(t, 2.0/3.0, r.SatisfactionRate(), 1e-9)
}

func TestRecorder_PrometheusSeries(t *testing.T) {
	r := NewRecorder()

	r.RecordRequest("complete")
	r.RecordRequest("complete")
	r.RecordRequest("throttled")
	r.RecordCacheEvent("query", true)
	r.RecordCacheEvent("query", false)
	r.RecordQuotaWarning()
	r.RecordStageDuration(models.StageQueryExecuting, 120*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.requestsTotal.WithLabelValues("complete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.requestsTotal.WithLabelValues("throttled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cacheEvents.WithLabelValues("query", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.quotaWarnings))

	count := testutil.CollectAndCount(r.stageDuration)
	assert.Equal(t, 1, count)
}
