// Package metrics records per-agent outcome histories for the adaptive read
// API and exports Prometheus series for operators. Recording is best-effort
// and never blocks the workflow path.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

// ringSize bounds how many recent outcomes each agent history retains.
const ringSize = 256

// outcome is one recorded agent invocation.
type outcome struct {
	success        bool
	errType        string
	duration       time.Duration
	confidence     float64
	fieldsComplete bool
	at             time.Time
}

// agentHistory is a fixed-size ring of recent outcomes.
type agentHistory struct {
	mu    sync.Mutex
	ring  [ringSize]outcome
	next  int
	count int
}

func (h *agentHistory) add(o outcome) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ring[h.next] = o
	h.next = (h.next + 1) % ringSize
	if h.count < ringSize {
		h.count++
	}
}

func (h *agentHistory) snapshot() []outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]outcome, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.ring[(h.next-h.count+i+ringSize)%ringSize]
	}
	return out
}

// ErrorCount is one entry of the top-errors report.
type ErrorCount struct {
	ErrType string `json:"error_type"`
	Count   int    `json:"count"`
}

// Recorder aggregates agent histories and Prometheus series.
type Recorder struct {
	mu           sync.RWMutex
	agents       map[string]*agentHistory
	satisfaction struct {
		up   int
		down int
	}

	registry      *prometheus.Registry
	requestsTotal *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	cacheEvents   *prometheus.CounterVec
	quotaWarnings prometheus.Counter
}

// NewRecorder builds a recorder with its own Prometheus registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		agents:   make(map[string]*agentHistory),
		registry: prometheus.NewRegistry(),
	}
	r.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lucid_requests_total",
		Help: "Analysis requests by terminal outcome kind.",
	}, []string{"kind"})
	r.stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lucid_stage_duration_seconds",
		Help:    "Wall time spent per workflow stage.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"stage"})
	r.cacheEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lucid_cache_events_total",
		Help: "Cache lookups by namespace and result.",
	}, []string{"namespace", "result"})
	r.quotaWarnings = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lucid_quota_warnings_total",
		Help: "Requests admitted past the 80% quota warning threshold.",
	})
	r.registry.MustRegister(r.requestsTotal, r.stageDuration, r.cacheEvents, r.quotaWarnings)
	return r
}

// Registry exposes the Prometheus registry for the /metrics handler.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) history(agent string) *agentHistory {
	r.mu.RLock()
	h, ok := r.agents[agent]
	r.mu.RUnlock()
	if ok {
		return h
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok = r.agents[agent]; ok {
		return h
	}
	h = &agentHistory{}
	r.agents[agent] = h
	return h
}

// RecordAgent stores one agent invocation outcome.
func (r *Recorder) RecordAgent(agent string, success bool, errType string, d time.Duration, confidence float64, fieldsComplete bool) {
	r.history(agent).add(outcome{
		success:        success,
		errType:        errType,
		duration:       d,
		confidence:     confidence,
		fieldsComplete: fieldsComplete,
		at:             time.Now(),
	})
}

// RecordRequest counts one finished request by its terminal kind.
func (r *Recorder) RecordRequest(kind string) {
	r.requestsTotal.WithLabelValues(kind).Inc()
}

// RecordStageDuration observes the wall time one stage took.
func (r *Recorder) RecordStageDuration(stage models.Stage, d time.Duration) {
	r.stageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
}

// RecordCacheEvent counts a cache hit or miss per namespace.
func (r *Recorder) RecordCacheEvent(namespace string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheEvents.WithLabelValues(namespace, result).Inc()
}

// RecordQuotaWarning counts an admission past the quota warning threshold.
func (r *Recorder) RecordQuotaWarning() {
	r.quotaWarnings.Inc()
}

// RecordSatisfaction stores one thumbs-up/down feedback event.
func (r *Recorder) RecordSatisfaction(thumbsUp bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if thumbsUp {
		r.satisfaction.up++
	} else {
		r.satisfaction.down++
	}
}

// SuccessRate returns the fraction of recent successful invocations for an
// agent, or 1 when nothing is recorded yet.
func (r *Recorder) SuccessRate(agent string) float64 {
	outcomes := r.history(agent).snapshot()
	if len(outcomes) == 0 {
		return 1
	}
	ok := 0
	for _, o := range outcomes {
		if o.success {
			ok++
		}
	}
	return float64(ok) / float64(len(outcomes))
}

// AvgLatencyMs returns the mean duration of recent invocations.
func (r *Recorder) AvgLatencyMs(agent string) float64 {
	outcomes := r.history(agent).snapshot()
	if len(outcomes) == 0 {
		return 0
	}
	var total time.Duration
	for _, o := range outcomes {
		total += o.duration
	}
	return float64(total.Milliseconds()) / float64(len(outcomes))
}

// TopErrors returns the most frequent recent error types for an agent.
func (r *Recorder) TopErrors(agent string, n int) []ErrorCount {
	counts := map[string]int{}
	for _, o := range r.history(agent).snapshot() {
		if !o.success && o.errType != "" {
			counts[o.errType]++
		}
	}
	out := make([]ErrorCount, 0, len(counts))
	for errType, count := range counts {
		out = append(out, ErrorCount{ErrType: errType, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ErrType < out[j].ErrType
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// WorstAgent returns the agent with the lowest recent success rate.
func (r *Recorder) WorstAgent() (string, float64) {
	r.mu.RLock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	r.mu.RUnlock()

	worst := ""
	worstRate := 2.0
	sort.Strings(names)
	for _, name := range names {
		if rate := r.SuccessRate(name); rate < worstRate {
			worst = name
			worstRate = rate
		}
	}
	if worst == "" {
		return "", 1
	}
	return worst, worstRate
}

// SatisfactionRate returns the thumbs-up fraction, or 1 with no feedback.
func (r *Recorder) SatisfactionRate() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := r.satisfaction.up + r.satisfaction.down
	if total == 0 {
		return 1
	}
	return float64(r.satisfaction.up) / float64(total)
}
