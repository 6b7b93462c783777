package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lucidata-ai/lucid-engine/pkg/metrics"
)

// MetricsHandler exposes the Prometheus scrape endpoint and an operator
// summary built from the recorder's read API.
type MetricsHandler struct {
	recorder *metrics.Recorder
}

// NewMetricsHandler wires the metrics endpoints.
func NewMetricsHandler(recorder *metrics.Recorder) *MetricsHandler {
	return &MetricsHandler{recorder: recorder}
}

// RegisterRoutes registers the metrics routes on the given mux.
func (h *MetricsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(h.recorder.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/v1/stats", h.Stats)
}

// agentStats is one agent's aggregate block in the summary.
type agentStats struct {
	SuccessRate  float64              `json:"success_rate"`
	AvgLatencyMs float64              `json:"avg_latency_ms"`
	TopErrors    []metrics.ErrorCount `json:"top_errors,omitempty"`
}

// statsResponse is the operator summary payload.
type statsResponse struct {
	Agents           map[string]agentStats `json:"agents"`
	WorstAgent       string                `json:"worst_agent,omitempty"`
	SatisfactionRate float64               `json:"satisfaction_rate"`
}

// trackedAgents are the workflow agents reported in the summary.
var trackedAgents = []string{
	"router", "nl2sql", "sql_validator", "query_executor",
	"results_validator", "chart", "insights", "narrator",
}

// Stats handles GET /v1/stats.
func (h *MetricsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Agents:           make(map[string]agentStats, len(trackedAgents)),
		SatisfactionRate: h.recorder.SatisfactionRate(),
	}
	for _, name := range trackedAgents {
		resp.Agents[name] = agentStats{
			SuccessRate:  h.recorder.SuccessRate(name),
			AvgLatencyMs: h.recorder.AvgLatencyMs(name),
			TopErrors:    h.recorder.TopErrors(name, 3),
		}
	}
	resp.WorstAgent, _ = h.recorder.WorstAgent()
	_ = WriteJSON(w, http.StatusOK, resp)
}
