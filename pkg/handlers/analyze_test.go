package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lucidata-ai/lucid-engine/pkg/agents"
	"github.com/lucidata-ai/lucid-engine/pkg/config"
	"github.com/lucidata-ai/lucid-engine/pkg/identity"
	"github.com/lucidata-ai/lucid-engine/pkg/llm"
	"github.com/lucidata-ai/lucid-engine/pkg/metrics"
	"github.com/lucidata-ai/lucid-engine/pkg/models"
	"github.com/lucidata-ai/lucid-engine/pkg/ratelimit"
	"github.com/lucidata-ai/lucid-engine/pkg/recovery"
	"github.com/lucidata-ai/lucid-engine/pkg/store"
	"github.com/lucidata-ai/lucid-engine/pkg/workflow"
)

type handlerFixture struct {
	handler *AnalyzeHandler
	store   *store.MemoryStore
}

func newFixture(t *testing.T, rateCfg config.RateLimitConfig, credits config.PlanCreditsConfig) *handlerFixture {
	t.Helper()
	logger := zap.NewNop()
	cfg := &config.Config{EnableStreaming: true}
	cfg.Workflow.EventBuffer = 64

	resolver := identity.NewStaticResolver(map[string]*identity.Principal{
		"pro-token":  {UserID: "user-1", TenantID: "org-1", Role: models.RoleAnalyst, Plan: models.PlanPro},
		"free-token": {UserID: "user-2", TenantID: "org-2", Role: models.RoleViewer, Plan: models.PlanFree},
	})

	// The mock answers the conversational branch; the data path is covered
	// by the workflow tests, so every slot can share the router.
	mock := llm.NewMockClient("Connect a data source to start analyzing your warehouse.")
	router := agents.NewRouter(mock, logger)
	ag := workflow.Agents{
		Router:           router,
		NL2SQL:           router,
		SQLValidator:     router,
		Executor:         router,
		ResultsValidator: router,
		Chart:            router,
		Insights:         router,
		Narrator:         router,
	}
	recorder := metrics.NewRecorder()
	orch := workflow.New(ag, recovery.NewPlanner(2), recorder, 0, logger)

	st := store.NewMemoryStore()
	handler := NewAnalyzeHandler(
		cfg,
		resolver,
		ratelimit.NewLimiter(nil, &rateCfg, nil, logger),
		ratelimit.NewQuota(nil, &credits, nil, logger),
		orch,
		st,
		recorder,
		"mock",
		logger,
	)
	return &handlerFixture{handler: handler, store: st}
}

func defaultRate() config.RateLimitConfig {
	return config.RateLimitConfig{RequestsPerMinute: 60, RequestsPerHour: 1000, RequestsPerDay: 10000, Burst: 100}
}

func defaultCredits() config.PlanCreditsConfig {
	return config.PlanCreditsConfig{Free: 10, Pro: 1000, Team: 10000, Enterprise: -1}
}

func analyzeRequest(t *testing.T, token string, body any) *http.Request {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/analyze", bytes.NewReader(payload))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestAnalyzeRejectsMissingToken(t *testing.T) {
	f := newFixture(t, defaultRate(), defaultCredits())

	rec := httptest.NewRecorder()
	f.handler.Analyze(rec, analyzeRequest(t, "", AnalyzeRequest{Query: "hello"}))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Kind)
}

func TestAnalyzeRejectsEmptyQuery(t *testing.T) {
	f := newFixture(t, defaultRate(), defaultCredits())

	rec := httptest.NewRecorder()
	f.handler.Analyze(rec, analyzeRequest(t, "pro-token", AnalyzeRequest{Query: "   "}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Kind)
	assert.Empty(t, f.store.UsageRecords())
}

func TestAnalyzeRejectsUnknownMode(t *testing.T) {
	f := newFixture(t, defaultRate(), defaultCredits())

	rec := httptest.NewRecorder()
	f.handler.Analyze(rec, analyzeRequest(t, "pro-token", AnalyzeRequest{Query: "q", AnalysisMode: "turbo"}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeGatesDeepModeByPlan(t *testing.T) {
	f := newFixture(t, defaultRate(), defaultCredits())

	rec := httptest.NewRecorder()
	f.handler.Analyze(rec, analyzeRequest(t, "free-token", AnalyzeRequest{Query: "q", AnalysisMode: "deep"}))

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Empty(t, f.store.UsageRecords())
}

func TestAnalyzeThrottlesAndWritesNoUsage(t *testing.T) {
	rate := defaultRate()
	rate.RequestsPerMinute = 1
	rate.Burst = 1
	f := newFixture(t, rate, defaultCredits())

	first := httptest.NewRecorder()
	f.handler.Analyze(first, analyzeRequest(t, "pro-token", AnalyzeRequest{Query: "hi"}))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	f.handler.Analyze(second, analyzeRequest(t, "pro-token", AnalyzeRequest{Query: "hi again"}))

	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "throttled", decodeError(t, second).Kind)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

	// Only the admitted request consumed credits.
	assert.Len(t, f.store.UsageRecords(), 1)
}

func TestAnalyzeQuotaExceededWritesNoUsage(t *testing.T) {
	credits := defaultCredits()
	credits.Free = 0
	f := newFixture(t, defaultRate(), credits)

	rec := httptest.NewRecorder()
	f.handler.Analyze(rec, analyzeRequest(t, "free-token", AnalyzeRequest{Query: "hi"}))

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "quota_exceeded", decodeError(t, rec).Kind)
	assert.Empty(t, f.store.UsageRecords())
}

func TestAnalyzeConversationalEnvelope(t *testing.T) {
	f := newFixture(t, defaultRate(), defaultCredits())

	rec := httptest.NewRecorder()
	f.handler.Analyze(rec, analyzeRequest(t, "pro-token", AnalyzeRequest{Query: "how do I connect?"}))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "how do I connect?", resp.Query)
	assert.Contains(t, resp.Analysis, "data source")
	assert.Equal(t, "mock", resp.AIEngine)
	assert.Equal(t, 100, resp.Progress.Percentage)

	// The completed run debited credits and saved the turn.
	records := f.store.UsageRecords()
	require.Len(t, records, 1)
	assert.Equal(t, int64(1), records[0].Quantity)
	assert.Equal(t, "org-1", records[0].TenantID)
}

func TestAnalyzeStreamingSSE(t *testing.T) {
	f := newFixture(t, defaultRate(), defaultCredits())

	req := analyzeRequest(t, "pro-token", AnalyzeRequest{Query: "hello", Stream: true})
	req.Header.Set("Accept", "text/event-stream")
	rec := httptest.NewRecorder()
	f.handler.Analyze(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "event: start")
	assert.Contains(t, body, "event: complete")
	assert.Equal(t, 1, strings.Count(body, "event: complete"))
}

func TestFeedbackRecordsSatisfaction(t *testing.T) {
	f := newFixture(t, defaultRate(), defaultCredits())

	payload, _ := json.Marshal(feedbackRequest{RequestID: "req-1", ThumbsUp: true})
	req := httptest.NewRequest(http.MethodPost, "/v1/feedback", bytes.NewReader(payload))
	req.Header.Set("Authorization", "Bearer pro-token")
	rec := httptest.NewRecorder()
	f.handler.Feedback(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, f.handler.recorder.SatisfactionRate())
}
