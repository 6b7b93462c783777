package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lucidata-ai/lucid-engine/pkg/apperrors"
	"github.com/lucidata-ai/lucid-engine/pkg/config"
	"github.com/lucidata-ai/lucid-engine/pkg/identity"
	"github.com/lucidata-ai/lucid-engine/pkg/metrics"
	"github.com/lucidata-ai/lucid-engine/pkg/models"
	"github.com/lucidata-ai/lucid-engine/pkg/ratelimit"
	"github.com/lucidata-ai/lucid-engine/pkg/store"
	"github.com/lucidata-ai/lucid-engine/pkg/stream"
	"github.com/lucidata-ai/lucid-engine/pkg/workflow"
)

const (
	maxQueryLen = 4000
	memoryTurns = 10

	// tokensPerCredit converts model token usage to billed credits.
	tokensPerCredit = 1000
)

// AnalyzeRequest is the analysis request body.
type AnalyzeRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversationId,omitempty"`
	DataSourceID   string `json:"dataSourceId,omitempty"`
	AnalysisMode   string `json:"analysisMode,omitempty"`
	Stream         bool   `json:"stream,omitempty"`
}

// AnalyzeResponse is the non-streaming success envelope.
type AnalyzeResponse struct {
	Success           bool                    `json:"success"`
	Query             string                  `json:"query"`
	Analysis          string                  `json:"analysis,omitempty"`
	EchartsConfig     *models.ChartConfig     `json:"echarts_config,omitempty"`
	Insights          []models.Insight        `json:"insights,omitempty"`
	Recommendations   []models.Recommendation `json:"recommendations,omitempty"`
	QueryResult       *models.QueryResult     `json:"query_result,omitempty"`
	ExecutionMetadata ExecutionSummary        `json:"execution_metadata"`
	Progress          models.Progress         `json:"progress"`
	AIEngine          string                  `json:"ai_engine"`
}

// ExecutionSummary is the envelope's run accounting block.
type ExecutionSummary struct {
	ExecutionTimeMs int64  `json:"executionTimeMs"`
	Status          string `json:"status"`
	Stage           string `json:"stage"`
}

// AnalyzeHandler admits, runs, and answers analysis requests.
type AnalyzeHandler struct {
	cfg      *config.Config
	resolver identity.Resolver
	limiter  *ratelimit.Limiter
	quota    *ratelimit.Quota
	orch     *workflow.Orchestrator
	store    store.Store
	recorder *metrics.Recorder
	aiEngine string
	logger   *zap.Logger
}

// NewAnalyzeHandler wires the analysis endpoint.
func NewAnalyzeHandler(
	cfg *config.Config,
	resolver identity.Resolver,
	limiter *ratelimit.Limiter,
	quota *ratelimit.Quota,
	orch *workflow.Orchestrator,
	st store.Store,
	recorder *metrics.Recorder,
	aiEngine string,
	logger *zap.Logger,
) *AnalyzeHandler {
	return &AnalyzeHandler{
		cfg:      cfg,
		resolver: resolver,
		limiter:  limiter,
		quota:    quota,
		orch:     orch,
		store:    st,
		recorder: recorder,
		aiEngine: aiEngine,
		logger:   logger.Named("handler.analyze"),
	}
}

// RegisterRoutes registers the analysis routes on the given mux.
func (h *AnalyzeHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/analyze", h.Analyze)
	mux.HandleFunc("/v1/feedback", h.Feedback)
}

// Analyze handles POST /v1/analyze.
func (h *AnalyzeHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		_ = ErrorResponse(w, apperrors.ErrValidation, "method not allowed")
		return
	}

	principal, err := h.authenticate(r)
	if err != nil {
		_ = ErrorResponse(w, apperrors.ErrUnauthorized, "invalid or missing bearer token")
		return
	}

	req, mode, kindErr, msg := h.parseRequest(r)
	if kindErr != nil {
		_ = ErrorResponse(w, kindErr, msg)
		return
	}

	tenant := &models.Tenant{ID: principal.TenantID, Plan: principal.Plan}

	// Deep analysis is gated on a paid plan.
	if mode == models.AnalysisModeDeep && tenant.EffectivePlan(time.Now()) == models.PlanFree {
		_ = ErrorResponse(w, apperrors.ErrQuotaExceeded, "deep analysis mode requires a paid plan")
		return
	}

	if !h.admit(w, r.Context(), principal, tenant) {
		return
	}

	state := h.buildState(r.Context(), req, mode, principal, tenant)

	if req.Stream && h.cfg.EnableStreaming {
		h.runStreaming(w, r, state, principal)
		return
	}
	h.runBuffered(w, r.Context(), state, principal)
}

// authenticate resolves the bearer token into a principal.
func (h *AnalyzeHandler) authenticate(r *http.Request) (*identity.Principal, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return nil, identity.ErrUnauthenticated
	}
	return h.resolver.Resolve(r.Context(), token)
}

// parseRequest decodes and validates the body.
func (h *AnalyzeHandler) parseRequest(r *http.Request) (*AnalyzeRequest, models.AnalysisMode, error, string) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, "", apperrors.ErrValidation, "request body is not valid JSON"
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, "", apperrors.ErrValidation, "query must not be empty"
	}
	if len(req.Query) > maxQueryLen {
		return nil, "", apperrors.ErrValidation, fmt.Sprintf("query exceeds %d characters", maxQueryLen)
	}

	mode := models.AnalysisMode(req.AnalysisMode)
	switch mode {
	case "":
		mode = models.AnalysisModeStandard
	case models.AnalysisModeStandard, models.AnalysisModeDeep:
	default:
		return nil, "", apperrors.ErrValidation, fmt.Sprintf("unknown analysis mode %q", req.AnalysisMode)
	}
	return &req, mode, nil, ""
}

// admit runs the rate and quota gates. Denials are written to the response
// and consume no credits.
func (h *AnalyzeHandler) admit(w http.ResponseWriter, ctx context.Context, principal *identity.Principal, tenant *models.Tenant) bool {
	identifier := principal.TenantID + ":" + principal.UserID
	res, err := h.limiter.Allow(ctx, identifier)
	if err != nil {
		h.logger.Warn("rate limiter unavailable, admitting", zap.Error(err))
	} else {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
		if !res.Allowed {
			retryAfter := int64(res.RetryAfter / time.Second)
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
			_ = WriteJSON(w, apperrors.HTTPStatus(apperrors.ErrThrottled), ErrorBody{
				Kind:          apperrors.Kind(apperrors.ErrThrottled),
				Message:       fmt.Sprintf("rate limit exceeded for the %s window", res.Window),
				RetryAfterSec: retryAfter,
			})
			return false
		}
	}

	quotaRes := h.quota.Check(ctx, tenant, models.UsageKindAIQuery, 1)
	if quotaRes.Warning {
		h.recorder.RecordQuotaWarning()
	}
	if !quotaRes.Allowed {
		_ = WriteJSON(w, apperrors.HTTPStatus(apperrors.ErrQuotaExceeded), ErrorBody{
			Kind: apperrors.Kind(apperrors.ErrQuotaExceeded),
			Message: fmt.Sprintf("monthly AI credit allowance exhausted (%d of %d used, %d remaining); upgrade your plan to continue",
				quotaRes.Used, quotaRes.Limit, max(quotaRes.Remaining, 0)),
		})
		return false
	}
	return true
}

// buildState assembles the workflow state for one admitted request.
func (h *AnalyzeHandler) buildState(ctx context.Context, req *AnalyzeRequest, mode models.AnalysisMode, principal *identity.Principal, tenant *models.Tenant) *models.WorkflowState {
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	var memory *models.ConversationMemory
	if req.ConversationID != "" {
		mem, err := h.store.Conversation(ctx, principal.TenantID, conversationID, memoryTurns)
		if err != nil {
			h.logger.Warn("conversation history unavailable", zap.Error(err))
		} else {
			memory = mem
		}
	}

	return &models.WorkflowState{
		RequestID:         uuid.NewString(),
		ConversationID:    conversationID,
		UserRef:           models.UserRef{ID: principal.UserID, Role: principal.Role},
		Tenant:            *tenant,
		Query:             req.Query,
		DataSourceID:      req.DataSourceID,
		AnalysisMode:      mode,
		Stage:             models.StageReceived,
		ExecutionMetadata: models.NewExecutionMetadata(time.Now()),
		Memory:            memory,
	}
}

// runStreaming forwards frames to the client while the run progresses.
func (h *AnalyzeHandler) runStreaming(w http.ResponseWriter, r *http.Request, state *models.WorkflowState, principal *identity.Principal) {
	session, runCtx := stream.NewSession(r.Context(), h.cfg.Workflow.EventBuffer)
	writer := stream.NegotiateWriter(w, r)
	w.Header().Set("Content-Type", writer.ContentType())
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	done := make(chan *models.WorkflowState, 1)
	go func() {
		final, _ := h.orch.Run(runCtx, state, session)
		done <- final
	}()

	// A client disconnect cancels the run.
	go func() {
		<-r.Context().Done()
		session.Cancel()
	}()

	for frame := range session.Frames() {
		if err := writer.WriteFrame(frame); err != nil {
			session.Cancel()
			break
		}
	}
	h.settle(<-done, principal)
}

// runBuffered executes the run to completion and answers with the envelope.
func (h *AnalyzeHandler) runBuffered(w http.ResponseWriter, ctx context.Context, state *models.WorkflowState, principal *identity.Principal) {
	final, cerr := h.orch.Run(ctx, state, nil)
	h.settle(final, principal)

	if cerr != nil {
		_ = WriteJSON(w, apperrors.HTTPStatus(apperrors.ErrAnalysisFailed), ErrorBody{
			Kind:            apperrors.Kind(apperrors.ErrAnalysisFailed),
			Message:         cerr.Message,
			ClassifiedError: cerr,
		})
		return
	}

	_ = WriteJSON(w, http.StatusOK, AnalyzeResponse{
		Success:         true,
		Query:           final.Query,
		Analysis:        final.Narration,
		EchartsConfig:   final.EchartsConfig,
		Insights:        final.Insights,
		Recommendations: final.Recommendations,
		QueryResult:     final.QueryResult,
		ExecutionMetadata: ExecutionSummary{
			ExecutionTimeMs: time.Since(final.ExecutionMetadata.StartedAt).Milliseconds(),
			Status:          "complete",
			Stage:           string(final.Stage),
		},
		Progress: final.Progress,
		AIEngine: h.aiEngine,
	})
}

// settle debits credits and persists the turn for completed runs. Failed and
// denied runs consume nothing.
func (h *AnalyzeHandler) settle(final *models.WorkflowState, principal *identity.Principal) {
	if final == nil || final.Stage == models.StageFailed {
		return
	}

	// Background context so a client disconnect cannot lose the debit.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	credits := final.ExecutionMetadata.TokensUsed / tokensPerCredit
	if credits < 1 {
		credits = 1
	}
	if err := h.quota.Consume(ctx, &final.Tenant, models.UsageKindAIQuery, credits); err != nil {
		h.logger.Error("credit debit failed", zap.String("tenantId", final.Tenant.ID), zap.Error(err))
	}
	if err := h.store.AppendUsage(ctx, models.UsageRecord{
		TenantID: final.Tenant.ID,
		UserID:   principal.UserID,
		Kind:     models.UsageKindAIQuery,
		Quantity: credits,
		At:       time.Now(),
	}); err != nil {
		h.logger.Error("usage record write failed", zap.Error(err))
	}
	if err := h.store.SaveTurn(ctx, final.Tenant.ID, final.ConversationID, models.ConversationTurn{
		Query:    final.Query,
		SQLQuery: final.SQLQuery,
		Answer:   final.Narration,
		At:       time.Now(),
	}); err != nil {
		h.logger.Error("conversation turn write failed", zap.Error(err))
	}
}

// feedbackRequest is the thumbs event body.
type feedbackRequest struct {
	RequestID string `json:"requestId"`
	ThumbsUp  bool   `json:"thumbsUp"`
}

// Feedback handles POST /v1/feedback thumbs events.
func (h *AnalyzeHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		_ = ErrorResponse(w, apperrors.ErrValidation, "method not allowed")
		return
	}
	if _, err := h.authenticate(r); err != nil {
		_ = ErrorResponse(w, apperrors.ErrUnauthorized, "invalid or missing bearer token")
		return
	}
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, apperrors.ErrValidation, "request body is not valid JSON")
		return
	}
	h.recorder.RecordSatisfaction(req.ThumbsUp)
	_ = WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
