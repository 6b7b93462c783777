package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucidata-ai/lucid-engine/pkg/cache"
	"github.com/lucidata-ai/lucid-engine/pkg/logging"
	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

// ExecuteRequest is one query execution against a registered data source.
type ExecuteRequest struct {
	SQL          string
	DataSourceID string
	TimeoutSec   int
	MaxRows      int
	SkipCache    bool
}

// ExecuteResult is the outcome of a successful execution.
type ExecuteResult struct {
	Result     *models.QueryResult
	DurationMs int64
	CacheHit   bool
}

// Executor runs validated SELECT statements: read-only guard, cooperative
// timeout, row cap, and result caching keyed on normalized SQL.
type Executor struct {
	registry *Registry
	cache    *cache.Layered
	logger   *zap.Logger

	defaultTimeoutSec int
	defaultMaxRows    int
}

// NewExecutor wires an executor over the backend registry.
func NewExecutor(registry *Registry, c *cache.Layered, defaultTimeoutSec, defaultMaxRows int, logger *zap.Logger) *Executor {
	return &Executor{
		registry:          registry,
		cache:             c,
		logger:            logger.Named("executor"),
		defaultTimeoutSec: defaultTimeoutSec,
		defaultMaxRows:    defaultMaxRows,
	}
}

// Execute runs req and returns materialized rows or a classified failure.
func (e *Executor) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, *models.ClassifiedError) {
	sql := strings.TrimSpace(req.SQL)
	if !strings.HasPrefix(strings.ToUpper(sql), "SELECT") {
		return nil, &models.ClassifiedError{
			Category:       models.ErrorCategorySQLValidation,
			Subtype:        "not_select",
			Severity:       models.SeverityCritical,
			Recoverability: models.RecoverNone,
			Message:        "executor accepts SELECT statements only",
			Confidence:     1.0,
		}
	}

	if !req.SkipCache {
		if raw, ok := e.cache.GetQueryResult(ctx, req.DataSourceID, sql); ok {
			var cached models.QueryResult
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return &ExecuteResult{Result: &cached, CacheHit: true}, nil
			}
			// Unreadable entries are dropped rather than served.
			e.cache.Delete(ctx, cache.QueryKey(req.DataSourceID, sql))
		}
	}

	ds, backend, err := e.registry.Resolve(ctx, req.DataSourceID)
	if err != nil {
		return nil, classifyResolveError(err)
	}

	timeout := time.Duration(req.TimeoutSec) * time.Second
	if req.TimeoutSec <= 0 {
		timeout = time.Duration(e.defaultTimeoutSec) * time.Second
	}
	maxRows := req.MaxRows
	if maxRows <= 0 {
		maxRows = e.defaultMaxRows
	}

	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	raw, err := backend.Query(queryCtx, sql, maxRows)
	duration := time.Since(start)
	if err != nil {
		e.logger.Warn("query failed",
			zap.String("dataSourceId", req.DataSourceID),
			zap.String("kind", string(ds.Kind)),
			zap.String("query", logging.SanitizeQuery(sql)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, classifyQueryError(err, queryCtx)
	}

	result := &models.QueryResult{
		Rows:      raw.Rows,
		RowCount:  len(raw.Rows),
		Columns:   raw.Columns,
		Truncated: raw.Truncated,
	}
	if !req.SkipCache {
		if encoded, err := json.Marshal(result); err == nil {
			e.cache.SetQueryResult(ctx, req.DataSourceID, sql, string(encoded))
		}
	}

	e.logger.Debug("query executed",
		zap.String("dataSourceId", req.DataSourceID),
		zap.Int("rowCount", result.RowCount),
		zap.Bool("truncated", result.Truncated),
		zap.Int64("durationMs", duration.Milliseconds()))

	return &ExecuteResult{Result: result, DurationMs: duration.Milliseconds()}, nil
}

func classifyResolveError(err error) *models.ClassifiedError {
	var notFound *ErrNotFound
	var unsupported *UnsupportedKindError
	switch {
	case errors.As(err, &notFound):
		return &models.ClassifiedError{
			Category:       models.ErrorCategoryConnection,
			Subtype:        "not_found",
			Severity:       models.SeverityCritical,
			Recoverability: models.RecoverNone,
			Message:        err.Error(),
			Confidence:     1.0,
		}
	case errors.As(err, &unsupported):
		return &models.ClassifiedError{
			Category:       models.ErrorCategoryConnection,
			Subtype:        "unsupported_kind",
			Severity:       models.SeverityCritical,
			Recoverability: models.RecoverNone,
			Message:        err.Error(),
			Confidence:     1.0,
		}
	default:
		return &models.ClassifiedError{
			Category:       models.ErrorCategoryConnection,
			Subtype:        "connect_failed",
			Severity:       models.SeverityHigh,
			Recoverability: models.RecoverRetry,
			Message:        logging.SanitizeError(err),
			Confidence:     0.8,
		}
	}
}

func classifyQueryError(err error, queryCtx context.Context) *models.ClassifiedError {
	if queryCtx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return &models.ClassifiedError{
			Category:       models.ErrorCategoryTimeout,
			Subtype:        "query_timeout",
			Severity:       models.SeverityHigh,
			Recoverability: models.RecoverRetry,
			Message:        "query exceeded its time budget",
			SuggestedFix:   "narrow the date range or add filters to reduce the scanned data",
			Confidence:     0.9,
		}
	}
	return &models.ClassifiedError{
		Category:       models.ErrorCategorySQLExecution,
		Subtype:        "execution_failed",
		Severity:       models.SeverityHigh,
		Recoverability: models.RecoverRetry,
		Message:        logging.SanitizeError(err),
		Confidence:     0.7,
	}
}
