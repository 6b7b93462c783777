package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

// sampleRowsChecked bounds the row-shape consistency check.
const sampleRowsChecked = 10

// ResultsValidator checks that execution produced a well-formed row set
// before downstream agents consume it.
type ResultsValidator struct {
	logger *zap.Logger
}

// NewResultsValidator builds the results validation agent.
func NewResultsValidator(logger *zap.Logger) *ResultsValidator {
	return &ResultsValidator{logger: logger.Named("agent.resultsvalidator")}
}

func (a *ResultsValidator) Name() string { return "results_validator" }

func (a *ResultsValidator) Run(_ context.Context, state *models.WorkflowState) (*models.WorkflowState, *models.ClassifiedError) {
	result := state.QueryResult
	if result == nil {
		return nil, &models.ClassifiedError{
			Category:       models.ErrorCategorySQLExecution,
			Subtype:        "missing_result",
			Severity:       models.SeverityHigh,
			Recoverability: models.RecoverRetry,
			Message:        "execution finished without a result set",
			Confidence:     0.9,
		}
	}

	// Empty results are allowed; downstream stages skip charting.
	if result.RowCount == 0 {
		a.logger.Debug("empty result set", zap.String("requestId", state.RequestID))
		state.Stage = models.StageResultsValidated
		state.SetProgress(ProgressResultsValid, "results validated (no rows)")
		return state, nil
	}

	// The first rows must share one key set.
	reference := rowKeys(result.Rows[0])
	limit := sampleRowsChecked
	if len(result.Rows) < limit {
		limit = len(result.Rows)
	}
	for i := 1; i < limit; i++ {
		if keys := rowKeys(result.Rows[i]); keys != reference {
			return nil, &models.ClassifiedError{
				Category:       models.ErrorCategorySQLExecution,
				Subtype:        "inconsistent_rows",
				Severity:       models.SeverityHigh,
				Recoverability: models.RecoverRetry,
				Message:        fmt.Sprintf("row %d has columns %s, expected %s", i, keys, reference),
				Confidence:     0.9,
			}
		}
	}

	state.Stage = models.StageResultsValidated
	state.SetProgress(ProgressResultsValid, "results validated")
	return state, nil
}

func rowKeys(row map[string]any) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}
