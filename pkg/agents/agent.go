// Package agents implements the workflow stages as pure transformations
// over the shared workflow state. Each agent writes only the fields its
// stage permits; the orchestrator enforces the allow-list.
package agents

import (
	"context"

	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

// Agent is one node of the analysis workflow.
type Agent interface {
	Name() string
	Run(ctx context.Context, state *models.WorkflowState) (*models.WorkflowState, *models.ClassifiedError)
}

// Progress milestones per stage.
const (
	ProgressSQLValidated  = 30
	ProgressQueryExecuted = 50
	ProgressResultsValid  = 60
	ProgressChartDone     = 80
	ProgressInsightsDone  = 95
	ProgressComplete      = 100
)

func llmFailure(subtype, message string) *models.ClassifiedError {
	return &models.ClassifiedError{
		Category:       models.ErrorCategoryLLM,
		Subtype:        subtype,
		Severity:       models.SeverityHigh,
		Recoverability: models.RecoverRetry,
		Message:        message,
		Confidence:     0.8,
	}
}
