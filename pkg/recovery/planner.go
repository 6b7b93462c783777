package recovery

import (
	"strings"

	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

// Action is what the orchestrator should do with a failed stage.
type Action string

const (
	// ActionAutoFix applies a deterministic rewrite and re-enters validation.
	ActionAutoFix Action = "auto_fix"
	// ActionRetry re-enters the generating stage with a fix hint.
	ActionRetry Action = "retry"
	// ActionFail terminates the run.
	ActionFail Action = "fail"
)

// Plan is the planner's decision for one classified failure.
type Plan struct {
	Action      Action
	TargetStage models.Stage
	FixHint     string
	Critical    bool
}

// Planner decides recovery edges under a per-stage retry budget.
type Planner struct {
	retryBudget int
}

// NewPlanner builds a planner with the configured per-stage retry cap.
func NewPlanner(retryBudget int) *Planner {
	return &Planner{retryBudget: retryBudget}
}

// retryableStages are the stages with a recovery edge back to sql_generated.
var retryableStages = map[models.Stage]bool{
	models.StageSQLGenerated:   true,
	models.StageSQLValidated:   true,
	models.StageQueryExecuting: true,
}

// Decide maps a classified failure at the given stage onto a recovery edge.
// It mutates state.ExecutionMetadata.Retries when it chooses a retry.
func (p *Planner) Decide(cerr *models.ClassifiedError, state *models.WorkflowState) Plan {
	if state.CriticalFailure {
		return Plan{Action: ActionFail, TargetStage: models.StageFailed, Critical: true}
	}

	switch cerr.Recoverability {
	case models.RecoverAutomatic:
		if retryableStages[state.Stage] {
			return Plan{
				Action:      ActionAutoFix,
				TargetStage: models.StageSQLGenerated,
				FixHint:     cerr.SuggestedFix,
			}
		}
		// No automatic fix applies outside the SQL stages; degrade to retry.
		fallthrough
	case models.RecoverRetry:
		if !retryableStages[state.Stage] {
			return Plan{Action: ActionFail, TargetStage: models.StageFailed, Critical: true}
		}
		used := state.ExecutionMetadata.Retries[state.Stage]
		if used >= p.retryBudget {
			// Budget exhausted escalates to manual.
			return Plan{Action: ActionFail, TargetStage: models.StageFailed, Critical: true}
		}
		state.ExecutionMetadata.Retries[state.Stage] = used + 1
		return Plan{
			Action:      ActionRetry,
			TargetStage: models.StageSQLGenerated,
			FixHint:     retryHint(cerr),
		}
	default:
		return Plan{Action: ActionFail, TargetStage: models.StageFailed, Critical: true}
	}
}

func retryHint(cerr *models.ClassifiedError) string {
	var parts []string
	if cerr.SuggestedFix != "" {
		parts = append(parts, cerr.SuggestedFix)
	}
	if cerr.Message != "" {
		parts = append(parts, "previous attempt failed with: "+cerr.Message)
	}
	return strings.Join(parts, ". ")
}
