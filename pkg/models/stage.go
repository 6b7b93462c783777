package models

// Stage represents a discrete state in the analysis workflow state machine.
// State machine (happy path):
//
//	received → routed_to_nl2sql → sql_generated → sql_validated
//	         → query_executing → query_executed → results_validated
//	         → chart_generated → insights_generated → complete
//
// Recovery edges (retry-capped, driven by the recovery planner):
//
//	sql_generated | sql_validated | query_executing → sql_generated
//
// Any state can transition to: failed
type Stage string

const (
	StageReceived          Stage = "received"
	StageRoutedToNL2SQL    Stage = "routed_to_nl2sql"
	StageRoutedToChart     Stage = "routed_to_chart"
	StageRoutedToInsights  Stage = "routed_to_insights"
	StageSQLGenerated      Stage = "sql_generated"
	StageSQLValidated      Stage = "sql_validated"
	StageQueryExecuting    Stage = "query_executing"
	StageQueryExecuted     Stage = "query_executed"
	StageResultsValidated  Stage = "results_validated"
	StageChartGenerated    Stage = "chart_generated"
	StageInsightsGenerated Stage = "insights_generated"
	StageComplete          Stage = "complete"
	StageFailed            Stage = "failed"

	// StageSupervisorConversational marks a run that completed in the
	// conversational branch (no data source attached).
	StageSupervisorConversational Stage = "supervisor_conversational_complete"
)

// ValidStages contains all valid stage values.
var ValidStages = []Stage{
	StageReceived,
	StageRoutedToNL2SQL,
	StageRoutedToChart,
	StageRoutedToInsights,
	StageSQLGenerated,
	StageSQLValidated,
	StageQueryExecuting,
	StageQueryExecuted,
	StageResultsValidated,
	StageChartGenerated,
	StageInsightsGenerated,
	StageComplete,
	StageFailed,
	StageSupervisorConversational,
}

// IsValidStage checks if the given stage is valid.
func IsValidStage(s Stage) bool {
	for _, v := range ValidStages {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the stage is a terminal state.
func (s Stage) IsTerminal() bool {
	return s == StageComplete || s == StageFailed || s == StageSupervisorConversational
}

// CanTransitionTo returns true if transitioning from this stage to the target
// is valid. Recovery back-edges re-enter sql_generated so the regenerated SQL
// always passes validation again before execution.
func (s Stage) CanTransitionTo(target Stage) bool {
	// Any non-terminal state can fail.
	if target == StageFailed {
		return !s.IsTerminal()
	}

	switch s {
	case StageReceived:
		return target == StageRoutedToNL2SQL ||
			target == StageRoutedToChart ||
			target == StageRoutedToInsights ||
			target == StageSupervisorConversational
	case StageRoutedToNL2SQL, StageRoutedToChart, StageRoutedToInsights:
		return target == StageSQLGenerated
	case StageSQLGenerated:
		return target == StageSQLValidated || target == StageSQLGenerated
	case StageSQLValidated:
		return target == StageQueryExecuting || target == StageSQLGenerated
	case StageQueryExecuting:
		return target == StageQueryExecuted || target == StageSQLGenerated
	case StageQueryExecuted:
		return target == StageResultsValidated
	case StageResultsValidated:
		return target == StageChartGenerated
	case StageChartGenerated:
		return target == StageInsightsGenerated
	case StageInsightsGenerated:
		return target == StageComplete
	case StageComplete, StageFailed, StageSupervisorConversational:
		return false // Terminal states
	default:
		return false
	}
}

// WritableFields returns the WorkflowState field names an agent running at
// this stage is allowed to modify, beyond the always-writable bookkeeping
// fields (stage, progress, error, execution metadata). The orchestrator
// rejects transitions whose diff touches anything else.
func (s Stage) WritableFields() []string {
	switch s {
	case StageReceived:
		return []string{"routingDecision", "narration"}
	case StageRoutedToNL2SQL, StageRoutedToChart, StageRoutedToInsights:
		return []string{"sqlQuery"}
	case StageSQLGenerated:
		return []string{"sqlQuery"}
	case StageSQLValidated:
		return []string{"queryResult"}
	case StageQueryExecuting:
		return []string{"queryResult"}
	case StageQueryExecuted:
		return nil
	case StageResultsValidated:
		return []string{"echartsConfig"}
	case StageChartGenerated:
		return []string{"insights", "recommendations"}
	case StageInsightsGenerated:
		return []string{"narration"}
	default:
		return nil
	}
}
