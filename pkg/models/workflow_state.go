package models

import (
	"time"
)

// AnalysisMode selects how aggressively the workflow bounds its work.
type AnalysisMode string

const (
	// AnalysisModeStandard caps result sizes and injects LIMIT clauses.
	AnalysisModeStandard AnalysisMode = "standard"
	// AnalysisModeDeep runs without the standard-mode row cap.
	AnalysisModeDeep AnalysisMode = "deep"
)

// RoutingDecision is the router agent's choice of primary agent and strategy.
type RoutingDecision struct {
	PrimaryAgent string  `json:"primary_agent"`
	Strategy     string  `json:"strategy"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning,omitempty"`
}

// Progress reports how far a workflow run has advanced.
// Percentage is non-decreasing within a single run.
type Progress struct {
	Percentage int    `json:"percentage"`
	Message    string `json:"message"`
	Stage      Stage  `json:"stage"`
}

// QueryResult holds the materialized rows from a datasource query.
type QueryResult struct {
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	Columns   []ColumnInfo     `json:"columns"`
	Truncated bool             `json:"truncated,omitempty"`
}

// ColumnInfo describes a result column with database-agnostic type information.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"` // normalized: numeric, boolean, timestamp, string
}

// ChartConfig is an ECharts-compatible chart configuration.
type ChartConfig struct {
	Type    string           `json:"type"` // bar, line, pie, scatter
	Title   map[string]any   `json:"title,omitempty"`
	XAxis   map[string]any   `json:"xAxis,omitempty"`
	YAxis   map[string]any   `json:"yAxis,omitempty"`
	Series  []map[string]any `json:"series"`
	Tooltip map[string]any   `json:"tooltip,omitempty"`
	Legend  map[string]any   `json:"legend,omitempty"`
}

// Insight is a single observation derived from query results.
type Insight struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Confidence  *float64 `json:"confidence,omitempty"`
}

// Recommendation is a suggested action derived from query results.
type Recommendation struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Confidence  *float64 `json:"confidence,omitempty"`
}

// ExecutionMetadata tracks timing and retry accounting for one run.
type ExecutionMetadata struct {
	StartedAt  time.Time       `json:"started_at"`
	PerStageMs map[Stage]int64 `json:"per_stage_ms"`
	Retries    map[Stage]int   `json:"retries"`

	// TokensUsed accumulates prompt plus completion tokens across every
	// model call of the run. Credits are debited from it on completion.
	TokensUsed int64 `json:"tokens_used"`
}

// NewExecutionMetadata returns initialized metadata for a run starting now.
func NewExecutionMetadata(now time.Time) ExecutionMetadata {
	return ExecutionMetadata{
		StartedAt:  now,
		PerStageMs: make(map[Stage]int64),
		Retries:    make(map[Stage]int),
	}
}

// ConversationMemory is a read-only reference to prior conversation turns,
// owned by the external persistence collaborator.
type ConversationMemory struct {
	ConversationID string             `json:"conversation_id"`
	Turns          []ConversationTurn `json:"turns,omitempty"`
}

// ConversationTurn is one prior exchange in a conversation.
type ConversationTurn struct {
	Query    string    `json:"query"`
	SQLQuery string    `json:"sql_query,omitempty"`
	Answer   string    `json:"answer,omitempty"`
	At       time.Time `json:"at"`
}

// WorkflowState is the single mutable record passed between agents for the
// duration of one orchestration run. It is created on request admission and
// discarded after its terminal event is written.
//
// Invariants the orchestrator enforces:
//   - Stage advances only along Stage.CanTransitionTo edges.
//   - Progress.Percentage never decreases.
//   - EchartsConfig and Insights require QueryResult.RowCount > 0 unless the
//     run took the conversational branch (no DataSourceID).
//   - SQLQuery has passed validation before QueryResult is assigned.
//   - CriticalFailure forbids further recovery transitions.
type WorkflowState struct {
	RequestID      string  `json:"request_id"`
	ConversationID string  `json:"conversation_id"`
	UserRef        UserRef `json:"user_ref"`
	Tenant         Tenant  `json:"tenant"`

	Query        string       `json:"query"`
	DataSourceID string       `json:"data_source_id,omitempty"`
	AnalysisMode AnalysisMode `json:"analysis_mode"`

	Stage           Stage            `json:"stage"`
	RoutingDecision *RoutingDecision `json:"routing_decision,omitempty"`
	SQLQuery        string           `json:"sql_query,omitempty"`
	QueryResult     *QueryResult     `json:"query_result,omitempty"`
	EchartsConfig   *ChartConfig     `json:"echarts_config,omitempty"`
	Insights        []Insight        `json:"insights,omitempty"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
	Narration       string           `json:"narration,omitempty"`

	Progress        Progress         `json:"progress"`
	Error           *ClassifiedError `json:"error,omitempty"`
	CriticalFailure bool             `json:"critical_failure,omitempty"`

	ExecutionMetadata ExecutionMetadata   `json:"execution_metadata"`
	Memory            *ConversationMemory `json:"-"`
}

// Clone returns a shallow copy of the state with fresh copies of the mutable
// bookkeeping maps, so an agent can be handed a state it may modify without
// aliasing the orchestrator's copy.
func (s *WorkflowState) Clone() *WorkflowState {
	out := *s
	out.ExecutionMetadata.PerStageMs = make(map[Stage]int64, len(s.ExecutionMetadata.PerStageMs))
	for k, v := range s.ExecutionMetadata.PerStageMs {
		out.ExecutionMetadata.PerStageMs[k] = v
	}
	out.ExecutionMetadata.Retries = make(map[Stage]int, len(s.ExecutionMetadata.Retries))
	for k, v := range s.ExecutionMetadata.Retries {
		out.ExecutionMetadata.Retries[k] = v
	}
	return &out
}

// IsConversational returns true when the run has no data source attached and
// therefore takes the supervisor conversational branch.
func (s *WorkflowState) IsConversational() bool {
	return s.DataSourceID == ""
}

// SetProgress updates progress, clamping so the percentage never decreases.
func (s *WorkflowState) SetProgress(percentage int, message string) {
	if percentage < s.Progress.Percentage {
		percentage = s.Progress.Percentage
	}
	if percentage > 100 {
		percentage = 100
	}
	s.Progress = Progress{Percentage: percentage, Message: message, Stage: s.Stage}
}

// HasRows reports whether the run produced at least one result row.
func (s *WorkflowState) HasRows() bool {
	return s.QueryResult != nil && s.QueryResult.RowCount > 0
}
