package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lucidata-ai/lucid-engine/pkg/agents"
	"github.com/lucidata-ai/lucid-engine/pkg/datasource"
	"github.com/lucidata-ai/lucid-engine/pkg/llm"
	"github.com/lucidata-ai/lucid-engine/pkg/metrics"
	"github.com/lucidata-ai/lucid-engine/pkg/models"
	"github.com/lucidata-ai/lucid-engine/pkg/recovery"
	"github.com/lucidata-ai/lucid-engine/pkg/sqltrans"
	"github.com/lucidata-ai/lucid-engine/pkg/stream"
)

const (
	routerJSON   = `{"primaryAgent": "nl2sql", "strategy": "sequential", "confidence": 0.9, "reasoning": "aggregation"}`
	insightsJSON = `{"insights": [{"title": "West leads", "description": "West drives most revenue."}], "recommendations": [{"title": "Focus east", "description": "East has headroom."}]}`
)

type fakeSchemas struct{ schema *models.DatabaseSchema }

func (f *fakeSchemas) Get(context.Context, string) (*models.DatabaseSchema, error) {
	return f.schema, nil
}

type fakeRunner struct {
	mu     sync.Mutex
	sqls   []string
	result *datasource.ExecuteResult
	cerr   *models.ClassifiedError
}

func (f *fakeRunner) Execute(_ context.Context, req datasource.ExecuteRequest) (*datasource.ExecuteResult, *models.ClassifiedError) {
	f.mu.Lock()
	f.sqls = append(f.sqls, req.SQL)
	f.mu.Unlock()
	return f.result, f.cerr
}

func ordersSchema() *models.DatabaseSchema {
	return &models.DatabaseSchema{
		DataSourceID: "ds-1",
		Dialect:      models.DialectPostgres,
		Tables: []models.TableSchema{{
			Name: "orders",
			Columns: []models.ColumnSchema{
				{Name: "id", Type: "numeric", PrimaryKey: true},
				{Name: "region", Type: "string"},
				{Name: "revenue", Type: "numeric"},
			},
		}},
	}
}

func regionResult() *datasource.ExecuteResult {
	return &datasource.ExecuteResult{
		Result: &models.QueryResult{
			Rows: []map[string]any{
				{"region": "west", "revenue": int64(100)},
				{"region": "east", "revenue": int64(40)},
			},
			RowCount: 2,
			Columns: []models.ColumnInfo{
				{Name: "region", Type: "string"},
				{Name: "revenue", Type: "numeric"},
			},
		},
	}
}

func standardDialect(context.Context, string) (models.Dialect, error) {
	return models.DialectStandard, nil
}

func newOrchestrator(mock llm.Client, runner agents.QueryRunner) *Orchestrator {
	logger := zap.NewNop()
	ag := Agents{
		Router:           agents.NewRouter(mock, logger),
		NL2SQL:           agents.NewNL2SQL(mock, &fakeSchemas{schema: ordersSchema()}, standardDialect, 4000, logger),
		SQLValidator:     agents.NewSQLValidator(logger),
		Executor:         agents.NewExecutor(runner, sqltrans.NewTranslator(), standardDialect, 30, 1000, logger),
		ResultsValidator: agents.NewResultsValidator(logger),
		Chart:            agents.NewChart(mock, false, logger),
		Insights:         agents.NewInsights(mock, logger),
		Narrator:         agents.NewNarrator(mock, logger),
	}
	return New(ag, recovery.NewPlanner(2), metrics.NewRecorder(), 0, logger)
}

func newRunState(query, dataSourceID string) *models.WorkflowState {
	return &models.WorkflowState{
		RequestID:         "req-1",
		Query:             query,
		DataSourceID:      dataSourceID,
		AnalysisMode:      models.AnalysisModeStandard,
		Stage:             models.StageReceived,
		UserRef:           models.UserRef{ID: "u-1", Role: models.RoleAnalyst},
		ExecutionMetadata: models.NewExecutionMetadata(time.Now()),
	}
}

// drainFrames collects every frame until the session channel closes.
func drainFrames(t *testing.T, s *stream.Session) <-chan []stream.Frame {
	t.Helper()
	out := make(chan []stream.Frame, 1)
	go func() {
		var frames []stream.Frame
		for f := range s.Frames() {
			frames = append(frames, f)
		}
		out <- frames
	}()
	return out
}

func frameKinds(frames []stream.Frame) []stream.FrameKind {
	kinds := make([]stream.FrameKind, len(frames))
	for i, f := range frames {
		kinds[i] = f.Kind
	}
	return kinds
}

func TestRunHappyPath(t *testing.T) {
	mock := llm.NewMockClient(routerJSON).
		WithStep("SELECT region, SUM(revenue) AS revenue FROM orders GROUP BY region").
		WithStep(insightsJSON).
		WithStep("The west region leads with 100 units of revenue.")
	runner := &fakeRunner{result: regionResult()}
	orch := newOrchestrator(mock, runner)

	session, runCtx := stream.NewSession(context.Background(), 64)
	collected := drainFrames(t, session)

	state, cerr := orch.Run(runCtx, newRunState("revenue by region", "ds-1"), session)
	require.Nil(t, cerr)

	assert.Equal(t, models.StageComplete, state.Stage)
	assert.Equal(t, 100, state.Progress.Percentage)
	assert.Equal(t, "SELECT region, SUM(revenue) AS revenue FROM orders GROUP BY region", state.SQLQuery)
	require.NotNil(t, state.QueryResult)
	assert.Equal(t, 2, state.QueryResult.RowCount)
	require.NotNil(t, state.EchartsConfig)
	assert.Equal(t, "bar", state.EchartsConfig.Type)
	require.Len(t, state.Insights, 1)
	require.Len(t, state.Recommendations, 1)
	assert.Contains(t, state.Narration, "west region")

	// The warehouse received the row-capped form.
	require.Len(t, runner.sqls, 1)
	assert.Contains(t, runner.sqls[0], "LIMIT 1000")

	frames := <-collected
	kinds := frameKinds(frames)
	assert.Equal(t, stream.FrameStart, kinds[0])
	assert.Equal(t, stream.FrameComplete, kinds[len(kinds)-1])
	assert.Contains(t, kinds, stream.FrameChart)
	assert.Contains(t, kinds, stream.FrameInsights)
	assert.Contains(t, kinds, stream.FrameRecommendations)
	assert.Contains(t, kinds, stream.FramePartial)

	// Sequence numbers are strictly increasing.
	for i := 1; i < len(frames); i++ {
		assert.Greater(t, frames[i].Seq, frames[i-1].Seq)
	}
}

func TestRunChartRouteCompletes(t *testing.T) {
	chartRouteJSON := `{"primaryAgent": "chart", "strategy": "sequential", "confidence": 0.8, "reasoning": "re-visualization"}`
	mock := llm.NewMockClient(chartRouteJSON).
		WithStep("SELECT region, SUM(revenue) AS revenue FROM orders GROUP BY region").
		WithStep(insightsJSON).
		WithStep("West still leads.")
	orch := newOrchestrator(mock, &fakeRunner{result: regionResult()})

	state, cerr := orch.Run(context.Background(), newRunState("show that as a pie instead", "ds-1"), nil)
	require.Nil(t, cerr)

	// The chart route still generates and runs SQL before charting.
	assert.Equal(t, models.StageComplete, state.Stage)
	assert.Equal(t, "chart", state.RoutingDecision.PrimaryAgent)
	require.NotNil(t, state.EchartsConfig)
	assert.Contains(t, state.ExecutionMetadata.PerStageMs, models.StageRoutedToChart)
}

func TestRunRetriesFailedValidation(t *testing.T) {
	// First generation has no FROM clause; the regeneration is valid.
	mock := llm.NewMockClient(routerJSON).
		WithStep("SELECT 1 + 1").
		WithStep("SELECT region, SUM(revenue) AS revenue FROM orders GROUP BY region").
		WithStep(insightsJSON).
		WithStep("Revenue is concentrated in the west.")
	runner := &fakeRunner{result: regionResult()}
	orch := newOrchestrator(mock, runner)

	state, cerr := orch.Run(context.Background(), newRunState("revenue by region", "ds-1"), nil)
	require.Nil(t, cerr)

	assert.Equal(t, models.StageComplete, state.Stage)
	assert.Equal(t, 1, state.ExecutionMetadata.Retries[models.StageSQLGenerated])

	// The regeneration prompt carries the validator's correction.
	require.GreaterOrEqual(t, len(mock.Requests), 3)
	assert.Contains(t, mock.Requests[2].SystemPrompt, "FROM")
}

func TestRunFailsWhenRetryBudgetExhausted(t *testing.T) {
	// Every generation is invalid; budget is 2 retries.
	mock := llm.NewMockClient(routerJSON).WithStep("SELECT 1 + 1")
	runner := &fakeRunner{result: regionResult()}
	orch := newOrchestrator(mock, runner)

	session, runCtx := stream.NewSession(context.Background(), 64)
	collected := drainFrames(t, session)

	state, cerr := orch.Run(runCtx, newRunState("revenue", "ds-1"), session)
	require.NotNil(t, cerr)

	assert.Equal(t, models.StageFailed, state.Stage)
	assert.True(t, state.CriticalFailure)
	assert.Equal(t, 2, state.ExecutionMetadata.Retries[models.StageSQLGenerated])
	assert.Empty(t, runner.sqls)

	frames := <-collected
	kinds := frameKinds(frames)
	assert.Equal(t, stream.FrameError, kinds[len(kinds)-1])

	terminal := 0
	for _, k := range kinds {
		if k == stream.FrameComplete || k == stream.FrameError {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)
}

func TestRunConversationalBranch(t *testing.T) {
	mock := llm.NewMockClient("Connect a warehouse from the settings page to analyze data.")
	orch := newOrchestrator(mock, &fakeRunner{})

	session, runCtx := stream.NewSession(context.Background(), 64)
	collected := drainFrames(t, session)

	state, cerr := orch.Run(runCtx, newRunState("how do I connect a database?", ""), session)
	require.Nil(t, cerr)

	assert.Equal(t, models.StageSupervisorConversational, state.Stage)
	assert.Empty(t, state.SQLQuery)
	assert.Contains(t, state.Narration, "settings page")

	kinds := frameKinds(<-collected)
	assert.Contains(t, kinds, stream.FramePartial)
	assert.Equal(t, stream.FrameComplete, kinds[len(kinds)-1])
}

func TestRunEmptyResultSkipsChartAndInsights(t *testing.T) {
	mock := llm.NewMockClient(routerJSON).
		WithStep("SELECT region, SUM(revenue) AS revenue FROM orders GROUP BY region")
	runner := &fakeRunner{result: &datasource.ExecuteResult{
		Result: &models.QueryResult{Columns: []models.ColumnInfo{
			{Name: "region", Type: "string"},
			{Name: "revenue", Type: "numeric"},
		}},
	}}
	orch := newOrchestrator(mock, runner)

	session, runCtx := stream.NewSession(context.Background(), 64)
	collected := drainFrames(t, session)

	state, cerr := orch.Run(runCtx, newRunState("revenue on the moon", "ds-1"), session)
	require.Nil(t, cerr)

	assert.Equal(t, models.StageComplete, state.Stage)
	assert.Nil(t, state.EchartsConfig)
	assert.Empty(t, state.Insights)
	assert.Contains(t, state.Narration, "no rows")

	kinds := frameKinds(<-collected)
	assert.NotContains(t, kinds, stream.FrameChart)
	assert.NotContains(t, kinds, stream.FrameInsights)
	assert.Equal(t, stream.FrameComplete, kinds[len(kinds)-1])
}

func TestRunExecutionErrorRecovers(t *testing.T) {
	// The first execution times out; after regeneration the query succeeds.
	mock := llm.NewMockClient(routerJSON).
		WithStep("SELECT region, SUM(revenue) AS revenue FROM orders GROUP BY region").
		WithStep("SELECT region, SUM(revenue) AS revenue FROM orders GROUP BY region LIMIT 10").
		WithStep(insightsJSON).
		WithStep("Revenue is concentrated in the west.")
	// The runner refuses once, then heals.
	first := true
	healing := runnerFunc(func(context.Context, datasource.ExecuteRequest) (*datasource.ExecuteResult, *models.ClassifiedError) {
		if first {
			first = false
			return nil, &models.ClassifiedError{
				Category:       models.ErrorCategoryTimeout,
				Subtype:        "query_timeout",
				Severity:       models.SeverityHigh,
				Recoverability: models.RecoverRetry,
				Message:        "query exceeded the execution deadline",
				SuggestedFix:   "reduce the scanned range",
				Confidence:     0.9,
			}
		}
		return regionResult(), nil
	})
	orch := newOrchestrator(mock, healing)

	out, cerr := orch.Run(context.Background(), newRunState("revenue by region", "ds-1"), nil)
	require.Nil(t, cerr)
	assert.Equal(t, models.StageComplete, out.Stage)
	assert.Equal(t, 1, out.ExecutionMetadata.Retries[models.StageQueryExecuting])
}

type runnerFunc func(ctx context.Context, req datasource.ExecuteRequest) (*datasource.ExecuteResult, *models.ClassifiedError)

func (f runnerFunc) Execute(ctx context.Context, req datasource.ExecuteRequest) (*datasource.ExecuteResult, *models.ClassifiedError) {
	return f(ctx, req)
}

type rogueAgent struct{}

func (rogueAgent) Name() string { return "rogue" }

func (rogueAgent) Run(_ context.Context, state *models.WorkflowState) (*models.WorkflowState, *models.ClassifiedError) {
	// Writes a field the received stage does not permit.
	state.SQLQuery = "SELECT 1"
	state.Stage = models.StageRoutedToNL2SQL
	return state, nil
}

func TestRunRejectsIllegalFieldWrite(t *testing.T) {
	mock := llm.NewMockClient(routerJSON)
	orch := newOrchestrator(mock, &fakeRunner{result: regionResult()})
	orch.byStage[models.StageReceived] = rogueAgent{}

	state, cerr := orch.Run(context.Background(), newRunState("q", "ds-1"), nil)
	require.NotNil(t, cerr)
	assert.Equal(t, "state_integrity", cerr.Subtype)
	assert.Equal(t, models.StageFailed, state.Stage)
	assert.True(t, state.CriticalFailure)
}

type panickyAgent struct{}

func (panickyAgent) Name() string { return "panicky" }

func (panickyAgent) Run(context.Context, *models.WorkflowState) (*models.WorkflowState, *models.ClassifiedError) {
	panic("boom")
}

func TestRunContainsAgentPanic(t *testing.T) {
	mock := llm.NewMockClient(routerJSON)
	orch := newOrchestrator(mock, &fakeRunner{result: regionResult()})
	orch.byStage[models.StageReceived] = panickyAgent{}

	state, cerr := orch.Run(context.Background(), newRunState("q", "ds-1"), nil)
	require.NotNil(t, cerr)
	assert.Equal(t, "internal_error", cerr.Subtype)
	assert.Contains(t, cerr.Message, "panicked")
	assert.Equal(t, models.StageFailed, state.Stage)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	mock := llm.NewMockClient(routerJSON)
	orch := newOrchestrator(mock, &fakeRunner{result: regionResult()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, cerr := orch.Run(ctx, newRunState("q", "ds-1"), nil)
	require.NotNil(t, cerr)
	assert.Equal(t, "cancelled", cerr.Subtype)
	assert.Equal(t, models.StageFailed, state.Stage)
}
