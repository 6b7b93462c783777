package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lucidata-ai/lucid-engine/pkg/datasource"
	"github.com/lucidata-ai/lucid-engine/pkg/llm"
	"github.com/lucidata-ai/lucid-engine/pkg/models"
	"github.com/lucidata-ai/lucid-engine/pkg/sqltrans"
)

func testState(query string) *models.WorkflowState {
	return &models.WorkflowState{
		RequestID:    "req-1",
		Query:        query,
		DataSourceID: "ds-1",
		AnalysisMode: models.AnalysisModeStandard,
		Stage:        models.StageReceived,
		UserRef:      models.UserRef{ID: "u-1", Role: models.RoleAnalyst},
	}
}

func resultWith(columns []models.ColumnInfo, rows []map[string]any) *models.QueryResult {
	return &models.QueryResult{Rows: rows, RowCount: len(rows), Columns: columns}
}

// --- router ---

func TestRouterParsesDecision(t *testing.T) {
	mock := llm.NewMockClient(`{"primaryAgent": "nl2sql", "strategy": "sequential", "confidence": 0.92, "reasoning": "aggregation over orders"}`)
	router := NewRouter(mock, zap.NewNop())

	state, cerr := router.Run(context.Background(), testState("total revenue by month"))
	require.Nil(t, cerr)

	require.NotNil(t, state.RoutingDecision)
	assert.Equal(t, "nl2sql", state.RoutingDecision.PrimaryAgent)
	assert.InDelta(t, 0.92, state.RoutingDecision.Confidence, 0.001)
	assert.Equal(t, models.StageRoutedToNL2SQL, state.Stage)
	assert.Equal(t, 10, state.Progress.Percentage)
}

func TestRouterAdvancesToDecidedStage(t *testing.T) {
	tests := []struct {
		name    string
		primary string
		want    models.Stage
	}{
		{name: "chart route", primary: "chart", want: models.StageRoutedToChart},
		{name: "insights route", primary: "insights", want: models.StageRoutedToInsights},
		{name: "unknown agent defaults to nl2sql", primary: "oracle", want: models.StageRoutedToNL2SQL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := llm.NewMockClient(`{"primaryAgent": "` + tt.primary + `", "strategy": "sequential", "confidence": 0.8}`)
			router := NewRouter(mock, zap.NewNop())

			state, cerr := router.Run(context.Background(), testState("re-draw that as a pie"))
			require.Nil(t, cerr)
			assert.Equal(t, tt.primary, state.RoutingDecision.PrimaryAgent)
			assert.Equal(t, tt.want, state.Stage)
		})
	}
}

func TestRouterFallsBackOnModelError(t *testing.T) {
	mock := &llm.MockClient{Steps: []llm.MockStep{{Err: errors.New("provider down")}}}
	router := NewRouter(mock, zap.NewNop())

	state, cerr := router.Run(context.Background(), testState("total revenue"))
	require.Nil(t, cerr)

	require.NotNil(t, state.RoutingDecision)
	assert.Equal(t, "nl2sql", state.RoutingDecision.PrimaryAgent)
	assert.Equal(t, models.StageRoutedToNL2SQL, state.Stage)
}

func TestRouterConversationalBranch(t *testing.T) {
	mock := llm.NewMockClient("You can connect a warehouse from the settings page.")
	router := NewRouter(mock, zap.NewNop())

	state := testState("how do I connect my database?")
	state.DataSourceID = ""

	state, cerr := router.Run(context.Background(), state)
	require.Nil(t, cerr)

	assert.Equal(t, models.StageSupervisorConversational, state.Stage)
	assert.Equal(t, 100, state.Progress.Percentage)
	assert.Contains(t, state.Narration, "settings page")
}

// --- nl2sql ---

type fakeSchemas struct {
	schema *models.DatabaseSchema
	err    error
}

func (f *fakeSchemas) Get(context.Context, string) (*models.DatabaseSchema, error) {
	return f.schema, f.err
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

func standardDialect(context.Context, string) (models.Dialect, error) {
	return models.DialectStandard, nil
}

func TestNL2SQLGeneratesAndClearsError(t *testing.T) {
	mock := llm.NewMockClient("```sql\nSELECT region, SUM(revenue) FROM orders GROUP BY region;\n```")
	agent := NewNL2SQL(mock, &fakeSchemas{schema: ordersSchema()}, standardDialect, 4000, zap.NewNop())

	state := testState("revenue by region")
	state.Stage = models.StageRoutedToNL2SQL
	state.Error = &models.ClassifiedError{
		Category:     models.ErrorCategorySQLValidation,
		Message:      "unbalanced parentheses",
		SuggestedFix: "regenerate with balanced parentheses",
	}

	state, cerr := agent.Run(context.Background(), state)
	require.Nil(t, cerr)

	assert.Equal(t, "SELECT region, SUM(revenue) FROM orders GROUP BY region", state.SQLQuery)
	assert.Equal(t, models.StageSQLGenerated, state.Stage)
	assert.Nil(t, state.Error)

	// The prior failure must reach the model as a correction.
	require.NotEmpty(t, mock.Requests)
	assert.Contains(t, mock.Requests[0].SystemPrompt, "balanced parentheses")
}

func TestNL2SQLSchemaFetchFailure(t *testing.T) {
	agent := NewNL2SQL(llm.NewMockClient("irrelevant"), &fakeSchemas{err: errors.New("connect refused")}, standardDialect, 4000, zap.NewNop())

	_, cerr := agent.Run(context.Background(), testState("revenue"))
	require.NotNil(t, cerr)
	assert.Equal(t, models.ErrorCategorySchema, cerr.Category)
	assert.Equal(t, models.RecoverRetry, cerr.Recoverability)
}

func TestNL2SQLRejectsNonSelectOutput(t *testing.T) {
	mock := llm.NewMockClient("I cannot answer that question.")
	agent := NewNL2SQL(mock, &fakeSchemas{schema: ordersSchema()}, standardDialect, 4000, zap.NewNop())

	_, cerr := agent.Run(context.Background(), testState("revenue"))
	require.NotNil(t, cerr)
	assert.Equal(t, models.ErrorCategorySQLGeneration, cerr.Category)
	assert.Equal(t, "no_select", cerr.Subtype)
}

func TestExtractSQL(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		ok      bool
	}{
		{"plain", "SELECT 1", "SELECT 1", true},
		{"fenced", "```sql\nSELECT id FROM t\n```", "SELECT id FROM t", true},
		{"preamble", "Here is the query:\nSELECT id FROM t;", "SELECT id FROM t", true},
		{"trailing prose cut at semicolon", "SELECT id FROM t; hope that helps", "SELECT id FROM t", true},
		{"semicolon in literal kept", "SELECT 'a;b' FROM t", "SELECT 'a;b' FROM t", true},
		{"format artifact stripped", "SELECT id FROM t FORMAT JSONEachRow", "SELECT id FROM t", true},
		{"no select", "I do not know", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractSQL(tt.content)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// --- sql validator ---

func TestSQLValidator(t *testing.T) {
	tests := []struct {
		name        string
		sql         string
		wantSubtype string
	}{
		{"valid", "SELECT region, SUM(revenue) FROM orders GROUP BY region", ""},
		{"not select", "SHOW TABLES", "not_select"},
		{"corruption shape", "SELECT `orders` AND region FROM orders", "corrupted_select"},
		{"missing from", "SELECT 1 + 1", "missing_from"},
		{"reserved table", "SELECT id FROM where x = 1", "reserved_table"},
		{"dangerous", "SELECT id FROM t; DROP TABLE t", "dangerous_op"},
		{"too unbalanced", "SELECT SUM(((((x FROM t", "unbalanced_parens"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := NewSQLValidator(zap.NewNop())
			state := testState("q")
			state.Stage = models.StageSQLGenerated
			state.SQLQuery = tt.sql

			state, cerr := agent.Run(context.Background(), state)
			if tt.wantSubtype == "" {
				require.Nil(t, cerr)
				assert.Equal(t, models.StageSQLValidated, state.Stage)
				assert.Equal(t, ProgressSQLValidated, state.Progress.Percentage)
				return
			}
			require.NotNil(t, cerr)
			assert.Equal(t, tt.wantSubtype, cerr.Subtype)
		})
	}
}

func TestSQLValidatorBalancesParens(t *testing.T) {
	agent := NewSQLValidator(zap.NewNop())
	state := testState("q")
	state.SQLQuery = "SELECT SUM(revenue FROM orders"

	state, cerr := agent.Run(context.Background(), state)
	require.Nil(t, cerr)
	assert.Equal(t, "SELECT SUM(revenue FROM orders)", state.SQLQuery)
}

// --- executor ---

type fakeRunner struct {
	lastReq datasource.ExecuteRequest
	result  *datasource.ExecuteResult
	cerr    *models.ClassifiedError
}

func (f *fakeRunner) Execute(_ context.Context, req datasource.ExecuteRequest) (*datasource.ExecuteResult, *models.ClassifiedError) {
	f.lastReq = req
	return f.result, f.cerr
}

func TestExecutorTranslatesForDialect(t *testing.T) {
	runner := &fakeRunner{result: &datasource.ExecuteResult{
		Result: resultWith(
			[]models.ColumnInfo{{Name: "month", Type: "timestamp"}, {Name: "total", Type: "numeric"}},
			[]map[string]any{{"month": "2026-01-01", "total": int64(10)}},
		),
	}}
	clickhouse := func(context.Context, string) (models.Dialect, error) { return models.DialectClickHouse, nil }
	agent := NewExecutor(runner, sqltrans.NewTranslator(), clickhouse, 30, 1000, zap.NewNop())

	state := testState("orders per month")
	state.Stage = models.StageQueryExecuting
	state.SQLQuery = "SELECT DATE_TRUNC('month', created_at) AS month, COUNT(*) AS total FROM orders GROUP BY month"

	state, cerr := agent.Run(context.Background(), state)
	require.Nil(t, cerr)

	// The warehouse sees the translated form; the state keeps the original.
	assert.Contains(t, runner.lastReq.SQL, "toStartOfMonth(created_at)")
	assert.Contains(t, state.SQLQuery, "DATE_TRUNC")
	assert.Equal(t, models.StageQueryExecuted, state.Stage)
	require.NotNil(t, state.QueryResult)
	assert.Equal(t, 1, state.QueryResult.RowCount)
}

func TestExecutorInjectsRowCapInStandardMode(t *testing.T) {
	runner := &fakeRunner{result: &datasource.ExecuteResult{Result: resultWith(nil, nil)}}
	agent := NewExecutor(runner, sqltrans.NewTranslator(), standardDialect, 30, 500, zap.NewNop())

	state := testState("all orders")
	state.SQLQuery = "SELECT id FROM orders"

	_, cerr := agent.Run(context.Background(), state)
	require.Nil(t, cerr)
	assert.Contains(t, runner.lastReq.SQL, "LIMIT 500")
}

func TestExecutorPassesThroughExecutionError(t *testing.T) {
	runner := &fakeRunner{cerr: &models.ClassifiedError{
		Category: models.ErrorCategoryTimeout,
		Subtype:  "query_timeout",
	}}
	agent := NewExecutor(runner, sqltrans.NewTranslator(), standardDialect, 30, 500, zap.NewNop())

	state := testState("slow query")
	state.SQLQuery = "SELECT id FROM orders"

	_, cerr := agent.Run(context.Background(), state)
	require.NotNil(t, cerr)
	assert.Equal(t, models.ErrorCategoryTimeout, cerr.Category)
}

// --- results validator ---

func TestResultsValidator(t *testing.T) {
	cols := []models.ColumnInfo{{Name: "region", Type: "string"}, {Name: "total", Type: "numeric"}}

	t.Run("consistent rows pass", func(t *testing.T) {
		state := testState("q")
		state.Stage = models.StageQueryExecuted
		state.QueryResult = resultWith(cols, []map[string]any{
			{"region": "west", "total": int64(10)},
			{"region": "east", "total": int64(20)},
		})

		state, cerr := NewResultsValidator(zap.NewNop()).Run(context.Background(), state)
		require.Nil(t, cerr)
		assert.Equal(t, models.StageResultsValidated, state.Stage)
		assert.Equal(t, ProgressResultsValid, state.Progress.Percentage)
	})

	t.Run("empty result allowed", func(t *testing.T) {
		state := testState("q")
		state.QueryResult = resultWith(cols, nil)

		state, cerr := NewResultsValidator(zap.NewNop()).Run(context.Background(), state)
		require.Nil(t, cerr)
		assert.Equal(t, models.StageResultsValidated, state.Stage)
	})

	t.Run("missing result fails", func(t *testing.T) {
		state := testState("q")

		_, cerr := NewResultsValidator(zap.NewNop()).Run(context.Background(), state)
		require.NotNil(t, cerr)
		assert.Equal(t, "missing_result", cerr.Subtype)
	})

	t.Run("inconsistent row shapes fail", func(t *testing.T) {
		state := testState("q")
		state.QueryResult = resultWith(cols, []map[string]any{
			{"region": "west", "total": int64(10)},
			{"region": "east"},
		})

		_, cerr := NewResultsValidator(zap.NewNop()).Run(context.Background(), state)
		require.NotNil(t, cerr)
		assert.Equal(t, "inconsistent_rows", cerr.Subtype)
	})
}

// --- chart ---

func TestChartRuleBasedSelection(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		columns  []models.ColumnInfo
		wantType string
	}{
		{
			"category and numeric is a bar",
			"revenue by region",
			[]models.ColumnInfo{{Name: "region", Type: "string"}, {Name: "revenue", Type: "numeric"}},
			"bar",
		},
		{
			"proportions become a pie",
			"share of revenue by region",
			[]models.ColumnInfo{{Name: "region", Type: "string"}, {Name: "revenue", Type: "numeric"}},
			"pie",
		},
		{
			"timestamp and numeric is a line",
			"orders over time",
			[]models.ColumnInfo{{Name: "day", Type: "timestamp"}, {Name: "orders", Type: "numeric"}},
			"line",
		},
		{
			"two numerics are a scatter",
			"price vs quantity",
			[]models.ColumnInfo{{Name: "price", Type: "numeric"}, {Name: "quantity", Type: "numeric"}},
			"scatter",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := NewChart(llm.NewMockClient("unused"), false, zap.NewNop())
			state := testState(tt.query)
			state.Stage = models.StageResultsValidated
			rows := []map[string]any{{}}
			for _, c := range tt.columns {
				rows[0][c.Name] = "x"
			}
			state.QueryResult = resultWith(tt.columns, rows)

			state, cerr := agent.Run(context.Background(), state)
			require.Nil(t, cerr)
			require.NotNil(t, state.EchartsConfig)
			assert.Equal(t, tt.wantType, state.EchartsConfig.Type)
			assert.Equal(t, models.StageChartGenerated, state.Stage)
		})
	}
}

func TestChartSkipsEmptyResults(t *testing.T) {
	agent := NewChart(llm.NewMockClient("unused"), false, zap.NewNop())
	state := testState("q")
	state.Stage = models.StageResultsValidated
	state.QueryResult = resultWith(nil, nil)

	state, cerr := agent.Run(context.Background(), state)
	require.Nil(t, cerr)
	assert.Nil(t, state.EchartsConfig)
	assert.Equal(t, models.StageChartGenerated, state.Stage)
	assert.Equal(t, ProgressChartDone, state.Progress.Percentage)
}

func TestChartUsesToolCall(t *testing.T) {
	mock := &llm.MockClient{Steps: []llm.MockStep{{Completion: &llm.Completion{
		FunctionCall: &llm.FunctionCall{
			Name:      "render_chart",
			Arguments: `{"chart_type": "bar", "x_column": "region", "y_column": "revenue", "title": "Revenue by region"}`,
		},
	}}}}
	agent := NewChart(mock, true, zap.NewNop())

	state := testState("revenue by region")
	state.QueryResult = resultWith(
		[]models.ColumnInfo{{Name: "region", Type: "string"}, {Name: "revenue", Type: "numeric"}},
		[]map[string]any{{"region": "west", "revenue": int64(10)}},
	)

	state, cerr := agent.Run(context.Background(), state)
	require.Nil(t, cerr)
	require.NotNil(t, state.EchartsConfig)
	assert.Equal(t, "bar", state.EchartsConfig.Type)
	assert.Equal(t, map[string]any{"text": "Revenue by region"}, state.EchartsConfig.Title)
}

func TestChartFallsBackOnUnknownColumns(t *testing.T) {
	mock := &llm.MockClient{Steps: []llm.MockStep{{Completion: &llm.Completion{
		FunctionCall: &llm.FunctionCall{
			Name:      "render_chart",
			Arguments: `{"chart_type": "line", "x_column": "nope", "y_column": "revenue"}`,
		},
	}}}}
	agent := NewChart(mock, true, zap.NewNop())

	state := testState("revenue by region")
	state.QueryResult = resultWith(
		[]models.ColumnInfo{{Name: "region", Type: "string"}, {Name: "revenue", Type: "numeric"}},
		[]map[string]any{{"region": "west", "revenue": int64(10)}},
	)

	state, cerr := agent.Run(context.Background(), state)
	require.Nil(t, cerr)
	require.NotNil(t, state.EchartsConfig)
	assert.Equal(t, "bar", state.EchartsConfig.Type)
}

// --- insights ---

func TestInsightsParsesResponse(t *testing.T) {
	mock := llm.NewMockClient(`{"insights": [{"title": "West leads", "description": "The west region drives most revenue.", "confidence": 0.9}], "recommendations": [{"title": "Invest in east", "description": "East has headroom."}]}`)
	agent := NewInsights(mock, zap.NewNop())

	state := testState("revenue by region")
	state.Stage = models.StageChartGenerated
	state.QueryResult = resultWith(
		[]models.ColumnInfo{{Name: "region", Type: "string"}, {Name: "revenue", Type: "numeric"}},
		[]map[string]any{{"region": "west", "revenue": int64(10)}},
	)

	state, cerr := agent.Run(context.Background(), state)
	require.Nil(t, cerr)
	require.Len(t, state.Insights, 1)
	assert.Equal(t, "West leads", state.Insights[0].Title)
	require.Len(t, state.Recommendations, 1)
	assert.Equal(t, models.StageInsightsGenerated, state.Stage)
	assert.Equal(t, ProgressInsightsDone, state.Progress.Percentage)
}

func TestInsightsSkipsEmptyResults(t *testing.T) {
	mock := llm.NewMockClient("unused")
	agent := NewInsights(mock, zap.NewNop())

	state := testState("q")
	state.QueryResult = resultWith(nil, nil)

	state, cerr := agent.Run(context.Background(), state)
	require.Nil(t, cerr)
	assert.Empty(t, state.Insights)
	assert.Equal(t, models.StageInsightsGenerated, state.Stage)
	assert.Empty(t, mock.Requests)
}

func TestInsightsToleratesUnparseableResponse(t *testing.T) {
	mock := llm.NewMockClient("the data looks fine to me")
	agent := NewInsights(mock, zap.NewNop())

	state := testState("q")
	state.QueryResult = resultWith(
		[]models.ColumnInfo{{Name: "n", Type: "numeric"}},
		[]map[string]any{{"n": int64(1)}},
	)

	state, cerr := agent.Run(context.Background(), state)
	require.Nil(t, cerr)
	assert.Empty(t, state.Insights)
	assert.Equal(t, models.StageInsightsGenerated, state.Stage)
}

// --- narrator ---

func TestNarratorWritesAnswer(t *testing.T) {
	mock := llm.NewMockClient("The west region leads with 10 units of revenue.")
	agent := NewNarrator(mock, zap.NewNop())

	state := testState("revenue by region")
	state.Stage = models.StageInsightsGenerated
	state.QueryResult = resultWith(
		[]models.ColumnInfo{{Name: "region", Type: "string"}, {Name: "revenue", Type: "numeric"}},
		[]map[string]any{{"region": "west", "revenue": int64(10)}},
	)

	state, cerr := agent.Run(context.Background(), state)
	require.Nil(t, cerr)
	assert.Contains(t, state.Narration, "west region")
	assert.Equal(t, models.StageComplete, state.Stage)
	assert.Equal(t, 100, state.Progress.Percentage)
}

func TestNarratorEmptyResultMessage(t *testing.T) {
	agent := NewNarrator(llm.NewMockClient("unused"), zap.NewNop())

	state := testState("sales in antarctica")
	state.QueryResult = resultWith(nil, nil)

	state, cerr := agent.Run(context.Background(), state)
	require.Nil(t, cerr)
	assert.Contains(t, state.Narration, "no rows")
	assert.Equal(t, models.StageComplete, state.Stage)
}

func TestNarratorFallsBackOnModelError(t *testing.T) {
	mock := &llm.MockClient{Steps: []llm.MockStep{{Err: errors.New("provider down")}}}
	agent := NewNarrator(mock, zap.NewNop())

	state := testState("q")
	state.QueryResult = resultWith(
		[]models.ColumnInfo{{Name: "n", Type: "numeric"}},
		[]map[string]any{{"n": int64(1)}},
	)

	state, cerr := agent.Run(context.Background(), state)
	require.Nil(t, cerr)
	assert.Contains(t, state.Narration, "1 rows")
	assert.Equal(t, models.StageComplete, state.Stage)
}
