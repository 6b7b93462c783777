package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lucidata-ai/lucid-engine/pkg/llm"
	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

// chartRowLimit bounds how many rows feed a chart.
const chartRowLimit = 100

// Chart produces an ECharts configuration for the validated rows. The model
// picks columns and chart type through a typed tool call; rule-based
// selection covers model failures and the tool-less configuration.
type Chart struct {
	client             llm.Client
	useFunctionCalling bool
	logger             *zap.Logger
}

// NewChart builds the chart generation agent.
func NewChart(client llm.Client, useFunctionCalling bool, logger *zap.Logger) *Chart {
	return &Chart{client: client, useFunctionCalling: useFunctionCalling, logger: logger.Named("agent.chart")}
}

func (a *Chart) Name() string { return "chart" }

// chartTool is the typed schema offered to the model.
var chartTool = llm.NewToolDefinition(
	"render_chart",
	"Choose the chart type and axis columns for the query results",
	map[string]llm.ParameterProperty{
		"chart_type": {Type: "string", Description: "Chart type", Enum: []string{"bar", "line", "pie", "scatter"}},
		"x_column":   {Type: "string", Description: "Column for the x axis or category labels"},
		"y_column":   {Type: "string", Description: "Numeric column for values"},
		"title":      {Type: "string", Description: "Short chart title"},
	},
	[]string{"chart_type", "x_column", "y_column"},
)

type chartChoice struct {
	ChartType string `json:"chart_type"`
	XColumn   string `json:"x_column"`
	YColumn   string `json:"y_column"`
	Title     string `json:"title"`
}

func (a *Chart) Run(ctx context.Context, state *models.WorkflowState) (*models.WorkflowState, *models.ClassifiedError) {
	if !state.HasRows() {
		// Nothing to draw; the narration will say so.
		state.Stage = models.StageChartGenerated
		state.SetProgress(ProgressChartDone, "no data to chart")
		return state, nil
	}

	choice, ok := a.modelChoice(ctx, state)
	if !ok {
		choice = ruleBasedChoice(state.Query, state.QueryResult)
	}
	if choice == nil {
		// Not chartable (no numeric column); skip without failing the run.
		a.logger.Debug("results not chartable", zap.String("requestId", state.RequestID))
		state.Stage = models.StageChartGenerated
		state.SetProgress(ProgressChartDone, "results not chartable")
		return state, nil
	}

	state.EchartsConfig = buildChartConfig(choice, state.QueryResult)
	state.Stage = models.StageChartGenerated
	state.SetProgress(ProgressChartDone, "chart generated")
	return state, nil
}

// modelChoice asks the model through the typed tool and validates the
// answer against the result columns.
func (a *Chart) modelChoice(ctx context.Context, state *models.WorkflowState) (*chartChoice, bool) {
	if !a.useFunctionCalling {
		return nil, false
	}

	completion, err := a.client.CompleteWithTools(ctx, &llm.Request{
		Messages: []llm.Message{{
			Role: llm.RoleUser,
			Content: fmt.Sprintf(
				"Pick the best chart for this question and result shape.\nQuestion: %s\nColumns: %s\nRow count: %d",
				state.Query, describeColumns(state.QueryResult.Columns), state.QueryResult.RowCount),
		}},
		Tools: []llm.ToolDefinition{chartTool},
	})
	if err != nil {
		a.logger.Debug("chart tool call failed, using rules", zap.Error(err))
		return nil, false
	}
	state.ExecutionMetadata.TokensUsed += int64(completion.TotalTokens())
	if completion.FunctionCall == nil {
		return nil, false
	}

	var choice chartChoice
	if err := json.Unmarshal([]byte(completion.FunctionCall.Arguments), &choice); err != nil {
		return nil, false
	}
	if !hasColumn(state.QueryResult.Columns, choice.XColumn) || !hasColumn(state.QueryResult.Columns, choice.YColumn) {
		a.logger.Debug("chart tool named unknown columns, using rules")
		return nil, false
	}
	return &choice, true
}

var proportionWords = []string{"share", "proportion", "percentage", "distribution", "breakdown"}

// ruleBasedChoice is the deterministic fallback:
// timestamp + numeric is a line, two numerics a scatter, categorical +
// numeric a bar, or a pie when the question asks for proportions.
func ruleBasedChoice(query string, result *models.QueryResult) *chartChoice {
	var numerics, categories, timestamps []string
	for _, c := range result.Columns {
		switch c.Type {
		case "numeric":
			numerics = append(numerics, c.Name)
		case "timestamp":
			timestamps = append(timestamps, c.Name)
		default:
			categories = append(categories, c.Name)
		}
	}
	if len(numerics) == 0 {
		return nil
	}

	switch {
	case len(timestamps) > 0:
		return &chartChoice{ChartType: "line", XColumn: timestamps[0], YColumn: numerics[0]}
	case len(numerics) >= 2 && len(categories) == 0:
		return &chartChoice{ChartType: "scatter", XColumn: numerics[0], YColumn: numerics[1]}
	case len(categories) > 0:
		chartType := "bar"
		lower := strings.ToLower(query)
		for _, w := range proportionWords {
			if strings.Contains(lower, w) {
				chartType = "pie"
				break
			}
		}
		return &chartChoice{ChartType: chartType, XColumn: categories[0], YColumn: numerics[0]}
	default:
		// A single numeric column charts against the row index.
		return &chartChoice{ChartType: "bar", XColumn: "", YColumn: numerics[0]}
	}
}

// buildChartConfig materializes the ECharts configuration from the choice.
func buildChartConfig(choice *chartChoice, result *models.QueryResult) *models.ChartConfig {
	rows := result.Rows
	if len(rows) > chartRowLimit {
		rows = rows[:chartRowLimit]
	}

	labels := make([]any, 0, len(rows))
	values := make([]any, 0, len(rows))
	for i, row := range rows {
		if choice.XColumn != "" {
			labels = append(labels, row[choice.XColumn])
		} else {
			labels = append(labels, i)
		}
		values = append(values, row[choice.YColumn])
	}

	cfg := &models.ChartConfig{
		Type:    choice.ChartType,
		Tooltip: map[string]any{"trigger": "axis"},
	}
	if choice.Title != "" {
		cfg.Title = map[string]any{"text": choice.Title}
	}

	switch choice.ChartType {
	case "pie":
		data := make([]map[string]any, 0, len(rows))
		for i := range labels {
			data = append(data, map[string]any{"name": labels[i], "value": values[i]})
		}
		cfg.Tooltip = map[string]any{"trigger": "item"}
		cfg.Legend = map[string]any{"show": true}
		cfg.Series = []map[string]any{{"type": "pie", "data": data}}
	case "scatter":
		points := make([][]any, 0, len(rows))
		for i := range labels {
			points = append(points, []any{labels[i], values[i]})
		}
		cfg.XAxis = map[string]any{"type": "value", "name": choice.XColumn}
		cfg.YAxis = map[string]any{"type": "value", "name": choice.YColumn}
		cfg.Series = []map[string]any{{"type": "scatter", "data": points}}
	default:
		cfg.XAxis = map[string]any{"type": "category", "data": labels, "name": choice.XColumn}
		cfg.YAxis = map[string]any{"type": "value", "name": choice.YColumn}
		cfg.Series = []map[string]any{{"type": choice.ChartType, "data": values}}
	}
	return cfg
}

func describeColumns(cols []models.ColumnInfo) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c.Name + " (" + c.Type + ")"
	}
	return strings.Join(parts, ", ")
}

func hasColumn(cols []models.ColumnInfo, name string) bool {
	for _, c := range cols {
		if c.Name == name {
			return true
		}
	}
	return false
}
