package agents

import (
	"context"

	"go.uber.org/zap"

	"github.com/lucidata-ai/lucid-engine/pkg/llm"
	"github.com/lucidata-ai/lucid-engine/pkg/models"
	"github.com/lucidata-ai/lucid-engine/pkg/prompts"
)

// insightsMaxTokens bounds the insights completion.
const insightsMaxTokens = 2048

// Insights derives observations and recommendations from the query results,
// with the tone tailored to the requesting user's role.
type Insights struct {
	client llm.Client
	logger *zap.Logger
}

// NewInsights builds the insights generation agent.
func NewInsights(client llm.Client, logger *zap.Logger) *Insights {
	return &Insights{client: client, logger: logger.Named("agent.insights")}
}

func (a *Insights) Name() string { return "insights" }

type insightsResponse struct {
	Insights        []models.Insight        `json:"insights"`
	Recommendations []models.Recommendation `json:"recommendations"`
}

func (a *Insights) Run(ctx context.Context, state *models.WorkflowState) (*models.WorkflowState, *models.ClassifiedError) {
	if !state.HasRows() {
		// Nothing to reason about; narration handles the empty case.
		state.Stage = models.StageInsightsGenerated
		state.SetProgress(ProgressInsightsDone, "no data for insights")
		return state, nil
	}

	completion, err := a.client.Complete(ctx, &llm.Request{
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: prompts.BuildInsightsPrompt(state.Query, state.QueryResult, state.UserRef.Role),
		}},
		MaxTokens:      insightsMaxTokens,
		ConversationID: state.ConversationID,
	})
	if err != nil {
		return nil, llmFailure("insights_completion", err.Error())
	}
	state.ExecutionMetadata.TokensUsed += int64(completion.TotalTokens())

	parsed, perr := llm.ParseJSONResponse[insightsResponse](completion.Content)
	if perr != nil {
		// Insights are additive: a malformed response degrades to none
		// rather than failing an otherwise successful run.
		a.logger.Warn("unparseable insights response, continuing without",
			zap.String("requestId", state.RequestID), zap.Error(perr))
	} else {
		state.Insights = parsed.Insights
		state.Recommendations = parsed.Recommendations
	}

	state.Stage = models.StageInsightsGenerated
	state.SetProgress(ProgressInsightsDone, "insights generated")
	return state, nil
}
