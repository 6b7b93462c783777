package agents

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lucidata-ai/lucid-engine/pkg/llm"
	"github.com/lucidata-ai/lucid-engine/pkg/models"
	"github.com/lucidata-ai/lucid-engine/pkg/prompts"
)

// narratorMaxTokens bounds the final answer completion.
const narratorMaxTokens = 512

// Narrator writes the short user-facing answer that closes a run.
type Narrator struct {
	client llm.Client
	logger *zap.Logger
}

// NewNarrator builds the finalization agent.
func NewNarrator(client llm.Client, logger *zap.Logger) *Narrator {
	return &Narrator{client: client, logger: logger.Named("agent.narrator")}
}

func (a *Narrator) Name() string { return "narrator" }

func (a *Narrator) Run(ctx context.Context, state *models.WorkflowState) (*models.WorkflowState, *models.ClassifiedError) {
	if !state.HasRows() {
		state.Narration = emptyResultNarration(state.Query)
		state.Stage = models.StageComplete
		state.SetProgress(ProgressComplete, "complete")
		return state, nil
	}

	completion, err := a.client.Complete(ctx, &llm.Request{
		Messages: []llm.Message{{
			Role: llm.RoleUser,
			Content: prompts.BuildNarrationPrompt(
				state.Query, state.QueryResult, state.Insights, state.EchartsConfig != nil),
		}},
		MaxTokens:      narratorMaxTokens,
		ConversationID: state.ConversationID,
	})
	if err != nil {
		// The run already carries results and insights; fall back to a
		// mechanical summary instead of failing at the last step.
		a.logger.Warn("narration completion failed, using summary fallback",
			zap.String("requestId", state.RequestID), zap.Error(err))
		state.Narration = summaryNarration(state.QueryResult)
	} else {
		state.ExecutionMetadata.TokensUsed += int64(completion.TotalTokens())
		state.Narration = llm.CleanModelOutput(completion.Content)
	}

	state.Stage = models.StageComplete
	state.SetProgress(ProgressComplete, "complete")
	return state, nil
}

func emptyResultNarration(query string) string {
	return fmt.Sprintf("The query for %q returned no rows. Try widening the time range or removing a filter.", query)
}

func summaryNarration(result *models.QueryResult) string {
	if result.Truncated {
		return fmt.Sprintf("The query returned %d rows (truncated to the row cap).", result.RowCount)
	}
	return fmt.Sprintf("The query returned %d rows.", result.RowCount)
}
