package agents

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/lucidata-ai/lucid-engine/pkg/jsonutil"
	"github.com/lucidata-ai/lucid-engine/pkg/llm"
	"github.com/lucidata-ai/lucid-engine/pkg/models"
	"github.com/lucidata-ai/lucid-engine/pkg/prompts"
)

// routerMaxTokens bounds the routing decision completion.
const routerMaxTokens = 512

// Router decides which agent handles the question, or answers
// conversationally when no data source is attached.
type Router struct {
	client llm.Client
	logger *zap.Logger
}

// NewRouter builds the routing agent.
func NewRouter(client llm.Client, logger *zap.Logger) *Router {
	return &Router{client: client, logger: logger.Named("agent.router")}
}

func (r *Router) Name() string { return "router" }

// routingResponse is the JSON shape the router asks the model for. The
// flexible fields tolerate models that return numbers as strings and vice
// versa.
type routingResponse struct {
	PrimaryAgent json.RawMessage `json:"primaryAgent"`
	Strategy     string          `json:"strategy"`
	Confidence   json.RawMessage `json:"confidence"`
	Reasoning    string          `json:"reasoning"`
}

// fallbackDecision is used whenever the model response cannot be parsed.
func fallbackDecision() *models.RoutingDecision {
	return &models.RoutingDecision{PrimaryAgent: "nl2sql", Strategy: "sequential", Confidence: 0.5}
}

func (r *Router) Run(ctx context.Context, state *models.WorkflowState) (*models.WorkflowState, *models.ClassifiedError) {
	if state.IsConversational() {
		return r.runConversational(ctx, state)
	}

	completion, err := r.client.Complete(ctx, &llm.Request{
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: prompts.BuildRouterPrompt(state.Query, prompts.DefaultAgents, state.Memory),
		}},
		MaxTokens:      routerMaxTokens,
		ConversationID: state.ConversationID,
	})
	if err != nil {
		// Routing is advisory: model trouble falls back to the default path.
		r.logger.Warn("routing completion failed, using fallback decision", zap.Error(err))
		state.RoutingDecision = fallbackDecision()
	} else {
		state.ExecutionMetadata.TokensUsed += int64(completion.TotalTokens())
		parsed, perr := llm.ParseJSONResponse[routingResponse](completion.Content)
		agent := jsonutil.FlexibleStringValue(parsed.PrimaryAgent)
		if perr != nil || agent == "" {
			r.logger.Debug("unparseable routing decision, using fallback")
			state.RoutingDecision = fallbackDecision()
		} else {
			state.RoutingDecision = &models.RoutingDecision{
				PrimaryAgent: agent,
				Strategy:     parsed.Strategy,
				Confidence:   jsonutil.FlexibleFloatValue(parsed.Confidence, 0.5),
				Reasoning:    parsed.Reasoning,
			}
		}
	}

	state.Stage = routedStage(state.RoutingDecision.PrimaryAgent)
	state.SetProgress(10, "routed")
	return state, nil
}

// routedStage maps the routing decision to the stage the pipeline enters.
// Chart and insights routes still generate SQL first; the stage records
// which agent the question centers on for metrics and recovery context.
func routedStage(primaryAgent string) models.Stage {
	switch primaryAgent {
	case "chart":
		return models.StageRoutedToChart
	case "insights":
		return models.StageRoutedToInsights
	default:
		return models.StageRoutedToNL2SQL
	}
}

// runConversational terminates the run with a narration when there is no
// data source to analyze.
func (r *Router) runConversational(ctx context.Context, state *models.WorkflowState) (*models.WorkflowState, *models.ClassifiedError) {
	completion, err := r.client.Complete(ctx, &llm.Request{
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: prompts.BuildConversationalPrompt(state.Query),
		}},
		MaxTokens:      1024,
		ConversationID: state.ConversationID,
	})
	if err != nil {
		state.Narration = "I can chat, but to analyze data you need to connect a data source first."
	} else {
		state.ExecutionMetadata.TokensUsed += int64(completion.TotalTokens())
		state.Narration = llm.CleanModelOutput(completion.Content)
	}
	state.Stage = models.StageSupervisorConversational
	state.SetProgress(ProgressComplete, "complete")
	return state, nil
}
