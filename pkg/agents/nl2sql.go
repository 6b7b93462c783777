package agents

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/lucidata-ai/lucid-engine/pkg/llm"
	"github.com/lucidata-ai/lucid-engine/pkg/models"
	"github.com/lucidata-ai/lucid-engine/pkg/prompts"
	"github.com/lucidata-ai/lucid-engine/pkg/schema"
)

// SchemaProvider yields the schema for a data source. Satisfied by the
// schema registry; substituted in tests.
type SchemaProvider interface {
	Get(ctx context.Context, dataSourceID string) (*models.DatabaseSchema, error)
}

// DialectResolver yields the SQL dialect for a data source id.
type DialectResolver func(ctx context.Context, dataSourceID string) (models.Dialect, error)

// NL2SQL turns the natural-language question into a SELECT statement.
type NL2SQL struct {
	client          llm.Client
	schemas         SchemaProvider
	dialectOf       DialectResolver
	maxSchemaTokens int
	logger          *zap.Logger
}

// NewNL2SQL builds the SQL generation agent.
func NewNL2SQL(client llm.Client, schemas SchemaProvider, dialectOf DialectResolver, maxSchemaTokens int, logger *zap.Logger) *NL2SQL {
	return &NL2SQL{
		client:          client,
		schemas:         schemas,
		dialectOf:       dialectOf,
		maxSchemaTokens: maxSchemaTokens,
		logger:          logger.Named("agent.nl2sql"),
	}
}

func (a *NL2SQL) Name() string { return "nl2sql" }

func (a *NL2SQL) Run(ctx context.Context, state *models.WorkflowState) (*models.WorkflowState, *models.ClassifiedError) {
	dbSchema, err := a.schemas.Get(ctx, state.DataSourceID)
	if err != nil {
		return nil, &models.ClassifiedError{
			Category:       models.ErrorCategorySchema,
			Subtype:        "fetch_failed",
			Severity:       models.SeverityHigh,
			Recoverability: models.RecoverRetry,
			Message:        err.Error(),
			Confidence:     0.9,
		}
	}
	dialect, err := a.dialectOf(ctx, state.DataSourceID)
	if err != nil {
		dialect = models.DialectStandard
	}

	pruned := schema.Optimize(dbSchema, state.Query, routingHints(state), a.maxSchemaTokens)
	compact := schema.FormatCompact(pruned.Schema)

	// A prior rejection carries its fix hint on the state error.
	fixHint := ""
	if state.Error != nil {
		fixHint = strings.TrimSpace(state.Error.SuggestedFix + ". " + state.Error.Message)
	}

	completion, cerr := a.complete(ctx, state, dialect, compact, fixHint)
	if cerr != nil {
		return nil, cerr
	}
	state.ExecutionMetadata.TokensUsed += int64(completion.TotalTokens())

	sql, ok := ExtractSQL(completion.Content)
	if !ok {
		return nil, &models.ClassifiedError{
			Category:       models.ErrorCategorySQLGeneration,
			Subtype:        "no_select",
			Severity:       models.SeverityHigh,
			Recoverability: models.RecoverRetry,
			Message:        "model output contained no SELECT statement",
			SuggestedFix:   "answer with a single SELECT statement and nothing else",
			Confidence:     0.9,
		}
	}

	a.logger.Debug("sql generated",
		zap.String("requestId", state.RequestID),
		zap.Int("schemaTokens", pruned.EstimatedTokens),
		zap.Int("droppedTables", len(pruned.DroppedTables)))

	state.SQLQuery = sql
	state.Error = nil
	state.Stage = models.StageSQLGenerated
	state.SetProgress(20, "sql generated")
	return state, nil
}

func (a *NL2SQL) complete(ctx context.Context, state *models.WorkflowState, dialect models.Dialect, compact, fixHint string) (*llm.Completion, *models.ClassifiedError) {
	completion, err := a.client.Complete(ctx, &llm.Request{
		SystemPrompt: prompts.BuildNL2SQLSystemPrompt(dialect, compact, fixHint),
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: prompts.BuildNL2SQLUserPrompt(state.Query, state.Memory),
		}},
		ConversationID: state.ConversationID,
	})
	if err != nil {
		return nil, llmFailure("completion_failed", err.Error())
	}
	return completion, nil
}

// routingHints extracts intent keywords recorded by the router.
func routingHints(state *models.WorkflowState) []string {
	if state.RoutingDecision == nil || state.RoutingDecision.Reasoning == "" {
		return nil
	}
	return []string{state.RoutingDecision.Reasoning}
}

var (
	selectStartPattern = regexp.MustCompile(`(?is)\bSELECT\b`)
	formatArtifact     = regexp.MustCompile(`(?i)\s+FORMAT\s+JSONEachRow\s*;?\s*$`)
)

// ExtractSQL pulls the first SELECT statement out of model output: code
// fences and think blocks are stripped, text before the SELECT and after
// its terminating semicolon is discarded, and trailing FORMAT JSONEachRow
// artifacts are removed.
func ExtractSQL(content string) (string, bool) {
	cleaned := llm.CleanModelOutput(llm.StripCodeFences(content))
	loc := selectStartPattern.FindStringIndex(cleaned)
	if loc == nil {
		return "", false
	}
	sql := cleaned[loc[0]:]

	// Cut at the first semicolon outside string literals.
	inSgl := false
	for i, ch := range sql {
		switch {
		case inSgl:
			if ch == '\'' {
				inSgl = false
			}
		case ch == '\'':
			inSgl = true
		case ch == ';':
			sql = sql[:i]
		}
		if !inSgl && ch == ';' {
			break
		}
	}

	sql = formatArtifact.ReplaceAllString(sql, "")
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return "", false
	}
	return sql, true
}
