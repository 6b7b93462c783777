package agents

import (
	"context"

	"go.uber.org/zap"

	"github.com/lucidata-ai/lucid-engine/pkg/datasource"
	"github.com/lucidata-ai/lucid-engine/pkg/models"
	"github.com/lucidata-ai/lucid-engine/pkg/sqltrans"
)

// QueryRunner is the execution surface the agent drives. Satisfied by
// datasource.Executor.
type QueryRunner interface {
	Execute(ctx context.Context, req datasource.ExecuteRequest) (*datasource.ExecuteResult, *models.ClassifiedError)
}

// Executor translates the validated SQL into the target dialect, applies
// the row cap, and runs it.
type Executor struct {
	runner     QueryRunner
	translator *sqltrans.Translator
	dialectOf  DialectResolver
	timeoutSec int
	maxRows    int
	logger     *zap.Logger
}

// NewExecutor builds the execution agent.
func NewExecutor(runner QueryRunner, translator *sqltrans.Translator, dialectOf DialectResolver, timeoutSec, maxRows int, logger *zap.Logger) *Executor {
	return &Executor{
		runner:     runner,
		translator: translator,
		dialectOf:  dialectOf,
		timeoutSec: timeoutSec,
		maxRows:    maxRows,
		logger:     logger.Named("agent.executor"),
	}
}

func (a *Executor) Name() string { return "query_executor" }

func (a *Executor) Run(ctx context.Context, state *models.WorkflowState) (*models.WorkflowState, *models.ClassifiedError) {
	dialect, err := a.dialectOf(ctx, state.DataSourceID)
	if err != nil {
		dialect = models.DialectStandard
	}

	translated, cerr := a.translator.Translate(state.SQLQuery, dialect)
	if cerr != nil {
		return nil, cerr
	}
	optimized := sqltrans.Optimize(translated.SQL, dialect, state.AnalysisMode, a.maxRows)
	for _, w := range append(translated.Warnings, optimized.Warnings...) {
		a.logger.Debug("query advisory", zap.String("requestId", state.RequestID), zap.String("warning", w))
	}

	res, cerr := a.runner.Execute(ctx, datasource.ExecuteRequest{
		SQL:          optimized.SQL,
		DataSourceID: state.DataSourceID,
		TimeoutSec:   a.timeoutSec,
		MaxRows:      a.maxRows,
	})
	if cerr != nil {
		return nil, cerr
	}

	state.QueryResult = res.Result
	state.Stage = models.StageQueryExecuted
	state.SetProgress(ProgressQueryExecuted, "query executed")
	return state, nil
}
