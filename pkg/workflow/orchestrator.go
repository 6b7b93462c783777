// Package workflow drives the analysis state machine: it runs the agent for
// the current stage, enforces transition and field-write rules, applies the
// recovery planner to classified failures, and emits stream events.
package workflow

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/lucidata-ai/lucid-engine/pkg/agents"
	"github.com/lucidata-ai/lucid-engine/pkg/metrics"
	"github.com/lucidata-ai/lucid-engine/pkg/models"
	"github.com/lucidata-ai/lucid-engine/pkg/recovery"
	"github.com/lucidata-ai/lucid-engine/pkg/stream"
)

// defaultStageTimeout bounds one agent invocation.
const defaultStageTimeout = 60 * time.Second

// Agents carries one implementation per workflow stage.
type Agents struct {
	Router           agents.Agent
	NL2SQL           agents.Agent
	SQLValidator     agents.Agent
	Executor         agents.Agent
	ResultsValidator agents.Agent
	Chart            agents.Agent
	Insights         agents.Agent
	Narrator         agents.Agent
}

// Orchestrator owns one run of the workflow state machine at a time. It is
// stateless between runs and safe for concurrent use.
type Orchestrator struct {
	agents       Agents
	byStage      map[models.Stage]agents.Agent
	planner      *recovery.Planner
	recorder     *metrics.Recorder
	stageTimeout time.Duration
	logger       *zap.Logger
}

// New builds an orchestrator. stageTimeout <= 0 selects the default.
func New(ag Agents, planner *recovery.Planner, recorder *metrics.Recorder, stageTimeout time.Duration, logger *zap.Logger) *Orchestrator {
	if stageTimeout <= 0 {
		stageTimeout = defaultStageTimeout
	}
	return &Orchestrator{
		agents: ag,
		byStage: map[models.Stage]agents.Agent{
			models.StageReceived:          ag.Router,
			models.StageRoutedToNL2SQL:    ag.NL2SQL,
			models.StageRoutedToChart:     ag.NL2SQL,
			models.StageRoutedToInsights:  ag.NL2SQL,
			models.StageSQLGenerated:      ag.SQLValidator,
			models.StageQueryExecuting:    ag.Executor,
			models.StageQueryExecuted:     ag.ResultsValidator,
			models.StageResultsValidated:  ag.Chart,
			models.StageChartGenerated:    ag.Insights,
			models.StageInsightsGenerated: ag.Narrator,
		},
		planner:      planner,
		recorder:     recorder,
		stageTimeout: stageTimeout,
		logger:       logger.Named("orchestrator"),
	}
}

// Run advances state to a terminal stage, emitting frames on session as it
// goes. session may be nil for non-streaming callers. The returned state is
// always terminal; the error reflects a failed terminal stage.
func (o *Orchestrator) Run(ctx context.Context, state *models.WorkflowState, session *stream.Session) (*models.WorkflowState, *models.ClassifiedError) {
	o.recorder.RecordRequest("analysis")
	emit(session, stream.FrameStart, stream.StartData{
		RequestID:      state.RequestID,
		ConversationID: state.ConversationID,
	})

	for !state.Stage.IsTerminal() {
		if err := ctx.Err(); err != nil {
			return o.fail(state, session, &models.ClassifiedError{
				Category:       models.ErrorCategoryTimeout,
				Subtype:        "cancelled",
				Severity:       models.SeverityMedium,
				Recoverability: models.RecoverNone,
				Message:        "run cancelled: " + err.Error(),
				Confidence:     1.0,
			})
		}

		// sql_validated is a bookkeeping hop: the execution stage is entered
		// before the executor agent runs so a mid-query crash is attributable.
		if state.Stage == models.StageSQLValidated {
			state.Stage = models.StageQueryExecuting
			state.SetProgress(40, "executing query")
			if session != nil {
				session.EmitProgress(state.Progress)
			}
			continue
		}

		agent := o.byStage[state.Stage]
		if agent == nil {
			return o.fail(state, session, internalError(fmt.Sprintf("no agent for stage %s", state.Stage)))
		}

		next, cerr := o.runStage(ctx, agent, state, state.Stage.WritableFields())
		if cerr != nil {
			recovered, done := o.recover(ctx, state, session, cerr)
			if done != nil {
				return recovered, done
			}
			state = recovered
			continue
		}

		state = next
		o.emitStageFrames(state, session)
		if session != nil {
			session.EmitProgress(state.Progress)
		}
	}

	o.finish(state, session)
	return state, nil
}

// runStage invokes the agent under the per-stage timeout with panic
// containment, records metrics, and enforces the transition and field rules.
func (o *Orchestrator) runStage(ctx context.Context, agent agents.Agent, state *models.WorkflowState, writable []string) (next *models.WorkflowState, cerr *models.ClassifiedError) {
	stageCtx, cancel := context.WithTimeout(ctx, o.stageTimeout)
	defer cancel()

	from := state.Stage
	snapshot := *state
	started := time.Now()

	func() {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("agent panicked",
					zap.String("agent", agent.Name()),
					zap.String("stage", string(from)),
					zap.Any("panic", r))
				next, cerr = nil, internalError(fmt.Sprintf("agent %s panicked: %v", agent.Name(), r))
			}
		}()
		next, cerr = agent.Run(stageCtx, state.Clone())
	}()

	elapsed := time.Since(started)
	state.ExecutionMetadata.PerStageMs[from] += elapsed.Milliseconds()
	o.recorder.RecordStageDuration(from, elapsed)
	if cerr != nil {
		o.recorder.RecordAgent(agent.Name(), false, cerr.Subtype, elapsed, cerr.Confidence, true)
		return nil, cerr
	}
	o.recorder.RecordAgent(agent.Name(), true, "", elapsed, 1.0, true)

	if next == nil {
		return nil, internalError(fmt.Sprintf("agent %s returned neither state nor error", agent.Name()))
	}
	if next.Stage != from && !from.CanTransitionTo(next.Stage) {
		return nil, internalError(fmt.Sprintf("agent %s made illegal transition %s -> %s", agent.Name(), from, next.Stage))
	}
	if violated := illegalWrites(&snapshot, next, writable); violated != "" {
		return nil, &models.ClassifiedError{
			Category:       models.ErrorCategoryUnknown,
			Subtype:        "state_integrity",
			Severity:       models.SeverityCritical,
			Recoverability: models.RecoverNone,
			Message:        fmt.Sprintf("agent %s wrote field %s not writable at stage %s", agent.Name(), violated, from),
			Confidence:     1.0,
		}
	}

	// Carry the timing recorded on the orchestrator's copy forward.
	next.ExecutionMetadata.PerStageMs[from] = state.ExecutionMetadata.PerStageMs[from]
	return next, nil
}

// recover maps a classified failure onto a recovery edge. The second return
// is non-nil when the run must terminate.
func (o *Orchestrator) recover(ctx context.Context, state *models.WorkflowState, session *stream.Session, cerr *models.ClassifiedError) (*models.WorkflowState, *models.ClassifiedError) {
	plan := o.planner.Decide(cerr, state)
	o.logger.Info("recovery decision",
		zap.String("requestId", state.RequestID),
		zap.String("stage", string(state.Stage)),
		zap.String("category", string(cerr.Category)),
		zap.String("subtype", cerr.Subtype),
		zap.String("action", string(plan.Action)))

	switch plan.Action {
	case recovery.ActionAutoFix:
		if fixed, ok := applyAutoFixes(state.SQLQuery); ok {
			state.SQLQuery = fixed
			state.Error = nil
			state.Stage = plan.TargetStage
			return state, nil
		}
		// No deterministic fix landed; regenerate with the hint instead.
		fallthrough
	case recovery.ActionRetry:
		hinted := *cerr
		if plan.FixHint != "" {
			hinted.SuggestedFix = plan.FixHint
		}
		state.Error = &hinted
		return o.regenerate(ctx, state, session, plan.TargetStage)
	default:
		state.CriticalFailure = state.CriticalFailure || plan.Critical
		terminal, done := o.fail(state, session, cerr)
		return terminal, done
	}
}

// regenerate re-runs SQL generation for a recovery edge back to
// sql_generated. The regeneration writes sqlQuery regardless of the stage it
// recovers from.
func (o *Orchestrator) regenerate(ctx context.Context, state *models.WorkflowState, session *stream.Session, target models.Stage) (*models.WorkflowState, *models.ClassifiedError) {
	if !state.Stage.CanTransitionTo(target) {
		return o.fail(state, session, internalError(fmt.Sprintf("no recovery edge %s -> %s", state.Stage, target)))
	}
	next, cerr := o.runStage(ctx, o.agents.NL2SQL, state, []string{"sqlQuery"})
	if cerr != nil {
		// A failed regeneration goes back through the planner, which
		// terminates the run once the retry budget runs out.
		return o.recover(ctx, state, session, cerr)
	}
	return next, nil
}

// fail transitions the run to the failed terminal stage. Every state may
// fail, so the transition is unconditional.
func (o *Orchestrator) fail(state *models.WorkflowState, session *stream.Session, cerr *models.ClassifiedError) (*models.WorkflowState, *models.ClassifiedError) {
	state.Error = cerr
	state.Stage = models.StageFailed
	if cerr.Severity == models.SeverityCritical || cerr.Recoverability == models.RecoverNone {
		state.CriticalFailure = true
	}
	o.logger.Warn("run failed",
		zap.String("requestId", state.RequestID),
		zap.String("category", string(cerr.Category)),
		zap.String("subtype", cerr.Subtype),
		zap.String("message", cerr.Message))
	if session != nil {
		session.EmitError(cerr.Message, cerr)
	}
	return state, cerr
}

// finish emits the terminal success frames.
func (o *Orchestrator) finish(state *models.WorkflowState, session *stream.Session) {
	if session == nil {
		return
	}
	if state.Narration != "" {
		session.Emit(stream.FramePartial, map[string]any{"narration": state.Narration})
	}
	session.EmitComplete(false)
}

// emitStageFrames publishes the payload produced by the stage just reached.
func (o *Orchestrator) emitStageFrames(state *models.WorkflowState, session *stream.Session) {
	if session == nil {
		return
	}
	switch state.Stage {
	case models.StageChartGenerated:
		if state.EchartsConfig != nil {
			session.Emit(stream.FrameChart, state.EchartsConfig)
		}
	case models.StageInsightsGenerated:
		if len(state.Insights) > 0 {
			session.Emit(stream.FrameInsights, state.Insights)
		}
		if len(state.Recommendations) > 0 {
			session.Emit(stream.FrameRecommendations, state.Recommendations)
		}
	}
}

// applyAutoFixes runs the deterministic SQL repairs. Returns the repaired
// SQL and whether any repair changed it.
func applyAutoFixes(sql string) (string, bool) {
	changed := false
	if fixed, ok := recovery.BalanceParens(sql); ok && fixed != sql {
		sql = fixed
		changed = true
	}
	if fixed, ok := recovery.StripReservedColumns(sql); ok && fixed != sql {
		sql = fixed
		changed = true
	}
	return sql, changed
}

func internalError(message string) *models.ClassifiedError {
	return &models.ClassifiedError{
		Category:       models.ErrorCategoryUnknown,
		Subtype:        "internal_error",
		Severity:       models.SeverityCritical,
		Recoverability: models.RecoverNone,
		Message:        message,
		Confidence:     1.0,
	}
}

// illegalWrites compares the pre- and post-agent states and returns the name
// of the first payload field the agent changed without permission.
func illegalWrites(before, after *models.WorkflowState, writable []string) string {
	allowed := make(map[string]bool, len(writable))
	for _, f := range writable {
		allowed[f] = true
	}
	checks := []struct {
		name    string
		changed bool
	}{
		{"routingDecision", !reflect.DeepEqual(before.RoutingDecision, after.RoutingDecision)},
		{"sqlQuery", before.SQLQuery != after.SQLQuery},
		{"queryResult", !reflect.DeepEqual(before.QueryResult, after.QueryResult)},
		{"echartsConfig", !reflect.DeepEqual(before.EchartsConfig, after.EchartsConfig)},
		{"insights", !reflect.DeepEqual(before.Insights, after.Insights)},
		{"recommendations", !reflect.DeepEqual(before.Recommendations, after.Recommendations)},
		{"narration", before.Narration != after.Narration},
	}
	for _, c := range checks {
		if c.changed && !allowed[c.name] {
			return c.name
		}
	}
	return ""
}

func emit(session *stream.Session, kind stream.FrameKind, data any) {
	if session != nil {
		session.Emit(kind, data)
	}
}
