package orchestrator

import (
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/caseflow/config"
	"github.com/BaSui01/caseflow/types"
)

// AdaptationEngine rewrites the plan when a step's quality is too low
// or its invocation failed. Three strategies: retry, skip, replan.
// Every applied adaptation is appended to the state's history; entries
// are never overwritten.
type AdaptationEngine struct {
	maxRetries int
	table      config.TaskTable
	logger     *zap.Logger
}

// NewAdaptationEngine creates the engine. maxRetries bounds the per-run
// retry ledger for each step.
func NewAdaptationEngine(maxRetries int, table config.TaskTable, logger *zap.Logger) *AdaptationEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdaptationEngine{
		maxRetries: maxRetries,
		table:      table,
		logger:     logger.With(zap.String("component", "adaptation")),
	}
}

// Adapt applies the appropriate strategy for a failed or low-quality
// step and returns the new state plus the applied record.
//
// Retry budget is tracked per run in the state's retry ledger, keyed by
// step id: this bounds total adaptation cycles across plan rewrites
// rather than resetting on every new step instance.
func (a *AdaptationEngine) Adapt(state *RunState, stepID string, trigger string, retryable bool) (*RunState, AdaptationRecord) {
	next := state.Clone()
	step, ok := next.Plan.Step(stepID)
	if !ok {
		// Unknown step: record the anomaly, change nothing else.
		rec := AdaptationRecord{
			StepID:    stepID,
			Trigger:   trigger,
			Strategy:  StrategySkip,
			Timestamp: time.Now(),
		}
		next.AdaptationHistory = append(next.AdaptationHistory, rec)
		return next, rec
	}

	var rec AdaptationRecord
	if retryable && next.RetryLedger[stepID] < a.maxRetries {
		rec = a.retryStep(next, step, trigger)
	} else {
		rec = a.skipStep(next, step, trigger)
	}
	next.AdaptationHistory = append(next.AdaptationHistory, rec)
	return next, rec
}

// retryStep resets the step to pending for another attempt.
func (a *AdaptationEngine) retryStep(state *RunState, step *PlanStep, trigger string) AdaptationRecord {
	state.RetryLedger[step.ID]++
	step.Status = StepPending
	step.LastError = ""
	step.Retries = state.RetryLedger[step.ID]

	// A retried step's stale result must not satisfy the supervisor.
	delete(state.Results, step.TaskType)
	delete(state.Completed, step.ID)

	a.logger.Info("adaptation: retry",
		zap.String("run_id", state.RunID),
		zap.String("task_type", string(step.TaskType)),
		zap.Int("attempt", state.RetryLedger[step.ID]),
		zap.Int("budget", a.maxRetries),
	)
	return AdaptationRecord{
		StepID:    step.ID,
		TaskType:  step.TaskType,
		Trigger:   trigger,
		Strategy:  StrategyRetry,
		Timestamp: time.Now(),
	}
}

// skipStep marks the step skipped once retries are exhausted so that
// dependents proceed in degraded mode.
func (a *AdaptationEngine) skipStep(state *RunState, step *PlanStep, trigger string) AdaptationRecord {
	step.Status = StepSkipped

	a.logger.Warn("adaptation: skip (degraded mode for dependents)",
		zap.String("run_id", state.RunID),
		zap.String("task_type", string(step.TaskType)),
		zap.String("trigger", trigger),
	)
	return AdaptationRecord{
		StepID:    step.ID,
		TaskType:  step.TaskType,
		Trigger:   trigger,
		Strategy:  StrategySkip,
		Timestamp: time.Now(),
	}
}

// Replan inserts newly discovered prerequisite task types and re-runs
// dependency expansion. Used for structural issues found mid-run.
func (a *AdaptationEngine) Replan(state *RunState, add []types.TaskType, trigger string) (*RunState, AdaptationRecord, error) {
	next := state.Clone()

	plan, err := ReplanInsert(next.Plan, add, a.table)
	if err != nil {
		return nil, AdaptationRecord{}, err
	}
	next.Plan = plan

	rec := AdaptationRecord{
		Trigger:   trigger,
		Strategy:  StrategyReplan,
		Timestamp: time.Now(),
	}
	next.AdaptationHistory = append(next.AdaptationHistory, rec)

	a.logger.Info("adaptation: replan",
		zap.String("run_id", state.RunID),
		zap.Int("added_tasks", len(add)),
	)
	return next, rec, nil
}
