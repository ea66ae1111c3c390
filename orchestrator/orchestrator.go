package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/caseflow/checkpoint"
	"github.com/BaSui01/caseflow/config"
	"github.com/BaSui01/caseflow/internal/metrics"
	"github.com/BaSui01/caseflow/types"
)

// Orchestrator ties the supervisor, executor, evaluator, adaptation
// engine and feedback gate into one control loop per run.
//
// The loop alternates decide → persist → execute → merge → evaluate.
// The single live RunState reference is held here; every component
// transformation returns a fresh value, so the previously checkpointed
// state is never mutated in place.
type Orchestrator struct {
	cfg      config.OrchestratorConfig
	table    config.TaskTable
	registry *AgentRegistry

	supervisor *Supervisor
	executor   *ParallelExecutor
	evaluator  Evaluator
	adapter    *AdaptationEngine
	gate       *FeedbackGate
	breakers   *BreakerRegistry
	ckpt       *checkpoint.Manager
	cache      *RouteCache

	sink      ProgressSink
	collector *metrics.Collector
	retriever types.Retriever
	logger    *zap.Logger

	mu        sync.RWMutex
	runs      map[string]*RunState
	histories map[string]*RunHistory
}

// Option customizes orchestrator construction.
type Option func(*Orchestrator)

// WithLogger sets the logger. Defaults to a nop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithSink sets the progress event sink. Defaults to NopSink.
func WithSink(sink ProgressSink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// WithEvaluator replaces the default heuristic evaluator.
func WithEvaluator(e Evaluator) Option {
	return func(o *Orchestrator) { o.evaluator = e }
}

// WithRetriever sets the corpus retriever passed to every task context.
func WithRetriever(r types.Retriever) Option {
	return func(o *Orchestrator) { o.retriever = r }
}

// WithMetrics attaches a Prometheus collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *Orchestrator) { o.collector = c }
}

// New assembles an orchestrator from configuration, a populated agent
// registry and a checkpoint store.
func New(cfg *config.Config, registry *AgentRegistry, store checkpoint.Store, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		return nil, types.NewError(types.ErrValidation, "agent registry is required")
	}
	if store == nil {
		return nil, types.NewError(types.ErrValidation, "checkpoint store is required")
	}

	o := &Orchestrator{
		cfg:       cfg.Orchestrator,
		table:     cfg.Tasks,
		registry:  registry,
		sink:      NopSink{},
		logger:    zap.NewNop(),
		runs:      make(map[string]*RunState),
		histories: make(map[string]*RunHistory),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(zap.String("component", "orchestrator"))

	if !cfg.Orchestrator.RouteCacheDisabled {
		o.cache = NewRouteCache(cfg.Orchestrator.RouteCacheTTL)
	}
	o.supervisor = NewSupervisor(o.cache, o.collector, o.logger)
	o.breakers = NewBreakerRegistry(cfg.Orchestrator.Breaker, &sinkBreakerHandler{sink: o.sink, collector: o.collector}, o.logger)

	invoker := NewInvoker(registry, cfg.Orchestrator, o.breakers, o.logger)
	o.executor = NewParallelExecutor(invoker, cfg.Orchestrator.MaxParallelism, o.retriever, o.logger)

	if o.evaluator == nil {
		o.evaluator = NewHeuristicEvaluator(
			cfg.Orchestrator.ConfidenceThreshold,
			cfg.Orchestrator.CompletenessThreshold,
			cfg.Orchestrator.MaxRetries,
			o.logger,
		)
	}
	o.adapter = NewAdaptationEngine(cfg.Orchestrator.MaxRetries, cfg.Tasks, o.logger)
	o.gate = NewFeedbackGate(o.logger)
	o.ckpt = checkpoint.NewManager(store, o.logger)

	return o, nil
}

// Close releases background resources (route cache sweeper).
func (o *Orchestrator) Close() {
	if o.cache != nil {
		o.cache.Close()
	}
}

// Run starts a new analysis run over the given case with the requested
// task types, expands dependencies into a plan and drives the control
// loop until the run completes, pauses for feedback or is cancelled.
func (o *Orchestrator) Run(ctx context.Context, caseID string, requested []types.TaskType) (*RunState, error) {
	if len(requested) == 0 {
		return nil, types.NewError(types.ErrValidation, "at least one task type must be requested")
	}

	plan, err := ExpandPlan(requested, o.table)
	if err != nil {
		return nil, err
	}

	runID := "run_" + uuid.NewString()
	state := NewRunState(runID, caseID, requested, plan)
	o.logger.Info("run started",
		zap.String("run_id", runID),
		zap.String("case_id", caseID),
		zap.Int("plan_steps", len(plan.Steps)),
	)

	// Persist the initial state so the run is resumable from tick zero.
	if err := o.saveCheckpoint(ctx, state); err != nil {
		return nil, err
	}

	return o.loop(ctx, state)
}

// Resume restores the latest checkpoint for a run and continues the
// control loop. Steps caught mid-flight by a crash are reset to pending
// and re-executed; the idempotent merge absorbs any duplicate results.
func (o *Orchestrator) Resume(ctx context.Context, runID string) (*RunState, error) {
	var state RunState
	if _, err := o.ckpt.LoadState(ctx, runID, &state); err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return nil, types.NewError(types.ErrRunNotFound,
				fmt.Sprintf("no checkpoint for run %s", runID))
		}
		return nil, types.NewError(types.ErrPersistence, "load checkpoint failed").WithCause(err)
	}

	switch state.Status {
	case RunStatusCompleted, RunStatusPartial, RunStatusCancelled:
		return &state, nil
	}

	resumed := state.Clone()
	for _, step := range resumed.Plan.Steps {
		if step.Status == StepRunning {
			step.Status = StepPending
		}
	}
	if resumed.Status != RunStatusPaused {
		resumed.Status = RunStatusRunning
	}

	o.logger.Info("run resumed from checkpoint",
		zap.String("run_id", runID),
		zap.String("status", string(resumed.Status)),
	)
	return o.loop(ctx, resumed)
}

// RespondFeedback resolves a pending feedback request and, when no
// further request is queued, resumes the control loop. The answered
// state is checkpointed before any scheduling resumes.
func (o *Orchestrator) RespondFeedback(ctx context.Context, runID, requestID string, resp *FeedbackResponse) (*RunState, error) {
	state, err := o.lookupRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	active := state.ActiveFeedback
	next, err := o.gate.Respond(state, requestID, resp)
	if err != nil {
		return nil, err
	}

	// A rejected approval sends the step back through adaptation:
	// retry while budget remains, otherwise skip so dependents degrade.
	if active != nil && active.Kind == FeedbackApproval && !resp.Approved {
		if step, ok := next.Plan.StepByTask(active.TaskType); ok {
			var rec AdaptationRecord
			next, rec = o.adapter.Adapt(next, step.ID, "approval_rejected", true)
			o.recordAdaptation(next, rec)
		}
	}

	if err := o.saveCheckpoint(ctx, next); err != nil {
		return nil, err
	}

	if next.WaitingForHuman {
		// Another queued request took over; stay parked.
		o.storeRun(next)
		return next, nil
	}
	return o.loop(ctx, next)
}

// State returns the last observed state of a run, falling back to the
// checkpoint store for runs not held in memory.
func (o *Orchestrator) State(ctx context.Context, runID string) (*RunState, error) {
	return o.lookupRun(ctx, runID)
}

// History returns the per-step execution log of a run held in memory.
func (o *Orchestrator) History(runID string) (*RunHistory, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	h, ok := o.histories[runID]
	return h, ok
}

// BreakerStates exposes the current circuit state per task type.
func (o *Orchestrator) BreakerStates() map[types.TaskType]CircuitState {
	return o.breakers.GetAllStates()
}

// =============================================================================
// 控制循环
// =============================================================================

func (o *Orchestrator) loop(ctx context.Context, state *RunState) (*RunState, error) {
	for {
		select {
		case <-ctx.Done():
			return o.cancelRun(state)
		default:
		}

		decision := o.supervisor.Next(state)

		switch decision.Action {
		case ActionWaitForHuman:
			if o.feedbackExpired(state) {
				state = o.gate.Forfeit(state)
				if err := o.saveCheckpoint(ctx, state); err != nil {
					return state, err
				}
				continue
			}
			o.setFeedbackGauge(state)
			o.storeRun(state)
			o.logger.Info("run parked for human feedback",
				zap.String("run_id", state.RunID))
			return state, nil

		case ActionEnd:
			return o.endRun(ctx, state, decision.Partial)

		case ActionRunSteps:
			next, err := o.runSteps(ctx, state, decision.StepIDs)
			if err != nil {
				return state, err
			}
			state = next
			// A batch interrupted by cancellation must not attempt the
			// tick checkpoint with the dead context: cancelRun persists
			// the cancelled state under its own background context.
			if ctx.Err() != nil {
				return o.cancelRun(state)
			}
			if err := o.saveCheckpoint(ctx, state); err != nil {
				return state, err
			}

		default:
			return state, types.NewError(types.ErrValidation,
				fmt.Sprintf("unknown supervisor action: %s", decision.Action))
		}
	}
}

// runSteps executes one ready batch and folds results, evaluations and
// adaptations into a new state.
func (o *Orchestrator) runSteps(ctx context.Context, state *RunState, stepIDs []string) (*RunState, error) {
	next := state.Clone()
	for _, id := range stepIDs {
		step, ok := next.Plan.Step(id)
		if !ok {
			continue
		}
		step.Status = StepRunning
		o.emit(Event{
			Type:     EventStepStarted,
			RunID:    next.RunID,
			StepID:   step.ID,
			TaskType: step.TaskType,
		})
	}

	outcomes := o.executor.ExecuteBatch(ctx, next, stepIDs)
	merged := MergeOutcomes(next, outcomes)

	history := o.historyFor(merged.RunID)
	for _, outcome := range outcomes {
		history.RecordOutcome(outcome)
		o.observeOutcome(merged.RunID, outcome)
	}

	for _, outcome := range outcomes {
		if outcome.Err != nil {
			merged = o.adaptFailure(merged, outcome)
			continue
		}
		var err error
		merged, err = o.evaluateSuccess(ctx, merged, outcome)
		if err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// adaptFailure routes an execution failure into the adaptation engine.
// Cancellation is not adapted; the loop handles it on the next tick.
func (o *Orchestrator) adaptFailure(state *RunState, outcome StepOutcome) *RunState {
	code := types.GetErrorCode(outcome.Err)
	if code == types.ErrRunCancelled {
		return state
	}

	next, rec := o.adapter.Adapt(state, outcome.StepID,
		"error:"+string(code), types.IsRetryable(outcome.Err))
	o.recordAdaptation(next, rec)
	return next
}

// evaluateSuccess scores a completed step and applies quality-gated
// adaptation or human feedback routing.
func (o *Orchestrator) evaluateSuccess(ctx context.Context, state *RunState, outcome StepOutcome) (*RunState, error) {
	step, ok := state.Plan.Step(outcome.StepID)
	if !ok {
		return state, nil
	}

	eval, err := o.evaluator.Evaluate(ctx, step, outcome.Result, state)
	if err != nil {
		o.logger.Warn("evaluation failed, accepting result as-is",
			zap.String("run_id", state.RunID),
			zap.String("task_type", string(step.TaskType)),
			zap.Error(err),
		)
		return state, nil
	}

	if eval.Feedback != nil {
		next := o.gate.Request(state, eval.Feedback)
		o.emit(Event{
			Type:     EventFeedbackRequested,
			RunID:    next.RunID,
			StepID:   step.ID,
			TaskType: step.TaskType,
			Payload: map[string]any{
				"request_id": eval.Feedback.ID,
				"kind":       string(eval.Feedback.Kind),
				"question":   eval.Feedback.Question,
			},
		})
		return next, nil
	}

	if eval.NeedsAdaptation {
		next, rec := o.adapter.Adapt(state, step.ID, "quality_gate", eval.NeedsRetry)
		o.recordAdaptation(next, rec)
		return next, nil
	}
	return state, nil
}

// endRun finalizes a run: terminal status, completion event, final
// checkpoint.
func (o *Orchestrator) endRun(ctx context.Context, state *RunState, partial bool) (*RunState, error) {
	final := state.Clone()
	if partial {
		final.Status = RunStatusPartial
	} else {
		final.Status = RunStatusCompleted
	}

	o.historyFor(final.RunID).Complete(final.Status)
	o.emit(Event{
		Type:  EventRunCompleted,
		RunID: final.RunID,
		Payload: map[string]any{
			"status":      string(final.Status),
			"results":     len(final.Results),
			"errors":      len(final.Errors),
			"adaptations": len(final.AdaptationHistory),
		},
	})

	if err := o.saveCheckpoint(ctx, final); err != nil {
		return final, err
	}
	o.storeRun(final)

	o.logger.Info("run finished",
		zap.String("run_id", final.RunID),
		zap.String("status", string(final.Status)),
		zap.Int("results", len(final.Results)),
	)
	return final, nil
}

// cancelRun checkpoints partial progress under a background context so
// a cancelled run is still resumable, then returns the cancel error.
func (o *Orchestrator) cancelRun(state *RunState) (*RunState, error) {
	final := state.Clone()
	final.Status = RunStatusCancelled

	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.saveCheckpoint(saveCtx, final); err != nil {
		o.logger.Error("failed to checkpoint cancelled run",
			zap.String("run_id", final.RunID), zap.Error(err))
	}
	o.historyFor(final.RunID).Complete(final.Status)
	o.storeRun(final)

	o.logger.Warn("run cancelled", zap.String("run_id", final.RunID))
	return final, types.NewError(types.ErrRunCancelled,
		fmt.Sprintf("run %s cancelled", final.RunID))
}

// =============================================================================
// 辅助
// =============================================================================

func (o *Orchestrator) saveCheckpoint(ctx context.Context, state *RunState) error {
	state.CheckpointedAt = time.Now()
	if _, err := o.ckpt.SaveState(ctx, state.RunID, state); err != nil {
		if o.collector != nil {
			o.collector.RecordCheckpointWrite("error")
		}
		if o.cfg.BestEffortPersistence {
			o.logger.Warn("checkpoint write failed, continuing (best effort)",
				zap.String("run_id", state.RunID), zap.Error(err))
			return nil
		}
		return types.NewError(types.ErrPersistence, "checkpoint write failed").WithCause(err)
	}
	if o.collector != nil {
		o.collector.RecordCheckpointWrite("ok")
	}
	return nil
}

func (o *Orchestrator) lookupRun(ctx context.Context, runID string) (*RunState, error) {
	o.mu.RLock()
	state, ok := o.runs[runID]
	o.mu.RUnlock()
	if ok {
		return state, nil
	}

	var loaded RunState
	if _, err := o.ckpt.LoadState(ctx, runID, &loaded); err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return nil, types.NewError(types.ErrRunNotFound,
				fmt.Sprintf("run %s not found", runID))
		}
		return nil, types.NewError(types.ErrPersistence, "load checkpoint failed").WithCause(err)
	}
	return &loaded, nil
}

func (o *Orchestrator) storeRun(state *RunState) {
	o.mu.Lock()
	o.runs[state.RunID] = state
	o.mu.Unlock()
}

func (o *Orchestrator) historyFor(runID string) *RunHistory {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.histories[runID]
	if !ok {
		h = NewRunHistory(runID)
		o.histories[runID] = h
	}
	return h
}

func (o *Orchestrator) emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	o.sink.Emit(event)
}

func (o *Orchestrator) observeOutcome(runID string, outcome StepOutcome) {
	status := "completed"
	if outcome.Err != nil {
		status = "failed"
	}
	duration := outcome.FinishedAt.Sub(outcome.StartedAt)

	if o.collector != nil {
		o.collector.RecordStep(string(outcome.TaskType), status, duration)
	}
	payload := map[string]any{"status": status}
	if outcome.Err != nil {
		payload["error"] = outcome.Err.Error()
	}
	o.emit(Event{
		Type:     EventStepCompleted,
		RunID:    runID,
		StepID:   outcome.StepID,
		TaskType: outcome.TaskType,
		Payload:  payload,
	})
}

func (o *Orchestrator) recordAdaptation(state *RunState, rec AdaptationRecord) {
	if o.collector != nil {
		o.collector.RecordAdaptation(string(rec.Strategy))
	}
	o.emit(Event{
		Type:     EventAdaptationApplied,
		RunID:    state.RunID,
		StepID:   rec.StepID,
		TaskType: rec.TaskType,
		Payload: map[string]any{
			"strategy": string(rec.Strategy),
			"trigger":  rec.Trigger,
		},
	})
}

func (o *Orchestrator) feedbackExpired(state *RunState) bool {
	if o.cfg.FeedbackDeadline <= 0 || state.ActiveFeedback == nil {
		return false
	}
	return time.Since(state.ActiveFeedback.CreatedAt) > o.cfg.FeedbackDeadline
}

func (o *Orchestrator) setFeedbackGauge(state *RunState) {
	if o.collector == nil {
		return
	}
	pending := 0
	if state.ActiveFeedback != nil {
		pending = 1 + len(state.FeedbackQueue)
	}
	o.collector.SetFeedbackPending(pending)
}
