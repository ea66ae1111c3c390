package orchestrator

import (
	"go.uber.org/zap"

	"github.com/BaSui01/caseflow/internal/metrics"
)

// ActionKind is the supervisor's decision for one scheduling tick.
type ActionKind string

const (
	// ActionRunSteps schedules the ready set for parallel execution
	ActionRunSteps ActionKind = "run_steps"
	// ActionWaitForHuman parks the run until feedback arrives
	ActionWaitForHuman ActionKind = "wait_for_human"
	// ActionEnd terminates the run
	ActionEnd ActionKind = "end"
)

// Decision is the supervisor's output for one tick.
type Decision struct {
	Action  ActionKind `json:"action"`
	StepIDs []string   `json:"step_ids,omitempty"`
	// Partial marks an End decision where some requested tasks did not
	// complete successfully.
	Partial bool `json:"partial,omitempty"`
}

// Supervisor selects the next runnable step set or a terminal action.
// Next is a pure function of the state; the route cache only
// short-circuits recomputation for identical state fingerprints.
type Supervisor struct {
	cache     *RouteCache
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewSupervisor creates a supervisor. cache may be nil to disable route
// caching; correctness is identical either way. collector may be nil.
func NewSupervisor(cache *RouteCache, collector *metrics.Collector, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		cache:     cache,
		collector: collector,
		logger:    logger.With(zap.String("component", "supervisor")),
	}
}

// Next computes the decision for the current state.
func (s *Supervisor) Next(state *RunState) Decision {
	// A pending feedback request suspends all scheduling.
	if state.WaitingForHuman {
		return Decision{Action: ActionWaitForHuman}
	}

	var fp string
	if s.cache != nil {
		fp = Fingerprint(state)
		if d, ok := s.cache.Get(fp); ok {
			if s.collector != nil {
				s.collector.RecordRouteCacheHit()
			}
			s.logger.Debug("route cache hit", zap.String("run_id", state.RunID))
			return d
		}
		if s.collector != nil {
			s.collector.RecordRouteCacheMiss()
		}
	}

	d := s.compute(state)

	if s.cache != nil {
		s.cache.Put(fp, d)
	}
	return d
}

func (s *Supervisor) compute(state *RunState) Decision {
	ready := make([]string, 0)
	for _, step := range state.Plan.Steps {
		if step.Status != StepPending {
			continue
		}
		if s.depsSatisfied(state, step) {
			ready = append(ready, step.ID)
		}
	}

	if len(ready) > 0 {
		s.logger.Debug("ready steps selected",
			zap.String("run_id", state.RunID),
			zap.Int("count", len(ready)),
		)
		return Decision{Action: ActionRunSteps, StepIDs: ready}
	}

	// Nothing runnable: decide between clean end and partial end.
	partial := false
	for _, t := range state.Requested {
		step, ok := state.Plan.StepByTask(t)
		if !ok {
			continue
		}
		switch step.Status {
		case StepCompleted:
		case StepSkipped, StepFailed:
			partial = true
		default:
			// Pending or running steps with unsatisfiable dependencies:
			// the run cannot make progress, end with partial results.
			partial = true
		}
	}
	return Decision{Action: ActionEnd, Partial: partial}
}

// depsSatisfied reports whether every dependency step is completed or
// skipped. A skipped dependency counts as satisfied: the dependent runs
// in degraded mode.
func (s *Supervisor) depsSatisfied(state *RunState, step *PlanStep) bool {
	for _, dep := range step.DependsOn {
		depStep, ok := state.Plan.StepByTask(dep)
		if !ok {
			return false
		}
		if !depStep.Status.Terminal() {
			return false
		}
	}
	return true
}
