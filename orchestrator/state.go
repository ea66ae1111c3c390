package orchestrator

import (
	"time"

	"github.com/BaSui01/caseflow/types"
)

// RunStatus represents the overall status of a run.
type RunStatus string

const (
	// RunStatusRunning indicates the control loop is active
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted indicates all requested tasks finished successfully
	RunStatusCompleted RunStatus = "completed"
	// RunStatusPartial indicates the run ended with some tasks skipped or failed
	RunStatusPartial RunStatus = "partial"
	// RunStatusPaused indicates the run is waiting for human feedback
	RunStatusPaused RunStatus = "paused"
	// RunStatusCancelled indicates the run was cancelled by the caller
	RunStatusCancelled RunStatus = "cancelled"
)

// RunError is one entry in the append-only error log.
type RunError struct {
	TaskType  types.TaskType `json:"task_type"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
}

// AdaptationStrategy identifies how the plan was rewritten.
type AdaptationStrategy string

const (
	// StrategyRetry resets a step to pending for another attempt
	StrategyRetry AdaptationStrategy = "retry"
	// StrategySkip marks a step skipped so dependents proceed degraded
	StrategySkip AdaptationStrategy = "skip"
	// StrategyReplan inserts new steps and re-expands dependencies
	StrategyReplan AdaptationStrategy = "replan"
)

// AdaptationRecord is one entry in the append-only adaptation history.
type AdaptationRecord struct {
	StepID    string             `json:"step_id"`
	TaskType  types.TaskType     `json:"task_type"`
	Trigger   string             `json:"trigger"`
	Strategy  AdaptationStrategy `json:"strategy"`
	Timestamp time.Time          `json:"timestamp"`
}

// RunState is the single record threaded through every component.
//
// Ownership discipline: the state is replaced, not mutated. Each
// component receives the current value and returns a new one via Clone
// plus local writes; only the control loop holds the live reference.
type RunState struct {
	RunID     string           `json:"run_id"`
	CaseID    string           `json:"case_id,omitempty"`
	Requested []types.TaskType `json:"requested"`
	Status    RunStatus        `json:"status"`

	// Results maps each task type to its output, absent until produced.
	Results map[types.TaskType]*types.TaskResult `json:"results"`

	// Errors is append-only; entries are never removed or rewritten.
	Errors []RunError `json:"errors"`

	Plan      *Plan           `json:"plan"`
	Completed map[string]bool `json:"completed"`

	// RetryLedger counts adaptation retries per step id for the whole
	// run, bounding total adaptation cycles rather than per-instance.
	RetryLedger map[string]int `json:"retry_ledger"`

	AdaptationHistory []AdaptationRecord `json:"adaptation_history"`

	// Human feedback. At most one request is active; later requests
	// queue until the active one resolves.
	FeedbackQueue     []*FeedbackRequest           `json:"feedback_queue,omitempty"`
	FeedbackResponses map[string]*FeedbackResponse `json:"feedback_responses,omitempty"`
	WaitingForHuman   bool                         `json:"waiting_for_human"`
	ActiveFeedback    *FeedbackRequest             `json:"active_feedback,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	CheckpointedAt time.Time `json:"checkpointed_at,omitempty"`
}

// NewRunState creates the initial state for a run.
func NewRunState(runID, caseID string, requested []types.TaskType, plan *Plan) *RunState {
	return &RunState{
		RunID:             runID,
		CaseID:            caseID,
		Requested:         append([]types.TaskType(nil), requested...),
		Status:            RunStatusRunning,
		Results:           make(map[types.TaskType]*types.TaskResult),
		Errors:            make([]RunError, 0),
		Plan:              plan,
		Completed:         make(map[string]bool),
		RetryLedger:       make(map[string]int),
		AdaptationHistory: make([]AdaptationRecord, 0),
		FeedbackResponses: make(map[string]*FeedbackResponse),
		Metadata:          make(map[string]any),
		CreatedAt:         time.Now(),
	}
}

// Clone returns a deep copy of the state. Components work on clones so
// the previous value stays valid for checkpoint replay.
func (s *RunState) Clone() *RunState {
	c := &RunState{
		RunID:           s.RunID,
		CaseID:          s.CaseID,
		Requested:       append([]types.TaskType(nil), s.Requested...),
		Status:          s.Status,
		Results:         make(map[types.TaskType]*types.TaskResult, len(s.Results)),
		Errors:          append([]RunError(nil), s.Errors...),
		Plan:            s.Plan.Clone(),
		Completed:       make(map[string]bool, len(s.Completed)),
		RetryLedger:     make(map[string]int, len(s.RetryLedger)),
		WaitingForHuman: s.WaitingForHuman,
		Metadata:        deepCopyMap(s.Metadata),
		CreatedAt:       s.CreatedAt,
		CheckpointedAt:  s.CheckpointedAt,
	}
	for k, v := range s.Results {
		c.Results[k] = v
	}
	for k, v := range s.Completed {
		c.Completed[k] = v
	}
	for k, v := range s.RetryLedger {
		c.RetryLedger[k] = v
	}
	c.AdaptationHistory = append([]AdaptationRecord(nil), s.AdaptationHistory...)
	if s.ActiveFeedback != nil {
		af := *s.ActiveFeedback
		c.ActiveFeedback = &af
	}
	for _, q := range s.FeedbackQueue {
		fq := *q
		c.FeedbackQueue = append(c.FeedbackQueue, &fq)
	}
	c.FeedbackResponses = make(map[string]*FeedbackResponse, len(s.FeedbackResponses))
	for k, v := range s.FeedbackResponses {
		fr := *v
		c.FeedbackResponses[k] = &fr
	}
	return c
}

// AppendError records a step-local failure in the error log.
func (s *RunState) AppendError(taskType types.TaskType, message string) {
	s.Errors = append(s.Errors, RunError{
		TaskType:  taskType,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// HasError reports whether an identical error is already logged.
// Used by the fan-in merge to deduplicate replayed failures.
func (s *RunState) HasError(taskType types.TaskType, message string) bool {
	for _, e := range s.Errors {
		if e.TaskType == taskType && e.Message == message {
			return true
		}
	}
	return false
}

// InputsFor assembles the read-only result snapshot a step declares as
// input: the results of its dependency task types.
func (s *RunState) InputsFor(step *PlanStep) map[types.TaskType]*types.TaskResult {
	inputs := make(map[types.TaskType]*types.TaskResult, len(step.DependsOn))
	for _, dep := range step.DependsOn {
		if r, ok := s.Results[dep]; ok {
			inputs[dep] = r
		}
	}
	return inputs
}

// deepCopyMap deep-copies nested maps and slices; scalar values are
// shared (they are immutable from the orchestrator's point of view).
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return deepCopyMap(tv)
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}
