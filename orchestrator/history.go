package orchestrator

import (
	"sync"
	"time"

	"github.com/BaSui01/caseflow/types"
)

// StepExecution records one attempt of one step.
type StepExecution struct {
	StepID    string         `json:"step_id"`
	TaskType  types.TaskType `json:"task_type"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Duration  time.Duration  `json:"duration"`
	Status    StepStatus     `json:"status"`
	Error     string         `json:"error,omitempty"`
}

// RunHistory records the complete execution path of a run: every step
// attempt with timing, in dispatch order.
type RunHistory struct {
	RunID     string           `json:"run_id"`
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time"`
	Status    RunStatus        `json:"status"`
	Steps     []*StepExecution `json:"steps"`
	mu        sync.RWMutex
}

// NewRunHistory creates a history for a run.
func NewRunHistory(runID string) *RunHistory {
	return &RunHistory{
		RunID:     runID,
		StartTime: time.Now(),
		Status:    RunStatusRunning,
		Steps:     make([]*StepExecution, 0),
	}
}

// RecordOutcome appends one step attempt from a fan-in outcome.
func (h *RunHistory) RecordOutcome(o StepOutcome) {
	h.mu.Lock()
	defer h.mu.Unlock()

	exec := &StepExecution{
		StepID:    o.StepID,
		TaskType:  o.TaskType,
		StartTime: o.StartedAt,
		EndTime:   o.FinishedAt,
		Duration:  o.FinishedAt.Sub(o.StartedAt),
		Status:    StepCompleted,
	}
	if o.Err != nil {
		exec.Status = StepFailed
		exec.Error = o.Err.Error()
	}
	h.Steps = append(h.Steps, exec)
}

// Complete marks the run history finished.
func (h *RunHistory) Complete(status RunStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.EndTime = time.Now()
	h.Status = status
}

// Executions returns a copy of the recorded step attempts.
func (h *RunHistory) Executions() []*StepExecution {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*StepExecution, len(h.Steps))
	copy(out, h.Steps)
	return out
}

// ByTask returns all attempts for one task type, oldest first.
func (h *RunHistory) ByTask(t types.TaskType) []*StepExecution {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*StepExecution
	for _, s := range h.Steps {
		if s.TaskType == t {
			out = append(out, s)
		}
	}
	return out
}
