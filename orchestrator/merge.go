package orchestrator

import (
	"reflect"
	"time"

	"github.com/BaSui01/caseflow/types"
)

// StepOutcome is the fan-in unit produced for every step of a batch,
// success or failure.
type StepOutcome struct {
	StepID     string
	TaskType   types.TaskType
	Result     *types.TaskResult
	Err        error
	Metadata   map[string]any
	StartedAt  time.Time
	FinishedAt time.Time
}

// MergeOutcomes folds a completed fan-out batch into a new state.
//
// The merge is commutative and idempotent: each result lands on its own
// key, errors are deduplicated, completed sets are unioned, and
// metadata is deep-merged (lists concatenated without exact duplicates,
// maps unioned, scalars last-write-wins). Replaying the same batch
// against the merged state — the crash-recovery case — is a no-op.
func MergeOutcomes(base *RunState, outcomes []StepOutcome) *RunState {
	next := base.Clone()
	for _, o := range outcomes {
		mergeOutcome(next, o)
	}
	return next
}

func mergeOutcome(s *RunState, o StepOutcome) {
	step, ok := s.Plan.Step(o.StepID)
	if !ok {
		return
	}

	if o.Err != nil {
		// A completed step never regresses to failed on replay.
		if step.Status != StepCompleted && step.Status != StepSkipped {
			step.Status = StepFailed
			step.LastError = o.Err.Error()
		}
		if !s.HasError(o.TaskType, o.Err.Error()) {
			s.AppendError(o.TaskType, o.Err.Error())
		}
		return
	}

	step.Status = StepCompleted
	step.LastError = ""
	s.Results[o.TaskType] = o.Result
	s.Completed[o.StepID] = true

	if o.Metadata != nil {
		s.Metadata = deepMerge(s.Metadata, o.Metadata)
	}
}

// deepMerge merges update into current by key: nested maps are unioned
// recursively, lists are concatenated with exact duplicates dropped
// (keeps replay idempotent), scalars are last-write-wins.
func deepMerge(current, update map[string]any) map[string]any {
	if current == nil {
		current = make(map[string]any, len(update))
	}
	for k, uv := range update {
		cv, exists := current[k]
		if !exists {
			current[k] = deepCopyValue(uv)
			continue
		}
		switch cvt := cv.(type) {
		case map[string]any:
			if uvt, ok := uv.(map[string]any); ok {
				current[k] = deepMerge(cvt, uvt)
				continue
			}
		case []any:
			if uvt, ok := uv.([]any); ok {
				current[k] = appendUnique(cvt, uvt)
				continue
			}
		}
		current[k] = deepCopyValue(uv)
	}
	return current
}

func appendUnique(current, update []any) []any {
	out := current
	for _, uv := range update {
		dup := false
		for _, cv := range out {
			if reflect.DeepEqual(cv, uv) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, deepCopyValue(uv))
		}
	}
	return out
}
