package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/caseflow/types"
)

// EvaluationResult scores a completed step's output. Produced fresh per
// completed step and never mutated afterward.
type EvaluationResult struct {
	StepID       string         `json:"step_id"`
	TaskType     types.TaskType `json:"task_type"`
	Confidence   float64        `json:"confidence"`
	Completeness float64        `json:"completeness"`
	Issues       []string       `json:"issues,omitempty"`

	NeedsAdaptation bool `json:"needs_adaptation"`
	NeedsRetry      bool `json:"needs_retry"`

	// Feedback is set instead of the adaptation flags when the step
	// requires human sign-off or the evaluator cannot resolve ambiguity.
	Feedback *FeedbackRequest `json:"feedback,omitempty"`
}

// Evaluator scores completed step outputs.
type Evaluator interface {
	Evaluate(ctx context.Context, step *PlanStep, result *types.TaskResult, state *RunState) (*EvaluationResult, error)
}

// HeuristicEvaluator applies a structural completeness check plus the
// result's self-reported confidence. A model-backed judge can be
// substituted through the Evaluator interface without touching the
// control loop.
type HeuristicEvaluator struct {
	confidenceThreshold   float64
	completenessThreshold float64
	maxRetries            int
	logger                *zap.Logger
}

// NewHeuristicEvaluator creates the default evaluator.
func NewHeuristicEvaluator(confidenceThreshold, completenessThreshold float64, maxRetries int, logger *zap.Logger) *HeuristicEvaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HeuristicEvaluator{
		confidenceThreshold:   confidenceThreshold,
		completenessThreshold: completenessThreshold,
		maxRetries:            maxRetries,
		logger:                logger.With(zap.String("component", "evaluator")),
	}
}

// Evaluate implements Evaluator.
func (e *HeuristicEvaluator) Evaluate(ctx context.Context, step *PlanStep, result *types.TaskResult, state *RunState) (*EvaluationResult, error) {
	eval := &EvaluationResult{
		StepID:   step.ID,
		TaskType: step.TaskType,
	}

	if result == nil {
		eval.Completeness = 0
		eval.Issues = append(eval.Issues, "no result produced")
		eval.NeedsAdaptation = true
		return eval, nil
	}

	eval.Confidence = result.Confidence
	eval.Completeness = structuralCompleteness(result, &eval.Issues)

	// A step tagged for approval always goes through the feedback gate,
	// regardless of score.
	if step.RequiresApproval {
		eval.Feedback = NewFeedbackRequest(step.TaskType, FeedbackApproval,
			fmt.Sprintf("approve output of %s before dependents proceed", step.TaskType),
			[]string{"approve", "reject"})
		e.logger.Info("approval required",
			zap.String("run_id", state.RunID),
			zap.String("task_type", string(step.TaskType)),
		)
		return eval, nil
	}

	if eval.Confidence < e.confidenceThreshold || eval.Completeness < e.completenessThreshold {
		eval.NeedsAdaptation = true

		// Retry only while budget remains and the failure mode looks
		// recoverable: the task produced at least a partial structure.
		recoverable := eval.Completeness > 0
		if recoverable && state.RetryLedger[step.ID] < e.maxRetries {
			eval.NeedsRetry = true
		}

		e.logger.Info("step output below quality thresholds",
			zap.String("run_id", state.RunID),
			zap.String("task_type", string(step.TaskType)),
			zap.Float64("confidence", eval.Confidence),
			zap.Float64("completeness", eval.Completeness),
			zap.Bool("needs_retry", eval.NeedsRetry),
		)
	}

	return eval, nil
}

// structuralCompleteness scores what fraction of the expected result
// structure is present: payload, summary, sources.
func structuralCompleteness(result *types.TaskResult, issues *[]string) float64 {
	present := 0
	total := 3

	if len(result.Payload) > 0 {
		present++
	} else {
		*issues = append(*issues, "empty payload")
	}
	if result.Summary != "" {
		present++
	} else {
		*issues = append(*issues, "missing summary")
	}
	if len(result.Sources) > 0 {
		present++
	} else {
		*issues = append(*issues, "no source citations")
	}

	return float64(present) / float64(total)
}
