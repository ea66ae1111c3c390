package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/caseflow/types"
)

// ParallelExecutor 并行执行器
// 将当前就绪集并发派发给 Invoker，收齐全部结果后一次性合入状态。
// 批次内执行顺序不确定，但合并与顺序无关（见 merge.go）。
type ParallelExecutor struct {
	invoker     *Invoker
	maxParallel int64
	retriever   types.Retriever
	logger      *zap.Logger
	tracer      trace.Tracer
}

// NewParallelExecutor 创建并行执行器
func NewParallelExecutor(invoker *Invoker, maxParallel int, retriever types.Retriever, logger *zap.Logger) *ParallelExecutor {
	if maxParallel <= 0 {
		maxParallel = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ParallelExecutor{
		invoker:     invoker,
		maxParallel: int64(maxParallel),
		retriever:   retriever,
		logger:      logger.With(zap.String("component", "executor")),
		tracer:      otel.Tracer("caseflow/orchestrator"),
	}
}

// ExecuteBatch 并发执行就绪步骤集
//
// 每个步骤获得独立、非共享的只读输入快照。所有步骤完成（成功或失败）
// 后才返回 —— 不做部分扇入。运行级取消会中止批次内所有在途调用，
// 已取消的步骤以失败结果返回。
func (e *ParallelExecutor) ExecuteBatch(ctx context.Context, state *RunState, stepIDs []string) []StepOutcome {
	if len(stepIDs) == 0 {
		return nil
	}

	e.logger.Debug("executing batch",
		zap.String("run_id", state.RunID),
		zap.Int("batch_size", len(stepIDs)),
	)

	sem := semaphore.NewWeighted(e.maxParallel)
	outcomeCh := make(chan StepOutcome, len(stepIDs))

	for _, id := range stepIDs {
		step, ok := state.Plan.Step(id)
		if !ok {
			outcomeCh <- StepOutcome{
				StepID: id,
				Err: types.NewError(types.ErrValidation,
					"step not found in plan: "+id),
			}
			continue
		}

		go func(step *PlanStep) {
			started := time.Now()

			if err := sem.Acquire(ctx, 1); err != nil {
				outcomeCh <- StepOutcome{
					StepID:    step.ID,
					TaskType:  step.TaskType,
					Err:       types.NewError(types.ErrRunCancelled, "batch cancelled before dispatch").WithCause(err).WithTaskType(step.TaskType),
					StartedAt: started,
				}
				return
			}
			defer sem.Release(1)

			stepCtx, span := e.tracer.Start(ctx, "step."+string(step.TaskType),
				trace.WithAttributes(
					attribute.String("caseflow.run_id", state.RunID),
					attribute.String("caseflow.step_id", step.ID),
				),
			)
			defer span.End()

			tc := types.TaskContext{
				RunID:     state.RunID,
				TaskType:  step.TaskType,
				CaseID:    state.CaseID,
				Inputs:    state.InputsFor(step),
				Metadata:  deepCopyMap(state.Metadata),
				Retriever: e.retriever,
			}

			result, err := e.invoker.Invoke(stepCtx, step, tc)
			if err != nil {
				span.RecordError(err)
			}
			// Agent 声明的元数据随结果上浮，由合并层并入运行级元数据
			var md map[string]any
			if err == nil && result != nil {
				md = result.Metadata
			}
			outcomeCh <- StepOutcome{
				StepID:     step.ID,
				TaskType:   step.TaskType,
				Result:     result,
				Err:        err,
				Metadata:   md,
				StartedAt:  started,
				FinishedAt: time.Now(),
			}
		}(step)
	}

	// 全量扇入：等待批次内每个步骤给出结果
	outcomes := make([]StepOutcome, 0, len(stepIDs))
	for range stepIDs {
		outcomes = append(outcomes, <-outcomeCh)
	}

	e.logger.Debug("batch complete",
		zap.String("run_id", state.RunID),
		zap.Int("outcomes", len(outcomes)),
	)
	return outcomes
}
