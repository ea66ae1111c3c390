package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/caseflow/config"
	"github.com/BaSui01/caseflow/retry"
	"github.com/BaSui01/caseflow/types"
)

// AgentRegistry 按任务类型注册分析 Agent
// 构造注入的实例（非全局单例），便于并行测试与多编排器隔离
type AgentRegistry struct {
	agents map[types.TaskType]types.Agent
	mu     sync.RWMutex
}

// NewAgentRegistry 创建空注册表
func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{agents: make(map[types.TaskType]types.Agent)}
}

// Register 注册 Agent；同类型重复注册时覆盖
func (r *AgentRegistry) Register(agent types.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[agent.TaskType()] = agent
}

// Get 获取任务类型对应的 Agent
func (r *AgentRegistry) Get(taskType types.TaskType) (types.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[taskType]
	return a, ok
}

// TaskTypes 返回所有已注册的任务类型
func (r *AgentRegistry) TaskTypes() []types.TaskType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.TaskType, 0, len(r.agents))
	for t := range r.agents {
		out = append(out, t)
	}
	return out
}

// Invoker 单次任务执行的弹性包装
// 按任务等级限时 + 指数退避重试 + 按任务类型熔断 + 可选速率限制
type Invoker struct {
	registry *AgentRegistry
	retryer  retry.Retryer
	breakers *BreakerRegistry
	limiter  *rate.Limiter // nil 表示不限速
	timeouts map[types.TimeoutClass]time.Duration
	logger   *zap.Logger
}

// NewInvoker 创建调用包装器
func NewInvoker(
	registry *AgentRegistry,
	cfg config.OrchestratorConfig,
	breakers *BreakerRegistry,
	logger *zap.Logger,
) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}

	policy := &retry.Policy{
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Multiplier:   cfg.Retry.Multiplier,
		Jitter:       cfg.Retry.Jitter,
		Classifier:   isTransient,
	}

	var limiter *rate.Limiter
	if cfg.TaskRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.TaskRateLimit), 1)
	}

	return &Invoker{
		registry: registry,
		retryer:  retry.NewBackoffRetryer(policy, logger),
		breakers: breakers,
		limiter:  limiter,
		timeouts: map[types.TimeoutClass]time.Duration{
			types.TimeoutFast:     cfg.TimeoutFast,
			types.TimeoutStandard: cfg.TimeoutStandard,
			types.TimeoutHeavy:    cfg.TimeoutHeavy,
		},
		logger: logger.With(zap.String("component", "invoker")),
	}
}

// Invoke 执行一个步骤
// 成功返回任务结果；重试耗尽或熔断打开时返回带类型的失败
func (iv *Invoker) Invoke(ctx context.Context, step *PlanStep, tc types.TaskContext) (*types.TaskResult, error) {
	agent, ok := iv.registry.Get(step.TaskType)
	if !ok {
		return nil, types.NewError(types.ErrAgentNotFound,
			fmt.Sprintf("no agent registered for task type %s", step.TaskType)).
			WithTaskType(step.TaskType)
	}

	timeout := iv.timeouts[step.TimeoutClass]
	if timeout <= 0 {
		timeout = iv.timeouts[types.TimeoutStandard]
	}

	breaker := iv.breakers.GetOrCreate(step.TaskType)

	result, err := iv.retryer.DoWithResult(ctx, func() (any, error) {
		// 每次尝试前检查熔断器：打开时立即短路，不再重试
		if allowed, berr := breaker.AllowRequest(); !allowed {
			return nil, types.NewError(types.ErrCircuitOpen, berr.Error()).
				WithTaskType(step.TaskType)
		}

		if iv.limiter != nil {
			if lerr := iv.limiter.Wait(ctx); lerr != nil {
				return nil, types.NewError(types.ErrRunCancelled, "rate limiter wait cancelled").
					WithCause(lerr).WithTaskType(step.TaskType)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		res, execErr := agent.Execute(attemptCtx, tc)
		if execErr != nil {
			breaker.RecordFailure()
			return nil, iv.classify(execErr, attemptCtx, step.TaskType)
		}

		breaker.RecordSuccess()
		return res, nil
	})
	if err != nil {
		iv.logger.Warn("task invocation failed",
			zap.String("run_id", tc.RunID),
			zap.String("task_type", string(step.TaskType)),
			zap.Error(err),
		)
		return nil, err
	}

	return result.(*types.TaskResult), nil
}

// classify 将原始失败映射到错误分类
func (iv *Invoker) classify(err error, attemptCtx context.Context, taskType types.TaskType) error {
	// 已分类的错误原样透传
	var typed *types.Error
	if errors.As(err, &typed) {
		if typed.TaskType == "" {
			typed.TaskType = taskType
		}
		return typed
	}

	// 超出本次尝试的超时上限：视为可重试的瞬时失败
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return types.NewError(types.ErrTimeout, "task execution timed out").
			WithCause(err).WithTaskType(taskType)
	}

	// 运行级取消：不可重试
	if errors.Is(err, context.Canceled) {
		return types.NewError(types.ErrRunCancelled, "task execution cancelled").
			WithCause(err).WithTaskType(taskType)
	}

	// 未知错误默认按瞬时失败处理
	return types.NewError(types.ErrTransientTask, err.Error()).
		WithCause(err).WithTaskType(taskType)
}

// isTransient 重试判定：仅瞬时分类的失败参与退避重试
func isTransient(err error) bool {
	var typed *types.Error
	if errors.As(err, &typed) {
		switch typed.Code {
		case types.ErrTransientTask, types.ErrTimeout:
			return true
		default:
			return false
		}
	}
	return false
}
