package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/caseflow/config"
	"github.com/BaSui01/caseflow/types"
)

// ---------------------------------------------------------------------------
// Mock helpers
// ---------------------------------------------------------------------------

// mockAgent implements types.Agent with scriptable behavior.
type mockAgent struct {
	taskType  types.TaskType
	result    *types.TaskResult
	err       error
	failUntil int32 // succeed after this many calls
	delay     time.Duration
	callCount atomic.Int32
}

func (a *mockAgent) TaskType() types.TaskType { return a.taskType }

func (a *mockAgent) Execute(ctx context.Context, tc types.TaskContext) (*types.TaskResult, error) {
	n := a.callCount.Add(1)
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.failUntil > 0 && n <= a.failUntil {
		return nil, types.NewError(types.ErrTransientTask, "transient glitch")
	}
	if a.err != nil {
		return nil, a.err
	}
	if a.result != nil {
		return a.result, nil
	}
	return &types.TaskResult{
		TaskType:   a.taskType,
		Payload:    map[string]any{"ok": true},
		Summary:    "done",
		Confidence: 0.9,
		ProducedAt: time.Now(),
	}, nil
}

func fastInvokerConfig() config.OrchestratorConfig {
	cfg := config.DefaultConfig().Orchestrator
	cfg.Retry.MaxRetries = 2
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	cfg.Retry.Jitter = false
	cfg.TimeoutFast = 50 * time.Millisecond
	cfg.TimeoutStandard = 100 * time.Millisecond
	cfg.TimeoutHeavy = 200 * time.Millisecond
	return cfg
}

func newTestInvoker(t *testing.T, cfg config.OrchestratorConfig, agents ...types.Agent) *Invoker {
	t.Helper()
	registry := NewAgentRegistry()
	for _, a := range agents {
		registry.Register(a)
	}
	breakers := NewBreakerRegistry(cfg.Breaker, nil, nil)
	return NewInvoker(registry, cfg, breakers, nil)
}

func stepFor(taskType types.TaskType, class types.TimeoutClass) *PlanStep {
	return &PlanStep{
		ID:           stepID(taskType),
		TaskType:     taskType,
		Status:       StepPending,
		TimeoutClass: class,
	}
}

// ---------------------------------------------------------------------------
// Invoke
// ---------------------------------------------------------------------------

func TestInvoker_Success(t *testing.T) {
	t.Parallel()
	agent := &mockAgent{taskType: types.TaskKeyFacts}
	iv := newTestInvoker(t, fastInvokerConfig(), agent)

	result, err := iv.Invoke(context.Background(),
		stepFor(types.TaskKeyFacts, types.TimeoutStandard),
		types.TaskContext{RunID: "run_x", TaskType: types.TaskKeyFacts})
	require.NoError(t, err)
	assert.Equal(t, types.TaskKeyFacts, result.TaskType)
	assert.Equal(t, int32(1), agent.callCount.Load())
}

func TestInvoker_AgentNotFound(t *testing.T) {
	t.Parallel()
	iv := newTestInvoker(t, fastInvokerConfig())

	_, err := iv.Invoke(context.Background(),
		stepFor(types.TaskRisk, types.TimeoutHeavy), types.TaskContext{})
	require.Error(t, err)
	assert.Equal(t, types.ErrAgentNotFound, types.GetErrorCode(err))
}

func TestInvoker_RetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()
	agent := &mockAgent{taskType: types.TaskKeyFacts, failUntil: 2}
	iv := newTestInvoker(t, fastInvokerConfig(), agent)

	result, err := iv.Invoke(context.Background(),
		stepFor(types.TaskKeyFacts, types.TimeoutStandard), types.TaskContext{})
	require.NoError(t, err)
	assert.NotNil(t, result)
	assert.Equal(t, int32(3), agent.callCount.Load())
}

func TestInvoker_RetryBudgetBounded(t *testing.T) {
	t.Parallel()
	agent := &mockAgent{
		taskType: types.TaskKeyFacts,
		err:      types.NewError(types.ErrTransientTask, "always failing"),
	}
	cfg := fastInvokerConfig()
	cfg.Retry.MaxRetries = 2
	iv := newTestInvoker(t, cfg, agent)

	_, err := iv.Invoke(context.Background(),
		stepFor(types.TaskKeyFacts, types.TimeoutStandard), types.TaskContext{})
	require.Error(t, err)
	// 1 initial + 2 retries
	assert.Equal(t, int32(3), agent.callCount.Load())
	assert.Equal(t, types.ErrTransientTask, types.GetErrorCode(err))
}

func TestInvoker_PermanentErrorNotRetried(t *testing.T) {
	t.Parallel()
	agent := &mockAgent{
		taskType: types.TaskKeyFacts,
		err:      types.NewError(types.ErrPermanentTask, "bad input"),
	}
	iv := newTestInvoker(t, fastInvokerConfig(), agent)

	_, err := iv.Invoke(context.Background(),
		stepFor(types.TaskKeyFacts, types.TimeoutStandard), types.TaskContext{})
	require.Error(t, err)
	assert.Equal(t, int32(1), agent.callCount.Load())
	assert.Equal(t, types.ErrPermanentTask, types.GetErrorCode(err))
}

func TestInvoker_TimeoutClassified(t *testing.T) {
	t.Parallel()
	agent := &mockAgent{taskType: types.TaskClassification, delay: 500 * time.Millisecond}
	cfg := fastInvokerConfig()
	cfg.Retry.MaxRetries = 0
	cfg.TimeoutFast = 20 * time.Millisecond
	iv := newTestInvoker(t, cfg, agent)

	_, err := iv.Invoke(context.Background(),
		stepFor(types.TaskClassification, types.TimeoutFast), types.TaskContext{})
	require.Error(t, err)
	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestInvoker_CircuitOpenShortCircuits(t *testing.T) {
	t.Parallel()
	agent := &mockAgent{
		taskType: types.TaskKeyFacts,
		err:      types.NewError(types.ErrTransientTask, "down"),
	}
	cfg := fastInvokerConfig()
	cfg.Retry.MaxRetries = 0
	cfg.Breaker.FailureThreshold = 2
	cfg.Breaker.RecoveryTimeout = time.Minute
	iv := newTestInvoker(t, cfg, agent)

	step := stepFor(types.TaskKeyFacts, types.TimeoutStandard)
	for i := 0; i < 2; i++ {
		_, err := iv.Invoke(context.Background(), step, types.TaskContext{})
		require.Error(t, err)
	}

	// Breaker is now open: the agent must not be called again.
	calls := agent.callCount.Load()
	_, err := iv.Invoke(context.Background(), step, types.TaskContext{})
	require.Error(t, err)
	assert.Equal(t, types.ErrCircuitOpen, types.GetErrorCode(err))
	assert.False(t, types.IsRetryable(err))
	assert.Equal(t, calls, agent.callCount.Load())
}

func TestInvoker_UnknownErrorTreatedAsTransient(t *testing.T) {
	t.Parallel()
	agent := &mockAgent{taskType: types.TaskKeyFacts, err: assert.AnError}
	cfg := fastInvokerConfig()
	cfg.Retry.MaxRetries = 1
	iv := newTestInvoker(t, cfg, agent)

	_, err := iv.Invoke(context.Background(),
		stepFor(types.TaskKeyFacts, types.TimeoutStandard), types.TaskContext{})
	require.Error(t, err)
	assert.Equal(t, types.ErrTransientTask, types.GetErrorCode(err))
	assert.Equal(t, int32(2), agent.callCount.Load())
}
