package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy() *Policy {
	return &Policy{
		MaxRetries:   3,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}
}

func TestBackoffRetryer_Success(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(), zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func() error {
		callCount++
		return nil // 第一次就成功
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount)
}

func TestBackoffRetryer_RetryAndSuccess(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(), zap.NewNop())

	callCount := 0
	testErr := errors.New("temporary error")

	err := retryer.Do(context.Background(), func() error {
		callCount++
		if callCount < 3 {
			return testErr // 前两次失败
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, callCount)
}

func TestBackoffRetryer_MaxRetriesExceeded(t *testing.T) {
	policy := fastPolicy()
	policy.MaxRetries = 2
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	callCount := 0
	testErr := errors.New("persistent error")

	err := retryer.Do(context.Background(), func() error {
		callCount++
		return testErr
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, testErr)
	assert.Contains(t, err.Error(), "failed after 2 retries")
	// 初始调用 + 2 次重试
	assert.Equal(t, 3, callCount)
}

func TestBackoffRetryer_ContextCanceled(t *testing.T) {
	policy := fastPolicy()
	policy.InitialDelay = 100 * time.Millisecond
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	callCount := 0
	err := retryer.Do(ctx, func() error {
		callCount++
		return errors.New("error")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, callCount, 1)
}

func TestBackoffRetryer_RetryableErrors(t *testing.T) {
	retryableErr := errors.New("retryable error")
	nonRetryableErr := errors.New("non-retryable error")

	policy := fastPolicy()
	policy.RetryableErrors = []error{retryableErr}
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	t.Run("retryable error", func(t *testing.T) {
		callCount := 0
		err := retryer.Do(context.Background(), func() error {
			callCount++
			if callCount < 3 {
				return retryableErr
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 3, callCount)
	})

	t.Run("non-retryable error", func(t *testing.T) {
		callCount := 0
		err := retryer.Do(context.Background(), func() error {
			callCount++
			return nonRetryableErr
		})

		assert.Error(t, err)
		assert.Equal(t, 1, callCount)
	})
}

func TestBackoffRetryer_ClassifierOverridesErrorList(t *testing.T) {
	listedErr := errors.New("listed")

	policy := fastPolicy()
	policy.RetryableErrors = []error{listedErr}
	// Classifier 优先于 RetryableErrors：列表中的错误也被判定为不可重试
	policy.Classifier = func(err error) bool { return false }
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func() error {
		callCount++
		return listedErr
	})

	assert.Error(t, err)
	assert.Equal(t, 1, callCount)
}

func TestBackoffRetryer_DelayCalculation(t *testing.T) {
	policy := &Policy{
		MaxRetries:   5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		Jitter:       false,
	}
	retryer := NewBackoffRetryer(policy, zap.NewNop()).(*backoffRetryer)

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 100 * time.Millisecond}, // 初始延迟
		{2, 200 * time.Millisecond}, // 100 * 2^1
		{3, 400 * time.Millisecond}, // 100 * 2^2
		{4, 800 * time.Millisecond}, // 100 * 2^3
		{5, 1 * time.Second},        // 达到最大延迟
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, retryer.calculateDelay(tt.attempt))
	}
}

func TestBackoffRetryer_JitterStaysInBounds(t *testing.T) {
	policy := &Policy{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
	retryer := NewBackoffRetryer(policy, zap.NewNop()).(*backoffRetryer)

	// 抖动范围 ±25%，且不低于初始延迟
	for i := 0; i < 100; i++ {
		delay := retryer.calculateDelay(2)
		assert.GreaterOrEqual(t, delay, 100*time.Millisecond)
		assert.LessOrEqual(t, delay, 250*time.Millisecond)
	}
}

func TestBackoffRetryer_OnRetryCallback(t *testing.T) {
	var attempts []int
	policy := fastPolicy()
	policy.MaxRetries = 2
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	_ = retryer.Do(context.Background(), func() error {
		return errors.New("always fails")
	})

	assert.Equal(t, []int{1, 2}, attempts)
}

func TestBackoffRetryer_DoWithResult(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(), zap.NewNop())

	callCount := 0
	result, err := retryer.DoWithResult(context.Background(), func() (any, error) {
		callCount++
		if callCount < 2 {
			return nil, errors.New("transient")
		}
		return "payload", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "payload", result)
	assert.Equal(t, 2, callCount)
}

func TestNewBackoffRetryer_SanitizesPolicy(t *testing.T) {
	retryer := NewBackoffRetryer(&Policy{
		MaxRetries:   -1,
		InitialDelay: -time.Second,
		Multiplier:   0.5,
	}, nil).(*backoffRetryer)

	assert.Equal(t, 0, retryer.policy.MaxRetries)
	assert.Equal(t, 1*time.Second, retryer.policy.InitialDelay)
	assert.Equal(t, 2.0, retryer.policy.Multiplier)
}
