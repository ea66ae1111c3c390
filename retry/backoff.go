package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy 定义重试策略配置
// 集中化的策略对象，替代散落在各调用点的 ad-hoc 重试逻辑
type Policy struct {
	MaxRetries      int                                               // 最大重试次数（0 表示不重试）
	InitialDelay    time.Duration                                     // 初始延迟时间
	MaxDelay        time.Duration                                     // 最大延迟时间
	Multiplier      float64                                           // 延迟时间倍增因子（指数退避）
	Jitter          bool                                              // 是否添加随机抖动（防止雪崩）
	RetryableErrors []error                                           // 可重试的错误类型（为空则重试所有错误）
	Classifier      func(err error) bool                              // 自定义可重试判定（优先于 RetryableErrors）
	OnRetry         func(attempt int, err error, delay time.Duration) // 重试回调
}

// DefaultPolicy 返回默认的重试策略
// 适用于大部分分析任务调用场景
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer 重试器接口
type Retryer interface {
	// Do 执行函数，失败时根据策略重试
	Do(ctx context.Context, fn func() error) error

	// DoWithResult 执行函数并返回结果，失败时根据策略重试
	DoWithResult(ctx context.Context, fn func() (any, error)) (any, error)
}

// backoffRetryer 基于指数退避的重试器实现
type backoffRetryer struct {
	policy *Policy
	logger *zap.Logger
}

// NewBackoffRetryer 创建指数退避重试器
func NewBackoffRetryer(policy *Policy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// 参数校验
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 1 * time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 2.0
	}

	return &backoffRetryer{
		policy: policy,
		logger: logger,
	}
}

// Do 实现 Retryer.Do
func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	_, err := r.DoWithResult(ctx, func() (any, error) {
		return nil, fn()
	})
	return err
}

// DoWithResult 实现 Retryer.DoWithResult
// 核心重试逻辑：指数退避 + 随机抖动 + 错误过滤
func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	var lastErr error
	var result any

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		// 第一次执行不延迟
		if attempt > 0 {
			delay := r.calculateDelay(attempt)

			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			// 等待延迟，同时监听 context 取消
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		result, lastErr = fn()

		if lastErr == nil {
			if attempt > 0 {
				r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return result, nil
		}

		if !r.isRetryable(lastErr) {
			r.logger.Debug("error not retryable", zap.Error(lastErr))
			return nil, lastErr
		}

		if attempt >= r.policy.MaxRetries {
			break
		}
	}

	r.logger.Warn("retries exhausted",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)

	return nil, fmt.Errorf("failed after %d retries: %w", r.policy.MaxRetries, lastErr)
}

// calculateDelay 计算延迟时间
// 使用指数退避算法 + 可选的随机抖动
func (r *backoffRetryer) calculateDelay(attempt int) time.Duration {
	// 指数退避：delay = initial * multiplier^(attempt-1)
	delay := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))

	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}

	// 添加随机抖动（±25%），防止多个调用方同时重试导致的雪崩效应
	if r.policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	if delay < float64(r.policy.InitialDelay) {
		delay = float64(r.policy.InitialDelay)
	}

	return time.Duration(delay)
}

// isRetryable 检查错误是否可重试
func (r *backoffRetryer) isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if r.policy.Classifier != nil {
		return r.policy.Classifier(err)
	}

	// 如果没有配置可重试错误列表，则所有错误都可重试
	if len(r.policy.RetryableErrors) == 0 {
		return true
	}

	for _, retryableErr := range r.policy.RetryableErrors {
		if errors.Is(err, retryableErr) {
			return true
		}
	}

	return false
}
