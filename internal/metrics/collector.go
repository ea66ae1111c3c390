// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 步骤指标
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec

	// 自适应指标
	adaptationsTotal *prometheus.CounterVec

	// 路由缓存指标
	routeCacheHits   *prometheus.CounterVec
	routeCacheMisses *prometheus.CounterVec

	// 检查点指标
	checkpointWrites *prometheus.CounterVec

	// 人工反馈指标
	feedbackPending *prometheus.GaugeVec

	// 熔断器指标
	breakerTransitions *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 步骤指标
	c.stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Total number of executed steps",
		},
		[]string{"task_type", "status"},
	)

	c.stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"task_type"},
	)

	// 自适应指标
	c.adaptationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adaptations_total",
			Help:      "Total number of adaptation decisions",
		},
		[]string{"strategy"},
	)

	// 路由缓存指标
	c.routeCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_cache_hits_total",
			Help:      "Total number of routing cache hits",
		},
		[]string{},
	)

	c.routeCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_cache_misses_total",
			Help:      "Total number of routing cache misses",
		},
		[]string{},
	)

	// 检查点指标
	c.checkpointWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_writes_total",
			Help:      "Total number of checkpoint writes",
		},
		[]string{"status"},
	)

	// 人工反馈指标
	c.feedbackPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feedback_pending",
			Help:      "Number of runs waiting for human feedback",
		},
		[]string{},
	)

	// 熔断器指标
	c.breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"task_type", "to_state"},
	)

	return c
}

// =============================================================================
// 📝 记录方法
// =============================================================================

// RecordStep 记录一次步骤执行
func (c *Collector) RecordStep(taskType, status string, duration time.Duration) {
	c.stepsTotal.WithLabelValues(taskType, status).Inc()
	c.stepDuration.WithLabelValues(taskType).Observe(duration.Seconds())
}

// RecordAdaptation 记录一次自适应决策
func (c *Collector) RecordAdaptation(strategy string) {
	c.adaptationsTotal.WithLabelValues(strategy).Inc()
}

// RecordRouteCacheHit 记录路由缓存命中
func (c *Collector) RecordRouteCacheHit() {
	c.routeCacheHits.WithLabelValues().Inc()
}

// RecordRouteCacheMiss 记录路由缓存未命中
func (c *Collector) RecordRouteCacheMiss() {
	c.routeCacheMisses.WithLabelValues().Inc()
}

// RecordCheckpointWrite 记录检查点写入
func (c *Collector) RecordCheckpointWrite(status string) {
	c.checkpointWrites.WithLabelValues(status).Inc()
}

// SetFeedbackPending 设置等待人工反馈的运行数
func (c *Collector) SetFeedbackPending(count int) {
	c.feedbackPending.WithLabelValues().Set(float64(count))
}

// RecordBreakerTransition 记录熔断器状态切换
func (c *Collector) RecordBreakerTransition(taskType, toState string) {
	c.breakerTransitions.WithLabelValues(taskType, toState).Inc()
}
