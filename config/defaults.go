package config

import (
	"fmt"
	"time"
)

// DefaultConfig 返回带合理默认值的完整配置
func DefaultConfig() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			MaxParallelism:        4,
			MaxRetries:            3,
			RouteCacheTTL:         time.Hour,
			FeedbackDeadline:      0, // 无限等待
			ConfidenceThreshold:   0.5,
			CompletenessThreshold: 0.5,
			TaskRateLimit:         0,
			TimeoutFast:           60 * time.Second,
			TimeoutStandard:       120 * time.Second,
			TimeoutHeavy:          180 * time.Second,
			Retry: RetryConfig{
				MaxRetries:   3,
				InitialDelay: 1 * time.Second,
				MaxDelay:     30 * time.Second,
				Multiplier:   2.0,
				Jitter:       true,
			},
			Breaker: BreakerConfig{
				FailureThreshold:           5,
				RecoveryTimeout:            30 * time.Second,
				HalfOpenMaxProbes:          3,
				SuccessThresholdInHalfOpen: 2,
			},
		},
		Tasks: DefaultTaskTable(),
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			DB:        0,
			PoolSize:  10,
			KeyPrefix: "caseflow:",
		},
		Database: DatabaseConfig{
			Driver:       "sqlite",
			DSN:          "caseflow.db",
			MaxOpenConns: 10,
			MaxIdleConns: 2,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "caseflow",
			SampleRate:   1.0,
		},
	}
}

// Validate 校验配置合法性
func (c *Config) Validate() error {
	if c.Orchestrator.MaxParallelism <= 0 {
		return fmt.Errorf("orchestrator.max_parallelism must be positive, got %d", c.Orchestrator.MaxParallelism)
	}
	if c.Orchestrator.MaxRetries < 0 {
		return fmt.Errorf("orchestrator.max_retries must be non-negative, got %d", c.Orchestrator.MaxRetries)
	}
	if c.Orchestrator.ConfidenceThreshold < 0 || c.Orchestrator.ConfidenceThreshold > 1 {
		return fmt.Errorf("orchestrator.confidence_threshold must be in [0,1], got %f", c.Orchestrator.ConfidenceThreshold)
	}
	if c.Orchestrator.CompletenessThreshold < 0 || c.Orchestrator.CompletenessThreshold > 1 {
		return fmt.Errorf("orchestrator.completeness_threshold must be in [0,1], got %f", c.Orchestrator.CompletenessThreshold)
	}
	if err := c.Tasks.Validate(); err != nil {
		return fmt.Errorf("invalid task table: %w", err)
	}
	return nil
}
