// =============================================================================
// 📦 CaseFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("caseflow.yaml").
//	    WithEnvPrefix("CASEFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 CaseFlow 编排器的完整配置结构
type Config struct {
	// Orchestrator 编排器配置
	Orchestrator OrchestratorConfig `yaml:"orchestrator" env:"ORCHESTRATOR"`

	// Tasks 任务依赖表（任务类型 → 依赖/超时等级/审批标记）
	Tasks TaskTable `yaml:"tasks" env:"-"`

	// Redis 检查点存储配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 数据库检查点存储配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// OrchestratorConfig 编排器核心配置
type OrchestratorConfig struct {
	// 单批次最大并发任务数
	MaxParallelism int `yaml:"max_parallelism" env:"MAX_PARALLELISM"`
	// 每步骤最大适应性重试次数（按运行计）
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 路由缓存 TTL
	RouteCacheTTL time.Duration `yaml:"route_cache_ttl" env:"ROUTE_CACHE_TTL"`
	// 是否禁用路由缓存（缓存仅为优化，关闭后语义不变）
	RouteCacheDisabled bool `yaml:"route_cache_disabled" env:"ROUTE_CACHE_DISABLED"`
	// 检查点写失败时是否允许继续（尽力而为持久化）
	BestEffortPersistence bool `yaml:"best_effort_persistence" env:"BEST_EFFORT_PERSISTENCE"`
	// 人工反馈等待上限（0 表示无限等待）
	FeedbackDeadline time.Duration `yaml:"feedback_deadline" env:"FEEDBACK_DEADLINE"`
	// 评估阈值：低于该值触发适应性调整
	ConfidenceThreshold   float64 `yaml:"confidence_threshold" env:"CONFIDENCE_THRESHOLD"`
	CompletenessThreshold float64 `yaml:"completeness_threshold" env:"COMPLETENESS_THRESHOLD"`
	// 任务调用速率限制（每秒），0 表示不限制
	TaskRateLimit float64 `yaml:"task_rate_limit" env:"TASK_RATE_LIMIT"`
	// 超时等级对应的调用上限
	TimeoutFast     time.Duration `yaml:"timeout_fast" env:"TIMEOUT_FAST"`
	TimeoutStandard time.Duration `yaml:"timeout_standard" env:"TIMEOUT_STANDARD"`
	TimeoutHeavy    time.Duration `yaml:"timeout_heavy" env:"TIMEOUT_HEAVY"`
	// Retry 退避策略
	Retry RetryConfig `yaml:"retry" env:"RETRY"`
	// Breaker 熔断器配置
	Breaker BreakerConfig `yaml:"breaker" env:"BREAKER"`
}

// RetryConfig 调用重试退避配置
type RetryConfig struct {
	// 最大重试次数（0 表示不重试）
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 初始延迟
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	// 最大延迟
	MaxDelay time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	// 倍增因子
	Multiplier float64 `yaml:"multiplier" env:"MULTIPLIER"`
	// 是否添加随机抖动
	Jitter bool `yaml:"jitter" env:"JITTER"`
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	// 连续失败阈值
	FailureThreshold int `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	// 熔断后冷却时间
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" env:"RECOVERY_TIMEOUT"`
	// 半开状态探测请求数
	HalfOpenMaxProbes int `yaml:"half_open_max_probes" env:"HALF_OPEN_MAX_PROBES"`
	// 半开恢复所需连续成功数
	SuccessThresholdInHalfOpen int `yaml:"success_threshold_in_half_open" env:"SUCCESS_THRESHOLD_IN_HALF_OPEN"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 数据源（sqlite 文件路径或 :memory:）
	DSN string `yaml:"dsn" env:"DSN"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "CASEFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
