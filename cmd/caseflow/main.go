// =============================================================================
// CaseFlow 主入口
// =============================================================================
// 案件文档分析编排器的命令行入口
//
// 使用方法:
//
//	caseflow analyze --case case-001 --tasks summary,risk   # 运行分析
//	caseflow analyze --config config.yaml                   # 指定配置文件
//	caseflow resume --run run_xxx                           # 从检查点恢复
//	caseflow version                                        # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/caseflow/checkpoint"
	"github.com/BaSui01/caseflow/config"
	"github.com/BaSui01/caseflow/internal/metrics"
	"github.com/BaSui01/caseflow/internal/telemetry"
	"github.com/BaSui01/caseflow/orchestrator"
	"github.com/BaSui01/caseflow/types"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "analyze":
		runAnalyze(os.Args[2:])
	case "resume":
		runResume(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ analyze 命令
// =============================================================================

func runAnalyze(args []string) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	caseID := fs.String("case", "demo-case", "Case identifier")
	tasksFlag := fs.String("tasks", "summary,risk", "Comma-separated task types to run")
	fs.Parse(args)

	cfg, logger, cleanup := bootstrap(*configPath)
	defer cleanup()

	requested := parseTasks(*tasksFlag)
	if len(requested) == 0 {
		fmt.Fprintln(os.Stderr, "No task types requested")
		os.Exit(1)
	}

	orch, sink := buildOrchestrator(cfg, logger)
	defer orch.Close()

	go printEvents(sink)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	state, err := orch.Run(ctx, *caseID, requested)
	if err != nil {
		logger.Error("run failed", zap.Error(err))
		if state != nil {
			printSummary(state)
		}
		os.Exit(1)
	}

	// 演示审批流程：自动批准所有挂起的反馈请求
	for state.WaitingForHuman {
		req := state.ActiveFeedback
		logger.Info("auto-approving feedback request (demo mode)",
			zap.String("request_id", req.ID),
			zap.String("question", req.Question),
		)
		state, err = orch.RespondFeedback(ctx, state.RunID, req.ID, &orchestrator.FeedbackResponse{
			Approved: true,
			Answer:   "approve",
		})
		if err != nil {
			logger.Error("feedback response failed", zap.Error(err))
			os.Exit(1)
		}
	}

	printSummary(state)
}

// =============================================================================
// 🔁 resume 命令
// =============================================================================

func runResume(args []string) {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	runID := fs.String("run", "", "Run id to resume")
	fs.Parse(args)

	if *runID == "" {
		fmt.Fprintln(os.Stderr, "resume requires --run")
		os.Exit(1)
	}

	cfg, logger, cleanup := bootstrap(*configPath)
	defer cleanup()

	orch, sink := buildOrchestrator(cfg, logger)
	defer orch.Close()

	go printEvents(sink)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	state, err := orch.Resume(ctx, *runID)
	if err != nil {
		logger.Error("resume failed", zap.Error(err))
		os.Exit(1)
	}
	printSummary(state)
}

// =============================================================================
// 🔧 装配
// =============================================================================

func bootstrap(configPath string) (*config.Config, *zap.Logger, func()) {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)

	logger.Info("Starting CaseFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	cleanup := func() {
		if otelProviders != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := otelProviders.Shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", zap.Error(err))
			}
		}
		logger.Sync()
	}
	return cfg, logger, cleanup
}

func buildOrchestrator(cfg *config.Config, logger *zap.Logger) (*orchestrator.Orchestrator, *orchestrator.ChannelSink) {
	store := openStore(cfg, logger)

	registry := orchestrator.NewAgentRegistry()
	for _, agent := range demoAgents() {
		registry.Register(agent)
	}

	sink := orchestrator.NewChannelSink(256)
	collector := metrics.NewCollector("caseflow", logger)

	orch, err := orchestrator.New(cfg, registry, store,
		orchestrator.WithLogger(logger),
		orchestrator.WithSink(sink),
		orchestrator.WithMetrics(collector),
		orchestrator.WithRetriever(newDemoRetriever()),
	)
	if err != nil {
		logger.Fatal("failed to build orchestrator", zap.Error(err))
	}
	return orch, sink
}

// openStore 按配置选择检查点后端：Redis 优先，其次 SQLite，最后内存。
func openStore(cfg *config.Config, logger *zap.Logger) checkpoint.Store {
	if cfg.Redis.Addr != "" {
		store, err := checkpoint.NewRedisStore(cfg.Redis)
		if err == nil {
			logger.Info("using Redis checkpoint store", zap.String("addr", cfg.Redis.Addr))
			return store
		}
		logger.Warn("Redis unavailable, falling back", zap.Error(err))
	}

	if cfg.Database.DSN != "" {
		store, err := checkpoint.NewGormStore(cfg.Database)
		if err == nil {
			logger.Info("using SQLite checkpoint store", zap.String("dsn", cfg.Database.DSN))
			return store
		}
		logger.Warn("SQLite unavailable, falling back", zap.Error(err))
	}

	logger.Info("using in-memory checkpoint store")
	return checkpoint.NewMemoryStore()
}

func parseTasks(s string) []types.TaskType {
	parts := strings.Split(s, ",")
	out := make([]types.TaskType, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, types.TaskType(p))
		}
	}
	return out
}

func printEvents(sink *orchestrator.ChannelSink) {
	for event := range sink.Events() {
		fmt.Printf("  [%s] %s %s\n", event.Timestamp.Format("15:04:05"), event.Type, event.TaskType)
	}
}

func printSummary(state *orchestrator.RunState) {
	fmt.Printf("\nRun %s: %s\n", state.RunID, state.Status)
	for taskType, result := range state.Results {
		fmt.Printf("  %-16s confidence=%.2f  %s\n", taskType, result.Confidence, result.Summary)
	}
	if len(state.Errors) > 0 {
		fmt.Printf("  errors: %d\n", len(state.Errors))
	}
	if len(state.AdaptationHistory) > 0 {
		fmt.Printf("  adaptations: %d\n", len(state.AdaptationHistory))
	}
}

// =============================================================================
// 📋 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// =============================================================================
// ℹ️ 帮助与版本
// =============================================================================

func printUsage() {
	fmt.Println(`CaseFlow - adaptive analysis orchestrator for case documents

Usage:
  caseflow analyze [--config FILE] [--case ID] [--tasks LIST]
  caseflow resume  [--config FILE] --run RUN_ID
  caseflow version

Commands:
  analyze   Run an analysis over a case (default tasks: summary,risk)
  resume    Resume a checkpointed run
  version   Print version information`)
}

func printVersion() {
	fmt.Printf("CaseFlow %s (built %s, commit %s)\n", Version, BuildTime, GitCommit)
}
