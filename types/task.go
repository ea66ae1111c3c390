package types

import (
	"context"
	"time"
)

// TaskType 分析任务类型标识
// 每个 TaskType 对应一个专门的分析 Agent（如时间线抽取、矛盾点检测）
type TaskType string

// 标准分析任务集
const (
	TaskClassification TaskType = "classification"
	TaskKeyFacts       TaskType = "key_facts"
	TaskTimeline       TaskType = "timeline"
	TaskDiscrepancy    TaskType = "discrepancy"
	TaskRisk           TaskType = "risk"
	TaskSummary        TaskType = "summary"
)

// TimeoutClass 任务超时等级
// 不同权重的任务使用不同的调用超时上限
type TimeoutClass string

const (
	// TimeoutFast 轻量任务（默认 60s）
	TimeoutFast TimeoutClass = "fast"
	// TimeoutStandard 标准任务（默认 120s）
	TimeoutStandard TimeoutClass = "standard"
	// TimeoutHeavy 重量任务（默认 180s）
	TimeoutHeavy TimeoutClass = "heavy"
)

// TaskResult 单个分析任务的输出
// Payload 对编排器不透明，仅由 Evaluator 做结构性检查
type TaskResult struct {
	TaskType   TaskType       `json:"task_type"`
	Payload    map[string]any `json:"payload,omitempty"`
	Summary    string         `json:"summary,omitempty"`
	Confidence float64        `json:"confidence"`
	Sources    []string       `json:"sources,omitempty"`
	ProducedAt time.Time      `json:"produced_at"`
	// Metadata 由 Agent 声明、随结果合并进运行级元数据
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TaskContext 传递给 Agent 的只读执行上下文
// 包含运行标识、该任务声明依赖的前序结果快照，以及文档检索句柄
type TaskContext struct {
	RunID     string
	TaskType  TaskType
	CaseID    string
	Inputs    map[TaskType]*TaskResult
	Metadata  map[string]any
	Retriever Retriever
}

// Agent 单个分析任务的执行接口（任务内部推理不在编排器范围内）
// 同一 Agent 实例必须支持跨任务类型的并发调用
type Agent interface {
	// TaskType 返回该 Agent 负责的任务类型
	TaskType() TaskType
	// Execute 执行分析任务
	Execute(ctx context.Context, tc TaskContext) (*TaskResult, error)
}

// Document 检索返回的文档片段
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Retriever 语义检索接口
// 实现位于编排器之外；编排器仅将其透传给任务，
// 并通过 Invoker 的超时与熔断覆盖其不可预期的延迟
type Retriever interface {
	Search(ctx context.Context, query string, filters map[string]string, k int) ([]Document, error)
}
