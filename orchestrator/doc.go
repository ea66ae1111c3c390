// Copyright (c) CaseFlow Authors.
// Licensed under the MIT License.

/*
Package orchestrator 提供 CaseFlow 的自适应分析编排引擎。

# 概述

orchestrator 包实现了面向案件文档分析的任务编排：根据静态依赖表将请求
展开为执行计划，按就绪集并发扇出执行，合并结果后经质量门控触发自适应
调整（重试、跳过、补充规划），支持人工审批暂停/恢复与崩溃后从检查点
完整恢复。

# 核心接口与类型

  - Orchestrator        — 控制循环入口（Run / Resume / RespondFeedback）
  - Supervisor          — 就绪集决策器（状态指纹路由缓存加速）
  - ParallelExecutor    — 信号量限流的批次并发执行器（全量扇入）
  - Invoker             — 单任务弹性包装（超时 + 退避重试 + 熔断 + 限速）
  - Evaluator           — 质量评估接口（默认启发式实现可替换）
  - AdaptationEngine    — 自适应调整（retry / skip / replan）
  - FeedbackGate        — 人工反馈闸门（单激活请求 + 排队）
  - CircuitBreaker      — 按任务类型熔断（Closed/Open/HalfOpen）
  - RunState            — 函数式更新的运行状态（克隆替换，不原地修改）
  - RunHistory          — 步骤级执行历史

# 状态管理约定

状态变更遵循克隆替换：组件接收当前状态并返回新值，唯一的活引用由控制
循环持有。批次合并满足交换律与幂等性，崩溃恢复时重放同一批次不改变
结果。检查点先写后恢复：调度恢复前，反馈答复必须已持久化。
*/
package orchestrator
