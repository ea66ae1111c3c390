package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/caseflow/types"
)

// =============================================================================
// 🤖 演示代理
// =============================================================================
// 确定性的内置代理，展示完整的编排流程而不依赖外部模型服务。
// 生产部署用自己的 types.Agent 实现替换。

type demoAgent struct {
	taskType types.TaskType
	execute  func(ctx context.Context, tc types.TaskContext) (*types.TaskResult, error)
}

func (a *demoAgent) TaskType() types.TaskType { return a.taskType }

func (a *demoAgent) Execute(ctx context.Context, tc types.TaskContext) (*types.TaskResult, error) {
	return a.execute(ctx, tc)
}

func demoAgents() []types.Agent {
	return []types.Agent{
		&demoAgent{taskType: types.TaskClassification, execute: classifyCase},
		&demoAgent{taskType: types.TaskKeyFacts, execute: extractKeyFacts},
		&demoAgent{taskType: types.TaskTimeline, execute: buildTimeline},
		&demoAgent{taskType: types.TaskDiscrepancy, execute: findDiscrepancies},
		&demoAgent{taskType: types.TaskRisk, execute: assessRisk},
		&demoAgent{taskType: types.TaskSummary, execute: summarize},
	}
}

func classifyCase(ctx context.Context, tc types.TaskContext) (*types.TaskResult, error) {
	docs, err := tc.Retriever.Search(ctx, "case category", nil, 3)
	if err != nil {
		return nil, types.NewError(types.ErrTransientTask, "retrieval failed").WithCause(err)
	}
	return &types.TaskResult{
		TaskType:   types.TaskClassification,
		Payload:    map[string]any{"category": "contract_dispute", "documents": len(docs)},
		Summary:    "classified as contract dispute",
		Confidence: 0.92,
		Sources:    sourceIDs(docs),
		ProducedAt: time.Now(),
	}, nil
}

func extractKeyFacts(ctx context.Context, tc types.TaskContext) (*types.TaskResult, error) {
	docs, err := tc.Retriever.Search(ctx, "key facts", nil, 5)
	if err != nil {
		return nil, types.NewError(types.ErrTransientTask, "retrieval failed").WithCause(err)
	}
	facts := make([]any, 0, len(docs))
	for _, d := range docs {
		facts = append(facts, strings.SplitN(d.Content, ".", 2)[0])
	}
	return &types.TaskResult{
		TaskType:   types.TaskKeyFacts,
		Payload:    map[string]any{"facts": facts},
		Summary:    fmt.Sprintf("extracted %d key facts", len(facts)),
		Confidence: 0.88,
		Sources:    sourceIDs(docs),
		ProducedAt: time.Now(),
	}, nil
}

func buildTimeline(ctx context.Context, tc types.TaskContext) (*types.TaskResult, error) {
	return &types.TaskResult{
		TaskType: types.TaskTimeline,
		Payload: map[string]any{
			"events": []any{
				map[string]any{"date": "2025-01-15", "event": "contract signed"},
				map[string]any{"date": "2025-03-02", "event": "first delivery missed"},
				map[string]any{"date": "2025-04-20", "event": "breach notice sent"},
			},
		},
		Summary:    "3 events on timeline",
		Confidence: 0.85,
		ProducedAt: time.Now(),
	}, nil
}

func findDiscrepancies(ctx context.Context, tc types.TaskContext) (*types.TaskResult, error) {
	return &types.TaskResult{
		TaskType: types.TaskDiscrepancy,
		Payload: map[string]any{
			"discrepancies": []any{
				map[string]any{"field": "delivery_date", "claimed": "2025-03-01", "documented": "2025-03-02"},
			},
		},
		Summary:    "1 discrepancy between claim and documents",
		Confidence: 0.81,
		ProducedAt: time.Now(),
	}, nil
}

func assessRisk(ctx context.Context, tc types.TaskContext) (*types.TaskResult, error) {
	// Risk depends on the discrepancy output when present.
	level := "low"
	if disc, ok := tc.Inputs[types.TaskDiscrepancy]; ok {
		if list, ok := disc.Payload["discrepancies"].([]any); ok && len(list) > 0 {
			level = "medium"
		}
	}
	return &types.TaskResult{
		TaskType:   types.TaskRisk,
		Payload:    map[string]any{"level": level, "factors": []any{"documentation mismatch"}},
		Summary:    "risk level: " + level,
		Confidence: 0.79,
		ProducedAt: time.Now(),
	}, nil
}

func summarize(ctx context.Context, tc types.TaskContext) (*types.TaskResult, error) {
	parts := make([]string, 0, len(tc.Inputs))
	for _, in := range tc.Inputs {
		if in != nil && in.Summary != "" {
			parts = append(parts, in.Summary)
		}
	}
	return &types.TaskResult{
		TaskType:   types.TaskSummary,
		Payload:    map[string]any{"sections": len(parts)},
		Summary:    strings.Join(parts, "; "),
		Confidence: 0.9,
		ProducedAt: time.Now(),
	}, nil
}

func sourceIDs(docs []types.Document) []string {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids
}

// =============================================================================
// 📚 演示检索器
// =============================================================================

type demoRetriever struct {
	docs []types.Document
}

func newDemoRetriever() *demoRetriever {
	return &demoRetriever{
		docs: []types.Document{
			{ID: "doc-001", Content: "Supply contract between Acme Corp and Beta Ltd signed on 2025-01-15. Delivery due monthly."},
			{ID: "doc-002", Content: "Delivery log shows first shipment arrived 2025-03-02, one day after the contractual deadline."},
			{ID: "doc-003", Content: "Breach notice sent by Acme Corp on 2025-04-20 citing repeated late deliveries."},
			{ID: "doc-004", Content: "Email from Beta Ltd operations claiming delivery was completed on 2025-03-01."},
			{ID: "doc-005", Content: "Contract clause 7.2 sets liquidated damages for each late delivery."},
		},
	}
}

func (r *demoRetriever) Search(ctx context.Context, query string, filters map[string]string, k int) ([]types.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 || k > len(r.docs) {
		k = len(r.docs)
	}
	return r.docs[:k], nil
}
