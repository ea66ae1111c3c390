package orchestrator

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/caseflow/types"
)

// FeedbackKind 反馈请求类型
type FeedbackKind string

const (
	// FeedbackClarification 澄清问题
	FeedbackClarification FeedbackKind = "clarification"
	// FeedbackApproval 审批签核
	FeedbackApproval FeedbackKind = "approval"
)

// FeedbackStatus 反馈请求状态
type FeedbackStatus string

const (
	FeedbackPending  FeedbackStatus = "pending"
	FeedbackAnswered FeedbackStatus = "answered"
	FeedbackExpired  FeedbackStatus = "expired"
)

// FeedbackRequest 人工反馈请求
// 生命周期: pending → answered；同一时刻最多一个 pending 请求处于
// 激活状态（waiting_for_human 为真 ⇔ 存在激活的 pending 请求）
type FeedbackRequest struct {
	ID        string         `json:"id"`
	TaskType  types.TaskType `json:"task_type"`
	Kind      FeedbackKind   `json:"kind"`
	Question  string         `json:"question"`
	Options   []string       `json:"options,omitempty"`
	Status    FeedbackStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// FeedbackResponse 外部调用方提供的反馈响应
type FeedbackResponse struct {
	RequestID  string         `json:"request_id"`
	Approved   bool           `json:"approved"`
	Answer     string         `json:"answer,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
}

// NewFeedbackRequest 创建 pending 状态的反馈请求
func NewFeedbackRequest(taskType types.TaskType, kind FeedbackKind, question string, options []string) *FeedbackRequest {
	return &FeedbackRequest{
		ID:        uuid.NewString(),
		TaskType:  taskType,
		Kind:      kind,
		Question:  question,
		Options:   options,
		Status:    FeedbackPending,
		CreatedAt: time.Now(),
	}
}

// FeedbackGate 人工反馈闸门
// 所有变更遵循函数式更新：接收状态、返回新状态，不修改入参
type FeedbackGate struct {
	logger *zap.Logger
}

// NewFeedbackGate 创建反馈闸门
func NewFeedbackGate(logger *zap.Logger) *FeedbackGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedbackGate{logger: logger.With(zap.String("component", "feedback_gate"))}
}

// Request 提交反馈请求
// 若已有激活请求，新请求排队等待；否则立即激活并暂停运行
func (g *FeedbackGate) Request(state *RunState, req *FeedbackRequest) *RunState {
	next := state.Clone()

	if next.ActiveFeedback != nil && next.ActiveFeedback.Status == FeedbackPending {
		// 第二个暂停必须等第一个解决
		next.FeedbackQueue = append(next.FeedbackQueue, req)
		g.logger.Info("feedback request queued",
			zap.String("run_id", state.RunID),
			zap.String("request_id", req.ID),
			zap.Int("queue_depth", len(next.FeedbackQueue)),
		)
		return next
	}

	next.ActiveFeedback = req
	next.WaitingForHuman = true
	next.Status = RunStatusPaused
	g.logger.Info("run paused for human feedback",
		zap.String("run_id", state.RunID),
		zap.String("request_id", req.ID),
		zap.String("kind", string(req.Kind)),
	)
	return next
}

// Respond 记录反馈响应并恢复调度
// 请求 id 必须与激活请求精确匹配；答复被合入状态元数据
func (g *FeedbackGate) Respond(state *RunState, requestID string, resp *FeedbackResponse) (*RunState, error) {
	if state.ActiveFeedback == nil || state.ActiveFeedback.Status != FeedbackPending {
		return nil, types.NewError(types.ErrFeedbackNotFound,
			fmt.Sprintf("run %s has no pending feedback request", state.RunID))
	}
	if state.ActiveFeedback.ID != requestID {
		return nil, types.NewError(types.ErrFeedbackNotFound,
			fmt.Sprintf("feedback request %s not found (active: %s)", requestID, state.ActiveFeedback.ID))
	}

	next := state.Clone()
	next.ActiveFeedback.Status = FeedbackAnswered

	// 复制一份再补齐字段，不回写调用方传入的响应
	stored := *resp
	stored.Metadata = deepCopyMap(resp.Metadata)
	if stored.ReceivedAt.IsZero() {
		stored.ReceivedAt = time.Now()
	}
	stored.RequestID = requestID
	next.FeedbackResponses[requestID] = &stored

	// 答复并入元数据，供后续步骤读取
	next.Metadata = deepMerge(next.Metadata, map[string]any{
		"feedback": map[string]any{
			requestID: map[string]any{
				"approved": resp.Approved,
				"answer":   resp.Answer,
			},
		},
	})

	// 队列中有等待的请求则立即激活下一个，运行保持暂停
	if len(next.FeedbackQueue) > 0 {
		nextReq := next.FeedbackQueue[0]
		next.FeedbackQueue = next.FeedbackQueue[1:]
		next.ActiveFeedback = nextReq
		g.logger.Info("activated queued feedback request",
			zap.String("run_id", state.RunID),
			zap.String("request_id", nextReq.ID),
		)
		return next, nil
	}

	next.ActiveFeedback = nil
	next.WaitingForHuman = false
	next.Status = RunStatusRunning
	g.logger.Info("feedback resolved, resuming run",
		zap.String("run_id", state.RunID),
		zap.String("request_id", requestID),
		zap.Bool("approved", resp.Approved),
	)
	return next, nil
}

// Forfeit 反馈等待超时后的强制解决：激活请求过期，对应步骤降级跳过
func (g *FeedbackGate) Forfeit(state *RunState) *RunState {
	if state.ActiveFeedback == nil {
		return state
	}

	next := state.Clone()
	next.ActiveFeedback.Status = FeedbackExpired
	if step, ok := next.Plan.StepByTask(next.ActiveFeedback.TaskType); ok && !step.Status.Terminal() {
		step.Status = StepSkipped
	}
	next.ActiveFeedback = nil
	next.WaitingForHuman = false
	next.Status = RunStatusRunning
	next.FeedbackQueue = nil

	g.logger.Warn("feedback deadline exceeded, forfeiting",
		zap.String("run_id", state.RunID),
	)
	return next
}
