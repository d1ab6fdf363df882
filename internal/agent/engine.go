package agent

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine 是对话引擎的外部边界
// 调用方只与 ProcessTurn 交互，Graph 内部的节点与路由对外不可见
type Engine struct {
	runnable compose.Runnable[AgentState, AgentState]
	logger   *zap.Logger
}

// NewEngine 编译 Graph 并构建引擎
func NewEngine(ctx context.Context, deps Deps, opts Options) (*Engine, error) {
	runnable, err := BuildGraph(ctx, deps, opts)
	if err != nil {
		return nil, fmt.Errorf("build graph failed: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{runnable: runnable, logger: logger}, nil
}

// ProcessTurn 处理一轮用户输入
// 返回更新后的状态与本轮新增的面向用户的回复。回合内部出现致命错误
// （循环保护、不变式违例、Graph 编排错误）时状态整体回滚到回合开始前，
// 调用方拿到回滚后的状态与错误，会话仍可继续。
func (e *Engine) ProcessTurn(ctx context.Context, state AgentState, userInput string) (AgentState, []string, error) {
	snapshot := state.Clone()

	traceID := uuid.NewString()
	ctx = WithTraceID(ctx, traceID)
	ctx = WithSessionID(ctx, state.SessionID)

	in := state.Clone()
	in.UserQuery = userInput

	e.logger.Info("turn started",
		zap.String("trace_id", traceID),
		zap.String("session_id", state.SessionID),
		zap.String("mode", string(state.Mode)))

	out, err := e.runnable.Invoke(ctx, in)
	if err != nil {
		e.logger.Error("turn failed, rolling back",
			zap.String("trace_id", traceID),
			zap.String("session_id", state.SessionID),
			zap.Error(err))
		return snapshot, nil, err
	}

	if verr := validateState(out); verr != nil {
		e.logger.Error("turn produced invalid state, rolling back",
			zap.String("trace_id", traceID),
			zap.String("session_id", state.SessionID),
			zap.Error(verr))
		return snapshot, nil, verr
	}

	replies := newAssistantReplies(snapshot.Messages, out.Messages)
	e.logger.Info("turn finished",
		zap.String("trace_id", traceID),
		zap.String("mode", string(out.Mode)),
		zap.String("difficulty", string(out.DifficultyLevel)),
		zap.Int("replies", len(replies)))
	return out, replies, nil
}

// newAssistantReplies 取出本轮新增的助手回复文本
// 带工具调用但无正文的中间消息不展示给用户
func newAssistantReplies(before, after []*schema.Message) []string {
	var replies []string
	for _, m := range after[len(before):] {
		if m == nil || m.Role != schema.Assistant {
			continue
		}
		if m.Content == "" {
			continue
		}
		replies = append(replies, m.Content)
	}
	return replies
}
