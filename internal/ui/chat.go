package ui

import (
	"context"

	"github.com/wwwzy/socratutor/internal/agent"
)

// ChatBackend 是界面层看到的引擎边界：一次用户输入换一组回复
type ChatBackend interface {
	ProcessTurn(ctx context.Context, state agent.AgentState, userInput string) (agent.AgentState, []string, error)
}

type ChatUI interface {
	Run(ctx context.Context, backend ChatBackend, initial agent.AgentState, opts ChatOptions) error
}

type ChatOptions struct {
	// OnStateChange 每轮成功后回调，用于持久化会话；返回错误只告警不中断对话
	OnStateChange func(ctx context.Context, state agent.AgentState) error
}

func DefaultInitialState(sessionID string) agent.AgentState {
	return agent.NewAgentState(sessionID)
}
