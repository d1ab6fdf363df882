package agent

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"go.uber.org/zap"
)

const (
	NodeRouter    = "router_node"
	NodeSocratic  = "socratic_node"
	NodeTools     = "tools_node"
	NodeMCQAnswer = "mcq_answer_node"
)

// Deps 聚合 Graph 运行所需的外部依赖
type Deps struct {
	ChatModel model.ToolCallingChatModel
	Registry  *ToolRegistry
	Logger    *zap.Logger
}

// BuildGraph 构建导师对话的处理流程图
//
//	START -> router -> { mcq_answer | socratic | END }
//	socratic -> { tools | END }
//	mcq_answer -> tools
//	tools -> { socratic | END }
func BuildGraph(ctx context.Context, deps Deps, opts Options) (compose.Runnable[AgentState, AgentState], error) {
	if deps.ChatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// 把工具信息绑定到 ChatModel，模型只能请求注册表里的工具
	toolInfos, err := deps.Registry.Infos(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect tool infos failed: %w", err)
	}
	cm, err := deps.ChatModel.WithTools(toolInfos)
	if err != nil {
		return nil, fmt.Errorf("bind tools to chat model failed: %w", err)
	}

	// 初始化 Graph，输入输出都是 AgentState
	g := compose.NewGraph[AgentState, AgentState]()

	// 1. 添加节点，用闭包注入依赖
	g.AddLambdaNode(NodeRouter, compose.InvokableLambda(func(ctx context.Context, state AgentState) (AgentState, error) {
		return RouterNode(ctx, state, cm, opts, logger)
	}))
	g.AddLambdaNode(NodeSocratic, compose.InvokableLambda(func(ctx context.Context, state AgentState) (AgentState, error) {
		return SocraticNode(ctx, state, cm, opts, logger)
	}))
	g.AddLambdaNode(NodeMCQAnswer, compose.InvokableLambda(MCQAnswerNode))
	g.AddLambdaNode(NodeTools, compose.InvokableLambda(func(ctx context.Context, state AgentState) (AgentState, error) {
		return ToolExecNode(ctx, state, deps.Registry, opts, logger)
	}))

	// 2. 添加边与分支
	if err := g.AddEdge(compose.START, NodeRouter); err != nil {
		return nil, err
	}

	// Router -> MCQAnswer / Socratic / End
	err = g.AddBranch(NodeRouter, compose.NewGraphBranch(func(ctx context.Context, state AgentState) (string, error) {
		switch state.nextNode {
		case routeMCQAnswer:
			return NodeMCQAnswer, nil
		case routeEnd:
			return compose.END, nil
		default:
			return NodeSocratic, nil
		}
	}, map[string]bool{
		NodeMCQAnswer: true,
		NodeSocratic:  true,
		compose.END:   true,
	}))
	if err != nil {
		return nil, err
	}

	// Socratic -> Tools / End：有待执行的工具调用就去工具节点
	err = g.AddBranch(NodeSocratic, compose.NewGraphBranch(func(ctx context.Context, state AgentState) (string, error) {
		if len(state.NextStepToolCalls) > 0 {
			return NodeTools, nil
		}
		return compose.END, nil
	}, map[string]bool{
		NodeTools:   true,
		compose.END: true,
	}))
	if err != nil {
		return nil, err
	}

	// MCQAnswer -> Tools：判题调用固定走工具节点
	if err := g.AddEdge(NodeMCQAnswer, NodeTools); err != nil {
		return nil, err
	}

	// Tools -> Socratic / End：折叠已给出最终回复的直接结束，否则回灌给处理节点
	err = g.AddBranch(NodeTools, compose.NewGraphBranch(func(ctx context.Context, state AgentState) (string, error) {
		if done, ok := state.Context[ContextKeyTurnDone].(bool); ok && done {
			return compose.END, nil
		}
		return NodeSocratic, nil
	}, map[string]bool{
		NodeSocratic: true,
		compose.END:  true,
	}))
	if err != nil {
		return nil, err
	}

	// 3. 编译 Graph
	runnable, err := g.Compile(ctx)
	if err != nil {
		return nil, err
	}

	return runnable, nil
}
