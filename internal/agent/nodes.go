package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

// nextNode 的取值，供 Graph 分支判断
const (
	routeSocratic  = "socratic"
	routeMCQAnswer = "mcq_answer"
	routeEnd       = "end"
)

// ModelFailureMessage 模型调用失败时的降级回复
const ModelFailureMessage = "抱歉，我这边暂时出了点问题，请稍后再试一次。我们可以继续之前的话题。"

// ToolFailureMessage 工具执行失败时的降级回复
const ToolFailureMessage = "抱歉，处理你的请求时出了点问题。我们换个方式继续：你可以重新描述一下问题，或者换一个话题。"

// MCQDegradeMessage 选择题生成失败时的降级回复
const MCQDegradeMessage = "抱歉，这道选择题没能生成出来。我们先继续用问答的方式学习，稍后你可以再让我出题。"

// RouterNode 是每轮对话的入口节点，负责：
// 1. 追加用户消息、清理上一轮的临时字段
// 2. MCQ 澄清短路
// 3. 确定性路由，未命中时用模型分类兜底
func RouterNode(ctx context.Context, state AgentState, chatModel model.BaseChatModel, opts Options, logger *zap.Logger) (AgentState, error) {
	if state.Messages == nil {
		state.Messages = make([]*schema.Message, 0)
	}

	// 1. 追加用户消息（调用方可能已经放入 Messages，避免重复）
	if state.UserQuery != "" {
		isLastUser := false
		if len(state.Messages) > 0 {
			lastMsg := state.Messages[len(state.Messages)-1]
			if lastMsg.Role == schema.User && lastMsg.Content == state.UserQuery {
				isLastUser = true
			}
		}
		if !isLastUser {
			state.Messages = append(state.Messages, schema.UserMessage(state.UserQuery))
		}
	}

	// 2. 清理上一轮的临时状态
	state.NextStepToolCalls = nil
	state.HandlerPasses = 0
	state.Context = map[string]interface{}{}

	// 3. MCQ 澄清短路：题目激活但输入不是作答，固定回复后直接结束
	if needsMCQClarification(state.UserQuery, state) {
		state.Messages = append(state.Messages, schema.AssistantMessage(MCQClarificationMessage, nil))
		state.nextNode = routeEnd
		logger.Debug("mcq clarification short-circuit", zap.String("session_id", state.SessionID))
		return state, nil
	}

	// 4. 确定性路由
	mode, decided := DecideRoute(state.UserQuery, state)
	if decided {
		state.Mode = mode
		if mode == ModeCodeReview {
			if code, ok := DetectCode(state.UserQuery); ok {
				state.Context[ContextKeyCode] = code
			}
		}
		if mode == ModeMCQActive {
			state.nextNode = routeMCQAnswer
		} else {
			state.nextNode = routeSocratic
		}
		logger.Debug("deterministic route", zap.String("mode", string(mode)))
		return state, nil
	}

	// 5. 模型分类兜底；任何失败都回退 general，路由永远不让回合失败
	state.Mode = ModeGeneral
	state.nextNode = routeSocratic
	if chatModel != nil {
		cctx, cancel := context.WithTimeout(ctx, opts.modelTimeout())
		defer cancel()

		msg, err := renderPrompt(cctx, RouterClassifyPrompt, map[string]any{"query": state.UserQuery})
		if err == nil {
			resp, genErr := chatModel.Generate(cctx, []*schema.Message{msg})
			if genErr != nil {
				logger.Warn("router classify failed, falling back to general", zap.Error(genErr))
			} else if m, ok := ParseModeLabel(stripReasoning(resp.Content)); ok {
				state.Mode = m
			}
		}
	}
	logger.Debug("fallback route", zap.String("mode", string(state.Mode)))
	return state, nil
}

// SocraticNode 是行为处理节点
// mcq_request 模式完全确定性地推进（分析概念 -> 生成题目或劝导换题），
// 其余模式组装提示词调用模型，由模型决定直接回复还是请求工具
func SocraticNode(ctx context.Context, state AgentState, chatModel model.ToolCallingChatModel, opts Options, logger *zap.Logger) (AgentState, error) {
	state.HandlerPasses++
	if state.HandlerPasses > opts.maxHandlerPasses() {
		return state, fmt.Errorf("%w: %d passes in one turn", ErrLoopGuardExceeded, state.HandlerPasses)
	}
	state.NextStepToolCalls = nil

	if state.Mode == ModeMCQRequest {
		return mcqRequestStep(state, logger)
	}

	// 学生表示已理解等价于答对：清零挣扎计数，必要时晋级
	// 与判题折叠共用同一套阈值规则；只在首次进入时调整，工具回流不重复计
	if state.Mode == ModeEvaluateUnderstanding && state.HandlerPasses == 1 {
		prevDifficulty, prevStruggle := state.DifficultyLevel, state.StruggleCount
		state.DifficultyLevel, state.StruggleCount = opts.policy().RecordCorrect(state.DifficultyLevel, state.StruggleCount)
		if state.DifficultyLevel != prevDifficulty || state.StruggleCount != prevStruggle {
			logger.Debug("understanding demonstrated",
				zap.String("difficulty", string(state.DifficultyLevel)),
				zap.Int("struggle", state.StruggleCount))
		}
	}

	// 组装提示词并调用模型
	messages, err := NewChatTemplate().Format(ctx, templateVars(state, opts.historyWindow()))
	if err != nil {
		return state, fmt.Errorf("format chat template failed: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, opts.modelTimeout())
	defer cancel()

	aiMsg, err := chatModel.Generate(cctx, messages)
	if err != nil {
		// 模型失败不是致命错误：道歉并回到通用模式，会话继续可用
		logger.Warn("chat model generate failed", zap.String("mode", string(state.Mode)), zap.Error(err))
		state.Messages = append(state.Messages, schema.AssistantMessage(ModelFailureMessage, nil))
		state.Mode = ModeGeneral
		return state, nil
	}

	aiMsg.Content = stripReasoning(aiMsg.Content)
	state.Messages = append(state.Messages, aiMsg)
	state.NextStepToolCalls = aiMsg.ToolCalls
	return state, nil
}

// mcqRequestStep 处理出题请求，不依赖模型自由发挥：
//  1. 还没有概念分析结果 -> 合成 concept_analysis_agent 调用
//  2. 结果为 peripheral -> 劝导换一个核心概念，结束本轮
//  3. 结果为 core -> 合成 mcq_generator_agent 调用
func mcqRequestStep(state AgentState, logger *zap.Logger) (AgentState, error) {
	topic := state.Topic
	if topic == "" {
		topic = state.UserQuery
	}

	raw, ok := state.Context[ContextKeyConceptInfo]
	if !ok {
		args, err := json.Marshal(map[string]string{"query": topic})
		if err != nil {
			return state, fmt.Errorf("marshal tool arguments failed: %w", err)
		}
		state.NextStepToolCalls = []schema.ToolCall{synthToolCall(state, "concept_analysis_agent", string(args))}
		return state, nil
	}

	rel, ok := raw.(ConceptRelevance)
	if !ok {
		return state, fmt.Errorf("%w: concept_info has unexpected type %T", ErrInvariantViolation, raw)
	}

	if rel.Relevance != "core" {
		suggestion := rel.SuggestedTopic
		if suggestion == "" {
			suggestion = "变量与数据类型"
		}
		msg := fmt.Sprintf("「%s」不在 Python 基础教学的核心范围内，出题效果会打折扣。建议围绕「%s」出题，想试试的话直接说「考考我 %s」。", topic, suggestion, suggestion)
		state.Messages = append(state.Messages, schema.AssistantMessage(msg, nil))
		state.Mode = ModeGeneral
		logger.Debug("mcq request declined, peripheral topic", zap.String("topic", topic))
		return state, nil
	}

	quizTopic := rel.SuggestedTopic
	if quizTopic == "" {
		quizTopic = topic
	}
	args, err := json.Marshal(map[string]string{
		"topic":            quizTopic,
		"difficulty_level": string(state.DifficultyLevel),
	})
	if err != nil {
		return state, fmt.Errorf("marshal tool arguments failed: %w", err)
	}
	state.NextStepToolCalls = []schema.ToolCall{synthToolCall(state, "mcq_generator_agent", string(args))}
	return state, nil
}

// MCQAnswerNode 处理选择题作答：合成判题工具调用，判题结果在工具节点折叠
func MCQAnswerNode(_ context.Context, state AgentState) (AgentState, error) {
	answer := NormalizeMCQAnswer(state.UserQuery)
	if answer == "" || !state.MCQ.Active {
		// Router 只在合法作答时才路由到这里
		return state, fmt.Errorf("%w: mcq answer node entered without an active answer", ErrInvariantViolation)
	}

	args, err := json.Marshal(map[string]string{
		"answer":         answer,
		"correct_answer": state.MCQ.CorrectAnswer,
		"explanation":    state.MCQ.Explanation,
	})
	if err != nil {
		return state, fmt.Errorf("marshal tool arguments failed: %w", err)
	}
	state.NextStepToolCalls = []schema.ToolCall{synthToolCall(state, "mcq_answer_processor", string(args))}
	return state, nil
}

// synthToolCall 合成一条确定性的工具调用
// 引擎自己发起的调用也走工具节点，保证审计与错误处理路径统一
func synthToolCall(state AgentState, name, argsJSON string) schema.ToolCall {
	return schema.ToolCall{
		ID: fmt.Sprintf("synth-%s-%d", name, len(state.Messages)),
		Function: schema.FunctionCall{
			Name:      name,
			Arguments: argsJSON,
		},
	}
}

var reasoningBlockRE = regexp.MustCompile(`(?s)<think>.*?</think>`)

// stripReasoning 去掉推理模型混入正文的思考块
func stripReasoning(content string) string {
	return strings.TrimSpace(reasoningBlockRE.ReplaceAllString(content, ""))
}

// validateState 在状态离开 Graph 前做不变式检查
func validateState(s AgentState) error {
	switch s.DifficultyLevel {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
	default:
		return fmt.Errorf("%w: unknown difficulty %q", ErrInvariantViolation, s.DifficultyLevel)
	}
	if s.StruggleCount < 0 {
		return fmt.Errorf("%w: negative struggle count %d", ErrInvariantViolation, s.StruggleCount)
	}
	if s.MCQ.Active {
		if s.MCQ.Question == "" || len(s.MCQ.Options) != 4 {
			return fmt.Errorf("%w: active mcq with incomplete question", ErrInvariantViolation)
		}
		if NormalizeMCQAnswer(s.MCQ.CorrectAnswer) == "" {
			return fmt.Errorf("%w: active mcq with invalid correct answer %q", ErrInvariantViolation, s.MCQ.CorrectAnswer)
		}
		if s.Mode != ModeMCQActive {
			return fmt.Errorf("%w: active mcq outside mcq_active mode", ErrInvariantViolation)
		}
	}
	return nil
}

// Options 控制引擎的回合行为，零值使用默认
type Options struct {
	// MaxHandlerPasses 单回合处理节点最大重入次数
	MaxHandlerPasses int
	// HistoryWindow 送入模型的历史消息条数上限
	HistoryWindow int
	// ModelTimeout 单次模型调用超时
	ModelTimeout time.Duration
	// ToolTimeout 单次工具调用超时
	ToolTimeout time.Duration
	// Policy 难度升降规则
	Policy DifficultyPolicy
}

const (
	DefaultMaxHandlerPasses = 6
	DefaultHistoryWindow    = 40
	DefaultModelTimeout     = 60 * time.Second
	DefaultToolTimeout      = 90 * time.Second
)

func (o Options) maxHandlerPasses() int {
	if o.MaxHandlerPasses <= 0 {
		return DefaultMaxHandlerPasses
	}
	return o.MaxHandlerPasses
}

func (o Options) historyWindow() int {
	if o.HistoryWindow <= 0 {
		return DefaultHistoryWindow
	}
	return o.HistoryWindow
}

func (o Options) modelTimeout() time.Duration {
	if o.ModelTimeout <= 0 {
		return DefaultModelTimeout
	}
	return o.ModelTimeout
}

func (o Options) toolTimeout() time.Duration {
	if o.ToolTimeout <= 0 {
		return DefaultToolTimeout
	}
	return o.ToolTimeout
}

func (o Options) policy() DifficultyPolicy {
	if o.Policy == (DifficultyPolicy{}) {
		return DefaultDifficultyPolicy()
	}
	return o.Policy
}
