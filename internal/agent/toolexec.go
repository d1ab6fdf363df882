package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

// ToolExecNode 依次执行 NextStepToolCalls 并把结果折叠回状态。
// 折叠规则按工具区分：
//   - concept_analysis_agent: 结果存入 Context，回到处理节点继续推进出题流程
//   - mcq_generator_agent:    解析成功则激活 MCQ 并呈现题目；解析失败走降级，绝不半激活
//   - mcq_answer_processor:   判题、调难度、给反馈、清空 MCQ
//   - 其余工具:               结果作为 Tool 消息回灌给模型继续生成回复
//
// 工具失败（含未注册的名字）合成错误结果并给出降级回复，不中断回合
func ToolExecNode(ctx context.Context, state AgentState, registry *ToolRegistry, opts Options, logger *zap.Logger) (AgentState, error) {
	calls := state.NextStepToolCalls
	state.NextStepToolCalls = nil
	if len(calls) == 0 {
		state.Context[ContextKeyTurnDone] = true
		return state, nil
	}

	for _, call := range calls {
		name := call.Function.Name

		cctx, cancel := context.WithTimeout(ctx, opts.toolTimeout())
		out, err := registry.Execute(cctx, call)
		cancel()

		if err != nil {
			logger.Warn("tool call failed",
				zap.String("tool", name),
				zap.String("session_id", state.SessionID),
				zap.Error(err))
			state = foldToolFailure(state, call, err)
			continue
		}

		state.Messages = append(state.Messages, toolResultMessage(call, out))
		var foldErr error
		state, foldErr = foldToolResult(state, name, out, opts, logger)
		if foldErr != nil {
			return state, foldErr
		}
	}
	return state, nil
}

// toolResultMessage 构造工具结果消息
func toolResultMessage(call schema.ToolCall, content string) *schema.Message {
	return &schema.Message{
		Role:       schema.Tool,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Function.Name,
	}
}

// foldToolFailure 处理单次工具失败：合成错误结果消息 + 降级回复并结束本轮
// MCQ 相关工具失败时额外做模式复位，避免停留在出不了题的状态
func foldToolFailure(state AgentState, call schema.ToolCall, err error) AgentState {
	state.Messages = append(state.Messages, toolResultMessage(call, fmt.Sprintf("tool error: %v", err)))

	switch call.Function.Name {
	case "mcq_generator_agent":
		state.Messages = append(state.Messages, schema.AssistantMessage(MCQDegradeMessage, nil))
		state.MCQ.Clear()
		state.Mode = ModeGeneral
	case "mcq_answer_processor":
		// 判题失败不吞掉题目，让学生重新作答
		state.Messages = append(state.Messages, schema.AssistantMessage(MCQClarificationMessage, nil))
	default:
		state.Messages = append(state.Messages, schema.AssistantMessage(ToolFailureMessage, nil))
		state.Mode = ModeGeneral
	}
	state.Context[ContextKeyTurnDone] = true
	return state
}

// foldToolResult 按工具种类把成功结果折叠进状态
func foldToolResult(state AgentState, name, out string, opts Options, logger *zap.Logger) (AgentState, error) {
	switch name {
	case "concept_analysis_agent":
		rel, err := ParseConceptRelevance(out)
		if err != nil {
			logger.Warn("unparsable concept relevance, treating as peripheral", zap.Error(err))
			rel = ConceptRelevance{Relevance: "peripheral"}
		}
		state.Context[ContextKeyConceptInfo] = rel
		// 只在主题尚未确定时采纳分析结果，不覆盖已有学习主题
		if rel.Relevance == "core" && rel.SuggestedTopic != "" && state.Topic == "" {
			state.Topic = rel.SuggestedTopic
		}
		// 不结束本轮，处理节点根据 relevance 决定下一步

	case "mcq_generator_agent":
		mcq, err := ParseMCQPayload(out)
		if err != nil {
			if !errors.Is(err, ErrMalformedMCQPayload) {
				return state, err
			}
			logger.Warn("malformed mcq payload, degrading",
				zap.String("session_id", state.SessionID), zap.Error(err))
			state.Messages = append(state.Messages, schema.AssistantMessage(MCQDegradeMessage, nil))
			state.MCQ.Clear()
			state.Mode = ModeGeneral
			state.Context[ContextKeyTurnDone] = true
			return state, nil
		}
		state.MCQ = mcq
		state.Mode = ModeMCQActive
		state.Messages = append(state.Messages, schema.AssistantMessage(FormatMCQPresentation(mcq), nil))
		state.Context[ContextKeyTurnDone] = true

	case "mcq_answer_processor":
		var outcome MCQAnswerOutcome
		if err := json.Unmarshal([]byte(out), &outcome); err != nil {
			return state, fmt.Errorf("%w: mcq_answer_processor returned invalid payload: %v", ErrInvariantViolation, err)
		}
		policy := opts.policy()
		if outcome.Correct {
			state.DifficultyLevel, state.StruggleCount = policy.RecordCorrect(state.DifficultyLevel, state.StruggleCount)
		} else {
			state.DifficultyLevel, state.StruggleCount = policy.RecordIncorrect(state.DifficultyLevel, state.StruggleCount)
		}
		state.Messages = append(state.Messages, schema.AssistantMessage(outcome.Feedback, nil))
		state.MCQ.Clear()
		state.Mode = ModeGeneral
		state.Context[ContextKeyTurnDone] = true
		logger.Debug("mcq graded",
			zap.Bool("correct", outcome.Correct),
			zap.String("difficulty", string(state.DifficultyLevel)),
			zap.Int("struggle", state.StruggleCount))

	default:
		// 普通工具结果回灌给模型，由处理节点继续生成苏格拉底式回复
	}
	return state, nil
}
