package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

// fakeChatModel 按脚本出队回复；队列耗尽后返回 loop（若设置）或 err
type fakeChatModel struct {
	queue []*schema.Message
	loop  *schema.Message
	err   error
	calls int
}

func (m *fakeChatModel) Generate(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.calls++
	if len(m.queue) > 0 {
		msg := m.queue[0]
		m.queue = m.queue[1:]
		return msg, nil
	}
	if m.loop != nil {
		return m.loop, nil
	}
	if m.err != nil {
		return nil, m.err
	}
	return nil, errors.New("fake model: script exhausted")
}

func (m *fakeChatModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("fake model: stream not supported")
}

func (m *fakeChatModel) WithTools(_ []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

// echoProbeTool 给失控循环场景用的空转工具
type echoProbeTool struct{}

func (t *echoProbeTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name:        "echo_probe",
		Desc:        "echo for tests",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}, nil
}

func (t *echoProbeTool) InvokableRun(_ context.Context, _ string, _ ...tool.Option) (string, error) {
	return "ok", nil
}

func newTestEngine(t *testing.T, cm *fakeChatModel) *Engine {
	t.Helper()
	ctx := context.Background()

	tools := append(GetTools(cm), &echoProbeTool{})
	registry, err := NewToolRegistry(ctx, tools...)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	eng, err := NewEngine(ctx, Deps{
		ChatModel: cm,
		Registry:  registry,
		Logger:    zap.NewNop(),
	}, Options{MaxHandlerPasses: 6})
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	return eng
}

func toolCallMsg(name, args string) *schema.Message {
	return schema.AssistantMessage("", []schema.ToolCall{{
		ID:       "call-1",
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}})
}

func TestProcessTurnGeneralReply(t *testing.T) {
	cm := &fakeChatModel{queue: []*schema.Message{
		schema.AssistantMessage("general", nil), // 路由分类兜底
		schema.AssistantMessage("先想一想：print 返回什么？", nil),
	}}
	eng := newTestEngine(t, cm)

	st, replies, err := eng.ProcessTurn(context.Background(), NewAgentState("s1"), "我调试总是卡住")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(replies) != 1 || !strings.Contains(replies[0], "print") {
		t.Fatalf("unexpected replies: %v", replies)
	}
	if st.Mode != ModeGeneral {
		t.Errorf("mode = %s, want general", st.Mode)
	}
	// 历史: user + assistant
	if len(st.Messages) != 2 {
		t.Errorf("messages = %d, want 2", len(st.Messages))
	}
}

func TestProcessTurnMCQLifecycle(t *testing.T) {
	ctx := context.Background()

	// 1. 出题：概念分析判定 core，题目命中内置题库
	cm := &fakeChatModel{queue: []*schema.Message{
		schema.AssistantMessage(`{"relevance": "core", "summary": "变量基础", "suggested_topic": "variables"}`, nil),
	}}
	eng := newTestEngine(t, cm)

	st, replies, err := eng.ProcessTurn(ctx, NewAgentState("s1"), "考考我 variables")
	if err != nil {
		t.Fatalf("quiz turn failed: %v", err)
	}
	if !st.MCQ.Active || st.Mode != ModeMCQActive {
		t.Fatalf("mcq not activated: mode=%s active=%v", st.Mode, st.MCQ.Active)
	}
	if NormalizeMCQAnswer(st.MCQ.CorrectAnswer) == "" {
		t.Fatalf("invalid correct answer %q", st.MCQ.CorrectAnswer)
	}
	if len(replies) == 0 || !strings.Contains(replies[len(replies)-1], "A/B/C/D") {
		t.Fatalf("presentation reply missing: %v", replies)
	}

	// 2. 非作答输入触发澄清短路，题目保持激活，不消耗模型调用
	callsBefore := cm.calls
	st2, replies2, err := eng.ProcessTurn(ctx, st, "为什么要考这个？")
	if err != nil {
		t.Fatalf("clarification turn failed: %v", err)
	}
	if cm.calls != callsBefore {
		t.Error("clarification should not call the model")
	}
	if !st2.MCQ.Active {
		t.Error("mcq must survive clarification")
	}
	if len(replies2) != 1 || replies2[0] != MCQClarificationMessage {
		t.Fatalf("unexpected clarification replies: %v", replies2)
	}

	// 3. 答错：挣扎计数加一，题目清空
	wrong := "A"
	if st2.MCQ.CorrectAnswer == "A" {
		wrong = "B"
	}
	st3, replies3, err := eng.ProcessTurn(ctx, st2, wrong)
	if err != nil {
		t.Fatalf("wrong answer turn failed: %v", err)
	}
	if st3.StruggleCount != 1 {
		t.Errorf("struggle = %d, want 1", st3.StruggleCount)
	}
	if st3.MCQ.Active || st3.Mode != ModeGeneral {
		t.Errorf("mcq should clear after grading: mode=%s active=%v", st3.Mode, st3.MCQ.Active)
	}
	if len(replies3) == 0 || !strings.Contains(replies3[0], "回答错误") {
		t.Fatalf("wrong-answer feedback missing: %v", replies3)
	}
}

func TestProcessTurnCorrectAnswerPromotesOnRecovery(t *testing.T) {
	st := withActiveMCQ(NewAgentState("s1"))
	st.DifficultyLevel = DifficultyIntermediate
	st.StruggleCount = 2

	eng := newTestEngine(t, &fakeChatModel{})
	out, replies, err := eng.ProcessTurn(context.Background(), st, st.MCQ.CorrectAnswer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.StruggleCount != 0 {
		t.Errorf("struggle = %d, want 0", out.StruggleCount)
	}
	if out.DifficultyLevel != DifficultyAdvanced {
		t.Errorf("difficulty = %s, want advanced after recovery", out.DifficultyLevel)
	}
	if len(replies) == 0 || !strings.Contains(replies[0], "回答正确") {
		t.Fatalf("correct-answer feedback missing: %v", replies)
	}
}

func TestProcessTurnAffirmationResetsStruggle(t *testing.T) {
	// "明白了" 确定性路由到理解评估模式，等价于一次答对：
	// 挣扎计数清零，计数曾非零的晋级一档
	cm := &fakeChatModel{queue: []*schema.Message{
		schema.AssistantMessage("那换我考考你：列表推导式和普通循环的区别是什么？", nil),
	}}
	eng := newTestEngine(t, cm)

	st := NewAgentState("s1")
	st.DifficultyLevel = DifficultyIntermediate
	st.StruggleCount = 2

	out, replies, err := eng.ProcessTurn(context.Background(), st, "明白了")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.StruggleCount != 0 {
		t.Errorf("struggle = %d, want 0 after demonstrated understanding", out.StruggleCount)
	}
	if out.DifficultyLevel != DifficultyAdvanced {
		t.Errorf("difficulty = %s, want advanced after recovery", out.DifficultyLevel)
	}
	if out.Mode != ModeEvaluateUnderstanding {
		t.Errorf("mode = %s, want evaluate_understanding", out.Mode)
	}
	if len(replies) != 1 {
		t.Fatalf("unexpected replies: %v", replies)
	}
}

func TestProcessTurnAffirmationWithoutStruggleKeepsLevel(t *testing.T) {
	cm := &fakeChatModel{queue: []*schema.Message{
		schema.AssistantMessage("很好，那这个问题你怎么看？", nil),
	}}
	eng := newTestEngine(t, cm)

	st := NewAgentState("s1")
	st.DifficultyLevel = DifficultyIntermediate

	out, _, err := eng.ProcessTurn(context.Background(), st, "yes i got it")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.DifficultyLevel != DifficultyIntermediate || out.StruggleCount != 0 {
		t.Errorf("clean understanding must not promote: %s/%d", out.DifficultyLevel, out.StruggleCount)
	}
}

func TestProcessTurnPeripheralTopicDeclinesQuiz(t *testing.T) {
	cm := &fakeChatModel{queue: []*schema.Message{
		schema.AssistantMessage(`{"relevance": "peripheral", "summary": "版本控制话题", "suggested_topic": "函数"}`, nil),
	}}
	eng := newTestEngine(t, cm)

	st, replies, err := eng.ProcessTurn(context.Background(), NewAgentState("s1"), "考考我 git rebase")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.MCQ.Active {
		t.Error("peripheral topic must not activate mcq")
	}
	if st.Mode != ModeGeneral {
		t.Errorf("mode = %s, want general", st.Mode)
	}
	if len(replies) == 0 || !strings.Contains(replies[len(replies)-1], "函数") {
		t.Fatalf("suggestion reply missing: %v", replies)
	}
}

func TestProcessTurnLoopGuardRollsBack(t *testing.T) {
	// 模型每次都要求调用工具，永不收敛
	cm := &fakeChatModel{loop: toolCallMsg("echo_probe", "{}")}
	eng := newTestEngine(t, cm)

	base := NewAgentState("s1")
	base.Topic = "循环"
	msgBefore := len(base.Messages)

	out, replies, err := eng.ProcessTurn(context.Background(), base, "解释一下闭包")
	if !errors.Is(err, ErrLoopGuardExceeded) {
		t.Fatalf("want ErrLoopGuardExceeded, got %v", err)
	}
	if len(replies) != 0 {
		t.Errorf("failed turn must not surface replies: %v", replies)
	}
	// 状态整体回滚
	if len(out.Messages) != msgBefore {
		t.Errorf("messages leaked after rollback: %d, want %d", len(out.Messages), msgBefore)
	}
	if out.Topic != "循环" || out.Mode != ModeGeneral || out.StruggleCount != 0 {
		t.Errorf("state mutated after rollback: %+v", out)
	}
}

func TestProcessTurnUnknownToolDegrades(t *testing.T) {
	cm := &fakeChatModel{queue: []*schema.Message{
		toolCallMsg("definitely_not_registered", "{}"),
	}}
	eng := newTestEngine(t, cm)

	st, replies, err := eng.ProcessTurn(context.Background(), NewAgentState("s1"), "解释一下生成器")
	if err != nil {
		t.Fatalf("unknown tool should degrade, not fail: %v", err)
	}
	if st.Mode != ModeGeneral {
		t.Errorf("mode = %s, want general", st.Mode)
	}
	found := false
	for _, r := range replies {
		if r == ToolFailureMessage {
			found = true
		}
	}
	if !found {
		t.Fatalf("degrade reply missing: %v", replies)
	}
}

func TestProcessTurnModelFailureIsRecoverable(t *testing.T) {
	cm := &fakeChatModel{err: fmt.Errorf("upstream 503")}
	eng := newTestEngine(t, cm)

	st, replies, err := eng.ProcessTurn(context.Background(), NewAgentState("s1"), "解释一下列表推导式")
	if err != nil {
		t.Fatalf("model failure should degrade, not fail the turn: %v", err)
	}
	if len(replies) != 1 || replies[0] != ModelFailureMessage {
		t.Fatalf("apology reply missing: %v", replies)
	}
	if st.Mode != ModeGeneral {
		t.Errorf("mode = %s, want general", st.Mode)
	}
	// 用户消息仍然进入历史，后续回合可以继续
	if len(st.Messages) != 2 {
		t.Errorf("messages = %d, want 2", len(st.Messages))
	}
}

func TestProcessTurnRouterFallbackFailureGoesGeneral(t *testing.T) {
	// 分类与生成都失败：路由回退 general，回合以道歉结束
	cm := &fakeChatModel{err: fmt.Errorf("boom")}
	eng := newTestEngine(t, cm)

	st, _, err := eng.ProcessTurn(context.Background(), NewAgentState("s1"), "随便聊聊")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Mode != ModeGeneral {
		t.Errorf("mode = %s, want general", st.Mode)
	}
}
