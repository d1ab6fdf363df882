package agent

import (
	"github.com/cloudwego/eino/schema"
)

// DifficultyLevel 表示当前教学难度档位
type DifficultyLevel string

const (
	DifficultyBeginner     DifficultyLevel = "beginner"
	DifficultyIntermediate DifficultyLevel = "intermediate"
	DifficultyAdvanced     DifficultyLevel = "advanced"
)

// InteractionMode 表示本轮对话由哪种行为处理
// 只允许 Router 写入，各处理节点只读
type InteractionMode string

const (
	ModeGeneral               InteractionMode = "general"
	ModeCodeReview            InteractionMode = "code_review"
	ModeConceptExploration    InteractionMode = "concept_exploration"
	ModeChallenge             InteractionMode = "challenge"
	ModeMCQRequest            InteractionMode = "mcq_request"
	ModeMCQActive             InteractionMode = "mcq_active"
	ModeEvaluateUnderstanding InteractionMode = "evaluate_understanding"
)

// MCQState 保存当前激活的选择题
// 不变式: Active == true 时 Question 非空、CorrectAnswer 指向 Options 中的某一项
type MCQState struct {
	Active        bool     `json:"active"`
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"` // 单个字母 A-D
	Explanation   string   `json:"explanation"`
}

// Clear 清空选择题状态（答题后或生成失败时调用）
func (m *MCQState) Clear() {
	m.Active = false
	m.Question = ""
	m.Options = nil
	m.CorrectAnswer = ""
	m.Explanation = ""
}

// AgentState 定义了在 Graph 中流转的状态
type AgentState struct {
	// 会话标识，用于持久化查找
	SessionID string `json:"session_id"`

	// 历史对话消息 (包含 User, Assistant, Tool 消息)，只追加，不重排不删除
	Messages []*schema.Message `json:"messages"`

	// 教学进度相关字段
	DifficultyLevel DifficultyLevel `json:"difficulty_level"`
	StruggleCount   int             `json:"struggle_count"`
	Topic           string          `json:"topic"`
	SubTopic        string          `json:"sub_topic"`

	// 本轮交互模式，由 Router 决定
	Mode InteractionMode `json:"interaction_mode"`

	// 当前选择题
	MCQ MCQState `json:"mcq"`

	// 当前轮次的上下文信息 (如检测到的代码块、概念分析结果)
	// 每轮开始时重置，不保证跨轮存活
	Context map[string]interface{} `json:"-"`

	// 显式信号字段，用于 Graph 分支判断
	NextStepToolCalls []schema.ToolCall `json:"-"` // 本轮待执行的工具调用

	// 用户最后的输入
	UserQuery string `json:"user_query"`

	// 本轮处理节点重入次数，用于循环保护；每轮由 Router 清零
	HandlerPasses int `json:"-"`

	// Router 的路由决策，仅供 Graph 分支判断使用
	nextNode string
}

// Context 中约定的键名
const (
	ContextKeyCode        = "code"         // Router 检测到的代码片段
	ContextKeyConceptInfo = "concept_info" // 概念分析工具的结构化结果
	ContextKeyTurnDone    = "turn_done"    // 工具折叠后要求本轮直接结束
)

// NewAgentState 创建一个全新的会话状态
func NewAgentState(sessionID string) AgentState {
	return AgentState{
		SessionID:       sessionID,
		DifficultyLevel: DifficultyBeginner,
		Mode:            ModeGeneral,
		Context:         map[string]interface{}{},
	}
}

// Clone 生成状态快照，用于回合失败时整体回滚
// Messages 切片与 Context/Options 均复制；消息本体按约定不可变，共享指针即可
func (s AgentState) Clone() AgentState {
	out := s

	out.Messages = make([]*schema.Message, len(s.Messages))
	copy(out.Messages, s.Messages)

	out.Context = make(map[string]interface{}, len(s.Context))
	for k, v := range s.Context {
		out.Context[k] = v
	}

	if s.MCQ.Options != nil {
		out.MCQ.Options = append([]string(nil), s.MCQ.Options...)
	}
	if s.NextStepToolCalls != nil {
		out.NextStepToolCalls = append([]schema.ToolCall(nil), s.NextStepToolCalls...)
	}
	return out
}

// LastUserMessage 返回最近一条用户消息，不存在时返回 nil
func (s AgentState) LastUserMessage() *schema.Message {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i] != nil && s.Messages[i].Role == schema.User {
			return s.Messages[i]
		}
	}
	return nil
}

// historyWindow 返回送入模型的尾部历史窗口
// 截断只影响单次模型调用看到的子集，权威历史 Messages 不受影响
func (s AgentState) historyWindow(n int) []*schema.Message {
	if n <= 0 || len(s.Messages) <= n {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}
