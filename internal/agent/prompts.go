package agent

import (
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// SystemPromptTemplate 定义苏格拉底导师的系统提示词模板
// 包含动态变量: {difficulty_level}, {topic}, {sub_topic}, {struggle_count}, {mode_instruction}
const SystemPromptTemplate = `你是一名采用苏格拉底式教学法的 Python 编程导师。
你的目标是通过提问引导学生自己得出答案，而不是直接给出结论。

当前教学状态:
- 难度档位: {difficulty_level}
- 学习主题: {topic}
- 子主题: {sub_topic}
- 挣扎计数: {struggle_count}

你需要遵循以下原则:
1. 绝不直接给出完整答案，用递进式的问题引导学生思考。
2. 难度为 beginner 时用生活化类比，advanced 时可以深入实现细节。
3. 学生明显卡住（挣扎计数偏高）时，把问题拆得更小、提示给得更具体。
4. 回答保持简短，一次只推进一个问题。
5. 代码示例用 Python，并带上简要的引导性提问。

{mode_instruction}`

// modeInstructions 每种交互模式附加到系统提示词尾部的指令
var modeInstructions = map[InteractionMode]string{
	ModeGeneral: `本轮为通用辅导模式：围绕学生的问题进行苏格拉底式对话。`,
	ModeCodeReview: `本轮为代码审查模式：学生提交了代码。不要替学生改代码，
先调用 code_analysis_agent 工具获取分析结果，再基于结果用提问引导学生发现问题。`,
	ModeConceptExploration: `本轮为概念探索模式：学生想理解某个概念。
先调用 concept_explanation_agent 工具获取讲解素材，再把素材改写成引导式的提问与类比。`,
	ModeChallenge: `本轮为挑战模式：学生想要练习题。
调用 challenge_generator_agent 工具生成与当前难度匹配的编程挑战，然后原样呈现并附一句鼓励。`,
	ModeEvaluateUnderstanding: `本轮为理解评估模式：学生表示已经理解。
用一两个检验性的问题确认学生是否真的掌握，不要直接进入下一个主题。`,
}

// NewChatTemplate 创建苏格拉底对话模板
// 组装顺序: System(含教学状态) + 历史消息；本轮用户输入已在 Router 中追加进历史
func NewChatTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString,
		// 1. 系统消息 (包含教学状态与模式指令)
		schema.SystemMessage(SystemPromptTemplate),

		// 2. 历史消息占位符 (true 表示可选)
		schema.MessagesPlaceholder("history", true),
	)
}

// templateVars 从状态组装模板变量
func templateVars(s AgentState, historyLimit int) map[string]any {
	instruction, ok := modeInstructions[s.Mode]
	if !ok {
		instruction = modeInstructions[ModeGeneral]
	}
	topic := s.Topic
	if topic == "" {
		topic = "(未设定)"
	}
	subTopic := s.SubTopic
	if subTopic == "" {
		subTopic = "(未设定)"
	}
	return map[string]any{
		"difficulty_level": string(s.DifficultyLevel),
		"topic":            topic,
		"sub_topic":        subTopic,
		"struggle_count":   s.StruggleCount,
		"mode_instruction": instruction,
		"history":          s.historyWindow(historyLimit),
	}
}

// RouterClassifyPrompt 确定性规则未命中时，让模型对用户输入做模式分类
// 只允许输出单个模式标签，解析失败时回退 general
const RouterClassifyPrompt = `你是一个对话路由器。根据学生最新输入，从下面的标签中选择最匹配的一个，
只输出标签本身，不要输出任何其他内容:

- general: 普通提问或闲聊
- code_review: 学生在请求审查/调试自己写的代码
- concept_exploration: 学生想深入理解某个编程概念
- challenge: 学生想要练习题或编程挑战
- evaluate_understanding: 学生在陈述自己对概念的理解并希望得到确认

学生输入:
{query}`

// MCQGenPrompt 让模型生成一道选择题，输出必须是严格 JSON
// 字段契约: question, options(恰好 4 项), answer_index(0-3), explanation
const MCQGenPrompt = `请围绕 Python 主题「{topic}」生成一道 {difficulty_level} 难度的单项选择题。
只输出一个 JSON 对象，不要有任何额外文字或 markdown 围栏，格式:
{{"question": "题干", "options": ["选项1", "选项2", "选项3", "选项4"], "answer_index": 0, "explanation": "答案解析"}}

要求:
1. options 必须恰好 4 项，只有一项正确。
2. answer_index 是正确选项的下标 (0-3)。
3. explanation 说明为什么该选项正确。`

// ConceptRelevancePrompt 判断学生提到的概念是否属于 Python 核心教学范围
// 输出严格 JSON: {"relevance": "core"|"peripheral", "summary": "...", "suggested_topic": "..."}
const ConceptRelevancePrompt = `请判断下面这个话题是否属于 Python 基础教学的核心概念
（如变量、函数、类、条件语句、循环、数据结构等）。
只输出一个 JSON 对象，格式:
{{"relevance": "core" 或 "peripheral", "summary": "对话题的一句话概括", "suggested_topic": "若为 peripheral，给出一个相近的核心概念"}}

话题: {query}`
