package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"unicode"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// 各教学子智能体的提示词，由对应工具内部渲染
const (
	codeAnalysisPrompt = `你是一名 Python 代码审查助手。请分析下面的学生代码，
指出其中的错误、坏味道和可改进之处，按严重程度排序。
输出面向 {difficulty_level} 水平的学生，不要直接给出修正后的完整代码，
而是描述问题所在并给出引导学生自己修复的提示。

学生代码:
` + "```python\n{code}\n```"

	conceptExplanationPrompt = `请为 {difficulty_level} 水平的学生准备关于 Python 概念「{concept}」的讲解素材:
1. 一句话定义;
2. 一个贴近生活的类比;
3. 一个最小可运行的 Python 示例;
4. 两个用于检验理解的引导性问题。`

	challengeGenPrompt = `请围绕 Python 主题「{topic}」设计一道 {difficulty_level} 难度的编程挑战。
包含: 题目描述、输入输出示例、一条不剧透答案的提示。不要给出参考答案。`
)

// renderPrompt 用 FString 模板渲染单条用户消息
func renderPrompt(ctx context.Context, tpl string, vars map[string]any) (*schema.Message, error) {
	msgs, err := prompt.FromMessages(schema.FString, schema.UserMessage(tpl)).Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to render prompt: %w", err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("empty prompt rendering")
	}
	return msgs[0], nil
}

// CodeAnalysisTool 分析学生提交的 Python 代码
type CodeAnalysisTool struct {
	chatModel model.BaseChatModel
}

func (t *CodeAnalysisTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "code_analysis_agent",
		Desc: "Analyze a student's Python code snippet and return a structured review (errors, smells, guiding hints). Never returns a fixed version of the code.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"code": {
				Desc:     "The Python code to analyze",
				Type:     schema.String,
				Required: true,
			},
			"difficulty_level": {
				Desc:     "Target student level: beginner/intermediate/advanced",
				Type:     schema.String,
				Required: false,
			},
		}),
	}, nil
}

func (t *CodeAnalysisTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		Code            string `json:"code"`
		DifficultyLevel string `json:"difficulty_level"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(args.Code) == "" {
		return "", fmt.Errorf("code must not be empty")
	}
	if args.DifficultyLevel == "" {
		args.DifficultyLevel = string(DifficultyBeginner)
	}

	msg, err := renderPrompt(ctx, codeAnalysisPrompt, map[string]any{
		"code":             args.Code,
		"difficulty_level": args.DifficultyLevel,
	})
	if err != nil {
		return "", err
	}
	resp, err := t.chatModel.Generate(ctx, []*schema.Message{msg})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// ConceptExplanationTool 生成概念讲解素材
type ConceptExplanationTool struct {
	chatModel model.BaseChatModel
}

func (t *ConceptExplanationTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "concept_explanation_agent",
		Desc: "Produce teaching material (definition, analogy, minimal example, check questions) for a Python concept at the given difficulty.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"concept": {
				Desc:     "The Python concept to explain",
				Type:     schema.String,
				Required: true,
			},
			"difficulty_level": {
				Desc:     "Target student level: beginner/intermediate/advanced",
				Type:     schema.String,
				Required: false,
			},
		}),
	}, nil
}

func (t *ConceptExplanationTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		Concept         string `json:"concept"`
		DifficultyLevel string `json:"difficulty_level"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(args.Concept) == "" {
		return "", fmt.Errorf("concept must not be empty")
	}
	if args.DifficultyLevel == "" {
		args.DifficultyLevel = string(DifficultyBeginner)
	}

	msg, err := renderPrompt(ctx, conceptExplanationPrompt, map[string]any{
		"concept":          args.Concept,
		"difficulty_level": args.DifficultyLevel,
	})
	if err != nil {
		return "", err
	}
	resp, err := t.chatModel.Generate(ctx, []*schema.Message{msg})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// ChallengeGeneratorTool 生成编程挑战
type ChallengeGeneratorTool struct {
	chatModel model.BaseChatModel
}

func (t *ChallengeGeneratorTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "challenge_generator_agent",
		Desc: "Generate a Python coding challenge matching the topic and difficulty. The challenge contains a statement, sample I/O and a hint but no solution.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"topic": {
				Desc:     "The Python topic for the challenge",
				Type:     schema.String,
				Required: true,
			},
			"difficulty_level": {
				Desc:     "Target student level: beginner/intermediate/advanced",
				Type:     schema.String,
				Required: false,
			},
		}),
	}, nil
}

func (t *ChallengeGeneratorTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		Topic           string `json:"topic"`
		DifficultyLevel string `json:"difficulty_level"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(args.Topic) == "" {
		args.Topic = "Python 基础"
	}
	if args.DifficultyLevel == "" {
		args.DifficultyLevel = string(DifficultyBeginner)
	}

	msg, err := renderPrompt(ctx, challengeGenPrompt, map[string]any{
		"topic":            args.Topic,
		"difficulty_level": args.DifficultyLevel,
	})
	if err != nil {
		return "", err
	}
	resp, err := t.chatModel.Generate(ctx, []*schema.Message{msg})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// ConceptRelevance 概念分析工具的结构化结果
type ConceptRelevance struct {
	Relevance      string `json:"relevance"` // core / peripheral
	Summary        string `json:"summary"`
	SuggestedTopic string `json:"suggested_topic"`
}

// ConceptAnalysisTool 判断学生提出的话题是否属于核心教学范围
type ConceptAnalysisTool struct {
	chatModel model.BaseChatModel
}

func (t *ConceptAnalysisTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "concept_analysis_agent",
		Desc: "Classify whether a topic is a core Python teaching concept. Returns JSON with relevance (core/peripheral), summary and suggested_topic.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "The topic or question to classify",
				Type:     schema.String,
				Required: true,
			},
		}),
	}, nil
}

func (t *ConceptAnalysisTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return "", fmt.Errorf("query must not be empty")
	}

	rel, err := t.classify(ctx, args.Query)
	if err != nil {
		// 模型不可用或输出无法解析时退回内置主题表，分类降级但不失败
		rel = fallbackConceptRelevance(args.Query)
	}

	data, err := json.Marshal(rel)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(data), nil
}

func (t *ConceptAnalysisTool) classify(ctx context.Context, query string) (ConceptRelevance, error) {
	if t.chatModel == nil {
		return ConceptRelevance{}, fmt.Errorf("chat model not configured")
	}
	msg, err := renderPrompt(ctx, ConceptRelevancePrompt, map[string]any{"query": query})
	if err != nil {
		return ConceptRelevance{}, err
	}
	resp, err := t.chatModel.Generate(ctx, []*schema.Message{msg})
	if err != nil {
		return ConceptRelevance{}, err
	}
	// 归一化为严格 JSON 再返回，下游折叠逻辑不用重复清洗
	return ParseConceptRelevance(resp.Content)
}

// coreTopicAliases 把常见说法映射到规范主题名，模型不可用时做兜底分类
var coreTopicAliases = map[string]string{
	"variable":    "variables",
	"变量":          "variables",
	"function":    "functions",
	"函数":          "functions",
	"class":       "class",
	"类":           "class",
	"conditional": "conditional statements",
	"条件":          "conditional statements",
	"if":          "conditional statements",
	"comparison":  "comparisons",
	"比较":          "comparisons",
	"loop":        "loops",
	"循环":          "loops",
	"list":        "lists",
	"列表":          "lists",
	"dict":        "dictionaries",
	"字典":          "dictionaries",
	"string":      "strings",
	"字符串":         "strings",
	"recursion":   "recursion",
	"递归":          "recursion",
	"exception":   "exceptions",
	"异常":          "exceptions",
	"decorator":   "decorators",
	"装饰器":         "decorators",
}

func fallbackConceptRelevance(query string) ConceptRelevance {
	q := strings.ToLower(query)
	for alias, topic := range coreTopicAliases {
		if strings.Contains(q, alias) {
			return ConceptRelevance{
				Relevance:      "core",
				Summary:        fmt.Sprintf("%s 是 Python 的核心教学主题。", topic),
				SuggestedTopic: topic,
			}
		}
	}
	return ConceptRelevance{
		Relevance: "peripheral",
		Summary:   "未能识别为核心 Python 主题。",
	}
}

// ParseConceptRelevance 解析概念分析结果，relevance 非法时按 peripheral 处理
func ParseConceptRelevance(raw string) (ConceptRelevance, error) {
	cleaned := sanitizeModelJSON(raw)
	var rel ConceptRelevance
	if err := json.Unmarshal([]byte(cleaned), &rel); err != nil {
		return ConceptRelevance{}, fmt.Errorf("invalid relevance payload: %w", err)
	}
	rel.Relevance = strings.ToLower(strings.TrimSpace(rel.Relevance))
	if rel.Relevance != "core" {
		rel.Relevance = "peripheral"
	}
	return rel, nil
}

// mcqBank 内置题库，按主题归类；命中题库时不消耗模型调用
var mcqBank = map[string][]mcqPayload{
	"variables": {
		{
			Question:    "在 Python 中，下面哪条语句会把整数 5 赋值给变量 x？",
			Options:     []string{"x == 5", "x = 5", "int x = 5", "let x = 5"},
			AnswerIndex: 1,
			Explanation: "Python 用单个等号 = 做赋值，不需要类型声明；== 是比较运算符。",
		},
		{
			Question:    "执行 x = \"3\" 之后，type(x) 的结果是什么？",
			Options:     []string{"int", "float", "str", "bool"},
			AnswerIndex: 2,
			Explanation: "带引号的字面量是字符串，即使内容看起来像数字。",
		},
	},
	"functions": {
		{
			Question:    "定义 Python 函数使用哪个关键字？",
			Options:     []string{"func", "function", "def", "define"},
			AnswerIndex: 2,
			Explanation: "Python 用 def 关键字定义函数。",
		},
		{
			Question:    "一个没有 return 语句的函数被调用后返回什么？",
			Options:     []string{"0", "空字符串", "None", "抛出异常"},
			AnswerIndex: 2,
			Explanation: "没有显式 return 的函数隐式返回 None。",
		},
	},
	"class": {
		{
			Question:    "Python 类的构造方法名是什么？",
			Options:     []string{"__init__", "__new__ 和 __init__ 都不是", "constructor", "__create__"},
			AnswerIndex: 0,
			Explanation: "实例初始化逻辑写在 __init__ 方法里，第一个参数按惯例命名为 self。",
		},
	},
	"conditional statements": {
		{
			Question:    "Python 中表达 \"否则如果\" 的关键字是？",
			Options:     []string{"else if", "elseif", "elif", "otherwise"},
			AnswerIndex: 2,
			Explanation: "Python 的条件分支用 if / elif / else。",
		},
	},
	"comparisons": {
		{
			Question:    "表达式 3 == 3.0 在 Python 中的结果是？",
			Options:     []string{"True", "False", "TypeError", "None"},
			AnswerIndex: 0,
			Explanation: "== 比较值，int 和 float 数值相等时结果为 True；比较身份要用 is。",
		},
	},
}

// MCQGeneratorTool 生成单项选择题
// 题库命中优先，未命中时回退模型生成；无论来源，输出都是 mcqPayload JSON
type MCQGeneratorTool struct {
	chatModel model.BaseChatModel

	// pick 从候选题里选一道，默认随机；测试中注入固定值
	pick func(n int) int
}

func (t *MCQGeneratorTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "mcq_generator_agent",
		Desc: "Generate a single-answer multiple choice question for a Python topic. Returns JSON: question, options (exactly 4), answer_index (0-3), explanation.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"topic": {
				Desc:     "The Python topic to quiz on",
				Type:     schema.String,
				Required: true,
			},
			"difficulty_level": {
				Desc:     "Target student level: beginner/intermediate/advanced",
				Type:     schema.String,
				Required: false,
			},
		}),
	}, nil
}

func (t *MCQGeneratorTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		Topic           string `json:"topic"`
		DifficultyLevel string `json:"difficulty_level"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if args.DifficultyLevel == "" {
		args.DifficultyLevel = string(DifficultyBeginner)
	}

	if qs, ok := lookupBank(args.Topic); ok {
		idx := 0
		if t.pick != nil {
			idx = t.pick(len(qs))
		} else if len(qs) > 1 {
			idx = rand.Intn(len(qs))
		}
		data, err := json.Marshal(qs[idx])
		if err != nil {
			return "", fmt.Errorf("failed to marshal result: %w", err)
		}
		return string(data), nil
	}

	if t.chatModel == nil {
		return "", fmt.Errorf("no builtin question for topic %q and no model configured", args.Topic)
	}

	msg, err := renderPrompt(ctx, MCQGenPrompt, map[string]any{
		"topic":            args.Topic,
		"difficulty_level": args.DifficultyLevel,
	})
	if err != nil {
		return "", err
	}
	resp, err := t.chatModel.Generate(ctx, []*schema.Message{msg})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// lookupBank 用归一化的主题名查题库
// 未精确命中时按完整词匹配（"python variables" 命中 "variables"），
// 不做裸子串匹配，避免 "metaclasses" 误命中 "class" 题库
func lookupBank(topic string) ([]mcqPayload, bool) {
	key := strings.ToLower(strings.TrimSpace(topic))
	if key == "" {
		return nil, false
	}
	if qs, ok := mcqBank[key]; ok {
		return qs, true
	}
	tokens := topicTokens(key)
	for name, qs := range mcqBank {
		if containsTokenRun(tokens, topicTokens(name)) {
			return qs, true
		}
	}
	return nil, false
}

func topicTokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// containsTokenRun 判断 needle 是否作为连续的完整词出现在 haystack 中
func containsTokenRun(haystack, needle []string) bool {
	if len(needle) == 0 {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// MCQAnswerOutcome 判题工具的结构化结果
type MCQAnswerOutcome struct {
	Correct  bool   `json:"correct"`
	Feedback string `json:"feedback"`
}

// MCQAnswerProcessorTool 判定选择题答案并生成反馈，纯本地逻辑不依赖模型
type MCQAnswerProcessorTool struct{}

func (t *MCQAnswerProcessorTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "mcq_answer_processor",
		Desc: "Grade a multiple choice answer. Returns JSON: correct (bool), feedback (message for the student).",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"answer": {
				Desc:     "The student's answer letter (A-D)",
				Type:     schema.String,
				Required: true,
			},
			"correct_answer": {
				Desc:     "The correct answer letter (A-D)",
				Type:     schema.String,
				Required: true,
			},
			"explanation": {
				Desc:     "Explanation to include in the feedback",
				Type:     schema.String,
				Required: false,
			},
		}),
	}, nil
}

func (t *MCQAnswerProcessorTool) InvokableRun(_ context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		Answer        string `json:"answer"`
		CorrectAnswer string `json:"correct_answer"`
		Explanation   string `json:"explanation"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	answer := NormalizeMCQAnswer(args.Answer)
	correct := NormalizeMCQAnswer(args.CorrectAnswer)
	if answer == "" || correct == "" {
		return "", fmt.Errorf("answer and correct_answer must be single letters A-D")
	}

	outcome := MCQAnswerOutcome{Correct: answer == correct}
	var b strings.Builder
	fmt.Fprintf(&b, "你的回答是 %s，正确答案是 %s。", answer, correct)
	if outcome.Correct {
		b.WriteString("回答正确！")
	} else {
		b.WriteString("回答错误。")
	}
	if args.Explanation != "" {
		b.WriteString("\n\n解析: ")
		b.WriteString(args.Explanation)
	}
	outcome.Feedback = b.String()

	data, err := json.Marshal(outcome)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(data), nil
}

// GetTools 返回所有教学工具；LLM 依赖的工具共享同一个 ChatModel
func GetTools(chatModel model.BaseChatModel) []tool.InvokableTool {
	return []tool.InvokableTool{
		&CodeAnalysisTool{chatModel: chatModel},
		&ConceptExplanationTool{chatModel: chatModel},
		&ChallengeGeneratorTool{chatModel: chatModel},
		&ConceptAnalysisTool{chatModel: chatModel},
		&MCQGeneratorTool{chatModel: chatModel},
		&MCQAnswerProcessorTool{},
	}
}
