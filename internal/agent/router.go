package agent

import (
	"regexp"
	"strings"
)

// Router 的确定性规则层
// 能用规则判定的绝不交给模型：MCQ 答题、代码检测、关键词触发的模式切换
// 都在这里完成，只有全部未命中时才走模型分类兜底。

// mcqAnswerRE 识别 "A" / "b)" / "C." 形式的选择题作答
var mcqAnswerRE = regexp.MustCompile(`^[ABCD][.)]?$`)

// NormalizeMCQAnswer 将用户输入归一化为单个答案字母，非作答输入返回空串
func NormalizeMCQAnswer(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if !mcqAnswerRE.MatchString(s) {
		return ""
	}
	return s[:1]
}

var codeFenceRE = regexp.MustCompile("(?s)```(?:python)?\n?(.*?)```")

// pythonLineRE 无围栏时的行级启发式：以典型 Python 语句开头的行
var pythonLineRE = regexp.MustCompile(`(?m)^\s*(def\s+\w+\s*\(|class\s+\w+|import\s+\w+|from\s+\w+\s+import|for\s+\w+\s+in\s|while\s+.+:|if\s+.+:|print\s*\()`)

// DetectCode 从用户输入中提取代码片段
// 优先取 markdown 围栏内容；没有围栏时要求至少两行命中 Python 语句特征，
// 避免把 "what does print do" 这类普通提问误判成代码
func DetectCode(input string) (string, bool) {
	if m := codeFenceRE.FindStringSubmatch(input); m != nil {
		code := strings.TrimSpace(m[1])
		if code != "" {
			return code, true
		}
	}
	if len(pythonLineRE.FindAllString(input, -1)) >= 2 {
		return strings.TrimSpace(input), true
	}
	// 整条输入就是单条 Python 语句的也算
	trimmed := strings.TrimSpace(input)
	for _, prefix := range []string{"def ", "class ", "import ", "from ", "print("} {
		if strings.HasPrefix(trimmed, prefix) {
			return trimmed, true
		}
	}
	return "", false
}

var mcqRequestKeywords = []string{
	"quiz", "mcq", "multiple choice", "test me",
	"选择题", "测验", "考考我", "出题",
}

var challengeKeywords = []string{
	"challenge", "exercise", "practice problem", "coding problem",
	"挑战", "练习题", "编程题", "来道题",
}

var affirmationTokens = []string{
	"got it", "i understand", "i get it", "makes sense", "understood", "ok", "okay", "yes",
	"明白", "明白了", "懂了", "好的", "理解了", "我懂了",
}

var conceptKeywords = []string{
	"what is", "what are", "explain", "how does", "tell me about",
	"什么是", "解释", "讲讲", "介绍一下", "是什么意思",
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// maxAffirmationWords 确认语判定的词数上限，长句里顺带出现的确认词不算
const maxAffirmationWords = 5

// isAffirmation 判断短消息是否为理解确认
// 英文确认语按完整词匹配（"yes i got it" 算，"broken" 不因包含 ok 而算）；
// 中文确认语按包含匹配，带否定或疑问语气的不算（"不明白"、"明白了吗"）
func isAffirmation(s string) bool {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ',', '.', '!', '?', ';', '~', '，', '。', '！', '？', '；':
			return ' '
		}
		return r
	}, s)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" || len(strings.Fields(cleaned)) > maxAffirmationWords {
		return false
	}

	padded := " " + cleaned + " "
	for _, t := range affirmationTokens {
		if isASCIIToken(t) {
			if strings.Contains(padded, " "+t+" ") {
				return true
			}
			continue
		}
		if strings.Contains(cleaned, t) && !strings.ContainsAny(cleaned, "不没吗") {
			return true
		}
	}
	return false
}

func isASCIIToken(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// DecideRoute 执行确定性路由
// 返回 (模式, 是否已判定)；未判定时由调用方走模型分类兜底
// MCQ 激活期间的非作答输入由 needsMCQClarification 单独处理，不进入这里
func DecideRoute(query string, st AgentState) (InteractionMode, bool) {
	lower := strings.ToLower(strings.TrimSpace(query))

	// 1. MCQ 激活时，合法作答进入判题模式
	if st.MCQ.Active && NormalizeMCQAnswer(query) != "" {
		return ModeMCQActive, true
	}

	// 2. 短确认语先于代码检测，两者不会同时出现在正常输入里
	if isAffirmation(lower) {
		return ModeEvaluateUnderstanding, true
	}

	// 3. 代码检测
	if _, ok := DetectCode(query); ok {
		return ModeCodeReview, true
	}

	// 4. 关键词触发
	if containsAny(lower, mcqRequestKeywords) {
		return ModeMCQRequest, true
	}
	if containsAny(lower, challengeKeywords) {
		return ModeChallenge, true
	}
	if containsAny(lower, conceptKeywords) {
		return ModeConceptExploration, true
	}

	return ModeGeneral, false
}

// needsMCQClarification 判断是否触发 MCQ 澄清短路：
// 题目激活但输入不是合法作答时，直接回复澄清消息并结束本轮
func needsMCQClarification(query string, st AgentState) bool {
	return st.MCQ.Active && NormalizeMCQAnswer(query) == ""
}

// MCQClarificationMessage 澄清短路时回复的固定消息
const MCQClarificationMessage = "当前有一道选择题等待作答，请用单个字母 (A/B/C/D) 回答。如果想跳过这道题，可以回复 A-D 中任意一项，之后我们再继续讨论。"

// ParseModeLabel 解析模型分类兜底的输出
// 模型可能输出多余的文字或引号，做宽松匹配；完全不认识时返回 false
func ParseModeLabel(raw string) (InteractionMode, bool) {
	label := strings.ToLower(strings.TrimSpace(raw))
	label = strings.Trim(label, "`\"'. ")

	candidates := []InteractionMode{
		ModeGeneral, ModeCodeReview, ModeConceptExploration,
		ModeChallenge, ModeEvaluateUnderstanding,
	}
	for _, m := range candidates {
		if label == string(m) {
			return m, true
		}
	}
	// 宽松匹配：输出里包含唯一一个已知标签
	var found InteractionMode
	count := 0
	for _, m := range candidates {
		if strings.Contains(label, string(m)) {
			found = m
			count++
		}
	}
	// code_review 等标签互不为子串，命中多个说明输出不可信
	if count == 1 {
		return found, true
	}
	return "", false
}
