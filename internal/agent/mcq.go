package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// mcqPayload 是 MCQ 生成工具与引擎之间的结构化契约
type mcqPayload struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	AnswerIndex int      `json:"answer_index"`
	Explanation string   `json:"explanation"`
}

var (
	mcqFenceOpenRE  = regexp.MustCompile("^```(json|python)?\n?")
	mcqFenceCloseRE = regexp.MustCompile("\n?```$")
)

// ParseMCQPayload 解析 MCQ 生成工具的输出并转换为 MCQState。
// 模型生成的 JSON 经常带 markdown 围栏或中文/弯引号污染，这里先做清洗，
// 标准解析失败时再尝试 jsonrepair 修复一次；仍失败或校验不通过时返回
// ErrMalformedMCQPayload，由调用方走降级路径，绝不让坏数据激活 MCQ。
func ParseMCQPayload(raw string) (MCQState, error) {
	cleaned := sanitizeModelJSON(raw)

	var payload mcqPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		fixed, repairErr := jsonrepair.JSONRepair(cleaned)
		if repairErr != nil {
			return MCQState{}, fmt.Errorf("%w: %v", ErrMalformedMCQPayload, err)
		}
		if err := json.Unmarshal([]byte(fixed), &payload); err != nil {
			return MCQState{}, fmt.Errorf("%w: %v", ErrMalformedMCQPayload, err)
		}
	}

	if strings.TrimSpace(payload.Question) == "" {
		return MCQState{}, fmt.Errorf("%w: empty question", ErrMalformedMCQPayload)
	}
	if len(payload.Options) != 4 {
		return MCQState{}, fmt.Errorf("%w: want 4 options, got %d", ErrMalformedMCQPayload, len(payload.Options))
	}
	if payload.AnswerIndex < 0 || payload.AnswerIndex > 3 {
		return MCQState{}, fmt.Errorf("%w: answer_index %d out of range", ErrMalformedMCQPayload, payload.AnswerIndex)
	}

	return MCQState{
		Active:        true,
		Question:      strings.TrimSpace(payload.Question),
		Options:       payload.Options,
		CorrectAnswer: string(rune('A' + payload.AnswerIndex)),
		Explanation:   strings.TrimSpace(payload.Explanation),
	}, nil
}

// sanitizeModelJSON 去掉模型输出常见的包装噪音：markdown 围栏、弯引号、制表符
func sanitizeModelJSON(raw string) string {
	s := strings.TrimSpace(raw)
	s = mcqFenceOpenRE.ReplaceAllString(s, "")
	s = mcqFenceCloseRE.ReplaceAllString(s, "")
	s = strings.NewReplacer(
		"“", `"`, "”", `"`,
		"‘", "'", "’", "'",
		"\t", "    ",
	).Replace(s)
	return strings.TrimSpace(s)
}

// FormatMCQPresentation 将选择题渲染为一条面向用户的消息
// 选项已自带字母前缀的不再重复编号
func FormatMCQPresentation(mcq MCQState) string {
	var b strings.Builder
	b.WriteString("**")
	b.WriteString(mcq.Question)
	b.WriteString("**\n\n")
	for i, opt := range mcq.Options {
		letter := string(rune('A' + i))
		if strings.HasPrefix(strings.TrimSpace(opt), letter+")") || strings.HasPrefix(strings.TrimSpace(opt), letter+".") {
			b.WriteString(strings.TrimSpace(opt))
		} else {
			b.WriteString(letter)
			b.WriteString(") ")
			b.WriteString(strings.TrimSpace(opt))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n请用单个字母 (A/B/C/D) 回答。")
	return b.String()
}
