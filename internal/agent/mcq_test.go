package agent

import (
	"errors"
	"strings"
	"testing"
)

const validMCQJSON = `{"question": "def 关键字的作用是?", "options": ["定义变量", "定义函数", "导入模块", "抛出异常"], "answer_index": 1, "explanation": "def 用于定义函数。"}`

func TestParseMCQPayload(t *testing.T) {
	mcq, err := ParseMCQPayload(validMCQJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mcq.Active {
		t.Error("parsed mcq should be active")
	}
	if mcq.CorrectAnswer != "B" {
		t.Errorf("CorrectAnswer = %q, want B", mcq.CorrectAnswer)
	}
	if len(mcq.Options) != 4 {
		t.Errorf("options = %d, want 4", len(mcq.Options))
	}
}

func TestParseMCQPayloadWithFence(t *testing.T) {
	fenced := "```json\n" + validMCQJSON + "\n```"
	if _, err := ParseMCQPayload(fenced); err != nil {
		t.Fatalf("fenced payload should parse: %v", err)
	}
}

func TestParseMCQPayloadSmartQuotes(t *testing.T) {
	bad := strings.NewReplacer(`"question"`, "“question”").Replace(validMCQJSON)
	if _, err := ParseMCQPayload(bad); err != nil {
		t.Fatalf("smart-quoted payload should parse after cleanup: %v", err)
	}
}

func TestParseMCQPayloadRepairable(t *testing.T) {
	// 末尾多一个逗号，标准解析失败但可修复
	trailing := `{"question": "q", "options": ["a", "b", "c", "d",], "answer_index": 0, "explanation": "e"}`
	mcq, err := ParseMCQPayload(trailing)
	if err != nil {
		t.Fatalf("repairable payload should parse: %v", err)
	}
	if mcq.CorrectAnswer != "A" {
		t.Errorf("CorrectAnswer = %q, want A", mcq.CorrectAnswer)
	}
}

func TestParseMCQPayloadRejectsBadShape(t *testing.T) {
	cases := []string{
		`{"question": "q", "options": ["a", "b"], "answer_index": 0, "explanation": "e"}`,
		`{"question": "q", "options": ["a", "b", "c", "d"], "answer_index": 4, "explanation": "e"}`,
		`{"question": "q", "options": ["a", "b", "c", "d"], "answer_index": -1, "explanation": "e"}`,
		`{"question": "  ", "options": ["a", "b", "c", "d"], "answer_index": 0, "explanation": "e"}`,
		`完全不是 JSON 的一段话`,
	}
	for _, c := range cases {
		if _, err := ParseMCQPayload(c); !errors.Is(err, ErrMalformedMCQPayload) {
			t.Errorf("payload %q: want ErrMalformedMCQPayload, got %v", c, err)
		}
	}
}

func TestFormatMCQPresentation(t *testing.T) {
	mcq, err := ParseMCQPayload(validMCQJSON)
	if err != nil {
		t.Fatal(err)
	}
	out := FormatMCQPresentation(mcq)
	for _, want := range []string{"A)", "B)", "C)", "D)", "def 关键字的作用是?", "A/B/C/D"} {
		if !strings.Contains(out, want) {
			t.Errorf("presentation missing %q:\n%s", want, out)
		}
	}
}

func TestFormatMCQPresentationKeepsExistingLetters(t *testing.T) {
	mcq := MCQState{
		Active:        true,
		Question:      "q",
		Options:       []string{"A) one", "B) two", "C) three", "D) four"},
		CorrectAnswer: "A",
	}
	out := FormatMCQPresentation(mcq)
	if strings.Contains(out, "A) A)") {
		t.Errorf("letters duplicated:\n%s", out)
	}
}
