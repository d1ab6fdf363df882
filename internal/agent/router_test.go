package agent

import (
	"strings"
	"testing"
)

func TestNormalizeMCQAnswer(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"A", "A"},
		{"a", "A"},
		{" b ", "B"},
		{"C.", "C"},
		{"d)", "D"},
		{"E", ""},
		{"AB", ""},
		{"A,", ""},
		{"答案是A", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeMCQAnswer(c.in); got != c.want {
			t.Errorf("NormalizeMCQAnswer(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestDetectCode(t *testing.T) {
	fenced := "帮我看看这段:\n```python\ndef add(a, b):\n    return a + b\n```"
	code, ok := DetectCode(fenced)
	if !ok {
		t.Fatal("fenced code not detected")
	}
	if code != "def add(a, b):\n    return a + b" {
		t.Errorf("unexpected extracted code: %q", code)
	}

	bare := "def greet(name):\n    print(name)\nfor i in range(3):\n    greet(i)"
	if _, ok := DetectCode(bare); !ok {
		t.Error("bare multi-line python not detected")
	}

	if _, ok := DetectCode("what does print do in python?"); ok {
		t.Error("plain question misdetected as code")
	}

	if _, ok := DetectCode("def broken(:"); !ok {
		t.Error("single def line should count as code")
	}

	if _, ok := DetectCode(`print("hello world")`); !ok {
		t.Error("single print statement should count as code")
	}

	if _, ok := DetectCode("import collections"); !ok {
		t.Error("single import statement should count as code")
	}
}

func TestIsAffirmation(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"明白了", true},
		{"yes i got it", true},
		{"ok, makes sense!", true},
		{"好的！", true},
		{"i understand now", true},
		{"ok so what about loops then", false}, // 超过词数上限
		{"the build is broken", false},         // ok 不是完整词
		{"不明白", false},
		{"明白了吗", false},
		{"", false},
	}
	for _, c := range cases {
		if got := isAffirmation(strings.ToLower(c.in)); got != c.want {
			t.Errorf("isAffirmation(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestDecideRouteDeterministic(t *testing.T) {
	st := NewAgentState("s1")

	cases := []struct {
		name    string
		query   string
		state   AgentState
		want    InteractionMode
		decided bool
	}{
		{"mcq answer while active", "A", withActiveMCQ(st), ModeMCQActive, true},
		{"code fence", "```python\nprint(1)\n```", st, ModeCodeReview, true},
		{"quiz keyword en", "give me a quiz on functions", st, ModeMCQRequest, true},
		{"quiz keyword zh", "考考我变量", st, ModeMCQRequest, true},
		{"challenge keyword", "来一道编程题吧", st, ModeChallenge, true},
		{"affirmation exact", "明白了", st, ModeEvaluateUnderstanding, true},
		{"affirmation short sentence", "yes i got it", st, ModeEvaluateUnderstanding, true},
		{"affirmation in long sentence", "ok so what about loops then", st, ModeConceptExploration, false},
		{"single print statement", `print(1 + 1)`, st, ModeCodeReview, true},
		{"concept keyword", "什么是装饰器", st, ModeConceptExploration, true},
		{"undecided", "hmm 我再想想别的", st, ModeGeneral, false},
	}
	for _, c := range cases {
		got, decided := DecideRoute(c.query, c.state)
		if decided != c.decided {
			t.Errorf("%s: decided = %v, want %v", c.name, decided, c.decided)
			continue
		}
		if decided && got != c.want {
			t.Errorf("%s: mode = %s, want %s", c.name, got, c.want)
		}
	}
}

// 同一输入重复路由必须得到同一结果
func TestDecideRouteIsStable(t *testing.T) {
	st := NewAgentState("s1")
	first, _ := DecideRoute("考考我 functions", st)
	for i := 0; i < 10; i++ {
		got, _ := DecideRoute("考考我 functions", st)
		if got != first {
			t.Fatalf("route changed between runs: %s vs %s", first, got)
		}
	}
}

func TestNeedsMCQClarification(t *testing.T) {
	st := withActiveMCQ(NewAgentState("s1"))
	if !needsMCQClarification("为什么选这个?", st) {
		t.Error("non-answer during active mcq should need clarification")
	}
	if needsMCQClarification("B", st) {
		t.Error("valid answer should not need clarification")
	}
	if needsMCQClarification("为什么?", NewAgentState("s2")) {
		t.Error("no active mcq, no clarification")
	}
}

func TestParseModeLabel(t *testing.T) {
	cases := []struct {
		in   string
		want InteractionMode
		ok   bool
	}{
		{"code_review", ModeCodeReview, true},
		{" Concept_Exploration \n", ModeConceptExploration, true},
		{"`challenge`", ModeChallenge, true},
		{"我认为应该是 general", ModeGeneral, true},
		{"general or challenge", "", false},
		{"bananas", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := ParseModeLabel(c.in)
		if ok != c.ok || (ok && got != c.want) {
			t.Errorf("ParseModeLabel(%q) = (%s, %v), want (%s, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}

func withActiveMCQ(st AgentState) AgentState {
	st.Mode = ModeMCQActive
	st.MCQ = MCQState{
		Active:        true,
		Question:      "Python 用哪个关键字定义函数?",
		Options:       []string{"func", "function", "def", "define"},
		CorrectAnswer: "C",
		Explanation:   "def 是函数定义关键字。",
	}
	return st
}
