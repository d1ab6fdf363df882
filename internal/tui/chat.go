package tui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/cloudwego/eino/schema"
	"github.com/wwwzy/socratutor/internal/agent"
	"github.com/wwwzy/socratutor/internal/ui"
)

type ChatUI struct{}

func (u *ChatUI) Run(ctx context.Context, backend ui.ChatBackend, initial agent.AgentState, opts ui.ChatOptions) error {
	m := newChatModel(ctx, backend, initial, opts)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

type backendResultMsg struct {
	state     agent.AgentState
	err       error
	prevCount int
}

type streamTickMsg struct{}
type cancelMsg struct{}

var stdioMu sync.Mutex

type chatModel struct {
	ctx     context.Context
	backend ui.ChatBackend
	opts    ui.ChatOptions

	state agent.AgentState

	width  int
	height int

	viewport   viewport.Model
	input      textinput.Model
	spinner    spinner.Model
	thinking   bool
	followTail bool

	// 选择题作答面板
	mcqVisible bool
	mcqIndex   int

	overrideContent map[int]string
	streaming       bool
	streamIdx       int
	streamPos       int
	streamFull      string

	renderer *glamour.TermRenderer
}

func newChatModel(ctx context.Context, backend ui.ChatBackend, initial agent.AgentState, opts ui.ChatOptions) chatModel {
	state := initial
	if state.Context == nil {
		state.Context = map[string]interface{}{}
	}

	s := spinner.New()
	s.Spinner = spinner.MiniDot

	ti := textinput.New()
	ti.Placeholder = "输入消息，回车发送"
	ti.Prompt = ""
	ti.Focus()

	vp := viewport.New(0, 0)
	vp.SetContent("")

	m := chatModel{
		ctx:             ctx,
		backend:         backend,
		opts:            opts,
		state:           state,
		viewport:        vp,
		input:           ti,
		spinner:         s,
		followTail:      true,
		overrideContent: map[int]string{},
	}
	// 恢复的会话可能带着未作答的题目
	if state.MCQ.Active {
		m.mcqVisible = true
	}
	return m
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitCancel(m.ctx))
}

func waitCancel(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		<-ctx.Done()
		return cancelMsg{}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case cancelMsg:
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		inputHeight := 3
		footerHeight := 1
		chatHeight := m.height - inputHeight - footerHeight
		if chatHeight < 1 {
			chatHeight = 1
		}

		m.viewport.Width = m.width
		m.viewport.Height = chatHeight

		m.input.Width = max(10, m.width-4)

		m.resetMarkdownRenderer()
		m.updateViewportContent(m.renderChat())
		return m, nil

	case spinner.TickMsg:
		if m.thinking {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case backendResultMsg:
		m.thinking = false
		if msg.err != nil {
			// 状态已在引擎侧回滚，这里只展示一条提示
			m.state = msg.state
			m.state.Messages = append(m.state.Messages, schema.AssistantMessage(
				fmt.Sprintf("这一轮处理失败（%v），我们回到刚才的进度继续。", msg.err), nil))
			m.followTail = true
			m.mcqVisible = m.state.MCQ.Active
			m.updateViewportContent(m.renderChat())
			return m, nil
		}

		m.state = msg.state
		if m.state.Context == nil {
			m.state.Context = map[string]interface{}{}
		}

		if m.opts.OnStateChange != nil {
			_ = m.opts.OnStateChange(m.ctx, m.state)
		}

		m.updateViewportContent(m.renderChat())

		if m.state.MCQ.Active {
			m.startMCQPrompt()
		}

		m.startStreamingFrom(msg.prevCount)
		if m.streaming {
			m.updateViewportContent(m.renderChat())
			return m, streamTick()
		}
		return m, nil

	case streamTickMsg:
		if !m.streaming {
			return m, nil
		}
		m.streamPos = min(len(m.streamFull), m.streamPos+32)
		m.overrideContent[m.streamIdx] = m.streamFull[:m.streamPos]
		m.updateViewportContent(m.renderChat())
		if m.streamPos >= len(m.streamFull) {
			m.streaming = false
		}
		if m.streaming {
			return m, streamTick()
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		}

		if m.mcqVisible {
			n := len(m.state.MCQ.Options)
			if n == 0 {
				n = 4
			}
			switch msg.String() {
			case "left", "up", "shift+tab":
				m.mcqIndex = (m.mcqIndex + n - 1) % n
				return m, nil
			case "right", "down", "tab":
				m.mcqIndex = (m.mcqIndex + 1) % n
				return m, nil
			case "esc":
				// 隐藏面板改用自由输入；非作答输入会得到澄清提示
				m.mcqVisible = false
				return m, nil
			case "enter":
				answer := string(rune('A' + m.mcqIndex))
				m.mcqVisible = false
				return m.sendUserInput(answer)
			default:
				return m, nil
			}
		}

		switch msg.String() {
		case "pgup", "pageup":
			m.viewport.PageUp()
			m.followTail = false
			return m, nil
		case "pgdown", "pagedown":
			m.viewport.PageDown()
			if m.viewport.AtBottom() {
				m.followTail = true
			}
			return m, nil
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)

		if msg.String() == "enter" {
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, cmd
			}
			switch strings.ToLower(text) {
			case "exit", "quit":
				return m, tea.Quit
			}
			m.input.SetValue("")
			model, sendCmd := m.sendUserInput(text)
			return model, tea.Batch(cmd, sendCmd)
		}

		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// sendUserInput 乐观地把用户消息放进历史并触发后台处理
// 引擎对相同的末尾用户消息做去重，不会重复入史
func (m chatModel) sendUserInput(text string) (tea.Model, tea.Cmd) {
	m.state.Messages = append(m.state.Messages, schema.UserMessage(text))
	m.followTail = true
	m.updateViewportContent(m.renderChat())

	m.thinking = true
	prev := len(m.state.Messages)
	return m, tea.Batch(m.spinner.Tick, invokeBackend(m.ctx, m.backend, m.state, text, prev))
}

func (m chatModel) View() string {
	header := lipgloss.NewStyle().Bold(true).Render("Socratutor · Python 苏格拉底导师")

	chat := m.viewport.View()

	var inputLine string
	if m.mcqVisible {
		inputLine = m.mcqView()
	} else {
		inputLine = m.inputView()
	}

	footer := m.footerView()

	return lipgloss.JoinVertical(lipgloss.Left, header, chat, inputLine, footer)
}

func (m chatModel) footerView() string {
	left := "Enter 发送 | PgUp/PgDn 滚动 | Ctrl+C 退出"
	right := ""
	if m.mcqVisible {
		right = "Tab/←/→ 选择  Enter 作答  Esc 自由输入"
	} else if m.thinking {
		right = m.spinner.View() + " Thinking..."
	} else {
		right = fmt.Sprintf("难度: %s", m.state.DifficultyLevel)
	}
	style := lipgloss.NewStyle().Width(m.width).Padding(0, 1)
	return style.Render(lipgloss.JoinHorizontal(lipgloss.Left, left, lipgloss.NewStyle().Width(max(0, m.width-lipgloss.Width(left)-lipgloss.Width(right)-2)).Render(""), right))
}

func (m chatModel) inputView() string {
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(0, 1).
		Width(max(1, m.input.Width+2)).
		Render(m.input.View())
	return box
}

func (m *chatModel) startMCQPrompt() {
	m.mcqVisible = true
	m.mcqIndex = 0
}

// mcqView 渲染作答面板：四个选项按钮，高亮当前选择
func (m chatModel) mcqView() string {
	active := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("205")).
		Padding(0, 2).
		Bold(true)
	inactive := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 2)

	options := m.state.MCQ.Options
	if len(options) == 0 {
		options = []string{"A", "B", "C", "D"}
	}

	buttons := make([]string, 0, len(options))
	for i := range options {
		label := string(rune('A' + i))
		if i == m.mcqIndex {
			buttons = append(buttons, active.Render(label))
		} else {
			buttons = append(buttons, inactive.Render(label))
		}
	}

	row := lipgloss.JoinHorizontal(lipgloss.Left, joinWithSpace(buttons)...)
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(0, 1).
		Render(m.wrapToWidth("选择你的答案:", m.bubbleMaxContentWidth()) + "\n\n" + row)
	return box
}

func joinWithSpace(items []string) []string {
	out := make([]string, 0, len(items)*2)
	for i, it := range items {
		if i > 0 {
			out = append(out, " ")
		}
		out = append(out, it)
	}
	return out
}

func (m *chatModel) updateViewportContent(content string) {
	oldYOffset := m.viewport.YOffset
	m.viewport.SetContent(content)
	if m.followTail {
		m.viewport.GotoBottom()
		return
	}
	m.viewport.SetYOffset(oldYOffset)
}

func invokeBackend(ctx context.Context, backend ui.ChatBackend, state agent.AgentState, input string, prevCount int) tea.Cmd {
	return func() tea.Msg {
		next, err := invokeBackendDiscardingStdIO(ctx, backend, state, input)
		return backendResultMsg{state: next, err: err, prevCount: prevCount}
	}
}

// invokeBackendDiscardingStdIO 调用引擎时把标准输出临时重定向到 /dev/null
// 防止底层库的杂散打印破坏 TUI 画面
func invokeBackendDiscardingStdIO(ctx context.Context, backend ui.ChatBackend, state agent.AgentState, input string) (agent.AgentState, error) {
	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		next, _, invokeErr := backend.ProcessTurn(ctx, state, input)
		return next, invokeErr
	}
	defer devNull.Close()

	stdioMu.Lock()
	oldStdout := os.Stdout
	oldStderr := os.Stderr
	os.Stdout = devNull
	os.Stderr = devNull
	stdioMu.Unlock()

	next, _, invokeErr := backend.ProcessTurn(ctx, state, input)

	stdioMu.Lock()
	os.Stdout = oldStdout
	os.Stderr = oldStderr
	stdioMu.Unlock()

	return next, invokeErr
}

func streamTick() tea.Cmd {
	return tea.Tick(45*time.Millisecond, func(time.Time) tea.Msg { return streamTickMsg{} })
}

func (m *chatModel) startStreamingFrom(prevCount int) {
	m.streaming = false
	m.streamFull = ""
	m.streamPos = 0
	m.streamIdx = -1

	if prevCount < 0 {
		prevCount = 0
	}
	for i := prevCount; i < len(m.state.Messages); i++ {
		msg := m.state.Messages[i]
		if msg == nil {
			continue
		}
		if msg.Role != schema.Assistant {
			continue
		}
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		m.streaming = true
		m.streamIdx = i
		m.streamFull = msg.Content
		m.streamPos = min(len(m.streamFull), 32)
		preview := m.streamFull[:m.streamPos]
		if strings.TrimSpace(preview) == "" {
			preview = "…"
		}
		m.overrideContent[i] = preview
		return
	}
}

func (m *chatModel) resetMarkdownRenderer() {
	if m.width <= 0 {
		return
	}
	contentWidth := m.bubbleMaxContentWidth()
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(contentWidth),
	)
	if err == nil {
		m.renderer = r
	}
}

func (m chatModel) renderChat() string {
	if m.width <= 0 {
		m.width = 80
	}

	var b strings.Builder
	for i, msg := range m.state.Messages {
		if msg == nil {
			continue
		}
		// 系统消息与工具结果是内部素材，不渲染
		if msg.Role == schema.System || msg.Role == schema.Tool {
			continue
		}

		content := msg.Content
		if override, ok := m.overrideContent[i]; ok && (m.streaming && m.streamIdx == i) {
			content = override
		}
		content = strings.TrimRight(content, "\n")
		if msg.Role == schema.Assistant && strings.TrimSpace(content) == "" {
			continue
		}

		line := m.renderOneMessage(msg.Role, content)
		if line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m chatModel) bubbleMaxContentWidth() int {
	if m.width <= 0 {
		return 72
	}
	return max(20, m.width-8)
}

func (m chatModel) bubbleMinContentWidth() int {
	return 10
}

func (m chatModel) desiredContentWidth(s string) int {
	maxAllowed := m.bubbleMaxContentWidth()
	w := maxLineWidth(s)
	w = max(m.bubbleMinContentWidth(), w)
	w = min(maxAllowed, w)
	return w
}

func (m chatModel) wrapToWidth(s string, width int) string {
	if width <= 0 {
		return s
	}
	return lipgloss.NewStyle().Width(width).Render(s)
}

func maxLineWidth(s string) int {
	s = strings.TrimRight(s, "\n")
	if strings.TrimSpace(s) == "" {
		return 0
	}
	lines := strings.Split(s, "\n")
	maxW := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " ")
		w := lipgloss.Width(line)
		if w > maxW {
			maxW = w
		}
	}
	return maxW
}

func (m chatModel) renderOneMessage(role schema.RoleType, content string) string {
	switch role {
	case schema.User:
		return m.renderUser(content)
	default:
		return m.renderAssistant(content)
	}
}

func (m chatModel) renderAssistant(content string) string {
	md := content
	if m.renderer != nil && strings.TrimSpace(md) != "" {
		if rendered, err := m.renderer.Render(md); err == nil {
			md = strings.TrimRight(rendered, "\n")
		}
	}
	md = m.wrapToWidth(md, m.desiredContentWidth(md))
	bubble := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(0, 1).
		MaxWidth(max(20, m.width-4)).
		Render(md)
	return bubble
}

func (m chatModel) renderUser(content string) string {
	content = m.wrapToWidth(content, m.desiredContentWidth(content))
	bubble := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("205")).
		Padding(0, 1).
		MaxWidth(max(20, m.width-4)).
		Render(content)
	return lipgloss.NewStyle().Width(m.width).Align(lipgloss.Right).Render(bubble)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
