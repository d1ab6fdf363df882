package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/wwwzy/socratutor/internal/agent"
)

type ConsoleChatUI struct {
	In  io.Reader
	Out io.Writer
}

func (u *ConsoleChatUI) Run(ctx context.Context, backend ChatBackend, initial agent.AgentState, opts ChatOptions) error {
	in := u.In
	if in == nil {
		return fmt.Errorf("console ui: In is nil")
	}
	out := u.Out
	if out == nil {
		return fmt.Errorf("console ui: Out is nil")
	}

	reader := bufio.NewReader(in)
	state := initial
	if state.Context == nil {
		state.Context = map[string]interface{}{}
	}

	fmt.Fprintln(out, "进入 Socratutor 辅导模式。输入 exit/quit 退出。")
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "已退出。")
			return nil
		default:
		}

		// 有选择题等待作答时换提示符
		if state.MCQ.Active {
			fmt.Fprint(out, "你的选择 (A/B/C/D): ")
		} else {
			fmt.Fprint(out, "你: ")
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(out, "\n已退出。")
				return nil
			}
			return fmt.Errorf("读取输入失败: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch strings.ToLower(line) {
		case "exit", "quit":
			fmt.Fprintln(out, "已退出。")
			return nil
		}

		next, replies, err := backend.ProcessTurn(ctx, state, line)
		if err != nil {
			// 回合失败时状态已回滚，提示后继续对话
			fmt.Fprintf(out, "助手: 这一轮处理失败（%v），我们回到刚才的进度继续。\n\n", err)
			state = next
			continue
		}
		state = next

		if len(replies) == 0 {
			fmt.Fprintln(out, "助手: (无输出)")
		}
		for _, r := range replies {
			fmt.Fprintf(out, "助手: %s\n", r)
		}
		fmt.Fprintln(out)

		if opts.OnStateChange != nil {
			if err := opts.OnStateChange(ctx, state); err != nil {
				fmt.Fprintf(out, "(警告: 保存会话失败: %v)\n", err)
			}
		}
	}
}
