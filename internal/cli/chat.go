package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/wwwzy/socratutor/internal/agent"
	"github.com/wwwzy/socratutor/internal/logging"
	"github.com/wwwzy/socratutor/internal/storage"
	"github.com/wwwzy/socratutor/internal/tui"
	"github.com/wwwzy/socratutor/internal/ui"
	"go.uber.org/zap"
)

var (
	chatUIKind    string
	chatSessionID string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "进入交互式辅导模式",
	Long: `进入一个交互式对话，由苏格拉底式导师辅导 Python 学习。
可以贴代码求点评、提问概念、请求编程挑战或选择题测验。
用 --session 指定会话 ID 可以恢复之前的学习进度。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigChan
			cancel()
		}()

		// TUI 占用终端时控制台日志压到 warn 以上
		var logger *zap.Logger
		var err error
		if chatUIKind == "tui" {
			logger, err = logging.NewQuiet(cfg.LogLevel, cfg.LogFile)
		} else {
			logger, err = logging.New(cfg.LogLevel, cfg.LogFile)
		}
		if err != nil {
			return fmt.Errorf("初始化日志失败: %w", err)
		}
		defer logger.Sync()

		store, err := storage.Open(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("打开数据库失败: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("数据库迁移失败: %w", err)
		}

		chatModel, err := agent.NewChatModel(ctx, cfg.Ark)
		if err != nil {
			return fmt.Errorf("初始化 ChatModel 失败: %w", err)
		}

		tools := agent.WrapAllWithAudit(agent.GetTools(chatModel), store, logger)
		registry, err := agent.NewToolRegistry(ctx, tools...)
		if err != nil {
			return fmt.Errorf("注册工具失败: %w", err)
		}

		engine, err := agent.NewEngine(ctx, agent.Deps{
			ChatModel: chatModel,
			Registry:  registry,
			Logger:    logger,
		}, agent.Options{
			MaxHandlerPasses: cfg.Tutor.MaxHandlerPasses,
			HistoryWindow:    cfg.Tutor.HistoryWindow,
			ModelTimeout:     cfg.Tutor.ModelTimeout,
			ToolTimeout:      cfg.Tutor.ToolTimeout,
			Policy: agent.DifficultyPolicy{
				DemoteAfter:       cfg.Tutor.DemoteAfter,
				PromoteOnRecovery: true,
			},
		})
		if err != nil {
			return fmt.Errorf("构建对话引擎失败: %w", err)
		}

		initial, err := resolveInitialState(ctx, store, chatSessionID,
			agent.DifficultyLevel(cfg.Tutor.DefaultDifficulty), logger)
		if err != nil {
			return err
		}

		var uiImpl ui.ChatUI
		switch chatUIKind {
		case "console", "":
			uiImpl = &ui.ConsoleChatUI{In: os.Stdin, Out: os.Stdout}
			fmt.Printf("会话 ID: %s\n", initial.SessionID)
		case "tui":
			uiImpl = &tui.ChatUI{}
		default:
			return fmt.Errorf("未知 ui 类型: %s (支持: console, tui)", chatUIKind)
		}

		return uiImpl.Run(ctx, engine, initial, ui.ChatOptions{
			OnStateChange: func(ctx context.Context, state agent.AgentState) error {
				return persistState(ctx, store, state)
			},
		})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatUIKind, "ui", "console", "交互界面类型: console/tui")
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "会话 ID；指定已存在的 ID 可恢复进度，缺省新建会话")
}

// resolveInitialState 按 --session 取回或新建会话状态
// 新会话使用配置的初始难度；恢复的会话保留已持久化的难度
func resolveInitialState(ctx context.Context, store *storage.Storage, sessionID string, defaultDifficulty agent.DifficultyLevel, logger *zap.Logger) (agent.AgentState, error) {
	if sessionID == "" {
		return newSessionState(uuid.NewString(), defaultDifficulty), nil
	}

	rec, err := store.LoadSession(ctx, sessionID)
	if storage.IsNotFound(err) {
		logger.Info("session not found, starting fresh", zap.String("session_id", sessionID))
		return newSessionState(sessionID, defaultDifficulty), nil
	}
	if err != nil {
		return agent.AgentState{}, fmt.Errorf("加载会话失败: %w", err)
	}

	var state agent.AgentState
	if err := json.Unmarshal([]byte(rec.StateJSON), &state); err != nil {
		return agent.AgentState{}, fmt.Errorf("会话状态损坏 (session_id=%s): %w", sessionID, err)
	}
	// Context 与本轮信号字段不参与持久化，恢复时重建
	state.SessionID = sessionID
	state.Context = map[string]interface{}{}
	state.NextStepToolCalls = nil
	logger.Info("session restored",
		zap.String("session_id", sessionID),
		zap.Int("messages", len(state.Messages)),
		zap.String("difficulty", string(state.DifficultyLevel)))
	return state, nil
}

func newSessionState(sessionID string, difficulty agent.DifficultyLevel) agent.AgentState {
	st := agent.NewAgentState(sessionID)
	switch difficulty {
	case agent.DifficultyBeginner, agent.DifficultyIntermediate, agent.DifficultyAdvanced:
		st.DifficultyLevel = difficulty
	}
	return st
}

// persistState 每轮成功后把完整状态序列化入库
// 冗余列（难度/主题/计数）单独落列，供 sessions list 展示与过滤
func persistState(ctx context.Context, store *storage.Storage, state agent.AgentState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("序列化会话状态失败: %w", err)
	}
	return store.SaveSession(ctx, &storage.SessionRecord{
		SessionID:       state.SessionID,
		StateJSON:       string(raw),
		DifficultyLevel: string(state.DifficultyLevel),
		Topic:           state.Topic,
		StruggleCount:   state.StruggleCount,
		MessageCount:    len(state.Messages),
	})
}
