package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/wwwzy/socratutor/internal/storage"
)

// sessionsCmd represents the sessions command
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "管理学习会话",
	Long:  `查看已保存的学习会话，或删除不再需要的会话。`,
}

var (
	listLimit      int
	listDifficulty string
)

// listSessionsCmd represents the list command
var listSessionsCmd = &cobra.Command{
	Use:   "list",
	Short: "列出已保存的会话",
	Run:   runListSessions,
}

// deleteSessionCmd represents the delete command
var deleteSessionCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "删除指定会话",
	Args:  cobra.ExactArgs(1),
	Run:   runDeleteSession,
}

func init() {
	listSessionsCmd.Flags().IntVar(&listLimit, "limit", 20, "最多列出 N 条")
	listSessionsCmd.Flags().StringVar(&listDifficulty, "difficulty", "", "按难度过滤 (beginner/intermediate/advanced)")

	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(listSessionsCmd)
	sessionsCmd.AddCommand(deleteSessionCmd)
}

func runListSessions(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	if cfg == nil {
		fmt.Println("Config not loaded")
		os.Exit(1)
	}

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		fmt.Printf("Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	sessions, err := store.ListSessions(ctx, storage.SessionQuery{
		DifficultyLevel: listDifficulty,
		Limit:           listLimit,
		Desc:            true,
	})
	if err != nil {
		fmt.Printf("Error listing sessions: %v\n", err)
		os.Exit(1)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SessionID\tDifficulty\tTopic\tStruggle\tMessages\tUpdatedAt")
	fmt.Fprintln(w, "---------\t----------\t-----\t--------\t--------\t---------")
	for _, s := range sessions {
		topic := s.Topic
		if topic == "" {
			topic = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			s.SessionID, s.DifficultyLevel, topic,
			s.StruggleCount, s.MessageCount,
			s.UpdatedAt.Local().Format(time.DateTime))
	}
	w.Flush()
}

func runDeleteSession(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	if cfg == nil {
		fmt.Println("Config not loaded")
		os.Exit(1)
	}

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		fmt.Printf("Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	sessionID := args[0]
	if err := store.DeleteSession(ctx, sessionID); err != nil {
		if storage.IsNotFound(err) {
			fmt.Printf("Session not found: %s\n", sessionID)
		} else {
			fmt.Printf("Error deleting session: %v\n", err)
		}
		os.Exit(1)
	}
	fmt.Printf("Deleted session %s.\n", sessionID)
}
