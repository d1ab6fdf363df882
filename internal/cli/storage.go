package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/wwwzy/socratutor/internal/storage"
)

// storageCmd represents the storage command
var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "管理存储和数据库",
	Long:  `提供查看数据库概况、清理闲置会话和审计记录的命令。`,
}

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "显示数据库统计概况",
	Run:   runInfo,
}

// pruneSessionsCmd represents the prune-sessions command
var pruneSessionsCmd = &cobra.Command{
	Use:   "prune-sessions",
	Short: "清理长期未活跃的会话",
	Long:  `删除最后活跃时间早于指定天数的学习会话。`,
	Run:   runPruneSessions,
}

// pruneAuditCmd represents the prune-audit command
var pruneAuditCmd = &cobra.Command{
	Use:   "prune-audit",
	Short: "清理审计记录",
	Long:  `按天数分批清理旧的工具调用审计记录。`,
	Run:   runPruneAudit,
}

var (
	idleSessionDays int
	keepAuditDays   int
)

func init() {
	pruneSessionsCmd.Flags().IntVar(&idleSessionDays, "idle-days", 0, "删除闲置超过 N 天的会话")
	pruneAuditCmd.Flags().IntVar(&keepAuditDays, "days", 0, "保留最近 N 天的记录")

	rootCmd.AddCommand(storageCmd)
	storageCmd.AddCommand(infoCmd)
	storageCmd.AddCommand(pruneSessionsCmd)
	storageCmd.AddCommand(pruneAuditCmd)
}

func runPruneSessions(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	if idleSessionDays <= 0 {
		fmt.Println("Error: must specify --idle-days")
		cmd.Usage()
		os.Exit(1)
	}

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

	before := time.Now().UTC().AddDate(0, 0, -idleSessionDays)
	fmt.Printf("Pruning sessions idle since %s...\n", before.Format(time.RFC3339))
	deleted, err := store.DeleteSessionsIdleBefore(ctx, before)
	if err != nil {
		fmt.Printf("Error pruning sessions: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Prune completed. Deleted %d sessions.\n", deleted)

	if count, err := store.CountSessions(ctx); err == nil {
		fmt.Printf("Remaining Sessions: %d\n", count)
	}
}

func runPruneAudit(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	if keepAuditDays <= 0 {
		fmt.Println("Error: must specify --days")
		cmd.Usage()
		os.Exit(1)
	}

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

	before := time.Now().UTC().AddDate(0, 0, -keepAuditDays)
	fmt.Printf("Pruning audit records older than %d days (before %s)...\n", keepAuditDays, before.Format(time.RFC3339))

	// 分批删除，避免一次性大事务锁库
	var deletedCount int64
	for {
		count, err := store.DeleteAuditRecordsBeforeLimited(ctx, before, 0)
		if err != nil {
			fmt.Printf("Error pruning audit records: %v\n", err)
			os.Exit(1)
		}
		deletedCount += count
		if count == 0 {
			break
		}
	}

	fmt.Printf("Prune completed. Deleted %d records.\n", deletedCount)

	if count, err := store.CountAuditRecords(ctx); err == nil {
		fmt.Printf("Remaining Audit Records: %d\n", count)
	}
}

func runInfo(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	if cfg == nil {
		fmt.Println("Config not loaded")
		os.Exit(1)
	}

	// 1. 获取数据库文件信息
	dbPath := cfg.Storage.Path
	if !filepath.IsAbs(dbPath) {
		if absPath, err := filepath.Abs(dbPath); err == nil {
			dbPath = absPath
		}
	}

	var dbSizeStr string
	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			dbSizeStr = "Not Found (Will be created on first run)"
		} else {
			dbSizeStr = fmt.Sprintf("Error: %v", err)
		}
	} else {
		sizeMB := float64(info.Size()) / 1024 / 1024
		dbSizeStr = fmt.Sprintf("%.2f MB (%s)", sizeMB, dbPath)
	}

	// 2. 连接数据库
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		fmt.Printf("Database File: %s\n", dbSizeStr)
		fmt.Printf("Error opening database: %v\n", err)
		return
	}
	defer store.Close()

	// 3. 获取统计信息
	sessionCount, err := store.CountSessions(ctx)
	if err != nil {
		fmt.Printf("Error counting sessions: %v\n", err)
	}
	auditCount, err := store.CountAuditRecords(ctx)
	if err != nil {
		fmt.Printf("Error counting audit records: %v\n", err)
	}

	// 4. 格式化输出
	fmt.Printf("Database File: %s\n\n", dbSizeStr)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "Table\tCount")
	fmt.Fprintln(w, "-----\t-----")
	fmt.Fprintf(w, "Sessions\t%d\n", sessionCount)
	fmt.Fprintf(w, "AuditRecords\t%d\n", auditCount)
	w.Flush()
}
