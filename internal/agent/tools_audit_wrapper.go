package agent

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/wwwzy/socratutor/internal/storage"
	"go.uber.org/zap"
)

const (
	auditTruncateLimit = 2048
)

// AuditedTool 是一个工具包装器，用于在工具执行前后记录审计日志
type AuditedTool struct {
	impl   tool.InvokableTool
	store  *storage.Storage
	logger *zap.Logger
}

// WrapWithAudit 将普通工具包装为带审计功能的工具；store 为空时原样返回
func WrapWithAudit(t tool.InvokableTool, store *storage.Storage, logger *zap.Logger) tool.InvokableTool {
	if store == nil {
		return t
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditedTool{impl: t, store: store, logger: logger}
}

// WrapAllWithAudit 批量包装
func WrapAllWithAudit(tools []tool.InvokableTool, store *storage.Storage, logger *zap.Logger) []tool.InvokableTool {
	out := make([]tool.InvokableTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, WrapWithAudit(t, store, logger))
	}
	return out
}

func (t *AuditedTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return t.impl.Info(ctx)
}

func (t *AuditedTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	// 1. 获取工具信息（主要是 Action 名）
	info, err := t.impl.Info(ctx)
	action := "unknown"
	if err == nil && info != nil {
		action = info.Name
	}

	// 2. 准备审计记录
	now := time.Now().UTC()
	record := &storage.AuditRecord{
		TraceID:    GetTraceID(ctx),
		SessionID:  GetSessionID(ctx),
		Action:     action,
		ParamsJSON: truncate(argumentsInJSON, auditTruncateLimit),
		Status:     "running",
		StartedAt:  now,
	}

	// 3. 插入初始记录（Status=running）
	// 插入失败只告警，不阻断工具执行
	if err := t.store.InsertAuditRecord(ctx, record); err != nil {
		t.logger.Warn("failed to insert audit record", zap.String("action", action), zap.Error(err))
	}

	// 4. 执行原始工具逻辑
	result, runErr := t.impl.InvokableRun(ctx, argumentsInJSON, opts...)

	// 5. 更新审计记录
	finishedAt := time.Now().UTC()
	status := "success"
	var errMsg *string
	var resultJSON *string

	if runErr != nil {
		status = "failed"
		e := truncate(runErr.Error(), auditTruncateLimit)
		errMsg = &e
	} else {
		r := truncate(result, auditTruncateLimit)
		resultJSON = &r
	}

	// 只有在 Insert 成功且有了 ID 后，才能 Update
	if record.ID != 0 {
		update := storage.AuditUpdate{
			Status:       &status,
			ResultJSON:   resultJSON,
			ErrorMessage: errMsg,
			FinishedAt:   &finishedAt,
		}
		if err := t.store.UpdateAuditRecord(ctx, record.ID, update); err != nil {
			t.logger.Warn("failed to update audit record", zap.String("action", action), zap.Error(err))
		}
	}

	return result, runErr
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "...(truncated)"
}
