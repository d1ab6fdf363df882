package agent

import "errors"

// 引擎内部错误分类
// 对外（模型/工具）失败一律在节点内转换为道歉消息并重置模式，不会以 error 形式
// 逃出 Graph；只有以下内部契约错误会中断当前回合（回合中断时状态整体回滚，
// 会话本身继续可用）。
var (
	// ErrLoopGuardExceeded 表示处理节点重入次数超出上限（失控循环）
	ErrLoopGuardExceeded = errors.New("handler re-entry limit exceeded")

	// ErrInvariantViolation 表示节点产生了违反状态不变式的更新（编程缺陷）
	ErrInvariantViolation = errors.New("agent state invariant violated")

	// ErrToolNotFound 表示注册表中不存在请求的工具
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolExecution 表示工具执行本身失败
	ErrToolExecution = errors.New("tool execution failed")

	// ErrMalformedMCQPayload 表示 MCQ 生成工具返回的结构化数据无法解析或校验失败
	ErrMalformedMCQPayload = errors.New("malformed mcq payload")
)
