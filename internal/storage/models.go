package storage

import "time"

// SessionRecord 表示一个被持久化的辅导会话。
//
// 该表面向两类需求：
//   - 会话恢复：按 SessionID 取回完整状态（StateJSON）继续对话。
//   - 会话管理：列出最近会话、按空闲时间清理。
//
// 复杂状态统一以 JSON 字符串存放（StateJSON），便于快速落地与版本演进；
// DifficultyLevel/Topic/StruggleCount/MessageCount 是从状态中抽出的冗余列，
// 只用于列表展示与筛选，恢复会话时以 StateJSON 为准。
type SessionRecord struct {
	// ID 为自增主键（内部使用）。
	ID uint64 `gorm:"primaryKey"`
	// SessionID 为会话唯一标识，恢复会话的查找键。
	SessionID string `gorm:"size:64;not null;uniqueIndex"`
	// StateJSON 存放完整的会话状态（JSON 字符串）。
	StateJSON string `gorm:"type:text;not null"`
	// DifficultyLevel/Topic/StruggleCount 为展示用冗余列。
	DifficultyLevel string `gorm:"size:32;index"`
	Topic           string `gorm:"size:255"`
	StruggleCount   int    `gorm:"not null;default:0"`
	// MessageCount 为会话消息条数，用于列表展示。
	MessageCount int `gorm:"not null;default:0"`
	// CreatedAt/UpdatedAt 由 gorm 自动维护；UpdatedAt 用于按空闲时间清理。
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime;index"`
}

// AuditRecord 记录一次工具调用及其结果，用于审计、追溯与后续分析。
//
// 一条审计记录对应引擎的一次工具执行（例如：代码分析、出题、判题）。
// 复杂入参/输出统一以 JSON 字符串存放，便于快速落地与版本演进。
type AuditRecord struct {
	// ID 为自增主键（内部使用）。
	ID uint64 `gorm:"primaryKey"`
	// TraceID 用于串联一轮对话内的多次工具调用，便于按链路聚合审计。
	TraceID string `gorm:"size:64;index"`
	// SessionID 关联到会话，便于按会话检索操作历史。
	SessionID string `gorm:"size:64;index"`
	// Action 表示执行的动作（稳定的工具名，例如 mcq_generator_agent）。
	Action string `gorm:"size:128;not null;index"`
	// ParamsJSON 存放动作入参（JSON 字符串）。
	ParamsJSON string `gorm:"type:text"`
	// ResultJSON 存放动作结果（JSON 字符串）。
	ResultJSON string `gorm:"type:text"`
	// Status 表示执行状态（running/success/failed），用于快速筛选与统计。
	Status string `gorm:"size:32;not null;index"`
	// ErrorMessage 存放失败时的错误信息（可选，便于检索）。
	ErrorMessage string `gorm:"type:text"`
	// StartedAt/FinishedAt 表示动作起止时间（可选）。统计耗时可用 FinishedAt-StartedAt。
	StartedAt  time.Time `gorm:"index"`
	FinishedAt time.Time `gorm:"index"`
	// CreatedAt 为记录写入数据库的时间（与 StartedAt 含义不同），默认自动填充。
	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"`
}
