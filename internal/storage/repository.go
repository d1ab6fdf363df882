package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultLimit = 200
	maxLimit     = 5000

	defaultDeleteLimit = 500
	maxDeleteLimit     = 900
)

// SaveSession 写入或更新一条会话记录（按 SessionID upsert）
func (s *Storage) SaveSession(ctx context.Context, rec *SessionRecord) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if rec == nil {
		return errors.New("session record is nil")
	}
	if rec.SessionID == "" {
		return errors.New("session id is required")
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"state_json", "difficulty_level", "topic",
			"struggle_count", "message_count", "updated_at",
		}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// LoadSession 按 SessionID 取回会话，不存在时返回 notFoundError
func (s *Storage) LoadSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}

	var rec SessionRecord
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError{Entity: "session", Key: sessionID}
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &rec, nil
}

// SessionQuery 用于查询会话列表的过滤条件；零值字段不参与过滤
type SessionQuery struct {
	// DifficultyLevel 精确匹配难度档位
	DifficultyLevel string
	// UpdatedBefore/UpdatedAfter 过滤 UpdatedAt 区间
	UpdatedBefore *time.Time
	UpdatedAfter  *time.Time
	// Limit 限制返回条数；<=0 使用默认值
	Limit int
	// Desc 按 UpdatedAt 倒序返回（最近活跃的在前）
	Desc bool
}

func (s *Storage) ListSessions(ctx context.Context, q SessionQuery) ([]SessionRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}

	limit := normalizeLimit(q.Limit)
	db := s.db.WithContext(ctx).Model(&SessionRecord{})
	if q.DifficultyLevel != "" {
		db = db.Where("difficulty_level = ?", q.DifficultyLevel)
	}
	if q.UpdatedAfter != nil {
		db = db.Where("updated_at >= ?", *q.UpdatedAfter)
	}
	if q.UpdatedBefore != nil {
		db = db.Where("updated_at <= ?", *q.UpdatedBefore)
	}
	if q.Desc {
		db = db.Order("updated_at DESC")
	} else {
		db = db.Order("updated_at ASC")
	}
	db = db.Limit(limit)

	var out []SessionRecord
	if err := db.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

func (s *Storage) DeleteSession(ctx context.Context, sessionID string) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}

	res := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&SessionRecord{})
	if res.Error != nil {
		return fmt.Errorf("delete session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFoundError{Entity: "session", Key: sessionID}
	}
	return nil
}

// DeleteSessionsIdleBefore 清理最后活跃时间早于 before 的会话
func (s *Storage) DeleteSessionsIdleBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	res := s.db.WithContext(ctx).Where("updated_at < ?", before).Delete(&SessionRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete idle sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// AuditQuery 用于查询审计记录的过滤条件。
//
// 设计原则：
//   - 所有字段都是可选过滤条件，零值表示不参与过滤。
//   - 时间范围使用 CreatedAt（写入时间），用于"最近 N 次操作"这类审计检索。
type AuditQuery struct {
	// TraceID 精确匹配链路 ID
	TraceID string
	// SessionID 精确匹配会话 ID
	SessionID string
	// Action 精确匹配动作名（稳定的工具名）
	Action string
	// Status 精确匹配执行状态（running/success/failed）
	Status string
	// From/To 过滤 CreatedAt 区间：[From, To]（两端包含）
	From *time.Time
	To   *time.Time
	// Limit 限制返回条数；<=0 使用默认值
	Limit int
	// Desc 按 CreatedAt 倒序返回（优先返回最新记录）
	Desc bool
}

func (s *Storage) InsertAuditRecord(ctx context.Context, rec *AuditRecord) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if rec == nil {
		return errors.New("audit record is nil")
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (s *Storage) QueryAuditRecords(ctx context.Context, q AuditQuery) ([]AuditRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}

	limit := normalizeLimit(q.Limit)
	db := s.db.WithContext(ctx).Model(&AuditRecord{})
	if q.TraceID != "" {
		db = db.Where("trace_id = ?", q.TraceID)
	}
	if q.SessionID != "" {
		db = db.Where("session_id = ?", q.SessionID)
	}
	if q.Action != "" {
		db = db.Where("action = ?", q.Action)
	}
	if q.Status != "" {
		db = db.Where("status = ?", q.Status)
	}
	if q.From != nil {
		db = db.Where("created_at >= ?", *q.From)
	}
	if q.To != nil {
		db = db.Where("created_at <= ?", *q.To)
	}
	if q.Desc {
		db = db.Order("created_at DESC")
	} else {
		db = db.Order("created_at ASC")
	}
	db = db.Limit(limit)

	var out []AuditRecord
	if err := db.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	return out, nil
}

type AuditUpdate struct {
	Status       *string
	ResultJSON   *string
	ErrorMessage *string
	FinishedAt   *time.Time
}

func (s *Storage) UpdateAuditRecord(ctx context.Context, id uint64, up AuditUpdate) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}

	updates := make(map[string]interface{})
	if up.Status != nil {
		updates["status"] = *up.Status
	}
	if up.ResultJSON != nil {
		updates["result_json"] = *up.ResultJSON
	}
	if up.ErrorMessage != nil {
		updates["error_message"] = *up.ErrorMessage
	}
	if up.FinishedAt != nil {
		updates["finished_at"] = *up.FinishedAt
	}

	if len(updates) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).Model(&AuditRecord{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update audit record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFoundError{Entity: "audit record", Key: fmt.Sprintf("%d", id)}
	}
	return nil
}

// DeleteAuditRecordsBeforeLimited 分批清理旧审计记录，按 id 升序先删最旧的
func (s *Storage) DeleteAuditRecordsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}

	limit = normalizeDeleteLimit(limit)

	var ids []uint64
	db := s.db.WithContext(ctx).Model(&AuditRecord{}).
		Select("id").
		Where("created_at < ?", before).
		Order("id ASC").
		Limit(limit)
	if err := db.Find(&ids).Error; err != nil {
		return 0, fmt.Errorf("select audit record ids: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&AuditRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete audit records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CountSessions 返回会话总数
func (s *Storage) CountSessions(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&SessionRecord{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return count, nil
}

// CountAuditRecords 返回审计记录总数
func (s *Storage) CountAuditRecords(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&AuditRecord{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count audit records: %w", err)
	}
	return count, nil
}

func normalizeLimit(v int) int {
	if v <= 0 {
		return defaultLimit
	}
	if v > maxLimit {
		return maxLimit
	}
	return v
}

func normalizeDeleteLimit(v int) int {
	if v <= 0 {
		return defaultDeleteLimit
	}
	if v > maxDeleteLimit {
		return maxDeleteLimit
	}
	return v
}

type notFoundError struct {
	Entity string
	Key    string
}

func (e notFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Key)
}

// IsNotFound 判断错误是否为"记录不存在"
func IsNotFound(err error) bool {
	var nf notFoundError
	return errors.As(err, &nf)
}
