package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "socratutor.db")
	s, err := Open(ctx, Config{
		Path:      dbPath,
		EnableWAL: true,
	})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionRoundtrip(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	rec := SessionRecord{
		SessionID:       "sess-1",
		StateJSON:       `{"difficulty_level":"beginner"}`,
		DifficultyLevel: "beginner",
		Topic:           "variables",
		StruggleCount:   0,
		MessageCount:    2,
	}
	if err := s.SaveSession(ctx, &rec); err != nil {
		t.Fatalf("save session: %v", err)
	}

	got, err := s.LoadSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if got.Topic != "variables" || got.MessageCount != 2 {
		t.Fatalf("unexpected record: %+v", got)
	}

	// 同一 SessionID 再保存走更新路径
	rec2 := SessionRecord{
		SessionID:       "sess-1",
		StateJSON:       `{"difficulty_level":"intermediate"}`,
		DifficultyLevel: "intermediate",
		Topic:           "functions",
		StruggleCount:   1,
		MessageCount:    6,
	}
	if err := s.SaveSession(ctx, &rec2); err != nil {
		t.Fatalf("upsert session: %v", err)
	}

	got, err = s.LoadSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("load after upsert: %v", err)
	}
	if got.DifficultyLevel != "intermediate" || got.MessageCount != 6 {
		t.Fatalf("upsert did not apply: %+v", got)
	}

	all, err := s.ListSessions(ctx, SessionQuery{Limit: 10})
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 session after upsert, got %d", len(all))
	}
}

func TestLoadSessionNotFound(t *testing.T) {
	s := openTestStorage(t)

	_, err := s.LoadSession(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error for missing session")
	}
	if !IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestDeleteSession(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	if err := s.SaveSession(ctx, &SessionRecord{SessionID: "sess-1", StateJSON: "{}"}); err != nil {
		t.Fatalf("save session: %v", err)
	}
	if err := s.DeleteSession(ctx, "sess-1"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if err := s.DeleteSession(ctx, "sess-1"); !IsNotFound(err) {
		t.Fatalf("expected not-found on second delete, got %v", err)
	}
}

func TestDeleteSessionsIdleBefore(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	old := SessionRecord{SessionID: "sess-old", StateJSON: "{}"}
	if err := s.SaveSession(ctx, &old); err != nil {
		t.Fatalf("save old: %v", err)
	}
	// 手动把 updated_at 拨回到一周前
	cut := time.Now().Add(-7 * 24 * time.Hour).UTC()
	if err := s.DB().Model(&SessionRecord{}).Where("session_id = ?", "sess-old").
		Update("updated_at", cut.Add(-time.Hour)).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}
	if err := s.SaveSession(ctx, &SessionRecord{SessionID: "sess-new", StateJSON: "{}"}); err != nil {
		t.Fatalf("save new: %v", err)
	}

	affected, err := s.DeleteSessionsIdleBefore(ctx, cut)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected prune 1 session, got %d", affected)
	}
	if _, err := s.LoadSession(ctx, "sess-new"); err != nil {
		t.Fatalf("recent session must survive: %v", err)
	}
}

func TestAuditInsertQueryUpdate(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	rec := AuditRecord{
		TraceID:    "trace-1",
		SessionID:  "sess-1",
		Action:     "mcq_generator_agent",
		ParamsJSON: `{"topic":"variables"}`,
		Status:     "running",
		StartedAt:  time.Now().Add(-1 * time.Second).UTC(),
	}
	if err := s.InsertAuditRecord(ctx, &rec); err != nil {
		t.Fatalf("insert audit: %v", err)
	}
	if rec.ID == 0 {
		t.Fatalf("expected audit id to be set")
	}

	got, err := s.QueryAuditRecords(ctx, AuditQuery{TraceID: "trace-1", Limit: 10})
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(got))
	}
	if got[0].Status != "running" {
		t.Fatalf("unexpected status: %s", got[0].Status)
	}

	status := "success"
	result := `{"ok":true}`
	finished := time.Now().UTC()
	if err := s.UpdateAuditRecord(ctx, rec.ID, AuditUpdate{
		Status:     &status,
		ResultJSON: &result,
		FinishedAt: &finished,
	}); err != nil {
		t.Fatalf("update audit: %v", err)
	}

	got2, err := s.QueryAuditRecords(ctx, AuditQuery{SessionID: "sess-1", Limit: 10})
	if err != nil {
		t.Fatalf("query audit after update: %v", err)
	}
	if len(got2) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(got2))
	}
	if got2[0].Status != "success" || got2[0].ResultJSON != result {
		t.Fatalf("unexpected updated record: status=%s result=%s", got2[0].Status, got2[0].ResultJSON)
	}
}

func TestAuditPrune(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	now := time.Now().UTC()
	recs := []AuditRecord{
		{Action: "a", Status: "success", CreatedAt: now.Add(-48 * time.Hour)},
		{Action: "b", Status: "success", CreatedAt: now.Add(-36 * time.Hour)},
		{Action: "c", Status: "success", CreatedAt: now.Add(-1 * time.Hour)},
	}
	for i := range recs {
		if err := s.InsertAuditRecord(ctx, &recs[i]); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	var deleted int64
	for {
		aff, err := s.DeleteAuditRecordsBeforeLimited(ctx, now.Add(-24*time.Hour), 1)
		if err != nil {
			t.Fatalf("prune: %v", err)
		}
		if aff == 0 {
			break
		}
		deleted += aff
	}
	if deleted != 2 {
		t.Fatalf("expected prune 2 records, got %d", deleted)
	}

	remain, err := s.QueryAuditRecords(ctx, AuditQuery{Limit: 10})
	if err != nil {
		t.Fatalf("query remaining: %v", err)
	}
	if len(remain) != 1 || remain[0].Action != "c" {
		t.Fatalf("unexpected remaining records: %+v", remain)
	}
}
