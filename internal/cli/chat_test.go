package cli

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/wwwzy/socratutor/internal/agent"
	"github.com/wwwzy/socratutor/internal/storage"
	"go.uber.org/zap"
)

func openTestStore(t *testing.T) *storage.Storage {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(ctx, storage.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		BusyTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestResolveInitialStateNewSessionUsesConfiguredDifficulty(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	st, err := resolveInitialState(ctx, store, "", agent.DifficultyIntermediate, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.SessionID == "" {
		t.Error("new session must get an id")
	}
	if st.DifficultyLevel != agent.DifficultyIntermediate {
		t.Errorf("difficulty = %s, want intermediate from config", st.DifficultyLevel)
	}

	// 未知难度值退回 NewAgentState 的缺省档位
	st2, err := resolveInitialState(ctx, store, "", agent.DifficultyLevel("expert"), zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st2.DifficultyLevel != agent.DifficultyBeginner {
		t.Errorf("difficulty = %s, want beginner fallback", st2.DifficultyLevel)
	}
}

func TestResolveInitialStateRestoreKeepsPersistedDifficulty(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	saved := agent.NewAgentState("sess-restore")
	saved.DifficultyLevel = agent.DifficultyAdvanced
	saved.Topic = "functions"
	saved.StruggleCount = 1
	if err := persistState(ctx, store, saved); err != nil {
		t.Fatalf("persist: %v", err)
	}

	st, err := resolveInitialState(ctx, store, "sess-restore", agent.DifficultyBeginner, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.DifficultyLevel != agent.DifficultyAdvanced {
		t.Errorf("difficulty = %s, want persisted advanced over config default", st.DifficultyLevel)
	}
	if st.Topic != "functions" || st.StruggleCount != 1 {
		t.Errorf("restored state mismatch: %+v", st)
	}
	if st.Context == nil {
		t.Error("restored state must get a fresh context map")
	}
}

func TestResolveInitialStateUnknownSessionStartsFresh(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	st, err := resolveInitialState(ctx, store, "never-saved", agent.DifficultyIntermediate, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.SessionID != "never-saved" {
		t.Errorf("session id = %q, want the requested id", st.SessionID)
	}
	if st.DifficultyLevel != agent.DifficultyIntermediate {
		t.Errorf("difficulty = %s, want configured default", st.DifficultyLevel)
	}
}
