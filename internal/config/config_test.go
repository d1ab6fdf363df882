package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/wwwzy/socratutor/internal/storage"
)

func TestLoad_Defaults(t *testing.T) {
	// 设置必填环境变量，绕过 Validate 检查
	t.Setenv("ARK_API_KEY", "dummy-key")
	t.Setenv("ARK_MODEL_ID", "dummy-model")

	// 测试加载默认值（不提供配置文件）
	cfg, err := Load("")
	assert.NoError(t, err)
	assert.NotNil(t, cfg)

	// 验证默认值
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "socratutor.db", cfg.Storage.Path)
	assert.Equal(t, "beginner", cfg.Tutor.DefaultDifficulty)
	assert.Equal(t, 3, cfg.Tutor.DemoteAfter)
	assert.Equal(t, 6, cfg.Tutor.MaxHandlerPasses)
	assert.Equal(t, 60*time.Second, cfg.Tutor.ModelTimeout)
}

func TestLoad_ConfigFile(t *testing.T) {
	// 创建临时配置文件
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	content := []byte(`
log_level: "debug"
ark:
  api_key: "file-key"
  model_id: "file-model"
storage:
  path: "test.db"
  busy_timeout: "10s"
tutor:
  default_difficulty: "intermediate"
  demote_after: 2
  model_timeout: "30s"
`)
	err := os.WriteFile(configFile, content, 0644)
	assert.NoError(t, err)

	// 从文件加载
	cfg, err := Load(configFile)
	assert.NoError(t, err)

	// 验证覆盖值
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "test.db", cfg.Storage.Path)
	assert.Equal(t, 10*time.Second, cfg.Storage.BusyTimeout)
	assert.Equal(t, "intermediate", cfg.Tutor.DefaultDifficulty)
	assert.Equal(t, 2, cfg.Tutor.DemoteAfter)
	assert.Equal(t, 30*time.Second, cfg.Tutor.ModelTimeout)

	// 验证未覆盖的字段保持默认值
	assert.Equal(t, DefaultTutorConfig().HistoryWindow, cfg.Tutor.HistoryWindow)
}

func TestLoad_EnvOverride(t *testing.T) {
	// 设置环境变量
	t.Setenv("SOCRATUTOR_LOG_LEVEL", "warn")
	t.Setenv("SOCRATUTOR_STORAGE_PATH", "env.db")
	t.Setenv("SOCRATUTOR_TUTOR_DEMOTE_AFTER", "5")
	// 必须设置必填项，否则 Validate 会失败
	t.Setenv("ARK_API_KEY", "test-key")
	t.Setenv("ARK_MODEL_ID", "test-model")

	// 加载配置（无文件）
	cfg, err := Load("")
	assert.NoError(t, err)

	// 验证环境变量覆盖
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "env.db", cfg.Storage.Path)
	assert.Equal(t, 5, cfg.Tutor.DemoteAfter)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 验证几个关键默认值
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, storage.Config{Path: "socratutor.db", BusyTimeout: 5 * time.Second}, cfg.Storage)
	assert.Equal(t, DefaultTutorConfig(), cfg.Tutor)
}

func TestLoad_ValidateArk(t *testing.T) {
	// 确保没有环境变量干扰
	t.Setenv("ARK_API_KEY", "")
	t.Setenv("ARK_MODEL_ID", "")

	_, err := Load("")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ark.api_key is required")
}

func TestLoad_ValidateTutor(t *testing.T) {
	t.Setenv("ARK_API_KEY", "k")
	t.Setenv("ARK_MODEL_ID", "m")
	t.Setenv("SOCRATUTOR_TUTOR_DEFAULT_DIFFICULTY", "expert")

	_, err := Load("")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "default_difficulty")
}
