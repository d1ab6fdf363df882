package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/wwwzy/socratutor/internal/storage"
)

type ArkConfig struct {
	APIKey  string `mapstructure:"api_key"`
	ModelID string `mapstructure:"model_id"`
	BaseURL string `mapstructure:"base_url"`
}

// TutorConfig 控制教学引擎的行为
type TutorConfig struct {
	// DefaultDifficulty 新会话的初始难度档位
	DefaultDifficulty string `mapstructure:"default_difficulty"`
	// DemoteAfter 连续答错多少次后降级
	DemoteAfter int `mapstructure:"demote_after"`
	// MaxHandlerPasses 单回合处理节点最大重入次数
	MaxHandlerPasses int `mapstructure:"max_handler_passes"`
	// HistoryWindow 送入模型的历史消息条数上限
	HistoryWindow int `mapstructure:"history_window"`
	// ModelTimeout/ToolTimeout 单次模型/工具调用超时
	ModelTimeout time.Duration `mapstructure:"model_timeout"`
	ToolTimeout  time.Duration `mapstructure:"tool_timeout"`
}

type Config struct {
	Storage  storage.Config `mapstructure:"storage"`
	Ark      ArkConfig      `mapstructure:"ark"`
	Tutor    TutorConfig    `mapstructure:"tutor"`
	LogLevel string         `mapstructure:"log_level"`
	LogFile  string         `mapstructure:"log_file"`
}

func Load(cfgFile string) (*Config, error) {
	// 1. 初始化 Viper
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		// 默认搜索路径
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.socratutor")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("SOCRATUTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Viper 的 Unmarshal 只处理它"知道"的 key（来自配置文件、Defaults 或显式 Bind），
	// 所以所有可配置项都要在 setDefaults 里登记一遍
	setDefaults(v)

	// 2. 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		// 配置文件未找到，使用默认值
	}

	// 3. 反序列化 (文件/环境变量 覆盖 默认值)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	// 4. 验证关键配置
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	// Ark 配置验证：必须存在
	if c.Ark.APIKey == "" {
		return fmt.Errorf("ark.api_key is required (or set ARK_API_KEY env var)")
	}
	if c.Ark.ModelID == "" {
		return fmt.Errorf("ark.model_id is required (or set ARK_MODEL_ID env var)")
	}

	switch c.Tutor.DefaultDifficulty {
	case "beginner", "intermediate", "advanced":
	default:
		return fmt.Errorf("tutor.default_difficulty must be beginner/intermediate/advanced, got %q", c.Tutor.DefaultDifficulty)
	}
	if c.Tutor.DemoteAfter < 1 {
		return fmt.Errorf("tutor.demote_after must be >= 1, got %d", c.Tutor.DemoteAfter)
	}
	if c.Tutor.MaxHandlerPasses < 1 {
		return fmt.Errorf("tutor.max_handler_passes must be >= 1, got %d", c.Tutor.MaxHandlerPasses)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// -------------------------------------------------------------------------
	// Global Defaults (全局默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")

	// -------------------------------------------------------------------------
	// Storage Defaults (存储默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("storage.path", "socratutor.db")
	v.SetDefault("storage.busy_timeout", 5*time.Second)

	// -------------------------------------------------------------------------
	// Tutor Defaults (教学引擎默认值)
	// -------------------------------------------------------------------------
	tutorDefaults := DefaultTutorConfig()
	v.SetDefault("tutor.default_difficulty", tutorDefaults.DefaultDifficulty)
	v.SetDefault("tutor.demote_after", tutorDefaults.DemoteAfter)
	v.SetDefault("tutor.max_handler_passes", tutorDefaults.MaxHandlerPasses)
	v.SetDefault("tutor.history_window", tutorDefaults.HistoryWindow)
	v.SetDefault("tutor.model_timeout", tutorDefaults.ModelTimeout)
	v.SetDefault("tutor.tool_timeout", tutorDefaults.ToolTimeout)

	// -------------------------------------------------------------------------
	// Ark AI Defaults (AI 模型默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("ark.api_key", "")
	v.SetDefault("ark.model_id", "")
	v.SetDefault("ark.base_url", "https://ark.cn-beijing.volces.com/api/v3")

	v.BindEnv("ark.api_key", "ARK_API_KEY")
	v.BindEnv("ark.model_id", "ARK_MODEL_ID")
	v.BindEnv("ark.base_url", "ARK_BASE_URL")
}

func DefaultTutorConfig() TutorConfig {
	return TutorConfig{
		DefaultDifficulty: "beginner",
		DemoteAfter:       3,
		MaxHandlerPasses:  6,
		HistoryWindow:     40,
		ModelTimeout:      60 * time.Second,
		ToolTimeout:       90 * time.Second,
	}
}

func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Storage: storage.Config{
			Path:        "socratutor.db",
			BusyTimeout: 5 * time.Second,
		},
		Tutor: DefaultTutorConfig(),
	}
}
