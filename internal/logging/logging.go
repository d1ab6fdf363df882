package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New 构建应用日志器
// 控制台输出人类可读格式；file 非空时额外写 JSON 到文件，便于事后排查会话问题
func New(level string, file string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return build(lvl, lvl, file)
}

// NewQuiet 同 New，但控制台只输出 warn 及以上
// TUI 运行时终端被界面占用，低级别日志只进文件
func NewQuiet(level string, file string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	consoleLvl := lvl
	if consoleLvl < zapcore.WarnLevel {
		consoleLvl = zapcore.WarnLevel
	}
	return build(consoleLvl, lvl, file)
}

func build(consoleLvl, fileLvl zapcore.Level, file string) (*zap.Logger, error) {
	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleCfg),
			zapcore.Lock(os.Stderr),
			consoleLvl,
		),
	}

	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(fileCfg),
			zapcore.Lock(f),
			fileLvl,
		))
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}
