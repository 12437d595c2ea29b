package service

import (
	"fmt"
	"log"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 是进程级日志，只在 cmd 中使用；各组件通过构造函数接收 *zap.Logger
var Logger *zap.Logger

// NewLogger 构建 Zap 生产配置日志，level 为空时使用 info
func NewLogger(level string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()

	// 格式化时间
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.TimeKey = "time"

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", level, err)
		}
		config.Level = zap.NewAtomicLevelAt(lvl)
	}

	// 如果需要写入文件，可以修改 OutputPaths:
	// config.OutputPaths = []string{"stdout", "log/app.log"}
	return config.Build()
}

// InitLogger 初始化全局 Logger
func InitLogger(level string) {
	var err error
	Logger, err = NewLogger(level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
}
