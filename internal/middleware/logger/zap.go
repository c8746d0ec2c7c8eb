package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger 创建 zap.Logger：development 为 true 时使用控制台格式，否则输出 JSON。
// level 为空时使用 info。
func NewLogger(level string, development bool) (*zap.Logger, error) {
	if level == "" {
		level = "info"
	}
	atom, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = atom

	return cfg.Build()
}
