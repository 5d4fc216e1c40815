package logger

import (
	"context"

	"go.uber.org/zap"

	"grantflow/pkg/trace"
)

var Log *zap.Logger

// NewLogger 创建生产级 logger，service 字段标记进程身份（api / worker）
func NewLogger(service string) *zap.Logger {
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	l = l.With(zap.String("service", service))
	Log = l
	return l
}

// WithTrace 从 context 中提取 trace_id 并添加到 logger
func WithTrace(ctx context.Context, logger *zap.Logger) *zap.Logger {
	traceID := trace.FromContext(ctx)
	if traceID != "" {
		return logger.With(zap.String("trace_id", traceID))
	}
	return logger
}
