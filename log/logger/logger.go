package logger

import (
	"context"
)

// Logger 结构化日志接口，键值对参数与 log/slog 一致
// 迁移器与会话只调用 *Context 方法，ctx 中的 trace 信息随日志输出
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)

	// With 附加固定字段；WithGroup 之后的字段都归入 name 分组，用于区分 session 与 migrator
	With(args ...any) Logger
	WithGroup(name string) Logger
}

var _ Logger = (*SLog)(nil)
