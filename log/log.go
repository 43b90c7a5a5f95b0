package log

import (
	"sync/atomic"

	"github.com/hatlonely/cqlx/log/logger"
)

var defaultLogger atomic.Value

func init() {
	// 默认向终端输出 text 格式日志
	slog, err := logger.NewSLogWithOptions(&logger.SLogOptions{
		Level:  "info",
		Format: "text",
	})
	if err != nil {
		panic("failed to initialize default logger: " + err.Error())
	}
	SetDefault(slog)
}

func Default() logger.Logger {
	return defaultLogger.Load().(holder).logger
}

// SetDefault 替换默认日志器，nil 被忽略
func SetDefault(l logger.Logger) {
	if l == nil {
		return
	}
	defaultLogger.Store(holder{logger: l})
}

// atomic.Value 要求每次存入相同的具体类型
type holder struct {
	logger logger.Logger
}
