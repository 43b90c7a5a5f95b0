package writer

import (
	"fmt"
	"io"
)

// Writer 日志输出器接口
type Writer interface {
	io.Writer
	io.Closer
}

// Options 输出器配置，按 Type 选择对应的子配置
type Options struct {
	// 输出类型：console, file, multi，为空时输出到控制台
	Type string `cfg:"type" validate:"omitempty,oneof=console file multi"`

	Console *ConsoleWriterOptions `cfg:"console"`
	File    *FileWriterOptions    `cfg:"file"`
	// multi 类型的子输出器
	Writers []Options `cfg:"writers"`
}

// New 根据配置创建输出器
func New(options *Options) (Writer, error) {
	if options == nil {
		return NewConsoleWriterWithOptions(nil)
	}
	switch options.Type {
	case "", "console":
		return NewConsoleWriterWithOptions(options.Console)
	case "file":
		return NewFileWriterWithOptions(options.File)
	case "multi":
		return NewMultiWriterWithOptions(&MultiWriterOptions{Writers: options.Writers})
	default:
		return nil, fmt.Errorf("unsupported writer type: %s", options.Type)
	}
}
