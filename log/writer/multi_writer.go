package writer

import (
	"fmt"
)

// MultiWriterOptions 多输出配置
type MultiWriterOptions struct {
	Writers []Options `cfg:"writers" validate:"min=1"`
}

// MultiWriter 将日志同时写入多个输出器
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriterWithOptions 创建多输出器，任一子输出器创建失败时关闭已创建的输出器
func NewMultiWriterWithOptions(options *MultiWriterOptions) (*MultiWriter, error) {
	if options == nil || len(options.Writers) == 0 {
		return nil, fmt.Errorf("at least one writer is required")
	}

	m := &MultiWriter{writers: make([]Writer, 0, len(options.Writers))}
	for i := range options.Writers {
		w, err := New(&options.Writers[i])
		if err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("failed to create writer %d: %w", i, err)
		}
		m.writers = append(m.writers, w)
	}
	return m, nil
}

// NewMultiWriter 从已有的输出器创建多输出器
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write 依次写入所有输出器，遇到第一个错误即返回
func (m *MultiWriter) Write(p []byte) (n int, err error) {
	for i, w := range m.writers {
		if _, err := w.Write(p); err != nil {
			return 0, fmt.Errorf("writer %d failed: %w", i, err)
		}
	}
	return len(p), nil
}

// Close 关闭所有输出器，返回最后一个错误
func (m *MultiWriter) Close() error {
	var lastErr error
	for i, w := range m.writers {
		if err := w.Close(); err != nil {
			lastErr = fmt.Errorf("failed to close writer %d: %w", i, err)
		}
	}
	return lastErr
}
