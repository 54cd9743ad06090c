package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"log/slog"
)

var (
	levelVar   slog.LevelVar
	loggerMu   sync.RWMutex
	baseLogger *slog.Logger
)

func init() {
	levelVar.Set(slog.LevelInfo)
	baseLogger = newLogger(os.Stdout)
}

func newLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar})
	return slog.New(handler)
}

// SetOutput 替换全局日志输出（通常为 stdout + 文件的 MultiWriter）。
func SetOutput(w io.Writer) {
	loggerMu.Lock()
	baseLogger = newLogger(w)
	loggerMu.Unlock()
}

func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "info":
		levelVar.Set(slog.LevelInfo)
	case "warn", "warning":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

func activeLogger() *slog.Logger {
	loggerMu.RLock()
	l := baseLogger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if baseLogger == nil {
		baseLogger = newLogger(os.Stdout)
	}
	return baseLogger
}

func Debugf(format string, v ...any) {
	activeLogger().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	activeLogger().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	activeLogger().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	activeLogger().Error(fmt.Sprintf(format, v...))
}

func InfoBlock(block string) {
	block = strings.TrimSpace(block)
	if block == "" {
		return
	}
	for _, line := range strings.Split(block, "\n") {
		Infof("%s", line)
	}
}

// Scope 携带固定的 key=value 属性，用于 trader / cycle 维度的日志。
type Scope struct {
	attrs []any
}

// With 创建带属性的日志作用域，kv 需成对出现。
func With(kv ...any) Scope {
	return Scope{attrs: append([]any(nil), kv...)}
}

// With 在当前作用域上追加属性，返回新作用域。
func (s Scope) With(kv ...any) Scope {
	attrs := make([]any, 0, len(s.attrs)+len(kv))
	attrs = append(attrs, s.attrs...)
	attrs = append(attrs, kv...)
	return Scope{attrs: attrs}
}

func (s Scope) Debugf(format string, v ...any) {
	activeLogger().Debug(fmt.Sprintf(format, v...), s.attrs...)
}

func (s Scope) Infof(format string, v ...any) {
	activeLogger().Info(fmt.Sprintf(format, v...), s.attrs...)
}

func (s Scope) Warnf(format string, v ...any) {
	activeLogger().Warn(fmt.Sprintf(format, v...), s.attrs...)
}

func (s Scope) Errorf(format string, v ...any) {
	activeLogger().Error(fmt.Sprintf(format, v...), s.attrs...)
}
