package log

import (
	"context"
	"path"

	"github.com/sirupsen/logrus"
)

var (
	// G 是 GetLogger 的简写
	G = GetLogger

	// L 是没有任何上下文字段的基础 logger
	L = logrus.NewEntry(logrus.StandardLogger())
)

type (
	loggerKey struct{}
	moduleKey struct{}
)

// WithLogger 返回携带指定 logger 的新 context
func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger 从 context 中取出当前 logger，没有时返回 L
func GetLogger(ctx context.Context) *logrus.Entry {
	logger := ctx.Value(loggerKey{})

	if logger == nil {
		return L
	}

	return logger.(*logrus.Entry)
}

// WithModule 在 context 中追加模块路径，logger 通过 module 字段体现。
// 模块路径以 "/" 分隔，重复追加同一模块时为空操作。
func WithModule(ctx context.Context, module string) context.Context {
	parent := GetModulePath(ctx)

	if parent != "" {
		// 已经处于该模块中，不重复嵌套
		if path.Base(parent) == module {
			return ctx
		}

		module = path.Join(parent, module)
	}

	ctx = WithLogger(ctx, GetLogger(ctx).WithField("module", module))
	return context.WithValue(ctx, moduleKey{}, module)
}

// GetModulePath 返回 context 中的模块路径
func GetModulePath(ctx context.Context) string {
	module := ctx.Value(moduleKey{})
	if module == nil {
		return ""
	}

	return module.(string)
}

// Configure 设置全局日志级别和输出格式（text 或 json）
func Configure(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)

	switch format {
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return &UnknownFormatError{Format: format}
	}

	return nil
}

// UnknownFormatError 表示不支持的日志格式
type UnknownFormatError struct {
	Format string
}

func (e *UnknownFormatError) Error() string {
	return "unknown log format: " + e.Format
}
