package logger

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey struct{}

var (
	mu     sync.RWMutex
	global = zap.NewNop().Sugar()
)

// Init 初始化全局 logger，level 取 debug/info/warn/error
func Init(level string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	SetGlobal(l.Sugar())
	return l.Sugar(), nil
}

func SetGlobal(l *zap.SugaredLogger) {
	mu.Lock()
	global = l
	mu.Unlock()
}

func Global() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// Sync 刷新缓冲区，进程退出前调用
func Sync() {
	_ = Global().Sync()
}

// ToContext 把 logger 放入 context
func ToContext(ctx context.Context, l *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext 取出 context 中的 logger，没有则返回全局 logger
func FromContext(ctx context.Context) *zap.SugaredLogger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zap.SugaredLogger); ok && l != nil {
			return l
		}
	}
	return Global()
}

// With 返回附带字段的 context
func With(ctx context.Context, args ...interface{}) context.Context {
	return ToContext(ctx, FromContext(ctx).With(args...))
}

func Debugf(ctx context.Context, template string, args ...interface{}) {
	FromContext(ctx).Debugf(template, args...)
}

func Infof(ctx context.Context, template string, args ...interface{}) {
	FromContext(ctx).Infof(template, args...)
}

func Warnf(ctx context.Context, template string, args ...interface{}) {
	FromContext(ctx).Warnf(template, args...)
}

func Errorf(ctx context.Context, template string, args ...interface{}) {
	FromContext(ctx).Errorf(template, args...)
}
