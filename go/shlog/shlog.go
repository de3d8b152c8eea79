// Package shlog provides the application logging functions, backed by zap.
//
// The logger is process-global; binaries call Init once from their
// composition root. Tests get a no-op logger by default.
package shlog

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mtx    sync.RWMutex
	logger = zap.NewNop().Sugar()
)

// Init installs the process logger. prod selects the JSON production
// encoder, otherwise the console development encoder is used.
func Init(prod bool) error {
	var (
		l   *zap.Logger
		err error
	)
	if prod {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		l, err = cfg.Build(zap.AddCallerSkip(1))
	} else {
		l, err = zap.NewDevelopment(zap.AddCallerSkip(1))
	}
	if err != nil {
		return err
	}
	mtx.Lock()
	defer mtx.Unlock()
	logger = l.Sugar()
	return nil
}

// SetLogger replaces the process logger. Used by tests.
func SetLogger(l *zap.SugaredLogger) {
	mtx.Lock()
	defer mtx.Unlock()
	logger = l
}

func get() *zap.SugaredLogger {
	mtx.RLock()
	defer mtx.RUnlock()
	return logger
}

// Info logs at info level.
func Info(args ...interface{}) { get().Info(args...) }

// Infof logs at info level with formatting.
func Infof(format string, args ...interface{}) { get().Infof(format, args...) }

// Warning logs at warn level.
func Warning(args ...interface{}) { get().Warn(args...) }

// Warningf logs at warn level with formatting.
func Warningf(format string, args ...interface{}) { get().Warnf(format, args...) }

// Error logs at error level.
func Error(args ...interface{}) { get().Error(args...) }

// Errorf logs at error level with formatting.
func Errorf(format string, args ...interface{}) { get().Errorf(format, args...) }

// Fatalf logs at fatal level with formatting and exits.
func Fatalf(format string, args ...interface{}) { get().Fatalf(format, args...) }

// Flush flushes any buffered log entries.
func Flush() {
	_ = get().Sync()
}
