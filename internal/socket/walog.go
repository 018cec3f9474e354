// internal/socket/walog.go
package socket

import (
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
)

// waLogger bridges the library's logging interface onto zap so socket
// internals share the daemon's structured output.
type waLogger struct {
	sugar *zap.SugaredLogger
}

func newWALogger(logger *zap.Logger) waLog.Logger {
	return &waLogger{sugar: logger.Sugar()}
}

func (l *waLogger) Warnf(msg string, args ...interface{}) {
	l.sugar.Warnf(msg, args...)
}

func (l *waLogger) Errorf(msg string, args ...interface{}) {
	l.sugar.Errorf(msg, args...)
}

func (l *waLogger) Infof(msg string, args ...interface{}) {
	l.sugar.Infof(msg, args...)
}

func (l *waLogger) Debugf(msg string, args ...interface{}) {
	l.sugar.Debugf(msg, args...)
}

func (l *waLogger) Sub(module string) waLog.Logger {
	return &waLogger{sugar: l.sugar.Named(module)}
}
