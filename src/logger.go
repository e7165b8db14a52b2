package src

import "go.uber.org/zap"

// Logger is the process-wide structured logging facade. It is satisfied by
// *zap.SugaredLogger, which is what the app wires in; tests use NoopLogger.
type Logger interface {
	Debugf(template string, args ...any)
	Infof(template string, args ...any)
	Warnf(template string, args ...any)
	Errorf(template string, args ...any)

	Debugw(msg string, keysAndValues ...any)
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)

	Error(args ...any)

	Sync() error
}

var _ Logger = (*zap.SugaredLogger)(nil)

type NoopLogger struct{}

var _ Logger = NoopLogger{}

func (NoopLogger) Debugf(string, ...any) {}
func (NoopLogger) Infof(string, ...any)  {}
func (NoopLogger) Warnf(string, ...any)  {}
func (NoopLogger) Errorf(string, ...any) {}
func (NoopLogger) Debugw(string, ...any) {}
func (NoopLogger) Infow(string, ...any)  {}
func (NoopLogger) Warnw(string, ...any)  {}
func (NoopLogger) Errorw(string, ...any) {}
func (NoopLogger) Error(...any)          {}
func (NoopLogger) Sync() error           { return nil }
