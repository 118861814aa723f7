package peervault

import "go.uber.org/zap"

// Logger is the structured logging surface every component takes at
// construction time. It mirrors zap's SugaredLogger key-value methods so
// callers can pass a *zap.SugaredLogger directly.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

// NewProductionLogger builds a Logger backed by zap's production config
// (JSON, info level and above).
func NewProductionLogger() (Logger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// NewDevelopmentLogger builds a Logger backed by zap's development config
// (console-friendly, debug level and above).
func NewDevelopmentLogger() (Logger, error) {
	l, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// noopLogger discards everything. Internal constructors fall back to it
// when handed a nil Logger, so components never need a nil check before
// logging. A nil Config.Logger instead gets a zap logger (see Config.logger).
type noopLogger struct{}

func (noopLogger) Debugw(string, ...interface{}) {}
func (noopLogger) Infow(string, ...interface{})  {}
func (noopLogger) Warnw(string, ...interface{})  {}
func (noopLogger) Errorw(string, ...interface{}) {}

// NewNoopLogger returns a Logger that discards all messages.
func NewNoopLogger() Logger { return noopLogger{} }
