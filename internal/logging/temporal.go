package logging

import (
	"go.uber.org/zap"
)

// TemporalLogger adapts a zap logger to the Temporal SDK's log.Logger
// interface so the client, workers, and workflow code log through the
// same pipeline (including redaction) as the rest of the process.
type TemporalLogger struct {
	sugar *zap.SugaredLogger
}

// NewTemporalLogger wraps a zap logger for use as client.Options.Logger.
func NewTemporalLogger(logger *zap.Logger) *TemporalLogger {
	return &TemporalLogger{
		// The SDK calls through one adapter frame.
		sugar: logger.WithOptions(zap.AddCallerSkip(1)).Sugar(),
	}
}

func (l *TemporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.sugar.Debugw(msg, keyvals...)
}

func (l *TemporalLogger) Info(msg string, keyvals ...interface{}) {
	l.sugar.Infow(msg, keyvals...)
}

func (l *TemporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.sugar.Warnw(msg, keyvals...)
}

func (l *TemporalLogger) Error(msg string, keyvals ...interface{}) {
	l.sugar.Errorw(msg, keyvals...)
}
