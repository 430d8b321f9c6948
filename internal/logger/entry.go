package logger

import (
	"context"
	"time"
)

// Entry attaches measurement fields (duration_ms, count, size, status) to a
// single log line, on top of whatever the context already carries.
type Entry struct {
	logger *Logger
	fields Fields
}

// With starts an Entry with fields.
//
//	logger.With(logger.Fields{logger.FieldCount: n}).Info(ctx, "swept %d jobs", n)
func With(fields Fields) *Entry {
	return &Entry{logger: GetDefault(), fields: fields}
}

// With returns a copy of e extended with fields. Later keys win.
func (e *Entry) With(fields Fields) *Entry {
	merged := make(Fields, len(e.fields)+len(fields))
	for k, v := range e.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Entry{logger: e.logger, fields: merged}
}

// WithElapsed records d as duration_ms.
func (e *Entry) WithElapsed(d time.Duration) *Entry {
	return e.With(Fields{FieldDurationMs: d.Milliseconds()})
}

func (e *Entry) target(ctx context.Context) *Logger {
	if ctx == nil {
		return e.logger
	}
	return FromContext(ctx)
}

// Debug logs at debug level.
func (e *Entry) Debug(ctx context.Context, format string, args ...interface{}) {
	e.target(ctx).WithFields(e.fields).Debugf(format, args...)
}

// Info logs at info level.
func (e *Entry) Info(ctx context.Context, format string, args ...interface{}) {
	e.target(ctx).WithFields(e.fields).Infof(format, args...)
}

// Warn logs at warn level.
func (e *Entry) Warn(ctx context.Context, format string, args ...interface{}) {
	e.target(ctx).WithFields(e.fields).Warnf(format, args...)
}

// Error logs at error level.
func (e *Entry) Error(ctx context.Context, format string, args ...interface{}) {
	e.target(ctx).WithFields(e.fields).Errorf(format, args...)
}
