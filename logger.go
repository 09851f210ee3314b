package quadsocket

import "log/slog"

// Logger is the interface for structured logging.
// It is designed to be compatible with *slog.Logger from the standard library.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, args ...any)
	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, args ...any)
	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, args ...any)
	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, args ...any)
}

// defaultLogger returns the default slog logger from the standard library.
func defaultLogger() Logger {
	return slog.Default()
}

// fieldLogger prepends a fixed set of key-value pairs to every record,
// so each line of a connection worker carries its id, transport and address.
type fieldLogger struct {
	base   Logger
	fields []any
}

func withFields(base Logger, fields ...any) Logger {
	if fl, ok := base.(*fieldLogger); ok {
		return &fieldLogger{base: fl.base, fields: append(append([]any(nil), fl.fields...), fields...)}
	}
	return &fieldLogger{base: base, fields: fields}
}

func (l *fieldLogger) merge(args []any) []any {
	out := make([]any, 0, len(l.fields)+len(args))
	out = append(out, l.fields...)
	return append(out, args...)
}

func (l *fieldLogger) Debug(msg string, args ...any) { l.base.Debug(msg, l.merge(args)...) }
func (l *fieldLogger) Info(msg string, args ...any)  { l.base.Info(msg, l.merge(args)...) }
func (l *fieldLogger) Warn(msg string, args ...any)  { l.base.Warn(msg, l.merge(args)...) }
func (l *fieldLogger) Error(msg string, args ...any) { l.base.Error(msg, l.merge(args)...) }
