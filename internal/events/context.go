package events

import (
	"context"
	"os"
)

type contextKey int

const (
	loggerKey contextKey = iota
	cycleIDKey
)

// FromContext extracts logger from context.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return fallbackLogger
}

// WithLogger adds logger to context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithCycleID tags the context and its logger with a sync cycle ID.
func WithCycleID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("cycle_id", id)
	ctx = context.WithValue(ctx, cycleIDKey, id)
	return WithLogger(ctx, logger)
}

// GetCycleID retrieves the sync cycle ID from context.
func GetCycleID(ctx context.Context) string {
	if id, ok := ctx.Value(cycleIDKey).(string); ok {
		return id
	}
	return ""
}

var fallbackLogger = &Logger{
	level:  InfoLevel,
	format: "text",
	output: os.Stdout,
	fields: make(map[string]interface{}),
}
