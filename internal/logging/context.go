package logging

import (
	"context"

	"github.com/fyrsmithlabs/graphcore/internal/tenant"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from the context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 2)

	if info, ok := tenant.FromContext(ctx); ok {
		fields = append(fields,
			zap.String("tenant.id", info.ID),
			zap.String("tenant.session", info.SessionID),
		)
	}

	return fields
}

// loggerCtxKey is the context key for Logger.
type loggerCtxKey struct{}

// WithLogger stores the logger in the context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger from the context, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
