package logger

import (
	"context"
	"log/slog"
)

// contextKey keys the request-scoped logger. The unexported type keeps other
// packages from colliding with it.
type contextKey struct{}

// WithContext returns a copy of ctx carrying logger. The agent's HTTP
// middleware and gRPC interceptor use it to attach the request id to every
// log line of a request.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger stored by WithContext. It never returns
// nil: code running outside a request, such as background workers and unit
// tests, gets slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}
