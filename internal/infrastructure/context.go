package infrastructure

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// GenerateTraceID returns a random UUID v4 trace id
func GenerateTraceID() string {
	return uuid.NewString()
}

// EnsureTraceID returns ctx when it already carries a trace id and a child
// context with a fresh one otherwise. A nil ctx is treated as Background.
func EnsureTraceID(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if GetTraceID(ctx) != "" {
		return ctx
	}
	return WithTraceID(ctx, GenerateTraceID())
}

// Detach returns a context that outlives the cancellation of ctx and keeps
// its trace id. Shutdown work started from a cancelled run context uses it.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(EnsureTraceID(ctx))
}

// WithComponent tags logger with the component name
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithError tags logger with err. A nil err returns logger itself.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}
