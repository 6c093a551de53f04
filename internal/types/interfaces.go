package types

import "context"

// Logger defines the structured logging interface used throughout the worker.
// Production code wraps *slog.Logger; tests supply no-op or recording loggers.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// Validator is implemented by entities to self-validate.
type Validator interface {
	Validate() error
}

// Closer is implemented by owned resource handles (broker connections,
// store clients, database pools) released during shutdown.
type Closer interface {
	Close() error
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
