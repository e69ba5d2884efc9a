// Package logger provides structured logging for the relay with configurable
// levels. It wraps log/slog, choosing JSON output in production and text
// elsewhere.
package logger
