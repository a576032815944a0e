package logctx

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	loggerKey     contextKey = "logger"
	downloadIDKey contextKey = "download_id"
)

// WithLogger returns a new context with the provided slog.Logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves the slog.Logger from the context, or returns slog.Default() if not found.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// WithDownloadID tags the context with the task identifier of an in-flight download.
// Handlers built with NewTraceHandler add it to every record logged with this context.
func WithDownloadID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, downloadIDKey, id)
}

// DownloadIDFromContext returns the task identifier set by WithDownloadID.
func DownloadIDFromContext(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(downloadIDKey).(uint64)
	return id, ok
}
