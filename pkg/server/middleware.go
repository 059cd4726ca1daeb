package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// LogFormatter feeds chi's RequestLogger into slog.
type LogFormatter struct {
	logger *slog.Logger
}

func NewLogFormatter(logger *slog.Logger) *LogFormatter {
	return &LogFormatter{logger: logger}
}

func (f *LogFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &logEntry{
		logger: f.logger.With(
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		),
		req: r,
	}
}

type logEntry struct {
	logger *slog.Logger
	req    *http.Request
}

func (e *logEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ any) {
	if status == 0 {
		status = http.StatusOK
	}
	level := slog.LevelInfo
	switch {
	case status >= 500:
		level = slog.LevelError
	case status >= 400:
		level = slog.LevelWarn
	}
	e.logger.LogAttrs(e.req.Context(), level, "http request",
		slog.Int("status", status),
		slog.Int("bytes", bytes),
		slog.Duration("dur", elapsed),
	)
}

// Panic is called by middleware.Recoverer before it answers 500.
func (e *logEntry) Panic(v any, stack []byte) {
	e.logger.Error("panic recovered",
		slog.Any("panic", v),
		slog.String("stack", string(stack)),
	)
}

// HTTPMiddleware is the chain every REST router is mounted behind.
// Recoverer sits inside the logger so a panic is logged with its 500.
func HTTPMiddleware(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.RequestLogger(NewLogFormatter(logger)),
		middleware.Recoverer,
	}
}
