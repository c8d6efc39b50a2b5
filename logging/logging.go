// Package logging sets up the process-wide structured logger and an HTTP
// logging middleware in the status-level-mapped style the retrieval pack's
// own fox router middleware uses.
package logging

import (
	"log/slog"
	"net/http"
	"os"
	"time"
)

// New returns a JSON slog.Logger writing to w at the given level. Pass nil
// for w to use os.Stderr.
func New(level slog.Level, w *os.File) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// statusWriter wraps http.ResponseWriter to capture the status code and
// response size for the access log line.
type statusWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

// Middleware logs one line per request: method, path, status, latency and
// response size. Status codes are logged at different levels: 2xx/3xx at
// INFO, 4xx at WARN, 5xx at ERROR.
func Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)
			latency := time.Since(start)

			logger.LogAttrs(r.Context(), levelFor(sw.status), r.URL.Path,
				slog.Int("status", sw.status),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("size", sw.size),
				slog.Duration("latency", latency),
			)
		})
	}
}

func levelFor(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
