package telemetry

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/italolelis/model_downloader/internal/logctx"
)

// HTTPLogging logs one line per request once the handler returns. The level
// follows the status class: 5xx at ERROR, 4xx at WARN, the rest at INFO.
// A download stream logs when the stream ends, not when it opens.
func HTTPLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := wrapResponseWriter(w)

		next.ServeHTTP(wrapped, r)

		level := slog.LevelInfo
		switch {
		case wrapped.status >= http.StatusInternalServerError:
			level = slog.LevelError
		case wrapped.status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}

		logctx.LoggerFromContext(r.Context()).Log(r.Context(), level, "http request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"bytes", wrapped.bytesWritten,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
