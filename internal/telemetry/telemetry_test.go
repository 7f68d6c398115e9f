package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/model_downloader/internal/logctx"
)

func newEnabled(t *testing.T) *Telemetry {
	t.Helper()

	tel, err := New(context.Background(), Config{Enabled: true, ServiceName: "model_downloader_test"})
	require.NoError(t, err)

	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	return tel
}

func scrape(t *testing.T, tel *Telemetry) string {
	t.Helper()

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	return rec.Body.String()
}

func TestDisabledTelemetryIsNoop(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()

	assert.NotPanics(t, func() {
		tel.RecordDownload(ctx, "completed", time.Second)
		tel.RecordAttempt(ctx, "wget", "success")
		tel.IncrementActiveDownloads(ctx)
		tel.DecrementActiveDownloads(ctx)
		tel.RecordSystemError(ctx, "downloader", "panic")
	})

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NoError(t, tel.Shutdown(ctx))
}

func TestNilTelemetryIsNoop(t *testing.T) {
	var tel *Telemetry

	called := false
	err := tel.InstrumentAttempt(context.Background(), "curl", func(context.Context) error {
		called = true

		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
	assert.NotNil(t, tel.Tracer())
}

func TestDownloadMetricsAreExported(t *testing.T) {
	tel := newEnabled(t)
	ctx := context.Background()

	failure := errors.New("boom")
	outcome := func(err error) string {
		if err != nil {
			return "failed"
		}

		return "completed"
	}

	err := tel.InstrumentDownload(ctx, outcome, func(ctx context.Context) error {
		return tel.InstrumentAttempt(ctx, "wget", func(context.Context) error { return failure })
	})
	require.ErrorIs(t, err, failure)

	body := scrape(t, tel)
	assert.Contains(t, body, "# TYPE downloads_total counter")
	assert.Contains(t, body, `outcome="failed"`)
	assert.Contains(t, body, "# TYPE download_attempts_total counter")
	assert.Contains(t, body, `method="wget"`)
	assert.Contains(t, body, "# TYPE download_duration_seconds histogram")
	assert.Contains(t, body, "# TYPE downloads_active gauge")
	assert.NotContains(t, body, "_ratio", "count metrics must not carry a unit suffix")
}

func TestHTTPMiddlewareUsesRoutePattern(t *testing.T) {
	tel := newEnabled(t)

	r := chi.NewRouter()
	r.Use(NewHTTPMiddleware(tel).Middleware)
	r.Get("/api/models/{id}/status", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/models/demo/status", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	body := scrape(t, tel)
	assert.Contains(t, body, "# TYPE http_requests_total counter")
	assert.Contains(t, body, "# TYPE http_requests_in_flight gauge")
	assert.Contains(t, body, `route="/api/models/{id}/status"`)
	assert.Contains(t, body, `status="4xx"`)
	assert.NotContains(t, body, "/api/models/demo/status")
}

func TestResponseWriterFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := wrapResponseWriter(rec)

	_, err := rw.Write([]byte("data: {}\n\n"))
	require.NoError(t, err)

	var f http.Flusher = rw
	f.Flush()

	assert.True(t, rec.Flushed)
	assert.Equal(t, http.StatusOK, rw.status)
	assert.EqualValues(t, 10, rw.bytesWritten)
	assert.Same(t, rw, wrapResponseWriter(rw))
}

func TestRequestID(t *testing.T) {
	var seen string

	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen, _ = logctx.RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-id")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "upstream-id", seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", maxRequestIDLength+1))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Len(t, seen, 36)
}

func TestHTTPLoggingLevels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusNotFound, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		logger := slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(&buf, nil)))

		h := RequestID(HTTPLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
		})))

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req = req.WithContext(logctx.WithLogger(req.Context(), logger))
		h.ServeHTTP(httptest.NewRecorder(), req)

		var entry map[string]interface{}
		require.NoError(t, json.NewDecoder(io.LimitReader(&buf, 1<<16)).Decode(&entry))

		assert.Equal(t, tt.level, entry["level"])
		assert.EqualValues(t, tt.status, entry["status"])
		assert.NotEmpty(t, entry["request_id"])
	}
}
