package telemetry

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/italolelis/model_downloader/internal/logctx"
)

const (
	RequestIDHeader = "X-Request-ID"

	maxRequestIDLength = 128
)

// RequestID middleware tags each request with an identifier and echoes it in
// the response. An upstream X-Request-ID is reused when it is reasonably short.
// Log records written with the request context pick the identifier up through
// logctx.TraceHandler.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, id)

		next.ServeHTTP(w, r.WithContext(logctx.WithRequestID(r.Context(), id)))
	})
}
