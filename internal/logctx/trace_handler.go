package logctx

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// contextFields are copied from the context onto every record, in order.
var contextFields = []struct {
	name  string
	value func(context.Context) (string, bool)
}{
	{"request_id", RequestIDFromContext},
	{"model_id", ModelIDFromContext},
}

// TraceHandler wraps an slog.Handler and decorates records with the
// identifiers found in the context: the OpenTelemetry trace_id and span_id,
// plus request_id and model_id when they were set.
type TraceHandler struct {
	inner slog.Handler
}

// NewTraceHandler panics on a nil handler.
func NewTraceHandler(h slog.Handler) *TraceHandler {
	if h == nil {
		panic("logctx: NewTraceHandler called with nil handler")
	}
	return &TraceHandler{inner: h}
}

func (h *TraceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	for _, f := range contextFields {
		if v, ok := f.value(ctx); ok {
			r.AddAttrs(slog.String(f.name, v))
		}
	}

	return h.inner.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{inner: h.inner.WithGroup(name)}
}
