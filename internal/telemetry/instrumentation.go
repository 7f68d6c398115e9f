package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span attributes must stay low cardinality. Model identifiers, URLs and file
// paths belong in logs, not here.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation wraps fn in a span named after the operation.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentDownload tracks one download lifecycle. outcome maps the error
// returned by fn to completed, cancelled or failed.
func (t *Telemetry) InstrumentDownload(ctx context.Context, outcome func(error) string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()

	t.IncrementActiveDownloads(ctx)
	defer t.DecrementActiveDownloads(ctx)

	err := t.InstrumentOperation(ctx, "download", "downloader", fn)

	t.RecordDownload(ctx, outcome(err), time.Since(start))

	return err
}

// InstrumentAttempt tracks a single transfer attempt of method.
func (t *Telemetry) InstrumentAttempt(ctx context.Context, method string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "transfer_attempt", "transfer", func(ctx context.Context) error {
		ctx, span := t.Tracer().Start(ctx, "transfer_"+method)
		defer span.End()

		span.SetAttributes(attribute.String("transfer.method", method))

		return fn(ctx)
	})

	status := "success"

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = "aborted"
	default:
		status = "error"
	}

	t.RecordAttempt(ctx, method, status)

	return err
}
