package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span attributes stay bounded: operation and component names, status values.
// Task ids, file names, peer URLs and error text go to logs, never to attributes.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation runs fn inside a span named operationName.
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

// InstrumentStoreOperation instruments record store operations.
func (t *Telemetry) InstrumentStoreOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "store_"+operation, "record_store", fn)

	t.RecordStoreOperation(ctx, operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentDownload instruments one transfer from start to its terminal state.
// classify maps the transfer error to a bounded status label.
func (t *Telemetry) InstrumentDownload(ctx context.Context, classify func(error) string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()

	t.AddActiveDownloads(ctx, 1)
	defer t.AddActiveDownloads(ctx, -1)

	err := t.InstrumentOperation(ctx, "download", "transfer_engine", fn)

	t.RecordDownload(ctx, classify(err), time.Since(start))

	return err
}

// InstrumentDiscovery instruments a discovery round. fn reports the number of peers found.
func (t *Telemetry) InstrumentDiscovery(ctx context.Context, fn func(ctx context.Context) (int, error)) error {
	var peers int

	err := t.InstrumentOperation(ctx, "discovery_round", "discovery", func(ctx context.Context) error {
		var err error

		peers, err = fn(ctx)

		return err
	})

	t.RecordDiscovery(ctx, statusOf(err), peers)

	return err
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
