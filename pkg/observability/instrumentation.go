package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentOperation wraps a graph operation with a span
func (t *Telemetry) InstrumentOperation(ctx context.Context, op string, graphID string, fn func(context.Context) error) error {
	ctx, span := t.StartSpan(ctx, fmt.Sprintf("decomposition.%s", op),
		trace.WithAttributes(
			attribute.String("operation", op),
			attribute.String("graph.id", graphID),
		),
	)
	defer span.End()

	startTime := time.Now()

	err := fn(ctx)

	duration := time.Since(startTime)
	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration.seconds", duration.Seconds()),
	)

	return err
}

// InstrumentStore wraps a persistence call with a span
func (t *Telemetry) InstrumentStore(ctx context.Context, backend, action, key string, fn func(context.Context) error) error {
	ctx, span := t.StartSpan(ctx, fmt.Sprintf("store.%s", action),
		trace.WithAttributes(
			attribute.String("store.backend", backend),
			attribute.String("store.key", key),
		),
	)
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}

// StartGraphSpan starts a root span for work on a request graph
func (t *Telemetry) StartGraphSpan(ctx context.Context, graphID, request string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "decomposition.graph",
		trace.WithAttributes(
			attribute.String("graph.id", graphID),
			attribute.Int("request.length", len(request)),
			attribute.String("complexity", estimateComplexity(request)),
		),
	)
}

func estimateComplexity(request string) string {
	if len(request) < 50 {
		return "low"
	} else if len(request) < 200 {
		return "medium"
	}
	return "high"
}
