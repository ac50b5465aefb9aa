package observability

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	meter metric.Meter

	// Counters
	graphsCreatedTotal        metric.Int64Counter
	nodesAddedTotal           metric.Int64Counter
	graphsFinalizedTotal      metric.Int64Counter
	operationFailuresTotal    metric.Int64Counter
	validationViolationsTotal metric.Int64Counter
	termReferencesTotal       metric.Int64Counter

	// Histograms
	operationDuration metric.Float64Histogram

	// Gauges (using async instruments)
	activeOperations metric.Int64ObservableGauge

	activeOperationCount atomic.Int64
}

// NewMetrics creates and initializes all metrics
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{
		meter: meter,
	}

	var err error

	m.graphsCreatedTotal, err = meter.Int64Counter(
		"decomposition_graphs_created_total",
		metric.WithDescription("Total number of request graphs created"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.nodesAddedTotal, err = meter.Int64Counter(
		"decomposition_nodes_added_total",
		metric.WithDescription("Total number of child nodes added"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.graphsFinalizedTotal, err = meter.Int64Counter(
		"decomposition_graphs_finalized_total",
		metric.WithDescription("Total number of graphs finalized"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.operationFailuresTotal, err = meter.Int64Counter(
		"decomposition_operation_failures_total",
		metric.WithDescription("Total number of failed graph operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.validationViolationsTotal, err = meter.Int64Counter(
		"decomposition_validation_violations_total",
		metric.WithDescription("Total number of structural violations reported by validation"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.termReferencesTotal, err = meter.Int64Counter(
		"decomposition_term_references_total",
		metric.WithDescription("Total number of domain term references"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.operationDuration, err = meter.Float64Histogram(
		"decomposition_operation_duration_seconds",
		metric.WithDescription("Duration of graph operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.activeOperations, err = meter.Int64ObservableGauge(
		"decomposition_active_operations",
		metric.WithDescription("Number of graph operations in flight"),
		metric.WithUnit("1"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.activeOperationCount.Load())
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordGraphCreated records creation of a new graph
func (m *Metrics) RecordGraphCreated(ctx context.Context) {
	m.graphsCreatedTotal.Add(ctx, 1)
}

// RecordNodeAdded records a child node added under a parent of the given type
func (m *Metrics) RecordNodeAdded(ctx context.Context, parentType string) {
	m.nodesAddedTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("parent_type", parentType),
		),
	)
}

// RecordGraphFinalized records a graph reaching a terminal status
func (m *Metrics) RecordGraphFinalized(ctx context.Context, outcome string) {
	m.graphsFinalizedTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("outcome", outcome),
		),
	)
}

// RecordOperationStarted marks an operation as in flight
func (m *Metrics) RecordOperationStarted(ctx context.Context) {
	m.activeOperationCount.Add(1)
}

// RecordOperationComplete records completion of an operation. errorKind is empty on success.
func (m *Metrics) RecordOperationComplete(ctx context.Context, op string, duration time.Duration, errorKind string) {
	status := "success"
	if errorKind != "" {
		status = "failure"
		m.operationFailuresTotal.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("operation", op),
				attribute.String("kind", errorKind),
			),
		)
	}

	m.operationDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("status", status),
		),
	)

	m.activeOperationCount.Add(-1)
}

// RecordViolation records one validation violation
func (m *Metrics) RecordViolation(ctx context.Context, code string) {
	m.validationViolationsTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("code", code),
		),
	)
}

// RecordTermReferences records references to vocabulary terms
func (m *Metrics) RecordTermReferences(ctx context.Context, count int) {
	if count <= 0 {
		return
	}
	m.termReferencesTotal.Add(ctx, int64(count))
}

// GetActiveOperationCount returns the current number of in-flight operations
func (m *Metrics) GetActiveOperationCount() int64 {
	return m.activeOperationCount.Load()
}
