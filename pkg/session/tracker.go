package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ncolesummers/request-decomposition/pkg/domain"
	"github.com/ncolesummers/request-decomposition/pkg/observability"
)

// OperationTracking records one in-flight operation
type OperationTracking struct {
	OperationID string
	Operation   string
	GraphID     string
	StartTime   time.Time
}

// MetricsUpdater receives operation lifecycle events
type MetricsUpdater interface {
	RecordOperationStarted(ctx context.Context)
	RecordOperationComplete(ctx context.Context, op string, duration time.Duration, errorKind string)
}

// OperationTracker tracks in-flight graph operations
type OperationTracker struct {
	active map[string]*OperationTracking
	mu     sync.RWMutex

	metrics MetricsUpdater
	logger  observability.Logger
}

// NewOperationTracker creates a new tracker
func NewOperationTracker(metrics MetricsUpdater, logger observability.Logger) *OperationTracker {
	return &OperationTracker{
		active:  make(map[string]*OperationTracking),
		metrics: metrics,
		logger:  logger,
	}
}

// RegisterStart registers an operation as started
func (t *OperationTracker) RegisterStart(ctx context.Context, operationID, op, graphID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active[operationID] = &OperationTracking{
		OperationID: operationID,
		Operation:   op,
		GraphID:     graphID,
		StartTime:   time.Now(),
	}
	t.metrics.RecordOperationStarted(ctx)
}

// TrackCompletion records a successful operation
func (t *OperationTracker) TrackCompletion(ctx context.Context, operationID string) {
	t.finish(ctx, operationID, nil)
}

// TrackError records a failed operation
func (t *OperationTracker) TrackError(ctx context.Context, operationID string, err error) {
	t.finish(ctx, operationID, err)
}

func (t *OperationTracker) finish(ctx context.Context, operationID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tracking, exists := t.active[operationID]
	if !exists {
		return
	}
	delete(t.active, operationID)

	duration := time.Since(tracking.StartTime)
	attrs := map[string]interface{}{
		"operation": tracking.Operation,
		"graph_id":  tracking.GraphID,
		"duration":  duration.Seconds(),
	}

	if err == nil {
		t.metrics.RecordOperationComplete(ctx, tracking.Operation, duration, "")
		t.logger.Debug(ctx, "Operation completed", attrs)
		return
	}

	kind := string(domain.KindOf(err))
	if kind == "" {
		kind = "INTERNAL"
	}
	attrs["kind"] = kind
	attrs["error"] = err.Error()
	t.metrics.RecordOperationComplete(ctx, tracking.Operation, duration, kind)
	t.logger.Warn(ctx, "Operation failed", attrs)
}

// GetActiveOperations returns a snapshot of in-flight operations, oldest first
func (t *OperationTracker) GetActiveOperations() []OperationTracking {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ops := make([]OperationTracking, 0, len(t.active))
	for _, tracking := range t.active {
		ops = append(ops, *tracking)
	}
	sort.Slice(ops, func(i, j int) bool {
		if !ops[i].StartTime.Equal(ops[j].StartTime) {
			return ops[i].StartTime.Before(ops[j].StartTime)
		}
		return ops[i].OperationID < ops[j].OperationID
	})
	return ops
}
