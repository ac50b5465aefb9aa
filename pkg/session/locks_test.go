package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncolesummers/request-decomposition/internal/testutil"
	"github.com/ncolesummers/request-decomposition/pkg/domain"
)

func TestKeyedLocks_SerializesSameKey(t *testing.T) {
	locks := newKeyedLocks()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locks.Lock(ctx, "g1")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxInside)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Zero(t, locks.Len())
}

func TestKeyedLocks_IndependentKeys(t *testing.T) {
	locks := newKeyedLocks()
	ctx := context.Background()

	unlockA, err := locks.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlockA()

	unlockB, err := locks.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
	unlockB()
}

func TestKeyedLocks_ContextCancel(t *testing.T) {
	locks := newKeyedLocks()

	unlock, err := locks.Lock(context.Background(), "g1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(ctx, "g1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.Zero(t, locks.Len())
}

type recordingMetrics struct {
	mu      sync.Mutex
	started int
	kinds   []string
}

func (r *recordingMetrics) RecordOperationStarted(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *recordingMetrics) RecordOperationComplete(_ context.Context, _ string, _ time.Duration, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
}

func TestOperationTracker(t *testing.T) {
	metrics := &recordingMetrics{}
	logger, buf := testutil.NewTestLogger("tracker")
	tracker := NewOperationTracker(metrics, logger)
	ctx := context.Background()

	tracker.RegisterStart(ctx, "op1", "add_child", "g1")
	tracker.RegisterStart(ctx, "op2", "finalize", "g1")
	require.Len(t, tracker.GetActiveOperations(), 2)
	assert.Equal(t, "op1", tracker.GetActiveOperations()[0].OperationID)

	tracker.TrackCompletion(ctx, "op1")
	tracker.TrackError(ctx, "op2", domain.NewNotFound("finalize", "g1", "graph not found"))
	tracker.TrackCompletion(ctx, "unknown")

	assert.Empty(t, tracker.GetActiveOperations())
	assert.Equal(t, 2, metrics.started)
	assert.Equal(t, []string{"", "NOT_FOUND"}, metrics.kinds)
	assert.Contains(t, buf.String(), "Operation failed")
}
