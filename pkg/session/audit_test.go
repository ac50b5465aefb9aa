package session_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncolesummers/request-decomposition/internal/testutil"
	"github.com/ncolesummers/request-decomposition/pkg/decomposition"
	"github.com/ncolesummers/request-decomposition/pkg/domain"
)

func TestManager_Audit(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.NewTestContext(t)

	buildLoginPage(t, f.manager)
	for i := 0; i < 5; i++ {
		_, err := f.manager.Create(ctx, fmt.Sprintf("Request %d", i), decomposition.WithGraphID(fmt.Sprintf("req-%d", i)))
		require.NoError(t, err)
	}

	// stored directly so the manager never sees it being built
	broken := domain.NewRequestGraph("broken", "root", "Broken", time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, broken.PutNode(domain.RequestNode{
		ID:       "root",
		Text:     "Broken",
		Type:     domain.NodeTypeRoot,
		Children: []string{"ghost"},
	}))
	require.NoError(t, f.store.GraphStore.Save(context.Background(), broken))

	reports, err := f.manager.Audit(ctx, domain.GraphFilter{}, 2)
	require.NoError(t, err)
	require.Len(t, reports, 7)

	ids := make([]string, 0, len(reports))
	invalid := 0
	for _, r := range reports {
		ids = append(ids, r.GraphID)
		if !r.Result.Valid() {
			invalid++
			assert.Equal(t, "broken", r.GraphID)
			assert.True(t, r.Result.Has(decomposition.ViolationMissingChild))
		}
	}
	assert.Equal(t, 1, invalid)
	assert.Equal(t, []string{"broken", "login", "req-0", "req-1", "req-2", "req-3", "req-4"}, ids)
	assert.Empty(t, f.manager.ActiveOperations())
}

func TestManager_AuditFilterAndCancel(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.NewTestContext(t)
	buildLoginPage(t, f.manager)

	_, err := f.manager.Finalize(ctx, "login", domain.GraphStatusComplete)
	require.NoError(t, err)
	_, err = f.manager.Create(ctx, "Still open", decomposition.WithGraphID("open"))
	require.NoError(t, err)

	reports, err := f.manager.Audit(ctx, domain.GraphFilter{Status: []domain.GraphStatus{domain.GraphStatusComplete}}, 0)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "login", reports[0].GraphID)
	assert.Equal(t, domain.GraphStatusComplete, reports[0].Status)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = f.manager.Audit(cancelled, domain.GraphFilter{}, 1)
	assert.Error(t, err)
}
