package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ncolesummers/request-decomposition/internal/testutil"
	"github.com/ncolesummers/request-decomposition/pkg/decomposition"
	"github.com/ncolesummers/request-decomposition/pkg/domain"
	"github.com/ncolesummers/request-decomposition/pkg/session"
	"github.com/ncolesummers/request-decomposition/pkg/state"
)

type fixture struct {
	manager  *session.Manager
	store    *testutil.MockGraphStore
	recorder *tracetest.SpanRecorder
	reader   *sdkmetric.ManualReader
}

func newFixture(t *testing.T, opts ...session.Option) *fixture {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	telemetry := testutil.SetupTestTelemetry(recorder, reader)
	logger, _ := testutil.NewTestLogger("session")
	store := testutil.NewMockGraphStore(state.NewMemoryStore())

	clock := testutil.FixedClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	opts = append([]session.Option{session.WithClock(clock)}, opts...)

	m, err := session.NewManager(store, telemetry, logger, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	return &fixture{manager: m, store: store, recorder: recorder, reader: reader}
}

func (f *fixture) counter(t *testing.T, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, f.reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

// buildLoginPage drives the manager through the "Build a login page" session
func buildLoginPage(t *testing.T, m *session.Manager) *domain.RequestGraph {
	t.Helper()
	ctx := testutil.NewTestContext(t)

	g, err := m.Create(ctx, "Build a login page", decomposition.WithGraphID("login"), decomposition.WithID("root"))
	require.NoError(t, err)

	_, _, err = m.AddChild(ctx, g.ID, "root", "Design form", "UI subtask", []string{"ui"}, decomposition.WithID("form"))
	require.NoError(t, err)
	_, _, err = m.AddChild(ctx, g.ID, "root", "Wire authentication", "Backend subtask", []string{"auth"}, decomposition.WithID("auth"))
	require.NoError(t, err)
	_, _, err = m.AddChild(ctx, g.ID, "form", "Username and password fields", "", []string{"ui"},
		decomposition.WithID("fields"), decomposition.WithPromoteParent())
	require.NoError(t, err)
	g, _, err = m.AddChild(ctx, g.ID, "form", "Submit button", "", nil, decomposition.WithID("submit"))
	require.NoError(t, err)
	return g
}

func TestManager_LoginPageSession(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.NewTestContext(t)

	g := buildLoginPage(t, f.manager)
	assert.Equal(t, domain.GraphSummary{Total: 5, Root: 1, Intermediate: 1, Atomic: 3}, g.Summary())

	res, err := f.manager.Validate(ctx, "login")
	require.NoError(t, err)
	assert.True(t, res.Valid(), res.String())

	done, err := f.manager.Finalize(ctx, "login", domain.GraphStatusComplete)
	require.NoError(t, err)
	assert.Equal(t, domain.GraphStatusComplete, done.Status)
	require.NotNil(t, done.CompletedAt)

	stored, err := f.manager.Get(ctx, "login")
	require.NoError(t, err)
	assert.Equal(t, domain.GraphStatusComplete, stored.Status)
	assert.Equal(t, g.Nodes(), stored.Nodes())

	_, _, err = f.manager.AddChild(ctx, "login", "root", "Late", "", nil)
	assert.True(t, domain.IsInvalidState(err))

	assert.Equal(t, int64(1), f.counter(t, "decomposition_graphs_created_total"))
	assert.Equal(t, int64(4), f.counter(t, "decomposition_nodes_added_total"))
	assert.Equal(t, int64(1), f.counter(t, "decomposition_graphs_finalized_total"))
	assert.Equal(t, int64(1), f.counter(t, "decomposition_operation_failures_total"))
	assert.Empty(t, f.manager.ActiveOperations())
}

func TestManager_SpansPerOperation(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.NewTestContext(t)

	g, err := f.manager.Create(ctx, "Write docs")
	require.NoError(t, err)
	_, err = f.manager.RecordAttempt(ctx, g.ID, g.RootNodeID)
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, span := range f.recorder.Ended() {
		names[span.Name()] = true
	}
	assert.True(t, names["decomposition.create"])
	assert.True(t, names["decomposition.graph"])
	assert.True(t, names["decomposition.record_attempt"])
	assert.True(t, names["store.load"])
	assert.True(t, names["store.save"])
}

func TestManager_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.NewTestContext(t)
	buildLoginPage(t, f.manager)

	_, err := f.manager.Create(ctx, "   ")
	assert.True(t, domain.IsInvalidInput(err))

	_, err = f.manager.Create(ctx, "again", decomposition.WithGraphID("login"))
	assert.True(t, domain.IsInvalidState(err))

	_, err = f.manager.Get(ctx, "missing")
	assert.True(t, domain.IsNotFound(err))

	_, _, err = f.manager.AddChild(ctx, "login", "ghost", "x", "", nil)
	assert.True(t, domain.IsNotFound(err))

	_, _, err = f.manager.AddChild(ctx, "login", "auth", "x", "", nil)
	assert.True(t, domain.IsInvalidState(err))

	_, err = f.manager.MarkAtomic(ctx, "login", "form")
	assert.True(t, domain.IsInvalidState(err))

	_, err = f.manager.Finalize(ctx, "login", domain.GraphStatusProcessing)
	assert.True(t, domain.IsInvalidInput(err))
}

func TestManager_FailedSaveLeavesGraphUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.NewTestContext(t)
	before := buildLoginPage(t, f.manager)

	f.store.SetSaveErr(errors.New("disk full"))
	_, _, err := f.manager.AddChild(ctx, "login", "root", "Rate limiting", "", nil)
	require.Error(t, err)
	f.store.SetSaveErr(nil)

	after, err := f.manager.Get(ctx, "login")
	require.NoError(t, err)
	assert.Equal(t, before.Nodes(), after.Nodes())
}

func TestManager_ConcurrentAddChild(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.NewTestContext(t)

	g, err := f.manager.Create(ctx, "Plan a release")
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := f.manager.AddChild(ctx, g.ID, g.RootNodeID, fmt.Sprintf("step %d", i), "", nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored, err := f.manager.Get(ctx, g.ID)
	require.NoError(t, err)
	root, _ := stored.Root()
	assert.Len(t, root.Children, n)
	assert.Equal(t, n+1, stored.Len())

	res, err := f.manager.Validate(ctx, g.ID)
	require.NoError(t, err)
	assert.True(t, res.Valid(), res.String())
}

func TestManager_LockWaitHonoursTimeout(t *testing.T) {
	f := newFixture(t, session.WithOperationTimeout(50*time.Millisecond))
	ctx := testutil.NewTestContext(t)

	g, err := f.manager.Create(context.Background(), "Slow save")
	require.NoError(t, err)

	gate := make(chan struct{})
	f.store.SaveGate = gate
	defer close(gate)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = f.manager.RecordAttempt(ctx, g.ID, g.RootNodeID)
	}()

	_, err = f.manager.RecordAttempt(ctx, g.ID, g.RootNodeID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	wg.Wait()
}

func TestManager_Vocabulary(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.NewTestContext(t)

	ui, err := f.manager.DefineTerm(ctx, domain.DomainTerm{ID: "ui", Term: "User interface", Definition: "Visual elements", Domain: "frontend"})
	require.NoError(t, err)
	_, err = f.manager.DefineTerm(ctx, domain.DomainTerm{ID: "auth", Term: "Authentication", Definition: "Identity checks", Domain: "security"})
	require.NoError(t, err)

	_, err = f.manager.DefineTerm(ctx, domain.DomainTerm{Term: "Missing definition", Domain: "x"})
	assert.True(t, domain.IsInvalidInput(err))

	rel, err := f.manager.Relate(ctx, domain.ConceptRelationship{
		FromTerm: "ui", ToTerm: "auth", RelationshipType: domain.RelationshipDependsOn, Strength: 0.5,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rel.ID)

	_, err = f.manager.Relate(ctx, domain.ConceptRelationship{FromTerm: "ui", ToTerm: "ghost", RelationshipType: domain.RelationshipRequires})
	assert.True(t, domain.IsNotFound(err))

	buildLoginPage(t, f.manager)

	terms, err := f.manager.Terms(ctx)
	require.NoError(t, err)
	require.Len(t, terms, 2)
	assert.Equal(t, "Authentication", terms[0].Term)
	assert.Equal(t, 1, terms[0].UsageCount)
	assert.Equal(t, ui.ID, terms[1].ID)
	assert.Equal(t, 2, terms[1].UsageCount)
	assert.False(t, terms[1].LastUsed.IsZero())

	rels, err := f.manager.Relationships(ctx, "ui")
	require.NoError(t, err)
	assert.Equal(t, []domain.ConceptRelationship{rel}, rels)

	all, err := f.manager.Relationships(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	assert.Equal(t, int64(3), f.counter(t, "decomposition_term_references_total"))
}

func TestManager_StrictTerms(t *testing.T) {
	f := newFixture(t, session.WithStrictTerms(true))
	ctx := testutil.NewTestContext(t)

	_, err := f.manager.DefineTerm(ctx, domain.DomainTerm{ID: "ui", Term: "UI", Definition: "d", Domain: "frontend"})
	require.NoError(t, err)

	g, err := f.manager.Create(ctx, "Build a page")
	require.NoError(t, err)

	_, _, err = f.manager.AddChild(ctx, g.ID, g.RootNodeID, "Style it", "", []string{"ui", "css"})
	assert.True(t, domain.IsNotFound(err))

	stored, err := f.manager.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Len())

	terms, err := f.manager.Terms(ctx)
	require.NoError(t, err)
	assert.Zero(t, terms[0].UsageCount)

	_, err = f.manager.Create(ctx, "Theme the page", decomposition.WithGraphID("theme"), decomposition.WithDomainTerms("ui", "css"))
	assert.True(t, domain.IsNotFound(err))
	_, err = f.manager.Get(ctx, "theme")
	assert.True(t, domain.IsNotFound(err))

	_, err = f.manager.Create(ctx, "Theme the page", decomposition.WithGraphID("theme"), decomposition.WithDomainTerms("ui"))
	require.NoError(t, err)
	terms, err = f.manager.Terms(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, terms[0].UsageCount)
}

func TestManager_LenientTermsValidate(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.NewTestContext(t)

	g, err := f.manager.Create(ctx, "Build a page")
	require.NoError(t, err)
	_, _, err = f.manager.AddChild(ctx, g.ID, g.RootNodeID, "Style it", "", []string{"css"})
	require.NoError(t, err)

	res, err := f.manager.Validate(ctx, g.ID)
	require.NoError(t, err)
	assert.True(t, res.Valid())
}

func TestManager_ExportImport(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.NewTestContext(t)
	original := buildLoginPage(t, f.manager)

	data, err := f.manager.Export(ctx, "login")
	require.NoError(t, err)

	_, err = f.manager.Import(ctx, data)
	assert.True(t, domain.IsInvalidState(err))

	require.NoError(t, f.manager.Delete(ctx, "login"))
	assert.True(t, domain.IsNotFound(f.manager.Delete(ctx, "login")))

	imported, err := f.manager.Import(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, original.Nodes(), imported.Nodes())

	res, err := f.manager.Validate(ctx, "login")
	require.NoError(t, err)
	assert.True(t, res.Valid())
}

func TestManager_SplitAtomicNodeExportImport(t *testing.T) {
	tests := []struct {
		name  string
		split func(ctx context.Context, m *session.Manager) error
	}{
		{
			name: "add with promote",
			split: func(ctx context.Context, m *session.Manager) error {
				_, _, err := m.AddChild(ctx, "trip", "flights", "Compare fares", "", nil,
					decomposition.WithID("fares"), decomposition.WithPromoteParent())
				return err
			},
		},
		{
			name: "promote then add",
			split: func(ctx context.Context, m *session.Manager) error {
				if _, err := m.Promote(ctx, "trip", "flights"); err != nil {
					return err
				}
				_, _, err := m.AddChild(ctx, "trip", "flights", "Compare fares", "", nil, decomposition.WithID("fares"))
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := testutil.NewTestContext(t)

			_, err := f.manager.Create(ctx, "Plan a trip", decomposition.WithGraphID("trip"), decomposition.WithID("root"))
			require.NoError(t, err)
			_, _, err = f.manager.AddChild(ctx, "trip", "root", "Book flights", "", nil, decomposition.WithID("flights"))
			require.NoError(t, err)

			require.NoError(t, tt.split(ctx, f.manager))

			data, err := f.manager.Export(ctx, "trip")
			require.NoError(t, err)
			require.NoError(t, f.manager.Delete(ctx, "trip"))

			imported, err := f.manager.Import(ctx, data)
			require.NoError(t, err)
			flights, ok := imported.Node("flights")
			require.True(t, ok)
			assert.Equal(t, domain.NodeTypeIntermediate, flights.Type)
			assert.Equal(t, []string{"fares"}, flights.Children)

			res, err := f.manager.Validate(ctx, "trip")
			require.NoError(t, err)
			assert.True(t, res.Valid(), res.String())
		})
	}
}

func TestManager_AddWithPromoteSavesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.NewTestContext(t)

	_, err := f.manager.Create(ctx, "Plan a trip", decomposition.WithGraphID("trip"), decomposition.WithID("root"))
	require.NoError(t, err)
	_, _, err = f.manager.AddChild(ctx, "trip", "root", "Book flights", "", nil, decomposition.WithID("flights"))
	require.NoError(t, err)

	before := f.store.Saves()
	_, _, err = f.manager.AddChild(ctx, "trip", "flights", "Compare fares", "", nil, decomposition.WithPromoteParent())
	require.NoError(t, err)
	assert.Equal(t, before+1, f.store.Saves())

	stored, err := f.manager.Get(ctx, "trip")
	require.NoError(t, err)
	assert.True(t, decomposition.Validate(stored).Valid())
}

func TestManager_ImportRejectsInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.NewTestContext(t)

	_, err := f.manager.Import(ctx, []byte(`{"id":"x","rootNodeId":"missing","nodes":[],"originalRequest":"r","status":"processing","createdAt":"2025-01-01T00:00:00Z"}`))
	assert.True(t, domain.IsInvalidInput(err))

	_, err = f.manager.Import(ctx, []byte(`not json`))
	assert.True(t, domain.IsInvalidInput(err))
}

func TestManager_List(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.NewTestContext(t)

	for i := 0; i < 3; i++ {
		_, err := f.manager.Create(ctx, fmt.Sprintf("request %d", i))
		require.NoError(t, err)
	}
	buildLoginPage(t, f.manager)
	_, err := f.manager.Finalize(ctx, "login", domain.GraphStatusError)
	require.NoError(t, err)

	all, err := f.manager.List(ctx, domain.GraphFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	failed, err := f.manager.List(ctx, domain.GraphFilter{Status: []domain.GraphStatus{domain.GraphStatusError}})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "login", failed[0].ID)
}

func TestNewManager_RequiresStore(t *testing.T) {
	_, err := session.NewManager(nil, nil, nil)
	assert.Error(t, err)
}

type recordingLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *recordingLogger) record(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

func (l *recordingLogger) Debug(_ context.Context, msg string, _ ...map[string]interface{}) {
	l.record(msg)
}

func (l *recordingLogger) Info(_ context.Context, msg string, _ ...map[string]interface{}) {
	l.record(msg)
}

func (l *recordingLogger) Warn(_ context.Context, msg string, _ ...map[string]interface{}) {
	l.record(msg)
}

func (l *recordingLogger) Error(_ context.Context, msg string, _ error, _ ...map[string]interface{}) {
	l.record(msg)
}

func TestNewManager_CustomLogger(t *testing.T) {
	logger := &recordingLogger{}
	m, err := session.NewManager(state.NewMemoryStore(), nil, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	ctx := testutil.NewTestContext(t)
	g, err := m.Create(ctx, "Build a login page")
	require.NoError(t, err)
	_, _, err = m.AddChild(ctx, g.ID, g.RootNodeID, "Design form", "", nil)
	require.NoError(t, err)

	logger.mu.Lock()
	defer logger.mu.Unlock()
	assert.Contains(t, logger.messages, "Graph created")
	assert.Contains(t, logger.messages, "Child added")
}
