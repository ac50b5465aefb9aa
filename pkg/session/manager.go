// Package session coordinates persisted decomposition sessions: it loads a
// graph, applies one operation from package decomposition, and saves the
// result while holding that graph's lock.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/ncolesummers/request-decomposition/pkg/decomposition"
	"github.com/ncolesummers/request-decomposition/pkg/domain"
	"github.com/ncolesummers/request-decomposition/pkg/observability"
)

const vocabularyLockKey = "\x00vocabulary"

// Option configures a Manager
type Option func(*Manager)

// WithClock sets the time source used for node, term and completion timestamps
func WithClock(clock decomposition.Clock) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithStrictTerms makes AddChild reject terms missing from the vocabulary and
// makes Validate report them.
func WithStrictTerms(strict bool) Option {
	return func(m *Manager) {
		m.strictTerms = strict
	}
}

// WithOperationTimeout bounds each operation, including time spent waiting for the graph lock
func WithOperationTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.timeout = d
	}
}

// Manager serializes operations per graph and persists every result
type Manager struct {
	store     domain.GraphStore
	backend   string
	telemetry *observability.Telemetry
	metrics   *observability.Metrics
	logger    observability.Logger
	tracker   *OperationTracker

	locks  *keyedLocks
	flight singleflight.Group

	clock       decomposition.Clock
	strictTerms bool
	timeout     time.Duration
}

// NewManager creates a manager over store
func NewManager(store domain.GraphStore, telemetry *observability.Telemetry, logger observability.Logger, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if telemetry == nil {
		telemetry = observability.NewNoopTelemetry()
	}
	if logger == nil {
		logger = observability.NewStructuredLogger("session")
	}

	metrics, err := observability.NewMetrics(telemetry.Meter())
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	m := &Manager{
		store:     store,
		backend:   strings.TrimPrefix(fmt.Sprintf("%T", store), "*state."),
		telemetry: telemetry,
		metrics:   metrics,
		logger:    logger,
		tracker:   NewOperationTracker(metrics, logger),
		locks:     newKeyedLocks(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// run wraps fn with tracking, tracing and the operation timeout
func (m *Manager) run(ctx context.Context, op, graphID string, fn func(context.Context) error) error {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	operationID := uuid.NewString()
	m.tracker.RegisterStart(ctx, operationID, op, graphID)

	err := m.telemetry.InstrumentOperation(ctx, op, graphID, fn)
	if err != nil {
		m.tracker.TrackError(ctx, operationID, err)
	} else {
		m.tracker.TrackCompletion(ctx, operationID)
	}
	return err
}

func (m *Manager) load(ctx context.Context, graphID string) (*domain.RequestGraph, error) {
	var g *domain.RequestGraph
	err := m.telemetry.InstrumentStore(ctx, m.backend, "load", graphID, func(ctx context.Context) error {
		var err error
		g, err = m.store.Load(ctx, graphID)
		return err
	})
	return g, err
}

func (m *Manager) save(ctx context.Context, g *domain.RequestGraph) error {
	return m.telemetry.InstrumentStore(ctx, m.backend, "save", g.ID, func(ctx context.Context) error {
		return m.store.Save(ctx, g)
	})
}

// mutate applies fn to the stored graph under its lock and persists the result
func (m *Manager) mutate(ctx context.Context, op, graphID string, fn func(context.Context, *domain.RequestGraph) (*domain.RequestGraph, error)) (*domain.RequestGraph, error) {
	var out *domain.RequestGraph
	err := m.run(ctx, op, graphID, func(ctx context.Context) error {
		unlock, err := m.locks.Lock(ctx, graphID)
		if err != nil {
			return err
		}
		defer unlock()

		g, err := m.load(ctx, graphID)
		if err != nil {
			return err
		}
		next, err := fn(ctx, g)
		if err != nil {
			return err
		}
		if err := m.save(ctx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) nodeOptions(opts []decomposition.NodeOption) []decomposition.NodeOption {
	return append([]decomposition.NodeOption{decomposition.WithClock(m.clock)}, opts...)
}

// Create starts a new session for request
func (m *Manager) Create(ctx context.Context, request string, opts ...decomposition.NodeOption) (*domain.RequestGraph, error) {
	var g *domain.RequestGraph
	var referenced int
	err := m.run(ctx, "create", "", func(ctx context.Context) error {
		created, err := decomposition.CreateGraph(request, m.nodeOptions(opts)...)
		if err != nil {
			return err
		}

		ctx, span := m.telemetry.StartGraphSpan(ctx, created.ID, request)
		defer span.End()

		unlock, err := m.locks.Lock(ctx, created.ID)
		if err != nil {
			return err
		}
		defer unlock()

		if _, err := m.store.Load(ctx, created.ID); err == nil {
			return domain.NewInvalidState("create", created.ID, "graph already exists")
		} else if !domain.IsNotFound(err) {
			return err
		}
		root, _ := created.Root()
		if referenced, err = m.referenceTerms(ctx, "create", root.DomainTerms); err != nil {
			return err
		}
		if err := m.save(ctx, created); err != nil {
			return err
		}
		g = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.metrics.RecordGraphCreated(ctx)
	m.metrics.RecordTermReferences(ctx, referenced)
	m.logger.Info(ctx, "Graph created", map[string]interface{}{
		"graph_id":     g.ID,
		"root_node_id": g.RootNodeID,
	})
	return g, nil
}

// AddChild adds an atomic child under parentID and references its terms in the
// vocabulary. With decomposition.WithPromoteParent an atomic parent is promoted
// in the same locked update, so the store never holds it childless.
func (m *Manager) AddChild(ctx context.Context, graphID, parentID, text, reasoning string, terms []string, opts ...decomposition.NodeOption) (*domain.RequestGraph, string, error) {
	var childID string
	var parentType domain.NodeType
	var referenced int

	g, err := m.mutate(ctx, "add_child", graphID, func(ctx context.Context, g *domain.RequestGraph) (*domain.RequestGraph, error) {
		if parent, ok := g.Node(parentID); ok {
			parentType = parent.Type
		}

		next, id, err := decomposition.AddChild(g, parentID, text, reasoning, terms, m.nodeOptions(opts)...)
		if err != nil {
			return nil, err
		}
		childID = id

		child, _ := next.Node(id)
		referenced, err = m.referenceTerms(ctx, "add_child", child.DomainTerms)
		if err != nil {
			return nil, err
		}
		return next, nil
	})
	if err != nil {
		return nil, "", err
	}

	m.metrics.RecordNodeAdded(ctx, string(parentType))
	m.metrics.RecordTermReferences(ctx, referenced)
	m.logger.Debug(ctx, "Child added", map[string]interface{}{
		"graph_id":  graphID,
		"parent_id": parentID,
		"node_id":   childID,
	})
	return g, childID, nil
}

// referenceTerms bumps usage of the given terms. Unknown terms fail in strict
// mode and are skipped otherwise.
func (m *Manager) referenceTerms(ctx context.Context, op string, terms []string) (int, error) {
	if len(terms) == 0 {
		return 0, nil
	}

	count := 0
	err := m.withVocabulary(ctx, true, func(v *decomposition.Vocabulary) error {
		known := make([]string, 0, len(terms))
		for _, id := range terms {
			if _, ok := v.Term(id); ok {
				known = append(known, id)
			} else if m.strictTerms {
				return domain.NewNotFound(op, id, "domain term not found")
			} else {
				m.logger.Debug(ctx, "Unknown domain term", map[string]interface{}{"term_id": id})
			}
		}
		count = len(known)
		return v.ReferenceAll(known, m.clock())
	})
	return count, err
}

// Promote makes an atomic node intermediate so it can be split further. The
// stored graph fails Validate until the node gains a child; AddChild with
// decomposition.WithPromoteParent does both in one update.
func (m *Manager) Promote(ctx context.Context, graphID, nodeID string) (*domain.RequestGraph, error) {
	return m.mutate(ctx, "promote", graphID, func(_ context.Context, g *domain.RequestGraph) (*domain.RequestGraph, error) {
		return decomposition.Promote(g, nodeID)
	})
}

// MarkAtomic declares a childless node non-divisible
func (m *Manager) MarkAtomic(ctx context.Context, graphID, nodeID string) (*domain.RequestGraph, error) {
	return m.mutate(ctx, "mark_atomic", graphID, func(_ context.Context, g *domain.RequestGraph) (*domain.RequestGraph, error) {
		return decomposition.MarkAtomic(g, nodeID)
	})
}

// RecordAttempt counts one decomposition attempt on a node
func (m *Manager) RecordAttempt(ctx context.Context, graphID, nodeID string) (*domain.RequestGraph, error) {
	return m.mutate(ctx, "record_attempt", graphID, func(_ context.Context, g *domain.RequestGraph) (*domain.RequestGraph, error) {
		return decomposition.RecordAttempt(g, nodeID)
	})
}

// Finalize moves the session to complete or error
func (m *Manager) Finalize(ctx context.Context, graphID string, outcome domain.GraphStatus) (*domain.RequestGraph, error) {
	g, err := m.mutate(ctx, "finalize", graphID, func(_ context.Context, g *domain.RequestGraph) (*domain.RequestGraph, error) {
		return decomposition.Finalize(g, outcome, decomposition.WithClock(m.clock))
	})
	if err != nil {
		return nil, err
	}

	m.metrics.RecordGraphFinalized(ctx, string(outcome))
	m.logger.Info(ctx, "Graph finalized", map[string]interface{}{
		"graph_id": graphID,
		"outcome":  string(outcome),
		"nodes":    g.Len(),
	})
	return g, nil
}

// Validate checks the stored graph's structural invariants
func (m *Manager) Validate(ctx context.Context, graphID string) (decomposition.ValidationResult, error) {
	var res decomposition.ValidationResult
	err := m.run(ctx, "validate", graphID, func(ctx context.Context) error {
		g, err := m.load(ctx, graphID)
		if err != nil {
			return err
		}
		res = decomposition.Validate(g)

		if m.strictTerms {
			return m.withVocabulary(ctx, false, func(v *decomposition.Vocabulary) error {
				res.Violations = append(res.Violations, v.CheckReferences(g)...)
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return decomposition.ValidationResult{}, err
	}

	for _, v := range res.Violations {
		m.metrics.RecordViolation(ctx, string(v.Code))
	}
	if !res.Valid() {
		m.logger.Warn(ctx, "Graph failed validation", map[string]interface{}{
			"graph_id":   graphID,
			"violations": len(res.Violations),
		})
	}
	return res, nil
}

// Get returns the stored graph. Concurrent reads of the same graph share one load.
func (m *Manager) Get(ctx context.Context, graphID string) (*domain.RequestGraph, error) {
	var g *domain.RequestGraph
	err := m.run(ctx, "get", graphID, func(ctx context.Context) error {
		v, err, _ := m.flight.Do(graphID, func() (interface{}, error) {
			return m.load(ctx, graphID)
		})
		if err != nil {
			return err
		}
		g = v.(*domain.RequestGraph).Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// List returns stored graphs matching filter
func (m *Manager) List(ctx context.Context, filter domain.GraphFilter) ([]*domain.RequestGraph, error) {
	var graphs []*domain.RequestGraph
	err := m.run(ctx, "list", "", func(ctx context.Context) error {
		var err error
		graphs, err = m.store.List(ctx, filter)
		return err
	})
	return graphs, err
}

// Delete removes a whole session
func (m *Manager) Delete(ctx context.Context, graphID string) error {
	err := m.run(ctx, "delete", graphID, func(ctx context.Context) error {
		unlock, err := m.locks.Lock(ctx, graphID)
		if err != nil {
			return err
		}
		defer unlock()

		return m.telemetry.InstrumentStore(ctx, m.backend, "delete", graphID, func(ctx context.Context) error {
			return m.store.Delete(ctx, graphID)
		})
	})
	if err == nil {
		m.logger.Info(ctx, "Graph deleted", map[string]interface{}{"graph_id": graphID})
	}
	return err
}

// Export returns the interchange JSON of a stored graph
func (m *Manager) Export(ctx context.Context, graphID string) ([]byte, error) {
	g, err := m.Get(ctx, graphID)
	if err != nil {
		return nil, err
	}
	return domain.EncodeGraph(g)
}

// Import stores a graph from interchange JSON. Structurally invalid graphs and
// IDs already in use are rejected.
func (m *Manager) Import(ctx context.Context, data []byte) (*domain.RequestGraph, error) {
	g, err := domain.DecodeGraph(data)
	if err != nil {
		return nil, err
	}
	if g.ID == "" {
		return nil, domain.NewInvalidInput("import", "graph ID is required")
	}
	if res := decomposition.Validate(g); !res.Valid() {
		return nil, domain.NewInvalidInput("import", "graph is structurally invalid: "+res.String())
	}

	err = m.run(ctx, "import", g.ID, func(ctx context.Context) error {
		unlock, err := m.locks.Lock(ctx, g.ID)
		if err != nil {
			return err
		}
		defer unlock()

		if _, err := m.store.Load(ctx, g.ID); err == nil {
			return domain.NewInvalidState("import", g.ID, "graph already exists")
		} else if !domain.IsNotFound(err) {
			return err
		}
		return m.save(ctx, g)
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info(ctx, "Graph imported", map[string]interface{}{
		"graph_id": g.ID,
		"nodes":    g.Len(),
	})
	return g, nil
}

// withVocabulary loads the vocabulary under its lock, runs fn and saves when write is set
func (m *Manager) withVocabulary(ctx context.Context, write bool, fn func(*decomposition.Vocabulary) error) error {
	unlock, err := m.locks.Lock(ctx, vocabularyLockKey)
	if err != nil {
		return err
	}
	defer unlock()

	v := decomposition.NewVocabulary()
	data, err := m.store.LoadVocabulary(ctx)
	if err != nil {
		return err
	}
	if data != nil {
		if err := json.Unmarshal(data, v); err != nil {
			return err
		}
	}

	if err := fn(v); err != nil {
		return err
	}
	if !write {
		return nil
	}

	encoded, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.store.SaveVocabulary(ctx, encoded)
}

// DefineTerm adds a term to the shared vocabulary
func (m *Manager) DefineTerm(ctx context.Context, term domain.DomainTerm) (domain.DomainTerm, error) {
	var out domain.DomainTerm
	err := m.run(ctx, "define_term", "", func(ctx context.Context) error {
		return m.withVocabulary(ctx, true, func(v *decomposition.Vocabulary) error {
			var err error
			out, err = v.AddTerm(term)
			return err
		})
	})
	if err != nil {
		return domain.DomainTerm{}, err
	}
	m.logger.Info(ctx, "Term defined", map[string]interface{}{"term_id": out.ID, "term": out.Term})
	return out, nil
}

// Relate records a relationship between two existing terms
func (m *Manager) Relate(ctx context.Context, rel domain.ConceptRelationship) (domain.ConceptRelationship, error) {
	var out domain.ConceptRelationship
	err := m.run(ctx, "relate", "", func(ctx context.Context) error {
		return m.withVocabulary(ctx, true, func(v *decomposition.Vocabulary) error {
			var err error
			out, err = v.AddRelationship(rel)
			return err
		})
	})
	if err != nil {
		return domain.ConceptRelationship{}, err
	}
	return out, nil
}

// Terms lists the vocabulary sorted by term
func (m *Manager) Terms(ctx context.Context) ([]domain.DomainTerm, error) {
	var terms []domain.DomainTerm
	err := m.run(ctx, "terms", "", func(ctx context.Context) error {
		return m.withVocabulary(ctx, false, func(v *decomposition.Vocabulary) error {
			terms = v.Terms()
			return nil
		})
	})
	return terms, err
}

// Relationships lists relationships, all of them when termID is empty
func (m *Manager) Relationships(ctx context.Context, termID string) ([]domain.ConceptRelationship, error) {
	var rels []domain.ConceptRelationship
	err := m.run(ctx, "relationships", "", func(ctx context.Context) error {
		return m.withVocabulary(ctx, false, func(v *decomposition.Vocabulary) error {
			if termID == "" {
				rels = v.Relationships()
			} else {
				rels = v.RelationshipsFrom(termID)
			}
			return nil
		})
	})
	return rels, err
}

// ActiveOperations returns the operations currently in flight
func (m *Manager) ActiveOperations() []OperationTracking {
	return m.tracker.GetActiveOperations()
}

// Close closes the underlying store
func (m *Manager) Close() error {
	return m.store.Close()
}
