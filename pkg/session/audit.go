package session

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ncolesummers/request-decomposition/pkg/decomposition"
	"github.com/ncolesummers/request-decomposition/pkg/domain"
)

// DefaultAuditConcurrency is used when Audit is given a non-positive limit
const DefaultAuditConcurrency = 4

// AuditReport is the validation outcome of one stored graph
type AuditReport struct {
	GraphID string
	Status  domain.GraphStatus
	Result  decomposition.ValidationResult
}

// Audit validates every stored graph matching filter with at most concurrency
// validations in flight. Reports follow List order. Graphs deleted while the
// audit runs are skipped.
func (m *Manager) Audit(ctx context.Context, filter domain.GraphFilter, concurrency int) ([]AuditReport, error) {
	if concurrency <= 0 {
		concurrency = DefaultAuditConcurrency
	}

	graphs, err := m.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	reports := make([]AuditReport, len(graphs))
	found := make([]bool, len(graphs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, graph := range graphs {
		i, graph := i, graph
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			res, err := m.Validate(gctx, graph.ID)
			if domain.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			reports[i] = AuditReport{GraphID: graph.ID, Status: graph.Status, Result: res}
			found[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := reports[:0]
	invalid := 0
	for i, r := range reports {
		if !found[i] {
			continue
		}
		if !r.Result.Valid() {
			invalid++
		}
		out = append(out, r)
	}

	m.logger.Info(ctx, "Audit complete", map[string]interface{}{
		"graphs":  len(out),
		"invalid": invalid,
	})
	return out, nil
}
