package domain

import (
	"context"
	"time"
)

// GraphStore persists decomposition sessions and the shared term vocabulary
type GraphStore interface {
	// Save stores a graph, replacing any previous version with the same ID
	Save(ctx context.Context, graph *RequestGraph) error

	// Load retrieves a graph by ID
	Load(ctx context.Context, graphID string) (*RequestGraph, error)

	// Delete removes a whole graph
	Delete(ctx context.Context, graphID string) error

	// List lists graphs matching the filter
	List(ctx context.Context, filter GraphFilter) ([]*RequestGraph, error)

	// SaveVocabulary stores the encoded vocabulary document
	SaveVocabulary(ctx context.Context, data []byte) error

	// LoadVocabulary returns the encoded vocabulary document, or nil if none was saved
	LoadVocabulary(ctx context.Context) ([]byte, error)

	// Close releases the store's resources
	Close() error
}

// Renderer turns a graph into a display representation without mutating it
type Renderer interface {
	// Name returns the renderer name
	Name() string

	// Render renders the graph
	Render(graph *RequestGraph) (string, error)
}

// GraphFilter provides filtering options for graph queries
type GraphFilter struct {
	GraphIDs  []string      `json:"graph_ids,omitempty"`
	Status    []GraphStatus `json:"status,omitempty"`
	StartTime *time.Time    `json:"start_time,omitempty"`
	EndTime   *time.Time    `json:"end_time,omitempty"`
	Limit     int           `json:"limit,omitempty"`
}

// Matches reports whether g passes the filter, ignoring Limit
func (f GraphFilter) Matches(g *RequestGraph) bool {
	if len(f.GraphIDs) > 0 {
		found := false
		for _, id := range f.GraphIDs {
			if g.ID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(f.Status) > 0 {
		found := false
		for _, s := range f.Status {
			if g.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if f.StartTime != nil && g.CreatedAt.Before(*f.StartTime) {
		return false
	}

	if f.EndTime != nil && g.CreatedAt.After(*f.EndTime) {
		return false
	}

	return true
}
