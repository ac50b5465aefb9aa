package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// graphRecord is the interchange form of a RequestGraph. Nodes travel as
// {id, node} pairs because children order matters but map order does not.
type graphRecord struct {
	ID              string       `json:"id"`
	RootNodeID      string       `json:"rootNodeId"`
	Nodes           []nodeRecord `json:"nodes"`
	OriginalRequest string       `json:"originalRequest"`
	Status          GraphStatus  `json:"status"`
	CreatedAt       time.Time    `json:"createdAt"`
	CompletedAt     *time.Time   `json:"completedAt,omitempty"`
}

type nodeRecord struct {
	ID   string      `json:"id"`
	Node RequestNode `json:"node"`
}

// MarshalJSON encodes the graph in its interchange form
func (g *RequestGraph) MarshalJSON() ([]byte, error) {
	rec := graphRecord{
		ID:              g.ID,
		RootNodeID:      g.RootNodeID,
		Nodes:           make([]nodeRecord, 0, len(g.nodes)),
		OriginalRequest: g.OriginalRequest,
		Status:          g.Status,
		CreatedAt:       g.CreatedAt,
		CompletedAt:     g.CompletedAt,
	}
	for i := range g.nodes {
		n := g.nodes[i]
		if n.Children == nil {
			n.Children = []string{}
		}
		if n.DomainTerms == nil {
			n.DomainTerms = []string{}
		}
		rec.Nodes = append(rec.Nodes, nodeRecord{ID: n.ID, Node: n})
	}
	return json.Marshal(rec)
}

// UnmarshalJSON decodes the interchange form. Structural invariants are not
// enforced so that a decoded graph validates exactly as the original did;
// only duplicate or mismatched node ids are rejected.
func (g *RequestGraph) UnmarshalJSON(data []byte) error {
	var rec graphRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return NewInvalidInput("decode_graph", "malformed graph document").WithCause(err)
	}

	out := NewRequestGraph(rec.ID, rec.RootNodeID, rec.OriginalRequest, rec.CreatedAt)
	out.Status = rec.Status
	out.CompletedAt = rec.CompletedAt
	for _, nr := range rec.Nodes {
		if nr.ID != nr.Node.ID {
			return NewInvalidInput("decode_graph", fmt.Sprintf("pair id %q does not match node id %q", nr.ID, nr.Node.ID))
		}
		if err := out.PutNode(nr.Node); err != nil {
			return err
		}
	}

	*g = *out
	return nil
}

// EncodeGraph renders g as indented interchange JSON
func EncodeGraph(g *RequestGraph) ([]byte, error) {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode graph: %w", err)
	}
	return data, nil
}

// DecodeGraph parses interchange JSON into a new graph
func DecodeGraph(data []byte) (*RequestGraph, error) {
	g := &RequestGraph{}
	if err := json.Unmarshal(data, g); err != nil {
		return nil, err
	}
	return g, nil
}
