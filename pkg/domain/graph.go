package domain

import (
	"time"
)

// RequestGraph is the container for one decomposition session.
//
// Nodes live in a dense arena with an id → index map; arena order is the
// order in which nodes were added. The graph exclusively owns its nodes:
// accessors hand out deep copies and all writes go through PutNode and
// UpdateNode.
type RequestGraph struct {
	ID              string
	RootNodeID      string
	OriginalRequest string
	Status          GraphStatus
	CreatedAt       time.Time
	CompletedAt     *time.Time

	nodes []RequestNode
	index map[string]int
}

// NewRequestGraph creates an empty graph shell. Nodes are added with PutNode.
func NewRequestGraph(id, rootNodeID, originalRequest string, createdAt time.Time) *RequestGraph {
	return &RequestGraph{
		ID:              id,
		RootNodeID:      rootNodeID,
		OriginalRequest: originalRequest,
		Status:          GraphStatusProcessing,
		CreatedAt:       createdAt,
		index:           make(map[string]int),
	}
}

// Len returns the number of nodes
func (g *RequestGraph) Len() int {
	return len(g.nodes)
}

// HasNode reports whether id is present
func (g *RequestGraph) HasNode(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Node returns a copy of the node with the given id
func (g *RequestGraph) Node(id string) (RequestNode, bool) {
	i, ok := g.index[id]
	if !ok {
		return RequestNode{}, false
	}
	return g.nodes[i].Clone(), true
}

// Root returns a copy of the root node
func (g *RequestGraph) Root() (RequestNode, bool) {
	return g.Node(g.RootNodeID)
}

// NodeIDs returns node ids in arena order
func (g *RequestGraph) NodeIDs() []string {
	ids := make([]string, len(g.nodes))
	for i := range g.nodes {
		ids[i] = g.nodes[i].ID
	}
	return ids
}

// Nodes returns copies of all nodes in arena order
func (g *RequestGraph) Nodes() []RequestNode {
	out := make([]RequestNode, len(g.nodes))
	for i := range g.nodes {
		out[i] = g.nodes[i].Clone()
	}
	return out
}

// PutNode appends a node to the arena. It fails with InvalidInput on an
// empty or duplicate id; no structural checks are made here.
func (g *RequestGraph) PutNode(node RequestNode) error {
	if node.ID == "" {
		return NewInvalidInput("put_node", "node id is required")
	}
	if g.index == nil {
		g.index = make(map[string]int)
	}
	if _, exists := g.index[node.ID]; exists {
		return NewInvalidInput("put_node", "duplicate node id "+node.ID)
	}
	g.index[node.ID] = len(g.nodes)
	g.nodes = append(g.nodes, node.Clone())
	return nil
}

// UpdateNode applies fn to the stored node in place. The node id cannot be changed.
func (g *RequestGraph) UpdateNode(id string, fn func(*RequestNode)) error {
	i, ok := g.index[id]
	if !ok {
		return NewNotFound("update_node", id, "node not found")
	}
	fn(&g.nodes[i])
	g.nodes[i].ID = id
	return nil
}

// Clone returns a deep copy of the graph
func (g *RequestGraph) Clone() *RequestGraph {
	out := &RequestGraph{
		ID:              g.ID,
		RootNodeID:      g.RootNodeID,
		OriginalRequest: g.OriginalRequest,
		Status:          g.Status,
		CreatedAt:       g.CreatedAt,
		nodes:           make([]RequestNode, len(g.nodes)),
		index:           make(map[string]int, len(g.index)),
	}
	if g.CompletedAt != nil {
		t := *g.CompletedAt
		out.CompletedAt = &t
	}
	for i := range g.nodes {
		out.nodes[i] = g.nodes[i].Clone()
	}
	for k, v := range g.index {
		out.index[k] = v
	}
	return out
}

// Summary counts nodes by type
func (g *RequestGraph) Summary() GraphSummary {
	s := GraphSummary{Total: len(g.nodes)}
	for i := range g.nodes {
		switch g.nodes[i].Type {
		case NodeTypeRoot:
			s.Root++
		case NodeTypeIntermediate:
			s.Intermediate++
		case NodeTypeAtomic:
			s.Atomic++
		}
	}
	return s
}
