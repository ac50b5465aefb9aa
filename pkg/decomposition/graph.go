// Package decomposition implements the construction and validation
// operations over request decomposition graphs.
//
// Every operation is a pure transformation: the input graph is never
// modified, a failed call returns the error and no graph, and a successful
// call returns a new graph value. Callers that share a graph between
// goroutines must serialize access themselves.
package decomposition

import (
	"strings"

	"github.com/google/uuid"

	"github.com/ncolesummers/request-decomposition/pkg/domain"
)

// CreateGraph allocates a new session whose root node holds originalRequest
func CreateGraph(originalRequest string, opts ...NodeOption) (*domain.RequestGraph, error) {
	const op = "create_graph"

	if strings.TrimSpace(originalRequest) == "" {
		return nil, domain.NewInvalidInput(op, "original request is empty")
	}

	o := applyOptions(opts)
	if err := validateNodeInput(op, originalRequest, o.metadata); err != nil {
		return nil, err
	}

	graphID := o.graphID
	if graphID == "" {
		graphID = uuid.NewString()
	}

	now := o.clock()
	rootID := o.nodeID()
	g := domain.NewRequestGraph(graphID, rootID, originalRequest, now)

	root := domain.RequestNode{
		ID:          rootID,
		Text:        originalRequest,
		Type:        domain.NodeTypeRoot,
		Children:    []string{},
		Reasoning:   o.reasoning,
		DomainTerms: dedupe(o.domainTerms),
		CreatedAt:   now,
		Metadata:    o.metadata,
	}
	if err := g.PutNode(root); err != nil {
		return nil, err
	}

	return g, nil
}

// AddChild appends a new atomic child to parentID and returns the new graph
// with the child's id. An atomic parent is rejected unless WithPromoteParent
// is given, in which case it is promoted to intermediate in the same step.
func AddChild(g *domain.RequestGraph, parentID, text, reasoning string, domainTerms []string, opts ...NodeOption) (*domain.RequestGraph, string, error) {
	const op = "add_child"

	if err := requireProcessing(op, g); err != nil {
		return nil, "", err
	}

	parent, ok := g.Node(parentID)
	if !ok {
		return nil, "", domain.NewNotFound(op, parentID, "parent node not found")
	}
	o := applyOptions(opts)
	if parent.Type == domain.NodeTypeAtomic && !o.promoteParent {
		return nil, "", domain.NewInvalidState(op, parentID, "atomic nodes cannot gain children")
	}

	if err := validateNodeInput(op, text, o.metadata); err != nil {
		return nil, "", err
	}

	childID := o.nodeID()
	if g.HasNode(childID) {
		return nil, "", domain.NewInvalidInput(op, "node id "+childID+" already exists")
	}

	pid := parentID
	child := domain.RequestNode{
		ID:          childID,
		Text:        text,
		Type:        domain.NodeTypeAtomic,
		ParentID:    &pid,
		Children:    []string{},
		Reasoning:   reasoning,
		DomainTerms: dedupe(domainTerms),
		CreatedAt:   o.clock(),
		Metadata:    o.metadata,
	}

	out := g.Clone()
	if err := out.PutNode(child); err != nil {
		return nil, "", err
	}
	if err := out.UpdateNode(parentID, func(n *domain.RequestNode) {
		if n.Type == domain.NodeTypeAtomic {
			n.Type = domain.NodeTypeIntermediate
		}
		n.Children = append(n.Children, childID)
	}); err != nil {
		return nil, "", err
	}

	return out, childID, nil
}

// Promote reclassifies an atomic, non-root node as intermediate so that it
// can be split further with AddChild. Until that child is added the graph
// fails Validate with ViolationTypeMismatch, so callers that persist graphs
// should prefer AddChild with WithPromoteParent.
func Promote(g *domain.RequestGraph, nodeID string) (*domain.RequestGraph, error) {
	const op = "promote"

	if err := requireProcessing(op, g); err != nil {
		return nil, err
	}

	node, ok := g.Node(nodeID)
	if !ok {
		return nil, domain.NewNotFound(op, nodeID, "node not found")
	}
	if node.Type != domain.NodeTypeAtomic {
		return nil, domain.NewInvalidState(op, nodeID, "only atomic nodes can be promoted, node is "+string(node.Type))
	}

	out := g.Clone()
	if err := out.UpdateNode(nodeID, func(n *domain.RequestNode) {
		n.Type = domain.NodeTypeIntermediate
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkAtomic declares a childless node non-divisible
func MarkAtomic(g *domain.RequestGraph, nodeID string) (*domain.RequestGraph, error) {
	const op = "mark_atomic"

	if err := requireProcessing(op, g); err != nil {
		return nil, err
	}

	node, ok := g.Node(nodeID)
	if !ok {
		return nil, domain.NewNotFound(op, nodeID, "node not found")
	}
	if len(node.Children) > 0 {
		return nil, domain.NewInvalidState(op, nodeID, "node has children")
	}
	if node.Type == domain.NodeTypeRoot {
		return nil, domain.NewInvalidState(op, nodeID, "the root node cannot be reclassified")
	}

	out := g.Clone()
	if err := out.UpdateNode(nodeID, func(n *domain.RequestNode) {
		n.Type = domain.NodeTypeAtomic
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// RecordAttempt increments a node's decomposition attempt counter
func RecordAttempt(g *domain.RequestGraph, nodeID string) (*domain.RequestGraph, error) {
	const op = "record_attempt"

	if err := requireProcessing(op, g); err != nil {
		return nil, err
	}
	if !g.HasNode(nodeID) {
		return nil, domain.NewNotFound(op, nodeID, "node not found")
	}

	out := g.Clone()
	if err := out.UpdateNode(nodeID, func(n *domain.RequestNode) {
		n.Metadata.DecompositionAttempts++
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// Finalize moves a processing graph to complete or error. The transition
// happens once; CompletedAt is set at that moment.
func Finalize(g *domain.RequestGraph, outcome domain.GraphStatus, opts ...NodeOption) (*domain.RequestGraph, error) {
	const op = "finalize"

	if outcome != domain.GraphStatusComplete && outcome != domain.GraphStatusError {
		return nil, domain.NewInvalidInput(op, "outcome must be complete or error, got "+string(outcome))
	}
	if err := requireProcessing(op, g); err != nil {
		return nil, err
	}

	o := applyOptions(opts)
	now := o.clock()

	out := g.Clone()
	out.Status = outcome
	out.CompletedAt = &now
	return out, nil
}

func requireProcessing(op string, g *domain.RequestGraph) error {
	if g == nil {
		return domain.NewInvalidInput(op, "graph is nil")
	}
	if g.Status != domain.GraphStatusProcessing {
		return domain.NewInvalidState(op, g.ID, "graph is "+string(g.Status))
	}
	return nil
}
