package decomposition

import (
	"fmt"
	"strings"

	"github.com/ncolesummers/request-decomposition/pkg/domain"
)

// ViolationCode identifies which invariant a graph breaks
type ViolationCode string

const (
	ViolationMissingRoot    ViolationCode = "missing_root"
	ViolationRootType       ViolationCode = "root_type"
	ViolationMultipleRoots  ViolationCode = "multiple_roots"
	ViolationRootHasParent  ViolationCode = "root_has_parent"
	ViolationMissingParent  ViolationCode = "missing_parent"
	ViolationBrokenBackLink ViolationCode = "broken_back_link"
	ViolationMissingChild   ViolationCode = "missing_child"
	ViolationDuplicateChild ViolationCode = "duplicate_child"
	ViolationUnreachable    ViolationCode = "unreachable"
	ViolationCycle          ViolationCode = "cycle"
	ViolationTypeMismatch   ViolationCode = "type_mismatch"
	ViolationMetadataRange  ViolationCode = "metadata_range"
	ViolationStatus         ViolationCode = "status"
	ViolationUnknownTerm    ViolationCode = "unknown_term"
)

// Violation is a single broken invariant
type Violation struct {
	Code    ViolationCode `json:"code"`
	NodeID  string        `json:"node_id,omitempty"`
	Message string        `json:"message"`
}

func (v Violation) String() string {
	if v.NodeID == "" {
		return fmt.Sprintf("%s: %s", v.Code, v.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", v.Code, v.NodeID, v.Message)
}

// ValidationResult lists every violated invariant; it is empty for a valid graph
type ValidationResult struct {
	Violations []Violation `json:"violations"`
}

// Valid reports whether no invariant is violated
func (r ValidationResult) Valid() bool {
	return len(r.Violations) == 0
}

// Has reports whether any violation carries the given code
func (r ValidationResult) Has(code ViolationCode) bool {
	for _, v := range r.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

// Codes returns the distinct violation codes in first-seen order
func (r ValidationResult) Codes() []ViolationCode {
	var codes []ViolationCode
	seen := make(map[ViolationCode]bool)
	for _, v := range r.Violations {
		if !seen[v.Code] {
			seen[v.Code] = true
			codes = append(codes, v.Code)
		}
	}
	return codes
}

func (r ValidationResult) String() string {
	if r.Valid() {
		return "valid"
	}
	parts := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		parts[i] = v.String()
	}
	return strings.Join(parts, "; ")
}

func (r *ValidationResult) add(code ViolationCode, nodeID, format string, args ...interface{}) {
	r.Violations = append(r.Violations, Violation{
		Code:    code,
		NodeID:  nodeID,
		Message: fmt.Sprintf(format, args...),
	})
}

// Validate checks every structural invariant of g
func Validate(g *domain.RequestGraph) ValidationResult {
	var res ValidationResult
	if g == nil {
		res.add(ViolationMissingRoot, "", "graph is nil")
		return res
	}

	validateStatus(g, &res)
	validateRoot(g, &res)

	nodes := g.Nodes()
	for _, n := range nodes {
		validateNode(g, n, &res)
	}

	validateReachability(g, nodes, &res)
	return res
}

func validateStatus(g *domain.RequestGraph, res *ValidationResult) {
	switch {
	case !g.Status.Valid():
		res.add(ViolationStatus, "", "unknown status %q", g.Status)
	case g.Status == domain.GraphStatusProcessing && g.CompletedAt != nil:
		res.add(ViolationStatus, "", "processing graph has completedAt set")
	case g.Status.Terminal() && g.CompletedAt == nil:
		res.add(ViolationStatus, "", "%s graph has no completedAt", g.Status)
	}
}

func validateRoot(g *domain.RequestGraph, res *ValidationResult) {
	root, ok := g.Node(g.RootNodeID)
	if !ok {
		res.add(ViolationMissingRoot, g.RootNodeID, "root node id does not reference a node")
	} else {
		if root.Type != domain.NodeTypeRoot {
			res.add(ViolationRootType, root.ID, "root node has type %q", root.Type)
		}
		if root.ParentID != nil {
			res.add(ViolationRootHasParent, root.ID, "root node references parent %q", *root.ParentID)
		}
	}

	for _, id := range g.NodeIDs() {
		if id == g.RootNodeID {
			continue
		}
		if n, _ := g.Node(id); n.Type == domain.NodeTypeRoot {
			res.add(ViolationMultipleRoots, id, "node has type root but is not the graph root")
		}
	}
}

func validateNode(g *domain.RequestGraph, n domain.RequestNode, res *ValidationResult) {
	if !n.Type.Valid() {
		res.add(ViolationTypeMismatch, n.ID, "unknown node type %q", n.Type)
	}

	switch n.Type {
	case domain.NodeTypeAtomic:
		if len(n.Children) > 0 {
			res.add(ViolationTypeMismatch, n.ID, "atomic node has %d children", len(n.Children))
		}
	case domain.NodeTypeIntermediate:
		if len(n.Children) == 0 {
			res.add(ViolationTypeMismatch, n.ID, "intermediate node has no children")
		}
	}

	if n.Metadata.Complexity < 0 {
		res.add(ViolationMetadataRange, n.ID, "complexity %v is negative", n.Metadata.Complexity)
	}
	if n.Metadata.Confidence < 0 || n.Metadata.Confidence > 1 {
		res.add(ViolationMetadataRange, n.ID, "confidence %v is outside [0,1]", n.Metadata.Confidence)
	}
	if n.Metadata.DecompositionAttempts < 0 {
		res.add(ViolationMetadataRange, n.ID, "decomposition attempts %d is negative", n.Metadata.DecompositionAttempts)
	}

	if n.Type != domain.NodeTypeRoot {
		if n.ParentID == nil {
			res.add(ViolationMissingParent, n.ID, "%s node has no parent", n.Type)
		} else if parent, ok := g.Node(*n.ParentID); !ok {
			res.add(ViolationMissingParent, n.ID, "parent %q does not exist", *n.ParentID)
		} else if !parent.HasChild(n.ID) {
			res.add(ViolationBrokenBackLink, n.ID, "parent %q does not list node as a child", parent.ID)
		}
	}

	seen := make(map[string]bool, len(n.Children))
	for _, childID := range n.Children {
		if seen[childID] {
			res.add(ViolationDuplicateChild, n.ID, "child %q is listed more than once", childID)
			continue
		}
		seen[childID] = true

		child, ok := g.Node(childID)
		if !ok {
			res.add(ViolationMissingChild, n.ID, "child %q does not exist", childID)
			continue
		}
		if child.ParentID == nil || *child.ParentID != n.ID {
			res.add(ViolationBrokenBackLink, n.ID, "child %q does not reference node as its parent", childID)
		}
	}
}

const (
	unvisited = iota
	onStack
	done
)

// validateReachability walks children edges from the root, then from any
// node the root could not reach, so cycles in detached components are
// reported as well as the detachment itself.
func validateReachability(g *domain.RequestGraph, nodes []domain.RequestNode, res *ValidationResult) {
	state := make(map[string]int, len(nodes))
	cyclic := make(map[string]bool)

	var visit func(id string)
	visit = func(id string) {
		state[id] = onStack
		n, _ := g.Node(id)
		for _, childID := range n.Children {
			if !g.HasNode(childID) {
				continue
			}
			switch state[childID] {
			case unvisited:
				visit(childID)
			case onStack:
				if !cyclic[childID] {
					cyclic[childID] = true
					res.add(ViolationCycle, childID, "node %q leads back to %q", id, childID)
				}
			}
		}
		state[id] = done
	}

	if g.HasNode(g.RootNodeID) {
		visit(g.RootNodeID)
	}

	reachable := make(map[string]bool, len(state))
	for id := range state {
		reachable[id] = true
	}

	for _, n := range nodes {
		if !reachable[n.ID] {
			res.add(ViolationUnreachable, n.ID, "node is not reachable from the root")
		}
	}
	for _, n := range nodes {
		if state[n.ID] == unvisited {
			visit(n.ID)
		}
	}
}
