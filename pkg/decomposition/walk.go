package decomposition

import (
	"github.com/ncolesummers/request-decomposition/pkg/domain"
)

// WalkFunc is called for each visited node with its depth below the root.
// Returning false skips the node's subtree.
type WalkFunc func(node domain.RequestNode, depth int) bool

// Walk visits the tree depth-first in child order, starting at the root.
// Missing children and repeated visits are skipped, so Walk terminates on
// graphs that fail validation.
func Walk(g *domain.RequestGraph, fn WalkFunc) {
	if g == nil {
		return
	}
	visited := make(map[string]bool, g.Len())

	var visit func(id string, depth int)
	visit = func(id string, depth int) {
		if visited[id] {
			return
		}
		node, ok := g.Node(id)
		if !ok {
			return
		}
		visited[id] = true
		if !fn(node, depth) {
			return
		}
		for _, childID := range node.Children {
			visit(childID, depth+1)
		}
	}
	visit(g.RootNodeID, 0)
}

// Leaves returns the atomic nodes reachable from the root, in walk order
func Leaves(g *domain.RequestGraph) []domain.RequestNode {
	var leaves []domain.RequestNode
	Walk(g, func(n domain.RequestNode, _ int) bool {
		if n.Type == domain.NodeTypeAtomic {
			leaves = append(leaves, n)
		}
		return true
	})
	return leaves
}

// Depth returns the number of parent hops between nodeID and the root
func Depth(g *domain.RequestGraph, nodeID string) (int, error) {
	const op = "depth"

	node, ok := g.Node(nodeID)
	if !ok {
		return 0, domain.NewNotFound(op, nodeID, "node not found")
	}

	depth := 0
	seen := map[string]bool{nodeID: true}
	for node.ParentID != nil {
		parentID := *node.ParentID
		if seen[parentID] {
			return 0, domain.NewInvalidState(op, nodeID, "parent chain contains a cycle")
		}
		seen[parentID] = true

		parent, ok := g.Node(parentID)
		if !ok {
			return 0, domain.NewNotFound(op, parentID, "parent node not found")
		}
		node = parent
		depth++
	}
	return depth, nil
}

// Path returns the node ids from the root down to nodeID
func Path(g *domain.RequestGraph, nodeID string) ([]string, error) {
	depth, err := Depth(g, nodeID)
	if err != nil {
		return nil, err
	}

	path := make([]string, depth+1)
	id := nodeID
	for i := depth; i >= 0; i-- {
		path[i] = id
		node, _ := g.Node(id)
		if node.ParentID != nil {
			id = *node.ParentID
		}
	}
	return path, nil
}
