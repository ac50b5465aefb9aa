package render

import (
	"fmt"
	"strings"

	"github.com/ncolesummers/request-decomposition/pkg/domain"
)

// lineStyle formats the pieces of a tree line
type lineStyle struct {
	header    func(string) string
	node      func(domain.RequestNode) string
	connector func(string) string
	problem   func(string) string
}

var plainStyle = lineStyle{
	header:    func(s string) string { return s },
	node:      plainNode,
	connector: func(s string) string { return s },
	problem:   func(s string) string { return s },
}

func plainNode(n domain.RequestNode) string {
	return fmt.Sprintf("[%s] %s (%s)", n.Type, n.Text, n.ID)
}

// TextRenderer renders a graph as a plain indented tree
type TextRenderer struct{}

// NewTextRenderer creates a text renderer
func NewTextRenderer() *TextRenderer {
	return &TextRenderer{}
}

// Name returns the renderer name
func (r *TextRenderer) Name() string {
	return "text"
}

// Render renders the graph
func (r *TextRenderer) Render(graph *domain.RequestGraph) (string, error) {
	return renderTree(graph, plainStyle), nil
}

func header(graph *domain.RequestGraph) string {
	s := graph.Summary()
	line := fmt.Sprintf("%s [%s] %d nodes (%d intermediate, %d atomic)",
		graph.ID, graph.Status, s.Total, s.Intermediate, s.Atomic)
	if graph.CompletedAt != nil {
		line += " completed " + graph.CompletedAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	return line
}

// renderTree draws the tree from the root. Missing children and repeated
// visits are drawn as markers so broken graphs still render.
func renderTree(graph *domain.RequestGraph, style lineStyle) string {
	var b strings.Builder
	b.WriteString(style.header(header(graph)))
	b.WriteByte('\n')

	root, ok := graph.Root()
	if !ok {
		b.WriteString(style.problem(fmt.Sprintf("<missing root %s>", graph.RootNodeID)))
		b.WriteByte('\n')
		return b.String()
	}

	visited := map[string]bool{root.ID: true}
	b.WriteString(style.node(root))
	b.WriteByte('\n')

	var walk func(n domain.RequestNode, prefix string)
	walk = func(n domain.RequestNode, prefix string) {
		for i, childID := range n.Children {
			last := i == len(n.Children)-1
			branch, indent := "├── ", "│   "
			if last {
				branch, indent = "└── ", "    "
			}

			b.WriteString(style.connector(prefix + branch))
			child, ok := graph.Node(childID)
			switch {
			case !ok:
				b.WriteString(style.problem(fmt.Sprintf("<missing %s>", childID)))
				b.WriteByte('\n')
			case visited[childID]:
				b.WriteString(style.problem(fmt.Sprintf("<cycle %s>", childID)))
				b.WriteByte('\n')
			default:
				visited[childID] = true
				b.WriteString(style.node(child))
				b.WriteByte('\n')
				walk(child, prefix+indent)
			}
		}
	}
	walk(root, "")

	return b.String()
}
