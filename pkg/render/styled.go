package render

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/ncolesummers/request-decomposition/pkg/domain"
)

var (
	ColorRoot         = lipgloss.Color("#2CD7C7")
	ColorIntermediate = lipgloss.Color("#F4D03F")
	ColorAtomic       = lipgloss.Color("#20B9B4")
	ColorMuted        = lipgloss.Color("#2C4A54")
	ColorError        = lipgloss.Color("#E74C3C")
)

// Styles holds the lipgloss styles used by StyledRenderer
type Styles struct {
	Header       lipgloss.Style
	Root         lipgloss.Style
	Intermediate lipgloss.Style
	Atomic       lipgloss.Style
	Muted        lipgloss.Style
	Problem      lipgloss.Style
}

// DefaultStyles returns the default palette
func DefaultStyles() Styles {
	return Styles{
		Header:       lipgloss.NewStyle().Bold(true).Foreground(ColorRoot),
		Root:         lipgloss.NewStyle().Bold(true).Foreground(ColorRoot),
		Intermediate: lipgloss.NewStyle().Foreground(ColorIntermediate),
		Atomic:       lipgloss.NewStyle().Foreground(ColorAtomic),
		Muted:        lipgloss.NewStyle().Foreground(ColorMuted),
		Problem:      lipgloss.NewStyle().Bold(true).Foreground(ColorError),
	}
}

// StyledRenderer renders the tree coloured by node type
type StyledRenderer struct {
	styles Styles
}

// NewStyledRenderer creates a styled renderer with the default palette
func NewStyledRenderer() *StyledRenderer {
	return &StyledRenderer{styles: DefaultStyles()}
}

// NewStyledRendererWithStyles creates a styled renderer with custom styles
func NewStyledRendererWithStyles(styles Styles) *StyledRenderer {
	return &StyledRenderer{styles: styles}
}

// Name returns the renderer name
func (r *StyledRenderer) Name() string {
	return "styled"
}

// Render renders the graph
func (r *StyledRenderer) Render(graph *domain.RequestGraph) (string, error) {
	s := r.styles
	return renderTree(graph, lineStyle{
		header:    func(t string) string { return s.Header.Render(t) },
		node:      r.node,
		connector: func(t string) string { return s.Muted.Render(t) },
		problem:   func(t string) string { return s.Problem.Render(t) },
	}), nil
}

func (r *StyledRenderer) node(n domain.RequestNode) string {
	var style lipgloss.Style
	switch n.Type {
	case domain.NodeTypeRoot:
		style = r.styles.Root
	case domain.NodeTypeIntermediate:
		style = r.styles.Intermediate
	case domain.NodeTypeAtomic:
		style = r.styles.Atomic
	default:
		style = r.styles.Problem
	}

	line := style.Render(fmt.Sprintf("%s %s", typeIcon(n.Type), n.Text))
	detail := fmt.Sprintf(" %s", n.ID)
	if n.Metadata.Confidence > 0 {
		detail += fmt.Sprintf(" conf=%.2f", n.Metadata.Confidence)
	}
	if n.Metadata.Complexity > 0 {
		detail += fmt.Sprintf(" cx=%g", n.Metadata.Complexity)
	}
	if n.Metadata.DecompositionAttempts > 0 {
		detail += fmt.Sprintf(" attempts=%d", n.Metadata.DecompositionAttempts)
	}
	return line + r.styles.Muted.Render(detail)
}

func typeIcon(t domain.NodeType) string {
	switch t {
	case domain.NodeTypeRoot:
		return "◆"
	case domain.NodeTypeIntermediate:
		return "◇"
	case domain.NodeTypeAtomic:
		return "•"
	default:
		return "?"
	}
}
