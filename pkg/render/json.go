package render

import (
	"github.com/ncolesummers/request-decomposition/pkg/domain"
)

// JSONRenderer renders the interchange JSON document
type JSONRenderer struct{}

// NewJSONRenderer creates a JSON renderer
func NewJSONRenderer() *JSONRenderer {
	return &JSONRenderer{}
}

// Name returns the renderer name
func (r *JSONRenderer) Name() string {
	return "json"
}

// Render renders the graph
func (r *JSONRenderer) Render(graph *domain.RequestGraph) (string, error) {
	data, err := domain.EncodeGraph(graph)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
