// Package render turns request graphs into display output. Renderers never
// modify the graph they are given.
package render

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ncolesummers/request-decomposition/pkg/domain"
)

// Registry holds named renderers
type Registry struct {
	mu        sync.RWMutex
	renderers map[string]domain.Renderer
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		renderers: make(map[string]domain.Renderer),
	}
}

// NewDefaultRegistry returns a registry with the text, styled and json renderers
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, renderer := range []domain.Renderer{NewTextRenderer(), NewStyledRenderer(), NewJSONRenderer()} {
		// names are distinct, so registration cannot fail
		_ = r.Register(renderer)
	}
	return r
}

// Register registers a new renderer
func (r *Registry) Register(renderer domain.Renderer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if renderer == nil {
		return fmt.Errorf("renderer cannot be nil")
	}

	name := renderer.Name()
	if name == "" {
		return fmt.Errorf("renderer name cannot be empty")
	}

	if _, exists := r.renderers[name]; exists {
		return fmt.Errorf("renderer %s already registered", name)
	}

	r.renderers[name] = renderer
	return nil
}

// Get retrieves a renderer by name
func (r *Registry) Get(name string) (domain.Renderer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	renderer, exists := r.renderers[name]
	if !exists {
		return nil, domain.NewNotFound("render", name, "renderer not found")
	}

	return renderer, nil
}

// Names returns the registered renderer names in order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.renderers))
	for name := range r.renderers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render renders graph with the named renderer
func (r *Registry) Render(name string, graph *domain.RequestGraph) (string, error) {
	renderer, err := r.Get(name)
	if err != nil {
		return "", err
	}
	if graph == nil {
		return "", domain.NewInvalidInput("render", "graph is nil")
	}
	return renderer.Render(graph)
}
