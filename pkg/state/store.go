package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ncolesummers/request-decomposition/pkg/domain"
)

const (
	graphKeyPrefix = "graph/"
	vocabularyKey  = "vocabulary"
	fileSuffix     = ".json"
)

func graphKey(graphID string) string {
	return graphKeyPrefix + graphID
}

func requireID(op string, graph *domain.RequestGraph) error {
	if graph == nil {
		return domain.NewInvalidInput(op, "graph is required")
	}
	if graph.ID == "" {
		return domain.NewInvalidInput(op, "graph ID is required")
	}
	return nil
}

// applyFilter keeps matching graphs ordered by creation time then ID and applies the limit
func applyFilter(graphs []*domain.RequestGraph, filter domain.GraphFilter) []*domain.RequestGraph {
	results := make([]*domain.RequestGraph, 0, len(graphs))
	for _, g := range graphs {
		if filter.Matches(g) {
			results = append(results, g)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.Before(results[j].CreatedAt)
		}
		return results[i].ID < results[j].ID
	})

	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results
}

// MemoryStore is an in-memory implementation of GraphStore. Graphs are held
// encoded so callers never share nodes with the store.
type MemoryStore struct {
	mu         sync.RWMutex
	graphs     map[string][]byte
	vocabulary []byte
}

// NewMemoryStore creates a new in-memory graph store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		graphs: make(map[string][]byte),
	}
}

// Save saves the current graph
func (m *MemoryStore) Save(ctx context.Context, graph *domain.RequestGraph) error {
	if err := requireID("save", graph); err != nil {
		return err
	}

	data, err := domain.EncodeGraph(graph)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.graphs[graph.ID] = data
	return nil
}

// Load loads a graph by ID
func (m *MemoryStore) Load(ctx context.Context, graphID string) (*domain.RequestGraph, error) {
	m.mu.RLock()
	data, exists := m.graphs[graphID]
	m.mu.RUnlock()

	if !exists {
		return nil, domain.NewNotFound("load", graphID, "graph not found")
	}
	return domain.DecodeGraph(data)
}

// Delete removes a graph
func (m *MemoryStore) Delete(ctx context.Context, graphID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.graphs[graphID]; !exists {
		return domain.NewNotFound("delete", graphID, "graph not found")
	}
	delete(m.graphs, graphID)
	return nil
}

// List lists graphs with filtering
func (m *MemoryStore) List(ctx context.Context, filter domain.GraphFilter) ([]*domain.RequestGraph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	graphs := make([]*domain.RequestGraph, 0, len(m.graphs))
	for _, data := range m.graphs {
		g, err := domain.DecodeGraph(data)
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, g)
	}
	return applyFilter(graphs, filter), nil
}

// SaveVocabulary stores the encoded vocabulary
func (m *MemoryStore) SaveVocabulary(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vocabulary = append([]byte(nil), data...)
	return nil
}

// LoadVocabulary returns the encoded vocabulary or nil
func (m *MemoryStore) LoadVocabulary(ctx context.Context) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.vocabulary == nil {
		return nil, nil
	}
	return append([]byte(nil), m.vocabulary...), nil
}

// Close is a no-op for the memory store
func (m *MemoryStore) Close() error {
	return nil
}

// FileStore is a file-based implementation of GraphStore. Each graph is one
// JSON document under baseDir/graphs.
type FileStore struct {
	mu      sync.RWMutex
	baseDir string
}

// NewFileStore creates a new file-based graph store, creating the directory layout
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, "graphs"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{
		baseDir: baseDir,
	}, nil
}

func (f *FileStore) graphPath(graphID string) (string, error) {
	if graphID == "" || strings.ContainsAny(graphID, `/\`) || graphID == "." || graphID == ".." {
		return "", domain.NewInvalidInput("file_store", fmt.Sprintf("graph ID %q cannot be used as a file name", graphID))
	}
	return filepath.Join(f.baseDir, "graphs", graphID+fileSuffix), nil
}

// writeAtomic writes through a temp file and rename so readers never see a partial document
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Save saves the graph to a file
func (f *FileStore) Save(ctx context.Context, graph *domain.RequestGraph) error {
	if err := requireID("save", graph); err != nil {
		return err
	}
	path, err := f.graphPath(graph.ID)
	if err != nil {
		return err
	}

	data, err := domain.EncodeGraph(graph)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write graph %s: %w", graph.ID, err)
	}
	return nil
}

// Load loads a graph from its file
func (f *FileStore) Load(ctx context.Context, graphID string) (*domain.RequestGraph, error) {
	path, err := f.graphPath(graphID)
	if err != nil {
		return nil, err
	}

	f.mu.RLock()
	data, err := os.ReadFile(path)
	f.mu.RUnlock()

	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.NewNotFound("load", graphID, "graph not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read graph %s: %w", graphID, err)
	}
	return domain.DecodeGraph(data)
}

// Delete removes the graph file
func (f *FileStore) Delete(ctx context.Context, graphID string) error {
	path, err := f.graphPath(graphID)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.NewNotFound("delete", graphID, "graph not found")
	}
	return err
}

// List reads every graph file and filters them
func (f *FileStore) List(ctx context.Context, filter domain.GraphFilter) ([]*domain.RequestGraph, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(f.baseDir, "graphs"))
	if err != nil {
		return nil, fmt.Errorf("failed to list graphs: %w", err)
	}

	var graphs []*domain.RequestGraph
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := os.ReadFile(filepath.Join(f.baseDir, "graphs", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}
		g, err := domain.DecodeGraph(data)
		if err != nil {
			return nil, fmt.Errorf("corrupt graph file %s: %w", entry.Name(), err)
		}
		graphs = append(graphs, g)
	}
	return applyFilter(graphs, filter), nil
}

// SaveVocabulary writes the vocabulary document
func (f *FileStore) SaveVocabulary(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return writeAtomic(filepath.Join(f.baseDir, vocabularyKey+fileSuffix), data)
}

// LoadVocabulary reads the vocabulary document, or nil if absent
func (f *FileStore) LoadVocabulary(ctx context.Context) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(f.baseDir, vocabularyKey+fileSuffix))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// Close is a no-op for the file store
func (f *FileStore) Close() error {
	return nil
}
