package testutil

import (
	"context"
	"sync"

	"github.com/ncolesummers/request-decomposition/pkg/domain"
)

// MockGraphStore wraps a GraphStore and can inject failures or block saves
type MockGraphStore struct {
	domain.GraphStore

	mu        sync.Mutex
	SaveErr   error
	LoadErr   error
	SaveCalls int

	// SaveGate, when set, is received from before every save
	SaveGate chan struct{}
}

// NewMockGraphStore wraps inner
func NewMockGraphStore(inner domain.GraphStore) *MockGraphStore {
	return &MockGraphStore{GraphStore: inner}
}

// Save records the call and returns SaveErr when set
func (m *MockGraphStore) Save(ctx context.Context, graph *domain.RequestGraph) error {
	m.mu.Lock()
	m.SaveCalls++
	err := m.SaveErr
	gate := m.SaveGate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	return m.GraphStore.Save(ctx, graph)
}

// Load returns LoadErr when set
func (m *MockGraphStore) Load(ctx context.Context, graphID string) (*domain.RequestGraph, error) {
	m.mu.Lock()
	err := m.LoadErr
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return m.GraphStore.Load(ctx, graphID)
}

// SetSaveErr changes the injected save error
func (m *MockGraphStore) SetSaveErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveErr = err
}

// Saves returns the number of Save calls
func (m *MockGraphStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SaveCalls
}
