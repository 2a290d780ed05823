package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/starford/codex/internal/apperr"
)

// Memory implements Backend in process memory. It is meant for tests and
// for throwaway instances.
type Memory struct {
	mu      sync.RWMutex
	records map[string]map[string][]byte
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{records: map[string]map[string][]byte{}}
}

// Load implements Backend.
func (m *Memory) Load(_ context.Context, scope, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.records[scope][id]
	if !ok {
		return nil, fmt.Errorf("storage: %s/%s: %w", scope, id, apperr.ErrNotFound)
	}
	return slices.Clone(data), nil
}

// Store implements Backend.
func (m *Memory) Store(_ context.Context, scope, id string, data []byte) error {
	if err := checkKey(scope, id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[scope] == nil {
		m.records[scope] = map[string][]byte{}
	}
	m.records[scope][id] = slices.Clone(data)
	return nil
}

// Delete implements Backend.
func (m *Memory) Delete(_ context.Context, scope, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records[scope], id)
	return nil
}

// List implements Backend.
func (m *Memory) List(_ context.Context, scope string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.records[scope]))
	for id := range m.records[scope] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Close implements Backend.
func (m *Memory) Close() error { return nil }
