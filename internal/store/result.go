// Package store persists terminal filing results and archives filing
// artifacts.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/wolfman30/lca-filing-automation/internal/lca"
)

// ErrNotFound is returned when no result exists for a filing id.
var ErrNotFound = errors.New("store: filing result not found")

// ResultStore saves and loads filing results. Save overwrites any previous
// record with the same filing id.
type ResultStore interface {
	Save(ctx context.Context, res lca.FilingResult) error
	Get(ctx context.Context, filingID string) (lca.FilingResult, error)
	List(ctx context.Context, limit int) ([]lca.FilingResult, error)
}

// MemoryResultStore keeps results in process. It is used in development and
// tests.
type MemoryResultStore struct {
	mu      sync.RWMutex
	results map[string]lca.FilingResult
}

func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{results: make(map[string]lca.FilingResult)}
}

func (m *MemoryResultStore) Save(_ context.Context, res lca.FilingResult) error {
	if res.FilingID == "" {
		return errors.New("store: filing id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[res.FilingID] = res
	return nil
}

func (m *MemoryResultStore) Get(_ context.Context, filingID string) (lca.FilingResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.results[filingID]
	if !ok {
		return lca.FilingResult{}, ErrNotFound
	}
	return res, nil
}

// List returns the most recently started results first.
func (m *MemoryResultStore) List(_ context.Context, limit int) ([]lca.FilingResult, error) {
	m.mu.RLock()
	out := make([]lca.FilingResult, 0, len(m.results))
	for _, r := range m.results {
		out = append(out, r)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
