// Package depot stores material graphs and serves them to the technique
// cache by id.
//
// Memory keeps graphs built in code. Dir loads YAML graph documents from a
// directory and re-reads them after Forget, which a file watcher calls
// when documents change on disk.
package depot

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/matgraph/graph"
)

// Memory is an in-memory graph store.
//
// Memory is safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	graphs map[graph.GraphID]*graph.Graph
}

// NewMemory creates a store holding graphs.
func NewMemory(graphs ...*graph.Graph) *Memory {
	m := &Memory{graphs: make(map[graph.GraphID]*graph.Graph, len(graphs))}
	for _, g := range graphs {
		m.graphs[g.ID()] = g
	}
	return m
}

// Put adds or replaces g.
func (m *Memory) Put(g *graph.Graph) {
	m.mu.Lock()
	m.graphs[g.ID()] = g
	m.mu.Unlock()
}

// Remove deletes the graph with the given id and reports whether it existed.
func (m *Memory) Remove(id graph.GraphID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.graphs[id]
	delete(m.graphs, id)
	return ok
}

// Graph returns the graph with the given id.
func (m *Memory) Graph(_ context.Context, id graph.GraphID) (*graph.Graph, error) {
	m.mu.RLock()
	g, ok := m.graphs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return g, nil
}

// IDs returns the stored graph ids, sorted.
func (m *Memory) IDs() []graph.GraphID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]graph.GraphID, 0, len(m.graphs))
	for id := range m.graphs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
