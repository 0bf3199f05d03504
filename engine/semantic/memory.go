package semantic

import (
	"context"
	"slices"
	"sync"

	"github.com/ozgurozbekuk/asylumapp/engine/domain"
	"github.com/ozgurozbekuk/asylumapp/engine/retrieval"
)

// MemoryStore is an in-process chunk store for tests and local runs.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks map[string]domain.Chunk
	order  []string
}

// NewMemoryStore creates a MemoryStore holding chunks.
func NewMemoryStore(chunks ...domain.Chunk) *MemoryStore {
	m := &MemoryStore{chunks: make(map[string]domain.Chunk)}
	_ = m.Upsert(context.Background(), chunks)
	return m
}

// Upsert inserts or replaces chunks by id.
func (m *MemoryStore) Upsert(_ context.Context, chunks []domain.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		if _, ok := m.chunks[c.ID]; !ok {
			m.order = append(m.order, c.ID)
		}
		c.Embedding = slices.Clone(c.Embedding)
		m.chunks[c.ID] = c
	}
	return nil
}

// Find returns the chunks matching f in insertion order.
func (m *MemoryStore) Find(ctx context.Context, f retrieval.ChunkFilter) ([]domain.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Chunk
	for _, id := range m.order {
		if c := m.chunks[id]; f.Matches(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Each passes every chunk of sector to fn in a single batch.
func (m *MemoryStore) Each(ctx context.Context, sector string, fn func([]domain.Chunk) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	var batch []domain.Chunk
	for _, id := range m.order {
		if c := m.chunks[id]; c.Sector == sector {
			batch = append(batch, c)
		}
	}
	m.mu.RUnlock()
	if len(batch) == 0 {
		return nil
	}
	return fn(batch)
}
