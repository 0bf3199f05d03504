// Package cache provides retrieval cache backends: an in-process map, a
// SQLite table and a NATS JetStream key/value bucket. Every backend keeps at
// most one entry per key, replaces entries whole and never returns an
// expired entry.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/ozgurozbekuk/asylumapp/engine/domain"
	"github.com/ozgurozbekuk/asylumapp/engine/retrieval"
)

var (
	_ retrieval.Cache = (*Memory)(nil)
	_ retrieval.Cache = (*SQLite)(nil)
	_ retrieval.Cache = (*JetStream)(nil)
)

// Memory is a mutex-guarded in-process cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[domain.CacheKey]domain.CacheEntry
	now     func() time.Time
}

// NewMemory creates an empty Memory cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[domain.CacheKey]domain.CacheEntry),
		now:     time.Now,
	}
}

// Get returns the live entry stored under key.
func (m *Memory) Get(_ context.Context, key domain.CacheKey) (domain.CacheEntry, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || !e.Live(m.now()) {
		return domain.CacheEntry{}, false, nil
	}
	return clone(e), true, nil
}

// Upsert replaces the entry stored under entry.Key.
func (m *Memory) Upsert(_ context.Context, entry domain.CacheEntry) error {
	m.mu.Lock()
	m.entries[entry.Key] = clone(entry)
	m.mu.Unlock()
	return nil
}

// PurgeExpired drops every entry that is no longer live.
func (m *Memory) PurgeExpired(_ context.Context) (int, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if !e.Live(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

// Clear drops every entry.
func (m *Memory) Clear(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.entries)
	clear(m.entries)
	return n, nil
}

// Len returns the number of stored entries, live or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func clone(e domain.CacheEntry) domain.CacheEntry {
	e.Items = append([]domain.CacheItem(nil), e.Items...)
	return e
}
