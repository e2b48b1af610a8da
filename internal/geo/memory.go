package geo

import (
	"context"
	"sync"

	"shopqueue-backend/internal/model"
)

// MemoryIndex keeps provider locations in process. It backs the "memory" geo
// backend for local development and is safe for concurrent use.
type MemoryIndex struct {
	mu        sync.RWMutex
	providers map[int64]model.Provider
}

// NewMemoryIndex creates an index seeded with providers.
func NewMemoryIndex(providers ...model.Provider) *MemoryIndex {
	idx := &MemoryIndex{providers: make(map[int64]model.Provider, len(providers))}
	for _, p := range providers {
		idx.Put(p)
	}
	return idx
}

// Put adds or replaces a provider. Disabled providers are removed instead.
func (m *MemoryIndex) Put(p model.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Disabled {
		delete(m.providers, p.ID)
		return
	}
	m.providers[p.ID] = p
}

// Remove drops a provider from the index.
func (m *MemoryIndex) Remove(providerID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.providers, providerID)
}

// QueryNearby returns providers within the area, nearest first.
func (m *MemoryIndex) QueryNearby(ctx context.Context, lat, lng float64, area Area) ([]Hit, error) {
	if err := validateQuery(lat, lng, area); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	hits := make([]Hit, 0)
	for _, p := range m.providers {
		d := Distance(lat, lng, p.Latitude, p.Longitude)
		if d <= area.Meters() {
			hits = append(hits, Hit{Provider: p, DistanceMeters: d})
		}
	}
	m.mu.RUnlock()

	sortHits(hits)
	return hits, nil
}
