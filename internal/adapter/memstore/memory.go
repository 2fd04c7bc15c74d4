package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"mmrag/internal/adapter/store"
	"mmrag/internal/domain"
	"mmrag/internal/port"
)

type collection struct {
	dim     int
	records map[string]domain.Record
	order   []string // insertion order, for ScanByType
}

// MemoryStore is a process-local port.VectorStore. Nothing survives Close.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

var _ port.VectorStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]*collection),
	}
}

func (s *MemoryStore) EnsureCollection(_ context.Context, name string, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		if c.dim != dim {
			return fmt.Errorf("%w: collection %s has %d, requested %d", domain.ErrDimensionMismatch, name, c.dim, dim)
		}
		return nil
	}
	s.collections[name] = &collection{dim: dim, records: make(map[string]domain.Record)}
	return nil
}

func (s *MemoryStore) get(name string) (*collection, error) {
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	return c, nil
}

func (s *MemoryStore) Upsert(_ context.Context, name string, rec domain.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.get(name)
	if err != nil {
		return err
	}
	if len(rec.Vector) != c.dim {
		return fmt.Errorf("%w: expected %d, got %d", domain.ErrDimensionMismatch, c.dim, len(rec.Vector))
	}
	if _, exists := c.records[rec.ID]; !exists {
		c.order = append(c.order, rec.ID)
	}
	c.records[rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, name, id string) (domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.get(name)
	if err != nil {
		return domain.Record{}, err
	}
	rec, ok := c.records[id]
	if !ok {
		return domain.Record{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Search(_ context.Context, name string, query []float32, topK int, filter domain.RecordType) ([]domain.ScoredRecord, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: got %d", domain.ErrInvalidTopK, topK)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.get(name)
	if err != nil {
		return nil, err
	}
	if len(query) != c.dim {
		return nil, fmt.Errorf("%w: query expected %d, got %d", domain.ErrDimensionMismatch, c.dim, len(query))
	}

	candidates := make([]domain.Record, 0, len(c.records))
	for _, rec := range c.records {
		if filter == "" || rec.Type == filter {
			candidates = append(candidates, rec)
		}
	}
	return store.CloneHits(store.RankTopK(query, candidates, topK)), nil
}

func (s *MemoryStore) ScanByType(_ context.Context, name string, t domain.RecordType, limit int) ([]domain.Record, error) {
	if limit <= 0 {
		limit = port.DefaultScanLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.get(name)
	if err != nil {
		return nil, err
	}

	var out []domain.Record
	for _, id := range c.order {
		if len(out) == limit {
			break
		}
		if rec := c.records[id]; rec.Type == t {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteByType(_ context.Context, name string, t domain.RecordType) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.get(name)
	if err != nil {
		return 0, err
	}

	kept := c.order[:0]
	deleted := 0
	for _, id := range c.order {
		if c.records[id].Type == t {
			delete(c.records, id)
			deleted++
			continue
		}
		kept = append(kept, id)
	}
	c.order = kept
	return deleted, nil
}

// Collections lists collection names, sorted.
func (s *MemoryStore) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *MemoryStore) Close() error {
	return nil
}
