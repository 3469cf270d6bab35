package presence

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

const memoryKeyPrefix = "session:"

// MemoryStore is an in-process Store backed by go-cache.
type MemoryStore struct {
	cache *cache.Cache
	// guards DeleteIf's read-compare-delete against a concurrent Put
	mu sync.Mutex
}

// NewMemoryStore creates a MemoryStore that purges expired records every
// cleanupInterval.
//
// Parameters:
//   - cleanupInterval: Interval at which expired records are removed
//
// Returns:
//   - A new MemoryStore
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: cache.New(cache.NoExpiration, cleanupInterval),
	}
}

func memoryTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return cache.NoExpiration
	}

	return ttl
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, r Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Set(key(memoryKeyPrefix, r.ID), r, memoryTTL(ttl))
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id uint32) (Record, error) {
	val, found := s.cache.Get(key(memoryKeyPrefix, id))
	if !found {
		return Record{}, ErrNotFound
	}

	r, ok := val.(Record)
	if !ok {
		return Record{}, ErrNotFound
	}

	return r, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Delete(key(memoryKeyPrefix, id))
	return nil
}

// DeleteIf implements Store.
func (s *MemoryStore) DeleteIf(ctx context.Context, id uint32, connID uint32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.Get(ctx, id)
	if err != nil || r.ConnID != connID {
		return false, nil
	}

	s.cache.Delete(key(memoryKeyPrefix, id))
	return true, nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context) ([]Record, error) {
	items := s.cache.Items()
	records := make([]Record, 0, len(items))
	for k, item := range items {
		if !strings.HasPrefix(k, memoryKeyPrefix) {
			continue
		}

		if r, ok := item.Object.(Record); ok {
			records = append(records, r)
		}
	}

	slices.SortFunc(records, func(a, b Record) int { return cmp.Compare(a.ID, b.ID) })
	return records, nil
}

// Count implements Store.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	// ItemCount includes expired records that are not purged yet.
	records, err := s.List(ctx)
	return len(records), err
}
