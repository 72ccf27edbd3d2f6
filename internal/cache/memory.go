package cache

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is the in-process tier. It is explicitly constructed and
// injected so tests can run isolated instances; there is no package-level
// singleton.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]Entry
	counters map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]Entry),
		counters: make(map[string]int64),
	}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Get(ctx context.Context, namespace, key string) (*Entry, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[storeKey(namespace, key)]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (s *MemoryStore) Set(ctx context.Context, namespace, key string, entry Entry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[storeKey(namespace, key)] = entry
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, namespace, key string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, storeKey(namespace, key))
	return nil
}

func (s *MemoryStore) Scan(ctx context.Context, namespace, prefix string) (map[string]Entry, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()

	nsPrefix := storeKey(namespace, prefix)
	result := make(map[string]Entry)
	for k, v := range s.entries {
		if strings.HasPrefix(k, nsPrefix) {
			result[strings.TrimPrefix(k, storeKey(namespace, ""))] = v
		}
	}
	return result, nil
}

func (s *MemoryStore) Increment(ctx context.Context, namespace, key string, delta int64) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	k := storeKey(namespace, key)
	s.counters[k] += delta
	return s.counters[k], nil
}

func storeKey(namespace, key string) string {
	return "planfold:" + namespace + ":" + key
}
