package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/fxnews-crawler/internal/respcache"
)

// MetaStore holds response validators per request shape until they expire.
type MetaStore struct {
	mu   sync.Mutex
	data map[string]respcache.Meta
	now  func() time.Time
}

// NewMetaStore creates an empty store. A nil now uses time.Now.
func NewMetaStore(now func() time.Time) *MetaStore {
	if now == nil {
		now = time.Now
	}
	return &MetaStore{data: make(map[string]respcache.Meta), now: now}
}

// Get returns the unexpired entry for key.
func (s *MetaStore) Get(_ context.Context, key string) (respcache.Meta, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.data[key]
	if !ok {
		return respcache.Meta{}, false, nil
	}
	if !meta.ExpiresAt.After(s.now()) {
		delete(s.data, key)
		return respcache.Meta{}, false, nil
	}
	return meta, true, nil
}

// Put stores meta under key, replacing any previous entry.
func (s *MetaStore) Put(_ context.Context, key string, meta respcache.Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = meta
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (s *MetaStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for k, meta := range s.data {
		if !meta.ExpiresAt.After(now) {
			delete(s.data, k)
			removed++
		}
	}
	return removed
}
