package memory

import (
	"sync"

	"github.com/JakeFAU/fxnews-crawler/internal/crawler"
)

// ValidatorStore keeps upstream ETag/Last-Modified per feed URL for the life of the process.
type ValidatorStore struct {
	mu   sync.RWMutex
	data map[string]crawler.FeedValidators
}

// NewValidatorStore creates an empty store.
func NewValidatorStore() *ValidatorStore {
	return &ValidatorStore{data: make(map[string]crawler.FeedValidators)}
}

// Get returns the validators stored for feedURL.
func (s *ValidatorStore) Get(feedURL string) (crawler.FeedValidators, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[feedURL]
	return v, ok
}

// Put merges v into the entry for feedURL. Empty fields keep the previously stored value.
func (s *ValidatorStore) Put(feedURL string, v crawler.FeedValidators) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.data[feedURL]
	if v.ETag != "" {
		cur.ETag = v.ETag
	}
	if v.LastModified != "" {
		cur.LastModified = v.LastModified
	}
	if cur.ETag == "" && cur.LastModified == "" {
		return
	}
	s.data[feedURL] = cur
}

// Len reports how many feeds have validators.
func (s *ValidatorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
