package cache

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore is the in-process LRU fallback tier, engaged automatically
// whenever the external store is disconnected. It is eventually consistent
// only with itself; there is no cross-tier synchronization.
type MemoryStore struct {
	lru       *expirable.LRU[string, *Entry]
	mu        sync.Mutex // only needed for DeleteByPrefix atomicity
	evictions atomic.Int64
	maxSize   int
	defaultTTL time.Duration
}

// NewMemoryStore builds a bounded in-process store. Entries set with ttl=0
// use defaultTTL.
func NewMemoryStore(maxSize int, defaultTTL time.Duration) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 1000
	}
	s := &MemoryStore{maxSize: maxSize, defaultTTL: defaultTTL}
	s.lru = expirable.NewLRU[string, *Entry](maxSize, func(string, *Entry) {
		s.evictions.Add(1)
	}, defaultTTL)
	return s
}

func (s *MemoryStore) Get(key string) (*Entry, bool) {
	entry, ok := s.lru.Get(key)
	if ok && !entry.ExpiresAt.IsZero() && time.Now().After(entry.ExpiresAt) {
		s.lru.Remove(key)
		return nil, false
	}
	return entry, ok
}

// Set stores entry. The LRU tier's own sweep uses a fixed per-store TTL
// (defaultTTL, set at construction) as an outer bound; a shorter per-entry
// TTL requested by the caller is additionally enforced by Entry.ExpiresAt so
// the two tiers honor the same effective TTL even though this tier cannot
// vary its eviction timer per key.
func (s *MemoryStore) Set(key string, entry *Entry, ttl time.Duration) {
	if ttl > 0 {
		entry.ExpiresAt = time.Now().Add(ttl)
	}
	s.lru.Add(key, entry)
}

func (s *MemoryStore) Delete(key string) { s.lru.Remove(key) }

func (s *MemoryStore) DeleteByPrefix(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range s.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.lru.Remove(key)
		}
	}
}

func (s *MemoryStore) Purge() { s.lru.Purge() }

func (s *MemoryStore) Stats() StoreStats {
	return StoreStats{Size: s.lru.Len(), MaxSize: s.maxSize, Evictions: s.evictions.Load()}
}
