package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/upb/llm-orchestrator/services/providers"
)

// memoryEntry represents a single cache entry with its expiry
type memoryEntry struct {
	key       string
	resp      providers.Response
	expiresAt time.Time
	element   *list.Element // For LRU tracking
}

// MemoryStore is an in-memory LRU cache with per-entry TTL for responses.
// It is the default store when no Redis address is configured.
// Thread-safe implementation using sync.Mutex.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*memoryEntry
	lruList    *list.List // Doubly linked list for LRU tracking
	maxSize    int
	defaultTTL time.Duration
	hits       uint64
	misses     uint64
}

// NewMemoryStore creates a new MemoryStore with the specified max size and
// default TTL, used when Set is called with a non-positive ttl.
func NewMemoryStore(maxSize int, defaultTTL time.Duration) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 1024
	}
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &MemoryStore{
		entries:    make(map[string]*memoryEntry),
		lruList:    list.New(),
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
	}
}

// Get retrieves a response by fingerprint. Misses and expired entries return
// (nil, nil). Hits come back with the cache-origin flag forced true.
func (s *MemoryStore) Get(ctx context.Context, key string) (*providers.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[key]
	if !exists || time.Now().After(entry.expiresAt) {
		s.misses++
		if exists {
			s.removeEntry(key)
		}
		return nil, nil
	}

	s.lruList.MoveToFront(entry.element)
	s.hits++

	resp := entry.resp
	resp.Cached = true
	return &resp, nil
}

// Set stores a response under the fingerprint. Storing a response that was
// itself a cache hit is a no-op: a cached value is never re-cached.
func (s *MemoryStore) Set(ctx context.Context, key string, resp *providers.Response, ttl time.Duration) error {
	if resp == nil || resp.Cached {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *resp
	stored.Cached = false
	expiresAt := time.Now().Add(ttl)

	if entry, exists := s.entries[key]; exists {
		entry.resp = stored
		entry.expiresAt = expiresAt
		s.lruList.MoveToFront(entry.element)
		return nil
	}

	if len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	entry := &memoryEntry{
		key:       key,
		resp:      stored,
		expiresAt: expiresAt,
	}
	entry.element = s.lruList.PushFront(entry)
	s.entries[key] = entry
	return nil
}

// Stats reports cache performance counters
type Stats struct {
	Size    int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// Stats returns hit/miss statistics
func (s *MemoryStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.hits + s.misses
	rate := 0.0
	if total > 0 {
		rate = float64(s.hits) / float64(total)
	}
	return Stats{
		Size:    len(s.entries),
		Hits:    s.hits,
		Misses:  s.misses,
		HitRate: rate,
	}
}

// removeEntry removes an entry; caller must hold the lock
func (s *MemoryStore) removeEntry(key string) {
	if entry, exists := s.entries[key]; exists {
		s.lruList.Remove(entry.element)
		delete(s.entries, key)
	}
}

// evictOldest removes the least recently used entry; caller must hold the lock
func (s *MemoryStore) evictOldest() {
	oldest := s.lruList.Back()
	if oldest == nil {
		return
	}
	entry := oldest.Value.(*memoryEntry)
	s.removeEntry(entry.key)
}
