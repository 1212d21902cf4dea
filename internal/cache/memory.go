package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/nao1215/jscryptoscan/internal/model"
)

// MemoryStore is a bounded in-process Store with per-entry expiry.
//
// Expired entries are removed lazily when read. When the store is full, an
// insertion first drops every expired entry and, if none expired, the
// oldest inserted one.
type MemoryStore struct {
	mu         sync.Mutex
	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	// order holds *memoryEntry values, oldest insertion at the front.
	order   *list.List
	entries map[string]*list.Element
}

type memoryEntry struct {
	key       string
	value     model.InferenceResult
	expiresAt time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore creates a store holding at most maxEntries results for ttl.
// Non-positive arguments fall back to DefaultMaxEntries and DefaultTTL.
func NewMemoryStore(maxEntries int, ttl time.Duration, opts ...MemoryOption) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &MemoryStore{
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
		order:      list.New(),
		entries:    make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get implements Store. The returned map is a shallow copy.
func (s *MemoryStore) Get(_ context.Context, key string) (model.InferenceResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	e := el.Value.(*memoryEntry) //nolint:forcetypeassert // only *memoryEntry is stored
	if !s.now().Before(e.expiresAt) {
		s.remove(el)
		return nil, false, nil
	}
	return e.value.Clone(), true, nil
}

// Set implements Store. Setting an existing key refreshes its expiry and
// makes it the newest entry.
func (s *MemoryStore) Set(_ context.Context, key string, value model.InferenceResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if el, ok := s.entries[key]; ok {
		s.remove(el)
	}
	if len(s.entries) >= s.maxEntries {
		s.evict(now)
	}

	el := s.order.PushBack(&memoryEntry{
		key:       key,
		value:     value.Clone(),
		expiresAt: now.Add(s.ttl),
	})
	s.entries[key] = el
	return nil
}

// Len returns the number of stored entries, including expired ones not yet
// removed.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// evict frees at least one slot. Caller holds mu.
func (s *MemoryStore) evict(now time.Time) {
	removed := 0
	for el := s.order.Front(); el != nil; {
		next := el.Next()
		if e := el.Value.(*memoryEntry); !now.Before(e.expiresAt) { //nolint:forcetypeassert // only *memoryEntry is stored
			s.remove(el)
			removed++
		}
		el = next
	}
	if removed == 0 {
		if front := s.order.Front(); front != nil {
			s.remove(front)
		}
	}
}

// remove deletes el. Caller holds mu.
func (s *MemoryStore) remove(el *list.Element) {
	e := s.order.Remove(el).(*memoryEntry) //nolint:forcetypeassert // only *memoryEntry is stored
	delete(s.entries, e.key)
}
