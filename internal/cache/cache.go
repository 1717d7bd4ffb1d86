// Package cache provides the process-local TTL store that fronts the remote
// balance authority. Entries are keyed by a typed read-operation identity and
// expire lazily on read; there is no background eviction because the only
// writer and reader is the owning service instance.
package cache

import (
	"sync"
	"time"
)

// Category tags every key with the shape of data it caches, so a mutation can
// purge all related reads in one call without enumerating exact keys.
type Category string

const (
	// CategoryBalances covers single and aggregate balance reads.
	CategoryBalances Category = "balances"
	// CategoryHistory covers transfer history reads.
	CategoryHistory Category = "history"
)

// Key is the identity of one cached read: the category it belongs to, the
// read operation's name and its distinguishing parameter (typically a user id
// or user id plus wallet type).
type Key struct {
	Category Category
	Op       string
	Param    string
}

type entry struct {
	value     any
	fetchedAt time.Time
	ttl       time.Duration
}

// Store maps read identities to their last successful result. An entry whose
// age has reached its TTL is treated as absent and evicted on the read that
// observes it.
type Store struct {
	mu      sync.Mutex
	entries map[Key]entry

	// now is swappable so tests can pin the clock.
	now func() time.Time
}

// New constructs an empty store.
func New() *Store {
	return &Store{
		entries: make(map[Key]entry),
		now:     time.Now,
	}
}

// Get returns the cached value for key when it is still fresh. A stale entry
// counts as a miss and is evicted as a side effect.
func (s *Store) Get(key Key) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if s.now().Sub(e.fetchedAt) >= e.ttl {
		delete(s.entries, key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with the supplied TTL, stamping it with the
// current time and overwriting any prior entry.
func (s *Store) Set(key Key, value any, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{value: value, fetchedAt: s.now(), ttl: ttl}
}

// Invalidate removes a single entry. Removing an absent key is a no-op.
func (s *Store) Invalidate(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// InvalidateCategory removes every entry tagged with the category. Matching
// zero entries is a no-op.
func (s *Store) InvalidateCategory(cat Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.entries {
		if k.Category == cat {
			delete(s.entries, k)
		}
	}
}

// Len reports the number of physically present entries, stale ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// GetAs is a typed read helper over Store.Get. A value of the wrong type
// counts as a miss.
func GetAs[T any](s *Store, key Key) (T, bool) {
	var zero T
	v, ok := s.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
