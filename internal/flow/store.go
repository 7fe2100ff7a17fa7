package flow

import (
	"sync"
	"time"

	"github.com/iamasit07/mydrop-auth/internal/domain"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// Store is a TTL map for short-lived login state. Expired entries are
// invisible to readers before the sweeper gets to them.
type Store[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]
	ttl     time.Duration
	now     func() time.Time
	evict   func(T) bool
}

func NewStore[T any](ttl time.Duration) *Store[T] {
	return &Store[T]{
		entries: make(map[string]*entry[T]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock swaps the time source. Tests only.
func (s *Store[T]) WithClock(now func() time.Time) *Store[T] {
	s.now = now
	return s
}

// WithEvict makes Sweep also drop live entries for which done returns true.
func (s *Store[T]) WithEvict(done func(T) bool) *Store[T] {
	s.evict = done
	return s
}

func (s *Store[T]) TTL() time.Duration {
	return s.ttl
}

// Put stores value under key and returns its expiry.
func (s *Store[T]) Put(key string, value T) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := s.now().Add(s.ttl)
	s.entries[key] = &entry[T]{value: value, expiresAt: expiresAt}
	return expiresAt
}

// Get returns a copy of the live value under key.
func (s *Store[T]) Get(key string) (T, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		var zero T
		return zero, time.Time{}, false
	}
	return e.value, e.expiresAt, true
}

// Take removes and returns the live value under key. Of any number of
// concurrent callers at most one gets ok=true.
func (s *Store[T]) Take(key string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		var zero T
		return zero, false
	}
	delete(s.entries, key)
	return e.value, true
}

// Update runs fn against the live value under the store lock. If fn returns
// an error the entry is left untouched. keep=false removes the entry.
func (s *Store[T]) Update(key string, fn func(v *T) (keep bool, err error)) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	e, ok := s.live(key)
	if !ok {
		return zero, domain.ErrInvalidOrExpiredFlow
	}

	next := e.value
	keep, err := fn(&next)
	if err != nil {
		return zero, err
	}
	if keep {
		e.value = next
	} else {
		delete(s.entries, key)
	}
	return next, nil
}

func (s *Store[T]) Delete(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep drops every entry that expired at or before now, plus the ones the
// evict predicate reports as finished.
func (s *Store[T]) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) || (s.evict != nil && s.evict(e.value)) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// live must be called with mu held.
func (s *Store[T]) live(key string) (*entry[T], bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil, false
	}
	return e, true
}
