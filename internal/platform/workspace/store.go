// Package workspace holds in-progress desk work (dispensing sessions, return
// drafts) that has not been submitted to the pharmacy backend yet.
package workspace

import (
	"context"
	"sync"
	"time"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// Store is a thread-safe in-memory map whose entries expire after a period
// without access. Expired work is dropped, never persisted.
type Store[T any] struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*entry[T]
}

// NewStore creates an empty store. A non-positive ttl disables expiry.
func NewStore[T any](ttl time.Duration) *Store[T] {
	return &Store[T]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*entry[T]),
	}
}

func (s *Store[T]) expiry() time.Time {
	if s.ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(s.ttl)
}

func (s *Store[T]) expired(e *entry[T]) bool {
	return !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt)
}

func (s *Store[T]) Put(id string, v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = &entry[T]{value: v, expiresAt: s.expiry()}
}

// Get returns the entry for id and extends its lifetime. Expired entries are
// hidden but stay in place until Sweep removes and counts them.
func (s *Store[T]) Get(id string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || s.expired(e) {
		var zero T
		return zero, false
	}
	e.expiresAt = s.expiry()
	return e.value, true
}

func (s *Store[T]) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep removes expired entries and returns how many were dropped.
func (s *Store[T]) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}

// RunJanitor sweeps the store every interval until ctx is done. onSweep, if
// set, receives the number of entries dropped by each sweep.
func (s *Store[T]) RunJanitor(ctx context.Context, interval time.Duration, onSweep func(int)) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n := s.Sweep()
			if onSweep != nil && n > 0 {
				onSweep(n)
			}
		}
	}
}
