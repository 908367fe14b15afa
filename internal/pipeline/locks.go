package pipeline

import "sync"

// SlugLocks provides per-slug mutual exclusion for pillar runs.
// Uses a keyed mutex pattern: each slug gets its own mutex, so runs of
// different topics proceed concurrently while runs of the same topic queue up.
type SlugLocks struct {
	mu    sync.Mutex           // Guards the locks map itself
	locks map[string]*slugLock // Per-slug mutexes
}

type slugLock struct {
	mu      sync.Mutex
	waiters int // holders plus goroutines queued on mu
}

// NewSlugLocks creates an empty SlugLocks.
func NewSlugLocks() *SlugLocks {
	return &SlugLocks{
		locks: make(map[string]*slugLock),
	}
}

// Lock acquires the mutex for slug, creating it on first access.
func (s *SlugLocks) Lock(slug string) {
	s.mu.Lock()
	l, exists := s.locks[slug]
	if !exists {
		l = &slugLock{}
		s.locks[slug] = l
	}
	l.waiters++
	s.mu.Unlock()

	// Acquire outside the map lock so other slugs are not blocked.
	l.mu.Lock()
}

// Unlock releases the mutex for slug. The entry is dropped once nobody holds
// or waits on it.
func (s *SlugLocks) Unlock(slug string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, exists := s.locks[slug]
	if !exists {
		return
	}
	l.waiters--
	if l.waiters == 0 {
		delete(s.locks, slug)
	}
	l.mu.Unlock()
}

// Len returns the number of slugs currently held or waited on.
func (s *SlugLocks) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
