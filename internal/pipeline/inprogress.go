package pipeline

import (
	"sort"
	"sync"
)

// InProgressSet tracks relative paths with an attempt underway. At most one
// holder per path exists at any time.
type InProgressSet struct {
	mu    sync.Mutex
	items map[string]struct{}
}

// NewInProgressSet returns an empty set.
func NewInProgressSet() *InProgressSet {
	return &InProgressSet{items: make(map[string]struct{})}
}

// TryAcquire claims rel and reports whether the caller now holds it.
func (s *InProgressSet) TryAcquire(rel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.items[rel]; held {
		return false
	}
	s.items[rel] = struct{}{}
	return true
}

// Release gives rel back. Releasing an unheld path is a no-op.
func (s *InProgressSet) Release(rel string) {
	s.mu.Lock()
	delete(s.items, rel)
	s.mu.Unlock()
}

// Contains reports whether rel is currently held.
func (s *InProgressSet) Contains(rel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, held := s.items[rel]
	return held
}

// Snapshot returns the held paths in sorted order.
func (s *InProgressSet) Snapshot() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.items))
	for rel := range s.items {
		out = append(out, rel)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

// Len returns the number of held paths.
func (s *InProgressSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
