package presence

import "sync"

// inflightSet is a best-effort, client-local guard against duplicate
// concurrent submissions. It is not a distributed lock: a different process
// can still race in during the store round-trip, which is why every mutation
// also carries a status guard (see Mutation).
type inflightSet struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

func newInflightSet() *inflightSet {
	return &inflightSet{busy: make(map[string]struct{})}
}

// acquire marks key in-flight, reporting false when it already is.
func (s *inflightSet) acquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.busy[key]; ok {
		return false
	}
	s.busy[key] = struct{}{}
	return true
}

func (s *inflightSet) release(key string) {
	s.mu.Lock()
	delete(s.busy, key)
	s.mu.Unlock()
}

// held reports whether key is currently in flight.
func (s *inflightSet) held(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.busy[key]
	return ok
}
