package execution

import "sync"

// LockSet provides per-market non-reentrant mutual exclusion for the
// evaluate-and-execute critical section. Acquisition never blocks: a held
// key means another worker owns that market and the caller skips it.
type LockSet struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLockSet creates an empty lock set.
func NewLockSet() *LockSet {
	return &LockSet{held: make(map[string]struct{})}
}

// TryAcquire takes the lock for key if free. The caller must Release on
// every exit path once acquisition succeeds.
func (s *LockSet) TryAcquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.held[key]; taken {
		LockContentionTotal.Inc()
		return false
	}
	s.held[key] = struct{}{}
	LocksHeld.Set(float64(len(s.held)))
	return true
}

// Release frees the lock for key. Releasing an unheld key is a no-op.
func (s *LockSet) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.held, key)
	LocksHeld.Set(float64(len(s.held)))
}

// Held reports whether key is currently locked.
func (s *LockSet) Held(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, taken := s.held[key]
	return taken
}
