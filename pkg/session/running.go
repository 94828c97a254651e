package session

import "sync"

// RunningSet tracks sessions whose pipeline run is currently executing in
// this process. The stream transport consults it on each heartbeat so a
// client watching a session whose run died gets a terminal event instead of
// silence.
type RunningSet struct {
	mu      sync.RWMutex
	running map[string]struct{}
}

// NewRunningSet creates an empty set.
func NewRunningSet() *RunningSet {
	return &RunningSet{running: make(map[string]struct{})}
}

// Add marks the session's run as live.
func (s *RunningSet) Add(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[sessionID] = struct{}{}
}

// Remove marks the session's run as finished.
func (s *RunningSet) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, sessionID)
}

// Contains reports whether the session's run is live.
func (s *RunningSet) Contains(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.running[sessionID]
	return ok
}

// Len returns the number of live runs.
func (s *RunningSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.running)
}
