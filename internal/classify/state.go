package classify

import (
	"sync"
)

// State holds the most recent detection result. It is the single
// authority consulted before any actuation request is honored.
type State struct {
	mu     sync.RWMutex
	result *Result
}

// NewState creates an empty detection state
func NewState() *State {
	return &State{}
}

// Record stores the latest result, overwriting the previous one
func (s *State) Record(result Result) {
	s.mu.Lock()
	s.result = &result
	s.mu.Unlock()
}

// Latest returns the stored result and whether one exists
func (s *State) Latest() (Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.result == nil {
		return Result{}, false
	}
	return *s.result, true
}

// MayActuate reports whether the stored severity permits spraying.
// False when no detection has ever been recorded: an empty state never
// actuates.
func (s *State) MayActuate() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result != nil && s.result.Severity.Actionable()
}
