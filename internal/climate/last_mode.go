package climate

import "sync"

// LastModeStore remembers the last non-off mode per device so turning a unit back on
// restores it. One store per integration instance.
type LastModeStore struct {
	mu    sync.RWMutex
	modes map[string]HVACMode
}

func NewLastModeStore() *LastModeStore {
	return &LastModeStore{modes: map[string]HVACMode{}}
}

func (s *LastModeStore) Get(serial string) (HVACMode, bool) {
	if s == nil {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	mode, ok := s.modes[serial]
	return mode, ok
}

// Set ignores off and unknown.
func (s *LastModeStore) Set(serial string, mode HVACMode) {
	if s == nil || serial == "" || mode == "" || mode == ModeOff || mode == ModeUnknown {
		return
	}
	s.mu.Lock()
	s.modes[serial] = mode
	s.mu.Unlock()
}

func (s *LastModeStore) Snapshot() map[string]HVACMode {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]HVACMode, len(s.modes))
	for serial, mode := range s.modes {
		out[serial] = mode
	}
	return out
}
