package availability

import "sync"

// DefaultThreshold is how many consecutive failed polls mark a device unavailable.
const DefaultThreshold = 3

// Tracker debounces poll results into an availability flag. One success restores
// availability; only a run of threshold failures removes it.
type Tracker struct {
	mu        sync.Mutex
	threshold int
	failures  int
	available bool
}

func NewTracker(threshold int) *Tracker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Tracker{threshold: threshold}
}

// Record applies one poll result and returns the resulting availability.
func (t *Tracker) Record(success bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if success {
		t.available = true
		t.failures = 0
		return true
	}

	t.failures++
	if t.failures >= t.threshold {
		t.available = false
	}
	return t.available
}

func (t *Tracker) Available() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.available
}

func (t *Tracker) ConsecutiveFailures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failures
}

func (t *Tracker) Threshold() int {
	return t.threshold
}
