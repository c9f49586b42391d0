package broadcast

import "sync"

// liveness is the per-viewer heartbeat state. A probe clears the alive flag
// and an acknowledged ping sets it again; a probe that finds the flag still
// cleared means the previous ping went unanswered.
type liveness struct {
	mu    sync.Mutex
	alive bool
}

func newLiveness() *liveness {
	return &liveness{alive: true}
}

func (l *liveness) acknowledge() {
	l.mu.Lock()
	l.alive = true
	l.mu.Unlock()
}

// probe reports whether the viewer answered since the last probe and starts
// a new round.
func (l *liveness) probe() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.alive {
		return false
	}
	l.alive = false
	return true
}
