// Package playback arbitrates which playback surface is active. At most one
// surface plays at a time; acquiring playback preempts the previous holder.
package playback

import "sync"

// Arbiter tracks the single active playback surface. The zero value is not
// usable; construct with New.
type Arbiter struct {
	mu         sync.Mutex
	generation uint64
	holder     string
	preempted  chan struct{}
}

// New creates an Arbiter with no active surface.
func New() *Arbiter {
	return &Arbiter{}
}

// Acquire makes surfaceID the active surface, preempting any previous holder
// by closing its channel. The returned release function clears the surface if
// it is still the holder; releasing after a later Acquire is a no-op. The
// returned channel is closed when this holder is preempted.
func (a *Arbiter) Acquire(surfaceID string) (release func(), preempted <-chan struct{}) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.preempted != nil {
		close(a.preempted)
	}

	a.generation++
	gen := a.generation
	a.holder = surfaceID
	ch := make(chan struct{})
	a.preempted = ch

	release = func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		// A stale handle must not clear a newer holder.
		if a.generation != gen {
			return
		}
		a.holder = ""
		a.preempted = nil
	}
	return release, ch
}

// Active returns the current holder's surface id, or "" when nothing is
// playing.
func (a *Arbiter) Active() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.holder
}
