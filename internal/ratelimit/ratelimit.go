// Package ratelimit implements per-identity sliding-window admission
// control. Each identity keeps the timestamps of its admitted requests
// within a trailing window; requests beyond the cap are denied without
// recording an event.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter tracks request timestamps per identity.
type Limiter struct {
	maxRequests int
	window      time.Duration
	now         func() time.Time

	mu      sync.RWMutex
	windows map[int64]*requestWindow
}

// requestWindow holds one identity's admitted timestamps, oldest first.
// Its own mutex serializes read-modify-write so that two concurrent
// Allow calls for the same identity cannot both observe "under capacity".
// dead is set, under mu, when the window is removed from the map; a
// caller holding a stale pointer must re-fetch instead of mutating it.
type requestWindow struct {
	mu     sync.Mutex
	dead   bool
	events []time.Time
}

// NewLimiter creates a limiter admitting at most maxRequests per identity
// within any trailing window.
func NewLimiter(maxRequests int, window time.Duration) *Limiter {
	if maxRequests <= 0 {
		maxRequests = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
		windows:     make(map[int64]*requestWindow),
	}
}

func (l *Limiter) get(identity int64) *requestWindow {
	l.mu.RLock()
	w := l.windows[identity]
	l.mu.RUnlock()
	if w != nil {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w = l.windows[identity]; w == nil {
		w = &requestWindow{}
		l.windows[identity] = w
	}
	return w
}

// live fetches identity's window and returns it locked, re-fetching if a
// concurrent Sweep or Reset removed it between lookup and lock.
func (l *Limiter) live(identity int64) *requestWindow {
	for {
		w := l.get(identity)
		w.mu.Lock()
		if !w.dead {
			return w
		}
		w.mu.Unlock()
	}
}

// trim drops events older than cutoff from the head. Caller holds w.mu.
func trim(w *requestWindow, cutoff time.Time) {
	i := 0
	for i < len(w.events) && w.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.events = append(w.events[:0], w.events[i:]...)
	}
}

// Allow records a request for identity if it is under capacity and
// returns whether it was admitted along with the number of requests left
// in the current window. A denied request records nothing.
func (l *Limiter) Allow(identity int64) (bool, int) {
	now := l.now()

	w := l.live(identity)
	defer w.mu.Unlock()

	trim(w, now.Add(-l.window))

	count := len(w.events)
	if count >= l.maxRequests {
		return false, 0
	}
	w.events = append(w.events, now)
	return true, l.maxRequests - count - 1
}

// WaitTime returns how long identity must wait before its next request
// can be admitted, zero if it is under capacity or unknown.
func (l *Limiter) WaitTime(identity int64) time.Duration {
	l.mu.RLock()
	w := l.windows[identity]
	l.mu.RUnlock()
	if w == nil {
		return 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// A swept window holds no live events; nothing to wait for.
	if w.dead || len(w.events) < l.maxRequests {
		return 0
	}
	wait := l.window - l.now().Sub(w.events[0])
	if wait < 0 {
		return 0
	}
	return wait
}

// Reset discards identity's window immediately.
func (l *Limiter) Reset(identity int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w := l.windows[identity]; w != nil {
		w.mu.Lock()
		w.dead = true
		w.mu.Unlock()
		delete(l.windows, identity)
	}
}

// Sweep trims expired events for every tracked identity and removes
// identities left with an empty window. It returns the number of
// identities removed. Sweep only reclaims memory; admission decisions do
// not depend on it.
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for identity, w := range l.windows {
		w.mu.Lock()
		trim(w, cutoff)
		if len(w.events) == 0 {
			// Mark before delete so an Allow holding this pointer
			// re-fetches rather than recording into an orphan.
			w.dead = true
			delete(l.windows, identity)
			removed++
		}
		w.mu.Unlock()
	}
	return removed
}

// Stats describes the limiter's current state.
type Stats struct {
	ActiveIdentities int
	MaxRequests      int
	Window           time.Duration
}

// Stats returns aggregate counters. The active count is a read-mostly
// statistic and may lag concurrent admissions.
func (l *Limiter) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Stats{
		ActiveIdentities: len(l.windows),
		MaxRequests:      l.maxRequests,
		Window:           l.window,
	}
}
