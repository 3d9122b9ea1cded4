// Package control holds the runtime guard rails around external calls:
// the retry policy the completion gateway follows and the breaker the
// update loop puts in front of the platform API.
package control

import "time"

type BreakerState string

const (
	BreakerClosed  BreakerState = "closed"
	BreakerOpen    BreakerState = "open"
	BreakerProbing BreakerState = "probing"
)

// Breaker trips after Threshold consecutive-class failures and lets a
// single probe through once Cooldown elapses. Failures are counted per
// class (network, decode, api) so a burst of unrelated hiccups does not
// trip it; transitions are reported by return value so the caller can
// journal them without tracking state itself. Not safe for concurrent
// use; the update loop is single-threaded.
type Breaker struct {
	Threshold int
	Cooldown  time.Duration

	state    BreakerState
	strikes  map[string]int
	openedAt time.Time
	cause    string
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		Threshold: threshold,
		Cooldown:  cooldown,
		state:     BreakerClosed,
		strikes:   map[string]int{},
	}
}

func (b *Breaker) State() BreakerState {
	return b.state
}

// Cause returns the failure class that tripped the breaker, empty while
// closed.
func (b *Breaker) Cause() string {
	return b.cause
}

// Admit reports whether new work may start. probing is true exactly once
// per cooldown expiry, when the open breaker releases its single probe.
func (b *Breaker) Admit(now time.Time) (ok, probing bool) {
	switch b.state {
	case BreakerOpen:
		if now.Sub(b.openedAt) < b.Cooldown {
			return false, false
		}
		b.state = BreakerProbing
		return true, true
	default:
		return true, false
	}
}

// Success clears all strikes. It returns true when the breaker was
// recovering and is now closed again.
func (b *Breaker) Success() (recovered bool) {
	recovered = b.state != BreakerClosed
	b.state = BreakerClosed
	b.cause = ""
	b.strikes = map[string]int{}
	return recovered
}

// Failure counts a strike against class. A failed probe trips the
// breaker immediately; otherwise it trips once class reaches Threshold.
// It returns true when this call tripped the breaker.
func (b *Breaker) Failure(class string, now time.Time) (opened bool) {
	if class == "" {
		class = "unknown"
	}
	if b.state == BreakerProbing {
		b.trip(class, now)
		return true
	}
	b.strikes[class]++
	if b.strikes[class] >= b.Threshold {
		b.trip(class, now)
		return true
	}
	return false
}

func (b *Breaker) trip(class string, now time.Time) {
	b.state = BreakerOpen
	b.openedAt = now
	b.cause = class
}
