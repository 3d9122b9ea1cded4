package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance time explicitly.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(maxRequests int, window time.Duration) (*Limiter, *fakeClock) {
	l := NewLimiter(maxRequests, window)
	clock := newFakeClock()
	l.now = clock.Now
	return l, clock
}

func TestAllow_RemainingDecreasesThenDenies(t *testing.T) {
	l, clock := newTestLimiter(5, 10*time.Second)
	const identity = 123456

	for i, want := range []int{4, 3, 2, 1, 0} {
		clock.Advance(100 * time.Millisecond)
		allowed, remaining := l.Allow(identity)
		require.True(t, allowed, "request %d", i+1)
		assert.Equal(t, want, remaining, "request %d", i+1)
	}

	allowed, remaining := l.Allow(identity)
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)

	wait := l.WaitTime(identity)
	assert.Greater(t, wait, time.Duration(0))
	assert.LessOrEqual(t, wait, 10*time.Second)
}

func TestAllow_WindowSlides(t *testing.T) {
	l, clock := newTestLimiter(2, 10*time.Second)
	const identity int64 = 7

	l.Allow(identity)
	clock.Advance(6 * time.Second)
	l.Allow(identity)

	allowed, _ := l.Allow(identity)
	assert.False(t, allowed)

	// First event falls out of the window; one slot frees up.
	clock.Advance(5 * time.Second)
	allowed, remaining := l.Allow(identity)
	assert.True(t, allowed)
	assert.Equal(t, 0, remaining)
}

func TestAllow_DeniedRequestRecordsNothing(t *testing.T) {
	l, clock := newTestLimiter(1, 10*time.Second)
	const identity int64 = 9

	l.Allow(identity)
	for i := 0; i < 5; i++ {
		allowed, _ := l.Allow(identity)
		require.False(t, allowed)
	}

	// Only the single admitted event expires; identity is clean after.
	clock.Advance(11 * time.Second)
	allowed, remaining := l.Allow(identity)
	assert.True(t, allowed)
	assert.Equal(t, 0, remaining)
}

func TestWaitTime_ZeroForUnknownOrUnderCapacity(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute)
	assert.Equal(t, time.Duration(0), l.WaitTime(42))
	l.Allow(42)
	assert.Equal(t, time.Duration(0), l.WaitTime(42))
}

func TestIdentitiesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(2, time.Minute)

	l.Allow(1)
	l.Allow(1)
	allowed, _ := l.Allow(1)
	require.False(t, allowed)

	allowed, remaining := l.Allow(2)
	assert.True(t, allowed)
	assert.Equal(t, 1, remaining)
}

func TestReset(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	l.Allow(5)
	allowed, _ := l.Allow(5)
	require.False(t, allowed)

	l.Reset(5)
	allowed, remaining := l.Allow(5)
	assert.True(t, allowed)
	assert.Equal(t, 0, remaining)
}

func TestSweep_RemovesIdleIdentitiesOnce(t *testing.T) {
	l, clock := newTestLimiter(3, 10*time.Second)

	l.Allow(1)
	l.Allow(2)
	clock.Advance(11 * time.Second)
	l.Allow(3)

	assert.Equal(t, 2, l.Sweep())
	assert.Equal(t, 0, l.Sweep())
	assert.Equal(t, 1, l.Stats().ActiveIdentities)
}

func TestAllow_ConcurrentNoOverAdmission(t *testing.T) {
	l, _ := newTestLimiter(5, time.Minute)
	const identity int64 = 99

	// Fill to capacity minus one.
	for i := 0; i < 4; i++ {
		allowed, _ := l.Allow(identity)
		require.True(t, allowed)
	}

	const callers = 32
	var wg sync.WaitGroup
	results := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, _ := l.Allow(identity)
			results <- allowed
		}()
	}
	wg.Wait()
	close(results)

	admitted := 0
	for allowed := range results {
		if allowed {
			admitted++
		}
	}
	assert.Equal(t, 1, admitted)
}

func TestSweep_MarksRemovedWindowsDead(t *testing.T) {
	l, clock := newTestLimiter(2, 10*time.Second)
	const identity int64 = 11

	l.Allow(identity)
	clock.Advance(11 * time.Second)

	// Stale pointer, as held by an admission paused between lookup and
	// lock when the sweep runs.
	stale := l.get(identity)
	require.Equal(t, 1, l.Sweep())
	assert.True(t, stale.dead)

	// A resumed admission must land in the live window, not the orphan.
	allowed, remaining := l.Allow(identity)
	require.True(t, allowed)
	assert.Equal(t, 1, remaining)
	assert.Empty(t, stale.events)
}

func TestReset_MarksWindowDead(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	l.Allow(3)
	stale := l.get(3)
	l.Reset(3)
	assert.True(t, stale.dead)
}

func TestAllow_BoundedUnderConcurrentSweep(t *testing.T) {
	l, _ := newTestLimiter(3, time.Hour)
	const identity int64 = 55

	// Sweeps race against admissions; fresh windows are empty and thus
	// removable, so every admission may contend with a removal.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			l.Sweep()
		}
	}()

	const callers = 50
	var wg sync.WaitGroup
	results := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, _ := l.Allow(identity)
			results <- allowed
		}()
	}
	wg.Wait()
	close(results)
	<-done

	admitted := 0
	for allowed := range results {
		if allowed {
			admitted++
		}
	}
	assert.Equal(t, 3, admitted)
}

func TestStats(t *testing.T) {
	l, _ := newTestLimiter(10, time.Minute)
	l.Allow(1)
	l.Allow(2)

	stats := l.Stats()
	assert.Equal(t, 2, stats.ActiveIdentities)
	assert.Equal(t, 10, stats.MaxRequests)
	assert.Equal(t, time.Minute, stats.Window)
}
