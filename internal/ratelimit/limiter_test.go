package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fixedClock lets tests move the limiter's notion of time manually.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter() (*MemoryLimiter, *fixedClock) {
	clock := &fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter()
	l.now = clock.now
	return l, clock
}

func TestMemoryLimiter_AllowsUpToMax(t *testing.T) {
	l, _ := newTestLimiter()
	p := Policy{MaxAttempts: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		res := l.Check("ip1", p)
		assert.True(t, res.Allowed, "attempt %d should be allowed", i+1)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res := l.Check("ip1", p)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
}

func TestMemoryLimiter_WindowRollsOverLazily(t *testing.T) {
	l, clock := newTestLimiter()
	p := Policy{MaxAttempts: 2, Window: time.Minute}

	l.Check("ip1", p)
	l.Check("ip1", p)
	assert.False(t, l.Check("ip1", p).Allowed)

	clock.advance(time.Minute + time.Second)

	res := l.Check("ip1", p)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)
}

func TestMemoryLimiter_IdentifiersAreIndependent(t *testing.T) {
	l, _ := newTestLimiter()
	p := Policy{MaxAttempts: 1, Window: time.Minute}

	assert.True(t, l.Check("ip1", p).Allowed)
	assert.False(t, l.Check("ip1", p).Allowed)
	assert.True(t, l.Check("ip2", p).Allowed)
}

func TestMemoryLimiter_Reset(t *testing.T) {
	l, _ := newTestLimiter()
	p := Policy{MaxAttempts: 1, Window: time.Minute}

	l.Check("user1", p)
	assert.False(t, l.Check("user1", p).Allowed)

	l.Reset("user1")
	assert.True(t, l.Check("user1", p).Allowed)
}

func TestMemoryLimiter_CleanupExpired(t *testing.T) {
	l, clock := newTestLimiter()
	p := Policy{MaxAttempts: 5, Window: time.Minute}

	l.Check("stale", p)
	clock.advance(30 * time.Second)
	l.Check("fresh", p)

	clock.advance(31 * time.Second) // "stale" expired, "fresh" has 29s left

	assert.Equal(t, 1, l.CleanupExpired())
	assert.Equal(t, 0, l.CleanupExpired())
}

func TestMemoryLimiter_ConcurrentChecks(t *testing.T) {
	l := NewMemoryLimiter()
	p := Policy{MaxAttempts: 50, Window: time.Minute}

	var wg sync.WaitGroup
	allowed := make([]bool, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			allowed[i] = l.Check("shared", p).Allowed
		}(i)
	}
	wg.Wait()

	var count int
	for _, ok := range allowed {
		if ok {
			count++
		}
	}
	assert.Equal(t, 50, count, "exactly maxAttempts checks should be allowed")
}
