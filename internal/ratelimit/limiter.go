// Package ratelimit provides a fixed-window attempt counter used to throttle
// sensitive operations such as credential testing and sync triggering.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Result is the outcome of one Check call.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Policy is a named attempt budget. The numbers are configuration, not
// mechanism; see config for the per-operation defaults.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
}

// Limiter is the throttling port. The in-memory implementation below suits a
// single-process deployment; a multi-process deployment would back this with
// a shared cache.
type Limiter interface {
	// Check counts one attempt for identifier and reports whether it is
	// allowed under the policy. The first call in a window initializes the
	// counter; the window rolls over lazily on the next call after ResetAt.
	Check(identifier string, p Policy) Result

	// Reset clears the counter for identifier, so a successful sensitive
	// operation does not penalize a legitimate immediate retry.
	Reset(identifier string)

	// CleanupExpired removes entries whose window has passed and returns how
	// many were removed. Intended to run on a fixed interval to bound memory.
	CleanupExpired() int
}

type entry struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is a mutex-protected in-memory Limiter.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter creates an empty in-memory limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Check implements Limiter.
func (l *MemoryLimiter) Check(identifier string, p Policy) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	e, ok := l.entries[identifier]
	if !ok || !now.Before(e.resetAt) {
		e = &entry{count: 0, resetAt: now.Add(p.Window)}
		l.entries[identifier] = e
	}

	if e.count >= p.MaxAttempts {
		return Result{Allowed: false, Remaining: 0, ResetAt: e.resetAt}
	}

	e.count++
	return Result{
		Allowed:   true,
		Remaining: p.MaxAttempts - e.count,
		ResetAt:   e.resetAt,
	}
}

// Reset implements Limiter.
func (l *MemoryLimiter) Reset(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, identifier)
}

// CleanupExpired implements Limiter.
func (l *MemoryLimiter) CleanupExpired() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for id, e := range l.entries {
		if !now.Before(e.resetAt) {
			delete(l.entries, id)
			removed++
		}
	}
	return removed
}

// StartCleanup runs CleanupExpired on the given interval until the context is
// canceled. It blocks, so callers run it in a goroutine.
func (l *MemoryLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("rate limiter cleanup stopped")
			return
		case <-ticker.C:
			if removed := l.CleanupExpired(); removed > 0 {
				slog.Debug("rate limit entries expired", "removed", removed)
			}
		}
	}
}
