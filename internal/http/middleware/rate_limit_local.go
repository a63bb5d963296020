package middleware

import (
	"context"
	"sync"
	"time"
)

// localWindowLimiter keeps a sliding log of hit times per key in process
// memory. Keys from different scopes may use different windows.
type localWindowLimiter struct {
	mu        sync.Mutex
	now       func() time.Time
	entries   map[string]*windowLog
	nextSweep time.Time
}

type windowLog struct {
	window time.Duration
	hits   []time.Time
}

const localSweepInterval = time.Minute

// NewLocalLimiter keeps counters in process memory. A nil clock uses
// time.Now.
func NewLocalLimiter(now func() time.Time) Limiter {
	if now == nil {
		now = time.Now
	}
	return &localWindowLimiter{
		now:       now,
		entries:   make(map[string]*windowLog),
		nextSweep: now().Add(localSweepInterval),
	}
}

func (l *localWindowLimiter) Allow(_ context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(now)

	entry, ok := l.entries[key]
	if !ok {
		entry = &windowLog{}
		l.entries[key] = entry
	}
	entry.window = policy.Window
	entry.prune(now)

	if len(entry.hits) >= policy.Limit {
		resetAt := entry.hits[0].Add(policy.Window)
		return Decision{
			Allowed:    false,
			RetryAfter: max(resetAt.Sub(now), time.Second),
			ResetAt:    resetAt,
			Reason:     "window",
		}, nil
	}
	entry.hits = append(entry.hits, now)
	return Decision{
		Allowed:   true,
		HitAt:     now,
		Remaining: policy.Limit - len(entry.hits),
		ResetAt:   entry.hits[0].Add(policy.Window),
	}, nil
}

func (l *localWindowLimiter) Release(_ context.Context, key string, _ RateLimitPolicy, hitAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok {
		return nil
	}
	for i := len(entry.hits) - 1; i >= 0; i-- {
		if entry.hits[i].Equal(hitAt) {
			entry.hits = append(entry.hits[:i], entry.hits[i+1:]...)
			break
		}
	}
	return nil
}

// sweep drops keys whose newest hit has left its window.
func (l *localWindowLimiter) sweep(now time.Time) {
	if now.Before(l.nextSweep) {
		return
	}
	for k, e := range l.entries {
		if len(e.hits) == 0 || !e.hits[len(e.hits)-1].After(now.Add(-e.window)) {
			delete(l.entries, k)
		}
	}
	l.nextSweep = now.Add(localSweepInterval)
}

func (w *windowLog) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.hits) && !w.hits[i].After(cutoff) {
		i++
	}
	w.hits = w.hits[i:]
}
