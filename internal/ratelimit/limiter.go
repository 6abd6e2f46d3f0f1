package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type admission struct {
	at   time.Time
	cost int
}

// Limiter is a sliding-window budget: the summed cost of admissions
// whose timestamp falls inside the trailing window never exceeds
// capacity. Callers that cannot be admitted wait; hitting the limit is
// a scheduling delay, never an error.
type Limiter struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	entries  []admission

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

func New(capacity int, window time.Duration) *Limiter {
	return &Limiter{
		capacity: capacity,
		window:   window,
		now:      time.Now,
		after:    time.After,
	}
}

// TryAcquire admits cost units if the window has room right now.
func (l *Limiter) TryAcquire(cost int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	ok, _ := l.tryLocked(cost)
	return ok
}

// Acquire blocks until cost units fit in the window or ctx is done.
func (l *Limiter) Acquire(ctx context.Context, cost int) error {
	if cost > l.capacity {
		return fmt.Errorf("ratelimit: cost %d exceeds capacity %d", cost, l.capacity)
	}
	for {
		l.mu.Lock()
		ok, wait := l.tryLocked(cost)
		l.mu.Unlock()
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.after(wait):
		}
	}
}

// tryLocked evicts admissions older than the window, then either admits
// cost or reports how long until the oldest blocking entry expires.
func (l *Limiter) tryLocked(cost int) (bool, time.Duration) {
	now := l.now()
	cutoff := now.Add(-l.window)

	idx := 0
	for idx < len(l.entries) && !l.entries[idx].at.After(cutoff) {
		idx++
	}
	if idx > 0 {
		l.entries = append(l.entries[:0], l.entries[idx:]...)
	}

	used := 0
	for _, e := range l.entries {
		used += e.cost
	}
	if used+cost <= l.capacity {
		l.entries = append(l.entries, admission{at: now, cost: cost})
		return true, 0
	}

	wait := l.window
	if len(l.entries) > 0 {
		wait = l.entries[0].at.Add(l.window).Sub(now)
	}
	if wait <= 0 {
		wait = time.Millisecond
	}
	return false, wait
}

// Used reports the cost currently counted inside the window.
func (l *Limiter) Used() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.window)
	used := 0
	for _, e := range l.entries {
		if e.at.After(cutoff) {
			used += e.cost
		}
	}
	return used
}
