package sync

import (
	"context"
	"sync"
	"time"
)

// Limiter is a sliding-window admission counter shared by every worker that
// talks to one upstream endpoint class. It is injected, never a process-wide
// singleton, so jobs and tests can carry their own instance.
type Limiter struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	hits   []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewLimiter(maxPerWindow int) *Limiter {
	if maxPerWindow <= 0 {
		maxPerWindow = 1
	}
	return &Limiter{
		window: time.Minute,
		max:    maxPerWindow,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// Wait blocks until the window has room, records the admission, and returns
// the window utilization percentage right after it.
func (l *Limiter) Wait(ctx context.Context) (float64, error) {
	for {
		l.mu.Lock()
		now := l.now()
		l.pruneLocked(now)

		if len(l.hits) < l.max {
			l.hits = append(l.hits, now)
			pct := float64(len(l.hits)) / float64(l.max) * 100
			l.mu.Unlock()
			return pct, nil
		}

		oldest := l.hits[0]
		wait := l.window - now.Sub(oldest)
		l.mu.Unlock()

		if wait < 5*time.Millisecond {
			wait = 5 * time.Millisecond
		}
		if err := l.sleep(ctx, wait); err != nil {
			return 0, err
		}
	}
}

// Utilization returns the current window usage percentage without admitting.
func (l *Limiter) Utilization() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.now())
	return float64(len(l.hits)) / float64(l.max) * 100
}

func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.hits) && !l.hits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.hits = append(l.hits[:0], l.hits[i:]...)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
