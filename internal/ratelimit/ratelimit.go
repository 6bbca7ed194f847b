// Package ratelimit implements sliding-window admission control for outbound
// market-data API calls.
//
// The limiter keeps the arrival times of recorded requests and admits a new
// request while fewer than maxRequests fall inside the trailing window.
// Stale timestamps are pruned lazily on every check, so no background sweep
// is needed.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// MinWait is the smallest sleep WaitForSlot takes between re-checks.
const MinWait = 10 * time.Millisecond

// ErrInvalidConfig is returned by New for a zero or negative capacity or window.
var ErrInvalidConfig = errors.New("ratelimit: invalid configuration")

// Limiter is a sliding-window rate limiter. Safe for concurrent use.
type Limiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	timestamps  []time.Time // arrival order, oldest first
	now         func() time.Time

	// OnWait is called with the computed delay each time a caller has to
	// sleep for a slot (optional, for metrics).
	OnWait func(d time.Duration)
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter admitting maxRequests per window.
func New(maxRequests int, window time.Duration, opts ...Option) (*Limiter, error) {
	if maxRequests <= 0 {
		return nil, fmt.Errorf("%w: maxRequests must be positive, got %d", ErrInvalidConfig, maxRequests)
	}
	if window <= 0 {
		return nil, fmt.Errorf("%w: window must be positive, got %s", ErrInvalidConfig, window)
	}
	l := &Limiter{
		maxRequests: maxRequests,
		window:      window,
		timestamps:  make([]time.Time, 0, maxRequests),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// MaxRequests returns the per-window capacity.
func (l *Limiter) MaxRequests() int { return l.maxRequests }

// Window returns the window length.
func (l *Limiter) Window() time.Duration { return l.window }

// prune drops timestamps at or before now-window. Caller holds mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.timestamps) && !l.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.timestamps = append(l.timestamps[:0], l.timestamps[i:]...)
	}
}

// CanAdmit reports whether a request could be recorded right now.
func (l *Limiter) CanAdmit() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.timestamps) < l.maxRequests
}

// Record appends the current time as a consumed slot. It does not check
// admission; callers pair it with CanAdmit or WaitForSlot, or use Acquire.
func (l *Limiter) Record() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.prune(now)
	l.timestamps = append(l.timestamps, now)
}

// Remaining returns how many requests could be admitted right now.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	if n := l.maxRequests - len(l.timestamps); n > 0 {
		return n
	}
	return 0
}

// TimeUntilNextSlot returns how long until CanAdmit becomes true.
// Returns 0 when a slot is already free.
func (l *Limiter) TimeUntilNextSlot() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.untilNextSlot(l.now())
}

func (l *Limiter) untilNextSlot(now time.Time) time.Duration {
	l.prune(now)
	if len(l.timestamps) < l.maxRequests {
		return 0
	}
	// The slot frees when the oldest timestamp falls out of the window.
	d := l.timestamps[0].Add(l.window).Sub(now)
	if d <= 0 {
		return time.Nanosecond
	}
	return d
}

// WaitForSlot blocks until CanAdmit would return true or ctx is done.
// Nothing is recorded; a cancelled wait leaves the limiter untouched.
func (l *Limiter) WaitForSlot(ctx context.Context) error {
	for {
		d := l.TimeUntilNextSlot()
		if d == 0 {
			return nil
		}
		if err := l.sleep(ctx, d); err != nil {
			return err
		}
	}
}

// Acquire waits for a slot and records it in one step, so two callers
// cannot both pass the admission check for the last free slot.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		d := l.untilNextSlot(now)
		if d == 0 {
			l.timestamps = append(l.timestamps, now)
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		if err := l.sleep(ctx, d); err != nil {
			return err
		}
	}
}

func (l *Limiter) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d < MinWait {
		d = MinWait
	}
	if l.OnWait != nil {
		l.OnWait(d)
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
