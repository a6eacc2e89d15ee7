// Package ratelimit implements the per-exchange request weight budget: the
// total weight admitted within any trailing 60 second window stays at or
// below the configured budget.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	window = time.Minute
	// margin added to the computed sleep so the oldest admission has
	// definitely aged out when we recheck.
	margin = time.Second
)

type admission struct {
	at     time.Time
	weight int
}

// Limiter tracks weighted admissions over a rolling window. It is safe for
// concurrent use.
type Limiter struct {
	budget int
	clock  clock.Clock

	mu         sync.Mutex
	admissions []admission
}

// New creates a Limiter with the given per-minute weight budget.
func New(budget int) *Limiter {
	return NewWithClock(budget, clock.New())
}

// NewWithClock creates a Limiter on an injected clock.
func NewWithClock(budget int, clk clock.Clock) *Limiter {
	return &Limiter{budget: budget, clock: clk}
}

// Acquire blocks until admitting weight more would not exceed the budget,
// then records the admission. Requests heavier than the whole budget are
// rejected outright since they could never be admitted.
func (l *Limiter) Acquire(ctx context.Context, weight int) error {
	if weight > l.budget {
		return fmt.Errorf("request weight %d exceeds budget %d", weight, l.budget)
	}

	for {
		wait, ok := l.tryAcquire(weight)
		if ok {
			return nil
		}

		t := l.clock.Timer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// tryAcquire admits the weight if it fits the window, otherwise returns how
// long to wait before the oldest admission ages out.
func (l *Limiter) tryAcquire(weight int) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.pruneLocked(now)

	current := 0
	for _, a := range l.admissions {
		current += a.weight
	}

	if current+weight <= l.budget {
		l.admissions = append(l.admissions, admission{at: now, weight: weight})
		return 0, true
	}

	wait := margin
	if len(l.admissions) > 0 {
		oldest := l.admissions[0].at
		wait = window - now.Sub(oldest) + margin
		if wait < 100*time.Millisecond {
			wait = 100 * time.Millisecond
		}
	}
	return wait, false
}

// pruneLocked drops admissions older than the window. Admissions are
// appended in time order, so the slice stays sorted.
func (l *Limiter) pruneLocked(now time.Time) {
	cut := 0
	for cut < len(l.admissions) && now.Sub(l.admissions[cut].at) >= window {
		cut++
	}
	if cut > 0 {
		l.admissions = l.admissions[cut:]
	}
}

// CurrentWeight returns the total weight admitted within the current window.
func (l *Limiter) CurrentWeight() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(l.clock.Now())
	total := 0
	for _, a := range l.admissions {
		total += a.weight
	}
	return total
}

// Reset clears all recorded admissions.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.admissions = l.admissions[:0]
}
