// Package ratelimit enforces per-API request budgets: a sliding-window
// request count plus an in-flight cap.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotInitialised is returned by Acquire on a limiter that was not built
// with New.
var ErrNotInitialised = errors.New("rate limiter not initialised")

// Limiter admits at most budget acquires over any window-length interval
// and at most maxConcurrent callers between Acquire and Release.
type Limiter struct {
	name   string
	window time.Duration
	budget int
	sem    chan struct{}

	mu            sync.Mutex
	stamps        []time.Time
	totalRequests int64
	totalWait     time.Duration
}

// Stats is a point-in-time view of limiter activity.
type Stats struct {
	TotalRequests        int64         `json:"total_requests"`
	TotalWaitTime        time.Duration `json:"total_wait_time"`
	AvgWaitTime          time.Duration `json:"avg_wait_time"`
	CurrentCallsInWindow int           `json:"current_calls_in_window"`
}

// New validates the parameters and returns a ready limiter. All three
// bounds must be strictly positive.
func New(name string, budget int, window time.Duration, maxConcurrent int) (*Limiter, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("limiter %s: budget must be positive, got %d", name, budget)
	}
	if window <= 0 {
		return nil, fmt.Errorf("limiter %s: window must be positive, got %v", name, window)
	}
	if maxConcurrent <= 0 {
		return nil, fmt.Errorf("limiter %s: max concurrent must be positive, got %d", name, maxConcurrent)
	}
	return &Limiter{
		name:   name,
		window: window,
		budget: budget,
		sem:    make(chan struct{}, maxConcurrent),
	}, nil
}

// Acquire blocks until both a concurrency slot and window budget are
// available, then records the request and returns how long the caller
// waited. On context cancellation the concurrency slot is returned and no
// request is recorded.
func (l *Limiter) Acquire(ctx context.Context) (time.Duration, error) {
	if l == nil || l.sem == nil {
		return 0, ErrNotInitialised
	}

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	start := time.Now()
	for {
		l.mu.Lock()
		now := time.Now()
		l.pruneLocked(now)
		if len(l.stamps) < l.budget {
			l.stamps = append(l.stamps, now)
			waited := now.Sub(start)
			l.totalRequests++
			l.totalWait += waited
			l.mu.Unlock()
			return waited, nil
		}
		wait := l.stamps[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			l.Release()
			return 0, ctx.Err()
		}
	}
}

// Release returns the caller's concurrency slot. An unmatched release is
// a no-op.
func (l *Limiter) Release() {
	if l == nil || l.sem == nil {
		return
	}
	select {
	case <-l.sem:
	default:
	}
}

// Stats reports totals and the live window occupancy.
func (l *Limiter) Stats() Stats {
	if l == nil || l.sem == nil {
		return Stats{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(time.Now())

	s := Stats{
		TotalRequests:        l.totalRequests,
		TotalWaitTime:        l.totalWait,
		CurrentCallsInWindow: len(l.stamps),
	}
	if l.totalRequests > 0 {
		s.AvgWaitTime = time.Duration(int64(l.totalWait) / l.totalRequests)
	}
	return s
}

// pruneLocked drops timestamps that fell out of the window. Callers hold mu.
func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	idx := 0
	for idx < len(l.stamps) && !l.stamps[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[idx:]...)
	}
}
