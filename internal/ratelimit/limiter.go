// Package ratelimit paces outbound requests to public endpoints such as
// the mirror node REST API.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter issues permits no faster than a fixed interval. A caller that is
// behind schedule proceeds immediately; bursts are never allowed.
type Limiter struct {
	mu       sync.Mutex
	next     time.Time
	interval time.Duration
}

// New creates a Limiter allowing ratePerSec requests per second.
// Non-positive rates disable pacing.
func New(ratePerSec float64) *Limiter {
	l := &Limiter{next: time.Now()}
	if ratePerSec > 0 {
		l.interval = time.Duration(float64(time.Second) / ratePerSec)
	}
	return l
}

// Wait blocks until a permit is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.interval == 0 {
		return ctx.Err()
	}

	l.mu.Lock()
	now := time.Now()
	if l.next.Before(now) {
		l.next = now
	}
	permit := l.next
	l.next = permit.Add(l.interval)
	l.mu.Unlock()

	wait := time.Until(permit)
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Interval returns the minimum spacing between permits.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}
