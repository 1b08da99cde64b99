package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Limiter paces requests to a fixed rate with optional jitter. Each Wait
// reserves the next free slot, so concurrent callers queue behind each other
// without sharing a ticker. A nil *Limiter never blocks.
type Limiter struct {
	interval time.Duration
	jitter   float64 // 0.0 to 1.0

	mu   sync.Mutex
	next time.Time
}

// NewLimiter returns a limiter allowing rps operations per second. jitter is
// clamped to [0, 1] and stretches each slot by up to jitter*interval.
// It returns nil when rps <= 0.
func NewLimiter(rps float64, jitter float64) *Limiter {
	if rps <= 0 {
		return nil
	}
	if jitter < 0 {
		jitter = 0
	} else if jitter > 1 {
		jitter = 1
	}
	return &Limiter{
		interval: time.Duration(float64(time.Second) / rps),
		jitter:   jitter,
	}
}

// Wait blocks until the caller's slot arrives or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}

	l.mu.Lock()
	now := time.Now()
	slot := l.next
	if slot.Before(now) {
		slot = now
	}
	step := l.interval
	if l.jitter > 0 {
		step += time.Duration(float64(l.interval) * l.jitter * rand.Float64())
	}
	l.next = slot.Add(step)
	l.mu.Unlock()

	delay := time.Until(slot)
	if delay <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Interval reports the base spacing between slots.
func (l *Limiter) Interval() time.Duration {
	if l == nil {
		return 0
	}
	return l.interval
}
