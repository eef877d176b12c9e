// Package backoff computes retry delays for clients of the allocation API.
package backoff

import (
	"context"
	"math/rand/v2"
	"time"
)

const maxShift = 62

// Policy is capped exponential backoff with full jitter.
type Policy struct {
	Base time.Duration
	Max  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Base: 100 * time.Millisecond, Max: 3 * time.Second}
}

// Exponential returns base * 2^attempt, saturating instead of overflowing.
func Exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxShift {
		attempt = maxShift
	}
	d := base << attempt
	if d <= 0 || d>>attempt != base {
		return time.Duration(1<<63 - 1)
	}
	return d
}

// FullJitter returns a random duration in [0, d).
func FullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d)))
}

// Delay is the wait before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	d := Exponential(p.Base, attempt)
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return FullJitter(d)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
