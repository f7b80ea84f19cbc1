// Package retry provides a bounded exponential backoff policy and a generic
// helper used for transient infrastructure errors (notifier sends,
// checkpoint-store calls). Policy-level blocks are never retried here.
package retry

import (
	"context"
	"time"
)

// Policy is an explicit value object describing a backoff schedule.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultPolicy suits short outbound calls: three attempts, 500ms base,
// doubling, capped at 5s.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Second}
}

// Delay returns the sleep before attempt n (0-based; attempt 0 has none).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
	}
	if limit := float64(p.MaxDelay); p.MaxDelay > 0 && d > limit {
		d = limit
	}
	return time.Duration(d)
}

// Sleeper lets tests observe backoff without waiting.
type Sleeper func(ctx context.Context, d time.Duration) error

// RealSleep waits for d or until ctx is done.
func RealSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs fn up to MaxAttempts times, sleeping per the policy between
// attempts. The last error is returned when all attempts fail.
func Do(ctx context.Context, p Policy, sleep Sleeper, fn func() error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if sleep == nil {
		sleep = RealSleep
	}
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if serr := sleep(ctx, p.Delay(attempt)); serr != nil {
			return serr
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}
