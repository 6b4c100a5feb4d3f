package extraction

import (
	"context"
	"time"
)

// Backoff describes the retry schedule for transient generator failures
type Backoff struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
	Jitter      float64 // fraction of each delay, applied symmetrically
}

// DefaultBackoff is three calls waiting 2s then 4s, capped at 10s
func DefaultBackoff() Backoff {
	return Backoff{MaxAttempts: 3, Base: 2 * time.Second, Max: 10 * time.Second, Jitter: 0.2}
}

// Schedule returns the un-jittered delay before each retry. Its length is
// MaxAttempts-1.
func (b Backoff) Schedule() []time.Duration {
	if b.MaxAttempts <= 1 {
		return nil
	}

	delays := make([]time.Duration, 0, b.MaxAttempts-1)
	delay := b.Base
	for i := 0; i < b.MaxAttempts-1; i++ {
		d := delay
		if b.Max > 0 && d > b.Max {
			d = b.Max
		}
		delays = append(delays, d)
		if b.Max <= 0 || delay < b.Max {
			delay *= 2
		}
	}
	return delays
}

// withJitter scales d by a factor in [1-Jitter, 1+Jitter]. r is in [0,1).
func (b Backoff) withJitter(d time.Duration, r float64) time.Duration {
	if b.Jitter <= 0 {
		return d
	}
	factor := 1 + b.Jitter*(2*r-1)
	return time.Duration(float64(d) * factor)
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
