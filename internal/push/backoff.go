package push

import (
	"math/rand"
	"time"
)

// Default backoff configuration values.
const (
	DefaultBackoffInitial = 500 * time.Millisecond
	DefaultBackoffMax     = 10 * time.Second
)

// backoff computes capped exponential retry delays with jitter.
// attempt 1 waits roughly the initial duration, doubling per attempt up
// to the cap, with ±20% jitter so parallel retries do not synchronize.
type backoff struct {
	initial time.Duration
	max     time.Duration
}

// newBackoff creates a backoff policy with the given initial and max durations.
func newBackoff(initial, max time.Duration) *backoff {
	if initial <= 0 {
		initial = DefaultBackoffInitial
	}
	if max <= 0 {
		max = DefaultBackoffMax
	}
	return &backoff{initial: initial, max: max}
}

// Delay returns the wait before retry number attempt (1-based).
func (b *backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := b.initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.max {
			d = b.max
			break
		}
	}

	// Add jitter: ±20%
	jitter := float64(d) * 0.2 * (rand.Float64()*2 - 1)
	return time.Duration(float64(d) + jitter)
}
