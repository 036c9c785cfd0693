package eventqueue

import (
	"math"
	"math/rand/v2"
	"time"
)

// NextRetryAt computes the deadline for attempt number n (1-indexed)
// using the configured exponential backoff with jitter.
func (p BackoffPolicy) NextRetryAt(now time.Time, attempt int) time.Time {
	return now.Add(p.Delay(attempt))
}

// Delay returns the backoff duration for the given attempt number.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	raw := float64(p.Base) * math.Pow(p.Factor, float64(attempt-1))
	if raw > float64(p.Max) {
		raw = float64(p.Max)
	}
	if p.Jitter <= 0 {
		return time.Duration(raw)
	}
	spread := raw * p.Jitter
	offset := (rand.Float64()*2 - 1) * spread
	d := time.Duration(raw + offset)
	if d < 0 {
		d = 0
	}
	return d
}
