package connection

import (
	"math"
	"time"
)

// Backoff defaults
const (
	DefaultReconnectBase  = 1 * time.Second
	DefaultReconnectMax   = 30 * time.Second
	DefaultJitterFraction = 0.2
)

// Delay computes the reconnect delay for the given attempt count: base
// doubled per attempt, capped at max, then perturbed by up to
// ±jitterFraction of the capped value so a fleet of widgets does not
// reconnect in lockstep. rnd must return values in [0, 1); passing nil
// disables jitter, which keeps the function deterministic for tests.
// Attempt 0 yields base before jitter.
func Delay(attempt uint, base, max time.Duration, jitterFraction float64, rnd func() float64) time.Duration {
	if base <= 0 {
		base = DefaultReconnectBase
	}
	if max < base {
		max = base
	}

	capped := float64(max)
	if attempt < 63 {
		raw := float64(base) * math.Pow(2, float64(attempt))
		if raw < capped {
			capped = raw
		}
	}

	if jitterFraction > 0 && rnd != nil {
		// rnd()*2-1 spans [-1, 1)
		capped *= 1 + (rnd()*2-1)*jitterFraction
	}
	if capped < 0 {
		capped = 0
	}
	return time.Duration(capped)
}
