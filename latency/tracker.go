// Package latency keeps a rolling window of round-trip samples and derives
// summary statistics for the presentation layer.
package latency

import (
	"math"
	"sort"
	"sync"
)

const (
	// DefaultCapacity is the ring size when none is configured
	DefaultCapacity = 60

	// DefaultTrendThresholdPercent is the relative change required before a
	// window is classified as rising or falling
	DefaultTrendThresholdPercent = 25
)

// Minimum sample counts below which point estimates are not reported
const (
	minSamplesP95   = 2
	minSamplesP99   = 10
	minSamplesTrend = 4
)

// Trend classifies the direction of recent latency movement
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
)

// Stats is a snapshot of the current window, all values in whole
// milliseconds. P95 is zero below 2 samples and P99 below 10; use HasP95
// and HasP99 to distinguish a computed zero from an absent estimate.
type Stats struct {
	Count  int
	Min    int
	Max    int
	Avg    int
	Median int
	P95    int
	P99    int
	Jitter int
}

// HasP95 reports whether enough samples existed to estimate p95
func (s *Stats) HasP95() bool { return s.Count >= minSamplesP95 }

// HasP99 reports whether enough samples existed to estimate p99
func (s *Stats) HasP99() bool { return s.Count >= minSamplesP99 }

// Tracker is a fixed-capacity ring buffer of round-trip samples. Stats are
// computed lazily and cached until the next accepted push. Safe for
// concurrent use; the connection layer writes, the presentation layer reads.
type Tracker struct {
	mu          sync.Mutex
	samples     []float64
	head        int // index of the oldest sample
	count       int
	totalPushed uint64
	cached      *Stats
}

// NewTracker creates a tracker. A non-positive capacity selects the default.
func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracker{samples: make([]float64, capacity)}
}

// Push records one round-trip sample in milliseconds. Negative, NaN and
// infinite values are silently ignored; sample collection must never fail
// the caller.
func (t *Tracker) Push(ms float64) {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || ms < 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.count < len(t.samples) {
		t.samples[(t.head+t.count)%len(t.samples)] = ms
		t.count++
	} else {
		// Full: overwrite the oldest sample
		t.samples[t.head] = ms
		t.head = (t.head + 1) % len(t.samples)
	}
	t.totalPushed++
	t.cached = nil
}

// Stats returns the cached snapshot, recomputing only after a new sample.
// Returns nil when the window is empty.
func (t *Tracker) Stats() *Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.count == 0 {
		return nil
	}
	if t.cached != nil {
		return t.cached
	}

	window := t.chronological()
	min, max := window[0], window[0]
	sum := 0.0
	for _, v := range window {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}
	avg := sum / float64(len(window))

	variance := 0.0
	for _, v := range window {
		d := v - avg
		variance += d * d
	}
	variance /= float64(len(window))

	sorted := append([]float64(nil), window...)
	sort.Float64s(sorted)

	stats := &Stats{
		Count:  len(window),
		Min:    int(math.Round(min)),
		Max:    int(math.Round(max)),
		Avg:    int(math.Round(avg)),
		Median: int(math.Round(medianOf(sorted))),
		Jitter: int(math.Round(math.Sqrt(variance))),
	}
	if len(sorted) >= minSamplesP95 {
		stats.P95 = int(math.Round(percentileOf(sorted, 95)))
	}
	if len(sorted) >= minSamplesP99 {
		stats.P99 = int(math.Round(percentileOf(sorted, 99)))
	}
	t.cached = stats
	return stats
}

// Trend compares the older half of the window against the newer half. A
// non-positive threshold selects the default 25%. The second return is
// false below 4 samples.
func (t *Tracker) Trend(thresholdPercent float64) (Trend, bool) {
	if thresholdPercent <= 0 {
		thresholdPercent = DefaultTrendThresholdPercent
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.count < minSamplesTrend {
		return "", false
	}
	window := t.chronological()
	half := len(window) / 2
	olderMean := meanOf(window[:half])
	newerMean := meanOf(window[half:])

	if olderMean == 0 {
		if newerMean > 0 {
			return TrendRising, true
		}
		return TrendStable, true
	}

	change := (newerMean - olderMean) / olderMean * 100
	switch {
	case change > thresholdPercent:
		return TrendRising, true
	case change < -thresholdPercent:
		return TrendFalling, true
	default:
		return TrendStable, true
	}
}

// PercentAbove returns the share of buffered samples strictly greater than
// the threshold, as an integer percentage. The second return is false when
// the window is empty.
func (t *Tracker) PercentAbove(thresholdMs float64) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.count == 0 {
		return 0, false
	}
	above := 0
	for _, v := range t.chronological() {
		if v > thresholdMs {
			above++
		}
	}
	return int(math.Round(float64(above) / float64(t.count) * 100)), true
}

// Last returns the most recent sample, if any
func (t *Tracker) Last() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.count == 0 {
		return 0, false
	}
	return t.samples[(t.head+t.count-1)%len(t.samples)], true
}

// Count returns the number of samples currently buffered
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// TotalPushed returns the number of accepted samples including evicted ones
func (t *Tracker) TotalPushed() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalPushed
}

// Capacity returns the fixed ring size
func (t *Tracker) Capacity() int {
	return len(t.samples)
}

// Reset clears the window and counters. Called once per fresh successful
// handshake so a previous session's quality never leaks into the new one.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.head = 0
	t.count = 0
	t.totalPushed = 0
	t.cached = nil
}

// chronological materializes the ring oldest-first. Caller holds t.mu.
func (t *Tracker) chronological() []float64 {
	out := make([]float64, t.count)
	for i := 0; i < t.count; i++ {
		out[i] = t.samples[(t.head+i)%len(t.samples)]
	}
	return out
}

func meanOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// medianOf expects a sorted non-empty slice
func medianOf(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// percentileOf expects a sorted non-empty slice and uses the nearest-rank
// method
func percentileOf(sorted []float64, p float64) float64 {
	n := len(sorted)
	rank := int(math.Ceil(p / 100 * float64(n)))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}
