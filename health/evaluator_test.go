package health

import (
	"strings"
	"testing"
	"time"

	"github.com/MightComeback/molt-mascot-sub001/latency"
)

func baseInput(now time.Time) Input {
	return Input{
		Connected:     true,
		LastMessageAt: now.Add(-time.Second),
		Now:           now,
		LatencyMs:     30,
		SuccessRate:   100,
	}
}

func statsFor(t *testing.T, samples ...float64) *latency.Stats {
	t.Helper()
	tracker := latency.NewTracker(len(samples))
	for _, s := range samples {
		tracker.Push(s)
	}
	return tracker.Stats()
}

func TestDisconnectedAlwaysUnhealthy(t *testing.T) {
	now := time.Now()
	in := baseInput(now)
	in.Connected = false

	if got := Status(in, DefaultThresholds()); got != Unhealthy {
		t.Errorf("Status() = %q, want %q", got, Unhealthy)
	}

	reasons := Reasons(in, DefaultThresholds())
	if len(reasons) == 0 || reasons[0] != "not connected" {
		t.Errorf("Reasons() = %v, want leading %q", reasons, "not connected")
	}
}

func TestHealthyBaseline(t *testing.T) {
	now := time.Now()
	in := baseInput(now)
	in.Stats = statsFor(t, 20, 25, 30, 35)

	if got := Status(in, DefaultThresholds()); got != Healthy {
		t.Errorf("Status() = %q, want %q", got, Healthy)
	}
	if reasons := Reasons(in, DefaultThresholds()); len(reasons) != 0 {
		t.Errorf("Reasons() = %v, want empty", reasons)
	}
}

func TestStaleness(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name   string
		age    time.Duration
		paused bool
		want   Verdict
	}{
		{"fresh", 2 * time.Second, false, Healthy},
		{"degraded stale", 15 * time.Second, false, Degraded},
		{"unhealthy stale", 45 * time.Second, false, Unhealthy},
		{"paused suppresses staleness", 45 * time.Second, true, Healthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseInput(now)
			in.LastMessageAt = now.Add(-tt.age)
			in.PollingPaused = tt.paused
			if got := Status(in, DefaultThresholds()); got != tt.want {
				t.Errorf("Status() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStalenessReasonFormat(t *testing.T) {
	now := time.Now()
	in := baseInput(now)
	in.LastMessageAt = now.Add(-15 * time.Second)

	reasons := Reasons(in, DefaultThresholds())
	if len(reasons) != 1 || reasons[0] != "stale connection: 15s" {
		t.Errorf("Reasons() = %v, want [stale connection: 15s]", reasons)
	}
}

func TestLatencySeverity(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		ms   float64
		want Verdict
	}{
		{"excellent", 20, Healthy},
		{"good", 100, Healthy},
		{"fair", 300, Healthy},
		{"poor is degraded", 800, Degraded},
		{"extreme is unhealthy", 6000, Unhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseInput(now)
			in.LatencyMs = tt.ms
			if got := Status(in, DefaultThresholds()); got != tt.want {
				t.Errorf("Status() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMedianFallbackWhenNoInstantSample(t *testing.T) {
	now := time.Now()
	in := baseInput(now)
	in.LatencyMs = -1
	in.Stats = statsFor(t, 6000, 6000, 6000, 6000)

	if got := Status(in, DefaultThresholds()); got != Unhealthy {
		t.Errorf("Status() = %q, want %q on extreme median", got, Unhealthy)
	}
}

func TestJitterRules(t *testing.T) {
	now := time.Now()

	// Absolute rule: population stddev of {100, 700} is 300ms
	in := baseInput(now)
	in.Stats = statsFor(t, 100, 700)
	in.LatencyMs = 30
	if got := Status(in, DefaultThresholds()); got != Degraded {
		t.Errorf("Status() = %q, want %q for 300ms jitter", got, Degraded)
	}
	reasons := Reasons(in, DefaultThresholds())
	found := false
	for _, r := range reasons {
		if strings.HasPrefix(r, "high jitter: 300ms") {
			found = true
		}
	}
	if !found {
		t.Errorf("Reasons() = %v, want a high jitter entry", reasons)
	}

	// Ratio rule: {10, 10, 10, 130} has median 10 and stddev ~52, under
	// the absolute bound but well over 1.5x the median
	in = baseInput(now)
	in.Stats = statsFor(t, 10, 10, 10, 130)
	if got := Status(in, DefaultThresholds()); got != Degraded {
		t.Errorf("Status() = %q, want %q for jitter above 1.5x median", got, Degraded)
	}
	reasons = Reasons(in, DefaultThresholds())
	found = false
	for _, r := range reasons {
		if strings.Contains(r, "% of median") {
			found = true
		}
	}
	if !found {
		t.Errorf("Reasons() = %v, want a median-relative jitter entry", reasons)
	}
}

func TestJitterReasonIncludesMedianShare(t *testing.T) {
	now := time.Now()

	// Absolute violation with a known median: stddev of {100, 700} is
	// 300ms against a 400ms median
	in := baseInput(now)
	in.Stats = statsFor(t, 100, 700)

	reasons := Reasons(in, DefaultThresholds())
	found := false
	for _, r := range reasons {
		if r == "high jitter: 300ms (75% of median)" {
			found = true
		}
	}
	if !found {
		t.Errorf("Reasons() = %v, want high jitter entry with median share", reasons)
	}
}

func TestSuccessRate(t *testing.T) {
	now := time.Now()
	in := baseInput(now)
	in.SuccessRate = 75

	if got := Status(in, DefaultThresholds()); got != Degraded {
		t.Errorf("Status() = %q, want %q at 75%% success", got, Degraded)
	}
	reasons := Reasons(in, DefaultThresholds())
	if len(reasons) != 1 || reasons[0] != "low connection success rate: 75%" {
		t.Errorf("Reasons() = %v", reasons)
	}

	// Unknown rate is not an issue
	in.SuccessRate = -1
	if got := Status(in, DefaultThresholds()); got != Healthy {
		t.Errorf("Status() = %q, want %q with unknown success rate", got, Healthy)
	}
}

func TestReasonsCollectsAllMatches(t *testing.T) {
	now := time.Now()
	in := Input{
		Connected:     false,
		LastMessageAt: now.Add(-15 * time.Second),
		Now:           now,
		LatencyMs:     800,
		SuccessRate:   50,
	}

	reasons := Reasons(in, DefaultThresholds())
	if len(reasons) != 4 {
		t.Fatalf("Reasons() = %v, want 4 entries", reasons)
	}
}

func TestQualityBands(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		ms   float64
		want Quality
	}{
		{10, QualityExcellent},
		{49, QualityExcellent},
		{50, QualityGood},
		{149, QualityGood},
		{150, QualityFair},
		{499, QualityFair},
		{500, QualityPoor},
		{9000, QualityPoor},
	}

	for _, tt := range tests {
		if got := QualityOf(tt.ms, th); got != tt.want {
			t.Errorf("QualityOf(%v) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}
