// Package health derives a tri-state verdict for the Gateway connection
// from staleness, latency quality, jitter and connection success rate.
// Both entry points are pure functions over the same threshold table:
// Status short-circuits to the most severe match for badge display,
// Reasons collects every matching condition for detail display.
package health

import (
	"fmt"
	"time"

	"github.com/MightComeback/molt-mascot-sub001/latency"
)

// Verdict is the overall connection health
type Verdict string

const (
	Healthy   Verdict = "healthy"
	Degraded  Verdict = "degraded"
	Unhealthy Verdict = "unhealthy"
)

// Quality classifies an absolute latency value
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
)

// Thresholds is the shared rule table for both evaluation functions
type Thresholds struct {
	StaleDegraded  time.Duration // no inbound frame for this long: degraded
	StaleUnhealthy time.Duration // no inbound frame for this long: unhealthy

	LatencyExtremeMs   float64 // latency beyond this: unhealthy
	LatencyExcellentMs float64 // quality bands
	LatencyGoodMs      float64
	LatencyFairMs      float64

	JitterMs          float64 // absolute jitter beyond this: degraded
	JitterMedianRatio float64 // jitter beyond this multiple of median: degraded

	MinSuccessRate float64 // connect success percentage below this: degraded
}

// DefaultThresholds returns the standard rule table
func DefaultThresholds() Thresholds {
	return Thresholds{
		StaleDegraded:      10 * time.Second,
		StaleUnhealthy:     30 * time.Second,
		LatencyExtremeMs:   5000,
		LatencyExcellentMs: 50,
		LatencyGoodMs:      150,
		LatencyFairMs:      500,
		JitterMs:           200,
		JitterMedianRatio:  1.5,
		MinSuccessRate:     80,
	}
}

// Input carries everything the evaluator inspects. LatencyMs is the most
// recent instantaneous sample (negative when unknown) and SuccessRate is a
// percentage supplied by the consumer (negative when unknown). Staleness is
// suppressed while polling is intentionally paused.
type Input struct {
	Connected     bool
	PollingPaused bool
	LastMessageAt time.Time
	Now           time.Time
	LatencyMs     float64
	Stats         *latency.Stats
	SuccessRate   float64
}

// QualityOf classifies one latency value against the threshold bands
func QualityOf(ms float64, th Thresholds) Quality {
	switch {
	case ms < th.LatencyExcellentMs:
		return QualityExcellent
	case ms < th.LatencyGoodMs:
		return QualityGood
	case ms < th.LatencyFairMs:
		return QualityFair
	default:
		return QualityPoor
	}
}

// effectiveLatency prefers the instantaneous sample, falling back to the
// rolling median. The second return is false when neither exists.
func effectiveLatency(in Input) (float64, bool) {
	if in.LatencyMs >= 0 {
		return in.LatencyMs, true
	}
	if in.Stats != nil && in.Stats.Count > 0 {
		return float64(in.Stats.Median), true
	}
	return 0, false
}

func staleness(in Input) (time.Duration, bool) {
	if in.PollingPaused || in.LastMessageAt.IsZero() {
		return 0, false
	}
	return in.Now.Sub(in.LastMessageAt), true
}

// jitterIssue reports whether jitter violates the absolute bound or the
// median-relative bound, with a formatted detail string.
func jitterIssue(in Input, th Thresholds) (string, bool) {
	if in.Stats == nil || in.Stats.Count == 0 {
		return "", false
	}
	jitter := float64(in.Stats.Jitter)
	median := float64(in.Stats.Median)
	exceeded := jitter > th.JitterMs ||
		(median > 0 && jitter > th.JitterMedianRatio*median)
	if !exceeded {
		return "", false
	}
	if median > 0 {
		pct := int(jitter / median * 100)
		return fmt.Sprintf("high jitter: %dms (%d%% of median)", in.Stats.Jitter, pct), true
	}
	return fmt.Sprintf("high jitter: %dms", in.Stats.Jitter), true
}

// Status returns the overall verdict, short-circuiting most severe first
func Status(in Input, th Thresholds) Verdict {
	if !in.Connected {
		return Unhealthy
	}
	if age, ok := staleness(in); ok && age > th.StaleUnhealthy {
		return Unhealthy
	}
	if ms, ok := effectiveLatency(in); ok && ms > th.LatencyExtremeMs {
		return Unhealthy
	}

	if age, ok := staleness(in); ok && age > th.StaleDegraded {
		return Degraded
	}
	if ms, ok := effectiveLatency(in); ok && QualityOf(ms, th) == QualityPoor {
		return Degraded
	}
	if _, bad := jitterIssue(in, th); bad {
		return Degraded
	}
	if in.SuccessRate >= 0 && in.SuccessRate < th.MinSuccessRate {
		return Degraded
	}
	return Healthy
}

// Reasons collects a formatted string for every matching rule, in severity
// order. An empty slice means healthy.
func Reasons(in Input, th Thresholds) []string {
	reasons := make([]string, 0, 4)

	if !in.Connected {
		reasons = append(reasons, "not connected")
	}
	if age, ok := staleness(in); ok && age > th.StaleDegraded {
		reasons = append(reasons, fmt.Sprintf("stale connection: %ds", int(age.Seconds())))
	}
	if ms, ok := effectiveLatency(in); ok {
		if ms > th.LatencyExtremeMs {
			reasons = append(reasons, fmt.Sprintf("extreme latency: %dms", int(ms)))
		} else if QualityOf(ms, th) == QualityPoor {
			reasons = append(reasons, fmt.Sprintf("poor latency: %dms", int(ms)))
		}
	}
	if detail, bad := jitterIssue(in, th); bad {
		reasons = append(reasons, detail)
	}
	if in.SuccessRate >= 0 && in.SuccessRate < th.MinSuccessRate {
		reasons = append(reasons, fmt.Sprintf("low connection success rate: %d%%", int(in.SuccessRate)))
	}
	return reasons
}
