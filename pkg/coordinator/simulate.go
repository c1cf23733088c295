package coordinator

import (
	"fmt"
	"math"
	"time"

	"k8s.io/klog/v2"

	"adaptive-orchestrator/engine/pkg/telemetry"
)

// Load patterns accepted by SimulateLoad.
const (
	PatternSteady        = "steady"
	PatternRisingLatency = "rising-latency"
	PatternBursty        = "bursty"
)

// SimulateLoad is a demo/test hook: it backfills the telemetry window with
// a deterministic synthetic pattern. It is not part of the production API
// surface and is never routed by default.
func (c *Coordinator) SimulateLoad(pattern string, samples int) error {
	if samples <= 0 {
		samples = 60
	}

	var gen func(i int) (pps, latency float64)
	switch pattern {
	case PatternSteady:
		gen = func(i int) (float64, float64) {
			return 1000, 20
		}
	case PatternRisingLatency:
		// Latency climbs steadily while traffic wobbles; the forecast
		// confidence should drop and recommend migration.
		gen = func(i int) (float64, float64) {
			wobble := 400 * math.Sin(float64(i)/3.0)
			return 1000 + wobble, 20 + float64(i)*4
		}
	case PatternBursty:
		gen = func(i int) (float64, float64) {
			if i%10 < 3 {
				return 5000, 45
			}
			return 500, 15
		}
	default:
		return fmt.Errorf("unknown load pattern %q", pattern)
	}

	// Samples are spaced one second apart, ending now, so they land inside
	// the forecast lookback window.
	now := c.clock.Now()
	start := now.Add(-time.Duration(samples-1) * time.Second)
	for i := 0; i < samples; i++ {
		ts := start.Add(time.Duration(i) * time.Second)
		pps, latency := gen(i)
		s := telemetry.Sample{
			Timestamp:        ts,
			PacketsPerSecond: pps,
			LatencyMs:        latency,
			TimeOfDayBucket:  ts.Hour(),
			DayOfWeek:        ts.Weekday(),
			Region:           "simulated",
		}
		if err := c.agg.Record(s); err != nil {
			return fmt.Errorf("simulate %s sample %d: %w", pattern, i, err)
		}
	}
	klog.Infof("Simulated %d %q telemetry samples", samples, pattern)
	return nil
}
