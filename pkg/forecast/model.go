package forecast

import (
	"errors"
	"math"
	"sort"
	"time"

	"adaptive-orchestrator/engine/pkg/telemetry"
)

// ErrInsufficientData is returned by models that cannot produce a
// prediction from the given window. The engine treats it as recoverable.
var ErrInsufficientData = errors.New("insufficient telemetry for prediction")

// Prediction is the raw model output before the engine maps it onto an
// action.
type Prediction struct {
	QuietStart time.Time
	Duration   time.Duration
	Confidence float64 // 0..1
}

// Model fits a telemetry window and predicts the next quiet window.
// Implementations must be deterministic for a given input so tests can
// inject fixed windows.
type Model interface {
	Name() string
	Fit(samples []telemetry.Sample) (Prediction, error)
}

// clamp01 keeps confidence scores inside the contract range.
func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// MovingAverage predicts from a linear trend over the window mean. Low
// variance around the trend means high confidence.
type MovingAverage struct {
	// QuietWindow is the duration attached to predictions.
	QuietWindow time.Duration
}

func (m *MovingAverage) Name() string { return "moving_average" }

func (m *MovingAverage) Fit(samples []telemetry.Sample) (Prediction, error) {
	if len(samples) < 2 {
		return Prediction{}, ErrInsufficientData
	}

	loads := make([]float64, len(samples))
	for i, s := range samples {
		loads[i] = s.PacketsPerSecond
	}
	mean := meanOf(loads)
	stddev := stddevOf(loads, mean)

	// Relative dispersion drives confidence: a flat window forecasts well.
	rel := 0.0
	if mean > 0 {
		rel = stddev / mean
	}
	conf := clamp01(1 - rel)

	last := samples[len(samples)-1]
	return Prediction{
		QuietStart: last.Timestamp,
		Duration:   m.quietWindow(),
		Confidence: conf,
	}, nil
}

func (m *MovingAverage) quietWindow() time.Duration {
	if m.QuietWindow > 0 {
		return m.QuietWindow
	}
	return 5 * time.Minute
}

// ExponentialSmoothing weights recent samples more heavily and scores
// confidence by one-step-ahead prediction error.
type ExponentialSmoothing struct {
	Alpha       float64 // 0 < Alpha <= 1; 0 means the 0.3 default
	QuietWindow time.Duration
}

func (m *ExponentialSmoothing) Name() string { return "exponential_smoothing" }

func (m *ExponentialSmoothing) Fit(samples []telemetry.Sample) (Prediction, error) {
	if len(samples) < 3 {
		return Prediction{}, ErrInsufficientData
	}
	alpha := m.Alpha
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}

	level := samples[0].PacketsPerSecond
	var sumAbsErr, sumActual float64
	for _, s := range samples[1:] {
		err := s.PacketsPerSecond - level
		sumAbsErr += math.Abs(err)
		sumActual += math.Abs(s.PacketsPerSecond)
		level += alpha * err
	}

	conf := 1.0
	if sumActual > 0 {
		conf = clamp01(1 - sumAbsErr/sumActual)
	}

	last := samples[len(samples)-1]
	return Prediction{
		QuietStart: last.Timestamp,
		Duration:   m.quietWindow(),
		Confidence: conf,
	}, nil
}

func (m *ExponentialSmoothing) quietWindow() time.Duration {
	if m.QuietWindow > 0 {
		return m.QuietWindow
	}
	return 5 * time.Minute
}

// Seasonal buckets samples by day-of-week and hour and predicts the
// quietest upcoming bucket. Confidence grows with per-bucket sample counts
// and shrinks with in-bucket variance.
type Seasonal struct {
	// MinBucketSamples gates how many observations a bucket needs before
	// it is trusted at all.
	MinBucketSamples int
}

func (m *Seasonal) Name() string { return "seasonal" }

type bucketKey struct {
	day  time.Weekday
	hour int
}

func (m *Seasonal) Fit(samples []telemetry.Sample) (Prediction, error) {
	minCount := m.MinBucketSamples
	if minCount <= 0 {
		minCount = 3
	}
	if len(samples) < minCount {
		return Prediction{}, ErrInsufficientData
	}

	byBucket := make(map[bucketKey][]float64)
	for _, s := range samples {
		k := bucketKey{day: s.DayOfWeek, hour: s.TimeOfDayBucket}
		byBucket[k] = append(byBucket[k], s.PacketsPerSecond)
	}

	type bucketStat struct {
		key    bucketKey
		mean   float64
		stddev float64
		count  int
	}
	stats := make([]bucketStat, 0, len(byBucket))
	for k, loads := range byBucket {
		if len(loads) < minCount {
			continue
		}
		mean := meanOf(loads)
		stats = append(stats, bucketStat{
			key:    k,
			mean:   mean,
			stddev: stddevOf(loads, mean),
			count:  len(loads),
		})
	}
	if len(stats) == 0 {
		return Prediction{}, ErrInsufficientData
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].mean != stats[j].mean {
			return stats[i].mean < stats[j].mean
		}
		return stats[i].count > stats[j].count
	})
	quietest := stats[0]

	rel := 0.0
	if quietest.mean > 0 {
		rel = quietest.stddev / quietest.mean
	}
	// Sample-count factor saturates at 20 observations per bucket.
	countFactor := math.Min(1, float64(quietest.count)/20.0)
	conf := clamp01((1 - rel) * countFactor)

	last := samples[len(samples)-1]
	return Prediction{
		QuietStart: nextBucketStart(last.Timestamp, quietest.key),
		Duration:   time.Hour,
		Confidence: conf,
	}, nil
}

// nextBucketStart finds the next wall-clock occurrence of the bucket at or
// after ts.
func nextBucketStart(ts time.Time, k bucketKey) time.Time {
	t := time.Date(ts.Year(), ts.Month(), ts.Day(), k.hour, 0, 0, 0, ts.Location())
	if t.Before(ts) {
		t = t.AddDate(0, 0, 1)
	}
	for t.Weekday() != k.day {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func meanOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func stddevOf(vals []float64, mean float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	var sq float64
	for _, v := range vals {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(vals)-1))
}
