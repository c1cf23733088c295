package telemetry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// ErrInvalidSample is returned when a sample would break the buffer's
// timestamp ordering.
var ErrInvalidSample = errors.New("invalid telemetry sample")

// Sample is one immutable telemetry observation.
type Sample struct {
	Timestamp        time.Time
	PacketsPerSecond float64
	LatencyMs        float64
	TimeOfDayBucket  int // 0-23
	DayOfWeek        time.Weekday
	Region           string
}

// Aggregator stores samples in a fixed-capacity ring buffer. Writers append
// through Record; readers get copy-on-read snapshots and never block a
// writer for longer than the copy.
type Aggregator struct {
	mu       sync.RWMutex
	buf      []Sample
	head     int // index of the oldest sample
	size     int
	capacity int
	clock    clock.Clock
}

func NewAggregator(capacity int, clk clock.Clock) *Aggregator {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Aggregator{
		buf:      make([]Sample, capacity),
		capacity: capacity,
		clock:    clk,
	}
}

// Record appends a sample. Samples older than the newest stored one are
// rejected: downstream consumers rely on the buffer being sorted and an
// out-of-order sample means the producer's clock went backwards.
func (a *Aggregator) Record(s Sample) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.size > 0 {
		newest := a.buf[(a.head+a.size-1)%a.capacity]
		if s.Timestamp.Before(newest.Timestamp) {
			return fmt.Errorf("%w: timestamp %s older than newest stored %s",
				ErrInvalidSample, s.Timestamp.Format(time.RFC3339Nano), newest.Timestamp.Format(time.RFC3339Nano))
		}
	}

	if a.size == a.capacity {
		// Overwrite the oldest slot.
		a.buf[a.head] = s
		a.head = (a.head + 1) % a.capacity
	} else {
		a.buf[(a.head+a.size)%a.capacity] = s
		a.size++
	}
	samplesRecorded.Inc()
	bufferSize.Set(float64(a.size))
	return nil
}

// Window returns the samples within the trailing duration d, ascending by
// timestamp. The result is a fresh slice, safe to hold across later writes.
func (a *Aggregator) Window(d time.Duration) []Sample {
	cutoff := a.clock.Now().Add(-d)

	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Sample, 0, a.size)
	for i := 0; i < a.size; i++ {
		s := a.buf[(a.head+i)%a.capacity]
		if s.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Len reports how many samples are currently buffered.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.size
}

// Newest returns the most recent sample, if any.
func (a *Aggregator) Newest() (Sample, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.size == 0 {
		return Sample{}, false
	}
	return a.buf[(a.head+a.size-1)%a.capacity], true
}
