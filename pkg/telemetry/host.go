package telemetry

import (
	"errors"
	"time"

	"github.com/go-ping/ping"
	gopsnet "github.com/shirou/gopsutil/v3/net"
	"k8s.io/klog/v2"
)

// HostSource feeds the aggregator with real samples built from host
// network counters and an ICMP probe against a reference endpoint. It is
// optional; deployments that push telemetry through the API do not start
// it.
type HostSource struct {
	agg      *Aggregator
	endpoint string
	region   string
	interval time.Duration

	lastPackets uint64
	lastAt      time.Time
}

func NewHostSource(agg *Aggregator, endpoint, region string, interval time.Duration) *HostSource {
	return &HostSource{
		agg:      agg,
		endpoint: endpoint,
		region:   region,
		interval: interval,
	}
}

// Run samples until stopCh closes. Failures skip the tick; the loop never
// stops on its own.
func (h *HostSource) Run(stopCh <-chan struct{}) {
	klog.Infof("Host telemetry source started (endpoint=%s interval=%v)", h.endpoint, h.interval)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			klog.Info("Host telemetry source stopped")
			return
		case <-ticker.C:
			h.sampleOnce()
		}
	}
}

func (h *HostSource) sampleOnce() {
	now := time.Now()

	pps, ok := h.packetsPerSecond(now)
	if !ok {
		return
	}

	rtt, err := h.probeRTT()
	if err != nil {
		hostSampleErrors.WithLabelValues("probe").Inc()
		klog.Warningf("Latency probe to %s failed: %v", h.endpoint, err)
		return
	}
	probeRTT.Set(rtt)

	s := Sample{
		Timestamp:        now,
		PacketsPerSecond: pps,
		LatencyMs:        rtt,
		TimeOfDayBucket:  now.Hour(),
		DayOfWeek:        now.Weekday(),
		Region:           h.region,
	}
	if err := h.agg.Record(s); err != nil {
		hostSampleErrors.WithLabelValues("record").Inc()
		klog.Warningf("Dropping host sample: %v", err)
		return
	}
	klog.V(5).Infof("Host sample: pps=%.1f rtt=%.1fms", pps, rtt)
}

// packetsPerSecond derives a rate from the cumulative interface counters.
// The first call only primes the baseline.
func (h *HostSource) packetsPerSecond(now time.Time) (float64, bool) {
	counters, err := gopsnet.IOCounters(false)
	if err != nil || len(counters) == 0 {
		hostSampleErrors.WithLabelValues("counters").Inc()
		klog.Warningf("Failed to read interface counters: %v", err)
		return 0, false
	}
	total := counters[0].PacketsRecv + counters[0].PacketsSent

	defer func() {
		h.lastPackets = total
		h.lastAt = now
	}()

	if h.lastAt.IsZero() || total < h.lastPackets {
		return 0, false
	}
	elapsed := now.Sub(h.lastAt).Seconds()
	if elapsed <= 0 {
		return 0, false
	}
	return float64(total-h.lastPackets) / elapsed, true
}

func (h *HostSource) probeRTT() (float64, error) {
	pinger, err := ping.NewPinger(h.endpoint)
	if err != nil {
		return 0, err
	}
	pinger.Count = 3
	pinger.Timeout = 2 * time.Second
	pinger.SetPrivileged(true)

	if err := pinger.Run(); err != nil {
		return 0, err
	}
	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, errProbeLost
	}
	return float64(stats.AvgRtt.Microseconds()) / 1000.0, nil
}

var errProbeLost = errors.New("probe packets all lost")
