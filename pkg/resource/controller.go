package resource

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"adaptive-orchestrator/engine/pkg/forecast"
)

// Config is the controller's policy surface.
type Config struct {
	Interval            time.Duration
	MinNodes            int
	MaxNodes            int
	RiskThreshold       float64
	HighWatermark       float64 // aggregate CPU percent
	LowWatermark        float64
	HeartbeatStaleAfter time.Duration
	ProvisionRetries    int
	ProvisionBackoff    time.Duration
	InstanceClass       string
	// MigrateBoost is added to the risk score when the current forecast
	// recommends migration. Zero means the 0.25 default.
	MigrateBoost float64
}

// MigrationEvent records a node reaching Terminated. ReplacementID is empty
// for plain scale-downs.
type MigrationEvent struct {
	NodeID        string
	ReplacementID string
	Reason        string
	At            time.Time
}

// EventSink receives migration events for notification and audit.
type EventSink interface {
	MigrationOccurred(ev MigrationEvent)
}

// ForecastSource is the read-only view of the slow loop the controller
// consumes.
type ForecastSource interface {
	Current() (forecast.Window, bool)
}

// drainInfo remembers why a node is draining so the eventual termination
// event carries the original reason and replacement.
type drainInfo struct {
	replacementID string
	reason        string
}

// Controller is the medium loop. It is the only writer of the pool and the
// risk state.
type Controller struct {
	cfg       Config
	pool      *Pool
	provider  Provider
	forecasts ForecastSource
	sink      EventSink
	clock     clock.Clock

	// busy reports whether a node still has tasks executing; draining
	// nodes are not terminated while busy. Optional.
	busy func(nodeID string) bool

	mu              sync.RWMutex
	risk            RiskState
	forced          map[string]bool
	draining        map[string]drainInfo
	provisionFailed bool
}

func NewController(cfg Config, pool *Pool, provider Provider, forecasts ForecastSource, sink EventSink, clk clock.Clock) *Controller {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Controller{
		cfg:       cfg,
		pool:      pool,
		provider:  provider,
		forecasts: forecasts,
		sink:      sink,
		clock:     clk,
		forced:    make(map[string]bool),
		draining:  make(map[string]drainInfo),
	}
}

// SetBusyCheck wires the executor's per-node busy view. Must be called
// before Run.
func (c *Controller) SetBusyCheck(busy func(nodeID string) bool) {
	c.busy = busy
}

// Run executes cycles on the configured cadence until stopCh closes.
func (c *Controller) Run(stopCh <-chan struct{}) {
	klog.Infof("Resource controller started (interval=%v pool=[%d,%d])",
		c.cfg.Interval, c.cfg.MinNodes, c.cfg.MaxNodes)
	wait.Until(c.RunCycle, c.cfg.Interval, stopCh)
	klog.Info("Resource controller stopped")
}

// ForceMigration schedules a migration of the given node at the start of
// the next cycle, bypassing the risk threshold. It can be cancelled until
// the cycle picks it up.
func (c *Controller) ForceMigration(nodeID string) error {
	n, ok := c.pool.Get(nodeID)
	if !ok || n.State == StateTerminated {
		return ErrUnknownNode
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.forced[nodeID] = true
	klog.Infof("Forced migration queued for node %s", nodeID)
	return nil
}

// CancelForceMigration withdraws a pending forced migration. Returns false
// if the request was already consumed by a cycle.
func (c *Controller) CancelForceMigration(nodeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.forced[nodeID] {
		return false
	}
	delete(c.forced, nodeID)
	return true
}

// Risk returns the current risk state.
func (c *Controller) Risk() RiskState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.risk
}

// ProvisionDegraded reports whether the last provisioning attempt exhausted
// its retries.
func (c *Controller) ProvisionDegraded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.provisionFailed
}

// RunCycle performs one control pass: settle drains, refresh risk, apply
// forced and risk-driven migrations, then the load watermarks. Exported for
// manual triggering and virtual-clock tests.
func (c *Controller) RunCycle() {
	start := c.clock.Now()
	defer func() {
		controllerCycleDuration.Observe(c.clock.Since(start).Seconds())
		poolSize.Set(float64(c.pool.Size()))
	}()

	c.expireStaleNodes()
	c.settleDraining()

	nodes := c.pool.Snapshot()
	risk := c.refreshRisk(nodes)

	c.applyForcedMigrations()

	if risk.Score > c.cfg.RiskThreshold {
		c.migrateRiskiest(nodes)
	}

	c.applyWatermarks(nodes)
	c.ensureMinimum()
}

// expireStaleNodes decommissions nodes whose heartbeat exceeded the
// staleness threshold.
func (c *Controller) expireStaleNodes() {
	if c.cfg.HeartbeatStaleAfter <= 0 {
		return
	}
	now := c.clock.Now()
	for _, n := range c.pool.Snapshot() {
		if n.State == StateTerminated {
			continue
		}
		if now.Sub(n.LastHeartbeat) <= c.cfg.HeartbeatStaleAfter {
			continue
		}
		klog.Warningf("Node %s heartbeat stale for %v, decommissioning",
			n.ID, now.Sub(n.LastHeartbeat))
		c.terminateNode(n.ID, "", "heartbeat_stale")
	}
}

// settleDraining terminates draining nodes that finished their in-flight
// work. Tasks already dispatched run to completion or deadline; the node
// waits for them.
func (c *Controller) settleDraining() {
	for _, n := range c.pool.Snapshot() {
		if n.State != StateDraining {
			continue
		}
		if c.busy != nil && c.busy(n.ID) {
			klog.V(4).Infof("Node %s still busy, drain deferred", n.ID)
			continue
		}

		c.mu.Lock()
		info := c.draining[n.ID]
		delete(c.draining, n.ID)
		c.mu.Unlock()

		c.terminateNode(n.ID, info.replacementID, info.reason)
	}
}

// refreshRisk recomputes the risk state from live node metrics and the
// current forecast.
func (c *Controller) refreshRisk(nodes []Node) RiskState {
	load := aggregateCPU(nodes)
	anomaly := clamp01(cpuSpread(nodes) / 50.0)

	score := clamp01(0.55*(load/100.0) + 0.45*anomaly)

	boost := c.cfg.MigrateBoost
	if boost == 0 {
		boost = 0.25
	}
	if w, ok := c.forecasts.Current(); ok && w.Action == forecast.ActionMigrate {
		score = clamp01(score + boost)
	}

	risk := RiskState{Score: score, Anomaly: anomaly, UpdatedAt: c.clock.Now()}

	c.mu.Lock()
	c.risk = risk
	c.mu.Unlock()

	riskScore.Set(score)
	klog.V(4).Infof("Risk refreshed: score=%.2f anomaly=%.2f load=%.1f%%", score, anomaly, load)
	return risk
}

// applyForcedMigrations consumes every pending forced request.
func (c *Controller) applyForcedMigrations() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.forced))
	for id := range c.forced {
		ids = append(ids, id)
	}
	c.forced = make(map[string]bool)
	c.mu.Unlock()

	sort.Strings(ids)
	for _, id := range ids {
		n, ok := c.pool.Get(id)
		if !ok || n.State != StateActive {
			klog.Warningf("Forced migration skipped: node %s not active", id)
			continue
		}
		if !c.migrate(n, "forced") {
			// Retry next cycle; the request stays cancellable meanwhile.
			c.mu.Lock()
			c.forced[id] = true
			c.mu.Unlock()
		}
	}
}

// migrateRiskiest relocates the node with the highest cumulative uptime;
// ties break toward the highest cost per second.
func (c *Controller) migrateRiskiest(nodes []Node) {
	candidates := activeOnly(nodes)
	if len(candidates) == 0 {
		return
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].UptimeSeconds != candidates[j].UptimeSeconds {
			return candidates[i].UptimeSeconds > candidates[j].UptimeSeconds
		}
		return candidates[i].CostPerSecond > candidates[j].CostPerSecond
	})
	c.migrate(candidates[0], "risk_threshold")
}

// migrate provisions a replacement first, then drains the old node. The
// pairing keeps the capacity gap to at most the one in-flight replacement.
// Returns false when the migration did not start and should be retried.
func (c *Controller) migrate(n Node, reason string) bool {
	if c.pool.Size() >= c.cfg.MaxNodes && c.busy != nil && c.busy(n.ID) {
		// A busy node keeps draining past the end of the cycle, so at
		// capacity the pair would hold the pool above maxNodes until the
		// node idles. Wait for the node to idle or for capacity to free.
		klog.V(4).Infof("Migration of %s deferred: pool at maxNodes and node busy", n.ID)
		return false
	}

	replacement, ok := c.provisionPaired(reason)
	if !ok {
		klog.Warningf("Migration of %s aborted: replacement provisioning failed", n.ID)
		return false
	}

	if err := c.pool.Transition(n.ID, StateDraining); err != nil {
		klog.Warningf("Migration of %s aborted: %v", n.ID, err)
		return false
	}

	c.mu.Lock()
	c.draining[n.ID] = drainInfo{replacementID: replacement.ID, reason: reason}
	c.mu.Unlock()

	klog.Infof("Node %s draining for migration (reason=%s replacement=%s)",
		n.ID, reason, replacement.ID)

	// Terminate immediately when nothing is running on it.
	if c.busy == nil || !c.busy(n.ID) {
		c.mu.Lock()
		delete(c.draining, n.ID)
		c.mu.Unlock()
		c.terminateNode(n.ID, replacement.ID, reason)
	}
	return true
}

// applyWatermarks scales on aggregate CPU load.
func (c *Controller) applyWatermarks(nodes []Node) {
	active := activeOnly(nodes)
	if len(active) == 0 {
		return
	}
	load := aggregateCPU(active)
	size := c.pool.Size()

	switch {
	case load > c.cfg.HighWatermark && size < c.cfg.MaxNodes:
		klog.Infof("Load %.1f%% above high watermark %.1f%%, scaling up", load, c.cfg.HighWatermark)
		if n, ok := c.provisionNode("scale_up"); ok {
			klog.Infof("Provisioned node %s (class=%s)", n.ID, n.InstanceClass)
		}

	case load < c.cfg.LowWatermark && size > c.cfg.MinNodes:
		// Drain the least-utilized node; equally idle nodes lose by cost.
		sort.Slice(active, func(i, j int) bool {
			if active[i].CPUUsage != active[j].CPUUsage {
				return active[i].CPUUsage < active[j].CPUUsage
			}
			return active[i].CostPerSecond > active[j].CostPerSecond
		})
		victim := active[0]
		if err := c.pool.Transition(victim.ID, StateDraining); err != nil {
			klog.Warningf("Scale-down of %s failed: %v", victim.ID, err)
			return
		}
		c.mu.Lock()
		c.draining[victim.ID] = drainInfo{reason: "scale_down"}
		c.mu.Unlock()
		klog.Infof("Load %.1f%% below low watermark %.1f%%, draining node %s",
			load, c.cfg.LowWatermark, victim.ID)
		if c.busy == nil || !c.busy(victim.ID) {
			c.mu.Lock()
			delete(c.draining, victim.ID)
			c.mu.Unlock()
			c.terminateNode(victim.ID, "", "scale_down")
		}
	}
}

// ensureMinimum tops the pool back up to minNodes.
func (c *Controller) ensureMinimum() {
	for c.pool.Size() < c.cfg.MinNodes {
		n, ok := c.provisionNode("ensure_minimum")
		if !ok {
			return // ProvisionFailed already surfaced; keep the loop alive
		}
		klog.Infof("Provisioned node %s to satisfy pool minimum", n.ID)
	}
}

// provisionNode brings up one node with bounded retries and backoff. On
// success the node is added Active; on exhaustion the ProvisionFailed
// condition is raised and the cycle continues with the existing pool.
func (c *Controller) provisionNode(reason string) (Node, bool) {
	if c.pool.Size() >= c.cfg.MaxNodes {
		klog.V(4).Infof("Provision skipped (%s): pool at maxNodes=%d", reason, c.cfg.MaxNodes)
		return Node{}, false
	}
	return c.doProvision(reason)
}

// provisionPaired is provisionNode without the maxNodes gate: a paired
// replacement may put the pool one over the cap until the drained node
// terminates.
func (c *Controller) provisionPaired(reason string) (Node, bool) {
	if c.pool.Size() > c.cfg.MaxNodes {
		klog.V(4).Infof("Paired provision skipped (%s): replacement already in flight", reason)
		return Node{}, false
	}
	return c.doProvision(reason)
}

func (c *Controller) doProvision(reason string) (Node, bool) {
	backoff := wait.Backoff{
		Duration: c.cfg.ProvisionBackoff,
		Factor:   2.0,
		Steps:    c.cfg.ProvisionRetries + 1,
	}

	var node Node
	err := wait.ExponentialBackoff(backoff, func() (bool, error) {
		n, provErr := c.provider.Provision(context.Background(), c.cfg.InstanceClass)
		if provErr != nil {
			provisionRetries.Inc()
			klog.Warningf("Provision attempt failed (%s): %v", reason, provErr)
			return false, nil
		}
		node = n
		return true, nil
	})
	if err != nil {
		c.mu.Lock()
		c.provisionFailed = true
		c.mu.Unlock()
		provisionFailures.Inc()
		klog.Errorf("Provisioning failed after %d retries (%s)", c.cfg.ProvisionRetries, reason)
		return Node{}, false
	}

	c.pool.Add(node)
	if err := c.pool.Transition(node.ID, StateActive); err != nil {
		klog.Warningf("Failed to activate node %s: %v", node.ID, err)
		return Node{}, false
	}

	c.mu.Lock()
	c.provisionFailed = false
	c.mu.Unlock()
	provisionsTotal.WithLabelValues(reason).Inc()
	return node, true
}

// terminateNode walks the node to Terminated, releases it at the provider,
// emits the migration event, and drops it from the pool.
func (c *Controller) terminateNode(id, replacementID, reason string) {
	if err := c.pool.Transition(id, StateTerminated); err != nil {
		// Draining -> Terminated and Active -> Terminated are both legal;
		// anything else means the node raced away underneath us.
		klog.Warningf("Termination of %s skipped: %v", id, err)
		return
	}
	if err := c.provider.Terminate(context.Background(), id); err != nil {
		klog.Warningf("Provider terminate for %s failed: %v", id, err)
	}
	c.pool.Remove(id)

	ev := MigrationEvent{
		NodeID:        id,
		ReplacementID: replacementID,
		Reason:        reason,
		At:            c.clock.Now(),
	}
	migrationsTotal.WithLabelValues(reason).Inc()
	klog.Infof("Node %s terminated (reason=%s replacement=%s)", id, reason, replacementID)
	if c.sink != nil {
		c.sink.MigrationOccurred(ev)
	}
}

func activeOnly(nodes []Node) []Node {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if n.State == StateActive {
			out = append(out, n)
		}
	}
	return out
}

func aggregateCPU(nodes []Node) float64 {
	if len(nodes) == 0 {
		return 0
	}
	var sum float64
	for _, n := range nodes {
		sum += n.CPUUsage
	}
	return sum / float64(len(nodes))
}

func cpuSpread(nodes []Node) float64 {
	if len(nodes) < 2 {
		return 0
	}
	mean := aggregateCPU(nodes)
	var sq float64
	for _, n := range nodes {
		d := n.CPUUsage - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(nodes)-1))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
