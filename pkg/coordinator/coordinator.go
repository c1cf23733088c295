// Package coordinator wires the three loops together and exposes the
// engine's control surface. The coordinator runs no cycle of its own; it is
// the single serialization point for cross-component snapshot reads.
package coordinator

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"adaptive-orchestrator/engine/pkg/audit"
	"adaptive-orchestrator/engine/pkg/config"
	"adaptive-orchestrator/engine/pkg/events"
	"adaptive-orchestrator/engine/pkg/executor"
	"adaptive-orchestrator/engine/pkg/forecast"
	"adaptive-orchestrator/engine/pkg/resource"
	"adaptive-orchestrator/engine/pkg/telemetry"
)

// LoopStatus describes one control loop in the status snapshot.
type LoopStatus struct {
	Interval  time.Duration `json:"interval"`
	Processed uint64        `json:"processed"`
	LastRun   time.Time     `json:"lastRun"`
}

// Snapshot is the read-only cross-component view. Values are copies; a
// snapshot never changes after Status returns it.
type Snapshot struct {
	Forecast            *forecast.Window      `json:"forecast,omitempty"`
	ForecastUnavailable bool                  `json:"forecastUnavailable"`
	Nodes               []resource.Node       `json:"nodes"`
	PoolSize            int                   `json:"poolSize"`
	CostPerSecond       float64               `json:"costPerSecond"`
	Risk                resource.RiskState    `json:"risk"`
	ProvisionDegraded   bool                  `json:"provisionDegraded"`
	Tasks               executor.Summary      `json:"tasks"`
	Loops               map[string]LoopStatus `json:"loops"`
	TakenAt             time.Time             `json:"takenAt"`
}

// Coordinator owns the shared snapshot and delegates control operations to
// the loop that owns each resource.
type Coordinator struct {
	cfg      config.Config
	agg      *telemetry.Aggregator
	engine   *forecast.Engine
	ctrl     *resource.Controller
	pool     *resource.Pool
	exec     *executor.Executor
	notifier events.Notifier
	store    *audit.Store
	clock    clock.Clock

	mu         sync.RWMutex
	forecasts  uint64
	migrations uint64
	tasksDone  uint64
	lastSlow   time.Time
	lastMedium time.Time
	lastFast   time.Time
}

// New builds the coordinator. The loops are attached afterwards: they need
// the coordinator as their event sink, so it must exist first.
func New(
	cfg config.Config,
	agg *telemetry.Aggregator,
	pool *resource.Pool,
	notifier events.Notifier,
	store *audit.Store,
	clk clock.Clock,
) *Coordinator {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Coordinator{
		cfg:      cfg,
		agg:      agg,
		pool:     pool,
		notifier: notifier,
		store:    store,
		clock:    clk,
	}
}

// Attach binds the three loops. Must be called before any control operation.
func (c *Coordinator) Attach(engine *forecast.Engine, ctrl *resource.Controller, exec *executor.Executor) {
	c.engine = engine
	c.ctrl = ctrl
	c.exec = exec
}

// RecordTelemetry feeds one sample into the aggregator.
func (c *Coordinator) RecordTelemetry(s telemetry.Sample) error {
	return c.agg.Record(s)
}

// SubmitTask delegates to the executor. A missing ID is assigned here so
// transports can submit anonymous tasks.
func (c *Coordinator) SubmitTask(t executor.Task) (executor.Handle, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return c.exec.Submit(t)
}

// CancelTask withdraws a pending task.
func (c *Coordinator) CancelTask(id string) error {
	return c.exec.Cancel(id)
}

// Task returns a task's current state.
func (c *Coordinator) Task(id string) (executor.Task, bool) {
	return c.exec.Status(id)
}

// TaskResult returns a completed task's aggregated output.
func (c *Coordinator) TaskResult(id string) (string, error) {
	return c.exec.Result(id)
}

// NodeHeartbeat records fresh node metrics. Nodes report through the
// transport layer; the pool rejects unknown or terminated IDs.
func (c *Coordinator) NodeHeartbeat(nodeID string, cpu, mem float64) error {
	return c.pool.UpdateMetrics(nodeID, cpu, mem)
}

// ForceMigration queues a migration of the node regardless of the risk
// threshold. It takes effect at the start of the next controller cycle and
// can be cancelled until then.
func (c *Coordinator) ForceMigration(nodeID string) error {
	return c.ctrl.ForceMigration(nodeID)
}

// CancelForceMigration withdraws a queued forced migration.
func (c *Coordinator) CancelForceMigration(nodeID string) bool {
	return c.ctrl.CancelForceMigration(nodeID)
}

// TriggerLoop runs one out-of-band cycle of the named loop.
func (c *Coordinator) TriggerLoop(kind string) error {
	switch kind {
	case "slow":
		c.engine.RunCycle()
	case "medium":
		c.ctrl.RunCycle()
	case "fast":
		c.exec.RunCycle()
	default:
		return fmt.Errorf("unknown loop %q (want slow, medium or fast)", kind)
	}
	klog.Infof("Manually triggered %s loop cycle", kind)
	return nil
}

// Config returns the running configuration.
func (c *Coordinator) Config() config.Config {
	return c.cfg
}

// Events returns recent persisted events, newest first. Without an audit
// store it returns an empty slice.
func (c *Coordinator) Events(kind string, limit int) ([]audit.Event, error) {
	if c.store == nil {
		return []audit.Event{}, nil
	}
	return c.store.Recent(kind, limit)
}

// Status assembles the authoritative snapshot. Each component is read
// through its own consistent view; no loop is blocked while this runs.
func (c *Coordinator) Status() Snapshot {
	snap := Snapshot{
		Nodes:               c.pool.Snapshot(),
		PoolSize:            c.pool.Size(),
		CostPerSecond:       c.pool.TotalCostRate(),
		Risk:                c.ctrl.Risk(),
		ProvisionDegraded:   c.ctrl.ProvisionDegraded(),
		ForecastUnavailable: c.engine.Unavailable(),
		Tasks:               c.exec.Summary(),
		TakenAt:             c.clock.Now(),
	}
	if w, ok := c.engine.Current(); ok {
		snap.Forecast = &w
	}

	c.mu.RLock()
	snap.Loops = map[string]LoopStatus{
		"slow":   {Interval: c.cfg.SlowInterval, Processed: c.forecasts, LastRun: c.lastSlow},
		"medium": {Interval: c.cfg.MediumInterval, Processed: c.migrations, LastRun: c.lastMedium},
		"fast":   {Interval: c.cfg.FastInterval, Processed: c.tasksDone, LastRun: c.lastFast},
	}
	c.mu.RUnlock()
	return snap
}

// ForecastPublished implements forecast.Publisher.
func (c *Coordinator) ForecastPublished(w forecast.Window) {
	c.mu.Lock()
	c.forecasts++
	c.lastSlow = w.PublishedAt
	c.mu.Unlock()

	if c.notifier != nil {
		c.notifier.ForecastPublished(w)
	}
	if c.store != nil {
		c.store.Append(audit.KindForecast, string(w.Action), w)
	}
}

// MigrationOccurred implements resource.EventSink.
func (c *Coordinator) MigrationOccurred(ev resource.MigrationEvent) {
	c.mu.Lock()
	c.migrations++
	c.lastMedium = ev.At
	c.mu.Unlock()

	if c.notifier != nil {
		c.notifier.MigrationOccurred(ev)
	}
	if c.store != nil {
		c.store.Append(audit.KindMigration, ev.NodeID, ev)
	}
}

// TaskCompleted implements executor.Sink.
func (c *Coordinator) TaskCompleted(task executor.Task, result string) {
	c.mu.Lock()
	c.tasksDone++
	c.lastFast = c.clock.Now()
	c.mu.Unlock()

	if c.notifier != nil {
		c.notifier.TaskCompleted(task, result)
	}
	if c.store != nil {
		c.store.Append(audit.KindTask, task.ID, map[string]interface{}{
			"task": task, "outcome": "completed",
		})
	}
}

// TaskFailed implements executor.Sink.
func (c *Coordinator) TaskFailed(task executor.Task, reason string) {
	c.mu.Lock()
	c.tasksDone++
	c.lastFast = c.clock.Now()
	c.mu.Unlock()

	if c.notifier != nil {
		c.notifier.TaskFailed(task, reason)
	}
	if c.store != nil {
		c.store.Append(audit.KindTask, task.ID, map[string]interface{}{
			"task": task, "outcome": "failed", "reason": reason,
		})
	}
}
