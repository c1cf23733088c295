package forecast

import (
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"adaptive-orchestrator/engine/pkg/telemetry"
)

// Action is the recommendation attached to a published window.
type Action string

const (
	ActionExecute Action = "Execute"
	ActionWait    Action = "Wait"
	ActionMigrate Action = "Migrate"
)

// Window is a published forecast. Windows are immutable; a new cycle
// supersedes the current one rather than mutating it.
type Window struct {
	StartTime   time.Time
	Duration    time.Duration
	Confidence  float64
	Action      Action
	Model       string
	PublishedAt time.Time
}

// Publisher receives every freshly published window.
type Publisher interface {
	ForecastPublished(w Window)
}

// Config is the engine's policy surface.
type Config struct {
	Interval    time.Duration
	Lookback    time.Duration
	ExecuteBand float64 // confidence >= ExecuteBand -> Execute
	WaitBand    float64 // confidence >= WaitBand -> Wait, else Migrate
	HistorySize int
}

// Engine is the slow loop. It owns the current Window; nothing else writes
// it. Consumers read through Current/History which copy under the lock.
type Engine struct {
	cfg   Config
	agg   *telemetry.Aggregator
	model Model
	clock clock.Clock
	pub   Publisher

	mu          sync.RWMutex
	current     *Window
	history     []Window
	unavailable bool
}

func NewEngine(cfg Config, agg *telemetry.Aggregator, model Model, clk clock.Clock, pub Publisher) *Engine {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Engine{
		cfg:   cfg,
		agg:   agg,
		model: model,
		clock: clk,
		pub:   pub,
	}
}

// Run executes cycles on the configured cadence until stopCh closes.
func (e *Engine) Run(stopCh <-chan struct{}) {
	klog.Infof("Forecast engine started (model=%s interval=%v)", e.model.Name(), e.cfg.Interval)
	wait.Until(e.RunCycle, e.cfg.Interval, stopCh)
	klog.Info("Forecast engine stopped")
}

// RunCycle performs one fit-and-publish pass. Exported so the coordinator
// can trigger an out-of-band cycle and tests can drive a virtual clock.
func (e *Engine) RunCycle() {
	start := e.clock.Now()
	defer func() {
		cycleDuration.Observe(e.clock.Since(start).Seconds())
	}()

	window := e.agg.Window(e.cfg.Lookback)
	if len(window) == 0 {
		e.markUnavailable("empty telemetry window")
		return
	}

	pred, err := e.model.Fit(window)
	if err != nil {
		e.markUnavailable(err.Error())
		return
	}

	w := Window{
		StartTime:   pred.QuietStart,
		Duration:    pred.Duration,
		Confidence:  pred.Confidence,
		Action:      e.actionFor(pred.Confidence),
		Model:       e.model.Name(),
		PublishedAt: e.clock.Now(),
	}
	e.publish(w)

	forecastsPublished.WithLabelValues(string(w.Action)).Inc()
	forecastConfidence.Set(w.Confidence)
	klog.V(4).Infof("Published forecast: action=%s confidence=%.2f start=%s duration=%v (from %d samples)",
		w.Action, w.Confidence, w.StartTime.Format(time.RFC3339), w.Duration, len(window))
}

func (e *Engine) actionFor(confidence float64) Action {
	switch {
	case confidence >= e.cfg.ExecuteBand:
		return ActionExecute
	case confidence >= e.cfg.WaitBand:
		return ActionWait
	default:
		// Weak data: a resource move is safer than trusting the model.
		return ActionMigrate
	}
}

func (e *Engine) publish(w Window) {
	e.mu.Lock()
	e.current = &w
	e.history = append(e.history, w)
	if len(e.history) > e.cfg.HistorySize {
		e.history = e.history[len(e.history)-e.cfg.HistorySize:]
	}
	e.unavailable = false
	e.mu.Unlock()

	if e.pub != nil {
		e.pub.ForecastPublished(w)
	}
}

// markUnavailable keeps the prior window and raises the recoverable
// ForecastUnavailable condition.
func (e *Engine) markUnavailable(reason string) {
	e.mu.Lock()
	e.unavailable = true
	e.mu.Unlock()

	forecastsUnavailable.Inc()
	klog.Warningf("Forecast unavailable this cycle: %s", reason)
}

// Current returns the latest published window, or false if none exists yet.
func (e *Engine) Current() (Window, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return Window{}, false
	}
	return *e.current, true
}

// Unavailable reports whether the last cycle failed to produce a forecast.
func (e *Engine) Unavailable() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.unavailable
}

// History returns the retained windows, oldest first.
func (e *Engine) History() []Window {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Window, len(e.history))
	copy(out, e.history)
	return out
}
