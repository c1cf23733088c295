package config

import (
	"fmt"
	"time"
)

// Config carries every tunable of the orchestration engine. All thresholds
// are policy, not invariants; Validate rejects combinations the loops
// cannot run with.
type Config struct {
	// Loop cadences.
	SlowInterval   time.Duration // forecast engine
	MediumInterval time.Duration // resource controller
	FastInterval   time.Duration // task dispatch

	// Forecast confidence bands. Confidence >= ExecuteBand maps to
	// ActionExecute, >= WaitBand to ActionWait, below that to
	// ActionMigrate.
	ExecuteBand float64
	WaitBand    float64

	// Forecast history retained for audit.
	ForecastHistory int

	// Node pool bounds and load watermarks (aggregate CPU percent).
	MinNodes          int
	MaxNodes          int
	LoadHighWatermark float64
	LoadLowWatermark  float64

	// Risk policy.
	RiskThreshold float64

	// Node heartbeats older than this are decommissioned.
	HeartbeatStaleAfter time.Duration

	// Provisioning retry policy.
	ProvisionRetries int
	ProvisionBackoff time.Duration

	// Task executor.
	TaskDeadline  time.Duration
	QueueCapacity int

	// Telemetry ring buffer capacity.
	TelemetryWindowCapacity int

	// Telemetry window the forecast engine consumes each cycle.
	ForecastLookback time.Duration
}

// Default returns the configuration the binary starts from before flags
// are applied.
func Default() Config {
	return Config{
		SlowInterval:            60 * time.Second,
		MediumInterval:          15 * time.Second,
		FastInterval:            1 * time.Second,
		ExecuteBand:             0.85,
		WaitBand:                0.60,
		ForecastHistory:         16,
		MinNodes:                1,
		MaxNodes:                10,
		LoadHighWatermark:       80.0,
		LoadLowWatermark:        25.0,
		RiskThreshold:           0.70,
		HeartbeatStaleAfter:     2 * time.Minute,
		ProvisionRetries:        3,
		ProvisionBackoff:        500 * time.Millisecond,
		TaskDeadline:            10 * time.Second,
		QueueCapacity:           100,
		TelemetryWindowCapacity: 500,
		ForecastLookback:        15 * time.Minute,
	}
}

// Validate returns an error describing the first bad field. Callers treat
// a failure here as fatal; nothing else in the engine is.
func (c Config) Validate() error {
	if c.SlowInterval <= 0 || c.MediumInterval <= 0 || c.FastInterval <= 0 {
		return fmt.Errorf("loop intervals must be positive (slow=%v medium=%v fast=%v)",
			c.SlowInterval, c.MediumInterval, c.FastInterval)
	}
	if c.ExecuteBand < c.WaitBand {
		return fmt.Errorf("execute band %.2f below wait band %.2f", c.ExecuteBand, c.WaitBand)
	}
	if c.ExecuteBand > 1 || c.WaitBand < 0 {
		return fmt.Errorf("confidence bands must lie in [0,1] (execute=%.2f wait=%.2f)",
			c.ExecuteBand, c.WaitBand)
	}
	if c.MinNodes < 1 {
		return fmt.Errorf("minNodes must be at least 1, got %d", c.MinNodes)
	}
	if c.MaxNodes < c.MinNodes {
		return fmt.Errorf("maxNodes %d below minNodes %d", c.MaxNodes, c.MinNodes)
	}
	if c.LoadLowWatermark >= c.LoadHighWatermark {
		return fmt.Errorf("low watermark %.1f must be below high watermark %.1f",
			c.LoadLowWatermark, c.LoadHighWatermark)
	}
	if c.RiskThreshold <= 0 || c.RiskThreshold > 1 {
		return fmt.Errorf("risk threshold must lie in (0,1], got %.2f", c.RiskThreshold)
	}
	if c.ProvisionRetries < 0 {
		return fmt.Errorf("provision retries must not be negative, got %d", c.ProvisionRetries)
	}
	if c.TaskDeadline <= 0 {
		return fmt.Errorf("task deadline must be positive, got %v", c.TaskDeadline)
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("queue capacity must be at least 1, got %d", c.QueueCapacity)
	}
	if c.TelemetryWindowCapacity < 1 {
		return fmt.Errorf("telemetry window capacity must be at least 1, got %d", c.TelemetryWindowCapacity)
	}
	if c.ForecastHistory < 1 {
		return fmt.Errorf("forecast history must be at least 1, got %d", c.ForecastHistory)
	}
	if c.ForecastLookback <= 0 {
		return fmt.Errorf("forecast lookback must be positive, got %v", c.ForecastLookback)
	}
	return nil
}
