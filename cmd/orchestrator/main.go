package main

import (
	"flag"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"adaptive-orchestrator/engine/pkg/api"
	"adaptive-orchestrator/engine/pkg/audit"
	"adaptive-orchestrator/engine/pkg/config"
	"adaptive-orchestrator/engine/pkg/coordinator"
	"adaptive-orchestrator/engine/pkg/events"
	"adaptive-orchestrator/engine/pkg/executor"
	"adaptive-orchestrator/engine/pkg/forecast"
	"adaptive-orchestrator/engine/pkg/resource"
	"adaptive-orchestrator/engine/pkg/signals"
	"adaptive-orchestrator/engine/pkg/telemetry"
)

var (
	listenAddr    string
	modelName     string
	natsURL       string
	auditPath     string
	providerName  string
	instanceClass string
	probeEndpoint string
	probeRegion   string
	hostTelemetry bool
	rateLimit     float64
)

func main() {
	cfg := config.Default()

	klog.InitFlags(nil)
	flag.StringVar(&listenAddr, "listen", ":8080", "HTTP listen address")
	flag.StringVar(&modelName, "forecast-model", "exponential_smoothing",
		"Forecast model (moving_average, exponential_smoothing, seasonal)")
	flag.StringVar(&natsURL, "nats-url", "", "NATS server URL for event publishing (empty disables)")
	flag.StringVar(&auditPath, "audit-db", "", "Path to the sqlite audit store (empty disables)")
	flag.StringVar(&providerName, "provider", "sim", "Node provider name")
	flag.StringVar(&instanceClass, "instance-class", "standard", "Instance class for provisioned nodes")
	flag.StringVar(&probeEndpoint, "probe-endpoint", "", "Endpoint for the host latency probe (empty disables host telemetry)")
	flag.StringVar(&probeRegion, "region", "local", "Region label attached to host telemetry")
	flag.BoolVar(&hostTelemetry, "host-telemetry", false, "Sample host network counters into the telemetry window")
	flag.Float64Var(&rateLimit, "api-rate-limit", 50, "API requests per second")

	flag.DurationVar(&cfg.SlowInterval, "slow-interval", cfg.SlowInterval, "Forecast loop interval")
	flag.DurationVar(&cfg.MediumInterval, "medium-interval", cfg.MediumInterval, "Resource controller interval")
	flag.DurationVar(&cfg.FastInterval, "fast-interval", cfg.FastInterval, "Task dispatch interval")
	flag.DurationVar(&cfg.TaskDeadline, "task-deadline", cfg.TaskDeadline, "Hard per-task deadline")
	flag.IntVar(&cfg.MinNodes, "min-nodes", cfg.MinNodes, "Minimum pool size")
	flag.IntVar(&cfg.MaxNodes, "max-nodes", cfg.MaxNodes, "Maximum pool size")
	flag.Float64Var(&cfg.RiskThreshold, "risk-threshold", cfg.RiskThreshold, "Risk score that triggers migration")
	flag.Float64Var(&cfg.LoadHighWatermark, "load-high", cfg.LoadHighWatermark, "Aggregate CPU percent that triggers scale-up")
	flag.Float64Var(&cfg.LoadLowWatermark, "load-low", cfg.LoadLowWatermark, "Aggregate CPU percent that triggers scale-down")
	flag.IntVar(&cfg.QueueCapacity, "queue-capacity", cfg.QueueCapacity, "Task queue capacity")
	flag.IntVar(&cfg.TelemetryWindowCapacity, "telemetry-capacity", cfg.TelemetryWindowCapacity, "Telemetry ring buffer capacity")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		klog.Fatalf("Invalid configuration: %v", err)
	}

	stopCh := signals.SetupSignalHandler()
	clk := clock.RealClock{}

	// Shared state owned by the loops.
	agg := telemetry.NewAggregator(cfg.TelemetryWindowCapacity, clk)
	pool := resource.NewPool(clk)

	// Outbound collaborators.
	notifiers := events.Fanout{events.LogNotifier{}}
	if natsURL != "" {
		nn, err := events.NewNATSNotifier(natsURL)
		if err != nil {
			klog.Fatalf("NATS connection failed: %v", err)
		}
		defer nn.Close()
		notifiers = append(notifiers, nn)
	}

	var store *audit.Store
	if auditPath != "" {
		var err error
		store, err = audit.Open(auditPath)
		if err != nil {
			klog.Fatalf("Audit store failed: %v", err)
		}
	}

	coord := coordinator.New(cfg, agg, pool, notifiers, store, clk)

	// Slow loop.
	engine := forecast.NewEngine(forecast.Config{
		Interval:    cfg.SlowInterval,
		Lookback:    cfg.ForecastLookback,
		ExecuteBand: cfg.ExecuteBand,
		WaitBand:    cfg.WaitBand,
		HistorySize: cfg.ForecastHistory,
	}, agg, buildModel(modelName), clk, coord)

	// Medium loop.
	provider := resource.NewSimProvider(providerName, []resource.InstanceSpec{
		{Class: "standard", Capacity: 2, CostPerSecond: 0.012},
		{Class: "compute", Capacity: 4, CostPerSecond: 0.034},
	}, clk)
	ctrl := resource.NewController(resource.Config{
		Interval:            cfg.MediumInterval,
		MinNodes:            cfg.MinNodes,
		MaxNodes:            cfg.MaxNodes,
		RiskThreshold:       cfg.RiskThreshold,
		HighWatermark:       cfg.LoadHighWatermark,
		LowWatermark:        cfg.LoadLowWatermark,
		HeartbeatStaleAfter: cfg.HeartbeatStaleAfter,
		ProvisionRetries:    cfg.ProvisionRetries,
		ProvisionBackoff:    cfg.ProvisionBackoff,
		InstanceClass:       instanceClass,
	}, pool, provider, engine, coord, clk)

	// Fast loop.
	exec := executor.New(executor.Config{
		Interval:      cfg.FastInterval,
		Deadline:      cfg.TaskDeadline,
		QueueCapacity: cfg.QueueCapacity,
	}, pool, executor.SimRunner{}, coord, clk)

	ctrl.SetBusyCheck(exec.NodeBusy)
	coord.Attach(engine, ctrl, exec)

	// Optional host telemetry source.
	if hostTelemetry && probeEndpoint != "" {
		source := telemetry.NewHostSource(agg, probeEndpoint, probeRegion, 10*time.Second)
		go source.Run(stopCh)
	}

	go engine.Run(stopCh)
	go ctrl.Run(stopCh)
	go exec.Run(stopCh)

	gin.SetMode(gin.ReleaseMode)
	limiter := rate.NewLimiter(rate.Limit(rateLimit), int(rateLimit)*2)
	server := &http.Server{
		Addr:    listenAddr,
		Handler: api.NewServer(coord, limiter).Router(),
	}

	go func() {
		<-stopCh
		server.Close()
	}()

	klog.Infof("Orchestrator listening on %s (slow=%v medium=%v fast=%v)",
		listenAddr, cfg.SlowInterval, cfg.MediumInterval, cfg.FastInterval)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		klog.Fatalf("HTTP server failed: %v", err)
	}
}

func buildModel(name string) forecast.Model {
	switch name {
	case "moving_average":
		return &forecast.MovingAverage{}
	case "exponential_smoothing":
		return &forecast.ExponentialSmoothing{}
	case "seasonal":
		return &forecast.Seasonal{}
	default:
		klog.Fatalf("Unknown forecast model %q", name)
		return nil
	}
}
