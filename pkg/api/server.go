// Package api is the HTTP transport over the coordinator. The engine core
// is transport-agnostic; everything here is translation and rate limiting.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"k8s.io/klog/v2"

	"adaptive-orchestrator/engine/pkg/coordinator"
	"adaptive-orchestrator/engine/pkg/executor"
	"adaptive-orchestrator/engine/pkg/telemetry"
)

type Server struct {
	coord   *coordinator.Coordinator
	limiter *rate.Limiter
}

func NewServer(coord *coordinator.Coordinator, limiter *rate.Limiter) *Server {
	return &Server{coord: coord, limiter: limiter}
}

// Router builds the gin engine. SimulateLoad is deliberately not routed;
// it is a test hook, not part of the API contract.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.rateLimit())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.POST("/telemetry", s.recordTelemetry)
		v1.GET("/status", s.status)
		v1.GET("/config", s.config)
		v1.GET("/events", s.events)

		v1.POST("/tasks", s.submitTask)
		v1.GET("/tasks/:id", s.getTask)
		v1.DELETE("/tasks/:id", s.cancelTask)

		v1.POST("/nodes/:id/heartbeat", s.nodeHeartbeat)
		v1.POST("/nodes/:id/migrate", s.forceMigration)
		v1.DELETE("/nodes/:id/migrate", s.cancelForceMigration)

		v1.POST("/loops/:kind/trigger", s.triggerLoop)
	}
	return r
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter != nil && !s.limiter.Allow() {
			requestsRateLimited.Inc()
			klog.Warning("API rate limit exceeded")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
			return
		}
		c.Next()
	}
}

type telemetryRequest struct {
	Timestamp        time.Time `json:"timestamp" binding:"required"`
	PacketsPerSecond float64   `json:"packetsPerSecond"`
	LatencyMs        float64   `json:"latencyMs"`
	Region           string    `json:"region"`
}

func (s *Server) recordTelemetry(c *gin.Context) {
	var req telemetryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sample := telemetry.Sample{
		Timestamp:        req.Timestamp,
		PacketsPerSecond: req.PacketsPerSecond,
		LatencyMs:        req.LatencyMs,
		TimeOfDayBucket:  req.Timestamp.Hour(),
		DayOfWeek:        req.Timestamp.Weekday(),
		Region:           req.Region,
	}
	if err := s.coord.RecordTelemetry(sample); err != nil {
		// Out-of-order samples are the caller's problem, not ours.
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

type taskRequest struct {
	ID                string   `json:"id"`
	Kind              string   `json:"kind" binding:"required"`
	Priority          float64  `json:"priority"`
	EstimatedDuration string   `json:"estimatedDuration"`
	Dependencies      []string `json:"dependencies"`
}

func (s *Server) submitTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var estimated time.Duration
	if req.EstimatedDuration != "" {
		var err error
		estimated, err = time.ParseDuration(req.EstimatedDuration)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad estimatedDuration: " + err.Error()})
			return
		}
	}

	handle, err := s.coord.SubmitTask(executor.Task{
		ID:                req.ID,
		Kind:              req.Kind,
		Priority:          req.Priority,
		EstimatedDuration: estimated,
		Dependencies:      req.Dependencies,
	})
	if err != nil {
		switch {
		case errors.Is(err, executor.ErrQueueFull):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		case errors.Is(err, executor.ErrCyclicDependency),
			errors.Is(err, executor.ErrInvalidTask),
			errors.Is(err, executor.ErrDuplicateTask):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": handle.ID})
}

func (s *Server) getTask(c *gin.Context) {
	id := c.Param("id")
	task, ok := s.coord.Task(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown task"})
		return
	}
	resp := gin.H{"task": task}
	if task.Status == executor.StatusCompleted {
		if result, err := s.coord.TaskResult(id); err == nil {
			resp["result"] = result
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) cancelTask(c *gin.Context) {
	err := s.coord.CancelTask(c.Param("id"))
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, executor.ErrUnknownTask):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, executor.ErrNotCancellable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

type heartbeatRequest struct {
	CPUUsage    float64 `json:"cpuUsage"`
	MemoryUsage float64 `json:"memoryUsage"`
}

func (s *Server) nodeHeartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.coord.NodeHeartbeat(c.Param("id"), req.CPUUsage, req.MemoryUsage); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) forceMigration(c *gin.Context) {
	if err := s.coord.ForceMigration(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "migration queued"})
}

func (s *Server) cancelForceMigration(c *gin.Context) {
	if !s.coord.CancelForceMigration(c.Param("id")) {
		c.JSON(http.StatusConflict, gin.H{"error": "no pending migration for node"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.coord.Status())
}

func (s *Server) config(c *gin.Context) {
	c.JSON(http.StatusOK, s.coord.Config())
}

func (s *Server) events(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if parsed, err := parsePositiveInt(v); err == nil {
			limit = parsed
		}
	}
	evs, err := s.coord.Events(c.Query("kind"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("value must be positive, got %d", n)
	}
	return n, nil
}

func (s *Server) triggerLoop(c *gin.Context) {
	if err := s.coord.TriggerLoop(c.Param("kind")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "triggered"})
}
