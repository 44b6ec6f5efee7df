package server

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ptssworkshopschedule/workshopbot/pkg/metrics"
)

const (
	statusHealthy   = "healthy"
	statusWarning   = "warning"
	statusUnhealthy = "unhealthy"

	healthCheckTimeout = 5 * time.Second
)

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Checks    map[string]string      `json:"checks"`
	Metrics   map[string]interface{} `json:"metrics,omitempty"`
}

// CheckFunc reports whether a dependency is reachable.
type CheckFunc func(ctx context.Context) error

// HealthChecker aggregates dependency checks with runtime checks.
type HealthChecker struct {
	startTime time.Time
	version   string

	mu       sync.RWMutex
	checks   map[string]CheckFunc
	sessions func() int
}

// NewHealthChecker creates a checker with no dependencies.
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
		version:   version,
		checks:    make(map[string]CheckFunc),
	}
}

// AddCheck registers a dependency check. A failing check makes the service unhealthy.
func (h *HealthChecker) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// SetSessionCounter reports open conversations in the health metrics.
func (h *HealthChecker) SetSessionCounter(count func() int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions = count
}

// Handle serves /health.
func (h *HealthChecker) Handle(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	response := h.Check(ctx)

	code := http.StatusOK
	if response.Status == statusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, response)
}

// Check runs every check and builds the report.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, fn := range h.checks {
		checks[name] = fn
	}
	sessions := h.sessions
	h.mu.RUnlock()
	sort.Strings(names)

	results := make(map[string]string, len(names)+2)
	overall := statusHealthy

	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			results[name] = statusUnhealthy + ": " + err.Error()
			overall = statusUnhealthy
			continue
		}
		results[name] = statusHealthy
	}

	results["memory"] = h.checkMemory()
	results["goroutines"] = h.checkGoroutines()
	if overall == statusHealthy && (results["memory"] != statusHealthy || results["goroutines"] != statusHealthy) {
		overall = statusWarning
	}

	return HealthResponse{
		Status:    overall,
		Timestamp: time.Now().Format(time.RFC3339),
		Version:   h.version,
		Uptime:    time.Since(h.startTime).String(),
		Checks:    results,
		Metrics:   h.collectMetrics(sessions),
	}
}

func (h *HealthChecker) checkMemory() string {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	metrics.MemoryUsage.Set(float64(m.Alloc))

	const warningLimit = 500 * 1024 * 1024
	const criticalLimit = 1024 * 1024 * 1024

	if m.Alloc > criticalLimit {
		return "critical: memory usage > 1GB"
	} else if m.Alloc > warningLimit {
		return "warning: memory usage > 500MB"
	}

	return statusHealthy
}

func (h *HealthChecker) checkGoroutines() string {
	count := runtime.NumGoroutine()

	metrics.GoroutinesCount.Set(float64(count))

	const warningLimit = 100
	const criticalLimit = 1000

	if count > criticalLimit {
		return "critical: too many goroutines"
	} else if count > warningLimit {
		return "warning: high goroutine count"
	}

	return statusHealthy
}

func (h *HealthChecker) collectMetrics(sessions func() int) map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	out := map[string]interface{}{
		"memory": map[string]interface{}{
			"alloc_bytes":       m.Alloc,
			"total_alloc_bytes": m.TotalAlloc,
			"sys_bytes":         m.Sys,
			"num_gc":            m.NumGC,
		},
		"runtime": map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"gomaxprocs": runtime.GOMAXPROCS(0),
			"version":    runtime.Version(),
		},
		"uptime_seconds": time.Since(h.startTime).Seconds(),
	}
	if sessions != nil {
		out["active_sessions"] = sessions()
	}
	return out
}
