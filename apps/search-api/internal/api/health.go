package api

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthChecker runs named dependency checks
type HealthChecker struct {
	mu      sync.RWMutex
	ready   bool
	checks  map[string]func(ctx context.Context) error
	timeout time.Duration
}

// NewHealthChecker creates a health checker with no checks registered
func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthChecker{
		checks:  make(map[string]func(ctx context.Context) error),
		timeout: timeout,
	}
}

// RegisterCheck registers a new health check
func (h *HealthChecker) RegisterCheck(name string, check func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// SetReady sets the ready state
func (h *HealthChecker) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// IsReady returns the ready state
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// Run executes every check and returns the failures by name
func (h *HealthChecker) Run(ctx context.Context) map[string]string {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make(map[string]func(ctx context.Context) error, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	h.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	failures := make(map[string]string)
	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	return failures
}

// LivenessHandler reports that the process is up
func (h *HealthChecker) LivenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthHandler reports readiness and dependency health
func (h *HealthChecker) HealthHandler(c *gin.Context) {
	if !h.IsReady() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"error":  "Service is starting up",
		})
		return
	}

	if failures := h.Run(c.Request.Context()); len(failures) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"errors": failures,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
