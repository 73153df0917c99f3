package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthChecker interface for checking component health.
type HealthChecker interface {
	Liveness() bool
	Readiness(ctx context.Context) bool
	GetStatus(ctx context.Context) map[string]string
}

// CheckFunc reports the health of one component.
type CheckFunc func(ctx context.Context) error

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Health tracks process readiness and named component checks.
// It is live for the whole process lifetime and ready between SetReady(true)
// and the start of shutdown.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewHealth creates a Health that is not yet ready.
func NewHealth() *Health {
	return &Health{checks: make(map[string]CheckFunc)}
}

// SetReady flips readiness.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// AddCheck registers a named readiness check.
func (h *Health) AddCheck(name string, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = fn
}

// Liveness always reports true while the process can serve.
func (h *Health) Liveness() bool {
	return true
}

// Readiness is true when SetReady(true) was called and every check passes.
func (h *Health) Readiness(ctx context.Context) bool {
	if !h.ready.Load() {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, fn := range h.checks {
		if fn(ctx) != nil {
			return false
		}
	}
	return true
}

// GetStatus runs every check and reports "ok" or the error text per component.
func (h *Health) GetStatus(ctx context.Context) map[string]string {
	h.mu.RLock()
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, fn := range h.checks {
		checks[name] = fn
	}
	h.mu.RUnlock()

	status := make(map[string]string, len(checks)+1)
	status["lifecycle"] = "ok"
	if !h.ready.Load() {
		status["lifecycle"] = "not ready"
	}
	for name, fn := range checks {
		if err := fn(ctx); err != nil {
			status[name] = err.Error()
		} else {
			status[name] = "ok"
		}
	}
	return status
}

// LivenessHandler returns a handler for Kubernetes liveness probes.
// Liveness probes should only fail if the process needs to be restarted.
func LivenessHandler(checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "alive"
		statusCode := http.StatusOK

		if !checker.Liveness() {
			status = "not alive"
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// ReadinessHandler returns a handler for Kubernetes readiness probes.
// Readiness probes indicate if the application can handle traffic.
func ReadinessHandler(checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		status := "ready"
		statusCode := http.StatusOK

		if !checker.Readiness(ctx) {
			status = "not ready"
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    checker.GetStatus(ctx),
		})
	}
}
