package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResult represents the result of a health check.
type HealthCheckResult struct {
	Status   HealthStatus `json:"status"`
	Duration string       `json:"duration,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status HealthStatus                  `json:"status"`
	Checks map[string]*HealthCheckResult `json:"checks,omitempty"`
	Error  string                        `json:"error,omitempty"`
}

// Pinger is a component that can report whether it is usable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health-related HTTP endpoints.
type HealthHandler struct {
	checks map[string]Pinger
	logger zerolog.Logger
}

// NewHealthHandler creates a HealthHandler over the named components. Nil
// components are skipped.
func NewHealthHandler(checks map[string]Pinger, logger zerolog.Logger) *HealthHandler {
	filtered := make(map[string]Pinger, len(checks))
	for name, p := range checks {
		if p != nil {
			filtered[name] = p
		}
	}
	return &HealthHandler{
		checks: filtered,
		logger: logger.With().Str("component", "health_handler").Logger(),
	}
}

// RegisterPublicRoutes registers health check routes that don't require authentication.
func (h *HealthHandler) RegisterPublicRoutes(r *gin.Engine) {
	health := r.Group("/health")
	{
		health.GET("", h.Overall)
		health.GET("/:check", h.Component)
	}
}

// Overall runs every check.
// GET /health
func (h *HealthHandler) Overall(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := &HealthResponse{
		Status: HealthStatusHealthy,
		Checks: make(map[string]*HealthCheckResult, len(h.checks)),
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		result := h.run(ctx, name, h.checks[name])
		response.Checks[name] = result
		if result.Status == HealthStatusUnhealthy {
			response.Status = HealthStatusUnhealthy
		}
	}

	if response.Status == HealthStatusUnhealthy {
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	c.JSON(http.StatusOK, response)
}

// Component runs a single named check.
// GET /health/:check
func (h *HealthHandler) Component(c *gin.Context) {
	name := c.Param("check")
	p, ok := h.checks[name]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown health check"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	result := h.run(ctx, name, p)
	response := &HealthResponse{
		Status: result.Status,
		Checks: map[string]*HealthCheckResult{name: result},
	}
	if result.Status == HealthStatusUnhealthy {
		response.Error = result.Error
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	c.JSON(http.StatusOK, response)
}

func (h *HealthHandler) run(ctx context.Context, name string, p Pinger) *HealthCheckResult {
	start := time.Now()
	err := p.Ping(ctx)
	result := &HealthCheckResult{
		Status:   HealthStatusHealthy,
		Duration: time.Since(start).String(),
	}
	if err != nil {
		h.logger.Error().Err(err).Str("check", name).Msg("health check failed")
		result.Status = HealthStatusUnhealthy
		result.Error = err.Error()
	}
	return result
}
