package http

import (
	"net/http"
	"time"

	"roomcast/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RelayStats reports live connection and room counts.
type RelayStats interface {
	Stats() (connections, rooms int)
}

type HealthHandler struct {
	checker *monitoring.HealthChecker
	relay   RelayStats
	started time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(checker *monitoring.HealthChecker, relay RelayStats) *HealthHandler {
	return &HealthHandler{
		checker: checker,
		relay:   relay,
		started: time.Now(),
	}
}

// SetupRoutes mounts /health and /ready, plus /metrics when gatherer is set.
func (h *HealthHandler) SetupRoutes(router gin.IRouter, gatherer prometheus.Gatherer) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

// Health reports liveness
func (h *HealthHandler) Health(c *gin.Context) {
	body := gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"uptime":    time.Since(h.started).String(),
	}
	if h.relay != nil {
		connections, rooms := h.relay.Stats()
		body["connections"] = connections
		body["rooms"] = rooms
	}
	c.JSON(http.StatusOK, body)
}

// Ready runs the registered health checks
func (h *HealthHandler) Ready(c *gin.Context) {
	status := h.checker.CheckAll(c.Request.Context())
	if status.Status != monitoring.StatusHealthy {
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}
