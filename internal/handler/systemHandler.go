package handler

import (
	"net/http"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/admission-gateway/internal/healthcheck"
	"github.com/aman-churiwal/admission-gateway/internal/proxy"
	"github.com/aman-churiwal/admission-gateway/internal/stats"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// StoreBreakerName is the key of the shared store's breaker in breaker listings
const StoreBreakerName = "store"

// Handles health and system endpoints
type SystemHandler struct {
	proxies      map[string]*proxy.Proxy
	storeBreaker *circuitbreaker.CircuitBreaker // nil for the in-memory store
	stats        stats.Snapshotter
	health       *healthcheck.Checker
	version      string
	startTime    time.Time
}

type SystemOptions struct {
	Proxies      map[string]*proxy.Proxy
	StoreBreaker *circuitbreaker.CircuitBreaker
	Stats        stats.Snapshotter
	Health       *healthcheck.Checker
	Version      string
}

func NewSystemHandler(opts SystemOptions) *SystemHandler {
	return &SystemHandler{
		proxies:      opts.Proxies,
		storeBreaker: opts.StoreBreaker,
		stats:        opts.Stats,
		health:       opts.Health,
		version:      opts.Version,
		startTime:    time.Now(),
	}
}

// Handles GET /health. Unhealthy dependencies degrade the status; the gateway
// keeps serving because admission fails open.
func (h *SystemHandler) Health(c *gin.Context) {
	overall := healthcheck.Healthy
	var checks map[string]healthcheck.Status
	if h.health != nil {
		overall = h.health.OverallHealth()
		checks = h.health.GetAllStatus()
	}

	statusCode := http.StatusOK
	if overall == healthcheck.Unhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    overall,
		"service":   "admission-gateway",
		"version":   h.version,
		"timestamp": time.Now().Unix(),
		"checks":    checks,
	})
}

// Handles GET /admin/status
func (h *SystemHandler) Status(c *gin.Context) {
	services := make(map[string]gin.H, len(h.proxies))
	for path, p := range h.proxies {
		services[path] = gin.H{
			"targets": p.Targets(),
			"breaker": p.CircuitBreaker().State(),
			"health":  p.GetHealthStatus(),
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"gateway":   "running",
		"services":  services,
		"uptime":    time.Since(h.startTime).Seconds(),
		"timestamp": time.Now().Unix(),
	})
}

// Handles GET /admin/admission/stats
func (h *SystemHandler) AdmissionStats(c *gin.Context) {
	if h.stats == nil {
		c.JSON(http.StatusOK, gin.H{"counters": gin.H{}})
		return
	}

	counters, err := h.stats.Snapshot(c.Request.Context())
	if err != nil {
		log.WithError(err).Warn("failed to read admission stats")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Admission stats unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"counters": counters})
}

// Returns the status of all circuit breakers
func (h *SystemHandler) CircuitBreakerStatus(c *gin.Context) {
	statuses := make(map[string]circuitbreaker.Metrics, len(h.proxies)+1)

	for path, p := range h.proxies {
		statuses[path] = p.CircuitBreaker().Metrics()
	}
	if h.storeBreaker != nil {
		statuses[StoreBreakerName] = h.storeBreaker.Metrics()
	}

	c.JSON(http.StatusOK, statuses)
}

// Manually resets a circuit breaker
func (h *SystemHandler) ResetCircuitBreaker(c *gin.Context) {
	// Wildcard param already includes leading slash (e.g., "/api/users")
	name := c.Param("service")

	var breaker *circuitbreaker.CircuitBreaker
	if p, exists := h.proxies[name]; exists {
		breaker = p.CircuitBreaker()
	} else if name == "/"+StoreBreakerName && h.storeBreaker != nil {
		breaker = h.storeBreaker
	}

	if breaker == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Service not found",
		})
		return
	}

	breaker.Reset()
	log.WithField("breaker", name).Info("circuit breaker reset")

	c.JSON(http.StatusOK, gin.H{
		"message": "Circuit breaker reset successfully",
		"service": name,
	})
}
