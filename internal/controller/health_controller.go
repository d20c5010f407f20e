package controller

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"energy-trading-api/internal/monitoring"
)

// BuildInfo is reported by the version endpoint
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
	Service   string `json:"service"`
}

// VersionResponse adds process runtime figures to the build info
type VersionResponse struct {
	BuildInfo
	Runtime map[string]interface{} `json:"runtime"`
}

type HealthController struct {
	health  monitoring.HealthChecker
	metrics monitoring.MetricsService
	build   BuildInfo
}

func NewHealthController(health monitoring.HealthChecker, metrics monitoring.MetricsService, build BuildInfo) *HealthController {
	return &HealthController{
		health:  health,
		metrics: metrics,
		build:   build,
	}
}

// Health reports every component; only an unhealthy status fails the probe
func (c *HealthController) Health(ctx *gin.Context) {
	status := c.health.CheckHealth(ctx.Request.Context())

	code := http.StatusOK
	if status.Status == monitoring.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	ctx.JSON(code, status)
}

// Ready reports whether the store answers, which is all requests need
func (c *HealthController) Ready(ctx *gin.Context) {
	c.health.CheckHealth(ctx.Request.Context())
	store := c.health.GetComponentStatus("store")

	if store != nil && store.Status != monitoring.StatusHealthy {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "not_ready",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"error":     store.Error,
		})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   c.build.Service,
	})
}

func (c *HealthController) Version(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, VersionResponse{
		BuildInfo: c.build,
		Runtime:   c.metrics.GetMetrics(),
	})
}
