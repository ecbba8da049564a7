package controller

import (
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"

	"tai-ledger-api/internal/monitoring"
)

type HealthController struct {
	health  *monitoring.HealthChecker
	version string
}

func NewHealthController(health *monitoring.HealthChecker, version string) *HealthController {
	return &HealthController{health: health, version: version}
}

// Health runs every registered dependency check. Degraded still answers 200.
func (c *HealthController) Health(ctx *gin.Context) {
	status := c.health.CheckHealth(ctx.Request.Context())
	code := http.StatusOK
	if status.Status == monitoring.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	ctx.JSON(code, status)
}

// Ready reports 200 only when every component is healthy.
func (c *HealthController) Ready(ctx *gin.Context) {
	status := c.health.CheckHealth(ctx.Request.Context())
	if status.Status != monitoring.StatusHealthy {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "status": status.Status, "components": status.Components})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"ready": true})
}

func (c *HealthController) Version(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"service":    "tai-ledger-api",
		"version":    c.version,
		"go_version": runtime.Version(),
	})
}
