package router

import (
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// setupHealthRoutes registers health check endpoints
func (r *Router) setupHealthRoutes() {
	healthHandler := func(c *gin.Context) {
		components := r.Container.HealthChecker.GetStatus()
		activeConnections := len(r.Container.Hub.GetActiveConnections())

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		status := 200
		if !r.Container.HealthChecker.IsSystemHealthy() {
			status = 503
		}

		c.JSON(status, gin.H{
			"status":         "ok",
			"version":        os.Getenv("APP_VERSION"),
			"timestamp":      time.Now().Format(time.RFC3339),
			"uptime_seconds": int64(time.Since(startTime).Seconds()),
			"components":     components,
			"websocket": gin.H{
				"active_connections": activeConnections,
			},
			"memory": gin.H{
				"alloc_mb":  memStats.Alloc / 1024 / 1024,
				"sys_mb":    memStats.Sys / 1024 / 1024,
				"gc_cycles": memStats.NumGC,
			},
		})
	}

	// Register both health endpoint paths for compatibility
	r.Engine.GET("/health", healthHandler)
	r.Engine.GET("/api/health", healthHandler)
}
