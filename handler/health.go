package handler

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/South-Winder12138/mineru-service/service"
)

// RecognizerInfo describes the configured recognition tool
type RecognizerInfo interface {
	Device() string
	Available() bool
}

// WorkerInfo reports scheduler occupancy
type WorkerInfo interface {
	PoolStats() service.PoolStats
	Count() int
}

// OfflineInfo reports the state of the offline model cache
type OfflineInfo interface {
	Status() service.OfflineStatus
}

type HealthHandler struct {
	name       string
	version    string
	recognizer RecognizerInfo
	workers    WorkerInfo
	offline    OfflineInfo
	started    time.Time
}

func NewHealthHandler(name, version string, recognizer RecognizerInfo, workers WorkerInfo, offline OfflineInfo) *HealthHandler {
	return &HealthHandler{
		name:       name,
		version:    version,
		recognizer: recognizer,
		workers:    workers,
		offline:    offline,
		started:    time.Now(),
	}
}

// Health reports service status. A missing recognizer degrades the service but
// uploads are still accepted and served by the fallback path.
func (h *HealthHandler) Health(c *gin.Context) {
	available := h.recognizer.Available()
	status := "healthy"
	if !available {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            status,
		"timestamp":         time.Now().Format(time.RFC3339),
		"service":           h.name,
		"version":           h.version,
		"supported_formats": service.SupportedFormats(),
		"mineru": gin.H{
			"available": available,
			"device":    h.recognizer.Device(),
		},
		"system": gin.H{
			"os":         runtime.GOOS,
			"arch":       runtime.GOARCH,
			"cpu_count":  runtime.NumCPU(),
			"go_version": runtime.Version(),
			"uptime":     time.Since(h.started).Round(time.Second).String(),
			"offline":    h.offline.Status(),
			"workers":    h.workers.PoolStats(),
			"tasks":      h.workers.Count(),
		},
	})
}

// Info lists the endpoints; it is served on both / and /api
func (h *HealthHandler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":     h.name,
		"version":     h.version,
		"description": "Offline document extraction powered by MinerU",
		"endpoints": gin.H{
			"upload":      "POST /api/v1/upload",
			"get_task":    "GET /api/v1/tasks/{task_id}",
			"list_tasks":  "GET /api/v1/tasks?page=1&page_size=20",
			"delete_task": "DELETE /api/v1/tasks/{task_id}",
			"health":      "GET /api/v1/health",
			"outputs":     "GET /outputs/{task_id}/...",
		},
		"supported_formats": service.SupportedFormats(),
	})
}
