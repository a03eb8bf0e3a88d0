// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vehicle-gateway/internal/can"
	"vehicle-gateway/internal/config"
	"vehicle-gateway/internal/modbus"
	"vehicle-gateway/internal/utils"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	config    *config.Config
	manager   *modbus.Manager
	transport *can.Transport
	startedAt time.Time
	logger    *utils.ServiceLogger
}

// NewHealthHandler creates a new health handler. transport may be nil when
// CAN is disabled.
func NewHealthHandler(config *config.Config, manager *modbus.Manager, transport *can.Transport, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		config:    config,
		manager:   manager,
		transport: transport,
		startedAt: time.Now(),
		logger:    utils.NewServiceLogger(logger, "health-handler"),
	}
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/health", h.HealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
}

// HealthCheck performs general health check
// @Summary Health check
// @Description Get overall gateway health including bus and link state
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Gateway is healthy"
// @Success 207 {object} HealthResponse "Gateway is degraded"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Checks:    make(map[string]CheckResult),
	}

	offline := 0
	for _, d := range h.manager.DeviceStates() {
		if d.Offline {
			offline++
		}
	}
	status := h.manager.SystemStatus()
	modbusCheck := CheckResult{
		Status: "healthy",
		Data: map[string]interface{}{
			"ports":           len(status.Queues),
			"queued_requests": status.TotalQueuedRequests,
			"errors_1m":       status.TotalErrors1m,
			"offline_devices": offline,
		},
	}
	if offline > 0 {
		modbusCheck.Status = "degraded"
		modbusCheck.Message = "some devices are in cooldown"
		health.Status = "degraded"
	}
	health.Checks["modbus"] = modbusCheck

	if h.transport != nil {
		for _, link := range h.transport.Status() {
			check := CheckResult{Status: "healthy", Data: map[string]interface{}{"phase": link.Phase, "receiving": link.IsReceiving}}
			if link.Phase != can.PhaseConnected {
				check.Status = "degraded"
				check.Message = link.LastError
				health.Status = "degraded"
			}
			health.Checks["can_"+string(link.Link)] = check
		}
	}

	statusCode := http.StatusOK
	if health.Status != "healthy" {
		statusCode = http.StatusMultiStatus
	}
	c.JSON(statusCode, health)
}

// ReadinessCheck reports whether the gateway accepts traffic
// @Summary Readiness check
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Gateway is ready"
// @Router /ready [get]
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessCheck reports whether the process is alive
// @Summary Liveness check
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Gateway is alive"
// @Router /live [get]
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
