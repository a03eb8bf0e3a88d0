// internal/handler/sensor_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vehicle-gateway/internal/service"
	"vehicle-gateway/internal/utils"
)

// SensorHandler serves slow-bus sensor readings.
type SensorHandler struct {
	sensors *service.SensorService
	logger  *utils.ServiceLogger
}

// NewSensorHandler creates a new sensor handler
func NewSensorHandler(sensors *service.SensorService, logger *zap.Logger) *SensorHandler {
	return &SensorHandler{
		sensors: sensors,
		logger:  utils.NewServiceLogger(logger, "sensor-handler"),
	}
}

// RegisterRoutes registers sensor routes
func (h *SensorHandler) RegisterRoutes(router *gin.RouterGroup) {
	sensor := router.Group("/sensor")
	{
		sensor.GET("/level", h.Level)
		sensor.GET("/all", h.All)
		sensor.POST("/level/refresh", h.RefreshLevel)
	}
}

// Level returns the last level reading
// @Summary Water level
// @Tags Sensors
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Failure 404 {object} utils.APIResponse
// @Router /sensor/level [get]
func (h *SensorHandler) Level(c *gin.Context) {
	r, err := h.sensors.Level()
	if err != nil {
		utils.FailResponse(c, "No level data", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Level retrieved", r)
}

// All returns every sensor reading
// @Summary All sensors
// @Tags Sensors
// @Produce json
// @Success 200 {object} utils.APIResponse{data=service.SensorReadings}
// @Router /sensor/all [get]
func (h *SensorHandler) All(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Sensors retrieved", h.sensors.All())
}

// RefreshLevel reads the level sensor immediately
// @Summary Refresh water level
// @Tags Sensors
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Failure 409 {object} utils.APIResponse "Slow bus busy"
// @Failure 504 {object} utils.APIResponse
// @Router /sensor/level/refresh [post]
func (h *SensorHandler) RefreshLevel(c *gin.Context) {
	r, err := h.sensors.RefreshLevel(c.Request.Context())
	if err != nil {
		h.logger.Warn("Level refresh failed", zap.Error(err))
		utils.FailResponse(c, "Failed to refresh level", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Level refreshed", r)
}
