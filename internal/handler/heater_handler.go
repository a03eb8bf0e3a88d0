// internal/handler/heater_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vehicle-gateway/internal/service"
	"vehicle-gateway/internal/utils"
)

// HeaterHandler serves the diesel heater.
type HeaterHandler struct {
	heater *service.HeaterService
	logger *utils.ServiceLogger
}

// SetTemperatureRequest sets the heater target.
type SetTemperatureRequest struct {
	Temperature *float64 `json:"temperature" binding:"required"`
}

// NewHeaterHandler creates a new heater handler
func NewHeaterHandler(heater *service.HeaterService, logger *zap.Logger) *HeaterHandler {
	return &HeaterHandler{
		heater: heater,
		logger: utils.NewServiceLogger(logger, "heater-handler"),
	}
}

// RegisterRoutes registers diesel heater routes
func (h *HeaterHandler) RegisterRoutes(router *gin.RouterGroup) {
	heater := router.Group("/diesel-heater")
	{
		heater.GET("/status", h.Status)
		heater.POST("/start-with-heating", h.StartWithHeating)
		heater.POST("/start-without-heating", h.StartWithoutHeating)
		heater.POST("/stop", h.Stop)
		heater.POST("/toggle-heating", h.ToggleHeating)
		heater.PUT("/temperature", h.SetTemperature)
		heater.GET("/connection-status", h.ConnectionStatus)
		heater.GET("/control-state", h.ControlState)
		heater.GET("/health", h.Health)
		heater.POST("/connect", h.Connect)
		heater.POST("/disconnect", h.Disconnect)
	}
}

// Status returns the heater state with control and link details
// @Summary Diesel heater status
// @Tags Diesel Heater
// @Produce json
// @Success 200 {object} utils.APIResponse{data=service.HeaterDetail}
// @Router /diesel-heater/status [get]
func (h *HeaterHandler) Status(c *gin.Context) {
	detail, err := h.heater.Detail()
	if err != nil {
		utils.FailResponse(c, "Failed to read heater status", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Heater status retrieved", detail)
}

// StartWithHeating turns the heater on with the burner
// @Summary Start heater with heating
// @Tags Diesel Heater
// @Produce json
// @Success 200 {object} utils.APIResponse{data=service.HeaterControlState}
// @Failure 503 {object} utils.APIResponse "Heater offline"
// @Router /diesel-heater/start-with-heating [post]
func (h *HeaterHandler) StartWithHeating(c *gin.Context) {
	if err := h.heater.StartWithHeating(c.Request.Context()); err != nil {
		h.logger.Warn("Heater start failed", zap.Bool("heating", true), zap.Error(err))
		utils.FailResponse(c, "Failed to start heater", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Heater started with heating", h.heater.ControlState())
}

// StartWithoutHeating turns the heater on without the burner
// @Summary Start heater without heating
// @Tags Diesel Heater
// @Produce json
// @Success 200 {object} utils.APIResponse{data=service.HeaterControlState}
// @Failure 503 {object} utils.APIResponse "Heater offline"
// @Router /diesel-heater/start-without-heating [post]
func (h *HeaterHandler) StartWithoutHeating(c *gin.Context) {
	if err := h.heater.StartWithoutHeating(c.Request.Context()); err != nil {
		h.logger.Warn("Heater start failed", zap.Bool("heating", false), zap.Error(err))
		utils.FailResponse(c, "Failed to start heater", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Heater started without heating", h.heater.ControlState())
}

// Stop turns the heater off
// @Summary Stop heater
// @Tags Diesel Heater
// @Produce json
// @Success 200 {object} utils.APIResponse{data=service.HeaterControlState}
// @Router /diesel-heater/stop [post]
func (h *HeaterHandler) Stop(c *gin.Context) {
	if err := h.heater.TurnOff(); err != nil {
		utils.FailResponse(c, "Failed to stop heater", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Heater stopped", h.heater.ControlState())
}

// ToggleHeating flips the burner of a running heater
// @Summary Toggle heating
// @Tags Diesel Heater
// @Produce json
// @Success 200 {object} utils.APIResponse{data=service.HeaterControlState}
// @Failure 400 {object} utils.APIResponse "Heater is off"
// @Router /diesel-heater/toggle-heating [post]
func (h *HeaterHandler) ToggleHeating(c *gin.Context) {
	state, err := h.heater.ToggleHeating()
	if err != nil {
		utils.FailResponse(c, "Failed to toggle heating", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Heating toggled", state)
}

// SetTemperature sets the target temperature
// @Summary Set target temperature
// @Tags Diesel Heater
// @Accept json
// @Produce json
// @Param request body SetTemperatureRequest true "Target in °C (0-100)"
// @Success 200 {object} utils.APIResponse{data=service.HeaterControlState}
// @Failure 400 {object} utils.APIResponse
// @Router /diesel-heater/temperature [put]
func (h *HeaterHandler) SetTemperature(c *gin.Context) {
	var req SetTemperatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.heater.SetTargetTemperature(*req.Temperature); err != nil {
		utils.FailResponse(c, "Failed to set temperature", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Target temperature set", h.heater.ControlState())
}

// ConnectionStatus reports the control link
// @Summary Heater connection status
// @Tags Diesel Heater
// @Produce json
// @Success 200 {object} utils.APIResponse{data=service.HeaterConnection}
// @Router /diesel-heater/connection-status [get]
func (h *HeaterHandler) ConnectionStatus(c *gin.Context) {
	conn, err := h.heater.ConnectionStatus()
	if err != nil {
		utils.FailResponse(c, "Failed to read connection status", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Connection status retrieved", conn)
}

// ControlState returns the commanded state
// @Summary Heater control state
// @Tags Diesel Heater
// @Produce json
// @Success 200 {object} utils.APIResponse{data=service.HeaterControlState}
// @Router /diesel-heater/control-state [get]
func (h *HeaterHandler) ControlState(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Control state retrieved", h.heater.ControlState())
}

// Health reports whether the heater is reachable
// @Summary Heater health
// @Tags Diesel Heater
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Router /diesel-heater/health [get]
func (h *HeaterHandler) Health(c *gin.Context) {
	conn, err := h.heater.ConnectionStatus()
	if err != nil {
		utils.FailResponse(c, "Failed to read connection status", err)
		return
	}
	status := h.heater.Status()
	utils.SuccessResponse(c, http.StatusOK, "Heater health retrieved", gin.H{
		"online":      status.Online,
		"connected":   conn.Connected,
		"last_update": status.LastUpdate,
		"fault":       status.FaultText,
	})
}

// Connect starts the control link
// @Summary Connect heater control link
// @Tags Diesel Heater
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Router /diesel-heater/connect [post]
func (h *HeaterHandler) Connect(c *gin.Context) {
	if err := h.heater.Connect(); err != nil {
		utils.FailResponse(c, "Failed to connect control link", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Control link connecting", nil)
}

// Disconnect stops control and the control link
// @Summary Disconnect heater control link
// @Tags Diesel Heater
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Router /diesel-heater/disconnect [post]
func (h *HeaterHandler) Disconnect(c *gin.Context) {
	if err := h.heater.Disconnect(); err != nil {
		utils.FailResponse(c, "Failed to disconnect control link", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Control link disconnected", nil)
}
