// internal/handler/battery_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vehicle-gateway/internal/service"
	"vehicle-gateway/internal/utils"
)

// BatteryHandler serves the PMS telemetry and the AC inverter switches.
type BatteryHandler struct {
	battery  *service.BatteryService
	inverter *service.InverterService
	logger   *utils.ServiceLogger
}

// NewBatteryHandler creates a new battery handler. battery may be nil when
// CAN is disabled.
func NewBatteryHandler(battery *service.BatteryService, inverter *service.InverterService, logger *zap.Logger) *BatteryHandler {
	return &BatteryHandler{
		battery:  battery,
		inverter: inverter,
		logger:   utils.NewServiceLogger(logger, "battery-handler"),
	}
}

// RegisterRoutes registers battery routes
func (h *BatteryHandler) RegisterRoutes(router *gin.RouterGroup) {
	battery := router.Group("/battery")
	{
		battery.GET("/pms/status", h.PMSStatus)
		battery.GET("/pms/raw", h.PMSRaw)

		ac := battery.Group("/ac")
		{
			ac.POST("/main-power/:state", h.setModule(service.ModuleMainPower))
			ac.POST("/backup-battery/:state", h.setModule(service.ModuleBackupCharger))
			ac.GET("/main-power/status", h.moduleStatus(service.ModuleMainPower))
			ac.GET("/backup-battery/status", h.moduleStatus(service.ModuleBackupCharger))
		}
	}
}

// PMSStatus returns the PMS summary
// @Summary PMS summary
// @Description Battery, DC/AC converter and generator overview decoded from CAN
// @Tags Battery
// @Produce json
// @Success 200 {object} utils.APIResponse{data=service.PMSSummary}
// @Failure 503 {object} utils.APIResponse
// @Router /battery/pms/status [get]
func (h *BatteryHandler) PMSStatus(c *gin.Context) {
	if h.battery == nil {
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "CAN telemetry is disabled", nil)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "PMS status retrieved", h.battery.Status())
}

// PMSRaw returns the latest raw frame per PMS message
// @Summary PMS raw frames
// @Tags Battery
// @Produce json
// @Success 200 {object} utils.APIResponse{data=map[string]service.RawFrame}
// @Failure 503 {object} utils.APIResponse
// @Router /battery/pms/raw [get]
func (h *BatteryHandler) PMSRaw(c *gin.Context) {
	if h.battery == nil {
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "CAN telemetry is disabled", nil)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "PMS frames retrieved", h.battery.RawFrames())
}

// setModule opens or closes an inverter module
// @Summary Switch AC inverter module
// @Tags Battery
// @Produce json
// @Param state path string true "Target state" Enums(OPEN, CLOSE)
// @Success 200 {object} utils.APIResponse{data=service.InverterStatus}
// @Failure 400 {object} utils.APIResponse
// @Failure 503 {object} utils.APIResponse
// @Router /battery/ac/main-power/{state} [post]
// @Router /battery/ac/backup-battery/{state} [post]
func (h *BatteryHandler) setModule(module service.InverterModule) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, err := service.ParseInverterState(c.Param("state"))
		if err != nil {
			utils.FailResponse(c, "Invalid inverter state", err)
			return
		}

		if err := h.inverter.SetState(c.Request.Context(), module, state); err != nil {
			h.logger.Error("Failed to switch inverter",
				zap.Stringer("module", module),
				zap.String("state", string(state)),
				zap.Error(err),
			)
			utils.FailResponse(c, "Failed to switch inverter", err)
			return
		}

		status, err := h.inverter.Status(module)
		if err != nil {
			utils.FailResponse(c, "Failed to read inverter status", err)
			return
		}
		utils.SuccessResponse(c, http.StatusOK, "Inverter switched", status)
	}
}

// moduleStatus reports an inverter module
// @Summary AC inverter module status
// @Tags Battery
// @Produce json
// @Success 200 {object} utils.APIResponse{data=service.InverterStatus}
// @Router /battery/ac/main-power/status [get]
// @Router /battery/ac/backup-battery/status [get]
func (h *BatteryHandler) moduleStatus(module service.InverterModule) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := h.inverter.Status(module)
		if err != nil {
			utils.FailResponse(c, "Failed to read inverter status", err)
			return
		}
		utils.SuccessResponse(c, http.StatusOK, "Inverter status retrieved", status)
	}
}
