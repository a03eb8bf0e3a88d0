// internal/handler/modbus_handler.go
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vehicle-gateway/internal/discovery"
	"vehicle-gateway/internal/errs"
	"vehicle-gateway/internal/modbus"
	"vehicle-gateway/internal/utils"
)

// ModbusHandler exposes bus arbitration telemetry.
type ModbusHandler struct {
	manager   *modbus.Manager
	scheduler *modbus.Scheduler
	prober    *discovery.Prober
	logger    *utils.ServiceLogger
}

// NewModbusHandler creates a new modbus handler. scheduler may be nil when
// the slow bus is disabled.
func NewModbusHandler(manager *modbus.Manager, scheduler *modbus.Scheduler, logger *zap.Logger) *ModbusHandler {
	return &ModbusHandler{
		manager:   manager,
		scheduler: scheduler,
		prober:    discovery.NewProber(manager, logger),
		logger:    utils.NewServiceLogger(logger, "modbus-handler"),
	}
}

// RegisterRoutes registers modbus routes
func (h *ModbusHandler) RegisterRoutes(router *gin.RouterGroup) {
	mb := router.Group("/modbus")
	{
		mb.GET("/status", h.SystemStatus)
		mb.GET("/queues", h.Queues)
		mb.GET("/queue/:port", h.PortStatus)
		mb.GET("/errors/:port", h.ErrorHistory)
		mb.GET("/accesses/:port", h.AccessHistory)
		mb.GET("/devices", h.Devices)
		mb.GET("/slow/status", h.SlowStatus)
		mb.GET("/serial-ports", h.SerialPorts)
		mb.POST("/probe/:port/:address", h.Probe)
	}
}

// port resolves the :port parameter, a port id or a port name or path.
func (h *ModbusHandler) port(c *gin.Context) (modbus.PortID, error) {
	param := c.Param("port")
	if id, err := strconv.Atoi(param); err == nil {
		p, err := h.manager.Registry().Get(modbus.PortID(id))
		if err != nil {
			return 0, err
		}
		return p.ID, nil
	}
	p, err := h.manager.Registry().Resolve(param)
	if err != nil {
		return 0, err
	}
	return p.ID, nil
}

func limitQuery(c *gin.Context) int {
	limit, _ := strconv.Atoi(c.Query("limit"))
	return limit
}

// SystemStatus returns the aggregate view of every port
// @Summary Modbus system status
// @Tags Modbus
// @Produce json
// @Success 200 {object} utils.APIResponse{data=modbus.SystemStatus}
// @Router /modbus/status [get]
func (h *ModbusHandler) SystemStatus(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Modbus status retrieved", h.manager.SystemStatus())
}

// Queues returns the queue view of every port
// @Summary Modbus queues
// @Tags Modbus
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]modbus.QueueStatus}
// @Router /modbus/queues [get]
func (h *ModbusHandler) Queues(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Modbus queues retrieved", h.manager.QueueStatuses())
}

// PortStatus returns the status of one port
// @Summary Modbus port status
// @Tags Modbus
// @Produce json
// @Param port path string true "Port id, name or path"
// @Success 200 {object} utils.APIResponse{data=modbus.PortStatus}
// @Failure 404 {object} utils.APIResponse
// @Router /modbus/queue/{port} [get]
func (h *ModbusHandler) PortStatus(c *gin.Context) {
	id, err := h.port(c)
	if err != nil {
		utils.FailResponse(c, "Unknown port", err)
		return
	}
	status, err := h.manager.PortStatus(id)
	if err != nil {
		utils.FailResponse(c, "Unknown port", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Port status retrieved", status)
}

// ErrorHistory returns recent errors of a port
// @Summary Modbus error history
// @Tags Modbus
// @Produce json
// @Param port path string true "Port id, name or path"
// @Param limit query int false "Maximum entries" default(100)
// @Success 200 {object} utils.APIResponse{data=[]modbus.ErrorRecord}
// @Failure 404 {object} utils.APIResponse
// @Router /modbus/errors/{port} [get]
func (h *ModbusHandler) ErrorHistory(c *gin.Context) {
	id, err := h.port(c)
	if err != nil {
		utils.FailResponse(c, "Unknown port", err)
		return
	}
	history, err := h.manager.ErrorHistory(id, limitQuery(c))
	if err != nil {
		utils.FailResponse(c, "Unknown port", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Error history retrieved", history)
}

// AccessHistory returns recent accesses of a port
// @Summary Modbus access history
// @Tags Modbus
// @Produce json
// @Param port path string true "Port id, name or path"
// @Param limit query int false "Maximum entries" default(100)
// @Success 200 {object} utils.APIResponse{data=[]modbus.AccessRecord}
// @Failure 404 {object} utils.APIResponse
// @Router /modbus/accesses/{port} [get]
func (h *ModbusHandler) AccessHistory(c *gin.Context) {
	id, err := h.port(c)
	if err != nil {
		utils.FailResponse(c, "Unknown port", err)
		return
	}
	history, err := h.manager.AccessHistory(id, limitQuery(c))
	if err != nil {
		utils.FailResponse(c, "Unknown port", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Access history retrieved", history)
}

// Devices returns the circuit state of every device seen
// @Summary Modbus device states
// @Tags Modbus
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]modbus.DeviceState}
// @Router /modbus/devices [get]
func (h *ModbusHandler) Devices(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Device states retrieved", h.manager.DeviceStates())
}

// SlowStatus returns the slow bus job history
// @Summary Slow bus status
// @Tags Modbus
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Failure 503 {object} utils.APIResponse
// @Router /modbus/slow/status [get]
func (h *ModbusHandler) SlowStatus(c *gin.Context) {
	if h.scheduler == nil {
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "Slow bus is disabled", nil)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Slow bus status retrieved", gin.H{
		"name":       h.scheduler.Name(),
		"busy":       h.scheduler.Busy(),
		"executions": h.scheduler.Executions(),
	})
}

// SerialPorts lists the serial devices of the host
// @Summary Host serial ports
// @Description Serial devices matching the usual RS-485 adapter names, with the ports already in use
// @Tags Modbus
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]discovery.SerialPort}
// @Router /modbus/serial-ports [get]
func (h *ModbusHandler) SerialPorts(c *gin.Context) {
	ports, err := discovery.ListSerialPorts(h.manager.Registry())
	if err != nil {
		h.logger.Error("Serial port enumeration failed", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list serial ports", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Serial ports retrieved", ports)
}

// Probe checks whether a unit answers on a port
// @Summary Probe a Modbus unit
// @Tags Modbus
// @Produce json
// @Param port path string true "Port id, name or path"
// @Param address path int true "Unit address (1-247)"
// @Success 200 {object} utils.APIResponse{data=discovery.ProbeResult}
// @Failure 400 {object} utils.APIResponse
// @Failure 404 {object} utils.APIResponse
// @Failure 503 {object} utils.APIResponse "Unit in cooldown"
// @Router /modbus/probe/{port}/{address} [post]
func (h *ModbusHandler) Probe(c *gin.Context) {
	port, err := h.port(c)
	if err != nil {
		utils.FailResponse(c, "Unknown port", err)
		return
	}
	addr, err := strconv.ParseUint(c.Param("address"), 10, 8)
	if err != nil {
		utils.FailResponse(c, "Invalid address", errs.Invalid("address", "not a unit address: %q", c.Param("address")))
		return
	}

	result, err := h.prober.Probe(c.Request.Context(), port, uint8(addr))
	if err != nil {
		utils.FailResponse(c, "Probe failed", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Probe completed", result)
}
