// internal/handler/relay_handler.go
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vehicle-gateway/internal/errs"
	"vehicle-gateway/internal/service"
	"vehicle-gateway/internal/utils"
)

// RelayHandler serves the relay banks.
type RelayHandler struct {
	relays *service.RelayService
	logger *utils.ServiceLogger
}

// NewRelayHandler creates a new relay handler
func NewRelayHandler(relays *service.RelayService, logger *zap.Logger) *RelayHandler {
	return &RelayHandler{
		relays: relays,
		logger: utils.NewServiceLogger(logger, "relay-handler"),
	}
}

// RegisterRoutes registers relay routes
func (h *RelayHandler) RegisterRoutes(router *gin.RouterGroup) {
	relay := router.Group("/relay")
	{
		relay.GET("/devices", h.ListDevices)
		relay.GET("/rooms", h.ListRooms)
		relay.POST("/buttons/:id/on", h.switchButton(true))
		relay.POST("/buttons/:id/off", h.switchButton(false))

		device := relay.Group("/device/:id")
		{
			device.GET("", h.GetDevice)
			device.GET("/relay-state", h.RelayState)
			device.GET("/input-state", h.InputState)
			device.GET("/online-status", h.OnlineStatus)
			device.POST("/:relayId/on", h.switchRelay(true))
			device.POST("/:relayId/off", h.switchRelay(false))
		}
	}
}

// ListDevices lists relay banks
// @Summary List relay devices
// @Tags Relay
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]service.DeviceView}
// @Router /relay/devices [get]
func (h *RelayHandler) ListDevices(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Relay devices retrieved", h.relays.Devices())
}

// GetDevice returns one relay bank
// @Summary Get relay device
// @Tags Relay
// @Produce json
// @Param id path string true "Device ID"
// @Success 200 {object} utils.APIResponse{data=service.DeviceView}
// @Failure 404 {object} utils.APIResponse
// @Router /relay/device/{id} [get]
func (h *RelayHandler) GetDevice(c *gin.Context) {
	device, err := h.relays.Device(c.Param("id"))
	if err != nil {
		utils.FailResponse(c, "Relay device not found", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Relay device retrieved", device)
}

// RelayState returns the coil states of a device
// @Summary Relay states
// @Tags Relay
// @Produce json
// @Param id path string true "Device ID"
// @Success 200 {object} utils.APIResponse{data=service.StateView}
// @Failure 404 {object} utils.APIResponse
// @Failure 503 {object} utils.APIResponse "Device in cooldown"
// @Router /relay/device/{id}/relay-state [get]
func (h *RelayHandler) RelayState(c *gin.Context) {
	state, err := h.relays.RelayState(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.FailResponse(c, "Failed to read relay state", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Relay state retrieved", state)
}

// InputState returns the discrete input states of a device
// @Summary Input states
// @Tags Relay
// @Produce json
// @Param id path string true "Device ID"
// @Success 200 {object} utils.APIResponse{data=service.StateView}
// @Failure 404 {object} utils.APIResponse
// @Router /relay/device/{id}/input-state [get]
func (h *RelayHandler) InputState(c *gin.Context) {
	state, err := h.relays.InputState(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.FailResponse(c, "Failed to read input state", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Input state retrieved", state)
}

// OnlineStatus probes a device
// @Summary Relay device online status
// @Tags Relay
// @Produce json
// @Param id path string true "Device ID"
// @Success 200 {object} utils.APIResponse{data=service.OnlineStatus}
// @Failure 404 {object} utils.APIResponse
// @Router /relay/device/{id}/online-status [get]
func (h *RelayHandler) OnlineStatus(c *gin.Context) {
	status, err := h.relays.OnlineStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.FailResponse(c, "Relay device not found", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Online status retrieved", status)
}

// ListRooms groups buttons by room
// @Summary List rooms
// @Tags Relay
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{rooms=[]service.Room}}
// @Router /relay/rooms [get]
func (h *RelayHandler) ListRooms(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Rooms retrieved", gin.H{"rooms": h.relays.Rooms()})
}

// switchButton switches the relay behind a button
// @Summary Switch button
// @Tags Relay
// @Produce json
// @Param id path string true "Button ID"
// @Success 200 {object} utils.APIResponse{data=service.ButtonResult}
// @Failure 404 {object} utils.APIResponse
// @Failure 503 {object} utils.APIResponse "Device in cooldown"
// @Router /relay/buttons/{id}/on [post]
// @Router /relay/buttons/{id}/off [post]
func (h *RelayHandler) switchButton(on bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := h.relays.SetButton(c.Request.Context(), c.Param("id"), on)
		if err != nil {
			h.logger.Warn("Button switch failed", zap.String("button_id", c.Param("id")), zap.Bool("on", on), zap.Error(err))
			utils.FailResponse(c, "Failed to switch button", err)
			return
		}
		utils.SuccessResponse(c, http.StatusOK, "Button switched", result)
	}
}

// switchRelay switches one channel of a device
// @Summary Switch relay channel
// @Tags Relay
// @Produce json
// @Param id path string true "Device ID"
// @Param relayId path int true "Channel index"
// @Success 200 {object} utils.APIResponse
// @Failure 400 {object} utils.APIResponse
// @Failure 404 {object} utils.APIResponse
// @Router /relay/device/{id}/{relayId}/on [post]
// @Router /relay/device/{id}/{relayId}/off [post]
func (h *RelayHandler) switchRelay(on bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceID := c.Param("id")
		index, err := strconv.Atoi(c.Param("relayId"))
		if err != nil {
			utils.FailResponse(c, "Invalid relay id", errs.Invalid("relayId", "not a number: %q", c.Param("relayId")))
			return
		}

		if err := h.relays.SetRelay(c.Request.Context(), deviceID, index, on); err != nil {
			h.logger.Warn("Relay switch failed", zap.String("device_id", deviceID), zap.Int("relay", index), zap.Error(err))
			utils.FailResponse(c, "Failed to switch relay", err)
			return
		}
		utils.SuccessResponse(c, http.StatusOK, "Relay switched", gin.H{
			"device_id": deviceID,
			"relay_id":  index,
			"state":     on,
		})
	}
}
