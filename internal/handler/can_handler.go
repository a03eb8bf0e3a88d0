// internal/handler/can_handler.go
package handler

import (
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vehicle-gateway/internal/can"
	"vehicle-gateway/internal/errs"
	"vehicle-gateway/internal/utils"
)

// CANHandler exposes the CAN links for inspection and raw sends.
type CANHandler struct {
	transport *can.Transport
	logger    *utils.ServiceLogger
}

// SendFrameRequest is a raw frame to write on a link. CollectID, when set,
// waits for the first frame with that identifier.
type SendFrameRequest struct {
	Link      string `json:"link" binding:"required"`
	ID        string `json:"id" binding:"required"`
	Data      string `json:"data"`
	CollectID string `json:"collect_id,omitempty"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

// FrameView is the JSON form of a frame.
type FrameView struct {
	ID       string `json:"id"`
	Extended bool   `json:"extended"`
	DLC      uint8  `json:"dlc"`
	Data     string `json:"data"`
}

// SendFrameResponse echoes the written frame and any collected reply.
type SendFrameResponse struct {
	Sent  FrameView  `json:"sent"`
	Reply *FrameView `json:"reply,omitempty"`
}

func viewFrame(f can.Frame) FrameView {
	return FrameView{
		ID:       strconv.FormatUint(uint64(f.ID), 16),
		Extended: f.Extended(),
		DLC:      f.DLC,
		Data:     hex.EncodeToString(f.Payload()),
	}
}

// NewCANHandler creates a new CAN handler
func NewCANHandler(transport *can.Transport, logger *zap.Logger) *CANHandler {
	return &CANHandler{
		transport: transport,
		logger:    utils.NewServiceLogger(logger, "can-handler"),
	}
}

// RegisterRoutes registers CAN routes
func (h *CANHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/can")
	{
		group.GET("/links", h.Links)
		group.POST("/send", h.Send)
	}
}

// Links returns the status of every CAN link
// @Summary CAN link status
// @Tags CAN
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]can.LinkStatus}
// @Router /can/links [get]
func (h *CANHandler) Links(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "CAN links retrieved", gin.H{
		"links":   h.transport.Status(),
		"pending": h.transport.Pending(),
	})
}

// Send writes a raw frame
// @Summary Send raw CAN frame
// @Tags CAN
// @Accept json
// @Produce json
// @Param request body SendFrameRequest true "Frame"
// @Success 200 {object} utils.APIResponse{data=SendFrameResponse}
// @Failure 400 {object} utils.APIResponse
// @Failure 503 {object} utils.APIResponse "Link not connected"
// @Failure 504 {object} utils.APIResponse "No reply"
// @Router /can/send [post]
func (h *CANHandler) Send(c *gin.Context) {
	var req SendFrameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	frame, err := buildFrame(req.ID, req.Data)
	if err != nil {
		utils.FailResponse(c, "Invalid frame", err)
		return
	}
	link := can.LinkID(req.Link)

	if req.CollectID == "" {
		if err := h.transport.Send(link, frame); err != nil {
			utils.FailResponse(c, "Failed to send frame", err)
			return
		}
		utils.SuccessResponse(c, http.StatusOK, "Frame sent", SendFrameResponse{Sent: viewFrame(frame)})
		return
	}

	collect, err := parseCANID("collect_id", req.CollectID)
	if err != nil {
		utils.FailResponse(c, "Invalid collect id", err)
		return
	}
	timeout := time.Duration(req.TimeoutMS) * time.Millisecond

	reply, err := h.transport.SendWithCollect(c.Request.Context(), link, frame, can.MatchID(collect), timeout)
	if err != nil {
		h.logger.Warn("Collect failed", zap.String("link", req.Link), zap.Stringer("frame", frame), zap.Error(err))
		utils.FailResponse(c, "Failed to collect reply", err)
		return
	}
	out := viewFrame(reply)
	utils.SuccessResponse(c, http.StatusOK, "Reply collected", SendFrameResponse{
		Sent:  viewFrame(frame),
		Reply: &out,
	})
}

func buildFrame(id, data string) (can.Frame, error) {
	canID, err := parseCANID("id", id)
	if err != nil {
		return can.Frame{}, err
	}
	payload, err := hex.DecodeString(strings.ReplaceAll(data, " ", ""))
	if err != nil {
		return can.Frame{}, errs.Invalid("data", "not hex: %v", err)
	}
	return can.NewFrame(canID, payload)
}

func parseCANID(field, s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil || v > can.MaxExtendedID {
		return 0, errs.Invalid(field, "invalid identifier %q", s)
	}
	return uint32(v), nil
}
