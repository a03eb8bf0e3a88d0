// internal/handler/backup_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vehicle-gateway/internal/service"
	"vehicle-gateway/internal/utils"
)

// BackupHandler serves the backup battery readings.
type BackupHandler struct {
	backup *service.BackupService
	logger *utils.ServiceLogger
}

// NewBackupHandler creates a new backup battery handler
func NewBackupHandler(backup *service.BackupService, logger *zap.Logger) *BackupHandler {
	return &BackupHandler{
		backup: backup,
		logger: utils.NewServiceLogger(logger, "backup-handler"),
	}
}

// RegisterRoutes registers backup battery routes
func (h *BackupHandler) RegisterRoutes(router *gin.RouterGroup) {
	backup := router.Group("/battery/backup")
	{
		backup.GET("/latest", h.Latest)
		backup.GET("/soc", view(h.backup.SOC, "Backup battery SOC retrieved"))
		backup.GET("/voltage", view(h.backup.Voltage, "Backup battery voltage retrieved"))
		backup.GET("/current", view(h.backup.Current, "Backup battery current retrieved"))
		backup.GET("/power", view(h.backup.Power, "Backup battery power retrieved"))
		backup.GET("/temperature", view(h.backup.Temperature, "Backup battery temperature retrieved"))
		backup.GET("/status", view(h.backup.Status, "Backup battery status retrieved"))
		backup.GET("/summary", view(h.backup.Summary, "Backup battery summary retrieved"))
	}
}

// view adapts a service read into a handler. A missing reading answers 404.
func view[T any](read func() (T, error), message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := read()
		if err != nil {
			utils.FailResponse(c, "No backup battery data", err)
			return
		}
		utils.SuccessResponse(c, http.StatusOK, message, v)
	}
}

// Latest returns the full register block of the last poll
// @Summary Latest backup battery reading
// @Tags Backup Battery
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Failure 404 {object} utils.APIResponse
// @Router /battery/backup/latest [get]
func (h *BackupHandler) Latest(c *gin.Context) {
	r, err := h.backup.Latest()
	if err != nil {
		utils.FailResponse(c, "No backup battery data", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Backup battery data retrieved", r)
}
