// internal/routes/routes.go
package routes

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"vehicle-gateway/internal/can"
	"vehicle-gateway/internal/config"
	"vehicle-gateway/internal/events"
	"vehicle-gateway/internal/handler"
	"vehicle-gateway/internal/middleware"
	"vehicle-gateway/internal/modbus"
	"vehicle-gateway/internal/service"
	"vehicle-gateway/internal/utils"
)

// Services bundles what the HTTP layer serves. Battery, Heater and
// Transport are nil when CAN is disabled; Backup, Sensors and Scheduler
// are nil when the slow bus is disabled.
type Services struct {
	Manager   *modbus.Manager
	Scheduler *modbus.Scheduler
	Transport *can.Transport
	EventBus  *events.Bus

	Relays   *service.RelayService
	Inverter *service.InverterService
	Battery  *service.BatteryService
	Heater   *service.HeaterService
	Backup   *service.BackupService
	Sensors  *service.SensorService
}

// Router holds all dependencies for routing
type Router struct {
	config   *config.Config
	logger   *zap.Logger
	services Services
}

// NewRouter creates a new router instance
func NewRouter(config *config.Config, logger *zap.Logger, services Services) *Router {
	return &Router{
		config:   config,
		logger:   logger,
		services: services,
	}
}

// SetupRouter creates and configures the Gin router. ctx bounds the
// WebSocket event forwarding.
func (r *Router) SetupRouter(ctx context.Context) *gin.Engine {
	if r.config.IsProduction() || !r.config.IsDebugEnabled() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(ctx, router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Security))

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(ctx context.Context, router *gin.Engine) {
	s := r.services

	handler.NewHealthHandler(r.config, s.Manager, s.Transport, r.logger).RegisterRoutes(router)

	apiV1 := router.Group("/api/v1")
	handler.NewModbusHandler(s.Manager, s.Scheduler, r.logger).RegisterRoutes(apiV1)
	handler.NewRelayHandler(s.Relays, r.logger).RegisterRoutes(apiV1)
	handler.NewBatteryHandler(s.Battery, s.Inverter, r.logger).RegisterRoutes(apiV1)

	if s.Heater != nil {
		handler.NewHeaterHandler(s.Heater, r.logger).RegisterRoutes(apiV1)
	}
	if s.Transport != nil {
		handler.NewCANHandler(s.Transport, r.logger).RegisterRoutes(apiV1)
	}
	if s.Backup != nil {
		handler.NewBackupHandler(s.Backup, r.logger).RegisterRoutes(apiV1)
	}
	if s.Sensors != nil {
		handler.NewSensorHandler(s.Sensors, r.logger).RegisterRoutes(apiV1)
	}

	wsHandler := handler.NewWebSocketHandler(s.EventBus, s.Relays, r.config.Security.AllowedOrigins, r.logger)
	wsHandler.Start(ctx)
	wsHandler.RegisterRoutes(router.Group("/ws"))

	r.addDocumentationRoutes(router)

	r.logger.Info("All routes configured successfully")
}

// addDocumentationRoutes sets up documentation routes
func (r *Router) addDocumentationRoutes(router *gin.Engine) {
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	router.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
}
