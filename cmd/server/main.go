// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	_ "vehicle-gateway/docs"
	"vehicle-gateway/internal/can"
	"vehicle-gateway/internal/config"
	"vehicle-gateway/internal/events"
	"vehicle-gateway/internal/modbus"
	"vehicle-gateway/internal/routes"
	"vehicle-gateway/internal/service"
	"vehicle-gateway/internal/utils"
)

// Application represents the main application
type Application struct {
	config      *config.Config
	logger      *zap.Logger
	faultLogger *zap.Logger
	server      *http.Server

	ctx    context.Context
	cancel context.CancelFunc

	eventBus  *events.Bus
	registry  *modbus.Registry
	manager   *modbus.Manager
	scheduler *modbus.Scheduler
	transport *can.Transport

	// Services
	relayService    *service.RelayService
	inverterService *service.InverterService
	batteryService  *service.BatteryService
	heaterService   *service.HeaterService
	backupService   *service.BackupService
	sensorService   *service.SensorService
}

// @title Vehicle Gateway API
// @version 1.0.0
// @description Relay banks, batteries, inverter, diesel heater and sensors of a vehicle over Modbus RTU and CAN

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8084
// @BasePath /api/v1
func main() {
	configDir := flag.String("config", "", "directory searched first for config.yaml")
	flag.Parse()

	app, err := NewApplication(*configDir)
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication(configDir string) (*Application, error) {
	var paths []string
	if configDir != "" {
		paths = append(paths, configDir)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	faultLogger, err := utils.NewFaultLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize fault logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, "vehicle-gateway")
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	// telemetry values render as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true

	ctx, cancel := context.WithCancel(context.Background())
	app := &Application{
		config:      cfg,
		logger:      logger,
		faultLogger: faultLogger,
		ctx:         ctx,
		cancel:      cancel,
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"event bus", app.initializeEventBus},
		{"modbus ports", app.initializePorts},
		{"modbus manager", app.initializeManager},
		{"slow bus", app.initializeSlowBus},
		{"CAN transport", app.initializeCAN},
		{"services", app.initializeServices},
		{"server", app.initializeServer},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			app.release()
			return nil, fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}

	return app, nil
}

// initializeEventBus creates the in-process event bus
func (app *Application) initializeEventBus() error {
	app.eventBus = events.NewBus(1000, app.logger)
	return nil
}

// initializePorts opens every fast-bus serial port
func (app *Application) initializePorts() error {
	app.registry = modbus.NewRegistry()

	for _, pc := range app.config.Modbus.Ports {
		port, err := modbus.OpenRTUPort(pc.SerialConfig(), app.logger)
		if err != nil {
			return fmt.Errorf("port %s (%s): %w", pc.Name, pc.Path, err)
		}
		id := app.registry.Add(pc.Name, pc.Path, port, port, pc.Timeout)
		app.logger.Info("Modbus port opened",
			zap.Int("port_id", int(id)),
			zap.String("name", pc.Name),
			zap.String("path", pc.Path),
			zap.Int("baud_rate", pc.BaudRate),
		)
	}
	return nil
}

// initializeManager starts the fast-bus arbitration
func (app *Application) initializeManager() error {
	app.manager = modbus.NewManager(app.registry, modbus.ManagerConfig{
		MinRequestInterval: app.config.Modbus.MinRequestInterval,
		Cooldown:           app.config.Modbus.Cooldown,
		CleanupInterval:    app.config.Modbus.CleanupInterval,
	}, app.logger)
	return nil
}

// initializeSlowBus opens the sensor and backup battery line
func (app *Application) initializeSlowBus() error {
	sc := app.config.SlowBus
	if !sc.Enabled {
		app.logger.Info("Slow bus disabled")
		return nil
	}

	scheduler, err := modbus.OpenScheduler(sc.SerialConfig(), modbus.SchedulerConfig{
		Interval:       sc.Interval,
		RequestTimeout: sc.RequestTimeout,
	}, app.logger)
	if err != nil {
		return err
	}

	slowLogger := app.logger.With(zap.String("component", "slow-bus"))
	scheduler.SetObserver(func(info modbus.TaskExecutionInfo) {
		if info.EndTime != nil && info.Err != nil {
			slowLogger.Warn("Slow bus job failed",
				zap.String("task", info.TaskName),
				zap.Int("index", info.TaskIndex),
				zap.Error(info.Err),
			)
		}
	})

	app.scheduler = scheduler
	return nil
}

// initializeCAN creates the telemetry and control links
func (app *Application) initializeCAN() error {
	cc := app.config.CAN
	if !cc.Enabled {
		app.logger.Info("CAN disabled")
		return nil
	}

	app.transport = can.NewTransport(can.TransportConfig{
		Links: []can.LinkConfig{
			{ID: can.LinkTelemetry, Address: cc.Links.Telemetry.Address, DialTimeout: cc.Links.Telemetry.DialTimeout},
			{ID: can.LinkControl, Address: cc.Links.Control.Address, DialTimeout: cc.Links.Control.DialTimeout},
		},
		Backoff: can.BackoffConfig{
			Base:        cc.BaseDelay,
			Max:         cc.MaxDelay,
			MaxAttempts: cc.MaxAttempts,
		},
		SweepInterval:  cc.SweepInterval,
		CollectTimeout: cc.CollectTimeout,
	}, app.logger)

	app.transport.OnConnectionChange(func(status can.LinkStatus) {
		app.eventBus.Publish(events.New(events.TypeLinkStatus, "can-transport", status))
	})
	return nil
}

// initializeServices creates service instances
func (app *Application) initializeServices() error {
	devices, err := config.LoadRelayDevices(app.config.Relay.DevicesFile)
	if err != nil {
		return err
	}

	app.relayService, err = service.NewRelayService(app.manager, devices, app.config.Relay, app.eventBus, app.logger)
	if err != nil {
		return err
	}

	inverterPort, err := app.registry.Resolve(app.config.Inverter.Port)
	if err != nil {
		return fmt.Errorf("inverter: %w", err)
	}
	app.inverterService = service.NewInverterService(app.manager, inverterPort.ID, app.config.Inverter, app.eventBus, app.logger)

	if app.transport != nil {
		app.batteryService = service.NewBatteryService(app.transport, app.eventBus, app.faultLogger, app.config.Battery, app.logger)
		app.heaterService = service.NewHeaterService(app.transport, app.eventBus, app.config.Heater, app.logger)
	}

	if app.scheduler != nil {
		app.backupService = service.NewBackupService(app.scheduler, app.config.Sensor.FreshWindow, app.logger)
		app.sensorService = service.NewSensorService(app.scheduler, app.config.Sensor.FreshWindow, app.logger)
	}

	app.logger.Info("Services initialized successfully",
		zap.Int("relay_devices", len(devices)),
		zap.Bool("can", app.transport != nil),
		zap.Bool("slow_bus", app.scheduler != nil),
	)
	return nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() error {
	routerManager := routes.NewRouter(app.config, app.logger, routes.Services{
		Manager:   app.manager,
		Scheduler: app.scheduler,
		Transport: app.transport,
		EventBus:  app.eventBus,
		Relays:    app.relayService,
		Inverter:  app.inverterService,
		Battery:   app.batteryService,
		Heater:    app.heaterService,
		Backup:    app.backupService,
		Sensors:   app.sensorService,
	})

	router := routerManager.SetupRouter(app.ctx)

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized", zap.String("address", app.config.GetServerAddr()))
	return nil
}

// startBackgroundServices starts pollers, handlers and links
func (app *Application) startBackgroundServices() {
	app.eventBus.Start(app.ctx)

	app.relayService.Start()

	if app.transport != nil {
		app.batteryService.Start()
		app.heaterService.Start()
		app.transport.Start(app.ctx)
	}

	if app.scheduler != nil {
		app.backupService.Start()
		app.sensorService.Start()
		app.scheduler.Start(app.ctx)
	}

	app.logger.Info("Background services started")
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown(serverErr <-chan error) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		app.shutdown("shutdown signal received")
	case err := <-serverErr:
		app.logger.Error("HTTP server failed", zap.Error(err))
		app.shutdown("http server failed")
	}
}

// shutdown performs graceful shutdown
func (app *Application) shutdown(reason string) {
	serviceLogger := utils.NewServiceLogger(app.logger, "vehicle-gateway")
	serviceLogger.LogServiceStop(reason)

	ctx, cancel := context.WithTimeout(context.Background(), app.shutdownTimeout())
	defer cancel()

	var err error
	if shutdownErr := app.server.Shutdown(ctx); shutdownErr != nil {
		err = multierr.Append(err, fmt.Errorf("http server: %w", shutdownErr))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	done := make(chan error, 1)
	go func() { done <- app.release() }()

	select {
	case releaseErr := <-done:
		err = multierr.Append(err, releaseErr)
	case <-ctx.Done():
		err = multierr.Append(err, fmt.Errorf("release: %w", ctx.Err()))
	}

	for _, e := range multierr.Errors(err) {
		utils.LogError(app.logger, "Shutdown error", e)
	}
	app.logger.Info("Application shutdown completed")

	if closeErr := utils.CloseLogger(app.faultLogger); closeErr != nil {
		fmt.Printf("Fault logger close error: %v\n", closeErr)
	}
	if closeErr := utils.CloseLogger(app.logger); closeErr != nil {
		fmt.Printf("Logger close error: %v\n", closeErr)
	}
}

// release stops services before the buses they use. It tolerates a
// partially initialized application.
func (app *Application) release() error {
	if app.cancel != nil {
		app.cancel()
	}

	if app.heaterService != nil {
		app.heaterService.Stop()
	}
	if app.batteryService != nil {
		app.batteryService.Stop()
	}
	if app.inverterService != nil {
		app.inverterService.Stop()
	}
	if app.relayService != nil {
		app.relayService.Stop()
	}

	var err error
	if app.scheduler != nil {
		err = multierr.Append(err, app.scheduler.Close())
	}
	if app.transport != nil {
		err = multierr.Append(err, app.transport.Close())
	}
	if app.manager != nil {
		err = multierr.Append(err, app.manager.Close())
	}
	if app.registry != nil {
		err = multierr.Append(err, app.registry.Close())
	}
	if app.eventBus != nil {
		app.eventBus.Wait()
	}
	return err
}

func (app *Application) shutdownTimeout() time.Duration {
	if t := app.config.Server.ShutdownTimeout; t > 0 {
		return t
	}
	return 30 * time.Second
}

func (app *Application) Start() error {
	serverErr := make(chan error, 1)
	go func() {
		app.logger.Info("Starting HTTP server", zap.String("address", app.server.Addr))

		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	app.startBackgroundServices()

	app.waitForShutdown(serverErr)

	return nil
}
