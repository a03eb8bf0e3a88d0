// internal/service/heater_service.go
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"vehicle-gateway/internal/can"
	"vehicle-gateway/internal/config"
	"vehicle-gateway/internal/errs"
	"vehicle-gateway/internal/events"
	"vehicle-gateway/internal/periodic"
	"vehicle-gateway/internal/utils"
	"vehicle-gateway/internal/vehicle"
)

// HeaterStatus is the last state reported by the heater.
type HeaterStatus struct {
	InletTemperature  int        `json:"inlet_temperature"`
	OutletTemperature int        `json:"outlet_temperature"`
	WorkStatus        string     `json:"work_status"`
	WorkMode          string     `json:"work_mode"`
	IgnitionStatus    string     `json:"ignition_status"`
	FaultCode         uint8      `json:"fault_code"`
	FaultText         string     `json:"fault_text"`
	Running           bool       `json:"is_running"`
	Heating           bool       `json:"is_heating"`
	Online            bool       `json:"is_online"`
	LastUpdate        *time.Time `json:"last_update"`
}

// HeaterControlState is what the gateway currently commands.
type HeaterControlState struct {
	On                bool    `json:"on"`
	Heating           bool    `json:"heating"`
	HasActiveControl  bool    `json:"has_active_control"`
	TargetTemperature float64 `json:"target_temperature"`
}

// HeaterConnection is the control link view.
type HeaterConnection struct {
	Connected bool           `json:"is_connected"`
	Link      can.LinkStatus `json:"link"`
}

// HeaterDetail combines status, control and connection.
type HeaterDetail struct {
	Status     HeaterStatus       `json:"status"`
	Control    HeaterControlState `json:"control_state"`
	Connection HeaterConnection   `json:"connection_status"`
}

// HeaterService observes and commands the diesel heater.
type HeaterService struct {
	bus    CANBus
	events *events.Bus
	config config.HeaterConfig
	logger *utils.ServiceLogger

	// connectWait bounds how long a start waits for the control link.
	connectWait time.Duration

	mu         sync.Mutex
	temps      vehicle.HeaterTemperatures
	state      vehicle.HeaterState
	hasState   bool
	lastUpdate time.Time
	control    HeaterControlState
	resend     *periodic.Task
	cancel     func()
}

// NewHeaterService creates the service.
func NewHeaterService(bus CANBus, eventBus *events.Bus, cfg config.HeaterConfig, logger *zap.Logger) *HeaterService {
	if cfg.ResendInterval <= 0 {
		cfg.ResendInterval = time.Second
	}
	if cfg.OnlineWindow <= 0 {
		cfg.OnlineWindow = 5 * time.Second
	}
	if cfg.DefaultTarget <= 0 {
		cfg.DefaultTarget = vehicle.HeaterDefaultTarget
	}
	return &HeaterService{
		bus:         bus,
		events:      eventBus,
		config:      cfg,
		logger:      utils.NewServiceLogger(logger, "diesel-heater-service"),
		connectWait: 5 * time.Second,
		control:     HeaterControlState{TargetTemperature: cfg.DefaultTarget},
	}
}

// Start registers the heater status handler.
func (s *HeaterService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	s.cancel = s.bus.Register(can.MatchID(vehicle.IDHeaterTemperature, vehicle.IDHeaterState), s.handleFrame)
	s.logger.Info("Diesel heater service started")
}

// Stop removes the handler and ends the control loop without sending.
func (s *HeaterService) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	task := s.resend
	s.resend = nil
	s.control.HasActiveControl = false
	s.mu.Unlock()

	if task != nil {
		task.Stop()
	}
	if cancel != nil {
		cancel()
	}
}

func (s *HeaterService) handleFrame(f can.Frame) {
	now := time.Now()
	switch f.ID {
	case vehicle.IDHeaterTemperature:
		temps, err := vehicle.DecodeHeaterTemperatures(f)
		if err != nil {
			s.logger.Warn("Invalid heater temperature frame", zap.Error(err))
			return
		}
		s.mu.Lock()
		s.temps = temps
		s.lastUpdate = now
		s.mu.Unlock()

	case vehicle.IDHeaterState:
		state, err := vehicle.DecodeHeaterState(f)
		if err != nil {
			s.logger.Warn("Invalid heater state frame", zap.Error(err))
			return
		}
		s.mu.Lock()
		changed := !s.hasState || state != s.state
		s.state = state
		s.hasState = true
		s.lastUpdate = now
		s.mu.Unlock()

		if changed {
			s.logger.Info("Heater state changed",
				zap.String("work_status", state.WorkStatusText()),
				zap.String("work_mode", state.WorkModeText()),
				zap.String("fault", state.FaultText()),
			)
			if s.events != nil {
				s.events.Publish(events.New(events.TypeHeaterStatus, "diesel-heater", s.Status()))
			}
		}
	}
}

func (s *HeaterService) onlineLocked(now time.Time) bool {
	return !s.lastUpdate.IsZero() && now.Sub(s.lastUpdate) <= s.config.OnlineWindow
}

// Status returns the last reported heater state.
func (s *HeaterService) Status() HeaterStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := HeaterStatus{
		InletTemperature:  s.temps.Inlet,
		OutletTemperature: s.temps.Outlet,
		WorkStatus:        s.state.WorkStatusText(),
		WorkMode:          s.state.WorkModeText(),
		IgnitionStatus:    s.state.IgnitionStatusText(),
		FaultCode:         s.state.FaultCode,
		FaultText:         s.state.FaultText(),
		Running:           s.state.Running(),
		Heating:           s.state.Heating(),
		Online:            s.onlineLocked(time.Now()),
	}
	if !s.lastUpdate.IsZero() {
		at := s.lastUpdate
		status.LastUpdate = &at
	}
	return status
}

// IsOnline reports whether the heater reported recently.
func (s *HeaterService) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onlineLocked(time.Now())
}

// ControlState returns the commanded state.
func (s *HeaterService) ControlState() HeaterControlState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.control
}

// ConnectionStatus reports the control link. The heater is reachable when
// the link is connected and receiving.
func (s *HeaterService) ConnectionStatus() (HeaterConnection, error) {
	status, err := s.bus.LinkStatus(can.LinkControl)
	if err != nil {
		return HeaterConnection{}, err
	}
	return HeaterConnection{
		Connected: status.Phase == can.PhaseConnected && status.IsReceiving,
		Link:      status,
	}, nil
}

// Detail returns status, control and connection together.
func (s *HeaterService) Detail() (HeaterDetail, error) {
	conn, err := s.ConnectionStatus()
	if err != nil {
		return HeaterDetail{}, err
	}
	return HeaterDetail{Status: s.Status(), Control: s.ControlState(), Connection: conn}, nil
}

// StartWithHeating turns the heater on with the burner enabled.
func (s *HeaterService) StartWithHeating(ctx context.Context) error {
	return s.start(ctx, true)
}

// StartWithoutHeating turns the heater on in circulation mode.
func (s *HeaterService) StartWithoutHeating(ctx context.Context) error {
	return s.start(ctx, false)
}

func (s *HeaterService) start(ctx context.Context, heating bool) error {
	if !s.IsOnline() {
		return fmt.Errorf("diesel heater has not reported within %s: %w", s.config.OnlineWindow, &errs.NotConnectedError{Link: "diesel-heater"})
	}
	if err := s.ensureConnected(ctx); err != nil {
		return err
	}
	return s.startControl(true, heating)
}

// ensureConnected connects the control link and waits until it is up.
func (s *HeaterService) ensureConnected(ctx context.Context) error {
	status, err := s.bus.LinkStatus(can.LinkControl)
	if err != nil {
		return err
	}
	if status.Phase == can.PhaseConnected {
		return nil
	}
	if err := s.bus.Connect(can.LinkControl); err != nil {
		return fmt.Errorf("connect control link: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.connectWait)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		status, err := s.bus.LinkStatus(can.LinkControl)
		if err != nil {
			return err
		}
		if status.Phase == can.PhaseConnected {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for control link: %w", &errs.NotConnectedError{Link: string(can.LinkControl)})
		case <-ticker.C:
		}
	}
}

func (s *HeaterService) send(on, heating bool, target float64) error {
	return s.bus.Send(can.LinkControl, vehicle.HeaterControlFrame(on, heating, target))
}

// startControl sends the command now and keeps resending it.
func (s *HeaterService) startControl(on, heating bool) error {
	s.mu.Lock()
	s.control.On = on
	s.control.Heating = heating
	target := s.control.TargetTemperature
	task := s.resend
	s.mu.Unlock()

	if err := s.send(on, heating, target); err != nil {
		return fmt.Errorf("send heater command: %w", err)
	}

	if task == nil {
		task = periodic.New("diesel-heater-control", s.config.ResendInterval, func(context.Context) error {
			c := s.ControlState()
			return s.send(c.On, c.Heating, c.TargetTemperature)
		}, s.logger.Logger)

		s.mu.Lock()
		if s.resend == nil {
			s.resend = task
			task.Start(context.Background())
		} else {
			task = s.resend
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.control.HasActiveControl = true
	s.mu.Unlock()

	s.logger.Info("Heater control active", zap.Bool("heating", heating), zap.Float64("target", target))
	return nil
}

// TurnOff stops the control loop and, when the control link is up, sends
// one off frame.
func (s *HeaterService) TurnOff() error {
	s.stopControl()

	s.mu.Lock()
	target := s.control.TargetTemperature
	s.mu.Unlock()

	status, err := s.bus.LinkStatus(can.LinkControl)
	if err != nil {
		return err
	}
	if status.Phase != can.PhaseConnected {
		return nil
	}
	if err := s.send(false, false, target); err != nil {
		return fmt.Errorf("send heater off: %w", err)
	}
	s.logger.Info("Heater turned off")
	return nil
}

func (s *HeaterService) stopControl() {
	s.mu.Lock()
	task := s.resend
	s.resend = nil
	s.control.On = false
	s.control.Heating = false
	s.control.HasActiveControl = false
	s.mu.Unlock()

	if task != nil {
		task.Stop()
	}
}

// SetTargetTemperature sets the target in °C and resends when active.
func (s *HeaterService) SetTargetTemperature(target float64) error {
	if target < vehicle.HeaterMinTarget || target > vehicle.HeaterMaxTarget {
		return errs.Invalid("temperature", "must be between %d and %d, got %v", vehicle.HeaterMinTarget, vehicle.HeaterMaxTarget, target)
	}

	s.mu.Lock()
	s.control.TargetTemperature = target
	c := s.control
	s.mu.Unlock()

	if !c.HasActiveControl {
		return nil
	}
	if err := s.send(c.On, c.Heating, target); err != nil {
		return fmt.Errorf("send heater target: %w", err)
	}
	return nil
}

// ToggleHeating flips the burner of a running heater.
func (s *HeaterService) ToggleHeating() (HeaterControlState, error) {
	c := s.ControlState()
	if !c.On || !c.HasActiveControl {
		return c, errs.Invalid("state", "heater is not on")
	}
	if err := s.startControl(true, !c.Heating); err != nil {
		return c, err
	}
	return s.ControlState(), nil
}

// Connect starts the control link.
func (s *HeaterService) Connect() error {
	return s.bus.Connect(can.LinkControl)
}

// Disconnect ends the control loop and stops the control link.
func (s *HeaterService) Disconnect() error {
	s.stopControl()
	return s.bus.Disconnect(can.LinkControl)
}
