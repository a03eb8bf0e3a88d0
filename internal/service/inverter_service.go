// internal/service/inverter_service.go
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"vehicle-gateway/internal/config"
	"vehicle-gateway/internal/errs"
	"vehicle-gateway/internal/events"
	"vehicle-gateway/internal/modbus"
	"vehicle-gateway/internal/periodic"
	"vehicle-gateway/internal/utils"
)

// InverterModule selects one AC inverter module by its coil address.
type InverterModule uint16

const (
	ModuleMainPower     InverterModule = 0
	ModuleBackupCharger InverterModule = 1
)

func (m InverterModule) String() string {
	switch m {
	case ModuleMainPower:
		return "main-power"
	case ModuleBackupCharger:
		return "backup-battery"
	}
	return fmt.Sprintf("module-%d", uint16(m))
}

// InverterState is the commanded state of a module.
type InverterState string

const (
	InverterOpen  InverterState = "OPEN"
	InverterClose InverterState = "CLOSE"
)

// ParseInverterState accepts OPEN or CLOSE in any case.
func ParseInverterState(s string) (InverterState, error) {
	switch InverterState(upper(s)) {
	case InverterOpen:
		return InverterOpen, nil
	case InverterClose:
		return InverterClose, nil
	}
	return "", errs.Invalid("state", "must be OPEN or CLOSE, got %q", s)
}

// InverterStatus reports one module.
type InverterStatus struct {
	Module          uint16        `json:"module_number"`
	Name            string        `json:"name"`
	IsOpen          bool          `json:"is_open"`
	Status          InverterState `json:"status"`
	LastCommandTime *time.Time    `json:"last_command_time,omitempty"`
	LastError       string        `json:"last_error,omitempty"`
}

type inverterModuleState struct {
	keepAlive   *periodic.Task
	lastCommand time.Time
	lastErr     error
}

// InverterService switches the AC inverter modules. An open module must be
// refreshed continuously, so OPEN installs a keep-alive task on the manager.
type InverterService struct {
	manager *modbus.Manager
	port    modbus.PortID
	config  config.InverterConfig
	events  *events.Bus
	logger  *utils.ServiceLogger

	mu      sync.Mutex
	modules map[InverterModule]*inverterModuleState
}

// NewInverterService creates the service for the inverter on port.
func NewInverterService(manager *modbus.Manager, port modbus.PortID, cfg config.InverterConfig, eventBus *events.Bus, logger *zap.Logger) *InverterService {
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = time.Second
	}
	if cfg.CloseRepeats <= 0 {
		cfg.CloseRepeats = 3
	}
	if cfg.CloseInterval <= 0 {
		cfg.CloseInterval = time.Second
	}
	return &InverterService{
		manager: manager,
		port:    port,
		config:  cfg,
		events:  eventBus,
		logger:  utils.NewServiceLogger(logger, "inverter-service"),
		modules: map[InverterModule]*inverterModuleState{
			ModuleMainPower:     {},
			ModuleBackupCharger: {},
		},
	}
}

func (s *InverterService) module(m InverterModule) (*inverterModuleState, error) {
	st, ok := s.modules[m]
	if !ok {
		return nil, fmt.Errorf("inverter %s: %w", m, errs.ErrNotFound)
	}
	return st, nil
}

func (s *InverterService) writeCoil(ctx context.Context, m InverterModule, on bool) error {
	_, err := s.manager.Enqueue(ctx, s.port, s.config.Address, func(ctx context.Context, c *modbus.Client) (any, error) {
		return nil, c.WriteSingleCoil(ctx, uint16(m), on)
	}, modbus.PriorityHigh)

	s.mu.Lock()
	if st, ok := s.modules[m]; ok {
		st.lastCommand = time.Now()
		st.lastErr = err
	}
	s.mu.Unlock()
	return err
}

// SetState opens or closes a module. Opening writes the coil once and keeps
// rewriting it until the module is closed. Closing stops the keep-alive and
// writes the coil off several times.
func (s *InverterService) SetState(ctx context.Context, m InverterModule, state InverterState) error {
	if _, err := s.module(m); err != nil {
		return err
	}

	switch state {
	case InverterOpen:
		return s.open(ctx, m)
	case InverterClose:
		return s.close(ctx, m)
	}
	return errs.Invalid("state", "must be OPEN or CLOSE, got %q", state)
}

func (s *InverterService) open(ctx context.Context, m InverterModule) error {
	if err := s.writeCoil(ctx, m, true); err != nil {
		return fmt.Errorf("open inverter %s: %w", m, err)
	}

	s.mu.Lock()
	st := s.modules[m]
	old := st.keepAlive
	st.keepAlive = nil
	s.mu.Unlock()
	s.manager.Unschedule(old)

	task := s.manager.Schedule("inverter-"+m.String()+"-keepalive", s.config.KeepAliveInterval, func(ctx context.Context) error {
		return s.writeCoil(ctx, m, true)
	})

	s.mu.Lock()
	st.keepAlive = task
	s.mu.Unlock()

	s.logger.Info("Inverter module opened", zap.Stringer("module", m))
	s.publish(m, InverterOpen)
	return nil
}

func (s *InverterService) close(ctx context.Context, m InverterModule) error {
	s.mu.Lock()
	st := s.modules[m]
	task := st.keepAlive
	st.keepAlive = nil
	s.mu.Unlock()
	s.manager.Unschedule(task)

	var failures error
	succeeded := false
	for i := 0; i < s.config.CloseRepeats; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.config.CloseInterval):
			}
		}
		if err := s.writeCoil(ctx, m, false); err != nil {
			failures = multierr.Append(failures, err)
			continue
		}
		succeeded = true
	}

	if !succeeded {
		return fmt.Errorf("close inverter %s: %w", m, failures)
	}
	if failures != nil {
		s.logger.Warn("Some inverter close writes failed", zap.Stringer("module", m), zap.Error(failures))
	}

	s.logger.Info("Inverter module closed", zap.Stringer("module", m))
	s.publish(m, InverterClose)
	return nil
}

func (s *InverterService) publish(m InverterModule, state InverterState) {
	if s.events == nil {
		return
	}
	s.events.Publish(events.New(events.TypeInverterStateChange, "inverter", map[string]any{
		"module": m.String(),
		"state":  state,
	}))
}

// Status reports a module.
func (s *InverterService) Status(m InverterModule) (InverterStatus, error) {
	st, err := s.module(m)
	if err != nil {
		return InverterStatus{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	status := InverterStatus{
		Module: uint16(m),
		Name:   m.String(),
		IsOpen: st.keepAlive != nil,
		Status: InverterClose,
	}
	if status.IsOpen {
		status.Status = InverterOpen
	}
	if !st.lastCommand.IsZero() {
		at := st.lastCommand
		status.LastCommandTime = &at
	}
	if st.lastErr != nil {
		status.LastError = st.lastErr.Error()
	}
	return status, nil
}

// Stop cancels the keep-alive of every module without writing the coils.
func (s *InverterService) Stop() {
	s.mu.Lock()
	var tasks []*periodic.Task
	for _, st := range s.modules {
		tasks = append(tasks, st.keepAlive)
		st.keepAlive = nil
	}
	s.mu.Unlock()

	for _, t := range tasks {
		s.manager.Unschedule(t)
	}
}
