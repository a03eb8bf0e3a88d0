// internal/service/battery_service.go
package service

import (
	"encoding/hex"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vehicle-gateway/internal/can"
	"vehicle-gateway/internal/config"
	"vehicle-gateway/internal/events"
	"vehicle-gateway/internal/utils"
	"vehicle-gateway/internal/vehicle"
)

// RawFrame is the latest decoded frame of one PMS message.
type RawFrame struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Data       string          `json:"data"`
	Message    vehicle.Message `json:"message"`
	ReceivedAt time.Time       `json:"received_at"`
}

// BMSSummary condenses the battery management frames.
type BMSSummary struct {
	SOC          uint8              `json:"soc"`
	Voltage      decimal.Decimal    `json:"voltage"`
	Current      decimal.Decimal    `json:"current"`
	FaultLevel   vehicle.FaultLevel `json:"fault_level"`
	ActiveFaults []string           `json:"active_faults"`
}

// DCACSummary condenses the DC/AC converter frames.
type DCACSummary struct {
	SystemStatus uint8 `json:"system_status"`
	TempModule   int   `json:"temp_module"`
	Relay1       uint8 `json:"relay1"`
	Relay2       uint8 `json:"relay2"`
	EnableDCAC   uint8 `json:"enable_dcac"`
}

// ISGSummary condenses the generator frames.
type ISGSummary struct {
	ChargeEnable uint8           `json:"charge_enable"`
	SystemStatus uint8           `json:"system_status"`
	Torque       decimal.Decimal `json:"torque"`
	Speed        int16           `json:"speed"`
	Current      decimal.Decimal `json:"current"`
	FaultInfo    uint8           `json:"fault_info"`
}

// PMSSummary is the power management overview.
type PMSSummary struct {
	BMS       BMSSummary  `json:"bms"`
	DCAC      DCACSummary `json:"dcac"`
	ISG       ISGSummary  `json:"isg"`
	Timestamp *time.Time  `json:"timestamp"`
}

// activeFaultSample logs faulted frames at the status rate instead of the
// slower idle fault rate.
const activeFaultSample = "BMS_FaultInfo/active"

// BatteryService tracks the PMS frames received on the telemetry link.
type BatteryService struct {
	bus         CANBus
	events      *events.Bus
	faultLogger *zap.Logger
	sampler     *sampler
	logger      *utils.ServiceLogger

	mu      sync.RWMutex
	raw     map[string]RawFrame
	summary PMSSummary
	faults  []string
	level   vehicle.FaultLevel
	cancel  func()
}

// NewBatteryService creates the service. Frames are not observed until Start.
func NewBatteryService(bus CANBus, eventBus *events.Bus, faultLogger *zap.Logger, cfg config.BatteryConfig, logger *zap.Logger) *BatteryService {
	return &BatteryService{
		bus:         bus,
		events:      eventBus,
		faultLogger: faultLogger,
		sampler: newSampler(map[string]time.Duration{
			vehicle.BMSStatus01{}.Name():  cfg.StatusLogInterval,
			vehicle.BMSStatus02{}.Name():  cfg.StatusLogInterval,
			vehicle.BMSFaultInfo{}.Name(): cfg.FaultLogInterval,
			vehicle.DCACCommand{}.Name():  cfg.DeviceLogInterval,
			vehicle.DCACStatus{}.Name():   cfg.DeviceLogInterval,
			vehicle.ISGCommand{}.Name():   cfg.DeviceLogInterval,
			vehicle.RCUStatus01{}.Name():  cfg.DeviceLogInterval,
			activeFaultSample:             cfg.StatusLogInterval,
		}),
		logger: utils.NewServiceLogger(logger, "battery-service"),
		raw:    make(map[string]RawFrame),
	}
}

// Start registers the PMS frame handler.
func (s *BatteryService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	s.cancel = s.bus.Register(can.MatchID(vehicle.PMSFrameIDs()...), s.handleFrame)
	s.logger.Info("Battery service started")
}

// Stop removes the frame handler.
func (s *BatteryService) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *BatteryService) handleFrame(f can.Frame) {
	msg, err := vehicle.Decode(f)
	if err != nil {
		s.logger.Warn("Failed to decode PMS frame", zap.Uint32("can_id", f.ID), zap.Error(err))
		return
	}

	now := time.Now()
	s.mu.Lock()
	s.raw[msg.Name()] = RawFrame{
		ID:         fmt.Sprintf("%08X", f.ID),
		Name:       msg.Name(),
		Data:       hex.EncodeToString(f.Payload()),
		Message:    msg,
		ReceivedAt: now,
	}
	s.summary.Timestamp = &now

	var transition *BMSSummary
	switch m := msg.(type) {
	case vehicle.BMSStatus01:
		s.summary.BMS.SOC = m.SOC
		s.summary.BMS.Voltage = m.Voltage
		s.summary.BMS.Current = m.Current
	case vehicle.BMSFaultInfo:
		active := m.ActiveFaults()
		if m.Level != s.level || !slices.Equal(active, s.faults) {
			s.level, s.faults = m.Level, active
			transition = &BMSSummary{}
			*transition = s.summary.BMS
		}
		s.summary.BMS.FaultLevel = m.Level
		s.summary.BMS.ActiveFaults = active
	case vehicle.DCACCommand:
		s.summary.DCAC.EnableDCAC = m.EnableDCAC
	case vehicle.DCACStatus:
		s.summary.DCAC.SystemStatus = m.SystemStatus
		s.summary.DCAC.TempModule = m.TempModule
		s.summary.DCAC.Relay1 = m.Relay1
		s.summary.DCAC.Relay2 = m.Relay2
	case vehicle.ISGCommand:
		s.summary.ISG.ChargeEnable = m.ChargeEnable
	case vehicle.RCUStatus01:
		s.summary.ISG.SystemStatus = m.SystemStatus
		s.summary.ISG.Torque = m.Torque
		s.summary.ISG.Speed = m.Speed
		s.summary.ISG.Current = m.Current
		s.summary.ISG.FaultInfo = m.FaultInfo
	}
	s.mu.Unlock()

	if fault, ok := msg.(vehicle.BMSFaultInfo); ok {
		if transition != nil {
			s.recordFault(f, fault, *transition)
		}
		if fault.HasFault() {
			if s.sampler.due(activeFaultSample, now) {
				s.logger.Warn("BMS reports fault", zap.Stringer("level", fault.Level), zap.Strings("faults", fault.ActiveFaults()))
			}
			return
		}
	}

	if s.sampler.due(msg.Name(), now) {
		s.logger.Debug("PMS sample", zap.String("message", msg.Name()), zap.Any("value", msg))
	}
}

func (s *BatteryService) recordFault(f can.Frame, fault vehicle.BMSFaultInfo, snapshot BMSSummary) {
	fields := []zap.Field{
		zap.String("frame_id", fmt.Sprintf("%08X", f.ID)),
		zap.String("raw_data", hex.EncodeToString(f.Payload())),
		zap.Uint8("fault_level", uint8(fault.Level)),
		zap.String("fault_level_text", fault.Level.String()),
		zap.Strings("active_faults", fault.ActiveFaults()),
		zap.Stringer("bms_voltage", snapshot.Voltage),
		zap.Stringer("bms_current", snapshot.Current),
		zap.Uint8("bms_soc", snapshot.SOC),
	}
	if fault.HasFault() {
		s.faultLogger.Warn("BMS fault state changed", fields...)
	} else {
		s.faultLogger.Info("BMS faults cleared", fields...)
	}

	if s.events != nil {
		s.events.Publish(events.New(events.TypeBMSFault, "battery", map[string]any{
			"fault_level":   fault.Level,
			"active_faults": fault.ActiveFaults(),
		}))
	}
}

// Status returns the PMS summary.
func (s *BatteryService) Status() PMSSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.summary
	out.BMS.ActiveFaults = append([]string{}, s.summary.BMS.ActiveFaults...)
	return out
}

// RawFrames returns the latest frame of every PMS message seen so far.
func (s *BatteryService) RawFrames() map[string]RawFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]RawFrame, len(s.raw))
	for k, v := range s.raw {
		out[k] = v
	}
	return out
}
