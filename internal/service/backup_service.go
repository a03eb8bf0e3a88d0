// internal/service/backup_service.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vehicle-gateway/internal/errs"
	"vehicle-gateway/internal/utils"
	"vehicle-gateway/internal/vehicle"
)

const backupJobName = "backup-battery"

// BackupSOC is the charge view of the backup battery.
type BackupSOC struct {
	SOC               decimal.Decimal `json:"soc"`
	RemainingCapacity decimal.Decimal `json:"remaining_capacity"`
	Timestamp         time.Time       `json:"timestamp"`
}

// BackupVoltage is the cell voltage view.
type BackupVoltage struct {
	Total           decimal.Decimal   `json:"total_voltage"`
	Average         decimal.Decimal   `json:"average_voltage"`
	Max             decimal.Decimal   `json:"max_cell_voltage"`
	MaxIndex        uint16            `json:"max_cell_voltage_index"`
	Min             decimal.Decimal   `json:"min_cell_voltage"`
	MinIndex        uint16            `json:"min_cell_voltage_index"`
	Difference      decimal.Decimal   `json:"cell_voltage_difference"`
	CellVoltages    []decimal.Decimal `json:"cell_voltages"`
	BalancingStatus uint16            `json:"balancing_status"`
}

// BackupCurrent is the current view.
type BackupCurrent struct {
	Current                decimal.Decimal `json:"current"`
	ChargeDischargeStatus  string          `json:"charge_discharge_status"`
	ChargerStatus          uint16          `json:"charger_status"`
	LoadStatus             uint16          `json:"load_status"`
	HeatingCurrent         uint16          `json:"heating_current"`
	CurrentLimitingStatus  uint16          `json:"current_limiting_status"`
	CurrentLimitingCurrent decimal.Decimal `json:"current_limiting_current"`
}

// BackupPower is the power view.
type BackupPower struct {
	Power   uint16          `json:"power"`
	Energy  uint16          `json:"energy"`
	Voltage decimal.Decimal `json:"voltage"`
	Current decimal.Decimal `json:"current"`
}

// BackupTemperature is the temperature view in °C.
type BackupTemperature struct {
	Max          int    `json:"max_cell_temperature"`
	MaxIndex     uint16 `json:"max_cell_temperature_index"`
	Min          int    `json:"min_cell_temperature"`
	MinIndex     uint16 `json:"min_cell_temperature_index"`
	Difference   uint16 `json:"temperature_difference"`
	MOS          int    `json:"mos_temperature"`
	Ambient      int    `json:"ambient_temperature"`
	Heating      int    `json:"heating_temperature"`
	Temperatures []int  `json:"battery_temperatures"`
}

// BackupStatus is the switch and counter view.
type BackupStatus struct {
	ChargeDischargeStatus string `json:"charge_discharge_status"`
	ChargerStatus         uint16 `json:"charger_status"`
	LoadStatus            uint16 `json:"load_status"`
	ChargeMOS             bool   `json:"charge_mos"`
	DischargeMOS          bool   `json:"discharge_mos"`
	PrechargeMOS          bool   `json:"precharge_mos"`
	HeaterMOS             bool   `json:"heater_mos"`
	FanMOS                bool   `json:"fan_mos"`
	CurrentLimiting       uint16 `json:"current_limiting_status"`
	CycleCount            uint16 `json:"cycle_count"`
	DI                    []bool `json:"di_status"`
	DO                    []bool `json:"do_status"`
}

// BackupSummary is the short overview of the backup battery.
type BackupSummary struct {
	SOC                   decimal.Decimal `json:"soc"`
	TotalVoltage          decimal.Decimal `json:"total_voltage"`
	Current               decimal.Decimal `json:"current"`
	Power                 uint16          `json:"power"`
	ChargeDischargeStatus string          `json:"charge_discharge_status"`
	MaxCellTemperature    int             `json:"max_cell_temperature"`
	MinCellTemperature    int             `json:"min_cell_temperature"`
	CycleCount            uint16          `json:"cycle_count"`
	IsFresh               bool            `json:"is_fresh"`
	UpdateTime            time.Time       `json:"update_time"`
}

// BackupService polls the backup battery on the slow bus.
type BackupService struct {
	bus    SlowBus
	data   *snapshot[*vehicle.BackupBattery]
	logger *utils.ServiceLogger
}

// NewBackupService creates the service. Readings older than freshWindow
// are reported as stale.
func NewBackupService(bus SlowBus, freshWindow time.Duration, logger *zap.Logger) *BackupService {
	if freshWindow <= 0 {
		freshWindow = 30 * time.Second
	}
	return &BackupService{
		bus:    bus,
		data:   newSnapshot[*vehicle.BackupBattery](freshWindow),
		logger: utils.NewServiceLogger(logger, "backup-battery-service"),
	}
}

// Start registers the poll job on the slow bus.
func (s *BackupService) Start() {
	s.bus.Register(backupJobName, s.poll)
	s.logger.Info("Backup battery job registered")
}

func (s *BackupService) poll(ctx context.Context) (any, error) {
	data, err := s.bus.SendRequest(ctx, vehicle.BackupBatteryRequest)
	if err != nil {
		s.data.fail(err)
		return nil, err
	}
	b, err := vehicle.ParseBackupBattery(data)
	if err != nil {
		s.data.fail(err)
		return nil, fmt.Errorf("backup battery: %w", err)
	}
	s.data.store(b, time.Now())
	return b, nil
}

// Latest returns the last reading.
func (s *BackupService) Latest() (Reading[*vehicle.BackupBattery], error) {
	r, ok := s.data.load(time.Now())
	if !ok {
		if err := s.data.err(); err != nil {
			return r, fmt.Errorf("no backup battery data (last error: %v): %w", err, errs.ErrNotFound)
		}
		return r, fmt.Errorf("no backup battery data: %w", errs.ErrNotFound)
	}
	return r, nil
}

// IsFresh reports whether a recent reading exists.
func (s *BackupService) IsFresh() bool {
	r, ok := s.data.load(time.Now())
	return ok && r.IsFresh
}

func (s *BackupService) latest() (*vehicle.BackupBattery, error) {
	r, err := s.Latest()
	if err != nil {
		return nil, err
	}
	return r.Data, nil
}

// SOC returns the charge view.
func (s *BackupService) SOC() (BackupSOC, error) {
	b, err := s.latest()
	if err != nil {
		return BackupSOC{}, err
	}
	return BackupSOC{
		SOC:               b.SOCPercent(),
		RemainingCapacity: b.RemainingCapacity,
		Timestamp:         b.Timestamp,
	}, nil
}

// Voltage returns the voltage view.
func (s *BackupService) Voltage() (BackupVoltage, error) {
	b, err := s.latest()
	if err != nil {
		return BackupVoltage{}, err
	}
	return BackupVoltage{
		Total:           b.TotalVoltage,
		Average:         b.AverageVoltage,
		Max:             b.MaxCellVoltage,
		MaxIndex:        b.MaxCellVoltageIndex,
		Min:             b.MinCellVoltage,
		MinIndex:        b.MinCellVoltageIndex,
		Difference:      b.CellVoltageDifference,
		CellVoltages:    b.CellVoltages,
		BalancingStatus: b.BalancingStatus,
	}, nil
}

// Current returns the current view.
func (s *BackupService) Current() (BackupCurrent, error) {
	b, err := s.latest()
	if err != nil {
		return BackupCurrent{}, err
	}
	return BackupCurrent{
		Current:                b.Current,
		ChargeDischargeStatus:  b.ChargeDischargeText(),
		ChargerStatus:          b.ChargerStatus,
		LoadStatus:             b.LoadStatus,
		HeatingCurrent:         b.HeatingCurrent,
		CurrentLimitingStatus:  b.CurrentLimiting,
		CurrentLimitingCurrent: b.CurrentLimitingCurrent,
	}, nil
}

// Power returns the power view.
func (s *BackupService) Power() (BackupPower, error) {
	b, err := s.latest()
	if err != nil {
		return BackupPower{}, err
	}
	return BackupPower{Power: b.Power, Energy: b.Energy, Voltage: b.TotalVoltage, Current: b.Current}, nil
}

// Temperature returns the temperature view.
func (s *BackupService) Temperature() (BackupTemperature, error) {
	b, err := s.latest()
	if err != nil {
		return BackupTemperature{}, err
	}
	return BackupTemperature{
		Max:          b.MaxCellTemperature,
		MaxIndex:     b.MaxCellTemperatureIdx,
		Min:          b.MinCellTemperature,
		MinIndex:     b.MinCellTemperatureIdx,
		Difference:   b.TemperatureDifference,
		MOS:          b.MOSTemperature,
		Ambient:      b.AmbientTemperature,
		Heating:      b.HeatingTemperature,
		Temperatures: b.Temperatures,
	}, nil
}

// Status returns the switch view.
func (s *BackupService) Status() (BackupStatus, error) {
	b, err := s.latest()
	if err != nil {
		return BackupStatus{}, err
	}
	return BackupStatus{
		ChargeDischargeStatus: b.ChargeDischargeText(),
		ChargerStatus:         b.ChargerStatus,
		LoadStatus:            b.LoadStatus,
		ChargeMOS:             b.ChargeMOS,
		DischargeMOS:          b.DischargeMOS,
		PrechargeMOS:          b.PrechargeMOS,
		HeaterMOS:             b.HeaterMOS,
		FanMOS:                b.FanMOS,
		CurrentLimiting:       b.CurrentLimiting,
		CycleCount:            b.CycleCount,
		DI:                    b.DI,
		DO:                    b.DO,
	}, nil
}

// Summary returns the overview.
func (s *BackupService) Summary() (BackupSummary, error) {
	r, err := s.Latest()
	if err != nil {
		return BackupSummary{}, err
	}
	b := r.Data
	return BackupSummary{
		SOC:                   b.SOCPercent(),
		TotalVoltage:          b.TotalVoltage,
		Current:               b.Current,
		Power:                 b.Power,
		ChargeDischargeStatus: b.ChargeDischargeText(),
		MaxCellTemperature:    b.MaxCellTemperature,
		MinCellTemperature:    b.MinCellTemperature,
		CycleCount:            b.CycleCount,
		IsFresh:               r.IsFresh,
		UpdateTime:            r.UpdateTime,
	}, nil
}
