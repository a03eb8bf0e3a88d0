// internal/vehicle/backup.go
package vehicle

import (
	"encoding/binary"
	"time"

	"github.com/shopspring/decimal"

	"vehicle-gateway/internal/errs"
)

// BackupBatteryRequest reads the 127 real-time registers of the backup
// battery at unit 0x81.
const BackupBatteryRequest = "81030000007f1bea"

const (
	backupRegisterCount = 127
	backupCellCount     = 48
	backupTempCount     = 8
)

// BackupBattery is the real-time register block of the backup battery.
type BackupBattery struct {
	CellVoltages           []decimal.Decimal `json:"cell_voltages"`
	Temperatures           []int             `json:"battery_temperatures"`
	TotalVoltage           decimal.Decimal   `json:"total_voltage"`
	Current                decimal.Decimal   `json:"current"`
	SOC                    decimal.Decimal   `json:"soc"`
	Life                   uint16            `json:"life"`
	BatteryCount           uint16            `json:"battery_count"`
	TemperatureSensorCount uint16            `json:"temperature_sensor_count"`
	MaxCellVoltage         decimal.Decimal   `json:"max_cell_voltage"`
	MaxCellVoltageIndex    uint16            `json:"max_cell_voltage_index"`
	MinCellVoltage         decimal.Decimal   `json:"min_cell_voltage"`
	MinCellVoltageIndex    uint16            `json:"min_cell_voltage_index"`
	CellVoltageDifference  decimal.Decimal   `json:"cell_voltage_difference"`
	MaxCellTemperature     int               `json:"max_cell_temperature"`
	MaxCellTemperatureIdx  uint16            `json:"max_cell_temperature_index"`
	MinCellTemperature     int               `json:"min_cell_temperature"`
	MinCellTemperatureIdx  uint16            `json:"min_cell_temperature_index"`
	TemperatureDifference  uint16            `json:"temperature_difference"`
	ChargeDischargeStatus  uint16            `json:"charge_discharge_status"`
	ChargerStatus          uint16            `json:"charger_status"`
	LoadStatus             uint16            `json:"load_status"`
	RemainingCapacity      decimal.Decimal   `json:"remaining_capacity"`
	CycleCount             uint16            `json:"cycle_count"`
	BalancingStatus        uint16            `json:"balancing_status"`
	BalancingCells         []bool            `json:"balancing_cell_flags"`
	ChargeMOS              bool              `json:"charge_mos"`
	DischargeMOS           bool              `json:"discharge_mos"`
	PrechargeMOS           bool              `json:"precharge_mos"`
	HeaterMOS              bool              `json:"heater_mos"`
	FanMOS                 bool              `json:"fan_mos"`
	AverageVoltage         decimal.Decimal   `json:"average_voltage"`
	Power                  uint16            `json:"power"`
	Energy                 uint16            `json:"energy"`
	MOSTemperature         int               `json:"mos_temperature"`
	AmbientTemperature     int               `json:"ambient_temperature"`
	HeatingTemperature     int               `json:"heating_temperature"`
	HeatingCurrent         uint16            `json:"heating_current"`
	CurrentLimiting        uint16            `json:"current_limiting_status"`
	CurrentLimitingCurrent decimal.Decimal   `json:"current_limiting_current"`
	Timestamp              time.Time         `json:"timestamp"`
	RemainingChargeTime    uint16            `json:"remaining_charge_time"`
	DI                     []bool            `json:"di_status"`
	DO                     []bool            `json:"do_status"`
	InterfaceType          uint16            `json:"interface_type"`
}

// ParseBackupBattery decodes the 254 data bytes of the real-time block.
func ParseBackupBattery(data []byte) (*BackupBattery, error) {
	if len(data) != 2*backupRegisterCount {
		return nil, errs.Invalid("length", "backup battery block must be %d bytes, got %d", 2*backupRegisterCount, len(data))
	}

	r := make([]uint16, backupRegisterCount)
	for i := range r {
		r[i] = binary.BigEndian.Uint16(data[2*i:])
	}

	milli := func(v uint16) decimal.Decimal { return decimal.New(int64(v), -3) }
	offset40 := func(v uint16) int { return int(v) - 40 }

	b := &BackupBattery{
		TotalVoltage:           decimal.New(int64(r[56]), -1),
		Current:                decimal.New(30000-int64(r[57]), -1),
		SOC:                    milli(r[58]),
		Life:                   r[59],
		BatteryCount:           r[60],
		TemperatureSensorCount: r[61],
		MaxCellVoltage:         milli(r[62]),
		MaxCellVoltageIndex:    r[63],
		MinCellVoltage:         milli(r[64]),
		MinCellVoltageIndex:    r[65],
		CellVoltageDifference:  milli(r[66]),
		MaxCellTemperature:     offset40(r[67]),
		MaxCellTemperatureIdx:  r[68],
		MinCellTemperature:     offset40(r[69]),
		MinCellTemperatureIdx:  r[70],
		TemperatureDifference:  r[71],
		ChargeDischargeStatus:  r[72],
		ChargerStatus:          r[73],
		LoadStatus:             r[74],
		RemainingCapacity:      decimal.New(int64(r[75]), -1),
		CycleCount:             r[76],
		BalancingStatus:        r[77],
		ChargeMOS:              r[0x52] != 0,
		DischargeMOS:           r[0x53] != 0,
		PrechargeMOS:           r[0x54] != 0,
		HeaterMOS:              r[0x55] != 0,
		FanMOS:                 r[0x56] != 0,
		AverageVoltage:         milli(r[0x57]),
		Power:                  r[0x58],
		Energy:                 r[0x59],
		MOSTemperature:         offset40(r[0x5a]),
		AmbientTemperature:     offset40(r[0x5b]),
		HeatingTemperature:     offset40(r[0x5c]),
		HeatingCurrent:         r[0x5d],
		CurrentLimiting:        r[0x5f],
		CurrentLimitingCurrent: decimal.New(int64(r[0x60])-30000, -1),
		RemainingChargeTime:    r[0x64],
		InterfaceType:          r[0x7e],
	}

	b.CellVoltages = make([]decimal.Decimal, backupCellCount)
	for i := range b.CellVoltages {
		b.CellVoltages[i] = milli(r[i])
	}
	b.Temperatures = make([]int, backupTempCount)
	for i := range b.Temperatures {
		b.Temperatures[i] = offset40(r[backupCellCount+i])
	}
	for reg := 0x4f; reg <= 0x51; reg++ {
		for bit := 0; bit < 16; bit++ {
			b.BalancingCells = append(b.BalancingCells, r[reg]>>bit&1 == 1)
		}
	}

	b.Timestamp = time.Date(
		int(r[0x61]>>8)+2000, time.Month(r[0x61]&0xFF), int(r[0x62]>>8),
		int(r[0x62]&0xFF), int(r[0x63]>>8), int(r[0x63]&0xFF), 0, time.Local,
	)

	diDo := r[0x65]
	b.DI = make([]bool, 8)
	b.DO = make([]bool, 8)
	for bit := 0; bit < 8; bit++ {
		b.DI[bit] = diDo>>bit&1 == 1
		b.DO[bit] = diDo>>(bit+8)&1 == 1
	}
	return b, nil
}

// SOCPercent returns the state of charge in percent.
func (b *BackupBattery) SOCPercent() decimal.Decimal {
	return b.SOC.Mul(decimal.NewFromInt(100))
}

// ChargeDischargeText describes ChargeDischargeStatus.
func (b *BackupBattery) ChargeDischargeText() string {
	switch b.ChargeDischargeStatus {
	case 0:
		return "idle"
	case 1:
		return "charging"
	case 2:
		return "discharging"
	}
	return "unknown"
}
