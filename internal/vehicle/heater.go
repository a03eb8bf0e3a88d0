// internal/vehicle/heater.go
package vehicle

import (
	"fmt"
	"math"

	"vehicle-gateway/internal/can"
	"vehicle-gateway/internal/errs"
)

// Diesel heater frame identifiers.
const (
	IDHeaterTemperature uint32 = 0x18FFFD45
	IDHeaterState       uint32 = 0x18FFFB45
	IDHeaterControl     uint32 = 0x1807E244
)

// Target temperature limits in °C.
const (
	HeaterMinTarget     = 0
	HeaterMaxTarget     = 100
	HeaterDefaultTarget = 60
)

var heaterWorkStatus = [4]string{"Stop", "Run", "Reserved", "Invalid"}
var heaterWorkMode = [4]string{"Heat off", "Heat on", "Reserved", "Invalid"}
var heaterIgnition = [4]string{"Stop", "Ignition succeeded", "Reserved", "Invalid"}

var heaterFaults = map[uint8]string{
	0x00: "Normal",
	0x01: "Voltage fault",
	0x02: "High temperature protection",
	0x03: "Ignition sensor fault",
	0x04: "Motor fault",
	0x05: "Glow plug fault",
	0x06: "Outlet temperature sensor fault",
	0x07: "Pump fault",
	0x08: "Inlet temperature sensor fault",
	0x09: "Second ignition failure",
	0x0A: "Low diesel",
}

// HeaterTemperatures is frame 0x18FFFD45.
type HeaterTemperatures struct {
	Inlet  int `json:"inlet_temperature"`
	Outlet int `json:"outlet_temperature"`
}

// HeaterState is frame 0x18FFFB45.
type HeaterState struct {
	WorkStatus     uint8 `json:"work_status"`
	WorkMode       uint8 `json:"work_mode"`
	IgnitionStatus uint8 `json:"ignition_status"`
	FaultCode      uint8 `json:"fault_code"`
}

// Running reports whether the heater reports the run state.
func (s HeaterState) Running() bool { return s.WorkStatus == 1 }

// Heating reports whether the heater reports heat-on mode.
func (s HeaterState) Heating() bool { return s.WorkMode == 1 }

func (s HeaterState) WorkStatusText() string     { return heaterWorkStatus[s.WorkStatus&3] }
func (s HeaterState) WorkModeText() string       { return heaterWorkMode[s.WorkMode&3] }
func (s HeaterState) IgnitionStatusText() string { return heaterIgnition[s.IgnitionStatus&3] }

// FaultText describes FaultCode.
func (s HeaterState) FaultText() string {
	if text, ok := heaterFaults[s.FaultCode]; ok {
		return text
	}
	return fmt.Sprintf("Unknown fault 0x%02X", s.FaultCode)
}

// DecodeHeaterTemperatures decodes frame 0x18FFFD45.
func DecodeHeaterTemperatures(f can.Frame) (HeaterTemperatures, error) {
	if f.DLC < 2 {
		return HeaterTemperatures{}, errs.Invalid("dlc", "frame %08X needs 2 bytes, got %d", f.ID, f.DLC)
	}
	return HeaterTemperatures{
		Inlet:  int(f.Data[0]) - 40,
		Outlet: int(f.Data[1]) - 40,
	}, nil
}

// DecodeHeaterState decodes frame 0x18FFFB45.
func DecodeHeaterState(f can.Frame) (HeaterState, error) {
	if f.DLC < 2 {
		return HeaterState{}, errs.Invalid("dlc", "frame %08X needs 2 bytes, got %d", f.ID, f.DLC)
	}
	return HeaterState{
		WorkStatus:     f.Data[0] & 0x03,
		WorkMode:       f.Data[0] >> 2 & 0x03,
		IgnitionStatus: f.Data[0] >> 4 & 0x03,
		FaultCode:      f.Data[1],
	}, nil
}

// HeaterControlFrame builds the control frame sent to the heater. The target
// temperature travels in 5 °C steps.
func HeaterControlFrame(on, heating bool, target float64) can.Frame {
	var d0 byte
	if on {
		d0 |= 0x01
	}
	if heating {
		d0 |= 0x01 << 2
	}
	step := math.Round(target / 5)
	step = math.Max(0, math.Min(255, step))

	return can.Frame{
		Format: can.FormatExtended,
		Type:   can.TypeData,
		DLC:    8,
		ID:     IDHeaterControl,
		Data:   [8]byte{d0, byte(step)},
	}
}
