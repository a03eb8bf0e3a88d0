// internal/vehicle/pms.go
package vehicle

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"vehicle-gateway/internal/can"
	"vehicle-gateway/internal/errs"
)

// CAN identifiers of the power management system frames.
const (
	IDBMSStatus01  uint32 = 0x1801EFF4
	IDBMSStatus02  uint32 = 0x1804EFF4
	IDBMSFaultInfo uint32 = 0x1808EFF4
	IDDCACCommand  uint32 = 0x04080000
	IDDCACStatus   uint32 = 0x04C80000
	IDISGCommand   uint32 = 0x0CFF8B32
	IDRCUStatus01  uint32 = 0x1601EFF4
)

// Message is a decoded PMS frame. The set of implementations is closed.
type Message interface {
	CANID() uint32
	Name() string
	isMessage()
}

// BMSStatus01 is frame 0x1801EFF4.
type BMSStatus01 struct {
	HVPowerAllow      uint8           `json:"hv_power_allow"`
	HVPowerLoopStatus uint8           `json:"hv_power_loop_status"`
	HeatingRequest    uint8           `json:"heating_request"`
	CoolingRequest    uint8           `json:"cooling_request"`
	DCChgStatus       uint8           `json:"dc_chg_status"`
	Voltage           decimal.Decimal `json:"voltage"`
	Current           decimal.Decimal `json:"current"`
	CapChgToFull      decimal.Decimal `json:"cap_chg_to_full"`
	SOC               uint8           `json:"soc"`
}

// BMSStatus02 is frame 0x1804EFF4.
type BMSStatus02 struct {
	InsulationPositive    uint32 `json:"insulation_positive_kohm"`
	InsulationNegative    uint32 `json:"insulation_negative_kohm"`
	PosRelayStatus        uint8  `json:"pos_relay_status"`
	NegRelayStatus        uint8  `json:"neg_relay_status"`
	PrechgRelayStatus     uint8  `json:"prechg_relay_status"`
	DCChgRelayStatus      uint8  `json:"dc_chg_relay_status"`
	HeatingRelayStatus    uint8  `json:"heating_relay_status"`
	BatteryChargingStatus uint8  `json:"battery_charging_status"`
	SOCMinCanUse          uint8  `json:"soc_min_can_use"`
	SOH                   uint8  `json:"soh"`
}

// FaultLevel grades a BMS fault report.
type FaultLevel uint8

const (
	FaultNone FaultLevel = iota
	FaultLevel1
	FaultLevel2
	FaultLevel3
)

func (l FaultLevel) String() string {
	switch l {
	case FaultNone:
		return "no fault"
	case FaultLevel1:
		return "level 1"
	case FaultLevel2:
		return "level 2"
	case FaultLevel3:
		return "level 3"
	}
	return fmt.Sprintf("unknown(%d)", uint8(l))
}

// faultBits names the single-bit flags of bytes 1..6 of 0x1808EFF4,
// least significant bit first. Empty names are numeric fields.
var faultBits = [6][8]string{
	{"soc_less_than_20", "dischg_cur_greater_l2", "cell_vol_diff_greater_l1", "temp_diff_greater_l1", "ins_res_less_than_800", "temp_greater_l2", "temp_less_l3", "cell_vol_greater_l1"},
	{"cell_vol_less_l1", "dischg_cur_greater_l3", "soc_less_than_10", "cell_vol_diff_greater_l2", "temp_diff_greater_l2", "ins_res_less_than_500", "temp_greater_l3", "vol_greater_l3"},
	{"vol_less_l3", "dischg_cur_greater_l1", "cell_vol_greater_l2", "cell_vol_less_l2", "ins_res_less_than_100", "cell_vol_diff_greater_l3", "temp_sensor_fault", "vol_sensor_fault"},
	{"inner_can_fault", "cell_vol_greater_l3", "cell_vol_less_l3", "soc_step_change", "soc_greater_l3", "chg_cur_greater_l2", "chg_cur_greater_l3", "can_com_fault"},
	{"main_relay_cutoff_fault", "main_loop_break_fault", "fstchg_port_temp_greater_l3", "prechg_fail_fault", "heating_relay_cutoff_fault", "prechg_relay_fault", "main_neg_relay_cutoff_fault", "fstchg_relay_cutoff_fault"},
	{"dc_charger_fault", "dcan_com_fault", "dc_receptacle_high_temp", "dc_receptacle_over_temp"},
}

// informational flags are reported but do not count as active faults.
var informationalFaults = map[string]bool{
	"soc_less_than_20": true,
}

// BMSFaultInfo is frame 0x1808EFF4.
type BMSFaultInfo struct {
	Level FaultLevel      `json:"fault_level"`
	Flags map[string]bool `json:"flags"`
}

// ActiveFaults returns the names of the set fault flags, sorted.
func (f BMSFaultInfo) ActiveFaults() []string {
	var out []string
	for name, set := range f.Flags {
		if set && !informationalFaults[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// HasFault reports whether the frame carries a fault level or any fault flag.
func (f BMSFaultInfo) HasFault() bool {
	return f.Level > FaultNone || len(f.ActiveFaults()) > 0
}

// DCACCommand is frame 0x04080000.
type DCACCommand struct {
	EnableDCAC uint8 `json:"enable_dcac"`
	EnablePWM  uint8 `json:"enable_pwm"`
}

// DCACStatus is frame 0x04C80000.
type DCACStatus struct {
	SystemStatus uint8 `json:"system_status"`
	HandSwitch   uint8 `json:"hand_switch"`
	TempModule   int   `json:"temp_module"`
	TempCapOBG   int   `json:"temp_cap_obg"`
	TempCapOBS   int   `json:"temp_cap_obs"`
	Relay1       uint8 `json:"relay1"`
	Relay2       uint8 `json:"relay2"`
	Opt1         uint8 `json:"opt1"`
	Opt2         uint8 `json:"opt2"`
}

// ISGCommand is frame 0x0CFF8B32.
type ISGCommand struct {
	ChargeEnable   uint8 `json:"charge_enable"`
	ChgPosConState uint8 `json:"chg_pos_con_state"`
	Life           uint8 `json:"life"`
}

// RCUStatus01 is frame 0x1601EFF4.
type RCUStatus01 struct {
	Torque       decimal.Decimal `json:"torque"`
	Speed        int16           `json:"speed"`
	Current      decimal.Decimal `json:"current"`
	FaultInfo    uint8           `json:"fault_info"`
	SystemStatus uint8           `json:"system_status"`
	Life         uint8           `json:"life"`
}

func (BMSStatus01) CANID() uint32  { return IDBMSStatus01 }
func (BMSStatus02) CANID() uint32  { return IDBMSStatus02 }
func (BMSFaultInfo) CANID() uint32 { return IDBMSFaultInfo }
func (DCACCommand) CANID() uint32  { return IDDCACCommand }
func (DCACStatus) CANID() uint32   { return IDDCACStatus }
func (ISGCommand) CANID() uint32   { return IDISGCommand }
func (RCUStatus01) CANID() uint32  { return IDRCUStatus01 }

func (BMSStatus01) Name() string  { return "BMS_Status01" }
func (BMSStatus02) Name() string  { return "BMS_Status02" }
func (BMSFaultInfo) Name() string { return "BMS_FaultInfo" }
func (DCACCommand) Name() string  { return "DCAC_COMMAND" }
func (DCACStatus) Name() string   { return "DCAC_Status" }
func (ISGCommand) Name() string   { return "ISG_COMMAND" }
func (RCUStatus01) Name() string  { return "RCU_Status01" }

func (BMSStatus01) isMessage()  {}
func (BMSStatus02) isMessage()  {}
func (BMSFaultInfo) isMessage() {}
func (DCACCommand) isMessage()  {}
func (DCACStatus) isMessage()   {}
func (ISGCommand) isMessage()   {}
func (RCUStatus01) isMessage()  {}

type decoder struct {
	minLength int
	decode    func(d []byte) Message
}

var decoders = map[uint32]decoder{
	IDBMSStatus01:  {8, decodeBMSStatus01},
	IDBMSStatus02:  {8, decodeBMSStatus02},
	IDBMSFaultInfo: {8, decodeBMSFaultInfo},
	IDDCACCommand:  {8, decodeDCACCommand},
	IDDCACStatus:   {8, decodeDCACStatus},
	IDISGCommand:   {8, decodeISGCommand},
	IDRCUStatus01:  {8, decodeRCUStatus01},
}

// PMSFrameIDs returns the identifiers Decode understands.
func PMSFrameIDs() []uint32 {
	ids := make([]uint32, 0, len(decoders))
	for id := range decoders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Decode decodes a PMS frame.
func Decode(f can.Frame) (Message, error) {
	dec, ok := decoders[f.ID]
	if !ok {
		return nil, fmt.Errorf("frame %08X: %w", f.ID, errs.ErrNotFound)
	}
	if int(f.DLC) < dec.minLength {
		return nil, errs.Invalid("dlc", "frame %08X needs %d bytes, got %d", f.ID, dec.minLength, f.DLC)
	}
	return dec.decode(f.Payload()), nil
}

func le16(d []byte, i int) uint16 {
	return binary.LittleEndian.Uint16(d[i:])
}

func tenths(raw int64) decimal.Decimal {
	return decimal.New(raw, -1)
}

func decodeBMSStatus01(d []byte) Message {
	return BMSStatus01{
		HVPowerAllow:      d[0] & 0x03,
		HVPowerLoopStatus: d[0] >> 2 & 1,
		HeatingRequest:    d[0] >> 3 & 1,
		CoolingRequest:    d[0] >> 4 & 1,
		DCChgStatus:       d[0] >> 5 & 1,
		Voltage:           tenths(int64(le16(d, 1))),
		Current:           tenths(int64(int16(le16(d, 3)))).Sub(decimal.NewFromInt(600)),
		CapChgToFull:      tenths(int64(le16(d, 5))),
		SOC:               d[7],
	}
}

func decodeBMSStatus02(d []byte) Message {
	return BMSStatus02{
		InsulationPositive:    uint32(le16(d, 0)) * 10,
		InsulationNegative:    uint32(le16(d, 2)) * 10,
		PosRelayStatus:        d[4] & 1,
		NegRelayStatus:        d[4] >> 1 & 1,
		PrechgRelayStatus:     d[4] >> 2 & 1,
		DCChgRelayStatus:      d[4] >> 3 & 1,
		HeatingRelayStatus:    d[4] >> 4 & 1,
		BatteryChargingStatus: d[5],
		SOCMinCanUse:          d[6],
		SOH:                   d[7],
	}
}

func decodeBMSFaultInfo(d []byte) Message {
	info := BMSFaultInfo{
		Level: FaultLevel(d[0] & 0x0F),
		Flags: make(map[string]bool),
	}
	for i, names := range faultBits {
		for bit, name := range names {
			if name != "" {
				info.Flags[name] = d[i+1]>>bit&1 == 1
			}
		}
	}
	return info
}

func decodeDCACCommand(d []byte) Message {
	return DCACCommand{EnableDCAC: d[0], EnablePWM: d[1]}
}

func decodeDCACStatus(d []byte) Message {
	return DCACStatus{
		SystemStatus: d[0] & 0x0F,
		HandSwitch:   d[0] >> 4 & 1,
		TempModule:   int(d[1]) - 50,
		TempCapOBG:   int(d[2]) - 50,
		TempCapOBS:   int(d[3]) - 50,
		Relay1:       d[4],
		Relay2:       d[5],
		Opt1:         d[6],
		Opt2:         d[7],
	}
}

func decodeISGCommand(d []byte) Message {
	return ISGCommand{
		ChargeEnable:   d[0] & 1,
		ChgPosConState: d[1] & 1,
		Life:           d[7],
	}
}

func decodeRCUStatus01(d []byte) Message {
	return RCUStatus01{
		Torque:       tenths(int64(int16(le16(d, 0)))),
		Speed:        int16(le16(d, 2)),
		Current:      tenths(int64(int16(le16(d, 4)))),
		FaultInfo:    d[6],
		SystemStatus: d[7] & 0x03,
		Life:         d[7] >> 4 & 0x0F,
	}
}
