package vehicle

import (
	"encoding/binary"
	"errors"
	"testing"

	"vehicle-gateway/internal/errs"
)

func TestParseBackupBattery(t *testing.T) {
	regs := make([]uint16, 127)
	regs[0] = 3300
	regs[47] = 3312
	regs[48] = 65
	regs[56] = 5200
	regs[57] = 29900
	regs[58] = 856
	regs[72] = 2
	regs[0x4f] = 0x0001
	regs[0x51] = 0x8000
	regs[0x52] = 1
	regs[0x60] = 30500
	regs[0x61] = 24<<8 | 5
	regs[0x62] = 17<<8 | 13
	regs[0x63] = 30<<8 | 45
	regs[0x65] = 0x0102
	regs[0x7e] = 1

	data := make([]byte, 0, 254)
	for _, r := range regs {
		data = binary.BigEndian.AppendUint16(data, r)
	}

	b, err := ParseBackupBattery(data)
	if err != nil {
		t.Fatalf("ParseBackupBattery: %v", err)
	}
	if !b.CellVoltages[0].Equal(dec("3.3")) || !b.CellVoltages[47].Equal(dec("3.312")) {
		t.Fatalf("cells = %s %s", b.CellVoltages[0], b.CellVoltages[47])
	}
	if b.Temperatures[0] != 25 || b.Temperatures[1] != -40 {
		t.Fatalf("temps = %v", b.Temperatures)
	}
	if !b.TotalVoltage.Equal(dec("520")) || !b.Current.Equal(dec("10")) || !b.SOC.Equal(dec("0.856")) {
		t.Fatalf("totals = %s V %s A soc %s", b.TotalVoltage, b.Current, b.SOC)
	}
	if !b.SOCPercent().Equal(dec("85.6")) || b.ChargeDischargeText() != "discharging" {
		t.Fatalf("soc%% = %s status %q", b.SOCPercent(), b.ChargeDischargeText())
	}
	if len(b.BalancingCells) != 48 || !b.BalancingCells[0] || b.BalancingCells[1] || !b.BalancingCells[47] {
		t.Fatalf("balancing = %v", b.BalancingCells)
	}
	if !b.ChargeMOS || b.DischargeMOS {
		t.Fatalf("mos = %v %v", b.ChargeMOS, b.DischargeMOS)
	}
	if !b.CurrentLimitingCurrent.Equal(dec("50")) {
		t.Fatalf("limit current = %s", b.CurrentLimitingCurrent)
	}
	ts := b.Timestamp
	if ts.Year() != 2024 || ts.Month() != 5 || ts.Day() != 17 || ts.Hour() != 13 || ts.Minute() != 30 || ts.Second() != 45 {
		t.Fatalf("timestamp = %v", ts)
	}
	if b.DI[0] || !b.DI[1] || !b.DO[0] || b.DO[1] {
		t.Fatalf("di = %v do = %v", b.DI, b.DO)
	}
	if b.InterfaceType != 1 {
		t.Fatalf("interface = %d", b.InterfaceType)
	}
}

func TestParseBackupBatteryLength(t *testing.T) {
	if _, err := ParseBackupBattery(make([]byte, 252)); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("err = %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		data    []byte
		level   string
		percent int
	}{
		{[]byte{0x01, 0x2C}, "30", 15},
		{[]byte{0x07, 0x6C}, "190", 100},
		{[]byte{0x08, 0x00, 0xFF}, "204.8", 100},
		{[]byte{0x00, 0x00}, "0", 0},
	}
	for _, tt := range tests {
		l, err := ParseLevel(tt.data)
		if err != nil {
			t.Fatalf("ParseLevel(% X): %v", tt.data, err)
		}
		if !l.Level.Equal(dec(tt.level)) || l.Percentage != tt.percent {
			t.Fatalf("ParseLevel(% X) = %s, %d%%", tt.data, l.Level, l.Percentage)
		}
	}
	if _, err := ParseLevel([]byte{1}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("short err = %v", err)
	}
}
