package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"vehicle-gateway/internal/config"
	"vehicle-gateway/internal/events"
	"vehicle-gateway/internal/vehicle"
)

func TestBatteryServiceSummary(t *testing.T) {
	bus := newFakeCANBus()
	svc := NewBatteryService(bus, nil, zap.NewNop(), config.BatteryConfig{}, zap.NewNop())
	svc.Start()

	bus.deliver(frame(vehicle.IDBMSStatus01, 0x3D, 0x0E, 0x10, 0x64, 0x19, 0xE8, 0x03, 80))
	bus.deliver(frame(vehicle.IDRCUStatus01, 0x9C, 0xFF, 0xD0, 0x07, 0x18, 0xFC, 3, 0x52))
	bus.deliver(frame(vehicle.IDDCACStatus, 0x13, 75, 40, 50, 1, 0, 2, 3))
	bus.deliver(frame(vehicle.IDDCACCommand, 1, 0, 0, 0, 0, 0, 0, 0))

	s := svc.Status()
	if s.Timestamp == nil {
		t.Fatalf("timestamp not set")
	}
	if s.BMS.SOC != 80 || !s.BMS.Voltage.Equal(decimal.NewFromInt(411)) || !s.BMS.Current.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("bms = %+v", s.BMS)
	}
	if s.ISG.Speed != 2000 || !s.ISG.Torque.Equal(decimal.NewFromInt(-10)) || s.ISG.SystemStatus != 2 || s.ISG.FaultInfo != 3 {
		t.Fatalf("isg = %+v", s.ISG)
	}
	if s.DCAC.SystemStatus != 3 || s.DCAC.TempModule != 25 || s.DCAC.EnableDCAC != 1 {
		t.Fatalf("dcac = %+v", s.DCAC)
	}

	raw := svc.RawFrames()
	if len(raw) != 4 {
		t.Fatalf("raw frames = %d, want 4", len(raw))
	}
	if r := raw["BMS_Status01"]; r.ID != "1801EFF4" || r.Data != "3d0e106419e80350" {
		t.Fatalf("raw = %+v", r)
	}

	svc.Stop()
	if bus.handlerCount() != 0 {
		t.Fatalf("handler still registered")
	}
}

func TestBatteryServiceIgnoresUndecodableFrames(t *testing.T) {
	bus := newFakeCANBus()
	svc := NewBatteryService(bus, nil, zap.NewNop(), config.BatteryConfig{}, zap.NewNop())
	svc.Start()
	defer svc.Stop()

	bus.deliver(frame(vehicle.IDBMSStatus01, 1, 2))
	if len(svc.RawFrames()) != 0 || svc.Status().Timestamp != nil {
		t.Fatalf("short frame was recorded")
	}
}

func TestBatteryServiceFaultTransitions(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	eventBus := newTestEventBus(t)
	faults, cancel := eventBus.Subscribe(events.TypeBMSFault)
	defer cancel()

	bus := newFakeCANBus()
	svc := NewBatteryService(bus, eventBus, zap.New(core), config.BatteryConfig{}, zap.NewNop())
	svc.Start()
	defer svc.Stop()

	faulted := frame(vehicle.IDBMSFaultInfo, 0x02, 0x01, 0, 0, 0x80, 0, 0x04, 0)
	bus.deliver(faulted)
	bus.deliver(faulted)

	e := waitEvent(t, faults)
	data := e.Data.(map[string]any)
	if data["fault_level"] != vehicle.FaultLevel2 {
		t.Fatalf("event = %+v", e)
	}
	if logs.Len() != 1 {
		t.Fatalf("fault log entries = %d, want 1", logs.Len())
	}
	if entry := logs.All()[0]; entry.Level != zapcore.WarnLevel {
		t.Fatalf("entry level = %v", entry.Level)
	}

	s := svc.Status()
	if s.BMS.FaultLevel != vehicle.FaultLevel2 || len(s.BMS.ActiveFaults) != 2 {
		t.Fatalf("bms = %+v", s.BMS)
	}

	bus.deliver(frame(vehicle.IDBMSFaultInfo, 0, 0x01, 0, 0, 0, 0, 0, 0))
	waitEvent(t, faults)
	if logs.Len() != 2 || logs.All()[1].Level != zapcore.InfoLevel {
		t.Fatalf("clear entry missing: %d entries", logs.Len())
	}
	if len(svc.Status().BMS.ActiveFaults) != 0 {
		t.Fatalf("faults not cleared")
	}
}
