package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"vehicle-gateway/internal/can"
	"vehicle-gateway/internal/config"
	"vehicle-gateway/internal/errs"
	"vehicle-gateway/internal/events"
	"vehicle-gateway/internal/vehicle"
)

func newTestHeater(t *testing.T, bus *fakeCANBus, eventBus *events.Bus) *HeaterService {
	t.Helper()
	svc := NewHeaterService(bus, eventBus, config.HeaterConfig{
		ResendInterval: 20 * time.Millisecond,
		OnlineWindow:   time.Minute,
		DefaultTarget:  60,
	}, zap.NewNop())
	svc.connectWait = 200 * time.Millisecond
	svc.Start()
	t.Cleanup(svc.Stop)
	return svc
}

func TestHeaterStatusFromFrames(t *testing.T) {
	bus := newFakeCANBus()
	eventBus := newTestEventBus(t)
	updates, cancel := eventBus.Subscribe(events.TypeHeaterStatus)
	defer cancel()

	svc := newTestHeater(t, bus, eventBus)
	if svc.IsOnline() || svc.Status().LastUpdate != nil {
		t.Fatalf("online before any frame")
	}

	bus.deliver(frame(vehicle.IDHeaterTemperature, 100, 35))
	bus.deliver(frame(vehicle.IDHeaterState, 0x15, 0x07))

	e := waitEvent(t, updates)
	if e.Source != "diesel-heater" {
		t.Fatalf("event = %+v", e)
	}

	s := svc.Status()
	if !s.Online || !s.Running || !s.Heating || s.InletTemperature != 60 || s.OutletTemperature != -5 {
		t.Fatalf("status = %+v", s)
	}
	if s.FaultText != "Pump fault" || s.WorkStatus != "Run" {
		t.Fatalf("texts = %+v", s)
	}
}

func TestHeaterStartRequiresOnline(t *testing.T) {
	bus := newFakeCANBus()
	svc := newTestHeater(t, bus, nil)

	err := svc.StartWithHeating(context.Background())
	if !errors.Is(err, errs.ErrNotConnected) {
		t.Fatalf("err = %v, want not connected", err)
	}
	if bus.connects != 0 || len(bus.sentFrames()) != 0 {
		t.Fatalf("offline start touched the bus")
	}
}

func TestHeaterControlLoop(t *testing.T) {
	bus := newFakeCANBus()
	svc := newTestHeater(t, bus, nil)
	bus.deliver(frame(vehicle.IDHeaterState, 0x00, 0x00))

	if err := svc.StartWithoutHeating(context.Background()); err != nil {
		t.Fatalf("StartWithoutHeating: %v", err)
	}
	if bus.connects != 1 {
		t.Fatalf("control link connects = %d", bus.connects)
	}
	c := svc.ControlState()
	if !c.On || c.Heating || !c.HasActiveControl || c.TargetTemperature != 60 {
		t.Fatalf("control = %+v", c)
	}

	eventually(t, func() bool { return len(bus.sentFrames()) >= 3 })
	for _, f := range bus.sentFrames() {
		if f.ID != vehicle.IDHeaterControl || f.Data[0] != 0x01 || f.Data[1] != 12 {
			t.Fatalf("frame = %v", f)
		}
	}

	if err := svc.SetTargetTemperature(75); err != nil {
		t.Fatalf("SetTargetTemperature: %v", err)
	}
	c, err := svc.ToggleHeating()
	if err != nil || !c.Heating {
		t.Fatalf("ToggleHeating = %+v, %v", c, err)
	}
	sent := bus.sentFrames()
	if last := sent[len(sent)-1]; last.Data[0] != 0x05 || last.Data[1] != 15 {
		t.Fatalf("toggle frame = %v", last)
	}

	if err := svc.TurnOff(); err != nil {
		t.Fatalf("TurnOff: %v", err)
	}
	sent = bus.sentFrames()
	if last := sent[len(sent)-1]; last.Data[0] != 0x00 {
		t.Fatalf("off frame = %v", last)
	}
	time.Sleep(60 * time.Millisecond)
	if n := len(bus.sentFrames()); n != len(sent) {
		t.Fatalf("frames sent after stop: %d -> %d", len(sent), n)
	}
	if svc.ControlState().HasActiveControl {
		t.Fatalf("control still active")
	}
}

func TestHeaterValidation(t *testing.T) {
	bus := newFakeCANBus()
	svc := newTestHeater(t, bus, nil)

	for _, target := range []float64{-1, 101} {
		if err := svc.SetTargetTemperature(target); !errors.Is(err, errs.ErrValidation) {
			t.Fatalf("SetTargetTemperature(%v) err = %v", target, err)
		}
	}
	if err := svc.SetTargetTemperature(40); err != nil {
		t.Fatalf("SetTargetTemperature(40): %v", err)
	}
	if len(bus.sentFrames()) != 0 {
		t.Fatalf("inactive heater sent a frame")
	}
	if _, err := svc.ToggleHeating(); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("toggle while off err = %v", err)
	}
}

func TestHeaterConnectDisconnect(t *testing.T) {
	bus := newFakeCANBus()
	svc := newTestHeater(t, bus, nil)

	conn, err := svc.ConnectionStatus()
	if err != nil || conn.Connected {
		t.Fatalf("connection = %+v, %v", conn, err)
	}
	if err := svc.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn, _ = svc.ConnectionStatus()
	if !conn.Connected || conn.Link.Phase != can.PhaseConnected {
		t.Fatalf("connection after connect = %+v", conn)
	}

	bus.deliver(frame(vehicle.IDHeaterState, 0x01, 0x00))
	if err := svc.StartWithHeating(context.Background()); err != nil {
		t.Fatalf("StartWithHeating: %v", err)
	}
	if err := svc.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if svc.ControlState().HasActiveControl || bus.disconnects != 1 {
		t.Fatalf("disconnect left control active")
	}
}
