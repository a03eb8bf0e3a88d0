package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vehicle-gateway/internal/errs"
	"vehicle-gateway/internal/vehicle"
)

func TestSensorServiceLevelJob(t *testing.T) {
	bus := newFakeSlowBus()
	bus.responses[vehicle.LevelSensorRequest] = []byte{0x03, 0xB6}

	svc := NewSensorService(bus, time.Minute, zap.NewNop())
	if _, err := svc.Level(); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("Level before poll err = %v", err)
	}
	if svc.All().Level != nil {
		t.Fatalf("All reports level before poll")
	}

	svc.Start()
	v, err := bus.run(t, levelJobName)
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	if lvl := v.(vehicle.Level); lvl.Percentage != 50 {
		t.Fatalf("job result = %+v", lvl)
	}

	r, err := svc.Level()
	if err != nil {
		t.Fatalf("Level: %v", err)
	}
	if !r.Data.Level.Equal(decimal.RequireFromString("95")) || r.Data.Percentage != 50 || !r.IsFresh {
		t.Fatalf("reading = %+v", r)
	}
	if all := svc.All(); all.Level == nil || all.Level.Data.Percentage != 50 {
		t.Fatalf("all = %+v", all)
	}
}

func TestSensorServiceRefresh(t *testing.T) {
	bus := newFakeSlowBus()
	bus.responses[vehicle.LevelSensorRequest] = []byte{0x07, 0x6C, 0x00, 0x00}
	svc := NewSensorService(bus, time.Minute, zap.NewNop())

	r, err := svc.RefreshLevel(context.Background())
	if err != nil {
		t.Fatalf("RefreshLevel: %v", err)
	}
	if r.Data.Percentage != 100 {
		t.Fatalf("percentage = %d, want 100", r.Data.Percentage)
	}

	bus.err = fmt.Errorf("slow bus: %w", errs.ErrBusy)
	if _, err := svc.RefreshLevel(context.Background()); !errors.Is(err, errs.ErrBusy) {
		t.Fatalf("busy err = %v", err)
	}
	if _, err := svc.Level(); err != nil {
		t.Fatalf("previous reading lost: %v", err)
	}
}
