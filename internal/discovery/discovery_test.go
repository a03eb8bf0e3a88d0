package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"vehicle-gateway/internal/errs"
	"vehicle-gateway/internal/modbus"
)

// unitFive answers as a relay board at address 5 that reports a server id
// and rejects device identification. Other units stay silent.
type unitFive struct{}

func (unitFive) Transact(ctx context.Context, req []byte) ([]byte, error) {
	if req[0] != 5 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	switch req[1] {
	case modbus.FuncReadCoils:
		return modbus.AppendCRC([]byte{5, modbus.FuncReadCoils, 1, 0x01}), nil
	case modbus.FuncReportServerID:
		return modbus.AppendCRC([]byte{5, modbus.FuncReportServerID, 3, 0x42, 0xFF, 0x01}), nil
	default:
		return modbus.AppendCRC([]byte{5, req[1] | 0x80, errs.ExceptionIllegalFunction}), nil
	}
}

func newManager(t *testing.T) *modbus.Manager {
	t.Helper()
	registry := modbus.NewRegistry()
	registry.Add("rs485", "/dev/ttyUSB0", unitFive{}, nil, 50*time.Millisecond)
	m := modbus.NewManager(registry, modbus.ManagerConfig{Cooldown: time.Minute}, zaptest.NewLogger(t))
	t.Cleanup(func() { m.Close() })
	return m
}

func TestProbeRespondingUnit(t *testing.T) {
	p := NewProber(newManager(t), zap.NewNop())

	result, err := p.Probe(context.Background(), 0, 5)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !result.Responding || result.Port != "rs485" || result.Address != 5 {
		t.Fatalf("result = %+v", result)
	}
	if result.ServerID != "42ff01" {
		t.Fatalf("server id = %q", result.ServerID)
	}
	if result.Identification != nil {
		t.Fatalf("identification = %v, want none", result.Identification)
	}
}

func TestProbeSilentUnit(t *testing.T) {
	m := newManager(t)
	p := NewProber(m, zap.NewNop())

	result, err := p.Probe(context.Background(), 0, 9)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if result.Responding || result.Error == "" {
		t.Fatalf("result = %+v", result)
	}
	if !m.IsOffline(0, 9) {
		t.Fatalf("silent unit not in cooldown")
	}

	if _, err := p.Probe(context.Background(), 0, 9); !errors.Is(err, errs.ErrDeviceCooldown) {
		t.Fatalf("second probe err = %v, want cooldown", err)
	}
}

func TestProbeRejectsInput(t *testing.T) {
	p := NewProber(newManager(t), zap.NewNop())

	if _, err := p.Probe(context.Background(), 0, 0); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("address 0 err = %v", err)
	}
	if _, err := p.Probe(context.Background(), 0, 248); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("address 248 err = %v", err)
	}
	if _, err := p.Probe(context.Background(), 3, 5); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("unknown port err = %v", err)
	}
}

func TestListSerialPorts(t *testing.T) {
	orig := listPorts
	t.Cleanup(func() { listPorts = orig })
	listPorts = func() ([]string, error) {
		return []string{"/dev/ttyUSB1", "/dev/ttyUSB0", "/dev/video0", "/dev/ttyS1"}, nil
	}

	registry := modbus.NewRegistry()
	registry.Add("rs485", "/dev/ttyUSB0", unitFive{}, nil, 0)

	ports, err := ListSerialPorts(registry)
	if err != nil {
		t.Fatalf("ListSerialPorts: %v", err)
	}
	if len(ports) != 3 {
		t.Fatalf("ports = %+v", ports)
	}
	if ports[0].Path != "/dev/ttyS1" || ports[1].Path != "/dev/ttyUSB0" || ports[2].Path != "/dev/ttyUSB1" {
		t.Fatalf("order = %+v", ports)
	}
	if !ports[1].Registered || ports[1].Name != "rs485" || ports[1].PortID == nil || *ports[1].PortID != 0 {
		t.Fatalf("registered port = %+v", ports[1])
	}
	if ports[2].Registered {
		t.Fatalf("unregistered port marked registered")
	}

	only, err := ListSerialPorts(registry, "/dev/ttyS*")
	if err != nil || len(only) != 1 {
		t.Fatalf("filtered = %+v err = %v", only, err)
	}

	listPorts = func() ([]string, error) { return nil, errors.New("no sysfs") }
	if _, err := ListSerialPorts(registry); err == nil {
		t.Fatalf("enumeration error swallowed")
	}
}
