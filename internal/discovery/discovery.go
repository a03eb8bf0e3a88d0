// internal/discovery/discovery.go
package discovery

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"sort"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"vehicle-gateway/internal/errs"
	"vehicle-gateway/internal/modbus"
)

// DefaultPortPatterns match the serial devices RS-485 adapters show up as.
var DefaultPortPatterns = []string{
	"/dev/ttyUSB*",
	"/dev/ttyACM*",
	"/dev/ttyS*",
	"/dev/ttyAMA*",
	"COM*",
}

// listPorts is replaced in tests.
var listPorts = serial.GetPortsList

// SerialPort is a serial device found on the host.
type SerialPort struct {
	Path       string         `json:"path"`
	Registered bool           `json:"registered"`
	Name       string         `json:"name,omitempty"`
	PortID     *modbus.PortID `json:"port_id,omitempty"`
}

// ListSerialPorts returns the host serial ports matching patterns (all
// DefaultPortPatterns when none are given), marking those the registry
// already uses.
func ListSerialPorts(registry *modbus.Registry, patterns ...string) ([]SerialPort, error) {
	if len(patterns) == 0 {
		patterns = DefaultPortPatterns
	}

	paths, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}

	registered := make(map[string]*modbus.Port)
	for _, p := range registry.Ports() {
		registered[p.Path] = p
	}

	var out []SerialPort
	for _, p := range paths {
		if !matchAny(patterns, p) {
			continue
		}
		sp := SerialPort{Path: p}
		if rp, ok := registered[p]; ok {
			id := rp.ID
			sp.Registered = true
			sp.Name = rp.Name
			sp.PortID = &id
		}
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func matchAny(patterns []string, p string) bool {
	for _, pattern := range patterns {
		if ok, _ := path.Match(pattern, p); ok {
			return true
		}
	}
	return false
}

// ProbeResult describes how a unit answered a probe.
type ProbeResult struct {
	Port           string            `json:"port"`
	Address        uint8             `json:"address"`
	Responding     bool              `json:"responding"`
	ResponseTime   time.Duration     `json:"response_time"`
	ServerID       string            `json:"server_id,omitempty"`
	Identification map[string]string `json:"identification,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// Prober asks single units what they are through the Manager.
type Prober struct {
	manager *modbus.Manager
	logger  *zap.Logger
}

// NewProber creates a prober.
func NewProber(manager *modbus.Manager, logger *zap.Logger) *Prober {
	return &Prober{
		manager: manager,
		logger:  logger.With(zap.String("component", "modbus-prober")),
	}
}

// Probe reads one coil from the unit and, when it answers, asks for its
// server id and basic device identification. An exception response still
// counts as responding. A silent unit goes through the usual cooldown; a
// unit already in cooldown fails with ErrDeviceCooldown.
func (p *Prober) Probe(ctx context.Context, port modbus.PortID, addr uint8) (ProbeResult, error) {
	if addr == 0 || addr > 247 {
		return ProbeResult{}, errs.Invalid("address", "%d outside 1..247", addr)
	}
	mp, err := p.manager.Registry().Get(port)
	if err != nil {
		return ProbeResult{}, err
	}

	result := ProbeResult{Port: mp.Name, Address: addr}
	start := time.Now()
	probed, err := modbus.Do(ctx, p.manager, port, addr, modbus.PriorityNormal, func(ctx context.Context, c *modbus.Client) (ProbeResult, error) {
		r := result
		if _, err := c.ReadCoils(ctx, 0, 1); err != nil && !isException(err) {
			return r, err
		}
		r.Responding = true
		r.ResponseTime = time.Since(start)

		if id, err := c.ReportServerID(ctx); err == nil {
			r.ServerID = hex.EncodeToString(id)
		}
		if objects, err := c.ReadDeviceIdentification(ctx, 0x01, 0x00); err == nil {
			r.Identification = identification(objects)
		}
		return r, nil
	})
	if err != nil {
		result.Error = err.Error()
		p.logger.Debug("Probe failed", zap.String("port", mp.Name), zap.Uint8("address", addr), zap.Error(err))
		if errors.Is(err, errs.ErrDeviceCooldown) {
			return result, err
		}
		return result, nil
	}
	return probed, nil
}

func isException(err error) bool {
	var mbErr *errs.ModbusError
	return errors.As(err, &mbErr)
}

var objectNames = map[byte]string{
	0x00: "vendor_name",
	0x01: "product_code",
	0x02: "revision",
}

func identification(objects map[byte][]byte) map[string]string {
	out := make(map[string]string, len(objects))
	for id, v := range objects {
		name, ok := objectNames[id]
		if !ok {
			name = fmt.Sprintf("object_%02x", id)
		}
		out[name] = string(v)
	}
	return out
}
