package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "8084" || cfg.App.Name != "vehicle-gateway" {
		t.Fatalf("server = %+v app = %+v", cfg.Server, cfg.App)
	}
	if cfg.Modbus.Cooldown != 10*time.Second || cfg.Modbus.MinRequestInterval != time.Millisecond {
		t.Fatalf("modbus = %+v", cfg.Modbus)
	}
	if cfg.CAN.MaxAttempts != 10 || cfg.CAN.MaxDelay != time.Minute {
		t.Fatalf("can = %+v", cfg.CAN)
	}
	if cfg.Inverter.Address != 0x42 || cfg.Heater.DefaultTarget != 60 {
		t.Fatalf("inverter = %+v heater = %+v", cfg.Inverter, cfg.Heater)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  port: "9000"
modbus:
  ports:
    - name: bus-a
      path: /dev/ttyUSB1
      baud_rate: 115200
      timeout: 500ms
slow_bus:
  enabled: false
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VEHICLE_GATEWAY_LOGGING_LEVEL", "debug")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "9000" || cfg.Logging.Level != "debug" {
		t.Fatalf("port = %s level = %s", cfg.Server.Port, cfg.Logging.Level)
	}
	if len(cfg.Modbus.Ports) != 1 || cfg.Modbus.Ports[0].Name != "bus-a" || cfg.Modbus.Ports[0].Timeout != 500*time.Millisecond {
		t.Fatalf("ports = %+v", cfg.Modbus.Ports)
	}
	sc := cfg.Modbus.Ports[0].SerialConfig()
	if sc.Port != "/dev/ttyUSB1" || sc.BaudRate != 115200 {
		t.Fatalf("serial config = %+v", sc)
	}
	if cfg.SlowBus.Enabled {
		t.Fatalf("slow bus should be disabled")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("VEHICLE_GATEWAY_APP_ENVIRONMENT", "moon")
	if _, err := Load(t.TempDir()); err == nil || !strings.Contains(err.Error(), "app.environment") {
		t.Fatalf("err = %v", err)
	}
}

func TestParseRelayDevices(t *testing.T) {
	devices, err := ParseRelayDevices([]byte(`
devices:
  - id: bank-1
    name: Cabin
    type: ZQWL_RELAY_4
    address: 1
    port: rs485
    buttons:
      - {id: light-1, name: Ceiling, room: living}
      - {id: pump, name: Water pump}
`))
	if err != nil {
		t.Fatalf("ParseRelayDevices: %v", err)
	}
	if len(devices) != 1 || devices[0].Channels() != 4 || devices[0].Address != 1 {
		t.Fatalf("devices = %+v", devices)
	}
	if devices[0].Buttons[1].Room != DefaultRoom {
		t.Fatalf("room = %q", devices[0].Buttons[1].Room)
	}
}

func TestParseRelayDevicesRejects(t *testing.T) {
	tests := map[string]string{
		"unknown type": `
devices:
  - {id: a, type: ZQWL_RELAY_3, port: p}`,
		"too many buttons": `
devices:
  - id: a
    type: ZQWL_RELAY_4
    port: p
    buttons: [{id: b1}, {id: b2}, {id: b3}, {id: b4}, {id: b5}]`,
		"duplicate button": `
devices:
  - {id: a, type: ZQWL_RELAY_4, port: p, buttons: [{id: x}]}
  - {id: b, type: ZQWL_RELAY_4, port: p, buttons: [{id: x}]}`,
		"duplicate device": `
devices:
  - {id: a, type: ZQWL_RELAY_4, port: p}
  - {id: a, type: ZQWL_RELAY_8, port: p}`,
	}
	for name, doc := range tests {
		if _, err := ParseRelayDevices([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
