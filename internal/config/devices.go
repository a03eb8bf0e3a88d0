// internal/config/devices.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Relay bank models and their channel counts.
const (
	RelayType16 = "ZQWL_RELAY_16"
	RelayType8  = "ZQWL_RELAY_8"
	RelayType4  = "ZQWL_RELAY_4"
)

var relayChannels = map[string]int{
	RelayType16: 16,
	RelayType8:  8,
	RelayType4:  4,
}

// DefaultRoom groups buttons without a room.
const DefaultRoom = "uncategorized"

// RelayButton maps a named button to a relay channel. The channel index is
// the button's position in the device's button list.
type RelayButton struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Room        string `yaml:"room,omitempty" json:"room,omitempty"`
}

// RelayDevice describes one relay bank on the fast bus.
type RelayDevice struct {
	ID          string        `yaml:"id" json:"id"`
	Name        string        `yaml:"name" json:"name"`
	Type        string        `yaml:"type" json:"type"`
	Address     uint8         `yaml:"address" json:"address"`
	Port        string        `yaml:"port" json:"port"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	Buttons     []RelayButton `yaml:"buttons" json:"buttons"`
}

// Channels returns the relay count of the device model.
func (d RelayDevice) Channels() int {
	return relayChannels[d.Type]
}

type relayFile struct {
	Devices []RelayDevice `yaml:"devices"`
}

// LoadRelayDevices reads and validates the relay device file.
func LoadRelayDevices(path string) ([]RelayDevice, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read relay devices: %w", err)
	}
	return ParseRelayDevices(data)
}

// ParseRelayDevices parses relay devices from YAML.
func ParseRelayDevices(data []byte) ([]RelayDevice, error) {
	var file relayFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse relay devices: %w", err)
	}

	deviceIDs := make(map[string]bool)
	buttonIDs := make(map[string]string)
	for i := range file.Devices {
		d := &file.Devices[i]
		if d.ID == "" {
			return nil, fmt.Errorf("devices[%d]: id is required", i)
		}
		if deviceIDs[d.ID] {
			return nil, fmt.Errorf("devices[%d]: duplicate device id %q", i, d.ID)
		}
		deviceIDs[d.ID] = true

		channels, ok := relayChannels[d.Type]
		if !ok {
			return nil, fmt.Errorf("device %s: unknown type %q", d.ID, d.Type)
		}
		if d.Port == "" {
			return nil, fmt.Errorf("device %s: port is required", d.ID)
		}
		if len(d.Buttons) > channels {
			return nil, fmt.Errorf("device %s: %d buttons exceed the %d channels of %s", d.ID, len(d.Buttons), channels, d.Type)
		}
		for j := range d.Buttons {
			b := &d.Buttons[j]
			if b.ID == "" {
				return nil, fmt.Errorf("device %s: button %d has no id", d.ID, j)
			}
			if owner, dup := buttonIDs[b.ID]; dup {
				return nil, fmt.Errorf("device %s: button id %q already used by %s", d.ID, b.ID, owner)
			}
			buttonIDs[b.ID] = d.ID
			if b.Room == "" {
				b.Room = DefaultRoom
			}
		}
	}
	return file.Devices, nil
}
