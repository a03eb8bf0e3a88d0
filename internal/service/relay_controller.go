// internal/service/relay_controller.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"vehicle-gateway/internal/config"
	"vehicle-gateway/internal/errs"
	"vehicle-gateway/internal/events"
	"vehicle-gateway/internal/modbus"
	"vehicle-gateway/internal/utils"
)

// StateChangeEvent is published when a poll or write changes a relay bank.
type StateChangeEvent struct {
	DeviceID            string    `json:"device_id"`
	Address             uint8     `json:"address"`
	Port                string    `json:"port"`
	RelayStates         []bool    `json:"relay_states"`
	InputStates         []bool    `json:"input_states"`
	Timestamp           time.Time `json:"timestamp"`
	ChangedRelayIndexes []int     `json:"changed_relay_indexes"`
	ChangedInputIndexes []int     `json:"changed_input_indexes"`
}

// RelaySnapshot is the cached view of one relay bank.
type RelaySnapshot struct {
	DeviceID    string     `json:"device_id"`
	Address     uint8      `json:"address"`
	Port        string     `json:"port"`
	Online      bool       `json:"is_online"`
	RelayStates []bool     `json:"relay_states"`
	InputStates []bool     `json:"input_states"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// OnlineStatus answers an online check.
type OnlineStatus struct {
	DeviceID string `json:"device_id"`
	Online   bool   `json:"is_online"`
	Reason   string `json:"reason,omitempty"`
}

type bankState struct {
	values []bool
	at     time.Time
}

func (b bankState) fresh(now time.Time, ttl time.Duration) bool {
	return b.values != nil && now.Sub(b.at) < ttl
}

// relayController owns one relay bank.
type relayController struct {
	device   config.RelayDevice
	port     modbus.PortID
	manager  *modbus.Manager
	events   *events.Bus
	cacheTTL time.Duration
	logger   *utils.DeviceLogger

	mu     sync.Mutex
	relays bankState
	inputs bankState
	online bool
}

func newRelayController(device config.RelayDevice, port modbus.PortID, manager *modbus.Manager, eventBus *events.Bus, cacheTTL time.Duration, logger *zap.Logger) *relayController {
	return &relayController{
		device:   device,
		port:     port,
		manager:  manager,
		events:   eventBus,
		cacheTTL: cacheTTL,
		logger:   utils.NewDeviceLogger(logger, device.ID, device.Type),
	}
}

func (c *relayController) channels() uint16 {
	return uint16(c.device.Channels())
}

func (c *relayController) readCoils(ctx context.Context, prio modbus.Priority) ([]bool, error) {
	return modbus.Do(ctx, c.manager, c.port, c.device.Address, prio, func(ctx context.Context, client *modbus.Client) ([]bool, error) {
		return client.ReadCoils(ctx, 0, c.channels())
	})
}

func (c *relayController) readInputs(ctx context.Context, prio modbus.Priority) ([]bool, error) {
	return modbus.Do(ctx, c.manager, c.port, c.device.Address, prio, func(ctx context.Context, client *modbus.Client) ([]bool, error) {
		return client.ReadDiscreteInputs(ctx, 0, c.channels())
	})
}

// poll reads both banks at high priority and publishes changes.
func (c *relayController) poll(ctx context.Context) error {
	start := time.Now()
	type banks struct{ relays, inputs []bool }

	b, err := modbus.Do(ctx, c.manager, c.port, c.device.Address, modbus.PriorityHigh, func(ctx context.Context, client *modbus.Client) (banks, error) {
		relays, err := client.ReadCoils(ctx, 0, c.channels())
		if err != nil {
			return banks{}, err
		}
		inputs, err := client.ReadDiscreteInputs(ctx, 0, c.channels())
		if err != nil {
			return banks{}, err
		}
		return banks{relays, inputs}, nil
	})
	c.logger.LogOperation("poll", time.Since(start), err)
	if err != nil {
		c.failed(err)
		return err
	}

	c.update(b.relays, b.inputs, time.Now())
	return nil
}

// update stores fresh bank values. A nil slice leaves that bank untouched.
func (c *relayController) update(relays, inputs []bool, now time.Time) {
	c.mu.Lock()
	var changedRelays, changedInputs []int
	if relays != nil {
		if c.relays.values != nil {
			changedRelays = diffBits(c.relays.values, relays)
		}
		c.relays = bankState{values: relays, at: now}
	}
	if inputs != nil {
		if c.inputs.values != nil {
			changedInputs = diffBits(c.inputs.values, inputs)
		}
		c.inputs = bankState{values: inputs, at: now}
	}
	event := StateChangeEvent{
		DeviceID:            c.device.ID,
		Address:             c.device.Address,
		Port:                c.device.Port,
		RelayStates:         cloneBits(c.relays.values),
		InputStates:         cloneBits(c.inputs.values),
		Timestamp:           now,
		ChangedRelayIndexes: changedRelays,
		ChangedInputIndexes: changedInputs,
	}
	c.mu.Unlock()

	c.markOnline()

	if len(changedRelays)+len(changedInputs) == 0 {
		return
	}
	c.logger.Info("Relay state changed",
		zap.Ints("changed_relays", changedRelays),
		zap.Ints("changed_inputs", changedInputs),
	)
	c.publish(events.TypeRelayStateChanged, event)
}

func (c *relayController) markOnline() {
	c.mu.Lock()
	was := c.online
	c.online = true
	c.mu.Unlock()

	if !was {
		c.logger.LogConnection(true, nil)
		c.publish(events.TypeDeviceOnline, map[string]any{"device_id": c.device.ID})
	}
}

// failed marks the device offline unless the manager is only holding it in
// cooldown.
func (c *relayController) failed(err error) {
	if errors.Is(err, errs.ErrDeviceCooldown) {
		return
	}
	c.mu.Lock()
	was := c.online
	c.online = false
	c.mu.Unlock()

	if was {
		c.logger.LogConnection(false, err)
		c.publish(events.TypeDeviceOffline, map[string]any{"device_id": c.device.ID, "error": err.Error()})
	}
}

func (c *relayController) publish(eventType string, data any) {
	if c.events != nil {
		c.events.Publish(events.New(eventType, c.device.ID, data))
	}
}

// relayStates returns the coil states, from cache when fresh.
func (c *relayController) relayStates(ctx context.Context) ([]bool, error) {
	c.mu.Lock()
	if c.relays.fresh(time.Now(), c.cacheTTL) {
		out := cloneBits(c.relays.values)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	relays, err := c.readCoils(ctx, modbus.PriorityNormal)
	if err != nil {
		c.failed(err)
		return nil, err
	}
	c.update(relays, nil, time.Now())
	return cloneBits(relays), nil
}

// inputStates returns the discrete input states, from cache when fresh.
func (c *relayController) inputStates(ctx context.Context) ([]bool, error) {
	c.mu.Lock()
	if c.inputs.fresh(time.Now(), c.cacheTTL) {
		out := cloneBits(c.inputs.values)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	inputs, err := c.readInputs(ctx, modbus.PriorityNormal)
	if err != nil {
		c.failed(err)
		return nil, err
	}
	c.update(nil, inputs, time.Now())
	return cloneBits(inputs), nil
}

// checkOnline reads the coils at high priority.
func (c *relayController) checkOnline(ctx context.Context) OnlineStatus {
	status := OnlineStatus{DeviceID: c.device.ID}
	relays, err := c.readCoils(ctx, modbus.PriorityHigh)
	if err != nil {
		var cooldown *errs.CooldownError
		if errors.As(err, &cooldown) {
			status.Reason = fmt.Sprintf("device in cooldown for %ds", cooldown.RemainingSeconds())
			return status
		}
		c.failed(err)
		status.Reason = err.Error()
		return status
	}
	c.update(relays, nil, time.Now())
	status.Online = true
	return status
}

// setRelay switches one channel at high priority.
func (c *relayController) setRelay(ctx context.Context, index int, on bool) error {
	if index < 0 || index >= c.device.Channels() {
		return errs.Invalid("relay", "index %d out of range for %s (%d channels)", index, c.device.ID, c.device.Channels())
	}

	start := time.Now()
	_, err := c.manager.Enqueue(ctx, c.port, c.device.Address, func(ctx context.Context, client *modbus.Client) (any, error) {
		return nil, client.WriteSingleCoil(ctx, uint16(index), on)
	}, modbus.PriorityHigh)
	c.logger.LogOperation("write_relay", time.Since(start), err)
	if err != nil {
		c.failed(err)
		return err
	}

	c.mu.Lock()
	relays := cloneBits(c.relays.values)
	c.mu.Unlock()
	if relays == nil {
		relays = make([]bool, c.device.Channels())
	}
	relays[index] = on
	c.update(relays, nil, time.Now())
	return nil
}

func (c *relayController) snapshot() RelaySnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := RelaySnapshot{
		DeviceID:    c.device.ID,
		Address:     c.device.Address,
		Port:        c.device.Port,
		Online:      c.online,
		RelayStates: cloneBits(c.relays.values),
		InputStates: cloneBits(c.inputs.values),
	}
	latest := c.relays.at
	if c.inputs.at.After(latest) {
		latest = c.inputs.at
	}
	if !latest.IsZero() {
		s.UpdatedAt = &latest
	}
	return s
}

func (c *relayController) isOnline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func diffBits(old, cur []bool) []int {
	var out []int
	for i := range cur {
		if i >= len(old) || old[i] != cur[i] {
			out = append(out, i)
		}
	}
	return out
}

func cloneBits(b []bool) []bool {
	if b == nil {
		return nil
	}
	return append([]bool(nil), b...)
}
