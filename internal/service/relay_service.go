// internal/service/relay_service.go
package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"vehicle-gateway/internal/config"
	"vehicle-gateway/internal/errs"
	"vehicle-gateway/internal/events"
	"vehicle-gateway/internal/modbus"
	"vehicle-gateway/internal/periodic"
	"vehicle-gateway/internal/utils"
)

// ButtonView is a configured button with its channel.
type ButtonView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Room        string `json:"room"`
	RelayIndex  int    `json:"relay_index"`
}

// DeviceView is a configured relay bank.
type DeviceView struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Type        string       `json:"type"`
	Address     uint8        `json:"address"`
	Port        string       `json:"port"`
	Description string       `json:"description,omitempty"`
	Channels    int          `json:"channels"`
	Online      bool         `json:"is_online"`
	Buttons     []ButtonView `json:"buttons"`
}

// RoomButton is a button listed under its room.
type RoomButton struct {
	ButtonID string `json:"button_id"`
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
}

// Room groups buttons.
type Room struct {
	Name    string       `json:"name"`
	Buttons []RoomButton `json:"buttons"`
}

// StateView is the state of one bank of a device.
type StateView struct {
	DeviceID  string    `json:"device_id"`
	States    []bool    `json:"states"`
	Timestamp time.Time `json:"timestamp"`
}

// ButtonResult reports a button switch.
type ButtonResult struct {
	ButtonID   string `json:"button_id"`
	DeviceID   string `json:"device_id"`
	RelayIndex int    `json:"relay_index"`
	State      bool   `json:"state"`
}

type buttonRef struct {
	device *relayController
	index  int
}

// RelayService manages every configured relay bank.
type RelayService struct {
	manager *modbus.Manager
	config  config.RelayConfig
	logger  *utils.ServiceLogger

	order       []string
	controllers map[string]*relayController
	buttons     map[string]buttonRef

	mu    sync.Mutex
	tasks []*periodic.Task
}

// NewRelayService builds a controller per device. Every device port must be
// registered with the manager.
func NewRelayService(manager *modbus.Manager, devices []config.RelayDevice, cfg config.RelayConfig, eventBus *events.Bus, logger *zap.Logger) (*RelayService, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 3 * time.Second
	}

	s := &RelayService{
		manager:     manager,
		config:      cfg,
		logger:      utils.NewServiceLogger(logger, "relay-service"),
		controllers: make(map[string]*relayController, len(devices)),
		buttons:     make(map[string]buttonRef),
	}

	for _, d := range devices {
		port, err := manager.Registry().Resolve(d.Port)
		if err != nil {
			return nil, fmt.Errorf("relay device %s: %w", d.ID, err)
		}
		c := newRelayController(d, port.ID, manager, eventBus, cfg.CacheTTL, logger)
		s.order = append(s.order, d.ID)
		s.controllers[d.ID] = c
		for i, b := range d.Buttons {
			s.buttons[b.ID] = buttonRef{device: c, index: i}
		}
	}
	return s, nil
}

// Start schedules a poll per device. The first poll runs immediately and
// serves as the initial online check.
func (s *RelayService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tasks) > 0 {
		return
	}

	for _, id := range s.order {
		c := s.controllers[id]
		task := s.manager.Schedule("relay-poll-"+id, s.config.PollInterval, c.poll, periodic.WithImmediate())
		s.tasks = append(s.tasks, task)
	}
	s.logger.Info("Relay service started",
		zap.Int("devices", len(s.order)),
		zap.Duration("poll_interval", s.config.PollInterval),
	)
}

// Stop cancels the poll tasks.
func (s *RelayService) Stop() {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	s.mu.Unlock()

	for _, t := range tasks {
		s.manager.Unschedule(t)
	}
}

func (s *RelayService) controller(id string) (*relayController, error) {
	c, ok := s.controllers[id]
	if !ok {
		return nil, fmt.Errorf("relay device %q: %w", id, errs.ErrNotFound)
	}
	return c, nil
}

func (s *RelayService) view(c *relayController) DeviceView {
	d := c.device
	v := DeviceView{
		ID:          d.ID,
		Name:        d.Name,
		Type:        d.Type,
		Address:     d.Address,
		Port:        d.Port,
		Description: d.Description,
		Channels:    d.Channels(),
		Online:      c.isOnline(),
		Buttons:     make([]ButtonView, 0, len(d.Buttons)),
	}
	for i, b := range d.Buttons {
		room := b.Room
		if room == "" {
			room = config.DefaultRoom
		}
		v.Buttons = append(v.Buttons, ButtonView{
			ID:          b.ID,
			Name:        b.Name,
			Description: b.Description,
			Room:        room,
			RelayIndex:  i,
		})
	}
	return v
}

// Devices lists every relay bank in configuration order.
func (s *RelayService) Devices() []DeviceView {
	out := make([]DeviceView, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.view(s.controllers[id]))
	}
	return out
}

// Device returns one relay bank.
func (s *RelayService) Device(id string) (DeviceView, error) {
	c, err := s.controller(id)
	if err != nil {
		return DeviceView{}, err
	}
	return s.view(c), nil
}

// RelayState returns the coil states of a device.
func (s *RelayService) RelayState(ctx context.Context, id string) (StateView, error) {
	c, err := s.controller(id)
	if err != nil {
		return StateView{}, err
	}
	states, err := c.relayStates(ctx)
	if err != nil {
		return StateView{}, err
	}
	return StateView{DeviceID: id, States: states, Timestamp: time.Now()}, nil
}

// InputState returns the discrete input states of a device.
func (s *RelayService) InputState(ctx context.Context, id string) (StateView, error) {
	c, err := s.controller(id)
	if err != nil {
		return StateView{}, err
	}
	states, err := c.inputStates(ctx)
	if err != nil {
		return StateView{}, err
	}
	return StateView{DeviceID: id, States: states, Timestamp: time.Now()}, nil
}

// OnlineStatus probes a device.
func (s *RelayService) OnlineStatus(ctx context.Context, id string) (OnlineStatus, error) {
	c, err := s.controller(id)
	if err != nil {
		return OnlineStatus{}, err
	}
	return c.checkOnline(ctx), nil
}

// Rooms groups every button by room, rooms sorted by name.
func (s *RelayService) Rooms() []Room {
	byName := make(map[string]*Room)
	for _, id := range s.order {
		for _, b := range s.view(s.controllers[id]).Buttons {
			r, ok := byName[b.Room]
			if !ok {
				r = &Room{Name: b.Room}
				byName[b.Room] = r
			}
			r.Buttons = append(r.Buttons, RoomButton{ButtonID: b.ID, DeviceID: id, Name: b.Name})
		}
	}

	out := make([]Room, 0, len(byName))
	for _, r := range byName {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetButton switches the relay behind a button.
func (s *RelayService) SetButton(ctx context.Context, buttonID string, on bool) (ButtonResult, error) {
	ref, ok := s.buttons[buttonID]
	if !ok {
		return ButtonResult{}, fmt.Errorf("button %q: %w", buttonID, errs.ErrNotFound)
	}
	if err := ref.device.setRelay(ctx, ref.index, on); err != nil {
		return ButtonResult{}, err
	}
	return ButtonResult{ButtonID: buttonID, DeviceID: ref.device.device.ID, RelayIndex: ref.index, State: on}, nil
}

// SetRelay switches one channel of a device.
func (s *RelayService) SetRelay(ctx context.Context, deviceID string, index int, on bool) error {
	c, err := s.controller(deviceID)
	if err != nil {
		return err
	}
	return c.setRelay(ctx, index, on)
}

// Snapshot returns the cached state of one device without bus access.
func (s *RelayService) Snapshot(id string) (RelaySnapshot, error) {
	c, err := s.controller(id)
	if err != nil {
		return RelaySnapshot{}, err
	}
	return c.snapshot(), nil
}

// Snapshots returns the cached state of every device.
func (s *RelayService) Snapshots() []RelaySnapshot {
	out := make([]RelaySnapshot, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.controllers[id].snapshot())
	}
	return out
}
