// internal/modbus/manager.go
package modbus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"vehicle-gateway/internal/errs"
	"vehicle-gateway/internal/periodic"
)

// Priority selects the queue class of a request.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "normal"
}

// UnitOfWork runs on the bus with a client bound to the target device.
type UnitOfWork func(ctx context.Context, c *Client) (any, error)

// Result settles a submitted request.
type Result struct {
	Value any
	Err   error
}

// ManagerConfig tunes the arbitration manager.
type ManagerConfig struct {
	MinRequestInterval time.Duration
	Cooldown           time.Duration
	CleanupInterval    time.Duration
}

// DefaultManagerConfig returns the production settings.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MinRequestInterval: time.Millisecond,
		Cooldown:           10 * time.Second,
		CleanupInterval:    10 * time.Second,
	}
}

type request struct {
	ctx    context.Context
	addr   byte
	work   UnitOfWork
	prio   Priority
	result chan Result
}

type portState struct {
	port      *Port
	telemetry *portTelemetry
	wake      chan struct{}

	mu          sync.Mutex
	high        []*request
	normal      []*request
	processing  bool
	lastRequest time.Time
}

func (ps *portState) push(req *request) {
	ps.mu.Lock()
	if req.prio == PriorityHigh {
		ps.high = append(ps.high, req)
	} else {
		ps.normal = append(ps.normal, req)
	}
	ps.mu.Unlock()

	select {
	case ps.wake <- struct{}{}:
	default:
	}
}

func (ps *portState) pending() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.high)+len(ps.normal) > 0
}

// pop takes the head of the queue and marks the port busy.
func (ps *portState) pop(now time.Time) *request {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	var req *request
	switch {
	case len(ps.high) > 0:
		req, ps.high = ps.high[0], ps.high[1:]
	case len(ps.normal) > 0:
		req, ps.normal = ps.normal[0], ps.normal[1:]
	default:
		return nil
	}
	ps.processing = true
	ps.lastRequest = now
	return req
}

func (ps *portState) idle() {
	ps.mu.Lock()
	ps.processing = false
	ps.mu.Unlock()
}

func (ps *portState) takeAll() []*request {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := append(ps.high, ps.normal...)
	ps.high, ps.normal = nil, nil
	return out
}

type deviceKey struct {
	port PortID
	addr byte
}

type deviceState struct {
	offline    bool
	lastFailed time.Time
}

// DeviceState reports the circuit state of one device.
type DeviceState struct {
	Port              PortID     `json:"port"`
	Address           byte       `json:"address"`
	Offline           bool       `json:"offline"`
	LastFailedTime    *time.Time `json:"last_failed_time,omitempty"`
	CooldownRemaining int        `json:"cooldown_remaining_s"`
}

// Manager serializes access to each registered bus and isolates failing
// devices behind a cooldown.
type Manager struct {
	registry *Registry
	config   ManagerConfig
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	ports map[PortID]*portState

	mu      sync.Mutex
	devices map[deviceKey]*deviceState
	tasks   []*periodic.Task
	closed  bool
}

// NewManager starts one drain loop per registered port.
func NewManager(registry *Registry, config ManagerConfig, logger *zap.Logger) *Manager {
	defaults := DefaultManagerConfig()
	if config.MinRequestInterval <= 0 {
		config.MinRequestInterval = defaults.MinRequestInterval
	}
	if config.Cooldown <= 0 {
		config.Cooldown = defaults.Cooldown
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		registry: registry,
		config:   config,
		logger:   logger.With(zap.String("component", "modbus-manager")),
		ctx:      ctx,
		cancel:   cancel,
		ports:    make(map[PortID]*portState),
		devices:  make(map[deviceKey]*deviceState),
	}

	for _, p := range registry.Ports() {
		ps := &portState{
			port:      p,
			telemetry: newPortTelemetry(),
			wake:      make(chan struct{}, 1),
		}
		m.ports[p.ID] = ps
		m.wg.Add(1)
		go m.drain(ps)
	}

	m.Schedule("modbus-telemetry-cleanup", config.CleanupInterval, func(context.Context) error {
		now := time.Now()
		for _, ps := range m.ports {
			ps.telemetry.sweep(now)
		}
		return nil
	})

	m.logger.Info("Modbus manager started", zap.Int("ports", len(m.ports)))
	return m
}

// Registry returns the port registry the manager arbitrates.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Submit queues work for the device at addr on port. The returned channel
// receives exactly one Result.
func (m *Manager) Submit(port PortID, addr byte, work UnitOfWork, prio Priority) (<-chan Result, error) {
	return m.submit(context.Background(), port, addr, work, prio)
}

func (m *Manager) submit(ctx context.Context, port PortID, addr byte, work UnitOfWork, prio Priority) (<-chan Result, error) {
	ps, ok := m.ports[port]
	if !ok {
		return nil, fmt.Errorf("port %d: %w", port, errs.ErrNotFound)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("modbus manager: %w", errs.ErrClosed)
	}
	now := time.Now()
	if err := m.cooldownLocked(port, addr, now); err != nil {
		ps.telemetry.recordError(now, addr, err)
		return nil, err
	}

	req := &request{
		ctx:    ctx,
		addr:   addr,
		work:   work,
		prio:   prio,
		result: make(chan Result, 1),
	}
	ps.push(req)
	return req.result, nil
}

// Enqueue submits work and waits for its result. Cancelling ctx stops the
// wait; work that already reached the bus still completes.
func (m *Manager) Enqueue(ctx context.Context, port PortID, addr byte, work UnitOfWork, prio Priority) (any, error) {
	ch, err := m.submit(ctx, port, addr, work, prio)
	if err != nil {
		return nil, err
	}
	select {
	case res := <-ch:
		return res.Value, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do is a typed wrapper around Enqueue.
func Do[T any](ctx context.Context, m *Manager, port PortID, addr byte, prio Priority, fn func(ctx context.Context, c *Client) (T, error)) (T, error) {
	var zero T
	v, err := m.Enqueue(ctx, port, addr, func(ctx context.Context, c *Client) (any, error) {
		return fn(ctx, c)
	}, prio)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("modbus: unexpected result type %T", v)
	}
	return out, nil
}

// Schedule starts a periodic task owned by the manager. It is stopped by
// Unschedule or Close.
func (m *Manager) Schedule(name string, interval time.Duration, fn periodic.Func, opts ...periodic.Option) *periodic.Task {
	task := periodic.New(name, interval, fn, m.logger, opts...)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return task
	}
	m.tasks = append(m.tasks, task)
	task.Start(m.ctx)
	return task
}

// Unschedule stops a task created by Schedule.
func (m *Manager) Unschedule(task *periodic.Task) {
	if task == nil {
		return
	}
	m.mu.Lock()
	for i, t := range m.tasks {
		if t == task {
			m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	task.Stop()
}

func (m *Manager) drain(ps *portState) {
	defer m.wg.Done()

	logger := m.logger.With(zap.String("port", ps.port.Name))
	defer func() {
		for _, req := range ps.takeAll() {
			req.result <- Result{Err: fmt.Errorf("port %s: %w", ps.port.Name, errs.ErrClosed)}
		}
	}()

	for {
		if m.ctx.Err() != nil {
			return
		}
		if !ps.pending() {
			select {
			case <-ps.wake:
				continue
			case <-m.ctx.Done():
				return
			}
		}

		ps.mu.Lock()
		wait := m.config.MinRequestInterval - time.Since(ps.lastRequest)
		ps.mu.Unlock()
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-m.ctx.Done():
				timer.Stop()
				return
			}
		}

		req := ps.pop(time.Now())
		if req == nil {
			continue
		}
		m.dispatch(ps, req, logger)
		ps.idle()
	}
}

// dispatch runs one request. Requests cancelled or put in cooldown while
// queued are rejected without touching the bus but still count as errors.
func (m *Manager) dispatch(ps *portState, req *request, logger *zap.Logger) {
	now := time.Now()
	if err := req.ctx.Err(); err != nil {
		ps.telemetry.recordError(now, req.addr, err)
		req.result <- Result{Err: err}
		return
	}
	if err := m.checkCooldown(ps.port.ID, req.addr, now); err != nil {
		ps.telemetry.recordError(now, req.addr, err)
		req.result <- Result{Err: err}
		return
	}
	ps.telemetry.recordAccess(now, req.addr, req.prio)

	value, err := m.run(req, ps.port.Client.WithUnitID(req.addr))
	if err != nil {
		ps.telemetry.recordError(time.Now(), req.addr, err)
		m.markOffline(ps.port.ID, req.addr, logger)
		logger.Warn("Modbus request failed",
			zap.Uint8("address", req.addr),
			zap.String("priority", req.prio.String()),
			zap.Error(err),
		)
	} else {
		m.markOnline(ps.port.ID, req.addr, logger)
	}
	req.result <- Result{Value: value, Err: err}
}

func (m *Manager) run(req *request, client *Client) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit of work panicked: %v", r)
		}
	}()
	return req.work(m.ctx, client)
}

func (m *Manager) checkCooldown(port PortID, addr byte, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cooldownLocked(port, addr, now)
}

func (m *Manager) cooldownLocked(port PortID, addr byte, now time.Time) error {
	d, ok := m.devices[deviceKey{port, addr}]
	if !ok || !d.offline {
		return nil
	}
	if remaining := m.config.Cooldown - now.Sub(d.lastFailed); remaining > 0 {
		return &errs.CooldownError{Port: m.portName(port), Address: addr, Remaining: remaining}
	}
	return nil
}

func (m *Manager) portName(id PortID) string {
	if ps, ok := m.ports[id]; ok {
		return ps.port.Name
	}
	return fmt.Sprintf("%d", id)
}

func (m *Manager) device(port PortID, addr byte) *deviceState {
	key := deviceKey{port, addr}
	d, ok := m.devices[key]
	if !ok {
		d = &deviceState{}
		m.devices[key] = d
	}
	return d
}

func (m *Manager) markOffline(port PortID, addr byte, logger *zap.Logger) {
	m.mu.Lock()
	d := m.device(port, addr)
	wasOnline := !d.offline
	d.offline = true
	d.lastFailed = time.Now()
	m.mu.Unlock()

	if wasOnline {
		logger.Warn("Device marked offline",
			zap.Uint8("address", addr),
			zap.Duration("cooldown", m.config.Cooldown),
		)
	}
}

func (m *Manager) markOnline(port PortID, addr byte, logger *zap.Logger) {
	m.mu.Lock()
	d := m.device(port, addr)
	wasOffline := d.offline
	d.offline = false
	m.mu.Unlock()

	if wasOffline {
		logger.Info("Device back online", zap.Uint8("address", addr))
	}
}

// IsOffline reports whether the device is currently marked offline.
func (m *Manager) IsOffline(port PortID, addr byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceKey{port, addr}]
	return ok && d.offline
}

// PortStatus is the queue and telemetry view of one port.
type PortStatus struct {
	Port                   PortID       `json:"port"`
	Name                   string       `json:"name"`
	Path                   string       `json:"path"`
	QueueLength            int          `json:"queue_length"`
	HighPriorityQueued     int          `json:"high_priority_queued"`
	IsProcessing           bool         `json:"is_processing"`
	LastRequestTime        *time.Time   `json:"last_request_time"`
	TimeSinceLastRequestMs *int64       `json:"time_since_last_request_ms"`
	ErrorCount24h          int          `json:"error_count_24h"`
	ErrorCount1m           int          `json:"error_count_1m"`
	LastError              *ErrorRecord `json:"last_error"`
	AccessCount1m          int          `json:"access_count_1m"`
	LastAccess             *time.Time   `json:"last_access"`
}

// QueueStatus is the short queue view of one port.
type QueueStatus struct {
	Port         PortID `json:"port"`
	Name         string `json:"name"`
	QueueLength  int    `json:"queue_length"`
	IsProcessing bool   `json:"is_processing"`
}

// SystemStatus aggregates every port.
type SystemStatus struct {
	Queues                []PortStatus `json:"queues"`
	TotalQueuedRequests   int          `json:"total_queued_requests"`
	ActiveProcessingPorts int          `json:"active_processing_ports"`
	TotalErrors24h        int          `json:"total_errors_24h"`
	TotalErrors1m         int          `json:"total_errors_1m"`
	TotalAccesses1m       int          `json:"total_accesses_1m"`
	Timestamp             time.Time    `json:"timestamp"`
}

// PortStatus returns the status of one port.
func (m *Manager) PortStatus(port PortID) (PortStatus, error) {
	ps, ok := m.ports[port]
	if !ok {
		return PortStatus{}, fmt.Errorf("port %d: %w", port, errs.ErrNotFound)
	}
	return m.portStatus(ps, time.Now()), nil
}

func (m *Manager) portStatus(ps *portState, now time.Time) PortStatus {
	ps.mu.Lock()
	status := PortStatus{
		Port:               ps.port.ID,
		Name:               ps.port.Name,
		Path:               ps.port.Path,
		QueueLength:        len(ps.high) + len(ps.normal),
		HighPriorityQueued: len(ps.high),
		IsProcessing:       ps.processing,
	}
	if !ps.lastRequest.IsZero() {
		last := ps.lastRequest
		since := now.Sub(last).Milliseconds()
		status.LastRequestTime = &last
		status.TimeSinceLastRequestMs = &since
	}
	ps.mu.Unlock()

	t := ps.telemetry.snapshot(now)
	status.ErrorCount24h = t.errors24h
	status.ErrorCount1m = t.errors1m
	status.LastError = t.lastError
	status.AccessCount1m = t.accesses1m
	status.LastAccess = t.lastAccess
	return status
}

func (m *Manager) sortedPorts() []*portState {
	out := make([]*portState, 0, len(m.ports))
	for _, ps := range m.ports {
		out = append(out, ps)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].port.ID < out[j].port.ID })
	return out
}

// QueueStatuses returns the queue view of every port.
func (m *Manager) QueueStatuses() []QueueStatus {
	var out []QueueStatus
	for _, ps := range m.sortedPorts() {
		ps.mu.Lock()
		out = append(out, QueueStatus{
			Port:         ps.port.ID,
			Name:         ps.port.Name,
			QueueLength:  len(ps.high) + len(ps.normal),
			IsProcessing: ps.processing,
		})
		ps.mu.Unlock()
	}
	return out
}

// SystemStatus returns the aggregate view.
func (m *Manager) SystemStatus() SystemStatus {
	now := time.Now()
	status := SystemStatus{Queues: []PortStatus{}, Timestamp: now}
	for _, ps := range m.sortedPorts() {
		s := m.portStatus(ps, now)
		status.Queues = append(status.Queues, s)
		status.TotalQueuedRequests += s.QueueLength
		if s.IsProcessing {
			status.ActiveProcessingPorts++
		}
		status.TotalErrors24h += s.ErrorCount24h
		status.TotalErrors1m += s.ErrorCount1m
		status.TotalAccesses1m += s.AccessCount1m
	}
	return status
}

// ErrorHistory returns up to limit errors of the last 24h, newest first.
func (m *Manager) ErrorHistory(port PortID, limit int) ([]ErrorRecord, error) {
	ps, ok := m.ports[port]
	if !ok {
		return nil, fmt.Errorf("port %d: %w", port, errs.ErrNotFound)
	}
	if limit <= 0 {
		limit = historyPageSize
	}
	return ps.telemetry.errorHistory(time.Now(), limit), nil
}

// AccessHistory returns up to limit accesses of the last minute, newest first.
func (m *Manager) AccessHistory(port PortID, limit int) ([]AccessRecord, error) {
	ps, ok := m.ports[port]
	if !ok {
		return nil, fmt.Errorf("port %d: %w", port, errs.ErrNotFound)
	}
	if limit <= 0 {
		limit = historyPageSize
	}
	return ps.telemetry.accessHistory(time.Now(), limit), nil
}

// DeviceStates returns the circuit state of every device seen so far.
func (m *Manager) DeviceStates() []DeviceState {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]DeviceState, 0, len(m.devices))
	for key, d := range m.devices {
		s := DeviceState{Port: key.port, Address: key.addr, Offline: d.offline}
		if !d.lastFailed.IsZero() {
			at := d.lastFailed
			s.LastFailedTime = &at
		}
		if d.offline {
			if remaining := m.config.Cooldown - now.Sub(d.lastFailed); remaining > 0 {
				s.CooldownRemaining = (&errs.CooldownError{Remaining: remaining}).RemainingSeconds()
			}
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Port != out[j].Port {
			return out[i].Port < out[j].Port
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// Close stops scheduled tasks and drain loops. Requests still queued fail
// with ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	tasks := m.tasks
	m.tasks = nil
	m.mu.Unlock()

	for _, t := range tasks {
		t.Stop()
	}
	m.cancel()
	m.wg.Wait()

	m.logger.Info("Modbus manager stopped")
	return nil
}
